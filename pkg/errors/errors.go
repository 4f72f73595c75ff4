package errors

import (
	"fmt"
	"io"
	"strings"
)

// Error is the interface implemented by all bridgejs tool errors.
type Error interface {
	error
	Pos() Position
	Kind() string // "Syntax", "Load", "Runtime"
	// Message returns the error text without position info.
	Message() string
	Unwrap() error
}

// SyntaxError is an error in an assembly program.
type SyntaxError struct {
	Position
	Msg   string
	Cause error
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("Syntax Error at %s: %s", e.Position, e.Msg)
}
func (e *SyntaxError) Pos() Position   { return e.Position }
func (e *SyntaxError) Kind() string    { return "Syntax" }
func (e *SyntaxError) Message() string { return e.Msg }
func (e *SyntaxError) Unwrap() error   { return e.Cause }
func (e *SyntaxError) CausedBy(cause error) *SyntaxError {
	e.Cause = cause
	return e
}

// LoadError is a failure reading a config file, image or program.
type LoadError struct {
	Position
	Msg   string
	Cause error
}

func (e *LoadError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("Load Error: %s: %s: %v", e.Position, e.Msg, e.Cause)
	}
	return fmt.Sprintf("Load Error: %s: %s", e.Position, e.Msg)
}
func (e *LoadError) Pos() Position   { return e.Position }
func (e *LoadError) Kind() string    { return "Load" }
func (e *LoadError) Message() string { return e.Msg }
func (e *LoadError) Unwrap() error   { return e.Cause }
func (e *LoadError) CausedBy(cause error) *LoadError {
	e.Cause = cause
	return e
}

// RuntimeError is an exception that escaped the program. Backtrace holds the
// rendered stack of the thrown Error, if it had one.
type RuntimeError struct {
	Position
	Msg       string
	Backtrace string
	Cause     error
}

func (e *RuntimeError) Error() string {
	if e.Position.IsValid() {
		return fmt.Sprintf("Uncaught %s (at %s)", e.Msg, e.Position)
	}
	return "Uncaught " + e.Msg
}
func (e *RuntimeError) Pos() Position   { return e.Position }
func (e *RuntimeError) Kind() string    { return "Runtime" }
func (e *RuntimeError) Message() string { return e.Msg }
func (e *RuntimeError) Unwrap() error   { return e.Cause }
func (e *RuntimeError) CausedBy(cause error) *RuntimeError {
	e.Cause = cause
	return e
}

// DisplayErrors writes errs to w, followed by the offending source line and
// a caret when the position falls inside source.
func DisplayErrors(w io.Writer, source string, errs []Error) {
	if len(errs) == 0 {
		return
	}

	lines := strings.Split(source, "\n")

	for _, err := range errs {
		pos := err.Pos()
		kind := err.Kind()
		msg := err.Message()

		lineIdx := pos.Line - 1
		if lineIdx < 0 || lineIdx >= len(lines) {
			fmt.Fprintf(w, "%s Error: %s\n", kind, msg)
			if rt, ok := err.(*RuntimeError); ok && rt.Backtrace != "" {
				fmt.Fprintln(w, rt.Backtrace)
			}
			continue
		}

		sourceLine := strings.TrimRight(lines[lineIdx], "\r\n\t ")

		fmt.Fprintf(w, "%s Error at %s: %s\n", kind, pos, msg)
		fmt.Fprintf(w, "  %s\n", sourceLine)

		col := pos.Column - 1
		if col < 0 {
			col = 0
		}
		fmt.Fprintf(w, "  %s^\n", strings.Repeat(" ", col))
		if rt, ok := err.(*RuntimeError); ok && rt.Backtrace != "" {
			fmt.Fprintln(w, rt.Backtrace)
		}
		fmt.Fprintln(w)
	}
}
