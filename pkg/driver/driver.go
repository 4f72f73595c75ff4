package driver

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/tliron/commonlog"

	"bridgejs/pkg/asm"
	"bridgejs/pkg/builtins"
	"bridgejs/pkg/config"
	"bridgejs/pkg/errors"
	"bridgejs/pkg/heapdump"
	"bridgejs/pkg/image"
	"bridgejs/pkg/vm"
)

var log = commonlog.GetLogger("bridgejs.driver")

// Program file extensions.
const (
	ExtAssembly = ".yaml"
	ExtImage    = ".jsbc"
)

// Options configures a Session.
type Options struct {
	// Config supplies runtime sizing and the disabled builtins. Nil means
	// config.Default.
	Config *config.Config

	// Stdout receives console.log and process.stdout output. Nil routes
	// console.log to the log.
	Stdout io.Writer

	// Argv becomes process.argv.
	Argv []string

	// Interrupt, when set, is polled with the timeout; returning true aborts
	// the running script.
	Interrupt func() bool
}

// Session represents one bridgejs runtime with its main context and the
// standard library installed. It evaluates any number of programs; globals
// defined by one are visible to the next.
type Session struct {
	cfg       *config.Config
	rt        *vm.Runtime
	ctx       *vm.Context
	stdout    io.Writer
	interrupt func() bool

	deadline   time.Time
	exitCode   int
	exited     bool
	rejections []rejection
}

type rejection struct {
	promise *vm.Object
	reason  string
}

// NewSession creates a runtime from opts and installs the builtins the
// configuration leaves enabled.
func NewSession(opts Options) (*Session, error) {
	cfg := opts.Config
	if cfg == nil {
		var err error
		if cfg, err = config.Default(); err != nil {
			return nil, (&errors.LoadError{Msg: "invalid default configuration"}).CausedBy(err)
		}
	}
	s := &Session{cfg: cfg, stdout: opts.Stdout, interrupt: opts.Interrupt}

	options := cfg.RuntimeOptions()
	options = append(options,
		vm.WithInterruptHandler(s.shouldInterrupt),
		vm.WithRejectionTracker(s.trackRejection),
	)
	s.rt = vm.NewRuntime(options...)
	s.ctx = s.rt.NewContext()

	rc := builtins.NewRuntimeContext(s.ctx, s.stdout)
	if err := builtins.Install(rc, cfg.Disabled); err != nil {
		s.Close()
		return nil, err
	}
	if !cfg.Disabled("process") {
		if err := NewProcessInitializer(s, opts.Argv).InitRuntime(rc); err != nil {
			s.Close()
			return nil, fmt.Errorf("initialize process: %w", err)
		}
	}
	log.Debugf("session ready (config %q)", cfg.Path)
	return s, nil
}

// Runtime returns the session's runtime.
func (s *Session) Runtime() *vm.Runtime { return s.rt }

// Context returns the session's main context.
func (s *Session) Context() *vm.Context { return s.ctx }

// ExitCode returns the code passed to process.exit, and whether it was
// called.
func (s *Session) ExitCode() (int, bool) { return s.exitCode, s.exited }

// Close releases the runtime and everything it owns.
func (s *Session) Close() {
	if s.rt != nil {
		s.rt.Close()
		s.rt = nil
	}
}

func (s *Session) shouldInterrupt() bool {
	if s.exited {
		return true
	}
	if !s.deadline.IsZero() && time.Now().After(s.deadline) {
		return true
	}
	return s.interrupt != nil && s.interrupt()
}

func (s *Session) trackRejection(ctx *vm.Context, promise, reason vm.Value, handled bool) {
	p := promise.AsObject()
	if handled {
		for i, r := range s.rejections {
			if r.promise == p {
				s.rejections = append(s.rejections[:i], s.rejections[i+1:]...)
				return
			}
		}
		return
	}
	s.rejections = append(s.rejections, rejection{promise: p, reason: describe(ctx, reason)})
}

// describe renders a thrown or rejected value without running script code
// when it is an Error.
func describe(ctx *vm.Context, v vm.Value) string {
	if p := v.AsObject(); p != nil && p.ClassID() == vm.ClassError {
		return vm.Describe(v)
	}
	s, err := ctx.ToString(v)
	if err != nil {
		if ex, ok := err.(*vm.Exception); ok {
			ex.Release()
		}
		return v.String()
	}
	return s
}

// LoadProgram reads a program into rt by file extension: assembly for
// .yaml and .yml, a bytecode image for .jsbc.
func LoadProgram(rt *vm.Runtime, path string) (*vm.FunctionBytecode, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ExtAssembly, ".yml":
		return asm.AssembleFile(rt, path)
	case ExtImage:
		f, err := os.Open(path)
		if err != nil {
			return nil, (&errors.LoadError{Position: errors.Position{File: path}, Msg: "cannot read image"}).CausedBy(err)
		}
		defer f.Close()
		b, err := image.Read(f, rt)
		if err != nil {
			return nil, (&errors.LoadError{Position: errors.Position{File: path}, Msg: "invalid image"}).CausedBy(err)
		}
		return b, nil
	}
	return nil, &errors.LoadError{
		Position: errors.Position{File: path},
		Msg:      fmt.Sprintf("unknown program type %q, want %s or %s", filepath.Ext(path), ExtAssembly, ExtImage),
	}
}

// Load reads a program into the session's runtime. Release the result
// with Release.
func (s *Session) Load(path string) (*vm.FunctionBytecode, error) {
	start := time.Now()
	b, err := LoadProgram(s.rt, path)
	if err != nil {
		return nil, err
	}
	log.Infof("loaded %s in %s", path, time.Since(start))
	return b, nil
}

// Release drops a program returned by Load.
func (s *Session) Release(b *vm.FunctionBytecode) { s.rt.ReleaseBytecode(b) }

// Run evaluates b, then drains the job queue. An exception escaping the
// program or a job comes back as *errors.RuntimeError; the returned value
// is owned by the caller.
func (s *Session) Run(b *vm.FunctionBytecode) (vm.Value, error) {
	if ms := s.cfg.Runtime.TimeoutMS; ms > 0 {
		s.deadline = time.Now().Add(time.Duration(ms) * time.Millisecond)
		defer func() { s.deadline = time.Time{} }()
	}
	v, err := s.ctx.EvalFunction(b)
	if err != nil {
		return vm.Undefined, s.uncaught(err)
	}
	n, err := s.ctx.ExecutePendingJobs()
	log.Debugf("ran %d pending jobs", n)
	if err != nil {
		s.rt.FreeValue(v)
		return vm.Undefined, s.uncaught(err)
	}
	if len(s.rejections) > 0 {
		r := s.rejections[0]
		for _, extra := range s.rejections[1:] {
			log.Warningf("unhandled promise rejection: %s", extra.reason)
		}
		s.rejections = nil
		s.rt.FreeValue(v)
		return vm.Undefined, &errors.RuntimeError{Msg: "(in promise) " + r.reason}
	}
	return v, nil
}

// RunFile loads, runs and releases the program at path.
func (s *Session) RunFile(path string) (vm.Value, error) {
	b, err := s.Load(path)
	if err != nil {
		return vm.Undefined, err
	}
	defer s.Release(b)
	return s.Run(b)
}

// uncaught converts an escaping exception to a RuntimeError, releasing the
// thrown value.
func (s *Session) uncaught(err error) error {
	var ex *vm.Exception
	if !stderrors.As(err, &ex) {
		return err
	}
	defer ex.Release()
	if s.exited && ex.Uncatchable() {
		return &ExitError{Code: s.exitCode}
	}
	stack := strings.TrimRight(ex.Stack(), "\n")
	return &errors.RuntimeError{
		Position:  stackPosition(stack),
		Msg:       describe(s.ctx, ex.Value()),
		Backtrace: stack,
	}
}

// stackPosition pulls the innermost file and line out of a backtrace line
// such as "    at f (prog.yaml:12)".
func stackPosition(stack string) errors.Position {
	for _, line := range strings.Split(stack, "\n") {
		open, end := strings.LastIndexByte(line, '('), strings.LastIndexByte(line, ')')
		if open < 0 || end < open {
			continue
		}
		loc := line[open+1 : end]
		colon := strings.LastIndexByte(loc, ':')
		if colon < 0 {
			continue
		}
		n, err := strconv.Atoi(loc[colon+1:])
		if err != nil {
			continue
		}
		return errors.Position{File: loc[:colon], Line: n, Column: 1}
	}
	return errors.Position{}
}

// ExitError reports that the program called process.exit.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string { return fmt.Sprintf("exit status %d", e.Code) }

// Compile assembles the program at in and writes it as an image to out.
func (s *Session) Compile(in, out string) error {
	b, err := s.Load(in)
	if err != nil {
		return err
	}
	defer s.Release(b)
	var buf bytes.Buffer
	if err := image.Write(&buf, s.rt, b); err != nil {
		return (&errors.LoadError{Position: errors.Position{File: out}, Msg: "cannot encode image"}).CausedBy(err)
	}
	if err := os.WriteFile(out, buf.Bytes(), 0o644); err != nil {
		return (&errors.LoadError{Position: errors.Position{File: out}, Msg: "cannot write image"}).CausedBy(err)
	}
	log.Infof("wrote %s (%d bytes)", out, buf.Len())
	return nil
}

// Disassemble returns the listing of b and its nested functions.
func (s *Session) Disassemble(b *vm.FunctionBytecode) string {
	return vm.Disassemble(s.rt, b)
}

// WriteHeapDump collects cycles, then snapshots the heap into a SQLite
// database at path.
func (s *Session) WriteHeapDump(ctx context.Context, path string) (heapdump.Stats, error) {
	s.rt.RunGC()
	return heapdump.WriteFile(ctx, s.rt, path)
}

// PrintCacheStats writes inline cache counters to w.
func (s *Session) PrintCacheStats(w io.Writer) {
	st := s.rt.CacheStats()
	total := st.Hits + st.Misses
	rate := 0.0
	if total > 0 {
		rate = float64(st.Hits) / float64(total) * 100
	}
	fmt.Fprintf(w, "Inline cache: %d hits, %d misses (%.1f%% hit rate)\n", st.Hits, st.Misses, rate)
	fmt.Fprintf(w, "  monomorphic: %d\n  polymorphic: %d\n  megamorphic: %d\n",
		st.MonomorphicHits, st.PolymorphicHits, st.MegamorphicHits)
}

// PrintGCStats writes collector counters and a memory usage summary to w.
func (s *Session) PrintGCStats(w io.Writer) {
	st := s.rt.GCStats()
	fmt.Fprintf(w, "GC: %d runs, %d objects collected (last pass freed %d, %d live)\n",
		st.Runs, st.Collected, st.LastFreed, st.LastLive)
	m := s.rt.MemoryUsage()
	fmt.Fprintf(w, "Memory: %d objects, %d arrays (%d fast, %d elements), %d functions, %d bytecodes, %d shapes, %d properties, %d var refs, %d atoms\n",
		m.Objects, m.Arrays, m.FastArrays, m.ArrayElements, m.Functions, m.Bytecodes, m.Shapes, m.Properties, m.VarRefs, m.Atoms)
}

// DisplayError prints err to w. Assembly errors show the offending source
// line, read back from the file they name.
func DisplayError(w io.Writer, err error) {
	var exit *ExitError
	if stderrors.As(err, &exit) {
		return
	}
	var e errors.Error
	if !stderrors.As(err, &e) {
		fmt.Fprintf(w, "Error: %v\n", err)
		return
	}
	source := ""
	if file := e.Pos().File; file != "" && e.Pos().IsValid() {
		if data, rerr := os.ReadFile(file); rerr == nil {
			source = string(data)
		}
	}
	if le, ok := e.(*errors.LoadError); ok && le.Cause != nil {
		fmt.Fprintf(w, "Load Error: %s: %s: %v\n", le.Position, le.Msg, le.Cause)
		return
	}
	errors.DisplayErrors(w, source, []errors.Error{e})
}
