package asm

import (
	"fmt"
	"strconv"
	"strings"
	"text/scanner"
)

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokNumber
	tokString
	tokColon
	tokDirective // .line
)

type token struct {
	kind tokenKind
	text string // unquoted for strings
	col  int    // 1-based
}

// tokenizeLine splits one assembly line. Comments start with ';' or '#'
// outside string literals; commas between operands are optional.
func tokenizeLine(line string) ([]token, error) {
	if i := commentStart(line); i >= 0 {
		line = line[:i]
	}
	var s scanner.Scanner
	s.Init(strings.NewReader(line))
	s.Mode = scanner.ScanIdents | scanner.ScanInts | scanner.ScanFloats | scanner.ScanStrings
	s.Whitespace = 1<<' ' | 1<<'\t' | 1<<'\r' | 1<<','
	var errMsg string
	s.Error = func(_ *scanner.Scanner, msg string) {
		if errMsg == "" {
			errMsg = msg
		}
	}

	var toks []token
	neg := -1
	for tok := s.Scan(); tok != scanner.EOF; tok = s.Scan() {
		col := s.Position.Column
		switch tok {
		case scanner.Ident:
			if neg >= 0 && s.TokenText() == "Infinity" {
				toks = append(toks, token{kind: tokNumber, text: "-Infinity", col: neg})
				neg = -1
				continue
			}
			toks = append(toks, token{kind: tokIdent, text: s.TokenText(), col: col})
		case scanner.Int, scanner.Float:
			text := s.TokenText()
			if neg >= 0 {
				text = "-" + text
				col = neg
				neg = -1
			}
			toks = append(toks, token{kind: tokNumber, text: text, col: col})
		case scanner.String:
			v, err := strconv.Unquote(s.TokenText())
			if err != nil {
				return nil, &lineError{col: col, msg: fmt.Sprintf("bad string literal %s", s.TokenText())}
			}
			toks = append(toks, token{kind: tokString, text: v, col: col})
		case ':':
			toks = append(toks, token{kind: tokColon, text: ":", col: col})
		case '-':
			neg = col
			continue
		case '.':
			if s.Peek() == 'l' && s.Scan() == scanner.Ident {
				toks = append(toks, token{kind: tokDirective, text: "." + s.TokenText(), col: col})
				continue
			}
			return nil, &lineError{col: col, msg: "unexpected '.'"}
		default:
			return nil, &lineError{col: col, msg: fmt.Sprintf("unexpected %q", s.TokenText())}
		}
		if errMsg != "" {
			return nil, &lineError{col: col, msg: errMsg}
		}
		if neg >= 0 {
			return nil, &lineError{col: neg, msg: "'-' must precede a number"}
		}
	}
	if neg >= 0 {
		return nil, &lineError{col: neg, msg: "'-' must precede a number"}
	}
	return toks, nil
}

func commentStart(line string) int {
	inString := false
	for i := 0; i < len(line); i++ {
		switch c := line[i]; {
		case c == '\\' && inString:
			i++
		case c == '"':
			inString = !inString
		case (c == ';' || c == '#') && !inString:
			return i
		}
	}
	return -1
}

// lineError is a tokenizer or operand error; the assembler adds the line.
type lineError struct {
	col int
	msg string
}

func (e *lineError) Error() string { return e.msg }
