package asm

import (
	stderrors "errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/tliron/commonlog"
	"gopkg.in/yaml.v3"

	"bridgejs/pkg/errors"
	"bridgejs/pkg/vm"
)

var log = commonlog.GetLogger("bridgejs.asm")

var specialObjects = map[string]uint8{
	"arguments":        vm.SpecialArguments,
	"mapped_arguments": vm.SpecialMappedArguments,
	"this_func":        vm.SpecialThisFunc,
	"new_target":       vm.SpecialNewTarget,
	"home_object":      vm.SpecialHomeObject,
}

// AssembleFile reads and assembles the program at path.
func AssembleFile(rt *vm.Runtime, path string) (*vm.FunctionBytecode, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, (&errors.LoadError{Position: errors.Position{File: path}, Msg: "cannot read program"}).CausedBy(err)
	}
	return Assemble(rt, path, src)
}

// Assemble builds the top-level function described by src. The result
// holds one reference; release it with rt.ReleaseBytecode. Errors are
// *errors.SyntaxError.
func Assemble(rt *vm.Runtime, path string, src []byte) (*vm.FunctionBytecode, error) {
	dec := yaml.NewDecoder(strings.NewReader(string(src)))
	dec.KnownFields(true)
	var f File
	if err := dec.Decode(&f); err != nil {
		if stderrors.Is(err, io.EOF) {
			return nil, &errors.SyntaxError{Position: errors.Position{File: path}, Msg: "empty program"}
		}
		return nil, (&errors.SyntaxError{Position: yamlErrorPos(path, err), Msg: err.Error()}).CausedBy(err)
	}
	a := &assembler{
		rt:    rt,
		path:  path,
		lines: strings.Split(string(src), "\n"),
		file:  f.File,
	}
	if a.file == "" {
		a.file = path
	}
	if f.Name == "" {
		f.Name = "main"
	}
	if len(f.Closures) > 0 {
		return nil, a.errorf(a.funcPos(&f.Function), "top-level function %s cannot capture variables", f.Name)
	}
	b, err := a.function(&f.Function, nil)
	if err != nil {
		return nil, err
	}
	log.Debugf("assembled %s: %d bytes of code", path, len(b.Code))
	return b, nil
}

type assembler struct {
	rt    *vm.Runtime
	path  string
	lines []string
	file  string
}

func (a *assembler) errorf(pos errors.Position, format string, args ...any) *errors.SyntaxError {
	return &errors.SyntaxError{Position: pos, Msg: fmt.Sprintf(format, args...)}
}

func (a *assembler) funcPos(fn *Function) errors.Position {
	return errors.Position{File: a.path, Line: fn.Code.Line, Column: fn.Code.Column}
}

// function assembles fn, whose closures resolve against parent.
func (a *assembler) function(fn *Function, parent *Function) (*vm.FunctionBytecode, error) {
	pos := a.funcPos(fn)
	fb := vm.NewFunctionBuilder(a.rt, fn.Name)
	fb.SetFileName(a.file)
	switch fn.Kind {
	case "", "normal":
	case "generator":
		fb.SetKind(vm.FuncGenerator)
	case "async":
		fb.SetKind(vm.FuncAsync)
	default:
		return nil, a.errorf(pos, "%s: unknown function kind %q", fn.Name, fn.Kind)
	}
	fb.SetStrict(fn.Strict)
	fb.SetArrow(fn.Arrow)
	fb.SetMethod(fn.Method)
	fb.SetArgCount(len(fn.Args))
	for _, v := range fn.Vars {
		fb.AddVar(v)
	}
	for _, cv := range fn.Closures {
		isLocal, isArg, idx, err := resolveCapture(cv, parent)
		if err != nil {
			return nil, a.errorf(pos, "%s: closure %s: %v", fn.Name, cv.Name, err)
		}
		fb.AddClosureVar(cv.Name, isLocal, isArg, idx)
	}

	children := map[string]*vm.FunctionBytecode{}
	release := func() {
		for _, c := range children {
			a.rt.ReleaseBytecode(c)
		}
	}
	defer release()
	for _, child := range fn.Functions {
		if _, dup := children[child.Name]; dup || child.Name == "" {
			return nil, a.errorf(a.funcPos(child), "%s: nested function needs a unique name, got %q", fn.Name, child.Name)
		}
		cb, err := a.function(child, fn)
		if err != nil {
			return nil, err
		}
		children[child.Name] = cb
	}

	if err := a.code(fb, fn, children); err != nil {
		if b, berr := fb.Build(); berr == nil {
			a.rt.ReleaseBytecode(b)
		}
		return nil, err
	}
	b, err := fb.Build()
	if err != nil {
		return nil, a.errorf(pos, "%v", err).CausedBy(err)
	}
	return b, nil
}

func resolveCapture(cv Closure, parent *Function) (isLocal, isArg bool, idx int, err error) {
	if parent == nil {
		return false, false, 0, fmt.Errorf("no enclosing function")
	}
	set := 0
	for _, s := range []string{cv.Loc, cv.Arg, cv.Ref} {
		if s != "" {
			set++
		}
	}
	if set != 1 {
		return false, false, 0, fmt.Errorf("exactly one of loc, arg, ref is required")
	}
	switch {
	case cv.Loc != "":
		idx, err = lookupSlot(cv.Loc, parent.Vars, "local")
		return true, false, idx, err
	case cv.Arg != "":
		idx, err = lookupSlot(cv.Arg, parent.Args, "argument")
		return true, true, idx, err
	}
	names := make([]string, len(parent.Closures))
	for i, c := range parent.Closures {
		names[i] = c.Name
	}
	idx, err = lookupSlot(cv.Ref, names, "closure variable")
	return false, false, idx, err
}

// lookupSlot resolves a slot given by name or decimal index.
func lookupSlot(s string, names []string, what string) (int, error) {
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 || n >= len(names) {
			return 0, fmt.Errorf("%s %d out of range", what, n)
		}
		return n, nil
	}
	for i, name := range names {
		if name == s {
			return i, nil
		}
	}
	return 0, fmt.Errorf("unknown %s %s", what, s)
}

// codeStart returns the file line and column of the first code line.
func (a *assembler) codeStart(node *yaml.Node) (line, col int, block bool) {
	if node.Style&(yaml.LiteralStyle|yaml.FoldedStyle) == 0 {
		return node.Line, node.Column, false
	}
	line = node.Line + 1
	col = 1
	for l := line; l <= len(a.lines); l++ {
		text := a.lines[l-1]
		if trimmed := strings.TrimLeft(text, " "); trimmed != "" {
			col = len(text) - len(trimmed) + 1
			break
		}
	}
	return line, col, true
}

type labelRef struct {
	label  vm.Label
	marked bool
	pos    errors.Position
}

func (a *assembler) code(fb *vm.FunctionBuilder, fn *Function, children map[string]*vm.FunctionBytecode) error {
	node := &fn.Code
	if node.Kind == 0 {
		return a.errorf(errors.Position{File: a.path}, "%s: missing code", fn.Name)
	}
	if node.Kind != yaml.ScalarNode {
		return a.errorf(a.funcPos(fn), "%s: code must be a string", fn.Name)
	}
	if node.Style&yaml.FoldedStyle != 0 {
		return a.errorf(a.funcPos(fn), "%s: code must use a literal block (|), not a folded one", fn.Name)
	}
	firstLine, baseCol, block := a.codeStart(node)

	labels := map[string]*labelRef{}
	getLabel := func(name string, pos errors.Position) *labelRef {
		l, ok := labels[name]
		if !ok {
			l = &labelRef{label: fb.NewLabel(), pos: pos}
			labels[name] = l
		}
		return l
	}

	sourceLine := 0
	for i, text := range strings.Split(node.Value, "\n") {
		line := firstLine + i
		colOf := func(c int) errors.Position {
			if block {
				return errors.Position{File: a.path, Line: line, Column: baseCol + c - 1}
			}
			return errors.Position{File: a.path, Line: line, Column: node.Column + c - 1}
		}
		toks, err := tokenizeLine(text)
		if err != nil {
			var le *lineError
			if stderrors.As(err, &le) {
				return a.errorf(colOf(le.col), "%s", le.msg)
			}
			return err
		}
		// labels: "name:" possibly followed by an instruction
		for len(toks) >= 2 && toks[0].kind == tokIdent && toks[1].kind == tokColon {
			l := getLabel(toks[0].text, colOf(toks[0].col))
			if l.marked {
				return a.errorf(colOf(toks[0].col), "label %s defined twice", toks[0].text)
			}
			l.marked = true
			fb.Mark(l.label)
			toks = toks[2:]
		}
		if len(toks) == 0 {
			continue
		}
		if toks[0].kind == tokDirective {
			if toks[0].text != ".line" || len(toks) != 2 || toks[1].kind != tokNumber {
				return a.errorf(colOf(toks[0].col), "expected .line <number>")
			}
			n, err := strconv.Atoi(toks[1].text)
			if err != nil || n < 1 {
				return a.errorf(colOf(toks[1].col), "bad line number %s", toks[1].text)
			}
			sourceLine = n
			continue
		}
		if sourceLine > 0 {
			fb.SetLine(sourceLine)
		} else {
			fb.SetLine(line)
		}
		in := &instr{a: a, fb: fb, fn: fn, toks: toks, pos: colOf, children: children, label: getLabel}
		if err := in.emit(); err != nil {
			return err
		}
	}
	for name, l := range labels {
		if !l.marked {
			return a.errorf(l.pos, "label %s is never defined", name)
		}
	}
	return nil
}

// instr is one tokenized instruction line.
type instr struct {
	a        *assembler
	fb       *vm.FunctionBuilder
	fn       *Function
	toks     []token
	pos      func(col int) errors.Position
	children map[string]*vm.FunctionBytecode
	label    func(name string, pos errors.Position) *labelRef
}

func (in *instr) errorf(t token, format string, args ...any) error {
	return in.a.errorf(in.pos(t.col), format, args...)
}

func (in *instr) operands(n int) error {
	if got := len(in.toks) - 1; got != n {
		return in.errorf(in.toks[0], "%s takes %d operand(s), got %d", in.toks[0].text, n, got)
	}
	return nil
}

func (in *instr) emit() error {
	head := in.toks[0]
	if head.kind != tokIdent {
		return in.errorf(head, "expected an instruction, got %q", head.text)
	}
	if head.text == "push" {
		if err := in.operands(1); err != nil {
			return err
		}
		return in.pushLiteral(in.toks[1])
	}
	op, ok := vm.LookupOpCode(head.text)
	if !ok {
		return in.errorf(head, "unknown instruction %s", head.text)
	}
	info, _ := op.Info()
	fb := in.fb
	switch info.Format {
	case vm.FmtNone:
		if err := in.operands(0); err != nil {
			return err
		}
		fb.Emit(op)
	case vm.FmtU8:
		if err := in.operands(1); err != nil {
			return err
		}
		var n int64
		var err error
		if op == vm.OpSpecialObject && in.toks[1].kind == tokIdent {
			v, ok := specialObjects[in.toks[1].text]
			if !ok {
				return in.errorf(in.toks[1], "unknown special object %s", in.toks[1].text)
			}
			n = int64(v)
		} else if n, err = in.integer(in.toks[1], 0, math.MaxUint8); err != nil {
			return err
		}
		fb.EmitU8(op, uint8(n))
	case vm.FmtU16, vm.FmtNPop:
		if err := in.operands(1); err != nil {
			return err
		}
		n, err := in.integer(in.toks[1], 0, math.MaxUint16)
		if err != nil {
			return err
		}
		fb.EmitU16(op, uint16(n))
	case vm.FmtI32:
		if err := in.operands(1); err != nil {
			return err
		}
		n, err := in.integer(in.toks[1], math.MinInt32, math.MaxInt32)
		if err != nil {
			return err
		}
		fb.EmitI32(op, int32(n))
	case vm.FmtLabel:
		if err := in.operands(1); err != nil {
			return err
		}
		t := in.toks[1]
		if t.kind != tokIdent {
			return in.errorf(t, "expected a label, got %q", t.text)
		}
		fb.EmitJump(op, in.label(t.text, in.pos(t.col)).label)
	case vm.FmtAtom:
		if err := in.operands(1); err != nil {
			return err
		}
		name, err := in.atom(in.toks[1])
		if err != nil {
			return err
		}
		fb.EmitAtom(op, name)
	case vm.FmtAtomU8:
		if err := in.operands(2); err != nil {
			return err
		}
		name, err := in.atom(in.toks[1])
		if err != nil {
			return err
		}
		flag, err := in.atomFlag(op, in.toks[2])
		if err != nil {
			return err
		}
		fb.EmitAtomU8(op, name, flag)
	case vm.FmtConst:
		if err := in.operands(1); err != nil {
			return err
		}
		t := in.toks[1]
		if op == vm.OpFClosure {
			child, ok := in.children[t.text]
			if !ok || t.kind != tokIdent {
				return in.errorf(t, "unknown nested function %s", t.text)
			}
			fb.EmitClosure(child.Retain())
			return nil
		}
		v, err := in.literal(t)
		if err != nil {
			return err
		}
		fb.EmitConst(v)
	case vm.FmtLoc, vm.FmtArg, vm.FmtVarRef:
		if err := in.operands(1); err != nil {
			return err
		}
		idx, err := in.slot(info.Format, in.toks[1])
		if err != nil {
			return err
		}
		fb.EmitU16(op, uint16(idx))
	default:
		return in.errorf(head, "unsupported operand format for %s", head.text)
	}
	return nil
}

func (in *instr) integer(t token, lo, hi int64) (int64, error) {
	if t.kind != tokNumber {
		return 0, in.errorf(t, "expected an integer, got %q", t.text)
	}
	n, err := strconv.ParseInt(t.text, 0, 64)
	if err != nil {
		return 0, in.errorf(t, "expected an integer, got %s", t.text)
	}
	if n < lo || n > hi {
		return 0, in.errorf(t, "%d out of range [%d, %d]", n, lo, hi)
	}
	return n, nil
}

func (in *instr) atom(t token) (string, error) {
	if t.kind != tokIdent && t.kind != tokString {
		return "", in.errorf(t, "expected a name, got %q", t.text)
	}
	return t.text, nil
}

func (in *instr) atomFlag(op vm.OpCode, t token) (uint8, error) {
	if t.kind == tokIdent {
		switch {
		case op == vm.OpThrowError:
			if k, ok := vm.ErrorKindByName(t.text); ok {
				return uint8(k), nil
			}
			return 0, in.errorf(t, "unknown error kind %s", t.text)
		case op == vm.OpDefineLexVar && t.text == "const":
			return vm.LexVarConst, nil
		case op == vm.OpDefineLexVar && t.text == "let":
			return 0, nil
		}
		return 0, in.errorf(t, "unexpected %s", t.text)
	}
	n, err := in.integer(t, 0, math.MaxUint8)
	return uint8(n), err
}

func (in *instr) slot(format vm.OpFormat, t token) (int, error) {
	var names []string
	what := "local"
	switch format {
	case vm.FmtLoc:
		names = in.fn.Vars
	case vm.FmtArg:
		names, what = in.fn.Args, "argument"
	case vm.FmtVarRef:
		what = "closure variable"
		for _, c := range in.fn.Closures {
			names = append(names, c.Name)
		}
	}
	if t.kind != tokIdent && t.kind != tokNumber {
		return 0, in.errorf(t, "expected a %s, got %q", what, t.text)
	}
	idx, err := lookupSlot(t.text, names, what)
	if err != nil {
		return 0, in.errorf(t, "%v", err)
	}
	return idx, nil
}

// literal parses a constant: number, string, true, false, null, undefined,
// NaN or Infinity.
func (in *instr) literal(t token) (vm.Value, error) {
	switch t.kind {
	case tokString:
		return vm.NewString(t.text), nil
	case tokNumber:
		if t.text == "-Infinity" {
			return vm.NewFloat64(math.Inf(-1)), nil
		}
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			n, ierr := strconv.ParseInt(t.text, 0, 64)
			if ierr != nil {
				return vm.Undefined, in.errorf(t, "bad number %s", t.text)
			}
			f = float64(n)
		}
		return vm.NewNumber(f), nil
	case tokIdent:
		switch t.text {
		case "true":
			return vm.True, nil
		case "false":
			return vm.False, nil
		case "null":
			return vm.Null, nil
		case "undefined":
			return vm.Undefined, nil
		case "NaN":
			return vm.NewFloat64(math.NaN()), nil
		case "Infinity":
			return vm.NewFloat64(math.Inf(1)), nil
		}
	}
	return vm.Undefined, in.errorf(t, "expected a literal, got %q", t.text)
}

// pushLiteral picks the shortest push for a literal.
func (in *instr) pushLiteral(t token) error {
	if t.kind == tokIdent {
		switch t.text {
		case "true":
			in.fb.Emit(vm.OpPushTrue)
			return nil
		case "false":
			in.fb.Emit(vm.OpPushFalse)
			return nil
		case "null":
			in.fb.Emit(vm.OpPushNull)
			return nil
		case "undefined":
			in.fb.Emit(vm.OpPushUndefined)
			return nil
		}
	}
	v, err := in.literal(t)
	if err != nil {
		return err
	}
	if v.IsNumber() {
		in.fb.EmitNumber(v.Number())
		return nil
	}
	in.fb.EmitConst(v)
	return nil
}

// yamlErrorPos extracts "line N" from a yaml.v3 error message.
func yamlErrorPos(path string, err error) errors.Position {
	msg := err.Error()
	i := strings.Index(msg, "line ")
	if i < 0 {
		return errors.Position{File: path}
	}
	rest := msg[i+5:]
	j := 0
	for j < len(rest) && rest[j] >= '0' && rest[j] <= '9' {
		j++
	}
	n, convErr := strconv.Atoi(rest[:j])
	if convErr != nil {
		return errors.Position{File: path}
	}
	return errors.Position{File: path, Line: n, Column: 1}
}
