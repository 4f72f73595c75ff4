package vm

import (
	"encoding/binary"
	"fmt"
)

// Label names a code position inside a FunctionBuilder.
type Label int

type labelFixup struct {
	pos   int // offset of the u32 operand
	label Label
}

// FunctionBuilder assembles one FunctionBytecode. Labels may be referenced
// before they are marked; Build patches them and computes the stack size.
type FunctionBuilder struct {
	rt       *Runtime
	b        *FunctionBytecode
	labels   []int
	fixups   []labelFixup
	lastLine int
	err      error
}

// NewFunctionBuilder starts a function. Atoms are interned in rt, so the
// result only runs on that runtime.
func NewFunctionBuilder(rt *Runtime, name string) *FunctionBuilder {
	return &FunctionBuilder{rt: rt, b: NewFunctionBytecode(name)}
}

func (fb *FunctionBuilder) SetFileName(name string)   { fb.b.FileName = name }
func (fb *FunctionBuilder) SetKind(kind FunctionKind) { fb.b.Kind = kind }
func (fb *FunctionBuilder) SetStrict(strict bool)     { fb.b.Strict = strict }
func (fb *FunctionBuilder) SetArrow(arrow bool)       { fb.b.Arrow = arrow }
func (fb *FunctionBuilder) SetMethod(method bool)     { fb.b.Method = method }
func (fb *FunctionBuilder) SetArgCount(n int)         { fb.b.ArgCount = n }

// AddVar declares a local slot and returns its index.
func (fb *FunctionBuilder) AddVar(name string) int {
	fb.b.VarNames = append(fb.b.VarNames, name)
	fb.b.VarCount++
	return fb.b.VarCount - 1
}

// AddClosureVar declares a captured variable and returns its index.
func (fb *FunctionBuilder) AddClosureVar(name string, isLocal, isArg bool, index int) int {
	fb.b.ClosureVars = append(fb.b.ClosureVars, ClosureVar{Name: name, IsLocal: isLocal, IsArg: isArg, Index: index})
	return len(fb.b.ClosureVars) - 1
}

// AddConst appends v to the constant pool, taking ownership of it.
func (fb *FunctionBuilder) AddConst(v Value) int {
	if v.tag == TagObject {
		fb.fail(fmt.Errorf("%s: objects cannot be bytecode constants", fb.b.Name))
		fb.rt.freeValue(v)
		v = Undefined
	}
	fb.b.Constants = append(fb.b.Constants, v)
	return len(fb.b.Constants) - 1
}

// SetLine records that following instructions come from source line.
func (fb *FunctionBuilder) SetLine(line int) {
	if line == fb.lastLine {
		return
	}
	fb.lastLine = line
	pc := len(fb.b.Code)
	if n := len(fb.b.Lines); n > 0 && fb.b.Lines[n-1].PC == pc {
		fb.b.Lines[n-1].Line = line
		return
	}
	fb.b.Lines = append(fb.b.Lines, LineEntry{PC: pc, Line: line})
}

// PC returns the offset of the next instruction.
func (fb *FunctionBuilder) PC() int { return len(fb.b.Code) }

func (fb *FunctionBuilder) fail(err error) {
	if fb.err == nil {
		fb.err = err
	}
}

func (fb *FunctionBuilder) check(op OpCode, formats ...OpFormat) bool {
	info, ok := op.Info()
	if !ok {
		fb.fail(fmt.Errorf("%s: invalid opcode %d", fb.b.Name, op))
		return false
	}
	for _, f := range formats {
		if info.Format == f {
			return true
		}
	}
	fb.fail(fmt.Errorf("%s: wrong operand kind for %s", fb.b.Name, info.Name))
	return false
}

func (fb *FunctionBuilder) putU16(v uint16) {
	fb.b.Code = binary.BigEndian.AppendUint16(fb.b.Code, v)
}

func (fb *FunctionBuilder) putU32(v uint32) {
	fb.b.Code = binary.BigEndian.AppendUint32(fb.b.Code, v)
}

// Emit appends an instruction without operands.
func (fb *FunctionBuilder) Emit(op OpCode) {
	if fb.check(op, FmtNone) {
		fb.b.Code = append(fb.b.Code, byte(op))
	}
}

func (fb *FunctionBuilder) EmitU8(op OpCode, v uint8) {
	if fb.check(op, FmtU8) {
		fb.b.Code = append(fb.b.Code, byte(op), v)
	}
}

// EmitU16 appends an instruction with a 16-bit operand: argument counts,
// local, argument and closure variable indices.
func (fb *FunctionBuilder) EmitU16(op OpCode, v uint16) {
	if fb.check(op, FmtU16, FmtLoc, FmtArg, FmtVarRef, FmtNPop) {
		fb.b.Code = append(fb.b.Code, byte(op))
		fb.putU16(v)
	}
}

func (fb *FunctionBuilder) EmitI32(op OpCode, v int32) {
	if fb.check(op, FmtI32) {
		fb.b.Code = append(fb.b.Code, byte(op))
		fb.putU32(uint32(v))
	}
}

// EmitAtom appends an instruction naming a property or variable.
func (fb *FunctionBuilder) EmitAtom(op OpCode, name string) {
	fb.EmitAtomID(op, fb.rt.NewAtom(name))
}

// EmitAtomID is EmitAtom for an atom already interned, such as a well-known
// symbol.
func (fb *FunctionBuilder) EmitAtomID(op OpCode, a Atom) {
	if fb.check(op, FmtAtom) {
		fb.b.Code = append(fb.b.Code, byte(op))
		fb.putU32(uint32(a))
	}
}

func (fb *FunctionBuilder) EmitAtomU8(op OpCode, name string, v uint8) {
	if fb.check(op, FmtAtomU8) {
		fb.b.Code = append(fb.b.Code, byte(op))
		fb.putU32(uint32(fb.rt.NewAtom(name)))
		fb.b.Code = append(fb.b.Code, v)
	}
}

// EmitConst adds v to the pool and pushes it.
func (fb *FunctionBuilder) EmitConst(v Value) {
	idx := fb.AddConst(v)
	fb.b.Code = append(fb.b.Code, byte(OpPushConst))
	fb.putU32(uint32(idx))
}

// EmitString pushes a string constant.
func (fb *FunctionBuilder) EmitString(s string) {
	fb.EmitConst(newStringValue(s))
}

// EmitNumber pushes a numeric constant, using push_i32 when it fits.
func (fb *FunctionBuilder) EmitNumber(f float64) {
	v := NewNumber(f)
	if v.tag == TagInt {
		fb.EmitI32(OpPushI32, v.Int32())
		return
	}
	fb.EmitConst(v)
}

// EmitClosure creates a closure over nested, taking ownership of it.
func (fb *FunctionBuilder) EmitClosure(nested *FunctionBytecode) {
	idx := fb.AddConst(bytecodeValue(nested))
	fb.b.Code = append(fb.b.Code, byte(OpFClosure))
	fb.putU32(uint32(idx))
}

func (fb *FunctionBuilder) NewLabel() Label {
	fb.labels = append(fb.labels, -1)
	return Label(len(fb.labels) - 1)
}

// Mark binds l to the next instruction.
func (fb *FunctionBuilder) Mark(l Label) {
	if int(l) >= len(fb.labels) {
		fb.fail(fmt.Errorf("%s: unknown label %d", fb.b.Name, l))
		return
	}
	if fb.labels[l] >= 0 {
		fb.fail(fmt.Errorf("%s: label %d marked twice", fb.b.Name, l))
		return
	}
	fb.labels[l] = len(fb.b.Code)
}

// EmitJump appends a branch, catch or gosub to l.
func (fb *FunctionBuilder) EmitJump(op OpCode, l Label) {
	if !fb.check(op, FmtLabel) {
		return
	}
	fb.b.Code = append(fb.b.Code, byte(op))
	fb.fixups = append(fb.fixups, labelFixup{pos: len(fb.b.Code), label: l})
	fb.putU32(0)
}

// EmitYield appends a yield that returns the resumed value straight away
// when the generator is closed with return(). Bodies with finally blocks
// around the yield emit OpYield and dispatch on the resume kind themselves.
func (fb *FunctionBuilder) EmitYield() {
	resumed := fb.NewLabel()
	fb.Emit(OpYield)
	fb.EmitJump(OpIfFalse, resumed)
	fb.Emit(OpReturn)
	fb.Mark(resumed)
}

// Build resolves labels, validates operands and computes the operand stack
// size. The builder must not be used afterwards.
func (fb *FunctionBuilder) Build() (*FunctionBytecode, error) {
	b := fb.b
	fb.b = nil
	if fb.err == nil {
		for _, fx := range fb.fixups {
			if int(fx.label) >= len(fb.labels) || fb.labels[fx.label] < 0 {
				fb.fail(fmt.Errorf("%s: label %d used but never marked", b.Name, fx.label))
				break
			}
			binary.BigEndian.PutUint32(b.Code[fx.pos:], uint32(fb.labels[fx.label]))
		}
	}
	if fb.err == nil {
		if b.ArgCount < 0 || b.VarCount < 0 {
			fb.fail(fmt.Errorf("%s: negative argument or variable count", b.Name))
		}
	}
	if fb.err == nil {
		size, err := ComputeStackSize(b)
		if err != nil {
			fb.fail(err)
		}
		b.StackSize = size
	}
	if fb.err != nil {
		fb.rt.freeFunctionBytecode(b)
		return nil, fb.err
	}
	return b, nil
}

// ComputeStackSize validates b's code and returns the deepest operand stack
// any path can reach. Every path must end in a return, throw or tail call,
// and a pc reached twice must see the same depth.
func ComputeStackSize(b *FunctionBytecode) (int, error) {
	n := len(b.Code)
	if n == 0 {
		return 0, fmt.Errorf("%s: empty code", b.Name)
	}
	depth := make([]int, n)
	for i := range depth {
		depth[i] = -1
	}
	type item struct{ pc, d int }
	work := []item{{0, 0}}
	maxDepth := 0
	visit := func(from, pc, d int) error {
		if pc < 0 || pc >= n {
			return fmt.Errorf("%s: pc %d: branch target %d out of range", b.Name, from, pc)
		}
		if depth[pc] >= 0 {
			if depth[pc] != d {
				return fmt.Errorf("%s: pc %d: inconsistent stack depth %d, expected %d", b.Name, pc, d, depth[pc])
			}
			return nil
		}
		depth[pc] = d
		work = append(work, item{pc, d})
		return nil
	}
	depth[0] = 0
	for len(work) > 0 {
		it := work[len(work)-1]
		work = work[:len(work)-1]
		pc, d := it.pc, it.d
		op := OpCode(b.Code[pc])
		info, ok := op.Info()
		if !ok {
			return 0, fmt.Errorf("%s: pc %d: invalid opcode %d", b.Name, pc, b.Code[pc])
		}
		if pc+info.Size > n {
			return 0, fmt.Errorf("%s: pc %d: truncated %s", b.Name, pc, info.Name)
		}
		arg, _ := b.Operand(pc)
		if err := checkOperand(b, pc, op, info, arg); err != nil {
			return 0, err
		}
		npop := info.NPop
		if info.Format == FmtNPop {
			npop += int(arg)
		}
		if op == OpForOfNext && d < 3+int(arg) {
			return 0, fmt.Errorf("%s: pc %d: for_of_next without an iterator", b.Name, pc)
		}
		if d < npop {
			return 0, fmt.Errorf("%s: pc %d: stack underflow in %s", b.Name, pc, info.Name)
		}
		nd := d - npop + info.NPush
		if nd > maxDepth {
			maxDepth = nd
		}
		next := pc + info.Size
		var err error
		switch op {
		case OpGoto:
			err = visit(pc, int(arg), nd)
		case OpIfFalse, OpIfTrue:
			if err = visit(pc, int(arg), nd); err == nil {
				err = visit(pc, next, nd)
			}
		case OpCatch:
			if err = visit(pc, int(arg), nd); err == nil {
				err = visit(pc, next, nd)
			}
		case OpGosub:
			if d+1 > maxDepth {
				maxDepth = d + 1
			}
			if err = visit(pc, int(arg), d+1); err == nil {
				err = visit(pc, next, d)
			}
		case OpReturn, OpReturnUndef, OpReturnAsync, OpThrow, OpThrowError,
			OpTailCall, OpTailCallMethod, OpRet:
		default:
			if next >= n {
				return 0, fmt.Errorf("%s: pc %d: execution falls off the end of the code", b.Name, pc)
			}
			err = visit(pc, next, nd)
		}
		if err != nil {
			return 0, err
		}
	}
	return maxDepth, nil
}

func checkOperand(b *FunctionBytecode, pc int, op OpCode, info OpInfo, arg int64) error {
	bad := func(what string) error {
		return fmt.Errorf("%s: pc %d: %s %d out of range in %s", b.Name, pc, what, arg, info.Name)
	}
	switch info.Format {
	case FmtLoc:
		if int(arg) >= b.VarCount {
			return bad("local")
		}
	case FmtArg:
		if int(arg) >= b.ArgCount {
			return bad("argument")
		}
	case FmtVarRef:
		if int(arg) >= len(b.ClosureVars) {
			return bad("closure variable")
		}
	case FmtConst:
		if int(arg) >= len(b.Constants) {
			return bad("constant")
		}
		if op == OpFClosure && b.Constants[arg].tag != TagFunctionBytecode {
			return fmt.Errorf("%s: pc %d: fclosure operand is not function bytecode", b.Name, pc)
		}
	case FmtAtom, FmtAtomU8:
		if Atom(arg) == AtomNull {
			return bad("atom")
		}
	}
	switch op {
	case OpSpecialObject:
		if arg > int64(SpecialHomeObject) {
			return bad("special object")
		}
	case OpInitialYield:
		if b.Kind != FuncGenerator {
			return fmt.Errorf("%s: pc %d: initial_yield outside a generator", b.Name, pc)
		}
	case OpYield:
		if b.Kind != FuncGenerator {
			return fmt.Errorf("%s: pc %d: yield outside a generator", b.Name, pc)
		}
	case OpAwait, OpReturnAsync:
		if b.Kind != FuncAsync {
			return fmt.Errorf("%s: pc %d: %s outside an async function", b.Name, pc, info.Name)
		}
	}
	return nil
}
