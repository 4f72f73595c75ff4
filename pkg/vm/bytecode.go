package vm

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strings"
)

// OpCode defines the type for bytecode instructions.
type OpCode uint8

// Stack machine opcodes. Multi-byte operands are big endian; jump targets
// are absolute offsets into the function's code.
const (
	OpInvalid OpCode = iota

	// --- Push ---
	OpPushUndefined // -> undefined
	OpPushNull      // -> null
	OpPushTrue      // -> true
	OpPushFalse     // -> false
	OpPushI32       // i32: -> int
	OpPushConst     // const: -> Constants[idx]
	OpPushAtomValue // atom: -> string or symbol for atom
	OpPushThis      // -> this
	OpObject        // -> {}
	OpArrayFrom     // u16 n: v1..vn -> [v1..vn]
	OpFClosure      // const: -> closure over the nested bytecode Constants[idx]
	OpSpecialObject // u8 kind: -> arguments, mapped arguments, this function, new.target or home object

	// --- Stack shuffles ---
	OpDrop    // a ->
	OpNip     // a b -> b
	OpDup     // a -> a a
	OpDup2    // a b -> a b a b
	OpSwap    // a b -> b a
	OpRot3L   // x a b -> a b x
	OpRot3R   // a b x -> x a b
	OpInsert2 // a b -> b a b
	OpInsert3 // a b c -> c a b c

	// --- Locals, arguments and closure variables ---
	OpGetLoc              // loc: -> v
	OpPutLoc              // loc: v ->
	OpSetLoc              // loc: v -> v
	OpGetArg              // arg: -> v
	OpPutArg              // arg: v ->
	OpSetArg              // arg: v -> v
	OpGetVarRef           // idx: -> v
	OpPutVarRef           // idx: v ->
	OpSetVarRef           // idx: v -> v
	OpSetLocUninitialized // loc: marks a let/const slot as in its dead zone
	OpGetLocCheck         // loc: -> v, ReferenceError while uninitialized
	OpPutLocCheck         // loc: v ->, ReferenceError while uninitialized
	OpPutLocCheckInit     // loc: v ->, initializes a let/const slot
	OpGetVarRefCheck      // idx: -> v, ReferenceError while uninitialized
	OpPutVarRefCheck      // idx: v ->, ReferenceError while uninitialized
	OpCloseLoc            // loc: detaches the var refs aliasing a local slot

	// --- Globals ---
	OpGetVar       // atom: -> v, ReferenceError when missing
	OpGetVarUndef  // atom: -> v or undefined (typeof)
	OpPutVar       // atom: v ->
	OpPutVarInit   // atom: v ->, initializes a global lexical binding
	OpDefineVar    // atom: declares a global var
	OpDefineLexVar // atom u8 flags: declares a global let/const binding
	OpDeleteVar    // atom: -> bool

	// --- Properties ---
	OpGetField      // atom: obj -> v
	OpGetField2     // atom: obj -> obj v
	OpPutField      // atom: obj v ->
	OpGetArrayEl    // obj key -> v
	OpGetArrayEl2   // obj key -> obj v
	OpPutArrayEl    // obj key v ->
	OpGetLength     // obj -> length
	OpDefineField   // atom: obj v -> obj
	OpDefineArrayEl // obj key v -> obj
	OpDefineGetter  // atom: obj fn -> obj
	OpDefineSetter  // atom: obj fn -> obj
	OpSetProto      // obj proto -> obj
	OpSetHomeObject // obj fn -> obj fn
	OpGetSuper      // -> prototype of the home object
	OpDelete        // obj key -> bool
	OpIn            // key obj -> bool
	OpInstanceof    // obj ctor -> bool

	// --- Calls ---
	OpCall            // u16 argc: fn a1..an -> ret
	OpCallMethod      // u16 argc: this fn a1..an -> ret
	OpTailCall        // u16 argc: fn a1..an ->
	OpTailCallMethod  // u16 argc: this fn a1..an ->
	OpCallConstructor // u16 argc: ctor a1..an -> obj
	OpApply           // u16 magic: this fn array -> ret; magic 1 constructs with this as new.target
	OpReturn          // v ->
	OpReturnUndef     // ->
	OpThrow           // v ->
	OpThrowError      // atom u8 kind: throws a new error with the atom as message

	// --- Control flow ---
	OpGoto     // label
	OpIfFalse  // label: v ->
	OpIfTrue   // label: v ->
	OpCatch    // label: -> catch_offset
	OpNipCatch // catch_offset ... v -> v
	OpGosub    // label: -> return address
	OpRet      // return address ->

	// --- Iteration ---
	OpForInStart    // obj -> iter
	OpForInNext     // iter -> iter key done
	OpForOfStart    // obj -> iter next catch_offset(0)
	OpForOfNext     // u8 depth: iter next catch_offset x*depth -> ... value done
	OpIteratorClose // iter next catch_offset ->

	// --- Arithmetic, bitwise and comparison ---
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpPow
	OpShl
	OpSar
	OpShr
	OpAnd
	OpOr
	OpXor
	OpLt
	OpLte
	OpGt
	OpGte
	OpEq
	OpNeq
	OpStrictEq
	OpStrictNeq
	OpNeg
	OpPlus
	OpNot  // ~a
	OpLNot // !a
	OpInc
	OpDec
	OpPostInc // a -> num(a) num(a)+1
	OpPostDec // a -> num(a) num(a)-1
	OpIncLoc  // loc
	OpDecLoc  // loc
	OpAddLoc  // loc: v ->, loc += v
	OpTypeof
	OpIsUndefinedOrNull
	OpToPropertyKey

	// --- Generators and async functions ---
	OpInitialYield // suspends a generator before its body runs
	OpYield        // v -> resumed value, resume kind (ResumeNext or ResumeReturn)
	OpAwait        // v -> settled value
	OpReturnAsync  // v ->

	OpNop

	opCount
)

// Operand formats.
type OpFormat uint8

const (
	FmtNone   OpFormat = iota
	FmtU8              // u8
	FmtU16             // u16 (argc, magic)
	FmtI32             // i32 immediate
	FmtLabel           // u32 absolute target
	FmtAtom            // u32 atom
	FmtAtomU8          // u32 atom, u8
	FmtConst           // u32 constant pool index
	FmtLoc             // u16 local index
	FmtArg             // u16 argument index
	FmtVarRef          // u16 closure variable index
	FmtNPop            // u16 count of popped operands
)

var formatSizes = [...]int{
	FmtNone: 0, FmtU8: 1, FmtU16: 2, FmtI32: 4, FmtLabel: 4, FmtAtom: 4,
	FmtAtomU8: 5, FmtConst: 4, FmtLoc: 2, FmtArg: 2, FmtVarRef: 2, FmtNPop: 2,
}

// OpInfo describes one opcode. NPop counts fixed pops; FmtNPop operands add
// their value to it.
type OpInfo struct {
	Name   string
	Format OpFormat
	NPop   int
	NPush  int
	Size   int
}

var opInfos [opCount]OpInfo

func defOp(op OpCode, name string, format OpFormat, npop, npush int) {
	opInfos[op] = OpInfo{Name: name, Format: format, NPop: npop, NPush: npush, Size: 1 + formatSizes[format]}
}

func init() {
	defOp(OpInvalid, "invalid", FmtNone, 0, 0)

	defOp(OpPushUndefined, "push_undefined", FmtNone, 0, 1)
	defOp(OpPushNull, "push_null", FmtNone, 0, 1)
	defOp(OpPushTrue, "push_true", FmtNone, 0, 1)
	defOp(OpPushFalse, "push_false", FmtNone, 0, 1)
	defOp(OpPushI32, "push_i32", FmtI32, 0, 1)
	defOp(OpPushConst, "push_const", FmtConst, 0, 1)
	defOp(OpPushAtomValue, "push_atom_value", FmtAtom, 0, 1)
	defOp(OpPushThis, "push_this", FmtNone, 0, 1)
	defOp(OpObject, "object", FmtNone, 0, 1)
	defOp(OpArrayFrom, "array_from", FmtNPop, 0, 1)
	defOp(OpFClosure, "fclosure", FmtConst, 0, 1)
	defOp(OpSpecialObject, "special_object", FmtU8, 0, 1)

	defOp(OpDrop, "drop", FmtNone, 1, 0)
	defOp(OpNip, "nip", FmtNone, 2, 1)
	defOp(OpDup, "dup", FmtNone, 1, 2)
	defOp(OpDup2, "dup2", FmtNone, 2, 4)
	defOp(OpSwap, "swap", FmtNone, 2, 2)
	defOp(OpRot3L, "rot3l", FmtNone, 3, 3)
	defOp(OpRot3R, "rot3r", FmtNone, 3, 3)
	defOp(OpInsert2, "insert2", FmtNone, 2, 3)
	defOp(OpInsert3, "insert3", FmtNone, 3, 4)

	defOp(OpGetLoc, "get_loc", FmtLoc, 0, 1)
	defOp(OpPutLoc, "put_loc", FmtLoc, 1, 0)
	defOp(OpSetLoc, "set_loc", FmtLoc, 1, 1)
	defOp(OpGetArg, "get_arg", FmtArg, 0, 1)
	defOp(OpPutArg, "put_arg", FmtArg, 1, 0)
	defOp(OpSetArg, "set_arg", FmtArg, 1, 1)
	defOp(OpGetVarRef, "get_var_ref", FmtVarRef, 0, 1)
	defOp(OpPutVarRef, "put_var_ref", FmtVarRef, 1, 0)
	defOp(OpSetVarRef, "set_var_ref", FmtVarRef, 1, 1)
	defOp(OpSetLocUninitialized, "set_loc_uninitialized", FmtLoc, 0, 0)
	defOp(OpGetLocCheck, "get_loc_check", FmtLoc, 0, 1)
	defOp(OpPutLocCheck, "put_loc_check", FmtLoc, 1, 0)
	defOp(OpPutLocCheckInit, "put_loc_check_init", FmtLoc, 1, 0)
	defOp(OpGetVarRefCheck, "get_var_ref_check", FmtVarRef, 0, 1)
	defOp(OpPutVarRefCheck, "put_var_ref_check", FmtVarRef, 1, 0)
	defOp(OpCloseLoc, "close_loc", FmtLoc, 0, 0)

	defOp(OpGetVar, "get_var", FmtAtom, 0, 1)
	defOp(OpGetVarUndef, "get_var_undef", FmtAtom, 0, 1)
	defOp(OpPutVar, "put_var", FmtAtom, 1, 0)
	defOp(OpPutVarInit, "put_var_init", FmtAtom, 1, 0)
	defOp(OpDefineVar, "define_var", FmtAtom, 0, 0)
	defOp(OpDefineLexVar, "define_lex_var", FmtAtomU8, 0, 0)
	defOp(OpDeleteVar, "delete_var", FmtAtom, 0, 1)

	defOp(OpGetField, "get_field", FmtAtom, 1, 1)
	defOp(OpGetField2, "get_field2", FmtAtom, 1, 2)
	defOp(OpPutField, "put_field", FmtAtom, 2, 0)
	defOp(OpGetArrayEl, "get_array_el", FmtNone, 2, 1)
	defOp(OpGetArrayEl2, "get_array_el2", FmtNone, 2, 2)
	defOp(OpPutArrayEl, "put_array_el", FmtNone, 3, 0)
	defOp(OpGetLength, "get_length", FmtNone, 1, 1)
	defOp(OpDefineField, "define_field", FmtAtom, 2, 1)
	defOp(OpDefineArrayEl, "define_array_el", FmtNone, 3, 1)
	defOp(OpDefineGetter, "define_getter", FmtAtom, 2, 1)
	defOp(OpDefineSetter, "define_setter", FmtAtom, 2, 1)
	defOp(OpSetProto, "set_proto", FmtNone, 2, 1)
	defOp(OpSetHomeObject, "set_home_object", FmtNone, 2, 2)
	defOp(OpGetSuper, "get_super", FmtNone, 0, 1)
	defOp(OpDelete, "delete", FmtNone, 2, 1)
	defOp(OpIn, "in", FmtNone, 2, 1)
	defOp(OpInstanceof, "instanceof", FmtNone, 2, 1)

	defOp(OpCall, "call", FmtNPop, 1, 1)
	defOp(OpCallMethod, "call_method", FmtNPop, 2, 1)
	defOp(OpTailCall, "tail_call", FmtNPop, 1, 0)
	defOp(OpTailCallMethod, "tail_call_method", FmtNPop, 2, 0)
	defOp(OpCallConstructor, "call_constructor", FmtNPop, 1, 1)
	defOp(OpApply, "apply", FmtU16, 3, 1)
	defOp(OpReturn, "return", FmtNone, 1, 0)
	defOp(OpReturnUndef, "return_undef", FmtNone, 0, 0)
	defOp(OpThrow, "throw", FmtNone, 1, 0)
	defOp(OpThrowError, "throw_error", FmtAtomU8, 0, 0)

	defOp(OpGoto, "goto", FmtLabel, 0, 0)
	defOp(OpIfFalse, "if_false", FmtLabel, 1, 0)
	defOp(OpIfTrue, "if_true", FmtLabel, 1, 0)
	defOp(OpCatch, "catch", FmtLabel, 0, 1)
	defOp(OpNipCatch, "nip_catch", FmtNone, 2, 1)
	defOp(OpGosub, "gosub", FmtLabel, 0, 0)
	defOp(OpRet, "ret", FmtNone, 1, 0)

	defOp(OpForInStart, "for_in_start", FmtNone, 1, 1)
	defOp(OpForInNext, "for_in_next", FmtNone, 1, 3)
	defOp(OpForOfStart, "for_of_start", FmtNone, 1, 3)
	defOp(OpForOfNext, "for_of_next", FmtU8, 0, 2)
	defOp(OpIteratorClose, "iterator_close", FmtNone, 3, 0)

	for op, name := range map[OpCode]string{
		OpAdd: "add", OpSub: "sub", OpMul: "mul", OpDiv: "div", OpMod: "mod", OpPow: "pow",
		OpShl: "shl", OpSar: "sar", OpShr: "shr", OpAnd: "and", OpOr: "or", OpXor: "xor",
		OpLt: "lt", OpLte: "lte", OpGt: "gt", OpGte: "gte", OpEq: "eq", OpNeq: "neq",
		OpStrictEq: "strict_eq", OpStrictNeq: "strict_neq",
	} {
		defOp(op, name, FmtNone, 2, 1)
	}
	for op, name := range map[OpCode]string{
		OpNeg: "neg", OpPlus: "plus", OpNot: "not", OpLNot: "lnot", OpInc: "inc", OpDec: "dec",
		OpTypeof: "typeof", OpIsUndefinedOrNull: "is_undefined_or_null", OpToPropertyKey: "to_propkey",
	} {
		defOp(op, name, FmtNone, 1, 1)
	}
	defOp(OpPostInc, "post_inc", FmtNone, 1, 2)
	defOp(OpPostDec, "post_dec", FmtNone, 1, 2)
	defOp(OpIncLoc, "inc_loc", FmtLoc, 0, 0)
	defOp(OpDecLoc, "dec_loc", FmtLoc, 0, 0)
	defOp(OpAddLoc, "add_loc", FmtLoc, 1, 0)

	defOp(OpInitialYield, "initial_yield", FmtNone, 0, 0)
	defOp(OpYield, "yield", FmtNone, 1, 2)
	defOp(OpAwait, "await", FmtNone, 1, 1)
	defOp(OpReturnAsync, "return_async", FmtNone, 1, 0)
	defOp(OpNop, "nop", FmtNone, 0, 0)
}

func (op OpCode) String() string {
	if op < opCount && opInfos[op].Name != "" {
		return opInfos[op].Name
	}
	return fmt.Sprintf("OpCode(%d)", uint8(op))
}

// Info returns the operand layout and stack effect of op.
func (op OpCode) Info() (OpInfo, bool) {
	if op == OpInvalid || op >= opCount {
		return OpInfo{}, false
	}
	return opInfos[op], true
}

// LookupOpCode finds an opcode by mnemonic.
func LookupOpCode(name string) (OpCode, bool) {
	for op := OpCode(1); op < opCount; op++ {
		if opInfos[op].Name == name {
			return op, true
		}
	}
	return OpInvalid, false
}

// Special object kinds for OpSpecialObject.
const (
	SpecialArguments uint8 = iota
	SpecialMappedArguments
	SpecialThisFunc
	SpecialNewTarget
	SpecialHomeObject
)

// Flags for OpDefineLexVar.
const (
	LexVarConst uint8 = 1 << 0
)

// FunctionKind distinguishes ordinary, generator and async bytecode.
type FunctionKind uint8

const (
	FuncNormal FunctionKind = iota
	FuncGenerator
	FuncAsync
)

func (k FunctionKind) String() string {
	switch k {
	case FuncGenerator:
		return "generator"
	case FuncAsync:
		return "async"
	}
	return "normal"
}

// ClosureVar describes one captured variable of a nested function. When
// IsLocal is set the variable is the parent frame's argument or local slot
// Index; otherwise it is the parent's own closure variable Index.
type ClosureVar struct {
	Name    string
	IsLocal bool
	IsArg   bool
	Index   int
}

// LineEntry maps the instruction starting at PC to a source line.
type LineEntry struct {
	PC   int
	Line int
}

// FunctionBytecode is compiled, immutable function code shared by every
// closure created from it. The constant pool holds primitives and nested
// function bytecode only, so bytecode never takes part in a cycle.
type FunctionBytecode struct {
	gcHeader
	Name        string
	FileName    string
	Kind        FunctionKind
	Strict      bool
	Arrow       bool // no own this, new.target or prototype
	Method      bool // object literal or class method: not a constructor
	ArgCount    int
	VarCount    int
	StackSize   int
	Code        []byte
	Constants   []Value
	ClosureVars []ClosureVar
	VarNames    []string
	Lines       []LineEntry

	caches []*PropInlineCache // per pc, allocated on first use
}

// NewFunctionBytecode returns an empty bytecode record with one reference.
// Most callers use FunctionBuilder instead.
func NewFunctionBytecode(name string) *FunctionBytecode {
	b := &FunctionBytecode{Name: name}
	b.refCount = 1
	b.kind = gcKindFunctionBytecode
	return b
}

// IsConstructor reports whether closures over b may be called with new.
func (b *FunctionBytecode) IsConstructor() bool {
	return b.Kind == FuncNormal && !b.Arrow && !b.Method
}

// Retain adds a reference to b, for callers handing b to a second owner
// such as another EmitClosure.
func (b *FunctionBytecode) Retain() *FunctionBytecode {
	b.refCount++
	return b
}

// Value returns a new reference to b.
func (b *FunctionBytecode) Value() Value {
	b.refCount++
	return bytecodeValue(b)
}

func (rt *Runtime) freeFunctionBytecode(b *FunctionBytecode) {
	b.freed = true
	consts := b.Constants
	b.Constants = nil
	for _, c := range consts {
		rt.freeValue(c)
	}
	b.caches = nil
}

// lineForPC returns the source line of the instruction at pc, 0 if unknown.
func (b *FunctionBytecode) lineForPC(pc int) int {
	i := sort.Search(len(b.Lines), func(i int) bool { return b.Lines[i].PC > pc })
	if i == 0 {
		return 0
	}
	return b.Lines[i-1].Line
}

// LineForPC is the exported form of lineForPC.
func (b *FunctionBytecode) LineForPC(pc int) int { return b.lineForPC(pc) }

func readU16(code []byte, pc int) int { return int(binary.BigEndian.Uint16(code[pc:])) }
func readU32(code []byte, pc int) uint32 {
	return binary.BigEndian.Uint32(code[pc:])
}

// Operand decodes the operand of the instruction at pc. For FmtAtomU8 the
// second result holds the u8.
func (b *FunctionBytecode) Operand(pc int) (int64, int) {
	op := OpCode(b.Code[pc])
	switch opInfos[op].Format {
	case FmtU8:
		return int64(b.Code[pc+1]), 0
	case FmtU16, FmtLoc, FmtArg, FmtVarRef, FmtNPop:
		return int64(readU16(b.Code, pc+1)), 0
	case FmtI32:
		return int64(int32(readU32(b.Code, pc+1))), 0
	case FmtLabel, FmtAtom, FmtConst:
		return int64(readU32(b.Code, pc+1)), 0
	case FmtAtomU8:
		return int64(readU32(b.Code, pc+1)), int(b.Code[pc+5])
	}
	return 0, 0
}

// Disassemble renders b and its nested functions as a listing.
func Disassemble(rt *Runtime, b *FunctionBytecode) string {
	var sb strings.Builder
	disassemble(rt, &sb, b)
	return sb.String()
}

func disassemble(rt *Runtime, sb *strings.Builder, b *FunctionBytecode) {
	name := b.Name
	if name == "" {
		name = "<anonymous>"
	}
	fmt.Fprintf(sb, "== %s (%s, args=%d vars=%d stack=%d", name, b.Kind, b.ArgCount, b.VarCount, b.StackSize)
	if b.Strict {
		sb.WriteString(", strict")
	}
	sb.WriteString(") ==\n")
	for i, cv := range b.ClosureVars {
		where := "var_ref"
		switch {
		case cv.IsLocal && cv.IsArg:
			where = "arg"
		case cv.IsLocal:
			where = "loc"
		}
		fmt.Fprintf(sb, "  closure %d: %s <- %s %d\n", i, cv.Name, where, cv.Index)
	}
	pc := 0
	for pc < len(b.Code) {
		op := OpCode(b.Code[pc])
		info, ok := op.Info()
		if !ok {
			fmt.Fprintf(sb, "%04d      <invalid opcode %d>\n", pc, b.Code[pc])
			pc++
			continue
		}
		if pc+info.Size > len(b.Code) {
			fmt.Fprintf(sb, "%04d      %s (truncated)\n", pc, info.Name)
			break
		}
		fmt.Fprintf(sb, "%04d      %-22s", pc, info.Name)
		arg, extra := b.Operand(pc)
		switch info.Format {
		case FmtNone:
		case FmtAtom:
			fmt.Fprintf(sb, " %q", rt.AtomString(Atom(arg)))
		case FmtAtomU8:
			fmt.Fprintf(sb, " %q, %d", rt.AtomString(Atom(arg)), extra)
		case FmtConst:
			if int(arg) < len(b.Constants) {
				fmt.Fprintf(sb, " %d (%s)", arg, b.Constants[arg].String())
			} else {
				fmt.Fprintf(sb, " %d (out of range)", arg)
			}
		case FmtLabel:
			fmt.Fprintf(sb, " -> %04d", arg)
		case FmtLoc:
			fmt.Fprintf(sb, " loc%d", arg)
			if int(arg) < len(b.VarNames) && b.VarNames[arg] != "" {
				fmt.Fprintf(sb, " (%s)", b.VarNames[arg])
			}
		case FmtArg:
			fmt.Fprintf(sb, " arg%d", arg)
		case FmtVarRef:
			fmt.Fprintf(sb, " ref%d", arg)
			if int(arg) < len(b.ClosureVars) {
				fmt.Fprintf(sb, " (%s)", b.ClosureVars[arg].Name)
			}
		default:
			fmt.Fprintf(sb, " %d", arg)
		}
		sb.WriteByte('\n')
		pc += info.Size
	}
	for _, c := range b.Constants {
		if nb := c.AsFunctionBytecode(); nb != nil {
			sb.WriteByte('\n')
			disassemble(rt, sb, nb)
		}
	}
}
