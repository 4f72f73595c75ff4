package vm

import (
	"fmt"
	"math"
	"strconv"
	"unsafe"
)

// Tag identifies the kind of a Value.
type Tag uint8

const (
	TagUndefined Tag = iota
	TagNull
	TagBool
	TagInt
	TagFloat64
	TagCatchOffset   // internal: exception handler position on the operand stack
	TagUninitialized // internal: TDZ marker for let/const slots

	// Tags from here on carry a refcounted heap pointer.
	TagString
	TagSymbol
	TagObject
	TagFunctionBytecode
)

func (t Tag) String() string {
	switch t {
	case TagUndefined:
		return "undefined"
	case TagNull:
		return "null"
	case TagBool:
		return "bool"
	case TagInt:
		return "int"
	case TagFloat64:
		return "float64"
	case TagCatchOffset:
		return "catch_offset"
	case TagUninitialized:
		return "uninitialized"
	case TagString:
		return "string"
	case TagSymbol:
		return "symbol"
	case TagObject:
		return "object"
	case TagFunctionBytecode:
		return "function_bytecode"
	}
	return fmt.Sprintf("tag(%d)", uint8(t))
}

// hasRef reports whether values with this tag own a reference to a heap cell.
func (t Tag) hasRef() bool { return t >= TagString }

// Value is the tagged value every slot, stack entry and property holds.
// Immediates live in u; heap referents are reached through ptr and start
// with a gcHeader.
type Value struct {
	tag Tag
	u   uint64
	ptr unsafe.Pointer
}

var (
	Undefined     = Value{tag: TagUndefined}
	Null          = Value{tag: TagNull}
	True          = Value{tag: TagBool, u: 1}
	False         = Value{tag: TagBool}
	uninitialized = Value{tag: TagUninitialized}
)

// --- Constructors ---

func NewBool(b bool) Value {
	if b {
		return True
	}
	return False
}

func NewInt32(n int32) Value {
	return Value{tag: TagInt, u: uint64(uint32(n))}
}

func NewFloat64(f float64) Value {
	return Value{tag: TagFloat64, u: math.Float64bits(f)}
}

// NewNumber returns an Int when f is an integer that fits int32 and is not
// negative zero, and a Float64 otherwise.
func NewNumber(f float64) Value {
	if f >= math.MinInt32 && f <= math.MaxInt32 {
		i := int32(f)
		if float64(i) == f && !(i == 0 && math.Signbit(f)) {
			return NewInt32(i)
		}
	}
	return NewFloat64(f)
}

func newInt64(n int64) Value {
	if n >= math.MinInt32 && n <= math.MaxInt32 {
		return NewInt32(int32(n))
	}
	return NewFloat64(float64(n))
}

func newUint32(n uint32) Value {
	if n <= math.MaxInt32 {
		return NewInt32(int32(n))
	}
	return NewFloat64(float64(n))
}

func catchOffset(pos int) Value {
	return Value{tag: TagCatchOffset, u: uint64(pos)}
}

func objValue(p *Object) Value {
	return Value{tag: TagObject, ptr: unsafe.Pointer(p)}
}

func bytecodeValue(b *FunctionBytecode) Value {
	return Value{tag: TagFunctionBytecode, ptr: unsafe.Pointer(b)}
}

// --- Type checks ---

func (v Value) Tag() Tag               { return v.tag }
func (v Value) IsUndefined() bool      { return v.tag == TagUndefined }
func (v Value) IsNull() bool           { return v.tag == TagNull }
func (v Value) IsUndefinedOrNull() bool { return v.tag == TagUndefined || v.tag == TagNull }
func (v Value) IsBool() bool           { return v.tag == TagBool }
func (v Value) IsInt() bool            { return v.tag == TagInt }
func (v Value) IsFloat64() bool        { return v.tag == TagFloat64 }
func (v Value) IsNumber() bool         { return v.tag == TagInt || v.tag == TagFloat64 }
func (v Value) IsString() bool         { return v.tag == TagString }
func (v Value) IsSymbol() bool         { return v.tag == TagSymbol }
func (v Value) IsObject() bool         { return v.tag == TagObject }
func (v Value) isUninitialized() bool  { return v.tag == TagUninitialized }

// --- Accessors ---

func (v Value) Int32() int32     { return int32(uint32(v.u)) }
func (v Value) Float64() float64 { return math.Float64frombits(v.u) }
func (v Value) Bool() bool       { return v.u != 0 }

// Number returns the numeric payload of an Int or Float64 value.
func (v Value) Number() float64 {
	if v.tag == TagInt {
		return float64(v.Int32())
	}
	return v.Float64()
}

func (v Value) header() *gcHeader            { return (*gcHeader)(v.ptr) }
func (v Value) object() *Object              { return (*Object)(v.ptr) }
func (v Value) str() *jsString               { return (*jsString)(v.ptr) }
func (v Value) sym() *jsSymbol               { return (*jsSymbol)(v.ptr) }
func (v Value) bytecode() *FunctionBytecode  { return (*FunctionBytecode)(v.ptr) }

// AsObject returns the object behind v, or nil when v is not an object.
func (v Value) AsObject() *Object {
	if v.tag != TagObject {
		return nil
	}
	return v.object()
}

// AsString returns the Go string behind a string value.
func (v Value) AsString() (string, bool) {
	if v.tag != TagString {
		return "", false
	}
	return v.str().s, true
}

// AsFunctionBytecode returns the bytecode behind a function bytecode value.
func (v Value) AsFunctionBytecode() *FunctionBytecode {
	if v.tag != TagFunctionBytecode {
		return nil
	}
	return v.bytecode()
}

// RefCount reports the reference count of a heap value, 0 for immediates.
func (v Value) RefCount() int {
	if !v.tag.hasRef() {
		return 0
	}
	return int(v.header().refCount)
}

// Dup returns v after taking a new reference to its referent.
func (v Value) Dup() Value {
	if v.tag.hasRef() {
		v.header().refCount++
	}
	return v
}

func dupValue(v Value) Value {
	if v.tag.hasRef() {
		v.header().refCount++
	}
	return v
}

// String renders v for debugging without running any script code.
func (v Value) String() string {
	switch v.tag {
	case TagUndefined:
		return "undefined"
	case TagNull:
		return "null"
	case TagBool:
		if v.Bool() {
			return "true"
		}
		return "false"
	case TagInt:
		return strconv.FormatInt(int64(v.Int32()), 10)
	case TagFloat64:
		return numberToString(v.Float64())
	case TagCatchOffset:
		return fmt.Sprintf("<catch %d>", v.u)
	case TagUninitialized:
		return "<uninitialized>"
	case TagString:
		return v.str().s
	case TagSymbol:
		return "Symbol(" + v.sym().desc + ")"
	case TagObject:
		p := v.object()
		if p.freed {
			return "<zombie object>"
		}
		switch p.classID {
		case ClassBytecodeFunction, ClassGeneratorFunction, ClassAsyncFunction:
			if p.fn != nil && p.fn.b.Name != "" {
				return fmt.Sprintf("<function %s>", p.fn.b.Name)
			}
			return "<function>"
		case ClassCFunction, ClassCFunctionData:
			if p.cfn != nil && p.cfn.name != "" {
				return fmt.Sprintf("<native function %s>", p.cfn.name)
			}
			return "<native function>"
		case ClassArray:
			return fmt.Sprintf("<array %d>", len(p.values))
		}
		return "<object>"
	case TagFunctionBytecode:
		return fmt.Sprintf("<bytecode %s>", v.bytecode().Name)
	}
	return "<invalid>"
}

// numberToString formats f the way Number.prototype.toString(10) does.
func numberToString(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case f == 0:
		return "0"
	}
	abs := math.Abs(f)
	if abs >= 1e21 || abs < 1e-6 {
		return cleanExponentialFormat(strconv.FormatFloat(f, 'e', -1, 64))
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// cleanExponentialFormat removes leading zeros from exponent to match JS format
// e.g., "1e-07" -> "1e-7", "1e+25" -> "1e+25"
func cleanExponentialFormat(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == 'e' || s[i] == 'E' {
			if i+1 < len(s) && (s[i+1] == '+' || s[i+1] == '-') {
				sign := s[i+1]
				j := i + 2
				for j < len(s) && s[j] == '0' {
					j++
				}
				if j >= len(s) {
					return s[:i+2] + "0"
				}
				return s[:i+1] + string(sign) + s[j:]
			}
			break
		}
	}
	return s
}

// jsString is an immutable, refcounted string cell. Strings hold no
// references so they are never scanned by the cycle collector.
type jsString struct {
	gcHeader
	s string
}

// jsSymbol is a unique symbol. Its atom is the property key used when the
// symbol indexes an object.
type jsSymbol struct {
	gcHeader
	atom Atom
	desc string
}

func newStringValue(s string) Value {
	p := &jsString{s: s}
	p.refCount = 1
	p.kind = gcKindString
	return Value{tag: TagString, ptr: unsafe.Pointer(p)}
}
