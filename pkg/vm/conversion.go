package vm

import (
	"math"
	"strconv"
	"strings"
)

type primitiveHint uint8

const (
	hintDefault primitiveHint = iota
	hintNumber
	hintString
)

var hintNames = [...]string{"default", "number", "string"}

// ToBool implements ToBoolean.
func (ctx *Context) ToBool(v Value) bool {
	switch v.tag {
	case TagUndefined, TagNull, TagUninitialized:
		return false
	case TagBool:
		return v.Bool()
	case TagInt:
		return v.Int32() != 0
	case TagFloat64:
		f := v.Float64()
		return f != 0 && !math.IsNaN(f)
	case TagString:
		return v.str().s != ""
	}
	return true
}

// ToPrimitive converts v to a primitive. The result is a new reference.
func (ctx *Context) ToPrimitive(v Value, hint primitiveHint) (Value, error) {
	if v.tag != TagObject {
		return dupValue(v), nil
	}
	rt := ctx.rt
	exotic, err := ctx.GetProperty(v, AtomSymbolToPrimitive)
	if err != nil {
		return Undefined, err
	}
	if !exotic.IsUndefinedOrNull() {
		h := newStringValue(hintNames[hint])
		ret, err := ctx.callInternal(exotic, v, Undefined, []Value{h}, 0)
		rt.freeValue(h)
		rt.freeValue(exotic)
		if err != nil {
			return Undefined, err
		}
		if ret.tag == TagObject {
			rt.freeValue(ret)
			return Undefined, ctx.ThrowTypeError("cannot convert object to primitive value")
		}
		return ret, nil
	}
	methods := [2]Atom{AtomValueOf, AtomToString}
	if hint == hintString {
		methods = [2]Atom{AtomToString, AtomValueOf}
	}
	for _, m := range methods {
		fn, err := ctx.GetProperty(v, m)
		if err != nil {
			return Undefined, err
		}
		if rt.isCallable(fn) {
			ret, err := ctx.callInternal(fn, v, Undefined, nil, 0)
			rt.freeValue(fn)
			if err != nil {
				return Undefined, err
			}
			if ret.tag != TagObject {
				return ret, nil
			}
			rt.freeValue(ret)
			continue
		}
		rt.freeValue(fn)
	}
	return Undefined, ctx.ThrowTypeError("cannot convert object to primitive value")
}

// ToNumber implements ToNumber for a borrowed value.
func (ctx *Context) ToNumber(v Value) (float64, error) {
	switch v.tag {
	case TagInt:
		return float64(v.Int32()), nil
	case TagFloat64:
		return v.Float64(), nil
	case TagUndefined:
		return math.NaN(), nil
	case TagNull:
		return 0, nil
	case TagBool:
		if v.Bool() {
			return 1, nil
		}
		return 0, nil
	case TagString:
		return stringToNumber(v.str().s), nil
	case TagSymbol:
		return 0, ctx.ThrowTypeError("cannot convert symbol to number")
	case TagObject:
		prim, err := ctx.ToPrimitive(v, hintNumber)
		if err != nil {
			return 0, err
		}
		return ctx.toNumberFree(prim)
	}
	return 0, ctx.ThrowTypeError("cannot convert %s to number", v.tag)
}

// toNumberFree converts and releases v.
func (ctx *Context) toNumberFree(v Value) (float64, error) {
	f, err := ctx.ToNumber(v)
	ctx.rt.freeValue(v)
	return f, err
}

// toNumberValue returns v converted to a Number value.
func (ctx *Context) toNumberValue(v Value) (Value, error) {
	if v.IsNumber() {
		return v, nil
	}
	f, err := ctx.ToNumber(v)
	if err != nil {
		return Undefined, err
	}
	return NewNumber(f), nil
}

func isJSSpace(r rune) bool {
	switch r {
	case '\t', '\n', '\v', '\f', '\r', ' ', 0xa0, 0x1680, 0x2028, 0x2029, 0x202f, 0x205f, 0x3000, 0xfeff:
		return true
	}
	return r >= 0x2000 && r <= 0x200a
}

// stringToNumber implements StringToNumber: decimal literals, Infinity and
// the 0x, 0o and 0b prefixes, surrounded by optional white space.
func stringToNumber(s string) float64 {
	s = strings.TrimFunc(s, isJSSpace)
	if s == "" {
		return 0
	}
	if len(s) > 2 && s[0] == '0' {
		base := 0
		switch s[1] {
		case 'x', 'X':
			base = 16
		case 'o', 'O':
			base = 8
		case 'b', 'B':
			base = 2
		}
		if base != 0 {
			var f float64
			for _, c := range s[2:] {
				d := digitValue(c)
				if d < 0 || d >= base {
					return math.NaN()
				}
				f = f*float64(base) + float64(d)
			}
			return f
		}
	}
	body := s
	if body[0] == '+' || body[0] == '-' {
		body = body[1:]
	}
	if body == "Infinity" {
		if s[0] == '-' {
			return math.Inf(-1)
		}
		return math.Inf(1)
	}
	// reject forms strconv accepts but script syntax does not
	for i := 0; i < len(body); i++ {
		c := body[i]
		if !(c >= '0' && c <= '9') && c != '.' && c != 'e' && c != 'E' && c != '+' && c != '-' {
			return math.NaN()
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		if ne, ok := err.(*strconv.NumError); ok && ne.Err == strconv.ErrRange {
			return f
		}
		return math.NaN()
	}
	return f
}

func digitValue(c rune) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'a' && c <= 'z':
		return int(c-'a') + 10
	case c >= 'A' && c <= 'Z':
		return int(c-'A') + 10
	}
	return -1
}

// toInt32Float implements the modular ToInt32 mapping.
func toInt32Float(f float64) int32 {
	if f >= math.MinInt32 && f <= math.MaxInt32 {
		return int32(f)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	f = math.Trunc(f)
	f = math.Mod(f, 4294967296)
	if f < 0 {
		f += 4294967296
	}
	return int32(uint32(f))
}

func toUint32Float(f float64) uint32 {
	return uint32(toInt32Float(f))
}

// ToInt32 converts a borrowed value with ToInt32.
func (ctx *Context) ToInt32(v Value) (int32, error) {
	if v.tag == TagInt {
		return v.Int32(), nil
	}
	f, err := ctx.ToNumber(v)
	if err != nil {
		return 0, err
	}
	return toInt32Float(f), nil
}

// ToUint32 converts a borrowed value with ToUint32.
func (ctx *Context) ToUint32(v Value) (uint32, error) {
	n, err := ctx.ToInt32(v)
	return uint32(n), err
}

// toIntegerOrInfinity truncates toward zero; NaN becomes 0.
func (ctx *Context) toIntegerOrInfinity(v Value) (float64, error) {
	if v.tag == TagInt {
		return float64(v.Int32()), nil
	}
	f, err := ctx.ToNumber(v)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) {
		return 0, nil
	}
	return math.Trunc(f) + 0, nil
}

// ToIndex implements ToIndex for buffer sizes and offsets.
func (ctx *Context) ToIndex(v Value) (int, error) {
	if v.IsUndefined() {
		return 0, nil
	}
	f, err := ctx.toIntegerOrInfinity(v)
	if err != nil {
		return 0, err
	}
	if f < 0 || f > math.MaxInt32 {
		return 0, ctx.ThrowRangeError("invalid array index")
	}
	return int(f), nil
}

// ToString converts a borrowed value to a Go string.
func (ctx *Context) ToString(v Value) (string, error) {
	switch v.tag {
	case TagString:
		return v.str().s, nil
	case TagInt:
		return strconv.FormatInt(int64(v.Int32()), 10), nil
	case TagFloat64:
		return numberToString(v.Float64()), nil
	case TagUndefined, TagNull, TagBool:
		return v.String(), nil
	case TagSymbol:
		return "", ctx.ThrowTypeError("cannot convert symbol to string")
	case TagObject:
		prim, err := ctx.ToPrimitive(v, hintString)
		if err != nil {
			return "", err
		}
		s, err := ctx.ToString(prim)
		ctx.rt.freeValue(prim)
		return s, err
	}
	return "", ctx.ThrowTypeError("cannot convert %s to string", v.tag)
}

// ToStringValue converts a borrowed value to a string value.
func (ctx *Context) ToStringValue(v Value) (Value, error) {
	if v.tag == TagString {
		return dupValue(v), nil
	}
	s, err := ctx.ToString(v)
	if err != nil {
		return Undefined, err
	}
	return newStringValue(s), nil
}

// ToObject wraps primitives; objects are returned with a new reference.
func (ctx *Context) ToObject(v Value) (Value, error) {
	var classID ClassID
	switch v.tag {
	case TagObject:
		return dupValue(v), nil
	case TagUndefined, TagNull:
		return Undefined, ctx.ThrowTypeError("cannot convert %s to object", v.String())
	case TagInt, TagFloat64:
		classID = ClassNumber
	case TagBool:
		classID = ClassBoolean
	case TagString:
		classID = ClassString
	case TagSymbol:
		classID = ClassSymbol
	default:
		return Undefined, ctx.ThrowTypeError("cannot convert %s to object", v.tag)
	}
	p := ctx.newObjectProtoClass(ctx.protoForPrimitive(v), classID)
	p.objectData = dupValue(v)
	if classID == ClassString {
		ctx.DefinePropertyValue(p, AtomLength, NewInt32(int32(strLength(v.str().s))), 0)
	}
	return objValue(p), nil
}

// valueToAtom implements ToPropertyKey for a borrowed key.
func (ctx *Context) valueToAtom(key Value) (Atom, error) {
	switch key.tag {
	case TagInt:
		if n := key.Int32(); n >= 0 {
			return atomFromUint32(uint32(n)), nil
		}
	case TagFloat64:
		f := key.Float64()
		if f >= 0 && f <= maxAtomIndex && f == math.Trunc(f) && !math.Signbit(f) {
			return atomFromUint32(uint32(f)), nil
		}
	case TagString:
		return ctx.rt.NewAtom(key.str().s), nil
	case TagSymbol:
		return key.sym().atom, nil
	case TagObject:
		prim, err := ctx.ToPrimitive(key, hintString)
		if err != nil {
			return AtomNull, err
		}
		a, err := ctx.valueToAtom(prim)
		ctx.rt.freeValue(prim)
		return a, err
	}
	s, err := ctx.ToString(key)
	if err != nil {
		return AtomNull, err
	}
	return ctx.rt.NewAtom(s), nil
}

// sameValue implements SameValue.
func sameValue(a, b Value) bool {
	if a.IsNumber() && b.IsNumber() {
		x, y := a.Number(), b.Number()
		if math.IsNaN(x) && math.IsNaN(y) {
			return true
		}
		return x == y && math.Signbit(x) == math.Signbit(y)
	}
	return strictEquals(a, b)
}

// sameValueZero is SameValue with +0 equal to -0.
func sameValueZero(a, b Value) bool {
	if a.IsNumber() && b.IsNumber() {
		x, y := a.Number(), b.Number()
		return x == y || (math.IsNaN(x) && math.IsNaN(y))
	}
	return strictEquals(a, b)
}

// strictEquals implements ===.
func strictEquals(a, b Value) bool {
	if a.IsNumber() && b.IsNumber() {
		if a.tag == TagInt && b.tag == TagInt {
			return a.Int32() == b.Int32()
		}
		return a.Number() == b.Number()
	}
	if a.tag != b.tag {
		return false
	}
	switch a.tag {
	case TagUndefined, TagNull:
		return true
	case TagBool:
		return a.Bool() == b.Bool()
	case TagString:
		return a.str().s == b.str().s
	}
	return a.ptr == b.ptr
}

// looseEquals implements ==.
func (ctx *Context) looseEquals(a, b Value) (bool, error) {
	if a.tag == b.tag || (a.IsNumber() && b.IsNumber()) {
		return strictEquals(a, b), nil
	}
	switch {
	case a.IsUndefinedOrNull() && b.IsUndefinedOrNull():
		return true, nil
	case a.IsUndefinedOrNull() || b.IsUndefinedOrNull():
		return false, nil
	case a.IsNumber() && b.IsString():
		return a.Number() == stringToNumber(b.str().s), nil
	case a.IsString() && b.IsNumber():
		return stringToNumber(a.str().s) == b.Number(), nil
	case a.IsBool():
		return ctx.looseEquals(NewInt32(int32(a.u)), b)
	case b.IsBool():
		return ctx.looseEquals(a, NewInt32(int32(b.u)))
	case a.IsObject() && !b.IsObject():
		prim, err := ctx.ToPrimitive(a, hintDefault)
		if err != nil {
			return false, err
		}
		eq, err := ctx.looseEquals(prim, b)
		ctx.rt.freeValue(prim)
		return eq, err
	case b.IsObject() && !a.IsObject():
		prim, err := ctx.ToPrimitive(b, hintDefault)
		if err != nil {
			return false, err
		}
		eq, err := ctx.looseEquals(a, prim)
		ctx.rt.freeValue(prim)
		return eq, err
	}
	return false, nil
}

// typeOf returns the typeof atom for v.
func (ctx *Context) typeOf(v Value) Atom {
	switch v.tag {
	case TagUndefined, TagUninitialized:
		return AtomUndefined
	case TagNull:
		return AtomObject
	case TagBool:
		return AtomBoolean
	case TagInt, TagFloat64:
		return AtomNumber
	case TagString:
		return AtomString
	case TagSymbol:
		return AtomSymbol
	case TagObject:
		if ctx.rt.isCallable(v) {
			return AtomFunction
		}
	}
	return AtomObject
}

// TypeOf returns the typeof string of v.
func (ctx *Context) TypeOf(v Value) string {
	return ctx.rt.AtomString(ctx.typeOf(v))
}
