package vm

import "math"

// arithInt is the integer fast path of the binary operators. ok is false
// when the operator has no integer shortcut; the result always matches
// arithFloat on the same operands.
func arithInt(op OpCode, x, y int32) (v Value, ok bool) {
	switch op {
	case OpAdd:
		return newInt64(int64(x) + int64(y)), true
	case OpSub:
		return newInt64(int64(x) - int64(y)), true
	case OpMul:
		r := int64(x) * int64(y)
		if r == 0 && (x < 0 || y < 0) {
			return NewFloat64(math.Copysign(0, -1)), true
		}
		return newInt64(r), true
	case OpDiv:
		return NewNumber(float64(x) / float64(y)), true
	case OpMod:
		if y == 0 {
			return NewFloat64(math.NaN()), true
		}
		if y == -1 {
			// avoids the MinInt32 % -1 corner
			y = 1
		}
		r := x % y
		if r == 0 && x < 0 {
			return NewFloat64(math.Copysign(0, -1)), true
		}
		return NewInt32(r), true
	case OpShl:
		return NewInt32(x << (uint32(y) & 31)), true
	case OpSar:
		return NewInt32(x >> (uint32(y) & 31)), true
	case OpShr:
		return newUint32(uint32(x) >> (uint32(y) & 31)), true
	case OpAnd:
		return NewInt32(x & y), true
	case OpOr:
		return NewInt32(x | y), true
	case OpXor:
		return NewInt32(x ^ y), true
	}
	return Undefined, false
}

// arithFloat evaluates a numeric binary operator on doubles.
func arithFloat(op OpCode, x, y float64) Value {
	switch op {
	case OpAdd:
		return NewNumber(x + y)
	case OpSub:
		return NewNumber(x - y)
	case OpMul:
		return NewNumber(x * y)
	case OpDiv:
		return NewNumber(x / y)
	case OpMod:
		return NewNumber(math.Mod(x, y))
	case OpPow:
		return NewNumber(jsPow(x, y))
	case OpShl, OpSar, OpShr, OpAnd, OpOr, OpXor:
		v, _ := arithInt(op, toInt32Float(x), toInt32Float(y))
		return v
	}
	panic(invariantf("arithFloat: %s is not an arithmetic operator", op))
}

// jsPow differs from math.Pow where ±1 meets an infinite or NaN exponent.
func jsPow(x, y float64) float64 {
	switch {
	case math.IsNaN(y):
		return math.NaN()
	case y == 0:
		return 1
	case (x == 1 || x == -1) && math.IsInf(y, 0):
		return math.NaN()
	}
	return math.Pow(x, y)
}

// binaryArith applies op to borrowed operands and returns a new value.
func (ctx *Context) binaryArith(op OpCode, a, b Value) (Value, error) {
	if a.tag == TagInt && b.tag == TagInt {
		if v, ok := arithInt(op, a.Int32(), b.Int32()); ok {
			return v, nil
		}
	}
	if op == OpAdd {
		return ctx.addValues(a, b)
	}
	if a.IsNumber() && b.IsNumber() {
		return arithFloat(op, a.Number(), b.Number()), nil
	}
	x, err := ctx.ToNumber(a)
	if err != nil {
		return Undefined, err
	}
	y, err := ctx.ToNumber(b)
	if err != nil {
		return Undefined, err
	}
	return arithFloat(op, x, y), nil
}

// addValues implements + with string concatenation.
func (ctx *Context) addValues(a, b Value) (Value, error) {
	rt := ctx.rt
	if a.tag == TagString && b.tag == TagString {
		return newStringValue(a.str().s + b.str().s), nil
	}
	if a.IsNumber() && b.IsNumber() {
		return arithFloat(OpAdd, a.Number(), b.Number()), nil
	}
	pa, err := ctx.ToPrimitive(a, hintDefault)
	if err != nil {
		return Undefined, err
	}
	defer rt.freeValue(pa)
	pb, err := ctx.ToPrimitive(b, hintDefault)
	if err != nil {
		return Undefined, err
	}
	defer rt.freeValue(pb)
	if pa.tag == TagString || pb.tag == TagString {
		sa, err := ctx.ToString(pa)
		if err != nil {
			return Undefined, err
		}
		sb, err := ctx.ToString(pb)
		if err != nil {
			return Undefined, err
		}
		return newStringValue(sa + sb), nil
	}
	x, err := ctx.ToNumber(pa)
	if err != nil {
		return Undefined, err
	}
	y, err := ctx.ToNumber(pb)
	if err != nil {
		return Undefined, err
	}
	return arithFloat(OpAdd, x, y), nil
}

// compareValues implements the relational operators on borrowed operands.
func (ctx *Context) compareValues(op OpCode, a, b Value) (bool, error) {
	rt := ctx.rt
	if a.tag == TagInt && b.tag == TagInt {
		return compareNumbers(op, float64(a.Int32()), float64(b.Int32())), nil
	}
	pa, err := ctx.ToPrimitive(a, hintNumber)
	if err != nil {
		return false, err
	}
	defer rt.freeValue(pa)
	pb, err := ctx.ToPrimitive(b, hintNumber)
	if err != nil {
		return false, err
	}
	defer rt.freeValue(pb)
	if pa.tag == TagString && pb.tag == TagString {
		c := compareStrings(pa.str().s, pb.str().s)
		switch op {
		case OpLt:
			return c < 0, nil
		case OpLte:
			return c <= 0, nil
		case OpGt:
			return c > 0, nil
		default:
			return c >= 0, nil
		}
	}
	x, err := ctx.ToNumber(pa)
	if err != nil {
		return false, err
	}
	y, err := ctx.ToNumber(pb)
	if err != nil {
		return false, err
	}
	return compareNumbers(op, x, y), nil
}

// compareNumbers is false whenever either side is NaN.
func compareNumbers(op OpCode, x, y float64) bool {
	switch op {
	case OpLt:
		return x < y
	case OpLte:
		return x <= y
	case OpGt:
		return x > y
	case OpGte:
		return x >= y
	}
	panic(invariantf("compareNumbers: %s is not a comparison", op))
}

// unaryArith implements neg, plus, bitwise not, inc and dec.
func (ctx *Context) unaryArith(op OpCode, v Value) (Value, error) {
	if v.tag == TagInt {
		x := v.Int32()
		switch op {
		case OpNeg:
			if x == 0 {
				return NewFloat64(math.Copysign(0, -1)), nil
			}
			return newInt64(-int64(x)), nil
		case OpPlus:
			return v, nil
		case OpNot:
			return NewInt32(^x), nil
		case OpInc, OpPostInc:
			return newInt64(int64(x) + 1), nil
		case OpDec, OpPostDec:
			return newInt64(int64(x) - 1), nil
		}
	}
	f, err := ctx.ToNumber(v)
	if err != nil {
		return Undefined, err
	}
	switch op {
	case OpNeg:
		return NewNumber(-f), nil
	case OpPlus:
		return NewNumber(f), nil
	case OpNot:
		return NewInt32(^toInt32Float(f)), nil
	case OpInc, OpPostInc:
		return NewNumber(f + 1), nil
	case OpDec, OpPostDec:
		return NewNumber(f - 1), nil
	}
	panic(invariantf("unaryArith: %s is not a unary operator", op))
}

// instanceOf implements v instanceof target.
func (ctx *Context) instanceOf(v, target Value) (bool, error) {
	rt := ctx.rt
	if target.tag != TagObject {
		return false, ctx.ThrowTypeError("invalid 'instanceof' right operand")
	}
	method, err := ctx.GetProperty(target, AtomSymbolHasInstance)
	if err != nil {
		return false, err
	}
	if !method.IsUndefinedOrNull() {
		ret, err := ctx.callInternal(method, target, Undefined, []Value{v}, 0)
		rt.freeValue(method)
		if err != nil {
			return false, err
		}
		ok := ctx.ToBool(ret)
		rt.freeValue(ret)
		return ok, nil
	}
	if !rt.isCallable(target) {
		return false, ctx.ThrowTypeError("invalid 'instanceof' right operand")
	}
	return ctx.ordinaryHasInstance(target, v)
}

func (ctx *Context) ordinaryHasInstance(c, v Value) (bool, error) {
	rt := ctx.rt
	cp := c.object()
	if cp.classID == ClassBoundFunction {
		return ctx.instanceOf(v, cp.payload.(*boundFunction).target)
	}
	if v.tag != TagObject {
		return false, nil
	}
	protoVal, err := ctx.GetProperty(c, AtomPrototype)
	if err != nil {
		return false, err
	}
	defer rt.freeValue(protoVal)
	proto := protoVal.AsObject()
	if proto == nil {
		return false, ctx.ThrowTypeError("function has non-object prototype in instanceof check")
	}
	p := v.object()
	for depth := 0; ; depth++ {
		if depth > maxProtoChainDepth {
			return false, ctx.ThrowInternalError("prototype chain too deep")
		}
		if p.classID == ClassProxy {
			p = proxyTarget(p)
		}
		p = p.shape.proto
		if p == nil {
			return false, nil
		}
		if p == proto {
			return true, nil
		}
	}
}

// hasIn implements key in obj.
func (ctx *Context) hasIn(key, obj Value) (bool, error) {
	if obj.tag != TagObject {
		return false, ctx.ThrowTypeError("invalid 'in' operand")
	}
	atom, err := ctx.valueToAtom(key)
	if err != nil {
		return false, err
	}
	return ctx.HasProperty(obj.object(), atom)
}
