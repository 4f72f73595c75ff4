package vm

import (
	"math"
	"sort"
)

func arrayFinalizer(rt *Runtime, p *Object) {
	for i, v := range p.values {
		rt.freeValue(v)
		p.values[i] = Undefined
	}
	p.values = nil
}

func arrayMark(rt *Runtime, p *Object, mf markFunc) {
	for _, v := range p.values {
		rt.markValue(v, mf)
	}
}

// arrayLength reads the length slot of an Array object.
func arrayLength(p *Object) uint32 {
	v := p.prop[0].value
	if v.tag == TagInt {
		return uint32(v.Int32())
	}
	return uint32(v.Float64())
}

// newArrayObject returns an empty fast array.
func (ctx *Context) newArrayObject() *Object {
	ctx.rt.triggerGC()
	p := ctx.newObjectFromShape(dupShape(ctx.arrayShape), ClassArray)
	p.prop[0].value = NewInt32(0)
	return p
}

// newArrayFrom builds a fast array that takes ownership of values.
func (ctx *Context) newArrayFrom(values []Value) *Object {
	p := ctx.newArrayObject()
	p.values = values
	p.prop[0].value = newUint32(uint32(len(values)))
	return p
}

func (ctx *Context) addFastArrayElement(p *Object, val Value) {
	p.values = append(p.values, val)
	n := uint32(len(p.values))
	if p.classID == ClassArray && n > arrayLength(p) {
		p.prop[0].value = newUint32(n)
	}
}

// convertFastArrayToArray moves the dense elements into ordinary
// properties.
func (ctx *Context) convertFastArrayToArray(p *Object) {
	if !p.fastArray {
		return
	}
	values := p.values
	p.values = nil
	p.fastArray = false
	for i, v := range values {
		pr := ctx.addProperty(p, atomFromUint32(uint32(i)), PropCWE)
		pr.value = v
	}
}

// toArrayLength converts v (consumed) to a valid array length.
func (ctx *Context) toArrayLength(v Value) (uint32, error) {
	f, err := ctx.toNumberFree(v)
	if err != nil {
		return 0, err
	}
	n := uint32(toUint32Float(f))
	if float64(n) != f {
		return 0, ctx.ThrowRangeError("invalid array length")
	}
	return n, nil
}

// setArrayLength implements assignment to an array's length. val is consumed.
func (ctx *Context) setArrayLength(p *Object, val Value, flags PropFlags) (bool, error) {
	rt := ctx.rt
	n, err := ctx.toArrayLength(val)
	if err != nil {
		return false, err
	}
	if p.shape.props[0].flags&PropWritable == 0 {
		return ctx.throwTypeErrorOrFalse(flags, "array length is not writable")
	}
	if p.fastArray {
		if int(n) < len(p.values) {
			for i := int(n); i < len(p.values); i++ {
				rt.freeValue(p.values[i])
				p.values[i] = Undefined
			}
			p.values = p.values[:n]
		}
		p.prop[0].value = newUint32(n)
		return true, nil
	}
	cur := arrayLength(p)
	if n < cur {
		var idx []uint32
		for i := range p.shape.props {
			a := p.shape.props[i].atom
			if atomIsTaggedInt(a) && a.toUint32() >= n {
				idx = append(idx, a.toUint32())
			}
		}
		sort.Slice(idx, func(i, j int) bool { return idx[i] > idx[j] })
		for _, i := range idx {
			ok, err := ctx.deleteProperty(p, atomFromUint32(i))
			if err != nil {
				return false, err
			}
			if !ok {
				p.prop[0].value = newUint32(i + 1)
				return ctx.throwTypeErrorOrFalse(flags, "cannot shrink array past a non-configurable element")
			}
		}
	}
	p.prop[0].value = newUint32(n)
	return true, nil
}

// NewArray returns an empty array.
func (ctx *Context) NewArray() Value {
	return objValue(ctx.newArrayObject())
}

// NewArrayFrom returns an array holding values, taking ownership of them.
func (ctx *Context) NewArrayFrom(values []Value) Value {
	cp := make([]Value, len(values))
	copy(cp, values)
	return objValue(ctx.newArrayFrom(cp))
}

// IsArray reports whether v is an Array object.
func (ctx *Context) IsArray(v Value) bool {
	if v.tag != TagObject {
		return false
	}
	p := v.object()
	if p.classID == ClassProxy {
		return ctx.IsArray(objValue(proxyTarget(p)))
	}
	return p.classID == ClassArray
}

// ArrayElements returns the dense elements of a fast array without taking
// references, or nil when v is not a fast array.
func (ctx *Context) ArrayElements(v Value) []Value {
	if p := v.AsObject(); p != nil && p.fastArray {
		return p.values
	}
	return nil
}

// LengthOf returns ToLength(obj.length).
func (ctx *Context) LengthOf(obj Value) (int64, error) {
	if p := obj.AsObject(); p != nil && p.classID == ClassArray {
		return int64(arrayLength(p)), nil
	}
	v, err := ctx.GetProperty(obj, AtomLength)
	if err != nil {
		return 0, err
	}
	f, err := ctx.toNumberFree(v)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || f <= 0 {
		return 0, nil
	}
	if f > 1<<53-1 {
		return 1<<53 - 1, nil
	}
	return int64(f), nil
}

// newArgumentsObject builds an unmapped arguments object (strict code).
func (ctx *Context) newArgumentsObject(args []Value) *Object {
	p := ctx.newObjectProtoClass(ctx.objectProto, ClassArguments)
	vals := make([]Value, len(args))
	for i, a := range args {
		vals[i] = dupValue(a)
	}
	p.values = vals
	ctx.DefinePropertyValue(p, AtomLength, NewInt32(int32(len(args))), PropWritable|PropConfigurable)
	return p
}

// newMappedArgumentsObject builds a sloppy-mode arguments object whose
// indexed properties alias the frame's argument slots.
func (ctx *Context) newMappedArgumentsObject(sf *stackFrame) *Object {
	p := ctx.newObjectProtoClass(ctx.objectProto, ClassArguments)
	p.fastArray = false
	for i := 0; i < sf.argc; i++ {
		pr := ctx.addProperty(p, atomFromUint32(uint32(i)), PropCWE|PropVarRef)
		pr.varRef = ctx.rt.getVarRef(sf, i, true)
	}
	ctx.DefinePropertyValue(p, AtomLength, NewInt32(int32(sf.argc)), PropWritable|PropConfigurable)
	if sf.fn.tag == TagObject {
		ctx.DefinePropertyValue(p, AtomCallee, dupValue(sf.fn), PropWritable|PropConfigurable)
	}
	return p
}
