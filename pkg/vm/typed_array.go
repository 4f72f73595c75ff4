package vm

import (
	"encoding/binary"
	"math"
)

type arrayBuffer struct {
	data []byte
}

// typedArray is a view over an ArrayBuffer. The view keeps its buffer
// alive through a counted reference.
type typedArray struct {
	buffer *Object
	offset int
	length int // elements
}

func typedArrayElemSize(id ClassID) int {
	switch id {
	case ClassUint8Array:
		return 1
	case ClassInt32Array:
		return 4
	case ClassFloat64Array:
		return 8
	}
	return 0
}

func typedArrayFinalizer(rt *Runtime, p *Object) {
	if ta, ok := p.payload.(*typedArray); ok {
		rt.freeObjectRef(ta.buffer)
		ta.buffer = nil
	}
}

func typedArrayMark(rt *Runtime, p *Object, mf markFunc) {
	if ta, ok := p.payload.(*typedArray); ok {
		rt.markObject(ta.buffer, mf)
	}
}

func typedArrayLength(p *Object) int {
	if ta, ok := p.payload.(*typedArray); ok {
		return ta.length
	}
	return 0
}

func (ta *typedArray) bytes() []byte {
	return ta.buffer.payload.(*arrayBuffer).data
}

// typedArrayGet reads element idx; out-of-range reads yield undefined.
func typedArrayGet(p *Object, idx int) (Value, bool) {
	ta, ok := p.payload.(*typedArray)
	if !ok || idx < 0 || idx >= ta.length {
		return Undefined, false
	}
	data := ta.bytes()
	switch p.classID {
	case ClassUint8Array:
		return NewInt32(int32(data[ta.offset+idx])), true
	case ClassInt32Array:
		off := ta.offset + idx*4
		return NewInt32(int32(binary.LittleEndian.Uint32(data[off:]))), true
	case ClassFloat64Array:
		off := ta.offset + idx*8
		return NewFloat64(math.Float64frombits(binary.LittleEndian.Uint64(data[off:]))), true
	}
	return Undefined, false
}

// typedArraySet converts and stores val (consumed). Out-of-range writes are
// ignored.
func (ctx *Context) typedArraySet(p *Object, idx int, val Value) (bool, error) {
	f, err := ctx.toNumberFree(val)
	if err != nil {
		return false, err
	}
	ta, ok := p.payload.(*typedArray)
	if !ok || idx < 0 || idx >= ta.length {
		return true, nil
	}
	data := ta.bytes()
	switch p.classID {
	case ClassUint8Array:
		data[ta.offset+idx] = byte(toInt32Float(f))
	case ClassInt32Array:
		binary.LittleEndian.PutUint32(data[ta.offset+idx*4:], uint32(toInt32Float(f)))
	case ClassFloat64Array:
		binary.LittleEndian.PutUint64(data[ta.offset+idx*8:], math.Float64bits(f))
	}
	return true, nil
}

// NewArrayBuffer wraps data in an ArrayBuffer. The buffer aliases data.
func (ctx *Context) NewArrayBuffer(data []byte) Value {
	p := ctx.newObjectClass(ClassArrayBuffer)
	p.payload = &arrayBuffer{data: data}
	return objValue(p)
}

// ArrayBufferBytes returns the backing bytes of an ArrayBuffer or typed
// array view.
func (ctx *Context) ArrayBufferBytes(v Value) ([]byte, bool) {
	p := v.AsObject()
	if p == nil {
		return nil, false
	}
	switch b := p.payload.(type) {
	case *arrayBuffer:
		return b.data, true
	case *typedArray:
		size := typedArrayElemSize(p.classID)
		return b.bytes()[b.offset : b.offset+b.length*size], true
	}
	return nil, false
}

func (ctx *Context) newTypedArray(classID ClassID, proto *Object, buffer *Object, offset, length int) *Object {
	p := ctx.newObjectProtoClass(proto, classID)
	p.payload = &typedArray{buffer: buffer.dup(), offset: offset, length: length}
	return p
}

func arrayBufferConstructor(ctx *Context, newTarget Value, args []Value) (Value, error) {
	n, err := ctx.ToIndex(args[0])
	if err != nil {
		return Undefined, err
	}
	proto, err := ctx.prototypeFromNewTarget(newTarget, ctx.classProto[ClassArrayBuffer])
	if err != nil {
		return Undefined, err
	}
	p := ctx.newObjectProtoClass(proto, ClassArrayBuffer)
	ctx.rt.freeObjectRef(proto)
	p.payload = &arrayBuffer{data: make([]byte, n)}
	return objValue(p), nil
}

func arrayBufferByteLength(ctx *Context, this Value, args []Value) (Value, error) {
	p := this.AsObject()
	if p == nil || p.classID != ClassArrayBuffer {
		return Undefined, ctx.ThrowTypeError("not an ArrayBuffer")
	}
	return NewInt32(int32(len(p.payload.(*arrayBuffer).data))), nil
}

func typedArrayConstructor(classID ClassID) NativeCtor {
	return func(ctx *Context, newTarget Value, args []Value) (Value, error) {
		rt := ctx.rt
		size := typedArrayElemSize(classID)
		proto, err := ctx.prototypeFromNewTarget(newTarget, ctx.classProto[classID])
		if err != nil {
			return Undefined, err
		}
		defer rt.freeObjectRef(proto)
		arg := args[0]
		if src := arg.AsObject(); src != nil {
			if src.classID == ClassArrayBuffer {
				data := src.payload.(*arrayBuffer).data
				offset, err := ctx.ToIndex(args[1])
				if err != nil {
					return Undefined, err
				}
				if offset%size != 0 || offset > len(data) {
					return Undefined, ctx.ThrowRangeError("invalid offset")
				}
				length := (len(data) - offset) / size
				if !args[2].IsUndefined() {
					if length, err = ctx.ToIndex(args[2]); err != nil {
						return Undefined, err
					}
					if offset+length*size > len(data) {
						return Undefined, ctx.ThrowRangeError("invalid length")
					}
				}
				return objValue(ctx.newTypedArray(classID, proto, src, offset, length)), nil
			}
			// array-like source
			n, err := ctx.LengthOf(arg)
			if err != nil {
				return Undefined, err
			}
			buf := ctx.newObjectClass(ClassArrayBuffer)
			buf.payload = &arrayBuffer{data: make([]byte, int(n)*size)}
			p := ctx.newTypedArray(classID, proto, buf, 0, int(n))
			rt.freeObjectRef(buf)
			for i := 0; i < int(n); i++ {
				v, err := ctx.GetPropertyUint32(arg, uint32(i))
				if err == nil {
					_, err = ctx.typedArraySet(p, i, v)
				}
				if err != nil {
					rt.freeObjectRef(p)
					return Undefined, err
				}
			}
			return objValue(p), nil
		}
		n, err := ctx.ToIndex(arg)
		if err != nil {
			return Undefined, err
		}
		buf := ctx.newObjectClass(ClassArrayBuffer)
		buf.payload = &arrayBuffer{data: make([]byte, n*size)}
		p := ctx.newTypedArray(classID, proto, buf, 0, n)
		rt.freeObjectRef(buf)
		return objValue(p), nil
	}
}

func thisTypedArray(ctx *Context, this Value) (*Object, *typedArray, error) {
	p := this.AsObject()
	if p == nil || !p.isTypedArray() {
		return nil, nil, ctx.ThrowTypeError("not a typed array")
	}
	return p, p.payload.(*typedArray), nil
}

func typedArrayGetLength(ctx *Context, this Value, args []Value) (Value, error) {
	_, ta, err := thisTypedArray(ctx, this)
	if err != nil {
		return Undefined, err
	}
	return NewInt32(int32(ta.length)), nil
}

func typedArrayGetByteLength(ctx *Context, this Value, args []Value) (Value, error) {
	p, ta, err := thisTypedArray(ctx, this)
	if err != nil {
		return Undefined, err
	}
	return NewInt32(int32(ta.length * typedArrayElemSize(p.classID))), nil
}

func typedArrayGetByteOffset(ctx *Context, this Value, args []Value) (Value, error) {
	_, ta, err := thisTypedArray(ctx, this)
	if err != nil {
		return Undefined, err
	}
	return NewInt32(int32(ta.offset)), nil
}

func typedArrayGetBuffer(ctx *Context, this Value, args []Value) (Value, error) {
	_, ta, err := thisTypedArray(ctx, this)
	if err != nil {
		return Undefined, err
	}
	return ta.buffer.Value(), nil
}

func (ctx *Context) initTypedArrays() {
	rt := ctx.rt
	bufProto := ctx.newPlainObject()
	ctx.classProto[ClassArrayBuffer] = bufProto
	ctx.defineGetter(bufProto, AtomByteLength, arrayBufferByteLength)
	ctor := ctx.newConstructor("ArrayBuffer", 1, nil, arrayBufferConstructor)
	ctx.setConstructor(ctor, bufProto)
	ctx.defineGlobal("ArrayBuffer", objValue(ctor))

	base := ctx.newPlainObject()
	ctx.defineGetter(base, AtomLength, typedArrayGetLength)
	ctx.defineGetter(base, AtomByteLength, typedArrayGetByteLength)
	ctx.defineGetter(base, AtomByteOffset, typedArrayGetByteOffset)
	ctx.defineGetter(base, AtomBuffer, typedArrayGetBuffer)
	ctx.DefinePropertyValue(base, AtomSymbolIterator, ctx.arrayValuesFunction(), PropWritable|PropConfigurable)

	for _, id := range []ClassID{ClassUint8Array, ClassInt32Array, ClassFloat64Array} {
		proto := ctx.newObjectProtoClass(base, ClassObject)
		ctx.classProto[id] = proto
		name := rt.classes[id].name
		c := ctx.newConstructor(name, 3, nil, typedArrayConstructor(id))
		ctx.setConstructor(c, proto)
		ctx.DefinePropertyValue(c, rt.NewAtom("BYTES_PER_ELEMENT"), NewInt32(int32(typedArrayElemSize(id))), 0)
		ctx.defineGlobal(name, objValue(c))
	}
	rt.freeObjectRef(base)
}
