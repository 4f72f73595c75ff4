package vm

import "fmt"

// NewString returns a string value with one reference.
func NewString(s string) Value { return newStringValue(s) }

// NewObject returns an empty plain object.
func (ctx *Context) NewObject() Value { return objValue(ctx.newPlainObject()) }

// NewObjectClass creates an instance of a host class using the prototype
// registered with SetClassProto. opaque becomes its payload.
func (ctx *Context) NewObjectClass(id ClassID, opaque any) (Value, error) {
	if !ctx.rt.IsRegisteredClass(id) {
		return Undefined, fmt.Errorf("new object: class %d is not registered", id)
	}
	proto := ctx.GetClassProto(id)
	p := ctx.newObjectProtoClass(proto, id)
	ctx.rt.freeObjectRef(proto)
	p.payload = opaque
	return objValue(p), nil
}

// SetClassProto sets the prototype for new instances of id, taking
// ownership of proto. Non-object values clear it.
func (ctx *Context) SetClassProto(id ClassID, proto Value) {
	ctx.growClassProto()
	if int(id) >= len(ctx.classProto) {
		ctx.rt.freeValue(proto)
		return
	}
	old := ctx.classProto[id]
	ctx.classProto[id] = proto.AsObject()
	if ctx.classProto[id] == nil {
		ctx.rt.freeValue(proto)
	}
	ctx.rt.freeObjectRef(old)
}

// GetClassProto returns a new reference to the prototype of id, defaulting
// to Object.prototype.
func (ctx *Context) GetClassProto(id ClassID) *Object {
	ctx.growClassProto()
	if int(id) < len(ctx.classProto) && ctx.classProto[id] != nil {
		return ctx.classProto[id].dup()
	}
	return ctx.objectProto.dup()
}

// growClassProto catches up with classes registered after the context.
func (ctx *Context) growClassProto() {
	if n := len(ctx.rt.classes); n > len(ctx.classProto) {
		ctx.classProto = append(ctx.classProto, make([]*Object, n-len(ctx.classProto))...)
	}
}

// RegisterNativeFunction binds a host function as a global.
func (ctx *Context) RegisterNativeFunction(name string, arity int, fn NativeFunc) {
	ctx.defineGlobal(name, ctx.NewFunction(fn, name, arity))
}

// EvalFunction instantiates the top-level bytecode b and runs it with the
// global object as this. b must not capture outer variables.
func (ctx *Context) EvalFunction(b *FunctionBytecode) (Value, error) {
	fn, err := ctx.newClosure(b, nil)
	if err != nil {
		return Undefined, err
	}
	fv := objValue(fn)
	defer ctx.rt.freeValue(fv)
	return ctx.callInternal(fv, objValue(ctx.globalObj), Undefined, nil, 0)
}

// Call invokes fn with this and args, all borrowed.
func (ctx *Context) Call(fn, this Value, args ...Value) (Value, error) {
	ret, err := ctx.callInternal(fn, this, Undefined, args, 0)
	return ret, ctx.hostError(err)
}

// CallConstructor evaluates new fn(...args).
func (ctx *Context) CallConstructor(fn Value, args ...Value) (Value, error) {
	ret, err := ctx.callConstructorInternal(fn, fn, args)
	return ret, ctx.hostError(err)
}

// hostError decorates a script exception crossing back into Go with the
// frames still active on the host side.
func (ctx *Context) hostError(err error) error {
	if ex, ok := err.(*Exception); ok && ctx.rt.currentFrame != nil {
		ctx.attachBacktrace(ex.value, ctx.rt.currentFrame)
	}
	return err
}

// GetGlobal reads a global binding, Undefined when absent.
func (ctx *Context) GetGlobal(name string) (Value, error) {
	return ctx.getGlobalVar(ctx.rt.NewAtom(name), false)
}

// SetGlobal assigns a global binding, consuming v.
func (ctx *Context) SetGlobal(name string, v Value) error {
	return ctx.putGlobalVar(ctx.rt.NewAtom(name), v, false)
}

// ReleaseBytecode drops the reference returned by FunctionBuilder.Build.
// Closures created from b keep it alive.
func (rt *Runtime) ReleaseBytecode(b *FunctionBytecode) {
	rt.freeValue(bytecodeValue(b))
}

// NewInt32 returns an integer value.
func (ctx *Context) NewInt32(i int32) Value { return NewInt32(i) }

// NewFloat64 returns a number value.
func (ctx *Context) NewFloat64(f float64) Value { return NewFloat64(f) }

// NewString returns a string value.
func (ctx *Context) NewString(s string) Value { return newStringValue(s) }

// NewObjectProto returns a plain object whose prototype is proto, or null
// when proto is not an object.
func (ctx *Context) NewObjectProto(proto Value) Value {
	return objValue(ctx.newObjectProtoClass(proto.AsObject(), ClassObject))
}

// NewConstructor wraps a native constructor. ctor runs for new; fn runs for
// plain calls, and a nil fn makes plain calls throw.
func (ctx *Context) NewConstructor(name string, length int, fn NativeFunc, ctor NativeCtor) Value {
	return objValue(ctx.newConstructor(name, length, fn, ctor))
}

// LinkConstructor sets ctor.prototype and proto.constructor. Both are
// borrowed.
func (ctx *Context) LinkConstructor(ctor, proto Value) {
	c, p := ctor.AsObject(), proto.AsObject()
	if c == nil || p == nil {
		return
	}
	ctx.setConstructor(c, p)
}

// DefineFunction installs a native method on obj.
func (ctx *Context) DefineFunction(obj *Object, name string, fn NativeFunc, length int) {
	ctx.defineFunc(obj, name, fn, length)
}

// DefineGetter installs a native accessor with no setter on obj.
func (ctx *Context) DefineGetter(obj *Object, name string, fn NativeFunc) {
	ctx.defineGetter(obj, ctx.rt.NewAtom(name), fn)
}

// ToPropertyKey converts v to an atom the way a computed member access does.
func (ctx *Context) ToPropertyKey(v Value) (Atom, error) { return ctx.valueToAtom(v) }

// ToInteger converts v to an integral number, keeping infinities.
func (ctx *Context) ToInteger(v Value) (float64, error) { return ctx.toIntegerOrInfinity(v) }

// SameValueZero compares a and b the way Map keys and includes do.
func SameValueZero(a, b Value) bool { return sameValueZero(a, b) }

// StrictEquals implements ===.
func StrictEquals(a, b Value) bool { return strictEquals(a, b) }
