package vm

// stackFrame is the activation record of one bytecode call. args, vars and
// stack share one buffer that is never reallocated, so open VarRefs can
// point into it. A frame owns a reference to every value it holds.
type stackFrame struct {
	prev      *stackFrame
	ctx       *Context
	fn        Value
	b         *FunctionBytecode
	this      Value
	newTarget Value
	args      []Value // at least b.ArgCount entries
	argc      int     // arguments actually passed
	vars      []Value
	stack     []Value
	sp        int
	pc        int
	curPC     int // start of the instruction being executed
	varRefs   []*VarRef
}

// newFrame prepares a call of the closure fn. this, newTarget and args are
// borrowed. The depth limit is checked before anything is allocated.
func (ctx *Context) newFrame(fn Value, this, newTarget Value, args []Value) (*stackFrame, error) {
	if ctx.rt.stackDepth >= ctx.rt.maxStackDepth {
		return nil, ctx.ThrowRangeError("Maximum call stack size exceeded")
	}
	c := fn.object().fn
	b := c.b
	ctx = c.realm
	sf := &stackFrame{ctx: ctx, b: b, fn: dupValue(fn), newTarget: dupValue(newTarget)}
	if err := ctx.initFrameThis(sf, this); err != nil {
		ctx.rt.freeValue(sf.fn)
		ctx.rt.freeValue(sf.newTarget)
		return nil, err
	}
	ctx.initFrameSlots(sf, args)
	return sf, nil
}

// initFrameThis applies the sloppy-mode this binding.
func (ctx *Context) initFrameThis(sf *stackFrame, this Value) error {
	b := sf.b
	if b.Strict || b.Arrow {
		sf.this = dupValue(this)
		return nil
	}
	switch this.tag {
	case TagUndefined, TagNull:
		sf.this = ctx.globalObj.Value()
	case TagObject:
		sf.this = dupValue(this)
	default:
		v, err := ctx.ToObject(this)
		if err != nil {
			return err
		}
		sf.this = v
	}
	return nil
}

func (ctx *Context) initFrameSlots(sf *stackFrame, args []Value) {
	b := sf.b
	nargs := len(args)
	if nargs < b.ArgCount {
		nargs = b.ArgCount
	}
	buf := make([]Value, nargs+b.VarCount+b.StackSize)
	sf.args = buf[:nargs:nargs]
	sf.vars = buf[nargs : nargs+b.VarCount : nargs+b.VarCount]
	sf.stack = buf[nargs+b.VarCount:]
	sf.argc = len(args)
	for i, a := range args {
		sf.args[i] = dupValue(a)
	}
	for i := len(args); i < nargs; i++ {
		sf.args[i] = Undefined
	}
	for i := range sf.vars {
		sf.vars[i] = Undefined
	}
	for i := range sf.stack {
		sf.stack[i] = Undefined
	}
	sf.sp = 0
	sf.pc = 0
}

// releaseFrameValues drops everything a frame holds except the frame
// struct itself.
func (rt *Runtime) releaseFrameValues(sf *stackFrame) {
	rt.closeVarRefs(sf)
	for i := 0; i < sf.sp; i++ {
		v := sf.stack[i]
		sf.stack[i] = Undefined
		rt.freeValue(v)
	}
	sf.sp = 0
	for i, v := range sf.vars {
		sf.vars[i] = Undefined
		rt.freeValue(v)
	}
	for i, v := range sf.args {
		sf.args[i] = Undefined
		rt.freeValue(v)
	}
	rt.freeValue(sf.this)
	rt.freeValue(sf.newTarget)
	sf.this, sf.newTarget = Undefined, Undefined
}

func (rt *Runtime) freeFrame(sf *stackFrame) {
	rt.releaseFrameValues(sf)
	fn := sf.fn
	sf.fn = Undefined
	rt.freeValue(fn)
}

// callInternal dispatches through the callee's class call hook. args and
// this are borrowed; the result is a new reference.
func (ctx *Context) callInternal(fn, this, newTarget Value, args []Value, flags CallFlags) (Value, error) {
	rt := ctx.rt
	if fn.tag != TagObject {
		return Undefined, ctx.ThrowTypeError("%s is not a function", describeValue(fn))
	}
	p := fn.object()
	cls := rt.classes[p.classID]
	if cls == nil || cls.call == nil || (!cls.host && !p.isFunction()) {
		return Undefined, ctx.ThrowTypeError("not a function")
	}
	return cls.call(ctx, fn, this, newTarget, args, flags)
}

func (ctx *Context) isConstructor(v Value) bool {
	p := v.AsObject()
	if p == nil {
		return false
	}
	if p.classID == ClassProxy {
		return ctx.isConstructor(objValue(proxyTarget(p)))
	}
	return p.isConstructor
}

// callConstructorInternal implements new fn(...args) with newTarget.
func (ctx *Context) callConstructorInternal(fn, newTarget Value, args []Value) (Value, error) {
	if !ctx.isConstructor(fn) {
		return Undefined, ctx.ThrowTypeError("not a constructor")
	}
	return ctx.callInternal(fn, Undefined, newTarget, args, CallConstructor)
}

// prototypeFromNewTarget returns newTarget.prototype when it is an object,
// def otherwise. The result is a new reference.
func (ctx *Context) prototypeFromNewTarget(newTarget Value, def *Object) (*Object, error) {
	if newTarget.tag == TagObject {
		v, err := ctx.GetProperty(newTarget, AtomPrototype)
		if err != nil {
			return nil, err
		}
		if p := v.AsObject(); p != nil {
			return p, nil
		}
		ctx.rt.freeValue(v)
	}
	if def == nil {
		return nil, nil
	}
	return def.dup(), nil
}

// runFrame executes a fresh frame to completion and releases it.
func (ctx *Context) runFrame(sf *stackFrame) (Value, error) {
	ret, _, err := sf.ctx.execute(sf, nil)
	ctx.rt.freeFrame(sf)
	return ret, err
}

func callBytecodeFunction(ctx *Context, fn, this, newTarget Value, args []Value, flags CallFlags) (Value, error) {
	rt := ctx.rt
	c := fn.object().fn
	ctx = c.realm
	if flags&CallConstructor == 0 {
		sf, err := ctx.newFrame(fn, this, Undefined, args)
		if err != nil {
			return Undefined, err
		}
		return ctx.runFrame(sf)
	}
	proto, err := ctx.prototypeFromNewTarget(newTarget, ctx.objectProto)
	if err != nil {
		return Undefined, err
	}
	obj := ctx.newObjectProtoClass(proto, ClassObject)
	rt.freeObjectRef(proto)
	thisVal := objValue(obj)
	sf, err := ctx.newFrame(fn, thisVal, newTarget, args)
	if err != nil {
		rt.freeValue(thisVal)
		return Undefined, err
	}
	ret, err := ctx.runFrame(sf)
	if err != nil {
		rt.freeValue(thisVal)
		return Undefined, err
	}
	if ret.tag == TagObject {
		rt.freeValue(thisVal)
		return ret, nil
	}
	rt.freeValue(ret)
	return thisVal, nil
}
