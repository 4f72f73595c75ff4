package vm

// NativeFunc is a Go function callable from script. this and args are
// borrowed; args holds at least the declared length, padded with
// undefined. The returned value is a new reference.
type NativeFunc func(ctx *Context, this Value, args []Value) (Value, error)

// NativeCtor handles `new` for a native constructor.
type NativeCtor func(ctx *Context, newTarget Value, args []Value) (Value, error)

// NativeFuncData is a NativeFunc that also receives the values captured
// when the function was created.
type NativeFuncData func(ctx *Context, this Value, args []Value, data []Value) (Value, error)

type nativeFunction struct {
	name   string
	length int
	fn     NativeFunc
	ctor   NativeCtor
	dataFn NativeFuncData
	data   []Value
	realm  *Context
}

// closureData is the payload of bytecode function objects.
type closureData struct {
	b          *FunctionBytecode
	varRefs    []*VarRef
	homeObject *Object
	realm      *Context
}

type boundFunction struct {
	target Value
	this   Value
	args   []Value
}

// VarRef is a captured variable. While open it aliases a slot of a live
// frame; closing copies the value into the VarRef itself, which from then
// on is a tracked heap cell.
type VarRef struct {
	gcHeader
	pvalue     *Value
	value      Value
	isDetached bool
	isArg      bool
	varIdx     int
	frame      *stackFrame
}

// Get returns the current value of the binding without taking a reference.
func (vr *VarRef) Get() Value { return *vr.pvalue }

// IsDetached reports whether the binding outlived its frame.
func (vr *VarRef) IsDetached() bool { return vr.isDetached }

// getVarRef returns a reference to slot idx of sf, sharing an existing
// open VarRef for the same slot.
func (rt *Runtime) getVarRef(sf *stackFrame, idx int, isArg bool) *VarRef {
	for _, vr := range sf.varRefs {
		if vr.varIdx == idx && vr.isArg == isArg {
			vr.refCount++
			return vr
		}
	}
	vr := &VarRef{isArg: isArg, varIdx: idx, frame: sf, value: Undefined}
	vr.refCount = 1
	vr.kind = gcKindVarRef
	if isArg {
		vr.pvalue = &sf.args[idx]
	} else {
		vr.pvalue = &sf.vars[idx]
	}
	sf.varRefs = append(sf.varRefs, vr)
	return vr
}

func (rt *Runtime) freeVarRef(vr *VarRef) {
	vr.refCount--
	if vr.refCount > 0 {
		return
	}
	if vr.refCount < 0 {
		panic(invariantf("var ref refcount underflow"))
	}
	if vr.isDetached {
		v := vr.value
		vr.value = Undefined
		rt.freeValue(v)
		vr.freed = true
		if vr.tracked {
			rt.removeGCObject(&vr.gcHeader)
		}
		return
	}
	if sf := vr.frame; sf != nil {
		for i, o := range sf.varRefs {
			if o == vr {
				sf.varRefs = append(sf.varRefs[:i], sf.varRefs[i+1:]...)
				break
			}
		}
	}
	vr.frame = nil
	vr.freed = true
}

func (rt *Runtime) closeVarRef(vr *VarRef) {
	vr.value = dupValue(*vr.pvalue)
	vr.pvalue = &vr.value
	vr.isDetached = true
	vr.frame = nil
	rt.addGCObject(&vr.gcHeader, gcKindVarRef)
}

// closeVarRefs detaches every VarRef still pointing into sf.
func (rt *Runtime) closeVarRefs(sf *stackFrame) {
	for _, vr := range sf.varRefs {
		rt.closeVarRef(vr)
	}
	sf.varRefs = nil
}

// closeLoc detaches the VarRefs of local idx, giving the next loop
// iteration a fresh binding.
func (rt *Runtime) closeLoc(sf *stackFrame, idx int) {
	kept := sf.varRefs[:0]
	for _, vr := range sf.varRefs {
		if !vr.isArg && vr.varIdx == idx {
			rt.closeVarRef(vr)
			continue
		}
		kept = append(kept, vr)
	}
	for i := len(kept); i < len(sf.varRefs); i++ {
		sf.varRefs[i] = nil
	}
	sf.varRefs = kept
}

func cFunctionDataFinalizer(rt *Runtime, p *Object) {
	if p.cfn != nil {
		for i, v := range p.cfn.data {
			rt.freeValue(v)
			p.cfn.data[i] = Undefined
		}
		p.cfn.data = nil
	}
}

func cFunctionDataMark(rt *Runtime, p *Object, mf markFunc) {
	if p.cfn != nil {
		for _, v := range p.cfn.data {
			rt.markValue(v, mf)
		}
	}
}

func bytecodeFunctionFinalizer(rt *Runtime, p *Object) {
	c := p.fn
	if c == nil {
		return
	}
	p.fn = nil
	rt.freeObjectRef(c.homeObject)
	for _, vr := range c.varRefs {
		if vr != nil {
			rt.freeVarRef(vr)
		}
	}
	c.varRefs = nil
	rt.freeValue(bytecodeValue(c.b))
}

func bytecodeFunctionMark(rt *Runtime, p *Object, mf markFunc) {
	c := p.fn
	if c == nil {
		return
	}
	rt.markObject(c.homeObject, mf)
	for _, vr := range c.varRefs {
		if vr != nil && vr.isDetached {
			mf(rt, &vr.gcHeader)
		}
	}
}

func boundFunctionFinalizer(rt *Runtime, p *Object) {
	bf, ok := p.payload.(*boundFunction)
	if !ok {
		return
	}
	rt.freeValue(bf.target)
	rt.freeValue(bf.this)
	for _, v := range bf.args {
		rt.freeValue(v)
	}
	bf.args = nil
}

func boundFunctionMark(rt *Runtime, p *Object, mf markFunc) {
	bf, ok := p.payload.(*boundFunction)
	if !ok {
		return
	}
	rt.markValue(bf.target, mf)
	rt.markValue(bf.this, mf)
	for _, v := range bf.args {
		rt.markValue(v, mf)
	}
}

// defineFunctionProps sets the length and name own properties.
func (ctx *Context) defineFunctionProps(p *Object, name string, length int) {
	ctx.DefinePropertyValue(p, AtomLength, NewInt32(int32(length)), PropConfigurable)
	ctx.DefinePropertyValue(p, AtomName, newStringValue(name), PropConfigurable)
}

func (ctx *Context) newNativeFunction(nf *nativeFunction, classID ClassID) *Object {
	nf.realm = ctx
	p := ctx.newObjectProtoClass(ctx.functionProto, classID)
	p.cfn = nf
	p.isConstructor = nf.ctor != nil
	ctx.defineFunctionProps(p, nf.name, nf.length)
	return p
}

// NewFunction wraps fn as a function object.
func (ctx *Context) NewFunction(fn NativeFunc, name string, length int) Value {
	return objValue(ctx.newNativeFunction(&nativeFunction{name: name, length: length, fn: fn}, ClassCFunction))
}

// NewFunctionData wraps fn together with data, which is duplicated.
func (ctx *Context) NewFunctionData(fn NativeFuncData, name string, length int, data []Value) Value {
	nf := &nativeFunction{name: name, length: length, dataFn: fn, data: dupValues(data)}
	return objValue(ctx.newNativeFunction(nf, ClassCFunctionData))
}

// newConstructor creates a native constructor. A nil fn makes plain calls
// throw.
func (ctx *Context) newConstructor(name string, length int, fn NativeFunc, ctor NativeCtor) *Object {
	if fn == nil {
		fn = func(ctx *Context, this Value, args []Value) (Value, error) {
			return Undefined, ctx.ThrowTypeError("constructor %s requires 'new'", name)
		}
	}
	return ctx.newNativeFunction(&nativeFunction{name: name, length: length, fn: fn, ctor: ctor}, ClassCFunction)
}

// setConstructor links ctor.prototype and proto.constructor.
func (ctx *Context) setConstructor(ctor, proto *Object) {
	ctx.DefinePropertyValue(ctor, AtomPrototype, proto.Value(), 0)
	ctx.DefinePropertyValue(proto, AtomConstructor, ctor.Value(), PropWritable|PropConfigurable)
}

// defineFunc installs a method on obj.
func (ctx *Context) defineFunc(obj *Object, name string, fn NativeFunc, length int) {
	ctx.DefinePropertyValue(obj, ctx.rt.NewAtom(name), ctx.NewFunction(fn, name, length), PropWritable|PropConfigurable)
}

// defineFuncAtom installs a method under atom, such as a well-known symbol.
func (ctx *Context) defineFuncAtom(obj *Object, atom Atom, name string, fn NativeFunc, length int) {
	ctx.DefinePropertyValue(obj, atom, ctx.NewFunction(fn, name, length), PropWritable|PropConfigurable)
}

func (ctx *Context) defineGetter(obj *Object, atom Atom, fn NativeFunc) {
	g := ctx.NewFunction(fn, "get "+ctx.rt.AtomString(atom), 0)
	ctx.DefinePropertyGetSet(obj, atom, g, Undefined, PropConfigurable)
	ctx.rt.freeValue(g)
}

// defineGlobal binds name on the global object, consuming val.
func (ctx *Context) defineGlobal(name string, val Value) {
	ctx.DefinePropertyValue(ctx.globalObj, ctx.rt.NewAtom(name), val, PropWritable|PropConfigurable)
}

// newClosure instantiates b inside the frame sf. Captured locals share
// VarRefs with sf; captured outer variables come from sf's own closure.
func (ctx *Context) newClosure(b *FunctionBytecode, sf *stackFrame) (*Object, error) {
	rt := ctx.rt
	classID := ClassBytecodeFunction
	switch b.Kind {
	case FuncGenerator:
		classID = ClassGeneratorFunction
	case FuncAsync:
		classID = ClassAsyncFunction
	}
	c := &closureData{b: b, realm: ctx}
	b.refCount++
	if n := len(b.ClosureVars); n > 0 {
		if sf == nil {
			rt.freeValue(bytecodeValue(b))
			return nil, ctx.ThrowInternalError("function %s captures variables but has no enclosing frame", b.Name)
		}
		var parent []*VarRef
		if pf := sf.fn.AsObject(); pf != nil && pf.fn != nil {
			parent = pf.fn.varRefs
		}
		c.varRefs = make([]*VarRef, n)
		for i, cv := range b.ClosureVars {
			if cv.IsLocal {
				c.varRefs[i] = rt.getVarRef(sf, cv.Index, cv.IsArg)
				continue
			}
			if cv.Index >= len(parent) {
				for _, vr := range c.varRefs[:i] {
					rt.freeVarRef(vr)
				}
				rt.freeValue(bytecodeValue(b))
				return nil, ctx.ThrowInternalError("function %s: closure variable %d out of range", b.Name, cv.Index)
			}
			vr := parent[cv.Index]
			vr.refCount++
			c.varRefs[i] = vr
		}
	}
	p := ctx.newObjectProtoClass(ctx.functionProto, classID)
	p.fn = c
	ctx.defineFunctionProps(p, b.Name, b.ArgCount)
	switch {
	case b.Kind == FuncGenerator:
		proto := ctx.newObjectProtoClass(ctx.generatorProto, ClassObject)
		ctx.DefinePropertyValue(p, AtomPrototype, objValue(proto), PropWritable)
	case b.IsConstructor():
		p.isConstructor = true
		proto := ctx.newPlainObject()
		ctx.DefinePropertyValue(proto, AtomConstructor, p.Value(), PropWritable|PropConfigurable)
		ctx.DefinePropertyValue(p, AtomPrototype, objValue(proto), PropWritable)
	}
	return p, nil
}

// BindFunction implements Function.prototype.bind. this and args are
// borrowed.
func (ctx *Context) BindFunction(fn Value, this Value, args []Value) (Value, error) {
	rt := ctx.rt
	if !rt.isCallable(fn) {
		return Undefined, ctx.ThrowTypeError("bind called on a non-function")
	}
	target := fn.object()
	proto := target.shape.proto
	p := ctx.newObjectProtoClass(proto, ClassBoundFunction)
	p.payload = &boundFunction{target: dupValue(fn), this: dupValue(this), args: dupValues(args)}
	p.isConstructor = target.isConstructor

	length := 0
	if has, err := ctx.HasOwnProperty(target, AtomLength); err != nil {
		rt.freeObjectRef(p)
		return Undefined, err
	} else if has {
		lv, err := ctx.GetProperty(fn, AtomLength)
		if err != nil {
			rt.freeObjectRef(p)
			return Undefined, err
		}
		if lv.IsNumber() {
			if n := int(lv.Number()) - len(args); n > 0 {
				length = n
			}
		}
		rt.freeValue(lv)
	}
	nv, err := ctx.GetProperty(fn, AtomName)
	if err != nil {
		rt.freeObjectRef(p)
		return Undefined, err
	}
	name, _ := nv.AsString()
	rt.freeValue(nv)
	ctx.defineFunctionProps(p, "bound "+name, length)
	return objValue(p), nil
}

func callBoundFunction(ctx *Context, fn, this, newTarget Value, args []Value, flags CallFlags) (Value, error) {
	bf := fn.object().payload.(*boundFunction)
	all := args
	if len(bf.args) > 0 {
		all = make([]Value, 0, len(bf.args)+len(args))
		all = append(all, bf.args...)
		all = append(all, args...)
	}
	if flags&CallConstructor != 0 {
		if newTarget.tag == TagObject && newTarget.object() == fn.object() {
			newTarget = bf.target
		}
		return ctx.callConstructorInternal(bf.target, newTarget, all)
	}
	return ctx.callInternal(bf.target, bf.this, Undefined, all, 0)
}

func callNativeFunction(ctx *Context, fn, this, newTarget Value, args []Value, flags CallFlags) (Value, error) {
	rt := ctx.rt
	nf := fn.object().cfn
	realm := nf.realm
	if realm == nil {
		realm = ctx
	}
	if rt.stackDepth >= rt.maxStackDepth {
		return Undefined, realm.ThrowRangeError("Maximum call stack size exceeded")
	}
	rt.stackDepth++
	defer func() { rt.stackDepth-- }()
	if len(args) < nf.length {
		padded := make([]Value, nf.length)
		n := copy(padded, args)
		for i := n; i < len(padded); i++ {
			padded[i] = Undefined
		}
		args = padded
	}
	if flags&CallConstructor != 0 {
		if nf.ctor == nil {
			return Undefined, realm.ThrowTypeError("%s is not a constructor", nf.name)
		}
		return nf.ctor(realm, newTarget, args)
	}
	if nf.dataFn != nil {
		return nf.dataFn(realm, this, args, nf.data)
	}
	return nf.fn(realm, this, args)
}
