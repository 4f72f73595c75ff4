package vm

import "unsafe"

// Property is one slot of an object; which field is live depends on the
// kind bits of the matching shape entry.
type Property struct {
	value  Value
	getter *Object
	setter *Object
	varRef *VarRef
}

// Object is a heap object. The class id selects the payload fields in use
// and the exotic behavior layered over the shape-based properties.
type Object struct {
	gcHeader
	classID       ClassID
	extensible    bool
	fastArray     bool // values holds the dense elements
	isConstructor bool
	uncatchable   bool // error raised by an interrupt; skips catch handlers

	shape *Shape
	prop  []Property

	values     []Value      // Array, Arguments
	objectData Value        // primitive wrappers
	fn         *closureData // bytecode functions
	cfn        *nativeFunction
	payload    any // class specific state; host opaque for host classes
}

func (p *Object) ClassID() ClassID { return p.classID }
func (p *Object) Shape() *Shape    { return p.shape }
func (p *Object) IsExtensible() bool {
	return p.extensible
}

// Opaque returns the host payload of a host class instance.
func (p *Object) Opaque() any { return p.payload }

// SetOpaque replaces the host payload.
func (p *Object) SetOpaque(v any) { p.payload = v }

// IsFastArray reports whether the object keeps its elements densely.
func (p *Object) IsFastArray() bool { return p.fastArray }

// Value returns a new reference to p as a Value.
func (p *Object) Value() Value {
	p.refCount++
	return objValue(p)
}

func (p *Object) dup() *Object {
	p.refCount++
	return p
}

func (p *Object) isFunction() bool {
	switch p.classID {
	case ClassCFunction, ClassCFunctionData, ClassBytecodeFunction, ClassGeneratorFunction,
		ClassAsyncFunction, ClassBoundFunction, ClassPromiseResolveFunction,
		ClassPromiseRejectFunction, ClassAsyncFunctionResolve, ClassAsyncFunctionReject:
		return true
	case ClassProxy:
		if pd, ok := p.payload.(*proxyData); ok {
			return pd.isFunc
		}
	}
	return false
}

func (rt *Runtime) isCallable(v Value) bool {
	if v.tag != TagObject {
		return false
	}
	p := v.object()
	if p.isFunction() {
		return true
	}
	cls := rt.classes[p.classID]
	return cls != nil && cls.host && cls.call != nil
}

// IsFunction reports whether v can be called.
func (ctx *Context) IsFunction(v Value) bool { return ctx.rt.isCallable(v) }

func (p *Object) isArray() bool { return p.classID == ClassArray }

func (p *Object) isTypedArray() bool {
	return p.classID >= ClassUint8Array && p.classID <= ClassFloat64Array
}

// isExotic reports whether own-property lookups must consult class hooks.
func (rt *Runtime) isExotic(p *Object) bool {
	if p.fastArray {
		return true
	}
	switch p.classID {
	case ClassString, ClassProxy, ClassUint8Array, ClassInt32Array, ClassFloat64Array:
		return true
	}
	cls := rt.classes[p.classID]
	return cls != nil && cls.exotic != nil
}

func (ctx *Context) newObjectFromShape(sh *Shape, classID ClassID) *Object {
	rt := ctx.rt
	p := &Object{
		classID:    classID,
		extensible: true,
		shape:      sh,
		prop:       make([]Property, len(sh.props), cap(sh.props)),
	}
	p.refCount = 1
	rt.addGCObject(&p.gcHeader, gcKindObject)
	switch classID {
	case ClassArray, ClassArguments:
		p.fastArray = true
	}
	for i := range p.prop {
		p.prop[i].value = Undefined
	}
	return p
}

// newObjectProtoClass returns a fresh object with the given prototype.
func (ctx *Context) newObjectProtoClass(proto *Object, classID ClassID) *Object {
	rt := ctx.rt
	rt.triggerGC()
	sh := rt.findHashedShapeProto(proto)
	if sh != nil {
		dupShape(sh)
	} else {
		sh = rt.newShape(proto, shapeInitialHashSize, shapeInitialPropSize)
	}
	return ctx.newObjectFromShape(sh, classID)
}

func (ctx *Context) newPlainObject() *Object {
	return ctx.newObjectProtoClass(ctx.objectProto, ClassObject)
}

// newObjectClass creates an instance of classID using the context's
// registered prototype for that class.
func (ctx *Context) newObjectClass(classID ClassID) *Object {
	proto := ctx.objectProto
	if int(classID) < len(ctx.classProto) && ctx.classProto[classID] != nil {
		proto = ctx.classProto[classID]
	}
	return ctx.newObjectProtoClass(proto, classID)
}

// freeObject releases p's properties, runs its finalizer and unlinks it.
func (rt *Runtime) freeObject(p *Object) {
	p.freed = true
	sh := p.shape
	if sh != nil {
		for i := range sh.props {
			rt.freeProperty(&p.prop[i], sh.props[i].flags)
		}
		p.prop = nil
		p.shape = nil
		rt.freeShape(sh)
	}
	if cls := rt.classes[p.classID]; cls != nil && cls.finalizer != nil {
		cls.finalizer(rt, p)
	}
	p.payload = nil
	rt.removeGCObject(&p.gcHeader)
}

func (rt *Runtime) freeProperty(pr *Property, flags PropFlags) {
	switch flags & PropTMask {
	case PropGetSet:
		rt.freeObjectRef(pr.getter)
		rt.freeObjectRef(pr.setter)
		pr.getter, pr.setter = nil, nil
	case PropVarRef:
		if pr.varRef != nil {
			rt.freeVarRef(pr.varRef)
			pr.varRef = nil
		}
	default:
		rt.freeValue(pr.value)
	}
	pr.value = Undefined
}

func headerObject(h *gcHeader) *Object {
	return (*Object)(unsafe.Pointer(h))
}

// getProto returns p's prototype, nil at the top of the chain.
func (p *Object) getProto() *Object { return p.shape.proto }
