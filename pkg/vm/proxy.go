package vm

// proxyData holds a proxy's target and handler. Invariant checks against
// the target are not enforced; traps that are absent forward to the target.
type proxyData struct {
	target  *Object
	handler *Object
	isFunc  bool
	revoked bool
}

func proxyFinalizer(rt *Runtime, p *Object) {
	if pd, ok := p.payload.(*proxyData); ok {
		rt.freeObjectRef(pd.target)
		rt.freeObjectRef(pd.handler)
		pd.target, pd.handler = nil, nil
	}
}

func proxyMark(rt *Runtime, p *Object, mf markFunc) {
	if pd, ok := p.payload.(*proxyData); ok {
		rt.markObject(pd.target, mf)
		rt.markObject(pd.handler, mf)
	}
}

func proxyTarget(p *Object) *Object {
	return p.payload.(*proxyData).target
}

// liveProxyTarget returns the target of p, or a TypeError once p is revoked.
func (ctx *Context) liveProxyTarget(p *Object) (*Object, error) {
	pd := p.payload.(*proxyData)
	if pd.revoked {
		return nil, ctx.ThrowTypeError("revoked proxy")
	}
	return pd.target, nil
}

// NewProxy creates a proxy over target with handler.
func (ctx *Context) NewProxy(target, handler Value) (Value, error) {
	t, h := target.AsObject(), handler.AsObject()
	if t == nil || h == nil {
		return Undefined, ctx.ThrowTypeError("cannot create proxy with a non-object as target or handler")
	}
	p := ctx.newObjectProtoClass(nil, ClassProxy)
	p.payload = &proxyData{target: t.dup(), handler: h.dup(), isFunc: ctx.rt.isCallable(target)}
	return objValue(p), nil
}

// getTrap returns the trap method (new reference) or Undefined.
func (ctx *Context) getTrap(p *Object, name Atom) (*proxyData, Value, error) {
	pd := p.payload.(*proxyData)
	if pd.revoked {
		return pd, Undefined, ctx.ThrowTypeError("revoked proxy")
	}
	trap, err := ctx.GetProperty(objValue(pd.handler), name)
	if err != nil {
		return pd, Undefined, err
	}
	if trap.IsUndefinedOrNull() {
		return pd, Undefined, nil
	}
	if !ctx.rt.isCallable(trap) {
		ctx.rt.freeValue(trap)
		return pd, Undefined, ctx.ThrowTypeError("proxy trap '%s' is not a function", ctx.rt.AtomString(name))
	}
	return pd, trap, nil
}

func (ctx *Context) proxyGet(p *Object, atom Atom, receiver Value) (Value, error) {
	rt := ctx.rt
	pd, trap, err := ctx.getTrap(p, AtomGet)
	if err != nil {
		return Undefined, err
	}
	if trap.IsUndefined() {
		return ctx.getPropertyInternal(objValue(pd.target), atom, receiver)
	}
	key := rt.atomToValue(atom)
	ret, err := ctx.callInternal(trap, objValue(pd.handler), Undefined, []Value{objValue(pd.target), key, receiver}, 0)
	rt.freeValue(key)
	rt.freeValue(trap)
	return ret, err
}

// proxySet consumes val.
func (ctx *Context) proxySet(p *Object, atom Atom, val Value, receiver Value, flags PropFlags) (bool, error) {
	rt := ctx.rt
	pd, trap, err := ctx.getTrap(p, AtomSet)
	if err != nil {
		rt.freeValue(val)
		return false, err
	}
	if trap.IsUndefined() {
		return ctx.setPropertyInternal(objValue(pd.target), atom, val, receiver, flags)
	}
	key := rt.atomToValue(atom)
	ret, err := ctx.callInternal(trap, objValue(pd.handler), Undefined, []Value{objValue(pd.target), key, val, receiver}, 0)
	rt.freeValue(key)
	rt.freeValue(trap)
	rt.freeValue(val)
	if err != nil {
		return false, err
	}
	if !ctx.ToBool(ret) {
		rt.freeValue(ret)
		return ctx.throwTypeErrorOrFalse(flags, "proxy: cannot set property '%s'", rt.AtomString(atom))
	}
	rt.freeValue(ret)
	return true, nil
}

func (ctx *Context) proxyHas(p *Object, atom Atom) (bool, error) {
	rt := ctx.rt
	pd, trap, err := ctx.getTrap(p, AtomHas)
	if err != nil {
		return false, err
	}
	if trap.IsUndefined() {
		return ctx.HasProperty(pd.target, atom)
	}
	key := rt.atomToValue(atom)
	ret, err := ctx.callInternal(trap, objValue(pd.handler), Undefined, []Value{objValue(pd.target), key}, 0)
	rt.freeValue(key)
	rt.freeValue(trap)
	if err != nil {
		return false, err
	}
	ok := ctx.ToBool(ret)
	rt.freeValue(ret)
	return ok, nil
}

func (ctx *Context) proxyDelete(p *Object, atom Atom) (bool, error) {
	rt := ctx.rt
	pd, trap, err := ctx.getTrap(p, AtomDeleteProperty)
	if err != nil {
		return false, err
	}
	if trap.IsUndefined() {
		return ctx.deleteProperty(pd.target, atom)
	}
	key := rt.atomToValue(atom)
	ret, err := ctx.callInternal(trap, objValue(pd.handler), Undefined, []Value{objValue(pd.target), key}, 0)
	rt.freeValue(key)
	rt.freeValue(trap)
	if err != nil {
		return false, err
	}
	ok := ctx.ToBool(ret)
	rt.freeValue(ret)
	return ok, nil
}

// callProxy implements the apply trap; construction forwards to the target.
func callProxy(ctx *Context, fn Value, this Value, newTarget Value, args []Value, flags CallFlags) (Value, error) {
	rt := ctx.rt
	p := fn.object()
	pd := p.payload.(*proxyData)
	if !pd.isFunc {
		return Undefined, ctx.ThrowTypeError("not a function")
	}
	if flags&CallConstructor != 0 {
		if newTarget.tag == TagObject && newTarget.object() == p {
			newTarget = objValue(pd.target)
		}
		return ctx.callConstructorInternal(objValue(pd.target), newTarget, args)
	}
	pd, trap, err := ctx.getTrap(p, AtomApply)
	if err != nil {
		return Undefined, err
	}
	if trap.IsUndefined() {
		return ctx.callInternal(objValue(pd.target), this, Undefined, args, 0)
	}
	arr := ctx.NewArrayFrom(dupValues(args))
	ret, err := ctx.callInternal(trap, objValue(pd.handler), Undefined, []Value{objValue(pd.target), this, arr}, 0)
	rt.freeValue(arr)
	rt.freeValue(trap)
	return ret, err
}

func proxyConstructor(ctx *Context, newTarget Value, args []Value) (Value, error) {
	return ctx.NewProxy(args[0], args[1])
}

func proxyCallWithoutNew(ctx *Context, this Value, args []Value) (Value, error) {
	return Undefined, ctx.ThrowTypeError("Proxy constructor requires 'new'")
}

func proxyRevoke(ctx *Context, this Value, args []Value, data []Value) (Value, error) {
	if p := data[0].AsObject(); p != nil {
		if pd, ok := p.payload.(*proxyData); ok {
			pd.revoked = true
		}
	}
	return Undefined, nil
}

// proxyRevocable implements Proxy.revocable(target, handler).
func proxyRevocable(ctx *Context, this Value, args []Value) (Value, error) {
	rt := ctx.rt
	proxy, err := ctx.NewProxy(args[0], args[1])
	if err != nil {
		return Undefined, err
	}
	revoke := ctx.NewFunctionData(proxyRevoke, "revoke", 0, []Value{proxy})
	res := ctx.newPlainObject()
	ctx.DefinePropertyValue(res, rt.NewAtom("proxy"), proxy, PropCWE)
	ctx.DefinePropertyValue(res, rt.NewAtom("revoke"), revoke, PropCWE)
	return objValue(res), nil
}

func dupValues(vs []Value) []Value {
	out := make([]Value, len(vs))
	for i, v := range vs {
		out[i] = dupValue(v)
	}
	return out
}
