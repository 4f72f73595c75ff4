package vm

// Global bindings live on the global object. Top-level let/const become
// non-configurable PropVarRef properties whose VarRef starts out
// uninitialized, which gives them the same TDZ checks as locals.

func (ctx *Context) getGlobalVar(atom Atom, throwRef bool) (Value, error) {
	g := ctx.globalObj
	if idx, prs := g.shape.findProperty(atom); prs != nil {
		pr := &g.prop[idx]
		switch prs.flags & PropTMask {
		case PropVarRef:
			v := *pr.varRef.pvalue
			if v.isUninitialized() {
				return Undefined, ctx.throwUninitialized(atom)
			}
			return dupValue(v), nil
		case PropNormal:
			return dupValue(pr.value), nil
		}
		return ctx.GetProperty(objValue(g), atom)
	}
	found, err := ctx.HasProperty(g, atom)
	if err != nil {
		return Undefined, err
	}
	if !found {
		if throwRef {
			return Undefined, ctx.ThrowReferenceError("%s is not defined", ctx.rt.AtomString(atom))
		}
		return Undefined, nil
	}
	return ctx.GetProperty(objValue(g), atom)
}

// putGlobalVar assigns v, consuming it. init stores the first value of a
// lexical binding.
func (ctx *Context) putGlobalVar(atom Atom, v Value, init bool) error {
	rt := ctx.rt
	g := ctx.globalObj
	idx, prs := g.shape.findProperty(atom)
	if init {
		if prs == nil || prs.flags&PropTMask != PropVarRef {
			rt.freeValue(v)
			return ctx.ThrowInternalError("lexical binding %s is not declared", rt.AtomString(atom))
		}
		vr := g.prop[idx].varRef
		old := *vr.pvalue
		*vr.pvalue = v
		rt.freeValue(old)
		return nil
	}
	if prs == nil && ctx.isStrict() {
		found, err := ctx.HasProperty(g, atom)
		if err != nil {
			rt.freeValue(v)
			return err
		}
		if !found {
			rt.freeValue(v)
			return ctx.ThrowReferenceError("%s is not defined", rt.AtomString(atom))
		}
	}
	gv := objValue(g)
	_, err := ctx.setPropertyInternal(gv, atom, v, gv, PropThrowStrict)
	return err
}

// defineGlobalVar declares a top-level var. Existing bindings are kept.
func (ctx *Context) defineGlobalVar(atom Atom) error {
	g := ctx.globalObj
	if _, prs := g.shape.findProperty(atom); prs != nil {
		if prs.flags&PropTMask == PropVarRef {
			return ctx.ThrowSyntaxError("redeclaration of '%s'", ctx.rt.AtomString(atom))
		}
		return nil
	}
	if !g.extensible {
		return ctx.ThrowTypeError("cannot define variable '%s'", ctx.rt.AtomString(atom))
	}
	_, err := ctx.DefinePropertyValue(g, atom, Undefined, PropWritable|PropEnumerable)
	return err
}

// defineGlobalLexVar declares a top-level let or const in its TDZ.
func (ctx *Context) defineGlobalLexVar(atom Atom, isConst bool) error {
	rt := ctx.rt
	g := ctx.globalObj
	if _, prs := g.shape.findProperty(atom); prs != nil {
		if prs.flags&PropTMask == PropVarRef || prs.flags&PropConfigurable == 0 {
			return ctx.ThrowSyntaxError("redeclaration of '%s'", rt.AtomString(atom))
		}
		if _, err := ctx.deleteProperty(g, atom); err != nil {
			return err
		}
	}
	vr := &VarRef{value: uninitialized, isDetached: true}
	vr.pvalue = &vr.value
	vr.refCount = 1
	rt.addGCObject(&vr.gcHeader, gcKindVarRef)
	flags := PropVarRef
	if !isConst {
		flags |= PropWritable
	}
	pr := ctx.addProperty(g, atom, flags)
	pr.varRef = vr
	return nil
}
