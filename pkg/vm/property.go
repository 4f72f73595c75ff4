package vm

import "sort"

// maxProtoChainDepth bounds every prototype walk. SetPrototype already
// rejects cycles; the bound also covers chains built through proxies.
const maxProtoChainDepth = 10000

const propHasShift = 8

// Flags for GetOwnPropertyNames.
const (
	GPNStringMask = 1 << 0
	GPNSymbolMask = 1 << 1
	GPNEnumOnly   = 1 << 4
)

// PropertyDescriptor is the result of an own-property lookup. Value, Getter
// and Setter are owned by the descriptor; call Release when done.
type PropertyDescriptor struct {
	Value  Value
	Getter Value
	Setter Value
	Flags  PropFlags // PropCWE bits, plus PropGetSet for accessors
}

// Release frees the values held by d.
func (d *PropertyDescriptor) Release(rt *Runtime) {
	rt.freeValue(d.Value)
	rt.freeValue(d.Getter)
	rt.freeValue(d.Setter)
	d.Value, d.Getter, d.Setter = Undefined, Undefined, Undefined
}

// getPropFlags merges explicitly present attributes over defFlags.
func getPropFlags(flags, defFlags PropFlags) PropFlags {
	mask := (flags >> propHasShift) & PropCWE
	return (flags & mask) | (defFlags &^ mask)
}

func (ctx *Context) protoForPrimitive(v Value) *Object {
	switch v.tag {
	case TagInt, TagFloat64:
		return ctx.numberProto
	case TagBool:
		return ctx.booleanProto
	case TagString:
		return ctx.stringProto
	case TagSymbol:
		return ctx.symbolProto
	}
	return nil
}

// GetProperty returns a new reference to obj[atom].
func (ctx *Context) GetProperty(obj Value, atom Atom) (Value, error) {
	return ctx.getPropertyInternal(obj, atom, obj)
}

func (ctx *Context) getPropertyInternal(obj Value, atom Atom, this Value) (Value, error) {
	rt := ctx.rt
	var p *Object
	switch obj.tag {
	case TagObject:
		p = obj.object()
	case TagString:
		s := obj.str().s
		if atomIsTaggedInt(atom) {
			if c, ok := strCharAt(s, int(atom.toUint32())); ok {
				return newStringValue(c), nil
			}
		} else if atom == AtomLength {
			return NewInt32(int32(strLength(s))), nil
		}
		p = ctx.stringProto
	case TagUndefined, TagNull:
		return Undefined, ctx.ThrowTypeError("cannot read property '%s' of %s", rt.AtomString(atom), obj.String())
	default:
		p = ctx.protoForPrimitive(obj)
		if p == nil {
			return Undefined, ctx.ThrowTypeError("cannot read property '%s' of %s", rt.AtomString(atom), obj.tag)
		}
	}
	for depth := 0; p != nil; depth++ {
		if depth > maxProtoChainDepth {
			return Undefined, ctx.ThrowInternalError("prototype chain too deep")
		}
		if idx, prs := p.shape.findProperty(atom); prs != nil {
			pr := &p.prop[idx]
			switch prs.flags & PropTMask {
			case PropGetSet:
				if pr.getter == nil {
					return Undefined, nil
				}
				g := pr.getter.dup()
				ret, err := ctx.callInternal(objValue(g), this, Undefined, nil, 0)
				rt.freeObjectRef(g)
				return ret, err
			case PropVarRef:
				v := *pr.varRef.pvalue
				if v.isUninitialized() {
					return Undefined, ctx.throwUninitialized(atom)
				}
				return dupValue(v), nil
			default:
				return dupValue(pr.value), nil
			}
		}
		if rt.isExotic(p) {
			if p.classID == ClassProxy {
				return ctx.proxyGet(p, atom, this)
			}
			v, handled, err := ctx.getOwnExotic(p, atom)
			if err != nil || handled {
				return v, err
			}
		}
		p = p.shape.proto
	}
	return Undefined, nil
}

// getOwnExotic serves own properties that live outside the shape.
func (ctx *Context) getOwnExotic(p *Object, atom Atom) (Value, bool, error) {
	if atomIsTaggedInt(atom) {
		idx := int(atom.toUint32())
		switch {
		case p.fastArray:
			if idx < len(p.values) {
				return dupValue(p.values[idx]), true, nil
			}
			return Undefined, false, nil
		case p.isTypedArray():
			v, _ := typedArrayGet(p, idx)
			return v, true, nil
		case p.classID == ClassString:
			if c, ok := strCharAt(p.objectData.str().s, idx); ok {
				return newStringValue(c), true, nil
			}
			return Undefined, false, nil
		}
	}
	if cls := ctx.rt.classes[p.classID]; cls != nil && cls.exotic != nil && cls.exotic.GetOwnProperty != nil {
		return cls.exotic.GetOwnProperty(ctx, p, atom)
	}
	return Undefined, false, nil
}

// hasOwnExotic reports own properties that live outside the shape.
func (ctx *Context) hasOwnExotic(p *Object, atom Atom) (found, handled bool, err error) {
	if atomIsTaggedInt(atom) {
		idx := int(atom.toUint32())
		switch {
		case p.fastArray:
			return idx < len(p.values), idx < len(p.values), nil
		case p.isTypedArray():
			return idx < typedArrayLength(p), true, nil
		case p.classID == ClassString:
			ok := idx < strLength(p.objectData.str().s)
			return ok, ok, nil
		}
	}
	if cls := ctx.rt.classes[p.classID]; cls != nil && cls.exotic != nil && cls.exotic.HasProperty != nil {
		return cls.exotic.HasProperty(ctx, p, atom)
	}
	return false, false, nil
}

// GetOwnProperty looks up an own property without walking the chain.
func (ctx *Context) GetOwnProperty(p *Object, atom Atom) (PropertyDescriptor, bool, error) {
	desc := PropertyDescriptor{Value: Undefined, Getter: Undefined, Setter: Undefined}
	if idx, prs := p.shape.findProperty(atom); prs != nil {
		pr := &p.prop[idx]
		desc.Flags = prs.flags & PropCWE
		switch prs.flags & PropTMask {
		case PropGetSet:
			desc.Flags |= PropGetSet
			desc.Flags &^= PropWritable
			if pr.getter != nil {
				desc.Getter = objValue(pr.getter.dup())
			}
			if pr.setter != nil {
				desc.Setter = objValue(pr.setter.dup())
			}
		case PropVarRef:
			v := *pr.varRef.pvalue
			if v.isUninitialized() {
				return desc, false, ctx.throwUninitialized(atom)
			}
			desc.Value = dupValue(v)
		default:
			desc.Value = dupValue(pr.value)
		}
		return desc, true, nil
	}
	if !ctx.rt.isExotic(p) {
		return desc, false, nil
	}
	if p.classID == ClassProxy {
		return ctx.GetOwnProperty(proxyTarget(p), atom)
	}
	found, _, err := ctx.hasOwnExotic(p, atom)
	if err != nil || !found {
		return desc, false, err
	}
	v, _, err := ctx.getOwnExotic(p, atom)
	if err != nil {
		return desc, false, err
	}
	desc.Value = v
	switch {
	case p.fastArray:
		desc.Flags = PropCWE
	case p.isTypedArray():
		desc.Flags = PropWritable | PropEnumerable
	case p.classID == ClassString:
		desc.Flags = PropEnumerable
	default:
		desc.Flags = PropCWE
	}
	return desc, true, nil
}

// HasProperty implements the `in` operator.
func (ctx *Context) HasProperty(obj *Object, atom Atom) (bool, error) {
	p := obj
	for depth := 0; p != nil; depth++ {
		if depth > maxProtoChainDepth {
			return false, ctx.ThrowInternalError("prototype chain too deep")
		}
		if p.classID == ClassProxy {
			return ctx.proxyHas(p, atom)
		}
		if _, prs := p.shape.findProperty(atom); prs != nil {
			return true, nil
		}
		if ctx.rt.isExotic(p) {
			found, handled, err := ctx.hasOwnExotic(p, atom)
			if err != nil {
				return false, err
			}
			if found {
				return true, nil
			}
			if handled && p.isTypedArray() {
				return false, nil
			}
		}
		p = p.shape.proto
	}
	return false, nil
}

// HasOwnProperty reports whether obj itself has atom.
func (ctx *Context) HasOwnProperty(obj *Object, atom Atom) (bool, error) {
	if _, prs := obj.shape.findProperty(atom); prs != nil {
		return true, nil
	}
	if obj.classID == ClassProxy {
		return ctx.HasOwnProperty(proxyTarget(obj), atom)
	}
	if ctx.rt.isExotic(obj) {
		found, _, err := ctx.hasOwnExotic(obj, atom)
		return found, err
	}
	return false, nil
}

// SetProperty assigns obj[atom] = val, consuming val. Failures throw.
func (ctx *Context) SetProperty(obj Value, atom Atom, val Value) error {
	_, err := ctx.setPropertyInternal(obj, atom, val, obj, PropThrow)
	return err
}

func (ctx *Context) callSetter(setter *Object, this Value, val Value, flags PropFlags) (bool, error) {
	rt := ctx.rt
	if setter == nil {
		rt.freeValue(val)
		return ctx.throwTypeErrorOrFalse(flags, "no setter for property")
	}
	s := setter.dup()
	ret, err := ctx.callInternal(objValue(s), this, Undefined, []Value{val}, 0)
	rt.freeObjectRef(s)
	rt.freeValue(val)
	if err != nil {
		return false, err
	}
	rt.freeValue(ret)
	return true, nil
}

// setPropertyInternal assigns atom on obj with this as the receiver. val is
// consumed on every path.
func (ctx *Context) setPropertyInternal(obj Value, atom Atom, val Value, this Value, flags PropFlags) (bool, error) {
	rt := ctx.rt
	var p, p1 *Object
	switch this.tag {
	case TagObject:
		p = this.object()
	case TagUndefined, TagNull:
		rt.freeValue(val)
		return false, ctx.ThrowTypeError("cannot set property '%s' of %s", rt.AtomString(atom), this.String())
	}
	switch obj.tag {
	case TagObject:
		p1 = obj.object()
	case TagUndefined, TagNull:
		rt.freeValue(val)
		return false, ctx.ThrowTypeError("cannot set property '%s' of %s", rt.AtomString(atom), obj.String())
	case TagString:
		s := obj.str().s
		if atom == AtomLength || (atomIsTaggedInt(atom) && int(atom.toUint32()) < strLength(s)) {
			rt.freeValue(val)
			return ctx.throwTypeErrorOrFalse(flags, "'%s' is read-only", rt.AtomString(atom))
		}
		p1 = ctx.stringProto
	default:
		p1 = ctx.protoForPrimitive(obj)
	}

	if p != nil && p == p1 {
		if idx, prs := p.shape.findProperty(atom); prs != nil {
			pr := &p.prop[idx]
			switch {
			case prs.flags&(PropTMask|PropWritable|PropLength) == PropWritable:
				old := pr.value
				pr.value = val
				rt.freeValue(old)
				return true, nil
			case prs.flags&PropLength != 0:
				return ctx.setArrayLength(p, val, flags)
			case prs.flags&PropTMask == PropGetSet:
				return ctx.callSetter(pr.setter, this, val, flags)
			case prs.flags&PropTMask == PropVarRef:
				vr := pr.varRef
				if vr.pvalue.isUninitialized() {
					rt.freeValue(val)
					return false, ctx.throwUninitialized(atom)
				}
				if prs.flags&PropWritable == 0 {
					rt.freeValue(val)
					return ctx.throwTypeErrorOrFalse(flags|PropThrow, "assignment to constant '%s'", rt.AtomString(atom))
				}
				old := *vr.pvalue
				*vr.pvalue = val
				rt.freeValue(old)
				return true, nil
			default:
				rt.freeValue(val)
				return ctx.throwTypeErrorOrFalse(flags, "'%s' is read-only", rt.AtomString(atom))
			}
		}
	}

	for depth := 0; p1 != nil; depth++ {
		if depth > maxProtoChainDepth {
			rt.freeValue(val)
			return false, ctx.ThrowInternalError("prototype chain too deep")
		}
		if p1 != p {
			if idx, prs := p1.shape.findProperty(atom); prs != nil {
				pr := &p1.prop[idx]
				if prs.flags&PropTMask == PropGetSet {
					return ctx.callSetter(pr.setter, this, val, flags)
				}
				if prs.flags&PropWritable == 0 {
					rt.freeValue(val)
					return ctx.throwTypeErrorOrFalse(flags, "'%s' is read-only", rt.AtomString(atom))
				}
				break
			}
		}
		if rt.isExotic(p1) {
			if p1.classID == ClassProxy {
				return ctx.proxySet(p1, atom, val, this, flags)
			}
			if atomIsTaggedInt(atom) {
				idx := int(atom.toUint32())
				if p1.fastArray && idx < len(p1.values) {
					if p1 == p {
						old := p.values[idx]
						p.values[idx] = val
						rt.freeValue(old)
						return true, nil
					}
					break
				}
				if p1.isTypedArray() {
					if p1 == p {
						return ctx.typedArraySet(p1, idx, val)
					}
					rt.freeValue(val)
					return true, nil
				}
				if p1.classID == ClassString && idx < strLength(p1.objectData.str().s) {
					rt.freeValue(val)
					return ctx.throwTypeErrorOrFalse(flags, "'%s' is read-only", rt.AtomString(atom))
				}
			}
			if cls := rt.classes[p1.classID]; cls != nil && cls.exotic != nil && cls.exotic.SetOwnProperty != nil && p1 == p {
				handled, err := cls.exotic.SetOwnProperty(ctx, p1, atom, val)
				if err != nil || handled {
					rt.freeValue(val)
					return err == nil, err
				}
			}
		}
		p1 = p1.shape.proto
	}

	if p == nil {
		rt.freeValue(val)
		return ctx.throwTypeErrorOrFalse(flags, "not an object")
	}
	if !p.extensible {
		rt.freeValue(val)
		return ctx.throwTypeErrorOrFalse(flags, "object is not extensible")
	}
	if obj.tag == TagObject && obj.object() == p {
		if p.classID == ClassArray && p.fastArray && atomIsTaggedInt(atom) && int(atom.toUint32()) == len(p.values) {
			ctx.addFastArrayElement(p, val)
			return true, nil
		}
		if !rt.isExotic(p) && (p.classID != ClassArray || !atomIsTaggedInt(atom)) {
			pr := ctx.addProperty(p, atom, PropCWE)
			pr.value = val
			return true, nil
		}
	} else {
		// different receiver: update its own data property if there is one
		desc, found, err := ctx.GetOwnProperty(p, atom)
		if err != nil {
			rt.freeValue(val)
			return false, err
		}
		if found {
			desc.Release(rt)
			if desc.Flags&PropGetSet != 0 {
				rt.freeValue(val)
				return ctx.throwTypeErrorOrFalse(flags, "setter is forbidden")
			}
			if desc.Flags&PropWritable == 0 {
				rt.freeValue(val)
				return ctx.throwTypeErrorOrFalse(flags, "'%s' is read-only", rt.AtomString(atom))
			}
			ok, err := ctx.defineProperty(p, atom, val, Undefined, Undefined, PropHasValue|(flags&(PropThrow|PropThrowStrict)))
			rt.freeValue(val)
			return ok, err
		}
	}
	ok, err := ctx.createProperty(p, atom, val, nil, nil, flags|PropHasValue|PropHasConfigurable|PropHasWritable|PropHasEnumerable|PropCWE)
	rt.freeValue(val)
	return ok, err
}

// addProperty appends a slot for atom to p and returns it. The returned
// pointer is valid until p's slots grow again.
func (ctx *Context) addProperty(p *Object, atom Atom, flags PropFlags) *Property {
	rt := ctx.rt
	flags &= propShapeMask
	sh := p.shape
	if sh.isHashed {
		if next := rt.findHashedShapeProp(sh, atom, flags); next != nil {
			p.shape = dupShape(next)
			rt.freeShape(sh)
			p.prop = append(p.prop, Property{value: Undefined})
			return &p.prop[len(p.prop)-1]
		}
		if sh.refCount != 1 {
			clone := rt.cloneShape(sh)
			clone.isHashed = true
			rt.shapeHashLink(clone)
			p.shape = clone
			rt.freeShape(sh)
		}
	}
	rt.addShapeProperty(p.shape, atom, flags)
	p.prop = append(p.prop, Property{value: Undefined})
	return &p.prop[len(p.prop)-1]
}

// createProperty adds a new own property. val, getter and setter are
// borrowed.
func (ctx *Context) createProperty(p *Object, atom Atom, val Value, getter, setter *Object, flags PropFlags) (bool, error) {
	if !p.extensible {
		return ctx.throwTypeErrorOrFalse(flags, "object is not extensible")
	}
	if atomIsTaggedInt(atom) {
		idx := atom.toUint32()
		if p.isTypedArray() {
			return ctx.throwTypeErrorOrFalse(flags, "cannot create numeric index in typed array")
		}
		if p.classID == ClassArray {
			if p.fastArray {
				if idx == uint32(len(p.values)) && flags&(PropHasGet|PropHasSet) == 0 &&
					getPropFlags(flags, 0) == PropCWE {
					ctx.addFastArrayElement(p, dupValue(val))
					return true, nil
				}
				ctx.convertFastArrayToArray(p)
			}
			if idx >= arrayLength(p) {
				if p.shape.props[0].flags&PropWritable == 0 {
					return ctx.throwTypeErrorOrFalse(flags, "array length is not writable")
				}
				p.prop[0].value = newUint32(idx + 1)
			}
		} else if p.fastArray {
			ctx.convertFastArrayToArray(p)
		}
	}
	var pflags PropFlags
	if flags&(PropHasGet|PropHasSet) != 0 {
		pflags = PropGetSet | getPropFlags(flags, 0)&(PropConfigurable|PropEnumerable)
	} else {
		pflags = getPropFlags(flags, 0)
	}
	pr := ctx.addProperty(p, atom, pflags)
	if pflags&PropTMask == PropGetSet {
		if flags&PropHasGet != 0 && getter != nil {
			pr.getter = getter.dup()
		}
		if flags&PropHasSet != 0 && setter != nil {
			pr.setter = setter.dup()
		}
	} else if flags&PropHasValue != 0 {
		pr.value = dupValue(val)
	}
	return true, nil
}

func valueToObjectOrNil(v Value) *Object {
	if v.tag == TagObject {
		return v.object()
	}
	return nil
}

// DefineProperty defines or updates an own property. val, getter and
// setter are borrowed; flags combine PropHas* bits with attribute bits.
func (ctx *Context) DefineProperty(obj *Object, atom Atom, val, getter, setter Value, flags PropFlags) (bool, error) {
	return ctx.defineProperty(obj, atom, val, getter, setter, flags)
}

// DefinePropertyValue defines a data property, consuming val.
func (ctx *Context) DefinePropertyValue(obj *Object, atom Atom, val Value, flags PropFlags) (bool, error) {
	ok, err := ctx.defineProperty(obj, atom, val, Undefined, Undefined,
		flags|PropHasValue|PropHasConfigurable|PropHasWritable|PropHasEnumerable)
	ctx.rt.freeValue(val)
	return ok, err
}

// DefinePropertyGetSet defines an accessor property. getter and setter are
// borrowed; pass Undefined for a missing half.
func (ctx *Context) DefinePropertyGetSet(obj *Object, atom Atom, getter, setter Value, flags PropFlags) (bool, error) {
	return ctx.defineProperty(obj, atom, Undefined, getter, setter,
		flags|PropHasGet|PropHasSet|PropHasConfigurable|PropHasEnumerable)
}

func (ctx *Context) defineProperty(p *Object, atom Atom, val, getter, setter Value, flags PropFlags) (bool, error) {
	rt := ctx.rt
	if p.classID == ClassProxy {
		t, err := ctx.liveProxyTarget(p)
		if err != nil {
			return false, err
		}
		return ctx.defineProperty(t, atom, val, getter, setter, flags)
	}
	for {
		idx, prs := p.shape.findProperty(atom)
		if prs == nil {
			break
		}
		pr := &p.prop[idx]
		if prs.flags&PropConfigurable == 0 {
			if flags&PropHasConfigurable != 0 && flags&PropConfigurable != 0 {
				return ctx.throwTypeErrorOrFalse(flags, "property '%s' is not configurable", rt.AtomString(atom))
			}
			if flags&PropHasEnumerable != 0 && (flags^prs.flags)&PropEnumerable != 0 {
				return ctx.throwTypeErrorOrFalse(flags, "property '%s' is not configurable", rt.AtomString(atom))
			}
			if flags&(PropHasGet|PropHasSet) != 0 {
				if prs.flags&PropTMask != PropGetSet {
					return ctx.throwTypeErrorOrFalse(flags, "property '%s' is not configurable", rt.AtomString(atom))
				}
				if flags&PropHasGet != 0 && valueToObjectOrNil(getter) != pr.getter {
					return ctx.throwTypeErrorOrFalse(flags, "property '%s' is not configurable", rt.AtomString(atom))
				}
				if flags&PropHasSet != 0 && valueToObjectOrNil(setter) != pr.setter {
					return ctx.throwTypeErrorOrFalse(flags, "property '%s' is not configurable", rt.AtomString(atom))
				}
			} else if flags&(PropHasValue|PropHasWritable) != 0 {
				if prs.flags&PropTMask == PropGetSet {
					return ctx.throwTypeErrorOrFalse(flags, "property '%s' is not configurable", rt.AtomString(atom))
				}
				if prs.flags&PropWritable == 0 {
					if flags&PropHasWritable != 0 && flags&PropWritable != 0 {
						return ctx.throwTypeErrorOrFalse(flags, "property '%s' is not configurable", rt.AtomString(atom))
					}
					if flags&PropHasValue != 0 && prs.flags&PropTMask == PropNormal && !sameValue(val, pr.value) {
						return ctx.throwTypeErrorOrFalse(flags, "property '%s' is read-only", rt.AtomString(atom))
					}
				}
			}
		}

		if flags&(PropHasGet|PropHasSet) != 0 {
			if prs.flags&PropTMask != PropGetSet {
				rt.prepareUpdate(p)
				idx, prs = p.shape.findProperty(atom)
				pr = &p.prop[idx]
				rt.freeProperty(pr, prs.flags)
				prs.flags = (prs.flags & (PropConfigurable | PropEnumerable)) | PropGetSet
				p.shape.version++
			}
			if flags&PropHasGet != 0 {
				old := pr.getter
				pr.getter = nil
				if g := valueToObjectOrNil(getter); g != nil {
					pr.getter = g.dup()
				}
				rt.freeObjectRef(old)
			}
			if flags&PropHasSet != 0 {
				old := pr.setter
				pr.setter = nil
				if s := valueToObjectOrNil(setter); s != nil {
					pr.setter = s.dup()
				}
				rt.freeObjectRef(old)
			}
		} else if flags&(PropHasValue|PropHasWritable) != 0 {
			switch prs.flags & PropTMask {
			case PropGetSet:
				rt.prepareUpdate(p)
				idx, prs = p.shape.findProperty(atom)
				pr = &p.prop[idx]
				rt.freeProperty(pr, prs.flags)
				prs.flags &= PropConfigurable | PropEnumerable
				pr.value = Undefined
				p.shape.version++
			case PropVarRef:
				if flags&PropHasWritable != 0 && flags&PropWritable == 0 {
					// a read-only alias becomes a plain copy of the binding
					v := dupValue(*pr.varRef.pvalue)
					rt.prepareUpdate(p)
					idx, prs = p.shape.findProperty(atom)
					pr = &p.prop[idx]
					rt.freeVarRef(pr.varRef)
					pr.varRef = nil
					pr.value = v
					prs.flags &^= PropTMask
					p.shape.version++
				}
			}
			if prs.flags&PropLength != 0 {
				if flags&PropHasValue != 0 {
					if _, err := ctx.setArrayLength(p, dupValue(val), flags|PropThrow); err != nil {
						return false, err
					}
					idx, prs = p.shape.findProperty(atom)
				}
			} else if flags&PropHasValue != 0 {
				if prs.flags&PropTMask == PropVarRef {
					old := *pr.varRef.pvalue
					*pr.varRef.pvalue = dupValue(val)
					rt.freeValue(old)
				} else {
					old := pr.value
					pr.value = dupValue(val)
					rt.freeValue(old)
				}
			}
			if flags&PropHasWritable != 0 && (prs.flags^flags)&PropWritable != 0 {
				rt.prepareUpdate(p)
				_, prs = p.shape.findProperty(atom)
				prs.flags = (prs.flags &^ PropWritable) | (flags & PropWritable)
				p.shape.version++
			}
		}
		mask := (flags >> propHasShift) & (PropConfigurable | PropEnumerable)
		if mask != 0 && (prs.flags^flags)&mask != 0 {
			rt.prepareUpdate(p)
			_, prs = p.shape.findProperty(atom)
			prs.flags = (prs.flags &^ mask) | (flags & mask)
			p.shape.version++
		}
		return true, nil
	}

	if atomIsTaggedInt(atom) && rt.isExotic(p) {
		idx := int(atom.toUint32())
		switch {
		case p.fastArray:
			if idx < len(p.values) {
				if flags&(PropHasGet|PropHasSet) != 0 || getPropFlags(flags, PropCWE) != PropCWE {
					ctx.convertFastArrayToArray(p)
					return ctx.defineProperty(p, atom, val, getter, setter, flags)
				}
				if flags&PropHasValue != 0 {
					old := p.values[idx]
					p.values[idx] = dupValue(val)
					rt.freeValue(old)
				}
				return true, nil
			}
		case p.isTypedArray():
			if idx >= typedArrayLength(p) {
				return ctx.throwTypeErrorOrFalse(flags, "out-of-bound numeric index")
			}
			if flags&(PropHasGet|PropHasSet) != 0 {
				return ctx.throwTypeErrorOrFalse(flags, "invalid descriptor flags")
			}
			if flags&PropHasValue != 0 {
				return ctx.typedArraySet(p, idx, dupValue(val))
			}
			return true, nil
		case p.classID == ClassString:
			if idx < strLength(p.objectData.str().s) {
				return ctx.throwTypeErrorOrFalse(flags, "property '%s' is not configurable", rt.AtomString(atom))
			}
		}
	}
	return ctx.createProperty(p, atom, val, valueToObjectOrNil(getter), valueToObjectOrNil(setter), flags)
}

// DeleteProperty removes an own property. Non-configurable properties
// yield false, or a TypeError with PropThrow.
func (ctx *Context) DeleteProperty(obj Value, atom Atom, flags PropFlags) (bool, error) {
	if obj.tag != TagObject {
		o, err := ctx.ToObject(obj)
		if err != nil {
			return false, err
		}
		defer ctx.rt.freeValue(o)
		obj = o
	}
	ok, err := ctx.deleteProperty(obj.object(), atom)
	if err != nil {
		return false, err
	}
	if !ok {
		return ctx.throwTypeErrorOrFalse(flags, "could not delete property '%s'", ctx.rt.AtomString(atom))
	}
	return true, nil
}

func (ctx *Context) deleteProperty(p *Object, atom Atom) (bool, error) {
	rt := ctx.rt
	for {
		sh := p.shape
		b := uint32(atom) & sh.hashMask
		var prev *shapeProperty
		i := sh.hashHeads[b]
		for i != 0 {
			prs := &sh.props[i-1]
			if prs.atom == atom {
				if prs.flags&PropConfigurable == 0 {
					return false, nil
				}
				if sh.isHashed {
					rt.prepareUpdate(p)
					// the shape may have been cloned; retry against the copy
					break
				}
				if prev == nil {
					sh.hashHeads[b] = prs.hashNext
				} else {
					prev.hashNext = prs.hashNext
				}
				sh.deletedPropCount++
				pr := &p.prop[i-1]
				rt.freeProperty(pr, prs.flags)
				prs.flags = 0
				prs.atom = AtomNull
				prs.hashNext = 0
				sh.version++
				if sh.deletedPropCount >= compactMinDeleted && sh.deletedPropCount >= len(sh.props)/2 {
					rt.compactProperties(p)
				}
				return true, nil
			}
			prev = prs
			i = prs.hashNext
		}
		if i != 0 {
			continue
		}
		break
	}

	if rt.isExotic(p) {
		if p.classID == ClassProxy {
			return ctx.proxyDelete(p, atom)
		}
		if atomIsTaggedInt(atom) {
			idx := int(atom.toUint32())
			switch {
			case p.fastArray:
				if idx < len(p.values) {
					if idx == len(p.values)-1 {
						rt.freeValue(p.values[idx])
						p.values[idx] = Undefined
						p.values = p.values[:idx]
						return true, nil
					}
					ctx.convertFastArrayToArray(p)
					return ctx.deleteProperty(p, atom)
				}
			case p.isTypedArray():
				return idx >= typedArrayLength(p), nil
			case p.classID == ClassString:
				return idx >= strLength(p.objectData.str().s), nil
			}
		}
		if cls := rt.classes[p.classID]; cls != nil && cls.exotic != nil && cls.exotic.DeleteProperty != nil {
			deleted, handled, err := cls.exotic.DeleteProperty(ctx, p, atom)
			if err != nil || handled {
				return deleted, err
			}
		}
	}
	return true, nil
}

// GetOwnPropertyNames lists own keys: indices ascending, then strings in
// insertion order, then symbols.
func (ctx *Context) GetOwnPropertyNames(p *Object, flags int) ([]Atom, error) {
	rt := ctx.rt
	if p.classID == ClassProxy {
		t, err := ctx.liveProxyTarget(p)
		if err != nil {
			return nil, err
		}
		return ctx.GetOwnPropertyNames(t, flags)
	}
	var indices []uint32
	var strs, syms []Atom
	if flags&GPNStringMask != 0 {
		n := 0
		switch {
		case p.fastArray:
			n = len(p.values)
		case p.isTypedArray():
			n = typedArrayLength(p)
		case p.classID == ClassString:
			n = strLength(p.objectData.str().s)
		}
		for i := 0; i < n; i++ {
			indices = append(indices, uint32(i))
		}
	}
	sh := p.shape
	for i := range sh.props {
		prs := &sh.props[i]
		if prs.atom == AtomNull {
			continue
		}
		if flags&GPNEnumOnly != 0 && prs.flags&PropEnumerable == 0 {
			continue
		}
		switch {
		case atomIsTaggedInt(prs.atom):
			if flags&GPNStringMask != 0 {
				indices = append(indices, prs.atom.toUint32())
			}
		case rt.atomIsSymbol(prs.atom):
			if flags&GPNSymbolMask != 0 {
				syms = append(syms, prs.atom)
			}
		default:
			if flags&GPNStringMask != 0 {
				strs = append(strs, prs.atom)
			}
		}
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })
	out := make([]Atom, 0, len(indices)+len(strs)+len(syms))
	for _, i := range indices {
		out = append(out, atomFromUint32(i))
	}
	out = append(out, strs...)
	out = append(out, syms...)
	return out, nil
}

// GetPrototype returns a new reference to obj's prototype, or Null.
func (ctx *Context) GetPrototype(obj Value) (Value, error) {
	var p *Object
	if obj.tag == TagObject {
		p = obj.object().shape.proto
		if obj.object().classID == ClassProxy {
			t, err := ctx.liveProxyTarget(obj.object())
			if err != nil {
				return Undefined, err
			}
			return ctx.GetPrototype(objValue(t))
		}
	} else {
		if obj.IsUndefinedOrNull() {
			return Undefined, ctx.ThrowTypeError("cannot convert %s to object", obj.String())
		}
		p = ctx.protoForPrimitive(obj)
	}
	if p == nil {
		return Null, nil
	}
	return p.Value(), nil
}

// SetPrototype changes obj's prototype. Cycles and non-extensible targets
// are rejected.
func (ctx *Context) SetPrototype(obj *Object, proto Value, flags PropFlags) (bool, error) {
	rt := ctx.rt
	var np *Object
	switch proto.tag {
	case TagObject:
		np = proto.object()
	case TagNull:
	default:
		return false, ctx.ThrowTypeError("prototype must be an object or null")
	}
	if obj.classID == ClassProxy {
		t, err := ctx.liveProxyTarget(obj)
		if err != nil {
			return false, err
		}
		return ctx.SetPrototype(t, proto, flags)
	}
	if obj.shape.proto == np {
		return true, nil
	}
	if !obj.extensible {
		return ctx.throwTypeErrorOrFalse(flags, "object is not extensible")
	}
	depth := 0
	for q := np; q != nil; q = q.shape.proto {
		if q == obj {
			return ctx.throwTypeErrorOrFalse(flags|PropThrow, "circular prototype chain")
		}
		if depth++; depth > maxProtoChainDepth {
			return false, ctx.ThrowInternalError("prototype chain too deep")
		}
	}
	rt.prepareUpdate(obj)
	sh := obj.shape
	old := sh.proto
	if np != nil {
		np.refCount++
	}
	sh.proto = np
	sh.version++
	rt.freeObjectRef(old)
	return true, nil
}

// PreventExtensions makes obj non-extensible.
func (ctx *Context) PreventExtensions(obj *Object) error {
	if obj.classID == ClassProxy {
		t, err := ctx.liveProxyTarget(obj)
		if err != nil {
			return err
		}
		return ctx.PreventExtensions(t)
	}
	if obj.fastArray {
		ctx.convertFastArrayToArray(obj)
	}
	obj.extensible = false
	return nil
}

// getPropertyValue implements obj[key] for a computed key. key is borrowed.
func (ctx *Context) getPropertyValue(obj Value, key Value) (Value, error) {
	if obj.tag == TagObject && key.tag == TagInt {
		p := obj.object()
		if idx := key.Int32(); idx >= 0 {
			if p.fastArray && int(idx) < len(p.values) {
				return dupValue(p.values[idx]), nil
			}
			if p.isTypedArray() {
				v, _ := typedArrayGet(p, int(idx))
				return v, nil
			}
		}
	}
	atom, err := ctx.valueToAtom(key)
	if err != nil {
		return Undefined, err
	}
	return ctx.GetProperty(obj, atom)
}

// setPropertyValue implements obj[key] = val. key is borrowed, val consumed.
func (ctx *Context) setPropertyValue(obj Value, key Value, val Value, flags PropFlags) (bool, error) {
	if obj.tag == TagObject && key.tag == TagInt {
		p := obj.object()
		if idx := key.Int32(); idx >= 0 {
			if p.fastArray {
				if int(idx) < len(p.values) {
					old := p.values[idx]
					p.values[idx] = val
					ctx.rt.freeValue(old)
					return true, nil
				}
				if p.classID == ClassArray && int(idx) == len(p.values) && p.extensible && !ctx.arrayProtoHasIndices() {
					ctx.addFastArrayElement(p, val)
					return true, nil
				}
			} else if p.isTypedArray() {
				return ctx.typedArraySet(p, int(idx), val)
			}
		}
	}
	atom, err := ctx.valueToAtom(key)
	if err != nil {
		ctx.rt.freeValue(val)
		return false, err
	}
	return ctx.setPropertyInternal(obj, atom, val, obj, flags)
}

// arrayProtoHasIndices guards the append fast path: an indexed setter on
// Array.prototype or Object.prototype must still be honored.
func (ctx *Context) arrayProtoHasIndices() bool {
	for _, p := range [...]*Object{ctx.arrayProto, ctx.objectProto} {
		if p.fastArray && len(p.values) > 0 {
			return true
		}
		for i := range p.shape.props {
			if atomIsTaggedInt(p.shape.props[i].atom) {
				return true
			}
		}
	}
	return false
}

// GetPropertyStr reads obj[name].
func (ctx *Context) GetPropertyStr(obj Value, name string) (Value, error) {
	return ctx.GetProperty(obj, ctx.rt.NewAtom(name))
}

// SetPropertyStr assigns obj[name] = val, consuming val.
func (ctx *Context) SetPropertyStr(obj Value, name string, val Value) error {
	return ctx.SetProperty(obj, ctx.rt.NewAtom(name), val)
}

// GetPropertyUint32 reads obj[idx].
func (ctx *Context) GetPropertyUint32(obj Value, idx uint32) (Value, error) {
	if idx <= maxAtomIndex {
		return ctx.getPropertyValue(obj, newUint32(idx))
	}
	return ctx.GetPropertyStr(obj, numberToString(float64(idx)))
}

// SetPropertyUint32 assigns obj[idx] = val, consuming val.
func (ctx *Context) SetPropertyUint32(obj Value, idx uint32, val Value) error {
	if idx <= maxAtomIndex {
		_, err := ctx.setPropertyValue(obj, newUint32(idx), val, PropThrow)
		return err
	}
	return ctx.SetPropertyStr(obj, numberToString(float64(idx)), val)
}
