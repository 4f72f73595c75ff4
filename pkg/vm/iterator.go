package vm

// forInIterator snapshots the enumerable string keys of an object and its
// prototypes when the loop starts. Keys deleted during the loop are
// skipped; keys added are not visited.
type forInIterator struct {
	obj  Value
	keys []Atom
	idx  int
}

func forInIteratorFinalizer(rt *Runtime, p *Object) {
	if it, ok := p.payload.(*forInIterator); ok {
		rt.freeValue(it.obj)
		it.obj = Undefined
	}
}

func forInIteratorMark(rt *Runtime, p *Object, mf markFunc) {
	if it, ok := p.payload.(*forInIterator); ok {
		rt.markValue(it.obj, mf)
	}
}

func (ctx *Context) newForInIterator(v Value) (*Object, error) {
	rt := ctx.rt
	it := &forInIterator{obj: Undefined}
	if !v.IsUndefinedOrNull() {
		ov, err := ctx.ToObject(v)
		if err != nil {
			return nil, err
		}
		it.obj = ov
		seen := make(map[Atom]bool)
		p := ov.object()
		for depth := 0; p != nil; depth++ {
			if depth > maxProtoChainDepth {
				rt.freeValue(ov)
				return nil, ctx.ThrowInternalError("prototype chain too deep")
			}
			names, err := ctx.GetOwnPropertyNames(p, GPNStringMask)
			if err != nil {
				rt.freeValue(ov)
				return nil, err
			}
			for _, a := range names {
				if seen[a] {
					continue
				}
				seen[a] = true
				desc, ok, err := ctx.GetOwnProperty(p, a)
				if err != nil {
					rt.freeValue(ov)
					return nil, err
				}
				if ok && desc.Flags&PropEnumerable != 0 {
					it.keys = append(it.keys, a)
				}
				desc.Release(rt)
			}
			if p.classID == ClassProxy {
				p = proxyTarget(p)
			}
			p = p.shape.proto
		}
	}
	obj := ctx.newObjectProtoClass(nil, ClassForInIterator)
	obj.payload = it
	return obj, nil
}

// forInNext returns the next key still present on the object.
func (ctx *Context) forInNext(iterVal Value) (Value, bool, error) {
	it := iterVal.object().payload.(*forInIterator)
	for it.idx < len(it.keys) {
		a := it.keys[it.idx]
		it.idx++
		ok, err := ctx.HasProperty(it.obj.object(), a)
		if err != nil {
			return Undefined, false, err
		}
		if ok {
			return ctx.rt.atomToValue(a), false, nil
		}
	}
	return Undefined, true, nil
}

type arrayIteratorKind uint8

const (
	iterateValues arrayIteratorKind = iota
	iterateKeys
	iterateEntries
)

type arrayIterator struct {
	obj  Value // Undefined once exhausted
	idx  uint32
	kind arrayIteratorKind
}

func arrayIteratorFinalizer(rt *Runtime, p *Object) {
	if it, ok := p.payload.(*arrayIterator); ok {
		rt.freeValue(it.obj)
		it.obj = Undefined
	}
}

func arrayIteratorMark(rt *Runtime, p *Object, mf markFunc) {
	if it, ok := p.payload.(*arrayIterator); ok {
		rt.markValue(it.obj, mf)
	}
}

func (ctx *Context) newArrayIterator(this Value, kind arrayIteratorKind) (Value, error) {
	ov, err := ctx.ToObject(this)
	if err != nil {
		return Undefined, err
	}
	p := ctx.newObjectProtoClass(ctx.arrayIteratorProto, ClassArrayIterator)
	p.payload = &arrayIterator{obj: ov, kind: kind}
	return objValue(p), nil
}

func arrayValues(ctx *Context, this Value, args []Value) (Value, error) {
	return ctx.newArrayIterator(this, iterateValues)
}

func arrayKeys(ctx *Context, this Value, args []Value) (Value, error) {
	return ctx.newArrayIterator(this, iterateKeys)
}

func arrayEntries(ctx *Context, this Value, args []Value) (Value, error) {
	return ctx.newArrayIterator(this, iterateEntries)
}

func arrayIteratorNext(ctx *Context, this Value, args []Value) (Value, error) {
	rt := ctx.rt
	p := this.AsObject()
	if p == nil || p.classID != ClassArrayIterator {
		return Undefined, ctx.ThrowTypeError("not an Array Iterator")
	}
	it := p.payload.(*arrayIterator)
	if it.obj.IsUndefined() {
		return ctx.newIterResult(Undefined, true), nil
	}
	var n int64
	if op := it.obj.object(); op.isTypedArray() {
		n = int64(typedArrayLength(op))
	} else {
		var err error
		if n, err = ctx.LengthOf(it.obj); err != nil {
			return Undefined, err
		}
	}
	if int64(it.idx) >= n {
		obj := it.obj
		it.obj = Undefined
		rt.freeValue(obj)
		return ctx.newIterResult(Undefined, true), nil
	}
	idx := it.idx
	it.idx++
	if it.kind == iterateKeys {
		return ctx.newIterResult(newUint32(idx), false), nil
	}
	v, err := ctx.GetPropertyUint32(it.obj, idx)
	if err != nil {
		return Undefined, err
	}
	if it.kind == iterateEntries {
		v = objValue(ctx.newArrayFrom([]Value{newUint32(idx), v}))
	}
	return ctx.newIterResult(v, false), nil
}

// arrayValuesFunction returns Array.prototype.values, shared with
// Array.prototype[Symbol.iterator] and the typed arrays.
func (ctx *Context) arrayValuesFunction() Value {
	if ctx.arrayValuesFn == nil {
		ctx.arrayValuesFn = ctx.NewFunction(arrayValues, "values", 0).object()
	}
	return ctx.arrayValuesFn.Value()
}

func (ctx *Context) initArrayIterator() {
	ctx.defineFunc(ctx.arrayIteratorProto, "next", arrayIteratorNext, 0)
	ctx.DefinePropertyValue(ctx.arrayIteratorProto, AtomSymbolToStringTag, newStringValue("Array Iterator"), PropConfigurable)
	ctx.DefinePropertyValue(ctx.arrayProto, ctx.rt.NewAtom("values"), ctx.arrayValuesFunction(), PropWritable|PropConfigurable)
	ctx.DefinePropertyValue(ctx.arrayProto, AtomSymbolIterator, ctx.arrayValuesFunction(), PropWritable|PropConfigurable)
	ctx.defineFunc(ctx.arrayProto, "keys", arrayKeys, 0)
	ctx.defineFunc(ctx.arrayProto, "entries", arrayEntries, 0)
}

// getIterator calls obj[Symbol.iterator]() and fetches its next method.
// Both results are new references.
func (ctx *Context) getIterator(obj Value) (iter, next Value, err error) {
	rt := ctx.rt
	method, err := ctx.GetProperty(obj, AtomSymbolIterator)
	if err != nil {
		return Undefined, Undefined, err
	}
	if !rt.isCallable(method) {
		rt.freeValue(method)
		return Undefined, Undefined, ctx.ThrowTypeError("%s is not iterable", describeValue(obj))
	}
	iter, err = ctx.callInternal(method, obj, Undefined, nil, 0)
	rt.freeValue(method)
	if err != nil {
		return Undefined, Undefined, err
	}
	if iter.tag != TagObject {
		rt.freeValue(iter)
		return Undefined, Undefined, ctx.ThrowTypeError("iterator must be an object")
	}
	next, err = ctx.GetProperty(iter, AtomNext)
	if err != nil {
		rt.freeValue(iter)
		return Undefined, Undefined, err
	}
	return iter, next, nil
}

// iteratorStep calls next and unpacks the result. value is Undefined when
// done is true.
func (ctx *Context) iteratorStep(iter, next Value) (Value, bool, error) {
	rt := ctx.rt
	res, err := ctx.callInternal(next, iter, Undefined, nil, 0)
	if err != nil {
		return Undefined, false, err
	}
	defer rt.freeValue(res)
	if res.tag != TagObject {
		return Undefined, false, ctx.ThrowTypeError("iterator result is not an object")
	}
	d, err := ctx.GetProperty(res, AtomDone)
	if err != nil {
		return Undefined, false, err
	}
	done := ctx.ToBool(d)
	rt.freeValue(d)
	if done {
		return Undefined, true, nil
	}
	v, err := ctx.GetProperty(res, AtomValue)
	if err != nil {
		return Undefined, false, err
	}
	return v, false, nil
}

// iteratorClose calls iter.return() if the iterator has one.
func (ctx *Context) iteratorClose(iter Value) error {
	rt := ctx.rt
	method, err := ctx.GetProperty(iter, AtomReturn)
	if err != nil {
		return err
	}
	if method.IsUndefinedOrNull() {
		return nil
	}
	res, err := ctx.callInternal(method, iter, Undefined, nil, 0)
	rt.freeValue(method)
	if err != nil {
		return err
	}
	defer rt.freeValue(res)
	if res.tag != TagObject {
		return ctx.ThrowTypeError("iterator result is not an object")
	}
	return nil
}

// iteratorCloseQuiet closes iter while another exception is propagating;
// errors raised by return() are dropped.
func (ctx *Context) iteratorCloseQuiet(iter Value) {
	if err := ctx.iteratorClose(iter); err != nil {
		ctx.rt.freeValue(ctx.exceptionValue(err))
	}
}

// Iterate runs fn on every value obj's iterator produces. Each value is
// borrowed for the duration of the call. An error from fn closes the
// iterator.
func (ctx *Context) Iterate(obj Value, fn func(v Value) error) error {
	rt := ctx.rt
	iter, next, err := ctx.getIterator(obj)
	if err != nil {
		return err
	}
	defer rt.freeValue(iter)
	defer rt.freeValue(next)
	for {
		v, done, err := ctx.iteratorStep(iter, next)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		err = fn(v)
		rt.freeValue(v)
		if err != nil {
			ctx.iteratorCloseQuiet(iter)
			return err
		}
	}
}

// NewIteratorResult builds {value, done}, consuming v.
func (ctx *Context) NewIteratorResult(v Value, done bool) Value { return ctx.newIterResult(v, done) }

// IteratorPrototype returns a new reference to %IteratorPrototype%, whose
// [Symbol.iterator] returns this.
func (ctx *Context) IteratorPrototype() *Object { return ctx.iteratorProto.dup() }
