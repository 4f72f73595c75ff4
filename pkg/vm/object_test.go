package vm

import "testing"

func TestShape_HashConsing(t *testing.T) {
	rt, ctx := newTestContext(t)
	a := ctx.NewObject()
	b := ctx.NewObject()
	c := ctx.NewObject()
	defer rt.FreeValue(a)
	defer rt.FreeValue(b)
	defer rt.FreeValue(c)
	for _, o := range []Value{a, b} {
		ctx.SetPropertyStr(o, "x", NewInt32(1))
		ctx.SetPropertyStr(o, "y", NewInt32(2))
	}
	ctx.SetPropertyStr(c, "y", NewInt32(2))
	ctx.SetPropertyStr(c, "x", NewInt32(1))

	if a.AsObject().Shape() != b.AsObject().Shape() {
		t.Errorf("Expected objects built the same way to share a shape")
	}
	if a.AsObject().Shape() == c.AsObject().Shape() {
		t.Errorf("Expected a different insertion order to give a different shape")
	}
}

func TestShape_DeleteDoesNotAffectSharers(t *testing.T) {
	rt, ctx := newTestContext(t)
	a := ctx.NewObject()
	b := ctx.NewObject()
	defer rt.FreeValue(a)
	defer rt.FreeValue(b)
	for _, o := range []Value{a, b} {
		ctx.SetPropertyStr(o, "x", NewInt32(1))
		ctx.SetPropertyStr(o, "y", NewInt32(2))
	}
	ok, err := ctx.DeleteProperty(a, rt.NewAtom("x"), 0)
	if err != nil || !ok {
		t.Fatalf("DeleteProperty failed: %v %v", ok, err)
	}
	if a.AsObject().Shape() == b.AsObject().Shape() {
		t.Errorf("Expected delete to unshare the shape")
	}
	if got := getInt(t, ctx, b, "x"); got != 1 {
		t.Errorf("Expected b.x to survive, got %d", got)
	}
	has, _ := ctx.HasProperty(a.AsObject(), rt.NewAtom("x"))
	if has {
		t.Errorf("Expected a.x to be gone")
	}
	if got := getInt(t, ctx, a, "y"); got != 2 {
		t.Errorf("Expected a.y == 2, got %d", got)
	}
}

func TestShape_CompactionAfterManyDeletes(t *testing.T) {
	rt, ctx := newTestContext(t)
	o := ctx.NewObject()
	defer rt.FreeValue(o)
	names := []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k", "l", "m", "n", "o", "p"}
	for i, n := range names {
		ctx.SetPropertyStr(o, n, NewInt32(int32(i)))
	}
	for _, n := range names[:8] {
		ctx.DeleteProperty(o, rt.NewAtom(n), 0)
	}
	if l := o.AsObject().Shape().Len(); l != 8 {
		t.Errorf("Expected tombstones to be compacted away, shape has %d slots", l)
	}
	for i, n := range names[8:] {
		if got := getInt(t, ctx, o, n); got != int32(8+i) {
			t.Errorf("Expected %s == %d, got %d", n, 8+i, got)
		}
	}
}

func TestObject_PrototypeCycleRejected(t *testing.T) {
	rt, ctx := newTestContext(t)
	a := ctx.NewObject()
	b := ctx.NewObject()
	defer rt.FreeValue(a)
	defer rt.FreeValue(b)
	if _, err := ctx.SetPrototype(b.AsObject(), a, PropThrow); err != nil {
		t.Fatalf("SetPrototype failed: %v", err)
	}
	_, err := ctx.SetPrototype(a.AsObject(), b, PropThrow)
	expectThrow(t, ctx, err, "TypeError", "")
}

func TestObject_ReadOnlyWrite(t *testing.T) {
	rt, ctx := newTestContext(t)
	o := ctx.NewObject()
	defer rt.FreeValue(o)
	atom := rt.NewAtom("fixed")
	ctx.DefinePropertyValue(o.AsObject(), atom, NewInt32(1), PropEnumerable)
	ok, err := ctx.setPropertyInternal(o, atom, NewInt32(2), o, 0)
	if err != nil || ok {
		t.Errorf("Expected a silent failure, got ok=%v err=%v", ok, err)
	}
	_, err = ctx.setPropertyInternal(o, atom, NewInt32(2), o, PropThrow)
	expectThrow(t, ctx, err, "TypeError", "")
	if got := getInt(t, ctx, o, "fixed"); got != 1 {
		t.Errorf("Expected the value to stay 1, got %d", got)
	}
}

func TestObject_Accessor(t *testing.T) {
	rt, ctx := newTestContext(t)
	o := ctx.NewObject()
	defer rt.FreeValue(o)
	stored := int32(0)
	getter := ctx.NewFunction(func(ctx *Context, this Value, args []Value) (Value, error) {
		return NewInt32(stored * 2), nil
	}, "get", 0)
	setter := ctx.NewFunction(func(ctx *Context, this Value, args []Value) (Value, error) {
		n, err := ctx.ToInt32(args[0])
		stored = n
		return Undefined, err
	}, "set", 1)
	ctx.DefinePropertyGetSet(o.AsObject(), rt.NewAtom("twice"), getter, setter, PropConfigurable)
	rt.FreeValue(getter)
	rt.FreeValue(setter)
	ctx.SetPropertyStr(o, "twice", NewInt32(21))
	if got := getInt(t, ctx, o, "twice"); got != 42 {
		t.Errorf("Expected 42 through the accessor, got %d", got)
	}
}

func TestArray_FastPath(t *testing.T) {
	rt, ctx := newTestContext(t)
	arr := ctx.NewArray()
	defer rt.FreeValue(arr)
	for i := uint32(0); i < 4; i++ {
		ctx.SetPropertyUint32(arr, i, NewInt32(int32(i*10)))
	}
	p := arr.AsObject()
	if !p.IsFastArray() {
		t.Fatalf("Expected appends to keep the array fast")
	}
	if n, _ := ctx.LengthOf(arr); n != 4 {
		t.Errorf("Expected length 4, got %d", n)
	}
	if len(ctx.ArrayElements(arr)) != 4 {
		t.Errorf("Expected 4 dense elements")
	}
	ctx.SetPropertyUint32(arr, 10, NewInt32(1))
	if p.IsFastArray() {
		t.Errorf("Expected a hole to convert the array")
	}
	if n, _ := ctx.LengthOf(arr); n != 11 {
		t.Errorf("Expected length 11, got %d", n)
	}
	v, _ := ctx.GetPropertyUint32(arr, 2)
	expectInt(t, v, 20)
}

func TestArray_LengthTruncates(t *testing.T) {
	rt, ctx := newTestContext(t)
	arr := ctx.NewArrayFrom([]Value{NewInt32(1), NewInt32(2), NewInt32(3)})
	defer rt.FreeValue(arr)
	if err := ctx.SetPropertyStr(arr, "length", NewInt32(1)); err != nil {
		t.Fatal(err)
	}
	if n, _ := ctx.LengthOf(arr); n != 1 {
		t.Errorf("Expected length 1, got %d", n)
	}
	v, _ := ctx.GetPropertyUint32(arr, 2)
	if !v.IsUndefined() {
		t.Errorf("Expected truncated element to be undefined, got %s", v)
	}
}

func TestTypedArray_Uint8Wraps(t *testing.T) {
	rt, ctx := newTestContext(t)
	ctor, err := ctx.GetGlobal("Uint8Array")
	if err != nil {
		t.Fatal(err)
	}
	defer rt.FreeValue(ctor)
	ta, err := ctx.CallConstructor(ctor, NewInt32(4))
	if err != nil {
		t.Fatalf("new Uint8Array failed: %v", err)
	}
	defer rt.FreeValue(ta)
	ctx.SetPropertyUint32(ta, 1, NewInt32(300))
	v, _ := ctx.GetPropertyUint32(ta, 1)
	expectInt(t, v, 44)
	data, ok := ctx.ArrayBufferBytes(ta)
	if !ok || len(data) != 4 || data[1] != 44 {
		t.Errorf("Expected backing bytes [0 44 0 0], got %v", data)
	}
	if n, _ := ctx.LengthOf(ta); n != 4 {
		t.Errorf("Expected length 4, got %d", n)
	}
}

func TestProxy_GetTrap(t *testing.T) {
	rt, ctx := newTestContext(t)
	target := ctx.NewObject()
	handler := ctx.NewObject()
	defer rt.FreeValue(target)
	defer rt.FreeValue(handler)
	ctx.SetPropertyStr(handler, "get", ctx.NewFunction(func(ctx *Context, this Value, args []Value) (Value, error) {
		return NewInt32(42), nil
	}, "get", 3))
	proxy, err := ctx.NewProxy(target, handler)
	if err != nil {
		t.Fatal(err)
	}
	defer rt.FreeValue(proxy)
	if got := getInt(t, ctx, proxy, "anything"); got != 42 {
		t.Errorf("Expected trap result 42, got %d", got)
	}
}

// newRevokedProxy returns a revoked proxy and its target.
func newRevokedProxy(t *testing.T, ctx *Context) (proxy, target Value) {
	t.Helper()
	rt := ctx.rt
	proxyCtor, _ := ctx.GetGlobal("Proxy")
	defer rt.FreeValue(proxyCtor)
	revocable, _ := ctx.GetPropertyStr(proxyCtor, "revocable")
	defer rt.FreeValue(revocable)
	target, handler := ctx.NewObject(), ctx.NewObject()
	pair, err := ctx.Call(revocable, proxyCtor, target, handler)
	rt.FreeValue(handler)
	if err != nil {
		t.Fatal(err)
	}
	defer rt.FreeValue(pair)
	revoke, _ := ctx.GetPropertyStr(pair, "revoke")
	defer rt.FreeValue(revoke)
	proxy, _ = ctx.GetPropertyStr(pair, "proxy")
	if _, err := ctx.Call(revoke, Undefined); err != nil {
		t.Fatal(err)
	}
	return proxy, target
}

func TestProxy_Revoked(t *testing.T) {
	rt, ctx := newTestContext(t)
	proxy, target := newRevokedProxy(t, ctx)
	defer rt.FreeValue(proxy)
	defer rt.FreeValue(target)
	_, err := ctx.GetPropertyStr(proxy, "x")
	expectThrow(t, ctx, err, "TypeError", "revoked")
}

func TestProxy_RevokedRejectsObjectOperations(t *testing.T) {
	rt, ctx := newTestContext(t)
	proxy, target := newRevokedProxy(t, ctx)
	defer rt.FreeValue(proxy)
	defer rt.FreeValue(target)
	p, tgt := proxy.AsObject(), target.AsObject()
	x := rt.NewAtom("x")

	_, err := ctx.DefineProperty(p, x, NewInt32(1), Undefined, Undefined, PropCWE|PropHasValue)
	expectThrow(t, ctx, err, "TypeError", "revoked")
	if _, prs := tgt.shape.findProperty(x); prs != nil {
		t.Errorf("Expected target without x, got it defined")
	}

	_, err = ctx.GetOwnPropertyNames(p, GPNStringMask)
	expectThrow(t, ctx, err, "TypeError", "revoked")

	_, err = ctx.GetPrototype(proxy)
	expectThrow(t, ctx, err, "TypeError", "revoked")

	_, err = ctx.SetPrototype(p, Null, PropThrow)
	expectThrow(t, ctx, err, "TypeError", "revoked")
	if tgt.shape.proto == nil {
		t.Errorf("Expected target prototype unchanged, got null")
	}

	err = ctx.PreventExtensions(p)
	expectThrow(t, ctx, err, "TypeError", "revoked")
	if !tgt.extensible {
		t.Errorf("Expected target to stay extensible, got non-extensible")
	}
}

// defineFieldReader returns a function read(o) that returns o.x.
func defineFieldReader(t *testing.T, ctx *Context) Value {
	t.Helper()
	fb := NewFunctionBuilder(ctx.rt, "read")
	fb.SetArgCount(1)
	fb.EmitU16(OpGetArg, 0)
	fb.EmitAtom(OpGetField, "x")
	fb.Emit(OpReturn)
	b := mustBuild(t, fb)
	defer ctx.rt.ReleaseBytecode(b)
	fn, err := ctx.newClosure(b, nil)
	if err != nil {
		t.Fatal(err)
	}
	return objValue(fn)
}

func TestInlineCache_HitsAndStaleness(t *testing.T) {
	rt, ctx := newTestContext(t)
	read := defineFieldReader(t, ctx)
	defer rt.FreeValue(read)
	o := ctx.NewObject()
	defer rt.FreeValue(o)
	ctx.SetPropertyStr(o, "x", NewInt32(1))

	call := func(obj Value) Value {
		v, err := ctx.Call(read, Undefined, obj)
		if err != nil {
			t.Fatal(err)
		}
		return v
	}
	expectInt(t, call(o), 1)
	expectInt(t, call(o), 1)
	if rt.CacheStats().Hits == 0 {
		t.Errorf("Expected the second read to hit the cache")
	}

	// removing x and re-adding it in place changes the property layout
	ctx.SetPropertyStr(o, "y", NewInt32(5))
	ctx.DeleteProperty(o, rt.NewAtom("x"), 0)
	ctx.SetPropertyStr(o, "x", NewInt32(7))
	expectInt(t, call(o), 7)

	other := ctx.NewObject()
	defer rt.FreeValue(other)
	ctx.SetPropertyStr(other, "z", NewInt32(0))
	ctx.SetPropertyStr(other, "x", NewInt32(3))
	expectInt(t, call(other), 3)
	expectInt(t, call(o), 7)

	b := read.AsObject().fn.b
	if st := b.cacheAt(3).State(); st != CacheStatePolymorphic {
		t.Errorf("Expected a polymorphic site, got %s", st)
	}
}

func TestInlineCache_ProxyBypassesCache(t *testing.T) {
	rt, ctx := newTestContext(t)
	read := defineFieldReader(t, ctx)
	defer rt.FreeValue(read)
	target, handler := ctx.NewObject(), ctx.NewObject()
	defer rt.FreeValue(target)
	defer rt.FreeValue(handler)
	calls := int32(0)
	ctx.SetPropertyStr(handler, "get", ctx.NewFunction(func(ctx *Context, this Value, args []Value) (Value, error) {
		calls++
		return NewInt32(calls), nil
	}, "get", 3))
	proxy, _ := ctx.NewProxy(target, handler)
	defer rt.FreeValue(proxy)
	for i := int32(1); i <= 3; i++ {
		v, err := ctx.Call(read, Undefined, proxy)
		if err != nil {
			t.Fatal(err)
		}
		expectInt(t, v, i)
	}
}
