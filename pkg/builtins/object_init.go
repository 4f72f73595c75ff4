package builtins

import (
	"bridgejs/pkg/vm"
)

type ObjectInitializer struct{}

func (o *ObjectInitializer) Name() string {
	return "Object"
}

func (o *ObjectInitializer) Priority() int {
	return PriorityObject
}

func (o *ObjectInitializer) InitRuntime(rc *RuntimeContext) error {
	ctx := rc.Ctx
	ctor, err := rc.global("Object")
	if err != nil {
		return err
	}
	defer rc.Runtime().ReleaseObject(ctor)
	defineMethods(ctx, ctor, []method{
		{"keys", 1, objectKeys},
		{"values", 1, objectValues},
		{"entries", 1, objectEntries},
		{"getOwnPropertyNames", 1, objectGetOwnPropertyNames},
		{"create", 2, objectCreate},
		{"getPrototypeOf", 1, objectGetPrototypeOf},
		{"setPrototypeOf", 2, objectSetPrototypeOf},
		{"defineProperty", 3, objectDefineProperty},
		{"getOwnPropertyDescriptor", 2, objectGetOwnPropertyDescriptor},
		{"freeze", 1, objectFreeze},
		{"isFrozen", 1, objectIsFrozen},
		{"preventExtensions", 1, objectPreventExtensions},
		{"isExtensible", 1, objectIsExtensible},
		{"assign", 2, objectAssign},
	})
	return nil
}

// toObjectArg coerces args[0]; the caller frees the result.
func toObjectArg(ctx *vm.Context, args []vm.Value) (vm.Value, error) {
	return ctx.ToObject(args[0])
}

type keyKind int

const (
	keysOnly keyKind = iota
	valuesOnly
	keyValuePairs
)

// enumerableOwn lists the enumerable string keys of obj in property order.
func enumerableOwn(ctx *vm.Context, obj vm.Value, kind keyKind) (vm.Value, error) {
	rt := ctx.Runtime()
	atoms, err := ctx.GetOwnPropertyNames(obj.AsObject(), vm.GPNStringMask|vm.GPNEnumOnly)
	if err != nil {
		return vm.Undefined, err
	}
	out := make([]vm.Value, 0, len(atoms))
	release := func() {
		for _, v := range out {
			rt.FreeValue(v)
		}
	}
	for _, a := range atoms {
		if kind == keysOnly {
			out = append(out, rt.AtomValue(a))
			continue
		}
		v, err := ctx.GetProperty(obj, a)
		if err != nil {
			release()
			return vm.Undefined, err
		}
		if kind == valuesOnly {
			out = append(out, v)
			continue
		}
		out = append(out, ctx.NewArrayFrom([]vm.Value{rt.AtomValue(a), v}))
	}
	return ctx.NewArrayFrom(out), nil
}

func objectKeys(ctx *vm.Context, this vm.Value, args []vm.Value) (vm.Value, error) {
	obj, err := toObjectArg(ctx, args)
	if err != nil {
		return vm.Undefined, err
	}
	defer ctx.Runtime().FreeValue(obj)
	return enumerableOwn(ctx, obj, keysOnly)
}

func objectValues(ctx *vm.Context, this vm.Value, args []vm.Value) (vm.Value, error) {
	obj, err := toObjectArg(ctx, args)
	if err != nil {
		return vm.Undefined, err
	}
	defer ctx.Runtime().FreeValue(obj)
	return enumerableOwn(ctx, obj, valuesOnly)
}

func objectEntries(ctx *vm.Context, this vm.Value, args []vm.Value) (vm.Value, error) {
	obj, err := toObjectArg(ctx, args)
	if err != nil {
		return vm.Undefined, err
	}
	defer ctx.Runtime().FreeValue(obj)
	return enumerableOwn(ctx, obj, keyValuePairs)
}

func objectGetOwnPropertyNames(ctx *vm.Context, this vm.Value, args []vm.Value) (vm.Value, error) {
	rt := ctx.Runtime()
	obj, err := toObjectArg(ctx, args)
	if err != nil {
		return vm.Undefined, err
	}
	defer rt.FreeValue(obj)
	atoms, err := ctx.GetOwnPropertyNames(obj.AsObject(), vm.GPNStringMask)
	if err != nil {
		return vm.Undefined, err
	}
	out := make([]vm.Value, len(atoms))
	for i, a := range atoms {
		out[i] = rt.AtomValue(a)
	}
	return ctx.NewArrayFrom(out), nil
}

func objectCreate(ctx *vm.Context, this vm.Value, args []vm.Value) (vm.Value, error) {
	proto := args[0]
	if !proto.IsObject() && !proto.IsNull() {
		return vm.Undefined, ctx.ThrowTypeError("Object prototype may only be an Object or null")
	}
	obj := ctx.NewObjectProto(proto)
	if props := args[1]; !props.IsUndefined() {
		if err := defineProperties(ctx, obj.AsObject(), props); err != nil {
			ctx.Runtime().FreeValue(obj)
			return vm.Undefined, err
		}
	}
	return obj, nil
}

func defineProperties(ctx *vm.Context, obj *vm.Object, props vm.Value) error {
	rt := ctx.Runtime()
	po, err := ctx.ToObject(props)
	if err != nil {
		return err
	}
	defer rt.FreeValue(po)
	atoms, err := ctx.GetOwnPropertyNames(po.AsObject(), vm.GPNStringMask|vm.GPNSymbolMask|vm.GPNEnumOnly)
	if err != nil {
		return err
	}
	for _, a := range atoms {
		d, err := ctx.GetProperty(po, a)
		if err != nil {
			return err
		}
		err = defineFromDescriptor(ctx, obj, a, d)
		rt.FreeValue(d)
		if err != nil {
			return err
		}
	}
	return nil
}

// defineFromDescriptor applies a descriptor object to obj[key].
func defineFromDescriptor(ctx *vm.Context, obj *vm.Object, key vm.Atom, desc vm.Value) error {
	rt := ctx.Runtime()
	dp := desc.AsObject()
	if dp == nil {
		return ctx.ThrowTypeError("property description must be an object")
	}
	var flags vm.PropFlags
	val, getter, setter := vm.Undefined, vm.Undefined, vm.Undefined
	defer func() {
		rt.FreeValue(val)
		rt.FreeValue(getter)
		rt.FreeValue(setter)
	}()
	field := func(name string, has vm.PropFlags, bit vm.PropFlags) (vm.Value, error) {
		a := rt.NewAtom(name)
		ok, err := ctx.HasProperty(dp, a)
		if err != nil || !ok {
			return vm.Undefined, err
		}
		v, err := ctx.GetProperty(desc, a)
		if err != nil {
			return vm.Undefined, err
		}
		flags |= has
		if bit != 0 && ctx.ToBool(v) {
			flags |= bit
		}
		return v, nil
	}
	for _, f := range []struct {
		name string
		has  vm.PropFlags
		bit  vm.PropFlags
	}{
		{"enumerable", vm.PropHasEnumerable, vm.PropEnumerable},
		{"configurable", vm.PropHasConfigurable, vm.PropConfigurable},
		{"writable", vm.PropHasWritable, vm.PropWritable},
	} {
		v, err := field(f.name, f.has, f.bit)
		if err != nil {
			return err
		}
		rt.FreeValue(v)
	}
	var err error
	if val, err = field("value", vm.PropHasValue, 0); err != nil {
		return err
	}
	if getter, err = field("get", vm.PropHasGet, 0); err != nil {
		return err
	}
	if setter, err = field("set", vm.PropHasSet, 0); err != nil {
		return err
	}
	if flags&vm.PropHasGet != 0 && !getter.IsUndefined() && !ctx.IsFunction(getter) {
		return ctx.ThrowTypeError("getter must be a function")
	}
	if flags&vm.PropHasSet != 0 && !setter.IsUndefined() && !ctx.IsFunction(setter) {
		return ctx.ThrowTypeError("setter must be a function")
	}
	if flags&(vm.PropHasGet|vm.PropHasSet) != 0 && flags&(vm.PropHasValue|vm.PropHasWritable) != 0 {
		return ctx.ThrowTypeError("invalid property descriptor: cannot both specify accessors and a value or writable attribute")
	}
	_, err = ctx.DefineProperty(obj, key, val, getter, setter, flags|vm.PropThrow)
	return err
}

func objectDefineProperty(ctx *vm.Context, this vm.Value, args []vm.Value) (vm.Value, error) {
	obj := args[0].AsObject()
	if obj == nil {
		return vm.Undefined, ctx.ThrowTypeError("Object.defineProperty called on non-object")
	}
	key, err := ctx.ToPropertyKey(args[1])
	if err != nil {
		return vm.Undefined, err
	}
	if err := defineFromDescriptor(ctx, obj, key, args[2]); err != nil {
		return vm.Undefined, err
	}
	return args[0].Dup(), nil
}

func objectGetOwnPropertyDescriptor(ctx *vm.Context, this vm.Value, args []vm.Value) (vm.Value, error) {
	rt := ctx.Runtime()
	obj, err := toObjectArg(ctx, args)
	if err != nil {
		return vm.Undefined, err
	}
	defer rt.FreeValue(obj)
	key, err := ctx.ToPropertyKey(args[1])
	if err != nil {
		return vm.Undefined, err
	}
	desc, ok, err := ctx.GetOwnProperty(obj.AsObject(), key)
	if err != nil || !ok {
		return vm.Undefined, err
	}
	defer desc.Release(rt)
	out := ctx.NewObject()
	set := func(name string, v vm.Value) {
		ctx.SetPropertyStr(out, name, v)
	}
	if desc.Flags&vm.PropGetSet != 0 {
		set("get", desc.Getter.Dup())
		set("set", desc.Setter.Dup())
	} else {
		set("value", desc.Value.Dup())
		set("writable", vm.NewBool(desc.Flags&vm.PropWritable != 0))
	}
	set("enumerable", vm.NewBool(desc.Flags&vm.PropEnumerable != 0))
	set("configurable", vm.NewBool(desc.Flags&vm.PropConfigurable != 0))
	return out, nil
}

func objectGetPrototypeOf(ctx *vm.Context, this vm.Value, args []vm.Value) (vm.Value, error) {
	obj, err := toObjectArg(ctx, args)
	if err != nil {
		return vm.Undefined, err
	}
	defer ctx.Runtime().FreeValue(obj)
	return ctx.GetPrototype(obj)
}

func objectSetPrototypeOf(ctx *vm.Context, this vm.Value, args []vm.Value) (vm.Value, error) {
	target, proto := args[0], args[1]
	if target.IsUndefinedOrNull() {
		return vm.Undefined, ctx.ThrowTypeError("Object.setPrototypeOf called on null or undefined")
	}
	if !proto.IsObject() && !proto.IsNull() {
		return vm.Undefined, ctx.ThrowTypeError("Object prototype may only be an Object or null")
	}
	if obj := target.AsObject(); obj != nil {
		if _, err := ctx.SetPrototype(obj, proto, vm.PropThrow); err != nil {
			return vm.Undefined, err
		}
	}
	return target.Dup(), nil
}

func objectFreeze(ctx *vm.Context, this vm.Value, args []vm.Value) (vm.Value, error) {
	rt := ctx.Runtime()
	obj := args[0].AsObject()
	if obj == nil {
		return args[0].Dup(), nil
	}
	if err := ctx.PreventExtensions(obj); err != nil {
		return vm.Undefined, err
	}
	atoms, err := ctx.GetOwnPropertyNames(obj, vm.GPNStringMask|vm.GPNSymbolMask)
	if err != nil {
		return vm.Undefined, err
	}
	for _, a := range atoms {
		desc, ok, err := ctx.GetOwnProperty(obj, a)
		if err != nil {
			return vm.Undefined, err
		}
		if !ok {
			continue
		}
		flags := vm.PropHasConfigurable | vm.PropThrow
		if desc.Flags&vm.PropGetSet == 0 {
			flags |= vm.PropHasWritable
		}
		desc.Release(rt)
		if _, err := ctx.DefineProperty(obj, a, vm.Undefined, vm.Undefined, vm.Undefined, flags); err != nil {
			return vm.Undefined, err
		}
	}
	return args[0].Dup(), nil
}

func objectIsFrozen(ctx *vm.Context, this vm.Value, args []vm.Value) (vm.Value, error) {
	rt := ctx.Runtime()
	obj := args[0].AsObject()
	if obj == nil {
		return vm.True, nil
	}
	if obj.IsExtensible() {
		return vm.False, nil
	}
	atoms, err := ctx.GetOwnPropertyNames(obj, vm.GPNStringMask|vm.GPNSymbolMask)
	if err != nil {
		return vm.Undefined, err
	}
	for _, a := range atoms {
		desc, ok, err := ctx.GetOwnProperty(obj, a)
		if err != nil {
			return vm.Undefined, err
		}
		if !ok {
			continue
		}
		flags := desc.Flags
		desc.Release(rt)
		if flags&vm.PropConfigurable != 0 || (flags&vm.PropGetSet == 0 && flags&vm.PropWritable != 0) {
			return vm.False, nil
		}
	}
	return vm.True, nil
}

func objectPreventExtensions(ctx *vm.Context, this vm.Value, args []vm.Value) (vm.Value, error) {
	if obj := args[0].AsObject(); obj != nil {
		if err := ctx.PreventExtensions(obj); err != nil {
			return vm.Undefined, err
		}
	}
	return args[0].Dup(), nil
}

func objectIsExtensible(ctx *vm.Context, this vm.Value, args []vm.Value) (vm.Value, error) {
	obj := args[0].AsObject()
	return vm.NewBool(obj != nil && obj.IsExtensible()), nil
}

func objectAssign(ctx *vm.Context, this vm.Value, args []vm.Value) (vm.Value, error) {
	rt := ctx.Runtime()
	target, err := ctx.ToObject(args[0])
	if err != nil {
		return vm.Undefined, err
	}
	for _, src := range args[1:] {
		if src.IsUndefinedOrNull() {
			continue
		}
		so, err := ctx.ToObject(src)
		if err != nil {
			rt.FreeValue(target)
			return vm.Undefined, err
		}
		err = assignFrom(ctx, target, so)
		rt.FreeValue(so)
		if err != nil {
			rt.FreeValue(target)
			return vm.Undefined, err
		}
	}
	return target, nil
}

func assignFrom(ctx *vm.Context, target, src vm.Value) error {
	atoms, err := ctx.GetOwnPropertyNames(src.AsObject(), vm.GPNStringMask|vm.GPNSymbolMask|vm.GPNEnumOnly)
	if err != nil {
		return err
	}
	for _, a := range atoms {
		v, err := ctx.GetProperty(src, a)
		if err != nil {
			return err
		}
		if err := ctx.SetProperty(target, a, v); err != nil {
			return err
		}
	}
	return nil
}
