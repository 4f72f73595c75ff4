package builtins

import (
	"bridgejs/pkg/vm"
)

type SetInitializer struct{}

func (s *SetInitializer) Name() string {
	return "Set"
}

func (s *SetInitializer) Priority() int {
	return PrioritySet
}

type setClass struct {
	id   vm.ClassID
	iter *iteratorClass
}

// A Set is an orderedTable whose entries map each value to itself, so
// entries() yields [v, v] like the Map iterator does.
func (s *SetInitializer) InitRuntime(rc *RuntimeContext) error {
	ctx := rc.Ctx
	rt := rc.Runtime()
	id, err := rc.hostClass(tableClassDef("Set"))
	if err != nil {
		return err
	}
	iter, err := newIteratorClass(rc, "Set Iterator")
	if err != nil {
		return err
	}
	sc := &setClass{id: id, iter: iter}

	proto := ctx.NewObject()
	po := proto.AsObject()
	defineMethods(ctx, po, []method{
		{"add", 1, sc.add},
		{"has", 1, sc.has},
		{"delete", 1, sc.delete},
		{"clear", 0, sc.clear},
		{"forEach", 1, sc.forEach},
		{"values", 0, sc.iterate(valuesOnly)},
		{"entries", 0, sc.iterate(keyValuePairs)},
	})
	ctx.DefineGetter(po, "size", sc.size)
	values, err := ctx.GetPropertyStr(proto, "values")
	if err != nil {
		rt.FreeValue(proto)
		return err
	}
	ctx.DefinePropertyValue(po, rt.NewAtom("keys"), values.Dup(), vm.PropWritable|vm.PropConfigurable)
	ctx.DefinePropertyValue(po, vm.AtomSymbolIterator, values, vm.PropWritable|vm.PropConfigurable)
	ctx.DefinePropertyValue(po, vm.AtomSymbolToStringTag, vm.NewString("Set"), vm.PropConfigurable)
	ctx.SetClassProto(id, proto.Dup())

	ctor := ctx.NewConstructor("Set", 0, nil, sc.construct)
	ctx.LinkConstructor(ctor, proto)
	rt.FreeValue(proto)
	return rc.DefineGlobal("Set", ctor)
}

func (sc *setClass) construct(ctx *vm.Context, newTarget vm.Value, args []vm.Value) (vm.Value, error) {
	rt := ctx.Runtime()
	t := newOrderedTable()
	obj, err := ctx.NewObjectClass(sc.id, t)
	if err != nil {
		return vm.Undefined, err
	}
	if src := arg(args, 0); !src.IsUndefinedOrNull() {
		err := ctx.Iterate(src, func(v vm.Value) error {
			v = canonicalKey(v)
			t.set(rt, v, v)
			return nil
		})
		if err != nil {
			rt.FreeValue(obj)
			return vm.Undefined, err
		}
	}
	return obj, nil
}

func (sc *setClass) add(ctx *vm.Context, this vm.Value, args []vm.Value) (vm.Value, error) {
	t, err := thisTable(ctx, sc.id, this, "Set.prototype.add")
	if err != nil {
		return vm.Undefined, err
	}
	if _, ok := t.lookup(args[0]); !ok {
		v := canonicalKey(args[0])
		t.set(ctx.Runtime(), v, v)
	}
	return this.Dup(), nil
}

func (sc *setClass) has(ctx *vm.Context, this vm.Value, args []vm.Value) (vm.Value, error) {
	t, err := thisTable(ctx, sc.id, this, "Set.prototype.has")
	if err != nil {
		return vm.Undefined, err
	}
	_, ok := t.lookup(args[0])
	return vm.NewBool(ok), nil
}

func (sc *setClass) delete(ctx *vm.Context, this vm.Value, args []vm.Value) (vm.Value, error) {
	t, err := thisTable(ctx, sc.id, this, "Set.prototype.delete")
	if err != nil {
		return vm.Undefined, err
	}
	return vm.NewBool(t.remove(ctx.Runtime(), args[0])), nil
}

func (sc *setClass) clear(ctx *vm.Context, this vm.Value, args []vm.Value) (vm.Value, error) {
	t, err := thisTable(ctx, sc.id, this, "Set.prototype.clear")
	if err != nil {
		return vm.Undefined, err
	}
	t.clear(ctx.Runtime())
	return vm.Undefined, nil
}

func (sc *setClass) forEach(ctx *vm.Context, this vm.Value, args []vm.Value) (vm.Value, error) {
	t, err := thisTable(ctx, sc.id, this, "Set.prototype.forEach")
	if err != nil {
		return vm.Undefined, err
	}
	if !ctx.IsFunction(args[0]) {
		return vm.Undefined, ctx.ThrowTypeError("%s is not a function", args[0])
	}
	return vm.Undefined, t.forEach(ctx, this, args[0], arg(args, 1))
}

func (sc *setClass) size(ctx *vm.Context, this vm.Value, args []vm.Value) (vm.Value, error) {
	t, err := thisTable(ctx, sc.id, this, "get Set.prototype.size")
	if err != nil {
		return vm.Undefined, err
	}
	return vm.NewInt32(int32(t.size)), nil
}

func (sc *setClass) iterate(kind keyKind) vm.NativeFunc {
	return func(ctx *vm.Context, this vm.Value, args []vm.Value) (vm.Value, error) {
		t, err := thisTable(ctx, sc.id, this, "Set.prototype iterator")
		if err != nil {
			return vm.Undefined, err
		}
		return sc.iter.newIterator(ctx, this, t, kind)
	}
}
