package builtins

import (
	"bridgejs/pkg/vm"
)

type MapInitializer struct{}

func (m *MapInitializer) Name() string {
	return "Map"
}

func (m *MapInitializer) Priority() int {
	return PriorityMap
}

// mapClass holds the class ids a context's Map functions check receivers
// against.
type mapClass struct {
	id   vm.ClassID
	iter *iteratorClass
}

func (m *MapInitializer) InitRuntime(rc *RuntimeContext) error {
	ctx := rc.Ctx
	rt := rc.Runtime()
	id, err := rc.hostClass(tableClassDef("Map"))
	if err != nil {
		return err
	}
	iter, err := newIteratorClass(rc, "Map Iterator")
	if err != nil {
		return err
	}
	mc := &mapClass{id: id, iter: iter}

	proto := ctx.NewObject()
	po := proto.AsObject()
	defineMethods(ctx, po, []method{
		{"get", 1, mc.get},
		{"set", 2, mc.set},
		{"has", 1, mc.has},
		{"delete", 1, mc.delete},
		{"clear", 0, mc.clear},
		{"forEach", 1, mc.forEach},
		{"keys", 0, mc.iterate(keysOnly)},
		{"values", 0, mc.iterate(valuesOnly)},
		{"entries", 0, mc.iterate(keyValuePairs)},
	})
	ctx.DefineGetter(po, "size", mc.size)
	entries, err := ctx.GetPropertyStr(proto, "entries")
	if err != nil {
		rt.FreeValue(proto)
		return err
	}
	ctx.DefinePropertyValue(po, vm.AtomSymbolIterator, entries, vm.PropWritable|vm.PropConfigurable)
	ctx.DefinePropertyValue(po, vm.AtomSymbolToStringTag, vm.NewString("Map"), vm.PropConfigurable)
	ctx.SetClassProto(id, proto.Dup())

	ctor := ctx.NewConstructor("Map", 0, nil, mc.construct)
	ctx.LinkConstructor(ctor, proto)
	rt.FreeValue(proto)
	return rc.DefineGlobal("Map", ctor)
}

// tableClassDef describes a host class whose payload is an orderedTable.
func tableClassDef(name string) vm.ClassDef {
	return vm.ClassDef{
		Name: name,
		Finalizer: func(rt *vm.Runtime, obj *vm.Object) {
			if t, ok := obj.Opaque().(*orderedTable); ok {
				t.release(rt)
			}
		},
		GCMark: func(rt *vm.Runtime, obj *vm.Object, mark vm.MarkFunc) {
			if t, ok := obj.Opaque().(*orderedTable); ok {
				t.mark(mark)
			}
		},
	}
}

func thisTable(ctx *vm.Context, id vm.ClassID, this vm.Value, method string) (*orderedTable, error) {
	if p := this.AsObject(); p != nil && p.ClassID() == id {
		if t, ok := p.Opaque().(*orderedTable); ok {
			return t, nil
		}
	}
	return nil, ctx.ThrowTypeError("Method %s called on incompatible receiver %s", method, this)
}

func (mc *mapClass) construct(ctx *vm.Context, newTarget vm.Value, args []vm.Value) (vm.Value, error) {
	rt := ctx.Runtime()
	t := newOrderedTable()
	obj, err := ctx.NewObjectClass(mc.id, t)
	if err != nil {
		return vm.Undefined, err
	}
	if src := arg(args, 0); !src.IsUndefinedOrNull() {
		err := ctx.Iterate(src, func(item vm.Value) error {
			if !item.IsObject() {
				return ctx.ThrowTypeError("Iterator value %s is not an entry object", item)
			}
			k, err := ctx.GetPropertyUint32(item, 0)
			if err != nil {
				return err
			}
			defer rt.FreeValue(k)
			v, err := ctx.GetPropertyUint32(item, 1)
			if err != nil {
				return err
			}
			defer rt.FreeValue(v)
			t.set(rt, k, v)
			return nil
		})
		if err != nil {
			rt.FreeValue(obj)
			return vm.Undefined, err
		}
	}
	return obj, nil
}

func (mc *mapClass) get(ctx *vm.Context, this vm.Value, args []vm.Value) (vm.Value, error) {
	t, err := thisTable(ctx, mc.id, this, "Map.prototype.get")
	if err != nil {
		return vm.Undefined, err
	}
	if e, ok := t.lookup(args[0]); ok {
		return e.value.Dup(), nil
	}
	return vm.Undefined, nil
}

func (mc *mapClass) set(ctx *vm.Context, this vm.Value, args []vm.Value) (vm.Value, error) {
	t, err := thisTable(ctx, mc.id, this, "Map.prototype.set")
	if err != nil {
		return vm.Undefined, err
	}
	t.set(ctx.Runtime(), args[0], args[1])
	return this.Dup(), nil
}

func (mc *mapClass) has(ctx *vm.Context, this vm.Value, args []vm.Value) (vm.Value, error) {
	t, err := thisTable(ctx, mc.id, this, "Map.prototype.has")
	if err != nil {
		return vm.Undefined, err
	}
	_, ok := t.lookup(args[0])
	return vm.NewBool(ok), nil
}

func (mc *mapClass) delete(ctx *vm.Context, this vm.Value, args []vm.Value) (vm.Value, error) {
	t, err := thisTable(ctx, mc.id, this, "Map.prototype.delete")
	if err != nil {
		return vm.Undefined, err
	}
	return vm.NewBool(t.remove(ctx.Runtime(), args[0])), nil
}

func (mc *mapClass) clear(ctx *vm.Context, this vm.Value, args []vm.Value) (vm.Value, error) {
	t, err := thisTable(ctx, mc.id, this, "Map.prototype.clear")
	if err != nil {
		return vm.Undefined, err
	}
	t.clear(ctx.Runtime())
	return vm.Undefined, nil
}

func (mc *mapClass) forEach(ctx *vm.Context, this vm.Value, args []vm.Value) (vm.Value, error) {
	t, err := thisTable(ctx, mc.id, this, "Map.prototype.forEach")
	if err != nil {
		return vm.Undefined, err
	}
	if !ctx.IsFunction(args[0]) {
		return vm.Undefined, ctx.ThrowTypeError("%s is not a function", args[0])
	}
	return vm.Undefined, t.forEach(ctx, this, args[0], arg(args, 1))
}

func (mc *mapClass) size(ctx *vm.Context, this vm.Value, args []vm.Value) (vm.Value, error) {
	t, err := thisTable(ctx, mc.id, this, "get Map.prototype.size")
	if err != nil {
		return vm.Undefined, err
	}
	return vm.NewInt32(int32(t.size)), nil
}

func (mc *mapClass) iterate(kind keyKind) vm.NativeFunc {
	return func(ctx *vm.Context, this vm.Value, args []vm.Value) (vm.Value, error) {
		t, err := thisTable(ctx, mc.id, this, "Map.prototype iterator")
		if err != nil {
			return vm.Undefined, err
		}
		return mc.iter.newIterator(ctx, this, t, kind)
	}
}
