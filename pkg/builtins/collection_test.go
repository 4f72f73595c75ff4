package builtins

import (
	"math"
	"strings"
	"testing"

	"bridgejs/pkg/vm"
)

// collect renders every value obj's iterator yields.
func collect(t *testing.T, ctx *vm.Context, obj vm.Value) []string {
	t.Helper()
	var out []string
	err := ctx.Iterate(obj, func(v vm.Value) error {
		if ctx.IsArray(v) {
			out = append(out, "["+join(t, ctx, v)+"]")
			return nil
		}
		s, err := ctx.ToString(v)
		if err != nil {
			return err
		}
		out = append(out, s)
		return nil
	})
	if err != nil {
		t.Fatalf("Iterate failed: %v", err)
	}
	return out
}

func pair(ctx *vm.Context, k, v vm.Value) vm.Value {
	return ctx.NewArrayFrom([]vm.Value{k, v})
}

func TestMap_Basics(t *testing.T) {
	_, ctx, _ := newTestRealm(t)
	m := mustConstruct(t, ctx, "Map")

	mustInvoke(t, ctx, m, "set", vm.NewString("a"), vm.NewInt32(1))
	mustInvoke(t, ctx, m, "set", vm.NewInt32(2), vm.NewString("two"))
	mustInvoke(t, ctx, m, "set", vm.NewString("a"), vm.NewInt32(3))

	if got := num(t, mustProp(t, ctx, m, "size")); got != 2 {
		t.Errorf("Expected size 2, got %v", got)
	}
	if got := num(t, mustInvoke(t, ctx, m, "get", vm.NewString("a"))); got != 3 {
		t.Errorf("Expected 3, got %v", got)
	}
	if got := mustInvoke(t, ctx, m, "get", vm.NewString("2")); !got.IsUndefined() {
		t.Errorf("Expected string key '2' to be distinct from number 2, got %s", got)
	}
	if got := mustInvoke(t, ctx, m, "has", vm.NewInt32(2)); !got.Bool() {
		t.Error("Expected has(2) to be true")
	}
	if got := mustInvoke(t, ctx, m, "delete", vm.NewInt32(2)); !got.Bool() {
		t.Error("Expected delete(2) to be true")
	}
	if got := mustInvoke(t, ctx, m, "delete", vm.NewInt32(2)); got.Bool() {
		t.Error("Expected a second delete(2) to be false")
	}
	mustInvoke(t, ctx, m, "clear")
	if got := num(t, mustProp(t, ctx, m, "size")); got != 0 {
		t.Errorf("Expected size 0 after clear, got %v", got)
	}
}

func TestMap_SameValueZeroKeys(t *testing.T) {
	_, ctx, _ := newTestRealm(t)
	m := mustConstruct(t, ctx, "Map")

	mustInvoke(t, ctx, m, "set", vm.NewFloat64(math.NaN()), vm.NewString("nan"))
	if got := str(t, mustInvoke(t, ctx, m, "get", vm.NewFloat64(math.NaN()))); got != "nan" {
		t.Errorf("Expected nan, got %s", got)
	}
	mustInvoke(t, ctx, m, "set", vm.NewFloat64(math.Copysign(0, -1)), vm.NewString("zero"))
	if got := str(t, mustInvoke(t, ctx, m, "get", vm.NewInt32(0))); got != "zero" {
		t.Errorf("Expected -0 and +0 to share a key, got %s", got)
	}
	if got := str(t, mustInvoke(t, ctx, m, "get", vm.NewFloat64(0))); got != "zero" {
		t.Errorf("Expected float 0 to match int 0, got %s", got)
	}

	keys := mustInvoke(t, ctx, m, "keys")
	zero := vm.Undefined
	err := ctx.Iterate(keys, func(v vm.Value) error {
		if v.IsNumber() && v.Number() == 0 {
			zero = v
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Iterate failed: %v", err)
	}
	if !zero.IsNumber() {
		t.Fatal("Expected a zero key")
	}
	if math.Signbit(zero.Number()) {
		t.Error("Expected -0 key to be stored as +0")
	}

	a, b := ctx.NewObject(), ctx.NewObject()
	defer ctx.Runtime().FreeValue(a)
	defer ctx.Runtime().FreeValue(b)
	mustInvoke(t, ctx, m, "set", a, vm.NewInt32(1))
	if got := mustInvoke(t, ctx, m, "has", b); got.Bool() {
		t.Error("Expected distinct objects to be distinct keys")
	}
}

func TestMap_ConstructFromEntries(t *testing.T) {
	_, ctx, _ := newTestRealm(t)
	entries := ctx.NewArrayFrom([]vm.Value{
		pair(ctx, vm.NewString("x"), vm.NewInt32(1)),
		pair(ctx, vm.NewString("y"), vm.NewInt32(2)),
	})
	defer ctx.Runtime().FreeValue(entries)
	m := mustConstruct(t, ctx, "Map", entries)

	got := strings.Join(collect(t, ctx, m), " ")
	if got != "[x,1] [y,2]" {
		t.Errorf("Expected [x,1] [y,2], got %s", got)
	}
	if got := strings.Join(collect(t, ctx, mustInvoke(t, ctx, m, "values")), ","); got != "1,2" {
		t.Errorf("Expected 1,2, got %s", got)
	}
	tag := mustInvoke(t, ctx, mustGlobal(t, ctx, "Object"), "keys", m)
	if got := join(t, ctx, tag); got != "" {
		t.Errorf("Expected no own enumerable keys, got %s", got)
	}
}

func TestMap_ConstructRejectsNonEntry(t *testing.T) {
	_, ctx, _ := newTestRealm(t)
	bad := ctx.NewArrayFrom([]vm.Value{vm.NewInt32(1)})
	defer ctx.Runtime().FreeValue(bad)
	_, err := ctx.CallConstructor(mustGlobal(t, ctx, "Map"), bad)
	expectError(t, err, "TypeError")
}

func TestMap_RequiresNew(t *testing.T) {
	_, ctx, _ := newTestRealm(t)
	_, err := ctx.Call(mustGlobal(t, ctx, "Map"), vm.Undefined)
	expectError(t, err, "TypeError")
}

func TestMap_IncompatibleReceiver(t *testing.T) {
	_, ctx, _ := newTestRealm(t)
	proto := mustProp(t, ctx, mustGlobal(t, ctx, "Map"), "prototype")
	get := mustProp(t, ctx, proto, "get")
	obj := ctx.NewObject()
	defer ctx.Runtime().FreeValue(obj)
	_, err := ctx.Call(get, obj, vm.NewInt32(1))
	expectError(t, err, "TypeError")
}

func TestMap_ForEach(t *testing.T) {
	_, ctx, _ := newTestRealm(t)
	m := mustConstruct(t, ctx, "Map")
	mustInvoke(t, ctx, m, "set", vm.NewString("a"), vm.NewInt32(1))
	mustInvoke(t, ctx, m, "set", vm.NewString("b"), vm.NewInt32(2))

	var seen []string
	cb := ctx.NewFunction(func(ctx *vm.Context, this vm.Value, args []vm.Value) (vm.Value, error) {
		k, _ := args[1].AsString()
		seen = append(seen, k+"="+args[0].String())
		if k == "a" {
			key := vm.NewString("c")
			_, err := invoke(t, ctx, args[2], "set", key, vm.NewInt32(3))
			ctx.Runtime().FreeValue(key)
			return vm.Undefined, err
		}
		return vm.Undefined, nil
	}, "cb", 3)
	defer ctx.Runtime().FreeValue(cb)
	mustInvoke(t, ctx, m, "forEach", cb)

	if got := strings.Join(seen, " "); got != "a=1 b=2 c=3" {
		t.Errorf("Expected a=1 b=2 c=3, got %s", got)
	}
}

func TestSet_Basics(t *testing.T) {
	_, ctx, _ := newTestRealm(t)
	items := ctx.NewArrayFrom([]vm.Value{vm.NewInt32(1), vm.NewInt32(2), vm.NewInt32(1), vm.NewFloat64(math.NaN()), vm.NewFloat64(math.NaN())})
	defer ctx.Runtime().FreeValue(items)
	s := mustConstruct(t, ctx, "Set", items)

	if got := num(t, mustProp(t, ctx, s, "size")); got != 3 {
		t.Errorf("Expected size 3, got %v", got)
	}
	mustInvoke(t, ctx, s, "add", vm.NewInt32(2))
	mustInvoke(t, ctx, s, "add", vm.NewString("2"))
	if got := strings.Join(collect(t, ctx, s), ","); got != "1,2,NaN,2" {
		t.Errorf("Expected 1,2,NaN,2, got %s", got)
	}
	if got := strings.Join(collect(t, ctx, mustInvoke(t, ctx, s, "entries")), " "); got != "[1,1] [2,2] [NaN,NaN] [2,2]" {
		t.Errorf("Expected paired entries, got %s", got)
	}
	keys := mustProp(t, ctx, mustProp(t, ctx, mustGlobal(t, ctx, "Set"), "prototype"), "keys")
	values := mustProp(t, ctx, mustProp(t, ctx, mustGlobal(t, ctx, "Set"), "prototype"), "values")
	if !vm.StrictEquals(keys, values) {
		t.Error("Expected Set.prototype.keys to be values")
	}
}

func TestSet_MutationDuringIteration(t *testing.T) {
	_, ctx, _ := newTestRealm(t)
	items := ctx.NewArrayFrom([]vm.Value{vm.NewInt32(1), vm.NewInt32(2), vm.NewInt32(3)})
	defer ctx.Runtime().FreeValue(items)
	s := mustConstruct(t, ctx, "Set", items)

	var seen []string
	err := ctx.Iterate(s, func(v vm.Value) error {
		seen = append(seen, v.String())
		if v.Number() == 1 {
			if _, err := invoke(t, ctx, s, "delete", vm.NewInt32(2)); err != nil {
				return err
			}
			if _, err := invoke(t, ctx, s, "add", vm.NewInt32(4)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Iterate failed: %v", err)
	}
	if got := strings.Join(seen, ","); got != "1,3,4" {
		t.Errorf("Expected 1,3,4, got %s", got)
	}
}

func TestOrderedTable_Compaction(t *testing.T) {
	rt := vm.NewRuntime()
	defer rt.Close()
	tbl := newOrderedTable()
	for i := int32(0); i < 20; i++ {
		tbl.set(rt, vm.NewInt32(i), vm.NewInt32(i*10))
	}
	tbl.beginWalk()
	for i := int32(0); i < 15; i++ {
		tbl.remove(rt, vm.NewInt32(i))
	}
	if len(tbl.entries) != 20 {
		t.Errorf("Expected tombstones to stay during a walk, got %d entries", len(tbl.entries))
	}
	tbl.endWalk()
	if len(tbl.entries) != 5 || tbl.size != 5 {
		t.Errorf("Expected 5 entries after compaction, got %d (size %d)", len(tbl.entries), tbl.size)
	}
	e, ok := tbl.lookup(vm.NewInt32(17))
	if !ok || e.value.Int32() != 170 {
		t.Errorf("Expected key 17 to survive compaction, got %v", ok)
	}
	tbl.release(rt)
}

func TestMap_CollectsCycles(t *testing.T) {
	rt, ctx, _ := newTestRealm(t)
	m, err := ctx.CallConstructor(mustGlobal(t, ctx, "Map"))
	if err != nil {
		t.Fatalf("new Map failed: %v", err)
	}
	set, err := ctx.GetPropertyStr(m, "set")
	if err != nil {
		t.Fatalf("GetPropertyStr failed: %v", err)
	}
	ret, err := ctx.Call(set, m, m, m)
	if err != nil {
		t.Fatalf("set failed: %v", err)
	}
	rt.FreeValue(ret)
	rt.FreeValue(set)

	before := rt.GCStats().Collected
	rt.FreeValue(m)
	rt.RunGC()
	if got := rt.GCStats().Collected; got <= before {
		t.Errorf("Expected the self-referencing map to be collected, got %d freed", got-before)
	}
}

func TestSet_IteratorCycleCollected(t *testing.T) {
	rt, ctx, _ := newTestRealm(t)
	s, err := ctx.CallConstructor(mustGlobal(t, ctx, "Set"))
	if err != nil {
		t.Fatalf("new Set failed: %v", err)
	}
	values, err := ctx.GetPropertyStr(s, "values")
	if err != nil {
		t.Fatalf("GetPropertyStr failed: %v", err)
	}
	iter, err := ctx.Call(values, s)
	rt.FreeValue(values)
	if err != nil {
		t.Fatalf("values failed: %v", err)
	}
	add, err := ctx.GetPropertyStr(s, "add")
	if err != nil {
		t.Fatalf("GetPropertyStr failed: %v", err)
	}
	ret, err := ctx.Call(add, s, iter)
	rt.FreeValue(add)
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	rt.FreeValue(ret)

	before := rt.GCStats().Collected
	rt.FreeValue(iter)
	rt.FreeValue(s)
	rt.RunGC()
	if got := rt.GCStats().Collected - before; got < 2 {
		t.Errorf("Expected the set and its iterator to be collected, got %d freed", got)
	}
}
