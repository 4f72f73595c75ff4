package vm

import (
	"math/rand"
	"testing"
)

func registerTrackedClass(t *testing.T, rt *Runtime, finalized *int) ClassID {
	t.Helper()
	id := rt.NewClassID()
	err := rt.RegisterClass(id, ClassDef{
		Name:      "Tracked",
		Finalizer: func(rt *Runtime, obj *Object) { *finalized++ },
	})
	if err != nil {
		t.Fatalf("RegisterClass failed: %v", err)
	}
	return id
}

func TestGC_RefCountFreesImmediately(t *testing.T) {
	rt, ctx := newTestContext(t)
	finalized := 0
	id := registerTrackedClass(t, rt, &finalized)
	v, err := ctx.NewObjectClass(id, nil)
	if err != nil {
		t.Fatal(err)
	}
	if v.RefCount() != 1 {
		t.Errorf("Expected refcount 1, got %d", v.RefCount())
	}
	d := v.Dup()
	rt.FreeValue(v)
	if finalized != 0 {
		t.Fatalf("Expected object to survive while referenced")
	}
	rt.FreeValue(d)
	if finalized != 1 {
		t.Errorf("Expected finalizer to run once, ran %d times", finalized)
	}
}

func TestGC_RandomDupDropKeepsCountsExact(t *testing.T) {
	rt, ctx := newTestContext(t)
	finalized := 0
	id := registerTrackedClass(t, rt, &finalized)
	rng := rand.New(rand.NewSource(42))

	const objects = 50
	held := make([][]Value, objects) // every reference the test owns, per object
	for i := range held {
		v, err := ctx.NewObjectClass(id, nil)
		if err != nil {
			t.Fatal(err)
		}
		held[i] = []Value{v}
	}
	dead := 0
	for step := 0; step < 5000; step++ {
		i := rng.Intn(objects)
		refs := held[i]
		if len(refs) == 0 {
			continue
		}
		if rng.Intn(2) == 0 {
			held[i] = append(refs, refs[0].Dup())
		} else {
			k := rng.Intn(len(refs))
			v := refs[k]
			held[i] = append(refs[:k], refs[k+1:]...)
			rt.FreeValue(v)
			if len(held[i]) == 0 {
				dead++
			}
		}
		for j, refs := range held {
			if len(refs) > 0 && refs[0].RefCount() != len(refs) {
				t.Fatalf("step %d: object %d: Expected refcount %d, got %d", step, j, len(refs), refs[0].RefCount())
			}
		}
		if finalized != dead {
			t.Fatalf("step %d: Expected %d finalized objects, got %d", step, dead, finalized)
		}
	}
	for i, refs := range held {
		for _, v := range refs {
			rt.FreeValue(v)
		}
		held[i] = nil
	}
	if finalized != objects {
		t.Errorf("Expected all %d objects finalized, got %d", objects, finalized)
	}
}

func TestGC_CollectsCycles(t *testing.T) {
	rt, ctx := newTestContext(t, WithGCThreshold(0))
	finalized := 0
	id := registerTrackedClass(t, rt, &finalized)
	a, _ := ctx.NewObjectClass(id, nil)
	b, _ := ctx.NewObjectClass(id, nil)
	ctx.SetPropertyStr(a, "peer", b.Dup())
	ctx.SetPropertyStr(b, "peer", a.Dup())
	rt.FreeValue(a)
	rt.FreeValue(b)
	if finalized != 0 {
		t.Fatalf("Expected the cycle to keep both objects alive before GC")
	}
	rt.RunGC()
	if finalized != 2 {
		t.Errorf("Expected both finalizers to run, got %d", finalized)
	}
	if st := rt.GCStats(); st.LastFreed < 2 {
		t.Errorf("Expected at least 2 collected objects, got %d", st.LastFreed)
	}
	rt.RunGC()
	if finalized != 2 {
		t.Errorf("Expected finalizers to run exactly once, got %d", finalized)
	}
}

func TestGC_KeepsReachableCycle(t *testing.T) {
	rt, ctx := newTestContext(t)
	finalized := 0
	id := registerTrackedClass(t, rt, &finalized)
	a, _ := ctx.NewObjectClass(id, nil)
	ctx.SetPropertyStr(a, "self", a.Dup())
	ctx.SetGlobal("keep", a.Dup())
	rt.FreeValue(a)
	rt.RunGC()
	if finalized != 0 {
		t.Errorf("Expected globally reachable cycle to survive")
	}
	ctx.SetGlobal("keep", Undefined)
	rt.RunGC()
	if finalized != 1 {
		t.Errorf("Expected cycle to be collected once unreachable, got %d", finalized)
	}
}

func TestGC_HostMarkReportsChildren(t *testing.T) {
	rt, ctx := newTestContext(t)
	type box struct{ held Value }
	freed := 0
	id := rt.NewClassID()
	rt.RegisterClass(id, ClassDef{
		Name: "Box",
		Finalizer: func(rt *Runtime, obj *Object) {
			freed++
			b := obj.Opaque().(*box)
			rt.FreeValue(b.held)
			b.held = Undefined
		},
		GCMark: func(rt *Runtime, obj *Object, mark MarkFunc) {
			mark(obj.Opaque().(*box).held)
		},
	})
	bx := &box{held: Undefined}
	v, _ := ctx.NewObjectClass(id, bx)
	bx.held = v.Dup()
	rt.FreeValue(v)
	rt.RunGC()
	if freed != 1 {
		t.Errorf("Expected the self-holding box to be collected, freed=%d", freed)
	}
}

func TestGC_AutomaticTrigger(t *testing.T) {
	rt, ctx := newTestContext(t, WithGCThreshold(64))
	before := rt.GCStats().Runs
	for i := 0; i < 5000; i++ {
		o := ctx.NewObject()
		ctx.SetPropertyStr(o, "self", o.Dup())
		rt.FreeValue(o)
	}
	if rt.GCStats().Runs == before {
		t.Errorf("Expected allocation pressure to trigger a collection")
	}
}

func TestGC_GeneratorCycleIsCollected(t *testing.T) {
	rt, ctx := newTestContext(t)
	// holder.gen = g2(holder) leaves a cycle through the suspended frame
	fb := NewFunctionBuilder(rt, "g2")
	fb.SetKind(FuncGenerator)
	fb.SetArgCount(1)
	fb.Emit(OpInitialYield)
	fb.EmitU16(OpGetArg, 0)
	fb.EmitYield()
	fb.Emit(OpReturn)
	main := NewFunctionBuilder(rt, "main")
	holder := main.AddVar("holder")
	main.Emit(OpObject)
	main.EmitU16(OpPutLoc, uint16(holder))
	main.EmitClosure(mustBuild(t, fb))
	main.EmitU16(OpGetLoc, uint16(holder))
	main.EmitU16(OpCall, 1)
	main.Emit(OpDup)
	main.EmitU16(OpGetLoc, uint16(holder))
	main.Emit(OpSwap)
	main.EmitAtom(OpPutField, "gen")
	main.Emit(OpReturn)
	g := mustRun(t, ctx, main)
	if !rt.IsLiveObject(g) {
		t.Fatalf("Expected a live generator")
	}
	before := rt.MemoryUsage().Objects
	rt.FreeValue(g)
	rt.RunGC()
	after := rt.MemoryUsage().Objects
	if after >= before-1 {
		t.Errorf("Expected generator and holder to be collected, objects %d -> %d", before, after)
	}
}

func TestGC_CloseReleasesEverything(t *testing.T) {
	rt := NewRuntime()
	ctx := rt.NewContext()
	finalized := 0
	id := registerTrackedClass(t, rt, &finalized)
	leaked, _ := ctx.NewObjectClass(id, nil)
	_ = leaked
	rt.Close()
	if finalized != 1 {
		t.Errorf("Expected Close to finalize the leaked object, got %d", finalized)
	}
}

func TestGC_StressMode(t *testing.T) {
	t.Setenv("BRIDGEJS_GC_STRESS", "1")
	rt, ctx := newTestContext(t)
	if !rt.gcStress {
		t.Fatalf("Expected stress mode from the environment")
	}
	expectInt(t, mustRun(t, ctx, counterProgram(t, rt)), 3)
}
