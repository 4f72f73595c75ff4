package vm

import "testing"

// newCountingGenerator returns a generator object for
// function*() { yield 1; yield 2; return 3 }.
func newCountingGenerator(t *testing.T, ctx *Context) Value {
	t.Helper()
	gen := NewFunctionBuilder(ctx.rt, "count")
	gen.SetKind(FuncGenerator)
	gen.Emit(OpInitialYield)
	gen.EmitNumber(1)
	gen.EmitYield()
	gen.Emit(OpDrop)
	gen.EmitNumber(2)
	gen.EmitYield()
	gen.Emit(OpDrop)
	gen.EmitNumber(3)
	gen.Emit(OpReturn)

	main := NewFunctionBuilder(ctx.rt, "main")
	main.EmitClosure(mustBuild(t, gen))
	main.EmitU16(OpCall, 0)
	main.Emit(OpReturn)
	return mustRun(t, ctx, main)
}

func step(t *testing.T, ctx *Context, g Value, method string, arg Value) (Value, bool, error) {
	t.Helper()
	fn, err := ctx.GetPropertyStr(g, method)
	if err != nil {
		t.Fatal(err)
	}
	defer ctx.rt.FreeValue(fn)
	res, err := ctx.Call(fn, g, arg)
	if err != nil {
		return Undefined, false, err
	}
	defer ctx.rt.FreeValue(res)
	v, _ := ctx.GetPropertyStr(res, "value")
	d, _ := ctx.GetPropertyStr(res, "done")
	return v, d.Bool(), nil
}

func TestGenerator_YieldsInOrder(t *testing.T) {
	rt, ctx := newTestContext(t)
	g := newCountingGenerator(t, ctx)
	defer rt.FreeValue(g)
	want := []struct {
		v    int32
		done bool
	}{{1, false}, {2, false}, {3, true}}
	for i, w := range want {
		v, done, err := step(t, ctx, g, "next", Undefined)
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		expectInt(t, v, w.v)
		if done != w.done {
			t.Errorf("step %d: expected done=%v, got %v", i, w.done, done)
		}
	}
	v, done, _ := step(t, ctx, g, "next", Undefined)
	if !v.IsUndefined() || !done {
		t.Errorf("Expected a finished generator to report {undefined, true}, got %s %v", v, done)
	}
}

func TestGenerator_ReturnCompletes(t *testing.T) {
	rt, ctx := newTestContext(t)
	g := newCountingGenerator(t, ctx)
	defer rt.FreeValue(g)
	step(t, ctx, g, "next", Undefined)
	v, done, err := step(t, ctx, g, "return", NewInt32(9))
	if err != nil {
		t.Fatal(err)
	}
	expectInt(t, v, 9)
	if !done {
		t.Errorf("Expected return() to complete the generator")
	}
	_, done, _ = step(t, ctx, g, "next", Undefined)
	if !done {
		t.Errorf("Expected the generator to stay completed")
	}
}

func TestGenerator_ThrowBeforeStart(t *testing.T) {
	rt, ctx := newTestContext(t)
	g := newCountingGenerator(t, ctx)
	defer rt.FreeValue(g)
	_, _, err := step(t, ctx, g, "throw", NewString("bad"))
	if err == nil {
		t.Fatalf("Expected throw() on a fresh generator to rethrow")
	}
	ctx.rt.FreeValue(ctx.exceptionValue(err))
	_, done, _ := step(t, ctx, g, "next", Undefined)
	if !done {
		t.Errorf("Expected the generator to be completed after throw()")
	}
}

func TestGenerator_ResumeValue(t *testing.T) {
	rt, ctx := newTestContext(t)
	// function*() { let x = yield 0; return x * 2 }
	gen := NewFunctionBuilder(rt, "echo")
	gen.SetKind(FuncGenerator)
	gen.Emit(OpInitialYield)
	gen.EmitNumber(0)
	gen.EmitYield()
	gen.EmitNumber(2)
	gen.Emit(OpMul)
	gen.Emit(OpReturn)
	main := NewFunctionBuilder(rt, "main")
	main.EmitClosure(mustBuild(t, gen))
	main.EmitU16(OpCall, 0)
	main.Emit(OpReturn)
	g := mustRun(t, ctx, main)
	defer rt.FreeValue(g)

	step(t, ctx, g, "next", Undefined)
	v, done, err := step(t, ctx, g, "next", NewInt32(21))
	if err != nil {
		t.Fatal(err)
	}
	expectInt(t, v, 42)
	if !done {
		t.Errorf("Expected done after return")
	}
}

func TestGenerator_IsIterable(t *testing.T) {
	rt, ctx := newTestContext(t)
	g := newCountingGenerator(t, ctx)
	ctx.SetGlobal("g", g)
	fb := NewFunctionBuilder(rt, "main")
	sum := fb.AddVar("sum")
	loop := fb.NewLabel()
	done := fb.NewLabel()
	fb.EmitNumber(0)
	fb.EmitU16(OpPutLoc, uint16(sum))
	fb.EmitAtom(OpGetVar, "g")
	fb.Emit(OpForOfStart)
	fb.Mark(loop)
	fb.EmitU8(OpForOfNext, 0)
	fb.EmitJump(OpIfTrue, done)
	fb.EmitU16(OpAddLoc, uint16(sum))
	fb.EmitJump(OpGoto, loop)
	fb.Mark(done)
	fb.Emit(OpDrop)
	fb.Emit(OpIteratorClose)
	fb.EmitU16(OpGetLoc, uint16(sum))
	fb.Emit(OpReturn)
	expectInt(t, mustRun(t, ctx, fb), 3)
}

// newGuardedGenerator returns a generator object for
// function*() { try { return yield 1 } finally { cleaned++ } }.
// The global cleaned must exist before the body runs.
func newGuardedGenerator(t *testing.T, ctx *Context) Value {
	t.Helper()
	gen := NewFunctionBuilder(ctx.rt, "guarded")
	gen.SetKind(FuncGenerator)
	handler := gen.NewLabel()
	resumed := gen.NewLabel()
	fin := gen.NewLabel()
	gen.Emit(OpInitialYield)
	gen.EmitJump(OpCatch, handler)
	gen.EmitNumber(1)
	gen.Emit(OpYield)
	gen.EmitJump(OpIfFalse, resumed)
	// return(): run the finally block, then complete with the value
	gen.Emit(OpNipCatch)
	gen.EmitJump(OpGosub, fin)
	gen.Emit(OpReturn)
	gen.Mark(resumed)
	gen.Emit(OpNipCatch)
	gen.EmitJump(OpGosub, fin)
	gen.Emit(OpReturn)
	gen.Mark(handler)
	gen.EmitJump(OpGosub, fin)
	gen.Emit(OpThrow)
	gen.Mark(fin)
	gen.EmitAtom(OpGetVar, "cleaned")
	gen.Emit(OpInc)
	gen.EmitAtom(OpPutVar, "cleaned")
	gen.Emit(OpRet)

	main := NewFunctionBuilder(ctx.rt, "main")
	main.EmitClosure(mustBuild(t, gen))
	main.EmitU16(OpCall, 0)
	main.Emit(OpReturn)
	return mustRun(t, ctx, main)
}

func cleanedCount(t *testing.T, ctx *Context) int32 {
	t.Helper()
	v, err := ctx.GetGlobal("cleaned")
	if err != nil {
		t.Fatal(err)
	}
	defer ctx.rt.FreeValue(v)
	if !v.IsInt() {
		t.Fatalf("Expected cleaned to be an int, got %s", v)
	}
	return v.Int32()
}

func TestGenerator_ReturnRunsFinally(t *testing.T) {
	rt, ctx := newTestContext(t)
	ctx.SetGlobal("cleaned", NewInt32(0))
	g := newGuardedGenerator(t, ctx)
	defer rt.FreeValue(g)

	v, done, err := step(t, ctx, g, "next", Undefined)
	if err != nil {
		t.Fatal(err)
	}
	expectInt(t, v, 1)
	if done {
		t.Fatalf("Expected the generator to be suspended at the yield")
	}
	if got := cleanedCount(t, ctx); got != 0 {
		t.Fatalf("Expected the finally block not to have run yet, got %d", got)
	}

	v, done, err = step(t, ctx, g, "return", NewInt32(7))
	if err != nil {
		t.Fatal(err)
	}
	expectInt(t, v, 7)
	if !done {
		t.Errorf("Expected return() to complete the generator")
	}
	if got := cleanedCount(t, ctx); got != 1 {
		t.Errorf("Expected return() to run the finally block once, got %d", got)
	}

	step(t, ctx, g, "return", NewInt32(8))
	if got := cleanedCount(t, ctx); got != 1 {
		t.Errorf("Expected return() on a completed generator to skip the body, got %d", got)
	}
}

func TestGenerator_NextRunsFinally(t *testing.T) {
	rt, ctx := newTestContext(t)
	ctx.SetGlobal("cleaned", NewInt32(0))
	g := newGuardedGenerator(t, ctx)
	defer rt.FreeValue(g)
	step(t, ctx, g, "next", Undefined)
	v, done, err := step(t, ctx, g, "next", NewInt32(5))
	if err != nil {
		t.Fatal(err)
	}
	expectInt(t, v, 5)
	if !done || cleanedCount(t, ctx) != 1 {
		t.Errorf("Expected completion through the finally block, got done=%v cleaned=%d", done, cleanedCount(t, ctx))
	}
}

func TestGenerator_ThrowRunsFinally(t *testing.T) {
	rt, ctx := newTestContext(t)
	ctx.SetGlobal("cleaned", NewInt32(0))
	g := newGuardedGenerator(t, ctx)
	defer rt.FreeValue(g)
	step(t, ctx, g, "next", Undefined)
	_, _, err := step(t, ctx, g, "throw", NewString("bad"))
	if err == nil {
		t.Fatalf("Expected throw() to propagate out of the generator")
	}
	ctx.rt.FreeValue(ctx.exceptionValue(err))
	if got := cleanedCount(t, ctx); got != 1 {
		t.Errorf("Expected throw() to run the finally block once, got %d", got)
	}
}

func TestGenerator_ReturnBeforeStartSkipsBody(t *testing.T) {
	rt, ctx := newTestContext(t)
	ctx.SetGlobal("cleaned", NewInt32(0))
	g := newGuardedGenerator(t, ctx)
	defer rt.FreeValue(g)
	v, done, err := step(t, ctx, g, "return", NewInt32(4))
	if err != nil {
		t.Fatal(err)
	}
	expectInt(t, v, 4)
	if !done || cleanedCount(t, ctx) != 0 {
		t.Errorf("Expected an unstarted generator to close without running its body, got done=%v cleaned=%d", done, cleanedCount(t, ctx))
	}
}

func TestGenerator_ForOfBreakRunsFinally(t *testing.T) {
	rt, ctx := newTestContext(t)
	ctx.SetGlobal("cleaned", NewInt32(0))
	ctx.SetGlobal("g", newGuardedGenerator(t, ctx))
	// for (const v of g) { first = v; break }
	fb := NewFunctionBuilder(rt, "main")
	first := fb.AddVar("first")
	fb.EmitAtom(OpGetVar, "g")
	fb.Emit(OpForOfStart)
	fb.EmitU8(OpForOfNext, 0)
	fb.Emit(OpDrop)
	fb.EmitU16(OpPutLoc, uint16(first))
	fb.Emit(OpIteratorClose)
	fb.EmitU16(OpGetLoc, uint16(first))
	fb.Emit(OpReturn)
	expectInt(t, mustRun(t, ctx, fb), 1)
	if got := cleanedCount(t, ctx); got != 1 {
		t.Errorf("Expected closing the loop to run the finally block, got %d", got)
	}
}
