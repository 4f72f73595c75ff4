package vm

import (
	"math"
	"testing"
)

func TestInterpreter_IntegerArithmetic(t *testing.T) {
	_, ctx := newTestContext(t)
	fb := NewFunctionBuilder(ctx.rt, "main")
	fb.EmitNumber(20)
	fb.EmitNumber(3)
	fb.Emit(OpMul)
	fb.EmitNumber(2)
	fb.Emit(OpAdd)
	fb.Emit(OpReturn)
	expectInt(t, mustRun(t, ctx, fb), 62)
}

func TestInterpreter_OverflowPromotesToFloat(t *testing.T) {
	_, ctx := newTestContext(t)
	fb := NewFunctionBuilder(ctx.rt, "main")
	fb.EmitNumber(math.MaxInt32)
	fb.EmitNumber(1)
	fb.Emit(OpAdd)
	fb.Emit(OpReturn)
	v := mustRun(t, ctx, fb)
	if !v.IsFloat64() || v.Float64() != 2147483648 {
		t.Errorf("Expected float 2147483648, got %s", v)
	}
}

func TestInterpreter_FastAndSlowPathsAgree(t *testing.T) {
	_, ctx := newTestContext(t)
	ops := []OpCode{OpAdd, OpSub, OpMul, OpDiv, OpMod, OpShl, OpSar, OpShr, OpAnd, OpOr, OpXor}
	pairs := [][2]float64{{7, 3}, {-7, 3}, {0, -5}, {math.MaxInt32, 2}, {-2147483648, -1}, {5, 0}, {-1, 31}}
	for _, op := range ops {
		for _, p := range pairs {
			fast := NewFunctionBuilder(ctx.rt, "fast")
			fast.EmitNumber(p[0])
			fast.EmitNumber(p[1])
			fast.Emit(op)
			fast.Emit(OpReturn)
			got := mustRun(t, ctx, fast)

			// the same operands as floats take the generic path
			slow := NewFunctionBuilder(ctx.rt, "slow")
			slow.EmitConst(NewFloat64(p[0]))
			slow.EmitConst(NewFloat64(p[1]))
			slow.Emit(op)
			slow.Emit(OpReturn)
			want := mustRun(t, ctx, slow)

			if !sameValue(got, want) {
				t.Errorf("%s(%v, %v): fast path gave %s, slow path %s", op, p[0], p[1], got, want)
			}
		}
	}
}

func TestInterpreter_NegativeZero(t *testing.T) {
	_, ctx := newTestContext(t)
	fb := NewFunctionBuilder(ctx.rt, "main")
	fb.EmitNumber(0)
	fb.EmitNumber(-1)
	fb.Emit(OpMul)
	fb.Emit(OpReturn)
	v := mustRun(t, ctx, fb)
	if !v.IsFloat64() || !math.Signbit(v.Float64()) {
		t.Errorf("Expected -0, got %s", v)
	}
}

func TestInterpreter_CatchThrow(t *testing.T) {
	_, ctx := newTestContext(t)
	fb := NewFunctionBuilder(ctx.rt, "main")
	handler := fb.NewLabel()
	fb.EmitJump(OpCatch, handler)
	fb.EmitNumber(41)
	fb.Emit(OpThrow)
	fb.Mark(handler)
	fb.EmitNumber(1)
	fb.Emit(OpAdd)
	fb.Emit(OpReturn)
	expectInt(t, mustRun(t, ctx, fb), 42)
}

func TestInterpreter_UncaughtErrorHasBacktrace(t *testing.T) {
	_, ctx := newTestContext(t)
	fb := NewFunctionBuilder(ctx.rt, "main")
	fb.SetFileName("boom.js")
	fb.SetLine(7)
	fb.EmitAtomU8(OpThrowError, "boom", uint8(ErrorType))
	_, err := run(t, ctx, fb)
	ex, ok := err.(*Exception)
	if !ok {
		t.Fatalf("Expected *Exception, got %v", err)
	}
	defer ex.Release()
	if ex.Error() != "TypeError: boom" {
		t.Errorf("Expected 'TypeError: boom', got %q", ex.Error())
	}
	if st := ex.Stack(); st == "" {
		t.Errorf("Expected a backtrace")
	}
}

func TestInterpreter_FinallyViaGosub(t *testing.T) {
	_, ctx := newTestContext(t)
	fb := NewFunctionBuilder(ctx.rt, "main")
	x := fb.AddVar("x")
	fin := fb.NewLabel()
	fb.EmitNumber(1)
	fb.EmitU16(OpPutLoc, uint16(x))
	fb.EmitJump(OpGosub, fin)
	fb.EmitU16(OpGetLoc, uint16(x))
	fb.Emit(OpReturn)
	fb.Mark(fin)
	fb.EmitNumber(10)
	fb.EmitU16(OpAddLoc, uint16(x))
	fb.Emit(OpRet)
	expectInt(t, mustRun(t, ctx, fb), 11)
}

// counterProgram returns main() { let f = makeCounter(); f(); f(); return f() }.
func counterProgram(t *testing.T, rt *Runtime) *FunctionBuilder {
	inner := NewFunctionBuilder(rt, "inc")
	inner.AddClosureVar("c", true, false, 0)
	inner.EmitU16(OpGetVarRef, 0)
	inner.EmitNumber(1)
	inner.Emit(OpAdd)
	inner.EmitU16(OpSetVarRef, 0)
	inner.Emit(OpReturn)

	outer := NewFunctionBuilder(rt, "makeCounter")
	c := outer.AddVar("c")
	outer.EmitNumber(0)
	outer.EmitU16(OpPutLoc, uint16(c))
	outer.EmitClosure(mustBuild(t, inner))
	outer.Emit(OpReturn)

	main := NewFunctionBuilder(rt, "main")
	f := main.AddVar("f")
	main.EmitClosure(mustBuild(t, outer))
	main.EmitU16(OpCall, 0)
	main.EmitU16(OpPutLoc, uint16(f))
	for i := 0; i < 2; i++ {
		main.EmitU16(OpGetLoc, uint16(f))
		main.EmitU16(OpCall, 0)
		main.Emit(OpDrop)
	}
	main.EmitU16(OpGetLoc, uint16(f))
	main.EmitU16(OpCall, 0)
	main.Emit(OpReturn)
	return main
}

func TestInterpreter_ClosureOutlivesFrame(t *testing.T) {
	rt, ctx := newTestContext(t)
	expectInt(t, mustRun(t, ctx, counterProgram(t, rt)), 3)
	rt.RunGC()
	if n := rt.MemoryUsage().VarRefs; n != 0 {
		t.Errorf("Expected closed var refs to be released, %d left", n)
	}
}

func expectElements(t *testing.T, ctx *Context, arr Value, want ...int32) {
	t.Helper()
	defer ctx.rt.FreeValue(arr)
	for i, w := range want {
		v, err := ctx.GetPropertyUint32(arr, uint32(i))
		if err != nil {
			t.Fatalf("GetPropertyUint32(%d) failed: %v", i, err)
		}
		if !v.IsInt() || v.Int32() != w {
			t.Errorf("element %d: Expected %d, got %s", i, w, v)
		}
		ctx.rt.FreeValue(v)
	}
}

// makeCounterBuilder returns function makeCounter() { let c = 0; return () => ++c }.
func makeCounterBuilder(t *testing.T, rt *Runtime) *FunctionBytecode {
	inner := NewFunctionBuilder(rt, "inc")
	inner.AddClosureVar("c", true, false, 0)
	inner.EmitU16(OpGetVarRef, 0)
	inner.EmitNumber(1)
	inner.Emit(OpAdd)
	inner.EmitU16(OpSetVarRef, 0)
	inner.Emit(OpReturn)

	outer := NewFunctionBuilder(rt, "makeCounter")
	c := outer.AddVar("c")
	outer.EmitNumber(0)
	outer.EmitU16(OpPutLoc, uint16(c))
	outer.EmitClosure(mustBuild(t, inner))
	outer.Emit(OpReturn)
	return mustBuild(t, outer)
}

func TestInterpreter_IndependentCounters(t *testing.T) {
	rt, ctx := newTestContext(t)
	// let a = makeCounter(), b = makeCounter(); return [a(), a(), a(), b()]
	main := NewFunctionBuilder(rt, "main")
	a := main.AddVar("a")
	b := main.AddVar("b")
	main.EmitClosure(makeCounterBuilder(t, rt))
	main.Emit(OpDup)
	main.EmitU16(OpCall, 0)
	main.EmitU16(OpPutLoc, uint16(a))
	main.EmitU16(OpCall, 0)
	main.EmitU16(OpPutLoc, uint16(b))
	for i := 0; i < 3; i++ {
		main.EmitU16(OpGetLoc, uint16(a))
		main.EmitU16(OpCall, 0)
	}
	main.EmitU16(OpGetLoc, uint16(b))
	main.EmitU16(OpCall, 0)
	main.EmitU16(OpArrayFrom, 4)
	main.Emit(OpReturn)
	expectElements(t, ctx, mustRun(t, ctx, main), 1, 2, 3, 1)
}

func TestInterpreter_ClosuresShareCapturedLocal(t *testing.T) {
	rt, ctx := newTestContext(t)
	inc := NewFunctionBuilder(rt, "inc")
	inc.AddClosureVar("x", true, false, 0)
	inc.EmitU16(OpGetVarRef, 0)
	inc.EmitNumber(1)
	inc.Emit(OpAdd)
	inc.EmitU16(OpSetVarRef, 0)
	inc.Emit(OpReturn)
	get := NewFunctionBuilder(rt, "get")
	get.AddClosureVar("x", true, false, 0)
	get.EmitU16(OpGetVarRef, 0)
	get.Emit(OpReturn)

	// let x = 0; inc = () => ++x; get = () => x
	// inc(); const seen = x; x++; return [seen, get()]
	outer := NewFunctionBuilder(rt, "outer")
	x := outer.AddVar("x")
	outer.EmitNumber(0)
	outer.EmitU16(OpPutLoc, uint16(x))
	outer.EmitClosure(mustBuild(t, inc))
	outer.EmitAtom(OpPutVar, "inc")
	outer.EmitClosure(mustBuild(t, get))
	outer.EmitAtom(OpPutVar, "get")
	outer.EmitAtom(OpGetVar, "inc")
	outer.EmitU16(OpCall, 0)
	outer.Emit(OpDrop)
	outer.EmitU16(OpGetLoc, uint16(x))
	outer.EmitU16(OpIncLoc, uint16(x))
	outer.EmitAtom(OpGetVar, "get")
	outer.EmitU16(OpCall, 0)
	outer.EmitU16(OpArrayFrom, 2)
	outer.Emit(OpReturn)

	main := NewFunctionBuilder(rt, "main")
	main.EmitClosure(mustBuild(t, outer))
	main.EmitU16(OpCall, 0)
	main.Emit(OpReturn)
	expectElements(t, ctx, mustRun(t, ctx, main), 1, 2)

	// outer has returned: both closures now share the closed cell
	after := NewFunctionBuilder(rt, "after")
	for i := 0; i < 2; i++ {
		after.EmitAtom(OpGetVar, "inc")
		after.EmitU16(OpCall, 0)
		after.Emit(OpDrop)
	}
	after.EmitAtom(OpGetVar, "get")
	after.EmitU16(OpCall, 0)
	after.Emit(OpReturn)
	expectInt(t, mustRun(t, ctx, after), 4)
}

func TestInterpreter_StackOverflow(t *testing.T) {
	rt, ctx := newTestContext(t)
	if rt.MaxStackDepth() != DefaultMaxStackDepth {
		t.Fatalf("Expected default depth %d, got %d", DefaultMaxStackDepth, rt.MaxStackDepth())
	}
	rec := NewFunctionBuilder(rt, "f")
	rec.EmitAtom(OpGetVar, "f")
	rec.EmitU16(OpCall, 0)
	rec.Emit(OpReturn)

	main := NewFunctionBuilder(rt, "main")
	main.EmitClosure(mustBuild(t, rec))
	main.EmitAtom(OpPutVar, "f")
	main.EmitAtom(OpGetVar, "f")
	main.EmitU16(OpCall, 0)
	main.Emit(OpReturn)
	_, err := run(t, ctx, main)
	expectThrow(t, ctx, err, "RangeError", "Maximum call stack size exceeded")
}

func TestInterpreter_DepthLimitCheckedBeforeFrame(t *testing.T) {
	rt, ctx := newTestContext(t)
	fb := NewFunctionBuilder(rt, "f")
	fb.Emit(OpReturnUndef)
	main := NewFunctionBuilder(rt, "main")
	main.EmitClosure(mustBuild(t, fb))
	main.Emit(OpReturn)
	fn := mustRun(t, ctx, main)
	defer rt.FreeValue(fn)
	arg := ctx.NewObject()
	defer rt.FreeValue(arg)

	rt.stackDepth = rt.maxStackDepth
	sf, err := ctx.newFrame(fn, Undefined, Undefined, []Value{arg})
	rt.stackDepth = 0
	if sf != nil {
		t.Fatalf("Expected no frame at the depth limit")
	}
	expectThrow(t, ctx, err, "RangeError", "Maximum call stack size exceeded")
	if fn.RefCount() != 1 || arg.RefCount() != 1 {
		t.Errorf("Expected a refused call to take no references, got fn=%d arg=%d", fn.RefCount(), arg.RefCount())
	}
}

func TestInterpreter_TailCallDoesNotGrowStack(t *testing.T) {
	rt, ctx := newTestContext(t)
	count := NewFunctionBuilder(rt, "count")
	count.SetArgCount(1)
	recurse := count.NewLabel()
	count.EmitU16(OpGetArg, 0)
	count.EmitNumber(0)
	count.Emit(OpStrictEq)
	count.EmitJump(OpIfFalse, recurse)
	count.EmitString("done")
	count.Emit(OpReturn)
	count.Mark(recurse)
	count.EmitAtom(OpGetVar, "count")
	count.EmitU16(OpGetArg, 0)
	count.EmitNumber(1)
	count.Emit(OpSub)
	count.EmitU16(OpTailCall, 1)

	main := NewFunctionBuilder(rt, "main")
	main.EmitClosure(mustBuild(t, count))
	main.EmitAtom(OpPutVar, "count")
	main.EmitAtom(OpGetVar, "count")
	main.EmitNumber(10 * DefaultMaxStackDepth)
	main.EmitU16(OpCall, 1)
	main.Emit(OpReturn)
	v := mustRun(t, ctx, main)
	defer rt.FreeValue(v)
	if s, _ := v.AsString(); s != "done" {
		t.Errorf("Expected 'done', got %s", v)
	}
}

func TestInterpreter_InterruptIsUncatchable(t *testing.T) {
	polls := 0
	_, ctx := newTestContext(t, WithInterruptBudget(1), WithInterruptHandler(func() bool {
		polls++
		return polls > 5
	}))
	fb := NewFunctionBuilder(ctx.rt, "spin")
	handler := fb.NewLabel()
	loop := fb.NewLabel()
	fb.EmitJump(OpCatch, handler)
	fb.Mark(loop)
	fb.EmitJump(OpGoto, loop)
	fb.Mark(handler)
	fb.Emit(OpReturn)
	_, err := run(t, ctx, fb)
	ex, ok := err.(*Exception)
	if !ok {
		t.Fatalf("Expected an interrupt exception, got %v", err)
	}
	defer ex.Release()
	if !ex.Uncatchable() {
		t.Errorf("Expected the interrupt to be uncatchable")
	}
	if polls != 6 {
		t.Errorf("Expected 6 polls, got %d", polls)
	}
}

func TestInterpreter_GlobalLexicalTDZ(t *testing.T) {
	_, ctx := newTestContext(t)
	fb := NewFunctionBuilder(ctx.rt, "main")
	fb.EmitAtomU8(OpDefineLexVar, "x", 0)
	fb.EmitAtom(OpGetVar, "x")
	fb.Emit(OpReturn)
	_, err := run(t, ctx, fb)
	expectThrow(t, ctx, err, "ReferenceError", "x is not initialized")

	fb = NewFunctionBuilder(ctx.rt, "main2")
	fb.EmitNumber(5)
	fb.EmitAtom(OpPutVarInit, "x")
	fb.EmitAtom(OpGetVar, "x")
	fb.Emit(OpReturn)
	expectInt(t, mustRun(t, ctx, fb), 5)
}

func TestInterpreter_ConstRedeclaration(t *testing.T) {
	_, ctx := newTestContext(t)
	fb := NewFunctionBuilder(ctx.rt, "main")
	fb.EmitAtomU8(OpDefineLexVar, "k", LexVarConst)
	fb.EmitAtom(OpDefineVar, "k")
	fb.Emit(OpReturnUndef)
	_, err := run(t, ctx, fb)
	expectThrow(t, ctx, err, "SyntaxError", "redeclaration of 'k'")
}

func TestInterpreter_UndefinedGlobal(t *testing.T) {
	_, ctx := newTestContext(t)
	fb := NewFunctionBuilder(ctx.rt, "main")
	fb.EmitAtom(OpGetVar, "nope")
	fb.Emit(OpReturn)
	_, err := run(t, ctx, fb)
	expectThrow(t, ctx, err, "ReferenceError", "nope is not defined")

	fb = NewFunctionBuilder(ctx.rt, "typeof")
	fb.EmitAtom(OpGetVarUndef, "nope")
	fb.Emit(OpTypeof)
	fb.Emit(OpReturn)
	v := mustRun(t, ctx, fb)
	defer ctx.rt.FreeValue(v)
	if s, _ := v.AsString(); s != "undefined" {
		t.Errorf("Expected 'undefined', got %s", v)
	}
}

func TestInterpreter_ForOfSum(t *testing.T) {
	_, ctx := newTestContext(t)
	fb := NewFunctionBuilder(ctx.rt, "main")
	sum := fb.AddVar("sum")
	loop := fb.NewLabel()
	done := fb.NewLabel()
	fb.EmitNumber(0)
	fb.EmitU16(OpPutLoc, uint16(sum))
	fb.EmitNumber(1)
	fb.EmitNumber(2)
	fb.EmitNumber(3)
	fb.EmitU16(OpArrayFrom, 3)
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
	expectInt(t, mustRun(t, ctx, fb), 6)
}

func TestInterpreter_ThrowInsideForOfClosesIterator(t *testing.T) {
	rt, ctx := newTestContext(t)
	closed := 0
	iterObj := ctx.NewObject()
	defer rt.FreeValue(iterObj)
	ctx.SetPropertyStr(iterObj, "next", ctx.NewFunction(func(ctx *Context, this Value, args []Value) (Value, error) {
		return ctx.newIterResult(NewInt32(1), false), nil
	}, "next", 0))
	ctx.SetPropertyStr(iterObj, "return", ctx.NewFunction(func(ctx *Context, this Value, args []Value) (Value, error) {
		closed++
		return ctx.newIterResult(Undefined, true), nil
	}, "return", 0))
	iterable := ctx.NewObject()
	ctx.DefinePropertyValue(iterable.object(), AtomSymbolIterator, ctx.NewFunction(func(ctx *Context, this Value, args []Value) (Value, error) {
		return iterObj.Dup(), nil
	}, "[Symbol.iterator]", 0), PropWritable|PropConfigurable)
	if err := ctx.SetGlobal("iterable", iterable); err != nil {
		t.Fatal(err)
	}

	fb := NewFunctionBuilder(rt, "main")
	handler := fb.NewLabel()
	fb.EmitJump(OpCatch, handler)
	fb.EmitAtom(OpGetVar, "iterable")
	fb.Emit(OpForOfStart)
	fb.EmitU8(OpForOfNext, 0)
	fb.Emit(OpDrop)
	fb.Emit(OpThrow)
	fb.Mark(handler)
	fb.Emit(OpReturn)
	expectInt(t, mustRun(t, ctx, fb), 1)
	if closed != 1 {
		t.Errorf("Expected return() to run once, ran %d times", closed)
	}
}

func TestInterpreter_ForIn(t *testing.T) {
	rt, ctx := newTestContext(t)
	obj := ctx.NewObject()
	ctx.SetPropertyStr(obj, "a", NewInt32(1))
	ctx.SetPropertyStr(obj, "b", NewInt32(2))
	ctx.SetGlobal("o", obj)

	fb := NewFunctionBuilder(rt, "main")
	keys := fb.AddVar("keys")
	loop := fb.NewLabel()
	done := fb.NewLabel()
	fb.EmitString("")
	fb.EmitU16(OpPutLoc, uint16(keys))
	fb.EmitAtom(OpGetVar, "o")
	fb.Emit(OpForInStart)
	fb.Mark(loop)
	fb.Emit(OpForInNext)
	fb.EmitJump(OpIfTrue, done)
	fb.EmitU16(OpAddLoc, uint16(keys))
	fb.EmitJump(OpGoto, loop)
	fb.Mark(done)
	fb.Emit(OpDrop)
	fb.Emit(OpDrop)
	fb.EmitU16(OpGetLoc, uint16(keys))
	fb.Emit(OpReturn)
	v := mustRun(t, ctx, fb)
	defer rt.FreeValue(v)
	if s, _ := v.AsString(); s != "ab" {
		t.Errorf("Expected 'ab', got %s", v)
	}
}

func TestInterpreter_NativeCallbackAndArity(t *testing.T) {
	rt, ctx := newTestContext(t)
	var seen int
	ctx.RegisterNativeFunction("inspect", 3, func(ctx *Context, this Value, args []Value) (Value, error) {
		seen = len(args)
		if !args[2].IsUndefined() {
			t.Errorf("Expected padded argument to be undefined, got %s", args[2])
		}
		return NewInt32(int32(len(args))), nil
	})
	fb := NewFunctionBuilder(rt, "main")
	fb.EmitAtom(OpGetVar, "inspect")
	fb.EmitNumber(1)
	fb.EmitU16(OpCall, 1)
	fb.Emit(OpReturn)
	expectInt(t, mustRun(t, ctx, fb), 3)
	if seen != 3 {
		t.Errorf("Expected 3 arguments after padding, got %d", seen)
	}
}

func TestInterpreter_ConstructorCall(t *testing.T) {
	rt, ctx := newTestContext(t)
	ctor := NewFunctionBuilder(rt, "Point")
	ctor.SetArgCount(1)
	ctor.Emit(OpPushThis)
	ctor.EmitU16(OpGetArg, 0)
	ctor.EmitAtom(OpPutField, "x")
	ctor.Emit(OpReturnUndef)

	main := NewFunctionBuilder(rt, "main")
	main.EmitClosure(mustBuild(t, ctor))
	main.EmitNumber(9)
	main.EmitU16(OpCallConstructor, 1)
	main.EmitAtom(OpGetField, "x")
	main.Emit(OpReturn)
	expectInt(t, mustRun(t, ctx, main), 9)
}
