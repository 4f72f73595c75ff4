package vm

import "testing"

func TestPromise_ResolveAndThen(t *testing.T) {
	rt, ctx := newTestContext(t)
	promise, resolve, reject := ctx.NewPromiseCapability()
	defer rt.FreeValue(promise)
	defer rt.FreeValue(resolve)
	defer rt.FreeValue(reject)

	var got Value = Undefined
	onFulfilled := ctx.NewFunction(func(ctx *Context, this Value, args []Value) (Value, error) {
		got = args[0].Dup()
		return Undefined, nil
	}, "onFulfilled", 1)
	defer rt.FreeValue(onFulfilled)
	then, _ := ctx.GetPropertyStr(promise, "then")
	defer rt.FreeValue(then)
	derived, err := ctx.Call(then, promise, onFulfilled)
	if err != nil {
		t.Fatal(err)
	}
	defer rt.FreeValue(derived)

	if _, err := ctx.Call(resolve, Undefined, NewInt32(7)); err != nil {
		t.Fatal(err)
	}
	if !got.IsUndefined() {
		t.Fatalf("Expected reactions to wait for the job queue")
	}
	if !rt.IsJobPending() {
		t.Fatalf("Expected a pending job")
	}
	if _, err := ctx.ExecutePendingJobs(); err != nil {
		t.Fatal(err)
	}
	expectInt(t, got, 7)
	state, _, _ := ctx.PromiseResult(derived)
	if state != PromiseFulfilled {
		t.Errorf("Expected derived promise to be fulfilled, got %s", state)
	}
}

func TestPromise_UnhandledRejection(t *testing.T) {
	var reported []bool
	rt, ctx := newTestContext(t, WithRejectionTracker(func(ctx *Context, promise, reason Value, handled bool) {
		reported = append(reported, handled)
	}))
	promise, resolve, reject := ctx.NewPromiseCapability()
	defer rt.FreeValue(promise)
	defer rt.FreeValue(resolve)
	defer rt.FreeValue(reject)
	ctx.Call(reject, Undefined, NewString("nope"))
	if len(reported) != 1 || reported[0] {
		t.Fatalf("Expected one unhandled report, got %v", reported)
	}
	catch, _ := ctx.GetPropertyStr(promise, "catch")
	defer rt.FreeValue(catch)
	handler := ctx.NewFunction(func(ctx *Context, this Value, args []Value) (Value, error) {
		return Undefined, nil
	}, "handler", 1)
	defer rt.FreeValue(handler)
	derived, err := ctx.Call(catch, promise, handler)
	if err != nil {
		t.Fatal(err)
	}
	rt.FreeValue(derived)
	if len(reported) != 2 || !reported[1] {
		t.Errorf("Expected a handled report after catch, got %v", reported)
	}
	ctx.ExecutePendingJobs()
}

func TestPromise_SelfResolutionRejects(t *testing.T) {
	rt, ctx := newTestContext(t)
	promise, resolve, reject := ctx.NewPromiseCapability()
	defer rt.FreeValue(promise)
	defer rt.FreeValue(resolve)
	defer rt.FreeValue(reject)
	ctx.Call(resolve, Undefined, promise)
	state, reason, _ := ctx.PromiseResult(promise)
	defer rt.FreeValue(reason)
	if state != PromiseRejected {
		t.Fatalf("Expected rejection, got %s", state)
	}
	if p := reason.AsObject(); p == nil || p.ClassID() != ClassError {
		t.Errorf("Expected a TypeError reason, got %s", reason)
	}
}

func TestAsync_AwaitResumesThroughJobs(t *testing.T) {
	rt, ctx := newTestContext(t)
	// async function() { return (await 5) + 1 }
	fn := NewFunctionBuilder(rt, "work")
	fn.SetKind(FuncAsync)
	fn.EmitNumber(5)
	fn.Emit(OpAwait)
	fn.EmitNumber(1)
	fn.Emit(OpAdd)
	fn.Emit(OpReturnAsync)
	main := NewFunctionBuilder(rt, "main")
	main.EmitClosure(mustBuild(t, fn))
	main.EmitU16(OpCall, 0)
	main.Emit(OpReturn)
	p := mustRun(t, ctx, main)
	defer rt.FreeValue(p)

	if state, _, ok := ctx.PromiseResult(p); !ok || state != PromisePending {
		t.Fatalf("Expected a pending promise before jobs run, got %s", state)
	}
	n, err := ctx.ExecutePendingJobs()
	if err != nil {
		t.Fatal(err)
	}
	if n == 0 {
		t.Errorf("Expected at least one job")
	}
	state, v, _ := ctx.PromiseResult(p)
	if state != PromiseFulfilled {
		t.Fatalf("Expected fulfilled, got %s", state)
	}
	expectInt(t, v, 6)
}

func TestAsync_ThrowRejects(t *testing.T) {
	rt, ctx := newTestContext(t)
	fn := NewFunctionBuilder(rt, "fail")
	fn.SetKind(FuncAsync)
	fn.EmitAtomU8(OpThrowError, "broken", uint8(ErrorRange))
	main := NewFunctionBuilder(rt, "main")
	main.EmitClosure(mustBuild(t, fn))
	main.EmitU16(OpCall, 0)
	main.Emit(OpReturn)
	p := mustRun(t, ctx, main)
	defer rt.FreeValue(p)
	state, reason, _ := ctx.PromiseResult(p)
	defer rt.FreeValue(reason)
	if state != PromiseRejected {
		t.Fatalf("Expected rejected, got %s", state)
	}
	if describeValue(reason) != "RangeError: broken" {
		t.Errorf("Expected RangeError: broken, got %s", describeValue(reason))
	}
}

func TestAsync_DepthLimitRejectsPromise(t *testing.T) {
	rt, ctx := newTestContext(t)
	fb := NewFunctionBuilder(rt, "deep")
	fb.SetKind(FuncAsync)
	fb.Emit(OpReturnUndef)
	b := mustBuild(t, fb)
	defer rt.ReleaseBytecode(b)
	fn, err := ctx.newClosure(b, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer rt.FreeValue(objValue(fn))

	rt.stackDepth = rt.maxStackDepth
	p, err := ctx.Call(objValue(fn), Undefined)
	rt.stackDepth = 0
	if err != nil {
		t.Fatalf("Expected a rejected promise, got error %v", err)
	}
	defer rt.FreeValue(p)
	state, reason, _ := ctx.PromiseResult(p)
	defer rt.FreeValue(reason)
	if state != PromiseRejected {
		t.Fatalf("Expected rejected, got %s", state)
	}
	if describeValue(reason) != "RangeError: Maximum call stack size exceeded" {
		t.Errorf("Expected RangeError: Maximum call stack size exceeded, got %s", describeValue(reason))
	}
}
