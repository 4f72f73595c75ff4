package vm

import "errors"

// PromiseState is the settlement state of a promise.
type PromiseState uint8

const (
	PromisePending PromiseState = iota
	PromiseFulfilled
	PromiseRejected
)

func (s PromiseState) String() string {
	switch s {
	case PromiseFulfilled:
		return "fulfilled"
	case PromiseRejected:
		return "rejected"
	}
	return "pending"
}

// promiseReaction is one then() registration. resolve and reject belong to
// the derived promise and are Undefined for internal reactions.
type promiseReaction struct {
	onFulfilled Value
	onRejected  Value
	resolve     Value
	reject      Value
}

type promiseData struct {
	state     PromiseState
	result    Value
	reactions []promiseReaction
	handled   bool
}

// resolvingFunction is shared by the resolve/reject pair of one promise so
// that only the first call wins.
type resolvingFunction struct {
	promise Value
	settled *bool
}

// asyncResolveData links an await continuation back to its function.
type asyncResolveData struct {
	state *asyncFunctionState
}

// JobFunc is a queued job. args are owned by the queue and released after
// the job runs.
type JobFunc func(ctx *Context, args []Value) (Value, error)

type pendingJob struct {
	ctx  *Context
	fn   JobFunc
	args []Value
}

// RejectionTracker is told when a promise is rejected with no handler
// (handled=false) and when a handler is attached later (handled=true).
type RejectionTracker func(ctx *Context, promise, reason Value, handled bool)

func argOr(args []Value, i int) Value {
	if i < len(args) {
		return args[i]
	}
	return Undefined
}

func isUncatchableError(err error) bool {
	var ex *Exception
	return errors.As(err, &ex) && ex.Uncatchable()
}

// EnqueueJob appends a job to the runtime queue. args are duplicated.
func (ctx *Context) EnqueueJob(fn JobFunc, args ...Value) {
	ctx.rt.jobs = append(ctx.rt.jobs, pendingJob{ctx: ctx, fn: fn, args: dupValues(args)})
}

// IsJobPending reports whether the job queue is non-empty.
func (rt *Runtime) IsJobPending() bool { return len(rt.jobs) > 0 }

// ExecutePendingJob runs the oldest queued job. ran is false when the
// queue was empty.
func (rt *Runtime) ExecutePendingJob() (ran bool, err error) {
	if len(rt.jobs) == 0 {
		return false, nil
	}
	j := rt.jobs[0]
	rt.jobs[0] = pendingJob{}
	rt.jobs = rt.jobs[1:]
	ret, err := j.fn(j.ctx, j.args)
	rt.freeValue(ret)
	for _, v := range j.args {
		rt.freeValue(v)
	}
	return true, err
}

// ExecutePendingJobs drains the job queue, including jobs queued while
// draining. It stops at the first job that fails.
func (ctx *Context) ExecutePendingJobs() (int, error) {
	n := 0
	for {
		ran, err := ctx.rt.ExecutePendingJob()
		if !ran {
			return n, nil
		}
		n++
		if err != nil {
			return n, err
		}
	}
}

func (rt *Runtime) freeJobs() {
	for _, j := range rt.jobs {
		for _, v := range j.args {
			rt.freeValue(v)
		}
	}
	rt.jobs = nil
}

func promiseFinalizer(rt *Runtime, p *Object) {
	pd, ok := p.payload.(*promiseData)
	if !ok {
		return
	}
	rt.freeValue(pd.result)
	pd.result = Undefined
	for _, r := range pd.reactions {
		rt.freeReaction(r)
	}
	pd.reactions = nil
}

func promiseMark(rt *Runtime, p *Object, mf markFunc) {
	pd, ok := p.payload.(*promiseData)
	if !ok {
		return
	}
	rt.markValue(pd.result, mf)
	for _, r := range pd.reactions {
		rt.markValue(r.onFulfilled, mf)
		rt.markValue(r.onRejected, mf)
		rt.markValue(r.resolve, mf)
		rt.markValue(r.reject, mf)
	}
}

func (rt *Runtime) freeReaction(r promiseReaction) {
	rt.freeValue(r.onFulfilled)
	rt.freeValue(r.onRejected)
	rt.freeValue(r.resolve)
	rt.freeValue(r.reject)
}

func promiseResolveFunctionFinalizer(rt *Runtime, p *Object) {
	if d, ok := p.payload.(*resolvingFunction); ok {
		rt.freeValue(d.promise)
		d.promise = Undefined
	}
}

func promiseResolveFunctionMark(rt *Runtime, p *Object, mf markFunc) {
	if d, ok := p.payload.(*resolvingFunction); ok {
		rt.markValue(d.promise, mf)
	}
}

func asyncResolveFinalizer(rt *Runtime, p *Object) {
	if d, ok := p.payload.(*asyncResolveData); ok {
		s := d.state
		d.state = nil
		rt.freeAsyncStateRef(s)
	}
}

func asyncResolveMark(rt *Runtime, p *Object, mf markFunc) {
	if d, ok := p.payload.(*asyncResolveData); ok && d.state != nil {
		mf(rt, &d.state.gcHeader)
	}
}

func promiseDataOf(v Value) *promiseData {
	p := v.AsObject()
	if p == nil || p.classID != ClassPromise {
		return nil
	}
	pd, _ := p.payload.(*promiseData)
	return pd
}

// PromiseResult reports the state of a promise and, once settled, a new
// reference to its result.
func (ctx *Context) PromiseResult(v Value) (PromiseState, Value, bool) {
	pd := promiseDataOf(v)
	if pd == nil {
		return PromisePending, Undefined, false
	}
	return pd.state, dupValue(pd.result), true
}

func (ctx *Context) newPromiseObject(proto *Object) *Object {
	p := ctx.newObjectProtoClass(proto, ClassPromise)
	p.payload = &promiseData{result: Undefined}
	return p
}

// createResolvingFunctions returns the resolve/reject pair of promise.
func (ctx *Context) createResolvingFunctions(promise Value) (resolve, reject Value) {
	settled := new(bool)
	mk := func(classID ClassID, name string) Value {
		p := ctx.newObjectProtoClass(ctx.functionProto, classID)
		p.payload = &resolvingFunction{promise: dupValue(promise), settled: settled}
		ctx.defineFunctionProps(p, name, 1)
		return objValue(p)
	}
	return mk(ClassPromiseResolveFunction, "resolve"), mk(ClassPromiseRejectFunction, "reject")
}

// NewPromiseCapability creates a pending promise with its resolving
// functions. All three values are new references.
func (ctx *Context) NewPromiseCapability() (promise, resolve, reject Value) {
	promise = objValue(ctx.newPromiseObject(ctx.promiseProto))
	resolve, reject = ctx.createResolvingFunctions(promise)
	return promise, resolve, reject
}

func callPromiseResolveFunction(ctx *Context, fn, this, newTarget Value, args []Value, flags CallFlags) (Value, error) {
	p := fn.object()
	d := p.payload.(*resolvingFunction)
	if *d.settled {
		return Undefined, nil
	}
	*d.settled = true
	v := argOr(args, 0)
	if p.classID == ClassPromiseRejectFunction {
		ctx.rejectPromise(d.promise, v)
		return Undefined, nil
	}
	return Undefined, ctx.resolvePromise(d.promise, v)
}

// resolvePromise follows the promise resolution procedure. resolution is
// borrowed.
func (ctx *Context) resolvePromise(promise, resolution Value) error {
	rt := ctx.rt
	if resolution.tag == TagObject && resolution.object() == promise.object() {
		reason := ctx.NewError(ErrorType, "promise self resolution")
		ctx.rejectPromise(promise, reason)
		rt.freeValue(reason)
		return nil
	}
	if resolution.tag != TagObject {
		ctx.fulfillPromise(promise, resolution)
		return nil
	}
	then, err := ctx.GetProperty(resolution, AtomThen)
	if err != nil {
		if isUncatchableError(err) {
			return err
		}
		reason := ctx.exceptionValue(err)
		ctx.rejectPromise(promise, reason)
		rt.freeValue(reason)
		return nil
	}
	defer rt.freeValue(then)
	if !rt.isCallable(then) {
		ctx.fulfillPromise(promise, resolution)
		return nil
	}
	ctx.EnqueueJob(promiseResolveThenableJob, promise, resolution, then)
	return nil
}

func promiseResolveThenableJob(ctx *Context, args []Value) (Value, error) {
	rt := ctx.rt
	promise, thenable, then := args[0], args[1], args[2]
	resolve, reject := ctx.createResolvingFunctions(promise)
	defer rt.freeValue(resolve)
	defer rt.freeValue(reject)
	ret, err := ctx.callInternal(then, thenable, Undefined, []Value{resolve, reject}, 0)
	if err == nil {
		return ret, nil
	}
	if isUncatchableError(err) {
		return Undefined, err
	}
	reason := ctx.exceptionValue(err)
	defer rt.freeValue(reason)
	return ctx.callInternal(reject, Undefined, Undefined, []Value{reason}, 0)
}

func (ctx *Context) fulfillPromise(promise, v Value) {
	ctx.settlePromise(promise, PromiseFulfilled, v)
}

func (ctx *Context) rejectPromise(promise, reason Value) {
	pd := promiseDataOf(promise)
	if pd == nil || pd.state != PromisePending {
		return
	}
	if !pd.handled && ctx.rt.rejectionTracker != nil {
		ctx.rt.rejectionTracker(ctx, promise, reason, false)
	}
	ctx.settlePromise(promise, PromiseRejected, reason)
}

// settlePromise records the result and queues the waiting reactions. v is
// borrowed.
func (ctx *Context) settlePromise(promise Value, state PromiseState, v Value) {
	rt := ctx.rt
	pd := promiseDataOf(promise)
	if pd == nil || pd.state != PromisePending {
		return
	}
	pd.state = state
	pd.result = dupValue(v)
	reactions := pd.reactions
	pd.reactions = nil
	for _, r := range reactions {
		ctx.enqueueReaction(r, state, v)
		rt.freeReaction(r)
	}
}

func (ctx *Context) enqueueReaction(r promiseReaction, state PromiseState, v Value) {
	handler := r.onFulfilled
	if state == PromiseRejected {
		handler = r.onRejected
	}
	ctx.EnqueueJob(promiseReactionJob, handler, r.resolve, r.reject, NewBool(state == PromiseRejected), v)
}

func promiseReactionJob(ctx *Context, args []Value) (Value, error) {
	rt := ctx.rt
	handler, resolve, reject, isReject, arg := args[0], args[1], args[2], args[3].Bool(), args[4]
	var (
		res Value
		err error
	)
	if handler.IsUndefined() {
		res = dupValue(arg)
		if isReject {
			err = ctx.Throw(dupValue(arg))
			res = Undefined
		}
	} else {
		res, err = ctx.callInternal(handler, Undefined, Undefined, []Value{arg}, 0)
	}
	target := resolve
	if err != nil {
		if isUncatchableError(err) {
			return Undefined, err
		}
		res = ctx.exceptionValue(err)
		target = reject
	}
	defer rt.freeValue(res)
	if target.IsUndefined() {
		return Undefined, nil
	}
	return ctx.callInternal(target, Undefined, Undefined, []Value{res}, 0)
}

// performPromiseThen registers handlers on promise. Non-callable handlers
// pass the result through. All arguments are borrowed.
func (ctx *Context) performPromiseThen(promise, onFulfilled, onRejected, resolve, reject Value) {
	rt := ctx.rt
	pd := promiseDataOf(promise)
	r := promiseReaction{onFulfilled: Undefined, onRejected: Undefined, resolve: dupValue(resolve), reject: dupValue(reject)}
	if rt.isCallable(onFulfilled) {
		r.onFulfilled = dupValue(onFulfilled)
	}
	if rt.isCallable(onRejected) {
		r.onRejected = dupValue(onRejected)
	}
	switch pd.state {
	case PromisePending:
		pd.reactions = append(pd.reactions, r)
	case PromiseRejected:
		if !pd.handled && rt.rejectionTracker != nil {
			rt.rejectionTracker(ctx, promise, pd.result, true)
		}
		fallthrough
	default:
		ctx.enqueueReaction(r, pd.state, pd.result)
		rt.freeReaction(r)
	}
	pd.handled = true
}

// promiseResolveValue converts v to a promise, consuming v.
func (ctx *Context) promiseResolveValue(v Value) (Value, error) {
	if promiseDataOf(v) != nil {
		return v, nil
	}
	promise := objValue(ctx.newPromiseObject(ctx.promiseProto))
	err := ctx.resolvePromise(promise, v)
	ctx.rt.freeValue(v)
	if err != nil {
		ctx.rt.freeValue(promise)
		return Undefined, err
	}
	return promise, nil
}

func promiseConstructor(ctx *Context, newTarget Value, args []Value) (Value, error) {
	rt := ctx.rt
	executor := args[0]
	if !rt.isCallable(executor) {
		return Undefined, ctx.ThrowTypeError("Promise resolver is not a function")
	}
	proto, err := ctx.prototypeFromNewTarget(newTarget, ctx.promiseProto)
	if err != nil {
		return Undefined, err
	}
	promise := objValue(ctx.newPromiseObject(proto))
	rt.freeObjectRef(proto)
	resolve, reject := ctx.createResolvingFunctions(promise)
	defer rt.freeValue(resolve)
	defer rt.freeValue(reject)
	ret, err := ctx.callInternal(executor, Undefined, Undefined, []Value{resolve, reject}, 0)
	if err != nil {
		if isUncatchableError(err) {
			rt.freeValue(promise)
			return Undefined, err
		}
		reason := ctx.exceptionValue(err)
		_, err = ctx.callInternal(reject, Undefined, Undefined, []Value{reason}, 0)
		rt.freeValue(reason)
		if err != nil {
			rt.freeValue(promise)
			return Undefined, err
		}
	}
	rt.freeValue(ret)
	return promise, nil
}

func promiseThen(ctx *Context, this Value, args []Value) (Value, error) {
	rt := ctx.rt
	if promiseDataOf(this) == nil {
		return Undefined, ctx.ThrowTypeError("not a promise")
	}
	derived, resolve, reject := ctx.NewPromiseCapability()
	ctx.performPromiseThen(this, args[0], args[1], resolve, reject)
	rt.freeValue(resolve)
	rt.freeValue(reject)
	return derived, nil
}

func promiseCatch(ctx *Context, this Value, args []Value) (Value, error) {
	rt := ctx.rt
	then, err := ctx.GetProperty(this, AtomThen)
	if err != nil {
		return Undefined, err
	}
	defer rt.freeValue(then)
	return ctx.callInternal(then, this, Undefined, []Value{Undefined, args[0]}, 0)
}

func promiseResolveStatic(ctx *Context, this Value, args []Value) (Value, error) {
	return ctx.promiseResolveValue(dupValue(args[0]))
}

func promiseRejectStatic(ctx *Context, this Value, args []Value) (Value, error) {
	promise := objValue(ctx.newPromiseObject(ctx.promiseProto))
	ctx.rejectPromise(promise, args[0])
	return promise, nil
}

func (ctx *Context) initPromise() {
	ctx.promiseCtor = ctx.newConstructor("Promise", 1, nil, promiseConstructor)
	ctx.setConstructor(ctx.promiseCtor, ctx.promiseProto)
	ctx.defineFunc(ctx.promiseProto, "then", promiseThen, 2)
	ctx.defineFunc(ctx.promiseProto, "catch", promiseCatch, 1)
	ctx.DefinePropertyValue(ctx.promiseProto, AtomSymbolToStringTag, newStringValue("Promise"), PropConfigurable)
	ctx.defineFunc(ctx.promiseCtor, "resolve", promiseResolveStatic, 1)
	ctx.defineFunc(ctx.promiseCtor, "reject", promiseRejectStatic, 1)
	ctx.defineGlobal("Promise", ctx.promiseCtor.Value())
}

// callAsyncFunction starts an async function and returns its promise. The
// body runs synchronously up to the first await.
func callAsyncFunction(ctx *Context, fn, this, newTarget Value, args []Value, flags CallFlags) (Value, error) {
	rt := ctx.rt
	realm := fn.object().fn.realm
	promise, resolve, reject := realm.NewPromiseCapability()
	s, err := realm.newAsyncState(fn, this, args)
	if err != nil {
		defer rt.freeValue(resolve)
		defer rt.freeValue(reject)
		if isUncatchableError(err) {
			rt.freeValue(promise)
			return Undefined, err
		}
		reason := realm.exceptionValue(err)
		ret, err := realm.callInternal(reject, Undefined, Undefined, []Value{reason}, 0)
		rt.freeValue(reason)
		if err != nil {
			rt.freeValue(promise)
			return Undefined, err
		}
		rt.freeValue(ret)
		return promise, nil
	}
	s.promise = dupValue(promise)
	s.resolve = resolve
	s.reject = reject
	err = realm.asyncFunctionResume(s, nil)
	rt.freeAsyncStateRef(s)
	if err != nil {
		rt.freeValue(promise)
		return Undefined, err
	}
	return promise, nil
}

// asyncFunctionResume runs s until its next await or completion and
// settles the result promise on completion. Only uncatchable errors are
// returned.
func (ctx *Context) asyncFunctionResume(s *asyncFunctionState, throwing error) error {
	rt := ctx.rt
	ret, res, err := ctx.resumeAsyncState(s, throwing)
	if err != nil {
		if isUncatchableError(err) {
			return err
		}
		reason := ctx.exceptionValue(err)
		_, err = ctx.callInternal(s.reject, Undefined, Undefined, []Value{reason}, 0)
		rt.freeValue(reason)
		return err
	}
	switch res {
	case execReturn:
		_, err = ctx.callInternal(s.resolve, Undefined, Undefined, []Value{ret}, 0)
		rt.freeValue(ret)
		return err
	case execAwait:
		return ctx.asyncAwait(s, ret)
	}
	rt.freeValue(ret)
	panic(invariantf("async function suspended with %d", res))
}

// asyncAwait subscribes the continuation of s to v, consuming v.
func (ctx *Context) asyncAwait(s *asyncFunctionState, v Value) error {
	rt := ctx.rt
	promise, err := ctx.promiseResolveValue(v)
	if err != nil {
		return err
	}
	defer rt.freeValue(promise)
	mk := func(classID ClassID) Value {
		p := ctx.newObjectProtoClass(ctx.functionProto, classID)
		p.payload = &asyncResolveData{state: s.dup()}
		return objValue(p)
	}
	onFulfilled := mk(ClassAsyncFunctionResolve)
	onRejected := mk(ClassAsyncFunctionReject)
	ctx.performPromiseThen(promise, onFulfilled, onRejected, Undefined, Undefined)
	rt.freeValue(onFulfilled)
	rt.freeValue(onRejected)
	return nil
}

func callAsyncFunctionResolve(ctx *Context, fn, this, newTarget Value, args []Value, flags CallFlags) (Value, error) {
	p := fn.object()
	d := p.payload.(*asyncResolveData)
	s := d.state
	if s == nil || s.frame == nil || s.executing {
		return Undefined, nil
	}
	arg := argOr(args, 0)
	var throwing error
	if p.classID == ClassAsyncFunctionReject {
		throwing = ctx.Throw(dupValue(arg))
	} else {
		sf := s.frame
		sf.stack[sf.sp] = dupValue(arg)
		sf.sp++
	}
	return Undefined, ctx.asyncFunctionResume(s, throwing)
}
