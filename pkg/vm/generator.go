package vm

// asyncFunctionState keeps a suspended frame alive between resumptions of
// a generator or an async function. It is a tracked GC cell: the frame's
// values are its children.
type asyncFunctionState struct {
	gcHeader
	frame     *stackFrame // nil once the function has completed
	executing bool

	// async functions only: the result promise and its resolving functions
	promise Value
	resolve Value
	reject  Value
}

func (ctx *Context) newAsyncState(fn, this Value, args []Value) (*asyncFunctionState, error) {
	rt := ctx.rt
	sf, err := ctx.newFrame(fn, this, Undefined, args)
	if err != nil {
		return nil, err
	}
	rt.triggerGC()
	s := &asyncFunctionState{frame: sf, promise: Undefined, resolve: Undefined, reject: Undefined}
	s.refCount = 1
	rt.addGCObject(&s.gcHeader, gcKindAsyncFunction)
	return s, nil
}

func (s *asyncFunctionState) dup() *asyncFunctionState {
	s.refCount++
	return s
}

func (rt *Runtime) freeAsyncStateRef(s *asyncFunctionState) {
	if s == nil {
		return
	}
	s.refCount--
	if s.refCount > 0 {
		return
	}
	if s.refCount < 0 {
		panic(invariantf("refcount underflow on async function state"))
	}
	rt.releaseGCObject(&s.gcHeader)
}

// closeAsyncState drops the frame of a completed function.
func (rt *Runtime) closeAsyncState(s *asyncFunctionState) {
	if sf := s.frame; sf != nil {
		s.frame = nil
		rt.freeFrame(sf)
	}
}

func (rt *Runtime) freeAsyncState(s *asyncFunctionState) {
	s.freed = true
	rt.closeAsyncState(s)
	rt.freeValue(s.promise)
	rt.freeValue(s.resolve)
	rt.freeValue(s.reject)
	s.promise, s.resolve, s.reject = Undefined, Undefined, Undefined
	rt.removeGCObject(&s.gcHeader)
}

// markAsyncState reports the frame values of a suspended function. A frame
// that is running is also reachable from the Go stack, so its edges are
// left out and everything it holds stays alive for this pass.
func (rt *Runtime) markAsyncState(s *asyncFunctionState, mf markFunc) {
	if sf := s.frame; sf != nil && !s.executing {
		rt.markValue(sf.fn, mf)
		rt.markValue(sf.this, mf)
		rt.markValue(sf.newTarget, mf)
		for _, v := range sf.args {
			rt.markValue(v, mf)
		}
		for _, v := range sf.vars {
			rt.markValue(v, mf)
		}
		for _, v := range sf.stack[:sf.sp] {
			rt.markValue(v, mf)
		}
	}
	rt.markValue(s.promise, mf)
	rt.markValue(s.resolve, mf)
	rt.markValue(s.reject, mf)
}

// resume runs the suspended frame. When throwing is non-nil the frame
// resumes by raising it. A frame that returns or throws is released.
func (ctx *Context) resumeAsyncState(s *asyncFunctionState, throwing error) (Value, execResult, error) {
	sf := s.frame
	if sf == nil {
		panic(invariantf("resume of a completed function"))
	}
	s.dup()
	defer ctx.rt.freeAsyncStateRef(s)
	s.executing = true
	ret, res, err := sf.ctx.execute(sf, throwing)
	s.executing = false
	if err != nil || res == execReturn {
		ctx.rt.closeAsyncState(s)
	}
	return ret, res, err
}

type generatorStatus uint8

const (
	generatorSuspendedStart generatorStatus = iota
	generatorSuspendedYield
	generatorExecuting
	generatorCompleted
)

type generatorData struct {
	state  *asyncFunctionState
	status generatorStatus
}

type generatorMode uint8

const (
	generatorNext generatorMode = iota
	generatorReturn
	generatorThrow
)

// Resume kinds pushed above the resumed value when a yield continues. A
// body seeing ResumeReturn runs its finally blocks and returns the value.
const (
	ResumeNext   = 0
	ResumeReturn = 1
)

func generatorFinalizer(rt *Runtime, p *Object) {
	g, ok := p.payload.(*generatorData)
	if !ok {
		return
	}
	s := g.state
	g.state = nil
	g.status = generatorCompleted
	rt.freeAsyncStateRef(s)
}

func generatorMark(rt *Runtime, p *Object, mf markFunc) {
	if g, ok := p.payload.(*generatorData); ok && g.state != nil {
		mf(rt, &g.state.gcHeader)
	}
}

// callGeneratorFunction runs the prologue up to initial_yield and returns
// the suspended generator object.
func callGeneratorFunction(ctx *Context, fn, this, newTarget Value, args []Value, flags CallFlags) (Value, error) {
	rt := ctx.rt
	realm := fn.object().fn.realm
	s, err := realm.newAsyncState(fn, this, args)
	if err != nil {
		return Undefined, err
	}
	g := &generatorData{state: s, status: generatorSuspendedStart}
	ret, res, err := realm.resumeAsyncState(s, nil)
	if err != nil {
		rt.freeAsyncStateRef(s)
		return Undefined, err
	}
	rt.freeValue(ret)
	if res != execInitialYield {
		g.status = generatorCompleted
	}

	proto, err := realm.prototypeFromNewTarget(fn, realm.generatorProto)
	if err != nil {
		rt.freeAsyncStateRef(s)
		return Undefined, err
	}
	obj := realm.newObjectProtoClass(proto, ClassGenerator)
	rt.freeObjectRef(proto)
	obj.payload = g
	return objValue(obj), nil
}

// newIterResult builds {value, done}, consuming v.
func (ctx *Context) newIterResult(v Value, done bool) Value {
	obj := ctx.newPlainObject()
	ctx.DefinePropertyValue(obj, AtomValue, v, PropCWE)
	ctx.DefinePropertyValue(obj, AtomDone, NewBool(done), PropCWE)
	return objValue(obj)
}

// generatorResume implements next, return and throw. arg is borrowed.
func (ctx *Context) generatorResume(this, arg Value, mode generatorMode) (Value, error) {
	rt := ctx.rt
	p := this.AsObject()
	if p == nil || p.classID != ClassGenerator {
		return Undefined, ctx.ThrowTypeError("not a generator")
	}
	g := p.payload.(*generatorData)
	switch g.status {
	case generatorExecuting:
		return Undefined, ctx.ThrowTypeError("cannot invoke a running generator")
	case generatorCompleted:
		switch mode {
		case generatorThrow:
			return Undefined, ctx.Throw(dupValue(arg))
		case generatorReturn:
			return ctx.newIterResult(dupValue(arg), true), nil
		}
		return ctx.newIterResult(Undefined, true), nil
	case generatorSuspendedStart:
		if mode != generatorNext {
			g.status = generatorCompleted
			rt.closeAsyncState(g.state)
			if mode == generatorThrow {
				return Undefined, ctx.Throw(dupValue(arg))
			}
			return ctx.newIterResult(dupValue(arg), true), nil
		}
	}

	s := g.state
	var throwing error
	if mode == generatorThrow {
		throwing = ctx.Throw(dupValue(arg))
	} else if g.status == generatorSuspendedYield {
		kind := int32(ResumeNext)
		if mode == generatorReturn {
			kind = ResumeReturn
		}
		sf := s.frame
		sf.stack[sf.sp] = dupValue(arg)
		sf.stack[sf.sp+1] = NewInt32(kind)
		sf.sp += 2
	}
	g.status = generatorExecuting
	ret, res, err := ctx.resumeAsyncState(s, throwing)
	if err != nil {
		g.status = generatorCompleted
		return Undefined, err
	}
	switch res {
	case execYield:
		g.status = generatorSuspendedYield
		return ctx.newIterResult(ret, false), nil
	case execReturn:
		g.status = generatorCompleted
		return ctx.newIterResult(ret, true), nil
	}
	rt.freeValue(ret)
	panic(invariantf("generator suspended with %d", res))
}

func generatorNextMethod(ctx *Context, this Value, args []Value) (Value, error) {
	return ctx.generatorResume(this, args[0], generatorNext)
}

func generatorReturnMethod(ctx *Context, this Value, args []Value) (Value, error) {
	return ctx.generatorResume(this, args[0], generatorReturn)
}

func generatorThrowMethod(ctx *Context, this Value, args []Value) (Value, error) {
	return ctx.generatorResume(this, args[0], generatorThrow)
}

func iteratorSelf(ctx *Context, this Value, args []Value) (Value, error) {
	return dupValue(this), nil
}

// initGeneratorProto populates %GeneratorPrototype% and %IteratorPrototype%.
func (ctx *Context) initGeneratorProto() {
	ctx.defineFuncAtom(ctx.iteratorProto, AtomSymbolIterator, "[Symbol.iterator]", iteratorSelf, 0)
	ctx.defineFunc(ctx.generatorProto, "next", generatorNextMethod, 1)
	ctx.defineFunc(ctx.generatorProto, "return", generatorReturnMethod, 1)
	ctx.defineFunc(ctx.generatorProto, "throw", generatorThrowMethod, 1)
	ctx.DefinePropertyValue(ctx.generatorProto, AtomSymbolToStringTag, newStringValue("Generator"), PropConfigurable)
}
