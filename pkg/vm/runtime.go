package vm

import (
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("bridgejs.vm")

// Runtime owns the heap shared by its contexts: atoms, shapes, classes,
// the GC lists and the job queue. A runtime and everything created from it
// must be used from one goroutine at a time.
type Runtime struct {
	classes []*classRecord
	atoms   atomTable

	gcObjList      gcList
	tmpObjList     gcList
	zeroRefList    gcList
	gcPhase        gcPhase
	allocSinceGC   int
	gcThreshold    int
	minGCThreshold int
	gcStress       bool
	gcStats        GCStats

	shapeHash      []*Shape
	shapeHashBits  int
	shapeHashCount int

	currentFrame  *stackFrame
	stackDepth    int
	maxStackDepth int

	interruptHandler func() bool
	interruptBudget  int
	interruptCounter int

	inlineCache bool
	icStats     CacheStats

	jobs             []pendingJob
	rejectionTracker RejectionTracker

	contexts []*Context
	closed   bool
}

// Option configures a Runtime at creation.
type Option func(*Runtime)

// WithMaxStackDepth bounds the number of nested calls.
func WithMaxStackDepth(n int) Option {
	return func(rt *Runtime) { rt.SetMaxStackDepth(n) }
}

// WithGCThreshold sets the minimum number of tracked allocations between
// automatic cycle collections. Zero disables automatic collection.
func WithGCThreshold(n int) Option {
	return func(rt *Runtime) { rt.SetGCThreshold(n) }
}

// WithInterruptHandler installs h; see SetInterruptHandler.
func WithInterruptHandler(h func() bool) Option {
	return func(rt *Runtime) { rt.SetInterruptHandler(h) }
}

// WithInterruptBudget sets how many polls pass between handler calls.
func WithInterruptBudget(n int) Option {
	return func(rt *Runtime) {
		if n < 1 {
			n = 1
		}
		rt.interruptBudget = n
		rt.interruptCounter = n
	}
}

// WithRejectionTracker reports promises rejected without a handler.
func WithRejectionTracker(t RejectionTracker) Option {
	return func(rt *Runtime) { rt.rejectionTracker = t }
}

// NewRuntime creates an empty runtime.
func NewRuntime(opts ...Option) *Runtime {
	k := loadKnobs()
	rt := &Runtime{
		maxStackDepth:   k.maxStackDepth,
		gcThreshold:     k.gcThreshold,
		minGCThreshold:  k.gcThreshold,
		gcStress:        k.gcStress,
		interruptBudget: k.interruptBudget,
		inlineCache:     k.inlineCache,
	}
	if rt.interruptBudget < 1 {
		rt.interruptBudget = 1
	}
	rt.interruptCounter = rt.interruptBudget
	rt.atoms.init()
	rt.gcObjList.init()
	rt.tmpObjList.init()
	rt.zeroRefList.init()
	rt.initShapeHash()
	rt.initClasses()
	for _, o := range opts {
		o(rt)
	}
	log.Debugf("runtime created: max stack depth %d, gc threshold %d", rt.maxStackDepth, rt.gcThreshold)
	return rt
}

// SetInterruptHandler installs h, polled at function entry and backward
// jumps once every interrupt budget. Returning true aborts the running
// script with an uncatchable error.
func (rt *Runtime) SetInterruptHandler(h func() bool) {
	rt.interruptHandler = h
	rt.interruptCounter = rt.interruptBudget
}

// SetMaxStackDepth bounds the number of nested calls.
func (rt *Runtime) SetMaxStackDepth(n int) {
	if n < 1 {
		n = 1
	}
	rt.maxStackDepth = n
}

// MaxStackDepth returns the call depth limit.
func (rt *Runtime) MaxStackDepth() int { return rt.maxStackDepth }

// SetGCThreshold sets the minimum allocation count between automatic cycle
// collections. Zero disables automatic collection.
func (rt *Runtime) SetGCThreshold(n int) {
	if n < 0 {
		n = 0
	}
	rt.gcThreshold = n
	rt.minGCThreshold = n
}

// SetRejectionTracker replaces the unhandled rejection callback.
func (rt *Runtime) SetRejectionTracker(t RejectionTracker) { rt.rejectionTracker = t }

// Close frees every context, collects cycles, and finally releases any
// cell the host still holds. Values obtained from the runtime must not be
// used afterwards.
func (rt *Runtime) Close() {
	if rt.closed {
		return
	}
	for len(rt.contexts) > 0 {
		rt.contexts[len(rt.contexts)-1].Close()
	}
	rt.freeJobs()
	rt.RunGC()

	survivors := rt.gcObjList.count()
	if survivors > 0 {
		log.Warningf("runtime close: %d cells still referenced, releasing them", survivors)
	}
	rt.gcPhase = gcPhaseRemoveCycles
	head := &rt.gcObjList.head
	for head.next != head {
		h := head.next
		switch h.kind {
		case gcKindObject, gcKindAsyncFunction:
			rt.freeGCObject(h)
		default:
			h.unlink()
			h.tracked = false
			h.freed = true
		}
	}
	rt.gcPhase = gcPhaseNone
	zero := &rt.zeroRefList.head
	for zero.next != zero {
		h := zero.next
		h.unlink()
		h.tracked = false
		h.freed = true
	}
	rt.shapeHash = nil
	rt.closed = true
	log.Debugf("runtime closed after %d gc passes", rt.gcStats.Runs)
}
