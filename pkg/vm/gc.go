package vm

import (
	"unsafe"

	"github.com/tliron/commonlog"
)

type gcKind uint8

const (
	gcKindObject gcKind = iota
	gcKindFunctionBytecode
	gcKindShape
	gcKindVarRef
	gcKindAsyncFunction
	gcKindString // not tracked
	gcKindSymbol // not tracked
)

func (k gcKind) String() string {
	switch k {
	case gcKindObject:
		return "object"
	case gcKindFunctionBytecode:
		return "function_bytecode"
	case gcKindShape:
		return "shape"
	case gcKindVarRef:
		return "var_ref"
	case gcKindAsyncFunction:
		return "async_function"
	case gcKindString:
		return "string"
	case gcKindSymbol:
		return "symbol"
	}
	return "unknown"
}

type gcPhase uint8

const (
	gcPhaseNone gcPhase = iota
	gcPhaseDecref
	gcPhaseRemoveCycles
)

// gcHeader is the first field of every refcounted heap cell. Tracked cells
// are linked into exactly one of the runtime's GC lists.
type gcHeader struct {
	refCount int32
	kind     gcKind
	mark     uint8
	freed    bool
	tracked  bool
	prev     *gcHeader
	next     *gcHeader
}

// gcList is an intrusive circular list with a sentinel head.
type gcList struct {
	head gcHeader
}

func (l *gcList) init() {
	l.head.prev = &l.head
	l.head.next = &l.head
}

func (l *gcList) empty() bool { return l.head.next == &l.head }

func (l *gcList) front() *gcHeader { return l.head.next }

func (l *gcList) pushBack(h *gcHeader) {
	last := l.head.prev
	h.prev = last
	h.next = &l.head
	last.next = h
	l.head.prev = h
}

func (l *gcList) count() int {
	n := 0
	for h := l.head.next; h != &l.head; h = h.next {
		n++
	}
	return n
}

func (h *gcHeader) unlink() {
	if h.prev == nil {
		return
	}
	h.prev.next = h.next
	h.next.prev = h.prev
	h.prev = nil
	h.next = nil
}

// addGCObject registers a new tracked cell.
func (rt *Runtime) addGCObject(h *gcHeader, kind gcKind) {
	h.kind = kind
	h.tracked = true
	h.mark = 0
	rt.gcObjList.pushBack(h)
	rt.allocSinceGC++
}

func (rt *Runtime) removeGCObject(h *gcHeader) {
	h.unlink()
	h.tracked = false
}

// FreeValue drops one reference to v's referent. The referent is released
// when the count reaches zero.
func (rt *Runtime) FreeValue(v Value) { rt.freeValue(v) }

// ReleaseObject drops a reference returned as a bare *Object, such as the
// result of GetClassProto.
func (rt *Runtime) ReleaseObject(p *Object) { rt.freeObjectRef(p) }

func (rt *Runtime) freeValue(v Value) {
	if !v.tag.hasRef() {
		return
	}
	h := v.header()
	h.refCount--
	if h.refCount > 0 {
		return
	}
	if h.refCount < 0 {
		panic(invariantf("refcount underflow on %s", v.tag))
	}
	switch v.tag {
	case TagString, TagSymbol:
		h.freed = true
	case TagFunctionBytecode:
		rt.freeFunctionBytecode(v.bytecode())
	case TagObject:
		rt.releaseGCObject(h)
	}
}

func (rt *Runtime) freeObjectRef(p *Object) {
	if p != nil {
		rt.freeValue(objValue(p))
	}
}

// releaseGCObject queues a zero-refcount object or async state for release.
// Releasing goes through the zero-refcount list so that deep chains of
// children do not recurse on the Go stack.
func (rt *Runtime) releaseGCObject(h *gcHeader) {
	if rt.gcPhase == gcPhaseRemoveCycles {
		// gcFreeCycles releases everything left in tmpObjList.
		return
	}
	h.unlink()
	rt.zeroRefList.pushBack(h)
	if rt.gcPhase == gcPhaseNone {
		rt.freeZeroRefCount()
	}
}

func (rt *Runtime) freeZeroRefCount() {
	rt.gcPhase = gcPhaseDecref
	for !rt.zeroRefList.empty() {
		rt.freeGCObject(rt.zeroRefList.front())
	}
	rt.gcPhase = gcPhaseNone
}

func (rt *Runtime) freeGCObject(h *gcHeader) {
	switch h.kind {
	case gcKindObject:
		rt.freeObject((*Object)(unsafe.Pointer(h)))
	case gcKindAsyncFunction:
		rt.freeAsyncState((*asyncFunctionState)(unsafe.Pointer(h)))
	default:
		panic(invariantf("freeGCObject: unexpected kind %s", h.kind))
	}
}

// markFunc visits one child edge of a tracked cell.
type markFunc func(rt *Runtime, h *gcHeader)

// MarkFunc is handed to host class GCMark hooks; call it for every Value
// the object owns.
type MarkFunc func(v Value)

func (rt *Runtime) markValue(v Value, mf markFunc) {
	if v.tag == TagObject {
		mf(rt, v.header())
	}
}

func (rt *Runtime) markObject(p *Object, mf markFunc) {
	if p != nil {
		mf(rt, &p.gcHeader)
	}
}

// markChildren calls mf for every tracked cell h holds a reference to.
func (rt *Runtime) markChildren(h *gcHeader, mf markFunc) {
	switch h.kind {
	case gcKindObject:
		p := (*Object)(unsafe.Pointer(h))
		if p.shape == nil {
			return
		}
		mf(rt, &p.shape.gcHeader)
		for i := range p.shape.props {
			prs := &p.shape.props[i]
			if prs.atom == AtomNull {
				continue
			}
			pr := &p.prop[i]
			switch prs.flags & PropTMask {
			case PropGetSet:
				rt.markObject(pr.getter, mf)
				rt.markObject(pr.setter, mf)
			case PropVarRef:
				if pr.varRef.isDetached {
					mf(rt, &pr.varRef.gcHeader)
				}
			default:
				rt.markValue(pr.value, mf)
			}
		}
		if cls := rt.classes[p.classID]; cls != nil && cls.gcMark != nil {
			cls.gcMark(rt, p, mf)
		}
	case gcKindShape:
		sh := (*Shape)(unsafe.Pointer(h))
		rt.markObject(sh.proto, mf)
	case gcKindVarRef:
		vr := (*VarRef)(unsafe.Pointer(h))
		if vr.isDetached {
			rt.markValue(vr.value, mf)
		}
	case gcKindAsyncFunction:
		s := (*asyncFunctionState)(unsafe.Pointer(h))
		rt.markAsyncState(s, mf)
	}
}

func gcDecrefChild(rt *Runtime, h *gcHeader) {
	if !h.tracked {
		return
	}
	h.refCount--
	if h.refCount < 0 {
		panic(invariantf("gc: negative refcount on %s", h.kind))
	}
	if h.refCount == 0 && h.mark == 1 {
		h.unlink()
		rt.tmpObjList.pushBack(h)
	}
}

func gcScanIncrefChild(rt *Runtime, h *gcHeader) {
	if !h.tracked {
		return
	}
	h.refCount++
	if h.refCount == 1 {
		// reachable again: back to the live list, it will be scanned in turn
		h.unlink()
		rt.gcObjList.pushBack(h)
		h.mark = 0
	}
}

func gcScanIncrefChild2(rt *Runtime, h *gcHeader) {
	if h.tracked {
		h.refCount++
	}
}

// gcDecref subtracts every internal edge from the refcounts. Cells left at
// zero are only referenced from other tracked cells and move to tmpObjList.
func (rt *Runtime) gcDecref() {
	rt.tmpObjList.init()
	head := &rt.gcObjList.head
	for h := head.next; h != head; {
		next := h.next
		rt.markChildren(h, gcDecrefChild)
		h.mark = 1
		if h.refCount == 0 {
			h.unlink()
			rt.tmpObjList.pushBack(h)
		}
		h = next
	}
}

// gcScan restores the refcounts, pulling back into the live list everything
// reachable from a cell with external references.
func (rt *Runtime) gcScan() {
	head := &rt.gcObjList.head
	for h := head.next; h != head; h = h.next {
		h.mark = 0
		rt.markChildren(h, gcScanIncrefChild)
	}
	tmp := &rt.tmpObjList.head
	for h := tmp.next; h != tmp; h = h.next {
		rt.markChildren(h, gcScanIncrefChild2)
	}
}

// gcFreeCycles releases the garbage left in tmpObjList.
func (rt *Runtime) gcFreeCycles() int {
	rt.gcPhase = gcPhaseRemoveCycles
	freed := 0
	tmp := &rt.tmpObjList.head
	for tmp.next != tmp {
		h := tmp.next
		switch h.kind {
		case gcKindObject, gcKindAsyncFunction:
			rt.freeGCObject(h)
			freed++
		default:
			// shapes and var refs are released by their owners
			h.unlink()
			rt.zeroRefList.pushBack(h)
		}
	}
	rt.gcPhase = gcPhaseNone
	zero := &rt.zeroRefList.head
	for h := zero.next; h != zero; {
		next := h.next
		// owners are gone by now; anything still queued is unreachable
		if h.kind == gcKindShape {
			sh := (*Shape)(unsafe.Pointer(h))
			if sh.isHashed {
				rt.shapeHashUnlink(sh)
				sh.isHashed = false
			}
		}
		h.unlink()
		h.tracked = false
		h.freed = true
		h = next
	}
	rt.zeroRefList.init()
	return freed
}

// GCStats reports the outcome of collector passes.
type GCStats struct {
	Runs        int
	Collected   int // objects freed by cycle collection, all passes
	LastFreed   int
	LastLive    int
	Threshold   int
	Allocations int
}

// RunGC runs one full cycle collection pass.
func (rt *Runtime) RunGC() {
	if rt.gcPhase != gcPhaseNone {
		return
	}
	rt.gcDecref()
	rt.gcScan()
	freed := rt.gcFreeCycles()
	live := rt.gcObjList.count()

	rt.gcStats.Runs++
	rt.gcStats.Collected += freed
	rt.gcStats.LastFreed = freed
	rt.gcStats.LastLive = live
	rt.allocSinceGC = 0
	next := live + live/2
	if rt.minGCThreshold == 0 {
		next = 0
	} else if next < rt.minGCThreshold {
		next = rt.minGCThreshold
	}
	rt.gcThreshold = next
	rt.gcStats.Threshold = next
	if log.AllowLevel(commonlog.Debug) {
		log.Debugf("gc pass %d: freed %d, live %d, next threshold %d", rt.gcStats.Runs, freed, live, next)
	}
}

// triggerGC runs a pass when enough tracked cells were allocated since the
// last one. Called before allocating.
func (rt *Runtime) triggerGC() {
	if rt.gcPhase != gcPhaseNone || rt.gcThreshold <= 0 {
		return
	}
	if rt.gcStress || rt.allocSinceGC >= rt.gcThreshold {
		rt.RunGC()
	}
}

// GCStats returns collector counters.
func (rt *Runtime) GCStats() GCStats {
	s := rt.gcStats
	s.Threshold = rt.gcThreshold
	s.Allocations = rt.allocSinceGC
	return s
}

// IsLiveObject reports whether v still refers to an object that has not
// been released. Finalizers can observe zombies during cycle collection.
func (rt *Runtime) IsLiveObject(v Value) bool {
	if v.tag != TagObject {
		return false
	}
	return !v.object().freed
}
