package vm

import (
	"fmt"
	"unsafe"
)

// MemoryUsage counts the tracked cells of a runtime.
type MemoryUsage struct {
	Objects        int
	Arrays         int
	FastArrays     int
	ArrayElements  int // dense elements held by fast arrays
	Functions      int
	Bytecodes      int // reachable from live closures
	Shapes         int
	Properties     int
	VarRefs        int
	AsyncFunctions int
	Atoms          int
}

// MemoryUsage walks the heap and tallies it by kind.
func (rt *Runtime) MemoryUsage() MemoryUsage {
	var m MemoryUsage
	seen := map[*FunctionBytecode]bool{}
	var countBytecode func(b *FunctionBytecode)
	countBytecode = func(b *FunctionBytecode) {
		if seen[b] {
			return
		}
		seen[b] = true
		m.Bytecodes++
		for _, c := range b.Constants {
			if nb := c.AsFunctionBytecode(); nb != nil {
				countBytecode(nb)
			}
		}
	}
	head := &rt.gcObjList.head
	for h := head.next; h != head; h = h.next {
		switch h.kind {
		case gcKindObject:
			p := (*Object)(unsafe.Pointer(h))
			m.Objects++
			m.Properties += len(p.prop)
			if p.classID == ClassArray {
				m.Arrays++
				if p.fastArray {
					m.FastArrays++
					m.ArrayElements += len(p.values)
				}
			}
			if p.isFunction() {
				m.Functions++
			}
			if p.fn != nil && p.fn.b != nil {
				countBytecode(p.fn.b)
			}
		case gcKindShape:
			m.Shapes++
		case gcKindVarRef:
			m.VarRefs++
		case gcKindAsyncFunction:
			m.AsyncFunctions++
		}
	}
	m.Atoms = rt.atomCount()
	return m
}

// HeapEdge is a reference from one heap cell to another.
type HeapEdge struct {
	To    uintptr
	Label string
}

// HeapNode describes one tracked cell. IDs are stable while the cell lives.
type HeapNode struct {
	ID       uintptr
	Kind     string
	Class    string
	RefCount int
	Detail   string
	Edges    []HeapEdge
}

// WalkHeap calls fn for every tracked cell. Iteration stops at the first
// error. fn must not allocate script values.
func (rt *Runtime) WalkHeap(fn func(HeapNode) error) error {
	head := &rt.gcObjList.head
	for h := head.next; h != head; {
		next := h.next
		if err := fn(rt.describeCell(h)); err != nil {
			return err
		}
		h = next
	}
	return nil
}

func cellID(h *gcHeader) uintptr { return uintptr(unsafe.Pointer(h)) }

func (rt *Runtime) describeCell(h *gcHeader) HeapNode {
	n := HeapNode{ID: cellID(h), Kind: h.kind.String(), RefCount: int(h.refCount)}
	edge := func(label string) markFunc {
		return func(_ *Runtime, c *gcHeader) {
			n.Edges = append(n.Edges, HeapEdge{To: cellID(c), Label: label})
		}
	}
	switch h.kind {
	case gcKindObject:
		p := (*Object)(unsafe.Pointer(h))
		n.Class = rt.ClassName(p.classID)
		if p.shape == nil {
			break
		}
		n.Detail = fmt.Sprintf("%d properties", len(p.prop))
		if p.fastArray {
			n.Detail = fmt.Sprintf("%d properties, %d elements", len(p.prop), len(p.values))
		}
		edge("shape")(rt, &p.shape.gcHeader)
		for i := range p.shape.props {
			prs := &p.shape.props[i]
			if prs.atom == AtomNull {
				continue
			}
			pr := &p.prop[i]
			name := rt.AtomString(prs.atom)
			switch prs.flags & PropTMask {
			case PropGetSet:
				rt.markObject(pr.getter, edge("get "+name))
				rt.markObject(pr.setter, edge("set "+name))
			case PropVarRef:
				if pr.varRef.isDetached {
					edge(name)(rt, &pr.varRef.gcHeader)
				}
			default:
				rt.markValue(pr.value, edge(name))
			}
		}
		if p.classID == ClassArray || p.classID == ClassArguments {
			for i, v := range p.values {
				rt.markValue(v, edge(fmt.Sprintf("[%d]", i)))
			}
		} else if cls := rt.classes[p.classID]; cls != nil && cls.gcMark != nil {
			cls.gcMark(rt, p, edge("internal"))
		}
	case gcKindShape:
		sh := (*Shape)(unsafe.Pointer(h))
		n.Detail = fmt.Sprintf("%d properties", len(sh.props))
		rt.markObject(sh.proto, edge("proto"))
	case gcKindFunctionBytecode:
		b := (*FunctionBytecode)(unsafe.Pointer(h))
		n.Detail = b.Name
	default:
		rt.markChildren(h, edge("value"))
	}
	return n
}
