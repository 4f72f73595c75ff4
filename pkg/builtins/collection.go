package builtins

import (
	"math"

	"bridgejs/pkg/vm"
)

// mapKey identifies a key under SameValueZero. Strings compare by content,
// numbers by value with -0 folded into +0 and every NaN equal, objects and
// symbols by identity.
type mapKey struct {
	tag  vm.Tag
	bits uint64
	str  string
	ref  any
}

var canonicalNaN = math.Float64bits(math.NaN())

func keyOf(v vm.Value) mapKey {
	switch {
	case v.IsNumber():
		f := v.Number()
		if math.IsNaN(f) {
			return mapKey{tag: vm.TagFloat64, bits: canonicalNaN}
		}
		if f == 0 {
			f = 0
		}
		return mapKey{tag: vm.TagFloat64, bits: math.Float64bits(f)}
	case v.IsString():
		s, _ := v.AsString()
		return mapKey{tag: vm.TagString, str: s}
	case v.IsSymbol():
		a, _ := v.SymbolAtom()
		return mapKey{tag: vm.TagSymbol, ref: a}
	case v.IsObject():
		return mapKey{tag: vm.TagObject, ref: v.AsObject()}
	case v.IsBool():
		if v.Bool() {
			return mapKey{tag: vm.TagBool, bits: 1}
		}
		return mapKey{tag: vm.TagBool}
	}
	return mapKey{tag: v.Tag()}
}

// canonicalKey turns -0 into +0; other values are returned unchanged.
func canonicalKey(k vm.Value) vm.Value {
	if k.IsNumber() && k.Number() == 0 {
		return vm.NewInt32(0)
	}
	return k
}

type tableEntry struct {
	key     vm.Value
	value   vm.Value
	deleted bool
}

// orderedTable keeps insertion order for Map and Set. Deleted entries stay
// in place as tombstones while an iterator or forEach walks the table so
// positions remain valid; otherwise they are compacted away.
type orderedTable struct {
	index   map[mapKey]int
	entries []tableEntry
	size    int
	dead    int
	walkers int
}

func newOrderedTable() *orderedTable {
	return &orderedTable{index: make(map[mapKey]int)}
}

func (t *orderedTable) lookup(k vm.Value) (*tableEntry, bool) {
	i, ok := t.index[keyOf(k)]
	if !ok {
		return nil, false
	}
	return &t.entries[i], true
}

// set stores borrowed k and v, replacing the value of an existing key.
func (t *orderedTable) set(rt *vm.Runtime, k, v vm.Value) {
	if e, ok := t.lookup(k); ok {
		old := e.value
		e.value = v.Dup()
		rt.FreeValue(old)
		return
	}
	k = canonicalKey(k)
	t.index[keyOf(k)] = len(t.entries)
	t.entries = append(t.entries, tableEntry{key: k.Dup(), value: v.Dup()})
	t.size++
}

func (t *orderedTable) remove(rt *vm.Runtime, k vm.Value) bool {
	key := keyOf(k)
	i, ok := t.index[key]
	if !ok {
		return false
	}
	delete(t.index, key)
	e := &t.entries[i]
	rt.FreeValue(e.key)
	rt.FreeValue(e.value)
	*e = tableEntry{key: vm.Undefined, value: vm.Undefined, deleted: true}
	t.size--
	t.dead++
	t.maybeCompact()
	return true
}

func (t *orderedTable) clear(rt *vm.Runtime) {
	for i := range t.entries {
		e := &t.entries[i]
		if e.deleted {
			continue
		}
		rt.FreeValue(e.key)
		rt.FreeValue(e.value)
		*e = tableEntry{key: vm.Undefined, value: vm.Undefined, deleted: true}
		t.dead++
	}
	t.index = make(map[mapKey]int)
	t.size = 0
	t.maybeCompact()
}

func (t *orderedTable) maybeCompact() {
	if t.walkers > 0 || t.dead < 8 || t.dead < len(t.entries)/2 {
		return
	}
	live := t.entries[:0]
	for _, e := range t.entries {
		if !e.deleted {
			t.index[keyOf(e.key)] = len(live)
			live = append(live, e)
		}
	}
	for i := len(live); i < len(t.entries); i++ {
		t.entries[i] = tableEntry{}
	}
	t.entries = live
	t.dead = 0
}

func (t *orderedTable) beginWalk() { t.walkers++ }

func (t *orderedTable) endWalk() {
	t.walkers--
	t.maybeCompact()
}

// next returns the first live entry at or after pos and the position after
// it, or nil at the end.
func (t *orderedTable) next(pos int) (*tableEntry, int) {
	for ; pos < len(t.entries); pos++ {
		if e := &t.entries[pos]; !e.deleted {
			return e, pos + 1
		}
	}
	return nil, pos
}

func (t *orderedTable) mark(mark vm.MarkFunc) {
	for _, e := range t.entries {
		if !e.deleted {
			mark(e.key)
			mark(e.value)
		}
	}
}

func (t *orderedTable) release(rt *vm.Runtime) {
	entries := t.entries
	t.entries = nil
	t.index = nil
	for _, e := range entries {
		if !e.deleted {
			rt.FreeValue(e.key)
			rt.FreeValue(e.value)
		}
	}
}

// forEach calls cb(value, key, owner) for every entry, including entries
// added during the walk.
func (t *orderedTable) forEach(ctx *vm.Context, owner, cb, thisArg vm.Value) error {
	rt := ctx.Runtime()
	t.beginWalk()
	defer t.endWalk()
	for pos := 0; ; {
		var e *tableEntry
		if e, pos = t.next(pos); e == nil {
			return nil
		}
		k, v := e.key.Dup(), e.value.Dup()
		ret, err := ctx.Call(cb, thisArg, v, k, owner)
		rt.FreeValue(k)
		rt.FreeValue(v)
		if err != nil {
			return err
		}
		rt.FreeValue(ret)
	}
}

// tableIterator is the payload of Map and Set iterators. It owns a
// reference to the collection until it is exhausted.
type tableIterator struct {
	owner vm.Value
	table *orderedTable
	pos   int
	kind  keyKind
}

// iteratorClass is a host class for "Map Iterator" and "Set Iterator".
type iteratorClass struct {
	id vm.ClassID
}

func newIteratorClass(rc *RuntimeContext, name string) (*iteratorClass, error) {
	ctx := rc.Ctx
	rt := rc.Runtime()
	id, err := rc.hostClass(vm.ClassDef{
		Name: name,
		Finalizer: func(rt *vm.Runtime, obj *vm.Object) {
			if it, ok := obj.Opaque().(*tableIterator); ok {
				it.finish(rt)
			}
		},
		GCMark: func(rt *vm.Runtime, obj *vm.Object, mark vm.MarkFunc) {
			if it, ok := obj.Opaque().(*tableIterator); ok {
				mark(it.owner)
			}
		},
	})
	if err != nil {
		return nil, err
	}
	c := &iteratorClass{id: id}
	base := ctx.IteratorPrototype()
	proto := ctx.NewObjectProto(base.Value())
	rt.ReleaseObject(base)
	ctx.DefineFunction(proto.AsObject(), "next", c.next, 0)
	ctx.DefinePropertyValue(proto.AsObject(), vm.AtomSymbolToStringTag, vm.NewString(name), vm.PropConfigurable)
	ctx.SetClassProto(id, proto)
	return c, nil
}

func (it *tableIterator) finish(rt *vm.Runtime) {
	if it.owner.IsUndefined() {
		return
	}
	owner := it.owner
	it.owner = vm.Undefined
	it.table.endWalk()
	rt.FreeValue(owner)
}

// newIterator walks t, which belongs to owner (borrowed).
func (c *iteratorClass) newIterator(ctx *vm.Context, owner vm.Value, t *orderedTable, kind keyKind) (vm.Value, error) {
	t.beginWalk()
	it := &tableIterator{owner: owner.Dup(), table: t, kind: kind}
	v, err := ctx.NewObjectClass(c.id, it)
	if err != nil {
		it.finish(ctx.Runtime())
		return vm.Undefined, err
	}
	return v, nil
}

func (c *iteratorClass) next(ctx *vm.Context, this vm.Value, args []vm.Value) (vm.Value, error) {
	p := this.AsObject()
	if p == nil || p.ClassID() != c.id {
		return vm.Undefined, ctx.ThrowTypeError("next method called on an incompatible receiver")
	}
	it := p.Opaque().(*tableIterator)
	if it.owner.IsUndefined() {
		return ctx.NewIteratorResult(vm.Undefined, true), nil
	}
	e, pos := it.table.next(it.pos)
	it.pos = pos
	if e == nil {
		it.finish(ctx.Runtime())
		return ctx.NewIteratorResult(vm.Undefined, true), nil
	}
	switch it.kind {
	case keysOnly:
		return ctx.NewIteratorResult(e.key.Dup(), false), nil
	case valuesOnly:
		return ctx.NewIteratorResult(e.value.Dup(), false), nil
	}
	pair := ctx.NewArrayFrom([]vm.Value{e.key.Dup(), e.value.Dup()})
	return ctx.NewIteratorResult(pair, false), nil
}
