package vm

import "unsafe"

// PropFlags holds property attributes (stored in shapes) and, in the upper
// bits, the flags understood by DefineProperty and SetProperty.
type PropFlags uint32

const (
	PropConfigurable PropFlags = 1 << 0
	PropWritable     PropFlags = 1 << 1
	PropEnumerable   PropFlags = 1 << 2
	PropCWE                    = PropConfigurable | PropWritable | PropEnumerable
	PropLength       PropFlags = 1 << 3 // the length property of an array
	PropTMask        PropFlags = 3 << 4
	PropNormal       PropFlags = 0 << 4
	PropGetSet       PropFlags = 1 << 4
	PropVarRef       PropFlags = 2 << 4 // slot aliases a VarRef (global lexical binding)

	propShapeMask = PropCWE | PropLength | PropTMask

	PropHasConfigurable PropFlags = 1 << 8
	PropHasWritable     PropFlags = 1 << 9
	PropHasEnumerable   PropFlags = 1 << 10
	PropHasGet          PropFlags = 1 << 11
	PropHasSet          PropFlags = 1 << 12
	PropHasValue        PropFlags = 1 << 13

	// PropThrow turns a silent false result into a TypeError.
	PropThrow PropFlags = 1 << 14
	// PropThrowStrict throws only when the calling bytecode is strict.
	PropThrowStrict PropFlags = 1 << 15
)

const (
	shapeInitialHashSize = 4
	shapeInitialPropSize = 2
	shapeHashInitialBits = 4
	compactMinDeleted    = 8
)

type shapeProperty struct {
	hashNext uint32 // 1-based index of the next property in the same bucket, 0 ends
	flags    PropFlags
	atom     Atom
}

// Shape describes the layout of an object: its prototype and its ordered
// property keys with their attributes. Objects built the same way from the
// same prototype share one hashed shape.
type Shape struct {
	gcHeader
	isHashed         bool
	hash             uint32
	version          uint32 // bumped on every in-place change
	hashMask         uint32
	hashHeads        []uint32 // bucket -> 1-based property index
	props            []shapeProperty
	deletedPropCount int
	proto            *Object
	shapeHashNext    *Shape
}

func shapeHashMix(h, val uint32) uint32 {
	return (h + val) * 0x9e370001
}

func shapeInitialHash(proto *Object) uint32 {
	p := uint64(uintptr(unsafe.Pointer(proto)))
	h := shapeHashMix(1, uint32(p))
	return shapeHashMix(h, uint32(p>>32))
}

func (rt *Runtime) shapeBucket(h uint32) uint32 {
	return h >> (32 - rt.shapeHashBits)
}

func (rt *Runtime) initShapeHash() {
	rt.shapeHashBits = shapeHashInitialBits
	rt.shapeHash = make([]*Shape, 1<<rt.shapeHashBits)
	rt.shapeHashCount = 0
}

func (rt *Runtime) resizeShapeHash(bits int) {
	old := rt.shapeHash
	rt.shapeHashBits = bits
	rt.shapeHash = make([]*Shape, 1<<bits)
	for _, sh := range old {
		for sh != nil {
			next := sh.shapeHashNext
			b := rt.shapeBucket(sh.hash)
			sh.shapeHashNext = rt.shapeHash[b]
			rt.shapeHash[b] = sh
			sh = next
		}
	}
}

func (rt *Runtime) shapeHashLink(sh *Shape) {
	b := rt.shapeBucket(sh.hash)
	sh.shapeHashNext = rt.shapeHash[b]
	rt.shapeHash[b] = sh
	rt.shapeHashCount++
	if rt.shapeHashCount*2 > len(rt.shapeHash) {
		rt.resizeShapeHash(rt.shapeHashBits + 1)
	}
}

func (rt *Runtime) shapeHashUnlink(sh *Shape) {
	b := rt.shapeBucket(sh.hash)
	pp := &rt.shapeHash[b]
	for *pp != nil {
		if *pp == sh {
			*pp = sh.shapeHashNext
			sh.shapeHashNext = nil
			rt.shapeHashCount--
			return
		}
		pp = &(*pp).shapeHashNext
	}
	panic(invariantf("shape not found in hash table"))
}

// newShape allocates a hashed shape with no properties.
func (rt *Runtime) newShape(proto *Object, hashSize, propSize int) *Shape {
	rt.triggerGC()
	sh := &Shape{
		hashMask:  uint32(hashSize - 1),
		hashHeads: make([]uint32, hashSize),
		props:     make([]shapeProperty, 0, propSize),
		proto:     proto,
	}
	sh.refCount = 1
	if proto != nil {
		proto.refCount++
	}
	rt.addGCObject(&sh.gcHeader, gcKindShape)
	sh.isHashed = true
	sh.hash = shapeInitialHash(proto)
	rt.shapeHashLink(sh)
	return sh
}

// cloneShape returns an unhashed copy of sh owned by the caller.
func (rt *Runtime) cloneShape(sh1 *Shape) *Shape {
	rt.triggerGC()
	sh := &Shape{
		hash:             sh1.hash,
		hashMask:         sh1.hashMask,
		hashHeads:        append([]uint32(nil), sh1.hashHeads...),
		props:            append(make([]shapeProperty, 0, cap(sh1.props)), sh1.props...),
		deletedPropCount: sh1.deletedPropCount,
		proto:            sh1.proto,
	}
	sh.refCount = 1
	if sh.proto != nil {
		sh.proto.refCount++
	}
	rt.addGCObject(&sh.gcHeader, gcKindShape)
	return sh
}

func dupShape(sh *Shape) *Shape {
	sh.refCount++
	return sh
}

func (rt *Runtime) freeShape(sh *Shape) {
	sh.refCount--
	if sh.refCount > 0 {
		return
	}
	if sh.refCount < 0 {
		panic(invariantf("shape refcount underflow"))
	}
	rt.freeShapeStorage(sh)
}

func (rt *Runtime) freeShapeStorage(sh *Shape) {
	if sh.isHashed {
		rt.shapeHashUnlink(sh)
		sh.isHashed = false
	}
	proto := sh.proto
	sh.proto = nil
	rt.removeGCObject(&sh.gcHeader)
	sh.freed = true
	rt.freeObjectRef(proto)
}

// findHashedShapeProto returns the hashed empty shape for proto, if any.
func (rt *Runtime) findHashedShapeProto(proto *Object) *Shape {
	h := shapeInitialHash(proto)
	for sh := rt.shapeHash[rt.shapeBucket(h)]; sh != nil; sh = sh.shapeHashNext {
		if sh.hash == h && sh.proto == proto && len(sh.props) == 0 {
			return sh
		}
	}
	return nil
}

// findHashedShapeProp returns the hashed shape equal to sh plus (atom, flags).
func (rt *Runtime) findHashedShapeProp(sh *Shape, atom Atom, flags PropFlags) *Shape {
	h := shapeHashMix(shapeHashMix(sh.hash, uint32(atom)), uint32(flags))
	n := len(sh.props)
	for sh1 := rt.shapeHash[rt.shapeBucket(h)]; sh1 != nil; sh1 = sh1.shapeHashNext {
		if sh1.hash != h || sh1.proto != sh.proto || len(sh1.props) != n+1 {
			continue
		}
		match := true
		for i := 0; i < n; i++ {
			if sh1.props[i].atom != sh.props[i].atom || sh1.props[i].flags != sh.props[i].flags {
				match = false
				break
			}
		}
		if match && sh1.props[n].atom == atom && sh1.props[n].flags == flags {
			return sh1
		}
	}
	return nil
}

func (sh *Shape) rehash(hashSize int) {
	sh.hashMask = uint32(hashSize - 1)
	sh.hashHeads = make([]uint32, hashSize)
	for i := range sh.props {
		pr := &sh.props[i]
		if pr.atom == AtomNull {
			pr.hashNext = 0
			continue
		}
		b := uint32(pr.atom) & sh.hashMask
		pr.hashNext = sh.hashHeads[b]
		sh.hashHeads[b] = uint32(i + 1)
	}
}

// addShapeProperty appends (atom, flags) to sh, which the caller owns
// exclusively. The caller grows the object's slots to match.
func (rt *Runtime) addShapeProperty(sh *Shape, atom Atom, flags PropFlags) {
	var newHash uint32
	if sh.isHashed {
		rt.shapeHashUnlink(sh)
		newHash = shapeHashMix(shapeHashMix(sh.hash, uint32(atom)), uint32(flags))
	}
	sh.props = append(sh.props, shapeProperty{flags: flags, atom: atom})
	if len(sh.props) > 2*len(sh.hashHeads) {
		sh.rehash(2 * len(sh.hashHeads))
	} else {
		b := uint32(atom) & sh.hashMask
		sh.props[len(sh.props)-1].hashNext = sh.hashHeads[b]
		sh.hashHeads[b] = uint32(len(sh.props))
	}
	sh.version++
	if sh.isHashed {
		sh.hash = newHash
		rt.shapeHashLink(sh)
	}
}

// prepareUpdate makes p's shape safe to modify in place: a shared hashed
// shape is replaced by a private clone, a private hashed shape leaves the
// hash table.
func (rt *Runtime) prepareUpdate(p *Object) {
	sh := p.shape
	if !sh.isHashed {
		return
	}
	if sh.refCount == 1 {
		rt.shapeHashUnlink(sh)
		sh.isHashed = false
		return
	}
	clone := rt.cloneShape(sh)
	p.shape = clone
	rt.freeShape(sh)
}

// compactProperties drops tombstones from p's private shape and slots.
func (rt *Runtime) compactProperties(p *Object) {
	sh := p.shape
	if sh.isHashed {
		panic(invariantf("compacting a hashed shape"))
	}
	live := len(sh.props) - sh.deletedPropCount
	size := len(sh.hashHeads)
	for size > shapeInitialHashSize && 2*live < size {
		size /= 2
	}
	props := make([]shapeProperty, 0, live)
	slots := make([]Property, 0, live)
	for i := range sh.props {
		if sh.props[i].atom == AtomNull {
			continue
		}
		props = append(props, sh.props[i])
		slots = append(slots, p.prop[i])
	}
	sh.props = props
	sh.deletedPropCount = 0
	sh.rehash(size)
	sh.version++
	p.prop = slots
}

// findProperty returns the slot index of atom, or -1.
func (sh *Shape) findProperty(atom Atom) (int, *shapeProperty) {
	idx := sh.hashHeads[uint32(atom)&sh.hashMask]
	for idx != 0 {
		pr := &sh.props[idx-1]
		if pr.atom == atom {
			return int(idx - 1), pr
		}
		idx = pr.hashNext
	}
	return -1, nil
}

// Version exposes the mutation counter, mainly for tests and diagnostics.
func (sh *Shape) Version() uint32 { return sh.version }

// Len returns the number of slots, tombstones included.
func (sh *Shape) Len() int { return len(sh.props) }
