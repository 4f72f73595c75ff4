package vm

import (
	"fmt"
	"io"
	"sort"
)

// PropCacheState represents the different states of inline cache
type PropCacheState uint8

const (
	CacheStateUninitialized PropCacheState = iota
	CacheStateMonomorphic                  // Single shape cached
	CacheStatePolymorphic                  // Multiple shapes cached (up to 4)
	CacheStateMegamorphic                  // Too many shapes, always take the slow path
)

func (s PropCacheState) String() string {
	switch s {
	case CacheStateMonomorphic:
		return "MONOMORPHIC"
	case CacheStatePolymorphic:
		return "POLYMORPHIC"
	case CacheStateMegamorphic:
		return "MEGAMORPHIC"
	}
	return "UNINITIALIZED"
}

const maxCacheEntries = 4

// PropCacheEntry is valid while the object's shape is the same, unmutated
// shape that was recorded.
type PropCacheEntry struct {
	shape   *Shape
	version uint32
	offset  int
}

// PropInlineCache is the inline cache of one property access site.
type PropInlineCache struct {
	state      PropCacheState
	entries    [maxCacheEntries]PropCacheEntry
	entryCount int
	hitCount   uint32
	missCount  uint32
}

// CacheStats aggregates inline cache activity for a runtime.
type CacheStats struct {
	Hits            uint64
	Misses          uint64
	MonomorphicHits uint64
	PolymorphicHits uint64
	MegamorphicHits uint64
}

// lookup returns the slot offset for shape when the site has seen it.
func (ic *PropInlineCache) lookup(sh *Shape, stats *CacheStats) (int, bool) {
	switch ic.state {
	case CacheStateMonomorphic:
		e := &ic.entries[0]
		if e.shape == sh && e.version == sh.version {
			ic.hitCount++
			stats.Hits++
			stats.MonomorphicHits++
			return e.offset, true
		}
	case CacheStatePolymorphic:
		for i := 0; i < ic.entryCount; i++ {
			e := ic.entries[i]
			if e.shape == sh && e.version == sh.version {
				ic.hitCount++
				stats.Hits++
				stats.PolymorphicHits++
				// Move hit entry to front for better cache locality
				if i > 0 {
					copy(ic.entries[1:i+1], ic.entries[0:i])
					ic.entries[0] = e
				}
				return e.offset, true
			}
		}
	case CacheStateMegamorphic:
		stats.MegamorphicHits++
	}
	ic.missCount++
	stats.Misses++
	return -1, false
}

// update records that shape keeps the property at offset.
func (ic *PropInlineCache) update(sh *Shape, offset int) {
	entry := PropCacheEntry{shape: sh, version: sh.version, offset: offset}
	switch ic.state {
	case CacheStateUninitialized:
		ic.state = CacheStateMonomorphic
		ic.entries[0] = entry
		ic.entryCount = 1
	case CacheStateMonomorphic:
		if ic.entries[0].shape == sh {
			ic.entries[0] = entry
			return
		}
		ic.state = CacheStatePolymorphic
		ic.entries[1] = entry
		ic.entryCount = 2
	case CacheStatePolymorphic:
		for i := 0; i < ic.entryCount; i++ {
			if ic.entries[i].shape == sh {
				ic.entries[i] = entry
				return
			}
		}
		if ic.entryCount < maxCacheEntries {
			ic.entries[ic.entryCount] = entry
			ic.entryCount++
			return
		}
		ic.state = CacheStateMegamorphic
		ic.entries = [maxCacheEntries]PropCacheEntry{}
		ic.entryCount = 0
	}
}

// State reports the site's current state.
func (ic *PropInlineCache) State() PropCacheState { return ic.state }

// cacheAt returns the cache of the access site at pc.
func (b *FunctionBytecode) cacheAt(pc int) *PropInlineCache {
	if b.caches == nil {
		b.caches = make([]*PropInlineCache, len(b.Code))
	}
	ic := b.caches[pc]
	if ic == nil {
		ic = &PropInlineCache{}
		b.caches[pc] = ic
	}
	return ic
}

// CacheStats returns the runtime's inline cache counters.
func (rt *Runtime) CacheStats() CacheStats { return rt.icStats }

// cacheable reports whether own lookups on p depend only on its shape.
func (rt *Runtime) cacheable(p *Object) bool {
	if p.classID == ClassProxy {
		return false
	}
	cls := rt.classes[p.classID]
	return cls == nil || cls.exotic == nil
}

// getFieldCached reads an own data property through the site cache.
// ok is false when the slow path must run.
func (rt *Runtime) getFieldCached(ic *PropInlineCache, obj Value, atom Atom) (Value, bool) {
	if obj.tag != TagObject || !rt.inlineCache {
		return Undefined, false
	}
	p := obj.object()
	if !rt.cacheable(p) {
		return Undefined, false
	}
	sh := p.shape
	if off, hit := ic.lookup(sh, &rt.icStats); hit {
		return dupValue(p.prop[off].value), true
	}
	if ic.state == CacheStateMegamorphic {
		return Undefined, false
	}
	if idx, prs := sh.findProperty(atom); prs != nil && prs.flags&PropTMask == PropNormal && prs.flags&PropLength == 0 {
		ic.update(sh, idx)
		return dupValue(p.prop[idx].value), true
	}
	return Undefined, false
}

// putFieldCached stores into an existing writable own data property. val
// is consumed only when ok is true.
func (rt *Runtime) putFieldCached(ic *PropInlineCache, obj Value, atom Atom, val Value) bool {
	if obj.tag != TagObject || !rt.inlineCache {
		return false
	}
	p := obj.object()
	if !rt.cacheable(p) {
		return false
	}
	sh := p.shape
	off, hit := ic.lookup(sh, &rt.icStats)
	if !hit {
		if ic.state == CacheStateMegamorphic {
			return false
		}
		idx, prs := sh.findProperty(atom)
		if prs == nil || prs.flags&(PropTMask|PropWritable|PropLength) != PropWritable {
			return false
		}
		ic.update(sh, idx)
		off = idx
	}
	old := p.prop[off].value
	p.prop[off].value = val
	rt.freeValue(old)
	return true
}

// DumpCacheSites writes the state of every cache site of b.
func DumpCacheSites(w io.Writer, b *FunctionBytecode) {
	var pcs []int
	for pc, ic := range b.caches {
		if ic != nil {
			pcs = append(pcs, pc)
		}
	}
	if len(pcs) == 0 {
		fmt.Fprintf(w, "%s: no cache activity\n", b.Name)
		return
	}
	sort.Ints(pcs)
	for _, pc := range pcs {
		ic := b.caches[pc]
		state := ic.state.String()
		if ic.state == CacheStatePolymorphic {
			state = fmt.Sprintf("POLYMORPHIC(%d)", ic.entryCount)
		}
		fmt.Fprintf(w, "  %s pc %d: %s (hits: %d, misses: %d)\n", b.Name, pc, state, ic.hitCount, ic.missCount)
	}
}
