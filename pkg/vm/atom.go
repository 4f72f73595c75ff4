package vm

import (
	"strconv"
	"unsafe"
)

// Atom is an interned property key. Array indices up to 2^31-1 are encoded
// directly with atomTagInt set and never enter the table.
type Atom uint32

const (
	atomTagInt   Atom = 1 << 31
	maxAtomIndex      = 1<<31 - 1
)

// Predefined atoms. The order must match predefinedAtomNames.
const (
	AtomNull Atom = iota
	AtomEmptyString
	AtomLength
	AtomPrototype
	AtomConstructor
	AtomName
	AtomMessage
	AtomStack
	AtomCause
	AtomToString
	AtomValueOf
	AtomNext
	AtomDone
	AtomValue
	AtomReturn
	AtomThrow
	AtomThen
	AtomCatch
	AtomGet
	AtomSet
	AtomHas
	AtomDeleteProperty
	AtomApply
	AtomCall
	AtomBind
	AtomArguments
	AtomCallee
	AtomLastIndex
	AtomSource
	AtomFlags
	AtomUndefined
	AtomNullName
	AtomTrue
	AtomFalse
	AtomObject
	AtomFunction
	AtomNumber
	AtomBoolean
	AtomString
	AtomSymbol
	AtomBigint
	AtomGlobalThis
	AtomResolve
	AtomReject
	AtomBuffer
	AtomByteLength
	AtomByteOffset
	AtomError
	AtomTypeError
	AtomReferenceError
	AtomRangeError
	AtomSyntaxError
	AtomInternalError
	AtomArray
	AtomPromise
	AtomProxy
	AtomRevocable

	// well-known symbols
	AtomSymbolIterator
	AtomSymbolToStringTag
	AtomSymbolHasInstance
	AtomSymbolToPrimitive

	atomEndPredefined
)

const firstSymbolAtom = AtomSymbolIterator

var predefinedAtomNames = [atomEndPredefined]string{
	AtomNull:              "",
	AtomEmptyString:       "",
	AtomLength:            "length",
	AtomPrototype:         "prototype",
	AtomConstructor:       "constructor",
	AtomName:              "name",
	AtomMessage:           "message",
	AtomStack:             "stack",
	AtomCause:             "cause",
	AtomToString:          "toString",
	AtomValueOf:           "valueOf",
	AtomNext:              "next",
	AtomDone:              "done",
	AtomValue:             "value",
	AtomReturn:            "return",
	AtomThrow:             "throw",
	AtomThen:              "then",
	AtomCatch:             "catch",
	AtomGet:               "get",
	AtomSet:               "set",
	AtomHas:               "has",
	AtomDeleteProperty:    "deleteProperty",
	AtomApply:             "apply",
	AtomCall:              "call",
	AtomBind:              "bind",
	AtomArguments:         "arguments",
	AtomCallee:            "callee",
	AtomLastIndex:         "lastIndex",
	AtomSource:            "source",
	AtomFlags:             "flags",
	AtomUndefined:         "undefined",
	AtomNullName:          "null",
	AtomTrue:              "true",
	AtomFalse:             "false",
	AtomObject:            "object",
	AtomFunction:          "function",
	AtomNumber:            "number",
	AtomBoolean:           "boolean",
	AtomString:            "string",
	AtomSymbol:            "symbol",
	AtomBigint:            "bigint",
	AtomGlobalThis:        "globalThis",
	AtomResolve:           "resolve",
	AtomReject:            "reject",
	AtomBuffer:            "buffer",
	AtomByteLength:        "byteLength",
	AtomByteOffset:        "byteOffset",
	AtomError:             "Error",
	AtomTypeError:         "TypeError",
	AtomReferenceError:    "ReferenceError",
	AtomRangeError:        "RangeError",
	AtomSyntaxError:       "SyntaxError",
	AtomInternalError:     "InternalError",
	AtomArray:             "Array",
	AtomPromise:           "Promise",
	AtomProxy:             "Proxy",
	AtomRevocable:         "revocable",
	AtomSymbolIterator:    "Symbol.iterator",
	AtomSymbolToStringTag: "Symbol.toStringTag",
	AtomSymbolHasInstance: "Symbol.hasInstance",
	AtomSymbolToPrimitive: "Symbol.toPrimitive",
}

type atomKind uint8

const (
	atomKindString atomKind = iota
	atomKindSymbol
)

type atomEntry struct {
	kind atomKind
	str  string    // string atoms: the key; symbol atoms: the description
	sym  *jsSymbol // symbol atoms only
}

// atomTable interns string keys for one runtime. String atoms are permanent;
// symbol atoms are allocated once per symbol.
type atomTable struct {
	entries []atomEntry
	byName  map[string]Atom
}

func (t *atomTable) init() {
	t.entries = make([]atomEntry, 0, 256)
	t.byName = make(map[string]Atom, 256)
	for i, name := range predefinedAtomNames {
		a := Atom(i)
		if a >= firstSymbolAtom {
			t.entries = append(t.entries, atomEntry{kind: atomKindSymbol, str: name})
			sym := &jsSymbol{atom: a, desc: name}
			sym.refCount = 1
			sym.kind = gcKindSymbol
			t.entries[a].sym = sym
			continue
		}
		t.entries = append(t.entries, atomEntry{kind: atomKindString, str: name})
		if a != AtomNull {
			t.byName[name] = a
		}
	}
}

func atomIsTaggedInt(a Atom) bool { return a&atomTagInt != 0 }

func atomFromUint32(n uint32) Atom { return Atom(n) | atomTagInt }

func (a Atom) toUint32() uint32 { return uint32(a &^ atomTagInt) }

// isArrayIndexString reports whether s is the canonical decimal form of an
// integer in [0, 2^31-1].
func isArrayIndexString(s string) (uint32, bool) {
	n := len(s)
	if n == 0 || n > 10 {
		return 0, false
	}
	if s[0] == '0' {
		return 0, n == 1
	}
	var v uint64
	for i := 0; i < n; i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return 0, false
		}
		v = v*10 + uint64(c-'0')
	}
	if v > maxAtomIndex {
		return 0, false
	}
	return uint32(v), true
}

// NewAtom interns s and returns its atom. Canonical array index strings map
// to tagged-int atoms.
func (rt *Runtime) NewAtom(s string) Atom {
	if idx, ok := isArrayIndexString(s); ok {
		return atomFromUint32(idx)
	}
	if a, ok := rt.atoms.byName[s]; ok {
		return a
	}
	a := Atom(len(rt.atoms.entries))
	rt.atoms.entries = append(rt.atoms.entries, atomEntry{kind: atomKindString, str: s})
	rt.atoms.byName[s] = a
	return a
}

// newSymbolAtom allocates a fresh symbol and its atom.
func (rt *Runtime) newSymbolAtom(desc string) *jsSymbol {
	a := Atom(len(rt.atoms.entries))
	sym := &jsSymbol{atom: a, desc: desc}
	sym.refCount = 1
	sym.kind = gcKindSymbol
	// the table keeps the first reference for as long as the runtime lives
	rt.atoms.entries = append(rt.atoms.entries, atomEntry{kind: atomKindSymbol, str: desc, sym: sym})
	return sym
}

func (rt *Runtime) atomIsSymbol(a Atom) bool {
	if atomIsTaggedInt(a) {
		return false
	}
	return rt.atoms.entries[a].kind == atomKindSymbol
}

// AtomString returns the printable form of a: the key for strings, the
// decimal form for indices and the description for symbols.
func (rt *Runtime) AtomString(a Atom) string {
	if atomIsTaggedInt(a) {
		return strconv.FormatUint(uint64(a.toUint32()), 10)
	}
	if int(a) >= len(rt.atoms.entries) {
		return "<invalid atom>"
	}
	return rt.atoms.entries[a].str
}

// atomToValue returns the property key value for a: a string, or the symbol.
func (rt *Runtime) atomToValue(a Atom) Value {
	if atomIsTaggedInt(a) {
		return newStringValue(strconv.FormatUint(uint64(a.toUint32()), 10))
	}
	e := &rt.atoms.entries[a]
	if e.kind == atomKindSymbol {
		e.sym.refCount++
		return Value{tag: TagSymbol, ptr: unsafe.Pointer(e.sym)}
	}
	return newStringValue(e.str)
}

// symbolValue returns a new reference to the well-known symbol for a.
func (rt *Runtime) symbolValue(a Atom) Value {
	return rt.atomToValue(a)
}

func (rt *Runtime) atomCount() int { return len(rt.atoms.entries) }

// AtomIsSymbol reports whether a names a symbol rather than a string key.
func (rt *Runtime) AtomIsSymbol(a Atom) bool { return rt.atomIsSymbol(a) }

// IsWellKnownSymbol reports whether a is one of the predefined symbols,
// whose atoms are the same in every runtime.
func IsWellKnownSymbol(a Atom) bool { return a >= firstSymbolAtom && a < atomEndPredefined }

// NewSymbol returns a fresh symbol with the given description.
func (rt *Runtime) NewSymbol(desc string) Value {
	sym := rt.newSymbolAtom(desc)
	sym.refCount++
	return Value{tag: TagSymbol, ptr: unsafe.Pointer(sym)}
}

// AtomValue returns a new reference to the key a names: a string, or the
// symbol itself.
func (rt *Runtime) AtomValue(a Atom) Value { return rt.atomToValue(a) }

// SymbolAtom returns the atom of a symbol value. Each symbol has its own.
func (v Value) SymbolAtom() (Atom, bool) {
	if v.tag != TagSymbol {
		return AtomNull, false
	}
	return v.sym().atom, true
}

// SymbolDescription returns the description of a symbol value.
func (v Value) SymbolDescription() (string, bool) {
	if v.tag != TagSymbol {
		return "", false
	}
	return v.sym().desc, true
}

// AtomFromIndex returns the key for the array index n.
func (rt *Runtime) AtomFromIndex(n uint32) Atom {
	if n > maxAtomIndex {
		return rt.NewAtom(strconv.FormatUint(uint64(n), 10))
	}
	return atomFromUint32(n)
}
