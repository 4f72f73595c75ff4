// Package image serializes function bytecode to and from canonical CBOR.
//
// An image is self-contained: atom operands in code are rewritten to
// indices into the image's own atom table, so an image written by one
// runtime loads into any other.
package image

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/fxamacker/cbor/v2"

	"bridgejs/pkg/vm"
)

// Magic identifies a bridgejs image.
const Magic = "BJSBC"

// Version is bumped whenever the opcode table or layout changes.
const Version = 1

var cborEncMode cbor.EncMode

var cborDecMode cbor.DecMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("image: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
	dm, err := cbor.DecOptions{MaxNestedLevels: 256}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("image: failed to create CBOR dec mode: %v", err))
	}
	cborDecMode = dm
}

type imageFile struct {
	Magic   string      `cbor:"1,keyasint"`
	Version int         `cbor:"2,keyasint"`
	Atoms   []atomEntry `cbor:"3,keyasint"`
	Root    *function   `cbor:"4,keyasint"`
}

// atomEntry is a string key, or a well-known symbol when Symbol is set.
type atomEntry struct {
	Name   string `cbor:"1,keyasint,omitempty"`
	Symbol uint32 `cbor:"2,keyasint,omitempty"`
}

const (
	flagStrict = 1 << iota
	flagArrow
	flagMethod
)

type function struct {
	Name        string       `cbor:"1,keyasint,omitempty"`
	FileName    string       `cbor:"2,keyasint,omitempty"`
	Kind        uint8        `cbor:"3,keyasint,omitempty"`
	Flags       uint8        `cbor:"4,keyasint,omitempty"`
	ArgCount    int          `cbor:"5,keyasint,omitempty"`
	VarCount    int          `cbor:"6,keyasint,omitempty"`
	Code        []byte       `cbor:"7,keyasint"`
	Constants   []constant   `cbor:"8,keyasint,omitempty"`
	ClosureVars []closureVar `cbor:"9,keyasint,omitempty"`
	VarNames    []string     `cbor:"10,keyasint,omitempty"`
	Lines       []lineEntry  `cbor:"11,keyasint,omitempty"`
}

const (
	constUndefined uint8 = iota
	constNull
	constBool
	constInt
	constFloat
	constString
	constFunction
)

type constant struct {
	Kind  uint8     `cbor:"1,keyasint"`
	Int   int64     `cbor:"2,keyasint,omitempty"`
	Float float64   `cbor:"3,keyasint"` // no omitempty: it would drop -0
	Str   string    `cbor:"4,keyasint,omitempty"`
	Fn    *function `cbor:"5,keyasint,omitempty"`
}

type closureVar struct {
	Name    string `cbor:"1,keyasint,omitempty"`
	IsLocal bool   `cbor:"2,keyasint,omitempty"`
	IsArg   bool   `cbor:"3,keyasint,omitempty"`
	Index   int    `cbor:"4,keyasint,omitempty"`
}

type lineEntry struct {
	PC   int `cbor:"1,keyasint"`
	Line int `cbor:"2,keyasint"`
}

// Marshal encodes b and its nested functions.
func Marshal(rt *vm.Runtime, b *vm.FunctionBytecode) ([]byte, error) {
	w := &writer{rt: rt, atoms: map[vm.Atom]uint32{}}
	root, err := w.function(b)
	if err != nil {
		return nil, err
	}
	return cborEncMode.Marshal(&imageFile{Magic: Magic, Version: Version, Atoms: w.table, Root: root})
}

// Write encodes b to out.
func Write(out io.Writer, rt *vm.Runtime, b *vm.FunctionBytecode) error {
	data, err := Marshal(rt, b)
	if err != nil {
		return err
	}
	_, err = out.Write(data)
	return err
}

type writer struct {
	rt    *vm.Runtime
	atoms map[vm.Atom]uint32
	table []atomEntry
}

func (w *writer) atom(a vm.Atom) (uint32, error) {
	if idx, ok := w.atoms[a]; ok {
		return idx, nil
	}
	var e atomEntry
	switch {
	case vm.IsWellKnownSymbol(a):
		e.Symbol = uint32(a)
	case w.rt.AtomIsSymbol(a):
		return 0, fmt.Errorf("image: cannot serialize local symbol %q", w.rt.AtomString(a))
	default:
		e.Name = w.rt.AtomString(a)
	}
	idx := uint32(len(w.table))
	w.table = append(w.table, e)
	w.atoms[a] = idx
	return idx, nil
}

func (w *writer) function(b *vm.FunctionBytecode) (*function, error) {
	f := &function{
		Name:     b.Name,
		FileName: b.FileName,
		Kind:     uint8(b.Kind),
		ArgCount: b.ArgCount,
		VarCount: b.VarCount,
		VarNames: b.VarNames,
	}
	if b.Strict {
		f.Flags |= flagStrict
	}
	if b.Arrow {
		f.Flags |= flagArrow
	}
	if b.Method {
		f.Flags |= flagMethod
	}
	code, err := rewriteAtoms(b.Code, func(a uint32) (uint32, error) { return w.atom(vm.Atom(a)) })
	if err != nil {
		return nil, fmt.Errorf("image: %s: %w", b.Name, err)
	}
	f.Code = code
	for _, cv := range b.ClosureVars {
		f.ClosureVars = append(f.ClosureVars, closureVar{Name: cv.Name, IsLocal: cv.IsLocal, IsArg: cv.IsArg, Index: cv.Index})
	}
	for _, l := range b.Lines {
		f.Lines = append(f.Lines, lineEntry{PC: l.PC, Line: l.Line})
	}
	for i, c := range b.Constants {
		var k constant
		switch c.Tag() {
		case vm.TagUndefined:
			k.Kind = constUndefined
		case vm.TagNull:
			k.Kind = constNull
		case vm.TagBool:
			k.Kind = constBool
			if c.Bool() {
				k.Int = 1
			}
		case vm.TagInt:
			k.Kind, k.Int = constInt, int64(c.Int32())
		case vm.TagFloat64:
			k.Kind, k.Float = constFloat, c.Float64()
		case vm.TagString:
			k.Kind = constString
			k.Str, _ = c.AsString()
		case vm.TagFunctionBytecode:
			nested, err := w.function(c.AsFunctionBytecode())
			if err != nil {
				return nil, err
			}
			k.Kind, k.Fn = constFunction, nested
		default:
			return nil, fmt.Errorf("image: %s: constant %d has unsupported tag %d", b.Name, i, c.Tag())
		}
		f.Constants = append(f.Constants, k)
	}
	return f, nil
}

// rewriteAtoms returns a copy of code with every atom operand mapped by fn.
func rewriteAtoms(code []byte, fn func(uint32) (uint32, error)) ([]byte, error) {
	out := bytes.Clone(code)
	for pc := 0; pc < len(out); {
		op := vm.OpCode(out[pc])
		info, ok := op.Info()
		if !ok {
			return nil, fmt.Errorf("pc %d: invalid opcode %d", pc, out[pc])
		}
		if pc+info.Size > len(out) {
			return nil, fmt.Errorf("pc %d: truncated %s", pc, info.Name)
		}
		if info.Format == vm.FmtAtom || info.Format == vm.FmtAtomU8 {
			mapped, err := fn(binary.BigEndian.Uint32(out[pc+1:]))
			if err != nil {
				return nil, fmt.Errorf("pc %d: %w", pc, err)
			}
			binary.BigEndian.PutUint32(out[pc+1:], mapped)
		}
		pc += info.Size
	}
	return out, nil
}

// Unmarshal decodes an image into rt. The result holds one reference;
// release it with rt.ReleaseBytecode.
func Unmarshal(rt *vm.Runtime, data []byte) (*vm.FunctionBytecode, error) {
	var img imageFile
	if err := cborDecMode.Unmarshal(data, &img); err != nil {
		return nil, fmt.Errorf("image: decode: %w", err)
	}
	if img.Magic != Magic {
		return nil, fmt.Errorf("image: bad magic %q", img.Magic)
	}
	if img.Version != Version {
		return nil, fmt.Errorf("image: unsupported version %d, want %d", img.Version, Version)
	}
	if img.Root == nil {
		return nil, fmt.Errorf("image: missing root function")
	}
	atoms := make([]vm.Atom, len(img.Atoms))
	for i, e := range img.Atoms {
		if e.Symbol != 0 {
			if !vm.IsWellKnownSymbol(vm.Atom(e.Symbol)) {
				return nil, fmt.Errorf("image: atom %d: unknown symbol %d", i, e.Symbol)
			}
			atoms[i] = vm.Atom(e.Symbol)
			continue
		}
		atoms[i] = rt.NewAtom(e.Name)
	}
	r := &reader{rt: rt, atoms: atoms}
	return r.function(img.Root)
}

// Read decodes an image from in.
func Read(in io.Reader, rt *vm.Runtime) (*vm.FunctionBytecode, error) {
	data, err := io.ReadAll(in)
	if err != nil {
		return nil, err
	}
	return Unmarshal(rt, data)
}

type reader struct {
	rt    *vm.Runtime
	atoms []vm.Atom
}

func (r *reader) function(f *function) (*vm.FunctionBytecode, error) {
	b := vm.NewFunctionBytecode(f.Name)
	fail := func(format string, args ...any) (*vm.FunctionBytecode, error) {
		r.rt.ReleaseBytecode(b)
		return nil, fmt.Errorf("image: %s: "+format, append([]any{f.Name}, args...)...)
	}
	b.FileName = f.FileName
	if f.Kind > uint8(vm.FuncAsync) {
		return fail("unknown function kind %d", f.Kind)
	}
	b.Kind = vm.FunctionKind(f.Kind)
	b.Strict = f.Flags&flagStrict != 0
	b.Arrow = f.Flags&flagArrow != 0
	b.Method = f.Flags&flagMethod != 0
	if f.ArgCount < 0 || f.VarCount < 0 || f.ArgCount > math.MaxUint16 || f.VarCount > math.MaxUint16 {
		return fail("bad argument or variable count")
	}
	b.ArgCount = f.ArgCount
	b.VarCount = f.VarCount
	b.VarNames = f.VarNames
	for _, cv := range f.ClosureVars {
		b.ClosureVars = append(b.ClosureVars, vm.ClosureVar{Name: cv.Name, IsLocal: cv.IsLocal, IsArg: cv.IsArg, Index: cv.Index})
	}
	for _, l := range f.Lines {
		b.Lines = append(b.Lines, vm.LineEntry{PC: l.PC, Line: l.Line})
	}
	code, err := rewriteAtoms(f.Code, func(idx uint32) (uint32, error) {
		if int(idx) >= len(r.atoms) {
			return 0, fmt.Errorf("atom index %d out of range", idx)
		}
		return uint32(r.atoms[idx]), nil
	})
	if err != nil {
		return fail("%v", err)
	}
	b.Code = code
	for i, k := range f.Constants {
		var v vm.Value
		switch k.Kind {
		case constUndefined:
			v = vm.Undefined
		case constNull:
			v = vm.Null
		case constBool:
			v = vm.NewBool(k.Int != 0)
		case constInt:
			if k.Int < math.MinInt32 || k.Int > math.MaxInt32 {
				return fail("constant %d out of int32 range", i)
			}
			v = vm.NewInt32(int32(k.Int))
		case constFloat:
			v = vm.NewFloat64(k.Float)
		case constString:
			v = vm.NewString(k.Str)
		case constFunction:
			if k.Fn == nil {
				return fail("constant %d: missing function", i)
			}
			nested, err := r.function(k.Fn)
			if err != nil {
				r.rt.ReleaseBytecode(b)
				return nil, err
			}
			if err := checkCaptures(b, nested); err != nil {
				r.rt.ReleaseBytecode(nested)
				return fail("%v", err)
			}
			v = nested.Value()
			r.rt.ReleaseBytecode(nested)
		default:
			return fail("constant %d has unknown kind %d", i, k.Kind)
		}
		b.Constants = append(b.Constants, v)
	}
	size, err := vm.ComputeStackSize(b)
	if err != nil {
		return fail("%v", err)
	}
	b.StackSize = size
	return b, nil
}

// checkCaptures verifies that nested only captures slots parent has.
func checkCaptures(parent, nested *vm.FunctionBytecode) error {
	for _, cv := range nested.ClosureVars {
		limit := len(parent.ClosureVars)
		switch {
		case cv.IsLocal && cv.IsArg:
			limit = parent.ArgCount
		case cv.IsLocal:
			limit = parent.VarCount
		}
		if cv.Index < 0 || cv.Index >= limit {
			return fmt.Errorf("%s captures %s from slot %d out of range", nested.Name, cv.Name, cv.Index)
		}
	}
	return nil
}
