package image

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"github.com/fxamacker/cbor/v2"

	"bridgejs/pkg/asm"
	"bridgejs/pkg/vm"
)

const program = `
file: sum.js
vars: [add]
functions:
  - name: add
    args: [a, b]
    code: |
      .line 2
      get_arg a
      get_arg b
      add
      return
code: |
  .line 5
  fclosure add
  push 40
  push 2
  call 2
  push_atom_value suffix
  add
  return
`

func newRuntime(t *testing.T) (*vm.Runtime, *vm.Context) {
	t.Helper()
	rt := vm.NewRuntime()
	ctx := rt.NewContext()
	t.Cleanup(rt.Close)
	return rt, ctx
}

func TestImage_RoundTripAcrossRuntimes(t *testing.T) {
	src, _ := newRuntime(t)
	// shift atom numbering so the two runtimes disagree
	src.NewAtom("padding1")
	src.NewAtom("padding2")
	b, err := asm.Assemble(src, "sum.yaml", []byte(program))
	if err != nil {
		t.Fatal(err)
	}
	defer src.ReleaseBytecode(b)
	var buf bytes.Buffer
	if err := Write(&buf, src, b); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	dst, ctx := newRuntime(t)
	loaded, err := Read(&buf, dst)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	defer dst.ReleaseBytecode(loaded)
	if loaded.FileName != "sum.js" || loaded.StackSize != b.StackSize {
		t.Errorf("Expected metadata to survive, got file %q stack %d", loaded.FileName, loaded.StackSize)
	}
	if loaded.LineForPC(0) != 5 {
		t.Errorf("Expected line 5 at pc 0, got %d", loaded.LineForPC(0))
	}
	v, err := ctx.EvalFunction(loaded)
	if err != nil {
		t.Fatal(err)
	}
	defer dst.FreeValue(v)
	if s, _ := v.AsString(); s != "42suffix" {
		t.Errorf("Expected 42suffix, got %s", v)
	}
}

func TestImage_Deterministic(t *testing.T) {
	rt, _ := newRuntime(t)
	b, err := asm.Assemble(rt, "sum.yaml", []byte(program))
	if err != nil {
		t.Fatal(err)
	}
	defer rt.ReleaseBytecode(b)
	first, err := Marshal(rt, b)
	if err != nil {
		t.Fatal(err)
	}
	second, _ := Marshal(rt, b)
	if !bytes.Equal(first, second) {
		t.Errorf("Expected identical encodings")
	}
}

func TestImage_Constants(t *testing.T) {
	rt, _ := newRuntime(t)
	fb := vm.NewFunctionBuilder(rt, "consts")
	fb.EmitConst(vm.NewFloat64(math.Copysign(0, -1)))
	fb.EmitConst(vm.NewFloat64(math.NaN()))
	fb.EmitConst(vm.True)
	fb.EmitConst(vm.Null)
	fb.EmitAtomID(vm.OpGetField, vm.AtomSymbolIterator)
	fb.Emit(vm.OpReturn)
	b, err := fb.Build()
	if err != nil {
		t.Fatal(err)
	}
	defer rt.ReleaseBytecode(b)
	data, err := Marshal(rt, b)
	if err != nil {
		t.Fatal(err)
	}
	loaded, err := Unmarshal(rt, data)
	if err != nil {
		t.Fatal(err)
	}
	defer rt.ReleaseBytecode(loaded)
	if f := loaded.Constants[0].Float64(); f != 0 || !math.Signbit(f) {
		t.Errorf("Expected -0 to survive, got %v", f)
	}
	if !math.IsNaN(loaded.Constants[1].Float64()) {
		t.Errorf("Expected NaN to survive")
	}
	if !loaded.Constants[2].Bool() || !loaded.Constants[3].IsNull() {
		t.Errorf("Expected true and null, got %s %s", loaded.Constants[2], loaded.Constants[3])
	}
	if !bytes.Equal(loaded.Code, b.Code) {
		t.Errorf("Expected predefined symbol atoms to keep their encoding")
	}
}

func TestImage_RejectsBadInput(t *testing.T) {
	rt, _ := newRuntime(t)
	good := func() []byte {
		b, err := asm.Assemble(rt, "sum.yaml", []byte(program))
		if err != nil {
			t.Fatal(err)
		}
		defer rt.ReleaseBytecode(b)
		data, _ := Marshal(rt, b)
		return data
	}()
	wrongMagic, _ := cborEncMode.Marshal(&imageFile{Magic: "ELF", Version: Version, Root: &function{Code: []byte{byte(vm.OpReturnUndef)}}})
	wrongVersion, _ := cborEncMode.Marshal(&imageFile{Magic: Magic, Version: 99, Root: &function{Code: []byte{byte(vm.OpReturnUndef)}}})
	badAtom, _ := cborEncMode.Marshal(&imageFile{Magic: Magic, Version: Version, Root: &function{
		Code: []byte{byte(vm.OpGetVar), 0, 0, 0, 9, byte(vm.OpReturn)},
	}})
	underflow, _ := cbor.Marshal(&imageFile{Magic: Magic, Version: Version, Root: &function{
		Code: []byte{byte(vm.OpAdd), byte(vm.OpReturn)},
	}})
	badCapture, _ := cbor.Marshal(&imageFile{Magic: Magic, Version: Version, Root: &function{
		Code: []byte{byte(vm.OpFClosure), 0, 0, 0, 0, byte(vm.OpReturn)},
		Constants: []constant{{Kind: constFunction, Fn: &function{
			ClosureVars: []closureVar{{Name: "x", IsLocal: true, Index: 3}},
			Code:        []byte{byte(vm.OpReturnUndef)},
		}}},
	}})

	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"truncated", good[:len(good)/2], "decode"},
		{"magic", wrongMagic, "bad magic"},
		{"version", wrongVersion, "unsupported version"},
		{"atom", badAtom, "atom index 9 out of range"},
		{"underflow", underflow, "stack underflow"},
		{"capture", badCapture, "out of range"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := Unmarshal(rt, tt.data)
			if err == nil {
				rt.ReleaseBytecode(b)
				t.Fatalf("Expected an error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error containing %q, got %q", tt.want, err.Error())
			}
		})
	}
}
