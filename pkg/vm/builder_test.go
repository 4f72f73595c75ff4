package vm

import (
	"strings"
	"testing"
)

func TestBuilder_ComputesStackSize(t *testing.T) {
	rt, _ := newTestContext(t)
	fb := NewFunctionBuilder(rt, "sum")
	fb.EmitNumber(1)
	fb.EmitNumber(2)
	fb.EmitNumber(3)
	fb.Emit(OpAdd)
	fb.Emit(OpAdd)
	fb.Emit(OpReturn)
	b := mustBuild(t, fb)
	defer rt.ReleaseBytecode(b)
	if b.StackSize != 3 {
		t.Errorf("Expected stack size 3, got %d", b.StackSize)
	}
}

func TestBuilder_RejectsBadCode(t *testing.T) {
	rt, ctx := newTestContext(t)
	tests := []struct {
		name  string
		build func(fb *FunctionBuilder)
		want  string
	}{
		{"underflow", func(fb *FunctionBuilder) {
			fb.Emit(OpAdd)
			fb.Emit(OpReturn)
		}, "stack underflow"},
		{"falls off the end", func(fb *FunctionBuilder) {
			fb.EmitNumber(1)
		}, "falls off the end"},
		{"inconsistent depth", func(fb *FunctionBuilder) {
			join := fb.NewLabel()
			fb.Emit(OpPushTrue)
			fb.EmitJump(OpIfTrue, join)
			fb.EmitNumber(1)
			fb.Mark(join)
			fb.Emit(OpReturnUndef)
		}, "inconsistent stack depth"},
		{"unmarked label", func(fb *FunctionBuilder) {
			fb.EmitJump(OpGoto, fb.NewLabel())
		}, "never marked"},
		{"yield outside generator", func(fb *FunctionBuilder) {
			fb.EmitNumber(1)
			fb.Emit(OpYield)
			fb.Emit(OpReturn)
		}, "yield outside a generator"},
		{"local out of range", func(fb *FunctionBuilder) {
			fb.EmitU16(OpGetLoc, 4)
			fb.Emit(OpReturn)
		}, "out of range"},
		{"wrong operand kind", func(fb *FunctionBuilder) {
			fb.EmitU16(OpAdd, 1)
			fb.Emit(OpReturnUndef)
		}, "wrong operand kind"},
		{"object constant", func(fb *FunctionBuilder) {
			fb.EmitConst(ctx.NewObject())
			fb.Emit(OpReturn)
		}, "objects cannot be bytecode constants"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fb := NewFunctionBuilder(rt, tt.name)
			tt.build(fb)
			b, err := fb.Build()
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

func TestBuilder_GosubDepth(t *testing.T) {
	rt, ctx := newTestContext(t)
	fb := NewFunctionBuilder(rt, "main")
	fin := fb.NewLabel()
	fb.EmitJump(OpGosub, fin)
	fb.EmitNumber(1)
	fb.Emit(OpReturn)
	fb.Mark(fin)
	fb.Emit(OpRet)
	expectInt(t, mustRun(t, ctx, fb), 1)
}

func TestDisassemble_ListsInstructions(t *testing.T) {
	rt, _ := newTestContext(t)
	inner := NewFunctionBuilder(rt, "inner")
	inner.SetArgCount(1)
	inner.EmitAtom(OpGetVar, "print")
	inner.Emit(OpReturn)
	fb := NewFunctionBuilder(rt, "outer")
	x := fb.AddVar("x")
	fb.EmitNumber(7)
	fb.EmitU16(OpPutLoc, uint16(x))
	fb.EmitClosure(mustBuild(t, inner))
	fb.Emit(OpReturn)
	b := mustBuild(t, fb)
	defer rt.ReleaseBytecode(b)

	out := Disassemble(rt, b)
	for _, want := range []string{
		"== outer (",
		"push_i32",
		" 7\n",
		"put_loc",
		"loc0 (x)",
		"fclosure",
		"== inner (",
		`"print"`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected listing to contain %q, got:\n%s", want, out)
		}
	}
}
