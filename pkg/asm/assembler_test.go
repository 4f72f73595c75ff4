package asm

import (
	stderrors "errors"
	"strings"
	"testing"

	"bridgejs/pkg/errors"
	"bridgejs/pkg/vm"
)

func newRuntime(t *testing.T) (*vm.Runtime, *vm.Context) {
	t.Helper()
	rt := vm.NewRuntime()
	ctx := rt.NewContext()
	t.Cleanup(rt.Close)
	return rt, ctx
}

func runProgram(t *testing.T, src string) vm.Value {
	t.Helper()
	rt, ctx := newRuntime(t)
	b, err := Assemble(rt, "test.yaml", []byte(src))
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	defer rt.ReleaseBytecode(b)
	v, err := ctx.EvalFunction(b)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	return v
}

func expectSyntaxError(t *testing.T, src string, line int, msg string) {
	t.Helper()
	rt, _ := newRuntime(t)
	_, err := Assemble(rt, "bad.yaml", []byte(src))
	if err == nil {
		t.Fatalf("Expected a syntax error containing %q", msg)
	}
	var se *errors.SyntaxError
	if !stderrors.As(err, &se) {
		t.Fatalf("Expected *errors.SyntaxError, got %T: %v", err, err)
	}
	if !strings.Contains(se.Msg, msg) {
		t.Errorf("Expected message containing %q, got %q", msg, se.Msg)
	}
	if line > 0 && se.Line != line {
		t.Errorf("Expected error on line %d, got %d (%v)", line, se.Line, se)
	}
}

const counterSource = `
name: main
vars: [next]
functions:
  - name: make
    vars: [n]
    functions:
      - name: bump
        closures: [{name: n, loc: n}]
        code: |
          get_var_ref n
          push 1
          add
          set_var_ref n
          return
    code: |
      push 0
      put_loc n
      fclosure bump
      return
code: |
  fclosure make
  call 0
  put_loc next
  get_loc next
  call 0
  drop
  get_loc next
  call 0
  drop
  get_loc next
  call 0
  return
`

func TestAssemble_Closures(t *testing.T) {
	v := runProgram(t, counterSource)
	if !v.IsInt() || v.Int32() != 3 {
		t.Errorf("Expected 3, got %s", v)
	}
}

func TestAssemble_LoopWithLabels(t *testing.T) {
	src := `
vars: [i, sum]
code: |
  push 0
  put_loc i
  push 0
  put_loc sum
  loop: get_loc i
  push 10
  lt
  if_false done        ; exit when i >= 10
  get_loc i
  add_loc sum
  inc_loc i
  goto loop
  done:
  get_loc sum
  return
`
	v := runProgram(t, src)
	if !v.IsInt() || v.Int32() != 45 {
		t.Errorf("Expected 45, got %s", v)
	}
}

func TestAssemble_Literals(t *testing.T) {
	src := `
code: |
  push_const "a;b # c"
  push_atom_value length
  add
  push -2.5
  drop
  return
`
	v := runProgram(t, src)
	s, ok := v.AsString()
	if !ok || s != "a;b # clength" {
		t.Errorf("Expected concatenated string, got %s", v)
	}
}

func TestAssemble_ThrowErrorKind(t *testing.T) {
	rt, ctx := newRuntime(t)
	b, err := Assemble(rt, "throw.yaml", []byte("code: |\n  throw_error \"boom\" RangeError\n"))
	if err != nil {
		t.Fatal(err)
	}
	defer rt.ReleaseBytecode(b)
	_, err = ctx.EvalFunction(b)
	if err == nil || !strings.HasPrefix(err.Error(), "RangeError: boom") {
		t.Errorf("Expected RangeError: boom, got %v", err)
	}
	if ex, ok := err.(*vm.Exception); ok {
		ex.Release()
	}
}

func TestAssemble_LineNumbersInBacktrace(t *testing.T) {
	rt, ctx := newRuntime(t)
	src := "file: app.js\ncode: |\n  .line 7\n  get_var missing\n  return\n"
	b, err := Assemble(rt, "app.yaml", []byte(src))
	if err != nil {
		t.Fatal(err)
	}
	defer rt.ReleaseBytecode(b)
	_, err = ctx.EvalFunction(b)
	ex, ok := err.(*vm.Exception)
	if !ok {
		t.Fatalf("Expected an exception, got %v", err)
	}
	defer ex.Release()
	if !strings.Contains(ex.Stack(), "app.js:7") {
		t.Errorf("Expected backtrace to mention app.js:7, got %q", ex.Stack())
	}
}

func TestAssemble_Errors(t *testing.T) {
	t.Run("unknown instruction", func(t *testing.T) {
		expectSyntaxError(t, "code: |\n  push 1\n  frob\n", 3, "unknown instruction frob")
	})
	t.Run("operand count", func(t *testing.T) {
		expectSyntaxError(t, "code: |\n  add 1\n", 2, "takes 0 operand")
	})
	t.Run("unknown local", func(t *testing.T) {
		expectSyntaxError(t, "vars: [x]\ncode: |\n  get_loc y\n  return\n", 3, "unknown local y")
	})
	t.Run("undefined label", func(t *testing.T) {
		expectSyntaxError(t, "code: |\n  goto nowhere\n", 2, "label nowhere is never defined")
	})
	t.Run("duplicate label", func(t *testing.T) {
		expectSyntaxError(t, "code: |\n  a:\n  a: return_undef\n", 3, "defined twice")
	})
	t.Run("stack underflow", func(t *testing.T) {
		expectSyntaxError(t, "code: |\n  add\n  return\n", 0, "stack underflow")
	})
	t.Run("unknown field", func(t *testing.T) {
		expectSyntaxError(t, "name: main\nbogus: 1\ncode: return_undef\n", 2, "bogus")
	})
	t.Run("top-level capture", func(t *testing.T) {
		expectSyntaxError(t, "closures: [{name: x, loc: x}]\ncode: return_undef\n", 0, "cannot capture")
	})
	t.Run("bad kind", func(t *testing.T) {
		expectSyntaxError(t, "kind: coroutine\ncode: return_undef\n", 0, "unknown function kind")
	})
	t.Run("empty", func(t *testing.T) {
		expectSyntaxError(t, "", 0, "empty program")
	})
}

func TestAssemble_ErrorColumn(t *testing.T) {
	rt, _ := newRuntime(t)
	_, err := Assemble(rt, "col.yaml", []byte("code: |\n    push_i32 oops\n"))
	var se *errors.SyntaxError
	if !stderrors.As(err, &se) {
		t.Fatalf("Expected a syntax error, got %v", err)
	}
	if se.Line != 2 || se.Column != 14 {
		t.Errorf("Expected 2:14, got %d:%d", se.Line, se.Column)
	}
}

func TestAssemble_GeneratorKind(t *testing.T) {
	src := `
functions:
  - name: gen
    kind: generator
    code: |
      initial_yield
      push 1
      yield
      if_false resumed
      return
      resumed:
      drop
      return_undef
code: |
  fclosure gen
  call 0
  get_field2 next
  call_method 0
  get_field value
  return
`
	v := runProgram(t, src)
	if !v.IsInt() || v.Int32() != 1 {
		t.Errorf("Expected 1, got %s", v)
	}
}
