package vm

import (
	"strings"
	"testing"
)

func newTestContext(t *testing.T, opts ...Option) (*Runtime, *Context) {
	t.Helper()
	rt := NewRuntime(opts...)
	ctx := rt.NewContext()
	t.Cleanup(rt.Close)
	return rt, ctx
}

func mustBuild(t *testing.T, fb *FunctionBuilder) *FunctionBytecode {
	t.Helper()
	b, err := fb.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return b
}

// run builds fb as a top-level function and evaluates it.
func run(t *testing.T, ctx *Context, fb *FunctionBuilder) (Value, error) {
	t.Helper()
	b := mustBuild(t, fb)
	defer ctx.rt.ReleaseBytecode(b)
	return ctx.EvalFunction(b)
}

func mustRun(t *testing.T, ctx *Context, fb *FunctionBuilder) Value {
	t.Helper()
	v, err := run(t, ctx, fb)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	return v
}

func expectInt(t *testing.T, v Value, want int32) {
	t.Helper()
	if !v.IsInt() || v.Int32() != want {
		t.Errorf("Expected %d, got %s", want, v)
	}
}

func expectThrow(t *testing.T, ctx *Context, err error, name, msg string) {
	t.Helper()
	if err == nil {
		t.Fatalf("Expected %s, got no error", name)
	}
	ex, ok := err.(*Exception)
	if !ok {
		t.Fatalf("Expected *Exception, got %T: %v", err, err)
	}
	got := ex.Error()
	if !strings.HasPrefix(got, name) || !strings.Contains(got, msg) {
		t.Errorf("Expected %s containing %q, got %q", name, msg, got)
	}
	ex.Release()
}

func getInt(t *testing.T, ctx *Context, obj Value, name string) int32 {
	t.Helper()
	v, err := ctx.GetPropertyStr(obj, name)
	if err != nil {
		t.Fatalf("GetPropertyStr(%s) failed: %v", name, err)
	}
	defer ctx.rt.FreeValue(v)
	if !v.IsInt() {
		t.Fatalf("Expected %s to be an int, got %s", name, v)
	}
	return v.Int32()
}
