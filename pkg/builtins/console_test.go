package builtins

import (
	"testing"

	"bridgejs/pkg/vm"
)

func TestConsole_LogWritesStdout(t *testing.T) {
	_, ctx, out := newTestRealm(t)
	rt := ctx.Runtime()
	console := mustGlobal(t, ctx, "console")

	obj := ctx.NewObject()
	defer rt.FreeValue(obj)
	ctx.SetPropertyStr(obj, "name", vm.NewString("x"))
	ctx.SetPropertyStr(obj, "list", ctx.NewArrayFrom([]vm.Value{vm.NewInt32(1), vm.NewString("two")}))
	msg := vm.NewString("value:")
	defer rt.FreeValue(msg)

	mustInvoke(t, ctx, console, "log", msg, obj, vm.NewInt32(3), vm.True)

	want := "value: { name: \"x\", list: [1, \"two\"] } 3 true\n"
	if got := out.String(); got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}

func TestConsole_LevelsDoNotWriteStdout(t *testing.T) {
	_, ctx, out := newTestRealm(t)
	console := mustGlobal(t, ctx, "console")
	msg := vm.NewString("hidden")
	defer ctx.Runtime().FreeValue(msg)
	for _, level := range []string{"info", "debug", "warn", "error"} {
		mustInvoke(t, ctx, console, level, msg)
	}
	if out.Len() != 0 {
		t.Errorf("Expected no stdout output, got %q", out.String())
	}
}

func TestInspect_Values(t *testing.T) {
	_, ctx, _ := newTestRealm(t)
	rt := ctx.Runtime()

	fn := mustGlobal(t, ctx, "parseInt")
	if got := inspect(ctx, fn, 0); got != "[Function: parseInt]" {
		t.Errorf("Expected [Function: parseInt], got %s", got)
	}

	nested := ctx.NewArrayFrom([]vm.Value{
		ctx.NewArrayFrom([]vm.Value{
			ctx.NewArrayFrom([]vm.Value{
				ctx.NewArrayFrom([]vm.Value{ctx.NewArrayFrom(nil)}),
			}),
		}),
	})
	defer rt.FreeValue(nested)
	if got := inspect(ctx, nested, 0); got != "[[[[Array]]]]" {
		t.Errorf("Expected depth-limited rendering, got %s", got)
	}

	empty := ctx.NewObject()
	defer rt.FreeValue(empty)
	if got := inspect(ctx, empty, 0); got != "{}" {
		t.Errorf("Expected {}, got %s", got)
	}

	m := mustConstruct(t, ctx, "Map")
	if got := inspect(ctx, m, 0); got != "Map {}" {
		t.Errorf("Expected Map {}, got %s", got)
	}
}
