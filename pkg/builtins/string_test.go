package builtins

import (
	"testing"

	"bridgejs/pkg/vm"
)

func TestString_Methods(t *testing.T) {
	_, ctx, _ := newTestRealm(t)
	s := vm.NewString("  Hello, World  ")
	defer ctx.Runtime().FreeValue(s)
	trimmed := mustInvoke(t, ctx, s, "trim")

	tests := []struct {
		name string
		args []vm.Value
		want string
	}{
		{"charAt", []vm.Value{vm.NewInt32(1)}, "e"},
		{"slice", []vm.Value{vm.NewInt32(-5)}, "World"},
		{"slice", []vm.Value{vm.NewInt32(0), vm.NewInt32(5)}, "Hello"},
		{"toUpperCase", nil, "HELLO, WORLD"},
		{"toLowerCase", nil, "hello, world"},
	}
	for _, tt := range tests {
		if got := str(t, mustInvoke(t, ctx, trimmed, tt.name, tt.args...)); got != tt.want {
			t.Errorf("%s: Expected %q, got %q", tt.name, tt.want, got)
		}
	}
	if got := num(t, mustInvoke(t, ctx, trimmed, "indexOf", vm.NewString("o"))); got != 4 {
		t.Errorf("Expected indexOf 4, got %v", got)
	}
	if got := num(t, mustInvoke(t, ctx, trimmed, "indexOf", vm.NewString("o"), vm.NewInt32(5))); got != 8 {
		t.Errorf("Expected indexOf 8, got %v", got)
	}
	if got := num(t, mustInvoke(t, ctx, trimmed, "charCodeAt", vm.NewInt32(0))); got != 'H' {
		t.Errorf("Expected charCodeAt 72, got %v", got)
	}
	if got := mustInvoke(t, ctx, trimmed, "startsWith", vm.NewString("World"), vm.NewInt32(7)); !got.Bool() {
		t.Error("Expected startsWith(World, 7) to be true")
	}
	if got := mustInvoke(t, ctx, trimmed, "endsWith", vm.NewString("Hello"), vm.NewInt32(5)); !got.Bool() {
		t.Error("Expected endsWith(Hello, 5) to be true")
	}
	if got := mustInvoke(t, ctx, trimmed, "includes", vm.NewString("xyz")); got.Bool() {
		t.Error("Expected includes(xyz) to be false")
	}
}

func TestString_Repeat(t *testing.T) {
	_, ctx, _ := newTestRealm(t)
	s := vm.NewString("ab")
	defer ctx.Runtime().FreeValue(s)
	if got := str(t, mustInvoke(t, ctx, s, "repeat", vm.NewInt32(3))); got != "ababab" {
		t.Errorf("Expected ababab, got %s", got)
	}
	_, err := invoke(t, ctx, s, "repeat", vm.NewInt32(-1))
	expectError(t, err, "RangeError")
}

func TestString_Normalize(t *testing.T) {
	_, ctx, _ := newTestRealm(t)
	decomposed := vm.NewString("e\u0301")
	defer ctx.Runtime().FreeValue(decomposed)
	if got := str(t, mustInvoke(t, ctx, decomposed, "normalize")); got != "\u00e9" {
		t.Errorf("Expected composed e, got %q", got)
	}
	lig := vm.NewString("\ufb01")
	defer ctx.Runtime().FreeValue(lig)
	form := vm.NewString("NFKD")
	defer ctx.Runtime().FreeValue(form)
	if got := str(t, mustInvoke(t, ctx, lig, "normalize", form)); got != "fi" {
		t.Errorf("Expected fi, got %q", got)
	}
	bad := vm.NewString("NFX")
	defer ctx.Runtime().FreeValue(bad)
	_, err := invoke(t, ctx, lig, "normalize", bad)
	expectError(t, err, "RangeError")
}

func TestString_LocaleCompare(t *testing.T) {
	_, ctx, _ := newTestRealm(t)
	rt := ctx.Runtime()
	a := vm.NewString("a")
	defer rt.FreeValue(a)
	b := vm.NewString("b")
	defer rt.FreeValue(b)
	if got := num(t, mustInvoke(t, ctx, a, "localeCompare", b)); got >= 0 {
		t.Errorf("Expected a before b, got %v", got)
	}
	if got := num(t, mustInvoke(t, ctx, a, "localeCompare", a)); got != 0 {
		t.Errorf("Expected 0, got %v", got)
	}

	umlaut := vm.NewString("\u00e4")
	defer rt.FreeValue(umlaut)
	z := vm.NewString("z")
	defer rt.FreeValue(z)
	de := vm.NewString("de")
	defer rt.FreeValue(de)
	sv := vm.NewString("sv")
	defer rt.FreeValue(sv)
	if got := num(t, mustInvoke(t, ctx, umlaut, "localeCompare", z, de)); got >= 0 {
		t.Errorf("Expected a-umlaut before z in German, got %v", got)
	}
	if got := num(t, mustInvoke(t, ctx, umlaut, "localeCompare", z, sv)); got <= 0 {
		t.Errorf("Expected a-umlaut after z in Swedish, got %v", got)
	}
}

func TestString_LocaleUpperCase(t *testing.T) {
	_, ctx, _ := newTestRealm(t)
	i := vm.NewString("i")
	defer ctx.Runtime().FreeValue(i)
	tr := vm.NewString("tr")
	defer ctx.Runtime().FreeValue(tr)
	if got := str(t, mustInvoke(t, ctx, i, "toLocaleUpperCase", tr)); got != "\u0130" {
		t.Errorf("Expected dotted capital I, got %q", got)
	}
	if got := str(t, mustInvoke(t, ctx, i, "toLocaleUpperCase")); got != "I" {
		t.Errorf("Expected I, got %q", got)
	}
}

func TestString_RejectsRegExpSearch(t *testing.T) {
	_, ctx, _ := newTestRealm(t)
	re := mustConstruct(t, ctx, "RegExp", vm.NewString("a"))
	s := vm.NewString("abc")
	defer ctx.Runtime().FreeValue(s)
	_, err := invoke(t, ctx, s, "startsWith", re)
	expectError(t, err, "TypeError")
}

func TestString_NullReceiver(t *testing.T) {
	_, ctx, _ := newTestRealm(t)
	proto := mustProp(t, ctx, mustGlobal(t, ctx, "String"), "prototype")
	trim := mustProp(t, ctx, proto, "trim")
	_, err := ctx.Call(trim, vm.Null)
	expectError(t, err, "TypeError")
}
