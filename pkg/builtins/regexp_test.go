package builtins

import (
	"testing"

	"bridgejs/pkg/vm"
)

func newRegExp(t *testing.T, ctx *vm.Context, source, flags string) vm.Value {
	t.Helper()
	rt := ctx.Runtime()
	src, fl := vm.NewString(source), vm.NewString(flags)
	defer rt.FreeValue(src)
	defer rt.FreeValue(fl)
	return mustConstruct(t, ctx, "RegExp", src, fl)
}

func TestRegExp_ExecGlobal(t *testing.T) {
	_, ctx, _ := newTestRealm(t)
	re := newRegExp(t, ctx, `(\d+)-(?<word>\w+)`, "g")
	input := vm.NewString("10-abc 20-def")
	defer ctx.Runtime().FreeValue(input)

	m := mustInvoke(t, ctx, re, "exec", input)
	if got := join(t, ctx, m); got != "10-abc,10,abc" {
		t.Errorf("Expected 10-abc,10,abc, got %s", got)
	}
	if got := num(t, mustProp(t, ctx, m, "index")); got != 0 {
		t.Errorf("Expected index 0, got %v", got)
	}
	if got := str(t, mustProp(t, ctx, mustProp(t, ctx, m, "groups"), "word")); got != "abc" {
		t.Errorf("Expected group word abc, got %s", got)
	}
	if got := num(t, mustProp(t, ctx, re, "lastIndex")); got != 6 {
		t.Errorf("Expected lastIndex 6, got %v", got)
	}

	m = mustInvoke(t, ctx, re, "exec", input)
	if got := num(t, mustProp(t, ctx, m, "index")); got != 7 {
		t.Errorf("Expected index 7, got %v", got)
	}
	if got := num(t, mustProp(t, ctx, re, "lastIndex")); got != 13 {
		t.Errorf("Expected lastIndex 13, got %v", got)
	}

	if m := mustInvoke(t, ctx, re, "exec", input); !m.IsNull() {
		t.Errorf("Expected null after the last match, got %s", m)
	}
	if got := num(t, mustProp(t, ctx, re, "lastIndex")); got != 0 {
		t.Errorf("Expected lastIndex reset to 0, got %v", got)
	}
}

func TestRegExp_UnmatchedGroup(t *testing.T) {
	_, ctx, _ := newTestRealm(t)
	re := newRegExp(t, ctx, `a(b)?`, "")
	input := vm.NewString("xa")
	defer ctx.Runtime().FreeValue(input)
	m := mustInvoke(t, ctx, re, "exec", input)
	g, err := ctx.GetPropertyUint32(m, 1)
	if err != nil {
		t.Fatalf("GetPropertyUint32 failed: %v", err)
	}
	if !g.IsUndefined() {
		t.Errorf("Expected unmatched group to be undefined, got %s", g)
	}
	if got := mustProp(t, ctx, m, "groups"); !got.IsUndefined() {
		t.Errorf("Expected groups undefined, got %s", got)
	}
}

func TestRegExp_Sticky(t *testing.T) {
	_, ctx, _ := newTestRealm(t)
	re := newRegExp(t, ctx, "a", "y")
	input := vm.NewString("ba")
	defer ctx.Runtime().FreeValue(input)
	if got := mustInvoke(t, ctx, re, "test", input); got.Bool() {
		t.Error("Expected a sticky match at 0 to fail")
	}
	ctx.SetPropertyStr(re, "lastIndex", vm.NewInt32(1))
	if got := mustInvoke(t, ctx, re, "test", input); !got.Bool() {
		t.Error("Expected a sticky match at 1 to succeed")
	}
	if got := num(t, mustProp(t, ctx, re, "lastIndex")); got != 2 {
		t.Errorf("Expected lastIndex 2, got %v", got)
	}
}

func TestRegExp_Flags(t *testing.T) {
	_, ctx, _ := newTestRealm(t)
	re := newRegExp(t, ctx, "a", "ymgi")
	if got := str(t, mustProp(t, ctx, re, "flags")); got != "gimy" {
		t.Errorf("Expected gimy, got %s", got)
	}
	for name, want := range map[string]bool{"global": true, "ignoreCase": true, "multiline": true, "sticky": true, "dotAll": false, "unicode": false} {
		if got := mustProp(t, ctx, re, name); got.Bool() != want {
			t.Errorf("Expected %s %v, got %s", name, want, got)
		}
	}
	if got := str(t, mustInvoke(t, ctx, re, "toString")); got != "/a/gimy" {
		t.Errorf("Expected /a/gimy, got %s", got)
	}
	empty := mustConstruct(t, ctx, "RegExp")
	if got := str(t, mustProp(t, ctx, empty, "source")); got != "(?:)" {
		t.Errorf("Expected (?:), got %s", got)
	}
}

func TestRegExp_IgnoreCaseAndDotAll(t *testing.T) {
	_, ctx, _ := newTestRealm(t)
	input := vm.NewString("A\nB")
	defer ctx.Runtime().FreeValue(input)
	if got := mustInvoke(t, ctx, newRegExp(t, ctx, "a.b", "i"), "test", input); got.Bool() {
		t.Error("Expected . not to match a newline without s")
	}
	if got := mustInvoke(t, ctx, newRegExp(t, ctx, "a.b", "is"), "test", input); !got.Bool() {
		t.Error("Expected . to match a newline with s")
	}
	if got := mustInvoke(t, ctx, newRegExp(t, ctx, "^B", "m"), "test", input); !got.Bool() {
		t.Error("Expected ^ to match after a newline with m")
	}
}

func TestRegExp_InvalidInput(t *testing.T) {
	_, ctx, _ := newTestRealm(t)
	rt := ctx.Runtime()
	ctor := mustGlobal(t, ctx, "RegExp")
	for _, tt := range []struct{ source, flags string }{
		{"a", "gg"},
		{"a", "x"},
		{"(", ""},
	} {
		src, fl := vm.NewString(tt.source), vm.NewString(tt.flags)
		_, err := ctx.CallConstructor(ctor, src, fl)
		rt.FreeValue(src)
		rt.FreeValue(fl)
		expectError(t, err, "SyntaxError")
	}
}

func TestRegExp_CallReturnsSameInstance(t *testing.T) {
	_, ctx, _ := newTestRealm(t)
	re := newRegExp(t, ctx, "x", "g")
	got, err := ctx.Call(mustGlobal(t, ctx, "RegExp"), vm.Undefined, re)
	if err != nil {
		t.Fatalf("RegExp() failed: %v", err)
	}
	defer ctx.Runtime().FreeValue(got)
	if !vm.StrictEquals(got, re) {
		t.Error("Expected RegExp(re) to return re")
	}
}

func TestRegExp_UTF16Offsets(t *testing.T) {
	tests := []struct {
		s     string
		units int
		runes int
	}{
		{"abc", 2, 2},
		{"\U0001F600x", 2, 1},
		{"\U0001F600x", 3, 2},
	}
	for _, tt := range tests {
		if got := runeOffset(tt.s, tt.units); got != tt.runes {
			t.Errorf("runeOffset(%q, %d): Expected %d, got %d", tt.s, tt.units, tt.runes, got)
		}
		if got := utf16Offset(tt.s, tt.runes); got != tt.units {
			t.Errorf("utf16Offset(%q, %d): Expected %d, got %d", tt.s, tt.runes, tt.units, got)
		}
	}
}
