package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"bridgejs/pkg/vm"
)

func TestParse_Defaults(t *testing.T) {
	c, err := Parse([]byte(""))
	if err != nil {
		t.Fatal(err)
	}
	if c.Runtime.MaxStackDepth != vm.DefaultMaxStackDepth {
		t.Errorf("Expected default stack depth %d, got %d", vm.DefaultMaxStackDepth, c.Runtime.MaxStackDepth)
	}
	if c.Runtime.GCThreshold != vm.DefaultGCThreshold {
		t.Errorf("Expected default gc threshold, got %d", c.Runtime.GCThreshold)
	}
}

func TestParse_Sections(t *testing.T) {
	src := `
[runtime]
max_stack_depth = 64
interrupt_budget = 10
timeout_ms = 250

[log]
verbosity = 2

[builtins]
disable = ["RegExp", "console"]
`
	c, err := Parse([]byte(src))
	if err != nil {
		t.Fatal(err)
	}
	if c.Runtime.MaxStackDepth != 64 || c.Runtime.InterruptBudget != 10 || c.Runtime.TimeoutMS != 250 {
		t.Errorf("Expected runtime section to decode, got %+v", c.Runtime)
	}
	if c.Log.Verbosity != 2 {
		t.Errorf("Expected verbosity 2, got %d", c.Log.Verbosity)
	}
	if !c.Disabled("RegExp") || c.Disabled("Math") {
		t.Errorf("Expected only listed builtins disabled, got %v", c.Builtins.Disable)
	}
	if n := len(c.RuntimeOptions()); n != 3 {
		t.Errorf("Expected 3 runtime options, got %d", n)
	}
}

func TestParse_UnknownKey(t *testing.T) {
	_, err := Parse([]byte("[runtime]\nmax_depth = 3\n"))
	if err == nil || !strings.Contains(err.Error(), "runtime.max_depth") {
		t.Errorf("Expected unknown key error, got %v", err)
	}
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse([]byte("[runtime]\nmax_stack_depth = -1\n"))
	if err == nil {
		t.Errorf("Expected negative stack depth to be rejected")
	}
}

func TestParse_EnvOverrides(t *testing.T) {
	t.Setenv("BRIDGEJS_MAX_STACK_DEPTH", "32")
	t.Setenv("BRIDGEJS_DISABLE_BUILTINS", "Map,Set")
	c, err := Parse([]byte("[runtime]\nmax_stack_depth = 64\n"))
	if err != nil {
		t.Fatal(err)
	}
	if c.Runtime.MaxStackDepth != 32 {
		t.Errorf("Expected env to win, got %d", c.Runtime.MaxStackDepth)
	}
	if !c.Disabled("Set") {
		t.Errorf("Expected Set disabled from env")
	}
}

func TestParse_BadEnv(t *testing.T) {
	t.Setenv("BRIDGEJS_GC_THRESHOLD", "lots")
	if _, err := Parse(nil); err == nil {
		t.Errorf("Expected a malformed env value to be reported")
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridgejs.toml")
	if err := os.WriteFile(path, []byte("[log]\nfile = \"out.log\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.Path != path || c.Log.File != "out.log" {
		t.Errorf("Expected file config, got %+v", c)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Errorf("Expected missing file error")
	}
}
