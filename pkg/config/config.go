// Package config handles bridgejs.toml runtime configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"bridgejs/pkg/vm"
)

// Config is the decoded bridgejs.toml file.
type Config struct {
	Runtime  RuntimeConfig  `toml:"runtime"`
	Log      LogConfig      `toml:"log"`
	Builtins BuiltinsConfig `toml:"builtins"`

	// Path is the file the config was read from, empty for defaults.
	Path string `toml:"-"`
}

// RuntimeConfig sizes the engine.
type RuntimeConfig struct {
	MaxStackDepth   int `toml:"max_stack_depth"`
	GCThreshold     int `toml:"gc_threshold"`
	InterruptBudget int `toml:"interrupt_budget"`
	// Timeout aborts scripts running longer than this many milliseconds.
	// Zero means no limit.
	TimeoutMS int `toml:"timeout_ms"`
}

// LogConfig configures commonlog.
type LogConfig struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// BuiltinsConfig selects the installed builtins.
type BuiltinsConfig struct {
	Disable []string `toml:"disable"`
}

// Default returns the built-in configuration with environment overrides
// applied, used when no file is given.
func Default() (*Config, error) { return Parse(nil) }

// Load parses the TOML file at path, fills unset fields with defaults and
// applies BRIDGEJS_* environment overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	c.Path = path
	return c, nil
}

// Parse decodes TOML text.
func Parse(data []byte) (*Config, error) {
	var c Config
	md, err := toml.Decode(string(data), &c)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
	}
	c.applyDefaults()
	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.Runtime.MaxStackDepth == 0 {
		c.Runtime.MaxStackDepth = vm.DefaultMaxStackDepth
	}
	if c.Runtime.GCThreshold == 0 {
		c.Runtime.GCThreshold = vm.DefaultGCThreshold
	}
	if c.Runtime.InterruptBudget == 0 {
		c.Runtime.InterruptBudget = vm.DefaultInterruptBudget
	}
}

// applyEnv overrides file values with the same environment variables the
// engine reads, so a config file does not silently mask them.
func (c *Config) applyEnv() error {
	ints := []struct {
		key string
		dst *int
	}{
		{"BRIDGEJS_MAX_STACK_DEPTH", &c.Runtime.MaxStackDepth},
		{"BRIDGEJS_GC_THRESHOLD", &c.Runtime.GCThreshold},
		{"BRIDGEJS_INTERRUPT_BUDGET", &c.Runtime.InterruptBudget},
		{"BRIDGEJS_TIMEOUT_MS", &c.Runtime.TimeoutMS},
		{"BRIDGEJS_VERBOSITY", &c.Log.Verbosity},
	}
	for _, e := range ints {
		if val := os.Getenv(e.key); val != "" {
			n, err := strconv.Atoi(val)
			if err != nil {
				return fmt.Errorf("%s: %w", e.key, err)
			}
			*e.dst = n
		}
	}
	if val := os.Getenv("BRIDGEJS_LOG_FILE"); val != "" {
		c.Log.File = val
	}
	if val := os.Getenv("BRIDGEJS_DISABLE_BUILTINS"); val != "" {
		c.Builtins.Disable = strings.Split(val, ",")
	}
	return nil
}

// Validate rejects values the engine cannot use.
func (c *Config) Validate() error {
	switch {
	case c.Runtime.MaxStackDepth < 1:
		return fmt.Errorf("runtime.max_stack_depth must be positive, got %d", c.Runtime.MaxStackDepth)
	case c.Runtime.GCThreshold < 0:
		return fmt.Errorf("runtime.gc_threshold must not be negative, got %d", c.Runtime.GCThreshold)
	case c.Runtime.InterruptBudget < 1:
		return fmt.Errorf("runtime.interrupt_budget must be positive, got %d", c.Runtime.InterruptBudget)
	case c.Runtime.TimeoutMS < 0:
		return fmt.Errorf("runtime.timeout_ms must not be negative, got %d", c.Runtime.TimeoutMS)
	}
	return nil
}

// Disabled reports whether the named builtin is turned off.
func (c *Config) Disabled(name string) bool {
	for _, d := range c.Builtins.Disable {
		if strings.TrimSpace(d) == name {
			return true
		}
	}
	return false
}

// RuntimeOptions translates the runtime section into engine options.
func (c *Config) RuntimeOptions() []vm.Option {
	return []vm.Option{
		vm.WithMaxStackDepth(c.Runtime.MaxStackDepth),
		vm.WithGCThreshold(c.Runtime.GCThreshold),
		vm.WithInterruptBudget(c.Runtime.InterruptBudget),
	}
}
