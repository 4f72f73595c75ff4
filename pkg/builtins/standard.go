package builtins

import (
	"fmt"
	"sort"
)

// GetStandardInitializers returns all built-in initializers sorted by priority
func GetStandardInitializers() []BuiltinInitializer {
	var initializers []BuiltinInitializer

	initializers = append(initializers, &GlobalsInitializer{})

	// Core builtins
	initializers = append(initializers, &ObjectInitializer{})
	initializers = append(initializers, &ArrayInitializer{})
	initializers = append(initializers, &StringInitializer{})
	initializers = append(initializers, &SymbolInitializer{})

	// Host classes
	initializers = append(initializers, &RegExpInitializer{})
	initializers = append(initializers, &MapInitializer{})
	initializers = append(initializers, &SetInitializer{})

	initializers = append(initializers, &MathInitializer{})
	initializers = append(initializers, &ConsoleInitializer{})

	// Sort by priority (lower numbers first)
	sort.SliceStable(initializers, func(i, j int) bool {
		return initializers[i].Priority() < initializers[j].Priority()
	})

	return initializers
}

// Install runs every standard initializer whose name is not disabled.
func Install(rc *RuntimeContext, disabled func(name string) bool) error {
	for _, bi := range GetStandardInitializers() {
		if disabled != nil && disabled(bi.Name()) {
			rc.Log.Debugf("builtin %s disabled", bi.Name())
			continue
		}
		if err := bi.InitRuntime(rc); err != nil {
			return fmt.Errorf("initialize %s: %w", bi.Name(), err)
		}
	}
	return nil
}
