package vm

import (
	"os"
	"strconv"
)

// Engine defaults. Each can be overridden per process through a
// BRIDGEJS_* environment variable and per runtime through an Option.
const (
	DefaultMaxStackDepth   = 256
	DefaultGCThreshold     = 4096 // tracked allocations between cycle passes
	DefaultInterruptBudget = 10000
)

// getEnvBool reads a boolean environment variable with a default value
func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

// getEnvInt reads an integer environment variable with a default value
func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

// knobs are read when a runtime is created so tests can set them with
// t.Setenv.
type knobs struct {
	maxStackDepth   int
	gcThreshold     int
	interruptBudget int
	gcStress        bool // collect before every tracked allocation
	inlineCache     bool
}

func loadKnobs() knobs {
	return knobs{
		maxStackDepth:   getEnvInt("BRIDGEJS_MAX_STACK_DEPTH", DefaultMaxStackDepth),
		gcThreshold:     getEnvInt("BRIDGEJS_GC_THRESHOLD", DefaultGCThreshold),
		interruptBudget: getEnvInt("BRIDGEJS_INTERRUPT_BUDGET", DefaultInterruptBudget),
		gcStress:        getEnvBool("BRIDGEJS_GC_STRESS", false),
		inlineCache:     getEnvBool("BRIDGEJS_INLINE_CACHE", true),
	}
}
