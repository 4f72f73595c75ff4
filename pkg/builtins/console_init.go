package builtins

import (
	"fmt"
	"strings"
	"time"

	"bridgejs/pkg/vm"
)

type ConsoleInitializer struct{}

func (c *ConsoleInitializer) Name() string {
	return "console"
}

func (c *ConsoleInitializer) Priority() int {
	return PriorityConsole
}

func (c *ConsoleInitializer) InitRuntime(rc *RuntimeContext) error {
	ctx := rc.Ctx
	consoleObj := ctx.NewObject()
	obj := consoleObj.AsObject()
	log := rc.Log

	// console.log is program output when a writer is attached
	write := func(level string) vm.NativeFunc {
		return func(ctx *vm.Context, this vm.Value, args []vm.Value) (vm.Value, error) {
			msg := formatArgs(ctx, args)
			switch level {
			case "log":
				if rc.Stdout != nil {
					fmt.Fprintln(rc.Stdout, msg)
				} else {
					log.Notice(msg)
				}
			case "info":
				log.Info(msg)
			case "debug":
				log.Debug(msg)
			case "warn":
				log.Warning(msg)
			case "error":
				log.Error(msg)
			}
			return vm.Undefined, nil
		}
	}
	for _, level := range []string{"log", "info", "debug", "warn", "error"} {
		ctx.DefineFunction(obj, level, write(level), 0)
	}

	timers := make(map[string]time.Time)
	counts := make(map[string]int)
	label := func(ctx *vm.Context, args []vm.Value) string {
		if len(args) == 0 || args[0].IsUndefined() {
			return "default"
		}
		s, err := ctx.ToString(args[0])
		if err != nil {
			discard(err)
			return "default"
		}
		return s
	}
	defineMethods(ctx, obj, []method{
		{"time", 0, func(ctx *vm.Context, this vm.Value, args []vm.Value) (vm.Value, error) {
			timers[label(ctx, args)] = time.Now()
			return vm.Undefined, nil
		}},
		{"timeEnd", 0, func(ctx *vm.Context, this vm.Value, args []vm.Value) (vm.Value, error) {
			name := label(ctx, args)
			start, ok := timers[name]
			if !ok {
				log.Warningf("timer %q does not exist", name)
				return vm.Undefined, nil
			}
			delete(timers, name)
			log.Infof("%s: %s", name, time.Since(start))
			return vm.Undefined, nil
		}},
		{"count", 0, func(ctx *vm.Context, this vm.Value, args []vm.Value) (vm.Value, error) {
			name := label(ctx, args)
			counts[name]++
			log.Infof("%s: %d", name, counts[name])
			return vm.Undefined, nil
		}},
	})

	return rc.DefineGlobal("console", consoleObj)
}

// formatArgs renders console arguments separated by spaces. Strings print
// raw at the top level and quoted inside containers.
func formatArgs(ctx *vm.Context, args []vm.Value) string {
	parts := make([]string, len(args))
	for i, a := range args {
		if s, ok := a.AsString(); ok {
			parts[i] = s
			continue
		}
		parts[i] = inspect(ctx, a, 0)
	}
	return strings.Join(parts, " ")
}

const maxInspectDepth = 2

func inspect(ctx *vm.Context, v vm.Value, depth int) string {
	rt := ctx.Runtime()
	if s, ok := v.AsString(); ok {
		return fmt.Sprintf("%q", s)
	}
	if desc, ok := v.SymbolDescription(); ok {
		return "Symbol(" + desc + ")"
	}
	obj := v.AsObject()
	if obj == nil {
		return v.String()
	}
	if ctx.IsFunction(v) {
		name, err := ctx.GetPropertyStr(v, "name")
		discard(err)
		defer rt.FreeValue(name)
		if s, ok := name.AsString(); ok && s != "" {
			return "[Function: " + s + "]"
		}
		return "[Function (anonymous)]"
	}
	if depth > maxInspectDepth {
		if ctx.IsArray(v) {
			return "[Array]"
		}
		return "[Object]"
	}
	if ctx.IsArray(v) {
		n, err := ctx.LengthOf(v)
		if err != nil {
			discard(err)
			return "[Array]"
		}
		parts := make([]string, 0, n)
		for i := int64(0); i < n; i++ {
			e, err := ctx.GetPropertyUint32(v, uint32(i))
			if err != nil {
				discard(err)
				return "[Array]"
			}
			parts = append(parts, inspect(ctx, e, depth+1))
			rt.FreeValue(e)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	}
	if obj.ClassID() == vm.ClassError {
		s, err := ctx.ToString(v)
		if err == nil {
			return s
		}
		discard(err)
	}
	atoms, err := ctx.GetOwnPropertyNames(obj, vm.GPNStringMask|vm.GPNEnumOnly)
	if err != nil {
		discard(err)
		return "[Object]"
	}
	if len(atoms) == 0 {
		if name := rt.ClassName(obj.ClassID()); name != "" && obj.ClassID() != vm.ClassObject {
			return name + " {}"
		}
		return "{}"
	}
	parts := make([]string, 0, len(atoms))
	for _, a := range atoms {
		e, err := ctx.GetProperty(v, a)
		if err != nil {
			discard(err)
			return "[Object]"
		}
		parts = append(parts, rt.AtomString(a)+": "+inspect(ctx, e, depth+1))
		rt.FreeValue(e)
	}
	return "{ " + strings.Join(parts, ", ") + " }"
}
