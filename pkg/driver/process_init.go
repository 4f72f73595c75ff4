package driver

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"bridgejs/pkg/builtins"
	"bridgejs/pkg/vm"
)

// ProcessInitializer sets up a Node-style process global bound to a
// session: argv, env, cwd, exit, nextTick and memoryUsage.
type ProcessInitializer struct {
	session *Session
	argv    []string
}

// NewProcessInitializer creates a new ProcessInitializer with the given argv
func NewProcessInitializer(s *Session, argv []string) *ProcessInitializer {
	return &ProcessInitializer{session: s, argv: argv}
}

func (p *ProcessInitializer) Name() string {
	return "process"
}

func (p *ProcessInitializer) Priority() int {
	return 300 // After standard builtins
}

func (p *ProcessInitializer) InitRuntime(rc *builtins.RuntimeContext) error {
	ctx := rc.Ctx
	rt := rc.Runtime()

	argv := make([]vm.Value, len(p.argv))
	for i, a := range p.argv {
		argv[i] = vm.NewString(a)
	}

	env := ctx.NewObject()
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok && k != "" {
			ctx.SetPropertyStr(env, k, vm.NewString(v))
		}
	}

	stdout := ctx.NewObject()
	ctx.DefineFunction(stdout.AsObject(), "write", p.write, 1)

	processObj := ctx.NewObject()
	set := func(name string, v vm.Value) error {
		return ctx.SetPropertyStr(processObj, name, v)
	}
	props := []struct {
		name string
		v    vm.Value
	}{
		{"argv", ctx.NewArrayFrom(argv)},
		{"env", env},
		{"stdout", stdout},
		{"platform", vm.NewString(runtime.GOOS)},
		{"arch", vm.NewString(runtime.GOARCH)},
		{"pid", vm.NewInt32(int32(os.Getpid()))},
	}
	for i, pr := range props {
		if err := set(pr.name, pr.v); err != nil {
			for _, rest := range props[i+1:] {
				rt.FreeValue(rest.v)
			}
			rt.FreeValue(processObj)
			return err
		}
	}

	obj := processObj.AsObject()
	ctx.DefineFunction(obj, "cwd", processCwd, 0)
	ctx.DefineFunction(obj, "exit", p.exit, 1)
	ctx.DefineFunction(obj, "nextTick", processNextTick, 1)
	ctx.DefineFunction(obj, "memoryUsage", processMemoryUsage, 0)

	return rc.DefineGlobal("process", processObj)
}

func (p *ProcessInitializer) write(ctx *vm.Context, this vm.Value, args []vm.Value) (vm.Value, error) {
	s, err := ctx.ToString(args[0])
	if err != nil {
		return vm.Undefined, err
	}
	if w := p.session.stdout; w != nil {
		fmt.Fprint(w, s)
	} else {
		log.Notice(strings.TrimRight(s, "\n"))
	}
	return vm.True, nil
}

func processCwd(ctx *vm.Context, this vm.Value, args []vm.Value) (vm.Value, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return vm.NewString(""), nil
	}
	return vm.NewString(cwd), nil
}

// exit records the code and unwinds the program with an uncatchable error;
// the session reports it as an ExitError.
func (p *ProcessInitializer) exit(ctx *vm.Context, this vm.Value, args []vm.Value) (vm.Value, error) {
	code := 0
	if !args[0].IsUndefined() {
		n, err := ctx.ToInt32(args[0])
		if err != nil {
			return vm.Undefined, err
		}
		code = int(n)
	}
	p.session.exitCode = code
	p.session.exited = true
	return vm.Undefined, ctx.ThrowUncatchable(fmt.Sprintf("process.exit(%d)", code))
}

// processNextTick queues fn(...rest) on the job queue.
func processNextTick(ctx *vm.Context, this vm.Value, args []vm.Value) (vm.Value, error) {
	if !ctx.IsFunction(args[0]) {
		return vm.Undefined, ctx.ThrowTypeError("callback must be a function, got %s", ctx.TypeOf(args[0]))
	}
	ctx.EnqueueJob(func(ctx *vm.Context, job []vm.Value) (vm.Value, error) {
		return ctx.Call(job[0], vm.Undefined, job[1:]...)
	}, args...)
	return vm.Undefined, nil
}

// processMemoryUsage reports the engine's own cell counts next to the Go
// heap figures.
func processMemoryUsage(ctx *vm.Context, this vm.Value, args []vm.Value) (vm.Value, error) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	m := ctx.Runtime().MemoryUsage()
	result := ctx.NewObject()
	for _, f := range []struct {
		name string
		n    float64
	}{
		{"heapUsed", float64(ms.HeapAlloc)},
		{"heapTotal", float64(ms.HeapSys)},
		{"rss", float64(ms.Sys)},
		{"objects", float64(m.Objects)},
		{"arrays", float64(m.Arrays)},
		{"functions", float64(m.Functions)},
		{"shapes", float64(m.Shapes)},
		{"atoms", float64(m.Atoms)},
	} {
		if err := ctx.SetPropertyStr(result, f.name, vm.NewNumber(f.n)); err != nil {
			ctx.Runtime().FreeValue(result)
			return vm.Undefined, err
		}
	}
	return result, nil
}
