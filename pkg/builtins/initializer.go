package builtins

import (
	"io"

	"github.com/tliron/commonlog"

	"bridgejs/pkg/vm"
)

// BuiltinInitializer is implemented by each builtin module
type BuiltinInitializer interface {
	// Name returns the module name (e.g., "Array", "String", "Math")
	Name() string

	// Priority returns initialization order (lower = earlier)
	Priority() int

	// InitRuntime creates runtime values in the context
	InitRuntime(ctx *RuntimeContext) error
}

// RuntimeContext provides everything needed for runtime initialization
type RuntimeContext struct {
	// The realm being populated
	Ctx *vm.Context

	// Define a global value, consuming it
	DefineGlobal func(name string, value vm.Value) error

	// Stdout receives console.log output; nil routes it to Log
	Stdout io.Writer

	Log commonlog.Logger
}

// NewRuntimeContext prepares ctx for the standard initializers.
func NewRuntimeContext(ctx *vm.Context, stdout io.Writer) *RuntimeContext {
	rt := ctx.Runtime()
	return &RuntimeContext{
		Ctx: ctx,
		DefineGlobal: func(name string, value vm.Value) error {
			g := ctx.GlobalObject()
			defer rt.FreeValue(g)
			_, err := ctx.DefinePropertyValue(g.AsObject(), rt.NewAtom(name), value, vm.PropWritable|vm.PropConfigurable)
			return err
		},
		Stdout: stdout,
		Log:    commonlog.GetLogger("bridgejs.console"),
	}
}

// Runtime returns the runtime behind the context.
func (c *RuntimeContext) Runtime() *vm.Runtime { return c.Ctx.Runtime() }

// global returns a new reference to an existing global object binding.
func (c *RuntimeContext) global(name string) (*vm.Object, error) {
	v, err := c.Ctx.GetGlobal(name)
	if err != nil {
		return nil, err
	}
	p := v.AsObject()
	if p == nil {
		return nil, c.Ctx.ThrowInternalError("global %s is not an object", name)
	}
	return p, nil
}

// hostClass returns the class id registered under name, registering def on
// first use. Contexts sharing a runtime share the id.
func (c *RuntimeContext) hostClass(def vm.ClassDef) (vm.ClassID, error) {
	rt := c.Runtime()
	if id, ok := rt.LookupClass(def.Name); ok {
		return id, nil
	}
	id := rt.NewClassID()
	if err := rt.RegisterClass(id, def); err != nil {
		return 0, err
	}
	return id, nil
}

// Priority constants for initialization order
const (
	PriorityGlobals = 0   // parseInt, isNaN and friends
	PriorityObject  = 1   // Object statics
	PriorityArray   = 3   // Array statics and prototype methods
	PriorityString  = 10  // String prototype methods
	PrioritySymbol  = 11  // Symbol constructor and registry
	PriorityRegExp  = 13  // RegExp constructor
	PriorityMap     = 20  // Map collection
	PrioritySet     = 21  // Set collection
	PriorityMath    = 100 // Math object
	PriorityConsole = 102 // Console object
)
