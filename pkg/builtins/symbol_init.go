package builtins

import (
	"bridgejs/pkg/vm"
)

type SymbolInitializer struct{}

func (s *SymbolInitializer) Name() string {
	return "Symbol"
}

func (s *SymbolInitializer) Priority() int {
	return PrioritySymbol
}

// symbolRegistry backs Symbol.for and Symbol.keyFor. The atom table keeps
// registered symbols alive, so the registry stores atoms only.
type symbolRegistry struct {
	byKey  map[string]vm.Atom
	byAtom map[vm.Atom]string
}

func (s *SymbolInitializer) InitRuntime(rc *RuntimeContext) error {
	ctx := rc.Ctx
	rt := rc.Runtime()
	reg := &symbolRegistry{byKey: make(map[string]vm.Atom), byAtom: make(map[vm.Atom]string)}

	ctor := ctx.NewFunction(symbolCall, "Symbol", 0)
	ctorObj := ctor.AsObject()
	proto := ctx.GetClassProto(vm.ClassSymbol)
	defer rt.ReleaseObject(proto)
	protoVal := proto.Value()
	ctx.LinkConstructor(ctor, protoVal)
	rt.FreeValue(protoVal)

	wellKnown := []struct {
		name string
		atom vm.Atom
	}{
		{"iterator", vm.AtomSymbolIterator},
		{"toStringTag", vm.AtomSymbolToStringTag},
		{"hasInstance", vm.AtomSymbolHasInstance},
		{"toPrimitive", vm.AtomSymbolToPrimitive},
	}
	for _, w := range wellKnown {
		ctx.DefinePropertyValue(ctorObj, rt.NewAtom(w.name), rt.AtomValue(w.atom), 0)
	}

	defineMethods(ctx, ctorObj, []method{
		{"for", 1, func(ctx *vm.Context, this vm.Value, args []vm.Value) (vm.Value, error) {
			key, err := ctx.ToString(args[0])
			if err != nil {
				return vm.Undefined, err
			}
			if a, ok := reg.byKey[key]; ok {
				return rt.AtomValue(a), nil
			}
			sym := rt.NewSymbol(key)
			a, _ := sym.SymbolAtom()
			reg.byKey[key] = a
			reg.byAtom[a] = key
			return sym, nil
		}},
		{"keyFor", 1, func(ctx *vm.Context, this vm.Value, args []vm.Value) (vm.Value, error) {
			a, ok := args[0].SymbolAtom()
			if !ok {
				return vm.Undefined, ctx.ThrowTypeError("%s is not a symbol", args[0])
			}
			if key, ok := reg.byAtom[a]; ok {
				return vm.NewString(key), nil
			}
			return vm.Undefined, nil
		}},
	})

	return rc.DefineGlobal("Symbol", ctor)
}

// symbolCall creates a fresh symbol. Symbol is not a constructor, so new
// Symbol() fails before reaching here.
func symbolCall(ctx *vm.Context, this vm.Value, args []vm.Value) (vm.Value, error) {
	desc := ""
	if d := arg(args, 0); !d.IsUndefined() {
		s, err := ctx.ToString(d)
		if err != nil {
			return vm.Undefined, err
		}
		desc = s
	}
	return ctx.Runtime().NewSymbol(desc), nil
}
