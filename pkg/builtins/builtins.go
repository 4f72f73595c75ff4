// Package builtins installs the standard library on top of the core
// intrinsics a vm.Context starts with.
package builtins

import (
	"bridgejs/pkg/vm"
)

// method describes one native function installed on an object.
type method struct {
	name   string
	length int
	fn     vm.NativeFunc
}

func defineMethods(ctx *vm.Context, obj *vm.Object, methods []method) {
	for _, m := range methods {
		ctx.DefineFunction(obj, m.name, m.fn, m.length)
	}
}

// arg returns args[i], or Undefined past the end.
func arg(args []vm.Value, i int) vm.Value {
	if i < len(args) {
		return args[i]
	}
	return vm.Undefined
}

// thisString coerces the receiver of a String.prototype method.
func thisString(ctx *vm.Context, this vm.Value, method string) (string, error) {
	if this.IsUndefinedOrNull() {
		return "", ctx.ThrowTypeError("String.prototype.%s called on null or undefined", method)
	}
	return ctx.ToString(this)
}

// relativeIndex clamps a relative position the way slice and friends do.
func relativeIndex(f float64, length int64) int64 {
	if f < 0 {
		f += float64(length)
		if f < 0 {
			return 0
		}
		return int64(f)
	}
	if f > float64(length) {
		return length
	}
	return int64(f)
}

// discard drops an error that is not propagated, releasing the thrown
// value it may carry.
func discard(err error) {
	if ex, ok := err.(*vm.Exception); ok {
		ex.Release()
	}
}
