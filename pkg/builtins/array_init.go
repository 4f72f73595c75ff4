package builtins

import (
	"math"
	"strings"

	"bridgejs/pkg/vm"
)

type ArrayInitializer struct{}

func (a *ArrayInitializer) Name() string {
	return "Array"
}

func (a *ArrayInitializer) Priority() int {
	return PriorityArray
}

func (a *ArrayInitializer) InitRuntime(rc *RuntimeContext) error {
	ctx := rc.Ctx
	rt := rc.Runtime()
	ctor, err := rc.global("Array")
	if err != nil {
		return err
	}
	defer rt.ReleaseObject(ctor)
	ctx.DefineFunction(ctor, "isArray", arrayIsArray, 1)
	ctx.DefineFunction(ctor, "of", arrayOf, 0)

	proto := ctx.GetClassProto(vm.ClassArray)
	defer rt.ReleaseObject(proto)
	defineMethods(ctx, proto, []method{
		{"join", 1, arrayJoin},
		{"toString", 0, arrayToString},
		{"indexOf", 1, arrayIndexOf},
		{"lastIndexOf", 1, arrayLastIndexOf},
		{"includes", 1, arrayIncludes},
		{"push", 1, arrayPush},
		{"pop", 0, arrayPop},
		{"slice", 2, arraySlice},
		{"forEach", 1, arrayForEach},
		{"map", 1, arrayMap},
	})
	return nil
}

func arrayIsArray(ctx *vm.Context, this vm.Value, args []vm.Value) (vm.Value, error) {
	return vm.NewBool(ctx.IsArray(args[0])), nil
}

func arrayOf(ctx *vm.Context, this vm.Value, args []vm.Value) (vm.Value, error) {
	vals := make([]vm.Value, len(args))
	for i, v := range args {
		vals[i] = v.Dup()
	}
	return ctx.NewArrayFrom(vals), nil
}

// thisArrayLike coerces the receiver and reads its length. The caller frees
// the returned object.
func thisArrayLike(ctx *vm.Context, this vm.Value) (vm.Value, int64, error) {
	obj, err := ctx.ToObject(this)
	if err != nil {
		return vm.Undefined, 0, err
	}
	n, err := ctx.LengthOf(obj)
	if err != nil {
		ctx.Runtime().FreeValue(obj)
		return vm.Undefined, 0, err
	}
	return obj, n, nil
}

func arrayJoin(ctx *vm.Context, this vm.Value, args []vm.Value) (vm.Value, error) {
	rt := ctx.Runtime()
	obj, n, err := thisArrayLike(ctx, this)
	if err != nil {
		return vm.Undefined, err
	}
	defer rt.FreeValue(obj)
	sep := ","
	if !args[0].IsUndefined() {
		if sep, err = ctx.ToString(args[0]); err != nil {
			return vm.Undefined, err
		}
	}
	var b strings.Builder
	for i := int64(0); i < n; i++ {
		if i > 0 {
			b.WriteString(sep)
		}
		v, err := ctx.GetPropertyUint32(obj, uint32(i))
		if err != nil {
			return vm.Undefined, err
		}
		if !v.IsUndefinedOrNull() {
			s, err := ctx.ToString(v)
			rt.FreeValue(v)
			if err != nil {
				return vm.Undefined, err
			}
			b.WriteString(s)
		}
	}
	return vm.NewString(b.String()), nil
}

func arrayToString(ctx *vm.Context, this vm.Value, args []vm.Value) (vm.Value, error) {
	return arrayJoin(ctx, this, []vm.Value{vm.Undefined})
}

// searchArray walks indices from start by step and reports the first index
// whose element matches.
func searchArray(ctx *vm.Context, obj vm.Value, start, end, step int64, match func(vm.Value) bool) (int64, error) {
	rt := ctx.Runtime()
	for i := start; i != end; i += step {
		v, err := ctx.GetPropertyUint32(obj, uint32(i))
		if err != nil {
			return -1, err
		}
		ok := match(v)
		rt.FreeValue(v)
		if ok {
			return i, nil
		}
	}
	return -1, nil
}

func fromIndex(ctx *vm.Context, v vm.Value, n int64, def int64) (int64, error) {
	if v.IsUndefined() {
		return def, nil
	}
	f, err := ctx.ToInteger(v)
	if err != nil {
		return 0, err
	}
	return relativeIndex(f, n), nil
}

func arrayIndexOf(ctx *vm.Context, this vm.Value, args []vm.Value) (vm.Value, error) {
	obj, n, err := thisArrayLike(ctx, this)
	if err != nil {
		return vm.Undefined, err
	}
	defer ctx.Runtime().FreeValue(obj)
	start, err := fromIndex(ctx, arg(args, 1), n, 0)
	if err != nil {
		return vm.Undefined, err
	}
	if start >= n {
		return vm.NewInt32(-1), nil
	}
	target := args[0]
	i, err := searchArray(ctx, obj, start, n, 1, func(v vm.Value) bool { return vm.StrictEquals(v, target) })
	if err != nil {
		return vm.Undefined, err
	}
	return vm.NewNumber(float64(i)), nil
}

func arrayLastIndexOf(ctx *vm.Context, this vm.Value, args []vm.Value) (vm.Value, error) {
	obj, n, err := thisArrayLike(ctx, this)
	if err != nil {
		return vm.Undefined, err
	}
	defer ctx.Runtime().FreeValue(obj)
	if n == 0 {
		return vm.NewInt32(-1), nil
	}
	start := n - 1
	if len(args) > 1 {
		f, err := ctx.ToInteger(args[1])
		if err != nil {
			return vm.Undefined, err
		}
		if f < 0 {
			f += float64(n)
		}
		start = int64(math.Min(f, float64(n-1)))
		if start < 0 {
			return vm.NewInt32(-1), nil
		}
	}
	target := args[0]
	i, err := searchArray(ctx, obj, start, -1, -1, func(v vm.Value) bool { return vm.StrictEquals(v, target) })
	if err != nil {
		return vm.Undefined, err
	}
	return vm.NewNumber(float64(i)), nil
}

func arrayIncludes(ctx *vm.Context, this vm.Value, args []vm.Value) (vm.Value, error) {
	obj, n, err := thisArrayLike(ctx, this)
	if err != nil {
		return vm.Undefined, err
	}
	defer ctx.Runtime().FreeValue(obj)
	start, err := fromIndex(ctx, arg(args, 1), n, 0)
	if err != nil {
		return vm.Undefined, err
	}
	if start >= n {
		return vm.False, nil
	}
	target := args[0]
	i, err := searchArray(ctx, obj, start, n, 1, func(v vm.Value) bool { return vm.SameValueZero(v, target) })
	if err != nil {
		return vm.Undefined, err
	}
	return vm.NewBool(i >= 0), nil
}

func setLength(ctx *vm.Context, obj vm.Value, n int64) error {
	return ctx.SetPropertyStr(obj, "length", vm.NewNumber(float64(n)))
}

func arrayPush(ctx *vm.Context, this vm.Value, args []vm.Value) (vm.Value, error) {
	obj, n, err := thisArrayLike(ctx, this)
	if err != nil {
		return vm.Undefined, err
	}
	defer ctx.Runtime().FreeValue(obj)
	for _, v := range args {
		if err := ctx.SetPropertyUint32(obj, uint32(n), v.Dup()); err != nil {
			return vm.Undefined, err
		}
		n++
	}
	if err := setLength(ctx, obj, n); err != nil {
		return vm.Undefined, err
	}
	return vm.NewNumber(float64(n)), nil
}

func arrayPop(ctx *vm.Context, this vm.Value, args []vm.Value) (vm.Value, error) {
	rt := ctx.Runtime()
	obj, n, err := thisArrayLike(ctx, this)
	if err != nil {
		return vm.Undefined, err
	}
	defer rt.FreeValue(obj)
	if n == 0 {
		return vm.Undefined, setLength(ctx, obj, 0)
	}
	v, err := ctx.GetPropertyUint32(obj, uint32(n-1))
	if err != nil {
		return vm.Undefined, err
	}
	if err := setLength(ctx, obj, n-1); err != nil {
		rt.FreeValue(v)
		return vm.Undefined, err
	}
	return v, nil
}

func arraySlice(ctx *vm.Context, this vm.Value, args []vm.Value) (vm.Value, error) {
	rt := ctx.Runtime()
	obj, n, err := thisArrayLike(ctx, this)
	if err != nil {
		return vm.Undefined, err
	}
	defer rt.FreeValue(obj)
	start, err := fromIndex(ctx, args[0], n, 0)
	if err != nil {
		return vm.Undefined, err
	}
	end, err := fromIndex(ctx, args[1], n, n)
	if err != nil {
		return vm.Undefined, err
	}
	var out []vm.Value
	for i := start; i < end; i++ {
		v, err := ctx.GetPropertyUint32(obj, uint32(i))
		if err != nil {
			for _, o := range out {
				rt.FreeValue(o)
			}
			return vm.Undefined, err
		}
		out = append(out, v)
	}
	return ctx.NewArrayFrom(out), nil
}

// eachElement calls fn(value, index) with the callback result for every
// index below the length read at the start.
func eachElement(ctx *vm.Context, this vm.Value, args []vm.Value, name string, fn func(i int64, ret vm.Value) error) error {
	rt := ctx.Runtime()
	obj, n, err := thisArrayLike(ctx, this)
	if err != nil {
		return err
	}
	defer rt.FreeValue(obj)
	cb := args[0]
	if !ctx.IsFunction(cb) {
		return ctx.ThrowTypeError("Array.prototype.%s: callback is not a function", name)
	}
	for i := int64(0); i < n; i++ {
		idx := uint32(i)
		has, err := ctx.HasProperty(obj.AsObject(), rt.AtomFromIndex(idx))
		if err != nil {
			return err
		}
		if !has {
			continue
		}
		v, err := ctx.GetPropertyUint32(obj, idx)
		if err != nil {
			return err
		}
		ret, err := ctx.Call(cb, arg(args, 1), v, vm.NewNumber(float64(i)), obj)
		rt.FreeValue(v)
		if err != nil {
			return err
		}
		if err := fn(i, ret); err != nil {
			return err
		}
	}
	return nil
}

func arrayForEach(ctx *vm.Context, this vm.Value, args []vm.Value) (vm.Value, error) {
	rt := ctx.Runtime()
	err := eachElement(ctx, this, args, "forEach", func(_ int64, ret vm.Value) error {
		rt.FreeValue(ret)
		return nil
	})
	return vm.Undefined, err
}

func arrayMap(ctx *vm.Context, this vm.Value, args []vm.Value) (vm.Value, error) {
	out := ctx.NewArray()
	err := eachElement(ctx, this, args, "map", func(i int64, ret vm.Value) error {
		return ctx.SetPropertyUint32(out, uint32(i), ret)
	})
	if err != nil {
		ctx.Runtime().FreeValue(out)
		return vm.Undefined, err
	}
	return out, nil
}
