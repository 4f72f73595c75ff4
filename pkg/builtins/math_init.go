package builtins

import (
	"math"
	"math/rand/v2"

	"bridgejs/pkg/vm"
)

type MathInitializer struct{}

func (m *MathInitializer) Name() string {
	return "Math"
}

func (m *MathInitializer) Priority() int {
	return PriorityMath
}

func (m *MathInitializer) InitRuntime(rc *RuntimeContext) error {
	ctx := rc.Ctx
	rt := rc.Runtime()
	mathObj := ctx.NewObject()
	obj := mathObj.AsObject()

	constants := []struct {
		name  string
		value float64
	}{
		{"PI", math.Pi},
		{"E", math.E},
		{"LN2", math.Ln2},
		{"LN10", math.Ln10},
		{"LOG2E", math.Log2E},
		{"LOG10E", math.Log10E},
		{"SQRT2", math.Sqrt2},
		{"SQRT1_2", math.Sqrt2 / 2},
	}
	for _, c := range constants {
		ctx.DefinePropertyValue(obj, rt.NewAtom(c.name), vm.NewFloat64(c.value), 0)
	}
	ctx.DefinePropertyValue(obj, vm.AtomSymbolToStringTag, vm.NewString("Math"), vm.PropConfigurable)

	unary := []struct {
		name string
		fn   func(float64) float64
	}{
		{"abs", math.Abs},
		{"floor", math.Floor},
		{"ceil", math.Ceil},
		{"round", jsRound},
		{"trunc", math.Trunc},
		{"sign", jsSign},
		{"sqrt", math.Sqrt},
		{"cbrt", math.Cbrt},
		{"exp", math.Exp},
		{"log", math.Log},
		{"log2", math.Log2},
		{"log10", math.Log10},
		{"sin", math.Sin},
		{"cos", math.Cos},
		{"tan", math.Tan},
		{"asin", math.Asin},
		{"acos", math.Acos},
		{"atan", math.Atan},
	}
	for _, u := range unary {
		ctx.DefineFunction(obj, u.name, mathUnary(u.fn), 1)
	}
	defineMethods(ctx, obj, []method{
		{"pow", 2, mathPow},
		{"atan2", 2, mathAtan2},
		{"max", 0, mathMax},
		{"min", 0, mathMin},
		{"hypot", 0, mathHypot},
		{"random", 0, mathRandom},
	})

	return rc.DefineGlobal("Math", mathObj)
}

func mathUnary(fn func(float64) float64) vm.NativeFunc {
	return func(ctx *vm.Context, this vm.Value, args []vm.Value) (vm.Value, error) {
		x, err := ctx.ToNumber(args[0])
		if err != nil {
			return vm.Undefined, err
		}
		return vm.NewNumber(fn(x)), nil
	}
}

// jsRound rounds half up, unlike math.Round which rounds half away from zero.
func jsRound(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return x
	}
	if x < 0 && x >= -0.5 {
		return math.Copysign(0, -1)
	}
	return math.Floor(x + 0.5)
}

func jsSign(x float64) float64 {
	switch {
	case math.IsNaN(x):
		return math.NaN()
	case x > 0:
		return 1
	case x < 0:
		return -1
	}
	return x
}

func twoNumbers(ctx *vm.Context, args []vm.Value) (float64, float64, error) {
	x, err := ctx.ToNumber(args[0])
	if err != nil {
		return 0, 0, err
	}
	y, err := ctx.ToNumber(args[1])
	return x, y, err
}

func mathPow(ctx *vm.Context, this vm.Value, args []vm.Value) (vm.Value, error) {
	x, y, err := twoNumbers(ctx, args)
	if err != nil {
		return vm.Undefined, err
	}
	if math.IsNaN(y) || (math.Abs(x) == 1 && math.IsInf(y, 0)) {
		return vm.NewFloat64(math.NaN()), nil
	}
	return vm.NewNumber(math.Pow(x, y)), nil
}

func mathAtan2(ctx *vm.Context, this vm.Value, args []vm.Value) (vm.Value, error) {
	y, x, err := twoNumbers(ctx, args)
	if err != nil {
		return vm.Undefined, err
	}
	return vm.NewNumber(math.Atan2(y, x)), nil
}

// numbers converts the first n arguments.
func numbers(ctx *vm.Context, args []vm.Value, n int) ([]float64, error) {
	out := make([]float64, 0, n)
	for _, a := range args[:n] {
		f, err := ctx.ToNumber(a)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

func mathMax(ctx *vm.Context, this vm.Value, args []vm.Value) (vm.Value, error) {
	xs, err := numbers(ctx, args, len(args))
	if err != nil {
		return vm.Undefined, err
	}
	r := math.Inf(-1)
	for _, x := range xs {
		if math.IsNaN(x) {
			return vm.NewFloat64(math.NaN()), nil
		}
		r = math.Max(r, x)
	}
	return vm.NewNumber(r), nil
}

func mathMin(ctx *vm.Context, this vm.Value, args []vm.Value) (vm.Value, error) {
	xs, err := numbers(ctx, args, len(args))
	if err != nil {
		return vm.Undefined, err
	}
	r := math.Inf(1)
	for _, x := range xs {
		if math.IsNaN(x) {
			return vm.NewFloat64(math.NaN()), nil
		}
		r = math.Min(r, x)
	}
	return vm.NewNumber(r), nil
}

func mathHypot(ctx *vm.Context, this vm.Value, args []vm.Value) (vm.Value, error) {
	xs, err := numbers(ctx, args, len(args))
	if err != nil {
		return vm.Undefined, err
	}
	sum := 0.0
	for _, x := range xs {
		if math.IsInf(x, 0) {
			return vm.NewFloat64(math.Inf(1)), nil
		}
		sum += x * x
	}
	return vm.NewNumber(math.Sqrt(sum)), nil
}

func mathRandom(ctx *vm.Context, this vm.Value, args []vm.Value) (vm.Value, error) {
	return vm.NewFloat64(rand.Float64()), nil
}
