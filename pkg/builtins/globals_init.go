package builtins

import (
	"math"
	"strconv"
	"strings"

	"bridgejs/pkg/vm"
)

type GlobalsInitializer struct{}

func (g *GlobalsInitializer) Name() string {
	return "globals"
}

func (g *GlobalsInitializer) Priority() int {
	return PriorityGlobals
}

func (g *GlobalsInitializer) InitRuntime(rc *RuntimeContext) error {
	ctx := rc.Ctx
	for _, m := range []method{
		{"parseInt", 2, parseIntGlobal},
		{"parseFloat", 1, parseFloatGlobal},
		{"isNaN", 1, isNaNGlobal},
		{"isFinite", 1, isFiniteGlobal},
	} {
		if err := rc.DefineGlobal(m.name, ctx.NewFunction(m.fn, m.name, m.length)); err != nil {
			return err
		}
	}
	return nil
}

func parseIntGlobal(ctx *vm.Context, this vm.Value, args []vm.Value) (vm.Value, error) {
	s, err := ctx.ToString(args[0])
	if err != nil {
		return vm.Undefined, err
	}
	radix, err := ctx.ToInt32(args[1])
	if err != nil {
		return vm.Undefined, err
	}
	return vm.NewNumber(parseInt(s, int(radix))), nil
}

// parseInt parses the longest prefix of digits valid in radix; 0 means
// decimal unless the text starts with 0x.
func parseInt(s string, radix int) float64 {
	s = strings.TrimSpace(s)
	sign := 1.0
	if s != "" && (s[0] == '+' || s[0] == '-') {
		if s[0] == '-' {
			sign = -1
		}
		s = s[1:]
	}
	if radix == 0 || radix == 16 {
		if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
			s = s[2:]
			radix = 16
		}
	}
	if radix == 0 {
		radix = 10
	}
	if radix < 2 || radix > 36 {
		return math.NaN()
	}
	n := 0
	for n < len(s) && digitValue(s[n]) < radix {
		n++
	}
	if n == 0 {
		return math.NaN()
	}
	if v, err := strconv.ParseInt(s[:n], radix, 64); err == nil {
		return sign * float64(v)
	}
	// too wide for int64, accumulate in floating point
	f := 0.0
	for i := 0; i < n; i++ {
		f = f*float64(radix) + float64(digitValue(s[i]))
	}
	return sign * f
}

func digitValue(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'a' && c <= 'z':
		return int(c-'a') + 10
	case c >= 'A' && c <= 'Z':
		return int(c-'A') + 10
	}
	return 36
}

func parseFloatGlobal(ctx *vm.Context, this vm.Value, args []vm.Value) (vm.Value, error) {
	s, err := ctx.ToString(args[0])
	if err != nil {
		return vm.Undefined, err
	}
	return vm.NewNumber(parseFloatPrefix(strings.TrimSpace(s))), nil
}

// parseFloatPrefix parses the longest prefix of s that is a decimal literal.
func parseFloatPrefix(s string) float64 {
	body := strings.TrimLeft(s, "+-")
	if strings.HasPrefix(body, "Infinity") {
		if strings.HasPrefix(s, "-") {
			return math.Inf(-1)
		}
		return math.Inf(1)
	}
	end, digits, dot, exp := 0, false, false, false
	if end < len(s) && (s[end] == '+' || s[end] == '-') {
		end++
	}
	best := -1
	for end < len(s) {
		c := s[end]
		switch {
		case c >= '0' && c <= '9':
			digits = true
			end++
			best = end
			continue
		case c == '.' && !dot && !exp:
			dot = true
			end++
			continue
		case (c == 'e' || c == 'E') && digits && !exp:
			exp = true
			end++
			if end < len(s) && (s[end] == '+' || s[end] == '-') {
				end++
			}
			continue
		}
		break
	}
	if best < 0 {
		return math.NaN()
	}
	f, err := strconv.ParseFloat(s[:best], 64)
	if err != nil {
		return math.NaN()
	}
	return f
}

func isNaNGlobal(ctx *vm.Context, this vm.Value, args []vm.Value) (vm.Value, error) {
	f, err := ctx.ToNumber(args[0])
	if err != nil {
		return vm.Undefined, err
	}
	return vm.NewBool(math.IsNaN(f)), nil
}

func isFiniteGlobal(ctx *vm.Context, this vm.Value, args []vm.Value) (vm.Value, error) {
	f, err := ctx.ToNumber(args[0])
	if err != nil {
		return vm.Undefined, err
	}
	return vm.NewBool(!math.IsNaN(f) && !math.IsInf(f, 0)), nil
}
