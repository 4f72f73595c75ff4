package builtins

import (
	"math"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"bridgejs/pkg/vm"
)

type StringInitializer struct{}

func (s *StringInitializer) Name() string {
	return "String"
}

func (s *StringInitializer) Priority() int {
	return PriorityString
}

func (s *StringInitializer) InitRuntime(rc *RuntimeContext) error {
	ctx := rc.Ctx
	rt := rc.Runtime()
	proto := ctx.GetClassProto(vm.ClassString)
	defer rt.ReleaseObject(proto)

	collators := newCollatorCache()
	defineMethods(ctx, proto, []method{
		{"charAt", 1, stringCharAt},
		{"charCodeAt", 1, stringCharCodeAt},
		{"indexOf", 1, stringIndexOf},
		{"includes", 1, stringIncludes},
		{"startsWith", 1, stringStartsWith},
		{"endsWith", 1, stringEndsWith},
		{"slice", 2, stringSlice},
		{"trim", 0, stringTrim},
		{"repeat", 1, stringRepeat},
		{"toUpperCase", 0, stringCase("toUpperCase", strings.ToUpper)},
		{"toLowerCase", 0, stringCase("toLowerCase", strings.ToLower)},
		{"toLocaleUpperCase", 0, stringLocaleCase("toLocaleUpperCase", cases.Upper)},
		{"toLocaleLowerCase", 0, stringLocaleCase("toLocaleLowerCase", cases.Lower)},
		{"normalize", 0, stringNormalize},
		{"localeCompare", 1, collators.localeCompare},
	})
	return nil
}

func stringCharAt(ctx *vm.Context, this vm.Value, args []vm.Value) (vm.Value, error) {
	s, err := thisString(ctx, this, "charAt")
	if err != nil {
		return vm.Undefined, err
	}
	pos, err := ctx.ToInteger(args[0])
	if err != nil {
		return vm.Undefined, err
	}
	if pos < 0 || pos >= float64(vm.StringLength(s)) {
		return vm.NewString(""), nil
	}
	return vm.NewString(vm.StringSlice(s, int(pos), int(pos)+1)), nil
}

func stringCharCodeAt(ctx *vm.Context, this vm.Value, args []vm.Value) (vm.Value, error) {
	s, err := thisString(ctx, this, "charCodeAt")
	if err != nil {
		return vm.Undefined, err
	}
	pos, err := ctx.ToInteger(args[0])
	if err != nil {
		return vm.Undefined, err
	}
	if pos < 0 || pos >= float64(vm.StringLength(s)) {
		return vm.NewFloat64(math.NaN()), nil
	}
	c, _ := vm.StringCodeUnitAt(s, int(pos))
	return vm.NewInt32(int32(c)), nil
}

// searchArgs coerces the receiver and the search string.
func searchArgs(ctx *vm.Context, this vm.Value, args []vm.Value, name string) (string, string, error) {
	s, err := thisString(ctx, this, name)
	if err != nil {
		return "", "", err
	}
	if p := args[0].AsObject(); p != nil && p.ClassID() != vm.ClassString {
		if rt := ctx.Runtime(); rt.ClassName(p.ClassID()) == "RegExp" {
			return "", "", ctx.ThrowTypeError("First argument to String.prototype.%s must not be a regular expression", name)
		}
	}
	sub, err := ctx.ToString(args[0])
	return s, sub, err
}

func position(ctx *vm.Context, v vm.Value, length int, def int) (int, error) {
	if v.IsUndefined() {
		return def, nil
	}
	f, err := ctx.ToInteger(v)
	if err != nil {
		return 0, err
	}
	switch {
	case f < 0:
		return 0, nil
	case f > float64(length):
		return length, nil
	}
	return int(f), nil
}

func stringIndexOf(ctx *vm.Context, this vm.Value, args []vm.Value) (vm.Value, error) {
	s, sub, err := searchArgs(ctx, this, args, "indexOf")
	if err != nil {
		return vm.Undefined, err
	}
	from, err := position(ctx, arg(args, 1), vm.StringLength(s), 0)
	if err != nil {
		return vm.Undefined, err
	}
	return vm.NewInt32(int32(vm.StringIndexOf(s, sub, from))), nil
}

func stringIncludes(ctx *vm.Context, this vm.Value, args []vm.Value) (vm.Value, error) {
	s, sub, err := searchArgs(ctx, this, args, "includes")
	if err != nil {
		return vm.Undefined, err
	}
	from, err := position(ctx, arg(args, 1), vm.StringLength(s), 0)
	if err != nil {
		return vm.Undefined, err
	}
	return vm.NewBool(vm.StringIndexOf(s, sub, from) >= 0), nil
}

func stringStartsWith(ctx *vm.Context, this vm.Value, args []vm.Value) (vm.Value, error) {
	s, sub, err := searchArgs(ctx, this, args, "startsWith")
	if err != nil {
		return vm.Undefined, err
	}
	n := vm.StringLength(s)
	from, err := position(ctx, arg(args, 1), n, 0)
	if err != nil {
		return vm.Undefined, err
	}
	m := vm.StringLength(sub)
	if from+m > n {
		return vm.False, nil
	}
	return vm.NewBool(vm.StringSlice(s, from, from+m) == sub), nil
}

func stringEndsWith(ctx *vm.Context, this vm.Value, args []vm.Value) (vm.Value, error) {
	s, sub, err := searchArgs(ctx, this, args, "endsWith")
	if err != nil {
		return vm.Undefined, err
	}
	n := vm.StringLength(s)
	end, err := position(ctx, arg(args, 1), n, n)
	if err != nil {
		return vm.Undefined, err
	}
	m := vm.StringLength(sub)
	if end-m < 0 {
		return vm.False, nil
	}
	return vm.NewBool(vm.StringSlice(s, end-m, end) == sub), nil
}

func stringSlice(ctx *vm.Context, this vm.Value, args []vm.Value) (vm.Value, error) {
	s, err := thisString(ctx, this, "slice")
	if err != nil {
		return vm.Undefined, err
	}
	n := int64(vm.StringLength(s))
	start, err := fromIndex(ctx, args[0], n, 0)
	if err != nil {
		return vm.Undefined, err
	}
	end, err := fromIndex(ctx, args[1], n, n)
	if err != nil {
		return vm.Undefined, err
	}
	if start >= end {
		return vm.NewString(""), nil
	}
	return vm.NewString(vm.StringSlice(s, int(start), int(end))), nil
}

func stringTrim(ctx *vm.Context, this vm.Value, args []vm.Value) (vm.Value, error) {
	s, err := thisString(ctx, this, "trim")
	if err != nil {
		return vm.Undefined, err
	}
	return vm.NewString(strings.TrimSpace(strings.Trim(s, "\ufeff"))), nil
}

func stringRepeat(ctx *vm.Context, this vm.Value, args []vm.Value) (vm.Value, error) {
	s, err := thisString(ctx, this, "repeat")
	if err != nil {
		return vm.Undefined, err
	}
	n, err := ctx.ToInteger(args[0])
	if err != nil {
		return vm.Undefined, err
	}
	if n < 0 || n > 1<<28 || float64(len(s))*n > 1<<28 {
		return vm.Undefined, ctx.ThrowRangeError("Invalid count value: %v", n)
	}
	return vm.NewString(strings.Repeat(s, int(n))), nil
}

func stringCase(name string, fn func(string) string) vm.NativeFunc {
	return func(ctx *vm.Context, this vm.Value, args []vm.Value) (vm.Value, error) {
		s, err := thisString(ctx, this, name)
		if err != nil {
			return vm.Undefined, err
		}
		return vm.NewString(fn(s)), nil
	}
}

// localeTag reads an optional BCP 47 tag argument.
func localeTag(ctx *vm.Context, v vm.Value) (language.Tag, error) {
	if v.IsUndefined() {
		return language.Und, nil
	}
	s, err := ctx.ToString(v)
	if err != nil {
		return language.Und, err
	}
	tag, err := language.Parse(s)
	if err != nil {
		return language.Und, ctx.ThrowRangeError("Incorrect locale information provided")
	}
	return tag, nil
}

func stringLocaleCase(name string, mk func(language.Tag, ...cases.Option) cases.Caser) vm.NativeFunc {
	return func(ctx *vm.Context, this vm.Value, args []vm.Value) (vm.Value, error) {
		s, err := thisString(ctx, this, name)
		if err != nil {
			return vm.Undefined, err
		}
		tag, err := localeTag(ctx, arg(args, 0))
		if err != nil {
			return vm.Undefined, err
		}
		return vm.NewString(mk(tag).String(s)), nil
	}
}

func stringNormalize(ctx *vm.Context, this vm.Value, args []vm.Value) (vm.Value, error) {
	s, err := thisString(ctx, this, "normalize")
	if err != nil {
		return vm.Undefined, err
	}
	form := "NFC"
	if f := arg(args, 0); !f.IsUndefined() {
		if form, err = ctx.ToString(f); err != nil {
			return vm.Undefined, err
		}
	}
	var nf norm.Form
	switch form {
	case "NFC":
		nf = norm.NFC
	case "NFD":
		nf = norm.NFD
	case "NFKC":
		nf = norm.NFKC
	case "NFKD":
		nf = norm.NFKD
	default:
		return vm.Undefined, ctx.ThrowRangeError("The normalization form should be one of NFC, NFD, NFKC, NFKD.")
	}
	return vm.NewString(nf.String(s)), nil
}

// collatorCache keeps one collator per locale. Collators are not safe for
// concurrent use, and neither is the context that owns the cache.
type collatorCache struct {
	byTag map[language.Tag]*collate.Collator
}

func newCollatorCache() *collatorCache {
	return &collatorCache{byTag: make(map[language.Tag]*collate.Collator)}
}

func (c *collatorCache) get(tag language.Tag) *collate.Collator {
	col, ok := c.byTag[tag]
	if !ok {
		col = collate.New(tag)
		c.byTag[tag] = col
	}
	return col
}

func (c *collatorCache) localeCompare(ctx *vm.Context, this vm.Value, args []vm.Value) (vm.Value, error) {
	s, err := thisString(ctx, this, "localeCompare")
	if err != nil {
		return vm.Undefined, err
	}
	that, err := ctx.ToString(args[0])
	if err != nil {
		return vm.Undefined, err
	}
	tag, err := localeTag(ctx, arg(args, 1))
	if err != nil {
		return vm.Undefined, err
	}
	return vm.NewInt32(int32(c.get(tag).CompareString(s, that))), nil
}
