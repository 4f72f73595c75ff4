package builtins

import (
	"strings"

	"github.com/dlclark/regexp2"

	"bridgejs/pkg/vm"
)

type RegExpInitializer struct{}

func (r *RegExpInitializer) Name() string {
	return "RegExp"
}

func (r *RegExpInitializer) Priority() int {
	return PriorityRegExp
}

// regexpData is the payload of a RegExp instance.
type regexpData struct {
	source string
	flags  string // canonical order
	re     *regexp2.Regexp
}

func (d *regexpData) has(flag byte) bool { return strings.IndexByte(d.flags, flag) >= 0 }

const regexpFlagOrder = "dgimsuy"

func (r *RegExpInitializer) InitRuntime(rc *RuntimeContext) error {
	ctx := rc.Ctx
	rt := rc.Runtime()
	id, err := rc.hostClass(vm.ClassDef{Name: "RegExp"})
	if err != nil {
		return err
	}
	re := &regexpClass{id: id}

	proto := ctx.NewObject()
	po := proto.AsObject()
	defineMethods(ctx, po, []method{
		{"exec", 1, re.exec},
		{"test", 1, re.test},
		{"toString", 0, re.toString},
	})
	ctx.DefineGetter(po, "source", re.source)
	ctx.DefineGetter(po, "flags", re.flagsGetter)
	for _, f := range []struct {
		name string
		flag byte
	}{
		{"hasIndices", 'd'},
		{"global", 'g'},
		{"ignoreCase", 'i'},
		{"multiline", 'm'},
		{"dotAll", 's'},
		{"unicode", 'u'},
		{"sticky", 'y'},
	} {
		ctx.DefineGetter(po, f.name, re.flagGetter(f.flag))
	}
	ctx.DefinePropertyValue(po, vm.AtomSymbolToStringTag, vm.NewString("RegExp"), vm.PropConfigurable)
	ctx.SetClassProto(id, proto.Dup())

	ctor := ctx.NewConstructor("RegExp", 2, re.call, re.construct)
	ctx.LinkConstructor(ctor, proto)
	rt.FreeValue(proto)
	return rc.DefineGlobal("RegExp", ctor)
}

type regexpClass struct {
	id vm.ClassID
}

func (c *regexpClass) data(v vm.Value) *regexpData {
	p := v.AsObject()
	if p == nil || p.ClassID() != c.id {
		return nil
	}
	d, _ := p.Opaque().(*regexpData)
	return d
}

func (c *regexpClass) thisData(ctx *vm.Context, this vm.Value, method string) (*regexpData, error) {
	d := c.data(this)
	if d == nil {
		return nil, ctx.ThrowTypeError("RegExp.prototype.%s called on an incompatible receiver", method)
	}
	return d, nil
}

// call handles RegExp(...) without new: an existing RegExp with no new
// flags is returned as is.
func (c *regexpClass) call(ctx *vm.Context, this vm.Value, args []vm.Value) (vm.Value, error) {
	if c.data(args[0]) != nil && args[1].IsUndefined() {
		return args[0].Dup(), nil
	}
	return c.construct(ctx, vm.Undefined, args)
}

func (c *regexpClass) construct(ctx *vm.Context, newTarget vm.Value, args []vm.Value) (vm.Value, error) {
	var source, flags string
	var err error
	if d := c.data(args[0]); d != nil {
		source, flags = d.source, d.flags
	} else if !args[0].IsUndefined() {
		if source, err = ctx.ToString(args[0]); err != nil {
			return vm.Undefined, err
		}
	}
	if !args[1].IsUndefined() {
		if flags, err = ctx.ToString(args[1]); err != nil {
			return vm.Undefined, err
		}
	}
	d, err := compileRegExp(ctx, source, flags)
	if err != nil {
		return vm.Undefined, err
	}
	return c.newInstance(ctx, d)
}

func (c *regexpClass) newInstance(ctx *vm.Context, d *regexpData) (vm.Value, error) {
	obj, err := ctx.NewObjectClass(c.id, d)
	if err != nil {
		return vm.Undefined, err
	}
	ctx.DefinePropertyValue(obj.AsObject(), vm.AtomLastIndex, vm.NewInt32(0), vm.PropWritable)
	return obj, nil
}

// compileRegExp validates flags and compiles source with the ECMAScript
// dialect of regexp2. The s flag needs Singleline, which regexp2 does not
// combine with ECMAScript mode.
func compileRegExp(ctx *vm.Context, source, flags string) (*regexpData, error) {
	var seen [128]bool
	for i := 0; i < len(flags); i++ {
		f := flags[i]
		if f >= 128 || strings.IndexByte(regexpFlagOrder, f) < 0 || seen[f] {
			return nil, ctx.ThrowSyntaxError("Invalid regular expression flags '%s'", flags)
		}
		seen[f] = true
	}
	var canonical strings.Builder
	for i := 0; i < len(regexpFlagOrder); i++ {
		if seen[regexpFlagOrder[i]] {
			canonical.WriteByte(regexpFlagOrder[i])
		}
	}

	var opts regexp2.RegexOptions = regexp2.ECMAScript
	if seen['s'] {
		opts = regexp2.Singleline
	}
	if seen['i'] {
		opts |= regexp2.IgnoreCase
	}
	if seen['m'] {
		opts |= regexp2.Multiline
	}
	re, err := regexp2.Compile(source, opts)
	if err != nil {
		return nil, ctx.ThrowSyntaxError("Invalid regular expression: /%s/: %v", source, err)
	}
	if source == "" {
		source = "(?:)"
	}
	return &regexpData{source: source, flags: canonical.String(), re: re}, nil
}

func (c *regexpClass) source(ctx *vm.Context, this vm.Value, args []vm.Value) (vm.Value, error) {
	if d := c.data(this); d != nil {
		return vm.NewString(d.source), nil
	}
	if this.IsObject() {
		return vm.NewString("(?:)"), nil
	}
	return vm.Undefined, ctx.ThrowTypeError("RegExp.prototype.source getter called on non-object")
}

func (c *regexpClass) flagsGetter(ctx *vm.Context, this vm.Value, args []vm.Value) (vm.Value, error) {
	if d := c.data(this); d != nil {
		return vm.NewString(d.flags), nil
	}
	if this.IsObject() {
		return vm.NewString(""), nil
	}
	return vm.Undefined, ctx.ThrowTypeError("RegExp.prototype.flags getter called on non-object")
}

func (c *regexpClass) flagGetter(flag byte) vm.NativeFunc {
	return func(ctx *vm.Context, this vm.Value, args []vm.Value) (vm.Value, error) {
		if d := c.data(this); d != nil {
			return vm.NewBool(d.has(flag)), nil
		}
		return vm.Undefined, nil
	}
}

func (c *regexpClass) toString(ctx *vm.Context, this vm.Value, args []vm.Value) (vm.Value, error) {
	d, err := c.thisData(ctx, this, "toString")
	if err != nil {
		return vm.Undefined, err
	}
	return vm.NewString("/" + d.source + "/" + d.flags), nil
}

// match runs the expression against the argument honoring lastIndex. It
// returns nil when there is no match.
func (c *regexpClass) match(ctx *vm.Context, this vm.Value, args []vm.Value, method string) (*regexp2.Match, string, error) {
	rt := ctx.Runtime()
	d, err := c.thisData(ctx, this, method)
	if err != nil {
		return nil, "", err
	}
	input, err := ctx.ToString(args[0])
	if err != nil {
		return nil, "", err
	}
	global, sticky := d.has('g'), d.has('y')
	start := 0
	if global || sticky {
		li, err := ctx.GetProperty(this, vm.AtomLastIndex)
		if err != nil {
			return nil, "", err
		}
		f, err := ctx.ToInteger(li)
		rt.FreeValue(li)
		if err != nil {
			return nil, "", err
		}
		if f < 0 {
			f = 0
		}
		if f > float64(vm.StringLength(input)) {
			return nil, input, resetLastIndex(ctx, this)
		}
		start = int(f)
	}
	runeStart := runeOffset(input, start)
	m, err := d.re.FindStringMatchStartingAt(input, runeStart)
	if err != nil {
		return nil, "", ctx.ThrowInternalError("regular expression failed: %v", err)
	}
	if m != nil && sticky && m.Index != runeStart {
		m = nil
	}
	if m == nil {
		if global || sticky {
			return nil, input, resetLastIndex(ctx, this)
		}
		return nil, input, nil
	}
	if global || sticky {
		end := utf16Offset(input, m.Index+m.Length)
		if err := ctx.SetProperty(this, vm.AtomLastIndex, vm.NewInt32(int32(end))); err != nil {
			return nil, "", err
		}
	}
	return m, input, nil
}

func resetLastIndex(ctx *vm.Context, this vm.Value) error {
	return ctx.SetProperty(this, vm.AtomLastIndex, vm.NewInt32(0))
}

func (c *regexpClass) test(ctx *vm.Context, this vm.Value, args []vm.Value) (vm.Value, error) {
	m, _, err := c.match(ctx, this, args, "test")
	if err != nil {
		return vm.Undefined, err
	}
	return vm.NewBool(m != nil), nil
}

// exec returns the match array: the text of every group, then index,
// input and groups properties.
func (c *regexpClass) exec(ctx *vm.Context, this vm.Value, args []vm.Value) (vm.Value, error) {
	rt := ctx.Runtime()
	m, input, err := c.match(ctx, this, args, "exec")
	if err != nil {
		return vm.Undefined, err
	}
	if m == nil {
		return vm.Null, nil
	}
	groups := m.Groups()
	vals := make([]vm.Value, len(groups))
	named := vm.Undefined
	for i, g := range groups {
		v := vm.Undefined
		if len(g.Captures) > 0 {
			v = vm.NewString(g.String())
		}
		vals[i] = v
		if i > 0 && !isNumericName(g.Name) {
			if named.IsUndefined() {
				named = ctx.NewObjectProto(vm.Null)
			}
			ctx.SetPropertyStr(named, g.Name, v.Dup())
		}
	}
	out := ctx.NewArrayFrom(vals)
	set := func(name string, v vm.Value) error {
		if err := ctx.SetPropertyStr(out, name, v); err != nil {
			rt.FreeValue(out)
			return err
		}
		return nil
	}
	if err := set("index", vm.NewInt32(int32(utf16Offset(input, m.Index)))); err != nil {
		rt.FreeValue(named)
		return vm.Undefined, err
	}
	if err := set("input", vm.NewString(input)); err != nil {
		rt.FreeValue(named)
		return vm.Undefined, err
	}
	if err := set("groups", named); err != nil {
		return vm.Undefined, err
	}
	return out, nil
}

// isNumericName reports whether a regexp2 group name is a position rather
// than a (?<name>...) label.
func isNumericName(name string) bool {
	if name == "" {
		return true
	}
	for i := 0; i < len(name); i++ {
		if name[i] < '0' || name[i] > '9' {
			return false
		}
	}
	return true
}

// regexp2 indexes input by rune; script strings index by UTF-16 unit.

func runeOffset(s string, units int) int {
	u, n := 0, 0
	for _, r := range s {
		if u >= units {
			break
		}
		if r > 0xFFFF {
			u += 2
		} else {
			u++
		}
		n++
	}
	return n
}

func utf16Offset(s string, runes int) int {
	u, n := 0, 0
	for _, r := range s {
		if n >= runes {
			break
		}
		if r > 0xFFFF {
			u += 2
		} else {
			u++
		}
		n++
	}
	return u
}
