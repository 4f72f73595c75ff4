package vm

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind selects one of the native error constructors.
type ErrorKind uint8

const (
	ErrorPlain ErrorKind = iota
	ErrorType
	ErrorReference
	ErrorRange
	ErrorSyntax
	ErrorInternal

	errorKindCount
)

var errorKindAtoms = [errorKindCount]Atom{
	ErrorPlain:     AtomError,
	ErrorType:      AtomTypeError,
	ErrorReference: AtomReferenceError,
	ErrorRange:     AtomRangeError,
	ErrorSyntax:    AtomSyntaxError,
	ErrorInternal:  AtomInternalError,
}

func (k ErrorKind) String() string {
	if k < errorKindCount {
		return predefinedAtomNames[errorKindAtoms[k]]
	}
	return fmt.Sprintf("ErrorKind(%d)", uint8(k))
}

// ErrorKindByName maps a constructor name such as "TypeError" to its kind.
func ErrorKindByName(name string) (ErrorKind, bool) {
	for k := ErrorPlain; k < errorKindCount; k++ {
		if k.String() == name {
			return k, true
		}
	}
	return 0, false
}

// Exception carries a thrown script value across the Go boundary. It owns
// one reference to the value until Release is called or the interpreter
// takes it back to run a catch handler.
type Exception struct {
	rt    *Runtime
	value Value
	msg   string // rendered when the exception is created
}

func (e *Exception) Error() string { return e.msg }

// Value returns the thrown value without transferring ownership.
func (e *Exception) Value() Value { return e.value }

// Uncatchable reports whether the exception was raised by an interrupt.
func (e *Exception) Uncatchable() bool {
	return isUncatchable(e.value)
}

// Stack returns the backtrace attached to an Error value, if any.
func (e *Exception) Stack() string {
	p := e.value.AsObject()
	if p == nil || p.freed {
		return ""
	}
	if v, ok := peekDataProperty(p, AtomStack); ok {
		if s, ok := v.AsString(); ok {
			return s
		}
	}
	return ""
}

// Release drops the exception's reference to the thrown value.
func (e *Exception) Release() {
	if e.rt != nil {
		e.rt.freeValue(e.value)
		e.value = Undefined
		e.rt = nil
	}
}

// InvariantError reports a broken engine invariant: an invalid opcode, an
// unbalanced operand stack or a refcount underflow. The interpreter panics
// with it rather than continuing in an inconsistent state.
type InvariantError struct {
	Msg string
}

func (e *InvariantError) Error() string { return "bridgejs: invariant violated: " + e.Msg }

func invariantf(format string, args ...any) *InvariantError {
	return &InvariantError{Msg: fmt.Sprintf(format, args...)}
}

func isUncatchable(v Value) bool {
	return v.tag == TagObject && v.object().uncatchable
}

// peekDataProperty reads a data property along the prototype chain without
// running getters. The result is borrowed.
func peekDataProperty(p *Object, atom Atom) (Value, bool) {
	for depth := 0; p != nil && depth <= maxProtoChainDepth; depth++ {
		if p.shape == nil {
			return Undefined, false
		}
		if idx, prs := p.shape.findProperty(atom); prs != nil {
			if prs.flags&PropTMask != PropNormal {
				return Undefined, false
			}
			return p.prop[idx].value, true
		}
		p = p.shape.proto
	}
	return Undefined, false
}

// describeValue renders a thrown value without calling into script code.
// Describe renders v as "Name: message" when it is an Error and with
// String otherwise. No script code runs.
func Describe(v Value) string { return describeValue(v) }

func describeValue(v Value) string {
	p := v.AsObject()
	if p == nil || p.freed {
		return v.String()
	}
	if p.classID != ClassError {
		return v.String()
	}
	name, msg := "Error", ""
	if n, ok := peekDataProperty(p, AtomName); ok {
		if s, ok := n.AsString(); ok {
			name = s
		}
	}
	if m, ok := peekDataProperty(p, AtomMessage); ok {
		if s, ok := m.AsString(); ok {
			msg = s
		}
	}
	switch {
	case msg == "":
		return name
	case name == "":
		return msg
	}
	return name + ": " + msg
}

func (ctx *Context) newException(v Value) *Exception {
	return &Exception{rt: ctx.rt, value: v, msg: describeValue(v)}
}

// Throw raises v, taking ownership of it.
func (ctx *Context) Throw(v Value) error {
	return ctx.newException(v)
}

// NewError creates an error object of the given kind.
func (ctx *Context) NewError(kind ErrorKind, msg string) Value {
	proto := ctx.errorProto[ErrorPlain]
	if kind < errorKindCount && ctx.errorProto[kind] != nil {
		proto = ctx.errorProto[kind]
	}
	p := ctx.newObjectProtoClass(proto, ClassError)
	if msg != "" {
		ctx.DefinePropertyValue(p, AtomMessage, newStringValue(msg), PropWritable|PropConfigurable)
	}
	return objValue(p)
}

// ThrowError raises a new error of the given kind.
func (ctx *Context) ThrowError(kind ErrorKind, format string, args ...any) error {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	return ctx.Throw(ctx.NewError(kind, msg))
}

func (ctx *Context) ThrowTypeError(format string, args ...any) error {
	return ctx.ThrowError(ErrorType, format, args...)
}

func (ctx *Context) ThrowReferenceError(format string, args ...any) error {
	return ctx.ThrowError(ErrorReference, format, args...)
}

func (ctx *Context) ThrowRangeError(format string, args ...any) error {
	return ctx.ThrowError(ErrorRange, format, args...)
}

func (ctx *Context) ThrowSyntaxError(format string, args ...any) error {
	return ctx.ThrowError(ErrorSyntax, format, args...)
}

func (ctx *Context) ThrowInternalError(format string, args ...any) error {
	return ctx.ThrowError(ErrorInternal, format, args...)
}

// throwUncatchable raises an InternalError that skips every catch handler.
func (ctx *Context) throwUncatchable(msg string) error {
	v := ctx.NewError(ErrorInternal, msg)
	v.object().uncatchable = true
	return ctx.Throw(v)
}

// ThrowUncatchable raises an InternalError that no script handler can
// catch, such as a host request to stop the program.
func (ctx *Context) ThrowUncatchable(msg string) error { return ctx.throwUncatchable(msg) }

// isStrict reports whether the innermost running bytecode is strict.
func (ctx *Context) isStrict() bool {
	sf := ctx.rt.currentFrame
	return sf != nil && sf.b != nil && sf.b.Strict
}

func (ctx *Context) throwTypeErrorOrFalse(flags PropFlags, format string, args ...any) (bool, error) {
	if flags&PropThrow != 0 || (flags&PropThrowStrict != 0 && ctx.isStrict()) {
		return false, ctx.ThrowTypeError(format, args...)
	}
	return false, nil
}

func (ctx *Context) throwUninitialized(atom Atom) error {
	return ctx.ThrowReferenceError("%s is not initialized", ctx.rt.AtomString(atom))
}

// exceptionValue takes ownership of the value carried by err. Go errors
// that did not come from a throw surface as InternalError.
func (ctx *Context) exceptionValue(err error) Value {
	var ex *Exception
	if errors.As(err, &ex) && ex.rt == ctx.rt {
		v := ex.value
		ex.value = Undefined
		ex.rt = nil
		return v
	}
	return ctx.NewError(ErrorInternal, err.Error())
}

// attachBacktrace records the frames between sf and the outermost call as
// the stack property of an Error value that does not have one yet.
func (ctx *Context) attachBacktrace(v Value, sf *stackFrame) {
	p := v.AsObject()
	if p == nil || p.classID != ClassError || p.freed {
		return
	}
	if _, prs := p.shape.findProperty(AtomStack); prs != nil {
		return
	}
	var sb strings.Builder
	for f := sf; f != nil; f = f.prev {
		if f.b == nil {
			continue
		}
		name := f.b.Name
		if name == "" {
			name = "<anonymous>"
		}
		fmt.Fprintf(&sb, "    at %s", name)
		if line := f.b.lineForPC(f.curPC); line > 0 {
			file := f.b.FileName
			if file == "" {
				file = "<input>"
			}
			fmt.Fprintf(&sb, " (%s:%d)", file, line)
		}
		sb.WriteByte('\n')
	}
	ctx.DefinePropertyValue(p, AtomStack, newStringValue(sb.String()), PropWritable|PropConfigurable)
}

// errorConstructor builds new Error(message, {cause}) for every kind.
func errorConstructor(kind ErrorKind) NativeCtor {
	return func(ctx *Context, newTarget Value, args []Value) (Value, error) {
		rt := ctx.rt
		proto, err := ctx.prototypeFromNewTarget(newTarget, ctx.errorProto[kind])
		if err != nil {
			return Undefined, err
		}
		p := ctx.newObjectProtoClass(proto, ClassError)
		rt.freeObjectRef(proto)
		if m := argOr(args, 0); !m.IsUndefined() {
			msg, err := ctx.ToStringValue(m)
			if err != nil {
				rt.freeObjectRef(p)
				return Undefined, err
			}
			ctx.DefinePropertyValue(p, AtomMessage, msg, PropWritable|PropConfigurable)
		}
		if opts := argOr(args, 1).AsObject(); opts != nil {
			has, err := ctx.HasProperty(opts, AtomCause)
			if err == nil && has {
				var cause Value
				if cause, err = ctx.GetProperty(objValue(opts), AtomCause); err == nil {
					ctx.DefinePropertyValue(p, AtomCause, cause, PropWritable|PropConfigurable)
				}
			}
			if err != nil {
				rt.freeObjectRef(p)
				return Undefined, err
			}
		}
		return objValue(p), nil
	}
}

// errorCallAsConstructor lets Error(...) behave like new Error(...).
func errorCallAsConstructor(kind ErrorKind) NativeFunc {
	ctor := errorConstructor(kind)
	return func(ctx *Context, this Value, args []Value) (Value, error) {
		return ctor(ctx, Undefined, args)
	}
}

func errorToString(ctx *Context, this Value, args []Value) (Value, error) {
	if this.tag != TagObject {
		return Undefined, ctx.ThrowTypeError("Error.prototype.toString called on a non-object")
	}
	name, msg := "Error", ""
	v, err := ctx.GetProperty(this, AtomName)
	if err != nil {
		return Undefined, err
	}
	if !v.IsUndefined() {
		if name, err = ctx.ToString(v); err != nil {
			ctx.rt.freeValue(v)
			return Undefined, err
		}
	}
	ctx.rt.freeValue(v)
	if v, err = ctx.GetProperty(this, AtomMessage); err != nil {
		return Undefined, err
	}
	if !v.IsUndefined() {
		if msg, err = ctx.ToString(v); err != nil {
			ctx.rt.freeValue(v)
			return Undefined, err
		}
	}
	ctx.rt.freeValue(v)
	switch {
	case msg == "":
		return newStringValue(name), nil
	case name == "":
		return newStringValue(msg), nil
	}
	return newStringValue(name + ": " + msg), nil
}
