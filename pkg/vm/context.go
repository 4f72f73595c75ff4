package vm

import (
	"math"
	"strconv"
	"strings"
)

// Context is a realm: a global object and the intrinsic prototypes and
// constructors. Several contexts can share one runtime and exchange values.
type Context struct {
	rt *Runtime

	globalObj     *Object
	objectProto   *Object
	functionProto *Object
	arrayProto    *Object
	stringProto   *Object
	numberProto   *Object
	booleanProto  *Object
	symbolProto   *Object
	errorProto    [errorKindCount]*Object

	iteratorProto      *Object
	arrayIteratorProto *Object
	generatorProto     *Object
	promiseProto       *Object
	promiseCtor        *Object
	arrayValuesFn      *Object

	classProto []*Object
	arrayShape *Shape

	opaque any
	closed bool
}

// NewContext creates a realm with the core intrinsics installed.
func (rt *Runtime) NewContext() *Context {
	ctx := &Context{rt: rt, classProto: make([]*Object, len(rt.classes))}
	ctx.initIntrinsics()
	rt.contexts = append(rt.contexts, ctx)
	return ctx
}

// Runtime returns the runtime the context belongs to.
func (ctx *Context) Runtime() *Runtime { return ctx.rt }

// Opaque returns the host value attached with SetOpaque.
func (ctx *Context) Opaque() any { return ctx.opaque }

// SetOpaque attaches a host value to the context.
func (ctx *Context) SetOpaque(v any) { ctx.opaque = v }

// GlobalObject returns a new reference to the global object.
func (ctx *Context) GlobalObject() Value { return ctx.globalObj.Value() }

// Close drops the context's references to its intrinsics and collects
// the cycles they formed.
func (ctx *Context) Close() {
	if ctx.closed {
		return
	}
	ctx.closed = true
	rt := ctx.rt
	for i, c := range rt.contexts {
		if c == ctx {
			rt.contexts = append(rt.contexts[:i], rt.contexts[i+1:]...)
			break
		}
	}
	objs := []**Object{
		&ctx.globalObj, &ctx.objectProto, &ctx.functionProto, &ctx.arrayProto,
		&ctx.stringProto, &ctx.numberProto, &ctx.booleanProto, &ctx.symbolProto,
		&ctx.iteratorProto, &ctx.arrayIteratorProto, &ctx.generatorProto,
		&ctx.promiseProto, &ctx.promiseCtor, &ctx.arrayValuesFn,
	}
	for i := range ctx.errorProto {
		objs = append(objs, &ctx.errorProto[i])
	}
	for i := range ctx.classProto {
		objs = append(objs, &ctx.classProto[i])
	}
	for _, pp := range objs {
		p := *pp
		*pp = nil
		rt.freeObjectRef(p)
	}
	if ctx.arrayShape != nil {
		sh := ctx.arrayShape
		ctx.arrayShape = nil
		rt.freeShape(sh)
	}
	rt.RunGC()
}

func (ctx *Context) initIntrinsics() {
	rt := ctx.rt
	ctx.objectProto = ctx.newObjectProtoClass(nil, ClassObject)

	fp := ctx.newObjectProtoClass(ctx.objectProto, ClassCFunction)
	fp.cfn = &nativeFunction{fn: functionProtoCall, realm: ctx}
	ctx.functionProto = fp
	ctx.defineFunctionProps(fp, "", 0)

	ctx.globalObj = ctx.newObjectProtoClass(ctx.objectProto, ClassObject)
	ctx.DefinePropertyValue(ctx.globalObj, AtomGlobalThis, ctx.globalObj.Value(), PropWritable|PropConfigurable)
	ctx.DefinePropertyValue(ctx.globalObj, AtomUndefined, Undefined, 0)
	ctx.DefinePropertyValue(ctx.globalObj, rt.NewAtom("NaN"), NewFloat64(math.NaN()), 0)
	ctx.DefinePropertyValue(ctx.globalObj, rt.NewAtom("Infinity"), NewFloat64(math.Inf(1)), 0)

	ctx.initObject()
	ctx.initFunction()

	ctx.arrayProto = ctx.newObjectProtoClass(ctx.objectProto, ClassObject)
	ctx.classProto[ClassArray] = ctx.arrayProto.dup()
	ctx.classProto[ClassArguments] = ctx.objectProto.dup()
	sh := rt.newShape(ctx.arrayProto, shapeInitialHashSize, 1)
	rt.addShapeProperty(sh, AtomLength, PropWritable|PropLength)
	ctx.arrayShape = sh
	ctx.initArray()

	ctx.initErrors()
	ctx.initPrimitiveWrappers()

	ctx.iteratorProto = ctx.newPlainObject()
	ctx.arrayIteratorProto = ctx.newObjectProtoClass(ctx.iteratorProto, ClassObject)
	ctx.generatorProto = ctx.newObjectProtoClass(ctx.iteratorProto, ClassObject)
	ctx.initGeneratorProto()
	ctx.initArrayIterator()

	ctx.promiseProto = ctx.newPlainObject()
	ctx.initPromise()

	ctx.initTypedArrays()

	proxyCtor := ctx.newConstructor("Proxy", 2, proxyCallWithoutNew, proxyConstructor)
	ctx.defineFunc(proxyCtor, "revocable", proxyRevocable, 2)
	ctx.defineGlobal("Proxy", objValue(proxyCtor))
}

// Object

func objectConstructor(ctx *Context, newTarget Value, args []Value) (Value, error) {
	rt := ctx.rt
	if newTarget.tag == TagObject && !sameValue(newTarget, objValue(ctx.objectCtorObject())) {
		proto, err := ctx.prototypeFromNewTarget(newTarget, ctx.objectProto)
		if err != nil {
			return Undefined, err
		}
		p := ctx.newObjectProtoClass(proto, ClassObject)
		rt.freeObjectRef(proto)
		return objValue(p), nil
	}
	return objectCall(ctx, Undefined, args)
}

func objectCall(ctx *Context, this Value, args []Value) (Value, error) {
	v := argOr(args, 0)
	if v.IsUndefinedOrNull() {
		return objValue(ctx.newPlainObject()), nil
	}
	return ctx.ToObject(v)
}

// objectCtorObject returns the Object constructor without a new reference.
func (ctx *Context) objectCtorObject() *Object {
	v, ok := peekDataProperty(ctx.objectProto, AtomConstructor)
	if !ok {
		return nil
	}
	return v.AsObject()
}

func objectProtoToString(ctx *Context, this Value, args []Value) (Value, error) {
	rt := ctx.rt
	switch this.tag {
	case TagUndefined:
		return newStringValue("[object Undefined]"), nil
	case TagNull:
		return newStringValue("[object Null]"), nil
	}
	ov, err := ctx.ToObject(this)
	if err != nil {
		return Undefined, err
	}
	defer rt.freeValue(ov)
	p := ov.object()
	tag := "Object"
	switch {
	case p.classID == ClassArray:
		tag = "Array"
	case p.classID == ClassArguments:
		tag = "Arguments"
	case p.isFunction():
		tag = "Function"
	case p.classID == ClassError:
		tag = "Error"
	case p.classID == ClassBoolean:
		tag = "Boolean"
	case p.classID == ClassNumber:
		tag = "Number"
	case p.classID == ClassString:
		tag = "String"
	}
	tv, err := ctx.GetProperty(ov, AtomSymbolToStringTag)
	if err != nil {
		return Undefined, err
	}
	if s, ok := tv.AsString(); ok {
		tag = s
	}
	rt.freeValue(tv)
	return newStringValue("[object " + tag + "]"), nil
}

func objectProtoValueOf(ctx *Context, this Value, args []Value) (Value, error) {
	return ctx.ToObject(this)
}

func objectProtoHasOwnProperty(ctx *Context, this Value, args []Value) (Value, error) {
	rt := ctx.rt
	atom, err := ctx.valueToAtom(args[0])
	if err != nil {
		return Undefined, err
	}
	ov, err := ctx.ToObject(this)
	if err != nil {
		return Undefined, err
	}
	defer rt.freeValue(ov)
	ok, err := ctx.HasOwnProperty(ov.object(), atom)
	if err != nil {
		return Undefined, err
	}
	return NewBool(ok), nil
}

func objectProtoIsPrototypeOf(ctx *Context, this Value, args []Value) (Value, error) {
	v := args[0]
	if v.tag != TagObject || this.tag != TagObject {
		return False, nil
	}
	target := this.object()
	p := v.object()
	for depth := 0; ; depth++ {
		if depth > maxProtoChainDepth {
			return Undefined, ctx.ThrowInternalError("prototype chain too deep")
		}
		p = p.shape.proto
		if p == nil {
			return False, nil
		}
		if p == target {
			return True, nil
		}
	}
}

func (ctx *Context) initObject() {
	op := ctx.objectProto
	ctor := ctx.newConstructor("Object", 1, objectCall, objectConstructor)
	ctx.setConstructor(ctor, op)
	ctx.defineFunc(op, "toString", objectProtoToString, 0)
	ctx.defineFunc(op, "valueOf", objectProtoValueOf, 0)
	ctx.defineFunc(op, "hasOwnProperty", objectProtoHasOwnProperty, 1)
	ctx.defineFunc(op, "isPrototypeOf", objectProtoIsPrototypeOf, 1)
	ctx.defineGlobal("Object", objValue(ctor))
}

// Function

func functionProtoCall(ctx *Context, this Value, args []Value) (Value, error) {
	return Undefined, nil
}

func functionConstructor(ctx *Context, this Value, args []Value) (Value, error) {
	return Undefined, ctx.ThrowSyntaxError("Function constructor needs a compiler; load bytecode instead")
}

func functionCall(ctx *Context, this Value, args []Value) (Value, error) {
	var rest []Value
	if len(args) > 1 {
		rest = args[1:]
	}
	return ctx.callInternal(this, argOr(args, 0), Undefined, rest, 0)
}

func functionApply(ctx *Context, this Value, args []Value) (Value, error) {
	list, err := ctx.buildArgList(args[1])
	if err != nil {
		return Undefined, err
	}
	ret, err := ctx.callInternal(this, args[0], Undefined, list, 0)
	for _, v := range list {
		ctx.rt.freeValue(v)
	}
	return ret, err
}

func functionBind(ctx *Context, this Value, args []Value) (Value, error) {
	var rest []Value
	if len(args) > 1 {
		rest = args[1:]
	}
	return ctx.BindFunction(this, argOr(args, 0), rest)
}

func functionToString(ctx *Context, this Value, args []Value) (Value, error) {
	if !ctx.rt.isCallable(this) {
		return Undefined, ctx.ThrowTypeError("Function.prototype.toString requires a function")
	}
	name := ""
	if v, ok := peekDataProperty(this.object(), AtomName); ok {
		name, _ = v.AsString()
	}
	return newStringValue("function " + name + "() { [native code] }"), nil
}

func functionHasInstance(ctx *Context, this Value, args []Value) (Value, error) {
	if !ctx.rt.isCallable(this) {
		return False, nil
	}
	ok, err := ctx.ordinaryHasInstance(this, args[0])
	if err != nil {
		return Undefined, err
	}
	return NewBool(ok), nil
}

func (ctx *Context) initFunction() {
	fp := ctx.functionProto
	ctor := ctx.newConstructor("Function", 1, functionConstructor, func(ctx *Context, newTarget Value, args []Value) (Value, error) {
		return functionConstructor(ctx, Undefined, args)
	})
	ctx.setConstructor(ctor, fp)
	ctx.defineFunc(fp, "call", functionCall, 1)
	ctx.defineFunc(fp, "apply", functionApply, 2)
	ctx.defineFunc(fp, "bind", functionBind, 1)
	ctx.defineFunc(fp, "toString", functionToString, 0)
	ctx.DefinePropertyValue(fp, AtomSymbolHasInstance, ctx.NewFunction(functionHasInstance, "[Symbol.hasInstance]", 1), 0)
	ctx.defineGlobal("Function", objValue(ctor))
}

// Array

func arrayConstructor(ctx *Context, newTarget Value, args []Value) (Value, error) {
	rt := ctx.rt
	p := ctx.newArrayObject()
	if newTarget.tag == TagObject {
		proto, err := ctx.prototypeFromNewTarget(newTarget, ctx.arrayProto)
		if err != nil {
			rt.freeObjectRef(p)
			return Undefined, err
		}
		if proto != ctx.arrayProto {
			ctx.SetPrototype(p, objValue(proto), 0)
		}
		rt.freeObjectRef(proto)
	}
	if len(args) == 1 && args[0].IsNumber() {
		n := args[0].Number()
		if n < 0 || n != float64(uint32(n)) {
			rt.freeObjectRef(p)
			return Undefined, ctx.ThrowRangeError("invalid array length")
		}
		if _, err := ctx.setArrayLength(p, args[0], PropThrow); err != nil {
			rt.freeObjectRef(p)
			return Undefined, err
		}
		return objValue(p), nil
	}
	for _, a := range args {
		ctx.addFastArrayElement(p, dupValue(a))
	}
	return objValue(p), nil
}

func arrayCall(ctx *Context, this Value, args []Value) (Value, error) {
	return arrayConstructor(ctx, Undefined, args)
}

func (ctx *Context) initArray() {
	ctor := ctx.newConstructor("Array", 1, arrayCall, arrayConstructor)
	ctx.setConstructor(ctor, ctx.arrayProto)
	ctx.defineGlobal("Array", objValue(ctor))
}

// Errors

func (ctx *Context) initErrors() {
	base := ctx.newPlainObject()
	ctx.errorProto[ErrorPlain] = base
	ctx.defineFunc(base, "toString", errorToString, 0)
	ctx.classProto[ClassError] = base.dup()
	var baseCtor *Object
	for kind := ErrorPlain; kind < errorKindCount; kind++ {
		proto := base
		if kind != ErrorPlain {
			proto = ctx.newObjectProtoClass(base, ClassObject)
			ctx.errorProto[kind] = proto
		}
		name := kind.String()
		ctx.DefinePropertyValue(proto, AtomName, newStringValue(name), PropWritable|PropConfigurable)
		ctx.DefinePropertyValue(proto, AtomMessage, newStringValue(""), PropWritable|PropConfigurable)
		ctor := ctx.newConstructor(name, 1, errorCallAsConstructor(kind), errorConstructor(kind))
		ctx.setConstructor(ctor, proto)
		if baseCtor == nil {
			baseCtor = ctor
		} else {
			ctx.SetPrototype(ctor, objValue(baseCtor), 0)
		}
		ctx.DefinePropertyValue(ctx.globalObj, errorKindAtoms[kind], objValue(ctor), PropWritable|PropConfigurable)
	}
}

// Primitive wrappers

func thisPrimitive(ctx *Context, this Value, tag Tag, classID ClassID, name string) (Value, error) {
	if this.tag == tag || (tag == TagInt && this.tag == TagFloat64) {
		return this, nil
	}
	if p := this.AsObject(); p != nil && p.classID == classID {
		return p.objectData, nil
	}
	return Undefined, ctx.ThrowTypeError("%s.prototype method called on an incompatible receiver", name)
}

func (ctx *Context) wrapPrimitive(newTarget Value, v Value, classID ClassID, def *Object) (Value, error) {
	rt := ctx.rt
	proto, err := ctx.prototypeFromNewTarget(newTarget, def)
	if err != nil {
		rt.freeValue(v)
		return Undefined, err
	}
	p := ctx.newObjectProtoClass(proto, classID)
	rt.freeObjectRef(proto)
	p.objectData = v
	if classID == ClassString {
		ctx.DefinePropertyValue(p, AtomLength, NewInt32(int32(strLength(v.str().s))), 0)
	}
	return objValue(p), nil
}

func stringCall(ctx *Context, this Value, args []Value) (Value, error) {
	if len(args) == 0 {
		return newStringValue(""), nil
	}
	if args[0].tag == TagSymbol {
		return newStringValue(args[0].String()), nil
	}
	return ctx.ToStringValue(args[0])
}

func stringConstructor(ctx *Context, newTarget Value, args []Value) (Value, error) {
	s := newStringValue("")
	if len(args) > 0 {
		var err error
		if s, err = ctx.ToStringValue(args[0]); err != nil {
			return Undefined, err
		}
	}
	return ctx.wrapPrimitive(newTarget, s, ClassString, ctx.stringProto)
}

func stringValueOf(ctx *Context, this Value, args []Value) (Value, error) {
	v, err := thisPrimitive(ctx, this, TagString, ClassString, "String")
	return dupValue(v), err
}

func numberCall(ctx *Context, this Value, args []Value) (Value, error) {
	if len(args) == 0 {
		return NewInt32(0), nil
	}
	return ctx.toNumberValue(args[0])
}

func numberConstructor(ctx *Context, newTarget Value, args []Value) (Value, error) {
	v, err := numberCall(ctx, Undefined, args)
	if err != nil {
		return Undefined, err
	}
	return ctx.wrapPrimitive(newTarget, v, ClassNumber, ctx.numberProto)
}

func numberValueOf(ctx *Context, this Value, args []Value) (Value, error) {
	return thisPrimitive(ctx, this, TagInt, ClassNumber, "Number")
}

func numberToStringMethod(ctx *Context, this Value, args []Value) (Value, error) {
	v, err := thisPrimitive(ctx, this, TagInt, ClassNumber, "Number")
	if err != nil {
		return Undefined, err
	}
	radix := 10
	if r := args[0]; !r.IsUndefined() {
		f, err := ctx.toIntegerOrInfinity(r)
		if err != nil {
			return Undefined, err
		}
		if f < 2 || f > 36 {
			return Undefined, ctx.ThrowRangeError("toString() radix must be between 2 and 36")
		}
		radix = int(f)
	}
	return newStringValue(numberToRadixString(v.Number(), radix)), nil
}

func booleanCall(ctx *Context, this Value, args []Value) (Value, error) {
	return NewBool(ctx.ToBool(argOr(args, 0))), nil
}

func booleanConstructor(ctx *Context, newTarget Value, args []Value) (Value, error) {
	return ctx.wrapPrimitive(newTarget, NewBool(ctx.ToBool(argOr(args, 0))), ClassBoolean, ctx.booleanProto)
}

func booleanValueOf(ctx *Context, this Value, args []Value) (Value, error) {
	return thisPrimitive(ctx, this, TagBool, ClassBoolean, "Boolean")
}

func booleanToString(ctx *Context, this Value, args []Value) (Value, error) {
	v, err := thisPrimitive(ctx, this, TagBool, ClassBoolean, "Boolean")
	if err != nil {
		return Undefined, err
	}
	if v.Bool() {
		return newStringValue("true"), nil
	}
	return newStringValue("false"), nil
}

func symbolValueOf(ctx *Context, this Value, args []Value) (Value, error) {
	v, err := thisPrimitive(ctx, this, TagSymbol, ClassSymbol, "Symbol")
	return dupValue(v), err
}

func symbolToString(ctx *Context, this Value, args []Value) (Value, error) {
	v, err := thisPrimitive(ctx, this, TagSymbol, ClassSymbol, "Symbol")
	if err != nil {
		return Undefined, err
	}
	return newStringValue(v.String()), nil
}

func symbolDescription(ctx *Context, this Value, args []Value) (Value, error) {
	v, err := thisPrimitive(ctx, this, TagSymbol, ClassSymbol, "Symbol")
	if err != nil {
		return Undefined, err
	}
	return newStringValue(v.sym().desc), nil
}

func (ctx *Context) initPrimitiveWrappers() {
	ctx.stringProto = ctx.newPlainObject()
	ctx.numberProto = ctx.newPlainObject()
	ctx.booleanProto = ctx.newPlainObject()
	ctx.symbolProto = ctx.newPlainObject()
	ctx.classProto[ClassString] = ctx.stringProto.dup()
	ctx.classProto[ClassNumber] = ctx.numberProto.dup()
	ctx.classProto[ClassBoolean] = ctx.booleanProto.dup()
	ctx.classProto[ClassSymbol] = ctx.symbolProto.dup()

	ctor := ctx.newConstructor("String", 1, stringCall, stringConstructor)
	ctx.setConstructor(ctor, ctx.stringProto)
	ctx.defineFunc(ctx.stringProto, "toString", stringValueOf, 0)
	ctx.defineFunc(ctx.stringProto, "valueOf", stringValueOf, 0)
	ctx.defineGlobal("String", objValue(ctor))

	ctor = ctx.newConstructor("Number", 1, numberCall, numberConstructor)
	ctx.setConstructor(ctor, ctx.numberProto)
	ctx.defineFunc(ctx.numberProto, "toString", numberToStringMethod, 1)
	ctx.defineFunc(ctx.numberProto, "valueOf", numberValueOf, 0)
	ctx.defineGlobal("Number", objValue(ctor))

	ctor = ctx.newConstructor("Boolean", 1, booleanCall, booleanConstructor)
	ctx.setConstructor(ctor, ctx.booleanProto)
	ctx.defineFunc(ctx.booleanProto, "toString", booleanToString, 0)
	ctx.defineFunc(ctx.booleanProto, "valueOf", booleanValueOf, 0)
	ctx.defineGlobal("Boolean", objValue(ctor))

	ctx.defineFunc(ctx.symbolProto, "toString", symbolToString, 0)
	ctx.defineFunc(ctx.symbolProto, "valueOf", symbolValueOf, 0)
	ctx.defineGetter(ctx.symbolProto, ctx.rt.NewAtom("description"), symbolDescription)
	ctx.DefinePropertyValue(ctx.symbolProto, AtomSymbolToStringTag, newStringValue("Symbol"), PropConfigurable)
}

// numberToRadixString formats f in the given base. Fractions get at most
// 52 digits after the point.
func numberToRadixString(f float64, radix int) string {
	if radix == 10 || math.IsNaN(f) || math.IsInf(f, 0) {
		return numberToString(f)
	}
	if f == math.Trunc(f) && math.Abs(f) < 1<<63 {
		return strconv.FormatInt(int64(f), radix)
	}
	neg := f < 0
	if neg {
		f = -f
	}
	ip := math.Floor(f)
	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	if ip < 1<<63 {
		b.WriteString(strconv.FormatInt(int64(ip), radix))
	} else {
		b.WriteString(numberToString(ip))
	}
	b.WriteByte('.')
	frac := f - ip
	for i := 0; i < 52 && frac > 0; i++ {
		frac *= float64(radix)
		d := int(frac)
		b.WriteByte("0123456789abcdefghijklmnopqrstuvwxyz"[d])
		frac -= float64(d)
	}
	return b.String()
}
