package vm

import "fmt"

// ClassID identifies an object class. Built-in classes are fixed; hosts
// allocate more with Runtime.NewClassID.
type ClassID uint16

const (
	classInvalid ClassID = iota
	ClassObject
	ClassArray
	ClassError
	ClassNumber
	ClassString
	ClassBoolean
	ClassSymbol
	ClassArguments
	ClassCFunction
	ClassCFunctionData
	ClassBytecodeFunction
	ClassGeneratorFunction
	ClassAsyncFunction
	ClassBoundFunction
	ClassGenerator
	ClassForInIterator
	ClassArrayIterator
	ClassPromise
	ClassPromiseResolveFunction
	ClassPromiseRejectFunction
	ClassAsyncFunctionResolve
	ClassAsyncFunctionReject
	ClassArrayBuffer
	ClassUint8Array
	ClassInt32Array
	ClassFloat64Array
	ClassProxy

	classInitCount
)

// CallFlags modify how a class call hook is invoked.
type CallFlags uint8

const (
	CallConstructor CallFlags = 1 << iota
)

// ExoticMethods let a host class intercept own-property access before the
// ordinary shape lookup. A hook returning handled=false falls through.
type ExoticMethods struct {
	GetOwnProperty func(ctx *Context, obj *Object, key Atom) (val Value, handled bool, err error)
	SetOwnProperty func(ctx *Context, obj *Object, key Atom, val Value) (handled bool, err error)
	HasProperty    func(ctx *Context, obj *Object, key Atom) (found bool, handled bool, err error)
	DeleteProperty func(ctx *Context, obj *Object, key Atom) (deleted bool, handled bool, err error)
}

// ClassDef describes a host class.
type ClassDef struct {
	Name string
	// Finalizer runs once, before the object's storage is released.
	Finalizer func(rt *Runtime, obj *Object)
	// GCMark must report every Value the opaque payload owns.
	GCMark func(rt *Runtime, obj *Object, mark MarkFunc)
	// Call makes instances callable.
	Call   func(ctx *Context, fn Value, this Value, args []Value, flags CallFlags) (Value, error)
	Exotic *ExoticMethods
}

type classRecord struct {
	name      string
	atom      Atom
	finalizer func(rt *Runtime, p *Object)
	gcMark    func(rt *Runtime, p *Object, mf markFunc)
	call      func(ctx *Context, fn Value, this Value, newTarget Value, args []Value, flags CallFlags) (Value, error)
	exotic    *ExoticMethods
	host      bool
}

// NewClassID reserves a class id for a host class.
func (rt *Runtime) NewClassID() ClassID {
	id := ClassID(len(rt.classes))
	rt.classes = append(rt.classes, nil)
	return id
}

// RegisterClass installs def under id.
func (rt *Runtime) RegisterClass(id ClassID, def ClassDef) error {
	if int(id) >= len(rt.classes) || id < classInitCount {
		return fmt.Errorf("register class %q: invalid class id %d", def.Name, id)
	}
	if rt.classes[id] != nil {
		return fmt.Errorf("register class %q: class id %d already registered", def.Name, id)
	}
	rec := &classRecord{
		name:      def.Name,
		atom:      rt.NewAtom(def.Name),
		finalizer: def.Finalizer,
		exotic:    def.Exotic,
		host:      true,
	}
	if def.GCMark != nil {
		mark := def.GCMark
		rec.gcMark = func(rt *Runtime, p *Object, mf markFunc) {
			mark(rt, p, func(v Value) { rt.markValue(v, mf) })
		}
	}
	if def.Call != nil {
		call := def.Call
		rec.call = func(ctx *Context, fn Value, this Value, newTarget Value, args []Value, flags CallFlags) (Value, error) {
			return call(ctx, fn, this, args, flags)
		}
	}
	rt.classes[id] = rec
	return nil
}

// IsRegisteredClass reports whether id has a class definition.
func (rt *Runtime) IsRegisteredClass(id ClassID) bool {
	return int(id) < len(rt.classes) && rt.classes[id] != nil
}

// ClassName returns the registered name of id.
func (rt *Runtime) ClassName(id ClassID) string {
	if !rt.IsRegisteredClass(id) {
		return ""
	}
	return rt.classes[id].name
}

func (rt *Runtime) initClasses() {
	rt.classes = make([]*classRecord, classInitCount, classInitCount+16)
	def := func(id ClassID, name string, fin func(*Runtime, *Object), mark func(*Runtime, *Object, markFunc)) {
		rt.classes[id] = &classRecord{name: name, atom: rt.NewAtom(name), finalizer: fin, gcMark: mark}
	}
	def(ClassObject, "Object", nil, nil)
	def(ClassArray, "Array", arrayFinalizer, arrayMark)
	def(ClassError, "Error", nil, nil)
	def(ClassNumber, "Number", objectDataFinalizer, nil)
	def(ClassString, "String", objectDataFinalizer, nil)
	def(ClassBoolean, "Boolean", objectDataFinalizer, nil)
	def(ClassSymbol, "Symbol", objectDataFinalizer, nil)
	def(ClassArguments, "Arguments", arrayFinalizer, arrayMark)
	def(ClassCFunction, "Function", nil, nil)
	def(ClassCFunctionData, "Function", cFunctionDataFinalizer, cFunctionDataMark)
	def(ClassBytecodeFunction, "Function", bytecodeFunctionFinalizer, bytecodeFunctionMark)
	def(ClassGeneratorFunction, "GeneratorFunction", bytecodeFunctionFinalizer, bytecodeFunctionMark)
	def(ClassAsyncFunction, "AsyncFunction", bytecodeFunctionFinalizer, bytecodeFunctionMark)
	def(ClassBoundFunction, "Function", boundFunctionFinalizer, boundFunctionMark)
	def(ClassGenerator, "Generator", generatorFinalizer, generatorMark)
	def(ClassForInIterator, "ForInIterator", forInIteratorFinalizer, forInIteratorMark)
	def(ClassArrayIterator, "Array Iterator", arrayIteratorFinalizer, arrayIteratorMark)
	def(ClassPromise, "Promise", promiseFinalizer, promiseMark)
	def(ClassPromiseResolveFunction, "Function", promiseResolveFunctionFinalizer, promiseResolveFunctionMark)
	def(ClassPromiseRejectFunction, "Function", promiseResolveFunctionFinalizer, promiseResolveFunctionMark)
	def(ClassAsyncFunctionResolve, "Function", asyncResolveFinalizer, asyncResolveMark)
	def(ClassAsyncFunctionReject, "Function", asyncResolveFinalizer, asyncResolveMark)
	def(ClassArrayBuffer, "ArrayBuffer", nil, nil)
	def(ClassUint8Array, "Uint8Array", typedArrayFinalizer, typedArrayMark)
	def(ClassInt32Array, "Int32Array", typedArrayFinalizer, typedArrayMark)
	def(ClassFloat64Array, "Float64Array", typedArrayFinalizer, typedArrayMark)
	def(ClassProxy, "Proxy", proxyFinalizer, proxyMark)

	rt.classes[ClassBytecodeFunction].call = callBytecodeFunction
	rt.classes[ClassGeneratorFunction].call = callGeneratorFunction
	rt.classes[ClassAsyncFunction].call = callAsyncFunction
	rt.classes[ClassCFunction].call = callNativeFunction
	rt.classes[ClassCFunctionData].call = callNativeFunction
	rt.classes[ClassBoundFunction].call = callBoundFunction
	rt.classes[ClassPromiseResolveFunction].call = callPromiseResolveFunction
	rt.classes[ClassPromiseRejectFunction].call = callPromiseResolveFunction
	rt.classes[ClassAsyncFunctionResolve].call = callAsyncFunctionResolve
	rt.classes[ClassAsyncFunctionReject].call = callAsyncFunctionResolve
	rt.classes[ClassProxy].call = callProxy
}

func objectDataFinalizer(rt *Runtime, p *Object) {
	rt.freeValue(p.objectData)
	p.objectData = Undefined
}

// LookupClass finds a host class by the name it was registered under.
func (rt *Runtime) LookupClass(name string) (ClassID, bool) {
	for id := classInitCount; int(id) < len(rt.classes); id++ {
		if rec := rt.classes[id]; rec != nil && rec.name == name {
			return id, true
		}
	}
	return classInvalid, false
}
