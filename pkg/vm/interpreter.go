package vm

import "errors"

type execResult uint8

const maxArgListLength = 65535

const (
	execReturn execResult = iota
	execYield
	execAwait
	execInitialYield
)

// pollInterrupt runs the interrupt handler once every budget polls. A true
// result aborts the running script with an uncatchable error.
func (rt *Runtime) pollInterrupt(ctx *Context) error {
	if rt.interruptHandler == nil {
		return nil
	}
	rt.interruptCounter--
	if rt.interruptCounter > 0 {
		return nil
	}
	rt.interruptCounter = rt.interruptBudget
	if rt.interruptHandler() {
		log.Debugf("interrupt handler requested abort")
		return ctx.throwUncatchable("interrupted")
	}
	return nil
}

func (b *FunctionBytecode) varName(idx int) string {
	if idx < len(b.VarNames) && b.VarNames[idx] != "" {
		return b.VarNames[idx]
	}
	return "variable"
}

func (b *FunctionBytecode) closureVarName(idx int) string {
	if idx < len(b.ClosureVars) && b.ClosureVars[idx].Name != "" {
		return b.ClosureVars[idx].Name
	}
	return "variable"
}

// closureVarRefs returns the captured variables of the function running in sf.
func (sf *stackFrame) closureVarRefs() []*VarRef {
	if p := sf.fn.AsObject(); p != nil && p.fn != nil {
		return p.fn.varRefs
	}
	return nil
}

// execute runs sf from sf.pc until it returns, throws or suspends. When
// throwing is non-nil execution resumes by raising it at sf.pc. Values
// pushed or popped are owned by the frame; the returned value is a new
// reference.
func (ctx *Context) execute(sf *stackFrame, throwing error) (Value, execResult, error) {
	rt := ctx.rt
	// New calls are refused in newFrame; this catches resumed frames.
	if rt.stackDepth >= rt.maxStackDepth {
		if throwing != nil {
			v := ctx.exceptionValue(throwing)
			rt.freeValue(v)
		}
		return Undefined, execReturn, ctx.ThrowRangeError("Maximum call stack size exceeded")
	}
	rt.stackDepth++
	sf.prev = rt.currentFrame
	rt.currentFrame = sf
	defer func() {
		rt.currentFrame = sf.prev
		sf.prev = nil
		rt.stackDepth--
	}()

	ctx = sf.ctx
	b := sf.b
	code := b.Code
	stack := sf.stack
	sp := sf.sp
	pc := sf.pc
	varRefs := sf.closureVarRefs()
	err := throwing
	if err == nil && pc == 0 {
		err = rt.pollInterrupt(ctx)
	}

	for {
		if err != nil {
			var ex *Exception
			catchable := !(errors.As(err, &ex) && ex.Uncatchable())
			handled := false
			for sp > 0 {
				sp--
				v := stack[sp]
				stack[sp] = Undefined
				if v.tag != TagCatchOffset {
					rt.freeValue(v)
					continue
				}
				if pos := int(v.u); pos != 0 {
					if !catchable {
						continue
					}
					stack[sp] = ctx.exceptionValue(err)
					sp++
					pc = pos
					err = nil
					handled = true
					break
				}
				// for-of record below the marker: iter next
				sp--
				rt.freeValue(stack[sp])
				stack[sp] = Undefined
				sp--
				iter := stack[sp]
				stack[sp] = Undefined
				if catchable {
					ctx.iteratorCloseQuiet(iter)
				}
				rt.freeValue(iter)
			}
			if !handled {
				sf.sp = 0
				sf.pc = pc
				if ex != nil {
					ctx.attachBacktrace(ex.value, sf)
				}
				return Undefined, execReturn, err
			}
		}

		sf.curPC = pc
		op := OpCode(code[pc])
		pc++
		switch op {
		case OpPushUndefined:
			stack[sp] = Undefined
			sp++
		case OpPushNull:
			stack[sp] = Null
			sp++
		case OpPushTrue:
			stack[sp] = True
			sp++
		case OpPushFalse:
			stack[sp] = False
			sp++
		case OpPushI32:
			stack[sp] = NewInt32(int32(readU32(code, pc)))
			sp++
			pc += 4
		case OpPushConst:
			stack[sp] = dupValue(b.Constants[readU32(code, pc)])
			sp++
			pc += 4
		case OpPushAtomValue:
			stack[sp] = rt.atomToValue(Atom(readU32(code, pc)))
			sp++
			pc += 4
		case OpPushThis:
			stack[sp] = dupValue(sf.this)
			sp++
		case OpObject:
			stack[sp] = objValue(ctx.newPlainObject())
			sp++
		case OpArrayFrom:
			n := readU16(code, pc)
			pc += 2
			vals := make([]Value, n)
			copy(vals, stack[sp-n:sp])
			for i := sp - n; i < sp; i++ {
				stack[i] = Undefined
			}
			sp -= n
			stack[sp] = objValue(ctx.newArrayFrom(vals))
			sp++
		case OpFClosure:
			nb := b.Constants[readU32(code, pc)].bytecode()
			pc += 4
			var p *Object
			if p, err = ctx.newClosure(nb, sf); err == nil {
				stack[sp] = objValue(p)
				sp++
			}
		case OpSpecialObject:
			kind := code[pc]
			pc++
			switch kind {
			case SpecialArguments:
				stack[sp] = objValue(ctx.newArgumentsObject(sf.args[:sf.argc]))
			case SpecialMappedArguments:
				stack[sp] = objValue(ctx.newMappedArgumentsObject(sf))
			case SpecialThisFunc:
				stack[sp] = dupValue(sf.fn)
			case SpecialNewTarget:
				stack[sp] = dupValue(sf.newTarget)
			case SpecialHomeObject:
				stack[sp] = Undefined
				if p := sf.fn.AsObject(); p != nil && p.fn != nil && p.fn.homeObject != nil {
					stack[sp] = p.fn.homeObject.Value()
				}
			default:
				panic(invariantf("special_object: unknown kind %d", kind))
			}
			sp++

		case OpDrop:
			sp--
			rt.freeValue(stack[sp])
			stack[sp] = Undefined
		case OpNip:
			rt.freeValue(stack[sp-2])
			stack[sp-2] = stack[sp-1]
			stack[sp-1] = Undefined
			sp--
		case OpDup:
			stack[sp] = dupValue(stack[sp-1])
			sp++
		case OpDup2:
			stack[sp] = dupValue(stack[sp-2])
			stack[sp+1] = dupValue(stack[sp-1])
			sp += 2
		case OpSwap:
			stack[sp-2], stack[sp-1] = stack[sp-1], stack[sp-2]
		case OpRot3L:
			x := stack[sp-3]
			stack[sp-3] = stack[sp-2]
			stack[sp-2] = stack[sp-1]
			stack[sp-1] = x
		case OpRot3R:
			x := stack[sp-1]
			stack[sp-1] = stack[sp-2]
			stack[sp-2] = stack[sp-3]
			stack[sp-3] = x
		case OpInsert2:
			stack[sp] = stack[sp-1]
			stack[sp-1] = stack[sp-2]
			stack[sp-2] = dupValue(stack[sp])
			sp++
		case OpInsert3:
			stack[sp] = stack[sp-1]
			stack[sp-1] = stack[sp-2]
			stack[sp-2] = stack[sp-3]
			stack[sp-3] = dupValue(stack[sp])
			sp++

		case OpGetLoc:
			stack[sp] = dupValue(sf.vars[readU16(code, pc)])
			sp++
			pc += 2
		case OpPutLoc:
			idx := readU16(code, pc)
			pc += 2
			sp--
			old := sf.vars[idx]
			sf.vars[idx] = stack[sp]
			stack[sp] = Undefined
			rt.freeValue(old)
		case OpSetLoc:
			idx := readU16(code, pc)
			pc += 2
			old := sf.vars[idx]
			sf.vars[idx] = dupValue(stack[sp-1])
			rt.freeValue(old)
		case OpGetArg:
			stack[sp] = dupValue(sf.args[readU16(code, pc)])
			sp++
			pc += 2
		case OpPutArg:
			idx := readU16(code, pc)
			pc += 2
			sp--
			old := sf.args[idx]
			sf.args[idx] = stack[sp]
			stack[sp] = Undefined
			rt.freeValue(old)
		case OpSetArg:
			idx := readU16(code, pc)
			pc += 2
			old := sf.args[idx]
			sf.args[idx] = dupValue(stack[sp-1])
			rt.freeValue(old)
		case OpGetVarRef:
			stack[sp] = dupValue(*varRefs[readU16(code, pc)].pvalue)
			sp++
			pc += 2
		case OpPutVarRef:
			vr := varRefs[readU16(code, pc)]
			pc += 2
			sp--
			old := *vr.pvalue
			*vr.pvalue = stack[sp]
			stack[sp] = Undefined
			rt.freeValue(old)
		case OpSetVarRef:
			vr := varRefs[readU16(code, pc)]
			pc += 2
			old := *vr.pvalue
			*vr.pvalue = dupValue(stack[sp-1])
			rt.freeValue(old)
		case OpSetLocUninitialized:
			idx := readU16(code, pc)
			pc += 2
			old := sf.vars[idx]
			sf.vars[idx] = uninitialized
			rt.freeValue(old)
		case OpGetLocCheck:
			idx := readU16(code, pc)
			pc += 2
			v := sf.vars[idx]
			if v.isUninitialized() {
				err = ctx.ThrowReferenceError("%s is not initialized", b.varName(idx))
				break
			}
			stack[sp] = dupValue(v)
			sp++
		case OpPutLocCheck, OpPutLocCheckInit:
			idx := readU16(code, pc)
			pc += 2
			old := sf.vars[idx]
			if op == OpPutLocCheck && old.isUninitialized() {
				err = ctx.ThrowReferenceError("%s is not initialized", b.varName(idx))
				break
			}
			sp--
			sf.vars[idx] = stack[sp]
			stack[sp] = Undefined
			rt.freeValue(old)
		case OpGetVarRefCheck:
			idx := readU16(code, pc)
			pc += 2
			v := *varRefs[idx].pvalue
			if v.isUninitialized() {
				err = ctx.ThrowReferenceError("%s is not initialized", b.closureVarName(idx))
				break
			}
			stack[sp] = dupValue(v)
			sp++
		case OpPutVarRefCheck:
			idx := readU16(code, pc)
			pc += 2
			vr := varRefs[idx]
			if vr.pvalue.isUninitialized() {
				err = ctx.ThrowReferenceError("%s is not initialized", b.closureVarName(idx))
				break
			}
			sp--
			old := *vr.pvalue
			*vr.pvalue = stack[sp]
			stack[sp] = Undefined
			rt.freeValue(old)
		case OpCloseLoc:
			rt.closeLoc(sf, readU16(code, pc))
			pc += 2

		case OpGetVar, OpGetVarUndef:
			atom := Atom(readU32(code, pc))
			pc += 4
			var v Value
			if v, err = ctx.getGlobalVar(atom, op == OpGetVar); err == nil {
				stack[sp] = v
				sp++
			}
		case OpPutVar, OpPutVarInit:
			atom := Atom(readU32(code, pc))
			pc += 4
			sp--
			v := stack[sp]
			stack[sp] = Undefined
			err = ctx.putGlobalVar(atom, v, op == OpPutVarInit)
		case OpDefineVar:
			err = ctx.defineGlobalVar(Atom(readU32(code, pc)))
			pc += 4
		case OpDefineLexVar:
			atom := Atom(readU32(code, pc))
			flags := code[pc+4]
			pc += 5
			err = ctx.defineGlobalLexVar(atom, flags&LexVarConst != 0)
		case OpDeleteVar:
			atom := Atom(readU32(code, pc))
			pc += 4
			var ok bool
			if ok, err = ctx.DeleteProperty(objValue(ctx.globalObj), atom, 0); err == nil {
				stack[sp] = NewBool(ok)
				sp++
			}

		case OpGetField, OpGetField2:
			atom := Atom(readU32(code, pc))
			ic := b.cacheAt(sf.curPC)
			pc += 4
			obj := stack[sp-1]
			v, ok := rt.getFieldCached(ic, obj, atom)
			if !ok {
				if v, err = ctx.GetProperty(obj, atom); err != nil {
					break
				}
			}
			if op == OpGetField {
				stack[sp-1] = v
				rt.freeValue(obj)
			} else {
				stack[sp] = v
				sp++
			}
		case OpPutField:
			atom := Atom(readU32(code, pc))
			ic := b.cacheAt(sf.curPC)
			pc += 4
			obj, v := stack[sp-2], stack[sp-1]
			stack[sp-2], stack[sp-1] = Undefined, Undefined
			sp -= 2
			if !rt.putFieldCached(ic, obj, atom, v) {
				_, err = ctx.setPropertyInternal(obj, atom, v, obj, PropThrowStrict)
			}
			rt.freeValue(obj)
		case OpGetArrayEl, OpGetArrayEl2:
			obj, key := stack[sp-2], stack[sp-1]
			var v Value
			if v, err = ctx.getPropertyValue(obj, key); err != nil {
				break
			}
			rt.freeValue(key)
			if op == OpGetArrayEl {
				rt.freeValue(obj)
				stack[sp-1] = Undefined
				sp--
				stack[sp-1] = v
			} else {
				stack[sp-1] = v
			}
		case OpPutArrayEl:
			obj, key, v := stack[sp-3], stack[sp-2], stack[sp-1]
			stack[sp-3], stack[sp-2], stack[sp-1] = Undefined, Undefined, Undefined
			sp -= 3
			_, err = ctx.setPropertyValue(obj, key, v, PropThrowStrict)
			rt.freeValue(obj)
			rt.freeValue(key)
		case OpGetLength:
			obj := stack[sp-1]
			var v Value
			if v, err = ctx.GetProperty(obj, AtomLength); err == nil {
				stack[sp-1] = v
				rt.freeValue(obj)
			}
		case OpDefineField:
			atom := Atom(readU32(code, pc))
			pc += 4
			sp--
			v := stack[sp]
			stack[sp] = Undefined
			if p := stack[sp-1].AsObject(); p != nil {
				_, err = ctx.DefinePropertyValue(p, atom, v, PropCWE|PropThrow)
			} else {
				rt.freeValue(v)
				err = ctx.ThrowTypeError("define_field: not an object")
			}
		case OpDefineArrayEl:
			key, v := stack[sp-2], stack[sp-1]
			stack[sp-2], stack[sp-1] = Undefined, Undefined
			sp -= 2
			var atom Atom
			atom, err = ctx.valueToAtom(key)
			rt.freeValue(key)
			if err != nil {
				rt.freeValue(v)
				break
			}
			if p := stack[sp-1].AsObject(); p != nil {
				_, err = ctx.DefinePropertyValue(p, atom, v, PropCWE|PropThrow)
			} else {
				rt.freeValue(v)
				err = ctx.ThrowTypeError("define_array_el: not an object")
			}
		case OpDefineGetter, OpDefineSetter:
			atom := Atom(readU32(code, pc))
			pc += 4
			sp--
			fn := stack[sp]
			stack[sp] = Undefined
			p := stack[sp-1].AsObject()
			if p == nil {
				rt.freeValue(fn)
				err = ctx.ThrowTypeError("%s: not an object", op)
				break
			}
			flags := PropHasConfigurable | PropHasEnumerable | PropConfigurable | PropEnumerable | PropThrow
			if op == OpDefineGetter {
				_, err = ctx.DefineProperty(p, atom, Undefined, fn, Undefined, flags|PropHasGet)
			} else {
				_, err = ctx.DefineProperty(p, atom, Undefined, Undefined, fn, flags|PropHasSet)
			}
			rt.freeValue(fn)
		case OpSetProto:
			sp--
			proto := stack[sp]
			stack[sp] = Undefined
			if p := stack[sp-1].AsObject(); p != nil && (proto.tag == TagObject || proto.tag == TagNull) {
				_, err = ctx.SetPrototype(p, proto, PropThrow)
			}
			rt.freeValue(proto)
		case OpSetHomeObject:
			home, fn := stack[sp-2].AsObject(), stack[sp-1].AsObject()
			if home == nil || fn == nil || fn.fn == nil {
				err = ctx.ThrowTypeError("set_home_object: expected an object and a function")
				break
			}
			old := fn.fn.homeObject
			fn.fn.homeObject = home.dup()
			rt.freeObjectRef(old)
		case OpGetSuper:
			var home *Object
			if p := sf.fn.AsObject(); p != nil && p.fn != nil {
				home = p.fn.homeObject
			}
			if home == nil {
				err = ctx.ThrowSyntaxError("'super' keyword unexpected here")
				break
			}
			if proto := home.shape.proto; proto != nil {
				stack[sp] = proto.Value()
			} else {
				stack[sp] = Null
			}
			sp++
		case OpDelete:
			obj, key := stack[sp-2], stack[sp-1]
			var atom Atom
			var ok bool
			if atom, err = ctx.valueToAtom(key); err != nil {
				break
			}
			if ok, err = ctx.DeleteProperty(obj, atom, PropThrowStrict); err != nil {
				break
			}
			rt.freeValue(obj)
			rt.freeValue(key)
			stack[sp-1] = Undefined
			sp--
			stack[sp-1] = NewBool(ok)
		case OpIn, OpInstanceof:
			a, c := stack[sp-2], stack[sp-1]
			var ok bool
			if op == OpIn {
				ok, err = ctx.hasIn(a, c)
			} else {
				ok, err = ctx.instanceOf(a, c)
			}
			if err != nil {
				break
			}
			rt.freeValue(a)
			rt.freeValue(c)
			stack[sp-1] = Undefined
			sp--
			stack[sp-1] = NewBool(ok)

		case OpCall, OpCallMethod, OpCallConstructor:
			argc := readU16(code, pc)
			pc += 2
			base := sp - argc - 1
			if op == OpCallMethod {
				base--
			}
			args := stack[sp-argc : sp]
			var ret Value
			switch op {
			case OpCall:
				ret, err = ctx.callInternal(stack[base], Undefined, Undefined, args, 0)
			case OpCallMethod:
				ret, err = ctx.callInternal(stack[base+1], stack[base], Undefined, args, 0)
			default:
				ret, err = ctx.callConstructorInternal(stack[base], stack[base], args)
			}
			for i := base; i < sp; i++ {
				rt.freeValue(stack[i])
				stack[i] = Undefined
			}
			sp = base
			if err == nil {
				stack[sp] = ret
				sp++
			}
		case OpApply:
			magic := readU16(code, pc)
			pc += 2
			this, fn, arr := stack[sp-3], stack[sp-2], stack[sp-1]
			var args []Value
			if args, err = ctx.buildArgList(arr); err != nil {
				break
			}
			var ret Value
			if magic == 1 {
				ret, err = ctx.callConstructorInternal(fn, this, args)
			} else {
				ret, err = ctx.callInternal(fn, this, Undefined, args, 0)
			}
			for _, a := range args {
				rt.freeValue(a)
			}
			for i := sp - 3; i < sp; i++ {
				rt.freeValue(stack[i])
				stack[i] = Undefined
			}
			sp -= 3
			if err == nil {
				stack[sp] = ret
				sp++
			}
		case OpTailCall, OpTailCallMethod:
			argc := readU16(code, pc)
			pc += 2
			base := sp - argc - 1
			this := Undefined
			if op == OpTailCallMethod {
				base--
				this = stack[base]
			}
			fn := stack[sp-argc-1]
			if callee := fn.AsObject(); callee != nil && callee.classID == ClassBytecodeFunction &&
				callee.fn.b.Kind == FuncNormal && b.Kind == FuncNormal {
				// reuse this activation for the callee
				fn = dupValue(fn)
				this = dupValue(this)
				args := make([]Value, argc)
				copy(args, stack[sp-argc:sp])
				for i := sp - argc; i < sp; i++ {
					stack[i] = Undefined
				}
				sf.sp = sp - argc
				rt.freeFrame(sf)
				sf.fn = fn
				sf.b = callee.fn.b
				sf.ctx = callee.fn.realm
				sf.newTarget = Undefined
				err = sf.ctx.initFrameThis(sf, this)
				rt.freeValue(this)
				sf.ctx.initFrameSlots(sf, args)
				for _, a := range args {
					rt.freeValue(a)
				}
				ctx = sf.ctx
				b = sf.b
				code = b.Code
				stack = sf.stack
				sp = 0
				pc = 0
				varRefs = sf.closureVarRefs()
				if err == nil {
					err = rt.pollInterrupt(ctx)
				}
				break
			}
			ret, cerr := ctx.callInternal(fn, this, Undefined, stack[sp-argc:sp], 0)
			for i := base; i < sp; i++ {
				rt.freeValue(stack[i])
				stack[i] = Undefined
			}
			sp = base
			if cerr != nil {
				err = cerr
				break
			}
			sf.sp = sp
			sf.pc = pc
			return ret, execReturn, nil
		case OpReturn, OpReturnAsync:
			sp--
			ret := stack[sp]
			stack[sp] = Undefined
			sf.sp = sp
			sf.pc = pc
			return ret, execReturn, nil
		case OpReturnUndef:
			sf.sp = sp
			sf.pc = pc
			return Undefined, execReturn, nil
		case OpThrow:
			sp--
			v := stack[sp]
			stack[sp] = Undefined
			err = ctx.Throw(v)
		case OpThrowError:
			atom := Atom(readU32(code, pc))
			kind := ErrorKind(code[pc+4])
			pc += 5
			if kind >= errorKindCount {
				panic(invariantf("throw_error: unknown error kind %d", kind))
			}
			err = ctx.ThrowError(kind, "%s", rt.AtomString(atom))

		case OpGoto:
			target := int(readU32(code, pc))
			if target <= sf.curPC {
				err = rt.pollInterrupt(ctx)
			}
			pc = target
		case OpIfFalse, OpIfTrue:
			target := int(readU32(code, pc))
			pc += 4
			sp--
			v := stack[sp]
			stack[sp] = Undefined
			if ctx.ToBool(v) == (op == OpIfTrue) {
				if target <= sf.curPC {
					err = rt.pollInterrupt(ctx)
				}
				pc = target
			}
			rt.freeValue(v)
		case OpCatch:
			stack[sp] = catchOffset(int(readU32(code, pc)))
			sp++
			pc += 4
		case OpNipCatch:
			sp--
			v := stack[sp]
			stack[sp] = Undefined
			for {
				sp--
				x := stack[sp]
				stack[sp] = Undefined
				if x.tag == TagCatchOffset {
					break
				}
				rt.freeValue(x)
				if sp == 0 {
					panic(invariantf("nip_catch without a catch offset"))
				}
			}
			stack[sp] = v
			sp++
		case OpGosub:
			stack[sp] = NewInt32(int32(pc + 4))
			sp++
			pc = int(readU32(code, pc))
		case OpRet:
			sp--
			v := stack[sp]
			stack[sp] = Undefined
			if v.tag != TagInt || int(v.Int32()) >= len(code) || v.Int32() < 0 {
				panic(invariantf("ret: invalid return address %s", v))
			}
			pc = int(v.Int32())

		case OpForInStart:
			obj := stack[sp-1]
			var it *Object
			if it, err = ctx.newForInIterator(obj); err == nil {
				stack[sp-1] = objValue(it)
				rt.freeValue(obj)
			}
		case OpForInNext:
			var key Value
			var done bool
			if key, done, err = ctx.forInNext(stack[sp-1]); err == nil {
				stack[sp] = key
				stack[sp+1] = NewBool(done)
				sp += 2
			}
		case OpForOfStart:
			obj := stack[sp-1]
			var iter, next Value
			if iter, next, err = ctx.getIterator(obj); err == nil {
				rt.freeValue(obj)
				stack[sp-1] = iter
				stack[sp] = next
				stack[sp+1] = catchOffset(0)
				sp += 2
			}
		case OpForOfNext:
			depth := int(code[pc])
			pc++
			iter, next := stack[sp-3-depth], stack[sp-2-depth]
			var v Value
			var done bool
			if v, done, err = ctx.iteratorStep(iter, next); err == nil {
				stack[sp] = v
				stack[sp+1] = NewBool(done)
				sp += 2
			}
		case OpIteratorClose:
			sp -= 3
			iter, next := stack[sp], stack[sp+1]
			stack[sp], stack[sp+1], stack[sp+2] = Undefined, Undefined, Undefined
			rt.freeValue(next)
			err = ctx.iteratorClose(iter)
			rt.freeValue(iter)

		case OpAdd, OpSub, OpMul, OpDiv, OpMod, OpPow, OpShl, OpSar, OpShr, OpAnd, OpOr, OpXor:
			a, c := stack[sp-2], stack[sp-1]
			if a.tag == TagInt && c.tag == TagInt {
				if v, ok := arithInt(op, a.Int32(), c.Int32()); ok {
					stack[sp-1] = Undefined
					sp--
					stack[sp-1] = v
					break
				}
			}
			var v Value
			if v, err = ctx.binaryArith(op, a, c); err != nil {
				break
			}
			rt.freeValue(a)
			rt.freeValue(c)
			stack[sp-1] = Undefined
			sp--
			stack[sp-1] = v
		case OpLt, OpLte, OpGt, OpGte, OpEq, OpNeq, OpStrictEq, OpStrictNeq:
			a, c := stack[sp-2], stack[sp-1]
			var r bool
			switch op {
			case OpEq, OpNeq:
				r, err = ctx.looseEquals(a, c)
				r = r == (op == OpEq)
			case OpStrictEq:
				r = strictEquals(a, c)
			case OpStrictNeq:
				r = !strictEquals(a, c)
			default:
				r, err = ctx.compareValues(op, a, c)
			}
			if err != nil {
				break
			}
			rt.freeValue(a)
			rt.freeValue(c)
			stack[sp-1] = Undefined
			sp--
			stack[sp-1] = NewBool(r)
		case OpNeg, OpPlus, OpNot, OpInc, OpDec:
			a := stack[sp-1]
			var v Value
			if v, err = ctx.unaryArith(op, a); err == nil {
				stack[sp-1] = v
				rt.freeValue(a)
			}
		case OpLNot:
			a := stack[sp-1]
			stack[sp-1] = NewBool(!ctx.ToBool(a))
			rt.freeValue(a)
		case OpPostInc, OpPostDec:
			a := stack[sp-1]
			var n, v Value
			if n, err = ctx.toNumberValue(a); err != nil {
				break
			}
			rt.freeValue(a)
			stack[sp-1] = n
			v, _ = ctx.unaryArith(op, n)
			stack[sp] = v
			sp++
		case OpIncLoc, OpDecLoc:
			idx := readU16(code, pc)
			pc += 2
			old := sf.vars[idx]
			uop := OpInc
			if op == OpDecLoc {
				uop = OpDec
			}
			var v Value
			if v, err = ctx.unaryArith(uop, old); err == nil {
				sf.vars[idx] = v
				rt.freeValue(old)
			}
		case OpAddLoc:
			idx := readU16(code, pc)
			pc += 2
			old, a := sf.vars[idx], stack[sp-1]
			var v Value
			if v, err = ctx.binaryArith(OpAdd, old, a); err != nil {
				break
			}
			sp--
			stack[sp] = Undefined
			rt.freeValue(a)
			sf.vars[idx] = v
			rt.freeValue(old)
		case OpTypeof:
			a := stack[sp-1]
			stack[sp-1] = rt.atomToValue(ctx.typeOf(a))
			rt.freeValue(a)
		case OpIsUndefinedOrNull:
			a := stack[sp-1]
			stack[sp-1] = NewBool(a.IsUndefinedOrNull())
			rt.freeValue(a)
		case OpToPropertyKey:
			a := stack[sp-1]
			switch a.tag {
			case TagInt, TagString, TagSymbol:
			default:
				var atom Atom
				if atom, err = ctx.valueToAtom(a); err == nil {
					stack[sp-1] = rt.atomToValue(atom)
					rt.freeValue(a)
				}
			}

		case OpInitialYield:
			sf.sp = sp
			sf.pc = pc
			return Undefined, execInitialYield, nil
		case OpYield, OpAwait:
			sp--
			v := stack[sp]
			stack[sp] = Undefined
			sf.sp = sp
			sf.pc = pc
			if op == OpYield {
				return v, execYield, nil
			}
			return v, execAwait, nil
		case OpNop:
		default:
			panic(invariantf("%s: invalid opcode %d at pc %d", b.Name, op, sf.curPC))
		}
	}
}

// buildArgList copies the elements of an array-like (new references).
func (ctx *Context) buildArgList(arr Value) ([]Value, error) {
	if arr.IsUndefinedOrNull() {
		return nil, nil
	}
	if arr.tag != TagObject {
		return nil, ctx.ThrowTypeError("spread argument is not an object")
	}
	if p := arr.object(); p.fastArray && p.classID == ClassArray {
		return dupValues(p.values), nil
	}
	n, err := ctx.LengthOf(arr)
	if err != nil {
		return nil, err
	}
	if n > maxArgListLength {
		return nil, ctx.ThrowRangeError("too many arguments in function call")
	}
	args := make([]Value, 0, n)
	for i := int64(0); i < n; i++ {
		v, err := ctx.GetPropertyUint32(arr, uint32(i))
		if err != nil {
			for _, a := range args {
				ctx.rt.freeValue(a)
			}
			return nil, err
		}
		args = append(args, v)
	}
	return args, nil
}
