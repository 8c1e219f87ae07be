package vm

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ---------------------------------------------------------------------------
// Interpreter loop
// ---------------------------------------------------------------------------

// run executes bytecode frames starting with the current top frame until a
// finish frame leaves. Errors unwind through the catch tables of the frames
// they pass; an error that reaches a finish frame pops it and is returned.
func (ec *ExecContext) run() (Value, error) {
	for {
		v, err := ec.execute()
		if err == nil {
			return v, nil
		}
		v, done, err := ec.unwind(err)
		if done {
			return v, err
		}
	}
}

// execute runs instructions until a finish frame leaves or an instruction
// fails. On failure the failing frame is still on top with insnPC at the
// failing instruction.
func (ec *ExecContext) execute() (Value, error) {
	vm := ec.vm
	for {
		f := &ec.frames[ec.fp-1]
		iseq := f.ISeq
		code := iseq.Code

		if f.PC >= len(code) {
			// fell off the end: leave with nil
			ec.push(Nil)
			if v, done, err := ec.leave(); done || err != nil {
				return v, err
			}
			continue
		}

		f.insnPC = f.PC
		op := Opcode(code[f.PC])
		f.PC++

		switch op {
		// --- Stack operations ---
		case OpNop:

		case OpPop:
			ec.sp--

		case OpDup:
			ec.push(ec.top())

		// --- Push constants ---
		case OpPutNil:
			ec.push(Nil)

		case OpPutTrue:
			ec.push(True)

		case OpPutFalse:
			ec.push(False)

		case OpPutSelf:
			ec.push(f.Self)

		case OpPutInt8:
			val := int8(code[f.PC])
			f.PC++
			ec.push(FromInt(int64(val)))

		case OpPutObject:
			idx := binary.LittleEndian.Uint16(code[f.PC:])
			f.PC += 2
			if int(idx) >= len(iseq.Literals) {
				panic(fmt.Sprintf("execute: literal index %d out of bounds (len=%d)", idx, len(iseq.Literals)))
			}
			ec.push(iseq.Literals[idx])

		// --- Variables ---
		case OpGetLocal:
			idx, level := int(code[f.PC]), int(code[f.PC+1])
			f.PC += 2
			ec.push(ec.getLocal(f, idx, level))

		case OpSetLocal:
			idx, level := int(code[f.PC]), int(code[f.PC+1])
			f.PC += 2
			ec.setLocal(f, idx, level, ec.pop())

		case OpGetIvar:
			name := iseq.Literals[binary.LittleEndian.Uint16(code[f.PC:])].Symbol()
			f.PC += 2
			ec.push(vm.getIvar(f.Self, name))

		case OpSetIvar:
			name := iseq.Literals[binary.LittleEndian.Uint16(code[f.PC:])].Symbol()
			f.PC += 2
			if err := vm.setIvar(f.Self, name, ec.pop()); err != nil {
				return Nil, err
			}

		case OpGetConst:
			name := iseq.Literals[binary.LittleEndian.Uint16(code[f.PC:])].Symbol()
			f.PC += 2
			c := vm.classes.Lookup(vm.SymbolName(name))
			if c == nil {
				return Nil, vm.newNameError(name, "uninitialized constant %s", vm.SymbolName(name))
			}
			ec.push(FromObject(c))

		// --- Object construction ---
		case OpNewArray:
			n := int(code[f.PC])
			f.PC++
			elems := make([]Value, n)
			copy(elems, ec.stack[ec.sp-n:ec.sp])
			ec.sp -= n
			ec.push(vm.NewArray(elems))

		case OpNewHash:
			n := int(code[f.PC])
			f.PC++
			hv := vm.NewHash()
			h := AsHash(hv)
			for i := ec.sp - n; i < ec.sp; i += 2 {
				h.Set(ec.stack[i], ec.stack[i+1])
				vm.barrier(h, ec.stack[i+1])
			}
			ec.sp -= n
			ec.push(hv)

		case OpLambda:
			idx := binary.LittleEndian.Uint16(code[f.PC:])
			f.PC += 2
			blk := iseqBlock(iseq.Children[idx], ec.escape(f), f.Self)
			ec.push(FromObject(vm.NewProc(blk, true)))

		// --- Calls ---
		case OpSend, OpInvokeSuper:
			ciIdx := binary.LittleEndian.Uint16(code[f.PC:])
			blkIdx := binary.LittleEndian.Uint16(code[f.PC+2:])
			f.PC += 4
			ci := iseq.CallInfos[ciIdx]

			var blk BlockHandler
			if blkIdx > 0 {
				blk = iseqBlock(iseq.Children[blkIdx-1], ec.escape(f), f.Self)
			} else if ci.Flags&FlagBlockArg != 0 {
				var err error
				if blk, err = vm.blockFromValue(ec.pop()); err != nil {
					return Nil, err
				}
			} else if op == OpInvokeSuper {
				// zsuper passes the method's own block along
				blk = ec.methodBlock(f)
			}

			argBase := ec.sp - ci.Argc
			f.callSP = argBase - 1
			calling := Calling{
				Recv:     ec.stack[argBase-1],
				ArgBase:  argBase,
				Argc:     ci.Argc,
				Block:    blk,
				recvSlot: true,
			}
			v, err := ec.dispatch(ci, &iseq.caches[ciIdx], &calling)
			if err != nil {
				return Nil, err
			}
			if !v.IsUndef() {
				ec.push(v)
			}

		case OpInvokeBlock:
			ciIdx := binary.LittleEndian.Uint16(code[f.PC:])
			f.PC += 2
			ci := iseq.CallInfos[ciIdx]
			blk := ec.methodBlock(f)
			if blk.IsNone() {
				return Nil, vm.newLocalJumpError("no block given (yield)")
			}
			argBase := ec.sp - ci.Argc
			f.callSP = argBase
			calling := Calling{ArgBase: argBase, Argc: ci.Argc}
			v, err := ec.invokeBlock(blk, ci, &calling, false)
			if err != nil {
				return Nil, err
			}
			if !v.IsUndef() {
				ec.push(v)
			}

		// --- Optimized arithmetic ---
		case OpOptPlus, OpOptMinus, OpOptLt, OpOptEq:
			ciIdx := binary.LittleEndian.Uint16(code[f.PC:])
			f.PC += 2
			a, b := ec.stack[ec.sp-2], ec.stack[ec.sp-1]
			if r, ok := vm.fastArith(op, a, b); ok {
				ec.sp--
				ec.stack[ec.sp-1] = r
				continue
			}
			f.callSP = ec.sp - 2
			calling := Calling{Recv: a, ArgBase: ec.sp - 1, Argc: 1, recvSlot: true}
			v, err := ec.dispatch(iseq.CallInfos[ciIdx], &iseq.caches[ciIdx], &calling)
			if err != nil {
				return Nil, err
			}
			if !v.IsUndef() {
				ec.push(v)
			}

		// --- Control flow ---
		case OpJump:
			off := int(int16(binary.LittleEndian.Uint16(code[f.PC:])))
			f.PC += 2 + off
			if off < 0 {
				if err := ec.checkInterrupts(); err != nil {
					return Nil, err
				}
			}

		case OpBranchIf, OpBranchUnless, OpBranchNil:
			off := int(int16(binary.LittleEndian.Uint16(code[f.PC:])))
			f.PC += 2
			v := ec.pop()
			var taken bool
			switch op {
			case OpBranchIf:
				taken = v.IsTruthy()
			case OpBranchUnless:
				taken = !v.IsTruthy()
			default:
				taken = v.IsNil()
			}
			if taken {
				f.PC += off
				if off < 0 {
					if err := ec.checkInterrupts(); err != nil {
						return Nil, err
					}
				}
			}

		// --- Returns and transfers ---
		case OpLeave:
			if v, done, err := ec.leave(); done || err != nil {
				return v, err
			}

		case OpThrow:
			kind := code[f.PC]
			f.PC++
			if v, done, err := ec.throw(f, kind); done || err != nil {
				return v, err
			}

		case OpRethrow:
			if err := f.pending; err != nil {
				f.pending = nil
				return Nil, err
			}

		// --- Definitions ---
		case OpDefineMethod:
			name := iseq.Literals[binary.LittleEndian.Uint16(code[f.PC:])].Symbol()
			body := iseq.Children[binary.LittleEndian.Uint16(code[f.PC+2:])]
			f.PC += 4
			ec.defineMethod(f, name, body)
			ec.push(FromSymbol(name))

		case OpDefineClass:
			name := iseq.Literals[binary.LittleEndian.Uint16(code[f.PC:])].Symbol()
			body := iseq.Children[binary.LittleEndian.Uint16(code[f.PC+2:])]
			flags := code[f.PC+4]
			f.PC += 5
			if err := ec.openClass(f, name, body, flags); err != nil {
				return Nil, err
			}

		default:
			panic(fmt.Sprintf("execute: unknown opcode 0x%02X at %s:%d", byte(op), iseq.Name, f.insnPC))
		}
	}
}

// leave pops the top frame returning the value on top of its operand
// stack. done is set when the frame was a finish frame.
func (ec *ExecContext) leave() (Value, bool, error) {
	v := ec.pop()
	finish := ec.PopFrame()
	if err := ec.checkInterrupts(); err != nil {
		if finish {
			return Nil, true, err
		}
		return Nil, false, err
	}
	if finish {
		return v, true, nil
	}
	ec.push(v)
	return Nil, false, nil
}

// throw starts a break, next, return or retry from frame f.
func (ec *ExecContext) throw(f *ControlFrame, kind byte) (Value, bool, error) {
	vm := ec.vm
	switch kind {
	case ThrowNext:
		return ec.leave()

	case ThrowBreak:
		if f.Kind != FrameBlock || f.IsLambda() {
			return ec.leave()
		}
		v := ec.pop()
		target := f.Outer
		if target == nil || !target.Live() {
			return Nil, false, vm.newLocalJumpError("break from proc-closure")
		}
		return Nil, false, &ControlTransfer{Kind: TransferBreak, Value: v, Target: target}

	case ThrowReturn:
		if (f.Kind != FrameBlock && f.Kind != FrameEval) || f.IsLambda() {
			return ec.leave()
		}
		v := ec.pop()
		target := returnTarget(f.Outer)
		if target == nil || !target.Live() {
			return Nil, false, vm.newLocalJumpError("unexpected return")
		}
		return Nil, false, &ControlTransfer{Kind: TransferReturn, Value: v, Target: target}

	case ThrowRetry:
		ec.sp--
		return Nil, false, &ControlTransfer{Kind: TransferRetry}
	}
	panic(fmt.Sprintf("throw: unknown kind %d", kind))
}

// returnTarget is the scope a return in a block nested in e leaves: the
// enclosing method, or the innermost enclosing lambda.
func returnTarget(e *Env) *Env {
	for e != nil && e.Outer != nil && !e.lambda {
		e = e.Outer
	}
	return e
}

// ---------------------------------------------------------------------------
// Unwinding
// ---------------------------------------------------------------------------

// unwind carries err down the frame stack until a frame handles it. done
// is set when run must return: either err reached a finish frame, or a
// transfer completed the finish frame itself.
func (ec *ExecContext) unwind(err error) (Value, bool, error) {
	vm := ec.vm
	exc, _ := err.(*Exception)
	if exc != nil && exc.Backtrace == nil && !exc.preallocated {
		exc.Backtrace = ec.Backtrace()
	}

	for ec.fp > 0 {
		f := &ec.frames[ec.fp-1]

		if t, ok := err.(*ControlTransfer); ok && t.Target != nil && t.Target == f.Env {
			switch t.Kind {
			case TransferBreak:
				if ce := f.ISeq.catchEntry(CatchBreak, f.insnPC); ce != nil {
					ec.sp = f.StackBase + ce.SP
					f.PC = ce.Cont
				} else {
					ec.sp = f.callSP
				}
				ec.push(t.Value)
				return Nil, false, nil
			case TransferReturn:
				ec.push(t.Value)
				v, done, lerr := ec.leave()
				if lerr != nil {
					if done {
						return Nil, true, lerr
					}
					err = lerr
					continue
				}
				return v, done, nil
			}
		}

		if f.Kind != FrameNative && f.ISeq != nil {
			if ce := ec.findHandler(f, err, exc); ce != nil {
				ec.sp = f.StackBase + ce.SP
				f.PC = ce.Cont
				switch ce.Type {
				case CatchRescue:
					if exc.IsA(vm.StackOverflowClass) {
						ec.overflowing = false
					}
					ec.push(ExceptionValue(exc))
				case CatchEnsure:
					f.pending = err
				}
				return Nil, false, nil
			}
		}

		if ec.PopFrame() {
			// Go code above a finish frame may swallow the overflow.
			if exc != nil && !exc.Fatal() && exc.IsA(vm.StackOverflowClass) {
				ec.overflowing = false
			}
			return Nil, true, err
		}
	}
	return Nil, true, err
}

// findHandler returns the first catch entry of f that takes err at the
// failing instruction.
func (ec *ExecContext) findHandler(f *ControlFrame, err error, exc *Exception) *CatchEntry {
	pc := f.insnPC
	t, _ := err.(*ControlTransfer)
	for i := range f.ISeq.CatchTable {
		ce := &f.ISeq.CatchTable[i]
		if pc < ce.Start || pc >= ce.End {
			continue
		}
		switch ce.Type {
		case CatchRescue:
			if exc != nil && ec.rescues(ce, exc) {
				return ce
			}
		case CatchEnsure:
			if exc == nil || !exc.Fatal() {
				return ce
			}
		case CatchRetry:
			if t != nil && t.Kind == TransferRetry {
				return ce
			}
		}
	}
	return nil
}

func (ec *ExecContext) rescues(ce *CatchEntry, exc *Exception) bool {
	vm := ec.vm
	if exc.Fatal() {
		return false
	}
	if len(ce.Classes) == 0 {
		return exc.IsA(vm.StandardErrorClass)
	}
	for _, name := range ce.Classes {
		if exc.IsA(vm.classes.Lookup(name)) {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Instruction helpers
// ---------------------------------------------------------------------------

// fastArith computes the optimized operators on numbers unless the
// matching Integer or Float method was redefined.
func (vm *VM) fastArith(op Opcode, a, b Value) (Value, bool) {
	bit := bopBit(op)
	switch {
	case a.kind == KindInt && b.kind == KindInt && vm.bopInt&bit == 0:
		x, y := a.Int(), b.Int()
		switch op {
		case OpOptPlus:
			return FromInt(x + y), true
		case OpOptMinus:
			return FromInt(x - y), true
		case OpOptLt:
			return FromBool(x < y), true
		case OpOptEq:
			return FromBool(x == y), true
		}
	case a.kind == KindFloat && b.kind == KindFloat && vm.bopFloat&bit == 0:
		x, y := a.Float64(), b.Float64()
		switch op {
		case OpOptPlus:
			return FromFloat64(x + y), true
		case OpOptMinus:
			return FromFloat64(x - y), true
		case OpOptLt:
			return FromBool(x < y), true
		case OpOptEq:
			return FromBool(x == y && !math.IsNaN(x)), true
		}
	}
	return Nil, false
}

func (vm *VM) getIvar(self Value, name Symbol) Value {
	inst := AsInstance(self)
	if inst == nil {
		return Nil
	}
	c := vm.classes.Get(inst.Class)
	if c == nil {
		return Nil
	}
	idx := c.IvarIndex(name)
	if idx < 0 {
		return Nil
	}
	return inst.Slot(idx)
}

func (vm *VM) setIvar(self Value, name Symbol, v Value) error {
	inst := AsInstance(self)
	if inst == nil {
		return vm.newRuntimeError("can't modify instance variables of %s", vm.describe(self))
	}
	c := vm.classes.Get(inst.Class)
	if c == nil {
		c = vm.ObjectClass
	}
	inst.SetSlot(c.nonSingleton().ensureIvar(name), v)
	vm.barrier(inst, v)
	return nil
}

// defineMethod defines body in the class of f's lexical scope. Top-level
// definitions are private methods of Object.
func (ec *ExecContext) defineMethod(f *ControlFrame, name Symbol, body *ISeq) {
	vm := ec.vm
	cref := f.CRef
	if cref == nil {
		cref = vm.topCRef
	}
	target := cref.Class
	vis := Public
	if f.Kind == FrameTop || target == nil {
		target = vm.ObjectClass
		vis = Private
	}
	def := MethodFromISeq(body)
	def.CRef = cref
	target.define(vm.SymbolName(name), def, vis)
}

// openClass creates or reopens a class or module and pushes a frame
// running body with it as self.
func (ec *ExecContext) openClass(f *ControlFrame, name Symbol, body *ISeq, flags byte) error {
	vm := ec.vm
	var super *Class
	if flags&DefineClassHasSuper != 0 {
		sv := ec.pop()
		c, ok := sv.Object().(*Class)
		if !ok || c.IsModule() {
			return vm.newTypeError("superclass must be a Class (%s given)", vm.describe(sv))
		}
		super = c
	}

	var c *Class
	var err error
	if flags&DefineClassModule != 0 {
		c, err = vm.DefineModule(ec.token, vm.SymbolName(name))
	} else {
		c, err = vm.DefineClass(ec.token, vm.SymbolName(name), super)
	}
	if err != nil {
		return err
	}

	nf, err := ec.pushFrame(body, FrameClass, FromObject(c), NoBlock, 0, body.LocalSize, body.StackMax, 0, ec.sp)
	if err != nil {
		return err
	}
	nf.CRef = NewCRef(c, f.CRef)
	return nil
}
