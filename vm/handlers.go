package vm

import "strconv"

// Specialized call handlers. Each one is selected once per cache miss and
// then called directly on every hit. A handler leaves the value stack
// pointer at calling.callerSP() when it returns a value, and returns Undef
// only after pushing a bytecode frame the caller's loop will run.

// ---------------------------------------------------------------------------
// Bytecode methods
// ---------------------------------------------------------------------------

func handleISeq(ec *ExecContext, ci *CallInfo, cc *CallCache, calling *Calling, me *MethodEntry) (Value, error) {
	if ci.Flags&FlagTailCall != 0 && cc.fastBind && !calling.finish {
		ok, err := ec.tailCall(calling, me)
		if err != nil {
			return Nil, err
		}
		if ok {
			return Undef, nil
		}
	}
	if _, err := ec.pushMethodFrame(ci, cc, calling, me); err != nil {
		return Nil, err
	}
	if calling.finish {
		return ec.run()
	}
	return Undef, nil
}

// pushMethodFrame pushes the frame of an ISeq method and binds the
// arguments into its locals. On a binding error nothing is left pushed.
func (ec *ExecContext) pushMethodFrame(ci *CallInfo, cc *CallCache, calling *Calling, me *MethodEntry) (*ControlFrame, error) {
	vm := ec.vm
	iseq := me.Def.ISeq
	p := &iseq.Params
	callerSP := calling.callerSP()

	if cc.fastBind {
		if calling.Argc != p.Lead {
			ec.sp = callerSP
			return nil, vm.newArityError(calling.Argc, p.Lead, p.Lead)
		}
		ec.sp = calling.ArgBase
		f, err := ec.pushFrame(iseq, FrameMethod, calling.Recv, calling.Block, 0, iseq.LocalSize, iseq.StackMax, calling.Argc, callerSP)
		if err != nil {
			ec.sp = callerSP
			return nil, err
		}
		ec.setupMethodFrame(f, me, calling)
		if p.Block {
			ec.stack[f.BP+p.BlockIndex()] = vm.blockValue(calling.Block)
		}
		return f, nil
	}

	in := ec.collectArgs(ci, calling)
	ec.sp = calling.ArgBase
	f, err := ec.pushFrame(iseq, FrameMethod, calling.Recv, calling.Block, 0, iseq.LocalSize, iseq.StackMax, 0, callerSP)
	if err != nil {
		ec.sp = callerSP
		return nil, err
	}
	ec.setupMethodFrame(f, me, calling)
	locals := ec.stack[f.BP : f.BP+iseq.LocalSize]
	var warn BindWarning
	if ci.Simple() && p.Simple() {
		err = ec.bindSimple(p, in.Args, in.Block, locals, bindMethod)
	} else {
		warn, err = ec.bindGeneral(p, in, locals, bindMethod, f)
	}
	ec.noteBindWarnings(warn, iseq)
	if err != nil {
		ec.PopFrame()
		return nil, err
	}
	return f, nil
}

func (ec *ExecContext) setupMethodFrame(f *ControlFrame, me *MethodEntry, calling *Calling) {
	f.Method = me
	f.CRef = me.Def.CRef
	if f.CRef == nil {
		f.CRef = ec.vm.topCRef
	}
	if calling.finish {
		f.flags |= frameFinish
	}
}

// tailCall replaces the calling method frame with the callee's. It applies
// only to fast-bind calls made from a method body outside any catch range
// whose frame nothing else can still reach; otherwise it reports false and
// the call proceeds normally.
func (ec *ExecContext) tailCall(calling *Calling, me *MethodEntry) (bool, error) {
	caller := ec.cfp()
	if caller == nil || caller.Kind != FrameMethod || caller.IsFinish() || !calling.recvSlot {
		return false, nil
	}
	for i := range caller.ISeq.CatchTable {
		ce := &caller.ISeq.CatchTable[i]
		if caller.insnPC >= ce.Start && caller.insnPC < ce.End {
			return false, nil
		}
	}
	if calling.Block.kind == BlockISeq && calling.Block.env != nil && calling.Block.env == caller.Env {
		return false, nil
	}

	iseq := me.Def.ISeq
	p := &iseq.Params
	if calling.Argc != p.Lead {
		return false, nil
	}
	base := caller.CallerSP
	if base+iseq.LocalSize+FrameOverhead+iseq.StackMax > len(ec.stack) {
		return false, nil
	}

	var buf [8]Value
	args := buf[:0]
	args = append(args, ec.stack[calling.ArgBase:calling.ArgBase+calling.Argc]...)
	recv, blk := calling.Recv, calling.Block

	ec.PopFrame()
	if err := ec.checkInterrupts(); err != nil {
		return true, err
	}
	copy(ec.stack[base:], args)
	f, err := ec.pushFrame(iseq, FrameMethod, recv, blk, 0, iseq.LocalSize, iseq.StackMax, len(args), base)
	if err != nil {
		return true, err
	}
	f.Method = me
	f.CRef = me.Def.CRef
	if f.CRef == nil {
		f.CRef = ec.vm.topCRef
	}
	if p.Block {
		ec.stack[f.BP+p.BlockIndex()] = ec.vm.blockValue(blk)
	}
	return true, nil
}

// handleAccel binds the arguments as for a bytecode method, then runs the
// registered native drop-in instead of interpreting.
func handleAccel(ec *ExecContext, ci *CallInfo, cc *CallCache, calling *Calling, me *MethodEntry) (Value, error) {
	iseq := me.Def.ISeq
	f, err := ec.pushMethodFrame(ci, cc, calling, me)
	if err != nil {
		return Nil, err
	}
	f.flags &^= frameFinish
	locals := ec.stack[f.BP : f.BP+iseq.LocalSize]
	v, err := iseq.accel(ec, f.Self, locals, f.Block)
	ec.PopFrame()
	if err == nil {
		err = ec.checkInterrupts()
	}
	if v.IsUndef() {
		v = Nil
	}
	return v, err
}

// noteBindWarnings records the keyword conversions of a binding.
func (ec *ExecContext) noteBindWarnings(warn BindWarning, iseq *ISeq) {
	ec.LastBindWarnings = warn
	if warn != 0 && ec.vm.cfg.KeywordWarnings {
		ec.vm.log.Warningf("%s: %s", iseq.Name, warn)
	}
}

// ---------------------------------------------------------------------------
// Native methods
// ---------------------------------------------------------------------------

func handleNative(ec *ExecContext, ci *CallInfo, cc *CallCache, calling *Calling, me *MethodEntry) (Value, error) {
	vm := ec.vm
	callerSP := calling.callerSP()

	var args []Value
	if ci.Simple() {
		args = ec.stack[calling.ArgBase : calling.ArgBase+calling.Argc]
	} else {
		in := ec.collectArgs(ci, calling)
		a, kw, _, err := ec.splitArgs(in)
		if err != nil {
			ec.sp = callerSP
			return Nil, err
		}
		if kw.len() > 0 {
			a = append(a, vm.hashFromKeywords(kw))
		}
		args = a
	}
	if arity := me.Def.Arity; arity >= 0 && len(args) != arity {
		ec.sp = callerSP
		return Nil, vm.newArityError(len(args), arity, arity)
	}

	f, err := ec.pushFrame(nil, FrameNative, calling.Recv, calling.Block, 0, 0, 0, 0, callerSP)
	if err != nil {
		ec.sp = callerSP
		return Nil, err
	}
	f.Method = me
	v, err := me.Def.Native(ec, calling.Recv, args, calling.Block)
	ec.PopFrame()
	if err == nil {
		err = ec.checkInterrupts()
	}
	if v.IsUndef() {
		v = Nil
	}
	return v, err
}

// ---------------------------------------------------------------------------
// Attribute accessors
// ---------------------------------------------------------------------------

// attrSlot returns the ivar slot of the accessor on inst, using the slot
// index cached on the site while the receiver class is unchanged.
func (ec *ExecContext) attrSlot(cc *CallCache, inst *Instance, attr Symbol, create bool) int {
	if !cc.attrClass.IsZero() && cc.attrClass == inst.Class {
		return cc.attrIndex
	}
	c := ec.vm.classes.Get(inst.Class)
	if c == nil {
		return -1
	}
	idx := c.IvarIndex(attr)
	if idx < 0 {
		if !create {
			return -1
		}
		idx = c.nonSingleton().ensureIvar(attr)
	}
	cc.attrClass = inst.Class
	cc.attrIndex = idx
	return idx
}

func handleAttrReader(ec *ExecContext, ci *CallInfo, cc *CallCache, calling *Calling, me *MethodEntry) (Value, error) {
	ec.sp = calling.callerSP()
	if calling.Argc != 0 || !ci.Simple() {
		return Nil, ec.vm.newArityError(calling.Argc, 0, 0)
	}
	inst := AsInstance(calling.Recv)
	if inst == nil {
		return Nil, nil
	}
	idx := ec.attrSlot(cc, inst, me.Def.Attr, false)
	if idx < 0 {
		return Nil, nil
	}
	return inst.Slot(idx), nil
}

func handleAttrWriter(ec *ExecContext, ci *CallInfo, cc *CallCache, calling *Calling, me *MethodEntry) (Value, error) {
	vm := ec.vm
	ec.sp = calling.callerSP()
	if calling.Argc != 1 || !ci.Simple() {
		return Nil, vm.newArityError(calling.Argc, 1, 1)
	}
	v := ec.stack[calling.ArgBase]
	inst := AsInstance(calling.Recv)
	if inst == nil {
		return Nil, vm.newRuntimeError("can't modify instance variables of %s", vm.describe(calling.Recv))
	}
	idx := ec.attrSlot(cc, inst, me.Def.Attr, true)
	inst.SetSlot(idx, v)
	vm.barrier(inst, v)
	return v, nil
}

// ---------------------------------------------------------------------------
// Aliases and refinements
// ---------------------------------------------------------------------------

func handleAlias(ec *ExecContext, ci *CallInfo, cc *CallCache, calling *Calling, me *MethodEntry) (Value, error) {
	target := me.Def.AliasOf
	_, h := ec.selectHandler(target)
	return h(ec, ci, cc, calling, target)
}

func handleRefined(ec *ExecContext, ci *CallInfo, cc *CallCache, calling *Calling, me *MethodEntry) (Value, error) {
	vm := ec.vm
	var cref *CRef
	var cur *MethodEntry
	if f := ec.scopeFrame(); f != nil {
		cref, cur = f.CRef, f.Method
	}
	target := vm.refinedTarget(me, vm.ClassOf(calling.Recv), cref, cur)
	if target == nil {
		return ec.methodMissing(ci, calling, MissingUndefined)
	}
	_, h := ec.selectHandler(target)
	return h(ec, ci, cc, calling, target)
}

// ---------------------------------------------------------------------------
// Optimized methods
// ---------------------------------------------------------------------------

// optimizedHandler returns the handler of an Optimized method. It is a
// switch because a table would form an initialization cycle with the
// dispatcher.
func optimizedHandler(k OptimizedKind) handlerFunc {
	switch k {
	case OptSend:
		return handleSend
	case OptCall:
		return handleProcCall
	case OptBlockCall:
		return handleBlockCall
	case OptInstanceExec:
		return handleInstanceExec
	}
	panic("vm: no handler for optimized kind " + strconv.Itoa(int(k)))
}

// handleSend implements send(name, *args): the first argument is removed
// and the call re-enters the dispatcher as a functional call.
func handleSend(ec *ExecContext, ci *CallInfo, cc *CallCache, calling *Calling, me *MethodEntry) (Value, error) {
	vm := ec.vm
	callerSP := calling.callerSP()
	base := calling.ArgBase

	var name Value
	sci := &CallInfo{Flags: FlagFCall | FlagOptSend}
	if ci.Simple() {
		if calling.Argc == 0 {
			ec.sp = callerSP
			return Nil, vm.newArgumentError("no method name given")
		}
		name = ec.stack[base]
		copy(ec.stack[base:], ec.stack[base+1:base+calling.Argc])
		ec.sp = base + calling.Argc - 1
		sci.Argc = calling.Argc - 1
	} else {
		in := ec.collectArgs(ci, calling)
		pos, kw, _, err := ec.splitArgs(in)
		if err != nil {
			ec.sp = callerSP
			return Nil, err
		}
		if len(pos) == 0 {
			ec.sp = callerSP
			return Nil, vm.newArgumentError("no method name given")
		}
		name = pos[0]
		ec.sp = base
		if err := ec.reserve(len(pos)); err != nil {
			ec.sp = callerSP
			return Nil, err
		}
		for _, v := range pos[1:] {
			ec.push(v)
		}
		sci.Argc = len(pos) - 1
		if kw.len() > 0 {
			ec.push(vm.hashFromKeywords(kw))
			sci.Flags |= FlagKwSplat
			sci.Argc++
		}
	}

	sym, err := vm.toSymbol(name)
	if err != nil {
		ec.sp = callerSP
		return Nil, err
	}
	sci.Mid = sym
	sub := *calling
	sub.Argc = sci.Argc
	return ec.dispatch(sci, &CallCache{}, &sub)
}

// handleProcCall implements Proc#call.
func handleProcCall(ec *ExecContext, ci *CallInfo, cc *CallCache, calling *Calling, me *MethodEntry) (Value, error) {
	p := AsProc(calling.Recv)
	if p == nil {
		ec.sp = calling.callerSP()
		return Nil, ec.vm.newTypeError("call on %s", ec.vm.describe(calling.Recv))
	}
	return ec.invokeBlock(ProcBlock(p), ci, calling, false)
}

// handleBlockCall yields the arguments to the block of the calling method.
func handleBlockCall(ec *ExecContext, ci *CallInfo, cc *CallCache, calling *Calling, me *MethodEntry) (Value, error) {
	var blk BlockHandler
	if f := ec.scopeFrame(); f != nil {
		blk = ec.methodBlock(f)
	}
	if blk.IsNone() {
		ec.sp = calling.callerSP()
		return Nil, ec.vm.newLocalJumpError("no block given (yield)")
	}
	return ec.invokeBlock(blk, ci, calling, false)
}

// handleInstanceExec runs the given block with the receiver as self.
func handleInstanceExec(ec *ExecContext, ci *CallInfo, cc *CallCache, calling *Calling, me *MethodEntry) (Value, error) {
	blk := calling.Block
	if blk.IsNone() {
		ec.sp = calling.callerSP()
		return Nil, ec.vm.newLocalJumpError("no block given (yield)")
	}
	sub := *calling
	sub.self = calling.Recv
	sub.Block = NoBlock
	return ec.invokeBlock(blk, ci, &sub, false)
}

// toSymbol accepts a Symbol or String method name.
func (vm *VM) toSymbol(v Value) (Symbol, error) {
	if v.IsSymbol() {
		return v.Symbol(), nil
	}
	if s := AsString(v); s != nil {
		return vm.Intern(s.S), nil
	}
	return NoSymbol, vm.newTypeError("%s is not a symbol nor a string", vm.Inspect(v))
}
