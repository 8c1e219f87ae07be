package vm

// ---------------------------------------------------------------------------
// Calling convention
// ---------------------------------------------------------------------------

// Calling describes one call in progress. The Argc actual arguments sit on
// the value stack starting at ArgBase; when recvSlot is set the receiver
// occupies the slot just below them.
type Calling struct {
	Recv    Value
	ArgBase int
	Argc    int
	Block   BlockHandler

	recvSlot bool
	// finish runs a bytecode callee to completion instead of leaving its
	// frame for the caller's interpreter loop.
	finish bool
	// self replaces the self of an ISeq block (instance_exec); Undef
	// otherwise.
	self Value
	// scope, when set, is the class definitions in the block target.
	scope *Class
}

// callerSP is where the value stack pointer returns once the call is done.
func (c *Calling) callerSP() int {
	if c.recvSlot {
		return c.ArgBase - 1
	}
	return c.ArgBase
}

// collectArgs copies the actual arguments off the stack.
func (ec *ExecContext) collectArgs(ci *CallInfo, calling *Calling) *ArgList {
	args := make([]Value, calling.Argc)
	copy(args, ec.stack[calling.ArgBase:calling.ArgBase+calling.Argc])
	return &ArgList{
		Args:    args,
		Splat:   ci.Flags&FlagArgsSplat != 0,
		KwNames: ci.KwArgs,
		KwSplat: ci.Flags&FlagKwSplat != 0,
		Block:   calling.Block,
	}
}

// ---------------------------------------------------------------------------
// Dispatch
// ---------------------------------------------------------------------------

// dispatch resolves ci against the receiver through cc and runs the
// selected handler. It returns Undef when a bytecode frame was pushed for
// the caller's interpreter loop to run.
func (ec *ExecContext) dispatch(ci *CallInfo, cc *CallCache, calling *Calling) (Value, error) {
	vm := ec.vm
	recvClass := vm.ClassOf(calling.Recv)
	serial := recvClass.Serial()

	hit := cc.hit(vm, serial)
	if hit && ci.Flags&FlagSuper != 0 {
		hit = cc.superFrom == ec.superOrigin()
	}
	if hit {
		cc.Hits++
	} else {
		cc.Misses++
		if reason, ok := ec.fillCache(ci, cc, recvClass, serial); !ok {
			return ec.methodMissing(ci, calling, reason)
		}
	}

	me := cc.entry
	if cc.protected && !ec.protectedAllowed(me) {
		return ec.methodMissing(ci, calling, MissingProtected)
	}
	if len(vm.hooks) > 0 {
		return ec.dispatchTraced(ci, cc, calling, me, hit)
	}
	return cc.handler(ec, ci, cc, calling, me)
}

// fillCache resolves ci for recvClass and records the result. It reports
// false, with the reason, when the call must go to method_missing and the
// outcome could not be cached.
func (ec *ExecContext) fillCache(ci *CallInfo, cc *CallCache, recvClass *Class, serial uint64) (MissingReason, bool) {
	vm := ec.vm
	gen := vm.methodGen.Load()

	var e *MethodEntry
	var reason MissingReason
	missing := false

	if ci.Flags&FlagSuper != 0 {
		f := ec.scopeFrame()
		if f == nil || f.Method == nil {
			return MissingSuper, false
		}
		definedIn := vm.classes.Get(f.Method.DefinedIn)
		if definedIn == nil {
			return MissingSuper, false
		}
		e = vm.ResolveSuper(recvClass, definedIn, ci.Mid)
		if e == nil {
			reason, missing = MissingSuper, true
		}
		cc.superFrom = f.Method.DefinedIn
	} else {
		e = vm.findMethod(recvClass, ci.Mid)
		switch {
		case e == nil && ci.Flags&FlagVCall != 0:
			reason, missing = MissingVCall, true
		case e == nil:
			reason, missing = MissingUndefined, true
		case e.Visibility == Private && ci.Flags&FlagFCall == 0:
			reason, missing = MissingPrivate, true
		}
	}

	if missing {
		mm := vm.findMethod(recvClass, vm.symMethodMissing)
		if mm == nil {
			return reason, false
		}
		cc.record(mm, serial, gen, FamilyMissing, handleMissing)
		cc.missReason = reason
		cc.protected = false
		vm.log.Debugf("call cache miss: %s on %s -> method_missing (%s)", vm.SymbolName(ci.Mid), recvClass, reason)
		return 0, true
	}

	family, h := ec.selectHandler(e)
	cc.record(e, serial, gen, family, h)
	cc.protected = e.Visibility == Protected && ci.Flags&FlagFCall == 0
	cc.fastBind = false
	if target := aliasTarget(e); target.Def.Kind == MethodISeq {
		cc.fastBind = ci.Simple() && target.Def.ISeq.Params.Simple()
	}
	vm.log.Debugf("call cache miss: %s on %s -> %s (%s, %d serials)",
		vm.SymbolName(ci.Mid), recvClass, vm.methodOwnerName(e), family, cc.count)
	return 0, true
}

// superOrigin returns the DefinedIn of the method a super call runs in.
func (ec *ExecContext) superOrigin() ClassRef {
	if f := ec.scopeFrame(); f != nil && f.Method != nil {
		return f.Method.DefinedIn
	}
	return ClassRef{}
}

// scopeFrame returns the innermost bytecode frame: the lexical scope of a
// call made from bytecode or from a native method it called.
func (ec *ExecContext) scopeFrame() *ControlFrame {
	for i := ec.fp - 1; i >= 0; i-- {
		if ec.frames[i].Kind != FrameNative {
			return &ec.frames[i]
		}
	}
	return nil
}

// selectHandler picks the handler family for a resolved entry.
func (ec *ExecContext) selectHandler(e *MethodEntry) (HandlerFamily, handlerFunc) {
	switch e.Def.Kind {
	case MethodISeq:
		if e.Def.ISeq.accel != nil {
			return FamilyAccel, handleAccel
		}
		return FamilyISeq, handleISeq
	case MethodNative:
		return FamilyNative, handleNative
	case MethodAttrReader:
		return FamilyAttrReader, handleAttrReader
	case MethodAttrWriter:
		return FamilyAttrWriter, handleAttrWriter
	case MethodAlias:
		return FamilyAlias, handleAlias
	case MethodRefined:
		return FamilyRefined, handleRefined
	case MethodOptimized:
		return FamilyOptimized, optimizedHandler(e.Def.Optimized)
	case MethodMissingDefault:
		return FamilyMissing, handleMissingDefault
	}
	panic("vm: no handler for method kind " + e.Def.Kind.String())
}

// aliasTarget follows an alias to the entry it names.
func aliasTarget(e *MethodEntry) *MethodEntry {
	if e.Def.Kind == MethodAlias {
		return e.Def.AliasOf
	}
	return e
}

// callEntry runs a known entry without touching any call site cache.
func (ec *ExecContext) callEntry(ci *CallInfo, calling *Calling, e *MethodEntry) (Value, error) {
	_, h := ec.selectHandler(e)
	return h(ec, ci, &CallCache{}, calling, e)
}

// ---------------------------------------------------------------------------
// method_missing
// ---------------------------------------------------------------------------

// methodMissing calls method_missing(name, *args, &blk) on the receiver.
func (ec *ExecContext) methodMissing(ci *CallInfo, calling *Calling, reason MissingReason) (Value, error) {
	vm := ec.vm
	mm := vm.findMethod(vm.ClassOf(calling.Recv), vm.symMethodMissing)
	if mm == nil || mm.Def.Kind == MethodMissingDefault {
		ec.sp = calling.callerSP()
		return Nil, vm.newNoMethodError(ci.Mid, calling.Recv, reason)
	}

	if err := ec.reserve(1); err != nil {
		ec.sp = calling.callerSP()
		return Nil, err
	}
	base := calling.ArgBase
	copy(ec.stack[base+1:], ec.stack[base:base+calling.Argc])
	ec.stack[base] = FromSymbol(ci.Mid)
	ec.sp = base + calling.Argc + 1

	ec.missingReason = reason
	sub := *calling
	sub.Argc++
	mci := &CallInfo{
		Mid:    vm.symMethodMissing,
		Argc:   ci.Argc + 1,
		Flags:  (ci.Flags | FlagFCall) &^ (FlagSuper | FlagVCall | FlagTailCall),
		KwArgs: ci.KwArgs,
	}
	return ec.callEntry(mci, &sub, mm)
}

func handleMissing(ec *ExecContext, ci *CallInfo, cc *CallCache, calling *Calling, me *MethodEntry) (Value, error) {
	return ec.methodMissing(ci, calling, cc.missReason)
}

// handleMissingDefault is the built-in method_missing: it raises
// NoMethodError for the name in the first argument.
func handleMissingDefault(ec *ExecContext, ci *CallInfo, cc *CallCache, calling *Calling, me *MethodEntry) (Value, error) {
	vm := ec.vm
	ec.sp = calling.callerSP()
	if calling.Argc == 0 || !ec.stack[calling.ArgBase].IsSymbol() {
		return Nil, vm.newArgumentError("no method name given")
	}
	name := ec.stack[calling.ArgBase].Symbol()
	return Nil, vm.newNoMethodError(name, calling.Recv, ec.missingReason)
}

// ---------------------------------------------------------------------------
// Tracing
// ---------------------------------------------------------------------------

// dispatchTraced runs the handler between the installed hooks. The callee
// runs to completion so AfterCall sees its result.
func (ec *ExecContext) dispatchTraced(ci *CallInfo, cc *CallCache, calling *Calling, me *MethodEntry, hit bool) (Value, error) {
	vm := ec.vm
	ev := &CallEvent{
		Receiver: calling.Recv,
		Class:    vm.ClassOf(calling.Recv),
		Method:   me,
		Name:     ci.Mid,
		Family:   cc.family,
		CacheHit: hit,
		Depth:    ec.fp,
	}
	for _, h := range vm.hooks {
		h.BeforeCall(ec, ev)
	}
	sub := *calling
	sub.finish = true
	v, err := cc.handler(ec, ci, cc, &sub, me)
	ev.Result, ev.Err = v, err
	for i := len(vm.hooks) - 1; i >= 0; i-- {
		vm.hooks[i].AfterCall(ec, ev)
	}
	return v, err
}

// ---------------------------------------------------------------------------
// Entry points for Go callers
// ---------------------------------------------------------------------------

// CallMode selects the visibility rules of a call made from Go.
type CallMode uint8

const (
	// CallPublic is an explicit-receiver call: only public methods.
	CallPublic CallMode = iota
	// CallFunctional is an implicit-self call: private methods allowed.
	CallFunctional
)

// Call invokes name on recv and runs it to completion. tok must be the
// held execution token.
func (ec *ExecContext) Call(tok *Token, recv Value, name string, args []Value, blk BlockHandler, mode CallMode) (Value, error) {
	tok.mustHold(ec.vm)
	ec.token = tok
	var flags CallFlag
	if mode == CallFunctional {
		flags = FlagFCall
	}
	ci := &CallInfo{Mid: ec.vm.Intern(name), Argc: len(args), Flags: flags}
	return ec.callWith(ci, &CallCache{}, recv, args, blk)
}

func (ec *ExecContext) callWith(ci *CallInfo, cc *CallCache, recv Value, args []Value, blk BlockHandler) (Value, error) {
	base := ec.sp
	if err := ec.reserve(len(args) + 1); err != nil {
		return Nil, err
	}
	ec.push(recv)
	for _, a := range args {
		ec.push(a)
	}
	calling := Calling{
		Recv:     recv,
		ArgBase:  base + 1,
		Argc:     len(args),
		Block:    blk,
		recvSlot: true,
		finish:   true,
	}
	v, err := ec.dispatch(ci, cc, &calling)
	ec.sp = base
	return v, err
}

// CallSite is a call descriptor with its own cache, for native code that
// makes the same call repeatedly.
type CallSite struct {
	ci *CallInfo
	cc CallCache
}

// NewCallSite creates a cached call site. argc includes the values of
// kwargs, which are passed last.
func (vm *VM) NewCallSite(name string, argc int, flags CallFlag, kwargs ...string) *CallSite {
	syms := make([]Symbol, len(kwargs))
	for i, k := range kwargs {
		syms[i] = vm.Intern(k)
	}
	return &CallSite{ci: NewCallInfo(vm.Intern(name), argc, flags, syms...)}
}

// Call invokes the site on recv. It must run under the token held by ec.
func (s *CallSite) Call(ec *ExecContext, recv Value, args []Value, blk BlockHandler) (Value, error) {
	if len(args) != s.ci.Argc {
		return Nil, ec.vm.newArgumentError("call site %s expects %d values, got %d",
			ec.vm.SymbolName(s.ci.Mid), s.ci.Argc, len(args))
	}
	return ec.callWith(s.ci, &s.cc, recv, args, blk)
}

// Info returns the site's call descriptor.
func (s *CallSite) Info() *CallInfo { return s.ci }

// Cache returns the site's call cache.
func (s *CallSite) Cache() *CallCache { return &s.cc }
