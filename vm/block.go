package vm

// BlockKind classifies a block handler.
type BlockKind uint8

const (
	BlockNone   BlockKind = iota
	BlockISeq             // block literal: iseq + captured env + self
	BlockNative           // Go function
	BlockSymbol           // &:name
	BlockProc             // reified closure, possibly a lambda
)

// NativeBlockFunc is a block implemented in Go.
type NativeBlockFunc func(ec *ExecContext, args []Value, blk BlockHandler) (Value, error)

// BlockHandler is the block passed along with a call. The zero value means
// no block.
type BlockHandler struct {
	kind   BlockKind
	iseq   *ISeq
	env    *Env
	self   Value
	native NativeBlockFunc
	sym    Symbol
	proc   *Proc
}

// NoBlock is the absent block.
var NoBlock = BlockHandler{}

// iseqBlock creates a block running iseq in env with the given self.
func iseqBlock(iseq *ISeq, env *Env, self Value) BlockHandler {
	return BlockHandler{kind: BlockISeq, iseq: iseq, env: env, self: self}
}

// NativeBlock wraps a Go function as a block.
func NativeBlock(fn NativeBlockFunc) BlockHandler {
	return BlockHandler{kind: BlockNative, native: fn}
}

// SymbolBlock creates a block calling name on its first argument.
func SymbolBlock(name Symbol) BlockHandler {
	return BlockHandler{kind: BlockSymbol, sym: name}
}

// ProcBlock passes an existing Proc as a block.
func ProcBlock(p *Proc) BlockHandler {
	return BlockHandler{kind: BlockProc, proc: p}
}

// Kind returns the handler kind.
func (h BlockHandler) Kind() BlockKind { return h.kind }

// IsNone reports whether no block was given.
func (h BlockHandler) IsNone() bool { return h.kind == BlockNone }

// Proc returns the Proc of a BlockProc handler, or nil.
func (h BlockHandler) Proc() *Proc { return h.proc }

// ---------------------------------------------------------------------------
// Conversions between blocks and values
// ---------------------------------------------------------------------------

// NewProc reifies a block handler. Passing a BlockProc handler returns its
// Proc unchanged.
func (vm *VM) NewProc(h BlockHandler, lambda bool) *Proc {
	if h.kind == BlockProc {
		return h.proc
	}
	p := vm.heap.Allocate(vm.ProcClass, 0).(*Proc)
	p.Block = h
	p.Lambda = lambda
	if h.env != nil {
		vm.barrier(p, FromObject(h.env))
	}
	return p
}

// blockValue converts a block to the value of a &blk parameter.
func (vm *VM) blockValue(h BlockHandler) Value {
	if h.kind == BlockNone {
		return Nil
	}
	lambda := h.kind == BlockISeq && h.iseq.Lambda
	return FromObject(vm.NewProc(h, lambda))
}

// blockFromValue converts a &blk argument to a block handler.
func (vm *VM) blockFromValue(v Value) (BlockHandler, error) {
	switch {
	case v.IsNil():
		return NoBlock, nil
	case v.IsSymbol():
		return SymbolBlock(v.Symbol()), nil
	}
	if p := AsProc(v); p != nil {
		return ProcBlock(p), nil
	}
	return NoBlock, vm.newTypeError("wrong argument type %s (expected Proc)", vm.ClassOf(v).nonSingleton().Name)
}

// ---------------------------------------------------------------------------
// Invocation
// ---------------------------------------------------------------------------

// InvokeBlock calls a block from Go with the given arguments and runs it
// to completion.
func (ec *ExecContext) InvokeBlock(h BlockHandler, args []Value, blockArg BlockHandler) (Value, error) {
	return ec.invokeBlockFrom(h, args, blockArg, Undef, nil)
}

// InvokeBlockWithSelf is InvokeBlock with self replaced for ISeq blocks.
func (ec *ExecContext) InvokeBlockWithSelf(h BlockHandler, self Value, args []Value, blockArg BlockHandler) (Value, error) {
	return ec.invokeBlockFrom(h, args, blockArg, self, nil)
}

// InvokeBlockUnder runs an ISeq block with self and the definition target
// both set to c, as class_eval does.
func (ec *ExecContext) InvokeBlockUnder(h BlockHandler, c *Class, args []Value) (Value, error) {
	return ec.invokeBlockFrom(h, args, NoBlock, FromObject(c), c)
}

func (ec *ExecContext) invokeBlockFrom(h BlockHandler, args []Value, blockArg BlockHandler, self Value, scope *Class) (Value, error) {
	if h.kind == BlockNone {
		return Nil, ec.vm.newLocalJumpError("no block given (yield)")
	}
	base := ec.sp
	if err := ec.reserve(len(args)); err != nil {
		return Nil, err
	}
	for _, a := range args {
		ec.push(a)
	}
	calling := Calling{ArgBase: base, Argc: len(args), Block: blockArg, finish: true, self: self, scope: scope}
	v, err := ec.invokeBlock(h, ec.vm.yieldInfo(len(args)), &calling, false)
	ec.sp = base
	return v, err
}

// invokeBlock dispatches on the handler kind. The arguments are on the
// stack at calling.ArgBase with no receiver slot. When calling.finish is
// false an ISeq block is only pushed and Undef returned.
func (ec *ExecContext) invokeBlock(h BlockHandler, ci *CallInfo, calling *Calling, lambda bool) (Value, error) {
	switch h.kind {
	case BlockISeq:
		return ec.invokeISeqBlock(h, ci, calling, lambda || h.iseq.Lambda)

	case BlockNative:
		return ec.invokeNativeBlock(h, ci, calling)

	case BlockSymbol:
		if calling.Argc == 0 {
			ec.sp = calling.callerSP()
			return Nil, ec.vm.newArgumentError("no receiver given")
		}
		sub := &Calling{
			Recv:     ec.stack[calling.ArgBase],
			ArgBase:  calling.ArgBase + 1,
			Argc:     calling.Argc - 1,
			Block:    calling.Block,
			recvSlot: true,
			finish:   calling.finish,
		}
		sci := &CallInfo{Mid: h.sym, Argc: calling.Argc - 1, Flags: ci.Flags &^ FlagFCall}
		return ec.dispatch(sci, &CallCache{}, sub)

	case BlockProc:
		p := h.proc
		return ec.invokeBlock(p.Block, ci, calling, p.Lambda)

	default:
		ec.sp = calling.callerSP()
		return Nil, ec.vm.newLocalJumpError("no block given (yield)")
	}
}

func (ec *ExecContext) invokeISeqBlock(h BlockHandler, ci *CallInfo, calling *Calling, lambda bool) (Value, error) {
	iseq := h.iseq
	p := &iseq.Params
	self := h.self
	if !calling.self.IsUndef() {
		self = calling.self
	}
	callerSP := calling.callerSP()
	mode := bindBlock
	if lambda {
		mode = bindLambda
	}

	var f *ControlFrame
	var err error
	if lambda && ci.Simple() && p.Simple() && calling.Argc == p.Lead {
		ec.sp = calling.ArgBase
		f, err = ec.pushFrame(iseq, FrameBlock, self, calling.Block, 0, iseq.LocalSize, iseq.StackMax, calling.Argc, callerSP)
		if err != nil {
			ec.sp = callerSP
			return Nil, err
		}
		ec.setupBlockFrame(f, h, lambda, calling)
		if p.Block {
			ec.stack[f.BP+p.BlockIndex()] = ec.vm.blockValue(calling.Block)
		}
	} else {
		in := ec.collectArgs(ci, calling)
		ec.sp = calling.ArgBase
		f, err = ec.pushFrame(iseq, FrameBlock, self, calling.Block, 0, iseq.LocalSize, iseq.StackMax, 0, callerSP)
		if err != nil {
			ec.sp = callerSP
			return Nil, err
		}
		ec.setupBlockFrame(f, h, lambda, calling)
		locals := ec.stack[f.BP : f.BP+iseq.LocalSize]
		var warn BindWarning
		if ci.Simple() && p.Simple() {
			err = ec.bindSimple(p, in.Args, in.Block, locals, mode)
		} else {
			warn, err = ec.bindGeneral(p, in, locals, mode, f)
		}
		ec.noteBindWarnings(warn, iseq)
		if err != nil {
			ec.PopFrame()
			return Nil, err
		}
	}
	if !calling.finish {
		return Undef, nil
	}
	return ec.run()
}

func (ec *ExecContext) setupBlockFrame(f *ControlFrame, h BlockHandler, lambda bool, calling *Calling) {
	f.Outer = h.env
	if h.env != nil {
		f.CRef = h.env.CRef
		f.Method = h.env.Method
	}
	if calling.scope != nil {
		f.CRef = NewCRef(calling.scope, f.CRef)
	}
	if lambda {
		f.flags |= frameLambda
	}
	if calling.finish {
		f.flags |= frameFinish
	}
}

func (ec *ExecContext) invokeNativeBlock(h BlockHandler, ci *CallInfo, calling *Calling) (Value, error) {
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
			a = append(a, ec.vm.hashFromKeywords(kw))
		}
		args = a
	}
	if _, err := ec.pushFrame(nil, FrameNative, Nil, calling.Block, 0, 0, 0, 0, callerSP); err != nil {
		ec.sp = callerSP
		return Nil, err
	}
	v, err := h.native(ec, args, calling.Block)
	ec.PopFrame()
	if err == nil {
		err = ec.checkInterrupts()
	}
	return v, err
}

// evalInScope runs iseq to completion as a nested scope of env, as used
// for default parameter expressions.
func (ec *ExecContext) evalInScope(iseq *ISeq, env *Env, self Value) (Value, error) {
	f, err := ec.pushFrame(iseq, FrameEval, self, env.Block, 0, iseq.LocalSize, iseq.StackMax, 0, ec.sp)
	if err != nil {
		return Nil, err
	}
	f.Outer = env
	f.CRef = env.CRef
	f.Method = env.Method
	f.flags |= frameFinish
	return ec.run()
}

// yieldInfo returns a shared call descriptor for plain yields of argc
// arguments.
func (vm *VM) yieldInfo(argc int) *CallInfo {
	if argc < len(vm.yieldInfos) {
		return vm.yieldInfos[argc]
	}
	return &CallInfo{Mid: vm.symYield, Argc: argc}
}
