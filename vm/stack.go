package vm

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// ExecContext is one thread of execution: a value stack, a frame stack and
// the interrupt and overflow state that goes with them. A context is used
// by one goroutine at a time, and only while it holds the GVL.
type ExecContext struct {
	vm *VM

	stack []Value
	sp    int

	frames []ControlFrame
	fp     int

	token *Token

	interruptFlag atomic.Bool
	interruptMu   sync.Mutex
	interrupt     error

	overflowing bool

	// missingReason is the reason of the method_missing call in progress.
	missingReason MissingReason

	// LastBindWarnings holds the warnings of the most recent general
	// argument binding.
	LastBindWarnings BindWarning
}

// NewExecContext creates a context sized by the VM configuration.
func (vm *VM) NewExecContext() *ExecContext {
	return &ExecContext{
		vm:     vm,
		stack:  make([]Value, vm.cfg.StackSlots),
		frames: make([]ControlFrame, vm.cfg.MaxFrames),
	}
}

// VM returns the owning VM.
func (ec *ExecContext) VM() *VM { return ec.vm }

// Token returns the execution token the context currently runs under.
func (ec *ExecContext) Token() *Token { return ec.token }

// Depth returns the number of live frames.
func (ec *ExecContext) Depth() int { return ec.fp }

// SP returns the value stack pointer.
func (ec *ExecContext) SP() int { return ec.sp }

// StackSlot returns value stack slot i. Intended for tests and debuggers.
func (ec *ExecContext) StackSlot(i int) Value { return ec.stack[i] }

// cfp returns the current frame, or nil.
func (ec *ExecContext) cfp() *ControlFrame {
	if ec.fp == 0 {
		return nil
	}
	return &ec.frames[ec.fp-1]
}

// Frame returns the frame depth levels below the top (0 is the top).
func (ec *ExecContext) Frame(depth int) *ControlFrame {
	i := ec.fp - 1 - depth
	if i < 0 {
		return nil
	}
	return &ec.frames[i]
}

// callerFrame returns the nearest non-native frame below the top.
func (ec *ExecContext) callerFrame() *ControlFrame {
	for i := ec.fp - 2; i >= 0; i-- {
		if ec.frames[i].Kind != FrameNative {
			return &ec.frames[i]
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Operand stack
// ---------------------------------------------------------------------------

func (ec *ExecContext) push(v Value) {
	ec.stack[ec.sp] = v
	ec.sp++
}

func (ec *ExecContext) pop() Value {
	ec.sp--
	return ec.stack[ec.sp]
}

func (ec *ExecContext) top() Value {
	return ec.stack[ec.sp-1]
}

// reserve fails with StackOverflow unless n more slots fit.
func (ec *ExecContext) reserve(n int) error {
	if ec.sp+n > len(ec.stack) {
		return ec.stackOverflow()
	}
	return nil
}

// ---------------------------------------------------------------------------
// Frames
// ---------------------------------------------------------------------------

// PushFrame pushes a frame whose locals start at the current stack pointer.
// It reserves localSize + stackMax + FrameOverhead slots and fails with
// StackOverflow, without writing anything, if they do not fit or the frame
// stack is full. Locals are initialised to nil.
func (ec *ExecContext) PushFrame(iseq *ISeq, kind FrameKind, self Value, block BlockHandler, pc, localSize, stackMax int) (*ControlFrame, error) {
	return ec.pushFrame(iseq, kind, self, block, pc, localSize, stackMax, 0, ec.sp)
}

// pushFrame is PushFrame keeping the first keep locals (arguments already
// in place) and returning the stack pointer to callerSP on pop.
func (ec *ExecContext) pushFrame(iseq *ISeq, kind FrameKind, self Value, block BlockHandler, pc, localSize, stackMax, keep, callerSP int) (*ControlFrame, error) {
	bp := ec.sp
	if bp+localSize+FrameOverhead+stackMax > len(ec.stack) || ec.fp >= len(ec.frames) {
		return nil, ec.stackOverflow()
	}
	for i := bp + keep; i < bp+localSize+FrameOverhead; i++ {
		ec.stack[i] = Nil
	}
	f := &ec.frames[ec.fp]
	ec.fp++
	*f = ControlFrame{
		ISeq:      iseq,
		PC:        pc,
		BP:        bp,
		StackBase: bp + localSize + FrameOverhead,
		CallerSP:  callerSP,
		Self:      self,
		Block:     block,
		Kind:      kind,
	}
	ec.sp = f.StackBase
	return f, nil
}

// PopFrame pops the top frame, restoring the caller's stack pointer. It
// reports whether the popped frame was a finish frame.
func (ec *ExecContext) PopFrame() bool {
	f := &ec.frames[ec.fp-1]
	if f.Env != nil {
		f.Env.detach()
	}
	finish := f.flags&frameFinish != 0
	ec.sp = f.CallerSP
	*f = ControlFrame{}
	ec.fp--
	if ec.fp == 0 {
		ec.overflowing = false
	}
	return finish
}

// unwindTo pops frames until depth remain, without running handlers.
func (ec *ExecContext) unwindTo(depth int) {
	for ec.fp > depth {
		ec.PopFrame()
	}
}

// ---------------------------------------------------------------------------
// Stack overflow
// ---------------------------------------------------------------------------

// stackOverflow builds the exception for a failed reservation. A second
// overflow while the first is still unwinding, or any overflow during a
// collection, is fatal and uses the preallocated fatal exception.
func (ec *ExecContext) stackOverflow() *Exception {
	vm := ec.vm
	if ec.overflowing || vm.heap.InGC() {
		vm.log.Errorf("fatal stack overflow at depth %d (sp %d)", ec.fp, ec.sp)
		return vm.fatalOverflow
	}
	ec.overflowing = true
	vm.log.Debugf("stack overflow at depth %d (sp %d)", ec.fp, ec.sp)
	e := *vm.overflowTemplate
	return &e
}

// ---------------------------------------------------------------------------
// Interrupts
// ---------------------------------------------------------------------------

// Interrupt asks the context to raise err at its next interrupt check
// (frame pop or backward branch). Safe to call from any goroutine.
func (ec *ExecContext) Interrupt(err error) {
	ec.interruptMu.Lock()
	ec.interrupt = err
	ec.interruptMu.Unlock()
	ec.interruptFlag.Store(true)
}

func (ec *ExecContext) checkInterrupts() error {
	if !ec.interruptFlag.Load() {
		return nil
	}
	ec.interruptMu.Lock()
	err := ec.interrupt
	ec.interrupt = nil
	ec.interruptFlag.Store(false)
	ec.interruptMu.Unlock()
	return err
}

// ---------------------------------------------------------------------------
// Backtraces
// ---------------------------------------------------------------------------

// Backtrace describes the live frames, innermost first.
func (ec *ExecContext) Backtrace() []string {
	out := make([]string, 0, ec.fp)
	for i := ec.fp - 1; i >= 0; i-- {
		f := &ec.frames[i]
		switch {
		case f.Kind == FrameNative && f.Method != nil:
			out = append(out, fmt.Sprintf("in '%s' (native)", ec.vm.SymbolName(f.Method.Name)))
		case f.ISeq != nil:
			out = append(out, fmt.Sprintf("in '%s' (%s, pc %d)", f.ISeq.Name, f.Kind, f.insnPC))
		default:
			out = append(out, fmt.Sprintf("in <%s>", f.Kind))
		}
	}
	return out
}
