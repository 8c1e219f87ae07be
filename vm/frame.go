package vm

// FrameKind says what kind of code a control frame runs.
type FrameKind uint8

const (
	FrameMethod FrameKind = iota
	FrameBlock
	FrameClass
	FrameTop
	FrameNative
	FrameRescue
	FrameEnsure
	FrameEval
)

var frameKindNames = [...]string{
	FrameMethod: "method",
	FrameBlock:  "block",
	FrameClass:  "class",
	FrameTop:    "top",
	FrameNative: "native",
	FrameRescue: "rescue",
	FrameEnsure: "ensure",
	FrameEval:   "eval",
}

func (k FrameKind) String() string {
	if int(k) < len(frameKindNames) {
		return frameKindNames[k]
	}
	return "unknown"
}

type frameFlag uint8

const (
	// frameFinish ends the interpreter loop that was entered for it.
	frameFinish frameFlag = 1 << iota
	// frameLambda binds strictly and makes return local.
	frameLambda
)

// FrameOverhead is the number of bookkeeping slots reserved between a
// frame's locals and its operand stack.
const FrameOverhead = 3

// ControlFrame is one activation on an ExecContext.
//
// Locals live in the value stack at [BP, BP+LocalSize); the operand stack
// starts at StackBase. CallerSP is where the value stack pointer returns to
// when the frame is popped.
type ControlFrame struct {
	ISeq   *ISeq
	PC     int
	insnPC int

	BP        int
	StackBase int
	CallerSP  int

	Self   Value
	Method *MethodEntry
	Block  BlockHandler

	// Env is the escaped environment of this frame, created the first
	// time a block captures it.
	Env *Env
	// Outer is the captured environment a block frame runs in.
	Outer *Env
	CRef  *CRef

	Kind  FrameKind
	flags frameFlag

	// callSP is the stack pointer at the receiver slot of the call in
	// progress; a break landing here pushes its value there.
	callSP int

	// pending is the error an ensure handler resumes with OpRethrow.
	pending error
}

// IsFinish reports whether popping f returns to Go code.
func (f *ControlFrame) IsFinish() bool { return f.flags&frameFinish != 0 }

// IsLambda reports whether f runs a lambda body.
func (f *ControlFrame) IsLambda() bool { return f.flags&frameLambda != 0 }

// ---------------------------------------------------------------------------
// Env: the lexical environment captured by closures
// ---------------------------------------------------------------------------

// Env is the environment of a frame captured by a block. While the frame
// is live, locals are read from the value stack; when the frame is popped
// they are copied to the heap and the Env detaches.
type Env struct {
	Header

	ec     *ExecContext
	bp     int
	size   int
	live   bool
	locals []Value

	Outer  *Env
	Self   Value
	Block  BlockHandler
	Method *MethodEntry
	ISeq   *ISeq
	CRef   *CRef

	lambda bool
}

// Live reports whether the frame that owns e is still on the stack.
func (e *Env) Live() bool { return e.live }

// Get returns local i.
func (e *Env) Get(i int) Value {
	if e.live {
		return e.ec.stack[e.bp+i]
	}
	return e.locals[i]
}

// Set stores local i.
func (e *Env) Set(i int, v Value) {
	if e.live {
		e.ec.stack[e.bp+i] = v
		return
	}
	e.locals[i] = v
	if v.kind == KindObject {
		e.ec.vm.barrier(e, v)
	}
}

func (e *Env) detach() {
	e.locals = make([]Value, e.size)
	copy(e.locals, e.ec.stack[e.bp:e.bp+e.size])
	e.live = false
}

// home returns the environment of the method (or top-level) scope e is
// nested in.
func (e *Env) home() *Env {
	for e.Outer != nil {
		e = e.Outer
	}
	return e
}

// escape returns the environment of f, creating it on first capture.
func (ec *ExecContext) escape(f *ControlFrame) *Env {
	if f.Env != nil {
		return f.Env
	}
	size := 0
	if f.ISeq != nil {
		size = f.ISeq.LocalSize
	}
	env := &Env{
		Header: Header{Type: TypeEnv},
		ec:     ec,
		bp:     f.BP,
		size:   size,
		live:   true,
		Outer:  f.Outer,
		Self:   f.Self,
		Block:  f.Block,
		Method: f.Method,
		ISeq:   f.ISeq,
		CRef:   f.CRef,
		lambda: f.IsLambda(),
	}
	ec.vm.barrier(env, f.Self)
	f.Env = env
	return env
}

// ---------------------------------------------------------------------------
// Local access
// ---------------------------------------------------------------------------

func (ec *ExecContext) getLocal(f *ControlFrame, idx, level int) Value {
	if level == 0 {
		return ec.stack[f.BP+idx]
	}
	env := f.Outer
	for l := 1; l < level; l++ {
		env = env.Outer
	}
	return env.Get(idx)
}

func (ec *ExecContext) setLocal(f *ControlFrame, idx, level int, v Value) {
	if level == 0 {
		ec.stack[f.BP+idx] = v
		return
	}
	env := f.Outer
	for l := 1; l < level; l++ {
		env = env.Outer
	}
	env.Set(idx, v)
}

// methodBlock returns the block passed to the method whose scope f runs
// in; yield inside a block targets it.
func (ec *ExecContext) methodBlock(f *ControlFrame) BlockHandler {
	if f.Kind != FrameBlock || f.Outer == nil {
		return f.Block
	}
	return f.Outer.home().Block
}
