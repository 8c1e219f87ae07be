package vm

import (
	"encoding/binary"
	"fmt"

	"fortio.org/safecast"
)

// ISeqType is the kind of code an instruction sequence holds.
type ISeqType uint8

const (
	ISeqTop ISeqType = iota
	ISeqMethod
	ISeqBlock
	ISeqClass
	ISeqRescue
	ISeqEnsure
	ISeqEval
)

var iseqTypeNames = [...]string{
	ISeqTop:    "top",
	ISeqMethod: "method",
	ISeqBlock:  "block",
	ISeqClass:  "class",
	ISeqRescue: "rescue",
	ISeqEnsure: "ensure",
	ISeqEval:   "eval",
}

func (t ISeqType) String() string {
	if int(t) < len(iseqTypeNames) {
		return iseqTypeNames[t]
	}
	return "unknown"
}

// CatchType is the kind of a catch table entry.
type CatchType uint8

const (
	CatchRescue CatchType = iota
	CatchEnsure
	CatchRetry
	CatchBreak
)

func (t CatchType) String() string {
	switch t {
	case CatchRescue:
		return "rescue"
	case CatchEnsure:
		return "ensure"
	case CatchRetry:
		return "retry"
	case CatchBreak:
		return "break"
	default:
		return "unknown"
	}
}

// CatchEntry covers the instructions starting in [Start, End). When a
// matching error unwinds through that range the operand stack is cut back
// to SP values and execution continues at Cont.
//
// Rescue entries push the exception and match it against Classes
// (StandardError when empty). Ensure entries keep the error pending until
// the handler executes OpRethrow. Retry entries catch retry transfers. A
// break entry says where a break out of a block passed by a call in the
// range continues; without one it continues after the call.
type CatchEntry struct {
	Type    CatchType
	Start   int
	End     int
	Cont    int
	SP      int
	Classes []string
}

// ISeq is an immutable compiled instruction sequence plus the mutable call
// caches of its call sites.
type ISeq struct {
	Name       string
	Type       ISeqType
	Path       string
	Code       []byte
	Params     Params
	LocalNames []string
	LocalSize  int
	StackMax   int
	Literals   []Value
	CallInfos  []*CallInfo
	Children   []*ISeq
	CatchTable []CatchEntry
	// Lambda marks a block literal that creates a lambda.
	Lambda bool

	caches []CallCache
	accel  AccelFunc
}

// Prepare allocates the call caches of iseq and its children. It is safe
// to call more than once.
func (iseq *ISeq) Prepare() {
	if len(iseq.caches) != len(iseq.CallInfos) {
		iseq.caches = make([]CallCache, len(iseq.CallInfos))
	}
	for _, child := range iseq.Children {
		child.Prepare()
	}
	for _, d := range iseq.Params.Opt {
		if d.Expr != nil {
			d.Expr.Prepare()
		}
	}
	for _, d := range iseq.Params.KwDefaults {
		if d.Expr != nil {
			d.Expr.Prepare()
		}
	}
}

// CallCache returns the cache of call site i.
func (iseq *ISeq) CallCache(i int) *CallCache {
	return &iseq.caches[i]
}

// catchEntry returns the innermost entry of type typ covering pc.
func (iseq *ISeq) catchEntry(typ CatchType, pc int) *CatchEntry {
	for i := range iseq.CatchTable {
		ce := &iseq.CatchTable[i]
		if ce.Type == typ && pc >= ce.Start && pc < ce.End {
			return ce
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Assembler
// ---------------------------------------------------------------------------

// Label marks a code position for jumps and catch ranges.
type Label struct {
	position int
	depth    int
	resolved bool
	refs     []int
}

type pendingCatch struct {
	typ             CatchType
	start, end, cnt *Label
	classes         []string
}

// Assembler builds an ISeq instruction by instruction. It tracks the
// operand stack depth to size StackMax and records the first operand that
// does not fit its encoding.
type Assembler struct {
	vm      *VM
	iseq    *ISeq
	code    []byte
	depth   int
	max     int
	err     error
	locals  map[string]int
	catches []pendingCatch
	labels  []*Label
}

// NewAssembler starts a new instruction sequence.
func (vm *VM) NewAssembler(name string, typ ISeqType) *Assembler {
	return &Assembler{
		vm:     vm,
		iseq:   &ISeq{Name: name, Type: typ},
		locals: make(map[string]int),
	}
}

// Params sets the formal parameters. names label the parameter slots in
// layout order and must be given before any other local is declared.
func (a *Assembler) Params(p Params, names ...string) *Assembler {
	a.iseq.Params = p
	for _, n := range names {
		a.Local(n)
	}
	return a
}

// Lambda marks a block sequence as a lambda literal.
func (a *Assembler) Lambda() *Assembler {
	a.iseq.Lambda = true
	return a
}

// Local returns the slot of a named local, declaring it if needed.
func (a *Assembler) Local(name string) int {
	if i, ok := a.locals[name]; ok {
		return i
	}
	i := len(a.iseq.LocalNames)
	a.locals[name] = i
	a.iseq.LocalNames = append(a.iseq.LocalNames, name)
	return i
}

func (a *Assembler) fail(err error) {
	if a.err == nil {
		a.err = fmt.Errorf("assemble %s: %w", a.iseq.Name, err)
	}
}

func (a *Assembler) push(n int) {
	a.depth += n
	if a.depth > a.max {
		a.max = a.depth
	}
}

func (a *Assembler) pop(n int) {
	a.depth -= n
	if a.depth < 0 {
		a.depth = 0
	}
}

func (a *Assembler) emit(op Opcode) {
	a.code = append(a.code, byte(op))
}

func (a *Assembler) u8(n int) {
	v, err := safecast.Conv[uint8](n)
	if err != nil {
		a.fail(err)
	}
	a.code = append(a.code, v)
}

func (a *Assembler) u16(n int) {
	v, err := safecast.Conv[uint16](n)
	if err != nil {
		a.fail(err)
	}
	a.code = binary.LittleEndian.AppendUint16(a.code, v)
}

// literal returns the index of v in the literal table.
func (a *Assembler) literal(v Value) int {
	for i, l := range a.iseq.Literals {
		if Identical(l, v) {
			return i
		}
	}
	a.iseq.Literals = append(a.iseq.Literals, v)
	return len(a.iseq.Literals) - 1
}

// Child adds a nested sequence (block, method body, default expression)
// and returns its index.
func (a *Assembler) Child(child *ISeq) int {
	for i, c := range a.iseq.Children {
		if c == child {
			return i
		}
	}
	a.iseq.Children = append(a.iseq.Children, child)
	return len(a.iseq.Children) - 1
}

func (a *Assembler) callInfo(ci *CallInfo) int {
	a.iseq.CallInfos = append(a.iseq.CallInfos, ci)
	return len(a.iseq.CallInfos) - 1
}

func (a *Assembler) Nop() *Assembler     { a.emit(OpNop); return a }
func (a *Assembler) Pop() *Assembler     { a.emit(OpPop); a.pop(1); return a }
func (a *Assembler) Dup() *Assembler     { a.emit(OpDup); a.push(1); return a }
func (a *Assembler) PutNil() *Assembler  { a.emit(OpPutNil); a.push(1); return a }
func (a *Assembler) PutSelf() *Assembler { a.emit(OpPutSelf); a.push(1); return a }

// PutBool pushes true or false.
func (a *Assembler) PutBool(b bool) *Assembler {
	if b {
		a.emit(OpPutTrue)
	} else {
		a.emit(OpPutFalse)
	}
	a.push(1)
	return a
}

// PutInt pushes an integer, inline when it fits in a byte.
func (a *Assembler) PutInt(n int64) *Assembler {
	if v, err := safecast.Conv[int8](n); err == nil {
		a.emit(OpPutInt8)
		a.code = append(a.code, byte(v))
		a.push(1)
		return a
	}
	return a.PutObject(FromInt(n))
}

// PutObject pushes a literal value.
func (a *Assembler) PutObject(v Value) *Assembler {
	a.emit(OpPutObject)
	a.u16(a.literal(v))
	a.push(1)
	return a
}

// PutString pushes a literal string.
func (a *Assembler) PutString(s string) *Assembler {
	return a.PutObject(a.vm.NewString(s))
}

// PutSymbol pushes a literal symbol.
func (a *Assembler) PutSymbol(name string) *Assembler {
	return a.PutObject(FromSymbol(a.vm.Intern(name)))
}

// GetLocal pushes local idx of the scope level levels out.
func (a *Assembler) GetLocal(idx, level int) *Assembler {
	a.emit(OpGetLocal)
	a.u8(idx)
	a.u8(level)
	a.push(1)
	return a
}

// SetLocal pops into local idx of the scope level levels out.
func (a *Assembler) SetLocal(idx, level int) *Assembler {
	a.emit(OpSetLocal)
	a.u8(idx)
	a.u8(level)
	a.pop(1)
	return a
}

func (a *Assembler) symOp(op Opcode, name string, effect int) *Assembler {
	a.emit(op)
	a.u16(a.literal(FromSymbol(a.vm.Intern(name))))
	if effect > 0 {
		a.push(effect)
	} else {
		a.pop(-effect)
	}
	return a
}

func (a *Assembler) GetIvar(name string) *Assembler  { return a.symOp(OpGetIvar, name, 1) }
func (a *Assembler) SetIvar(name string) *Assembler  { return a.symOp(OpSetIvar, name, -1) }
func (a *Assembler) GetConst(name string) *Assembler { return a.symOp(OpGetConst, name, 1) }

// NewArray pops n values into a new Array.
func (a *Assembler) NewArray(n int) *Assembler {
	a.emit(OpNewArray)
	a.u8(n)
	a.pop(n)
	a.push(1)
	return a
}

// NewHash pops n values (alternating keys and values) into a new Hash.
func (a *Assembler) NewHash(n int) *Assembler {
	a.emit(OpNewHash)
	a.u8(n)
	a.pop(n)
	a.push(1)
	return a
}

// MakeLambda pushes a lambda closing over the current scope.
func (a *Assembler) MakeLambda(block *ISeq) *Assembler {
	a.emit(OpLambda)
	a.u16(a.Child(block))
	a.push(1)
	return a
}

// Send calls name on the receiver pushed before the argc arguments. block
// may be nil. kwargs names the trailing literal keyword arguments.
func (a *Assembler) Send(name string, argc int, flags CallFlag, block *ISeq, kwargs ...string) *Assembler {
	return a.call(OpSend, name, argc, flags, block, kwargs)
}

// InvokeSuper calls the next definition of name; the receiver slot must be
// pushed with PutSelf.
func (a *Assembler) InvokeSuper(name string, argc int, flags CallFlag, block *ISeq) *Assembler {
	return a.call(OpInvokeSuper, name, argc, flags|FlagSuper|FlagFCall, block, nil)
}

func (a *Assembler) call(op Opcode, name string, argc int, flags CallFlag, block *ISeq, kwargs []string) *Assembler {
	syms := make([]Symbol, len(kwargs))
	for i, k := range kwargs {
		syms[i] = a.vm.Intern(k)
	}
	ci := NewCallInfo(a.vm.Intern(name), argc, flags, syms...)
	a.emit(op)
	a.u16(a.callInfo(ci))
	if block != nil {
		a.u16(a.Child(block) + 1)
	} else {
		a.u16(0)
	}
	a.pop(argc + 1)
	if flags&FlagBlockArg != 0 {
		a.pop(1)
	}
	a.push(1)
	return a
}

// InvokeBlock yields argc arguments to the block of the current method.
func (a *Assembler) InvokeBlock(argc int, flags CallFlag) *Assembler {
	ci := NewCallInfo(a.vm.Intern("yield"), argc, flags)
	a.emit(OpInvokeBlock)
	a.u16(a.callInfo(ci))
	a.pop(argc)
	a.push(1)
	return a
}

func (a *Assembler) optOp(op Opcode, name string) *Assembler {
	ci := NewCallInfo(a.vm.Intern(name), 1, 0)
	a.emit(op)
	a.u16(a.callInfo(ci))
	a.pop(1)
	return a
}

func (a *Assembler) OptPlus() *Assembler  { return a.optOp(OpOptPlus, "+") }
func (a *Assembler) OptMinus() *Assembler { return a.optOp(OpOptMinus, "-") }
func (a *Assembler) OptLt() *Assembler    { return a.optOp(OpOptLt, "<") }
func (a *Assembler) OptEq() *Assembler    { return a.optOp(OpOptEq, "==") }

// Leave returns the top of stack.
func (a *Assembler) Leave() *Assembler {
	a.emit(OpLeave)
	a.pop(1)
	return a
}

// Throw pops a value and raises a control transfer of the given kind.
func (a *Assembler) Throw(kind byte) *Assembler {
	a.emit(OpThrow)
	a.code = append(a.code, kind)
	a.pop(1)
	return a
}

// Rethrow ends an ensure handler.
func (a *Assembler) Rethrow() *Assembler {
	a.emit(OpRethrow)
	return a
}

// DefineMethod defines name in the current lexical class with body as its
// instruction sequence, and pushes the method name.
func (a *Assembler) DefineMethod(name string, body *ISeq) *Assembler {
	a.emit(OpDefineMethod)
	a.u16(a.literal(FromSymbol(a.vm.Intern(name))))
	a.u16(a.Child(body))
	a.push(1)
	return a
}

// DefineClass opens (or creates) a class and runs body with the class as
// self. With DefineClassHasSuper the superclass is popped first.
func (a *Assembler) DefineClass(name string, body *ISeq, flags byte) *Assembler {
	a.emit(OpDefineClass)
	a.u16(a.literal(FromSymbol(a.vm.Intern(name))))
	a.u16(a.Child(body))
	a.code = append(a.code, flags)
	if flags&DefineClassHasSuper != 0 {
		a.pop(1)
	}
	a.push(1)
	return a
}

// ---------------------------------------------------------------------------
// Labels and jumps
// ---------------------------------------------------------------------------

// NewLabel creates an unplaced label.
func (a *Assembler) NewLabel() *Label {
	l := &Label{}
	a.labels = append(a.labels, l)
	return l
}

// Mark places label at the current position and patches forward jumps.
func (a *Assembler) Mark(label *Label) *Assembler {
	if label.resolved {
		a.fail(fmt.Errorf("label already placed"))
		return a
	}
	label.resolved = true
	label.position = len(a.code)
	label.depth = a.depth
	for _, ref := range label.refs {
		a.patch(ref, label.position-(ref+2))
	}
	label.refs = nil
	return a
}

// SetDepth overrides the tracked stack depth, for code reached only by a
// jump or a catch entry.
func (a *Assembler) SetDepth(n int) *Assembler {
	a.depth = 0
	a.push(n)
	return a
}

func (a *Assembler) patch(at, offset int) {
	v, err := safecast.Conv[int16](offset)
	if err != nil {
		a.fail(err)
		return
	}
	binary.LittleEndian.PutUint16(a.code[at:], uint16(v))
}

func (a *Assembler) jump(op Opcode, label *Label) *Assembler {
	a.emit(op)
	at := len(a.code)
	a.code = append(a.code, 0, 0)
	if label.resolved {
		a.patch(at, label.position-(at+2))
	} else {
		label.refs = append(label.refs, at)
	}
	return a
}

func (a *Assembler) Jump(l *Label) *Assembler { return a.jump(OpJump, l) }

func (a *Assembler) BranchIf(l *Label) *Assembler {
	a.pop(1)
	return a.jump(OpBranchIf, l)
}

func (a *Assembler) BranchUnless(l *Label) *Assembler {
	a.pop(1)
	return a.jump(OpBranchUnless, l)
}

func (a *Assembler) BranchNil(l *Label) *Assembler {
	a.pop(1)
	return a.jump(OpBranchNil, l)
}

// Catch adds a catch table entry covering [start, end) continuing at cont.
// The operand stack is cut back to its depth at start.
func (a *Assembler) Catch(typ CatchType, start, end, cont *Label, classes ...string) *Assembler {
	a.catches = append(a.catches, pendingCatch{typ: typ, start: start, end: end, cnt: cont, classes: classes})
	return a
}

// Build finishes the sequence.
func (a *Assembler) Build() (*ISeq, error) {
	for _, l := range a.labels {
		if len(l.refs) > 0 {
			a.fail(fmt.Errorf("jump to unplaced label"))
		}
	}
	iseq := a.iseq
	for _, pc := range a.catches {
		if !pc.start.resolved || !pc.end.resolved || !pc.cnt.resolved {
			a.fail(fmt.Errorf("catch entry with unplaced label"))
			continue
		}
		iseq.CatchTable = append(iseq.CatchTable, CatchEntry{
			Type:    pc.typ,
			Start:   pc.start.position,
			End:     pc.end.position,
			Cont:    pc.cnt.position,
			SP:      pc.start.depth,
			Classes: pc.classes,
		})
	}
	if a.err != nil {
		return nil, a.err
	}
	iseq.Code = a.code
	iseq.StackMax = a.max + 1
	iseq.LocalSize = len(iseq.LocalNames)
	if n := iseq.Params.Size(); n > iseq.LocalSize {
		iseq.LocalSize = n
	}
	if _, err := safecast.Conv[uint8](iseq.LocalSize); err != nil {
		return nil, fmt.Errorf("assemble %s: too many locals: %w", iseq.Name, err)
	}
	iseq.Prepare()
	return iseq, nil
}

// MustBuild is like Build but panics on error.
func (a *Assembler) MustBuild() *ISeq {
	iseq, err := a.Build()
	if err != nil {
		panic(err)
	}
	return iseq
}
