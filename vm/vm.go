package vm

import (
	"context"
	"io"
	"os"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/tliron/commonlog"
)

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

// Config sizes a VM.
type Config struct {
	// StackSlots is the value stack capacity of each ExecContext.
	StackSlots int
	// MaxFrames is the control frame capacity of each ExecContext.
	MaxFrames int
	// KeywordWarnings logs implicit keyword/positional conversions.
	KeywordWarnings bool
	// Stdout receives Kernel#puts output.
	Stdout io.Writer
	// Heap allocates objects; nil means a new GoHeap.
	Heap Heap
}

// DefaultConfig returns the configuration used by NewVM.
func DefaultConfig() Config {
	return Config{
		StackSlots:      64 * 1024,
		MaxFrames:       4096,
		KeywordWarnings: true,
		Stdout:          os.Stdout,
	}
}

// ---------------------------------------------------------------------------
// VM
// ---------------------------------------------------------------------------

// VM holds the global state shared by all execution contexts: symbols,
// classes, method entries and the generation counters caches validate
// against.
type VM struct {
	cfg  Config
	heap Heap
	gvl  *GVL
	log  commonlog.Logger

	// Global tables
	Symbols *SymbolTable
	classes *ClassTable
	methods *MethodArena

	// methodGen invalidates every call cache when bumped.
	methodGen atomic.Uint64
	// hierarchyGen invalidates cached ancestor lists.
	hierarchyGen atomic.Uint64
	serials      atomic.Uint64

	// bopInt and bopFloat flag redefined basic operators, one bit per
	// optimized opcode.
	bopInt   uint8
	bopFloat uint8
	booted   bool

	hooks []CallHook
	accel *AccelTable

	topCRef *CRef
	// Main is the top-level self.
	Main Value

	yieldInfos       []*CallInfo
	symYield         Symbol
	symMethodMissing Symbol
	symInitialize    Symbol
	symInspect       Symbol

	overflowTemplate *Exception
	fatalOverflow    *Exception

	// Well-known classes
	BasicObjectClass *Class
	ObjectClass      *Class
	ModuleClass      *Class
	ClassClass       *Class
	KernelModule     *Class
	NilClass         *Class
	TrueClass        *Class
	FalseClass       *Class
	IntegerClass     *Class
	FloatClass       *Class
	SymbolClass      *Class
	StringClass      *Class
	ArrayClass       *Class
	HashClass        *Class
	ProcClass        *Class

	// Exception hierarchy
	ExceptionClass         *Class
	FatalClass             *Class
	StackOverflowClass     *Class
	StandardErrorClass     *Class
	RuntimeErrorClass      *Class
	TypeErrorClass         *Class
	ZeroDivisionErrorClass *Class
	IndexErrorClass        *Class
	LocalJumpErrorClass    *Class
	ArgumentErrorClass     *Class
	ArityErrorClass        *Class
	KeywordErrorClass      *Class
	NameErrorClass         *Class
	NoMethodErrorClass     *Class
}

// NewVM creates and bootstraps a VM with the default configuration.
func NewVM() *VM {
	return NewVMWithConfig(DefaultConfig())
}

// NewVMWithConfig creates and bootstraps a VM.
func NewVMWithConfig(cfg Config) *VM {
	def := DefaultConfig()
	if cfg.StackSlots <= 0 {
		cfg.StackSlots = def.StackSlots
	}
	if cfg.MaxFrames <= 0 {
		cfg.MaxFrames = def.MaxFrames
	}
	if cfg.Stdout == nil {
		cfg.Stdout = def.Stdout
	}
	if cfg.Heap == nil {
		cfg.Heap = NewGoHeap()
	}

	vm := &VM{
		cfg:     cfg,
		heap:    cfg.Heap,
		log:     commonlog.GetLogger("garnet.vm"),
		Symbols: NewSymbolTable(),
		classes: NewClassTable(),
		methods: newMethodArena(),
	}
	vm.gvl = newGVL(vm)
	vm.accel = newAccelTable(vm)

	vm.symYield = vm.Intern("yield")
	vm.symMethodMissing = vm.Intern("method_missing")
	vm.symInitialize = vm.Intern("initialize")
	vm.symInspect = vm.Intern("inspect")
	for i := 0; i < 4; i++ {
		vm.yieldInfos = append(vm.yieldInfos, &CallInfo{Mid: vm.symYield, Argc: i})
	}

	// Bootstrap core classes
	vm.bootstrap()
	return vm
}

// Config returns the configuration the VM was created with.
func (vm *VM) Config() Config { return vm.cfg }

// GVL returns the execution token of the VM.
func (vm *VM) GVL() *GVL { return vm.gvl }

// Heap returns the memory manager.
func (vm *VM) Heap() Heap { return vm.heap }

// Classes returns the class table.
func (vm *VM) Classes() *ClassTable { return vm.classes }

// Methods returns the method entry arena.
func (vm *VM) Methods() *MethodArena { return vm.methods }

// MethodGeneration returns the global method generation.
func (vm *VM) MethodGeneration() uint64 { return vm.methodGen.Load() }

// Intern returns the symbol for name.
func (vm *VM) Intern(name string) Symbol { return vm.Symbols.Intern(name) }

// SymbolName returns the name of a symbol.
func (vm *VM) SymbolName(s Symbol) string { return vm.Symbols.Name(s) }

func (vm *VM) nextSerial() uint64 { return vm.serials.Add(1) }

// bumpMethodGen invalidates every call cache.
func (vm *VM) bumpMethodGen(reason string) {
	gen := vm.methodGen.Add(1)
	vm.log.Debugf("method generation %d: %s", gen, reason)
}

// noteRedefinition disables the arithmetic fast path for an operator
// redefined on Integer or Float.
func (vm *VM) noteRedefinition(c *Class, name Symbol) {
	if !vm.booted || (c != vm.IntegerClass && c != vm.FloatClass) {
		return
	}
	var bit uint8
	switch vm.SymbolName(name) {
	case "+":
		bit = bopBit(OpOptPlus)
	case "-":
		bit = bopBit(OpOptMinus)
	case "<":
		bit = bopBit(OpOptLt)
	case "==":
		bit = bopBit(OpOptEq)
	default:
		return
	}
	if c == vm.IntegerClass {
		vm.bopInt |= bit
	} else {
		vm.bopFloat |= bit
	}
}

func bopBit(op Opcode) uint8 {
	return 1 << (op - OpOptPlus)
}

// methodOwnerName renders an entry as Owner#name for logs.
func (vm *VM) methodOwnerName(e *MethodEntry) string {
	owner := "?"
	if c := vm.classes.Get(e.Owner); c != nil {
		owner = c.String()
	}
	return owner + "#" + vm.SymbolName(e.Name)
}

// ---------------------------------------------------------------------------
// Values
// ---------------------------------------------------------------------------

// ClassOf returns the class used for method lookup on v, including a
// singleton class if v has one.
func (vm *VM) ClassOf(v Value) *Class {
	switch v.kind {
	case KindNil, KindUndef:
		return vm.NilClass
	case KindTrue:
		return vm.TrueClass
	case KindFalse:
		return vm.FalseClass
	case KindInt:
		return vm.IntegerClass
	case KindFloat:
		return vm.FloatClass
	case KindSymbol:
		return vm.SymbolClass
	}
	c := vm.classes.Get(v.obj.Hdr().Class)
	if c == nil {
		return vm.ObjectClass
	}
	if k, ok := v.obj.(*Class); ok && c.kind != ClassKindSingleton {
		return vm.inheritedMetaclass(k, c)
	}
	return c
}

// inheritedMetaclass returns the singleton class of the nearest superclass
// of k that has one, so class-side methods are inherited by subclasses that
// never got their own. def is returned when there is none.
func (vm *VM) inheritedMetaclass(k *Class, def *Class) *Class {
	for sc := k.Superclass(); sc != nil; sc = sc.Superclass() {
		if m := vm.classes.Get(sc.Header.Class); m != nil && m.kind == ClassKindSingleton {
			return m
		}
	}
	return def
}

// NewArray allocates an Array holding elems.
func (vm *VM) NewArray(elems []Value) Value {
	a := vm.heap.Allocate(vm.ArrayClass, len(elems)).(*Array)
	a.Elems = append(a.Elems, elems...)
	for _, e := range elems {
		vm.barrier(a, e)
	}
	return FromObject(a)
}

// NewHash allocates an empty Hash.
func (vm *VM) NewHash() Value {
	return FromObject(vm.heap.Allocate(vm.HashClass, 0))
}

// NewString allocates a String.
func (vm *VM) NewString(s string) Value {
	str := vm.heap.Allocate(vm.StringClass, 0).(*String)
	str.S = s
	return FromObject(str)
}

// Inspect renders v the way Kernel#inspect does for core types.
func (vm *VM) Inspect(v Value) string {
	switch v.kind {
	case KindUndef:
		return "undef"
	case KindNil:
		return "nil"
	case KindTrue:
		return "true"
	case KindFalse:
		return "false"
	case KindInt:
		return strconv.FormatInt(v.Int(), 10)
	case KindFloat:
		s := strconv.FormatFloat(v.Float64(), 'g', -1, 64)
		if !strings.ContainsAny(s, ".eIN") {
			s += ".0"
		}
		return s
	case KindSymbol:
		return ":" + vm.SymbolName(v.Symbol())
	}

	switch o := v.obj.(type) {
	case *String:
		return strconv.Quote(o.S)
	case *Array:
		parts := make([]string, len(o.Elems))
		for i, e := range o.Elems {
			parts[i] = vm.Inspect(e)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case *Hash:
		parts := make([]string, 0, o.Len())
		o.Each(func(k, val Value) {
			parts = append(parts, vm.Inspect(k)+" => "+vm.Inspect(val))
		})
		return "{" + strings.Join(parts, ", ") + "}"
	case *Class:
		return o.String()
	case *Proc:
		if o.Lambda {
			return "#<Proc (lambda)>"
		}
		return "#<Proc>"
	case *Exception:
		return "#<" + o.class.Name + ": " + o.Message + ">"
	}
	return "#<" + vm.ClassOf(v).nonSingleton().Name + ">"
}

// ---------------------------------------------------------------------------
// Running top-level code
// ---------------------------------------------------------------------------

// RunTop runs a top-level instruction sequence with Main as self. tok must
// be the held execution token.
func (ec *ExecContext) RunTop(tok *Token, iseq *ISeq) (Value, error) {
	tok.mustHold(ec.vm)
	ec.token = tok
	iseq.Prepare()
	f, err := ec.pushFrame(iseq, FrameTop, ec.vm.Main, NoBlock, 0, iseq.LocalSize, iseq.StackMax, 0, ec.sp)
	if err != nil {
		return Nil, err
	}
	f.CRef = ec.vm.topCRef
	f.flags |= frameFinish
	return ec.run()
}

// Run acquires the execution token, runs iseq on a fresh context and
// releases the token.
func (vm *VM) Run(ctx context.Context, iseq *ISeq) (Value, error) {
	tok, err := vm.gvl.Acquire(ctx)
	if err != nil {
		return Nil, err
	}
	defer tok.Release()
	return vm.NewExecContext().RunTop(tok, iseq)
}

// ---------------------------------------------------------------------------
// Bootstrap: Create core classes
// ---------------------------------------------------------------------------

func (vm *VM) bootstrap() {
	// Phase 1: the root classes. Class does not exist yet while they are
	// created, so their headers are patched afterwards.
	vm.BasicObjectClass = vm.bootClass("BasicObject", nil)
	vm.ObjectClass = vm.bootClass("Object", vm.BasicObjectClass)
	vm.ModuleClass = vm.bootClass("Module", vm.ObjectClass)
	vm.ClassClass = vm.bootClass("Class", vm.ModuleClass)
	for _, c := range []*Class{vm.BasicObjectClass, vm.ObjectClass, vm.ModuleClass, vm.ClassClass} {
		c.Header.Class = vm.ClassClass.ref
	}

	vm.KernelModule = vm.newClass("Kernel", ClassKindModule, nil)
	vm.classes.register("Kernel", vm.KernelModule)
	vm.ObjectClass.includes = append(vm.ObjectClass.includes, vm.KernelModule.ref)

	// Phase 2: immediates
	vm.NilClass = vm.bootClass("NilClass", vm.ObjectClass)
	vm.TrueClass = vm.bootClass("TrueClass", vm.ObjectClass)
	vm.FalseClass = vm.bootClass("FalseClass", vm.ObjectClass)
	vm.IntegerClass = vm.bootClass("Integer", vm.ObjectClass)
	vm.FloatClass = vm.bootClass("Float", vm.ObjectClass)
	vm.SymbolClass = vm.bootClass("Symbol", vm.ObjectClass)

	// Phase 3: heap layouts
	vm.StringClass = vm.bootClass("String", vm.ObjectClass)
	vm.StringClass.layout = TypeString
	vm.ArrayClass = vm.bootClass("Array", vm.ObjectClass)
	vm.ArrayClass.layout = TypeArray
	vm.HashClass = vm.bootClass("Hash", vm.ObjectClass)
	vm.HashClass.layout = TypeHash
	vm.ProcClass = vm.bootClass("Proc", vm.ObjectClass)
	vm.ProcClass.layout = TypeProc

	// Phase 4: Exception class hierarchy
	vm.bootstrapExceptionClasses()

	// Phase 5: the top-level scope
	vm.topCRef = NewCRef(vm.ObjectClass, nil)
	vm.Main = FromObject(vm.heap.Allocate(vm.ObjectClass, 0))

	// Phase 6: Register primitives on core classes
	vm.registerObjectPrimitives()
	vm.registerBooleanPrimitives()
	vm.registerIntegerPrimitives()
	vm.registerFloatPrimitives()
	vm.registerSymbolPrimitives()
	vm.registerStringPrimitives()
	vm.registerArrayPrimitives()
	vm.registerHashPrimitives()
	vm.registerBlockPrimitives()
	vm.registerClassReflectionPrimitives()
	vm.registerExceptionPrimitives()

	main := vm.singletonOf(vm.Main.Object(), vm.Main)
	mainName := Native0(func(ec *ExecContext, self Value) (Value, error) {
		return ec.vm.NewString("main"), nil
	})
	main.define("to_s", mainName, Public)
	main.define("inspect", mainName, Public)
	vm.booted = true

	vm.log.Debugf("bootstrapped %d classes, %d methods", vm.classes.Len(), vm.methods.Live())
}

// bootClass creates and registers a core class.
func (vm *VM) bootClass(name string, super *Class) *Class {
	c := vm.newClass(name, ClassKindClass, super)
	vm.classes.register(name, c)
	vm.hierarchyGen.Add(1)
	return c
}
