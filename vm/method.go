package vm

// Visibility controls which call sites may invoke a method.
type Visibility uint8

const (
	Public Visibility = iota
	Private
	Protected
)

func (v Visibility) String() string {
	switch v {
	case Private:
		return "private"
	case Protected:
		return "protected"
	default:
		return "public"
	}
}

// MethodKind is the kind of a method definition.
type MethodKind uint8

const (
	MethodISeq MethodKind = iota
	MethodNative
	MethodAttrReader
	MethodAttrWriter
	MethodAlias
	MethodRefined
	MethodOptimized
	MethodUndef
	MethodMissingDefault
)

var methodKindNames = [...]string{
	MethodISeq:           "iseq",
	MethodNative:         "native",
	MethodAttrReader:     "attr_reader",
	MethodAttrWriter:     "attr_writer",
	MethodAlias:          "alias",
	MethodRefined:        "refined",
	MethodOptimized:      "optimized",
	MethodUndef:          "undef",
	MethodMissingDefault: "method_missing",
}

func (k MethodKind) String() string {
	if int(k) < len(methodKindNames) {
		return methodKindNames[k]
	}
	return "unknown"
}

// OptimizedKind selects the built-in behavior of an Optimized method.
type OptimizedKind uint8

const (
	OptSend         OptimizedKind = iota // send(name, *args)
	OptCall                              // Proc#call
	OptBlockCall                         // invoke the caller's block
	OptInstanceExec                      // instance_exec(*args, &blk)
)

// NativeFunc is a Go function implementing a method. args aliases the
// value stack and is only valid until the function returns.
type NativeFunc func(ec *ExecContext, self Value, args []Value, blk BlockHandler) (Value, error)

// Native0Func is a native method taking no arguments.
type Native0Func func(ec *ExecContext, self Value) (Value, error)

// Native1Func is a native method taking one argument.
type Native1Func func(ec *ExecContext, self Value, a Value) (Value, error)

// Native2Func is a native method taking two arguments.
type Native2Func func(ec *ExecContext, self Value, a, b Value) (Value, error)

// MethodDef is the shareable body of a method. Aliases and visibility
// changes create new entries that point at the same definition.
type MethodDef struct {
	Kind MethodKind

	// MethodISeq
	ISeq *ISeq
	CRef *CRef

	// MethodNative. Arity is the exact argument count, or -1 for any.
	Native NativeFunc
	Arity  int

	// MethodAttrReader / MethodAttrWriter: the ivar name, e.g. @x.
	Attr Symbol

	// MethodAlias: the entry aliased at alias time.
	AliasOf *MethodEntry

	// MethodRefined: the unrefined entry, possibly nil.
	Original *MethodEntry

	// MethodOptimized
	Optimized OptimizedKind
}

// MethodFromISeq wraps an instruction sequence as a method definition.
func MethodFromISeq(iseq *ISeq) *MethodDef {
	return &MethodDef{Kind: MethodISeq, ISeq: iseq}
}

// NativeMethod wraps a variadic or fixed-arity native function.
func NativeMethod(arity int, fn NativeFunc) *MethodDef {
	return &MethodDef{Kind: MethodNative, Native: fn, Arity: arity}
}

// Native0 wraps a zero-argument native function.
func Native0(fn Native0Func) *MethodDef {
	return NativeMethod(0, func(ec *ExecContext, self Value, args []Value, blk BlockHandler) (Value, error) {
		return fn(ec, self)
	})
}

// Native1 wraps a one-argument native function.
func Native1(fn Native1Func) *MethodDef {
	return NativeMethod(1, func(ec *ExecContext, self Value, args []Value, blk BlockHandler) (Value, error) {
		return fn(ec, self, args[0])
	})
}

// Native2 wraps a two-argument native function.
func Native2(fn Native2Func) *MethodDef {
	return NativeMethod(2, func(ec *ExecContext, self Value, args []Value, blk BlockHandler) (Value, error) {
		return fn(ec, self, args[0], args[1])
	})
}

// OptimizedMethod returns a definition for one of the built-in optimized
// methods.
func OptimizedMethod(kind OptimizedKind) *MethodDef {
	return &MethodDef{Kind: MethodOptimized, Optimized: kind}
}

// MethodEntry binds a definition to a name in a class. Entries are
// immutable; redefinition installs a new entry and frees the old handle.
type MethodEntry struct {
	Name       Symbol
	Def        *MethodDef
	Visibility Visibility
	// Owner is the class whose table holds the entry.
	Owner ClassRef
	// DefinedIn is where super resumes the ancestor walk.
	DefinedIn ClassRef
	Serial    uint64

	ref MethodRef
}

// Ref returns the arena handle of e.
func (e *MethodEntry) Ref() MethodRef { return e.ref }

// ---------------------------------------------------------------------------
// Method table mutation
// ---------------------------------------------------------------------------

func (vm *VM) newEntry(c *Class, name Symbol, def *MethodDef, vis Visibility, definedIn ClassRef) *MethodEntry {
	e := &MethodEntry{
		Name:       name,
		Def:        def,
		Visibility: vis,
		Owner:      c.ref,
		DefinedIn:  definedIn,
		Serial:     vm.nextSerial(),
	}
	e.ref = vm.methods.alloc(e)
	return e
}

// install places e in c's table, replacing and freeing any previous entry.
// A new definition under an existing refined entry becomes that entry's
// original instead.
func (c *Class) install(e *MethodEntry, reason string) *MethodEntry {
	vm := c.vm
	if oldRef, ok := c.methods[e.Name]; ok {
		old := vm.methods.Get(oldRef)
		if old != nil && old.Def.Kind == MethodRefined && e.Def.Kind != MethodRefined {
			wrapped := &MethodDef{Kind: MethodRefined, Original: e}
			e = vm.newEntry(c, e.Name, wrapped, old.Visibility, c.ref)
		}
		vm.methods.release(oldRef)
	}
	c.methods[e.Name] = e.ref
	vm.accel.attach(c, e)
	vm.noteRedefinition(c, e.Name)
	c.bumpSerial()
	vm.bumpMethodGen(reason)

	if c.kind == ClassKindRefinement {
		c.markRefined(e.Name)
	}
	return e
}

// define installs a method without a token check. Used during bootstrap.
func (c *Class) define(name string, def *MethodDef, vis Visibility) *MethodEntry {
	sym := c.vm.Intern(name)
	e := c.vm.newEntry(c, sym, def, vis, c.ref)
	return c.install(e, "define "+c.Name+"#"+name)
}

// DefineMethod defines or redefines name in c.
func (c *Class) DefineMethod(t *Token, name string, def *MethodDef, vis Visibility) *MethodEntry {
	t.mustHold(c.vm)
	return c.define(name, def, vis)
}

// LocalMethod returns the entry defined directly in c, or nil.
func (c *Class) LocalMethod(name Symbol) *MethodEntry {
	ref, ok := c.methods[name]
	if !ok {
		return nil
	}
	return c.vm.methods.Get(ref)
}

// AliasMethod makes newName refer to the method currently visible as
// oldName from c.
func (c *Class) AliasMethod(t *Token, newName, oldName string) error {
	vm := c.vm
	t.mustHold(vm)
	target := vm.findMethod(c, vm.Intern(oldName))
	if target == nil {
		return vm.newNameError(vm.Intern(oldName), "undefined method '%s' for class '%s'", oldName, c)
	}
	if target.Def.Kind == MethodAlias {
		target = target.Def.AliasOf
	}
	def := &MethodDef{Kind: MethodAlias, AliasOf: target}
	e := vm.newEntry(c, vm.Intern(newName), def, target.Visibility, target.DefinedIn)
	c.install(e, "alias "+c.Name+"#"+newName)
	return nil
}

// UndefMethod makes name unresolvable from c and its descendants, even if
// an ancestor defines it.
func (c *Class) UndefMethod(t *Token, name string) error {
	vm := c.vm
	t.mustHold(vm)
	sym := vm.Intern(name)
	if vm.findMethod(c, sym) == nil {
		return vm.newNameError(sym, "undefined method '%s' for class '%s'", name, c)
	}
	e := vm.newEntry(c, sym, &MethodDef{Kind: MethodUndef}, Public, c.ref)
	c.install(e, "undef "+c.Name+"#"+name)
	return nil
}

// RemoveMethod deletes the entry defined directly in c, exposing any
// inherited method of the same name.
func (c *Class) RemoveMethod(t *Token, name string) error {
	vm := c.vm
	t.mustHold(vm)
	sym := vm.Intern(name)
	ref, ok := c.methods[sym]
	if !ok {
		return vm.newNameError(sym, "method '%s' not defined in %s", name, c)
	}
	delete(c.methods, sym)
	vm.methods.release(ref)
	c.bumpSerial()
	vm.bumpMethodGen("remove " + c.Name + "#" + name)
	return nil
}

// SetVisibility changes the visibility of name as seen from c. An inherited
// method gets a copy in c carrying the new visibility.
func (c *Class) SetVisibility(t *Token, name string, vis Visibility) error {
	vm := c.vm
	t.mustHold(vm)
	sym := vm.Intern(name)
	cur := vm.findMethod(c, sym)
	if cur == nil {
		return vm.newNameError(sym, "undefined method '%s' for class '%s'", name, c)
	}
	if cur.Visibility == vis {
		return nil
	}
	e := vm.newEntry(c, sym, cur.Def, vis, cur.DefinedIn)
	c.install(e, "visibility "+c.Name+"#"+name+" "+vis.String())
	return nil
}

// AttrReader defines reader methods for the named ivars.
func (c *Class) AttrReader(t *Token, names ...string) {
	t.mustHold(c.vm)
	for _, n := range names {
		ivar := c.vm.Intern("@" + n)
		c.ensureIvar(ivar)
		c.define(n, &MethodDef{Kind: MethodAttrReader, Attr: ivar}, Public)
	}
}

// AttrWriter defines writer methods (name=) for the named ivars.
func (c *Class) AttrWriter(t *Token, names ...string) {
	t.mustHold(c.vm)
	for _, n := range names {
		ivar := c.vm.Intern("@" + n)
		c.ensureIvar(ivar)
		c.define(n+"=", &MethodDef{Kind: MethodAttrWriter, Attr: ivar}, Public)
	}
}

// DefineSingletonMethod defines a method on the singleton class of recv.
func (vm *VM) DefineSingletonMethod(t *Token, recv Value, name string, def *MethodDef) (*MethodEntry, error) {
	s, err := vm.SingletonClass(t, recv)
	if err != nil {
		return nil, err
	}
	return s.define(name, def, Public), nil
}
