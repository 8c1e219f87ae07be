package vm

import (
	"sync"
	"sync/atomic"
)

// ClassKind distinguishes classes from modules, singletons and refinements.
type ClassKind uint8

const (
	ClassKindClass ClassKind = iota
	ClassKindModule
	ClassKindSingleton
	ClassKindRefinement
)

// ClassRef is a generation-checked handle to a Class in the ClassTable.
// The zero ClassRef refers to no class.
type ClassRef struct {
	idx uint32
	gen uint32
}

// IsZero reports whether r refers to no class.
func (r ClassRef) IsZero() bool { return r.idx == 0 }

// Class describes a class, module, singleton class or refinement.
//
// The method table maps names to handles into the VM's MethodArena. The
// serial is bumped whenever this class's own method table or ancestry
// changes; call caches compare it against their history.
type Class struct {
	Header
	Name string

	vm   *VM
	ref  ClassRef
	kind ClassKind

	super    ClassRef
	includes []ClassRef
	prepends []ClassRef
	methods  map[Symbol]MethodRef

	ivarNames []Symbol
	ivarIndex map[Symbol]int
	// ivarNext is the next free slot index; only meaningful on a root
	// class (one without a superclass).
	ivarNext int

	// layout is the ObjectType allocated for instances; inherited.
	layout ObjectType

	serial atomic.Uint64

	ancestors    []*Class
	ancestorsGen uint64

	// attached is the object a singleton class belongs to.
	attached Value

	// refinedClass is the class a refinement module refines.
	refinedClass ClassRef
	// refinements maps target classes to the refinement modules created
	// by Refine on this module.
	refinements map[ClassRef]*Class
}

// ---------------------------------------------------------------------------
// ClassTable: arena of classes
// ---------------------------------------------------------------------------

type classSlot struct {
	gen   uint32
	class *Class
}

// ClassTable stores every class of a VM and resolves ClassRef handles.
//
// Slots are only mutated by the GVL holder. The name registry is guarded by
// its own lock so tooling can list classes without the token.
type ClassTable struct {
	slots []classSlot
	free  []uint32

	mu     sync.RWMutex
	byName map[string]ClassRef
}

// NewClassTable creates an empty class table. Slot 0 is reserved.
func NewClassTable() *ClassTable {
	return &ClassTable{
		slots:  make([]classSlot, 1, 64),
		byName: make(map[string]ClassRef),
	}
}

func (ct *ClassTable) add(c *Class) ClassRef {
	var idx uint32
	if n := len(ct.free); n > 0 {
		idx = ct.free[n-1]
		ct.free = ct.free[:n-1]
	} else {
		idx = uint32(len(ct.slots))
		ct.slots = append(ct.slots, classSlot{})
	}
	ct.slots[idx].class = c
	ref := ClassRef{idx: idx, gen: ct.slots[idx].gen}
	c.ref = ref
	return ref
}

// Get returns the class referenced by ref, or nil if ref is stale or zero.
func (ct *ClassTable) Get(ref ClassRef) *Class {
	if ref.idx == 0 || int(ref.idx) >= len(ct.slots) {
		return nil
	}
	s := &ct.slots[ref.idx]
	if s.gen != ref.gen {
		return nil
	}
	return s.class
}

// Valid reports whether ref still refers to a live class.
func (ct *ClassTable) Valid(ref ClassRef) bool {
	return ct.Get(ref) != nil
}

// retire frees the slot of ref. Existing handles become stale.
func (ct *ClassTable) retire(ref ClassRef) {
	if ct.Get(ref) == nil {
		return
	}
	s := &ct.slots[ref.idx]
	s.class = nil
	s.gen++
	ct.free = append(ct.free, ref.idx)
}

func (ct *ClassTable) register(name string, c *Class) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.byName[name] = c.ref
}

func (ct *ClassTable) unregister(name string) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	delete(ct.byName, name)
}

// Lookup finds a named class or module.
func (ct *ClassTable) Lookup(name string) *Class {
	ct.mu.RLock()
	ref, ok := ct.byName[name]
	ct.mu.RUnlock()
	if !ok {
		return nil
	}
	return ct.Get(ref)
}

// Names returns the names of all registered classes.
func (ct *ClassTable) Names() []string {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	out := make([]string, 0, len(ct.byName))
	for name := range ct.byName {
		out = append(out, name)
	}
	return out
}

// Len returns the number of registered (named) classes.
func (ct *ClassTable) Len() int {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return len(ct.byName)
}

// ---------------------------------------------------------------------------
// Class creation
// ---------------------------------------------------------------------------

func (vm *VM) newClass(name string, kind ClassKind, super *Class) *Class {
	c := &Class{
		Name:    name,
		vm:      vm,
		kind:    kind,
		methods: make(map[Symbol]MethodRef),
		layout:  TypeInstance,
	}
	c.Header.Type = TypeClass
	if super != nil {
		c.super = super.ref
		c.layout = super.layout
	}
	vm.classes.add(c)
	c.serial.Store(vm.nextSerial())
	if vm.ClassClass != nil {
		if kind == ClassKindModule || kind == ClassKindRefinement {
			c.Header.Class = vm.ModuleClass.ref
		} else {
			c.Header.Class = vm.ClassClass.ref
		}
	}
	return c
}

// DefineClass creates a named class, or returns the existing class of that
// name. super defaults to Object.
func (vm *VM) DefineClass(t *Token, name string, super *Class) (*Class, error) {
	t.mustHold(vm)
	if existing := vm.classes.Lookup(name); existing != nil {
		if existing.kind != ClassKindClass {
			return nil, vm.newTypeError("%s is not a class", name)
		}
		if super != nil && existing.Superclass() != super {
			return nil, vm.newTypeError("superclass mismatch for class %s", name)
		}
		return existing, nil
	}
	if super == nil {
		super = vm.ObjectClass
	}
	c := vm.newClass(name, ClassKindClass, super)
	vm.classes.register(name, c)
	vm.hierarchyGen.Add(1)
	return c, nil
}

// DefineModule creates a named module, or returns the existing one.
func (vm *VM) DefineModule(t *Token, name string) (*Class, error) {
	t.mustHold(vm)
	if existing := vm.classes.Lookup(name); existing != nil {
		if existing.kind != ClassKindModule {
			return nil, vm.newTypeError("%s is not a module", name)
		}
		return existing, nil
	}
	m := vm.newClass(name, ClassKindModule, nil)
	vm.classes.register(name, m)
	return m, nil
}

// RemoveClass unregisters a named class and retires its handle. Objects that
// still carry the stale handle report as instances of Object.
func (vm *VM) RemoveClass(t *Token, c *Class) {
	t.mustHold(vm)
	vm.classes.unregister(c.Name)
	vm.classes.retire(c.ref)
	vm.hierarchyGen.Add(1)
	vm.bumpMethodGen("remove class " + c.Name)
}

// Class returns the class referenced by ref, or nil.
func (vm *VM) Class(ref ClassRef) *Class {
	return vm.classes.Get(ref)
}

// LookupClass finds a registered class or module by name.
func (vm *VM) LookupClass(name string) *Class {
	return vm.classes.Lookup(name)
}

// ---------------------------------------------------------------------------
// Accessors
// ---------------------------------------------------------------------------

func (c *Class) Ref() ClassRef    { return c.ref }
func (c *Class) Kind() ClassKind  { return c.kind }
func (c *Class) IsModule() bool   { return c.kind == ClassKindModule || c.kind == ClassKindRefinement }
func (c *Class) IsSingleton() bool { return c.kind == ClassKindSingleton }

// Serial returns the current class serial.
func (c *Class) Serial() uint64 {
	return c.serial.Load()
}

func (c *Class) bumpSerial() {
	c.serial.Store(c.vm.nextSerial())
}

// Superclass returns the direct superclass, or nil.
func (c *Class) Superclass() *Class {
	return c.vm.classes.Get(c.super)
}

func (c *Class) String() string {
	if c.kind == ClassKindSingleton {
		return "#<Class:" + c.vm.Inspect(c.attached) + ">"
	}
	return c.Name
}

// IvarIndex returns the slot index of an instance variable, or -1.
func (c *Class) IvarIndex(name Symbol) int {
	for k := c; k != nil; k = k.Superclass() {
		if i, ok := k.ivarIndex[name]; ok {
			return i
		}
	}
	return -1
}

// ensureIvar returns the slot index for name, assigning one if needed.
// Indices come from a counter on the root of the superclass chain, so an
// ivar added to a superclass never reuses a slot a subclass already holds.
func (c *Class) ensureIvar(name Symbol) int {
	if i := c.IvarIndex(name); i >= 0 {
		return i
	}
	root := c
	for k := c.Superclass(); k != nil; k = k.Superclass() {
		root = k
	}
	next := root.ivarNext
	root.ivarNext++
	if c.ivarIndex == nil {
		c.ivarIndex = make(map[Symbol]int)
	}
	c.ivarIndex[name] = next
	c.ivarNames = append(c.ivarNames, name)
	return next
}

// NumIvars returns the number of ivar slots instances of c need.
func (c *Class) NumIvars() int {
	n := 0
	for k := c; k != nil; k = k.Superclass() {
		for _, i := range k.ivarIndex {
			if i >= n {
				n = i + 1
			}
		}
	}
	return n
}

// ---------------------------------------------------------------------------
// Ancestry
// ---------------------------------------------------------------------------

// Ancestors returns the method resolution order of c: for each class in the
// superclass chain its prepended modules (last prepended first), the class
// itself, then its included modules (last included first). A module that
// appears more than once keeps only its last position.
//
// The result is cached and recomputed after any hierarchy change.
func (c *Class) Ancestors() []*Class {
	gen := c.vm.hierarchyGen.Load()
	if c.ancestors != nil && c.ancestorsGen == gen {
		return c.ancestors
	}
	var chain []*Class
	for k := c; k != nil; k = k.Superclass() {
		chain = k.appendOwn(chain)
	}
	out := dedupeKeepLast(chain)
	c.ancestors = out
	c.ancestorsGen = gen
	return out
}

func (c *Class) appendOwn(out []*Class) []*Class {
	for i := len(c.prepends) - 1; i >= 0; i-- {
		if m := c.vm.classes.Get(c.prepends[i]); m != nil {
			out = m.appendOwn(out)
		}
	}
	out = append(out, c)
	for i := len(c.includes) - 1; i >= 0; i-- {
		if m := c.vm.classes.Get(c.includes[i]); m != nil {
			out = m.appendOwn(out)
		}
	}
	return out
}

func dedupeKeepLast(chain []*Class) []*Class {
	last := make(map[*Class]int, len(chain))
	for i, k := range chain {
		last[k] = i
	}
	out := make([]*Class, 0, len(last))
	for i, k := range chain {
		if last[k] == i {
			out = append(out, k)
		}
	}
	return out
}

// IsKindOf reports whether other is among c's ancestors.
func (c *Class) IsKindOf(other *Class) bool {
	for _, a := range c.Ancestors() {
		if a == other {
			return true
		}
	}
	return false
}

// Include appends module m to c's includes.
func (c *Class) Include(t *Token, m *Class) error {
	return c.addModule(t, m, false)
}

// Prepend adds module m in front of c in the resolution order.
func (c *Class) Prepend(t *Token, m *Class) error {
	return c.addModule(t, m, true)
}

func (c *Class) addModule(t *Token, m *Class, prepend bool) error {
	vm := c.vm
	t.mustHold(vm)
	if m.kind != ClassKindModule {
		return vm.newTypeError("wrong argument type %s (expected Module)", m.Name)
	}
	if m == c || m.IsKindOf(c) {
		return vm.newArgumentError("cyclic include detected")
	}
	if prepend {
		c.prepends = append(c.prepends, m.ref)
	} else {
		c.includes = append(c.includes, m.ref)
	}
	vm.hierarchyGen.Add(1)
	c.bumpSerial()
	if prepend {
		vm.bumpMethodGen("prepend " + m.Name + " into " + c.Name)
	} else {
		vm.bumpMethodGen("include " + m.Name + " into " + c.Name)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Singleton classes
// ---------------------------------------------------------------------------

// SingletonClass returns the singleton class of v, creating it on first use.
// Immediates have no singleton class.
func (vm *VM) SingletonClass(t *Token, v Value) (*Class, error) {
	t.mustHold(vm)
	o := v.Object()
	if o == nil {
		return nil, vm.newTypeError("can't define singleton for %s", vm.Inspect(v))
	}
	return vm.singletonOf(o, v), nil
}

func (vm *VM) singletonOf(o Object, v Value) *Class {
	hdr := o.Hdr()
	if cur := vm.classes.Get(hdr.Class); cur != nil && cur.kind == ClassKindSingleton && Identical(cur.attached, v) {
		return cur
	}
	var super *Class
	if c, ok := o.(*Class); ok {
		// Class-side methods of c inherit those of its superclass.
		if sc := c.Superclass(); sc != nil {
			super = vm.singletonOf(sc, FromObject(sc))
		} else if c.IsModule() {
			super = vm.ModuleClass
		} else {
			super = vm.ClassClass
		}
	} else {
		super = vm.classes.Get(hdr.Class)
		if super == nil {
			super = vm.ObjectClass
		}
	}
	s := vm.newClass("", ClassKindSingleton, super)
	s.attached = v
	s.layout = super.layout
	hdr.Class = s.ref
	vm.hierarchyGen.Add(1)
	return s
}
