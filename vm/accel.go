package vm

// Accelerators
//
// An accelerator is a Go function registered as a drop-in for a bytecode
// method. Calls still bind their arguments through the method's parameter
// list, so default values, keywords and arity errors behave exactly as for
// the interpreted body; only the body itself is replaced.

// AccelFunc replaces the body of a bytecode method. locals holds the bound
// parameters in layout order. Returning Undef is the same as returning nil.
type AccelFunc func(ec *ExecContext, self Value, locals []Value, blk BlockHandler) (Value, error)

// AccelKey names a method by class and method name.
type AccelKey struct {
	Class  string
	Method string
}

// AccelTable maps methods to their accelerators. Registrations by name
// apply to the current definition and to any later definition under the
// same name.
type AccelTable struct {
	vm     *VM
	byName map[AccelKey]AccelFunc
}

func newAccelTable(vm *VM) *AccelTable {
	return &AccelTable{vm: vm, byName: make(map[AccelKey]AccelFunc)}
}

// Accelerators returns the accelerator table of the VM.
func (vm *VM) Accelerators() *AccelTable { return vm.accel }

// Register installs fn for className#method.
func (t *AccelTable) Register(tok *Token, className, method string, fn AccelFunc) {
	vm := t.vm
	tok.mustHold(vm)
	t.byName[AccelKey{className, method}] = fn
	if c := vm.classes.Lookup(className); c != nil {
		if e := c.LocalMethod(vm.Intern(method)); e != nil {
			t.attach(c, e)
		}
	}
}

// RegisterISeq installs fn directly on iseq.
func (t *AccelTable) RegisterISeq(tok *Token, iseq *ISeq, fn AccelFunc) {
	tok.mustHold(t.vm)
	iseq.accel = fn
	t.vm.bumpMethodGen("accelerate " + iseq.Name)
}

// Unregister removes the accelerator of className#method.
func (t *AccelTable) Unregister(tok *Token, className, method string) {
	vm := t.vm
	tok.mustHold(vm)
	delete(t.byName, AccelKey{className, method})
	if c := vm.classes.Lookup(className); c != nil {
		if e := c.LocalMethod(vm.Intern(method)); e != nil && e.Def.Kind == MethodISeq && e.Def.ISeq.accel != nil {
			e.Def.ISeq.accel = nil
			vm.bumpMethodGen("unaccelerate " + className + "#" + method)
		}
	}
}

// Lookup returns the accelerator registered for className#method.
func (t *AccelTable) Lookup(className, method string) (AccelFunc, bool) {
	fn, ok := t.byName[AccelKey{className, method}]
	return fn, ok
}

// Len returns the number of registrations by name.
func (t *AccelTable) Len() int { return len(t.byName) }

// attach sets the accelerator of a freshly installed entry, if one is
// registered for it.
func (t *AccelTable) attach(c *Class, e *MethodEntry) {
	if len(t.byName) == 0 || e.Def.Kind != MethodISeq || c.Name == "" {
		return
	}
	fn, ok := t.byName[AccelKey{c.Name, t.vm.SymbolName(e.Name)}]
	if !ok {
		return
	}
	e.Def.ISeq.accel = fn
	t.vm.bumpMethodGen("accelerate " + c.Name + "#" + t.vm.SymbolName(e.Name))
}
