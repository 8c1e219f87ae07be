package vm

// CRef is a lexical scope. It names the class that definitions in the scope
// target and carries the refinements activated there with Using.
type CRef struct {
	Class *Class
	Prev  *CRef

	// refinements maps a target class to its active refinement modules,
	// most recently activated last.
	refinements map[*Class][]*Class
}

// NewCRef creates a scope nested in prev targeting class c. Refinements
// active in prev stay active.
func NewCRef(c *Class, prev *CRef) *CRef {
	cr := &CRef{Class: c, Prev: prev}
	if prev != nil {
		cr.refinements = prev.refinements
	}
	return cr
}

// Using returns a copy of cr with every refinement defined by mod active.
func (cr *CRef) Using(mod *Class) *CRef {
	out := &CRef{Prev: cr.Prev, Class: cr.Class}
	out.refinements = make(map[*Class][]*Class, len(cr.refinements)+len(mod.refinements))
	for target, mods := range cr.refinements {
		out.refinements[target] = append([]*Class(nil), mods...)
	}
	for targetRef, ref := range mod.refinements {
		target := mod.vm.classes.Get(targetRef)
		if target == nil {
			continue
		}
		out.refinements[target] = append(out.refinements[target], ref)
	}
	return out
}

// Active returns the refinements of target active in cr, most recent first.
func (cr *CRef) Active(target *Class) []*Class {
	if cr == nil {
		return nil
	}
	mods := cr.refinements[target]
	out := make([]*Class, len(mods))
	for i, m := range mods {
		out[len(mods)-1-i] = m
	}
	return out
}

// Refine returns the refinement of target owned by mod, creating it on
// first use. Methods defined in the refinement are only visible in scopes
// that activate mod.
func (vm *VM) Refine(t *Token, mod, target *Class) (*Class, error) {
	t.mustHold(vm)
	if mod.kind != ClassKindModule {
		return nil, vm.newTypeError("refine can only be called in a module")
	}
	if r, ok := mod.refinements[target.ref]; ok {
		return r, nil
	}
	r := vm.newClass("#<refinement:"+target.Name+"@"+mod.Name+">", ClassKindRefinement, nil)
	r.refinedClass = target.ref
	if mod.refinements == nil {
		mod.refinements = make(map[ClassRef]*Class)
	}
	mod.refinements[target.ref] = r
	return r, nil
}

// Using activates the refinements of mod in the scope of the frame calling
// the current native method.
func (ec *ExecContext) Using(mod *Class) error {
	f := ec.callerFrame()
	if f == nil || f.CRef == nil {
		return ec.vm.newRuntimeError("main.using is permitted only at toplevel")
	}
	f.CRef = f.CRef.Using(mod)
	ec.vm.bumpMethodGen("using " + mod.Name)
	return nil
}

// markRefined installs a refined entry for name in the target class of
// refinement r, wrapping whatever the target defines locally.
func (r *Class) markRefined(name Symbol) {
	vm := r.vm
	target := vm.classes.Get(r.refinedClass)
	if target == nil {
		return
	}
	orig := target.LocalMethod(name)
	if orig != nil && orig.Def.Kind == MethodRefined {
		return
	}
	vis := Public
	if orig != nil {
		vis = orig.Visibility
	}
	def := &MethodDef{Kind: MethodRefined, Original: orig}
	e := vm.newEntry(target, name, def, vis, target.ref)
	if oldRef, ok := target.methods[name]; ok {
		// The original stays reachable through def.Original; only its
		// handle is retired so caches holding it reselect.
		vm.methods.release(oldRef)
	}
	target.methods[name] = e.ref
	target.bumpSerial()
	vm.bumpMethodGen("refine " + target.Name + "#" + vm.SymbolName(name))
}

// refinedTarget picks the method a refined entry dispatches to for a call
// made in scope cref while executing cur. The refinement's own method wins
// unless it is the one running. Otherwise the unrefined original is used,
// or, when the class had none, the next definition up the ancestry. nil
// means there is nothing to call.
func (vm *VM) refinedTarget(e *MethodEntry, recvClass *Class, cref *CRef, cur *MethodEntry) *MethodEntry {
	owner := vm.classes.Get(e.Owner)
	for _, r := range cref.Active(owner) {
		re := r.LocalMethod(e.Name)
		if re == nil || re.Def.Kind == MethodUndef {
			continue
		}
		if cur != nil && cur.Def == re.Def {
			continue
		}
		return re
	}
	if orig := e.Def.Original; orig != nil {
		if orig.Def.Kind == MethodUndef {
			return nil
		}
		return orig
	}
	if owner == nil {
		return nil
	}
	return vm.resolveAfter(recvClass, owner, e.Name)
}
