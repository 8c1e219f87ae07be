package vm

// MissingReason says why a call was routed to method_missing.
type MissingReason uint8

const (
	MissingUndefined MissingReason = iota
	MissingPrivate
	MissingProtected
	MissingSuper
	MissingVCall
)

func (r MissingReason) String() string {
	switch r {
	case MissingPrivate:
		return "private"
	case MissingProtected:
		return "protected"
	case MissingSuper:
		return "super"
	case MissingVCall:
		return "vcall"
	default:
		return "undefined"
	}
}

// Resolve returns the method visible as name on instances of c, walking the
// ancestor list in resolution order. Undef entries end the walk with nil.
// Visibility and refinements are not applied.
func (vm *VM) Resolve(c *Class, name Symbol) *MethodEntry {
	return vm.findMethod(c, name)
}

func (vm *VM) findMethod(c *Class, name Symbol) *MethodEntry {
	for _, k := range c.Ancestors() {
		if e := k.LocalMethod(name); e != nil {
			if e.Def.Kind == MethodUndef {
				return nil
			}
			return e
		}
	}
	return nil
}

// ResolveSuper resumes the ancestor walk of recvClass immediately after
// definedIn, the class or module that defines the executing method. A
// method defined in a refinement continues with the refined class itself.
func (vm *VM) ResolveSuper(recvClass, definedIn *Class, name Symbol) *MethodEntry {
	if definedIn.kind == ClassKindRefinement {
		target := vm.classes.Get(definedIn.refinedClass)
		if target == nil {
			return nil
		}
		if e := target.LocalMethod(name); e != nil {
			switch e.Def.Kind {
			case MethodRefined:
				if e.Def.Original != nil {
					return e.Def.Original
				}
			case MethodUndef:
				return nil
			default:
				return e
			}
		}
		return vm.resolveAfter(recvClass, target, name)
	}
	return vm.resolveAfter(recvClass, definedIn, name)
}

func (vm *VM) resolveAfter(recvClass, after *Class, name Symbol) *MethodEntry {
	anc := recvClass.Ancestors()
	i := 0
	for ; i < len(anc); i++ {
		if anc[i] == after {
			break
		}
	}
	for i++; i < len(anc); i++ {
		if e := anc[i].LocalMethod(name); e != nil {
			if e.Def.Kind == MethodUndef {
				return nil
			}
			return e
		}
	}
	return nil
}

// RespondTo reports whether a public call of name on v would find a method.
func (vm *VM) RespondTo(v Value, name Symbol) bool {
	e := vm.findMethod(vm.ClassOf(v), name)
	return e != nil && e.Visibility == Public
}

// protectedAllowed reports whether the self of the calling frame may call
// the protected entry e.
func (ec *ExecContext) protectedAllowed(e *MethodEntry) bool {
	f := ec.cfp()
	if f == nil {
		return false
	}
	defined := ec.vm.classes.Get(e.DefinedIn)
	if defined == nil {
		return false
	}
	return ec.vm.ClassOf(f.Self).IsKindOf(defined)
}
