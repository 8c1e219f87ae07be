package vm

// ---------------------------------------------------------------------------
// Module and Class Primitives
// ---------------------------------------------------------------------------

func (vm *VM) registerClassReflectionPrimitives() {
	m := vm.ModuleClass

	// ---------------------------------------------------------------------------
	// Reflection
	// ---------------------------------------------------------------------------

	m.define("name", Native0(func(ec *ExecContext, self Value) (Value, error) {
		c := asClass(self)
		if c.Name == "" {
			return Nil, nil
		}
		return ec.vm.NewString(c.Name), nil
	}), Public)
	m.define("to_s", Native0(func(ec *ExecContext, self Value) (Value, error) {
		return ec.vm.NewString(asClass(self).String()), nil
	}), Public)

	m.define("ancestors", Native0(func(ec *ExecContext, self Value) (Value, error) {
		anc := asClass(self).Ancestors()
		out := make([]Value, len(anc))
		for i, a := range anc {
			out[i] = FromObject(a)
		}
		return ec.vm.NewArray(out), nil
	}), Public)

	m.define("method_defined?", Native1(func(ec *ExecContext, self, name Value) (Value, error) {
		sym, err := ec.vm.toSymbol(name)
		if err != nil {
			return Nil, err
		}
		e := ec.vm.findMethod(asClass(self), sym)
		return FromBool(e != nil && e.Visibility != Private), nil
	}), Public)

	m.define("===", Native1(func(ec *ExecContext, self, obj Value) (Value, error) {
		return FromBool(ec.vm.ClassOf(obj).IsKindOf(asClass(self))), nil
	}), Public)

	// ---------------------------------------------------------------------------
	// Method table mutation
	// ---------------------------------------------------------------------------

	m.define("attr_reader", vm.namesMethod(func(ec *ExecContext, c *Class, names []string) error {
		c.AttrReader(ec.token, names...)
		return nil
	}), Private)
	m.define("attr_writer", vm.namesMethod(func(ec *ExecContext, c *Class, names []string) error {
		c.AttrWriter(ec.token, names...)
		return nil
	}), Private)
	m.define("attr_accessor", vm.namesMethod(func(ec *ExecContext, c *Class, names []string) error {
		c.AttrReader(ec.token, names...)
		c.AttrWriter(ec.token, names...)
		return nil
	}), Private)

	for name, vis := range map[string]Visibility{"public": Public, "private": Private, "protected": Protected} {
		vis := vis
		m.define(name, vm.namesMethod(func(ec *ExecContext, c *Class, names []string) error {
			for _, n := range names {
				if err := c.SetVisibility(ec.token, n, vis); err != nil {
					return err
				}
			}
			return nil
		}), Private)
	}

	m.define("undef_method", vm.namesMethod(func(ec *ExecContext, c *Class, names []string) error {
		for _, n := range names {
			if err := c.UndefMethod(ec.token, n); err != nil {
				return err
			}
		}
		return nil
	}), Private)
	m.define("remove_method", vm.namesMethod(func(ec *ExecContext, c *Class, names []string) error {
		for _, n := range names {
			if err := c.RemoveMethod(ec.token, n); err != nil {
				return err
			}
		}
		return nil
	}), Private)

	m.define("alias_method", Native2(func(ec *ExecContext, self, newName, oldName Value) (Value, error) {
		n, err := ec.vm.toSymbol(newName)
		if err != nil {
			return Nil, err
		}
		o, err := ec.vm.toSymbol(oldName)
		if err != nil {
			return Nil, err
		}
		if err := asClass(self).AliasMethod(ec.token, ec.vm.SymbolName(n), ec.vm.SymbolName(o)); err != nil {
			return Nil, err
		}
		return newName, nil
	}), Private)

	// Modules are added in reverse so the first argument ends up nearest
	// the receiver, as with separate calls in reverse order.
	m.define("include", vm.modulesMethod(func(ec *ExecContext, c, mod *Class) error {
		return c.Include(ec.token, mod)
	}), Private)
	m.define("prepend", vm.modulesMethod(func(ec *ExecContext, c, mod *Class) error {
		return c.Prepend(ec.token, mod)
	}), Private)

	// ---------------------------------------------------------------------------
	// Scoped evaluation
	// ---------------------------------------------------------------------------

	classEval := NativeMethod(0, func(ec *ExecContext, self Value, args []Value, blk BlockHandler) (Value, error) {
		if blk.IsNone() {
			return Nil, ec.vm.newArgumentError("no block given")
		}
		return ec.InvokeBlockUnder(blk, asClass(self), nil)
	})
	m.define("class_eval", classEval, Public)
	m.define("module_eval", classEval, Public)

	m.define("refine", NativeMethod(1, func(ec *ExecContext, self Value, args []Value, blk BlockHandler) (Value, error) {
		vm := ec.vm
		target, ok := args[0].Object().(*Class)
		if !ok {
			return Nil, vm.newTypeError("wrong argument type %s (expected Class or Module)", vm.describe(args[0]))
		}
		if blk.IsNone() {
			return Nil, vm.newArgumentError("no block given")
		}
		r, err := vm.Refine(ec.token, asClass(self), target)
		if err != nil {
			return Nil, err
		}
		if _, err := ec.InvokeBlockUnder(blk, r, nil); err != nil {
			return Nil, err
		}
		return FromObject(r), nil
	}), Private)

	// ---------------------------------------------------------------------------
	// Class
	// ---------------------------------------------------------------------------

	c := vm.ClassClass

	c.define("allocate", Native0(func(ec *ExecContext, self Value) (Value, error) {
		return ec.vm.allocate(asClass(self))
	}), Public)

	c.define("new", NativeMethod(-1, func(ec *ExecContext, self Value, args []Value, blk BlockHandler) (Value, error) {
		obj, err := ec.vm.allocate(asClass(self))
		if err != nil {
			return Nil, err
		}
		if _, err := ec.funcall(obj, ec.vm.symInitialize, args, blk); err != nil {
			return Nil, err
		}
		return obj, nil
	}), Public)

	c.define("superclass", Native0(func(ec *ExecContext, self Value) (Value, error) {
		sc := asClass(self).Superclass()
		for sc != nil && sc.kind == ClassKindSingleton {
			sc = sc.Superclass()
		}
		if sc == nil {
			return Nil, nil
		}
		return FromObject(sc), nil
	}), Public)
}

func asClass(v Value) *Class {
	c, _ := v.Object().(*Class)
	return c
}

// allocate creates an uninitialized instance of c.
func (vm *VM) allocate(c *Class) (Value, error) {
	switch {
	case c.kind == ClassKindSingleton:
		return Nil, vm.newTypeError("can't create instance of singleton class")
	case c.IsModule():
		return Nil, vm.newTypeError("can't create instance of a module")
	case c == vm.IntegerClass || c == vm.FloatClass || c == vm.SymbolClass ||
		c == vm.NilClass || c == vm.TrueClass || c == vm.FalseClass:
		return Nil, vm.newTypeError("allocator undefined for %s", c.Name)
	}
	return FromObject(vm.heap.Allocate(c, c.NumIvars())), nil
}

// namesMethod wraps fn as a variadic native taking method or attribute
// names as symbols or strings.
func (vm *VM) namesMethod(fn func(ec *ExecContext, c *Class, names []string) error) *MethodDef {
	return NativeMethod(-1, func(ec *ExecContext, self Value, args []Value, blk BlockHandler) (Value, error) {
		names := make([]string, len(args))
		for i, a := range args {
			sym, err := ec.vm.toSymbol(a)
			if err != nil {
				return Nil, err
			}
			names[i] = ec.vm.SymbolName(sym)
		}
		if err := fn(ec, asClass(self), names); err != nil {
			return Nil, err
		}
		if len(args) == 1 {
			return args[0], nil
		}
		return Nil, nil
	})
}

// modulesMethod wraps fn as a variadic native taking modules, applied last
// argument first.
func (vm *VM) modulesMethod(fn func(ec *ExecContext, c, mod *Class) error) *MethodDef {
	return NativeMethod(-1, func(ec *ExecContext, self Value, args []Value, blk BlockHandler) (Value, error) {
		if len(args) == 0 {
			return Nil, ec.vm.newArityError(0, 1, -1)
		}
		c := asClass(self)
		for i := len(args) - 1; i >= 0; i-- {
			mod, ok := args[i].Object().(*Class)
			if !ok {
				return Nil, ec.vm.newTypeError("wrong argument type %s (expected Module)", ec.vm.describe(args[i]))
			}
			if err := fn(ec, c, mod); err != nil {
				return Nil, err
			}
		}
		return self, nil
	})
}
