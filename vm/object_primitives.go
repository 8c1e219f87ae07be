package vm

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// BasicObject and Kernel Primitives
// ---------------------------------------------------------------------------

func (vm *VM) registerObjectPrimitives() {
	b := vm.BasicObjectClass

	b.define("method_missing", &MethodDef{Kind: MethodMissingDefault}, Private)
	b.define("initialize", NativeMethod(-1, func(ec *ExecContext, self Value, args []Value, blk BlockHandler) (Value, error) {
		return Nil, nil
	}), Private)
	b.define("instance_exec", OptimizedMethod(OptInstanceExec), Public)
	b.define("__send__", OptimizedMethod(OptSend), Public)

	b.define("==", Native1(func(ec *ExecContext, self, other Value) (Value, error) {
		return FromBool(Identical(self, other)), nil
	}), Public)
	b.define("equal?", Native1(func(ec *ExecContext, self, other Value) (Value, error) {
		return FromBool(Identical(self, other)), nil
	}), Public)
	b.define("!", Native0(func(ec *ExecContext, self Value) (Value, error) {
		return FromBool(!self.IsTruthy()), nil
	}), Public)
	b.define("!=", Native1(func(ec *ExecContext, self, other Value) (Value, error) {
		eq, err := ec.funcall(self, ec.vm.Intern("=="), []Value{other}, NoBlock)
		if err != nil {
			return Nil, err
		}
		return FromBool(!eq.IsTruthy()), nil
	}), Public)

	k := vm.KernelModule

	// Dispatch
	k.define("send", OptimizedMethod(OptSend), Public)
	k.define("__yield__", OptimizedMethod(OptBlockCall), Private)

	k.define("respond_to?", NativeMethod(-1, func(ec *ExecContext, self Value, args []Value, blk BlockHandler) (Value, error) {
		if len(args) < 1 || len(args) > 2 {
			return Nil, ec.vm.newArityError(len(args), 1, 2)
		}
		name, err := ec.vm.toSymbol(args[0])
		if err != nil {
			return Nil, err
		}
		e := ec.vm.findMethod(ec.vm.ClassOf(self), name)
		if e == nil {
			return False, nil
		}
		includeAll := len(args) == 2 && args[1].IsTruthy()
		return FromBool(includeAll || e.Visibility == Public), nil
	}), Public)

	k.define("block_given?", Native0(func(ec *ExecContext, self Value) (Value, error) {
		f := ec.callerFrame()
		if f == nil {
			return False, nil
		}
		return FromBool(!ec.methodBlock(f).IsNone()), nil
	}), Private)

	k.define("lambda", NativeMethod(0, func(ec *ExecContext, self Value, args []Value, blk BlockHandler) (Value, error) {
		if blk.IsNone() {
			return Nil, ec.vm.newArgumentError("tried to create Proc object without a block")
		}
		return FromObject(ec.vm.NewProc(blk, true)), nil
	}), Private)
	k.define("proc", NativeMethod(0, func(ec *ExecContext, self Value, args []Value, blk BlockHandler) (Value, error) {
		if blk.IsNone() {
			return Nil, ec.vm.newArgumentError("tried to create Proc object without a block")
		}
		return FromObject(ec.vm.NewProc(blk, false)), nil
	}), Private)

	k.define("using", Native1(func(ec *ExecContext, self, arg Value) (Value, error) {
		mod, ok := arg.Object().(*Class)
		if !ok || mod.kind != ClassKindModule {
			return Nil, ec.vm.newTypeError("wrong argument type %s (expected Module)", ec.vm.describe(arg))
		}
		if err := ec.Using(mod); err != nil {
			return Nil, err
		}
		return self, nil
	}), Private)

	k.define("raise", NativeMethod(-1, func(ec *ExecContext, self Value, args []Value, blk BlockHandler) (Value, error) {
		return Nil, ec.makeException(args)
	}), Private)

	// Introspection
	k.define("class", Native0(func(ec *ExecContext, self Value) (Value, error) {
		return FromObject(ec.vm.ClassOf(self).nonSingleton()), nil
	}), Public)
	k.define("singleton_class", Native0(func(ec *ExecContext, self Value) (Value, error) {
		c, err := ec.vm.SingletonClass(ec.token, self)
		if err != nil {
			return Nil, err
		}
		return FromObject(c), nil
	}), Public)
	isA := Native1(func(ec *ExecContext, self, arg Value) (Value, error) {
		c, ok := arg.Object().(*Class)
		if !ok {
			return Nil, ec.vm.newTypeError("class or module required")
		}
		return FromBool(ec.vm.ClassOf(self).IsKindOf(c)), nil
	})
	k.define("is_a?", isA, Public)
	k.define("kind_of?", isA, Public)
	k.define("nil?", Native0(func(ec *ExecContext, self Value) (Value, error) {
		return False, nil
	}), Public)

	k.define("instance_variable_get", Native1(func(ec *ExecContext, self, name Value) (Value, error) {
		sym, err := ec.vm.toSymbol(name)
		if err != nil {
			return Nil, err
		}
		return ec.vm.getIvar(self, sym), nil
	}), Public)
	k.define("instance_variable_set", Native2(func(ec *ExecContext, self, name, v Value) (Value, error) {
		sym, err := ec.vm.toSymbol(name)
		if err != nil {
			return Nil, err
		}
		if err := ec.vm.setIvar(self, sym, v); err != nil {
			return Nil, err
		}
		return v, nil
	}), Public)

	// Printing
	k.define("inspect", Native0(func(ec *ExecContext, self Value) (Value, error) {
		return ec.vm.NewString(ec.vm.Inspect(self)), nil
	}), Public)
	k.define("to_s", Native0(func(ec *ExecContext, self Value) (Value, error) {
		return ec.vm.NewString(ec.vm.Inspect(self)), nil
	}), Public)
	k.define("puts", NativeMethod(-1, func(ec *ExecContext, self Value, args []Value, blk BlockHandler) (Value, error) {
		var sb strings.Builder
		if len(args) == 0 {
			sb.WriteByte('\n')
		}
		for _, a := range args {
			if err := ec.putsInto(&sb, a); err != nil {
				return Nil, err
			}
		}
		_, err := fmt.Fprint(ec.vm.cfg.Stdout, sb.String())
		return Nil, err
	}), Private)
	k.define("p", NativeMethod(-1, func(ec *ExecContext, self Value, args []Value, blk BlockHandler) (Value, error) {
		for _, a := range args {
			s, err := ec.funcall(a, ec.vm.symInspect, nil, NoBlock)
			if err != nil {
				return Nil, err
			}
			fmt.Fprintln(ec.vm.cfg.Stdout, ec.vm.stringValue(s))
		}
		switch len(args) {
		case 0:
			return Nil, nil
		case 1:
			return args[0], nil
		}
		return ec.vm.NewArray(args), nil
	}), Private)
}

// funcall calls name on recv as an implicit-self call and runs it to
// completion. Native methods use it to call back into the VM.
func (ec *ExecContext) funcall(recv Value, name Symbol, args []Value, blk BlockHandler) (Value, error) {
	ci := &CallInfo{Mid: name, Argc: len(args), Flags: FlagFCall}
	return ec.callWith(ci, &CallCache{}, recv, args, blk)
}

// stringValue renders v as to_s would for core types.
func (vm *VM) stringValue(v Value) string {
	switch {
	case v.IsNil():
		return ""
	case v.IsSymbol():
		return vm.SymbolName(v.Symbol())
	}
	if s := AsString(v); s != nil {
		return s.S
	}
	return vm.Inspect(v)
}

// putsInto writes a puts argument: arrays one element per line, anything
// else through its to_s.
func (ec *ExecContext) putsInto(sb *strings.Builder, v Value) error {
	if arr := AsArray(v); arr != nil {
		for _, e := range arr.Elems {
			if err := ec.putsInto(sb, e); err != nil {
				return err
			}
		}
		return nil
	}
	s := v
	if AsString(v) == nil {
		var err error
		if s, err = ec.funcall(v, ec.vm.Intern("to_s"), nil, NoBlock); err != nil {
			return err
		}
	}
	line := ec.vm.stringValue(s)
	sb.WriteString(line)
	if !strings.HasSuffix(line, "\n") {
		sb.WriteByte('\n')
	}
	return nil
}

// makeException builds the exception raised by Kernel#raise.
func (ec *ExecContext) makeException(args []Value) error {
	vm := ec.vm
	if len(args) == 0 {
		return vm.newRuntimeError("unhandled exception")
	}
	if len(args) > 2 {
		return vm.newArityError(len(args), 0, 2)
	}
	first := args[0]
	if s := AsString(first); s != nil && len(args) == 1 {
		return vm.newRuntimeError("%s", s.S)
	}
	if e := AsException(first); e != nil && len(args) == 1 {
		return e
	}
	c, ok := first.Object().(*Class)
	if !ok || !c.IsKindOf(vm.ExceptionClass) {
		return vm.newTypeError("exception class/object expected")
	}
	v, err := ec.funcall(first, vm.Intern("new"), args[1:], NoBlock)
	if err != nil {
		return err
	}
	e := AsException(v)
	if e == nil {
		return vm.newTypeError("exception object expected")
	}
	return e
}
