package vm

// ---------------------------------------------------------------------------
// Array Primitives
// ---------------------------------------------------------------------------

func (vm *VM) registerArrayPrimitives() {
	c := vm.ArrayClass

	size := Native0(func(ec *ExecContext, self Value) (Value, error) {
		return FromInt(int64(len(AsArray(self).Elems))), nil
	})
	c.define("size", size, Public)
	c.define("length", size, Public)

	c.define("[]", Native1(func(ec *ExecContext, self, idx Value) (Value, error) {
		arr := AsArray(self)
		i, err := ec.vm.arrayIndex(arr, idx)
		if err != nil {
			return Nil, err
		}
		if i < 0 || i >= len(arr.Elems) {
			return Nil, nil
		}
		return arr.Elems[i], nil
	}), Public)

	c.define("[]=", Native2(func(ec *ExecContext, self, idx, v Value) (Value, error) {
		arr := AsArray(self)
		i, err := ec.vm.arrayIndex(arr, idx)
		if err != nil {
			return Nil, err
		}
		if i < 0 {
			return Nil, ec.vm.NewException(ec.vm.IndexErrorClass, "index %d too small for array", idx.Int())
		}
		for len(arr.Elems) <= i {
			arr.Elems = append(arr.Elems, Nil)
		}
		arr.Elems[i] = v
		ec.vm.barrier(arr, v)
		return v, nil
	}), Public)

	push := NativeMethod(-1, func(ec *ExecContext, self Value, args []Value, blk BlockHandler) (Value, error) {
		arr := AsArray(self)
		for _, v := range args {
			arr.Elems = append(arr.Elems, v)
			ec.vm.barrier(arr, v)
		}
		return self, nil
	})
	c.define("push", push, Public)
	c.define("<<", push, Public)

	c.define("first", Native0(func(ec *ExecContext, self Value) (Value, error) {
		arr := AsArray(self)
		if len(arr.Elems) == 0 {
			return Nil, nil
		}
		return arr.Elems[0], nil
	}), Public)

	// Iteration. The array may change while the block runs, so the length
	// is re-read on every step.
	c.define("each", NativeMethod(0, func(ec *ExecContext, self Value, args []Value, blk BlockHandler) (Value, error) {
		arr := AsArray(self)
		for i := 0; i < len(arr.Elems); i++ {
			if _, err := ec.InvokeBlock(blk, []Value{arr.Elems[i]}, NoBlock); err != nil {
				return Nil, err
			}
		}
		return self, nil
	}), Public)

	c.define("map", NativeMethod(0, func(ec *ExecContext, self Value, args []Value, blk BlockHandler) (Value, error) {
		arr := AsArray(self)
		out := make([]Value, 0, len(arr.Elems))
		for i := 0; i < len(arr.Elems); i++ {
			v, err := ec.InvokeBlock(blk, []Value{arr.Elems[i]}, NoBlock)
			if err != nil {
				return Nil, err
			}
			out = append(out, v)
		}
		return ec.vm.NewArray(out), nil
	}), Public)

	c.define("==", Native1(func(ec *ExecContext, self, other Value) (Value, error) {
		a, b := AsArray(self), AsArray(other)
		if b == nil || len(a.Elems) != len(b.Elems) {
			return False, nil
		}
		eq := ec.vm.Intern("==")
		for i := range a.Elems {
			r, err := ec.funcall(a.Elems[i], eq, []Value{b.Elems[i]}, NoBlock)
			if err != nil {
				return Nil, err
			}
			if !r.IsTruthy() {
				return False, nil
			}
		}
		return True, nil
	}), Public)
}

// arrayIndex converts an index argument, counting negative indices from
// the end.
func (vm *VM) arrayIndex(arr *Array, idx Value) (int, error) {
	if !idx.IsInt() {
		return 0, vm.newTypeError("no implicit conversion of %s into Integer", vm.ClassOf(idx).nonSingleton().Name)
	}
	i := int(idx.Int())
	if i < 0 {
		i += len(arr.Elems)
	}
	return i, nil
}
