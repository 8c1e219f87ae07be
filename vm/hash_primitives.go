package vm

// ---------------------------------------------------------------------------
// Hash Primitives
// ---------------------------------------------------------------------------

func (vm *VM) registerHashPrimitives() {
	c := vm.HashClass

	c.define("[]", Native1(func(ec *ExecContext, self, k Value) (Value, error) {
		v, _ := AsHash(self).Get(k)
		return v, nil
	}), Public)

	c.define("[]=", Native2(func(ec *ExecContext, self, k, v Value) (Value, error) {
		h := AsHash(self)
		h.Set(k, v)
		ec.vm.barrier(h, k)
		ec.vm.barrier(h, v)
		return v, nil
	}), Public)

	c.define("key?", Native1(func(ec *ExecContext, self, k Value) (Value, error) {
		_, ok := AsHash(self).Get(k)
		return FromBool(ok), nil
	}), Public)

	c.define("size", Native0(func(ec *ExecContext, self Value) (Value, error) {
		return FromInt(int64(AsHash(self).Len())), nil
	}), Public)

	c.define("keys", Native0(func(ec *ExecContext, self Value) (Value, error) {
		return ec.vm.NewArray(AsHash(self).Keys()), nil
	}), Public)

	// each yields [key, value] pairs; a block taking |k, v| splats them.
	c.define("each", NativeMethod(0, func(ec *ExecContext, self Value, args []Value, blk BlockHandler) (Value, error) {
		h := AsHash(self)
		for _, k := range h.Keys() {
			v, _ := h.Get(k)
			pair := ec.vm.NewArray([]Value{k, v})
			if _, err := ec.InvokeBlock(blk, []Value{pair}, NoBlock); err != nil {
				return Nil, err
			}
		}
		return self, nil
	}), Public)
}
