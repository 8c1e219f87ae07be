package vm

import "math"

// ---------------------------------------------------------------------------
// Float Primitives
// ---------------------------------------------------------------------------

func (vm *VM) registerFloatPrimitives() {
	c := vm.FloatClass

	vm.defineNumericOps(c)

	c.define("to_s", Native0(func(ec *ExecContext, self Value) (Value, error) {
		return ec.vm.NewString(ec.vm.Inspect(self)), nil
	}), Public)
	c.define("to_f", Native0(func(ec *ExecContext, self Value) (Value, error) {
		return self, nil
	}), Public)
	c.define("to_i", Native0(func(ec *ExecContext, self Value) (Value, error) {
		f := self.Float64()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return Nil, ec.vm.newTypeError("can't convert %s into Integer", ec.vm.Inspect(self))
		}
		return FromInt(int64(f)), nil
	}), Public)
	c.define("nan?", Native0(func(ec *ExecContext, self Value) (Value, error) {
		return FromBool(math.IsNaN(self.Float64())), nil
	}), Public)
}
