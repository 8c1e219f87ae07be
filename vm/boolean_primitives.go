package vm

// ---------------------------------------------------------------------------
// NilClass, TrueClass and FalseClass Primitives
// ---------------------------------------------------------------------------

func (vm *VM) registerBooleanPrimitives() {
	n := vm.NilClass
	n.define("nil?", Native0(func(ec *ExecContext, self Value) (Value, error) {
		return True, nil
	}), Public)
	n.define("to_s", Native0(func(ec *ExecContext, self Value) (Value, error) {
		return ec.vm.NewString(""), nil
	}), Public)
	n.define("to_a", Native0(func(ec *ExecContext, self Value) (Value, error) {
		return ec.vm.NewArray(nil), nil
	}), Public)

	for _, c := range []*Class{vm.NilClass, vm.TrueClass, vm.FalseClass} {
		c.define("&", Native1(func(ec *ExecContext, self, other Value) (Value, error) {
			return FromBool(self.IsTruthy() && other.IsTruthy()), nil
		}), Public)
		c.define("|", Native1(func(ec *ExecContext, self, other Value) (Value, error) {
			return FromBool(self.IsTruthy() || other.IsTruthy()), nil
		}), Public)
	}
	for _, c := range []*Class{vm.TrueClass, vm.FalseClass} {
		c.define("to_s", Native0(func(ec *ExecContext, self Value) (Value, error) {
			return ec.vm.NewString(ec.vm.Inspect(self)), nil
		}), Public)
	}
}
