package vm

import "unicode/utf8"

// ---------------------------------------------------------------------------
// String Primitives
// ---------------------------------------------------------------------------

func (vm *VM) registerStringPrimitives() {
	c := vm.StringClass

	c.define("+", Native1(func(ec *ExecContext, self, other Value) (Value, error) {
		o := AsString(other)
		if o == nil {
			return Nil, ec.vm.newTypeError("no implicit conversion of %s into String", ec.vm.ClassOf(other).nonSingleton().Name)
		}
		return ec.vm.NewString(AsString(self).S + o.S), nil
	}), Public)

	c.define("==", Native1(func(ec *ExecContext, self, other Value) (Value, error) {
		o := AsString(other)
		return FromBool(o != nil && o.S == AsString(self).S), nil
	}), Public)

	size := Native0(func(ec *ExecContext, self Value) (Value, error) {
		return FromInt(int64(utf8.RuneCountInString(AsString(self).S))), nil
	})
	c.define("size", size, Public)
	c.define("length", size, Public)

	c.define("to_s", Native0(func(ec *ExecContext, self Value) (Value, error) {
		return self, nil
	}), Public)
	c.define("to_sym", Native0(func(ec *ExecContext, self Value) (Value, error) {
		return FromSymbol(ec.vm.Intern(AsString(self).S)), nil
	}), Public)
}
