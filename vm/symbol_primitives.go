package vm

// ---------------------------------------------------------------------------
// Symbol Primitives
// ---------------------------------------------------------------------------

func (vm *VM) registerSymbolPrimitives() {
	c := vm.SymbolClass

	c.define("to_s", Native0(func(ec *ExecContext, self Value) (Value, error) {
		return ec.vm.NewString(ec.vm.SymbolName(self.Symbol())), nil
	}), Public)
	c.define("to_sym", Native0(func(ec *ExecContext, self Value) (Value, error) {
		return self, nil
	}), Public)

	// &:name blocks call name on their first argument.
	c.define("to_proc", Native0(func(ec *ExecContext, self Value) (Value, error) {
		return FromObject(ec.vm.NewProc(SymbolBlock(self.Symbol()), true)), nil
	}), Public)
}
