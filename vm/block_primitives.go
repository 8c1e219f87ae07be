package vm

// ---------------------------------------------------------------------------
// Proc Primitives
// ---------------------------------------------------------------------------

func (vm *VM) registerBlockPrimitives() {
	c := vm.ProcClass

	call := OptimizedMethod(OptCall)
	c.define("call", call, Public)
	c.define("yield", call, Public)
	c.define("[]", call, Public)

	c.define("lambda?", Native0(func(ec *ExecContext, self Value) (Value, error) {
		return FromBool(AsProc(self).Lambda), nil
	}), Public)

	c.define("arity", Native0(func(ec *ExecContext, self Value) (Value, error) {
		return FromInt(int64(procArity(AsProc(self)))), nil
	}), Public)

	c.define("to_proc", Native0(func(ec *ExecContext, self Value) (Value, error) {
		return self, nil
	}), Public)
}

func procArity(p *Proc) int {
	switch p.Block.kind {
	case BlockISeq:
		return p.Block.iseq.Params.Arity()
	case BlockSymbol:
		return -2
	case BlockProc:
		return procArity(p.Block.proc)
	}
	return -1
}
