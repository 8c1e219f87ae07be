package vm

import (
	"math"
	"strconv"
)

// ---------------------------------------------------------------------------
// Integer Primitives
// ---------------------------------------------------------------------------

func (vm *VM) registerIntegerPrimitives() {
	c := vm.IntegerClass

	// Arithmetic
	vm.defineNumericOps(c)

	c.define("to_s", Native0(func(ec *ExecContext, self Value) (Value, error) {
		return ec.vm.NewString(strconv.FormatInt(self.Int(), 10)), nil
	}), Public)
	c.define("to_i", Native0(func(ec *ExecContext, self Value) (Value, error) {
		return self, nil
	}), Public)
	c.define("to_f", Native0(func(ec *ExecContext, self Value) (Value, error) {
		return FromFloat64(float64(self.Int())), nil
	}), Public)
	c.define("succ", Native0(func(ec *ExecContext, self Value) (Value, error) {
		return FromInt(self.Int() + 1), nil
	}), Public)
	c.define("zero?", Native0(func(ec *ExecContext, self Value) (Value, error) {
		return FromBool(self.Int() == 0), nil
	}), Public)

	// Iteration
	c.define("times", NativeMethod(0, func(ec *ExecContext, self Value, args []Value, blk BlockHandler) (Value, error) {
		n := self.Int()
		for i := int64(0); i < n; i++ {
			if _, err := ec.InvokeBlock(blk, []Value{FromInt(i)}, NoBlock); err != nil {
				return Nil, err
			}
		}
		return self, nil
	}), Public)
}

// numericOp is one binary operator shared by Integer and Float.
type numericOp struct {
	name    string
	integer func(vm *VM, a, b int64) (Value, error)
	float   func(a, b float64) Value
	compare bool
}

var numericOps = []numericOp{
	{name: "+",
		integer: func(vm *VM, a, b int64) (Value, error) { return FromInt(a + b), nil },
		float:   func(a, b float64) Value { return FromFloat64(a + b) }},
	{name: "-",
		integer: func(vm *VM, a, b int64) (Value, error) { return FromInt(a - b), nil },
		float:   func(a, b float64) Value { return FromFloat64(a - b) }},
	{name: "*",
		integer: func(vm *VM, a, b int64) (Value, error) { return FromInt(a * b), nil },
		float:   func(a, b float64) Value { return FromFloat64(a * b) }},
	{name: "/",
		integer: func(vm *VM, a, b int64) (Value, error) {
			if b == 0 {
				return Nil, vm.NewException(vm.ZeroDivisionErrorClass, "divided by 0")
			}
			return FromInt(floorDiv(a, b)), nil
		},
		float: func(a, b float64) Value { return FromFloat64(a / b) }},
	{name: "%",
		integer: func(vm *VM, a, b int64) (Value, error) {
			if b == 0 {
				return Nil, vm.NewException(vm.ZeroDivisionErrorClass, "divided by 0")
			}
			return FromInt(a - b*floorDiv(a, b)), nil
		},
		float: func(a, b float64) Value { return FromFloat64(a - b*math.Floor(a/b)) }},
	{name: "<", compare: true,
		integer: func(vm *VM, a, b int64) (Value, error) { return FromBool(a < b), nil },
		float:   func(a, b float64) Value { return FromBool(a < b) }},
	{name: ">", compare: true,
		integer: func(vm *VM, a, b int64) (Value, error) { return FromBool(a > b), nil },
		float:   func(a, b float64) Value { return FromBool(a > b) }},
	{name: "<=", compare: true,
		integer: func(vm *VM, a, b int64) (Value, error) { return FromBool(a <= b), nil },
		float:   func(a, b float64) Value { return FromBool(a <= b) }},
	{name: ">=", compare: true,
		integer: func(vm *VM, a, b int64) (Value, error) { return FromBool(a >= b), nil },
		float:   func(a, b float64) Value { return FromBool(a >= b) }},
}

// defineNumericOps installs the shared operators on Integer or Float. An
// Integer operand mixed with a Float is promoted.
func (vm *VM) defineNumericOps(c *Class) {
	for _, op := range numericOps {
		op := op
		c.define(op.name, Native1(func(ec *ExecContext, self, other Value) (Value, error) {
			vm := ec.vm
			if self.IsInt() && other.IsInt() {
				return op.integer(vm, self.Int(), other.Int())
			}
			x, okx := toFloat(self)
			y, oky := toFloat(other)
			if !okx || !oky {
				if op.compare {
					return Nil, vm.newArgumentError("comparison of %s with %s failed",
						vm.ClassOf(self).nonSingleton().Name, vm.Inspect(other))
				}
				return Nil, vm.newTypeError("%s can't be coerced into %s",
					vm.ClassOf(other).nonSingleton().Name, vm.ClassOf(self).nonSingleton().Name)
			}
			return op.float(x, y), nil
		}), Public)
	}

	c.define("==", Native1(func(ec *ExecContext, self, other Value) (Value, error) {
		if self.IsInt() && other.IsInt() {
			return FromBool(self.Int() == other.Int()), nil
		}
		x, okx := toFloat(self)
		y, oky := toFloat(other)
		return FromBool(okx && oky && x == y), nil
	}), Public)

	c.define("<=>", Native1(func(ec *ExecContext, self, other Value) (Value, error) {
		x, okx := toFloat(self)
		y, oky := toFloat(other)
		if self.IsInt() && other.IsInt() {
			a, b := self.Int(), other.Int()
			switch {
			case a < b:
				return FromInt(-1), nil
			case a > b:
				return FromInt(1), nil
			}
			return FromInt(0), nil
		}
		if !okx || !oky || math.IsNaN(x) || math.IsNaN(y) {
			return Nil, nil
		}
		switch {
		case x < y:
			return FromInt(-1), nil
		case x > y:
			return FromInt(1), nil
		}
		return FromInt(0), nil
	}), Public)
}

func toFloat(v Value) (float64, bool) {
	switch v.kind {
	case KindInt:
		return float64(v.Int()), true
	case KindFloat:
		return v.Float64(), true
	}
	return 0, false
}

// floorDiv divides rounding toward negative infinity.
func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
