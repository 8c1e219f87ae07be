package vm

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Exceptions
// ---------------------------------------------------------------------------

// Exception is a raised Garnet exception. It is both a heap object (so
// rescue handlers can bind it) and a Go error, and travels through handlers
// and the interpreter loop as an ordinary return value.
type Exception struct {
	Header
	class *Class

	Message string

	// ArityError
	Given, Min, Max int

	// NameError / NoMethodError
	Name     Symbol
	Receiver Value
	Reason   MissingReason

	// KeywordError
	Keywords []Symbol

	Backtrace []string

	// preallocated exceptions are shared and never mutated.
	preallocated bool
}

// Class returns the exception's class.
func (e *Exception) Class() *Class { return e.class }

// IsA reports whether e is an instance of c or a subclass.
func (e *Exception) IsA(c *Class) bool {
	return c != nil && e.class.IsKindOf(c)
}

func (e *Exception) Error() string {
	return fmt.Sprintf("%s (%s)", e.Message, e.class.Name)
}

// Fatal reports whether e can never be rescued.
func (e *Exception) Fatal() bool {
	return e.class == e.class.vm.FatalClass
}

// ---------------------------------------------------------------------------
// Control transfers
// ---------------------------------------------------------------------------

// TransferKind is the kind of a non-exception control transfer.
type TransferKind uint8

const (
	TransferBreak TransferKind = iota + 1
	TransferReturn
	TransferRetry
)

func (k TransferKind) String() string {
	switch k {
	case TransferBreak:
		return "break"
	case TransferReturn:
		return "return"
	case TransferRetry:
		return "retry"
	default:
		return "unknown"
	}
}

// ControlTransfer carries break, non-local return and retry out of the
// frames between the throw and its target. Target is the environment of
// the frame that must receive it; nil for retry.
type ControlTransfer struct {
	Kind   TransferKind
	Value  Value
	Target *Env
}

func (t *ControlTransfer) Error() string {
	return "unhandled " + t.Kind.String()
}

// ---------------------------------------------------------------------------
// Exception class registration
// ---------------------------------------------------------------------------

func (vm *VM) bootstrapExceptionClasses() {
	vm.ExceptionClass = vm.bootClass("Exception", vm.ObjectClass)
	vm.ExceptionClass.layout = TypeException

	// fatal cannot be rescued; it is a direct Exception subclass
	vm.FatalClass = vm.bootClass("fatal", vm.ExceptionClass)

	// StackOverflow is not a StandardError, so bare rescue skips it
	vm.StackOverflowClass = vm.bootClass("StackOverflow", vm.ExceptionClass)

	vm.StandardErrorClass = vm.bootClass("StandardError", vm.ExceptionClass)
	vm.RuntimeErrorClass = vm.bootClass("RuntimeError", vm.StandardErrorClass)
	vm.TypeErrorClass = vm.bootClass("TypeError", vm.StandardErrorClass)
	vm.ZeroDivisionErrorClass = vm.bootClass("ZeroDivisionError", vm.StandardErrorClass)
	vm.IndexErrorClass = vm.bootClass("IndexError", vm.StandardErrorClass)
	vm.LocalJumpErrorClass = vm.bootClass("LocalJumpError", vm.StandardErrorClass)

	vm.ArgumentErrorClass = vm.bootClass("ArgumentError", vm.StandardErrorClass)
	vm.ArityErrorClass = vm.bootClass("ArityError", vm.ArgumentErrorClass)
	vm.KeywordErrorClass = vm.bootClass("KeywordError", vm.ArgumentErrorClass)

	vm.NameErrorClass = vm.bootClass("NameError", vm.StandardErrorClass)
	vm.NoMethodErrorClass = vm.bootClass("NoMethodError", vm.NameErrorClass)

	vm.overflowTemplate = &Exception{
		Header:  Header{Type: TypeException, Class: vm.StackOverflowClass.ref},
		class:   vm.StackOverflowClass,
		Message: "stack level too deep",
	}
	vm.fatalOverflow = &Exception{
		Header:       Header{Type: TypeException, Class: vm.FatalClass.ref},
		class:        vm.FatalClass,
		Message:      "stack level too deep while handling stack overflow",
		preallocated: true,
	}
}

// ---------------------------------------------------------------------------
// Constructors
// ---------------------------------------------------------------------------

// NewException allocates an exception of class c with a formatted message.
func (vm *VM) NewException(c *Class, format string, args ...any) *Exception {
	e, ok := vm.heap.Allocate(c, 0).(*Exception)
	if !ok {
		panic("vm: " + c.Name + " is not an exception class")
	}
	e.class = c
	if len(args) > 0 {
		e.Message = fmt.Sprintf(format, args...)
	} else {
		e.Message = format
	}
	return e
}

func (vm *VM) newArgumentError(format string, args ...any) *Exception {
	return vm.NewException(vm.ArgumentErrorClass, format, args...)
}

func (vm *VM) newTypeError(format string, args ...any) *Exception {
	return vm.NewException(vm.TypeErrorClass, format, args...)
}

func (vm *VM) newRuntimeError(format string, args ...any) *Exception {
	return vm.NewException(vm.RuntimeErrorClass, format, args...)
}

func (vm *VM) newLocalJumpError(format string, args ...any) *Exception {
	return vm.NewException(vm.LocalJumpErrorClass, format, args...)
}

func (vm *VM) newNameError(name Symbol, format string, args ...any) *Exception {
	e := vm.NewException(vm.NameErrorClass, format, args...)
	e.Name = name
	return e
}

// newArityError reports a positional argument count outside [min, max].
// max < 0 means unlimited.
func (vm *VM) newArityError(given, min, max int) *Exception {
	var expected string
	switch {
	case max < 0:
		expected = fmt.Sprintf("%d+", min)
	case min == max:
		expected = fmt.Sprintf("%d", min)
	default:
		expected = fmt.Sprintf("%d..%d", min, max)
	}
	e := vm.NewException(vm.ArityErrorClass, "wrong number of arguments (given %d, expected %s)", given, expected)
	e.Given, e.Min, e.Max = given, min, max
	return e
}

// newKeywordError lists every missing or unknown keyword.
func (vm *VM) newKeywordError(missing bool, keys []Symbol) *Exception {
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = ":" + vm.SymbolName(k)
	}
	what := "unknown"
	if missing {
		what = "missing"
	}
	word := "keyword"
	if len(keys) > 1 {
		word = "keywords"
	}
	e := vm.NewException(vm.KeywordErrorClass, "%s %s: %s", what, word, strings.Join(names, ", "))
	e.Keywords = keys
	return e
}

func (vm *VM) newNoMethodError(name Symbol, recv Value, reason MissingReason) *Exception {
	mname := vm.SymbolName(name)
	desc := vm.describe(recv)
	var e *Exception
	switch reason {
	case MissingPrivate:
		e = vm.NewException(vm.NoMethodErrorClass, "private method '%s' called for %s", mname, desc)
	case MissingProtected:
		e = vm.NewException(vm.NoMethodErrorClass, "protected method '%s' called for %s", mname, desc)
	case MissingSuper:
		e = vm.NewException(vm.NoMethodErrorClass, "super: no superclass method '%s' for %s", mname, desc)
	case MissingVCall:
		e = vm.NewException(vm.NameErrorClass, "undefined local variable or method '%s' for %s", mname, desc)
	default:
		e = vm.NewException(vm.NoMethodErrorClass, "undefined method '%s' for %s", mname, desc)
	}
	e.Name = name
	e.Receiver = recv
	e.Reason = reason
	return e
}

// describe renders a receiver for error messages.
func (vm *VM) describe(v Value) string {
	switch v.kind {
	case KindNil, KindTrue, KindFalse:
		return vm.Inspect(v)
	}
	if c, ok := v.Object().(*Class); ok {
		if c.IsModule() {
			return "module " + c.String()
		}
		return "class " + c.String()
	}
	return "an instance of " + vm.ClassOf(v).nonSingleton().Name
}

// nonSingleton skips singleton classes up to the first real class.
func (c *Class) nonSingleton() *Class {
	for c.kind == ClassKindSingleton {
		c = c.Superclass()
	}
	return c
}

// ExceptionValue wraps e as a Value.
func ExceptionValue(e *Exception) Value {
	return FromObject(e)
}

// AsException returns the Exception referenced by v, or nil.
func AsException(v Value) *Exception {
	e, _ := v.Object().(*Exception)
	return e
}

// ---------------------------------------------------------------------------
// Exception primitives
// ---------------------------------------------------------------------------

func (vm *VM) registerExceptionPrimitives() {
	c := vm.ExceptionClass

	c.define("initialize", NativeMethod(-1, func(ec *ExecContext, self Value, args []Value, blk BlockHandler) (Value, error) {
		e := AsException(self)
		if e == nil {
			return Nil, ec.vm.newTypeError("exception object expected")
		}
		switch len(args) {
		case 0:
			e.Message = e.class.Name
		case 1:
			if args[0].IsNil() {
				e.Message = e.class.Name
			} else {
				e.Message = ec.vm.stringValue(args[0])
			}
		default:
			return Nil, ec.vm.newArityError(len(args), 0, 1)
		}
		return Nil, nil
	}), Private)

	c.define("message", Native0(func(ec *ExecContext, self Value) (Value, error) {
		return ec.vm.NewString(AsException(self).Message), nil
	}), Public)
	c.define("to_s", Native0(func(ec *ExecContext, self Value) (Value, error) {
		return ec.vm.NewString(AsException(self).Message), nil
	}), Public)
	c.define("inspect", Native0(func(ec *ExecContext, self Value) (Value, error) {
		e := AsException(self)
		return ec.vm.NewString("#<" + e.class.Name + ": " + e.Message + ">"), nil
	}), Public)

	c.define("backtrace", Native0(func(ec *ExecContext, self Value) (Value, error) {
		e := AsException(self)
		if e.Backtrace == nil {
			return Nil, nil
		}
		lines := make([]Value, len(e.Backtrace))
		for i, l := range e.Backtrace {
			lines[i] = ec.vm.NewString(l)
		}
		return ec.vm.NewArray(lines), nil
	}), Public)
}
