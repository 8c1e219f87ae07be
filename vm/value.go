package vm

import (
	"math"
)

// Kind discriminates the representation carried by a Value.
type Kind uint8

const (
	KindUndef  Kind = iota // internal sentinel: no value / frame pushed
	KindNil                // nil
	KindTrue               // true
	KindFalse              // false
	KindInt                // immediate signed integer
	KindFloat              // immediate float64
	KindSymbol             // interned symbol
	KindObject             // heap object reference
)

var kindNames = [...]string{
	KindUndef:  "undef",
	KindNil:    "nil",
	KindTrue:   "true",
	KindFalse:  "false",
	KindInt:    "int",
	KindFloat:  "float",
	KindSymbol: "symbol",
	KindObject: "object",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Value is the word-level representation of every Garnet value.
//
// A Value is either an immediate (nil, booleans, integers, floats, symbols)
// held entirely in the struct, or a reference to a heap Object. Immediates
// never alias heap storage; two heap values are identical iff they reference
// the same object.
type Value struct {
	kind Kind
	bits uint64
	obj  Object
}

// Pre-defined immediates.
var (
	Undef = Value{kind: KindUndef}
	Nil   = Value{kind: KindNil}
	True  = Value{kind: KindTrue}
	False = Value{kind: KindFalse}
)

// Kind returns the discriminant of v.
func (v Value) Kind() Kind {
	return v.kind
}

// ---------------------------------------------------------------------------
// Type checking
// ---------------------------------------------------------------------------

func (v Value) IsUndef() bool  { return v.kind == KindUndef }
func (v Value) IsNil() bool    { return v.kind == KindNil }
func (v Value) IsTrue() bool   { return v.kind == KindTrue }
func (v Value) IsFalse() bool  { return v.kind == KindFalse }
func (v Value) IsBool() bool   { return v.kind == KindTrue || v.kind == KindFalse }
func (v Value) IsInt() bool    { return v.kind == KindInt }
func (v Value) IsFloat() bool  { return v.kind == KindFloat }
func (v Value) IsSymbol() bool { return v.kind == KindSymbol }
func (v Value) IsObject() bool { return v.kind == KindObject }

// IsImmediate returns true if v does not reference heap storage.
func (v Value) IsImmediate() bool {
	return v.kind != KindObject
}

// ---------------------------------------------------------------------------
// Integers
// ---------------------------------------------------------------------------

// FromInt creates an integer Value.
func FromInt(n int64) Value {
	return Value{kind: KindInt, bits: uint64(n)}
}

// Int returns v as an int64.
// Panics if v is not an integer.
func (v Value) Int() int64 {
	if v.kind != KindInt {
		panic("Value.Int: not an integer")
	}
	return int64(v.bits)
}

// ---------------------------------------------------------------------------
// Floats
// ---------------------------------------------------------------------------

// FromFloat64 creates a float Value.
func FromFloat64(f float64) Value {
	return Value{kind: KindFloat, bits: math.Float64bits(f)}
}

// Float64 returns v as a float64.
// Panics if v is not a float.
func (v Value) Float64() float64 {
	if v.kind != KindFloat {
		panic("Value.Float64: not a float")
	}
	return math.Float64frombits(v.bits)
}

// ---------------------------------------------------------------------------
// Symbols
// ---------------------------------------------------------------------------

// FromSymbol creates a Value from an interned symbol.
func FromSymbol(s Symbol) Value {
	return Value{kind: KindSymbol, bits: uint64(s)}
}

// Symbol returns the symbol encoded in v.
// Panics if v is not a symbol.
func (v Value) Symbol() Symbol {
	if v.kind != KindSymbol {
		panic("Value.Symbol: not a symbol")
	}
	return Symbol(v.bits)
}

// ---------------------------------------------------------------------------
// Heap objects
// ---------------------------------------------------------------------------

// FromObject creates a Value referencing a heap object.
// A nil object yields Nil.
func FromObject(o Object) Value {
	if o == nil {
		return Nil
	}
	return Value{kind: KindObject, obj: o}
}

// Object returns the heap object referenced by v, or nil for immediates.
func (v Value) Object() Object {
	if v.kind != KindObject {
		return nil
	}
	return v.obj
}

// ---------------------------------------------------------------------------
// Booleans and truthiness
// ---------------------------------------------------------------------------

// FromBool creates a Value from a bool.
func FromBool(b bool) Value {
	if b {
		return True
	}
	return False
}

// IsTruthy returns true unless v is nil or false.
func (v Value) IsTruthy() bool {
	return v.kind != KindFalse && v.kind != KindNil
}

// Identical reports whether a and b are the same value: equal immediates or
// the same heap object.
func Identical(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	if a.kind == KindObject {
		return a.obj == b.obj
	}
	return a.bits == b.bits
}
