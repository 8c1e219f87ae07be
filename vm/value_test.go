package vm

import (
	"math"
	"testing"
)

// ---------------------------------------------------------------------------
// Value representation tests
// ---------------------------------------------------------------------------

func TestImmediates(t *testing.T) {
	tests := []struct {
		name string
		v    Value
		kind Kind
	}{
		{"undef", Undef, KindUndef},
		{"nil", Nil, KindNil},
		{"true", True, KindTrue},
		{"false", False, KindFalse},
		{"int", FromInt(-42), KindInt},
		{"float", FromFloat64(1.5), KindFloat},
		{"symbol", FromSymbol(7), KindSymbol},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.v.Kind() != tt.kind {
				t.Errorf("Kind() = %s, want %s", tt.v.Kind(), tt.kind)
			}
			if !tt.v.IsImmediate() {
				t.Error("immediate reported as heap value")
			}
			if tt.v.Object() != nil {
				t.Error("immediate has an object")
			}
		})
	}
}

func TestIntRoundTrip(t *testing.T) {
	for _, n := range []int64{0, 1, -1, math.MaxInt64, math.MinInt64} {
		if got := FromInt(n).Int(); got != n {
			t.Errorf("FromInt(%d).Int() = %d", n, got)
		}
	}
}

func TestFloatRoundTrip(t *testing.T) {
	for _, f := range []float64{0, -0.5, math.Inf(1), math.MaxFloat64} {
		if got := FromFloat64(f).Float64(); got != f {
			t.Errorf("FromFloat64(%g).Float64() = %g", f, got)
		}
	}
	if !math.IsNaN(FromFloat64(math.NaN()).Float64()) {
		t.Error("NaN did not survive")
	}
}

func TestAccessorPanicsOnWrongKind(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Int() on a float did not panic")
		}
	}()
	FromFloat64(1).Int()
}

func TestTruthiness(t *testing.T) {
	if Nil.IsTruthy() || False.IsTruthy() {
		t.Error("nil and false must be falsy")
	}
	for _, v := range []Value{True, FromInt(0), FromFloat64(0), FromSymbol(1)} {
		if !v.IsTruthy() {
			t.Errorf("%s should be truthy", v.Kind())
		}
	}
}

func TestIdentical(t *testing.T) {
	v, _ := newTestVM(t)
	a := v.NewString("x")
	b := v.NewString("x")

	if !Identical(a, a) {
		t.Error("object not identical to itself")
	}
	if Identical(a, b) {
		t.Error("distinct strings reported identical")
	}
	if !Identical(FromInt(3), FromInt(3)) {
		t.Error("equal integers not identical")
	}
	if Identical(FromInt(1), FromFloat64(1)) {
		t.Error("1 and 1.0 reported identical")
	}
	if Identical(Nil, False) {
		t.Error("nil and false reported identical")
	}
}

func TestFromObjectNil(t *testing.T) {
	if !FromObject(nil).IsNil() {
		t.Error("FromObject(nil) is not nil")
	}
}

func TestInspect(t *testing.T) {
	v, _ := newTestVM(t)
	h := v.NewHash()
	AsHash(h).Set(FromSymbol(v.Intern("a")), FromInt(1))

	tests := []struct {
		v    Value
		want string
	}{
		{Nil, "nil"},
		{FromInt(-3), "-3"},
		{FromFloat64(2), "2.0"},
		{FromFloat64(0.25), "0.25"},
		{FromSymbol(v.Intern("foo")), ":foo"},
		{v.NewString("hi"), `"hi"`},
		{v.NewArray([]Value{FromInt(1), True}), "[1, true]"},
		{h, "{:a => 1}"},
		{FromObject(v.StringClass), "String"},
	}
	for _, tt := range tests {
		if got := v.Inspect(tt.v); got != tt.want {
			t.Errorf("Inspect = %s, want %s", got, tt.want)
		}
	}
}

// ---------------------------------------------------------------------------
// Symbols and handles
// ---------------------------------------------------------------------------

func TestSymbolTable(t *testing.T) {
	st := NewSymbolTable()
	a := st.Intern("alpha")
	if a == NoSymbol {
		t.Fatal("Intern returned NoSymbol")
	}
	if st.Intern("alpha") != a {
		t.Error("Intern is not idempotent")
	}
	if st.Name(a) != "alpha" {
		t.Errorf("Name = %q", st.Name(a))
	}
	if _, ok := st.Lookup("beta"); ok {
		t.Error("Lookup interned a new name")
	}
	if st.Name(NoSymbol) != "" || st.Name(999) != "" {
		t.Error("invalid symbols should have empty names")
	}
	if st.Len() != 1 {
		t.Errorf("Len = %d, want 1", st.Len())
	}
}

func TestMethodArenaGenerations(t *testing.T) {
	a := newMethodArena()
	e1 := &MethodEntry{Name: 1}
	r1 := a.alloc(e1)
	if a.Get(r1) != e1 || !a.Valid(r1) {
		t.Fatal("fresh handle does not resolve")
	}

	a.release(r1)
	if a.Valid(r1) || a.Get(r1) != nil {
		t.Error("released handle still resolves")
	}

	// The slot is reused under a new generation.
	r2 := a.alloc(&MethodEntry{Name: 2})
	if r2.idx != r1.idx {
		t.Fatalf("slot not reused: %d vs %d", r2.idx, r1.idx)
	}
	if a.Valid(r1) {
		t.Error("stale handle resolves after reuse")
	}
	a.release(r1)
	if a.Live() != 1 {
		t.Errorf("releasing a stale handle changed Live to %d", a.Live())
	}
}

func TestClassTableRetire(t *testing.T) {
	v, _ := newTestVM(t)
	tok := hold(t, v)
	c := defineClass(t, v, tok, "Doomed", nil)
	obj := newObject(t, v, c)
	ref := c.Ref()

	v.RemoveClass(tok, c)
	if v.Class(ref) != nil {
		t.Error("retired class handle still resolves")
	}
	if v.LookupClass("Doomed") != nil {
		t.Error("retired class still registered")
	}
	if v.ClassOf(obj) != v.ObjectClass {
		t.Errorf("orphaned object reports class %s", v.ClassOf(obj))
	}
}
