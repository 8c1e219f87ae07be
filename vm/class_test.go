package vm

import (
	"testing"
)

// superBody returns a method body computing super * 10 + k.
func superBody(v *VM, name string, k int64) *MethodDef {
	return MethodFromISeq(v.NewAssembler(name, ISeqMethod).
		PutSelf().
		InvokeSuper(name, 0, 0, nil).
		PutInt(10).
		Send("*", 1, 0, nil).
		PutInt(k).
		OptPlus().
		Leave().
		MustBuild())
}

func classNames(cs []*Class) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Name
	}
	return out
}

func expectNames(t *testing.T, got []*Class, want ...string) {
	t.Helper()
	names := classNames(got)
	if len(names) != len(want) {
		t.Fatalf("ancestors = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("ancestors = %v, want %v", names, want)
		}
	}
}

// ---------------------------------------------------------------------------
// Ancestry
// ---------------------------------------------------------------------------

// Later includes sit nearer the class than earlier ones.
func TestAncestorsWithIncludes(t *testing.T) {
	v, _ := newTestVM(t)
	tok := hold(t, v)
	base := defineClass(t, v, tok, "Base", nil)
	self := defineClass(t, v, tok, "Self", base)
	m1 := defineModule(t, v, tok, "M1")
	m2 := defineModule(t, v, tok, "M2")

	if err := self.Include(tok, m1); err != nil {
		t.Fatal(err)
	}
	if err := self.Include(tok, m2); err != nil {
		t.Fatal(err)
	}
	expectNames(t, self.Ancestors(), "Self", "M2", "M1", "Base", "Object", "Kernel", "BasicObject")
}

// Prepended modules come before the class itself.
func TestAncestorsWithPrepend(t *testing.T) {
	v, _ := newTestVM(t)
	tok := hold(t, v)
	c := defineClass(t, v, tok, "Widget", nil)
	p1 := defineModule(t, v, tok, "P1")
	p2 := defineModule(t, v, tok, "P2")
	inc := defineModule(t, v, tok, "Inc")

	for _, err := range []error{c.Prepend(tok, p1), c.Prepend(tok, p2), c.Include(tok, inc)} {
		if err != nil {
			t.Fatal(err)
		}
	}
	expectNames(t, c.Ancestors(), "P2", "P1", "Widget", "Inc", "Object", "Kernel", "BasicObject")
}

// A module included at two levels keeps only its farthest position.
func TestAncestorsDedupeKeepsLast(t *testing.T) {
	v, _ := newTestVM(t)
	tok := hold(t, v)
	m := defineModule(t, v, tok, "Shared")
	base := defineClass(t, v, tok, "Base", nil)
	sub := defineClass(t, v, tok, "Sub", base)
	if err := base.Include(tok, m); err != nil {
		t.Fatal(err)
	}
	if err := sub.Include(tok, m); err != nil {
		t.Fatal(err)
	}
	expectNames(t, sub.Ancestors(), "Sub", "Base", "Shared", "Object", "Kernel", "BasicObject")
}

// Including invalidates previously computed ancestor lists of subclasses.
func TestAncestorsRecomputedAfterInclude(t *testing.T) {
	v, _ := newTestVM(t)
	tok := hold(t, v)
	base := defineClass(t, v, tok, "Base", nil)
	sub := defineClass(t, v, tok, "Sub", base)
	before := len(sub.Ancestors())

	m := defineModule(t, v, tok, "Late")
	if err := base.Include(tok, m); err != nil {
		t.Fatal(err)
	}
	if got := len(sub.Ancestors()); got != before+1 {
		t.Errorf("ancestors length = %d, want %d", got, before+1)
	}
	if !sub.IsKindOf(m) {
		t.Error("Sub is not kind of the late module")
	}
}

func TestIncludeErrors(t *testing.T) {
	v, _ := newTestVM(t)
	tok := hold(t, v)
	c := defineClass(t, v, tok, "Host", nil)
	other := defineClass(t, v, tok, "Other", nil)
	m := defineModule(t, v, tok, "Selfish")

	if err := c.Include(tok, other); err == nil {
		t.Error("including a class succeeded")
	}
	err := m.Include(tok, m)
	exc, ok := err.(*Exception)
	if !ok || !exc.IsA(v.ArgumentErrorClass) {
		t.Errorf("self include: got %v, want ArgumentError", err)
	}
}

func TestDefineClassReopenAndMismatch(t *testing.T) {
	v, _ := newTestVM(t)
	tok := hold(t, v)
	base := defineClass(t, v, tok, "Base", nil)
	c := defineClass(t, v, tok, "Thing", base)

	if again := defineClass(t, v, tok, "Thing", nil); again != c {
		t.Error("reopening returned a different class")
	}
	if _, err := v.DefineClass(tok, "Thing", v.StringClass); err == nil {
		t.Error("superclass mismatch not reported")
	}
	if _, err := v.DefineModule(tok, "Thing"); err == nil {
		t.Error("module over a class not reported")
	}
}

// ---------------------------------------------------------------------------
// Super
// ---------------------------------------------------------------------------

// Each super resumes after the class that defines the running method.
func TestSuperWalksModules(t *testing.T) {
	v, _ := newTestVM(t)
	tok := hold(t, v)
	ec := newEC(v, tok)

	base := defineClass(t, v, tok, "Base", nil)
	self := defineClass(t, v, tok, "Self", base)
	m1 := defineModule(t, v, tok, "M1")
	m2 := defineModule(t, v, tok, "M2")
	self.Include(tok, m1)
	self.Include(tok, m2)

	base.DefineMethod(tok, "v", constMethod(v, "v", 1), Public)
	m1.DefineMethod(tok, "v", superBody(v, "v", 2), Public)
	m2.DefineMethod(tok, "v", superBody(v, "v", 3), Public)
	self.DefineMethod(tok, "v", superBody(v, "v", 4), Public)

	obj := newObject(t, v, self)
	expectInt(t, call(t, ec, obj, "v"), 1234)

	p := defineModule(t, v, tok, "P")
	p.DefineMethod(tok, "v", superBody(v, "v", 9), Public)
	self.Prepend(tok, p)
	expectInt(t, call(t, ec, obj, "v"), 12349)
}

func TestSuperWithoutSuperclassMethod(t *testing.T) {
	v, _ := newTestVM(t)
	tok := hold(t, v)
	ec := newEC(v, tok)
	c := defineClass(t, v, tok, "Lonely", nil)
	c.DefineMethod(tok, "nothing", superBody(v, "nothing", 1), Public)

	exc := callErr(t, ec, newObject(t, v, c), "nothing")
	if exc.Reason != MissingSuper || !exc.IsA(v.NoMethodErrorClass) {
		t.Errorf("got %v (reason %s), want NoMethodError for super", exc, exc.Reason)
	}
}

// ---------------------------------------------------------------------------
// Method table
// ---------------------------------------------------------------------------

func TestAliasKeepsOldDefinition(t *testing.T) {
	v, _ := newTestVM(t)
	tok := hold(t, v)
	ec := newEC(v, tok)
	c := defineClass(t, v, tok, "Aliased", nil)
	c.DefineMethod(tok, "orig", constMethod(v, "orig", 1), Public)
	if err := c.AliasMethod(tok, "copy", "orig"); err != nil {
		t.Fatal(err)
	}
	c.DefineMethod(tok, "orig", constMethod(v, "orig", 2), Public)

	obj := newObject(t, v, c)
	expectInt(t, call(t, ec, obj, "copy"), 1)
	expectInt(t, call(t, ec, obj, "orig"), 2)

	if err := c.AliasMethod(tok, "x", "missing"); err == nil {
		t.Error("aliasing an undefined method succeeded")
	}
}

func TestUndefHidesInheritedMethod(t *testing.T) {
	v, _ := newTestVM(t)
	tok := hold(t, v)
	ec := newEC(v, tok)
	base := defineClass(t, v, tok, "Base", nil)
	sub := defineClass(t, v, tok, "Sub", base)
	base.DefineMethod(tok, "m", constMethod(v, "m", 1), Public)

	if err := sub.UndefMethod(tok, "m"); err != nil {
		t.Fatal(err)
	}
	if v.Resolve(sub, v.Intern("m")) != nil {
		t.Error("undef'd method still resolves")
	}
	exc := callErr(t, ec, newObject(t, v, sub), "m")
	if !exc.IsA(v.NoMethodErrorClass) {
		t.Errorf("got %v, want NoMethodError", exc)
	}
	expectInt(t, call(t, ec, newObject(t, v, base), "m"), 1)
}

func TestRemoveExposesInherited(t *testing.T) {
	v, _ := newTestVM(t)
	tok := hold(t, v)
	ec := newEC(v, tok)
	base := defineClass(t, v, tok, "Base", nil)
	sub := defineClass(t, v, tok, "Sub", base)
	base.DefineMethod(tok, "m", constMethod(v, "m", 1), Public)
	sub.DefineMethod(tok, "m", constMethod(v, "m", 2), Public)

	obj := newObject(t, v, sub)
	expectInt(t, call(t, ec, obj, "m"), 2)
	if err := sub.RemoveMethod(tok, "m"); err != nil {
		t.Fatal(err)
	}
	expectInt(t, call(t, ec, obj, "m"), 1)
	if err := sub.RemoveMethod(tok, "m"); err == nil {
		t.Error("removing a method twice succeeded")
	}
}

func TestRedefinitionRetiresHandle(t *testing.T) {
	v, _ := newTestVM(t)
	tok := hold(t, v)
	c := defineClass(t, v, tok, "Redef", nil)
	e1 := c.DefineMethod(tok, "m", constMethod(v, "m", 1), Public)
	e2 := c.DefineMethod(tok, "m", constMethod(v, "m", 2), Public)

	if v.Methods().Valid(e1.Ref()) {
		t.Error("replaced entry still valid")
	}
	if v.Methods().Get(e2.Ref()) != e2 {
		t.Error("new entry does not resolve")
	}
	if e2.Serial <= e1.Serial {
		t.Error("definition serial did not advance")
	}
}

func TestAttrAccessors(t *testing.T) {
	v, _ := newTestVM(t)
	tok := hold(t, v)
	ec := newEC(v, tok)
	c := defineClass(t, v, tok, "Point", nil)
	c.AttrReader(tok, "x")
	c.AttrWriter(tok, "x")

	obj := newObject(t, v, c)
	if got := call(t, ec, obj, "x"); !got.IsNil() {
		t.Errorf("unset reader = %s, want nil", v.Inspect(got))
	}
	expectInt(t, call(t, ec, obj, "x=", FromInt(5)), 5)
	expectInt(t, call(t, ec, obj, "x"), 5)

	exc := callErr(t, ec, obj, "x", FromInt(1))
	if exc.Given != 1 || exc.Min != 0 || exc.Max != 0 {
		t.Errorf("reader arity error = %+v", exc)
	}
}

// An accessor site caches the slot and stays correct for a subclass with
// extra ivars.
func TestAttrReaderAcrossSubclass(t *testing.T) {
	v, _ := newTestVM(t)
	tok := hold(t, v)
	ec := newEC(v, tok)
	base := defineClass(t, v, tok, "Base", nil)
	base.AttrReader(tok, "a")
	sub := defineClass(t, v, tok, "Sub", base)

	b := newObject(t, v, base)
	s := newObject(t, v, sub)
	v.setIvar(b, v.Intern("@a"), FromInt(1))
	v.setIvar(s, v.Intern("@z"), FromInt(9))
	v.setIvar(s, v.Intern("@a"), FromInt(2))

	site := v.NewCallSite("a", 0, 0)
	for _, tc := range []struct {
		obj  Value
		want int64
	}{{b, 1}, {s, 2}, {b, 1}} {
		got, err := site.Call(ec, tc.obj, nil, NoBlock)
		if err != nil {
			t.Fatal(err)
		}
		expectInt(t, got, tc.want)
	}
	if site.Cache().Family() != FamilyAttrReader {
		t.Errorf("family = %s", site.Cache().Family())
	}
}

// A superclass that gains an ivar after its subclass assigned one must not
// hand out the subclass's slot again.
func TestSuperclassIvarAddedLater(t *testing.T) {
	v, _ := newTestVM(t)
	tok := hold(t, v)
	ec := newEC(v, tok)
	base := defineClass(t, v, tok, "Shape", nil)
	sub := defineClass(t, v, tok, "Square", base)
	sub.AttrReader(tok, "x")
	sub.AttrWriter(tok, "x")

	s := newObject(t, v, sub)
	call(t, ec, s, "x=", FromInt(1))

	base.AttrReader(tok, "y")
	base.AttrWriter(tok, "y")
	call(t, ec, s, "y=", FromInt(2))

	expectInt(t, call(t, ec, s, "x"), 1)
	expectInt(t, call(t, ec, s, "y"), 2)

	x, y := sub.IvarIndex(v.Intern("@x")), sub.IvarIndex(v.Intern("@y"))
	if x < 0 || y < 0 || x == y {
		t.Errorf("slots @x=%d @y=%d", x, y)
	}
	if n := sub.NumIvars(); n <= x || n <= y {
		t.Errorf("NumIvars = %d", n)
	}

	// Fresh instances of either class are sized for their slots.
	b := newObject(t, v, base)
	call(t, ec, b, "y=", FromInt(3))
	expectInt(t, call(t, ec, b, "y"), 3)
}

func TestSingletonMethods(t *testing.T) {
	v, _ := newTestVM(t)
	tok := hold(t, v)
	ec := newEC(v, tok)
	c := defineClass(t, v, tok, "Plain", nil)
	a := newObject(t, v, c)
	b := newObject(t, v, c)

	if _, err := v.DefineSingletonMethod(tok, a, "special", constMethod(v, "special", 7)); err != nil {
		t.Fatal(err)
	}
	expectInt(t, call(t, ec, a, "special"), 7)
	if v.RespondTo(b, v.Intern("special")) {
		t.Error("singleton method leaked to another instance")
	}
	if v.ClassOf(a).nonSingleton() != c {
		t.Error("singleton class does not lead back to the class")
	}
	if _, err := v.SingletonClass(tok, FromInt(1)); err == nil {
		t.Error("integers got a singleton class")
	}
}

// Class-side methods of a class are inherited by its subclasses.
func TestClassMethodsInherited(t *testing.T) {
	v, _ := newTestVM(t)
	tok := hold(t, v)
	ec := newEC(v, tok)
	base := defineClass(t, v, tok, "Factory", nil)
	sub := defineClass(t, v, tok, "SubFactory", base)
	if _, err := v.DefineSingletonMethod(tok, FromObject(base), "build", constMethod(v, "build", 3)); err != nil {
		t.Fatal(err)
	}
	expectInt(t, call(t, ec, FromObject(sub), "build"), 3)
}
