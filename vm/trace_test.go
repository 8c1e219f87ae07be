package vm

import (
	"testing"
)

// recorder collects the events a hook observes.
type recorder struct {
	vm     *VM
	before []string
	after  []*CallEvent
}

func (r *recorder) BeforeCall(ec *ExecContext, ev *CallEvent) {
	r.before = append(r.before, r.vm.EventOwner(ev)+"#"+r.vm.EventName(ev))
}

func (r *recorder) AfterCall(ec *ExecContext, ev *CallEvent) {
	cp := *ev
	r.after = append(r.after, &cp)
}

func TestCallHookSeesEveryCall(t *testing.T) {
	v, _ := newTestVM(t)
	tok := hold(t, v)
	c := defineClass(t, v, tok, "Traced", nil)
	c.DefineMethod(tok, "one", constMethod(v, "one", 1), Public)
	twice := v.NewAssembler("twice", ISeqMethod).
		PutSelf().Send("one", 0, FlagFCall, nil).
		PutSelf().Send("one", 0, FlagFCall, nil).
		OptPlus().
		Leave().
		MustBuild()
	c.DefineMethod(tok, "twice", MethodFromISeq(twice), Public)
	obj := newObject(t, v, c)

	rec := &recorder{vm: v}
	v.AddCallHook(tok, rec)
	expectInt(t, call(t, newEC(v, tok), obj, "twice"), 2)

	want := []string{"Traced#twice", "Traced#one", "Traced#one"}
	if len(rec.before) != len(want) {
		t.Fatalf("before = %v", rec.before)
	}
	for i := range want {
		if rec.before[i] != want[i] {
			t.Errorf("before[%d] = %s, want %s", i, rec.before[i], want[i])
		}
	}

	// After hooks run innermost first.
	if len(rec.after) != 3 {
		t.Fatalf("after = %d events", len(rec.after))
	}
	first, second, outer := rec.after[0], rec.after[1], rec.after[2]
	if first.CacheHit {
		t.Error("first call through a cold site reported a hit")
	}
	if outer.Depth != 0 || first.Depth != 1 {
		t.Errorf("depths = %d, %d", outer.Depth, first.Depth)
	}
	if first.Family != FamilyISeq || first.Class != c {
		t.Errorf("event = %+v", first)
	}
	expectInt(t, first.Result, 1)
	expectInt(t, outer.Result, 2)
	if second.Err != nil {
		t.Error(second.Err)
	}

	// The second call of twice hits both of its site caches.
	rec.after = nil
	call(t, newEC(v, tok), obj, "twice")
	if !rec.after[0].CacheHit || !rec.after[1].CacheHit {
		t.Error("warm sites reported misses")
	}
}

func TestCallHookSeesErrors(t *testing.T) {
	v, _ := newTestVM(t)
	tok := hold(t, v)
	var got *CallEvent
	v.AddCallHook(tok, &CallHookFuncs{After: func(ec *ExecContext, ev *CallEvent) { got = ev }})

	callErr(t, newEC(v, tok), FromInt(1), "/", FromInt(0))
	if got == nil || got.Err == nil || got.Family != FamilyNative {
		t.Fatalf("event = %+v", got)
	}
	if v.EventOwner(got) != "Integer" || v.EventName(got) != "/" {
		t.Errorf("event names %s#%s", v.EventOwner(got), v.EventName(got))
	}
}

func TestRemoveCallHook(t *testing.T) {
	v, _ := newTestVM(t)
	tok := hold(t, v)
	calls := 0
	hook := &CallHookFuncs{Before: func(ec *ExecContext, ev *CallEvent) { calls++ }}

	v.AddCallHook(tok, hook)
	call(t, newEC(v, tok), FromInt(1), "succ")
	if !v.RemoveCallHook(tok, hook) {
		t.Error("RemoveCallHook did not find the hook")
	}
	if v.RemoveCallHook(tok, hook) {
		t.Error("hook removed twice")
	}
	call(t, newEC(v, tok), FromInt(1), "succ")
	if calls != 1 {
		t.Errorf("calls = %d", calls)
	}
}

func TestEventOwnerUnknown(t *testing.T) {
	v, _ := newTestVM(t)
	if got := v.EventOwner(&CallEvent{}); got != "?" {
		t.Errorf("got %q", got)
	}
}

// ---------------------------------------------------------------------------
// Profiler
// ---------------------------------------------------------------------------

func TestProfilerFindsHotMethods(t *testing.T) {
	v, _ := newTestVM(t)
	tok := hold(t, v)
	c := defineClass(t, v, tok, "Work", nil)
	c.DefineMethod(tok, "hot", constMethod(v, "hot", 1), Public)
	c.DefineMethod(tok, "cold", constMethod(v, "cold", 2), Public)
	obj := newObject(t, v, c)

	p := NewProfiler(v)
	p.HotThreshold = 3
	var hot []string
	p.OnHot = func(e *MethodEntry, prof *MethodProfile) {
		hot = append(hot, prof.Owner+"#"+prof.Name)
	}
	v.AddCallHook(tok, p)

	ec := newEC(v, tok)
	for i := 0; i < 5; i++ {
		call(t, ec, obj, "hot")
	}
	call(t, ec, obj, "cold")

	if len(hot) != 1 || hot[0] != "Work#hot" {
		t.Errorf("OnHot calls = %v", hot)
	}
	hotEntry := c.LocalMethod(v.Intern("hot"))
	coldEntry := c.LocalMethod(v.Intern("cold"))
	if !p.IsHot(hotEntry) || p.IsHot(coldEntry) {
		t.Error("IsHot wrong")
	}
	if prof := p.Profile(hotEntry); prof == nil || prof.InvocationCount != 5 || prof.Kind != MethodISeq {
		t.Errorf("profile = %+v", prof)
	}

	stats := p.Stats()
	if stats.TotalMethods != 2 || stats.HotMethods != 1 || stats.TotalInvocations != 6 {
		t.Errorf("stats = %+v", stats)
	}
	// Go calls go through a fresh cache each time.
	if stats.CacheMisses != 6 {
		t.Errorf("cache misses = %d", stats.CacheMisses)
	}

	top := p.Top(1)
	if len(top) != 1 || top[0].Name != "hot" {
		t.Errorf("top = %+v", top)
	}
	if len(p.Top(-1)) != 2 {
		t.Error("Top(-1) should return every profile")
	}

	p.Reset()
	if s := p.Stats(); s.TotalMethods != 0 {
		t.Errorf("after reset: %+v", s)
	}
}

func TestProfilerCountsErrors(t *testing.T) {
	v, _ := newTestVM(t)
	tok := hold(t, v)
	p := NewProfiler(v)
	v.AddCallHook(tok, p)

	callErr(t, newEC(v, tok), FromInt(1), "/", FromInt(0))
	if s := p.Stats(); s.Errors != 1 {
		t.Errorf("stats = %+v", s)
	}
}

// ---------------------------------------------------------------------------
// Accelerators
// ---------------------------------------------------------------------------

func TestAcceleratorReplacesBody(t *testing.T) {
	v, _ := newTestVM(t)
	tok := hold(t, v)
	double := func(ec *ExecContext, self Value, locals []Value, blk BlockHandler) (Value, error) {
		return FromInt(locals[0].Int() * 2), nil
	}

	// Registered before the class exists.
	v.Accelerators().Register(tok, "Math2", "double", double)
	c := defineClass(t, v, tok, "Math2", nil)
	body := v.NewAssembler("double", ISeqMethod).
		Params(Params{Opt: []Default{Const(FromInt(21))}}, "n").
		PutInt(0).
		Leave().
		MustBuild()
	c.DefineMethod(tok, "double", MethodFromISeq(body), Public)
	obj := newObject(t, v, c)
	ec := newEC(v, tok)

	expectInt(t, call(t, ec, obj, "double", FromInt(5)), 10)
	// Defaults are bound before the accelerator runs.
	expectInt(t, call(t, ec, obj, "double"), 42)
	// Arity is still checked.
	if exc := callErr(t, ec, obj, "double", Nil, Nil); !exc.IsA(v.ArityErrorClass) {
		t.Errorf("got %v", exc)
	}

	site := v.NewCallSite("double", 1, 0)
	if _, err := site.Call(ec, obj, []Value{FromInt(1)}, NoBlock); err != nil {
		t.Fatal(err)
	}
	if site.cc.Family() != FamilyAccel {
		t.Errorf("family = %s", site.cc.Family())
	}
	if fn, ok := v.Accelerators().Lookup("Math2", "double"); !ok || fn == nil || v.Accelerators().Len() != 1 {
		t.Error("registration not recorded")
	}

	v.Accelerators().Unregister(tok, "Math2", "double")
	expectInt(t, call(t, ec, obj, "double", FromInt(5)), 0)
	if v.Accelerators().Len() != 0 {
		t.Error("Unregister kept the registration")
	}
}

func TestAcceleratorOnExistingMethod(t *testing.T) {
	v, _ := newTestVM(t)
	tok := hold(t, v)
	c := defineClass(t, v, tok, "Late", nil)
	c.DefineMethod(tok, "answer", constMethod(v, "answer", 1), Public)
	obj := newObject(t, v, c)
	ec := newEC(v, tok)
	expectInt(t, call(t, ec, obj, "answer"), 1)

	v.Accelerators().Register(tok, "Late", "answer", func(*ExecContext, Value, []Value, BlockHandler) (Value, error) {
		return Undef, nil
	})
	if !call(t, ec, obj, "answer").IsNil() {
		t.Error("Undef from an accelerator should read as nil")
	}
}

func TestAcceleratorOnISeq(t *testing.T) {
	v, _ := newTestVM(t)
	tok := hold(t, v)
	c := defineClass(t, v, tok, "Direct", nil)
	body := constMethod(v, "seven", 0)
	c.DefineMethod(tok, "seven", body, Public)

	v.Accelerators().RegisterISeq(tok, body.ISeq, func(ec *ExecContext, self Value, _ []Value, _ BlockHandler) (Value, error) {
		return FromInt(7), nil
	})
	expectInt(t, call(t, newEC(v, tok), newObject(t, v, c), "seven"), 7)
}
