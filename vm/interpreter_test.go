package vm

import (
	"errors"
	"testing"
	"time"
)

// raiseString emits raise(msg) as a statement.
func raiseString(a *Assembler, msg string) *Assembler {
	return a.PutSelf().PutString(msg).Send("raise", 1, FlagFCall, nil)
}

// ---------------------------------------------------------------------------
// rescue
// ---------------------------------------------------------------------------

// rescueMessage builds: begin; <raise>; rescue <classes>; $!.message; end
func rescueMessage(v *VM, raise func(*Assembler), classes ...string) *ISeq {
	a := v.NewAssembler("<main>", ISeqTop)
	start, end, handler, done := a.NewLabel(), a.NewLabel(), a.NewLabel(), a.NewLabel()
	a.Mark(start)
	raise(a)
	a.Mark(end).
		Jump(done).
		SetDepth(1).
		Mark(handler).
		Send("message", 0, 0, nil).
		Mark(done).
		Leave().
		Catch(CatchRescue, start, end, handler, classes...)
	return a.MustBuild()
}

func TestRescue(t *testing.T) {
	v, _ := newTestVM(t)
	tok := hold(t, v)

	iseq := rescueMessage(v, func(a *Assembler) { raiseString(a, "boom") })
	expectInspect(t, v, runTop(t, v, tok, iseq), `"boom"`)
}

func TestRescueClassList(t *testing.T) {
	v, _ := newTestVM(t)
	tok := hold(t, v)
	raiseType := func(a *Assembler) {
		a.PutSelf().GetConst("TypeError").PutString("bad").Send("raise", 2, FlagFCall, nil)
	}

	iseq := rescueMessage(v, raiseType, "ArgumentError", "TypeError")
	expectInspect(t, v, runTop(t, v, tok, iseq), `"bad"`)

	// Not in the list: the exception propagates.
	iseq = rescueMessage(v, raiseType, "ArgumentError")
	exc := runTopErr(t, v, tok, iseq)
	if exc.Class() != v.TypeErrorClass || exc.Message != "bad" {
		t.Errorf("got %v", exc)
	}

	// A superclass in the list matches.
	iseq = rescueMessage(v, raiseType, "StandardError")
	expectInspect(t, v, runTop(t, v, tok, iseq), `"bad"`)
}

// A bare rescue only takes StandardError.
func TestBareRescueSkipsException(t *testing.T) {
	v, _ := newTestVM(t)
	tok := hold(t, v)
	iseq := rescueMessage(v, func(a *Assembler) {
		a.PutSelf().GetConst("Exception").PutString("low").Send("raise", 2, FlagFCall, nil)
	})
	exc := runTopErr(t, v, tok, iseq)
	if exc.Class() != v.ExceptionClass {
		t.Errorf("got %v", exc)
	}
}

func TestRescueInCallerFrame(t *testing.T) {
	v, _ := newTestVM(t)
	tok := hold(t, v)
	c := defineClass(t, v, tok, "Thrower", nil)
	fail := raiseString(v.NewAssembler("fail", ISeqMethod), "deep").Leave().MustBuild()
	c.DefineMethod(tok, "fail", MethodFromISeq(fail), Public)
	obj := newObject(t, v, c)

	iseq := rescueMessage(v, func(a *Assembler) { a.PutObject(obj).Send("fail", 0, 0, nil) })
	expectInspect(t, v, runTop(t, v, tok, iseq), `"deep"`)

	exc := callErr(t, newEC(v, tok), obj, "fail")
	if len(exc.Backtrace) < 1 || exc.Backtrace[0] == "" {
		t.Errorf("backtrace = %v", exc.Backtrace)
	}
}

// ---------------------------------------------------------------------------
// ensure and retry
// ---------------------------------------------------------------------------

// ensureCleanup builds: begin; <body>; ensure; puts "cleanup"; end; 1
func ensureCleanup(v *VM, body func(*Assembler)) *ISeq {
	a := v.NewAssembler("<main>", ISeqTop)
	start, end, handler := a.NewLabel(), a.NewLabel(), a.NewLabel()
	a.Mark(start)
	body(a)
	a.Mark(end).
		Pop().
		PutSelf().PutString("cleanup").Send("puts", 1, FlagFCall, nil).Pop().
		PutInt(1).
		Leave().
		SetDepth(0).
		Mark(handler).
		PutSelf().PutString("cleanup").Send("puts", 1, FlagFCall, nil).Pop().
		Rethrow().
		PutNil().
		Leave().
		Catch(CatchEnsure, start, end, handler)
	return a.MustBuild()
}

func TestEnsure(t *testing.T) {
	v, out := newTestVM(t)
	tok := hold(t, v)

	expectInt(t, runTop(t, v, tok, ensureCleanup(v, func(a *Assembler) { a.PutInt(0) })), 1)
	if out.String() != "cleanup\n" {
		t.Errorf("normal path output = %q", out.String())
	}

	out.Reset()
	exc := runTopErr(t, v, tok, ensureCleanup(v, func(a *Assembler) { raiseString(a, "boom") }))
	if exc.Message != "boom" {
		t.Errorf("got %v", exc)
	}
	if out.String() != "cleanup\n" {
		t.Errorf("error path output = %q", out.String())
	}
}

func TestRetry(t *testing.T) {
	v, _ := newTestVM(t)
	tok := hold(t, v)

	// n = 0
	// begin
	//   n += 1
	//   raise "again" if n < 3
	//   n
	// rescue
	//   retry
	// end
	a := v.NewAssembler("<main>", ISeqTop)
	n := a.Local("n")
	start, end, handler, ok, done := a.NewLabel(), a.NewLabel(), a.NewLabel(), a.NewLabel(), a.NewLabel()
	retryStart, retryEnd := a.NewLabel(), a.NewLabel()
	a.PutInt(0).SetLocal(n, 0).
		Mark(start).
		GetLocal(n, 0).PutInt(1).OptPlus().SetLocal(n, 0).
		GetLocal(n, 0).PutInt(3).OptLt().BranchUnless(ok)
	raiseString(a, "again").Pop()
	a.Mark(ok).
		GetLocal(n, 0).
		Mark(end).
		Jump(done).
		SetDepth(1).
		Mark(handler).
		Pop().
		Mark(retryStart).
		PutNil().
		Throw(ThrowRetry).
		Mark(retryEnd).
		SetDepth(1).
		Mark(done).
		Leave().
		Catch(CatchRescue, start, end, handler).
		Catch(CatchRetry, retryStart, retryEnd, start)

	expectInt(t, runTop(t, v, tok, a.MustBuild()), 3)
}

// ---------------------------------------------------------------------------
// Interrupts
// ---------------------------------------------------------------------------

var errStop = errors.New("stop")

func TestInterruptBeforeRun(t *testing.T) {
	v, _ := newTestVM(t)
	tok := hold(t, v)
	ec := v.NewExecContext()
	ec.Interrupt(errStop)

	_, err := ec.RunTop(tok, v.NewAssembler("<main>", ISeqTop).PutInt(1).Leave().MustBuild())
	if !errors.Is(err, errStop) {
		t.Fatalf("err = %v, want the interrupt", err)
	}

	// The interrupt is consumed.
	if _, err := ec.RunTop(tok, v.NewAssembler("<main>", ISeqTop).PutInt(1).Leave().MustBuild()); err != nil {
		t.Errorf("second run: %v", err)
	}
}

func TestInterruptStopsLoop(t *testing.T) {
	v, _ := newTestVM(t)
	tok := hold(t, v)
	ec := v.NewExecContext()

	a := v.NewAssembler("<main>", ISeqTop)
	loop := a.NewLabel()
	iseq := a.Mark(loop).Nop().Jump(loop).MustBuild()

	go func() {
		time.Sleep(10 * time.Millisecond)
		ec.Interrupt(errStop)
	}()
	_, err := ec.RunTop(tok, iseq)
	if !errors.Is(err, errStop) {
		t.Fatalf("err = %v, want the interrupt", err)
	}
	if ec.Depth() != 0 {
		t.Errorf("depth = %d", ec.Depth())
	}
}

// ---------------------------------------------------------------------------
// Optimized operators
// ---------------------------------------------------------------------------

func TestOptimizedArithmetic(t *testing.T) {
	v, _ := newTestVM(t)
	tok := hold(t, v)

	plus := func(x, y Value) *ISeq {
		return v.NewAssembler("<main>", ISeqTop).PutObject(x).PutObject(y).OptPlus().Leave().MustBuild()
	}
	expectInt(t, runTop(t, v, tok, plus(FromInt(2), FromInt(3))), 5)
	expectInspect(t, v, runTop(t, v, tok, plus(FromFloat64(1.5), FromFloat64(1.5))), "3.0")
	expectInspect(t, v, runTop(t, v, tok, plus(v.NewString("a"), v.NewString("b"))), `"ab"`)

	lt := v.NewAssembler("<main>", ISeqTop).PutInt(1).PutInt(2).OptLt().Leave().MustBuild()
	if !runTop(t, v, tok, lt).IsTrue() {
		t.Error("1 < 2 is false")
	}

	// Redefining Integer#+ turns off the fast path for integers only.
	v.IntegerClass.DefineMethod(tok, "+", Native1(func(ec *ExecContext, self, other Value) (Value, error) {
		return FromInt(42), nil
	}), Public)
	expectInt(t, runTop(t, v, tok, plus(FromInt(2), FromInt(3))), 42)
	expectInspect(t, v, runTop(t, v, tok, plus(FromFloat64(1.5), FromFloat64(1.5))), "3.0")
}

// ---------------------------------------------------------------------------
// Definitions
// ---------------------------------------------------------------------------

func TestClassDefinitionBytecode(t *testing.T) {
	v, _ := newTestVM(t)
	tok := hold(t, v)

	// def initialize(x); @x = x; end
	initialize := v.NewAssembler("initialize", ISeqMethod).
		Params(Params{Lead: 1}, "x").
		GetLocal(0, 0).SetIvar("@x").
		PutNil().
		Leave().
		MustBuild()
	// def x; @x; end
	reader := v.NewAssembler("x", ISeqMethod).GetIvar("@x").Leave().MustBuild()
	body := v.NewAssembler("<class:Point>", ISeqClass).
		DefineMethod("initialize", initialize).Pop().
		DefineMethod("x", reader).
		Leave().
		MustBuild()
	sub := v.NewAssembler("<class:Point3>", ISeqClass).PutNil().Leave().MustBuild()

	iseq := v.NewAssembler("<main>", ISeqTop).
		DefineClass("Point", body, 0).Pop().
		GetConst("Point").
		DefineClass("Point3", sub, DefineClassHasSuper).Pop().
		GetConst("Point3").PutInt(9).Send("new", 1, 0, nil).
		Send("x", 0, 0, nil).
		Leave().
		MustBuild()
	expectInt(t, runTop(t, v, tok, iseq), 9)

	p3 := v.LookupClass("Point3")
	if p3 == nil || p3.Superclass() != v.LookupClass("Point") {
		t.Fatal("Point3 < Point not defined")
	}
}

func TestTopLevelMethodsArePrivate(t *testing.T) {
	v, _ := newTestVM(t)
	tok := hold(t, v)
	body := v.NewAssembler("helper", ISeqMethod).PutInt(3).Leave().MustBuild()

	iseq := v.NewAssembler("<main>", ISeqTop).
		DefineMethod("helper", body).Pop().
		PutSelf().Send("helper", 0, FlagFCall|FlagVCall, nil).
		Leave().
		MustBuild()
	expectInt(t, runTop(t, v, tok, iseq), 3)

	exc := callErr(t, newEC(v, tok), FromInt(1), "helper")
	if exc.Reason != MissingPrivate {
		t.Errorf("reason = %s, want private", exc.Reason)
	}
}

func TestUninitializedConstant(t *testing.T) {
	v, _ := newTestVM(t)
	tok := hold(t, v)
	iseq := v.NewAssembler("<main>", ISeqTop).GetConst("Nope").Leave().MustBuild()
	exc := runTopErr(t, v, tok, iseq)
	if exc.Class() != v.NameErrorClass || exc.Message != "uninitialized constant Nope" {
		t.Errorf("got %v", exc)
	}
}

func TestIvarOnImmediateFails(t *testing.T) {
	v, _ := newTestVM(t)
	tok := hold(t, v)
	c := v.IntegerClass
	set := v.NewAssembler("poke", ISeqMethod).PutInt(1).SetIvar("@x").PutNil().Leave().MustBuild()
	c.DefineMethod(tok, "poke", MethodFromISeq(set), Public)

	exc := callErr(t, newEC(v, tok), FromInt(5), "poke")
	if !exc.IsA(v.RuntimeErrorClass) {
		t.Errorf("got %v", exc)
	}
}
