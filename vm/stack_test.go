package vm

import (
	"errors"
	"testing"
	"time"
)

func smallStack(c *Config) { c.MaxFrames = 64 }

// defineDown defines down(n) = down(n + 1) on c.
func defineDown(t *testing.T, v *VM, tok *Token, c *Class) {
	t.Helper()
	down := v.NewAssembler("down", ISeqMethod).
		Params(Params{Lead: 1}, "n").
		PutSelf().
		GetLocal(0, 0).PutInt(1).OptPlus().
		Send("down", 1, FlagFCall, nil).
		Leave().
		MustBuild()
	c.DefineMethod(tok, "down", MethodFromISeq(down), Public)
}

// ---------------------------------------------------------------------------
// Overflow
// ---------------------------------------------------------------------------

func TestStackOverflow(t *testing.T) {
	v, _ := newTestVMWith(t, smallStack)
	tok := hold(t, v)
	ec := newEC(v, tok)
	c := defineClass(t, v, tok, "Deep", nil)
	defineDown(t, v, tok, c)

	exc := callErr(t, ec, newObject(t, v, c), "down", FromInt(0))
	if exc.Class() != v.StackOverflowClass || exc.Message != "stack level too deep" {
		t.Fatalf("got %v", exc)
	}
	if ec.Depth() != 0 || ec.overflowing {
		t.Errorf("depth = %d overflowing = %v after unwinding", ec.Depth(), ec.overflowing)
	}

	// The context is usable again.
	expectInt(t, call(t, ec, FromInt(1), "+", FromInt(1)), 2)
}

// A frame that does not fit fails before any slot is written.
func TestPushFrameOverflowWritesNothing(t *testing.T) {
	v, _ := newTestVMWith(t, func(c *Config) { c.StackSlots = 64 })
	tok := hold(t, v)
	ec := newEC(v, tok)
	for i := range ec.stack {
		ec.stack[i] = FromInt(7)
	}

	_, err := ec.PushFrame(nil, FrameMethod, Nil, NoBlock, 0, 40, 40)
	exc, ok := err.(*Exception)
	if !ok || exc.Class() != v.StackOverflowClass {
		t.Fatalf("err = %v", err)
	}
	for i, s := range ec.stack {
		if !s.IsInt() || s.Int() != 7 {
			t.Fatalf("slot %d written: %v", i, s)
		}
	}
	if ec.Depth() != 0 {
		t.Fatalf("depth = %d", ec.Depth())
	}

	f, err := ec.PushFrame(nil, FrameMethod, Nil, NoBlock, 0, 4, 4)
	if err != nil {
		t.Fatal(err)
	}
	for i := f.BP; i < f.BP+4; i++ {
		if !ec.stack[i].IsNil() {
			t.Errorf("local %d = %v, want nil", i-f.BP, ec.stack[i])
		}
	}
	if ec.PopFrame() {
		t.Error("plain frame popped as a finish frame")
	}
	if ec.Depth() != 0 || ec.sp != 0 {
		t.Errorf("depth = %d sp = %d", ec.Depth(), ec.sp)
	}
}

func TestValueStackOverflow(t *testing.T) {
	v, _ := newTestVMWith(t, func(c *Config) { c.StackSlots = 256 })
	tok := hold(t, v)
	c := defineClass(t, v, tok, "Wide", nil)
	defineDown(t, v, tok, c)

	exc := callErr(t, newEC(v, tok), newObject(t, v, c), "down", FromInt(0))
	if exc.Class() != v.StackOverflowClass {
		t.Fatalf("got %v", exc)
	}
}

func TestStackOverflowRescue(t *testing.T) {
	v, _ := newTestVMWith(t, smallStack)
	tok := hold(t, v)
	c := defineClass(t, v, tok, "Deep", nil)
	defineDown(t, v, tok, c)
	obj := newObject(t, v, c)
	recurse := func(a *Assembler) { a.PutObject(obj).PutInt(0).Send("down", 1, 0, nil) }

	// A bare rescue does not take it.
	exc := runTopErr(t, v, tok, rescueMessage(v, recurse))
	if exc.Class() != v.StackOverflowClass {
		t.Fatalf("got %v", exc)
	}

	// Naming it does.
	expectInspect(t, v, runTop(t, v, tok, rescueMessage(v, recurse, "StackOverflow")), `"stack level too deep"`)
}

// Overflowing again while the first overflow is still unwinding is fatal,
// and fatal errors skip ensure handlers.
func TestOverflowDuringOverflowIsFatal(t *testing.T) {
	v, out := newTestVMWith(t, smallStack)
	tok := hold(t, v)
	c := defineClass(t, v, tok, "Deep", nil)
	defineDown(t, v, tok, c)
	obj := newObject(t, v, c)

	// begin; down(0); ensure; puts "cleanup"; down(0); end
	a := v.NewAssembler("<main>", ISeqTop)
	start, end, handler := a.NewLabel(), a.NewLabel(), a.NewLabel()
	outerStart, outerEnd, outerHandler := a.NewLabel(), a.NewLabel(), a.NewLabel()
	a.Mark(outerStart).
		Mark(start).
		PutObject(obj).PutInt(0).Send("down", 1, 0, nil).
		Mark(end).
		Leave().
		SetDepth(0).
		Mark(handler).
		PutObject(obj).PutInt(0).Send("down", 1, 0, nil).
		Mark(outerEnd).
		Rethrow().
		Leave().
		SetDepth(0).
		Mark(outerHandler).
		PutSelf().PutString("cleanup").Send("puts", 1, FlagFCall, nil).
		Rethrow().
		Leave().
		Catch(CatchEnsure, start, end, handler).
		Catch(CatchEnsure, outerStart, outerEnd, outerHandler)

	exc := runTopErr(t, v, tok, a.MustBuild())
	if !exc.Fatal() {
		t.Fatalf("got %v, want fatal", exc)
	}
	if out.Len() != 0 {
		t.Errorf("ensure ran for a fatal error: %q", out.String())
	}
}

func TestOverflowDuringCollectionIsFatal(t *testing.T) {
	heap := NewGoHeap()
	v, _ := newTestVMWith(t, func(c *Config) {
		c.MaxFrames = 64
		c.Heap = heap
	})
	tok := hold(t, v)
	c := defineClass(t, v, tok, "Deep", nil)
	defineDown(t, v, tok, c)
	obj := newObject(t, v, c)

	heap.SetCollecting(true)
	defer heap.SetCollecting(false)
	exc := callErr(t, newEC(v, tok), obj, "down", FromInt(0))
	if !exc.Fatal() || exc.Message != "stack level too deep while handling stack overflow" {
		t.Errorf("got %v", exc)
	}
}

// A native method that swallows an overflow can overflow again without it
// becoming fatal, though its own frame is still live.
func TestOverflowSwallowedByNativeCode(t *testing.T) {
	v, _ := newTestVMWith(t, smallStack)
	tok := hold(t, v)
	c := defineClass(t, v, tok, "Deep", nil)
	defineDown(t, v, tok, c)
	site := v.NewCallSite("down", 1, 0)
	c.DefineMethod(tok, "down_twice", NativeMethod(0, func(ec *ExecContext, self Value, _ []Value, _ BlockHandler) (Value, error) {
		var n int64
		for i := 0; i < 2; i++ {
			_, err := site.Call(ec, self, []Value{FromInt(0)}, NoBlock)
			exc, ok := err.(*Exception)
			if !ok || exc.Fatal() || !exc.IsA(ec.vm.StackOverflowClass) {
				return Nil, err
			}
			n++
		}
		return FromInt(n), nil
	}), Public)

	ec := newEC(v, tok)
	expectInt(t, call(t, ec, newObject(t, v, c), "down_twice"), 2)
	if ec.overflowing {
		t.Error("overflow state left set")
	}
}

// ---------------------------------------------------------------------------
// Tail calls
// ---------------------------------------------------------------------------

// defineCountdown defines countdown(n) = n == 0 ? 0 : countdown(n - 1),
// with the recursive call marked as a tail call when tail is set.
func defineCountdown(t *testing.T, v *VM, tok *Token, c *Class, tail bool) {
	t.Helper()
	flags := FlagFCall
	if tail {
		flags |= FlagTailCall
	}
	a := v.NewAssembler("countdown", ISeqMethod).Params(Params{Lead: 1}, "n")
	rec := a.NewLabel()
	body := a.GetLocal(0, 0).PutInt(0).OptEq().BranchUnless(rec).
		PutInt(0).
		Leave().
		Mark(rec).
		PutSelf().
		GetLocal(0, 0).PutInt(1).OptMinus().
		Send("countdown", 1, flags, nil).
		Leave().
		MustBuild()
	c.DefineMethod(tok, "countdown", MethodFromISeq(body), Public)
}

func TestTailCallRunsInConstantFrames(t *testing.T) {
	v, _ := newTestVMWith(t, smallStack)
	tok := hold(t, v)
	ec := newEC(v, tok)
	c := defineClass(t, v, tok, "Loop", nil)
	defineCountdown(t, v, tok, c, true)
	obj := newObject(t, v, c)

	expectInt(t, call(t, ec, obj, "countdown", FromInt(1000)), 0)
	if ec.Depth() != 0 {
		t.Errorf("depth = %d", ec.Depth())
	}
}

func TestWithoutTailCallOverflows(t *testing.T) {
	v, _ := newTestVMWith(t, smallStack)
	tok := hold(t, v)
	c := defineClass(t, v, tok, "Loop", nil)
	defineCountdown(t, v, tok, c, false)

	exc := callErr(t, newEC(v, tok), newObject(t, v, c), "countdown", FromInt(1000))
	if exc.Class() != v.StackOverflowClass {
		t.Errorf("got %v", exc)
	}
}

// Tracing needs every callee to return through the hook, so tail calls
// are off while a hook is installed.
func TestHookDisablesTailCalls(t *testing.T) {
	v, _ := newTestVMWith(t, smallStack)
	tok := hold(t, v)
	c := defineClass(t, v, tok, "Loop", nil)
	defineCountdown(t, v, tok, c, true)
	obj := newObject(t, v, c)

	hook := &CallHookFuncs{}
	v.AddCallHook(tok, hook)
	exc := callErr(t, newEC(v, tok), obj, "countdown", FromInt(1000))
	if exc.Class() != v.StackOverflowClass {
		t.Errorf("got %v", exc)
	}

	v.RemoveCallHook(tok, hook)
	expectInt(t, call(t, newEC(v, tok), obj, "countdown", FromInt(1000)), 0)
}

// A tail-call loop never leaves a frame, so the frame swap itself must see
// interrupts.
func TestInterruptStopsTailCallLoop(t *testing.T) {
	v, _ := newTestVMWith(t, smallStack)
	tok := hold(t, v)
	ec := newEC(v, tok)
	c := defineClass(t, v, tok, "Spin", nil)
	spin := v.NewAssembler("spin", ISeqMethod).
		Params(Params{Lead: 1}, "n").
		PutSelf().
		GetLocal(0, 0).
		Send("spin", 1, FlagFCall|FlagTailCall, nil).
		Leave().
		MustBuild()
	c.DefineMethod(tok, "spin", MethodFromISeq(spin), Public)

	go func() {
		time.Sleep(10 * time.Millisecond)
		ec.Interrupt(errStop)
	}()
	_, err := ec.Call(tok, newObject(t, v, c), "spin", []Value{FromInt(0)}, NoBlock, CallPublic)
	if !errors.Is(err, errStop) {
		t.Fatalf("err = %v, want the interrupt", err)
	}
	if ec.Depth() != 0 {
		t.Errorf("depth = %d", ec.Depth())
	}
}
