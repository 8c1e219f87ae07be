package vm

import (
	"testing"
)

// echoBlock builds a block with the given parameters returning an array
// of them.
func echoBlock(v *VM, p Params, names ...string) *ISeq {
	a := v.NewAssembler("block", ISeqBlock).Params(p, names...)
	for i := range names {
		a.GetLocal(i, 0)
	}
	return a.NewArray(len(names)).Leave().MustBuild()
}

// sendWithBlock builds top-level code calling recv.name { blk }.
func sendWithBlock(v *VM, recv Value, name string, blk *ISeq) *ISeq {
	return v.NewAssembler("<main>", ISeqTop).
		PutObject(recv).
		Send(name, 0, 0, blk).
		Leave().
		MustBuild()
}

func ints(v *VM, ns ...int64) Value {
	elems := make([]Value, len(ns))
	for i, n := range ns {
		elems[i] = FromInt(n)
	}
	return v.NewArray(elems)
}

// ---------------------------------------------------------------------------
// Block argument semantics
// ---------------------------------------------------------------------------

func TestBlockAutoSplat(t *testing.T) {
	v, _ := newTestVM(t)
	tok := hold(t, v)
	pairs := v.NewArray([]Value{ints(v, 1, 2)})

	// [[1, 2]].map { |a, b| a + b }
	sum := v.NewAssembler("block", ISeqBlock).
		Params(Params{Lead: 2}, "a", "b").
		GetLocal(0, 0).GetLocal(1, 0).OptPlus().
		Leave().
		MustBuild()
	expectInspect(t, v, runTop(t, v, tok, sendWithBlock(v, pairs, "map", sum)), "[3]")

	// [[1, 2]].map { |a| a }
	single := echoBlock(v, Params{Lead: 1, Ambiguous: true}, "a")
	expectInspect(t, v, runTop(t, v, tok, sendWithBlock(v, pairs, "map", single)), "[[[1, 2]]]")

	// [[1, 2]].map { |a, *r| [a, r] }
	rest := echoBlock(v, Params{Lead: 1, Rest: true}, "a", "r")
	expectInspect(t, v, runTop(t, v, tok, sendWithBlock(v, pairs, "map", rest)), "[[1, [2]]]")
}

func TestBlockPadsAndTruncates(t *testing.T) {
	v, _ := newTestVM(t)
	tok := hold(t, v)
	ec := newEC(v, tok)
	blk := iseqBlock(echoBlock(v, Params{Lead: 2}, "a", "b"), nil, Nil)

	tests := []struct {
		args []Value
		want string
	}{
		{nil, "[nil, nil]"},
		{[]Value{FromInt(1)}, "[1, nil]"},
		{[]Value{FromInt(1), FromInt(2), FromInt(3)}, "[1, 2]"},
	}
	for _, tt := range tests {
		got, err := ec.InvokeBlock(blk, tt.args, NoBlock)
		if err != nil {
			t.Fatal(err)
		}
		expectInspect(t, v, got, tt.want)
	}
}

func TestLambdaArityIsStrict(t *testing.T) {
	v, _ := newTestVM(t)
	tok := hold(t, v)
	body := echoBlock(v, Params{Lead: 2}, "a", "b")

	iseq := v.NewAssembler("<main>", ISeqTop).
		MakeLambda(body).
		PutInt(1).
		Send("call", 1, 0, nil).
		Leave().
		MustBuild()
	exc := runTopErr(t, v, tok, iseq)
	if !exc.IsA(v.ArityErrorClass) || exc.Given != 1 || exc.Min != 2 {
		t.Fatalf("got %v, want arity error", exc)
	}

	// The same body as a plain proc is lenient.
	iseq = v.NewAssembler("<main>", ISeqTop).
		PutSelf().
		Send("proc", 0, FlagFCall, body).
		PutInt(1).
		Send("call", 1, 0, nil).
		Leave().
		MustBuild()
	expectInspect(t, v, runTop(t, v, tok, iseq), "[1, nil]")
}

func TestProcReflection(t *testing.T) {
	v, _ := newTestVM(t)
	tok := hold(t, v)
	ec := newEC(v, tok)

	lam := FromObject(v.NewProc(iseqBlock(echoBlock(v, Params{Lead: 2}, "a", "b"), nil, Nil), true))
	prc := FromObject(v.NewProc(iseqBlock(echoBlock(v, Params{Lead: 1, Rest: true}, "a", "r"), nil, Nil), false))

	if !call(t, ec, lam, "lambda?").IsTrue() || call(t, ec, prc, "lambda?").IsTrue() {
		t.Error("lambda? is wrong")
	}
	expectInt(t, call(t, ec, lam, "arity"), 2)
	expectInt(t, call(t, ec, prc, "arity"), -2)
	expectInspect(t, v, lam, "#<Proc (lambda)>")
}

// ---------------------------------------------------------------------------
// Non-bytecode blocks
// ---------------------------------------------------------------------------

func TestSymbolAndNativeBlocks(t *testing.T) {
	v, _ := newTestVM(t)
	tok := hold(t, v)
	ec := newEC(v, tok)
	arr := ints(v, 1, 2)

	got, err := ec.Call(tok, arr, "map", nil, SymbolBlock(v.Intern("succ")), CallPublic)
	if err != nil {
		t.Fatal(err)
	}
	expectInspect(t, v, got, "[2, 3]")

	double := NativeBlock(func(ec *ExecContext, args []Value, blk BlockHandler) (Value, error) {
		return FromInt(args[0].Int() * 2), nil
	})
	got, err = ec.Call(tok, arr, "map", nil, double, CallPublic)
	if err != nil {
		t.Fatal(err)
	}
	expectInspect(t, v, got, "[2, 4]")
}

// ---------------------------------------------------------------------------
// yield
// ---------------------------------------------------------------------------

func TestYield(t *testing.T) {
	v, _ := newTestVM(t)
	tok := hold(t, v)
	ec := newEC(v, tok)
	c := defineClass(t, v, tok, "Yielder", nil)

	// apply(x) = yield(x + 1)
	apply := v.NewAssembler("apply", ISeqMethod).
		Params(Params{Lead: 1}, "x").
		GetLocal(0, 0).PutInt(1).OptPlus().
		InvokeBlock(1, 0).
		Leave().
		MustBuild()
	c.DefineMethod(tok, "apply", MethodFromISeq(apply), Public)

	// given? = block_given?
	given := v.NewAssembler("given?", ISeqMethod).
		PutSelf().
		Send("block_given?", 0, FlagFCall|FlagVCall, nil).
		Leave().
		MustBuild()
	c.DefineMethod(tok, "given?", MethodFromISeq(given), Public)
	obj := newObject(t, v, c)

	triple := v.NewAssembler("block", ISeqBlock).
		Params(Params{Lead: 1, Ambiguous: true}, "y").
		GetLocal(0, 0).PutInt(3).Send("*", 1, 0, nil).
		Leave().
		MustBuild()
	iseq := v.NewAssembler("<main>", ISeqTop).
		PutObject(obj).
		PutInt(4).
		Send("apply", 1, 0, triple).
		Leave().
		MustBuild()
	expectInt(t, runTop(t, v, tok, iseq), 15)

	exc := callErr(t, ec, obj, "apply", FromInt(1))
	if !exc.IsA(v.LocalJumpErrorClass) || exc.Message != "no block given (yield)" {
		t.Errorf("got %v, want LocalJumpError", exc)
	}

	if call(t, ec, obj, "given?").IsTrue() {
		t.Error("block_given? without a block")
	}
	noop := NativeBlock(func(*ExecContext, []Value, BlockHandler) (Value, error) { return Nil, nil })
	got, err := ec.Call(tok, obj, "given?", nil, noop, CallPublic)
	if err != nil || !got.IsTrue() {
		t.Errorf("block_given? with a block = %v, %v", got, err)
	}
}

// ---------------------------------------------------------------------------
// break, next and return
// ---------------------------------------------------------------------------

func TestBreakOutOfIterator(t *testing.T) {
	v, _ := newTestVM(t)
	tok := hold(t, v)

	// [2, 3].each { |x| break x * 10 }
	blk := v.NewAssembler("block", ISeqBlock).
		Params(Params{Lead: 1, Ambiguous: true}, "x").
		GetLocal(0, 0).PutInt(10).Send("*", 1, 0, nil).
		Throw(ThrowBreak).
		MustBuild()
	ec := v.NewExecContext()
	got, err := ec.RunTop(tok, sendWithBlock(v, ints(v, 2, 3), "each", blk))
	if err != nil {
		t.Fatal(err)
	}
	expectInt(t, got, 20)
	if ec.Depth() != 0 || ec.SP() != 0 {
		t.Errorf("frames left behind: depth=%d sp=%d", ec.Depth(), ec.SP())
	}
}

func TestBreakKeepsOuterStack(t *testing.T) {
	v, _ := newTestVM(t)
	tok := hold(t, v)

	// 100 + [1].each { break 5 }
	blk := v.NewAssembler("block", ISeqBlock).PutInt(5).Throw(ThrowBreak).MustBuild()
	iseq := v.NewAssembler("<main>", ISeqTop).
		PutInt(100).
		PutObject(ints(v, 1)).
		Send("each", 0, 0, blk).
		OptPlus().
		Leave().
		MustBuild()
	expectInt(t, runTop(t, v, tok, iseq), 105)
}

func TestNextInBlock(t *testing.T) {
	v, _ := newTestVM(t)
	tok := hold(t, v)

	// [1, 2].map { |x| next x * 2; 0 }
	blk := v.NewAssembler("block", ISeqBlock).
		Params(Params{Lead: 1, Ambiguous: true}, "x").
		GetLocal(0, 0).PutInt(2).Send("*", 1, 0, nil).
		Throw(ThrowNext).
		PutInt(0).
		Leave().
		MustBuild()
	expectInspect(t, v, runTop(t, v, tok, sendWithBlock(v, ints(v, 1, 2), "map", blk)), "[2, 4]")
}

func TestReturnFromBlockLeavesMethod(t *testing.T) {
	v, _ := newTestVM(t)
	tok := hold(t, v)
	ec := newEC(v, tok)
	c := defineClass(t, v, tok, "Finder", nil)

	// find = [1, 2].each { return 200 }; 1
	blk := v.NewAssembler("block", ISeqBlock).PutInt(200).Throw(ThrowReturn).MustBuild()
	find := v.NewAssembler("find", ISeqMethod).
		PutObject(ints(v, 1, 2)).
		Send("each", 0, 0, blk).
		Pop().
		PutInt(1).
		Leave().
		MustBuild()
	c.DefineMethod(tok, "find", MethodFromISeq(find), Public)

	expectInt(t, call(t, ec, newObject(t, v, c), "find"), 200)
	if ec.Depth() != 0 {
		t.Errorf("depth = %d after return", ec.Depth())
	}
}

func TestBreakFromOrphanedProc(t *testing.T) {
	v, _ := newTestVM(t)
	tok := hold(t, v)
	ec := newEC(v, tok)
	c := defineClass(t, v, tok, "Maker", nil)

	// make = proc { break 1 }
	blk := v.NewAssembler("block", ISeqBlock).PutInt(1).Throw(ThrowBreak).MustBuild()
	mk := v.NewAssembler("make", ISeqMethod).
		PutSelf().
		Send("proc", 0, FlagFCall, blk).
		Leave().
		MustBuild()
	c.DefineMethod(tok, "make", MethodFromISeq(mk), Public)

	p := call(t, ec, newObject(t, v, c), "make")
	exc := callErr(t, ec, p, "call")
	if !exc.IsA(v.LocalJumpErrorClass) || exc.Message != "break from proc-closure" {
		t.Errorf("got %v", exc)
	}

	// return from an orphaned proc has nowhere to go either.
	ret := v.NewAssembler("block", ISeqBlock).PutInt(1).Throw(ThrowReturn).MustBuild()
	mk = v.NewAssembler("make", ISeqMethod).
		PutSelf().
		Send("proc", 0, FlagFCall, ret).
		Leave().
		MustBuild()
	c.DefineMethod(tok, "make", MethodFromISeq(mk), Public)
	p = call(t, ec, newObject(t, v, c), "make")
	exc = callErr(t, ec, p, "call")
	if !exc.IsA(v.LocalJumpErrorClass) || exc.Message != "unexpected return" {
		t.Errorf("got %v", exc)
	}
}

// break and return in a lambda only leave the lambda.
func TestLambdaBreakAndReturn(t *testing.T) {
	v, _ := newTestVM(t)
	tok := hold(t, v)

	for _, kind := range []byte{ThrowBreak, ThrowReturn} {
		body := v.NewAssembler("lambda", ISeqBlock).PutInt(5).Throw(kind).MustBuild()
		iseq := v.NewAssembler("<main>", ISeqTop).
			MakeLambda(body).
			Send("call", 0, 0, nil).
			PutInt(1).
			OptPlus().
			Leave().
			MustBuild()
		expectInt(t, runTop(t, v, tok, iseq), 6)
	}
}
