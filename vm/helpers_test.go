package vm

import (
	"bytes"
	"context"
	"errors"
	"testing"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

// newTestVM creates a VM whose puts output goes to the returned buffer.
func newTestVM(t *testing.T) (*VM, *bytes.Buffer) {
	t.Helper()
	return newTestVMWith(t, nil)
}

// newTestVMWith is newTestVM with the configuration adjusted by mod.
func newTestVMWith(t *testing.T, mod func(*Config)) (*VM, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	cfg := DefaultConfig()
	cfg.Stdout = &out
	cfg.KeywordWarnings = false
	if mod != nil {
		mod(&cfg)
	}
	return NewVMWithConfig(cfg), &out
}

// hold acquires the execution token for the rest of the test.
func hold(t *testing.T, v *VM) *Token {
	t.Helper()
	tok, err := v.GVL().Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	t.Cleanup(func() {
		if tok.Held() {
			tok.Release()
		}
	})
	return tok
}

// newEC returns a context bound to tok, ready for Call and CallSite use.
func newEC(v *VM, tok *Token) *ExecContext {
	ec := v.NewExecContext()
	ec.token = tok
	return ec
}

// runTop runs iseq as top-level code under tok and fails the test on error.
func runTop(t *testing.T, v *VM, tok *Token, iseq *ISeq) Value {
	t.Helper()
	result, err := v.NewExecContext().RunTop(tok, iseq)
	if err != nil {
		t.Fatalf("run %s: %v", iseq.Name, err)
	}
	return result
}

// runTopErr runs iseq and returns its error, which must be an Exception.
func runTopErr(t *testing.T, v *VM, tok *Token, iseq *ISeq) *Exception {
	t.Helper()
	_, err := v.NewExecContext().RunTop(tok, iseq)
	if err == nil {
		t.Fatalf("run %s: expected an exception", iseq.Name)
	}
	var exc *Exception
	if !errors.As(err, &exc) {
		t.Fatalf("run %s: error %v is not an Exception", iseq.Name, err)
	}
	return exc
}

// defineClass creates a class under tok.
func defineClass(t *testing.T, v *VM, tok *Token, name string, super *Class) *Class {
	t.Helper()
	c, err := v.DefineClass(tok, name, super)
	if err != nil {
		t.Fatalf("DefineClass %s: %v", name, err)
	}
	return c
}

// defineModule creates a module under tok.
func defineModule(t *testing.T, v *VM, tok *Token, name string) *Class {
	t.Helper()
	m, err := v.DefineModule(tok, name)
	if err != nil {
		t.Fatalf("DefineModule %s: %v", name, err)
	}
	return m
}

// newObject allocates an instance of c.
func newObject(t *testing.T, v *VM, c *Class) Value {
	t.Helper()
	obj, err := v.allocate(c)
	if err != nil {
		t.Fatalf("allocate %s: %v", c.Name, err)
	}
	return obj
}

// constMethod returns a method body that returns n.
func constMethod(v *VM, name string, n int64) *MethodDef {
	return MethodFromISeq(v.NewAssembler(name, ISeqMethod).PutInt(n).Leave().MustBuild())
}

// expectInt fails unless got is the integer want.
func expectInt(t *testing.T, got Value, want int64) {
	t.Helper()
	if !got.IsInt() || got.Int() != want {
		t.Fatalf("got %v, want %d", got, want)
	}
}

// expectInspect fails unless v.Inspect(got) is want.
func expectInspect(t *testing.T, v *VM, got Value, want string) {
	t.Helper()
	if s := v.Inspect(got); s != want {
		t.Fatalf("got %s, want %s", s, want)
	}
}

// call invokes name on recv from Go and fails the test on error.
func call(t *testing.T, ec *ExecContext, recv Value, name string, args ...Value) Value {
	t.Helper()
	v, err := ec.Call(ec.token, recv, name, args, NoBlock, CallPublic)
	if err != nil {
		t.Fatalf("%s: %v", name, err)
	}
	return v
}

// callErr invokes name on recv and returns the Exception it raised.
func callErr(t *testing.T, ec *ExecContext, recv Value, name string, args ...Value) *Exception {
	t.Helper()
	_, err := ec.Call(ec.token, recv, name, args, NoBlock, CallPublic)
	if err == nil {
		t.Fatalf("%s: expected an exception", name)
	}
	var exc *Exception
	if !errors.As(err, &exc) {
		t.Fatalf("%s: error %v is not an Exception", name, err)
	}
	return exc
}
