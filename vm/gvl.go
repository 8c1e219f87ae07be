package vm

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// ---------------------------------------------------------------------------
// GVL: the execution token
// ---------------------------------------------------------------------------

// GVL is the single execution token of a VM. Running bytecode and mutating
// classes require holding it; host threads contend for it through a
// weighted semaphore of size one.
type GVL struct {
	sem    *semaphore.Weighted
	holder atomic.Pointer[Token]
	vm     *VM
}

func newGVL(vm *VM) *GVL {
	return &GVL{sem: semaphore.NewWeighted(1), vm: vm}
}

// Token is proof of holding the GVL. A Token is only valid between Acquire
// and Release; it may be released and reacquired around blocking work.
type Token struct {
	gvl  *GVL
	held atomic.Bool
}

// Acquire blocks until the token is available or ctx is done.
func (g *GVL) Acquire(ctx context.Context) (*Token, error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	t := &Token{gvl: g}
	t.held.Store(true)
	g.holder.Store(t)
	return t, nil
}

// TryAcquire returns a token if the GVL is free.
func (g *GVL) TryAcquire() (*Token, bool) {
	if !g.sem.TryAcquire(1) {
		return nil, false
	}
	t := &Token{gvl: g}
	t.held.Store(true)
	g.holder.Store(t)
	return t, true
}

// Held reports whether t currently holds the GVL.
func (t *Token) Held() bool {
	return t != nil && t.held.Load() && t.gvl.holder.Load() == t
}

// Release gives up the GVL. Releasing a token that is not held panics.
func (t *Token) Release() {
	if !t.held.CompareAndSwap(true, false) {
		panic("gvl: release of a token that is not held")
	}
	t.gvl.holder.CompareAndSwap(t, nil)
	t.gvl.sem.Release(1)
}

// reacquire takes the GVL again for the same token.
func (t *Token) reacquire(ctx context.Context) error {
	if err := t.gvl.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	t.held.Store(true)
	t.gvl.holder.Store(t)
	return nil
}

// mustHold panics unless t holds the GVL of vm.
func (t *Token) mustHold(vm *VM) {
	if t == nil || t.gvl != vm.gvl || !t.Held() {
		panic("vm: execution token not held")
	}
}

// ---------------------------------------------------------------------------
// Releasing around blocking work
// ---------------------------------------------------------------------------

// WithoutGVL runs fn with the execution token released, so other threads can
// run bytecode meanwhile. fn must not touch VM state. The token is
// reacquired before returning; if ctx ends first the error is returned and
// the context no longer holds the token.
func (ec *ExecContext) WithoutGVL(ctx context.Context, fn func()) error {
	tok := ec.token
	tok.mustHold(ec.vm)
	tok.Release()
	fn()
	if err := tok.reacquire(ctx); err != nil {
		return err
	}
	if err := ec.checkInterrupts(); err != nil {
		return err
	}
	return nil
}
