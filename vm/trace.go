package vm

// CallEvent describes one traced method call. Result and Err are filled in
// before AfterCall runs.
type CallEvent struct {
	Receiver Value
	Class    *Class
	Method   *MethodEntry
	Name     Symbol
	Family   HandlerFamily
	CacheHit bool
	// Depth is the frame depth of the caller.
	Depth int

	Result Value
	Err    error
}

// CallHook observes method calls. Hooks run on the calling goroutine while
// it holds the execution token, so they may inspect VM state but must not
// block.
type CallHook interface {
	BeforeCall(ec *ExecContext, ev *CallEvent)
	AfterCall(ec *ExecContext, ev *CallEvent)
}

// CallHookFuncs adapts plain functions to CallHook. Either may be nil.
// Install it by pointer so RemoveCallHook can find it again.
type CallHookFuncs struct {
	Before func(ec *ExecContext, ev *CallEvent)
	After  func(ec *ExecContext, ev *CallEvent)
}

func (h *CallHookFuncs) BeforeCall(ec *ExecContext, ev *CallEvent) {
	if h.Before != nil {
		h.Before(ec, ev)
	}
}

func (h *CallHookFuncs) AfterCall(ec *ExecContext, ev *CallEvent) {
	if h.After != nil {
		h.After(ec, ev)
	}
}

// AddCallHook installs h. While any hook is installed every call runs its
// callee to completion, so tail calls are not performed.
func (vm *VM) AddCallHook(t *Token, h CallHook) {
	t.mustHold(vm)
	vm.hooks = append(vm.hooks, h)
}

// RemoveCallHook uninstalls h. It reports whether h was installed.
func (vm *VM) RemoveCallHook(t *Token, h CallHook) bool {
	t.mustHold(vm)
	for i, x := range vm.hooks {
		if x == h {
			vm.hooks = append(vm.hooks[:i:i], vm.hooks[i+1:]...)
			return true
		}
	}
	return false
}

// EventName returns the method name of ev as a string.
func (vm *VM) EventName(ev *CallEvent) string {
	return vm.SymbolName(ev.Name)
}

// EventOwner returns the name of the class that holds the called method.
func (vm *VM) EventOwner(ev *CallEvent) string {
	if ev.Method == nil {
		return "?"
	}
	if c := vm.classes.Get(ev.Method.Owner); c != nil {
		return c.String()
	}
	return "?"
}
