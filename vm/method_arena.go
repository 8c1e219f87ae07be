package vm

// MethodRef is a generation-checked handle into a MethodArena. A handle
// whose slot was freed (by redefinition or removal) no longer resolves.
type MethodRef struct {
	idx uint32
	gen uint32
}

// IsZero reports whether r refers to no entry.
func (r MethodRef) IsZero() bool { return r.idx == 0 }

type methodSlot struct {
	gen   uint32
	entry *MethodEntry
}

// MethodArena owns every live method entry of a VM. Freed slots are reused
// with a bumped generation. Only the GVL holder mutates the arena.
type MethodArena struct {
	slots []methodSlot
	free  []uint32
	live  int
}

func newMethodArena() *MethodArena {
	return &MethodArena{slots: make([]methodSlot, 1, 256)}
}

func (a *MethodArena) alloc(e *MethodEntry) MethodRef {
	var idx uint32
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		idx = uint32(len(a.slots))
		a.slots = append(a.slots, methodSlot{})
	}
	a.slots[idx].entry = e
	a.live++
	return MethodRef{idx: idx, gen: a.slots[idx].gen}
}

// release frees the slot of ref. Stale refs are ignored.
func (a *MethodArena) release(ref MethodRef) {
	if !a.Valid(ref) {
		return
	}
	s := &a.slots[ref.idx]
	s.entry = nil
	s.gen++
	a.free = append(a.free, ref.idx)
	a.live--
}

// Get returns the entry for ref, or nil if the handle is stale.
func (a *MethodArena) Get(ref MethodRef) *MethodEntry {
	if ref.idx == 0 || int(ref.idx) >= len(a.slots) {
		return nil
	}
	s := &a.slots[ref.idx]
	if s.gen != ref.gen {
		return nil
	}
	return s.entry
}

// Valid reports whether ref still resolves.
func (a *MethodArena) Valid(ref MethodRef) bool {
	return ref.idx != 0 && int(ref.idx) < len(a.slots) && a.slots[ref.idx].gen == ref.gen
}

// Live returns the number of live entries.
func (a *MethodArena) Live() int { return a.live }
