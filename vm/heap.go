package vm

import "sync/atomic"

// Heap is the memory manager the dispatch core allocates through.
//
// WriteBarrier must be called for every store of a heap reference into a
// heap object. InGC reports whether a collection is in progress; stack
// overflow during collection is fatal.
type Heap interface {
	Allocate(class *Class, size int) Object
	WriteBarrier(owner Object, referent Value)
	InGC() bool
}

// GoHeap is the default Heap. Objects are ordinary Go allocations reclaimed
// by the Go collector; the barrier only counts.
type GoHeap struct {
	allocations atomic.Uint64
	barriers    atomic.Uint64
	collecting  atomic.Bool
}

// NewGoHeap creates a GoHeap.
func NewGoHeap() *GoHeap {
	return &GoHeap{}
}

// Allocate creates an object with the layout of class. size is the initial
// number of slots (ivars for instances, elements for arrays).
func (h *GoHeap) Allocate(class *Class, size int) Object {
	h.allocations.Add(1)
	hdr := Header{Type: class.layout, Class: class.ref}
	switch class.layout {
	case TypeArray:
		return &Array{Header: hdr, Elems: make([]Value, 0, size)}
	case TypeHash:
		return &Hash{Header: hdr}
	case TypeString:
		return &String{Header: hdr}
	case TypeProc:
		return &Proc{Header: hdr}
	case TypeException:
		return &Exception{Header: hdr, class: class}
	default:
		inst := NewInstance(class, size)
		inst.Type = TypeInstance
		return inst
	}
}

// WriteBarrier records a heap-to-heap store.
func (h *GoHeap) WriteBarrier(owner Object, referent Value) {
	h.barriers.Add(1)
}

// InGC reports whether SetCollecting(true) is in effect.
func (h *GoHeap) InGC() bool {
	return h.collecting.Load()
}

// SetCollecting marks a collection as running. Used by embedders that drive
// their own collector phases, and by tests.
func (h *GoHeap) SetCollecting(on bool) {
	h.collecting.Store(on)
}

// Allocations returns the number of Allocate calls.
func (h *GoHeap) Allocations() uint64 { return h.allocations.Load() }

// Barriers returns the number of WriteBarrier calls.
func (h *GoHeap) Barriers() uint64 { return h.barriers.Load() }

// barrier calls the write barrier when v references a heap object.
func (vm *VM) barrier(owner Object, v Value) {
	if v.kind == KindObject {
		vm.heap.WriteBarrier(owner, v)
	}
}
