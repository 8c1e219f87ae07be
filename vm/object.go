package vm

// ObjectType identifies the layout of a heap object.
type ObjectType uint8

const (
	TypeInstance ObjectType = iota + 1
	TypeArray
	TypeHash
	TypeString
	TypeProc
	TypeClass
	TypeException
	TypeEnv
)

// Header is embedded at the start of every heap object.
type Header struct {
	Type  ObjectType
	Class ClassRef
}

// Hdr returns the header itself, so any struct embedding Header satisfies
// Object.
func (h *Header) Hdr() *Header { return h }

// Object is implemented by every heap-allocated value.
type Object interface {
	Hdr() *Header
}

// ---------------------------------------------------------------------------
// Instance: plain object with instance variable slots
// ---------------------------------------------------------------------------

// Instance is an ordinary object. Its ivars are indexed through the ivar
// table of its class.
type Instance struct {
	Header
	ivars []Value
}

// NewInstance creates an instance of c with n nil slots.
func NewInstance(c *Class, n int) *Instance {
	inst := &Instance{Header: Header{Type: TypeInstance, Class: c.ref}}
	if n > 0 {
		inst.ivars = make([]Value, n)
		for i := range inst.ivars {
			inst.ivars[i] = Nil
		}
	}
	return inst
}

// Slot returns the ivar at index i, or Nil if the slot was never written.
func (o *Instance) Slot(i int) Value {
	if i < 0 || i >= len(o.ivars) {
		return Nil
	}
	return o.ivars[i]
}

// SetSlot stores v at index i, growing the slot vector as needed.
func (o *Instance) SetSlot(i int, v Value) {
	if i >= len(o.ivars) {
		grown := make([]Value, i+1)
		copy(grown, o.ivars)
		for j := len(o.ivars); j < len(grown); j++ {
			grown[j] = Nil
		}
		o.ivars = grown
	}
	o.ivars[i] = v
}

// NumSlots returns the number of allocated ivar slots.
func (o *Instance) NumSlots() int { return len(o.ivars) }

// ---------------------------------------------------------------------------
// Array
// ---------------------------------------------------------------------------

// Array is a growable vector of values.
type Array struct {
	Header
	Elems []Value
}

// ---------------------------------------------------------------------------
// Hash
// ---------------------------------------------------------------------------

// Hash is an insertion-ordered map. Keys compare by identity, which for
// symbols and integers is value equality.
type Hash struct {
	Header
	keys  []Value
	vals  []Value
	index map[Value]int
}

// Len returns the number of entries.
func (h *Hash) Len() int { return len(h.keys) }

// Get returns the value stored under k.
func (h *Hash) Get(k Value) (Value, bool) {
	if i, ok := h.index[k]; ok {
		return h.vals[i], true
	}
	return Nil, false
}

// Set stores v under k, keeping the original insertion position of k.
func (h *Hash) Set(k, v Value) {
	if h.index == nil {
		h.index = make(map[Value]int)
	}
	if i, ok := h.index[k]; ok {
		h.vals[i] = v
		return
	}
	h.index[k] = len(h.keys)
	h.keys = append(h.keys, k)
	h.vals = append(h.vals, v)
}

// Each calls fn for every entry in insertion order.
func (h *Hash) Each(fn func(k, v Value)) {
	for i, k := range h.keys {
		fn(k, h.vals[i])
	}
}

// Keys returns the keys in insertion order.
func (h *Hash) Keys() []Value {
	out := make([]Value, len(h.keys))
	copy(out, h.keys)
	return out
}

// ---------------------------------------------------------------------------
// String
// ---------------------------------------------------------------------------

// String is a heap string.
type String struct {
	Header
	S string
}

// ---------------------------------------------------------------------------
// Proc
// ---------------------------------------------------------------------------

// Proc is a reified block. Lambdas bind their arguments strictly and treat
// return as local.
type Proc struct {
	Header
	Block  BlockHandler
	Lambda bool
}

// ---------------------------------------------------------------------------
// Value helpers
// ---------------------------------------------------------------------------

// AsArray returns the Array referenced by v, or nil.
func AsArray(v Value) *Array {
	a, _ := v.Object().(*Array)
	return a
}

// AsHash returns the Hash referenced by v, or nil.
func AsHash(v Value) *Hash {
	h, _ := v.Object().(*Hash)
	return h
}

// AsString returns the String referenced by v, or nil.
func AsString(v Value) *String {
	s, _ := v.Object().(*String)
	return s
}

// AsProc returns the Proc referenced by v, or nil.
func AsProc(v Value) *Proc {
	p, _ := v.Object().(*Proc)
	return p
}

// AsInstance returns the Instance referenced by v, or nil.
func AsInstance(v Value) *Instance {
	o, _ := v.Object().(*Instance)
	return o
}
