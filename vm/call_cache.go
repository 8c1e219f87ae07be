package vm

// Call caches
//
// Every call site owns one CallCache. A cache holds a single resolved
// method entry plus a short most-recently-used history of receiver class
// serials that resolved to it, so a site whose receivers are several
// subclasses sharing one inherited method stays a hit.
//
// A cached entry is valid while the global method generation is unchanged,
// the entry handle still resolves and its definition serial matches. Any
// definition, removal, alias, visibility change, include, prepend or
// refinement activation bumps the generation.

// CacheHistorySize is the number of class serials a cache remembers.
const CacheHistorySize = 4

// CacheState describes how many receiver classes a cache has seen.
type CacheState uint8

const (
	CacheEmpty       CacheState = iota // No cached lookup yet
	CacheMonomorphic                   // One class serial
	CachePolymorphic                   // 2..CacheHistorySize serials, same method
)

func (s CacheState) String() string {
	switch s {
	case CacheMonomorphic:
		return "mono"
	case CachePolymorphic:
		return "poly"
	default:
		return "empty"
	}
}

// HandlerFamily is the kind of specialized handler chosen on a miss.
type HandlerFamily uint8

const (
	FamilyNone HandlerFamily = iota
	FamilyISeq
	FamilyAccel
	FamilyNative
	FamilyAttrReader
	FamilyAttrWriter
	FamilyAlias
	FamilyOptimized
	FamilyRefined
	FamilyMissing
)

var familyNames = [...]string{
	FamilyNone:       "none",
	FamilyISeq:       "iseq",
	FamilyAccel:      "accel",
	FamilyNative:     "native",
	FamilyAttrReader: "attr_reader",
	FamilyAttrWriter: "attr_writer",
	FamilyAlias:      "alias",
	FamilyOptimized:  "optimized",
	FamilyRefined:    "refined",
	FamilyMissing:    "method_missing",
}

func (f HandlerFamily) String() string {
	if int(f) < len(familyNames) {
		return familyNames[f]
	}
	return "unknown"
}

// handlerFunc performs a call once the method entry is known. It returns
// Undef when it pushed a bytecode frame for the interpreter to run.
type handlerFunc func(ec *ExecContext, ci *CallInfo, cc *CallCache, calling *Calling, me *MethodEntry) (Value, error)

// CallCache is the mutable per-site cache.
type CallCache struct {
	ref       MethodRef
	entry     *MethodEntry
	defSerial uint64
	methodGen uint64

	serials [CacheHistorySize]uint64
	count   int

	family   HandlerFamily
	handler  handlerFunc
	fastBind bool
	// protected entries re-check the caller's self on every hit.
	protected bool
	// superFrom is the defining class a super site resolved from.
	superFrom ClassRef
	// missReason is passed to method_missing by FamilyMissing sites.
	missReason MissingReason

	// accessor slot cache
	attrClass ClassRef
	attrIndex int

	Hits   uint64
	Misses uint64
}

// hit reports whether the cache is valid for a receiver of the given class
// serial, promoting the serial to the front of the history.
func (cc *CallCache) hit(vm *VM, serial uint64) bool {
	if cc.entry == nil || cc.methodGen != vm.methodGen.Load() {
		return false
	}
	if !vm.methods.Valid(cc.ref) || cc.entry.Serial != cc.defSerial {
		return false
	}
	for i := 0; i < cc.count; i++ {
		if cc.serials[i] == serial {
			if i > 0 {
				copy(cc.serials[1:i+1], cc.serials[:i])
				cc.serials[0] = serial
			}
			return true
		}
	}
	return false
}

// record stores the result of a miss. The history survives only when the
// same entry is re-resolved within the same generation.
func (cc *CallCache) record(e *MethodEntry, serial, gen uint64, family HandlerFamily, h handlerFunc) {
	if cc.entry != e || cc.methodGen != gen || !cc.sameRef(e) {
		cc.count = 0
		cc.attrClass = ClassRef{}
	}
	cc.entry = e
	cc.ref = e.ref
	cc.defSerial = e.Serial
	cc.methodGen = gen
	cc.family = family
	cc.handler = h

	n := cc.count
	if n == CacheHistorySize {
		n--
	}
	copy(cc.serials[1:n+1], cc.serials[:n])
	cc.serials[0] = serial
	cc.count = n + 1
}

func (cc *CallCache) sameRef(e *MethodEntry) bool {
	return cc.ref == e.ref
}

// Entry returns the cached method entry, or nil.
func (cc *CallCache) Entry() *MethodEntry { return cc.entry }

// Family returns the handler family chosen on the last miss.
func (cc *CallCache) Family() HandlerFamily { return cc.family }

// FastBind reports whether the site uses the fast argument binder.
func (cc *CallCache) FastBind() bool { return cc.fastBind }

// History returns the remembered class serials, most recent first.
func (cc *CallCache) History() []uint64 {
	out := make([]uint64, cc.count)
	copy(out, cc.serials[:cc.count])
	return out
}

// State reports how many receiver classes the cache covers.
func (cc *CallCache) State() CacheState {
	switch {
	case cc.entry == nil || cc.count == 0:
		return CacheEmpty
	case cc.count == 1:
		return CacheMonomorphic
	default:
		return CachePolymorphic
	}
}

// HitRate returns the cache hit rate as a percentage (0-100).
func (cc *CallCache) HitRate() float64 {
	total := cc.Hits + cc.Misses
	if total == 0 {
		return 0
	}
	return float64(cc.Hits) * 100 / float64(total)
}

// Reset clears the cache back to empty state.
func (cc *CallCache) Reset() {
	*cc = CallCache{}
}

// ---------------------------------------------------------------------------
// Statistics
// ---------------------------------------------------------------------------

// CacheStats holds aggregate call cache statistics.
type CacheStats struct {
	CallSites       int     // Total number of call sites
	Empty           int     // Call sites never filled
	Monomorphic     int     // Call sites with one class serial
	Polymorphic     int     // Call sites with several class serials
	Hits            uint64  // Total cache hits
	Misses          uint64  // Total cache misses
	HitRate         float64 // Overall hit rate percentage
	MonomorphicRate float64 // Percentage of used call sites that are monomorphic
	Families        map[HandlerFamily]int
}

// CollectCacheStats gathers statistics from the call caches of the given
// instruction sequences and all their children.
func CollectCacheStats(iseqs ...*ISeq) CacheStats {
	stats := CacheStats{Families: make(map[HandlerFamily]int)}
	for _, iseq := range iseqs {
		collectFromISeq(iseq, &stats)
	}

	total := stats.Hits + stats.Misses
	if total > 0 {
		stats.HitRate = float64(stats.Hits) * 100 / float64(total)
	}
	used := stats.CallSites - stats.Empty
	if used > 0 {
		stats.MonomorphicRate = float64(stats.Monomorphic) * 100 / float64(used)
	}
	return stats
}

func collectFromISeq(iseq *ISeq, stats *CacheStats) {
	for i := range iseq.caches {
		cc := &iseq.caches[i]
		stats.CallSites++
		switch cc.State() {
		case CacheEmpty:
			stats.Empty++
		case CacheMonomorphic:
			stats.Monomorphic++
		case CachePolymorphic:
			stats.Polymorphic++
		}
		if cc.family != FamilyNone {
			stats.Families[cc.family]++
		}
		stats.Hits += cc.Hits
		stats.Misses += cc.Misses
	}
	for _, child := range iseq.Children {
		collectFromISeq(child, stats)
	}
}
