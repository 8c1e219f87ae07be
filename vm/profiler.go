package vm

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Profiler is a CallHook that counts invocations per method definition.
// A method becomes hot once its count reaches HotThreshold; OnHot is then
// called once for it, typically to register an accelerator.

// MethodProfile holds profiling data for a single method.
type MethodProfile struct {
	Owner string
	Name  string
	Kind  MethodKind

	InvocationCount uint64 // Atomic counter for invocations
	Errors          uint64 // Calls that ended in an error
	CacheMisses     uint64 // Calls whose site missed its cache
	IsHot           bool   // True if threshold exceeded
}

// Profiler manages profiling for all methods in the VM.
type Profiler struct {
	vm *VM

	// Profile storage (thread-safe)
	profiles sync.Map // *MethodDef -> *MethodProfile

	// HotThreshold is the invocation count at which a method is hot.
	HotThreshold uint64

	// OnHot is called the first time a method crosses the threshold.
	OnHot func(e *MethodEntry, profile *MethodProfile)

	hotCount uint64
}

// NewProfiler creates a new profiler with the default threshold.
func NewProfiler(vm *VM) *Profiler {
	return &Profiler{vm: vm, HotThreshold: 100}
}

// BeforeCall counts the invocation.
func (p *Profiler) BeforeCall(ec *ExecContext, ev *CallEvent) {
	if ev.Method == nil {
		return
	}
	p.Record(ev.Method, ev.CacheHit)
}

// AfterCall counts failed calls.
func (p *Profiler) AfterCall(ec *ExecContext, ev *CallEvent) {
	if ev.Err == nil || ev.Method == nil {
		return
	}
	if prof := p.Profile(ev.Method); prof != nil {
		atomic.AddUint64(&prof.Errors, 1)
	}
}

// Record increments the invocation count for e. Returns true if this
// invocation caused the method to become hot.
func (p *Profiler) Record(e *MethodEntry, cacheHit bool) bool {
	val, loaded := p.profiles.Load(e.Def)
	if !loaded {
		val, _ = p.profiles.LoadOrStore(e.Def, &MethodProfile{
			Owner: p.vm.EventOwner(&CallEvent{Method: e}),
			Name:  p.vm.SymbolName(e.Name),
			Kind:  e.Def.Kind,
		})
	}
	profile := val.(*MethodProfile)

	count := atomic.AddUint64(&profile.InvocationCount, 1)
	if !cacheHit {
		atomic.AddUint64(&profile.CacheMisses, 1)
	}

	// Check if just became hot
	if !profile.IsHot && count >= p.HotThreshold {
		profile.IsHot = true
		atomic.AddUint64(&p.hotCount, 1)

		if p.OnHot != nil {
			p.OnHot(e, profile)
		}
		return true
	}
	return false
}

// Profile returns the profile for e, or nil if not tracked.
func (p *Profiler) Profile(e *MethodEntry) *MethodProfile {
	if val, ok := p.profiles.Load(e.Def); ok {
		return val.(*MethodProfile)
	}
	return nil
}

// IsHot returns true if e has exceeded the hot threshold.
func (p *Profiler) IsHot(e *MethodEntry) bool {
	profile := p.Profile(e)
	return profile != nil && profile.IsHot
}

// ProfilerStats holds aggregate profiling statistics.
type ProfilerStats struct {
	TotalMethods     int    // Number of methods profiled
	HotMethods       int    // Number of hot methods
	TotalInvocations uint64 // Total invocations
	CacheMisses      uint64 // Invocations through a missed cache
	Errors           uint64 // Invocations that failed
}

// Stats returns aggregate profiling statistics.
func (p *Profiler) Stats() ProfilerStats {
	var stats ProfilerStats
	p.profiles.Range(func(key, value any) bool {
		profile := value.(*MethodProfile)
		stats.TotalMethods++
		stats.TotalInvocations += atomic.LoadUint64(&profile.InvocationCount)
		stats.CacheMisses += atomic.LoadUint64(&profile.CacheMisses)
		stats.Errors += atomic.LoadUint64(&profile.Errors)
		if profile.IsHot {
			stats.HotMethods++
		}
		return true
	})
	return stats
}

// Top returns up to n profiles ordered by invocation count, highest first.
func (p *Profiler) Top(n int) []MethodProfile {
	var all []MethodProfile
	p.profiles.Range(func(key, value any) bool {
		profile := value.(*MethodProfile)
		cp := *profile
		cp.InvocationCount = atomic.LoadUint64(&profile.InvocationCount)
		all = append(all, cp)
		return true
	})
	sort.Slice(all, func(i, j int) bool {
		if all[i].InvocationCount != all[j].InvocationCount {
			return all[i].InvocationCount > all[j].InvocationCount
		}
		return all[i].Owner+"#"+all[i].Name < all[j].Owner+"#"+all[j].Name
	})
	if n >= 0 && len(all) > n {
		all = all[:n]
	}
	return all
}

// Reset clears all profiling data.
func (p *Profiler) Reset() {
	p.profiles.Range(func(key, value any) bool {
		p.profiles.Delete(key)
		return true
	})
	atomic.StoreUint64(&p.hotCount, 0)
}
