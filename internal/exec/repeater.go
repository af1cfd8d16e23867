package exec

import "sync"

// Repeater is the optional cache-bypassing memory path read from
// zesto-repeater.cpp/.h: a queue of cores configured to serialize memory
// access through a software memory server instead of the normal cache
// hierarchy, used to fast-forward multi-process workloads whose memory
// footprint would otherwise thrash the simulated cache. Selected per-core
// by Knobs.Exec.RepeaterSpec; when unset, LoadStore never consults it.
type Repeater struct {
	mu     sync.Mutex
	spec   string
	lo, hi uint64
	store  map[uint64]byte

	NumAccesses int64
}

// NewRepeater builds a Repeater claiming the address range [lo, hi). spec
// is not parsed: any non-empty spec enables the range, and an empty spec
// produces a Repeater that claims nothing, equivalent to the feature being
// disabled.
func NewRepeater(spec string, lo, hi uint64) *Repeater {
	return &Repeater{spec: spec, lo: lo, hi: hi, store: make(map[uint64]byte)}
}

// Claims reports whether addr falls inside this repeater's claimed range.
func (r *Repeater) Claims(addr uint64) bool {
	if r == nil || r.spec == "" {
		return false
	}
	return addr >= r.lo && addr < r.hi
}

// Access counts one load or store served by the repeater instead of the
// cache hierarchy (the backing byte store is neither read nor written),
// returning the fixed service latency the original repeater models (a
// single round trip to the
// out-of-process memory server, modeled here as a constant since the
// server itself is out of scope for this simulator).
func (r *Repeater) Access(addr uint64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.NumAccesses++
	const repeaterLatency = 1
	return repeaterLatency
}
