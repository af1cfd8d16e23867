// Package exec implements the out-of-order execution core: a bitmap-based
// reservation-station scheduler, the load/store pipeline with
// store-to-load forwarding, the memory-dependence predictor contract, and
// the optional cache-bypassing repeater path.
package exec

import (
	"math/bits"

	"oocoresim/internal/logging"
	"oocoresim/internal/mop"
)

// maxRSBits is the bitmap width a Scheduler can track; RS sizes above this
// would need a second bitmap word, which the reference configurations
// this simulator targets never exceed.
const maxRSBits = 64

// Config parameterizes a Scheduler: its reservation-station size, port
// count, which FU classes may issue on which ports, and each class's
// execution latency and issue rate. Latency is when a result comes back;
// IssueRate is how many cycles the unit's port stays busy before it can
// accept another op — a non-pipelined divider has an issue rate near its
// latency even though port binding alone would admit one op per cycle.
type Config struct {
	RSSize      int
	NumPorts    int
	PortBinding map[mop.FUClass][]int
	Latency     map[mop.FUClass]int
	IssueRate   map[mop.FUClass]int
}

// DefaultPortBinding is a plausible six-wide port layout: three integer
// ALU ports (port 0 also taking branches, port 1 the long-latency integer
// units, port 2 the FP stack), and the three memory ports (load,
// store-address, store-data).
func DefaultPortBinding() map[mop.FUClass][]int {
	return map[mop.FUClass][]int{
		mop.FUIntALU:    {0, 1, 2},
		mop.FUIntMul:    {1},
		mop.FUIntDiv:    {1},
		mop.FUFPAdd:     {2},
		mop.FUFPMul:     {2},
		mop.FUFPDiv:     {2},
		mop.FUBranch:    {0},
		mop.FULoad:      {3},
		mop.FUStoreAddr: {4},
		mop.FUStoreData: {5},
	}
}

// DefaultLatency mirrors the FU latencies in internal/constants.
func DefaultLatency() map[mop.FUClass]int {
	return map[mop.FUClass]int{
		mop.FUIntALU: 1,
		mop.FUIntMul: 3,
		mop.FUIntDiv: 20,
		mop.FUFPAdd:  3,
		mop.FUFPMul:  5,
		mop.FUFPDiv:  15,
		mop.FUBranch: 1,
	}
}

// DefaultIssueRate gives every pipelined unit a throughput of one op per
// cycle and leaves the dividers non-pipelined: their port stays busy for
// nearly the full operation.
func DefaultIssueRate() map[mop.FUClass]int {
	return map[mop.FUClass]int{
		mop.FUIntALU:    1,
		mop.FUIntMul:    1,
		mop.FUIntDiv:    19,
		mop.FUFPAdd:     1,
		mop.FUFPMul:     1,
		mop.FUFPDiv:     14,
		mop.FUBranch:    1,
		mop.FULoad:      1,
		mop.FUStoreAddr: 1,
		mop.FUStoreData: 1,
	}
}

// rsEntry tracks one occupied reservation-station slot.
type rsEntry struct {
	u          *mop.Uop
	handle     mop.Handle
	numReplays int
}

// Stats counts scheduler-visible events exercised by the test scenarios.
type Stats struct {
	NumIssued              int64
	NumReplayed            int64
	NumTornadoDeprioritized int64
}

// Scheduler is the reservation station: ready-uop detection and
// oldest-first, port-bound issue selection, generalized from
// proto/ooo's fixed 32-entry/16-port bitmap scheduler to a configured RS
// size (capped at 64, the width of one bitmap word) and port count.
// Instead of ooo.go's two-tier critical-path/leaf priority split, a
// replayed uop (one that was selected but could not issue, e.g. a load
// held behind an older store or refused by the D-cache) is "tornado
// broken": de-prioritized behind any
// fresh, not-yet-replayed uop ready for the same port this cycle.
type Scheduler struct {
	cfg Config

	slots   [maxRSBits]rsEntry
	occupied uint64 // bit i set: slots[i] holds a live uop awaiting issue

	// portFreeAt[p] is the first cycle port p can accept another op; a
	// non-pipelined unit (issue rate > 1) holds its port busy past the
	// issue cycle even though the binding would admit one op per cycle.
	portFreeAt []mop.Tick

	resolve func(mop.Handle) (*mop.Mop, bool)

	log *logging.Logger

	Stat Stats
}

// NewScheduler creates a Scheduler. resolve is used to detect a uop whose
// owning Mop has since been squashed (freed and its arena slot reused)
// before it got a chance to issue, matching the stale-callback-safe
// pattern used throughout the cache and oracle packages.
func NewScheduler(cfg Config, resolve func(mop.Handle) (*mop.Mop, bool), log *logging.Logger) *Scheduler {
	if cfg.RSSize <= 0 || cfg.RSSize > maxRSBits {
		cfg.RSSize = maxRSBits
	}
	if cfg.NumPorts <= 0 {
		cfg.NumPorts = 1
	}
	if cfg.PortBinding == nil {
		cfg.PortBinding = DefaultPortBinding()
	}
	if cfg.Latency == nil {
		cfg.Latency = DefaultLatency()
	}
	if cfg.IssueRate == nil {
		cfg.IssueRate = DefaultIssueRate()
	}
	return &Scheduler{cfg: cfg, portFreeAt: make([]mop.Tick, cfg.NumPorts), resolve: resolve, log: log}
}

// Add occupies uop u's reservation-station slot (u.Alloc.RSIndex, assigned
// by internal/decode.Allocator). Readiness is not stored here: each
// Schedule call treats u as ready once all of its IValueValid flags are
// set, whether by install_dependencies or by a producer's completion.
func (s *Scheduler) Add(u *mop.Uop) {
	idx := u.Alloc.RSIndex
	if idx < 0 || idx >= s.cfg.RSSize {
		return
	}
	s.slots[idx] = rsEntry{u: u, handle: u.Mop.Handle()}
	s.occupied |= 1 << uint(idx)
}

// Remove clears u's reservation-station slot without issuing it, used when
// a squash (jeclear or nuke) retires the Mop before it ever got scheduled.
func (s *Scheduler) Remove(u *mop.Uop) {
	idx := u.Alloc.RSIndex
	if idx < 0 || idx >= s.cfg.RSSize {
		return
	}
	s.slots[idx] = rsEntry{}
	s.occupied &^= 1 << uint(idx)
}

// Replay re-occupies u's slot after a selected uop could not issue (the
// exec stage calls it when LoadStore.TryIssueLoad declines), incrementing
// its replay count so the tornado breaker deprioritizes it next time
// around.
func (s *Scheduler) Replay(u *mop.Uop) {
	idx := u.Alloc.RSIndex
	if idx < 0 || idx >= s.cfg.RSSize {
		return
	}
	e := &s.slots[idx]
	e.u = u
	e.handle = u.Mop.Handle()
	e.numReplays++
	s.occupied |= 1 << uint(idx)
	s.Stat.NumReplayed++
}

func (s *Scheduler) isReady(u *mop.Uop) bool {
	for i, dep := range u.Exec.IDepUop {
		if dep == nil {
			continue
		}
		if !u.Exec.IValueValid[i] {
			return false
		}
	}
	return true
}

func (s *Scheduler) isLive(e *rsEntry) bool {
	if s.resolve == nil {
		return true
	}
	m, ok := s.resolve(e.handle)
	return ok && m == e.u.Mop
}

// computeReadyBitmap scans every occupied slot, dropping squashed entries
// outright and setting a bit for every live, operand-ready uop, mirroring
// proto/ooo's ComputeReadyBitmap.
func (s *Scheduler) computeReadyBitmap() uint64 {
	var ready uint64
	bm := s.occupied
	for bm != 0 {
		i := bits.TrailingZeros64(bm)
		bm &^= 1 << uint(i)
		e := &s.slots[i]
		if !s.isLive(e) {
			s.occupied &^= 1 << uint(i)
			s.slots[i] = rsEntry{}
			continue
		}
		if s.isReady(e.u) {
			ready |= 1 << uint(i)
		}
	}
	return ready
}

// portEligible reports whether u may issue on port: a uop the allocator
// bound to a specific port issues only there; an unbound uop (tests, or a
// flow allocated before binding) falls back to its FU class's port list.
func (s *Scheduler) portEligible(u *mop.Uop, port int) bool {
	if u.Alloc.PortAssignment >= 0 {
		return u.Alloc.PortAssignment == port
	}
	for _, p := range s.cfg.PortBinding[u.Decode.FUClass] {
		if p == port {
			return true
		}
	}
	return false
}

// issueRate returns how many cycles fu's unit occupies its port per op.
func (s *Scheduler) issueRate(fu mop.FUClass) mop.Tick {
	r := s.cfg.IssueRate[fu]
	if r < 1 {
		r = 1
	}
	return mop.Tick(r)
}

// selectForPort picks the oldest ready, live, port-eligible entry, with
// the tornado breaker preferring any zero-replay entry over a replayed
// one regardless of age.
func (s *Scheduler) selectForPort(ready uint64, port int) int {
	best, bestFresh := -1, false
	var bestSeq mop.Seq
	bm := ready
	for bm != 0 {
		i := bits.TrailingZeros64(bm)
		bm &^= 1 << uint(i)
		e := &s.slots[i]
		if !s.portEligible(e.u, port) {
			continue
		}
		fresh := e.numReplays == 0
		seq := e.u.Decode.UopSeq
		switch {
		case best == -1:
			best, bestFresh, bestSeq = i, fresh, seq
		case fresh && !bestFresh:
			s.Stat.NumTornadoDeprioritized++
			best, bestFresh, bestSeq = i, fresh, seq
		case fresh == bestFresh && seq < bestSeq:
			best, bestSeq = i, seq
		}
	}
	return best
}

// Schedule picks up to NumPorts ready uops, one per free port,
// oldest-first within a port's eligible set (tornado-broken for replays),
// frees their reservation-station slots, and returns them for the caller
// to dispatch to their functional unit or load/store pipeline. A port
// whose last op came from a non-pipelined unit stays busy until that
// unit's issue rate elapses.
func (s *Scheduler) Schedule(cycle mop.Tick) []*mop.Uop {
	ready := s.computeReadyBitmap()
	if ready == 0 {
		return nil
	}

	issued := make([]*mop.Uop, 0, s.cfg.NumPorts)
	for port := 0; port < s.cfg.NumPorts; port++ {
		if s.portFreeAt[port] > cycle {
			continue
		}
		i := s.selectForPort(ready, port)
		if i == -1 {
			continue
		}
		e := &s.slots[i]
		u := e.u
		u.Timing.WhenIssued = cycle
		u.Exec.NumReplays = e.numReplays
		issued = append(issued, u)
		s.Stat.NumIssued++
		s.portFreeAt[port] = cycle + s.issueRate(u.Decode.FUClass)

		ready &^= 1 << uint(i)
		s.occupied &^= 1 << uint(i)
		s.slots[i] = rsEntry{}
	}
	return issued
}

// Reset empties the reservation station and frees every port, used on a
// full pipeline flush.
func (s *Scheduler) Reset() {
	for i := range s.slots {
		s.slots[i] = rsEntry{}
	}
	s.occupied = 0
	for p := range s.portFreeAt {
		s.portFreeAt[p] = 0
	}
}

// Latency returns the fixed functional-unit latency for fu, used by the
// Stage driving this Scheduler for non-memory FU classes.
func (s *Scheduler) Latency(fu mop.FUClass) int {
	return s.cfg.Latency[fu]
}
