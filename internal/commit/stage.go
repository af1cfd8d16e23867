// Package commit retires Mops strictly in program order: it drains the
// oldest Mop once every uop in its flow has produced a value, drives
// completed stores through the D-cache writeback path, starts pipeline
// drain on a committed trap, and watches for a run of cycles with no
// forward progress at all (a deadlock).
package commit

import (
	"oocoresim/internal/cache"
	"oocoresim/internal/decode"
	"oocoresim/internal/exec"
	"oocoresim/internal/feeder"
	"oocoresim/internal/logging"
	"oocoresim/internal/mop"
	"oocoresim/internal/oracle"
)

// Config bundles the knobs a Stage needs at construction time.
type Config struct {
	CoreID         int
	CommitWidth    int
	DeadlockCycles mop.Tick // 0 disables the watchdog
}

// Stats counts commit-stage outcomes exercised by the test scenarios.
type Stats struct {
	NumCommitted       int64
	NumCommittedUops   int64
	NumTrapDrains      int64
	NumStoreWritebacks int64

	// FirstCommit/LastCommit bound the committing region, so callers can
	// compute a commit-window IPC that excludes cold-start fetch latency.
	FirstCommit mop.Tick
	LastCommit  mop.Tick
}

// Stage is the per-core commit (retirement) unit.
type Stage struct {
	cfg Config

	oracle *oracle.Oracle
	alloc  *decode.Allocator
	ls     *exec.LoadStore
	dcache *cache.Cache
	feeder feeder.Feeder

	cyclesSinceCommit mop.Tick

	// pendingWB holds committed stores whose D-cache write was rejected
	// (bank access port occupied); they retry in order each cycle rather
	// than being dropped.
	pendingWB []uint64

	log *logging.Logger

	Stat Stats
}

// New creates a commit Stage. dcache and feeder may be nil for a core with
// no memory traffic to retire (e.g. in isolated scheduler/decode tests).
func New(cfg Config, o *oracle.Oracle, alloc *decode.Allocator, ls *exec.LoadStore, dcache *cache.Cache, f feeder.Feeder, log *logging.Logger) *Stage {
	if cfg.CommitWidth <= 0 {
		cfg.CommitWidth = 4
	}
	return &Stage{cfg: cfg, oracle: o, alloc: alloc, ls: ls, dcache: dcache, feeder: f, log: log}
}

// readyToCommit reports whether every uop in m's flow has produced its
// result, matching the reference model's all-uops-completed gate on
// retiring the head of the ROB.
func readyToCommit(m *mop.Mop) bool {
	for i := range m.Uops {
		if !m.Uops[i].Exec.OValueValid {
			return false
		}
	}
	return true
}

// Step retries any backed-up store writebacks, then retires up to
// CommitWidth Mops this cycle, stopping at the first oldest Mop that has
// not yet fully completed, and updates the deadlock watchdog.
func (s *Stage) Step(cycle mop.Tick) {
	s.drainWritebacks()

	committed := 0
	for committed < s.cfg.CommitWidth {
		m, ok := s.oracle.GetOldestMop()
		if !ok || !readyToCommit(m) {
			break
		}
		s.commitOne(m, cycle)
		committed++
	}
	if committed == 0 {
		s.cyclesSinceCommit++
	} else {
		s.cyclesSinceCommit = 0
	}

	// A committed trap asserted drain; fetch stays blocked until every
	// younger in-flight Mop has retired, then the front end resumes.
	if s.oracle.IsDraining() && s.oracle.InFlight() == 0 {
		s.oracle.SetDraining(false)
	}
}

// Deadlocked reports whether the watchdog has seen DeadlockCycles
// consecutive cycles with zero commits, matching the reference
// simulator's emergency-recovery trigger.
func (s *Stage) Deadlocked() bool {
	return s.cfg.DeadlockCycles > 0 && s.cyclesSinceCommit >= s.cfg.DeadlockCycles
}

// ResetWatchdog restarts the no-progress counter after an emergency
// recovery, giving the replayed instructions a full threshold to make
// forward progress before the watchdog fires again.
func (s *Stage) ResetWatchdog() { s.cyclesSinceCommit = 0 }

func (s *Stage) commitOne(m *mop.Mop, cycle mop.Tick) {
	m.Timing.WhenCommitStarted = cycle
	for i := range m.Uops {
		u := &m.Uops[i]
		if u.Decode.IsLoad && s.ls != nil {
			s.ls.ReleaseLoad(u.Alloc.LDQIndex)
		}
		if u.Decode.IsSTD {
			s.writeback(u)
		}
	}

	wasTrap := m.Decode.IsTrap
	// Release structural resources before the oracle recycles the Mop's
	// uop slab; Release sizes its bookkeeping off len(m.Uops).
	if s.alloc != nil {
		s.alloc.Release(m)
	}
	uopCount := int64(len(m.Uops))
	s.oracle.Commit(m)
	m.Timing.WhenCommitFinished = cycle
	if s.Stat.NumCommitted == 0 {
		s.Stat.FirstCommit = cycle
	}
	s.Stat.LastCommit = cycle
	s.Stat.NumCommitted++
	s.Stat.NumCommittedUops += uopCount

	if wasTrap {
		s.Stat.NumTrapDrains++
		s.oracle.SetDraining(true)
	}
}

// writeback moves a committed store's address/data pair out of the STQ
// into the writeback queue. It is called once, when the STD half of the
// pair retires (both halves share the same STQ index), so a store is
// only ever queued once regardless of flow order.
func (s *Stage) writeback(std *mop.Uop) {
	if s.ls == nil {
		return
	}
	idx := std.Alloc.STQIndex
	if idx < 0 {
		return
	}
	addr, _, ok := s.ls.StoreAddr(idx)
	if !ok {
		return
	}
	if s.feeder != nil {
		addr = s.feeder.V2PTranslate(s.cfg.CoreID, addr)
	}
	s.pendingWB = append(s.pendingWB, addr)
	s.ls.ReleaseStore(idx)
	s.Stat.NumStoreWritebacks++
	s.drainWritebacks()
}

// drainWritebacks pushes queued store writebacks into the D-cache in
// program order, stopping at the first one the cache's bank port rejects.
func (s *Stage) drainWritebacks() {
	if s.dcache == nil {
		s.pendingWB = nil
		return
	}
	for len(s.pendingWB) > 0 {
		addr := s.pendingWB[0]
		if !s.dcache.Enqueue(&cache.Request{CoreID: s.cfg.CoreID, PAddr: addr, Cmd: cache.CmdWrite}) {
			return
		}
		s.pendingWB = s.pendingWB[1:]
	}
}
