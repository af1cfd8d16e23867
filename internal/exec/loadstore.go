package exec

import (
	"oocoresim/internal/cache"
	"oocoresim/internal/feeder"
	"oocoresim/internal/logging"
	"oocoresim/internal/mop"
)

// LSConfig parameterizes a LoadStore pipeline.
type LSConfig struct {
	CoreID  int
	STQSize int
	LDQSize int
}

// stqEntry is one in-flight store's address/data state, indexed by
// u.Alloc.STQIndex the way Scheduler indexes reservation-station slots by
// u.Alloc.RSIndex.
type stqEntry struct {
	uopSeq    mop.Seq
	addr      uint64
	size      int
	addrValid bool
	dataValid bool
}

// ldqEntry tracks one in-flight load's address state, indexed by
// u.Alloc.LDQIndex, so a later-resolving older store can detect that the
// load already executed with a value the store invalidates.
type ldqEntry struct {
	uopSeq   mop.Seq
	addr     uint64
	size     int
	pc       uint64
	executed bool
}

// pendingLoad is a load whose D-cache access has been submitted but not
// yet returned. actionID is the stamp the load's uop carried at issue;
// the uop's live Exec.ActionID moving past it marks the access stale.
type pendingLoad struct {
	u        *mop.Uop
	actionID mop.Seq
	done     bool
}

// LSStats counts load/store-pipeline outcomes exercised by the test
// scenarios.
type LSStats struct {
	NumLoadsForwarded  int64
	NumLoadsToCache    int64
	NumStoresIssued    int64
	NumMemOrderStall   int64
	NumSquashReplays   int64
	NumOrderViolations int64
}

// LoadStore implements the load/store pipeline: TLB lookup, D-cache access,
// store-to-load forwarding against the STQ, and the memory-dependence
// predictor gate on loads with an address-unresolved older store.
type LoadStore struct {
	cfg    LSConfig
	dcache *cache.Cache
	feeder feeder.Feeder
	memdep MemDepPredictor
	rep    *Repeater

	stores [maxRSBits]stqEntry
	stored [maxRSBits]bool

	loads  [maxRSBits]ldqEntry
	loaded [maxRSBits]bool

	pending []*pendingLoad

	actionSeq mop.Seq

	// nukePending is set when a late-resolving store address exposes a
	// younger load that already executed with a stale value; the core's
	// per-cycle driver consumes it via TakeNuke and triggers the oracle's
	// shadow-replay recovery.
	nukePending bool

	log *logging.Logger

	Stat LSStats
}

// NewLoadStore creates a LoadStore pipeline backed by dcache for the
// normal access path and, if rep is non-nil, rep for addresses it claims
// instead (the repeater bypass described in spec's supplemented
// features).
func NewLoadStore(cfg LSConfig, dcache *cache.Cache, f feeder.Feeder, memdep MemDepPredictor, rep *Repeater, log *logging.Logger) *LoadStore {
	if memdep == nil {
		memdep = NeverStall{}
	}
	return &LoadStore{cfg: cfg, dcache: dcache, feeder: f, memdep: memdep, rep: rep, log: log}
}

func overlaps(addrA uint64, sizeA int, addrB uint64, sizeB int) bool {
	if sizeA <= 0 {
		sizeA = 1
	}
	if sizeB <= 0 {
		sizeB = 1
	}
	endA := addrA + uint64(sizeA)
	endB := addrB + uint64(sizeB)
	return addrA < endB && addrB < endA
}

// AllocStore registers a store's STQ slot at allocation time, before its
// address is known, so younger loads see it as an address-unresolved older
// store and consult the memory-dependence predictor instead of silently
// racing past it.
func (ls *LoadStore) AllocStore(stqIndex int, uopSeq mop.Seq) {
	if stqIndex < 0 || stqIndex >= maxRSBits {
		return
	}
	ls.stores[stqIndex] = stqEntry{uopSeq: uopSeq}
	ls.stored[stqIndex] = true
}

// ExecuteStoreAddr records a just-computed store address, called once the
// STA uop issues from the scheduler. A younger load that already executed
// against an overlapping address consumed a value this store invalidates:
// that is the load/store-ordering violation, surfaced to the core as a
// pending nuke.
func (ls *LoadStore) ExecuteStoreAddr(u *mop.Uop) {
	idx := u.Alloc.STQIndex
	if idx < 0 || idx >= maxRSBits {
		return
	}
	ls.stores[idx].uopSeq = u.Decode.UopSeq
	ls.stores[idx].addr = u.Oracle.VirtAddr
	ls.stores[idx].size = u.Decode.MemSize
	ls.stores[idx].addrValid = true
	ls.stored[idx] = true

	for i := range ls.loads {
		if !ls.loaded[i] || !ls.loads[i].executed {
			continue
		}
		ld := &ls.loads[i]
		if ld.uopSeq > u.Decode.UopSeq && overlaps(u.Oracle.VirtAddr, u.Decode.MemSize, ld.addr, ld.size) {
			ls.nukePending = true
			ls.Stat.NumOrderViolations++
			ls.memdep.TrainByPC(ld.pc, true)
		}
	}
}

// ExecuteStoreData marks a store's data operand as resolved, called once
// its STD uop issues from the scheduler.
func (ls *LoadStore) ExecuteStoreData(u *mop.Uop) {
	idx := u.Alloc.STQIndex
	if idx < 0 || idx >= maxRSBits {
		return
	}
	ls.stores[idx].dataValid = true
	ls.stored[idx] = true
}

// ReleaseStore frees a store's STQ bookkeeping once internal/commit has
// drained it to the D-cache.
func (ls *LoadStore) ReleaseStore(stqIndex int) {
	if stqIndex < 0 || stqIndex >= maxRSBits {
		return
	}
	ls.stores[stqIndex] = stqEntry{}
	ls.stored[stqIndex] = false
}

// StoreAddr reports the address/size a store computed, for internal/commit
// to issue the writeback against the D-cache.
func (ls *LoadStore) StoreAddr(stqIndex int) (addr uint64, size int, ok bool) {
	if stqIndex < 0 || stqIndex >= maxRSBits || !ls.stored[stqIndex] {
		return 0, 0, false
	}
	e := &ls.stores[stqIndex]
	return e.addr, e.size, e.addrValid && e.dataValid
}

// forward searches the STQ for the most recent store older than ld (by
// uop sequence number) whose address range overlaps ld's, matching the
// "most recent prior write to this address wins" rule of the speculative
// byte store internal/oracle.SpecMem implements at the functional level.
func (ls *LoadStore) forward(ld *mop.Uop) (e *stqEntry, unresolvedOlder bool) {
	addr, size := ld.Oracle.VirtAddr, ld.Decode.MemSize
	var best *stqEntry
	for i := range ls.stores {
		if !ls.stored[i] {
			continue
		}
		s := &ls.stores[i]
		if s.uopSeq >= ld.Decode.UopSeq {
			continue
		}
		if !s.addrValid {
			unresolvedOlder = true
			continue
		}
		if !overlaps(s.addr, s.size, addr, size) {
			continue
		}
		if best == nil || s.uopSeq > best.uopSeq {
			best = s
		}
	}
	return best, unresolvedOlder
}

// TryIssueLoad attempts to issue a load uop the Scheduler selected this
// cycle. It returns true once the load is underway (forwarded immediately,
// dispatched to the D-cache, or claimed by the repeater); false tells the
// caller to Replay it back into the scheduler for a later attempt, either
// because an address-unresolved older store must be waited on or because
// the D-cache had no room to accept the access.
func (ls *LoadStore) TryIssueLoad(u *mop.Uop, cycle mop.Tick) bool {
	if idx := u.Alloc.LDQIndex; idx >= 0 && idx < maxRSBits {
		ls.loads[idx] = ldqEntry{
			uopSeq: u.Decode.UopSeq,
			addr:   u.Oracle.VirtAddr,
			size:   u.Decode.MemSize,
			pc:     u.Mop.Fetch.PC,
		}
		ls.loaded[idx] = true
	}
	best, unresolvedOlder := ls.forward(u)
	if best != nil {
		if !best.dataValid {
			ls.Stat.NumMemOrderStall++
			return false
		}
		ls.Stat.NumLoadsForwarded++
		u.Exec.WhenDataLoaded = cycle
		ls.complete(u, cycle)
		return true
	}
	if unresolvedOlder && ls.memdep.ShouldStall(u) {
		ls.Stat.NumMemOrderStall++
		return false
	}

	if ls.rep != nil && ls.rep.Claims(u.Oracle.VirtAddr) {
		ls.rep.Access(u.Oracle.VirtAddr)
		ls.complete(u, cycle)
		return true
	}

	paddr := u.Oracle.VirtAddr
	if ls.feeder != nil {
		paddr = ls.feeder.V2PTranslate(ls.cfg.CoreID, u.Oracle.VirtAddr)
	}
	u.Oracle.PhysAddr = paddr

	ls.actionSeq++
	actionID := ls.actionSeq
	u.Exec.ActionID = actionID
	pf := &pendingLoad{u: u, actionID: actionID}
	req := &cache.Request{
		CoreID:   ls.cfg.CoreID,
		Op:       u.Mop.Handle(),
		PAddr:    paddr,
		Cmd:      cache.CmdRead,
		ActionID: actionID,
		// The uop's ActionID is bumped on every squash; a response whose
		// stamp no longer matches is dropped at the cache.
		GetActionID: func(mop.Handle) mop.Seq { return pf.u.Exec.ActionID },
	}
	req.Callback = func(*cache.Request) { pf.done = true }
	if ls.dcache == nil || !ls.dcache.Enqueue(req) {
		return false
	}
	// The load's value is now coming from the cache regardless of what any
	// still-unresolved older store later writes: from here on it is a
	// nukeable ordering-violation victim.
	if idx := u.Alloc.LDQIndex; idx >= 0 && idx < maxRSBits {
		ls.loads[idx].executed = true
	}
	ls.pending = append(ls.pending, pf)
	ls.Stat.NumLoadsToCache++
	return true
}

func (ls *LoadStore) complete(u *mop.Uop, cycle mop.Tick) {
	if idx := u.Alloc.LDQIndex; idx >= 0 && idx < maxRSBits && ls.loaded[idx] {
		ls.loads[idx].executed = true
	}
	u.Timing.WhenCompleted = cycle
	u.Exec.OValueValid = true
	u.EachODep(func(consumer *mop.Uop, opNum int, aflags bool) {
		consumer.Exec.IValueValid[opNum] = true
		consumer.Timing.WhenIValReady[opNum] = cycle
	})
}

// TakeNuke reports and clears the pending ordering-violation flag. The
// core's per-cycle driver calls it after stepping exec; a true return
// obligates the caller to flush the pipeline and start the oracle's
// shadow replay.
func (ls *LoadStore) TakeNuke() bool {
	n := ls.nukePending
	ls.nukePending = false
	return n
}

// ReleaseLoad frees a load's LDQ bookkeeping once its Mop retires, so a
// committed load can never be mistaken for an ordering-violation victim by
// a later store.
func (ls *LoadStore) ReleaseLoad(ldqIndex int) {
	if ldqIndex < 0 || ldqIndex >= maxRSBits {
		return
	}
	ls.loads[ldqIndex] = ldqEntry{}
	ls.loaded[ldqIndex] = false
}

// FlushAll clears every STQ/LDQ entry and squashes in-flight D-cache
// accesses, used on a pipeline flush (nuke or emergency recovery). Each
// outstanding load's uop has its ActionID bumped so the request's
// action_id check fails at response time and its callback is dropped
// instead of completing a uop that no longer exists.
func (ls *LoadStore) FlushAll() {
	for i := range ls.stores {
		ls.stores[i] = stqEntry{}
		ls.stored[i] = false
		ls.loads[i] = ldqEntry{}
		ls.loaded[i] = false
	}
	for _, pf := range ls.pending {
		pf.u.Exec.ActionID++
		ls.Stat.NumSquashReplays++
	}
	ls.pending = nil
	ls.nukePending = false
}

// Step drains D-cache completions for in-flight loads, broadcasting their
// result to dependents the same way Scheduler's caller does for ALU/FP
// completions.
func (ls *LoadStore) Step(cycle mop.Tick) {
	i := 0
	for i < len(ls.pending) {
		pf := ls.pending[i]
		if !pf.done {
			i++
			continue
		}
		ls.complete(pf.u, cycle)
		ls.pending = append(ls.pending[:i], ls.pending[i+1:]...)
	}
}
