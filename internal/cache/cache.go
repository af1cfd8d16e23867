// Package cache implements the N-way set-associative cache hierarchy level:
// banked pipelined access and fill, an MSHR/writeback pool with coalescing,
// a prefetch FIFO/buffer/filter, six replacement policies, and a pluggable
// coherence controller. One Cache value models one level (IL1, DL1, DL2, or
// the shared LLC); internal/uncore wires several together.
package cache

import (
	"container/heap"
	"sync"

	"oocoresim/internal/mop"
)

// Command mirrors enum cache_command.
type Command int

const (
	CmdNop Command = iota
	CmdRead
	CmdWrite
	CmdWriteback
	CmdPrefetch
	CmdWait
	CmdSignal
)

// AllocPolicy mirrors enum alloc_policy_t.
type AllocPolicy int

const (
	WriteAlloc AllocPolicy = iota
	NoWriteAlloc
)

// WritePolicy mirrors enum write_policy_t.
type WritePolicy int

const (
	WriteThrough WritePolicy = iota
	WriteBack
)

// Line is one cache-line slot, mirroring cache_line_t.
type Line struct {
	Tag    uint64
	CoreID int
	Way    int
	Meta   uint64 // replacement-policy metadata word (tree-PLRU bits / clock pointer / LRU recency)

	Valid          bool
	Dirty          bool
	Victim         bool
	Prefetched     bool
	PrefetchUsed   bool
}

// Request is one in-flight cache access, mirroring cache_action_t. Op is the
// arena handle of the requesting uop (or a synthetic IFQ-entry handle for
// fetch-side requests), letting a stale request be recognized via
// GetActionID the same way the reference model does.
type Request struct {
	CoreID   int
	Op       mop.Handle
	ActionID mop.Seq
	PC       uint64
	PAddr    uint64
	Type     MSHRType
	Cmd      Command

	MissCBInvoked bool

	Callback           func(r *Request)
	MissCallback       func(r *Request, expectedLatency int)
	TranslatedCallback func(r *Request) bool
	GetActionID        func(op mop.Handle) mop.Seq

	WhenEnqueued mop.Tick
	WhenStarted  mop.Tick
	WhenReturned mop.Tick
	PipeExitTime mop.Tick

	MSHRLink   *Request
	MSHRLinked bool

	PrefetcherHint bool

	// lineTag is the block-aligned tag for PAddr, set by Cache.Enqueue so
	// MSHR coalescing compares at line granularity rather than exact byte
	// address.
	lineTag uint64
}

// Stale reports whether r's action_id no longer matches the current
// action_id of its originating uop, the cache-level half of the
// stale-callback suppression invariant.
func (r *Request) Stale() bool {
	if r.GetActionID == nil {
		return false
	}
	return r.GetActionID(r.Op) != r.ActionID
}

// Controller is the pluggable coherence hook gating fills and writebacks.
// The default AlwaysGrant implementation never denies a request, matching
// the reference model's narrow coherence stub.
type Controller interface {
	GrantShare(addr uint64, coreID int) bool
	GrantExclusive(addr uint64, coreID int) bool
}

// AlwaysGrant is the default Controller: every share/exclusive request is
// granted immediately.
type AlwaysGrant struct{}

func (AlwaysGrant) GrantShare(addr uint64, coreID int) bool     { return true }
func (AlwaysGrant) GrantExclusive(addr uint64, coreID int) bool { return true }

// Config parameterizes one cache level.
type Config struct {
	Name       string
	CoreID     int // -1 for a shared (no-core-owner) cache such as the LLC
	Sets       int
	Assoc      int
	LineSize   int
	Banks      int
	Latency    int
	Policy     ReplacementPolicy
	Alloc      AllocPolicy
	Write      WritePolicy

	// MSHRSize/MSHRWBSize are per bank, matching the reference model's
	// MSHR[bank][] layout.
	MSHRSize   int
	MSHRWBSize int

	// MSHRCmdOrder is the optional per-command dispatch priority string
	// (e.g. "RPWB"); empty leaves each bank's pool on its default "RPWB"
	// order. Dispatch is always grouped by command in that order, and
	// within one command by MSHR slot index; it is not first-come
	// first-served by enqueue time.
	MSHRCmdOrder string

	Controller Controller

	PrefetchFIFOSize int
	PrefetchBufSize  int
}

// pipeEntry is one in-flight access or fill request parked on a bank's
// min-heap, ordered by PipeExitTime — the Go analog of the reference
// model's access-pipe/fill-pipe arrays, implemented with container/heap
// instead of a fixed-depth shift register since Go gives us a priority
// queue for free and the timing behavior (FIFO within a bank, ready when
// PipeExitTime <= now) is identical either way.
type pipeEntry struct {
	exitAt mop.Tick
	seq    uint64 // insertion order; ties on exitAt resolve FIFO
	req    *Request
	isFill bool
	fill   fillEntry
}

type fillEntry struct {
	cmd Command
}

type bankHeap []*pipeEntry

func (h bankHeap) Len() int { return len(h) }
func (h bankHeap) Less(i, j int) bool {
	if h[i].exitAt != h[j].exitAt {
		return h[i].exitAt < h[j].exitAt
	}
	return h[i].seq < h[j].seq
}
func (h bankHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *bankHeap) Push(x any)         { *h = append(*h, x.(*pipeEntry)) }
func (h *bankHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Cache is one level of the hierarchy: sets x assoc line storage, banked
// access/fill pipelines, and a per-bank MSHR pool.
type Cache struct {
	cfg Config

	sets [][]Line

	accessPipes []bankHeap // one heap per bank
	fillPipes   []bankHeap

	// pipeNum counts entries occupying each bank's access pipe; a bank
	// whose pipe already holds Latency entries rejects new admissions,
	// matching cache_enqueuable's pipe_num[bank] < latency gate.
	pipeNum []int

	mshrs []*mshrPool // one pool per bank, matching MSHR[bank][]

	// startPoint is the round-robin start bank, rotated once per Process
	// so no bank is structurally favored by the sub-step walk order.
	startPoint int

	pipeSeq uint64

	prefetch *prefetchState

	// upstream hands a dispatched miss or writeback request to the next
	// level of the hierarchy (internal/bus.Bus in internal/uncore's
	// wiring), returning false if the next level has no room to accept it
	// yet (the request stays queued and is retried on a later cycle).
	upstream func(req *Request) bool

	// sharedLock guards sets, mshrs, and the pipe/fill heaps against
	// concurrent access from the owning core's goroutine and any peer
	// cache level driving fills/writebacks into this one.
	sharedLock sync.Mutex

	Cycle mop.Tick

	Stat Stats
}

// Stats mirrors the subset of cache_t::stat exercised by the testable
// properties in spec §8.
type Stats struct {
	LoadLookups, LoadMisses     int64
	StoreLookups, StoreMisses   int64
	WritebackLookups, WritebackMisses int64
	PrefetchLookups, PrefetchMisses  int64
	MSHROccupancy, MSHRFullCycles    int64
	MSHRCombos                       int64
}

// New builds a Cache from cfg.
func New(cfg Config) *Cache {
	if cfg.Controller == nil {
		cfg.Controller = AlwaysGrant{}
	}
	if cfg.Banks <= 0 {
		cfg.Banks = 1
	}
	c := &Cache{
		cfg:         cfg,
		sets:        make([][]Line, cfg.Sets),
		accessPipes: make([]bankHeap, cfg.Banks),
		fillPipes:   make([]bankHeap, cfg.Banks),
		pipeNum:     make([]int, cfg.Banks),
		mshrs:       make([]*mshrPool, cfg.Banks),
		prefetch:    newPrefetchState(cfg.PrefetchFIFOSize, cfg.PrefetchBufSize),
	}
	for b := range c.mshrs {
		c.mshrs[b] = newMSHRPool(cfg.MSHRSize, cfg.MSHRWBSize)
		if cfg.MSHRCmdOrder != "" {
			c.mshrs[b].cmdOrder = ParseMSHRCommandOrder(cfg.MSHRCmdOrder)
		}
	}
	for i := range c.sets {
		line := make([]Line, cfg.Assoc)
		for w := range line {
			line[w].Way = w
		}
		c.sets[i] = line
	}
	return c
}

func (c *Cache) lock()   { c.sharedLock.Lock() }
func (c *Cache) unlock() { c.sharedLock.Unlock() }

func (c *Cache) setIndex(addr uint64) int {
	lineAddr := addr / uint64(c.cfg.LineSize)
	return int(lineAddr % uint64(c.cfg.Sets))
}

func (c *Cache) tag(addr uint64) uint64 {
	return addr / uint64(c.cfg.LineSize) / uint64(c.cfg.Sets)
}

func (c *Cache) bank(addr uint64) int {
	if c.cfg.Banks == 1 {
		return 0
	}
	lineAddr := addr / uint64(c.cfg.LineSize)
	return int(lineAddr % uint64(c.cfg.Banks))
}

// pipeDepth is the number of access-pipe slots per bank: one per cycle of
// access latency, as in the reference model's pipe arrays.
func (c *Cache) pipeDepth() int {
	if c.cfg.Latency < 1 {
		return 1
	}
	return c.cfg.Latency
}

// IsHit looks up addr, returning the matching line if present, matching
// cache_is_hit. CACHE_WRITEBACK never updates replacement-policy state
// (the caller still gets told whether the line is present), matching the
// distinction named in the reference model's header comment.
func (c *Cache) IsHit(cmd Command, addr uint64, coreID int) (*Line, bool) {
	c.lock()
	defer c.unlock()
	return c.isHitLocked(cmd, addr)
}

// isHitLocked is IsHit's body, callable from the pipe step while
// c.sharedLock is already held.
func (c *Cache) isHitLocked(cmd Command, addr uint64) (*Line, bool) {
	set := c.sets[c.setIndex(addr)]
	tag := c.tag(addr)
	for i := range set {
		if set[i].Valid && set[i].Tag == tag {
			if cmd != CmdWriteback {
				c.cfg.Policy.OnAccess(set, i)
			}
			return &set[i], true
		}
	}
	return nil, false
}

// GetEvictee selects the victim line for a new insertion at addr, matching
// cache_get_evictee: an invalid line if one exists in the set, else the
// replacement policy's choice.
func (c *Cache) GetEvictee(addr uint64, coreID int) *Line {
	set := c.sets[c.setIndex(addr)]
	for i := range set {
		if !set[i].Valid {
			return &set[i]
		}
	}
	return &set[c.cfg.Policy.Victim(set)]
}

// InsertBlock installs addr into the cache, evicting via GetEvictee if
// necessary, matching cache_insert_block. It returns the evicted line's
// prior tag/dirty state so the caller can schedule a writeback if needed.
func (c *Cache) InsertBlock(cmd Command, addr uint64, coreID int) (evictedTag uint64, wasDirty, wasValid bool) {
	c.lock()
	defer c.unlock()
	return c.insertBlockLocked(cmd, addr, coreID)
}

func (c *Cache) insertBlockLocked(cmd Command, addr uint64, coreID int) (evictedTag uint64, wasDirty, wasValid bool) {
	return c.fillVictimLocked(c.GetEvictee(addr, coreID), cmd, addr, coreID)
}

// fillVictimLocked installs addr into an already-selected victim line, so
// the fill path can pick the victim once, write back its dirty contents,
// and then fill the same way without re-consulting the replacement policy.
func (c *Cache) fillVictimLocked(victim *Line, cmd Command, addr uint64, coreID int) (evictedTag uint64, wasDirty, wasValid bool) {
	evictedTag, wasDirty, wasValid = victim.Tag, victim.Dirty, victim.Valid

	victim.Tag = c.tag(addr)
	victim.CoreID = coreID
	victim.Valid = true
	victim.Dirty = cmd == CmdWrite
	victim.Prefetched = cmd == CmdPrefetch
	victim.PrefetchUsed = false
	victim.Victim = false

	c.cfg.Policy.OnInsert(c.sets[c.setIndex(addr)], victim.Way)
	return evictedTag, wasDirty, wasValid
}

// Enqueueable reports whether addr's bank can currently accept a new
// request: its access pipe has a free slot, matching cache_enqueuable's
// pipe_num[bank] < latency gate.
func (c *Cache) Enqueueable(addr uint64) bool {
	c.lock()
	defer c.unlock()
	return c.pipeNum[c.bank(addr)] < c.pipeDepth()
}

// Enqueue submits a new request into the bank's access pipe, rejecting it
// if the pipe is full. A writeback bypasses the access pipe and goes
// straight to the bank's writeback-MSHR pool (the WB buffer has its own
// port), matching cache_enqueuable_writeback being a separate gate in the
// reference model. Hit/miss is decided at pipe exit, in the pipe step.
func (c *Cache) Enqueue(req *Request) bool {
	c.lock()
	defer c.unlock()

	req.WhenEnqueued = c.Cycle
	req.lineTag = c.tag(req.PAddr)
	b := c.bank(req.PAddr)

	if req.Cmd == CmdWriteback {
		c.Stat.WritebackLookups++
		if _, combined := c.mshrs[b].coalesce(req.lineTag, req); combined {
			c.Stat.MSHRCombos++
			return true
		}
		if !c.mshrs[b].insert(req.lineTag, req) {
			return false
		}
		c.Stat.WritebackMisses++
		return true
	}

	if c.pipeNum[b] >= c.pipeDepth() {
		return false
	}
	switch req.Cmd {
	case CmdRead:
		c.Stat.LoadLookups++
	case CmdWrite:
		c.Stat.StoreLookups++
	case CmdPrefetch:
		c.Stat.PrefetchLookups++
	}
	c.schedulePipe(req, c.cfg.Latency)
	return true
}

// generatePrefetchLocked queues a next-line prefetch hint on a demand
// miss, gated by the recent-address buffer and the duplicate filter so the
// FIFO holds only addresses not already on their way in.
func (c *Cache) generatePrefetchLocked(pc, addr uint64) {
	if c.cfg.PrefetchFIFOSize <= 0 {
		return
	}
	next := (addr/uint64(c.cfg.LineSize) + 1) * uint64(c.cfg.LineSize)
	if c.prefetch.InBuffer(next) || c.prefetch.FilterSeen(next) {
		return
	}
	if c.prefetch.Enqueue(pc, next) {
		c.prefetch.RecordBuffer(next)
		c.prefetch.FilterMark(next)
	}
}

// processPrefetch launches at most one queued prefetch per cycle: the
// oldest hint whose line is not already present occupies a miss MSHR in
// its bank like any demand miss, but carries no callback, so its fill only
// warms the array.
func (c *Cache) processPrefetch() {
	c.lock()
	defer c.unlock()
	if c.cfg.PrefetchFIFOSize <= 0 {
		return
	}
	pc, addr, ok := c.prefetch.Dequeue()
	if !ok {
		return
	}
	if _, hit := c.isHitLocked(CmdPrefetch, addr); hit {
		return
	}
	c.Stat.PrefetchLookups++
	req := &Request{
		CoreID:       c.cfg.CoreID,
		PC:           pc,
		PAddr:        addr,
		Cmd:          CmdPrefetch,
		WhenEnqueued: c.Cycle,
		lineTag:      c.tag(addr),
	}
	b := c.bank(addr)
	if _, combined := c.mshrs[b].coalesce(req.lineTag, req); combined {
		return
	}
	if c.mshrs[b].insert(req.lineTag, req) {
		c.Stat.PrefetchMisses++
	}
}

// schedulePipe parks req on the access pipeline of the bank addr maps to,
// to complete latency cycles from now, occupying one of the bank's pipe
// slots until the pipe step retires it.
func (c *Cache) schedulePipe(req *Request, latency int) {
	b := c.bank(req.PAddr)
	c.pipeSeq++
	c.pipeNum[b]++
	e := &pipeEntry{exitAt: c.Cycle + mop.Tick(latency), seq: c.pipeSeq, req: req}
	heap.Push(&c.accessPipes[b], e)
}

// Process advances this cache level by one cycle, running the sub-steps of
// cache_process with the start bank rotated each cycle so the bank walk
// order never structurally favors bank 0.
func (c *Cache) Process() {
	c.Cycle++
	c.startPoint = (c.startPoint + 1) % c.cfg.Banks
	c.processPipeCompletions()
	c.processFillCompletions()
	c.processMSHRFillWork()
	c.processPrefetch()
	c.processMSHRDispatch()
}

// processPipeCompletions is the pipe step: for each bank, at most one
// entry past its exit time retires per cycle. A hit invokes the request's
// callback; a miss allocates (or coalesces onto) a bank MSHR, blocking the
// pipe slot until one is available. Stale entries are discarded without
// consuming the bank's completion slot.
func (c *Cache) processPipeCompletions() {
	c.lock()
	defer c.unlock()
	banks := c.cfg.Banks
	for i := 0; i < banks; i++ {
		b := (c.startPoint + i) % banks
		h := &c.accessPipes[b]
		for h.Len() > 0 && (*h)[0].exitAt <= c.Cycle {
			e := heap.Pop(h).(*pipeEntry)
			c.pipeNum[b]--
			if e.req.Stale() {
				continue
			}

			if line, hit := c.isHitLocked(e.req.Cmd, e.req.PAddr); hit {
				if e.req.Cmd == CmdWrite {
					if c.cfg.Write == WriteBack {
						line.Dirty = true
					} else {
						c.enqueueWritebackLocked(e.req.PAddr, e.req.CoreID)
					}
				}
				e.req.WhenReturned = c.Cycle
				e.req.PipeExitTime = c.Cycle
				if e.req.Callback != nil {
					e.req.Callback(e.req)
				}
				break
			}

			if _, combined := c.mshrs[b].coalesce(e.req.lineTag, e.req); combined {
				c.Stat.MSHRCombos++
				break
			}
			if !c.mshrs[b].insert(e.req.lineTag, e.req) {
				// No MSHR free: the request blocks its pipe slot until one
				// deallocates.
				c.Stat.MSHRFullCycles++
				e.exitAt = c.Cycle + 1
				c.pipeNum[b]++
				heap.Push(h, e)
				break
			}
			switch e.req.Cmd {
			case CmdRead:
				c.Stat.LoadMisses++
			case CmdWrite:
				c.Stat.StoreMisses++
			case CmdPrefetch:
				c.Stat.PrefetchMisses++
			}
			if e.req.Cmd == CmdRead {
				c.generatePrefetchLocked(e.req.PC, e.req.PAddr)
			}
			break
		}
	}
}

// processFillCompletions is the fill step: at most one fill lands per bank
// per cycle, writing back the dirty evictee first when the policy requires
// it. Stale entries are discarded without consuming the bank's fill slot.
func (c *Cache) processFillCompletions() {
	c.lock()
	defer c.unlock()
	banks := c.cfg.Banks
	for i := 0; i < banks; i++ {
		b := (c.startPoint + i) % banks
		h := &c.fillPipes[b]
		for h.Len() > 0 && (*h)[0].exitAt <= c.Cycle {
			e := heap.Pop(h).(*pipeEntry)
			if e.req.Stale() {
				continue
			}
			// The line may already be resident (a racing fill for the same
			// line landed first); no second install, just the callbacks.
			if _, hit := c.isHitLocked(CmdWriteback, e.req.PAddr); hit {
				notifyChain(e.req)
				break
			}
			// A dirty evictee under write-back needs a writeback slot
			// before the fill may land; with none free the fill is
			// deferred a cycle rather than dropping the dirty data.
			victim := c.GetEvictee(e.req.PAddr, e.req.CoreID)
			if c.cfg.Write == WriteBack && victim.Valid && victim.Dirty {
				wbAddr := c.lineAddrFor(victim.Tag, c.setIndex(e.req.PAddr))
				if !c.enqueueWritebackLocked(wbAddr, victim.CoreID) {
					e.exitAt = c.Cycle + 1
					heap.Push(h, e)
					break
				}
			}
			c.fillVictimLocked(victim, e.fill.cmd, e.req.PAddr, e.req.CoreID)
			notifyChain(e.req)
			break
		}
	}
}

// notifyChain invokes the callback of head and every request coalesced
// onto it, in FIFO order, skipping any whose action_id has gone stale.
func notifyChain(head *Request) {
	for r := head; r != nil; r = r.MSHRLink {
		if r.Stale() || r.Callback == nil {
			continue
		}
		r.Callback(r)
	}
}

// lineAddrFor reconstructs a line-aligned address from its tag and set
// index, the inverse of tag()/setIndex().
func (c *Cache) lineAddrFor(tag uint64, setIdx int) uint64 {
	return (tag*uint64(c.cfg.Sets) + uint64(setIdx)) * uint64(c.cfg.LineSize)
}

// enqueueWritebackLocked occupies a writeback MSHR in addr's bank for the
// evicted line, reporting false if that bank's writeback pool is full.
func (c *Cache) enqueueWritebackLocked(addr uint64, coreID int) bool {
	req := &Request{
		CoreID:       coreID,
		PAddr:        addr,
		Cmd:          CmdWriteback,
		Type:         MSHRWriteback,
		WhenEnqueued: c.Cycle,
		lineTag:      c.tag(addr),
	}
	c.Stat.WritebackLookups++
	ok := c.mshrs[c.bank(addr)].insert(req.lineTag, req)
	if ok {
		c.Stat.WritebackMisses++
	}
	return ok
}

// processMSHRFillWork is the MSHR-fill step: per bank (start-rotated),
// MSHRs whose data has arrived from the next level move into the fill
// pipe, and completed writebacks are acked directly (a writeback never
// needs a local fill).
func (c *Cache) processMSHRFillWork() {
	c.lock()
	defer c.unlock()
	banks := c.cfg.Banks
	for i := 0; i < banks; i++ {
		b := (c.startPoint + i) % banks
		for _, req := range c.mshrs[b].drainFilled(c.Cycle) {
			c.pipeSeq++
			heap.Push(&c.fillPipes[b], &pipeEntry{
				exitAt: c.Cycle + mop.Tick(c.cfg.Latency),
				seq:    c.pipeSeq,
				req:    req,
				isFill: true,
				fill:   fillEntry{cmd: req.Cmd},
			})
		}
		for _, req := range c.mshrs[b].drainAcked() {
			if req.Callback != nil && !req.Stale() {
				req.Callback(req)
			}
		}
	}
}

// processMSHRDispatch is the MSHR step: per bank (start-rotated), hand
// newly-enqueued misses and writebacks to the attached upstream transport
// in the order ParseMSHRCommandOrder established. A Cache with no upstream
// attached (a standalone unit test, or the last level backed directly by a
// MemoryController that pulls rather than being pushed to) simply leaves
// requests queued.
func (c *Cache) processMSHRDispatch() {
	c.lock()
	defer c.unlock()
	if c.upstream == nil {
		return
	}
	banks := c.cfg.Banks
	for i := 0; i < banks; i++ {
		b := (c.startPoint + i) % banks
		for _, req := range c.mshrs[b].undispatched() {
			if c.upstream(req) {
				c.mshrs[b].markDispatched(req, true)
			}
		}
	}
}

// SetUpstream attaches the transport this cache dispatches misses and
// writebacks to. fn returning false means the next level has no room yet;
// the request is retried on a later cycle.
func (c *Cache) SetUpstream(fn func(req *Request) bool) {
	c.lock()
	defer c.unlock()
	c.upstream = fn
}

// FillArrived signals that a prior miss has returned data from the next
// level of the hierarchy, matching fill_arrived. delay lets the caller
// model extra transport latency on top of the cache's own fill-pipe depth.
// mshrIdx addresses bank 0's miss pool directly, for callers (tests, a
// Cache with no upstream attached) that configure a single bank and track
// the slot index themselves.
func (c *Cache) FillArrived(mshrIdx int, delay mop.Tick) {
	c.lock()
	defer c.unlock()
	c.mshrs[0].markFilled(mshrIdx, c.Cycle+delay)
}

// FillArrivedReq is FillArrived's pointer-identity counterpart: the
// upstream transport knows the *Request it was handed by SetUpstream's
// callback, not that request's bank or MSHR slot index.
func (c *Cache) FillArrivedReq(req *Request, delay mop.Tick) {
	c.lock()
	defer c.unlock()
	for _, pool := range c.mshrs {
		if pool.markFilledByReq(req, c.Cycle+delay) {
			return
		}
	}
}

// Sets exposes the raw set array for tests that need to assert on line
// state directly.
func (c *Cache) Sets() [][]Line { return c.sets }

func (c *Cache) Config() Config { return c.cfg }
