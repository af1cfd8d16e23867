// Package core wires one core's front end through back end — oracle,
// fetch, decode, allocator, execute, and commit — around its private
// L1 instruction and data caches, matching the teacher's per-subsystem
// struct composition (core_t owning one instance of each stage) rather
// than a monolithic step function.
package core

import (
	"fmt"
	"os"
	"runtime"
	"sync"

	"oocoresim/internal/bpred"
	"oocoresim/internal/cache"
	"oocoresim/internal/commit"
	"oocoresim/internal/constants"
	"oocoresim/internal/decode"
	"oocoresim/internal/exec"
	"oocoresim/internal/feeder"
	"oocoresim/internal/fetch"
	"oocoresim/internal/logging"
	"oocoresim/internal/mop"
	"oocoresim/internal/oracle"
	"oocoresim/internal/trace"
)

// Config bundles every per-core knob needed to build a Core. Zero-valued
// widths and ROB/RS/LDQ/STQ/MopQ sizes fall back to internal/constants
// defaults, and zero BTB/RAS sizes to 512/16; every other field (stage
// depths and latencies, cache configs, the watchdog) is used as given.
type Config struct {
	CoreID int

	FetchWidth  int
	DecodeWidth int
	IssueWidth  int
	CommitWidth int

	DecodeDepth mop.Tick
	MSLatency   mop.Tick
	MSThreshold int

	ROBSize int
	RSSize  int
	LDQSize int
	STQSize int

	MopQSize int

	JeclearDelay   mop.Tick
	DeadlockCycles mop.Tick

	IL1 cache.Config
	DL1 cache.Config

	Predictor bpred.Predictor
	BTBSize   int
	RASDepth  int

	MemDep exec.MemDepPredictor
	RepeaterSpec      string
	RepeaterLo, RepeaterHi uint64

	StartPC uint64

	// Trace receives this core's recovery-event records; nil disables.
	Trace *trace.Ring

	// AssertSpin makes a failed invariant spin (so a debugger can attach)
	// instead of exiting.
	AssertSpin bool
}

func withDefaults(cfg Config) Config {
	if cfg.FetchWidth <= 0 {
		cfg.FetchWidth = constants.DefaultFetchWidth
	}
	if cfg.DecodeWidth <= 0 {
		cfg.DecodeWidth = constants.DefaultDecodeWidth
	}
	if cfg.IssueWidth <= 0 {
		cfg.IssueWidth = constants.DefaultIssueWidth
	}
	if cfg.CommitWidth <= 0 {
		cfg.CommitWidth = constants.DefaultCommitWidth
	}
	if cfg.ROBSize <= 0 {
		cfg.ROBSize = constants.DefaultROBSize
	}
	if cfg.RSSize <= 0 {
		cfg.RSSize = constants.DefaultRSSize
	}
	if cfg.LDQSize <= 0 {
		cfg.LDQSize = constants.DefaultLDQSize
	}
	if cfg.STQSize <= 0 {
		cfg.STQSize = constants.DefaultSTQSize
	}
	if cfg.MopQSize <= 0 {
		cfg.MopQSize = constants.DefaultFetchQueueSize
	}
	if cfg.BTBSize <= 0 {
		cfg.BTBSize = 512
	}
	if cfg.RASDepth <= 0 {
		cfg.RASDepth = 16
	}
	return cfg
}

// Core is one simulated out-of-order x86 core: every pipeline stage, its
// private cache hierarchy, and the bookkeeping needed to step it one
// cycle at a time.
type Core struct {
	cfg Config

	Arena  *mop.Arena
	Oracle *oracle.Oracle

	Fetch  *fetch.Stage
	Decode *decode.Pipeline
	Alloc  *decode.Allocator
	Exec   *exec.Stage
	Commit *commit.Stage

	IL1 *cache.Cache
	DL1 *cache.Cache

	feeder feeder.Feeder

	// memoryLock serializes this core's access to structures shared with
	// the uncore domain (its caches' upstream dispatch into the shared
	// bus) against the rendezvous coordinator advancing the uncore clock,
	// matching the reference simulator's per-core memory_lock.
	memoryLock sync.Mutex

	active bool

	Cycle mop.Tick

	Stat Stats
}

// Stats counts whole-core recovery events.
type Stats struct {
	NumNukes               int64
	NumEmergencyRecoveries int64
}

// New builds a fully-wired Core for one simulated hardware thread, backed
// by f for its instruction stream.
func New(cfg Config, f feeder.Feeder, log *logging.Logger) *Core {
	cfg = withDefaults(cfg)

	arena := mop.NewArena(cfg.ROBSize)
	o := oracle.NewOracle(cfg.CoreID, cfg.MopQSize, f, arena, log)

	il1 := cache.New(cfg.IL1)
	dl1 := cache.New(cfg.DL1)

	pred := cfg.Predictor
	if pred == nil {
		pred = bpred.NewTage(bpred.DefaultTageConfig())
	}
	btb := bpred.NewBTB(cfg.BTBSize)
	ras := bpred.NewRAS(cfg.RASDepth)

	fetchStage := fetch.New(fetch.Config{
		CoreID:         cfg.CoreID,
		FetchWidth:     cfg.FetchWidth,
		IQSize:         cfg.MopQSize,
		JeclearDelay:   cfg.JeclearDelay,
	}, o, il1, pred, btb, ras, log, cfg.StartPC)

	portBinding := exec.DefaultPortBinding()
	alloc := decode.NewAllocator(decode.AllocConfig{
		ROBSize:     cfg.ROBSize,
		RSSize:      cfg.RSSize,
		LDQSize:     cfg.LDQSize,
		STQSize:     cfg.STQSize,
		NumPorts:    cfg.IssueWidth,
		PortBinding: portBinding,
	})
	decodeStage := decode.New(decode.Config{
		DecodeWidth: cfg.DecodeWidth,
		Depth:       cfg.DecodeDepth,
		MSLatency:   cfg.MSLatency,
		MSThreshold: cfg.MSThreshold,
	}, o, arena, alloc, log)

	resolve := arena.Resolve
	sched := exec.NewScheduler(exec.Config{
		RSSize:      cfg.RSSize,
		NumPorts:    cfg.IssueWidth,
		PortBinding: portBinding,
	}, resolve, log)

	memdep := cfg.MemDep
	if memdep == nil {
		memdep = exec.NewStoreSets()
	}
	var rep *exec.Repeater
	if cfg.RepeaterSpec != "" {
		rep = exec.NewRepeater(cfg.RepeaterSpec, cfg.RepeaterLo, cfg.RepeaterHi)
	}
	ls := exec.NewLoadStore(exec.LSConfig{CoreID: cfg.CoreID, STQSize: cfg.STQSize, LDQSize: cfg.LDQSize}, dl1, f, memdep, rep, log)
	execStage := exec.New(sched, ls, log)

	commitStage := commit.New(commit.Config{
		CoreID:         cfg.CoreID,
		CommitWidth:    cfg.CommitWidth,
		DeadlockCycles: cfg.DeadlockCycles,
	}, o, alloc, ls, dl1, f, log)

	return &Core{
		cfg:    cfg,
		Arena:  arena,
		Oracle: o,
		Fetch:  fetchStage,
		Decode: decodeStage,
		Alloc:  alloc,
		Exec:   execStage,
		Commit: commitStage,
		IL1:    il1,
		DL1:    dl1,
		feeder: f,
		active: true,
	}
}

// Active reports whether this core still has in-flight or prospective
// work, matching the reference simulator's per-core active flag that
// gates whether the rendezvous coordinator still waits on it.
func (c *Core) Active() bool { return c.active }

// Deactivate marks the core's feeder stream exhausted and its pipeline
// drained; the rendezvous coordinator stops waiting on it once Active
// reports false.
func (c *Core) Deactivate() { c.active = false }

// Warmup primes the private data cache with vaddr without modeling any
// timing, used by the feeder to pre-populate cache state before the
// measured region of a trace begins.
func (c *Core) Warmup(vaddr uint64, isWrite bool) {
	paddr := vaddr
	if c.feeder != nil {
		paddr = c.feeder.V2PTranslate(c.cfg.CoreID, vaddr)
	}
	cmd := cache.CmdRead
	if isWrite {
		cmd = cache.CmdWrite
	}
	if _, hit := c.DL1.IsHit(cmd, paddr, c.cfg.CoreID); !hit {
		c.DL1.InsertBlock(cmd, paddr, c.cfg.CoreID)
	}
}

// DrainCaches steps only the private cache hierarchy, used after the core
// deactivates so outstanding MSHR and repeater traffic still drains while
// the pipeline itself stays frozen.
func (c *Core) DrainCaches() {
	c.memoryLock.Lock()
	defer c.memoryLock.Unlock()
	c.IL1.Process()
	c.DL1.Process()
}

// Step advances every stage by one cycle, in reverse pipeline order —
// commit first, fetch last — so a structure freed this cycle (a
// committed ROB entry, a released RS slot) is visible to the stage that
// would otherwise contend for it later in the same Step, matching
// core_t::step_core's back-to-front stage ordering.
func (c *Core) Step() {
	c.memoryLock.Lock()
	defer c.memoryLock.Unlock()

	c.Cycle++
	c.IL1.Process()
	c.DL1.Process()

	c.Commit.Step(c.Cycle)
	c.Exec.Step(c.Cycle)
	if c.Exec.TakeNuke() {
		c.Stat.NumNukes++
		c.traceEvent("nuke", "order violation, replaying %d mops", c.Oracle.InFlight())
		c.flushAndReplay()
		return
	}
	c.drainAllocate(c.Cycle)
	c.Decode.Step(c.Cycle)
	c.drainFetch(c.Cycle)
	c.Fetch.Step(c.Cycle)

	if c.Commit.Deadlocked() {
		c.Stat.NumEmergencyRecoveries++
		c.traceEvent("emergency", "no commits, restarting fetch")
		c.flushAndReplay()
		c.Commit.ResetWatchdog()
	}

	if c.feeder != nil && !c.feeder.IsCoreActive(c.cfg.CoreID) &&
		c.Oracle.InFlight() == 0 && !c.Oracle.OnNukeRecoveryPath() {
		c.traceEvent("core", "deactivated at end of stream")
		c.active = false
	}
}

func (c *Core) traceEvent(kind, format string, args ...any) {
	if c.cfg.Trace == nil {
		return
	}
	c.cfg.Trace.Add(int64(c.Cycle), kind, c.Oracle.SpecMode, format, args...)
}

// assertf checks a core-level invariant. On failure the trace ring is
// dumped to stderr and the process exits with status 6, or spins if
// AssertSpin is configured so a debugger can attach.
func (c *Core) assertf(cond bool, format string, args ...any) {
	if cond {
		return
	}
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(os.Stderr, "assertion failed: core %d cycle %d: %s\n", c.cfg.CoreID, c.Cycle, msg)
	if c.cfg.Trace != nil {
		for _, rec := range c.cfg.Trace.Drain() {
			fmt.Fprintf(os.Stderr, "ztrace core %d: %s\n", c.cfg.CoreID, rec.String())
		}
	}
	if c.cfg.AssertSpin {
		for {
			runtime.Gosched()
		}
	}
	os.Exit(6)
}

// flushAndReplay is the shared recovery path for a nuke (load/store
// ordering violation) and an emergency recovery (commit watchdog): squash
// everything in flight, rewind the oracle's shadow replay cursor, and
// restart fetch at the oldest squashed instruction.
func (c *Core) flushAndReplay() {
	restartPC := c.Fetch.PC()
	if m, ok := c.Oracle.GetOldestMop(); ok {
		restartPC = m.Fetch.PC
	}
	// Exec flushes first: bumping in-flight loads' action_ids must happen
	// while their uops are still live, before the oracle recycles them.
	c.Exec.FlushAll()
	c.Oracle.Nuke()
	c.Decode.Flush()
	c.Alloc.Reset()
	c.Fetch.Flush(restartPC)
}

// drainFetch admits macro-ops from fetch's instruction queue into the
// decode pipe, up to the decode width, flagging each with whether the
// oracle knows it sits on a squashed-speculation path.
func (c *Core) drainFetch(cycle mop.Tick) {
	for i := 0; i < c.cfg.DecodeWidth; i++ {
		m, ok := c.Fetch.PopIQ()
		if !ok {
			return
		}
		if !c.Decode.Admit(m, cycle, m.Oracle.SpecMode) {
			// Decode pipe full; the Mop stays at the head of the IQ.
			c.Fetch.PushBackIQ(m)
			return
		}
	}
}

// drainAllocate moves decoded Mops into the reservation station in program
// order, stopping at the first one the Allocator has no structural room
// for — an allocation stall, never a drop.
func (c *Core) drainAllocate(cycle mop.Tick) {
	for {
		m, ok := c.Decode.PeekReady()
		if !ok {
			return
		}
		if !c.Alloc.CanAllocate(len(m.Uops), m.Decode.SemIsLoad, m.Decode.SemIsStore) {
			return
		}
		c.Decode.PopReady()
		c.assertf(c.Alloc.Reserve(m), "allocator refused a Mop it reported room for (flow %d)", len(m.Uops))
		for i := range m.Uops {
			u := &m.Uops[i]
			u.Timing.WhenAllocated = cycle
			if u.Decode.IsSTA {
				c.Exec.LS().AllocStore(u.Alloc.STQIndex, u.Decode.UopSeq)
			}
			c.Exec.Add(u)
		}
	}
}
