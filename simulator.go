// Package oocoresim is a cycle-accurate, execution-driven timing model of
// a superscalar out-of-order x86 core: an oracle functional model coupled
// to a fetch/decode/allocate/execute/commit pipeline, private L1 caches,
// and a shared clocked uncore (LLC, front-side bus, memory controller).
//
// The root package assembles the internal stage packages into a runnable
// Simulator and owns the ambient surface around them: configuration
// (Knobs), structured errors (Error), run statistics (Metrics/Observer),
// and the MockFeeder test harness. The instruction feeder itself is an
// external collaborator; anything that can produce feeder.Handshake
// records can drive a run.
package oocoresim

import (
	"io"

	"oocoresim/internal/bpred"
	"oocoresim/internal/cache"
	"oocoresim/internal/core"
	"oocoresim/internal/exec"
	"oocoresim/internal/feeder"
	"oocoresim/internal/logging"
	"oocoresim/internal/mop"
	"oocoresim/internal/sim"
	"oocoresim/internal/trace"
	"oocoresim/internal/uncore"
)

// Options carries the optional collaborators a Simulator can be built
// with; zero values select working defaults (default logger, no observer,
// in-memory tracing only).
type Options struct {
	Logger   *logging.Logger
	Observer Observer

	// HeartbeatWriter receives heartbeat lines; nil means stderr.
	HeartbeatWriter io.Writer
}

// Simulator owns every per-core pipeline, the shared uncore, the cycle
// scheduler, and the run-wide metrics. All mutable simulation state hangs
// off this one value; nothing is package-global.
type Simulator struct {
	knobs Knobs

	cores  []*core.Core
	uncore *uncore.Uncore
	loop   *sim.Loop

	traces *trace.Set

	metrics  *Metrics
	observer Observer
	feeder   feeder.Feeder
	log      *logging.Logger
}

// NewSimulator builds a fully-wired Simulator from knobs, driven by f.
func NewSimulator(knobs Knobs, f feeder.Feeder, opts Options) (*Simulator, error) {
	if err := knobs.Validate(); err != nil {
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		log = logging.Default()
	}
	obs := opts.Observer
	if obs == nil {
		obs = NopObserver{}
	}

	unc := uncore.New(uncore.Config{
		LLC:         cacheConfig("LLC", -1, knobs.Uncore.LLC, knobs.Uncore.MSHRCmdOrder),
		BusCapacity: knobs.Uncore.FSBCapacity,
		BusWidth:    knobs.Uncore.FSBWidth,
		BusLatency:  mop.Tick(knobs.Uncore.FSBLatency),
		DRAM:        uncore.FixedLatencyDRAM{Cycles: mop.Tick(knobs.Uncore.MemoryLatency)},
	})

	s := &Simulator{
		knobs:    knobs,
		uncore:   unc,
		traces:   trace.NewSet(knobs.System.NumCores, knobs.System.ZTraceFilename),
		metrics:  NewMetrics(),
		observer: obs,
		feeder:   f,
		log:      log,
	}

	for id := 0; id < knobs.System.NumCores; id++ {
		cfg := coreConfig(id, knobs)
		cfg.Trace = s.traces.Core(id)
		cfg.AssertSpin = knobs.System.AssertSpin
		c := core.New(cfg, f, log.WithCore(id))
		unc.Attach(c.IL1)
		unc.Attach(c.DL1)
		s.cores = append(s.cores, c)
	}

	s.loop = sim.New(sim.Config{
		MaxCycles:          mop.Tick(knobs.System.MaxCycles),
		LLCRatioNum:        knobs.Uncore.LLCRatioNum,
		LLCRatioDen:        knobs.Uncore.LLCRatioDen,
		HeartbeatFrequency: mop.Tick(knobs.System.HeartbeatFrequency),
		HeartbeatWriter:    opts.HeartbeatWriter,
		DeadlockCycles:     mop.Tick(knobs.System.DeadlockCycles),
	}, s.cores, unc, log)

	return s, nil
}

// coreConfig maps the per-core knob block onto internal/core's Config.
func coreConfig(id int, knobs Knobs) core.Config {
	k := knobs.Core
	return core.Config{
		CoreID:         id,
		FetchWidth:     k.Fetch.Width,
		DecodeWidth:    k.Decode.Width,
		IssueWidth:     k.Exec.NumPorts,
		CommitWidth:    k.Commit.Width,
		DecodeDepth:    mop.Tick(k.Decode.Depth),
		MSLatency:      mop.Tick(k.Decode.MSLatency),
		MSThreshold:    k.Decode.MSThreshold,
		ROBSize:        k.Commit.ROBSize,
		RSSize:         k.Exec.RSSize,
		LDQSize:        k.Exec.LDQSize,
		STQSize:        k.Exec.STQSize,
		MopQSize:       k.Fetch.IQSize,
		JeclearDelay:   mop.Tick(k.Fetch.JeclearDelay),
		DeadlockCycles: mop.Tick(k.Commit.DeadlockCycles),
		IL1:            cacheConfig("IL1", id, k.Fetch.IL1, ""),
		DL1:            cacheConfig("DL1", id, k.Exec.DL1, ""),
		Predictor:      predictorFor(k.Fetch.BPredSpec),
		BTBSize:        k.Fetch.BTBSize,
		RASDepth:       k.Fetch.RASDepth,
		MemDep:         memDepFor(k.Exec.MemDepSpec),
		RepeaterSpec:   k.Exec.RepeaterSpec,
		RepeaterLo:     k.Exec.RepeaterLo,
		RepeaterHi:     k.Exec.RepeaterHi,
	}
}

func cacheConfig(name string, coreID int, ck CacheKnobs, cmdOrder string) cache.Config {
	write := cache.WriteThrough
	if ck.WriteBack {
		write = cache.WriteBack
	}
	return cache.Config{
		Name:         name,
		CoreID:       coreID,
		Sets:         ck.Sets,
		Assoc:        ck.Assoc,
		LineSize:     ck.LineSize,
		Banks:        ck.Banks,
		Latency:      ck.Latency,
		Policy:       policyFor(ck.Policy),
		Write:        write,
		MSHRSize:         ck.MSHRSize,
		MSHRWBSize:       ck.MSHRWBSize,
		MSHRCmdOrder:     cmdOrder,
		PrefetchFIFOSize: ck.PrefetchFIFO,
		PrefetchBufSize:  ck.PrefetchBuf,
	}
}

func policyFor(spec string) cache.ReplacementPolicy {
	switch spec {
	case "mru":
		return &cache.MRU{}
	case "random":
		return cache.Random{}
	case "nmru":
		return &cache.NMRU{}
	case "plru":
		return cache.TreePLRU{}
	case "clock":
		return cache.Clock{}
	default:
		return &cache.LRU{}
	}
}

func predictorFor(spec string) bpred.Predictor {
	switch spec {
	case "2bit":
		return bpred.NewTwoBit(12)
	default:
		return bpred.NewTage(bpred.DefaultTageConfig())
	}
}

func memDepFor(spec string) exec.MemDepPredictor {
	switch spec {
	case "always":
		return exec.AlwaysStall{}
	case "never":
		return exec.NeverStall{}
	default:
		return exec.NewStoreSets()
	}
}

// Run drives the simulation to completion, folds every stage's counters
// into Metrics, and notifies the Observer. The returned error is nil on a
// clean end-of-trace completion and an *Error with ErrCodeDeadlock if the
// global watchdog fired.
func (s *Simulator) Run() error {
	s.observer.RunStarted(len(s.cores))

	runErr := s.loop.Run()
	s.collect()
	s.metrics.Stop()
	s.observer.RunFinished(s.metrics.Snapshot())

	if runErr != nil {
		// Assertion-style exit: the in-memory records go to stderr before
		// the rings are drained by the file flush.
		s.traces.DumpAll()
		return &Error{Op: "RUN", CoreID: -1, Cycle: int64(s.loop.Cycle()), Code: ErrCodeDeadlock, Msg: runErr.Error(), Inner: runErr}
	}
	if err := s.traces.FlushAll(); err != nil {
		s.log.Warn("trace flush failed", "error", err)
	}
	return nil
}

// collect folds the per-stage Stat structs into the run-wide Metrics.
func (s *Simulator) collect() {
	m := s.metrics
	m.Cycles.Store(uint64(s.loop.Cycle()))
	m.UncoreCycles.Store(uint64(s.loop.UncoreCycles()))

	var insns, uops, nukes, jeclears, phantoms, emergencies, traps uint64
	var fwd, toCache, wbs uint64
	for _, c := range s.cores {
		insns += uint64(c.Commit.Stat.NumCommitted)
		uops += uint64(c.Commit.Stat.NumCommittedUops)
		traps += uint64(c.Commit.Stat.NumTrapDrains)
		wbs += uint64(c.Commit.Stat.NumStoreWritebacks)
		nukes += uint64(c.Stat.NumNukes)
		emergencies += uint64(c.Stat.NumEmergencyRecoveries)
		jeclears += uint64(c.Fetch.Stat.NumJeclear)
		phantoms += uint64(c.Fetch.Stat.NumPhantomResteer)
		fwd += uint64(c.Exec.LS().Stat.NumLoadsForwarded)
		toCache += uint64(c.Exec.LS().Stat.NumLoadsToCache)
		m.MSHRCombos.Add(uint64(c.DL1.Stat.MSHRCombos + c.IL1.Stat.MSHRCombos))
	}
	m.MSHRCombos.Add(uint64(s.uncore.LLC.Stat.MSHRCombos))
	m.CommittedInsns.Store(insns)
	m.CommittedUops.Store(uops)
	m.Nukes.Store(nukes)
	m.Jeclears.Store(jeclears)
	m.PhantomResteers.Store(phantoms)
	m.EmergencyRecoveries.Store(emergencies)
	m.TrapDrains.Store(traps)
	m.LoadsForwarded.Store(fwd)
	m.LoadsToCache.Store(toCache)
	m.StoreWritebacks.Store(wbs)
}

// Warmup primes coreID's data cache with vaddr without timing effects,
// the simulator half of the feeder's cache-warmup contract.
func (s *Simulator) Warmup(coreID int, vaddr uint64, isWrite bool) {
	s.cores[coreID].Warmup(vaddr, isWrite)
}

// Metrics exposes the run-wide statistics.
func (s *Simulator) Metrics() *Metrics { return s.metrics }

// Cores exposes the per-core pipelines for tests that assert on stage
// state directly.
func (s *Simulator) Cores() []*core.Core { return s.cores }

// Uncore exposes the shared LLC/FSB/MC domain.
func (s *Simulator) Uncore() *uncore.Uncore { return s.uncore }

// Traces exposes the per-core circular trace buffers.
func (s *Simulator) Traces() *trace.Set { return s.traces }
