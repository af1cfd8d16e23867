// Package decode cracks a fetched macro-op into its real micro-op flow and
// allocates the out-of-order structures (ROB/LDQ/STQ/RS/port) each uop
// needs before it can enter the scheduler.
//
// Pipeline.crack is grounded on uop_cracker.cpp's fallback(): since this
// repository does not ship a full x86 decoder, every Mop is cracked
// generically from the semantic ground truth the feeder hands along with
// each handshake (is_load/is_store/register read-write sets), exactly the
// shape fallback() builds once XED's tables tell it the same things.
package decode

import (
	"oocoresim/internal/constants"
	"oocoresim/internal/logging"
	"oocoresim/internal/mop"
	"oocoresim/internal/oracle"
)

// Config bundles the knobs a Pipeline needs at construction time.
type Config struct {
	DecodeWidth int
	Depth       mop.Tick // fixed pipeline latency for an ordinary Mop
	MSLatency   mop.Tick // additional latency for a microcode-sequenced Mop
	MSThreshold int      // flow lengths >= this route through the MS side path
}

type pendingDecode struct {
	m       *mop.Mop
	readyAt mop.Tick
}

// Pipeline is the per-core decode stage.
type Pipeline struct {
	cfg    Config
	oracle *oracle.Oracle
	arena  *mop.Arena
	alloc  *Allocator

	pending []*pendingDecode
	ready   []*mop.Mop

	log *logging.Logger

	Stat Stats
}

// Stats counts decode-stage outcomes exercised by the test scenarios.
type Stats struct {
	NumCracked    int64
	NumMSRouted   int64
	NumBogusPath  int64
}

// New creates a decode Pipeline backed by o (for dependency installation)
// and arena (for uop-slab resizing), feeding the given Allocator.
func New(cfg Config, o *oracle.Oracle, arena *mop.Arena, alloc *Allocator, log *logging.Logger) *Pipeline {
	if cfg.DecodeWidth <= 0 {
		cfg.DecodeWidth = 4
	}
	if cfg.Depth <= 0 {
		cfg.Depth = 1
	}
	if cfg.MSThreshold <= 0 {
		cfg.MSThreshold = 4
	}
	return &Pipeline{cfg: cfg, oracle: o, arena: arena, alloc: alloc, log: log}
}

// Admit accepts m into the decode pipe unless DecodeWidth*4 Mops are
// already pending (there is no separate per-cycle cap), cracking it
// immediately (crack is computation, not timing) but only making it
// visible to Allocate once its pipe latency elapses.
func (p *Pipeline) Admit(m *mop.Mop, cycle mop.Tick, onWrongPath bool) bool {
	if len(p.pending) >= p.cfg.DecodeWidth*4 {
		return false
	}
	m.Timing.WhenDecodeStarted = cycle

	flowLen := p.crack(m, onWrongPath)
	latency := p.cfg.Depth
	if flowLen >= p.cfg.MSThreshold {
		latency += p.cfg.MSLatency
		p.Stat.NumMSRouted++
		m.Timing.WhenMSStarted = cycle
	}
	p.pending = append(p.pending, &pendingDecode{m: m, readyAt: cycle + latency})
	return true
}

// crack rebuilds m's uop flow from its semantic ground truth, matching
// uop_cracker.cpp's fallback(): uop 0 is a load (if any) producing a temp
// register; the main op reads that temp plus any other input operands and
// writes either its true destination or a temp register consumed by a
// trailing STA/STD pair (if the Mop is a store). A Mop on the wrong
// execution path (phantom resteer victim) is cracked as a single bogus
// no-op uop instead, matching the "bogus-on-wrong-path" handling named for
// unknown-opcode recovery.
func (p *Pipeline) crack(m *mop.Mop, onWrongPath bool) int {
	if onWrongPath {
		p.arena.ResizeUops(m, 1)
		u := &m.Uops[0]
		u.Decode.IsNop = true
		u.Decode.BOM, u.Decode.EOM = true, true
		u.Decode.FUClass = mop.FUIntALU
		p.Stat.NumBogusPath++
		p.finishCrack(m)
		return 1
	}

	hasLoad := m.Decode.SemIsLoad
	hasStore := m.Decode.SemIsStore

	flowLen := 1
	opIndex := 0
	if hasLoad {
		opIndex = flowLen
		flowLen++
	}
	if hasStore {
		flowLen += 2
	}

	p.arena.ResizeUops(m, flowLen)
	op := &m.Uops[opIndex]
	op.Decode.IsCtrl = m.Decode.IsCtrl
	op.Decode.FUClass = mop.FUIntALU
	if m.Decode.IsCtrl {
		op.Decode.FUClass = mop.FUBranch
	}

	idepIdx := 0
	if hasLoad {
		idepIdx = 1
	}
	for _, reg := range m.Decode.SemIDeps {
		if reg == 0 || idepIdx >= constants.MaxIDeps {
			continue
		}
		op.Decode.IDepName[idepIdx] = reg
		idepIdx++
	}

	odepIdx := 0
	if hasStore {
		odepIdx = 1
	}
	for _, reg := range m.Decode.SemODeps {
		if reg == 0 || odepIdx >= constants.MaxODeps {
			continue
		}
		op.Decode.ODepName[odepIdx] = reg
		odepIdx++
	}

	const tmp0, tmp1 = int16(-1), int16(-2)
	if hasLoad {
		ld := &m.Uops[0]
		ld.Decode.IsLoad = true
		ld.Decode.FUClass = mop.FULoad
		ld.Decode.ODepName[0] = tmp0
		ld.Decode.MemSize = m.Decode.SemMemSize
		ld.Oracle.VirtAddr = m.Decode.SemMemAddr
		op.Decode.IDepName[0] = tmp0
	}
	if hasStore {
		stdTemp := tmp0
		if hasLoad {
			stdTemp = tmp1
		}
		op.Decode.ODepName[0] = stdTemp

		sta := &m.Uops[opIndex+1]
		sta.Decode.IsSTA = true
		sta.Decode.IsAgen = true
		sta.Decode.FUClass = mop.FUStoreAddr
		sta.Decode.MemSize = m.Decode.SemMemSize
		sta.Oracle.VirtAddr = m.Decode.SemMemAddr

		std := &m.Uops[opIndex+2]
		std.Decode.IsSTD = true
		std.Decode.FUClass = mop.FUStoreData
		std.Decode.IDepName[0] = stdTemp
	}

	m.Uops[0].Decode.BOM = true
	m.Uops[flowLen-1].Decode.EOM = true
	for i := range m.Uops {
		m.Uops[i].Decode.MopSeq = m.Oracle.Seq
		m.Uops[i].Decode.UopSeq = p.arena.NextSeq()
	}

	m.Stat.NumUops = flowLen
	if hasLoad {
		m.Stat.NumLoads++
		m.Stat.NumRefs++
	}
	if hasStore {
		m.Stat.NumRefs++
	}
	if m.Decode.IsCtrl {
		m.Stat.NumBranches++
	}
	if p.alloc != nil {
		p.alloc.tagFusion(m, hasLoad, hasStore)
	}

	p.finishCrack(m)
	return flowLen
}

func (p *Pipeline) finishCrack(m *mop.Mop) {
	m.Decode.LastUopIndex = len(m.Uops) - 1
	p.oracle.InstallDependencies(m)
}

// Step advances the decode pipe by one cycle, moving every Mop whose
// latency has elapsed into the ready queue for the Allocator to consume.
func (p *Pipeline) Step(cycle mop.Tick) {
	i := 0
	for i < len(p.pending) && p.pending[i].readyAt <= cycle {
		pd := p.pending[i]
		pd.m.Timing.WhenDecodeFinished = cycle
		p.ready = append(p.ready, pd.m)
		p.Stat.NumCracked++
		i++
	}
	p.pending = p.pending[i:]
}

// Flush discards every Mop still in the decode pipe or ready queue, used
// on a nuke or emergency recovery.
func (p *Pipeline) Flush() {
	p.pending = nil
	p.ready = nil
}

// PeekReady returns the oldest cracked Mop without consuming it, so the
// allocator can test for structural room before committing to the pop.
func (p *Pipeline) PeekReady() (*mop.Mop, bool) {
	if len(p.ready) == 0 {
		return nil, false
	}
	return p.ready[0], true
}

// PopReady removes and returns the oldest cracked Mop ready for
// allocation.
func (p *Pipeline) PopReady() (*mop.Mop, bool) {
	if len(p.ready) == 0 {
		return nil, false
	}
	m := p.ready[0]
	p.ready = p.ready[1:]
	return m, true
}
