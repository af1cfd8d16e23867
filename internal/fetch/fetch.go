// Package fetch drives the front end of the pipeline: it asks the oracle
// for the next dynamic macro-op, predicts its outcome through the branch
// predictor family, issues the instruction-cache access backing the fetch,
// and hands the macro-op to decode once the cache access resolves.
//
// Step first moves Mops whose I-cache access has resolved into the
// instruction queue. Then, up to FetchWidth times, it takes the next Mop
// from the oracle, predicts its next PC and compares that with the
// oracle's: a mismatch counts as a jeclear for a control Mop and as a
// phantom resteer otherwise, and stalls fetch until cycle+1+JeclearDelay.
// It then submits the Mop's I-cache access. There is no byte queue,
// predecode pipe or I-TLB model, and Config.PredecodeDepth is not read.
package fetch

import (
	"oocoresim/internal/bpred"
	"oocoresim/internal/cache"
	"oocoresim/internal/logging"
	"oocoresim/internal/mop"
	"oocoresim/internal/oracle"
)

// Config bundles the knobs a Stage needs at construction time.
type Config struct {
	CoreID          int
	FetchWidth      int
	IQSize          int
	PredecodeDepth  int
	JeclearDelay    mop.Tick
}

// pendingFetch is one macro-op whose I-cache access has been submitted but
// not yet returned.
type pendingFetch struct {
	m        *mop.Mop
	actionID mop.Seq
	done     bool
}

// Stage is the per-core fetch unit.
type Stage struct {
	cfg Config

	oracle *oracle.Oracle
	il1    *cache.Cache
	pred   bpred.Predictor
	btb    *bpred.BTB
	ras    *bpred.RAS

	pc uint64

	// iq is the instruction queue: macro-ops whose I-cache access has
	// resolved and that are waiting on decode to pick them up.
	iq []*mop.Mop

	// pending holds macro-ops whose I-cache access is in flight, between
	// oracle.Exec and availability in iq.
	pending []*pendingFetch

	actionSeq mop.Seq

	// resteerUntil holds the front-end bubble: fetch stays idle until this
	// cycle, modeling the jeclear_delay between fetch detecting that its
	// predicted next PC differs from the oracle's and resuming at the
	// corrected PC.
	resteerUntil mop.Tick

	log *logging.Logger

	Stat Stats
}

// Stats mirrors the subset of fetch-stage counters exercised by the test
// scenarios: total fetched, phantom resteers, and front-end stalls caused by
// a full instruction queue.
type Stats struct {
	NumFetched        int64
	NumPhantomResteer int64
	NumJeclear        int64
	NumIQFull         int64
}

// New creates a fetch Stage for one core, starting at startPC.
func New(cfg Config, o *oracle.Oracle, il1 *cache.Cache, pred bpred.Predictor, btb *bpred.BTB, ras *bpred.RAS, log *logging.Logger, startPC uint64) *Stage {
	if cfg.FetchWidth <= 0 {
		cfg.FetchWidth = 4
	}
	if cfg.IQSize <= 0 {
		cfg.IQSize = 16
	}
	return &Stage{
		cfg:    cfg,
		oracle: o,
		il1:    il1,
		pred:   pred,
		btb:    btb,
		ras:    ras,
		pc:     startPC,
		log:    log,
	}
}

// PC reports the current fetch-redirected program counter.
func (s *Stage) PC() uint64 { return s.pc }

// IQLen reports how many macro-ops are queued for decode to consume.
func (s *Stage) IQLen() int { return len(s.iq) }

// PopIQ removes and returns the oldest queued macro-op, for decode to crack.
func (s *Stage) PopIQ() (*mop.Mop, bool) {
	if len(s.iq) == 0 {
		return nil, false
	}
	m := s.iq[0]
	s.iq = s.iq[1:]
	return m, true
}

// PushBackIQ returns a just-popped macro-op to the head of the queue,
// used when decode has no room this cycle.
func (s *Stage) PushBackIQ(m *mop.Mop) {
	s.iq = append([]*mop.Mop{m}, s.iq...)
}

// Flush discards every queued and in-flight macro-op and redirects fetch
// to newPC, used on a nuke or emergency recovery. Outstanding I-cache
// accesses complete into discarded pendingFetch records, so their
// callbacks are harmless.
func (s *Stage) Flush(newPC uint64) {
	s.iq = nil
	s.pending = nil
	s.pc = newPC
}

// Step advances fetch by one cycle, matching fetch_stage()'s per-cycle
// ordering: retire ready cache fills into the IQ, then admit new macro-ops
// up to FetchWidth, submitting an I-cache access for each.
func (s *Stage) Step(cycle mop.Tick) {
	s.drainPending(cycle)

	if cycle < s.resteerUntil {
		return
	}
	if len(s.iq) >= s.cfg.IQSize {
		s.Stat.NumIQFull++
		return
	}

	admitted := 0
	for admitted < s.cfg.FetchWidth && len(s.iq)+len(s.pending) < s.cfg.IQSize {
		if !s.oracle.CanExec() {
			break
		}
		m, ok := s.oracle.Exec(s.pc)
		if !ok {
			break
		}
		s.admit(m, cycle)
		admitted++
	}
}

// admit predicts m's outcome, detects a phantom resteer against the
// oracle's ground truth, advances pc, and submits the backing I-cache
// access.
func (s *Stage) admit(m *mop.Mop, cycle mop.Tick) {
	predNPC, bh := s.pred.Lookup(m.Fetch.PC)
	if predNPC != m.Fetch.FtPC && s.btb != nil {
		// Direction predictor says taken; the BTB supplies the target it
		// actually resteers to, when it has one.
		if target, ok := s.btb.Lookup(m.Fetch.PC); ok {
			predNPC = target
		}
	}
	m.Fetch.BpredUpdate = bh

	actualNPC := m.Oracle.NextPC
	if predNPC != actualNPC {
		if m.Decode.IsCtrl {
			s.Stat.NumJeclear++
		} else {
			s.Stat.NumPhantomResteer++
		}
		s.resteerUntil = cycle + 1 + s.cfg.JeclearDelay
		s.pc = actualNPC
	} else {
		s.pc = predNPC
	}
	s.pred.Update(bh, m.Fetch.PC, m.Oracle.TakenBranch, actualNPC)
	if m.Oracle.TakenBranch && s.btb != nil {
		s.btb.Update(m.Fetch.PC, actualNPC)
	}
	m.Fetch.PredNPC = predNPC
	m.Timing.WhenFetchStarted = cycle

	s.actionSeq++
	actionID := s.actionSeq
	req := &cache.Request{
		CoreID:      s.cfg.CoreID,
		PAddr:       m.Fetch.PC,
		Cmd:         cache.CmdRead,
		ActionID:    actionID,
		GetActionID: func(mop.Handle) mop.Seq { return actionID },
	}
	pf := &pendingFetch{m: m, actionID: actionID}
	req.Callback = func(*cache.Request) { pf.done = true }
	if s.il1 != nil && s.il1.Enqueue(req) {
		s.pending = append(s.pending, pf)
	} else {
		// Cache fully occupied: treat as an immediate hit so the
		// functional stream still advances; bookkeeping-only fallback.
		pf.done = true
		s.pending = append(s.pending, pf)
	}
	s.oracle.Consume(m)
}

// drainPending moves every resolved pending fetch into the instruction
// queue, in order, stopping at the first still-outstanding entry so the IQ
// never reorders macro-ops relative to program order.
func (s *Stage) drainPending(cycle mop.Tick) {
	i := 0
	for i < len(s.pending) && s.pending[i].done {
		pf := s.pending[i]
		pf.m.Timing.WhenFetched = cycle
		s.iq = append(s.iq, pf.m)
		s.Stat.NumFetched++
		i++
	}
	s.pending = s.pending[i:]
}
