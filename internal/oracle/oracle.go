// Package oracle implements the functional (non-timing) simulator: it
// drives the feeder for ground-truth instruction behavior, owns the
// dependency map (rename table), the shadow Mop queue, and the speculative
// memory byte store, and recovers machine state on a branch misprediction
// ("jeclear") or a full pipeline flush ("nuke").
package oracle

import (
	"fmt"

	"oocoresim/internal/feeder"
	"oocoresim/internal/logging"
	"oocoresim/internal/mop"
)

// BufferResult reports the outcome of BufferHandshake, mirroring
// buffer_result_t in zesto-oracle.h.
type BufferResult int

const (
	AllGood BufferResult = iota
	HandshakeNotNeeded
	HandshakeNotConsumed
)

// Oracle is the functional simulator for one core: it owns the Mop ring,
// the dependency map, the shadow Mop queue, and the speculative memory
// store, matching core_oracle_t.
type Oracle struct {
	CoreID int

	arena *mop.Arena

	mopSeq mop.Seq

	mopQ           []mop.Handle
	mopQHead       int
	mopQTail       int
	mopQNonSpecTail int
	mopQNum        int
	mopQSize       int
	mopQSpecNum    int

	currentMop *mop.Mop // executed but not yet consumed (fetch stalled)

	// expectedNPC is the oracle's own idea of the next PC; a fetch request
	// for any other address flips the oracle into speculative mode until a
	// recovery realigns the two.
	expectedNPC      uint64
	expectedNPCValid bool

	drainPipeline bool
	SpecMode      bool
	Consumed      bool

	shadow  *Shadow
	depMap  *depMap
	specMem *SpecMem

	feeder feeder.Feeder
	log    *logging.Logger
}

// NewOracle creates an Oracle for one core with a MopQ ring of the given
// size, backed by arena for uop/Mop allocation.
func NewOracle(coreID, mopQSize int, f feeder.Feeder, arena *mop.Arena, log *logging.Logger) *Oracle {
	return &Oracle{
		CoreID:   coreID,
		arena:    arena,
		mopQ:     make([]mop.Handle, mopQSize),
		mopQSize: mopQSize,
		shadow:   NewShadow(mopQSize),
		depMap:   newDepMap(),
		specMem:  NewSpecMem(),
		feeder:   f,
		log:      log,
	}
}

// CanExec reports whether the oracle can absorb a new Mop: it isn't
// fetch-stalled on a previously executed Mop, isn't draining from a trap,
// and the MopQ has room, matching core_oracle_t::can_exec.
func (o *Oracle) CanExec() bool {
	return o.currentMop == nil && !o.drainPipeline && o.mopQNum < o.mopQSize
}

// Exec asks the feeder for the next dynamic instruction at requestedPC,
// allocates a Mop for it from the arena, and records its fetch-time ground
// truth (PC, fallthrough, taken target, spec_mode), matching
// core_oracle_t::exec. It does not yet enqueue the Mop into the ring; the
// caller must follow with Consume once fetch has accepted it.
func (o *Oracle) Exec(requestedPC uint64) (*mop.Mop, bool) {
	if !o.CanExec() {
		return nil, false
	}
	var h feeder.Handshake
	var ok bool
	replaying := o.OnNukeRecoveryPath()
	if replaying {
		h, ok = o.shadow.NextReplay()
	} else {
		h, ok = o.feeder.SimulateHandshake(o.CoreID)
	}
	if !ok {
		return nil, false
	}
	if o.expectedNPCValid && requestedPC != o.expectedNPC {
		o.SpecMode = true
	}

	flowLen := 1 // default single-uop Mop; decode stage re-cracks as needed
	m := o.arena.AllocMop(flowLen)
	m.Oracle.Seq = o.arena.NextSeq()
	m.Fetch.PC = h.PC
	m.Fetch.PredNPC = h.NPC
	m.Fetch.FtPC = h.NPC
	m.Oracle.NextPC = h.NPC
	if h.TakenBranch {
		m.Oracle.NextPC = h.TargetPC
	}
	m.Oracle.ZeroRep = h.ZeroRep
	m.Oracle.TakenBranch = h.TakenBranch
	m.Oracle.SpecMode = o.SpecMode
	m.Decode.IsTrap = h.IsTrap
	m.Decode.IsCtrl = h.IsCtrl
	m.Decode.SemIsLoad = h.IsLoad
	m.Decode.SemIsStore = h.IsStore
	m.Decode.SemIDeps = h.IDeps
	m.Decode.SemODeps = h.ODeps
	m.Decode.SemMemAddr = h.MemAddr
	m.Decode.SemMemSize = h.MemSize
	if h.IsStore && h.Regs != nil {
		m.Decode.SemStoreData = h.Regs[h.IDeps[0]]
	}

	o.expectedNPC = m.Oracle.NextPC
	o.expectedNPCValid = true

	o.currentMop = m
	if !replaying {
		o.bufferHandshakeRecord(h, m)
	}
	return m, true
}

// bufferHandshakeRecord records h against the shadow queue, either as a new
// non-speculative entry (when not on a wrong path) or as a speculative
// sibling of the current non-speculative entry. Replayed handshakes are
// never re-recorded: their entries are already in the ring, behind the
// recovery cursor.
func (o *Oracle) bufferHandshakeRecord(h feeder.Handshake, m *mop.Mop) {
	if o.SpecMode {
		o.shadow.AttachSpeculative(m.Handle())
		return
	}
	if !o.shadow.Full() {
		o.shadow.Push(h)
	}
}

// Consume enqueues the oracle-executed Mop m into the MopQ ring, making it
// visible to fetch/decode, matching core_oracle_t::consume. It clears
// currentMop so a subsequent Exec can run.
func (o *Oracle) Consume(m *mop.Mop) {
	if o.currentMop != m {
		return
	}
	o.mopQ[o.mopQTail] = m.Handle()
	o.mopQTail = (o.mopQTail + 1) % o.mopQSize
	o.mopQNum++
	if m.Oracle.SpecMode {
		o.mopQSpecNum++
	} else {
		o.mopQNonSpecTail = (o.mopQTail - 1 + o.mopQSize) % o.mopQSize
	}
	o.currentMop = nil
	o.Consumed = true
}

// InstallDependencies links m's uops into the rename table. It must be
// called once decode has cracked m into its real uop flow (Consume only
// admits the fetch-time placeholder uop, whose operand names are not yet
// known), and before any younger Mop's Exec can safely read this Mop's
// producers back out of the dependency map.
func (o *Oracle) InstallDependencies(m *mop.Mop) {
	for i := range m.Uops {
		o.installDependencies(&m.Uops[i])
	}
	o.applyStoreEffects(m)
}

// specMemWidth bounds how many byte records one store installs, matching
// the fixed per-uop spec-memory array of the reference model.
const specMemWidth = 12

// applyStoreEffects installs a store Mop's speculative memory bytes,
// attributed to its STD uop so a squash of that uop unwinds exactly these
// writes. Called from InstallDependencies because the STD uop only exists
// once decode has cracked the real flow.
func (o *Oracle) applyStoreEffects(m *mop.Mop) {
	if !m.Decode.SemIsStore || m.Decode.SemMemSize <= 0 {
		return
	}
	var std *mop.Uop
	for i := range m.Uops {
		if m.Uops[i].Decode.IsSTD {
			std = &m.Uops[i]
		}
	}
	if std == nil {
		return
	}
	size := m.Decode.SemMemSize
	if size > specMemWidth {
		size = specMemWidth
	}
	for i := 0; i < size; i++ {
		addr := m.Decode.SemMemAddr + uint64(i)
		prev, prevOK := o.specMem.Read(addr)
		val := byte(m.Decode.SemStoreData >> (8 * uint(i)))
		o.specMem.Write(addr, val, prev, prevOK, std)
	}
}

// installDependencies links u's input operands to the current tail producer
// of each source register and installs u as the new tail producer of each
// destination register, matching install_mapping/install_dependencies.
func (o *Oracle) installDependencies(u *mop.Uop) {
	for i, reg := range u.Decode.IDepName {
		if reg == 0 {
			continue
		}
		producer := o.depMap.Tail(reg)
		u.Exec.IDepUop[i] = producer
		u.Oracle.IDepUop[i] = producer
		if producer == nil {
			continue
		}
		if producer.Exec.OValueValid {
			// Producer finished before this consumer was renamed; its
			// wakeup broadcast has already happened, so the operand is
			// marked ready here instead.
			u.Exec.IValueValid[i] = true
			u.Timing.WhenIValReady[i] = producer.Timing.WhenCompleted
			continue
		}
		producer.AddODep(o.arena, u, i, false)
	}
	for _, reg := range u.Decode.ODepName {
		if reg == 0 {
			continue
		}
		o.depMap.Install(reg, u)
	}
}

// InFlight reports how many Mops are currently in the ring.
func (o *Oracle) InFlight() int { return o.mopQNum }

// GetOldestMop returns the head (oldest in-flight) Mop, matching
// core_oracle_t::get_oldest_Mop. ok is false if the ring is empty.
func (o *Oracle) GetOldestMop() (*mop.Mop, bool) {
	if o.mopQNum == 0 {
		return nil, false
	}
	return o.arena.Resolve(o.mopQ[o.mopQHead])
}

// Commit retires commitMop: folds its dependency-map entries into
// architectural state (pops them from the head of each chain) and, once it
// was the oldest non-speculative entry, drops the corresponding shadow
// queue record along with any speculative siblings that branched from it.
// Matches core_oracle_t::commit.
func (o *Oracle) Commit(commitMop *mop.Mop) {
	for i := range commitMop.Uops {
		o.commitUop(&commitMop.Uops[i])
	}
	if !commitMop.Oracle.SpecMode {
		o.shadow.Pop()
	} else {
		o.mopQSpecNum--
	}

	o.mopQHead = (o.mopQHead + 1) % o.mopQSize
	o.mopQNum--
	o.arena.FreeMop(commitMop)
}

// commitUop pops u from the head of each destination register's chain and
// releases its dataflow edges, matching commit_mapping + the idep_uop
// clearing called for by invariant (ii).
func (o *Oracle) commitUop(u *mop.Uop) {
	for _, reg := range u.Decode.ODepName {
		if reg == 0 {
			continue
		}
		o.depMap.Commit(reg, u)
	}
	if u.Decode.IsSTD {
		o.specMem.CommitWriter(u)
	}
	// The producer leaves the machine: every surviving consumer's idep
	// pointer to it is cleared and the operand is served from the
	// (conceptual) register file from here on.
	u.EachODep(func(consumer *mop.Uop, opNum int, aflags bool) {
		if consumer.Exec.IDepUop[opNum] == u {
			consumer.Exec.IDepUop[opNum] = nil
			consumer.Oracle.IDepUop[opNum] = nil
			consumer.Exec.IValueValid[opNum] = true
		}
	})
	u.ReleaseODeps(o.arena)
	for i := range u.Exec.IDepUop {
		u.Exec.IDepUop[i] = nil
		u.Oracle.IDepUop[i] = nil
	}
}

// Recover squashes every Mop younger than m (m itself survives), undoing
// their dependency-map installs and speculative memory writes, matching
// core_oracle_t::recover. It does not touch timing-stage structures; that
// is PipeRecover's job.
func (o *Oracle) Recover(m *mop.Mop) {
	idx := o.mopQTail
	for idx != o.mopQHead {
		idx = (idx - 1 + o.mopQSize) % o.mopQSize
		h := o.mopQ[idx]
		cand, ok := o.arena.Resolve(h)
		if !ok || cand == m {
			break
		}
		o.undo(cand)
		o.mopQTail = idx
		o.mopQNum--
		if cand.Oracle.SpecMode {
			o.mopQSpecNum--
		} else {
			o.shadow.PopTail()
		}
		o.arena.FreeMop(cand)
	}
}

// undo reverses a not-yet-committed Mop's effects: pops its dependency-map
// installs from the tail of each chain and unwinds any speculative memory
// writes it authored, matching core_oracle_t::undo.
func (o *Oracle) undo(m *mop.Mop) {
	for i := range m.Uops {
		u := &m.Uops[i]
		for _, reg := range u.Decode.ODepName {
			if reg == 0 {
				continue
			}
			o.depMap.Undo(reg, u)
		}
		for opNum, producer := range u.Exec.IDepUop {
			if producer != nil {
				producer.RemoveODep(o.arena, u, opNum)
			}
		}
		o.specMem.UndoWriter(u)
		u.ReleaseODeps(o.arena)
	}
}

// PipeRecover unrolls timing-stage state for m and resets the oracle to
// fetch again from newPC, matching core_oracle_t::pipe_recover. The caller
// (fetch stage) is responsible for the front-end bubble delay named in
// spec §4.2/§4.4.
func (o *Oracle) PipeRecover(m *mop.Mop, newPC uint64) {
	o.Recover(m)
	o.currentMop = nil
	m.Oracle.NextPC = newPC
	m.Commit.JeclearInFlight = false
	o.SpecMode = false
	o.expectedNPC = newPC
	o.expectedNPCValid = true
}

// CompleteFlush drains every in-flight Mop without committing it (a nuke),
// undoing dependency-map and speculative-memory effects for all of them and
// clearing the speculative-memory store entirely, matching
// core_oracle_t::complete_flush.
func (o *Oracle) CompleteFlush() {
	for o.mopQNum > 0 {
		h := o.mopQ[o.mopQHead]
		cand, ok := o.arena.Resolve(h)
		if ok {
			o.undo(cand)
			o.arena.FreeMop(cand)
		}
		o.mopQHead = (o.mopQHead + 1) % o.mopQSize
		o.mopQNum--
	}
	o.mopQSpecNum = 0
	o.mopQTail = o.mopQHead
	o.currentMop = nil
	o.SpecMode = false
	o.expectedNPCValid = false
	o.specMem.Clear()
}

// BufferHandshake absorbs a feeder handshake ahead of demand, returning
// HandshakeNotNeeded if the oracle is still replaying Mops on the
// nuke-recovery path (it already has every handshake it needs) and
// HandshakeNotConsumed if the shadow ring has no room, in which case the
// feeder must re-present h later, matching core_oracle_t::buffer_handshake.
func (o *Oracle) BufferHandshake(h feeder.Handshake) BufferResult {
	if o.OnNukeRecoveryPath() {
		return HandshakeNotNeeded
	}
	if o.shadow.Full() {
		return HandshakeNotConsumed
	}
	o.shadow.Push(h)
	return AllGood
}

// Nuke recovers from a load/store-ordering violation: every in-flight Mop
// is squashed (none of them committed, so their handshakes are all still in
// the shadow ring) and the replay cursor is rewound so subsequent Exec
// calls re-execute the squashed instructions from shadow storage rather
// than asking the feeder, which has already advanced past them.
func (o *Oracle) Nuke() {
	o.CompleteFlush()
	o.SpecMode = false
	o.shadow.BeginReplay()
}

// NumMopsBeforeFeeder reports how many shadow-queue entries the nuke-replay
// cursor has yet to re-execute before the oracle can resume pulling new
// instructions from the feeder (0 outside nuke recovery), matching
// num_Mops_before_feeder.
func (o *Oracle) NumMopsBeforeFeeder() int {
	return o.shadow.NumBeforeFeeder()
}

// OnNukeRecoveryPath reports whether the oracle is still replaying
// previously-seen Mops rather than consuming fresh feeder handshakes,
// matching core_oracle_t::on_nuke_recovery_path.
func (o *Oracle) OnNukeRecoveryPath() bool {
	return o.NumMopsBeforeFeeder() > 0
}

// IsDraining reports whether the oracle is draining the pipeline after a
// trap, matching core_oracle_t::is_draining.
func (o *Oracle) IsDraining() bool { return o.drainPipeline }

// SetDraining starts or stops trap-drain mode.
func (o *Oracle) SetDraining(draining bool) { o.drainPipeline = draining }

// ReconcileCheckpoint compares a restored register snapshot against the
// feeder's current view of architectural state after a checkpoint restore,
// surfacing any mismatch as feeder-inconsistency rather than silently
// diverging. want is the checkpointed snapshot; got is read back from the
// feeder via its own accessors by the caller. The caller recovers by
// overwriting simulator state with the checkpoint's and warning; the
// mismatch is never fatal.
func (o *Oracle) ReconcileCheckpoint(want []feeder.RegSnapshot, got map[int16]uint64) error {
	for _, snap := range want {
		gv, ok := got[snap.Name]
		if !ok {
			return fmt.Errorf("feeder inconsistency: core %d missing register %d after restore", o.CoreID, snap.Name)
		}
		if gv != snap.Value {
			return fmt.Errorf("feeder inconsistency: core %d register %d want %#x got %#x", o.CoreID, snap.Name, snap.Value, gv)
		}
	}
	return nil
}
