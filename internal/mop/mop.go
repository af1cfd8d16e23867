// Package mop implements the Mop/uop dataflow data model: the macro-op and
// micro-op records that flow through fetch, decode, execute, and commit, and
// the arena that allocates them without per-cycle heap churn.
//
// Field grouping mirrors the nested decode/alloc/exec/oracle/timing structs
// of uop_t and the fetch/decode/commit/oracle/timing/stat structs of Mop_t
// in the reference simulator this package is modeled on.
package mop

import "oocoresim/internal/constants"

// Tick is a simulator cycle count. TickMax is used as the "not yet reached"
// sentinel for every when_* timestamp field, matching TICK_T_MAX semantics.
type Tick int64

const TickMax = Tick(1<<63 - 1)

// Seq is a monotonically increasing allocation sequence number, used both as
// a uop's unique id and as the basis for its action_id squash stamp.
type Seq uint64

// FUClass identifies which functional unit a uop executes on.
type FUClass int

const (
	FUNone FUClass = iota
	FUIntALU
	FUIntMul
	FUIntDiv
	FUFPAdd
	FUFPMul
	FUFPDiv
	FULoad
	FUStoreAddr
	FUStoreData
	FUBranch
)

// FusionMask identifies which fusion family, if any, a uop belongs to.
type FusionMask uint8

const (
	FusionNone FusionMask = 0
	FusionLoadOp FusionMask = 1 << iota
	FusionLoadOpStore
	FusionStaStd
	FusionFPLoadOp
	FusionPartialMerge
)

// Handle is a stale-callback-safe reference into an Arena: a slot index plus
// the arena's live generation for that slot at allocation time. A Handle
// whose generation has since been bumped (the Mop it pointed to was freed
// and the slot reused) resolves to (nil, false) instead of a stale pointer.
type Handle struct {
	Slot uint32
	Gen  uint32
}

// Zero reports whether h is the zero-value handle (no Mop referenced).
func (h Handle) Zero() bool { return h.Slot == 0 && h.Gen == 0 }

// decodeFields groups the decode-time fields of a uop, mirroring uop_t::decode.
type decodeFields struct {
	Opflags   uint32
	HasImm    bool
	IsImm     bool
	IDepName  [constants.MaxIDeps]int16
	ODepName  [constants.MaxODeps]int16
	MemSize   int

	BOM bool
	EOM bool

	IsCtrl      bool
	IsLoad      bool
	IsSTA       bool
	IsSTD       bool
	IsNop       bool
	IsFence     bool
	IsLightFence bool
	IsAgen      bool
	IsFPOp      bool

	MopSeq Seq
	UopSeq Seq

	FUClass FUClass

	InFusion     bool
	IsFusionHead bool
	FusionSize   int
	FusionKind   FusionMask
	FusionHead   *Uop
	FusionNext   *Uop
}

// allocFields groups the structure-allocation fields, mirroring uop_t::alloc.
type allocFields struct {
	ROBIndex           int
	RSIndex            int
	LDQIndex           int
	STQIndex           int
	PortAssignment     int
	FullFusionAllocated bool
}

// odep is one link in a uop's output dependency list (dataflow children),
// mirroring odep_t. Nodes are recycled through Arena.odepFreelist rather than
// garbage collected individually.
type odep struct {
	uop    *Uop
	opNum  int
	aflags bool
	next   *odep
}

// execFields groups execution-engine dataflow state, mirroring uop_t::exec.
type execFields struct {
	InReadyQ bool
	ActionID Seq

	IDepUop [constants.MaxIDeps]*Uop
	ODepUop *odep

	IValueValid [constants.MaxIDeps]bool
	OValueValid bool

	WhenDataLoaded     Tick
	WhenAddrTranslated Tick

	UopsInRS   int
	NumReplays int
}

// oracleFields groups oracle-phase memory/dependence info, mirroring uop_t::oracle.
type oracleFields struct {
	MemOpIndex int
	VirtAddr   uint64
	PhysAddr   uint64

	IDepUop [constants.MaxIDeps]*Uop
	ODepUop *odep

	IsRepeated  bool
	IsSyncOp    bool
	RecoverInst bool
}

// timingFields groups per-cycle timestamps, mirroring uop_t::timing.
type timingFields struct {
	WhenDecoded   Tick
	WhenAllocated Tick

	WhenITagReady [constants.MaxIDeps]Tick
	WhenOTagReady Tick

	WhenIValReady [constants.MaxIDeps]Tick

	WhenReady    Tick
	WhenIssued   Tick
	WhenExec     Tick
	WhenCompleted Tick
}

// Uop is one micro-op: a single execution-engine operation produced by
// decoding a Mop. Uops within a Mop's flow are allocated contiguously from
// an Arena slab and never individually reallocated; FlowIndex is their
// position in that slab.
type Uop struct {
	Mop *Mop

	Decode decodeFields
	Alloc  allocFields
	Exec   execFields
	Oracle oracleFields
	Timing timingFields

	FlowIndex int
}

// reset clears a Uop to its post-zero defaults, matching uop_t's
// constructor: all when_* timestamps set to TickMax, alloc indices to -1,
// sequence numbers to their invalid sentinel.
func (u *Uop) reset() {
	*u = Uop{}
	u.Alloc.ROBIndex = -1
	u.Alloc.RSIndex = -1
	u.Alloc.LDQIndex = -1
	u.Alloc.STQIndex = -1
	u.Alloc.PortAssignment = -1
	u.Oracle.MemOpIndex = -1
	u.Decode.MopSeq = Seq(^uint64(0))
	u.Decode.UopSeq = Seq(^uint64(0))

	u.Timing.WhenDecoded = TickMax
	u.Timing.WhenAllocated = TickMax
	u.Timing.WhenOTagReady = TickMax
	u.Timing.WhenReady = TickMax
	u.Timing.WhenIssued = TickMax
	u.Timing.WhenExec = TickMax
	u.Timing.WhenCompleted = TickMax
	for i := range u.Timing.WhenITagReady {
		u.Timing.WhenITagReady[i] = TickMax
		u.Timing.WhenIValReady[i] = TickMax
	}

	u.Exec.ActionID = Seq(^uint64(0))
	u.Exec.WhenDataLoaded = TickMax
	u.Exec.WhenAddrTranslated = TickMax
}

// AddODep appends an output-dependency edge (uop consumes this uop's result
// through operand opNum) using a's odepFreelist rather than a fresh
// heap allocation.
func (u *Uop) AddODep(a *Arena, consumer *Uop, opNum int, aflags bool) {
	n := a.getOdep()
	n.uop = consumer
	n.opNum = opNum
	n.aflags = aflags
	n.next = u.Exec.ODepUop
	u.Exec.ODepUop = n
}

// RemoveODep unlinks the edge to consumer for operand opNum, recycling the
// link node. Called when the consumer is squashed while this producer
// survives, so a later completion broadcast cannot write into a recycled
// uop slot.
func (u *Uop) RemoveODep(a *Arena, consumer *Uop, opNum int) {
	var prev *odep
	for n := u.Exec.ODepUop; n != nil; n = n.next {
		if n.uop == consumer && n.opNum == opNum {
			if prev == nil {
				u.Exec.ODepUop = n.next
			} else {
				prev.next = n.next
			}
			n.next = nil
			a.putOdep(n)
			return
		}
		prev = n
	}
}

// EachODep invokes fn for every output-dependency edge of u, in
// most-recently-added-first order (the C++ list is built by prepend).
func (u *Uop) EachODep(fn func(consumer *Uop, opNum int, aflags bool)) {
	for n := u.Exec.ODepUop; n != nil; n = n.next {
		fn(n.uop, n.opNum, n.aflags)
	}
}

// fetchFields groups fetch-time state, mirroring Mop_t::fetch.
type fetchFields struct {
	PC               uint64
	PredNPC          uint64
	FtPC             uint64
	Inst             uint32
	FirstByteRequested bool
	LastByteRequested  bool

	JeclearActionID Seq
	BpredUpdate     Handle
}

// decodeMopFields groups decode-time Mop state, mirroring Mop_t::decode.
type decodeMopFields struct {
	FlowLength     int
	LastUopIndex   int
	TargetPC       uint64
	IsTrap         bool
	IsCtrl         bool
	LastStageIndex int

	// SemIsLoad/SemIsStore/SemIDeps/SemODeps are the feeder-supplied
	// semantic ground truth (is_load/is_store/register read-write sets)
	// the cracker needs in place of a real x86 decode, mirroring what
	// uop_cracker.cpp's fallback() reads off XED's iform tables.
	SemIsLoad  bool
	SemIsStore bool
	SemIDeps   [constants.MaxIDeps]int16
	SemODeps   [constants.MaxODeps]int16

	// SemMemAddr/SemMemSize carry the feeder-supplied effective address
	// and access width for a load or store Mop, mirroring the way
	// SemIsLoad/SemIsStore stand in for a real x86 decode (see
	// feeder.Handshake.MemAddr).
	SemMemAddr uint64
	SemMemSize int

	// SemStoreData is the value a store Mop writes, read out of the
	// handshake's register snapshot so the oracle can install the
	// speculative memory bytes without interpreting x86 semantics.
	SemStoreData uint64
}

// commitFields groups commit bookkeeping, mirroring Mop_t::commit.
type commitFields struct {
	CompleteIndex    int
	CommitIndex      int
	JeclearInFlight  bool
}

// oracleMopFields groups oracle-known ground truth, mirroring Mop_t::oracle.
type oracleMopFields struct {
	NextPC      uint64
	Seq         Seq
	ZeroRep     bool
	SpecMode    bool
	TakenBranch bool
	RecoverInst bool
}

// timingMopFields groups per-event timestamps, mirroring Mop_t::timing.
type timingMopFields struct {
	WhenFetchStarted   Tick
	WhenFetched        Tick
	WhenMSStarted      Tick
	WhenDecodeStarted  Tick
	WhenDecodeFinished Tick
	WhenCommitStarted  Tick
	WhenCommitFinished Tick
}

// statFields groups per-Mop counters, mirroring Mop_t::stat.
type statFields struct {
	NumUops    int
	NumEffUops int
	NumRefs    int
	NumLoads   int
	NumBranches int
}

// Mop is one architectural (macro) instruction. Allocation gives it a
// single-uop placeholder slab, which decode replaces once, through
// Arena.ResizeUops, with the cracked flow; after that its Uops slice and
// flow length do not change. It is consumed by commit strictly in program
// order.
type Mop struct {
	Valid bool

	Fetch  fetchFields
	Decode decodeMopFields
	Commit commitFields
	Oracle oracleMopFields
	Timing timingMopFields
	Stat   statFields

	Uops []Uop

	handle Handle
	arena  *Arena
}

// Handle returns the stale-safe handle for this Mop within its owning Arena.
func (m *Mop) Handle() Handle { return m.handle }

// clear resets a Mop to its post-zero defaults, matching Mop_t::clear(): all
// when_* timestamps set to TickMax, Valid set true.
func (m *Mop) clear() {
	uops := m.Uops
	handle := m.handle
	arena := m.arena
	*m = Mop{}
	m.Uops = uops
	m.handle = handle
	m.arena = arena
	m.Valid = true

	m.Timing.WhenFetchStarted = TickMax
	m.Timing.WhenFetched = TickMax
	m.Timing.WhenMSStarted = TickMax
	m.Timing.WhenDecodeStarted = TickMax
	m.Timing.WhenDecodeFinished = TickMax
	m.Timing.WhenCommitStarted = TickMax
	m.Timing.WhenCommitFinished = TickMax
}
