package decode

import "oocoresim/internal/mop"

// AllocConfig bounds the out-of-order structures an Allocator hands out
// slots from. PortBinding maps each FU class to the execution ports it may
// use; allocation binds each uop round-robin across its class's port
// list, the binding policy the scheduler then enforces at issue.
type AllocConfig struct {
	ROBSize     int
	RSSize      int
	LDQSize     int
	STQSize     int
	NumPorts    int
	PortBinding map[mop.FUClass][]int
}

// Allocator reserves ROB/RS/LDQ/STQ entries and an execution port for every
// uop in a cracked Mop, and tags fusible uop groups with a FusionMask,
// grounded on the FUSION_* defines in machine.h. RS/LDQ/STQ indices come
// off free lists rather than a bump counter: entries retire in program
// order but younger Mops can still be holding higher indices when an older
// one releases, so a recycled index must be one that is actually free.
//
// Four of the five fusion families this Allocator can legitimately see are
// detected below. Partial-register-merge fusion exists in the original
// machine to fuse a partial destination-register write with the
// instruction that later reads the full register; since this reference
// model does not track sub-register width, that family is permanently
// empty here rather than faked.
type Allocator struct {
	cfg AllocConfig

	robUsed int
	rsFree  []int
	ldqFree []int
	stqFree []int

	// portRR is the per-FU-class rotation cursor over that class's port
	// list, so consecutive uops of one class spread across its ports.
	portRR map[mop.FUClass]int
}

// NewAllocator creates an Allocator bounded by cfg.
func NewAllocator(cfg AllocConfig) *Allocator {
	if cfg.NumPorts <= 0 {
		cfg.NumPorts = 1
	}
	a := &Allocator{cfg: cfg, portRR: make(map[mop.FUClass]int)}
	a.Reset()
	return a
}

// bindPort picks the next port in fu's binding list, or -1 when no binding
// is configured (the scheduler then falls back to class eligibility at
// issue time).
func (a *Allocator) bindPort(fu mop.FUClass) int {
	ports := a.cfg.PortBinding[fu]
	if len(ports) == 0 {
		return -1
	}
	port := ports[a.portRR[fu]%len(ports)]
	a.portRR[fu]++
	return port
}

// Reset returns every entry to the free pool at once, used at construction
// and on a full pipeline flush.
func (a *Allocator) Reset() {
	a.robUsed = 0
	a.rsFree = freeList(a.cfg.RSSize)
	a.ldqFree = freeList(a.cfg.LDQSize)
	a.stqFree = freeList(a.cfg.STQSize)
}

// freeList builds the index pool in descending order so pops hand out the
// lowest free index first.
func freeList(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = n - 1 - i
	}
	return out
}

func pop(s *[]int) int {
	n := len(*s)
	idx := (*s)[n-1]
	*s = (*s)[:n-1]
	return idx
}

// CanAllocate reports whether a Mop with the given flow length and
// load/store flags currently fits within ROB/RS/LDQ/STQ capacity.
func (a *Allocator) CanAllocate(flowLen int, hasLoad, hasStore bool) bool {
	if a.robUsed+flowLen > a.cfg.ROBSize {
		return false
	}
	if flowLen > len(a.rsFree) {
		return false
	}
	if hasLoad && len(a.ldqFree) == 0 {
		return false
	}
	if hasStore && len(a.stqFree) == 0 {
		return false
	}
	return true
}

// Reserve assigns ROB/RS/port indices to every uop of m, an LDQ index to
// its load uop (if any), and an STQ index shared by its STA/STD pair (if
// any), and tags fusible groups. It reports false without reserving
// anything if m does not currently fit.
func (a *Allocator) Reserve(m *mop.Mop) bool {
	flowLen := len(m.Uops)
	hasLoad := m.Decode.SemIsLoad
	hasStore := m.Decode.SemIsStore
	if !a.CanAllocate(flowLen, hasLoad, hasStore) {
		return false
	}

	ldqIndex := -1
	if hasLoad {
		ldqIndex = pop(&a.ldqFree)
	}
	stqIndex := -1
	if hasStore {
		stqIndex = pop(&a.stqFree)
	}

	for i := range m.Uops {
		u := &m.Uops[i]
		u.Alloc.ROBIndex = a.robUsed + i
		u.Alloc.RSIndex = pop(&a.rsFree)
		u.Alloc.PortAssignment = a.bindPort(u.Decode.FUClass)

		if u.Decode.IsLoad {
			u.Alloc.LDQIndex = ldqIndex
		}
		if u.Decode.IsSTA || u.Decode.IsSTD {
			u.Alloc.STQIndex = stqIndex
		}
	}
	a.robUsed += flowLen

	a.tagFusion(m, hasLoad, hasStore)
	return true
}

// tagFusion marks the load-op, load-op-store, sta-std, and fp-load-op
// families wherever the cracked flow matches their shape, mirroring
// FUSION_TYPE's encoding of a fused group's head uop.
func (a *Allocator) tagFusion(m *mop.Mop, hasLoad, hasStore bool) {
	opIndex := 0
	if hasLoad {
		opIndex = 1
	}
	op := &m.Uops[opIndex]

	switch {
	case hasLoad && hasStore:
		a.fuse(m, mop.FusionLoadOpStore, 0, opIndex+2)
	case hasLoad && op.Decode.IsFPOp:
		a.fuse(m, mop.FusionFPLoadOp, 0, opIndex)
	case hasLoad:
		a.fuse(m, mop.FusionLoadOp, 0, opIndex)
	}

	if hasStore {
		a.fuse(m, mop.FusionStaStd, opIndex+1, opIndex+2)
	}
}

func (a *Allocator) fuse(m *mop.Mop, kind mop.FusionMask, head, tail int) {
	h := &m.Uops[head]
	h.Decode.IsFusionHead = true
	h.Decode.FusionKind |= kind
	h.Decode.FusionSize = tail - head + 1
	for i := head; i <= tail; i++ {
		m.Uops[i].Decode.InFusion = true
		m.Uops[i].Decode.FusionKind |= kind
		m.Uops[i].Decode.FusionHead = h
	}
}

// Release frees the ROB/RS/LDQ/STQ entries a previously reserved Mop held,
// called once the Mop retires (or is squashed), matching the structural
// deallocation half of alloc_stage's bookkeeping. It must run before the
// Mop's uop slab is recycled, while the per-uop indices are still
// readable.
func (a *Allocator) Release(m *mop.Mop) {
	released := false
	for i := range m.Uops {
		u := &m.Uops[i]
		if u.Alloc.RSIndex >= 0 {
			a.rsFree = append(a.rsFree, u.Alloc.RSIndex)
			u.Alloc.RSIndex = -1
		}
		if u.Decode.IsLoad && u.Alloc.LDQIndex >= 0 {
			a.ldqFree = append(a.ldqFree, u.Alloc.LDQIndex)
			u.Alloc.LDQIndex = -1
		}
		if u.Decode.IsSTD && u.Alloc.STQIndex >= 0 {
			a.stqFree = append(a.stqFree, u.Alloc.STQIndex)
			u.Alloc.STQIndex = -1
		}
		released = true
	}
	if released {
		a.robUsed -= len(m.Uops)
		if a.robUsed < 0 {
			a.robUsed = 0
		}
	}
}
