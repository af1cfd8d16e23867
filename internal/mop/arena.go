package mop

import (
	"sync"

	"oocoresim/internal/constants"
)

// Arena hands out pointer-stable Mop slots and recycles their uop slabs
// through a freelist keyed by flow length, rather than allocating per Mop
// per cycle. This generalizes the teacher's size-bucketed sync.Pool buffer
// allocator (internal/queue/pool.go in ehrlich-b-go-ublk) from fixed byte
// buckets to flow-length-keyed uop slabs, adding the generation-tagged
// Handle indirection the teacher's buffer pool never needed since it never
// had to guard against stale cross-goroutine references.
type Arena struct {
	mu sync.Mutex

	slots []arenaSlot
	free  []uint32

	// slabsByLen pools []Uop slices by flow length so a freed Mop's slab
	// can be handed to the next Mop that needs the same length, mirroring
	// x86::get_uop_array/return_uop_array.
	slabsByLen map[int][][]Uop

	odepFreelist *odep
	nextSeq      Seq
}

type arenaSlot struct {
	mop *Mop
	gen uint32
	live bool
}

// NewArena creates an empty Arena. capacityHint pre-sizes the slot table; it
// is advisory, not a hard limit — the arena grows as needed.
func NewArena(capacityHint int) *Arena {
	return &Arena{
		slots:      make([]arenaSlot, 0, capacityHint),
		slabsByLen: make(map[int][][]Uop),
	}
}

// AllocMop reserves a Mop slot and a contiguous Uop slab of the given flow
// length, matching Mop_t::allocate_uops. The returned Mop is zeroed and
// valid; its Handle is stable until FreeMop is called for it.
func (a *Arena) AllocMop(flowLength int) *Mop {
	a.mu.Lock()
	defer a.mu.Unlock()

	var slot uint32
	if n := len(a.free); n > 0 {
		slot = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		slot = uint32(len(a.slots))
		a.slots = append(a.slots, arenaSlot{})
	}

	s := &a.slots[slot]
	s.gen++
	s.live = true
	if s.mop == nil {
		s.mop = &Mop{}
	}
	m := s.mop
	m.handle = Handle{Slot: slot, Gen: s.gen}
	m.arena = a

	m.Uops = a.getSlab(flowLength)
	for i := range m.Uops {
		m.Uops[i].reset()
		m.Uops[i].Mop = m
		m.Uops[i].FlowIndex = i
	}
	m.clear()
	m.Decode.FlowLength = flowLength
	return m
}

// ResizeUops replaces m's uop slab with one of flowLength, preserving m's
// Handle and fetch/oracle fields. Decode calls this once it has cracked a
// Mop past the single-uop placeholder Oracle.Exec allocates, matching
// Mop_t::allocate_uops being called a second time with the real flow
// length once the cracker (rather than the fetch-time guess) knows it.
func (a *Arena) ResizeUops(m *Mop, flowLength int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.putSlab(m.Decode.FlowLength, m.Uops)
	m.Uops = a.getSlab(flowLength)
	for i := range m.Uops {
		m.Uops[i].reset()
		m.Uops[i].Mop = m
		m.Uops[i].FlowIndex = i
	}
	m.Decode.FlowLength = flowLength
}

// FreeMop releases m's slot and recycles its uop slab. Any Handle captured
// before this call becomes stale: Resolve will return (nil, false) for it
// once the slot is reused with a bumped generation.
func (a *Arena) FreeMop(m *Mop) {
	a.mu.Lock()
	defer a.mu.Unlock()

	slot := m.handle.Slot
	a.slots[slot].live = false
	a.free = append(a.free, slot)
	a.putSlab(m.Decode.FlowLength, m.Uops)
	m.Uops = nil
}

// Resolve dereferences a Handle, returning (nil, false) if the slot has
// since been freed and reused (generation mismatch) — the stale-callback
// guard central to squash-safety throughout the pipeline.
func (a *Arena) Resolve(h Handle) (*Mop, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if h.Zero() || int(h.Slot) >= len(a.slots) {
		return nil, false
	}
	s := &a.slots[h.Slot]
	if !s.live || s.gen != h.Gen {
		return nil, false
	}
	return s.mop, true
}

// NextSeq returns the next monotonically increasing sequence number, used
// both as a Mop/uop unique id and as the seed for a fresh action_id.
func (a *Arena) NextSeq() Seq {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextSeq++
	return a.nextSeq
}

func (a *Arena) getSlab(flowLength int) []Uop {
	bucket := a.slabsByLen[flowLength]
	if n := len(bucket); n > 0 {
		slab := bucket[n-1]
		a.slabsByLen[flowLength] = bucket[:n-1]
		return slab
	}
	if flowLength > constants.MaxFlowLen {
		flowLength = constants.MaxFlowLen
	}
	return make([]Uop, flowLength)
}

func (a *Arena) putSlab(flowLength int, slab []Uop) {
	a.slabsByLen[flowLength] = append(a.slabsByLen[flowLength], slab)
}

// getOdep pops a link node off the odep freelist, allocating a fresh one
// only when the freelist is empty.
func (a *Arena) getOdep() *odep {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n := a.odepFreelist; n != nil {
		a.odepFreelist = n.next
		*n = odep{}
		return n
	}
	return &odep{}
}

// putOdep returns a chain of link nodes (as built by EachODep traversal) to
// the freelist. Called when a uop's output-dependency list is torn down on
// commit or squash.
func (a *Arena) putOdep(head *odep) {
	if head == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	tail := head
	for tail.next != nil {
		tail = tail.next
	}
	tail.next = a.odepFreelist
	a.odepFreelist = head
}

// ReleaseODeps returns u's output-dependency list to the arena freelist and
// clears it, matching the commit-time teardown of idep_uop pointers called
// for by invariant (ii): idep_uop pointers are cleared on commit of the
// producer.
func (u *Uop) ReleaseODeps(a *Arena) {
	a.putOdep(u.Exec.ODepUop)
	u.Exec.ODepUop = nil
}
