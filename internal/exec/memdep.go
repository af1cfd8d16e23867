package exec

import (
	"sync"

	"oocoresim/internal/mop"
)

// MemDepPredictor decides whether a load with an address-unresolved older
// store ahead of it in the STQ should stall rather than speculate past it,
// and is trained on the outcome once the store's address resolves.
type MemDepPredictor interface {
	// ShouldStall reports whether ld, which has at least one older store of
	// unknown address still in the STQ, should wait rather than issue
	// speculatively.
	ShouldStall(ld *mop.Uop) bool

	// Train records whether a load that was allowed to issue past an
	// unresolved store actually conflicted with it once the address
	// resolved.
	Train(ld *mop.Uop, conflicted bool)

	// TrainByPC is Train keyed by the load's fetch PC alone, for the
	// nuke path where the violating load's uop has already been squashed
	// by the time the conflict is discovered.
	TrainByPC(pc uint64, conflicted bool)
}

// AlwaysStall is the conservative predictor: any load with an
// address-unresolved older store always waits. It never mis-speculates
// past a store, at the cost of never overlapping independent loads and
// stores.
type AlwaysStall struct{}

func (AlwaysStall) ShouldStall(*mop.Uop) bool { return true }
func (AlwaysStall) Train(*mop.Uop, bool)      {}
func (AlwaysStall) TrainByPC(uint64, bool)    {}

// NeverStall is the aggressive predictor: loads always issue speculatively
// past an address-unresolved store, relying on the ordering-violation nuke
// that LoadStore raises once the store's address is known.
type NeverStall struct{}

func (NeverStall) ShouldStall(*mop.Uop) bool { return false }
func (NeverStall) Train(*mop.Uop, bool)      {}
func (NeverStall) TrainByPC(uint64, bool)    {}

// StoreSets is a minimal store-sets-style predictor: it remembers, per
// fetch PC, how many times a load at that PC has actually conflicted with
// an earlier store, and stalls only loads whose PC has a conflict history,
// decaying that history on a clean outcome.
type StoreSets struct {
	mu      sync.Mutex
	history map[uint64]int
}

// NewStoreSets creates an empty StoreSets predictor.
func NewStoreSets() *StoreSets {
	return &StoreSets{history: make(map[uint64]int)}
}

func (s *StoreSets) ShouldStall(ld *mop.Uop) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history[ld.Mop.Fetch.PC] > 0
}

func (s *StoreSets) Train(ld *mop.Uop, conflicted bool) {
	s.TrainByPC(ld.Mop.Fetch.PC, conflicted)
}

func (s *StoreSets) TrainByPC(pc uint64, conflicted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conflicted {
		s.history[pc]++
		return
	}
	if s.history[pc] > 0 {
		s.history[pc]--
	}
}
