package bpred

import "oocoresim/internal/mop"

// TwoBit is a minimal bimodal (PC-indexed, 2-bit saturating counter)
// predictor, used as the fast-to-reason-about fallback in tests and for
// runs that don't need Tage's table-allocation behavior.
type TwoBit struct {
	counters []uint8
	mask     uint64
	pending  map[uint32]twoBitPending
	nextSlot uint32
}

type twoBitPending struct {
	index     uint64
	predicted bool
}

// NewTwoBit creates a TwoBit predictor with 2^indexBits counters, all
// initialized to strongly-not-taken (0).
func NewTwoBit(indexBits uint) *TwoBit {
	n := uint64(1) << indexBits
	return &TwoBit{
		counters: make([]uint8, n),
		mask:     n - 1,
		pending:  make(map[uint32]twoBitPending),
	}
}

func (b *TwoBit) index(pc uint64) uint64 {
	return (pc >> 2) & b.mask
}

// Lookup predicts taken when the indexed counter is >= 2 (weakly taken or
// strongly taken).
func (b *TwoBit) Lookup(pc uint64) (npc uint64, h mop.Handle) {
	idx := b.index(pc)
	predicted := b.counters[idx] >= 2

	b.nextSlot++
	b.pending[b.nextSlot] = twoBitPending{index: idx, predicted: predicted}

	if predicted {
		npc = pc + 16
	} else {
		npc = pc + 4
	}
	return npc, mop.Handle{Slot: b.nextSlot, Gen: 1}
}

// Update trains the counter this Lookup consulted.
func (b *TwoBit) Update(h mop.Handle, pc uint64, taken bool, targetPC uint64) {
	p, ok := b.pending[h.Slot]
	if !ok {
		return
	}
	delete(b.pending, h.Slot)
	c := b.counters[p.index]
	if taken && c < 3 {
		c++
	} else if !taken && c > 0 {
		c--
	}
	b.counters[p.index] = c
}

// Recover discards a pending reservation without training.
func (b *TwoBit) Recover(h mop.Handle) { delete(b.pending, h.Slot) }

// Flush discards a pending reservation without training.
func (b *TwoBit) Flush(h mop.Handle) { delete(b.pending, h.Slot) }
