// Package bpred implements the pluggable branch-prediction family consumed
// by fetch: a predictor interface plus two concrete implementations, a BTB,
// and a return-address stack.
package bpred

import "oocoresim/internal/mop"

// Predictor is the pluggable direction/target predictor interface every
// fetch-time prediction family implements.
type Predictor interface {
	// Lookup predicts the next PC after pc and returns a Handle the caller
	// must present back to Update or Recover once the real outcome (or a
	// squash) is known.
	Lookup(pc uint64) (npc uint64, h mop.Handle)

	// Update commits the real outcome for a previous Lookup.
	Update(h mop.Handle, pc uint64, taken bool, targetPC uint64)

	// Recover reverts any speculative state installed by a Lookup that
	// turned out to be on a squashed path.
	Recover(h mop.Handle)

	// Flush discards a pending Lookup's reservation without penalizing
	// predictor accuracy counters, used for full-pipeline nukes.
	Flush(h mop.Handle)
}

// BTB is a branch target buffer keyed by PC, held in a map of at most size
// entries.
type BTB struct {
	entries map[uint64]uint64
	size    int
}

// NewBTB creates a BTB that retains at most size entries, evicting
// arbitrarily (map iteration order) once full — adequate for a reference
// model that does not claim precise LRU fidelity for the BTB specifically.
func NewBTB(size int) *BTB {
	return &BTB{entries: make(map[uint64]uint64, size), size: size}
}

// Lookup returns the last known target for pc, if any.
func (b *BTB) Lookup(pc uint64) (target uint64, ok bool) {
	t, ok := b.entries[pc]
	return t, ok
}

// Update records pc's taken target.
func (b *BTB) Update(pc, target uint64) {
	if len(b.entries) >= b.size {
		for k := range b.entries {
			delete(b.entries, k)
			break
		}
	}
	b.entries[pc] = target
}

// RAS is a fixed-depth return-address stack.
type RAS struct {
	stack []uint64
	top   int
}

// NewRAS creates a RAS with the given depth.
func NewRAS(depth int) *RAS {
	return &RAS{stack: make([]uint64, depth)}
}

// Push records a call's return address.
func (r *RAS) Push(addr uint64) {
	if r.top < len(r.stack) {
		r.stack[r.top] = addr
		r.top++
		return
	}
	// Stack overflow: shift down, dropping the oldest entry, matching a
	// hardware RAS's wrap-around behavior.
	copy(r.stack, r.stack[1:])
	r.stack[len(r.stack)-1] = addr
}

// Pop returns the most recently pushed return address.
func (r *RAS) Pop() (addr uint64, ok bool) {
	if r.top == 0 {
		return 0, false
	}
	r.top--
	return r.stack[r.top], true
}
