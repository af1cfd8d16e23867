// Package sim runs the cycle scheduler: one goroutine per active core
// rendezvousing each CPU cycle on a shared barrier, with a separate
// coordinator goroutine in Loop advancing the uncore clock between
// rounds; no core acts as master.
package sim

import "sync"

// Barrier is a reusable rendezvous point for a fixed set of parties. It
// replaces the reference simulator's spin/yield loop with bounded waiting:
// every party blocks in Await until the last one arrives, at which point
// the whole generation is released together and the barrier resets.
//
// Drop lets a party leave permanently (a deactivated core), shrinking the
// party count for all subsequent generations; if the departing party was
// the last one the current generation was waiting for, the waiters are
// released.
type Barrier struct {
	mu      sync.Mutex
	cond    *sync.Cond
	parties int
	waiting int
	gen     uint64
}

// NewBarrier creates a Barrier for the given number of parties.
func NewBarrier(parties int) *Barrier {
	b := &Barrier{parties: parties}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Await blocks until every party has arrived, then releases all of them.
func (b *Barrier) Await() {
	b.mu.Lock()
	defer b.mu.Unlock()

	gen := b.gen
	b.waiting++
	if b.waiting >= b.parties {
		b.waiting = 0
		b.gen++
		b.cond.Broadcast()
		return
	}
	for gen == b.gen {
		b.cond.Wait()
	}
}

// Drop removes one party permanently. If the remaining waiters now form a
// complete generation, they are released.
func (b *Barrier) Drop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.parties--
	if b.parties > 0 && b.waiting >= b.parties {
		b.waiting = 0
		b.gen++
		b.cond.Broadcast()
	}
}

// Parties reports the current party count.
func (b *Barrier) Parties() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.parties
}
