package sim

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBarrierReleasesAllParties(t *testing.T) {
	const parties = 4
	b := NewBarrier(parties)

	var arrived atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < parties; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			arrived.Add(1)
			b.Await()
			// Every party must have arrived before any is released.
			require.Equal(t, int32(parties), arrived.Load())
		}()
	}
	wg.Wait()
}

func TestBarrierIsReusableAcrossGenerations(t *testing.T) {
	const parties = 3
	const rounds = 50
	b := NewBarrier(parties)

	var wg sync.WaitGroup
	for i := 0; i < parties; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for r := 0; r < rounds; r++ {
				b.Await()
			}
		}()
	}
	wg.Wait()
}

func TestBarrierDropReleasesWaiters(t *testing.T) {
	b := NewBarrier(3)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Await()
		}()
	}
	// Remove the third party; whether the two waiters have parked yet or
	// not, they now form a complete generation and must be released.
	b.Drop()
	wg.Wait()
	require.Equal(t, 2, b.Parties())
}
