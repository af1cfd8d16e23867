package bpred

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTwoBitTrainsTowardTaken(t *testing.T) {
	p := NewTwoBit(4)
	const pc = 0x4000

	for i := 0; i < 3; i++ {
		_, h := p.Lookup(pc)
		p.Update(h, pc, true, pc+16)
	}

	_, h := p.Lookup(pc)
	idx := p.index(pc)
	require.GreaterOrEqual(t, p.counters[idx], uint8(2))
	p.Recover(h)
}

func TestTwoBitRecoverDoesNotTrain(t *testing.T) {
	p := NewTwoBit(4)
	const pc = 0x5000
	before := p.counters[p.index(pc)]

	_, h := p.Lookup(pc)
	p.Recover(h)

	require.Equal(t, before, p.counters[p.index(pc)])
	_, stillPending := p.pending[h.Slot]
	require.False(t, stillPending)
}

func TestTageBaseTableFallback(t *testing.T) {
	cfg := TageConfig{
		NumTables:       4,
		EntriesPerTable: 64,
		HistoryLengths:  []int{0, 4, 8, 16},
		TagBits:         13,
		CounterBits:     3,
	}
	tg := NewTage(cfg)

	_, h := tg.Lookup(0x1000)
	require.NotZero(t, h.Slot)
	// Base table must always be valid so a first lookup never panics on a
	// nil best-entry.
}

func TestTageAllocatesOnMispredict(t *testing.T) {
	cfg := DefaultTageConfig()
	tg := NewTage(cfg)
	const pc = 0x8000

	for i := 0; i < 10; i++ {
		_, h := tg.Lookup(pc)
		tg.Update(h, pc, true, pc+16)
	}

	found := false
	for i := 1; i < len(tg.tables); i++ {
		for _, e := range tg.tables[i].entries {
			if e.valid {
				found = true
			}
		}
	}
	require.True(t, found, "repeated mispredicts against the neutral base table should allocate a tagged entry")
}

func TestBTBRoundTrip(t *testing.T) {
	b := NewBTB(2)
	b.Update(0x100, 0x200)
	target, ok := b.Lookup(0x100)
	require.True(t, ok)
	require.Equal(t, uint64(0x200), target)

	_, ok = b.Lookup(0x999)
	require.False(t, ok)
}

func TestRASPushPop(t *testing.T) {
	r := NewRAS(2)
	r.Push(0x10)
	r.Push(0x20)

	addr, ok := r.Pop()
	require.True(t, ok)
	require.Equal(t, uint64(0x20), addr)

	addr, ok = r.Pop()
	require.True(t, ok)
	require.Equal(t, uint64(0x10), addr)

	_, ok = r.Pop()
	require.False(t, ok)
}

func TestRASOverflowDropsOldest(t *testing.T) {
	r := NewRAS(2)
	r.Push(0x1)
	r.Push(0x2)
	r.Push(0x3) // overflow: drops 0x1

	a, _ := r.Pop()
	require.Equal(t, uint64(0x3), a)
	b, _ := r.Pop()
	require.Equal(t, uint64(0x2), b)
	_, ok := r.Pop()
	require.False(t, ok)
}
