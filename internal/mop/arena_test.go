package mop

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestArenaAllocResetsUops(t *testing.T) {
	a := NewArena(4)
	m := a.AllocMop(3)
	require.Len(t, m.Uops, 3)
	for i, u := range m.Uops {
		require.Equal(t, i, u.FlowIndex)
		require.Same(t, m, u.Mop)
		require.Equal(t, -1, u.Alloc.ROBIndex)
		require.Equal(t, TickMax, u.Timing.WhenReady)
	}
}

func TestArenaHandleStaleAfterFree(t *testing.T) {
	a := NewArena(2)
	m := a.AllocMop(2)
	h := m.Handle()

	got, ok := a.Resolve(h)
	require.True(t, ok)
	require.Same(t, m, got)

	a.FreeMop(m)
	_, ok = a.Resolve(h)
	require.False(t, ok, "handle must not resolve once its Mop is freed")

	m2 := a.AllocMop(2)
	require.Equal(t, h.Slot, m2.Handle().Slot, "slot should be reused")
	require.NotEqual(t, h.Gen, m2.Handle().Gen, "generation must bump on reuse")

	_, ok = a.Resolve(h)
	require.False(t, ok, "old handle must stay stale even after slot reuse")

	got2, ok := a.Resolve(m2.Handle())
	require.True(t, ok)
	require.Same(t, m2, got2)
}

func TestArenaSlabReuse(t *testing.T) {
	a := NewArena(1)
	m1 := a.AllocMop(5)
	slab := m1.Uops
	a.FreeMop(m1)

	m2 := a.AllocMop(5)
	require.Equal(t, &slab[0], &m2.Uops[0], "freed slab of matching flow length should be recycled")
}

func TestUopODepFreelistRoundTrip(t *testing.T) {
	a := NewArena(2)
	m := a.AllocMop(2)
	producer := &m.Uops[0]
	consumer := &m.Uops[1]

	producer.AddODep(a, consumer, 0, false)
	producer.AddODep(a, consumer, 1, true)

	var seen []int
	producer.EachODep(func(c *Uop, opNum int, aflags bool) {
		seen = append(seen, opNum)
		require.Same(t, consumer, c)
	})
	require.ElementsMatch(t, []int{0, 1}, seen)

	producer.ReleaseODeps(a)
	require.Nil(t, producer.Exec.ODepUop)

	// The freed link nodes must be reusable rather than garbage.
	next := a.getOdep()
	require.NotNil(t, next)
}

func TestFusionHeadInvariant(t *testing.T) {
	a := NewArena(1)
	m := a.AllocMop(2)
	head := &m.Uops[0]
	member := &m.Uops[1]

	head.Decode.IsFusionHead = true
	head.Decode.InFusion = true
	head.Decode.FusionSize = 2

	member.Decode.InFusion = true
	member.Decode.FusionHead = head

	require.True(t, head.Decode.IsFusionHead)
	require.Same(t, head, member.Decode.FusionHead)
	require.False(t, member.Decode.IsFusionHead)
}
