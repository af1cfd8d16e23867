package bus

import (
	"testing"

	"github.com/stretchr/testify/require"

	"oocoresim/internal/cache"
)

func TestBusCompletesAfterLatency(t *testing.T) {
	b := New(4, 1, 3)
	req := &cache.Request{PAddr: 0x1000}
	require.True(t, b.Submit(req))

	var completed []*cache.Request
	onComplete := func(r *cache.Request) { completed = append(completed, r) }

	for i := 0; i < 2; i++ {
		b.Tick(onComplete)
		require.Empty(t, completed)
	}
	b.Tick(onComplete)
	require.Equal(t, []*cache.Request{req}, completed)
	require.Equal(t, 0, b.Len())
}

func TestBusRejectsWhenFull(t *testing.T) {
	b := New(1, 1, 5)
	require.True(t, b.Submit(&cache.Request{PAddr: 0x1000}))
	require.False(t, b.Submit(&cache.Request{PAddr: 0x2000}))
	require.Equal(t, int64(1), b.Stat.NumRejected)
}

func TestBusRespectsWidthPerTick(t *testing.T) {
	b := New(4, 1, 0)
	r1 := &cache.Request{PAddr: 0x1000}
	r2 := &cache.Request{PAddr: 0x2000}
	require.True(t, b.Submit(r1))
	require.True(t, b.Submit(r2))

	var completed []*cache.Request
	b.Tick(func(r *cache.Request) { completed = append(completed, r) })
	require.Equal(t, []*cache.Request{r1}, completed)

	b.Tick(func(r *cache.Request) { completed = append(completed, r) })
	require.Equal(t, []*cache.Request{r1, r2}, completed)
}

func TestBusFIFOOrderAcrossSubmitters(t *testing.T) {
	b := New(4, 2, 1)
	r1 := &cache.Request{PAddr: 0x1000}
	r2 := &cache.Request{PAddr: 0x2000}
	require.True(t, b.Submit(r1))
	require.True(t, b.Submit(r2))

	var completed []*cache.Request
	b.Tick(func(r *cache.Request) { completed = append(completed, r) })
	require.Equal(t, []*cache.Request{r1, r2}, completed)
}
