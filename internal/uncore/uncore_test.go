package uncore

import (
	"testing"

	"github.com/stretchr/testify/require"

	"oocoresim/internal/cache"
)

func newTestUncore() *Uncore {
	return New(Config{
		LLC: cache.Config{
			Sets: 8, Assoc: 4, LineSize: 64, Banks: 1, Latency: 2,
			Policy: &cache.LRU{}, MSHRSize: 4, MSHRWBSize: 4,
		},
		BusCapacity: 4,
		BusWidth:    1,
		BusLatency:  2,
		DRAM:        FixedLatencyDRAM{Cycles: 3},
	})
}

func TestUncoreServicesLLCMissEndToEnd(t *testing.T) {
	u := newTestUncore()

	var done bool
	req := &cache.Request{PAddr: 0x4000, Cmd: cache.CmdRead, Callback: func(r *cache.Request) { done = true }}
	require.True(t, u.LLC.Enqueue(req))

	for cyc := 0; cyc < 20 && !done; cyc++ {
		u.Step()
	}
	require.True(t, done, "LLC miss should eventually fill and invoke its callback via the bus and memory controller")
}

func TestUncoreSecondAccessToSameLineHits(t *testing.T) {
	u := newTestUncore()

	var n int
	cb := func(r *cache.Request) { n++ }
	req := &cache.Request{PAddr: 0x8000, Cmd: cache.CmdRead, Callback: cb}
	require.True(t, u.LLC.Enqueue(req))
	for cyc := 0; cyc < 20 && n == 0; cyc++ {
		u.Step()
	}
	require.Equal(t, 1, n)

	req2 := &cache.Request{PAddr: 0x8000, Cmd: cache.CmdRead, Callback: cb}
	require.True(t, u.LLC.Enqueue(req2))
	for cyc := 0; cyc < 5 && n == 1; cyc++ {
		u.LLC.Process()
	}
	require.Equal(t, 2, n, "a re-reference to an already-resident line should hit within the access-pipe latency")
}
