package fetch

import (
	"testing"

	"github.com/stretchr/testify/require"

	"oocoresim/internal/bpred"
	"oocoresim/internal/cache"
	"oocoresim/internal/feeder"
	"oocoresim/internal/mop"
	"oocoresim/internal/oracle"
)

type scriptFeeder struct {
	script []feeder.Handshake
	idx    int
}

func (f *scriptFeeder) SimulateHandshake(coreID int) (feeder.Handshake, bool) {
	if f.idx >= len(f.script) {
		return feeder.Handshake{}, false
	}
	h := f.script[f.idx]
	f.idx++
	return h, true
}
func (f *scriptFeeder) V2PTranslate(coreID int, vaddr uint64) uint64 { return vaddr }
func (f *scriptFeeder) Warmup(coreID int) error                      { return nil }
func (f *scriptFeeder) ActivateCore(coreID int)                      {}
func (f *scriptFeeder) DeactivateCore(coreID int)                    {}
func (f *scriptFeeder) IsCoreActive(coreID int) bool                 { return true }
func (f *scriptFeeder) SimulateWarmup(coreID int, n int) error       { return nil }

func newTestStage(t *testing.T, script []feeder.Handshake) (*Stage, *cache.Cache) {
	t.Helper()
	arena := mop.NewArena(32)
	o := oracle.NewOracle(0, 16, &scriptFeeder{script: script}, arena, nil)
	il1 := cache.New(cache.Config{
		Name: "IL1", Sets: 8, Assoc: 2, LineSize: 64, Banks: 1, Latency: 2,
		Policy: &cache.LRU{}, MSHRSize: 8, MSHRWBSize: 4,
	})
	pred := bpred.NewTwoBit(8)
	s := New(Config{CoreID: 0, FetchWidth: 2, IQSize: 8}, o, il1, pred, bpred.NewBTB(64), bpred.NewRAS(8), nil, script[0].PC)
	return s, il1
}

func TestFetchAdmitsAndResolvesThroughCache(t *testing.T) {
	script := []feeder.Handshake{
		{PC: 0x1000, NPC: 0x1004},
		{PC: 0x1004, NPC: 0x1008},
	}
	s, il1 := newTestStage(t, script)
	// Warm the line so both fetches resolve as I-cache hits; a miss would
	// need the uncore (absent in this unit test) to answer it.
	il1.InsertBlock(cache.CmdRead, 0x1000, 0)

	s.Step(0)
	require.Equal(t, 0, s.IQLen(), "macro-ops are pending on the I-cache access, not yet in the IQ")

	for cyc := mop.Tick(1); cyc < 10 && s.IQLen() < 2; cyc++ {
		il1.Process()
		s.Step(cyc)
	}
	require.Equal(t, 2, s.IQLen())

	m, ok := s.PopIQ()
	require.True(t, ok)
	require.Equal(t, uint64(0x1000), m.Fetch.PC)
}

func TestFetchPhantomResteerStallsFrontEnd(t *testing.T) {
	script := []feeder.Handshake{
		{PC: 0x2000, NPC: 0x3000, TakenBranch: true, TargetPC: 0x3000},
	}
	s, _ := newTestStage(t, script)
	s.cfg.JeclearDelay = 2

	s.Step(0)
	require.Equal(t, int64(1), s.Stat.NumPhantomResteer, "bimodal predictor defaults not-taken, oracle says taken")
	require.Equal(t, uint64(0x3000), s.PC())
	require.Greater(t, s.resteerUntil, mop.Tick(0))
}
