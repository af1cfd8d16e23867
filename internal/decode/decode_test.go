package decode

import (
	"testing"

	"github.com/stretchr/testify/require"

	"oocoresim/internal/feeder"
	"oocoresim/internal/logging"
	"oocoresim/internal/mop"
	"oocoresim/internal/oracle"
)

type fakeFeeder struct {
	script []feeder.Handshake
	pos    int
}

func (f *fakeFeeder) SimulateHandshake(coreID int) (feeder.Handshake, bool) {
	if f.pos >= len(f.script) {
		return feeder.Handshake{}, false
	}
	h := f.script[f.pos]
	f.pos++
	return h, true
}
func (f *fakeFeeder) V2PTranslate(coreID int, vaddr uint64) uint64 { return vaddr }
func (f *fakeFeeder) Warmup(coreID int) error                      { return nil }
func (f *fakeFeeder) ActivateCore(coreID int)                      {}
func (f *fakeFeeder) DeactivateCore(coreID int)                    {}
func (f *fakeFeeder) IsCoreActive(coreID int) bool                 { return true }
func (f *fakeFeeder) SimulateWarmup(coreID int, n int) error       { return nil }

func newTestPipeline(t *testing.T, script []feeder.Handshake) (*Pipeline, *oracle.Oracle) {
	t.Helper()
	arena := mop.NewArena(8)
	o := oracle.NewOracle(0, 8, &fakeFeeder{script: script}, arena, logging.Default())
	alloc := NewAllocator(AllocConfig{ROBSize: 32, RSSize: 32, LDQSize: 8, STQSize: 8, NumPorts: 2})
	p := New(Config{DecodeWidth: 2, Depth: 1}, o, arena, alloc, logging.Default())
	return p, o
}

func admitAndDrain(t *testing.T, p *Pipeline, m *mop.Mop, onWrongPath bool) *mop.Mop {
	t.Helper()
	require.True(t, p.Admit(m, 0, onWrongPath))
	p.Step(1)
	got, ok := p.PopReady()
	require.True(t, ok)
	return got
}

func TestCrackLoadOpTagsFusion(t *testing.T) {
	p, o := newTestPipeline(t, []feeder.Handshake{
		{PC: 0x1000, NPC: 0x1004, IsLoad: true, IDeps: [3]int16{1}, ODeps: [2]int16{2}},
	})
	m, ok := o.Exec(0x1000)
	require.True(t, ok)
	o.Consume(m)

	got := admitAndDrain(t, p, m, false)
	require.Len(t, got.Uops, 2)

	ld, op := &got.Uops[0], &got.Uops[1]
	require.True(t, ld.Decode.IsLoad)
	require.Equal(t, int16(-1), ld.Decode.ODepName[0])
	require.Equal(t, int16(-1), op.Decode.IDepName[0])
	require.Equal(t, int16(1), op.Decode.IDepName[1])
	require.Equal(t, int16(2), op.Decode.ODepName[0])
	require.True(t, ld.Decode.IsFusionHead)
	require.NotEqual(t, mop.FusionNone, ld.Decode.FusionKind)
}

func TestCrackStoreSplitsIntoSTASTD(t *testing.T) {
	p, o := newTestPipeline(t, []feeder.Handshake{
		{PC: 0x2000, NPC: 0x2004, IsStore: true, IDeps: [3]int16{3}},
	})
	m, ok := o.Exec(0x2000)
	require.True(t, ok)
	o.Consume(m)

	got := admitAndDrain(t, p, m, false)
	require.Len(t, got.Uops, 3)

	op, sta, std := &got.Uops[0], &got.Uops[1], &got.Uops[2]
	require.True(t, sta.Decode.IsSTA)
	require.True(t, std.Decode.IsSTD)
	require.Equal(t, op.Decode.ODepName[0], std.Decode.IDepName[0])
	require.True(t, sta.Decode.IsFusionHead, "sta-std fusion head is the STA")
}

func TestCrackWrongPathProducesBogusNop(t *testing.T) {
	p, o := newTestPipeline(t, []feeder.Handshake{{PC: 0x3000, NPC: 0x3004, IsLoad: true}})
	m, ok := o.Exec(0x3000)
	require.True(t, ok)
	o.Consume(m)

	got := admitAndDrain(t, p, m, true)
	require.Len(t, got.Uops, 1)
	require.True(t, got.Uops[0].Decode.IsNop)
	require.Equal(t, int64(1), p.Stat.NumBogusPath)
}

func TestAllocatorReserveRespectsCapacityAndReleases(t *testing.T) {
	a := NewAllocator(AllocConfig{ROBSize: 2, RSSize: 2, LDQSize: 1, STQSize: 1, NumPorts: 1})
	arena := mop.NewArena(4)
	m := arena.AllocMop(2)
	m.Decode.SemIsLoad = true
	m.Uops[0].Decode.IsLoad = true

	require.True(t, a.Reserve(m))
	require.False(t, a.CanAllocate(1, false, false), "ROB is now full")

	a.Release(m)
	require.True(t, a.CanAllocate(2, true, false))
}
