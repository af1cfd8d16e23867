package commit

import (
	"testing"

	"github.com/stretchr/testify/require"

	"oocoresim/internal/cache"
	"oocoresim/internal/decode"
	"oocoresim/internal/exec"
	"oocoresim/internal/feeder"
	"oocoresim/internal/mop"
	"oocoresim/internal/oracle"
)

type fakeFeeder struct{ script []feeder.Handshake }

func (f *fakeFeeder) SimulateHandshake(coreID int) (feeder.Handshake, bool) {
	if len(f.script) == 0 {
		return feeder.Handshake{}, false
	}
	h := f.script[0]
	f.script = f.script[1:]
	return h, true
}
func (f *fakeFeeder) V2PTranslate(coreID int, vaddr uint64) uint64 { return vaddr }
func (f *fakeFeeder) Warmup(coreID int) error                      { return nil }
func (f *fakeFeeder) ActivateCore(coreID int)                      {}
func (f *fakeFeeder) DeactivateCore(coreID int)                    {}
func (f *fakeFeeder) IsCoreActive(coreID int) bool                 { return true }
func (f *fakeFeeder) SimulateWarmup(coreID int, n int) error       { return nil }

func newTestStage(t *testing.T, script []feeder.Handshake) (*Stage, *oracle.Oracle, *mop.Arena) {
	t.Helper()
	arena := mop.NewArena(8)
	f := &fakeFeeder{script: script}
	o := oracle.NewOracle(0, 8, f, arena, nil)
	alloc := decode.NewAllocator(decode.AllocConfig{ROBSize: 32, RSSize: 32, LDQSize: 8, STQSize: 8, NumPorts: 1})
	dc := cache.New(cache.Config{Sets: 4, Assoc: 2, LineSize: 64, Banks: 1, Latency: 1, Policy: &cache.LRU{}, MSHRSize: 4, MSHRWBSize: 4})
	ls := exec.NewLoadStore(exec.LSConfig{CoreID: 0, STQSize: 8, LDQSize: 8}, dc, f, nil, nil, nil)
	s := New(Config{CoreID: 0, CommitWidth: 4}, o, alloc, ls, dc, f, nil)
	return s, o, arena
}

func TestStageCommitsCompletedMop(t *testing.T) {
	s, o, _ := newTestStage(t, []feeder.Handshake{{PC: 0x1000, NPC: 0x1004}})
	m, _ := o.Exec(0x1000)
	o.Consume(m)
	m.Uops[0].Exec.OValueValid = true

	s.Step(0)
	require.Equal(t, int64(1), s.Stat.NumCommitted)
	_, ok := o.GetOldestMop()
	require.False(t, ok)
}

func TestStageStallsUntilUopCompletes(t *testing.T) {
	s, o, _ := newTestStage(t, []feeder.Handshake{{PC: 0x2000, NPC: 0x2004}})
	m, _ := o.Exec(0x2000)
	o.Consume(m)

	s.Step(0)
	require.Equal(t, int64(0), s.Stat.NumCommitted, "an incomplete uop must block commit")

	m.Uops[0].Exec.OValueValid = true
	s.Step(1)
	require.Equal(t, int64(1), s.Stat.NumCommitted)
}

func TestStageDeadlockWatchdog(t *testing.T) {
	s, o, _ := newTestStage(t, []feeder.Handshake{{PC: 0x3000, NPC: 0x3004}})
	s.cfg.DeadlockCycles = 3
	m, _ := o.Exec(0x3000)
	o.Consume(m) // never completes

	for cyc := mop.Tick(0); cyc < 3; cyc++ {
		require.False(t, s.Deadlocked())
		s.Step(cyc)
	}
	require.True(t, s.Deadlocked())
}

func TestStageWritesBackStoreOnCommit(t *testing.T) {
	s, o, arena := newTestStage(t, []feeder.Handshake{{PC: 0x4000, NPC: 0x4004}})

	m, _ := o.Exec(0x4000)
	o.Consume(m)
	arena.ResizeUops(m, 2)

	sta := &m.Uops[0]
	sta.Decode.IsSTA = true
	sta.Alloc.STQIndex = 0
	sta.Oracle.VirtAddr = 0x8000
	sta.Exec.OValueValid = true

	std := &m.Uops[1]
	std.Decode.IsSTD = true
	std.Alloc.STQIndex = 0
	std.Exec.OValueValid = true

	s.ls.ExecuteStoreAddr(sta)
	s.ls.ExecuteStoreData(std)

	s.Step(0)
	require.Equal(t, int64(1), s.Stat.NumStoreWritebacks)
}
