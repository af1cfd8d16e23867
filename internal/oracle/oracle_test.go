package oracle

import (
	"testing"

	"github.com/stretchr/testify/require"

	"oocoresim/internal/feeder"
	"oocoresim/internal/logging"
	"oocoresim/internal/mop"
)

// fakeFeeder serves a scripted list of handshakes per core, looping nothing
// — it reports end-of-trace once exhausted.
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

func newTestOracle(script []feeder.Handshake) (*Oracle, *mop.Arena) {
	arena := mop.NewArena(8)
	f := &fakeFeeder{script: script}
	o := NewOracle(0, 4, f, arena, logging.Default())
	return o, arena
}

func TestOracleExecConsumeCommit(t *testing.T) {
	o, _ := newTestOracle([]feeder.Handshake{
		{PC: 0x1000, NPC: 0x1004},
		{PC: 0x1004, NPC: 0x1008},
	})

	require.True(t, o.CanExec())
	m, ok := o.Exec(0x1000)
	require.True(t, ok)
	require.False(t, o.CanExec(), "must be fetch-stalled on currentMop until Consume")

	o.Consume(m)
	require.True(t, o.CanExec())
	require.Equal(t, 1, o.mopQNum)

	got, ok := o.GetOldestMop()
	require.True(t, ok)
	require.Same(t, m, got)

	o.Commit(m)
	require.Equal(t, 0, o.mopQNum)
}

func TestOracleRecoverSquashesYoungerMops(t *testing.T) {
	o, _ := newTestOracle([]feeder.Handshake{
		{PC: 0x2000, NPC: 0x2004},
		{PC: 0x2004, NPC: 0x2008},
		{PC: 0x2008, NPC: 0x200c},
	})

	m1, _ := o.Exec(0x2000)
	o.Consume(m1)
	m2, _ := o.Exec(0x2004)
	o.Consume(m2)
	m3, _ := o.Exec(0x2008)
	o.Consume(m3)
	require.Equal(t, 3, o.mopQNum)

	o.Recover(m1)
	require.Equal(t, 1, o.mopQNum, "only the surviving Mop should remain")

	got, ok := o.GetOldestMop()
	require.True(t, ok)
	require.Same(t, m1, got)
}

func TestOracleDependencyInstallAndCommit(t *testing.T) {
	o, _ := newTestOracle([]feeder.Handshake{{PC: 0x3000, NPC: 0x3004}})
	m, _ := o.Exec(0x3000)
	m.Uops[0].Decode.ODepName[0] = 5
	o.Consume(m)
	o.InstallDependencies(m)

	require.Same(t, &m.Uops[0], o.depMap.Tail(5))

	m2, _ := func() (*mop.Mop, bool) {
		o.feeder.(*fakeFeeder).script = append(o.feeder.(*fakeFeeder).script, feeder.Handshake{PC: 0x3004, NPC: 0x3008})
		return o.Exec(0x3004)
	}()
	m2.Uops[0].Decode.IDepName[0] = 5
	o.Consume(m2)
	o.InstallDependencies(m2)
	require.Same(t, &m.Uops[0], m2.Uops[0].Exec.IDepUop[0], "consumer must link to current tail producer")

	o.Commit(m)
	require.Nil(t, o.depMap.Tail(5), "commit pops the producer from the head of the chain")
}

func TestBufferHandshakeNotConsumedWhenFull(t *testing.T) {
	o, _ := newTestOracle(nil)
	for i := 0; i < 4; i++ {
		require.Equal(t, AllGood, o.BufferHandshake(feeder.Handshake{PC: uint64(i)}))
	}
	require.Equal(t, HandshakeNotConsumed, o.BufferHandshake(feeder.Handshake{}))
}

func TestReconcileCheckpointFlagsMismatch(t *testing.T) {
	o, _ := newTestOracle(nil)
	want := []feeder.RegSnapshot{{Name: 1, Value: 0x10}, {Name: 2, Value: 0x20}}

	require.NoError(t, o.ReconcileCheckpoint(want, map[int16]uint64{1: 0x10, 2: 0x20}))
	require.Error(t, o.ReconcileCheckpoint(want, map[int16]uint64{1: 0x10, 2: 0xff}))
	require.Error(t, o.ReconcileCheckpoint(want, map[int16]uint64{1: 0x10}), "missing register is an inconsistency")
}

func TestPipeRecoverUnwindsAndRedirects(t *testing.T) {
	o, _ := newTestOracle([]feeder.Handshake{
		{PC: 0x5000, NPC: 0x5004},
		{PC: 0x5004, NPC: 0x5008},
		{PC: 0x5008, NPC: 0x500c},
	})
	m1, _ := o.Exec(0x5000)
	o.Consume(m1)
	m2, _ := o.Exec(0x5004)
	o.Consume(m2)
	m3, _ := o.Exec(0x5008)
	o.Consume(m3)

	o.PipeRecover(m1, 0x9000)
	require.Equal(t, 1, o.mopQNum, "everything younger than the recovery point is squashed")
	require.Equal(t, uint64(0x9000), m1.Oracle.NextPC)
	require.False(t, o.SpecMode)
}

func TestNukeReplaysFromShadow(t *testing.T) {
	o, _ := newTestOracle([]feeder.Handshake{
		{PC: 0x4000, NPC: 0x4004},
		{PC: 0x4004, NPC: 0x4008},
	})
	require.False(t, o.OnNukeRecoveryPath())

	m1, _ := o.Exec(0x4000)
	o.Consume(m1)
	m2, _ := o.Exec(0x4004)
	o.Consume(m2)

	o.Nuke()
	require.True(t, o.OnNukeRecoveryPath())
	require.Equal(t, 2, o.NumMopsBeforeFeeder())
	require.Equal(t, 0, o.mopQNum, "nuke squashes every in-flight Mop")

	// Replayed Mops come from shadow storage, not the (exhausted) feeder.
	r1, ok := o.Exec(0x4000)
	require.True(t, ok)
	require.Equal(t, uint64(0x4000), r1.Fetch.PC)
	o.Consume(r1)
	r2, ok := o.Exec(0x4004)
	require.True(t, ok)
	require.Equal(t, uint64(0x4004), r2.Fetch.PC)
	o.Consume(r2)
	require.False(t, o.OnNukeRecoveryPath(), "replay caught up with the feeder")

	o.Commit(r1)
	o.Commit(r2)
	require.True(t, o.shadow.Empty())
}
