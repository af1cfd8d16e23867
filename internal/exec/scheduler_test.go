package exec

import (
	"testing"

	"github.com/stretchr/testify/require"

	"oocoresim/internal/mop"
)

func newTestUop(t *testing.T, arena *mop.Arena, rsIndex int, fu mop.FUClass, seq mop.Seq) *mop.Uop {
	t.Helper()
	m := arena.AllocMop(1)
	u := &m.Uops[0]
	u.Decode.FUClass = fu
	u.Decode.UopSeq = seq
	u.Alloc.RSIndex = rsIndex
	return u
}

func alwaysResolve(h mop.Handle) (*mop.Mop, bool) { return nil, true }

func newTestScheduler(t *testing.T, resolve func(mop.Handle) (*mop.Mop, bool)) (*Scheduler, *mop.Arena) {
	t.Helper()
	arena := mop.NewArena(8)
	if resolve == nil {
		resolve = func(h mop.Handle) (*mop.Mop, bool) { return arena.Resolve(h) }
	}
	s := NewScheduler(Config{RSSize: 8, NumPorts: 6}, resolve, nil)
	return s, arena
}

func TestSchedulerIssuesOldestReadyFirst(t *testing.T) {
	s, arena := newTestScheduler(t, nil)

	// FUIntALU is bound to ports 0-2 only, so four ready ALU uops contend
	// for three slots: the three oldest must win.
	oldest := newTestUop(t, arena, 0, mop.FUIntALU, 1)
	second := newTestUop(t, arena, 1, mop.FUIntALU, 2)
	third := newTestUop(t, arena, 2, mop.FUIntALU, 3)
	youngest := newTestUop(t, arena, 3, mop.FUIntALU, 4)
	s.Add(youngest)
	s.Add(oldest)
	s.Add(third)
	s.Add(second)

	issued := s.Schedule(0)
	require.Len(t, issued, 3)
	require.ElementsMatch(t, []*mop.Uop{oldest, second, third}, issued)
}

func TestSchedulerWaitsOnUnresolvedOperand(t *testing.T) {
	s, arena := newTestScheduler(t, nil)
	u := newTestUop(t, arena, 0, mop.FUIntALU, 1)

	producer := &mop.Uop{}
	u.Exec.IDepUop[0] = producer
	u.Exec.IValueValid[0] = false
	s.Add(u)

	require.Empty(t, s.Schedule(0), "uop with an unresolved operand must not issue")

	u.Exec.IValueValid[0] = true
	issued := s.Schedule(1)
	require.Len(t, issued, 1)
}

func TestSchedulerTornadoBreakerPrefersFreshOverReplayed(t *testing.T) {
	s, arena := newTestScheduler(t, nil)

	replayed := newTestUop(t, arena, 0, mop.FULoad, 1)
	fresh := newTestUop(t, arena, 1, mop.FULoad, 5)

	s.Add(replayed)
	s.Replay(replayed)
	s.Add(fresh)

	issued := s.Schedule(0)
	require.Len(t, issued, 1, "FULoad is bound to a single port")
	require.Same(t, fresh, issued[0], "a fresh uop must win over an older but replayed one")
	require.Equal(t, int64(1), s.Stat.NumTornadoDeprioritized)
}

func TestSchedulerRespectsIssueRate(t *testing.T) {
	arena := mop.NewArena(8)
	s := NewScheduler(Config{
		RSSize:    8,
		NumPorts:  6,
		IssueRate: map[mop.FUClass]int{mop.FUIntDiv: 4},
	}, func(h mop.Handle) (*mop.Mop, bool) { return arena.Resolve(h) }, nil)

	// Two divides contend for the single divider port; the unit is
	// non-pipelined, so the second cannot issue until the issue rate
	// elapses, even though the port binding alone would admit it.
	first := newTestUop(t, arena, 0, mop.FUIntDiv, 1)
	second := newTestUop(t, arena, 1, mop.FUIntDiv, 2)
	s.Add(first)
	s.Add(second)

	issued := s.Schedule(0)
	require.Len(t, issued, 1)
	require.Same(t, first, issued[0])

	for cyc := mop.Tick(1); cyc < 4; cyc++ {
		require.Empty(t, s.Schedule(cyc), "divider port busy until the issue rate elapses")
	}
	issued = s.Schedule(4)
	require.Len(t, issued, 1)
	require.Same(t, second, issued[0])
}

func TestSchedulerHonorsAllocatorPortBinding(t *testing.T) {
	s, arena := newTestScheduler(t, nil)

	// A uop the allocator bound to port 2 must not steal port 0 even when
	// port 0 is free and its FU class is eligible there.
	bound := newTestUop(t, arena, 0, mop.FUIntALU, 1)
	bound.Alloc.PortAssignment = 2
	s.Add(bound)

	issued := s.Schedule(0)
	require.Len(t, issued, 1)
	require.Same(t, bound, issued[0])
	require.Equal(t, mop.Tick(1), s.portFreeAt[2], "the issue consumed its bound port")
	require.Zero(t, s.portFreeAt[0])
}

func TestSchedulerDropsSquashedEntry(t *testing.T) {
	liveHandle := mop.Handle{Slot: 1, Gen: 1}
	resolve := func(h mop.Handle) (*mop.Mop, bool) { return nil, h == liveHandle }

	s, arena := newTestScheduler(t, resolve)
	m := arena.AllocMop(1)
	u := &m.Uops[0]
	u.Decode.FUClass = mop.FUIntALU
	u.Alloc.RSIndex = 0

	s.Add(u) // u's handle from AllocMop won't match liveHandle: squashed
	require.Empty(t, s.Schedule(0), "a uop whose Mop handle no longer resolves live must never issue")
}
