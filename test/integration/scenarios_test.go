// Package integration drives the assembled Simulator end to end through
// scripted instruction streams, checking the externally observable timing
// and recovery behaviors rather than any one stage in isolation.
package integration

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"oocoresim"
)

// newSim builds a one-core simulator over feed with the given knob
// tweaks, bounded so a regression can never hang the test run.
func newSim(t *testing.T, feed *oocoresim.MockFeeder, tweak func(*oocoresim.Knobs)) *oocoresim.Simulator {
	t.Helper()
	knobs := oocoresim.DefaultKnobs()
	knobs.System.MaxCycles = 50000
	knobs.System.DeadlockCycles = 20000
	if tweak != nil {
		tweak(&knobs)
	}
	sim, err := oocoresim.NewSimulator(knobs, feed, oocoresim.Options{HeartbeatWriter: io.Discard})
	require.NoError(t, err)
	return sim
}

// S1 "simple pipeline": three independent ADDs commit back to back; once
// the cold-start fetch misses are out of the way they all retire in one
// commit cycle.
func TestScenarioSimplePipeline(t *testing.T) {
	feed := oocoresim.NewMockFeeder()
	feed.AddALU(0, oocoresim.RegEAX, oocoresim.RegEAX, oocoresim.RegEBX)
	feed.AddALU(0, oocoresim.RegECX, oocoresim.RegECX, oocoresim.RegEDX)
	feed.AddALU(0, oocoresim.RegESI, oocoresim.RegESI, oocoresim.RegEDI)

	sim := newSim(t, feed, nil)
	require.NoError(t, sim.Run())

	snap := sim.Metrics().Snapshot()
	require.Equal(t, uint64(3), snap.CommittedInsns)

	stat := sim.Cores()[0].Commit.Stat
	window := int64(stat.LastCommit-stat.FirstCommit) + 1
	commitIPC := float64(stat.NumCommitted) / float64(window)
	require.Greater(t, commitIPC, 2.5, "independent adds must retire in one commit window")
}

// S2 "L1 miss": a cold load's completion is bounded below by the full
// DL1+LLC+FSB+DRAM round trip.
func TestScenarioL1Miss(t *testing.T) {
	feed := oocoresim.NewMockFeeder()
	feed.AddLoad(0, oocoresim.RegEAX, 0x1000, 4)

	sim := newSim(t, feed, nil)
	require.NoError(t, sim.Run())

	snap := sim.Metrics().Snapshot()
	require.Equal(t, uint64(1), snap.CommittedInsns)
	require.Equal(t, uint64(1), snap.LoadsToCache)

	knobs := oocoresim.DefaultKnobs()
	floor := uint64(knobs.Core.Exec.DL1.Latency) +
		uint64(knobs.Uncore.LLC.Latency) +
		uint64(knobs.Uncore.FSBLatency) +
		uint64(knobs.Uncore.MemoryLatency)
	require.GreaterOrEqual(t, snap.Cycles, floor,
		"a cold load cannot complete faster than the memory round trip")
}

// S3 "branch recovery": a cold-predicted branch that is actually taken
// mispredicts, the front end resteers after the jeclear delay, and the
// stream at the target still commits completely.
func TestScenarioBranchRecovery(t *testing.T) {
	feed := oocoresim.NewMockFeeder()
	feed.AddALU(0, oocoresim.RegEAX, oocoresim.RegEBX)
	feed.AddBranch(0, 0x2000, true)
	feed.AddALU(0, oocoresim.RegECX, oocoresim.RegEDX)
	feed.AddALU(0, oocoresim.RegESI, oocoresim.RegEDI)

	sim := newSim(t, feed, func(k *oocoresim.Knobs) {
		k.Core.Fetch.BPredSpec = "2bit" // cold two-bit counters predict not-taken
	})
	require.NoError(t, sim.Run())

	snap := sim.Metrics().Snapshot()
	require.Equal(t, uint64(4), snap.CommittedInsns)
	require.Equal(t, uint64(1), snap.Jeclears)
}

// S4 "store-to-load forward": with a conservative memory-dependence
// predictor the younger load waits for the older store and takes its
// value straight out of the STQ, never touching the D-cache.
func TestScenarioStoreToLoadForward(t *testing.T) {
	feed := oocoresim.NewMockFeeder()
	feed.AddStore(0, oocoresim.RegEAX, 0x3000, 4)
	feed.AddLoad(0, oocoresim.RegEBX, 0x3000, 4)

	sim := newSim(t, feed, func(k *oocoresim.Knobs) {
		k.Core.Exec.MemDepSpec = "always"
	})
	require.NoError(t, sim.Run())

	snap := sim.Metrics().Snapshot()
	require.Equal(t, uint64(2), snap.CommittedInsns)
	require.Equal(t, uint64(1), snap.LoadsForwarded)
	require.Zero(t, snap.LoadsToCache, "a forwarded load never accesses the D-cache")
	require.Zero(t, snap.Nukes)
}

// S5 "nuke": an untrained store-sets predictor lets the load race past
// the unresolved older store; when the store's address resolves to the
// load's, the pipeline nukes, the oracle replays from shadow storage, and
// both instructions still commit exactly once.
func TestScenarioNuke(t *testing.T) {
	feed := oocoresim.NewMockFeeder()
	feed.AddStore(0, oocoresim.RegEAX, 0x4000, 4)
	feed.AddLoad(0, oocoresim.RegEBX, 0x4000, 4)

	sim := newSim(t, feed, func(k *oocoresim.Knobs) {
		k.Core.Exec.MemDepSpec = "storesets"
	})
	require.NoError(t, sim.Run())

	snap := sim.Metrics().Snapshot()
	require.Equal(t, uint64(1), snap.Nukes)
	require.Equal(t, uint64(2), snap.CommittedInsns,
		"replayed instructions commit exactly once each")
	require.Equal(t, uint64(1), snap.LoadsForwarded,
		"the replayed load forwards from the STQ the second time around")
}

// S6 "MSHR coalescing": two loads to the same line while the first miss
// is outstanding produce one upstream request and two completions.
func TestScenarioMSHRCoalescing(t *testing.T) {
	feed := oocoresim.NewMockFeeder()
	feed.AddLoad(0, oocoresim.RegEAX, 0x5000, 4)
	feed.AddLoad(0, oocoresim.RegEBX, 0x5004, 4)

	sim := newSim(t, feed, nil)
	require.NoError(t, sim.Run())

	snap := sim.Metrics().Snapshot()
	require.Equal(t, uint64(2), snap.CommittedInsns)
	require.Equal(t, uint64(2), snap.LoadsToCache)

	dl1 := sim.Cores()[0].DL1.Stat
	require.Equal(t, int64(1), dl1.MSHRCombos)
	require.Equal(t, int64(1), dl1.LoadMisses, "only the first load occupies an MSHR slot")
	// One instruction-side miss (both fetch PCs share a line and coalesce
	// at the IL1) plus one data-side miss for the coalesced load pair.
	require.Equal(t, int64(2), sim.Uncore().LLC.Stat.LoadLookups,
		"each coalesced pair issues exactly one request upstream")
}

// A two-core run exercises the rendezvous: both cores' streams retire and
// the shared uncore serves both cores' cold misses.
func TestScenarioTwoCoreRendezvous(t *testing.T) {
	feed := oocoresim.NewMockFeeder()
	for core := 0; core < 2; core++ {
		feed.AddALU(core, oocoresim.RegEAX, oocoresim.RegEBX)
		feed.AddLoad(core, oocoresim.RegECX, uint64(0x6000+core*0x100), 4)
	}

	sim := newSim(t, feed, func(k *oocoresim.Knobs) {
		k.System.NumCores = 2
	})
	require.NoError(t, sim.Run())

	snap := sim.Metrics().Snapshot()
	require.Equal(t, uint64(4), snap.CommittedInsns)
	for id := 0; id < 2; id++ {
		require.Equal(t, int64(2), sim.Cores()[id].Commit.Stat.NumCommitted)
	}
}
