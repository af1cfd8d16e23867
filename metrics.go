package oocoresim

import (
	"sync/atomic"
	"time"
)

// Metrics tracks whole-simulation statistics across every core, filled
// once by Simulator.Run from the per-stage Stat structs after the cycle
// loop ends; the heartbeat path reads the cores' commit counters directly
// rather than these fields.
type Metrics struct {
	// Instruction stream counters
	CommittedInsns atomic.Uint64 // Architectural instructions retired
	CommittedUops  atomic.Uint64 // Micro-ops retired
	Cycles         atomic.Uint64 // CPU cycles elapsed
	UncoreCycles   atomic.Uint64 // Uncore cycles elapsed

	// Recovery counters
	Nukes               atomic.Uint64 // Load/store-ordering violation flushes
	Jeclears            atomic.Uint64 // Branch-misprediction recoveries
	PhantomResteers     atomic.Uint64 // Fetch resteers on a non-control Mop
	EmergencyRecoveries atomic.Uint64 // Commit-watchdog pipeline restarts
	TrapDrains          atomic.Uint64 // Serializing-trap pipeline drains

	// Memory system counters
	LoadsForwarded  atomic.Uint64 // Store-to-load forwards out of the STQ
	LoadsToCache    atomic.Uint64 // Loads serviced by the D-cache path
	MSHRCombos      atomic.Uint64 // Misses coalesced onto an in-flight MSHR
	StoreWritebacks atomic.Uint64 // Committed stores drained to the D-cache

	// Run lifecycle
	StartTime atomic.Int64 // Run start timestamp (UnixNano)
	StopTime  atomic.Int64 // Run stop timestamp (UnixNano)
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// Stop marks the run as finished
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time copy of Metrics plus derived rates.
type MetricsSnapshot struct {
	CommittedInsns uint64
	CommittedUops  uint64
	Cycles         uint64
	UncoreCycles   uint64

	Nukes               uint64
	Jeclears            uint64
	PhantomResteers     uint64
	EmergencyRecoveries uint64
	TrapDrains          uint64

	LoadsForwarded  uint64
	LoadsToCache    uint64
	MSHRCombos      uint64
	StoreWritebacks uint64

	// IPC is committed instructions per CPU cycle.
	IPC float64

	// UopsPerInsn is the average flow length of the committed stream.
	UopsPerInsn float64

	WallTime time.Duration
}

// Snapshot creates a point-in-time snapshot of metrics
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		CommittedInsns:      m.CommittedInsns.Load(),
		CommittedUops:       m.CommittedUops.Load(),
		Cycles:              m.Cycles.Load(),
		UncoreCycles:        m.UncoreCycles.Load(),
		Nukes:               m.Nukes.Load(),
		Jeclears:            m.Jeclears.Load(),
		PhantomResteers:     m.PhantomResteers.Load(),
		EmergencyRecoveries: m.EmergencyRecoveries.Load(),
		TrapDrains:          m.TrapDrains.Load(),
		LoadsForwarded:      m.LoadsForwarded.Load(),
		LoadsToCache:        m.LoadsToCache.Load(),
		MSHRCombos:          m.MSHRCombos.Load(),
		StoreWritebacks:     m.StoreWritebacks.Load(),
	}

	if snap.Cycles > 0 {
		snap.IPC = float64(snap.CommittedInsns) / float64(snap.Cycles)
	}
	if snap.CommittedInsns > 0 {
		snap.UopsPerInsn = float64(snap.CommittedUops) / float64(snap.CommittedInsns)
	}

	stop := m.StopTime.Load()
	if stop == 0 {
		stop = time.Now().UnixNano()
	}
	snap.WallTime = time.Duration(stop - m.StartTime.Load())
	return snap
}

// Observer receives simulation lifecycle callbacks. The core never depends
// on any metrics backend directly; internal/promexport provides an
// Observer backed by Prometheus, and tests install recording fakes.
type Observer interface {
	// RunStarted is invoked once, before the first cycle.
	RunStarted(numCores int)

	// RunFinished is invoked once, with the final metrics.
	RunFinished(snap MetricsSnapshot)
}

// NopObserver is the default Observer: it ignores every callback.
type NopObserver struct{}

func (NopObserver) RunStarted(int)             {}
func (NopObserver) RunFinished(MetricsSnapshot) {}
