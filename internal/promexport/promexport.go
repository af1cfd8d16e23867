// Package promexport bridges the simulator's Observer callback surface to
// Prometheus. The core never imports Prometheus itself; callers that want
// scrapeable run metrics install an Exporter as the run's Observer and
// expose its Registry however they serve the rest of their metrics.
package promexport

import (
	"github.com/prometheus/client_golang/prometheus"

	"oocoresim"
)

// Exporter implements oocoresim.Observer on top of a Prometheus registry.
type Exporter struct {
	Registry *prometheus.Registry

	runsStarted  prometheus.Counter
	coresPerRun  prometheus.Gauge
	committed    prometheus.Counter
	cycles       prometheus.Counter
	uncoreCycles prometheus.Counter
	nukes        prometheus.Counter
	jeclears     prometheus.Counter
	mshrCombos   prometheus.Counter
	ipc          prometheus.Gauge
}

// New creates an Exporter with all collectors registered on a fresh
// registry.
func New() *Exporter {
	e := &Exporter{
		Registry: prometheus.NewRegistry(),
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oocoresim_runs_started_total",
			Help: "Simulation runs started.",
		}),
		coresPerRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "oocoresim_cores",
			Help: "Cores in the most recent run.",
		}),
		committed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oocoresim_committed_instructions_total",
			Help: "Architectural instructions retired across all runs.",
		}),
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oocoresim_cpu_cycles_total",
			Help: "CPU cycles simulated across all runs.",
		}),
		uncoreCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oocoresim_uncore_cycles_total",
			Help: "Uncore cycles simulated across all runs.",
		}),
		nukes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oocoresim_nukes_total",
			Help: "Load/store-ordering violation recoveries.",
		}),
		jeclears: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oocoresim_jeclears_total",
			Help: "Branch-misprediction recoveries.",
		}),
		mshrCombos: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oocoresim_mshr_combos_total",
			Help: "Cache misses coalesced onto an in-flight MSHR.",
		}),
		ipc: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "oocoresim_ipc",
			Help: "Committed IPC of the most recent run.",
		}),
	}
	e.Registry.MustRegister(e.runsStarted, e.coresPerRun, e.committed, e.cycles,
		e.uncoreCycles, e.nukes, e.jeclears, e.mshrCombos, e.ipc)
	return e
}

// RunStarted implements oocoresim.Observer.
func (e *Exporter) RunStarted(numCores int) {
	e.runsStarted.Inc()
	e.coresPerRun.Set(float64(numCores))
}

// RunFinished implements oocoresim.Observer.
func (e *Exporter) RunFinished(snap oocoresim.MetricsSnapshot) {
	e.committed.Add(float64(snap.CommittedInsns))
	e.cycles.Add(float64(snap.Cycles))
	e.uncoreCycles.Add(float64(snap.UncoreCycles))
	e.nukes.Add(float64(snap.Nukes))
	e.jeclears.Add(float64(snap.Jeclears))
	e.mshrCombos.Add(float64(snap.MSHRCombos))
	e.ipc.Set(snap.IPC)
}

var _ oocoresim.Observer = (*Exporter)(nil)
