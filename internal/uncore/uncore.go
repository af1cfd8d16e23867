// Package uncore wires the shared last-level cache, the front-side bus
// connecting it to main memory, and a pluggable DRAM timing model into
// the single off-core domain every active core's private cache
// hierarchy drains into. It mirrors the teacher's separation of a
// per-device transport (internal/uring) from the device logic sitting
// on top of it (ublk's handler), here narrowed to the FSB/LLC pairing
// described in the memory system's build_uncore.
package uncore

import (
	"sync"

	"oocoresim/internal/bus"
	"oocoresim/internal/cache"
	"oocoresim/internal/mop"
)

// DRAMModel computes the service latency for a physical address, letting
// a future bank/row-buffer timing model slot in without touching
// Uncore's wiring. FixedLatencyDRAM is the only implementation carried
// here; anything with row-buffer or refresh timing is out of scope (see
// DESIGN.md).
type DRAMModel interface {
	Latency(addr uint64) mop.Tick
}

// FixedLatencyDRAM always returns the same service time, matching the
// reference model's default flat DRAM latency knob.
type FixedLatencyDRAM struct {
	Cycles mop.Tick
}

func (d FixedLatencyDRAM) Latency(addr uint64) mop.Tick { return d.Cycles }

// MemoryController sits behind the bus and issues DRAM accesses,
// returning each request after its modeled latency. It holds requests
// in a simple in-flight list rather than modeling per-channel/per-bank
// queuing, matching the Non-goals scoping of DVFS/power/detailed DRAM
// timing out of this simulator.
type MemoryController struct {
	dram DRAMModel

	mu      sync.Mutex
	pending []mcEntry
}

type mcEntry struct {
	req    *cache.Request
	doneAt mop.Tick
}

// NewMemoryController creates a controller fronted by the given DRAM
// timing model.
func NewMemoryController(dram DRAMModel) *MemoryController {
	return &MemoryController{dram: dram}
}

// Issue admits req for service, to complete at cycle+latency.
func (m *MemoryController) Issue(req *cache.Request, cycle mop.Tick) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending, mcEntry{req: req, doneAt: cycle + m.dram.Latency(req.PAddr)})
}

// Drain returns every request whose DRAM latency has elapsed as of
// cycle, removing them from the pending list.
func (m *MemoryController) Drain(cycle mop.Tick) []*cache.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ready []*cache.Request
	var rest []mcEntry
	for _, e := range m.pending {
		if e.doneAt <= cycle {
			ready = append(ready, e.req)
		} else {
			rest = append(rest, e)
		}
	}
	m.pending = rest
	return ready
}

// Config bundles the knobs needed to build an Uncore.
type Config struct {
	LLC        cache.Config
	BusCapacity int
	BusWidth    int
	BusLatency  mop.Tick
	DRAM       DRAMModel
}

// Uncore is the shared last-level cache plus the FSB and memory
// controller behind it. Every active core's L2 (or L1, if configured
// with no L2) is attached via Attach, which sets that cache's upstream so
// its dispatches enqueue into the LLC, and LLC's own
// upstream is wired straight through the Bus into the MemoryController.
type Uncore struct {
	LLC *cache.Cache
	FSB *bus.Bus
	MC  *MemoryController

	Cycle mop.Tick
}

// New builds an Uncore with the LLC's miss/writeback dispatch routed
// onto the FSB, and the FSB's completions routed into the memory
// controller.
func New(cfg Config) *Uncore {
	if cfg.LLC.CoreID == 0 {
		cfg.LLC.CoreID = -1
	}
	u := &Uncore{
		LLC: cache.New(cfg.LLC),
		FSB: bus.New(cfg.BusCapacity, cfg.BusWidth, cfg.BusLatency),
		MC:  NewMemoryController(cfg.DRAM),
	}
	u.LLC.SetUpstream(u.FSB.Submit)
	return u
}

// Attach routes a private cache's miss/writeback dispatch into the shared
// LLC. Each dispatched request is re-wrapped so the LLC's completion feeds
// the private cache's MSHR fill path rather than invoking the original
// requester's callback directly; the requester's own staleness check still
// runs when the private cache's fill pipe completes.
func (u *Uncore) Attach(c *cache.Cache) {
	c.SetUpstream(func(req *cache.Request) bool {
		fwd := &cache.Request{
			CoreID: req.CoreID,
			PAddr:  req.PAddr,
			Cmd:    req.Cmd,
		}
		fwd.Callback = func(*cache.Request) { c.FillArrivedReq(req, 0) }
		return u.LLC.Enqueue(fwd)
	})
}

// Step advances the uncore domain by one cycle: the LLC processes its
// own pipes/MSHRs (dispatching onto the FSB as a side effect of
// Process), the bus moves in-flight transactions toward the memory
// controller, and completed DRAM accesses are filled back into the LLC.
func (u *Uncore) Step() {
	u.Cycle++
	u.LLC.Process()
	u.FSB.Tick(func(req *cache.Request) {
		u.MC.Issue(req, u.Cycle)
	})
	for _, req := range u.MC.Drain(u.Cycle) {
		u.LLC.FillArrivedReq(req, 0)
	}
}
