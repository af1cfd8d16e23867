package exec

import (
	"oocoresim/internal/logging"
	"oocoresim/internal/mop"
)

// inflightALU is a non-memory uop running through its functional unit's
// fixed latency, waiting for doneAt.
type inflightALU struct {
	u      *mop.Uop
	doneAt mop.Tick
}

// Stage is the per-core execution unit: it owns the reservation-station
// Scheduler, dispatches each cycle's issued uops to either a fixed-latency
// functional unit or the LoadStore pipeline, and broadcasts completions to
// dataflow dependents through the odep chain built in internal/oracle.
type Stage struct {
	sched *Scheduler
	ls    *LoadStore

	inflight []*inflightALU

	log *logging.Logger
}

// New creates an execution Stage backed by sched and ls.
func New(sched *Scheduler, ls *LoadStore, log *logging.Logger) *Stage {
	return &Stage{sched: sched, ls: ls, log: log}
}

// Add admits a newly-allocated uop into the reservation station. No
// separate wakeup call follows: the scheduler reads the uop's
// IValueValid flags on every Schedule to decide whether it is ready.
func (s *Stage) Add(u *mop.Uop) { s.sched.Add(u) }

// Flush drops u from the reservation station without issuing it, used on
// a squash.
func (s *Stage) Flush(u *mop.Uop) { s.sched.Remove(u) }

// FlushAll squashes everything in flight — reservation station, functional
// units, and the load/store pipeline — for a nuke or emergency recovery.
func (s *Stage) FlushAll() {
	s.inflight = nil
	s.sched.Reset()
	s.ls.FlushAll()
}

// TakeNuke reports and clears the load/store pipeline's pending
// ordering-violation flag.
func (s *Stage) TakeNuke() bool { return s.ls.TakeNuke() }

// LS exposes the load/store pipeline for stat collection and tests.
func (s *Stage) LS() *LoadStore { return s.ls }

// Step advances execution by one cycle: complete fixed-latency functional
// units and drain D-cache returns first (so dependents woken this cycle
// can issue in the same Step's Schedule call), then issue up to one uop
// per port.
func (s *Stage) Step(cycle mop.Tick) {
	s.drainALU(cycle)
	s.ls.Step(cycle)

	for _, u := range s.sched.Schedule(cycle) {
		s.dispatch(u, cycle)
	}
}

func (s *Stage) dispatch(u *mop.Uop, cycle mop.Tick) {
	switch u.Decode.FUClass {
	case mop.FULoad:
		if !s.ls.TryIssueLoad(u, cycle) {
			s.sched.Replay(u)
		}
	case mop.FUStoreAddr:
		s.ls.ExecuteStoreAddr(u)
		s.complete(u, cycle)
	case mop.FUStoreData:
		s.ls.ExecuteStoreData(u)
		s.complete(u, cycle)
	default:
		latency := s.sched.Latency(u.Decode.FUClass)
		if latency <= 0 {
			latency = 1
		}
		s.inflight = append(s.inflight, &inflightALU{u: u, doneAt: cycle + mop.Tick(latency)})
	}
}

func (s *Stage) drainALU(cycle mop.Tick) {
	i := 0
	for i < len(s.inflight) {
		e := s.inflight[i]
		if e.doneAt > cycle {
			i++
			continue
		}
		s.complete(e.u, cycle)
		s.inflight = append(s.inflight[:i], s.inflight[i+1:]...)
	}
}

func (s *Stage) complete(u *mop.Uop, cycle mop.Tick) {
	u.Timing.WhenCompleted = cycle
	u.Exec.OValueValid = true
	u.EachODep(func(consumer *mop.Uop, opNum int, aflags bool) {
		consumer.Exec.IValueValid[opNum] = true
		consumer.Timing.WhenIValReady[opNum] = cycle
	})
}
