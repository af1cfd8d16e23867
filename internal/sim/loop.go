package sim

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"oocoresim/internal/core"
	"oocoresim/internal/logging"
	"oocoresim/internal/mop"
	"oocoresim/internal/uncore"
)

// drainGrace is how many cycles a deactivated core keeps stepping its
// private caches before leaving the rendezvous, giving outstanding
// repeater and MSHR traffic time to drain.
const drainGrace = 64

// Config bundles the whole-simulation knobs the Loop needs.
type Config struct {
	// MaxCycles bounds the run; 0 means run until every core deactivates.
	MaxCycles mop.Tick

	// LLCRatioNum/LLCRatioDen express the uncore-clock:CPU-clock ratio as
	// a rational: the uncore advances LLCRatioNum ticks for every
	// LLCRatioDen CPU cycles.
	LLCRatioNum int
	LLCRatioDen int

	// HeartbeatFrequency is the number of uncore cycles between heartbeat
	// lines on HeartbeatWriter; 0 disables them.
	HeartbeatFrequency mop.Tick
	HeartbeatWriter    io.Writer

	// DeadlockCycles is the global watchdog: if no core commits anything
	// for this many consecutive CPU cycles, the run aborts. 0 disables.
	DeadlockCycles mop.Tick
}

// Loop is the cycle scheduler: one goroutine per core, rendezvousing with
// a coordinator each CPU cycle through a two-phase barrier, with the
// coordinator advancing the shared uncore between phases on behalf of the
// master core.
type Loop struct {
	cfg    Config
	cores  []*core.Core
	uncore *uncore.Uncore

	stepB *Barrier
	tickB *Barrier

	stop atomic.Bool

	// cycleLock guards the shared cycle counters and heartbeat state the
	// coordinator mutates between barrier phases, so observers (tests,
	// the heartbeat printer) read a consistent pair.
	cycleLock    sync.Mutex
	cycle        mop.Tick
	uncoreCycles mop.Tick

	ratioAcc int

	lastCommitTotal int64
	noProgress      mop.Tick

	log *logging.Logger
}

// New creates a Loop over the given cores and shared uncore.
func New(cfg Config, cores []*core.Core, unc *uncore.Uncore, log *logging.Logger) *Loop {
	if cfg.LLCRatioNum <= 0 {
		cfg.LLCRatioNum = 1
	}
	if cfg.LLCRatioDen <= 0 {
		cfg.LLCRatioDen = 1
	}
	if cfg.HeartbeatWriter == nil {
		cfg.HeartbeatWriter = os.Stderr
	}
	return &Loop{cfg: cfg, cores: cores, uncore: unc, log: log}
}

// Cycle reports the number of completed CPU cycles.
func (l *Loop) Cycle() mop.Tick {
	l.cycleLock.Lock()
	defer l.cycleLock.Unlock()
	return l.cycle
}

// UncoreCycles reports the number of completed uncore cycles.
func (l *Loop) UncoreCycles() mop.Tick {
	l.cycleLock.Lock()
	defer l.cycleLock.Unlock()
	return l.uncoreCycles
}

func (l *Loop) committedTotal() int64 {
	var total int64
	for _, c := range l.cores {
		total += c.Commit.Stat.NumCommitted
	}
	return total
}

// Run drives the simulation to completion: every core goroutine steps its
// pipeline once per CPU cycle, and after all of them rendezvous the
// coordinator advances the uncore by the configured clock ratio. It
// returns nil on a clean end-of-trace completion and an error on the
// global deadlock watchdog firing.
func (l *Loop) Run() error {
	n := len(l.cores)
	l.stepB = NewBarrier(n + 1)
	l.tickB = NewBarrier(n + 1)

	var wg sync.WaitGroup
	for _, c := range l.cores {
		wg.Add(1)
		go func(c *core.Core) {
			defer wg.Done()
			l.coreLoop(c)
		}(c)
	}

	err := l.coordinate()
	wg.Wait()
	return err
}

// coreLoop is one core's cycle driver: step while active, drain private
// caches for a grace period once deactivated, then leave both barrier
// phases for good.
func (l *Loop) coreLoop(c *core.Core) {
	drained := mop.Tick(0)
	for {
		if l.stop.Load() {
			l.stepB.Drop()
			l.tickB.Drop()
			return
		}
		switch {
		case c.Active():
			c.Step()
		case drained < drainGrace:
			c.DrainCaches()
			drained++
		default:
			l.stepB.Drop()
			l.tickB.Drop()
			return
		}
		l.stepB.Await()
		l.tickB.Await()
	}
}

// coordinate is the rendezvous side of the per-cycle protocol: wait for
// every core to finish its cycle, advance the uncore clock, run the
// heartbeat and watchdog, and release the cores into the next cycle.
func (l *Loop) coordinate() error {
	var err error
	for {
		if l.stepB.Parties() <= 1 {
			return err
		}
		l.stepB.Await()

		l.cycleLock.Lock()
		l.cycle++
		l.ratioAcc += l.cfg.LLCRatioNum
		for l.ratioAcc >= l.cfg.LLCRatioDen {
			l.ratioAcc -= l.cfg.LLCRatioDen
			l.uncore.Step()
			l.uncoreCycles++
			if l.cfg.HeartbeatFrequency > 0 && l.uncoreCycles%l.cfg.HeartbeatFrequency == 0 {
				fmt.Fprintf(l.cfg.HeartbeatWriter, "heartbeat: cycle=%d uncore=%d committed=%d\n",
					l.cycle, l.uncoreCycles, l.committedTotal())
			}
		}
		cycle := l.cycle
		l.cycleLock.Unlock()

		if l.cfg.DeadlockCycles > 0 {
			total := l.committedTotal()
			if total == l.lastCommitTotal {
				l.noProgress++
			} else {
				l.noProgress = 0
				l.lastCommitTotal = total
			}
			if l.noProgress >= l.cfg.DeadlockCycles {
				err = fmt.Errorf("deadlock: no commits on any core for %d cycles (cycle %d)", l.noProgress, cycle)
				l.stop.Store(true)
			}
		}
		if l.cfg.MaxCycles > 0 && cycle >= l.cfg.MaxCycles {
			l.stop.Store(true)
		}

		l.tickB.Await()
	}
}
