// Package bus implements the front-side bus: a fixed-width,
// clock-ratio'd transport between a cache level's MSHR pool and the next
// level of the hierarchy. It is grounded on the teacher's
// internal/uring submission/completion ring (ehrlich-b-go-ublk), adapted
// from a cgo io_uring wrapper moving real bytes between a kernel block
// device and userspace into a pure in-process ring moving
// *cache.Request pointers between two hierarchy levels — the cgo fence
// primitives the original uses to order producer/consumer memory access
// have no equivalent here since both ends already share one goroutine's
// view of memory under Cache.sharedLock (see DESIGN.md).
package bus

import (
	"oocoresim/internal/cache"
	"oocoresim/internal/mop"
)

// txState mirrors the teacher's TagState machine (InFlightFetch/Owned/
// InFlightCommit), narrowed to a ring slot's two live states.
type txState int

const (
	txEmpty txState = iota
	txInFlight
)

type transaction struct {
	state  txState
	req    *cache.Request
	doneAt mop.Tick
}

// Stats counts bus-visible events.
type Stats struct {
	NumSubmitted int64
	NumRejected  int64
	NumCompleted int64
}

// Bus is a fixed-capacity, fixed-width, fixed-latency in-order transport:
// a single ring of in-flight transactions, submitted at the tail and
// completed from the head once Latency ticks have elapsed, at most Width
// completions per Tick.
type Bus struct {
	ring   []transaction
	head   int
	tail   int
	count  int
	width  int
	latency mop.Tick

	Cycle mop.Tick
	Stat  Stats
}

// New creates a Bus with the given ring capacity, per-tick completion
// width, and fixed transport latency in bus cycles.
func New(capacity, width int, latency mop.Tick) *Bus {
	if capacity <= 0 {
		capacity = 1
	}
	if width <= 0 {
		width = 1
	}
	return &Bus{ring: make([]transaction, capacity), width: width, latency: latency}
}

// Submit enqueues req for transport, returning false if the ring is full
// (the caller, a Cache's dispatch step, retries on a later cycle).
func (b *Bus) Submit(req *cache.Request) bool {
	if b.count >= len(b.ring) {
		b.Stat.NumRejected++
		return false
	}
	b.ring[b.tail] = transaction{state: txInFlight, req: req, doneAt: b.Cycle + b.latency}
	b.tail = (b.tail + 1) % len(b.ring)
	b.count++
	b.Stat.NumSubmitted++
	return true
}

// Tick advances the bus clock by one cycle, completing up to Width
// head-of-ring transactions whose latency has elapsed and invoking
// onComplete for each, in strict FIFO order (the FSB serializes all
// traffic through one queue regardless of which cache level it came
// from).
func (b *Bus) Tick(onComplete func(req *cache.Request)) {
	b.Cycle++
	done := 0
	for done < b.width && b.count > 0 {
		e := &b.ring[b.head]
		if e.state != txInFlight || e.doneAt > b.Cycle {
			break
		}
		req := e.req
		*e = transaction{}
		b.head = (b.head + 1) % len(b.ring)
		b.count--
		done++
		b.Stat.NumCompleted++
		if onComplete != nil {
			onComplete(req)
		}
	}
}

// Len reports the number of transactions currently in flight.
func (b *Bus) Len() int { return b.count }
