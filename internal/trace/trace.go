// Package trace implements the in-memory simulation trace: one bounded
// circular buffer of printable records per core, flushed to a per-core
// append-only file on request or dumped on assertion failure. Tracing is
// free when no filename is configured: records still land in the ring
// (so a post-mortem dump has context) but nothing touches the filesystem.
package trace

import (
	"fmt"
	"os"
	"sync"
)

// DefaultCapacity is the per-core ring depth when the caller does not
// override it.
const DefaultCapacity = 4096

// Record is one trace line: a cycle stamp, a record kind with its own
// sequence number, the pipeline mode (speculative or not), and the
// payload text.
type Record struct {
	Cycle int64
	Kind  string
	Seq   int64
	Spec  bool
	Text  string
}

// String renders the record in the cycle|kind:seq|mode| line format.
func (r Record) String() string {
	mode := "arch"
	if r.Spec {
		mode = "spec"
	}
	return fmt.Sprintf("%d|%s:%d|%s|%s", r.Cycle, r.Kind, r.Seq, mode, r.Text)
}

// Ring is one core's bounded circular trace buffer.
type Ring struct {
	mu   sync.Mutex
	recs []Record
	head int
	num  int
	seq  map[string]int64
}

// NewRing creates a Ring holding at most capacity records; older records
// are overwritten once it wraps.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring{recs: make([]Record, capacity), seq: make(map[string]int64)}
}

// Add appends a record, assigning the next per-kind sequence number and
// overwriting the oldest record if the ring is full.
func (r *Ring) Add(cycle int64, kind string, spec bool, format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq[kind]++
	rec := Record{Cycle: cycle, Kind: kind, Seq: r.seq[kind], Spec: spec, Text: fmt.Sprintf(format, args...)}
	idx := (r.head + r.num) % len(r.recs)
	r.recs[idx] = rec
	if r.num < len(r.recs) {
		r.num++
	} else {
		r.head = (r.head + 1) % len(r.recs)
	}
}

// Len reports how many records are currently buffered.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.num
}

// Drain returns the buffered records oldest-first and empties the ring.
func (r *Ring) Drain() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Record, 0, r.num)
	for i := 0; i < r.num; i++ {
		out = append(out, r.recs[(r.head+i)%len(r.recs)])
	}
	r.head = 0
	r.num = 0
	return out
}

// Set is the per-core ring collection plus the optional file sink.
type Set struct {
	rings    []*Ring
	filename string
}

// NewSet creates one ring per core. filename is the per-core file prefix
// ("<filename>.<coreID>"); empty disables file output entirely.
func NewSet(numCores int, filename string) *Set {
	s := &Set{filename: filename}
	for i := 0; i < numCores; i++ {
		s.rings = append(s.rings, NewRing(DefaultCapacity))
	}
	return s
}

// Core returns core id's ring.
func (s *Set) Core(id int) *Ring { return s.rings[id] }

// FlushAll drains every core's ring into its append-only trace file. With
// no filename configured it discards the records and reports nil.
func (s *Set) FlushAll() error {
	if s.filename == "" {
		for _, r := range s.rings {
			r.Drain()
		}
		return nil
	}
	for id, r := range s.rings {
		recs := r.Drain()
		if len(recs) == 0 {
			continue
		}
		f, err := os.OpenFile(fmt.Sprintf("%s.%d", s.filename, id), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		for _, rec := range recs {
			if _, err := fmt.Fprintln(f, rec.String()); err != nil {
				f.Close()
				return err
			}
		}
		if err := f.Close(); err != nil {
			return err
		}
	}
	return nil
}

// DumpAll writes every core's buffered records to stderr, used on
// assertion failure so the post-mortem context survives even when no
// trace file was configured.
func (s *Set) DumpAll() {
	for id, r := range s.rings {
		for _, rec := range r.Drain() {
			fmt.Fprintf(os.Stderr, "ztrace core %d: %s\n", id, rec.String())
		}
	}
}
