package cache

// pffEntry is one queued prefetch request, mirroring cache_t::PFF_t.
type pffEntry struct {
	pc    uint64
	addr  uint64
	valid bool
}

// prefetchState bundles the prefetch FIFO, a recent-address buffer (used to
// avoid re-issuing a prefetch for an address already in flight), and a
// Bloom-style filter (a hashed bitset used to throttle duplicate
// prefetches), mirroring the PFF/PF_buffer/PF_filter trio. Nothing in this
// package clears the filter during a run, so a marked address stays
// filtered.
type prefetchState struct {
	fifo     []pffEntry
	head     int
	tail     int
	num      int

	buffer   []uint64
	bufNext  int

	filter       []bool
	filterMask   int
}

func newPrefetchState(fifoSize, bufSize int) *prefetchState {
	if fifoSize <= 0 {
		fifoSize = 1
	}
	if bufSize <= 0 {
		bufSize = 1
	}
	mask := 1
	for mask < fifoSize*8 {
		mask <<= 1
	}
	return &prefetchState{
		fifo:       make([]pffEntry, fifoSize),
		buffer:     make([]uint64, bufSize),
		filter:     make([]bool, mask),
		filterMask: mask - 1,
	}
}

// Enqueue appends a candidate prefetch request, returning false if the FIFO
// is full.
func (p *prefetchState) Enqueue(pc, addr uint64) bool {
	if p.num == len(p.fifo) {
		return false
	}
	p.fifo[p.tail] = pffEntry{pc: pc, addr: addr, valid: true}
	p.tail = (p.tail + 1) % len(p.fifo)
	p.num++
	return true
}

// Dequeue removes and returns the oldest queued prefetch request.
func (p *prefetchState) Dequeue() (pc, addr uint64, ok bool) {
	if p.num == 0 {
		return 0, 0, false
	}
	e := p.fifo[p.head]
	p.fifo[p.head] = pffEntry{}
	p.head = (p.head + 1) % len(p.fifo)
	p.num--
	return e.pc, e.addr, true
}

// InBuffer reports whether addr was recently prefetched, per the
// fixed-size recent-address buffer.
func (p *prefetchState) InBuffer(addr uint64) bool {
	for _, a := range p.buffer {
		if a == addr {
			return true
		}
	}
	return false
}

// RecordBuffer records addr as recently prefetched, evicting the oldest
// entry on overflow.
func (p *prefetchState) RecordBuffer(addr uint64) {
	p.buffer[p.bufNext] = addr
	p.bufNext = (p.bufNext + 1) % len(p.buffer)
}

func (p *prefetchState) filterHash(addr uint64) int {
	h := addr * 2654435761
	return int(h) & p.filterMask
}

// FilterSeen reports whether addr has already been marked in the filter
// since the last reset.
func (p *prefetchState) FilterSeen(addr uint64) bool {
	return p.filter[p.filterHash(addr)]
}

// FilterMark records addr in the filter.
func (p *prefetchState) FilterMark(addr uint64) {
	p.filter[p.filterHash(addr)] = true
}

// FilterReset clears the filter. No caller in this package invokes it.
func (p *prefetchState) FilterReset() {
	for i := range p.filter {
		p.filter[i] = false
	}
}
