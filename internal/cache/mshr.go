package cache

import "oocoresim/internal/mop"

// MSHRType distinguishes a genuine miss entry from a writeback entry;
// MSHRs double as the writeback buffer so there is a single point of
// contact with the next level, matching mshr_entry_type_t.
type MSHRType int

const (
	MSHRMiss MSHRType = iota
	MSHRWriteback
)

type mshrSlot struct {
	inUse      bool
	req        *Request
	filled     bool
	fillAt     mop.Tick
	dispatched bool
}

// mshrPool holds the miss-handling and writeback slot arrays plus the
// dispatch order, matching cache_t's MSHR/MSHR_WB fields.
type mshrPool struct {
	miss []mshrSlot
	wb   []mshrSlot

	cmdOrder []Command
}

func newMSHRPool(missSize, wbSize int) *mshrPool {
	return &mshrPool{
		miss:     make([]mshrSlot, missSize),
		wb:       make([]mshrSlot, wbSize),
		cmdOrder: ParseMSHRCommandOrder("RPWB"),
	}
}

// ParseMSHRCommandOrder parses a priority string such as "RPWB" (Read,
// Prefetch, Write, writeBack) into an ordered command list used to decide
// which queued MSHR gets dispatched first when several are ready.
func ParseMSHRCommandOrder(spec string) []Command {
	var out []Command
	for _, c := range spec {
		switch c {
		case 'R':
			out = append(out, CmdRead)
		case 'W':
			out = append(out, CmdWrite)
		case 'P':
			out = append(out, CmdPrefetch)
		case 'B':
			out = append(out, CmdWriteback)
		}
	}
	if len(out) == 0 {
		out = []Command{CmdRead, CmdWrite, CmdPrefetch, CmdWriteback}
	}
	return out
}

func poolFor(p *mshrPool, req *Request) []mshrSlot {
	if req.Cmd == CmdWriteback {
		return p.wb
	}
	return p.miss
}

// coalesce links req onto an existing in-flight MSHR targeting the same
// line, if one exists, returning the head request and true. Only the head
// of a coalesced chain ever issues upstream.
func (p *mshrPool) coalesce(tag uint64, req *Request) (*Request, bool) {
	slots := poolFor(p, req)
	for i := range slots {
		if slots[i].inUse && slots[i].req.lineTag == tag {
			req.MSHRLinked = true
			tail := slots[i].req
			for tail.MSHRLink != nil {
				tail = tail.MSHRLink
			}
			tail.MSHRLink = req
			return slots[i].req, true
		}
	}
	return nil, false
}

// insert occupies a fresh slot for req, returning false if the pool is
// full.
func (p *mshrPool) insert(tag uint64, req *Request) bool {
	slots := poolFor(p, req)
	for i := range slots {
		if !slots[i].inUse {
			slots[i] = mshrSlot{inUse: true, req: req}
			return true
		}
	}
	return false
}

// markFilled records that miss slot idx has had its data returned from the
// next level, to complete at readyAt.
func (p *mshrPool) markFilled(idx int, readyAt mop.Tick) {
	if idx < 0 || idx >= len(p.miss) {
		return
	}
	p.miss[idx].filled = true
	p.miss[idx].fillAt = readyAt
}

// drainFilled removes every filled, ready miss slot and returns its head
// request for the fill pipe. Requests coalesced onto the head stay linked
// through MSHRLink; the fill step notifies the whole chain in FIFO order
// when the head's fill lands.
func (p *mshrPool) drainFilled(now mop.Tick) []*Request {
	var out []*Request
	for i := range p.miss {
		s := &p.miss[i]
		if !s.inUse || !s.filled || s.fillAt > now {
			continue
		}
		out = append(out, s.req)
		*s = mshrSlot{}
	}
	return out
}

// drainAcked removes every writeback MSHR slot whose completion has been
// signaled (no local fill is needed for a writeback: the line was already
// evicted when the slot was created), returning their requests so the
// caller can invoke each one's Callback.
func (p *mshrPool) drainAcked() []*Request {
	var out []*Request
	for i := range p.wb {
		s := &p.wb[i]
		if s.inUse && s.filled {
			out = append(out, s.req)
			*s = mshrSlot{}
		}
	}
	return out
}

// undispatched returns every miss/writeback MSHR request not yet handed to
// the next level, ordered by cmdOrder priority, matching
// ParseMSHRCommandOrder's intent.
func (p *mshrPool) undispatched() []*Request {
	var out []*Request
	for _, cmd := range p.cmdOrder {
		for i := range p.miss {
			if s := &p.miss[i]; s.inUse && !s.dispatched && !s.filled && s.req.Cmd == cmd {
				out = append(out, s.req)
			}
		}
		for i := range p.wb {
			if s := &p.wb[i]; s.inUse && !s.dispatched && !s.filled && s.req.Cmd == cmd {
				out = append(out, s.req)
			}
		}
	}
	return out
}

// markDispatched flags req (found by pointer identity across both pools)
// as handed to the upstream transport.
func (p *mshrPool) markDispatched(req *Request, dispatched bool) {
	for i := range p.miss {
		if p.miss[i].req == req {
			p.miss[i].dispatched = dispatched
			return
		}
	}
	for i := range p.wb {
		if p.wb[i].req == req {
			p.wb[i].dispatched = dispatched
			return
		}
	}
}

// markFilledByReq is markFilled's pointer-identity counterpart, used by
// internal/uncore's Bus-driven completion path, which knows the
// *Request it submitted but not its bank or MSHR slot index. It reports
// whether req was found in this pool.
func (p *mshrPool) markFilledByReq(req *Request, readyAt mop.Tick) bool {
	for i := range p.miss {
		if p.miss[i].req == req {
			p.miss[i].filled = true
			p.miss[i].fillAt = readyAt
			return true
		}
	}
	for i := range p.wb {
		if p.wb[i].req == req {
			p.wb[i].filled = true
			p.wb[i].fillAt = readyAt
			return true
		}
	}
	return false
}
