package oracle

import "oocoresim/internal/mop"

// specByte is one speculative write to a memory address: the new value, the
// previous memory value it shadows (so a nuke can undo it while the feeder
// has already moved past it), and a back-pointer to the writing uop.
type specByte struct {
	addr     uint64
	value    byte
	prevValue byte
	prevValid bool
	writer   *mop.Uop
	prev     *specByte
	next     *specByte
}

// SpecMem is the speculative-memory byte store: a hash of doubly linked
// lists keyed by address, appended at the tail on write and read from the
// tail (the most recent speculative write wins), matching the "spec-memory
// byte" entity in the data model.
type SpecMem struct {
	chains map[uint64]*specChain
}

type specChain struct {
	head *specByte
	tail *specByte
}

// NewSpecMem creates an empty SpecMem store.
func NewSpecMem() *SpecMem {
	return &SpecMem{chains: make(map[uint64]*specChain)}
}

// Write records a speculative byte write at addr, capturing the
// architectural value it shadows (valid=false if the address has no prior
// non-speculative value cached, e.g. the first touch).
func (s *SpecMem) Write(addr uint64, value byte, prevValue byte, prevValid bool, writer *mop.Uop) {
	c, ok := s.chains[addr]
	if !ok {
		c = &specChain{}
		s.chains[addr] = c
	}
	n := &specByte{addr: addr, value: value, prevValue: prevValue, prevValid: prevValid, writer: writer}
	if c.tail != nil {
		c.tail.next = n
		n.prev = c.tail
	} else {
		c.head = n
	}
	c.tail = n
}

// Read returns the most recent speculative value written to addr, if any.
func (s *SpecMem) Read(addr uint64) (value byte, ok bool) {
	c, present := s.chains[addr]
	if !present || c.tail == nil {
		return 0, false
	}
	return c.tail.value, true
}

// UndoWriter removes every speculative write authored by writer from its
// address chains, in tail-to-head order, so that Read afterwards returns
// the next-older speculative write to each address, if any (the cached
// prevValue is not written back anywhere). This implements the nuke
// undo path: byte writes are unwound even though the feeder has already
// advanced past them.
func (s *SpecMem) UndoWriter(writer *mop.Uop) {
	for addr, c := range s.chains {
		for n := c.tail; n != nil; {
			prev := n.prev
			if n.writer == writer {
				s.unlink(c, n)
			}
			n = prev
		}
		if c.head == nil {
			delete(s.chains, addr)
		}
	}
}

func (s *SpecMem) unlink(c *specChain, n *specByte) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		c.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		c.tail = n.prev
	}
}

// CommitWriter folds writer's speculative bytes into architectural state:
// the entries are unlinked without restoring the shadowed values, since
// the feeder's memory (the architectural truth) already reflects the
// store once its Mop retires.
func (s *SpecMem) CommitWriter(writer *mop.Uop) {
	for addr, c := range s.chains {
		for n := c.head; n != nil; {
			next := n.next
			if n.writer == writer {
				s.unlink(c, n)
			}
			n = next
		}
		if c.head == nil {
			delete(s.chains, addr)
		}
	}
}

// Clear discards all speculative state; Oracle.CompleteFlush calls it at
// the end of a pipeline flush.
func (s *SpecMem) Clear() {
	s.chains = make(map[uint64]*specChain)
}
