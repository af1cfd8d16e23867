package oracle

import (
	"oocoresim/internal/feeder"
	"oocoresim/internal/mop"
)

// shadowEntry is one non-speculative handshake record together with every
// speculative Mop that branched off from it before the non-speculative
// instruction itself retired.
type shadowEntry struct {
	handshake feeder.Handshake
	siblings  []mop.Handle
}

// Shadow is a bounded ring of non-speculative handshake records, grounded on
// shadow_MopQ.cpp. Invariant: the non-speculative subsequence mirrors the
// oracle's Mop queue at every cycle; speculative siblings recorded against
// an entry are never discarded until that entry's non-speculative parent
// commits.
type Shadow struct {
	entries []shadowEntry
	head    int
	tail    int
	num     int

	// replay/replayNum form the nuke-recovery cursor: after a nuke squashes
	// every in-flight Mop, the handshakes of the squashed non-speculative
	// Mops are still here (only commit pops them), and the oracle re-executes
	// them from this cursor instead of asking the feeder, which has already
	// advanced past them.
	replay    int
	replayNum int
}

// NewShadow creates a Shadow ring sized to hold size handshake records.
func NewShadow(size int) *Shadow {
	return &Shadow{entries: make([]shadowEntry, size)}
}

// Push appends a non-speculative handshake record to the ring. The caller
// must ensure the ring is not full (checked via Full()).
func (s *Shadow) Push(h feeder.Handshake) {
	s.entries[s.tail] = shadowEntry{handshake: h}
	s.tail = (s.tail + 1) % len(s.entries)
	s.num++
}

// Full reports whether the ring has no room for another non-speculative
// entry.
func (s *Shadow) Full() bool { return s.num == len(s.entries) }

// Empty reports whether the ring holds no entries.
func (s *Shadow) Empty() bool { return s.num == 0 }

// AttachSpeculative records that mopHandle branched off from the youngest
// non-speculative entry currently in the ring.
func (s *Shadow) AttachSpeculative(mopHandle mop.Handle) {
	if s.num == 0 {
		return
	}
	idx := (s.tail - 1 + len(s.entries)) % len(s.entries)
	s.entries[idx].siblings = append(s.entries[idx].siblings, mopHandle)
}

// Pop removes and returns the oldest non-speculative entry, called when its
// Mop commits. Its speculative siblings are discarded with it, matching the
// invariant that they live exactly as long as their non-speculative parent.
func (s *Shadow) Pop() (feeder.Handshake, []mop.Handle, bool) {
	if s.num == 0 {
		return feeder.Handshake{}, nil, false
	}
	e := s.entries[s.head]
	s.entries[s.head] = shadowEntry{}
	s.head = (s.head + 1) % len(s.entries)
	s.num--
	return e.handshake, e.siblings, true
}

// PopTail discards the youngest non-speculative entry, called when its Mop
// is squashed by a branch recovery before it could commit, keeping the
// non-speculative subsequence in sync with the oracle's Mop queue.
func (s *Shadow) PopTail() {
	if s.num == 0 {
		return
	}
	s.tail = (s.tail - 1 + len(s.entries)) % len(s.entries)
	s.entries[s.tail] = shadowEntry{}
	s.num--
}

// Peek returns the oldest non-speculative entry without removing it.
func (s *Shadow) Peek() (feeder.Handshake, bool) {
	if s.num == 0 {
		return feeder.Handshake{}, false
	}
	return s.entries[s.head].handshake, true
}

// BeginReplay rewinds the replay cursor to the oldest live entry. Called at
// the start of nuke recovery, after the in-flight Mops have been squashed
// but before their shadow records have been popped (commit is the only
// popper, and none of the squashed Mops committed).
func (s *Shadow) BeginReplay() {
	s.replay = s.head
	s.replayNum = s.num
}

// NextReplay returns the next handshake on the nuke-recovery path and
// advances the cursor. ok is false once the cursor has caught up with the
// feeder.
func (s *Shadow) NextReplay() (feeder.Handshake, bool) {
	if s.replayNum == 0 {
		return feeder.Handshake{}, false
	}
	h := s.entries[s.replay].handshake
	s.replay = (s.replay + 1) % len(s.entries)
	s.replayNum--
	return h, true
}

// NumBeforeFeeder reports how many replay entries remain between the
// recovery cursor and the feeder's current position: the Mops the oracle
// must re-execute before it can resume asking the feeder for new
// instructions, used by Oracle.OnNukeRecoveryPath.
func (s *Shadow) NumBeforeFeeder() int { return s.replayNum }
