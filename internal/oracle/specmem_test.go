package oracle

import (
	"testing"

	"github.com/stretchr/testify/require"

	"oocoresim/internal/mop"
)

func TestSpecMemMostRecentWriteWins(t *testing.T) {
	s := NewSpecMem()
	arena := mop.NewArena(4)
	w1 := &arena.AllocMop(1).Uops[0]
	w2 := &arena.AllocMop(1).Uops[0]

	s.Write(0x100, 0xaa, 0, false, w1)
	s.Write(0x100, 0xbb, 0xaa, true, w2)

	v, ok := s.Read(0x100)
	require.True(t, ok)
	require.Equal(t, byte(0xbb), v)
}

func TestSpecMemUndoWriterRestoresPriorValue(t *testing.T) {
	s := NewSpecMem()
	arena := mop.NewArena(4)
	older := &arena.AllocMop(1).Uops[0]
	younger := &arena.AllocMop(1).Uops[0]

	s.Write(0x200, 0x11, 0, false, older)
	s.Write(0x200, 0x22, 0x11, true, younger)

	// Squash the younger writer: the older speculative value surfaces again.
	s.UndoWriter(younger)
	v, ok := s.Read(0x200)
	require.True(t, ok)
	require.Equal(t, byte(0x11), v)

	// Squash the older one too: the address reverts to architectural memory
	// (no speculative byte left at all).
	s.UndoWriter(older)
	_, ok = s.Read(0x200)
	require.False(t, ok)
}

func TestSpecMemCommitWriterDropsWithoutRestoring(t *testing.T) {
	s := NewSpecMem()
	arena := mop.NewArena(4)
	w := &arena.AllocMop(1).Uops[0]

	s.Write(0x300, 0x7f, 0, false, w)
	s.CommitWriter(w)

	_, ok := s.Read(0x300)
	require.False(t, ok, "committed bytes belong to architectural memory, not the speculative store")
}
