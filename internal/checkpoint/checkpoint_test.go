package checkpoint

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleFile() *File {
	return &File{
		Snapshot: RegSnapshot{
			ICount: 1000,
			PC:     0x401000,
			Regs:   []Reg{{Name: 1, Value: 0xdead}, {Name: 2, Value: 0xbeef}},
		},
		Pages: []PageDump{
			{Base: 0, Data: bytes.Repeat([]byte{0xaa}, 16)},
			{Base: uint64(PageSize) * 3, Data: []byte{1, 2, 3}},
		},
		Syscalls: []SyscallTxn{{
			ICount:  500,
			Number:  1, // write
			InRegs:  []Reg{{Name: 1, Value: 1}},
			InMem:   []MemRegion{{Addr: 0x7000, Data: []byte("hello")}},
			OutRegs: []Reg{{Name: 1, Value: 5}},
		}},
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	want := sampleFile()
	path := filepath.Join(t.TempDir(), "ckpt.bin")

	require.NoError(t, WriteFile(path, want))
	got, err := ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestCheckpointRejectsUnalignedPage(t *testing.T) {
	f := &File{
		Snapshot: RegSnapshot{PC: 1},
		Pages:    []PageDump{{Base: 7, Data: []byte{1}}},
	}
	var buf bytes.Buffer
	require.Error(t, Write(&buf, f))
}

func TestCheckpointRejectsMissingSnapshot(t *testing.T) {
	_, err := Read(bytes.NewReader(nil))
	require.Error(t, err)
}

func TestCheckpointRejectsUnknownKind(t *testing.T) {
	_, err := Read(bytes.NewReader([]byte{0xff}))
	require.Error(t, err)
}
