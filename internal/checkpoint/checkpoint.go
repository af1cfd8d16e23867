// Package checkpoint reads and writes the persisted simulation state
// layout: a concatenation of typed records — an architected register
// snapshot, memory-page dumps keyed by page-aligned base address, and
// per-syscall transaction records with their input/output register and
// memory views. Records carry no length field: each is a one-byte kind tag
// followed by that kind's payload, so Read must recognize every kind and
// rejects an unknown one.
package checkpoint

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// record kind tags, one per typed record in the file layout.
const (
	kindRegs    uint8 = 1
	kindPage    uint8 = 2
	kindSyscall uint8 = 3
)

// PageSize is the memory-page granularity every PageDump base address must
// be aligned to. It follows the host page size the feeder's address space
// is mapped with.
var PageSize = unix.Getpagesize()

// Reg is one architected register name/value pair.
type Reg struct {
	Name  int16
	Value uint64
}

// RegSnapshot is the full architected register file at checkpoint time.
type RegSnapshot struct {
	ICount uint64 // instructions retired when the snapshot was taken
	PC     uint64
	Regs   []Reg
}

// PageDump is one memory page's contents, keyed by its page-aligned base.
type PageDump struct {
	Base uint64
	Data []byte
}

// MemRegion is one contiguous byte range read or written by a syscall.
type MemRegion struct {
	Addr uint64
	Data []byte
}

// SyscallTxn records one system call's full effect: the register and
// memory state it consumed and the register and memory state it produced,
// so replay can reproduce kernel effects without executing the kernel.
type SyscallTxn struct {
	ICount  uint64
	Number  uint64
	InRegs  []Reg
	InMem   []MemRegion
	OutRegs []Reg
	OutMem  []MemRegion
}

// File is a decoded checkpoint: the records in file order.
type File struct {
	Snapshot RegSnapshot
	Pages    []PageDump
	Syscalls []SyscallTxn
}

// Write serializes f to w: the register snapshot first, then pages, then
// syscall transactions, matching the layout Read expects.
func Write(w io.Writer, f *File) error {
	bw := bufio.NewWriter(w)
	if err := writeRegs(bw, &f.Snapshot); err != nil {
		return err
	}
	for i := range f.Pages {
		if err := writePage(bw, &f.Pages[i]); err != nil {
			return err
		}
	}
	for i := range f.Syscalls {
		if err := writeSyscall(bw, &f.Syscalls[i]); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// WriteFile serializes f to path, truncating any existing file.
func WriteFile(path string, f *File) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Write(out, f); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// Read decodes a checkpoint stream until EOF.
func Read(r io.Reader) (*File, error) {
	br := bufio.NewReader(r)
	f := &File{}
	sawRegs := false
	for {
		var kind uint8
		if err := binary.Read(br, binary.LittleEndian, &kind); err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
		switch kind {
		case kindRegs:
			if err := readRegs(br, &f.Snapshot); err != nil {
				return nil, err
			}
			sawRegs = true
		case kindPage:
			var p PageDump
			if err := readPage(br, &p); err != nil {
				return nil, err
			}
			if p.Base%uint64(PageSize) != 0 {
				return nil, fmt.Errorf("checkpoint: page base %#x not aligned to %d", p.Base, PageSize)
			}
			f.Pages = append(f.Pages, p)
		case kindSyscall:
			var s SyscallTxn
			if err := readSyscall(br, &s); err != nil {
				return nil, err
			}
			f.Syscalls = append(f.Syscalls, s)
		default:
			return nil, fmt.Errorf("checkpoint: unknown record kind %d", kind)
		}
	}
	if !sawRegs {
		return nil, fmt.Errorf("checkpoint: missing register snapshot record")
	}
	return f, nil
}

// ReadFile decodes the checkpoint at path.
func ReadFile(path string) (*File, error) {
	in, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer in.Close()
	return Read(in)
}

func writeRegs(w io.Writer, s *RegSnapshot) error {
	if err := binary.Write(w, binary.LittleEndian, kindRegs); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, s.ICount); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, s.PC); err != nil {
		return err
	}
	return writeRegList(w, s.Regs)
}

func readRegs(r io.Reader, s *RegSnapshot) error {
	if err := binary.Read(r, binary.LittleEndian, &s.ICount); err != nil {
		return err
	}
	if err := binary.Read(r, binary.LittleEndian, &s.PC); err != nil {
		return err
	}
	var err error
	s.Regs, err = readRegList(r)
	return err
}

func writePage(w io.Writer, p *PageDump) error {
	if p.Base%uint64(PageSize) != 0 {
		return fmt.Errorf("checkpoint: page base %#x not aligned to %d", p.Base, PageSize)
	}
	if err := binary.Write(w, binary.LittleEndian, kindPage); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, p.Base); err != nil {
		return err
	}
	return writeBytes(w, p.Data)
}

func readPage(r io.Reader, p *PageDump) error {
	if err := binary.Read(r, binary.LittleEndian, &p.Base); err != nil {
		return err
	}
	var err error
	p.Data, err = readBytes(r)
	return err
}

func writeSyscall(w io.Writer, s *SyscallTxn) error {
	if err := binary.Write(w, binary.LittleEndian, kindSyscall); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, s.ICount); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, s.Number); err != nil {
		return err
	}
	if err := writeRegList(w, s.InRegs); err != nil {
		return err
	}
	if err := writeMemList(w, s.InMem); err != nil {
		return err
	}
	if err := writeRegList(w, s.OutRegs); err != nil {
		return err
	}
	return writeMemList(w, s.OutMem)
}

func readSyscall(r io.Reader, s *SyscallTxn) error {
	if err := binary.Read(r, binary.LittleEndian, &s.ICount); err != nil {
		return err
	}
	if err := binary.Read(r, binary.LittleEndian, &s.Number); err != nil {
		return err
	}
	var err error
	if s.InRegs, err = readRegList(r); err != nil {
		return err
	}
	if s.InMem, err = readMemList(r); err != nil {
		return err
	}
	if s.OutRegs, err = readRegList(r); err != nil {
		return err
	}
	s.OutMem, err = readMemList(r)
	return err
}

func writeRegList(w io.Writer, regs []Reg) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(regs))); err != nil {
		return err
	}
	for _, reg := range regs {
		if err := binary.Write(w, binary.LittleEndian, reg.Name); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, reg.Value); err != nil {
			return err
		}
	}
	return nil
}

func readRegList(r io.Reader) ([]Reg, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	regs := make([]Reg, n)
	for i := range regs {
		if err := binary.Read(r, binary.LittleEndian, &regs[i].Name); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.LittleEndian, &regs[i].Value); err != nil {
			return nil, err
		}
	}
	return regs, nil
}

func writeMemList(w io.Writer, mems []MemRegion) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(mems))); err != nil {
		return err
	}
	for _, m := range mems {
		if err := binary.Write(w, binary.LittleEndian, m.Addr); err != nil {
			return err
		}
		if err := writeBytes(w, m.Data); err != nil {
			return err
		}
	}
	return nil
}

func readMemList(r io.Reader) ([]MemRegion, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	mems := make([]MemRegion, n)
	for i := range mems {
		if err := binary.Read(r, binary.LittleEndian, &mems[i].Addr); err != nil {
			return nil, err
		}
		var err error
		if mems[i].Data, err = readBytes(r); err != nil {
			return nil, err
		}
	}
	return mems, nil
}

func writeBytes(w io.Writer, b []byte) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readBytes(r io.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}
