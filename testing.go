package oocoresim

import (
	"sync"

	"oocoresim/internal/feeder"
)

// Register names used by the MockFeeder's scripted streams. The simulator
// core treats register names as an opaque int16 namespace; these simply
// give scripted tests readable x86 spellings.
const (
	RegEAX int16 = iota + 1
	RegEBX
	RegECX
	RegEDX
	RegESI
	RegEDI
	RegEBP
	RegESP
)

// MockFeeder provides a scripted implementation of feeder.Feeder for
// testing: each core's instruction stream is a fixed slice of handshakes,
// and the feeder deactivates a core once its script runs out. It is the
// simulator analog of a mock backend — deterministic and introspectable.
type MockFeeder struct {
	mu      sync.Mutex
	scripts map[int][]feeder.Handshake
	pos     map[int]int
	active  map[int]bool

	// memory is the feeder's architectural memory view, keyed by byte
	// address and shared by every core; only Poke and PeekMem touch it,
	// and Warmup does not consult it.
	memory map[uint64]byte

	// handshakeCalls tracks SimulateHandshake invocations per core for
	// verification.
	handshakeCalls map[int]int
}

// NewMockFeeder creates an empty MockFeeder; add per-core streams with
// Script or the Add* builders.
func NewMockFeeder() *MockFeeder {
	return &MockFeeder{
		scripts:        make(map[int][]feeder.Handshake),
		pos:            make(map[int]int),
		active:         make(map[int]bool),
		memory:         make(map[uint64]byte),
		handshakeCalls: make(map[int]int),
	}
}

// Script replaces coreID's instruction stream.
func (f *MockFeeder) Script(coreID int, hs []feeder.Handshake) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts[coreID] = hs
	f.pos[coreID] = 0
	f.active[coreID] = true
}

// append adds h unchanged to the end of coreID's stream and marks the core
// active; the Add* builders compute h's PC and fallthrough (via nextPC)
// before calling it.
func (f *MockFeeder) append(coreID int, h feeder.Handshake) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active[coreID] = true
	f.scripts[coreID] = append(f.scripts[coreID], h)
}

// nextPC computes where coreID's next appended instruction will live.
func (f *MockFeeder) nextPC(coreID int, startPC uint64) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.scripts[coreID]
	if len(s) == 0 {
		return startPC
	}
	last := s[len(s)-1]
	if last.TakenBranch {
		return last.TargetPC
	}
	return last.NPC
}

// AddALU appends a register-to-register ALU instruction reading srcs and
// writing dst.
func (f *MockFeeder) AddALU(coreID int, dst int16, srcs ...int16) {
	pc := f.nextPC(coreID, 0x1000)
	h := feeder.Handshake{PC: pc, NPC: pc + 4, Len: 4}
	h.ODeps[0] = dst
	for i, s := range srcs {
		if i >= len(h.IDeps) {
			break
		}
		h.IDeps[i] = s
	}
	f.append(coreID, h)
}

// AddLoad appends a load of size bytes at addr into dst.
func (f *MockFeeder) AddLoad(coreID int, dst int16, addr uint64, size int) {
	pc := f.nextPC(coreID, 0x1000)
	h := feeder.Handshake{PC: pc, NPC: pc + 4, Len: 4, IsLoad: true, MemAddr: addr, MemSize: size}
	h.ODeps[0] = dst
	f.append(coreID, h)
}

// AddStore appends a store of src's value to addr.
func (f *MockFeeder) AddStore(coreID int, src int16, addr uint64, size int) {
	pc := f.nextPC(coreID, 0x1000)
	h := feeder.Handshake{PC: pc, NPC: pc + 4, Len: 4, IsStore: true, MemAddr: addr, MemSize: size}
	h.IDeps[0] = src
	f.append(coreID, h)
}

// AddBranch appends a conditional branch; taken selects whether it jumps
// to target or falls through.
func (f *MockFeeder) AddBranch(coreID int, target uint64, taken bool) {
	pc := f.nextPC(coreID, 0x1000)
	h := feeder.Handshake{PC: pc, NPC: pc + 4, Len: 4, IsCtrl: true, TargetPC: target, TakenBranch: taken}
	f.append(coreID, h)
}

// AddTrap appends a serializing trap instruction (CPUID-like).
func (f *MockFeeder) AddTrap(coreID int) {
	pc := f.nextPC(coreID, 0x1000)
	f.append(coreID, feeder.Handshake{PC: pc, NPC: pc + 4, Len: 4, IsTrap: true})
}

// HandshakeCalls reports how many handshakes coreID has consumed.
func (f *MockFeeder) HandshakeCalls(coreID int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handshakeCalls[coreID]
}

// Poke writes a byte into the feeder's architectural memory.
func (f *MockFeeder) Poke(addr uint64, value byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.memory[addr] = value
}

// PeekMem reads a byte back out of the feeder's architectural memory.
func (f *MockFeeder) PeekMem(addr uint64) (byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.memory[addr]
	return v, ok
}

// SimulateHandshake implements feeder.Feeder: it serves the next scripted
// handshake and deactivates the core at end of script.
func (f *MockFeeder) SimulateHandshake(coreID int) (feeder.Handshake, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.handshakeCalls[coreID]++
	s := f.scripts[coreID]
	p := f.pos[coreID]
	if p >= len(s) {
		f.active[coreID] = false
		return feeder.Handshake{}, false
	}
	f.pos[coreID] = p + 1
	if f.pos[coreID] >= len(s) {
		f.active[coreID] = false
	}
	return s[p], true
}

// V2PTranslate implements feeder.Feeder with an identity MMU.
func (f *MockFeeder) V2PTranslate(coreID int, vaddr uint64) uint64 { return vaddr }

// Warmup implements feeder.Feeder as a no-op.
func (f *MockFeeder) Warmup(coreID int) error { return nil }

// ActivateCore implements feeder.Feeder.
func (f *MockFeeder) ActivateCore(coreID int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active[coreID] = true
}

// DeactivateCore implements feeder.Feeder.
func (f *MockFeeder) DeactivateCore(coreID int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active[coreID] = false
}

// IsCoreActive implements feeder.Feeder.
func (f *MockFeeder) IsCoreActive(coreID int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active[coreID]
}

// SimulateWarmup implements feeder.Feeder by skipping n scripted
// instructions without timing effects.
func (f *MockFeeder) SimulateWarmup(coreID int, n int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pos[coreID] += n
	if f.pos[coreID] > len(f.scripts[coreID]) {
		f.pos[coreID] = len(f.scripts[coreID])
	}
	return nil
}

var _ feeder.Feeder = (*MockFeeder)(nil)
