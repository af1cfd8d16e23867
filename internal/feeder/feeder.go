// Package feeder defines the instruction-feeder boundary the core consumes.
// The feeder owns instruction semantics (decoding what an instruction does,
// its taken/fallthrough targets, register effects); the core only ever asks
// it "what happens next at this PC" via a Handshake record.
package feeder

import (
	"oocoresim/internal/constants"
	"oocoresim/internal/mop"
)

// Handshake is the structured record exchanged between a feeder and the
// oracle: everything the oracle needs to know about one dynamic instruction
// without itself interpreting x86 semantics.
type Handshake struct {
	PC         uint64
	NPC        uint64 // fallthrough PC
	TargetPC   uint64 // taken-branch target, if any
	TakenBranch bool
	IsTrap     bool
	ZeroRep    bool

	// RawBytes holds up to 15 raw instruction bytes for the local decoder.
	RawBytes [15]byte
	Len      int

	// IsLoad/IsStore/IsCtrl and IDeps/ODeps are the semantic ground truth
	// the reference cracker needs to build a uop flow without a real x86
	// decoder, standing in for what XED's iform tables give the original
	// cracker (see uop_cracker.cpp's fallback()).
	IsLoad bool
	IsStore bool
	IsCtrl bool
	IDeps  [constants.MaxIDeps]int16
	ODeps  [constants.MaxODeps]int16

	// MemAddr/MemSize are the effective address and access width of a
	// load or store Handshake, the ground truth internal/exec needs for
	// D-cache access and store-to-load forwarding in place of a real
	// address-generation unit. Zero for a Handshake with neither
	// IsLoad nor IsStore set.
	MemAddr uint64
	MemSize int

	// Regs is a minimal architected-register snapshot valid after this
	// instruction retires, keyed by the same register-name space the
	// decoder emits into Uop.Decode.ODepName.
	Regs map[int16]uint64
}

// Feeder is the external collaborator that drives the oracle with ground
// truth about dynamic instruction behavior, matching the handshake protocol
// named in spec section 6.
type Feeder interface {
	// SimulateHandshake advances the feeder by one dynamic instruction on
	// the given core and returns its Handshake, or ok=false at end of
	// trace.
	SimulateHandshake(coreID int) (h Handshake, ok bool)

	// V2PTranslate maps a virtual address to its physical address as the
	// feeder's reference MMU would.
	V2PTranslate(coreID int, vaddr uint64) uint64

	// Warmup primes feeder-side state (e.g. cache warmers) without
	// producing a Handshake.
	Warmup(coreID int) error

	// ActivateCore/DeactivateCore/IsCoreActive manage which cores the
	// feeder is currently driving, mirroring the reference simulator's
	// core activation policy hooks.
	ActivateCore(coreID int)
	DeactivateCore(coreID int)
	IsCoreActive(coreID int) bool

	// SimulateWarmup runs the feeder in a fast, architecture-only mode for
	// n instructions without timing effects, used to fast-forward past an
	// uninteresting region of a trace.
	SimulateWarmup(coreID int, n int) error
}

// RegSnapshot captures u's consumer-visible outcome for checkpointing,
// independent of Handshake so the checkpoint package does not need to
// import feeder.
type RegSnapshot struct {
	Name  int16
	Value uint64
}

// FromUop extracts a RegSnapshot for each valid output-register name on u.
// Only Name is filled; Value is left zero, since uops carry no register
// values.
func FromUop(u *mop.Uop) []RegSnapshot {
	var out []RegSnapshot
	for i, name := range u.Decode.ODepName {
		if name == 0 {
			continue
		}
		_ = i
		out = append(out, RegSnapshot{Name: name})
	}
	return out
}
