// Package constants holds fixed microarchitectural bounds and default knob
// values for the out-of-order core simulator.
package constants

// Structural bounds fixed by the uop data model. These mirror the x86 ISA
// flow-length and dependency-width limits used by the dataflow graph; unlike
// ROB/RS/LDQ/STQ sizes they are not configuration knobs because the Mop/Uop
// layout is sized against them at compile time.
const (
	// MaxIDeps is the maximum number of input (register) dependencies a
	// single uop can have.
	MaxIDeps = 3

	// MaxODeps is the maximum number of output (register) dependencies a
	// single uop can have, including flag outputs.
	MaxODeps = 2

	// MaxFlowLen is the maximum number of uops a single macro-op can decode
	// into, leaving headroom for REP-prefix control uops.
	MaxFlowLen = 62

	// MaxCores is the hard upper bound on simulated cores in one run.
	MaxCores = 16
)

// Default pipeline widths and structure sizes, overridable via core
// configuration. These are starting points modeled on a modern four-wide
// out-of-order design; they are not architectural limits.
const (
	DefaultFetchWidth  = 4
	DefaultDecodeWidth = 4
	DefaultIssueWidth  = 6
	DefaultCommitWidth = 4

	DefaultROBSize = 192
	DefaultRSSize  = 64
	DefaultLDQSize = 72
	DefaultSTQSize = 56

	// DefaultFetchQueueSize is the depth of the fetch-to-decode buffer.
	DefaultFetchQueueSize = 32
)

// Default latencies, expressed in core cycles, for functional units and
// pipeline stages absent more specific knob overrides.
const (
	DefaultIntALULatency            = 1
	DefaultIntMulLatency             = 3
	DefaultIntDivLatency             = 20
	DefaultFPAddLatency              = 3
	DefaultFPMulLatency              = 5
	DefaultFPDivLatency              = 15
	DefaultLoadLatency               = 2
	DefaultBranchMispredictPenalty   = 15
)

// Default cache hierarchy parameters.
const (
	DefaultL1LineSize   = 64
	DefaultL1Sets       = 64
	DefaultL1Ways       = 8
	DefaultL1HitLatency = 4

	DefaultL2LineSize   = 64
	DefaultL2Sets       = 512
	DefaultL2Ways       = 8
	DefaultL2HitLatency = 12

	DefaultLLCLineSize   = 64
	DefaultLLCSets       = 4096
	DefaultLLCWays       = 16
	DefaultLLCHitLatency = 35

	// DefaultLLCRatio is the CPU-clock:LLC-clock ratio applied when a run
	// does not override it.
	DefaultLLCRatio = 2

	DefaultMSHRCount       = 16
	DefaultWritebackMSHRs  = 8
	DefaultMemoryLatency   = 200
	DefaultPrefetchFIFOLen = 8
)

// AutoAssignCoreID indicates the simulator should assign the next free core
// index rather than use an explicit one.
const AutoAssignCoreID = -1
