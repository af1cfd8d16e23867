package oocoresim

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"oocoresim/internal/constants"
)

// Knobs is the hierarchical configuration surface: one system-wide block,
// one per-core block applied to every simulated core, and one uncore
// block. DefaultKnobs returns a runnable one-core baseline machine, and
// LoadKnobs starts from it, so an empty YAML file describes that machine;
// the zero value (NumCores 0) does not pass Validate.
type Knobs struct {
	System SystemKnobs `yaml:"system"`
	Core   CoreKnobs   `yaml:"core"`
	Uncore UncoreKnobs `yaml:"uncore"`
}

// SystemKnobs covers whole-simulation behavior.
type SystemKnobs struct {
	NumCores           int    `yaml:"num_cores"`
	HeartbeatFrequency int64  `yaml:"heartbeat_frequency"` // uncore cycles between heartbeat lines; 0 disables
	ZTraceFilename     string `yaml:"ztrace_filename"`     // per-core trace files; empty disables
	InsnTrace          string `yaml:"insn_trace"`          // scripted instruction trace driving the run
	AssertSpin         bool   `yaml:"assert_spin"`         // spin instead of exiting on invariant failure
	MaxCycles          int64  `yaml:"max_cycles"`          // 0 = run to end of trace
	DeadlockCycles     int64  `yaml:"deadlock_cycles"`     // global no-commit watchdog; 0 disables
}

// FetchKnobs covers the front end.
type FetchKnobs struct {
	Width        int   `yaml:"width"`
	IQSize       int   `yaml:"iq_size"`
	ByteQSize    int   `yaml:"byteq_size"`
	JeclearDelay int64 `yaml:"jeclear_delay"`
	BPredSpec    string `yaml:"bpred"` // "tage" or "2bit"
	BTBSize      int   `yaml:"btb_size"`
	RASDepth     int   `yaml:"ras_depth"`
	IL1          CacheKnobs `yaml:"il1"`
}

// DecodeKnobs covers the decode pipe.
type DecodeKnobs struct {
	Width       int   `yaml:"width"`
	Depth       int64 `yaml:"depth"`
	MSLatency   int64 `yaml:"ms_latency"`
	MSThreshold int   `yaml:"ms_threshold"`
	UopQSize    int   `yaml:"uopq_size"`
}

// ExecKnobs covers the out-of-order engine.
type ExecKnobs struct {
	RSSize       int    `yaml:"rs_size"`
	LDQSize      int    `yaml:"ldq_size"`
	STQSize      int    `yaml:"stq_size"`
	NumPorts     int    `yaml:"num_ports"`
	MemDepSpec   string `yaml:"memdep"` // "storesets", "always", or "never"
	RepeaterSpec string `yaml:"repeater"`
	RepeaterLo   uint64 `yaml:"repeater_lo"`
	RepeaterHi   uint64 `yaml:"repeater_hi"`
	DL1          CacheKnobs `yaml:"dl1"`
}

// CommitKnobs covers retirement.
type CommitKnobs struct {
	ROBSize        int   `yaml:"rob_size"`
	Width          int   `yaml:"width"`
	DeadlockCycles int64 `yaml:"deadlock_cycles"` // per-core emergency-recovery watchdog
}

// CoreKnobs groups the per-core stage knobs.
type CoreKnobs struct {
	Fetch  FetchKnobs  `yaml:"fetch"`
	Decode DecodeKnobs `yaml:"decode"`
	Exec   ExecKnobs   `yaml:"exec"`
	Commit CommitKnobs `yaml:"commit"`
}

// CacheKnobs parameterizes one cache level.
type CacheKnobs struct {
	Sets       int    `yaml:"sets"`
	Assoc      int    `yaml:"assoc"`
	LineSize   int    `yaml:"line_size"`
	Banks      int    `yaml:"banks"`
	Latency    int    `yaml:"latency"`
	Policy     string `yaml:"policy"` // lru, mru, random, nmru, plru, clock
	MSHRSize   int    `yaml:"mshr_size"`
	MSHRWBSize int    `yaml:"mshr_wb_size"`
	WriteBack  bool   `yaml:"write_back"`

	PrefetchFIFO int `yaml:"prefetch_fifo"` // next-line prefetch hint queue depth; 0 disables
	PrefetchBuf  int `yaml:"prefetch_buf"`  // recent-prefetch address buffer size
}

// UncoreKnobs covers the shared LLC, FSB, and memory controller.
type UncoreKnobs struct {
	LLC            CacheKnobs `yaml:"llc"`
	LLCRatioNum    int        `yaml:"llc_ratio_num"`
	LLCRatioDen    int        `yaml:"llc_ratio_den"`
	MSHRCmdOrder   string     `yaml:"mshr_cmd_order"` // e.g. "RPWB"
	FSBWidth       int        `yaml:"fsb_width"`
	FSBCapacity    int        `yaml:"fsb_capacity"`
	FSBLatency     int64      `yaml:"fsb_latency"`
	MemoryLatency  int64      `yaml:"memory_latency"`
}

// DefaultKnobs returns the baseline one-core configuration every
// unspecified field falls back to.
func DefaultKnobs() Knobs {
	return Knobs{
		System: SystemKnobs{
			NumCores:       1,
			DeadlockCycles: 1 << 16,
		},
		Core: CoreKnobs{
			Fetch: FetchKnobs{
				Width:        constants.DefaultFetchWidth,
				IQSize:       constants.DefaultFetchQueueSize,
				ByteQSize:    4,
				JeclearDelay: 2,
				BPredSpec:    "tage",
				BTBSize:      512,
				RASDepth:     16,
				IL1:          defaultL1Knobs(),
			},
			Decode: DecodeKnobs{
				Width:       constants.DefaultDecodeWidth,
				Depth:       2,
				MSLatency:   4,
				MSThreshold: 4,
				UopQSize:    24,
			},
			Exec: ExecKnobs{
				RSSize:     constants.DefaultRSSize,
				LDQSize:    constants.DefaultLDQSize,
				STQSize:    constants.DefaultSTQSize,
				NumPorts:   constants.DefaultIssueWidth,
				MemDepSpec: "storesets",
				DL1:        defaultL1Knobs(),
			},
			Commit: CommitKnobs{
				ROBSize:        constants.DefaultROBSize,
				Width:          constants.DefaultCommitWidth,
				DeadlockCycles: 4096,
			},
		},
		Uncore: UncoreKnobs{
			LLC: CacheKnobs{
				Sets:       constants.DefaultLLCSets,
				Assoc:      constants.DefaultLLCWays,
				LineSize:   constants.DefaultLLCLineSize,
				Banks:      4,
				Latency:    constants.DefaultLLCHitLatency,
				Policy:     "lru",
				MSHRSize:   constants.DefaultMSHRCount,
				MSHRWBSize: constants.DefaultWritebackMSHRs,
				WriteBack:  true,
			},
			LLCRatioNum:   1,
			LLCRatioDen:   constants.DefaultLLCRatio,
			FSBWidth:      1,
			FSBCapacity:   16,
			FSBLatency:    10,
			MemoryLatency: constants.DefaultMemoryLatency,
		},
	}
}

func defaultL1Knobs() CacheKnobs {
	return CacheKnobs{
		Sets:       constants.DefaultL1Sets,
		Assoc:      constants.DefaultL1Ways,
		LineSize:   constants.DefaultL1LineSize,
		Banks:      1,
		Latency:    constants.DefaultL1HitLatency,
		Policy:     "lru",
		MSHRSize:     constants.DefaultMSHRCount,
		MSHRWBSize:   constants.DefaultWritebackMSHRs,
		WriteBack:    true,
		PrefetchFIFO: constants.DefaultPrefetchFIFOLen,
		PrefetchBuf:  constants.DefaultPrefetchFIFOLen,
	}
}

// LoadKnobs reads a YAML knob file, overlaying it onto DefaultKnobs and
// validating the result. Every failure is an *Error with ErrCodeConfig,
// fatal at initialization per the error-handling design.
func LoadKnobs(path string) (Knobs, error) {
	k := DefaultKnobs()

	data, err := os.ReadFile(path)
	if err != nil {
		return k, newConfigError("LOAD_CONFIG", fmt.Sprintf("reading %s", path), err)
	}
	if err := yaml.Unmarshal(data, &k); err != nil {
		return k, newConfigError("LOAD_CONFIG", fmt.Sprintf("parsing %s", path), err)
	}
	if err := k.Validate(); err != nil {
		return k, err
	}
	return k, nil
}

// Validate enforces the out-of-range rules the rest of the simulator
// assumes rather than re-checks.
func (k Knobs) Validate() error {
	if k.System.NumCores < 1 || k.System.NumCores > constants.MaxCores {
		return newConfigError("VALIDATE", fmt.Sprintf("system.num_cores %d out of range [1,%d]", k.System.NumCores, constants.MaxCores), nil)
	}
	if k.Core.Exec.RSSize < 1 || k.Core.Exec.RSSize > 64 {
		return newConfigError("VALIDATE", fmt.Sprintf("core.exec.rs_size %d out of range [1,64]", k.Core.Exec.RSSize), nil)
	}
	if k.Core.Commit.ROBSize < k.Core.Exec.RSSize {
		return newConfigError("VALIDATE", fmt.Sprintf("core.commit.rob_size %d smaller than rs_size %d", k.Core.Commit.ROBSize, k.Core.Exec.RSSize), nil)
	}
	if k.Uncore.LLCRatioNum < 1 || k.Uncore.LLCRatioDen < 1 {
		return newConfigError("VALIDATE", "uncore.llc_ratio must be a positive rational", nil)
	}
	for _, c := range []struct {
		name string
		ck   CacheKnobs
	}{{"core.fetch.il1", k.Core.Fetch.IL1}, {"core.exec.dl1", k.Core.Exec.DL1}, {"uncore.llc", k.Uncore.LLC}} {
		if err := c.ck.validate(c.name); err != nil {
			return err
		}
	}
	return nil
}

func (ck CacheKnobs) validate(name string) error {
	if ck.Sets < 1 || ck.Assoc < 1 || ck.LineSize < 1 {
		return newConfigError("VALIDATE", fmt.Sprintf("%s: sets/assoc/line_size must all be positive", name), nil)
	}
	if ck.Policy == "plru" && (ck.Assoc&(ck.Assoc-1) != 0 || ck.Assoc > 64) {
		return newConfigError("VALIDATE", fmt.Sprintf("%s: tree-PLRU needs a power-of-two assoc <= 64, got %d", name, ck.Assoc), nil)
	}
	if ck.MSHRWBSize > ck.MSHRSize {
		return newConfigError("VALIDATE", fmt.Sprintf("%s: mshr_wb_size %d exceeds mshr_size %d", name, ck.MSHRWBSize, ck.MSHRSize), nil)
	}
	switch ck.Policy {
	case "", "lru", "mru", "random", "nmru", "plru", "clock":
	default:
		return newConfigError("VALIDATE", fmt.Sprintf("%s: unknown replacement policy %q", name, ck.Policy), nil)
	}
	return nil
}
