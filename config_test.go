package oocoresim

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeKnobFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "knobs.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadKnobsOverlaysDefaults(t *testing.T) {
	path := writeKnobFile(t, `
system:
  num_cores: 2
  heartbeat_frequency: 100
core:
  exec:
    rs_size: 32
`)
	k, err := LoadKnobs(path)
	require.NoError(t, err)
	require.Equal(t, 2, k.System.NumCores)
	require.Equal(t, int64(100), k.System.HeartbeatFrequency)
	require.Equal(t, 32, k.Core.Exec.RSSize)
	// Untouched fields keep their defaults.
	require.Equal(t, DefaultKnobs().Core.Commit.ROBSize, k.Core.Commit.ROBSize)
	require.Equal(t, DefaultKnobs().Uncore.MemoryLatency, k.Uncore.MemoryLatency)
}

func TestLoadKnobsRejectsMalformedYAML(t *testing.T) {
	path := writeKnobFile(t, "system: [not a mapping")
	_, err := LoadKnobs(path)
	requireConfigError(t, err)
}

func TestLoadKnobsRejectsMissingFile(t *testing.T) {
	_, err := LoadKnobs(filepath.Join(t.TempDir(), "absent.yaml"))
	requireConfigError(t, err)
}

func TestValidateRejectsOutOfRangeValues(t *testing.T) {
	for name, mutate := range map[string]func(*Knobs){
		"zero cores":        func(k *Knobs) { k.System.NumCores = 0 },
		"too many cores":    func(k *Knobs) { k.System.NumCores = 1000 },
		"oversized RS":      func(k *Knobs) { k.Core.Exec.RSSize = 128 },
		"ROB below RS":      func(k *Knobs) { k.Core.Commit.ROBSize = 8 },
		"bad ratio":         func(k *Knobs) { k.Uncore.LLCRatioDen = 0 },
		"bad policy":        func(k *Knobs) { k.Uncore.LLC.Policy = "belady" },
		"non-pow2 plru":     func(k *Knobs) { k.Core.Exec.DL1.Policy = "plru"; k.Core.Exec.DL1.Assoc = 6 },
		"wb pool oversized": func(k *Knobs) { k.Core.Fetch.IL1.MSHRWBSize = 99 },
	} {
		t.Run(name, func(t *testing.T) {
			k := DefaultKnobs()
			mutate(&k)
			requireConfigError(t, k.Validate())
		})
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	require.NoError(t, DefaultKnobs().Validate())
}

func requireConfigError(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	var se *Error
	require.True(t, errors.As(err, &se))
	require.Equal(t, ErrCodeConfig, se.Code)
}
