package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name   string
		config *Config
	}{
		{name: "default config", config: nil},
		{
			name: "explicit debug level",
			config: &Config{
				Level:  LevelDebug,
				Output: &bytes.Buffer{},
			},
		},
		{
			name: "explicit error level",
			config: &Config{
				Level:  LevelError,
				Output: &bytes.Buffer{},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := NewLogger(tt.config)
			if logger == nil {
				t.Error("NewLogger() returned nil")
			}
		})
	}
}

func TestLoggerWithCycle(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Output: &buf})

	cycleLogger := logger.WithCycle(42)
	cycleLogger.Info("stall")

	output := buf.String()
	if !strings.Contains(output, "cyc=42") {
		t.Errorf("expected cyc=42 in output, got: %s", output)
	}
}

func TestLoggerWithCore(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Output: &buf})

	coreLogger := logger.WithCore(2).WithCycle(7)
	coreLogger.Debug("fetch stalled", "reason", "icache_miss")

	output := buf.String()
	if !strings.Contains(output, "core=2") {
		t.Errorf("expected core=2 in output, got: %s", output)
	}
	if !strings.Contains(output, "cyc=7") {
		t.Errorf("expected cyc=7 in output, got: %s", output)
	}
	if !strings.Contains(output, "reason=icache_miss") {
		t.Errorf("expected reason=icache_miss in output, got: %s", output)
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelWarn, Output: &buf})

	logger.Debug("should not appear")
	logger.Info("should not appear either")
	if buf.Len() != 0 {
		t.Errorf("expected no output below configured level, got: %s", buf.String())
	}

	logger.Warn("visible warning")
	if !strings.Contains(buf.String(), "visible warning") {
		t.Errorf("expected warning to be logged, got: %s", buf.String())
	}
}

func TestGlobalLoggerFunctions(t *testing.T) {
	var buf bytes.Buffer
	SetDefault(NewLogger(&Config{Level: LevelDebug, Output: &buf}))

	Debug("debug message", "key", "value")
	output := buf.String()
	if !strings.Contains(output, "debug message") {
		t.Errorf("expected debug message, got: %s", output)
	}
	if !strings.Contains(output, "key=value") {
		t.Errorf("expected key=value, got: %s", output)
	}

	buf.Reset()
	Info("info message")
	if !strings.Contains(buf.String(), "info message") {
		t.Errorf("expected info message, got: %s", buf.String())
	}

	buf.Reset()
	Warn("warning message")
	if !strings.Contains(buf.String(), "warning message") {
		t.Errorf("expected warning message, got: %s", buf.String())
	}

	buf.Reset()
	Error("error message")
	if !strings.Contains(buf.String(), "error message") {
		t.Errorf("expected error message, got: %s", buf.String())
	}
}
