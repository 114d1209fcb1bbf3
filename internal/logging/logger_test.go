package logging

import (
	"bytes"
	"os"
	"strings"
	"testing"
)

func TestNewLogger(t *testing.T) {
	logger := NewLogger(nil)
	if logger == nil {
		t.Fatal("NewLogger(nil) returned nil")
	}

	var buf bytes.Buffer
	logger = NewLogger(&Config{Level: LevelDebug, Output: &buf})
	logger.Info("hello")
	if !strings.Contains(buf.String(), "hello") {
		t.Errorf("expected output to contain message, got %q", buf.String())
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelWarn, Output: &buf})

	logger.Debug("should not appear")
	logger.Info("should not appear either")
	if buf.Len() != 0 {
		t.Errorf("expected no output below configured level, got %q", buf.String())
	}

	logger.Warn("visible warning")
	if !strings.Contains(buf.String(), "visible warning") {
		t.Errorf("expected warning to be logged, got %q", buf.String())
	}
}

func TestWithRankAndOp(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Output: &buf})

	scoped := logger.WithRank(3).WithOp("PUT")
	scoped.Info("dispatched")

	out := buf.String()
	if !strings.Contains(out, "rank=3") {
		t.Errorf("expected rank=3 in output, got %q", out)
	}
	if !strings.Contains(out, "op=PUT") {
		t.Errorf("expected op=PUT in output, got %q", out)
	}
}

func TestFormatArgs(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Output: &buf})
	logger.Debug("msg", "key", "value", "n", 42)

	out := buf.String()
	if !strings.Contains(out, "key=value") || !strings.Contains(out, "n=42") {
		t.Errorf("expected key=value n=42 in output, got %q", out)
	}
}

func TestFromEnvRankFilter(t *testing.T) {
	os.Setenv("TURBINE_LOG_RANKS", "1,2")
	defer os.Unsetenv("TURBINE_LOG_RANKS")

	l := FromEnv(5)
	if l.level != LevelOff {
		t.Errorf("expected rank 5 to be filtered out, got level %v", l.level)
	}

	l2 := FromEnv(1)
	if l2.level == LevelOff {
		t.Errorf("expected rank 1 to log")
	}
}

func TestGlobalLoggerFunctions(t *testing.T) {
	var buf bytes.Buffer
	SetDefault(NewLogger(&Config{Level: LevelDebug, Output: &buf}))

	Info("info message")
	if !strings.Contains(buf.String(), "info message") {
		t.Errorf("expected info message, got %q", buf.String())
	}
}
