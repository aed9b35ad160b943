package logger

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestLogger_DefaultInitialization(t *testing.T) {
	// Log should be initialized by default and not panic
	if Log == nil {
		t.Fatal("Log should not be nil by default")
	}

	Log.Info("Testing default logger")
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"bananas": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestComponentLogger(t *testing.T) {
	saved := Log
	defer func() { Log = saved }()

	var buf bytes.Buffer
	InitLoggerTo(&buf, "debug")
	Component("orchestrator").Debug("hello", "step", 3)

	out := buf.String()
	if !strings.Contains(out, `"component":"orchestrator"`) {
		t.Errorf("expected component attribute in %s", out)
	}
	if !strings.Contains(out, `"step":3`) {
		t.Errorf("expected step attribute in %s", out)
	}
}
