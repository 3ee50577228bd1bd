package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestLoggerLevelsAndFields(t *testing.T) {
	defer SetLevel(LevelInfo)

	var buf bytes.Buffer
	l := NewLoggerTo(&buf, "Test").With("requestId", "r-1")

	SetLevel(LevelWarn)
	l.Info("dropped")
	l.Warn("kept", "image", 2)

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Fatalf("info line should be filtered: %q", out)
	}
	if !strings.Contains(out, "[Test] ") || !strings.Contains(out, "[WARN] kept requestId=r-1 image=2") {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug":   LevelDebug,
		" WARN ":  LevelWarn,
		"warning": LevelWarn,
		"error":   LevelError,
		"":        LevelInfo,
		"verbose": LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
