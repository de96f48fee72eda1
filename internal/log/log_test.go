// ABOUTME: Tests for the leveled stderr logger
// ABOUTME: Validates level filtering, level parsing, and named prefixes

package log

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

// capture swaps the output and level for the duration of a test. Tests using
// it must not run in parallel.
func capture(t *testing.T, l slog.Level) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prevOut := SetOutput(&buf)
	prevLevel := GetLevel()
	SetLevel(l)
	t.Cleanup(func() {
		SetOutput(prevOut)
		SetLevel(prevLevel)
	})
	return &buf
}

func TestSetLevel(t *testing.T) {
	saved := GetLevel()
	defer SetLevel(saved)

	SetLevel(LevelDebug)
	if GetLevel() != LevelDebug {
		t.Errorf("expected LevelDebug, got %v", GetLevel())
	}

	SetLevel(LevelError)
	if GetLevel() != LevelError {
		t.Errorf("expected LevelError, got %v", GetLevel())
	}
}

func TestDebugSuppressedAtInfoLevel(t *testing.T) {
	buf := capture(t, LevelInfo)

	Debug("this should be suppressed: %s", "test")
	if buf.Len() != 0 {
		t.Errorf("expected no output, got %q", buf.String())
	}
}

func TestAllLevels(t *testing.T) {
	buf := capture(t, LevelDebug)

	Debug("debug: %d", 1)
	Info("info: %d", 2)
	Warn("warn: %d", 3)
	Error("error: %d", 4)

	want := "[DEBUG] debug: 1\n[INFO] info: 2\n[WARN] warn: 3\n[ERROR] error: 4\n"
	if buf.String() != want {
		t.Errorf("output = %q; want %q", buf.String(), want)
	}
}

func TestNamedPrefix(t *testing.T) {
	buf := capture(t, LevelInfo)

	l := Named("engine_text")
	l.Warn("slow rule %s", "max-line-length")
	l.Debug("hidden")

	if got := buf.String(); got != "[WARN] engine_text: slow rule max-line-length\n" {
		t.Errorf("output = %q", got)
	}
}

func TestLoggerLogByName(t *testing.T) {
	buf := capture(t, LevelWarn)

	l := Named("e")
	l.Log("error", "boom")
	l.Log("info", "quiet")
	l.Log("bogus", "also quiet")

	if got := buf.String(); !strings.Contains(got, "[ERROR] e: boom") || strings.Contains(got, "quiet") {
		t.Errorf("output = %q", got)
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{" warn ", LevelWarn, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"trace", LevelDebug, false},
		{"loud", LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) err = %v; wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v; want %v", tt.in, got, tt.want)
		}
	}
}
