package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelInfo,
	}

	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNew_JSONComponent(t *testing.T) {
	var buf bytes.Buffer

	log := New("info", "json", &buf).Component("executor")
	log.Debug("hidden")
	log.Info("rule failed", "rule", "OSInfoRule")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(lines), buf.String())
	}

	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}

	if rec["component"] != "executor" || rec["rule"] != "OSInfoRule" {
		t.Errorf("unexpected record: %v", rec)
	}
}

func TestSetLevel_AffectsChildren(t *testing.T) {
	var buf bytes.Buffer

	parent := New("error", "text", &buf)
	child := parent.With("crash_id", "abc")

	child.Info("before")
	parent.SetLevel("debug")
	child.Info("after")

	out := buf.String()
	if strings.Contains(out, "before") || !strings.Contains(out, "after") {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestNilLogger(t *testing.T) {
	var log *Logger

	log.Info("ignored")
	log.Component("x").Warn("ignored")
	log.SetLevel("debug")
}
