package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
	}{
		{"debug", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"loud", LevelInfo},
	}

	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			if got := ParseLevel(tc.input); got != tc.expected {
				t.Errorf("ParseLevel(%q) = %v, want %v", tc.input, got, tc.expected)
			}
		})
	}
}

func TestLevelString(t *testing.T) {
	if got := Level(99).String(); got != "unknown" {
		t.Errorf("Level(99).String() = %q, want unknown", got)
	}
	if got := LevelWarn.String(); got != "warn" {
		t.Errorf("LevelWarn.String() = %q, want warn", got)
	}
}

func TestParseFormat(t *testing.T) {
	if ParseFormat("text") != FormatText {
		t.Error("text should parse to FormatText")
	}
	if ParseFormat("yaml") != FormatJSON {
		t.Error("unknown formats should default to JSON")
	}
}

func decode(t *testing.T, buf *bytes.Buffer) Entry {
	t.Helper()
	var entry Entry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON log output %q: %v", buf.String(), err)
	}
	return entry
}

func TestLoggerJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelInfo, Output: &buf})

	l.Infof("phase advanced", map[string]any{"phase": "render"})

	entry := decode(t, &buf)
	if entry.Message != "phase advanced" {
		t.Errorf("message = %q", entry.Message)
	}
	if entry.Level != "info" {
		t.Errorf("level = %q, want info", entry.Level)
	}
	if entry.Timestamp.IsZero() {
		t.Error("timestamp should not be zero")
	}
	if entry.Fields["phase"] != "render" {
		t.Errorf("fields = %v", entry.Fields)
	}
}

func TestLoggerFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelWarn, Output: &buf})

	l.Debug("dropped")
	l.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("expected no output below warn, got %q", buf.String())
	}

	l.Warn("kept")
	if !strings.Contains(buf.String(), "kept") {
		t.Errorf("warn entry missing: %q", buf.String())
	}

	buf.Reset()
	l.SetLevel(LevelDebug)
	l.Debug("now visible")
	if buf.Len() == 0 {
		t.Error("SetLevel(debug) should let debug entries through")
	}
}

func TestWithRunIDAndNode(t *testing.T) {
	var buf bytes.Buffer
	base := New(Config{Level: LevelInfo, Output: &buf})
	l := base.WithRunID("run-7").WithNode("router-40")

	l.Info("configured")
	entry := decode(t, &buf)
	if entry.RunID != "run-7" || entry.Node != "router-40" {
		t.Errorf("entry = %+v", entry)
	}
	if l.RunID() != "run-7" {
		t.Errorf("RunID() = %q", l.RunID())
	}

	buf.Reset()
	base.Info("untagged")
	entry = decode(t, &buf)
	if entry.RunID != "" || entry.Node != "" {
		t.Error("deriving a logger must not tag the parent")
	}
}

func TestWithDoesNotMutateParent(t *testing.T) {
	var buf bytes.Buffer
	base := New(Config{Level: LevelInfo, Output: &buf}).With(map[string]any{"component": "router"})
	child := base.With(map[string]any{"router": 40})

	child.Info("child")
	entry := decode(t, &buf)
	if entry.Fields["component"] != "router" || entry.Fields["router"] != float64(40) {
		t.Errorf("child fields = %v", entry.Fields)
	}

	buf.Reset()
	base.Info("parent")
	entry = decode(t, &buf)
	if _, ok := entry.Fields["router"]; ok {
		t.Error("parent picked up child field")
	}
}

func TestExtraFieldsOverrideBound(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelInfo, Output: &buf}).With(map[string]any{"phase": "init"})

	l.Infof("x", map[string]any{"phase": "render"})
	if got := decode(t, &buf).Fields["phase"]; got != "render" {
		t.Errorf("phase = %v, want render", got)
	}
}

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelInfo, Format: FormatText, Output: &buf}).WithNode("coordinator")

	l.Infof("ack", map[string]any{"router": 41, "outcome": "counted"})
	out := buf.String()
	for _, want := range []string{"[info] ack", "node=coordinator", "outcome=counted router=41"} {
		if !strings.Contains(out, want) {
			t.Errorf("text output %q missing %q", out, want)
		}
	}
	if !strings.HasSuffix(out, "\n") {
		t.Error("text entries end with a newline")
	}
}

func TestCallerInfo(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelInfo, Output: &buf, AddCaller: true})

	l.Info("here")
	entry := decode(t, &buf)
	if !strings.HasSuffix(entry.File, "logger_test.go") || entry.Line == 0 {
		t.Errorf("caller = %s:%d", entry.File, entry.Line)
	}
}

func TestNopDiscards(t *testing.T) {
	l := Nop()
	l.Error("nothing")
	if l.GetLevel() <= LevelError {
		t.Error("Nop should sit above every level")
	}
}
