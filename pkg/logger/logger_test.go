package logger

import (
	"bytes"
	"os"
	"strings"
	"testing"
)

func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() {
		SetOutput(os.Stderr)
		SetLevel(INFO)
	})
	return &buf
}

func TestLevelFiltering(t *testing.T) {
	buf := capture(t)
	SetLevel(WARN)

	InfoC("test", "should be filtered")
	WarnC("test", "should appear")

	got := buf.String()
	if strings.Contains(got, "should be filtered") {
		t.Error("info line written despite WARN level")
	}
	if !strings.Contains(got, "should appear") {
		t.Errorf("warn line missing, output: %q", got)
	}
}

func TestFieldsSorted(t *testing.T) {
	buf := capture(t)
	SetLevel(DEBUG)

	DebugCF("test", "fields", map[string]any{"zebra": 1, "alpha": 2})

	got := buf.String()
	if !strings.Contains(got, "alpha=2 zebra=1") {
		t.Errorf("expected sorted fields, got %q", got)
	}
}

func TestComponentTag(t *testing.T) {
	buf := capture(t)

	ErrorCF("broker", "publish failed", map[string]any{"exchange": "phase_out"})

	got := buf.String()
	if !strings.Contains(got, "[broker]") {
		t.Errorf("missing component tag: %q", got)
	}
	if !strings.Contains(got, "exchange=phase_out") {
		t.Errorf("missing field: %q", got)
	}
}
