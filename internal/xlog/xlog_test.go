package xlog

import (
	"bytes"
	"strings"
	"testing"
)

func TestConsoleFormatWritesLevelAndMessage(t *testing.T) {
	var buf bytes.Buffer

	l := New(&buf, Console, "debug")
	l.Info("listening", "on", ":8080")

	out := buf.String()
	if !strings.Contains(out, "listening") {
		t.Fatalf("expected output to contain the message, got %q", out)
	}

	if !strings.Contains(strings.ToLower(out), "level=info") {
		t.Fatalf("expected output to carry the info level, got %q", out)
	}
}

func TestJSONFormatEmitsFields(t *testing.T) {
	var buf bytes.Buffer

	l := New(&buf, JSON, "info")
	l.Infoj(map[string]interface{}{"method": "GET", "status": 200})

	out := buf.String()
	if !strings.Contains(out, `"method":"GET"`) {
		t.Fatalf("expected JSON output to contain the method field, got %q", out)
	}
}

func TestUnrecognizedLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer

	l := New(&buf, Console, "bogus")
	l.Debug("should not appear")
	l.Info("should appear")

	out := buf.String()
	if strings.Contains(out, "should not appear") {
		t.Fatal("expected debug line to be suppressed at the default info level")
	}

	if !strings.Contains(out, "should appear") {
		t.Fatal("expected info line to be emitted")
	}
}
