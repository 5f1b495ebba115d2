package log

import (
	"bytes"
	"strings"
	"testing"
)

func TestLoggerRespectsMinLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger("WARN", &buf)
	l.Info("should not appear")
	l.Warn("should appear")
	out := buf.String()
	if strings.Contains(out, "should not appear") {
		t.Errorf("INFO message logged below WARN min level: %s", out)
	}
	if !strings.Contains(out, "should appear") {
		t.Errorf("expected WARN message in output: %s", out)
	}
}

func TestLoggerRedactsSensitiveFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger("DEBUG", &buf)
	l.Info("login attempt", String("password", "hunter2"))
	if strings.Contains(buf.String(), "hunter2") {
		t.Errorf("expected password field to be redacted, got: %s", buf.String())
	}
}

func TestWithFieldsAppendsBaseFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger("DEBUG", &buf).WithFields(String("attachment", "main"))
	l.Debug("connected")
	if !strings.Contains(buf.String(), "attachment") {
		t.Errorf("expected base field in output: %s", buf.String())
	}
}

func TestNoopLoggerDiscardsOutput(t *testing.T) {
	l := NewNoopLogger()
	l.Info("anything")
	l.WithFields(String("k", "v")).Error("anything else")
}
