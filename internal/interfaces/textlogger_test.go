package interfaces

import (
	"bytes"
	"strings"
	"testing"
)

func TestTextLogger_QuietHidesInfo(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	l := NewTextLogger(&buf, false)

	l.Info("hello")
	l.Debug("details")
	if buf.Len() != 0 {
		t.Fatalf("quiet logger printed %q", buf.String())
	}

	l.Warn("careful", Field{Key: "n", Value: 2})
	if got := buf.String(); !strings.HasPrefix(got, "[WARN] careful") || !strings.Contains(got, "n 2") {
		t.Fatalf("warn line = %q", got)
	}
}

func TestTextLogger_WithCarriesFields(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	l := NewTextLogger(&buf, true).With(Field{Key: "component", Value: "lumenctl"})

	l.Info("polling")
	if got := buf.String(); !strings.Contains(got, "[INFO] polling") || !strings.Contains(got, "component lumenctl") {
		t.Fatalf("info line = %q", got)
	}
}
