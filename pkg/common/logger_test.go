package common

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestLoggerOutput(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerWithWriter("Archive", &buf)

	l.Info("saved %d events", 3)
	if out := buf.String(); !strings.Contains(out, "[Archive] [INFO] saved 3 events") {
		t.Errorf("Unexpected log output: %q", out)
	}

	buf.Reset()
	l.Debug("hidden")
	if buf.Len() != 0 {
		t.Errorf("Expected debug output suppressed by default, got %q", buf.String())
	}
}

func TestAppErrorUnwrap(t *testing.T) {
	err := NewAppError("ARCHIVE_FAILED", "Failed to insert event", ErrProviderRejected)

	if !errors.Is(err, ErrProviderRejected) {
		t.Error("Expected AppError to unwrap to its cause")
	}
	if err.Error() != "Failed to insert event: provider rejected request" {
		t.Errorf("Unexpected error string: %q", err.Error())
	}
}
