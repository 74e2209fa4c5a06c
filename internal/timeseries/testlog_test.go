package timeseries

import (
	"io"
	"testing"

	"log/slog"
)

// testLogger gives tests a quiet slog handler.
type testLogger struct {
	t *testing.T
}

func newTestLogger(t *testing.T) testLogger {
	return testLogger{t: t}
}

func (l testLogger) slog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
