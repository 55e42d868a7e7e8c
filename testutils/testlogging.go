package testutils

import (
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// NewTestLogger returns a debug-level logger whose output lands in the
// test's log, so a failing test shows the engine's view of what happened.
func NewTestLogger(tb testing.TB) zerolog.Logger {
	out := zerolog.NewConsoleWriter(func(w *zerolog.ConsoleWriter) {
		w.Out = logWriter{tb}
		w.NoColor = true
		w.TimeFormat = time.TimeOnly
	})
	return zerolog.New(out).Level(zerolog.DebugLevel).With().Timestamp().Logger()
}

type logWriter struct {
	tb testing.TB
}

func (w logWriter) Write(p []byte) (int, error) {
	w.tb.Log(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}
