// Package tslogtest provides utilities for using [tslog] in tests.
package tslogtest

import (
	"github.com/gametunnel/gametunnel-go/tslog"
	"github.com/lmittmann/tint"
)

// Config is [tslog.Config] for use in tests.
type Config tslog.Config

// NewTestLogger creates a new [*tslog.Logger] that writes tinted, uncolored
// log messages to t.Logf. The Kind field is ignored.
func (c Config) NewTestLogger(t testingLogger) *tslog.Logger {
	tc := tslog.Config(c)
	return tc.NewLoggerWithHandler(tint.NewHandler(newTestingWriter(t), &tint.Options{
		Level:   c.Level,
		NoColor: true,
	}))
}

type testingLogger interface {
	Logf(format string, args ...any)
}

type testingWriter struct {
	t testingLogger
}

func newTestingWriter(t testingLogger) testingWriter {
	return testingWriter{t}
}

func (w testingWriter) Write(p []byte) (n int, err error) {
	w.t.Logf("%s", p)
	return len(p), nil
}
