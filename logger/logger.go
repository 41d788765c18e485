// Package logger provides the minimal logging seam the rest of this
// module depends on, matching the interface the teacher package
// (github.com/insaplace/saml/logger) already exposed to samlsp.
package logger

import (
	"log"
	"os"
)

// Interface is the logging surface the core and samlsp packages depend
// on. It is intentionally small: one formatted line at a time, no
// levels, so any structured logger a host already runs (logrus, zap,
// slog) can be adapted to it with a one-line wrapper.
type Interface interface {
	Printf(format string, v ...any)
}

// stdLogger adapts the standard library *log.Logger to Interface.
type stdLogger struct {
	*log.Logger
}

// DefaultLogger writes to stderr with a timestamp prefix, matching the
// teacher's zero-configuration default.
var DefaultLogger Interface = stdLogger{log.New(os.Stderr, "samlresponse: ", log.LstdFlags)}

// discard never writes anything; useful for tests that don't want log
// noise but still need to satisfy Interface.
type discard struct{}

func (discard) Printf(string, ...any) {}

// Discard is a no-op Interface.
var Discard Interface = discard{}
