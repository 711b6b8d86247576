// Package observability centralizes structured logging for the kernel.
//
// What: A process-wide zerolog.Logger, configured once at startup and
// threaded explicitly through subsystem constructors rather than reached for
// via a package-level global.
// How: New builds a logger writing to the given writer (stderr by default,
// or a file under the configured log-directory) at the configured level.
// Why: Background threads (log flusher, checkpoint scheduler, deadlock
// detector) need to report state transitions and errors without coupling
// every package to a concrete logging library beyond this thin wrapper.
package observability

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New constructs a logger at the given level ("debug", "info", "warn",
// "error"). An empty level defaults to "info". A nil writer defaults to
// os.Stderr.
func New(level string, w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

// Component returns a child logger tagged with a "component" field, the
// convention every subsystem (buffer pool, log manager, lock manager, ...)
// uses to identify its log lines.
func Component(base zerolog.Logger, name string) zerolog.Logger {
	return base.With().Str("component", name).Logger()
}

// Nop returns a logger that discards everything, used by components
// constructed in tests that don't care about log output.
func Nop() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
