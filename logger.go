package terrain

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// nopHandler is a slog.Handler that silently discards all log records.
// Enabled returns false so callers skip formatting entirely.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

func newNopLogger() *slog.Logger { return slog.New(nopHandler{}) }

// loggerPtr stores the active logger. Accessed atomically so that
// SetLogger can be called concurrently with logging from any goroutine.
var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(newNopLogger())
}

// SetLogger configures the logger for terrain and its sub-packages.
// By default terrain produces no log output. Pass nil to restore the
// silent default.
//
// Engines created afterwards log through l unless WithLogger overrides it.
// The registered GPU kernel, if any, switches to l immediately.
//
// Log levels used by terrain:
//   - [slog.LevelDebug]: per-node decisions, stale discards, dispatch timing
//   - [slog.LevelInfo]: backend selection
//   - [slog.LevelWarn]: CPU fallback, permanent generation failures
//
// Example:
//
//	terrain.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	loggerPtr.Store(l)

	if k := RegisteredKernel(); k != nil {
		propagateLogger(k, l)
	}
}

// Logger returns the current logger used by terrain.
//
// Logger is safe for concurrent use.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}

// loggerSetter is implemented by kernels that accept a logger.
type loggerSetter interface {
	SetLogger(*slog.Logger)
}

// propagateLogger passes the logger to a kernel if it implements
// loggerSetter. Called from both SetLogger and RegisterKernel.
func propagateLogger(k any, l *slog.Logger) {
	if ls, ok := k.(loggerSetter); ok {
		ls.SetLogger(l)
	}
}
