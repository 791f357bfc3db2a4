package gstate

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// nopHandler is a slog.Handler that silently discards all log records.
// The Enabled method returns false so the caller skips message formatting
// entirely, making disabled logging effectively zero-cost.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

// newNopLogger creates a logger that silently discards all output.
func newNopLogger() *slog.Logger { return slog.New(nopHandler{}) }

// loggerPtr stores the active logger. Accessed atomically so that
// SetLogger can be called concurrently with logging from any goroutine.
var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(newNopLogger())
}

// SetLogger configures the logger for gstate and the backend in use.
// By default, gstate produces no log output. Call SetLogger to enable logging.
//
// SetLogger is safe for concurrent use: it stores the new logger atomically.
// Pass nil to disable logging (restore default silent behavior).
//
// Log levels used by gstate:
//   - [slog.LevelDebug]: per-variant detail (captured variants, warmed units)
//   - [slog.LevelInfo]: lifecycle events (trace started, warm up finished)
//   - [slog.LevelWarn]: recoverable issues (default directory, failed units)
//   - [slog.LevelError]: collection I/O and load failures
//
// Example:
//
//	gstate.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	loggerPtr.Store(l)

	activeMu.RLock()
	b := active
	activeMu.RUnlock()
	if b != nil {
		propagateLogger(b, l)
	}
}

// Logger returns the current logger used by gstate.
//
// Logger is safe for concurrent use.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}

// active is the backend of the most recently constructed Controller.
var (
	activeMu sync.RWMutex
	active   any
)

func setActiveBackend(b any) {
	activeMu.Lock()
	active = b
	activeMu.Unlock()
	propagateLogger(b, Logger())
}

// loggerSetter is implemented by backends that accept a logger.
type loggerSetter interface {
	SetLogger(*slog.Logger)
}

// propagateLogger passes the logger to a backend if it implements
// the loggerSetter interface.
func propagateLogger(b any, l *slog.Logger) {
	if ls, ok := b.(loggerSetter); ok {
		ls.SetLogger(l)
	}
}
