// Package log is the pipeline's structured logging facade over slog.
//
// Every component takes a Logger through its options struct so tests can
// hand in a noop, and so the CLI can decide once, in main, where
// diagnostics go. The output contract is strict: stdout carries only the
// run summary line, everything else (progress, retries, cascade picks)
// is stderr. INFO is the default level; -v switches to DEBUG for
// per-candidate detail.
package log

import (
	"log/slog"
	"sync/atomic"
)

// Logger mirrors slog's method set so call sites read identically
// whether they hold the facade or a bare *slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	// With pins key-value pairs (run_id, source) onto every
	// subsequent entry.
	With(args ...any) Logger
}

// New wraps a slog handler in the Logger facade.
func New(h slog.Handler) Logger {
	return slogFacade{slog.New(h)}
}

type slogFacade struct {
	l *slog.Logger
}

func (f slogFacade) Debug(msg string, args ...any) { f.l.Debug(msg, args...) }
func (f slogFacade) Info(msg string, args ...any)  { f.l.Info(msg, args...) }
func (f slogFacade) Warn(msg string, args ...any)  { f.l.Warn(msg, args...) }
func (f slogFacade) Error(msg string, args ...any) { f.l.Error(msg, args...) }
func (f slogFacade) With(args ...any) Logger       { return slogFacade{f.l.With(args...)} }

// NewNoop returns a Logger that drops everything. The zero choice for
// tests and for components built without an explicit logger.
func NewNoop() Logger {
	return noop{}
}

type noop struct{}

func (noop) Debug(string, ...any) {}
func (noop) Info(string, ...any)  {}
func (noop) Warn(string, ...any)  {}
func (noop) Error(string, ...any) {}
func (noop) With(...any) Logger   { return noop{} }

var processLogger atomic.Pointer[Logger]

// Default returns the process-wide logger, a noop until SetDefault runs.
func Default() Logger {
	if p := processLogger.Load(); p != nil {
		return *p
	}
	return noop{}
}

// SetDefault installs the process-wide logger. Called once from main
// after the verbosity flag is parsed.
func SetDefault(l Logger) {
	processLogger.Store(&l)
}
