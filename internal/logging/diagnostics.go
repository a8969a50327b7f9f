package logging

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"timed-dispatch/internal/domain"
)

// Diagnostics reports dispatcher failures and slow tasks through slog.
type Diagnostics struct {
	logger *slog.Logger
}

// NewDiagnostics returns a DiagnosticLogger writing to logger.
func NewDiagnostics(logger *slog.Logger) *Diagnostics {
	return &Diagnostics{logger: logger}
}

func (d *Diagnostics) Critical(msg, taskID string, failure error) {
	attrs := []any{"task_id", taskID, "error", failure}
	var tf *domain.TaskFailure
	if errors.As(failure, &tf) && tf.Panicked() {
		attrs = append(attrs, "panic", true, "stack", string(tf.Stack))
	}
	d.logger.Log(context.Background(), LevelCritical, msg, attrs...)
}

func (d *Diagnostics) Warn(msg, taskID string, elapsed time.Duration) {
	d.logger.Warn(msg, "task_id", taskID, "elapsed_ms", elapsed.Milliseconds())
}

type lazyDiagnostics struct {
	once    sync.Once
	resolve func() domain.DiagnosticLogger
	target  domain.DiagnosticLogger
}

// Lazy defers building the real reporter until the first report. resolve runs
// at most once, under a lock, and never if nothing is ever reported.
func Lazy(resolve func() domain.DiagnosticLogger) domain.DiagnosticLogger {
	return &lazyDiagnostics{resolve: resolve}
}

func (l *lazyDiagnostics) get() domain.DiagnosticLogger {
	l.once.Do(func() {
		l.target = l.resolve()
		if l.target == nil {
			l.target = Discard()
		}
	})
	return l.target
}

func (l *lazyDiagnostics) Critical(msg, taskID string, failure error) {
	l.get().Critical(msg, taskID, failure)
}

func (l *lazyDiagnostics) Warn(msg, taskID string, elapsed time.Duration) {
	l.get().Warn(msg, taskID, elapsed)
}

type discard struct{}

func (discard) Critical(string, string, error)     {}
func (discard) Warn(string, string, time.Duration) {}

// Discard returns a DiagnosticLogger that drops every report.
func Discard() domain.DiagnosticLogger { return discard{} }
