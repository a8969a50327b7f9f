package domain

import "time"

// DiagnosticLogger receives the dispatcher's failure and slow-task reports.
type DiagnosticLogger interface {
	// Critical reports a task that failed while firing.
	Critical(msg, taskID string, failure error)
	// Warn reports a task that completed but ran past the latency budget.
	Warn(msg, taskID string, elapsed time.Duration)
}
