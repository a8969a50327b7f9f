// internal/domain/execution.go
package domain

import (
	"context"
	"fmt"
	"time"
)

// ExecutionStatus is the outcome of one firing of a job.
type ExecutionStatus string

const (
	ExecutionStatusRunning ExecutionStatus = "running"
	ExecutionStatusSuccess ExecutionStatus = "success"
	ExecutionStatusFailed  ExecutionStatus = "failed"
	ExecutionStatusSkipped ExecutionStatus = "skipped"
)

// ExecutionRecord is the persisted history entry for one fired task.
type ExecutionRecord struct {
	ID         string          `json:"id"`
	JobName    string          `json:"job_name"`
	TaskID     string          `json:"task_id"`
	StartTime  time.Time       `json:"start_time"`
	EndTime    time.Time       `json:"end_time,omitempty"`
	DurationMS int64           `json:"duration_ms"`
	Status     ExecutionStatus `json:"status"`
	Output     string          `json:"output,omitempty"`
	Error      string          `json:"error,omitempty"`
	NodeID     string          `json:"node_id,omitempty"`
}

// Validate checks the fields every stored record must carry.
func (r *ExecutionRecord) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("execution record ID cannot be empty")
	}
	if r.JobName == "" {
		return fmt.Errorf("execution record job name cannot be empty")
	}
	if r.StartTime.IsZero() {
		return fmt.Errorf("execution record start time cannot be zero")
	}
	if r.Status == "" {
		return fmt.Errorf("execution record status cannot be empty")
	}
	return nil
}

// ExecutionRepository persists execution history.
type ExecutionRepository interface {
	Save(ctx context.Context, record *ExecutionRecord) error
	// ListByJobName returns one page of records for a job, newest first. page is 1-based.
	ListByJobName(ctx context.Context, jobName string, page, pageSize int) ([]*ExecutionRecord, error)
	Get(ctx context.Context, jobName, executionID string) (*ExecutionRecord, error)
}
