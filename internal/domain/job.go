// internal/domain/job.go
package domain

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// ExecutorType selects the TaskExecutor a job fires through.
type ExecutorType string

const (
	ExecutorTypeHTTP  ExecutorType = "http"
	ExecutorTypeShell ExecutorType = "shell"
)

// CronParser parses the six-field (seconds first) schedules used by jobs.
var CronParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// JobExecutor is the action performed when a job's task fires.
type JobExecutor struct {
	URL     string `json:"url,omitempty"`     // http
	Method  string `json:"method,omitempty"`  // http
	Command string `json:"command,omitempty"` // shell
}

// RetryPolicy bounds executor-level retries inside a single firing.
type RetryPolicy struct {
	MaxRetries int           `json:"max_retries"`
	Backoff    time.Duration `json:"backoff"`
}

// ConcurrencyPolicy controls overlapping firings of the same job across nodes.
type ConcurrencyPolicy string

const (
	ConcurrencyPolicyAllow  ConcurrencyPolicy = "Allow"
	ConcurrencyPolicyForbid ConcurrencyPolicy = "Forbid"
)

// Job is a schedule plus the action its ready tasks perform.
type Job struct {
	ID                string            `json:"id"`
	Name              string            `json:"name"`
	Description       string            `json:"description,omitempty"`
	CronExpr          string            `json:"cron_expr"`
	ExecutorType      ExecutorType      `json:"executor_type"`
	Executor          JobExecutor       `json:"executor"`
	ConcurrencyPolicy ConcurrencyPolicy `json:"concurrency_policy,omitempty"`
	RetryPolicy       *RetryPolicy      `json:"retry_policy,omitempty"`
	Paused            bool              `json:"paused,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// Validate checks the definition and fills defaults for method and concurrency policy.
func (j *Job) Validate() error {
	if j.Name == "" {
		return fmt.Errorf("job name cannot be empty")
	}
	if j.CronExpr == "" {
		return fmt.Errorf("cron expression cannot be empty")
	}
	if _, err := CronParser.Parse(j.CronExpr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", j.CronExpr, err)
	}
	switch j.ExecutorType {
	case ExecutorTypeHTTP:
		if j.Executor.URL == "" {
			return fmt.Errorf("executor URL cannot be empty for http job")
		}
		if j.Executor.Method == "" {
			j.Executor.Method = "GET"
		}
	case ExecutorTypeShell:
		if j.Executor.Command == "" {
			return fmt.Errorf("executor command cannot be empty for shell job")
		}
	default:
		return fmt.Errorf("invalid executor type: %s", j.ExecutorType)
	}

	switch j.ConcurrencyPolicy {
	case "":
		j.ConcurrencyPolicy = ConcurrencyPolicyAllow
	case ConcurrencyPolicyAllow, ConcurrencyPolicyForbid:
	default:
		return fmt.Errorf("invalid concurrency policy: %s", j.ConcurrencyPolicy)
	}
	if j.RetryPolicy != nil && j.RetryPolicy.MaxRetries < 0 {
		return fmt.Errorf("retry policy max_retries cannot be negative")
	}
	return nil
}
