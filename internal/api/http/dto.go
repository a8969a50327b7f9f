package http

import (
	"time"

	"timed-dispatch/internal/domain"
)

// ExecutorRequest is the DTO for executor configuration.
type ExecutorRequest struct {
	URL     string `json:"url" validate:"omitempty,url"`
	Method  string `json:"method" validate:"omitempty,oneof=GET POST PUT PATCH DELETE HEAD"`
	Command string `json:"command"`
}

// RetryPolicyRequest is the DTO for retry policy configuration.
type RetryPolicyRequest struct {
	MaxRetries int    `json:"max_retries" validate:"gte=0,lte=10"`
	Backoff    string `json:"backoff" validate:"omitempty,duration"`
}

// SaveJobRequest is the Data Transfer Object for creating/updating a job.
type SaveJobRequest struct {
	Name              string              `json:"name" validate:"required,min=1,max=128,excludesall=/?#"`
	Description       string              `json:"description" validate:"max=512"`
	CronExpr          string              `json:"cron_expr" validate:"required,cron"`
	ExecutorType      string              `json:"executor_type" validate:"required,oneof=http shell"`
	Executor          ExecutorRequest     `json:"executor"`
	ConcurrencyPolicy string              `json:"concurrency_policy" validate:"omitempty,oneof=Allow Forbid"`
	RetryPolicy       *RetryPolicyRequest `json:"retry_policy,omitempty"`
	Paused            bool                `json:"paused"`
}

// ToDomainJob converts a SaveJobRequest DTO to a domain.Job object.
func (r *SaveJobRequest) ToDomainJob() *domain.Job {
	var retryPolicy *domain.RetryPolicy
	if r.RetryPolicy != nil {
		backoff, _ := time.ParseDuration(r.RetryPolicy.Backoff)
		retryPolicy = &domain.RetryPolicy{
			MaxRetries: r.RetryPolicy.MaxRetries,
			Backoff:    backoff,
		}
	}

	// only the fields the executor type uses are kept
	executor := domain.JobExecutor{}
	executorType := domain.ExecutorType(r.ExecutorType)
	switch executorType {
	case domain.ExecutorTypeHTTP:
		executor.URL = r.Executor.URL
		executor.Method = r.Executor.Method
	case domain.ExecutorTypeShell:
		executor.Command = r.Executor.Command
	}

	return &domain.Job{
		Name:              r.Name,
		Description:       r.Description,
		CronExpr:          r.CronExpr,
		ExecutorType:      executorType,
		Executor:          executor,
		ConcurrencyPolicy: domain.ConcurrencyPolicy(r.ConcurrencyPolicy),
		RetryPolicy:       retryPolicy,
		Paused:            r.Paused,
	}
}
