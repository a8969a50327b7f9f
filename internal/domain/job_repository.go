package domain

import (
	"context"
	"errors"
)

var (
	// ErrJobNotFound is returned when a job is not found.
	ErrJobNotFound = errors.New("job not found")
	// ErrExecutionNotFound is returned when an execution record is not found.
	ErrExecutionNotFound = errors.New("execution record not found")
)

// JobRepository persists job definitions keyed by name.
type JobRepository interface {
	Save(ctx context.Context, job *Job) error
	Delete(ctx context.Context, name string) error
	Get(ctx context.Context, name string) (*Job, error)
	List(ctx context.Context) ([]*Job, error)
}
