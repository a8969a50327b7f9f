package domain

import "context"

//go:generate mockgen -destination=mocks/mock_domain.go -package=mocks timed-dispatch/internal/domain TaskExecutor,ExecutionRepository,Locker,Lock,JobRepository

// TaskExecutor performs a job's action and returns its captured output.
type TaskExecutor interface {
	Execute(ctx context.Context, job *Job) (output string, err error)
}
