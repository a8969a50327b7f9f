// internal/scheduler/job_task.go
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"timed-dispatch/internal/domain"
	"timed-dispatch/internal/metrics"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TaskFactory turns a ready job into a Task bound to its executor and to the
// execution history.
type TaskFactory struct {
	executors map[domain.ExecutorType]domain.TaskExecutor
	locker    domain.Locker
	execRepo  domain.ExecutionRepository
	nodeID    string
	logger    *slog.Logger
	tracer    trace.Tracer
}

// NewTaskFactory creates a TaskFactory. locker may be nil when no job uses ConcurrencyPolicyForbid.
func NewTaskFactory(executors map[domain.ExecutorType]domain.TaskExecutor, locker domain.Locker, execRepo domain.ExecutionRepository, nodeID string, logger *slog.Logger) *TaskFactory {
	return &TaskFactory{
		executors: executors,
		locker:    locker,
		execRepo:  execRepo,
		nodeID:    nodeID,
		logger:    logger.With("component", "job-task"),
		tracer:    otel.Tracer("timed-dispatch-job-task"),
	}
}

// New builds a JobTask with a fresh execution ID.
func (f *TaskFactory) New(job *domain.Job) (*JobTask, error) {
	executor, ok := f.executors[job.ExecutorType]
	if !ok {
		return nil, fmt.Errorf("no executor found for type: %s", job.ExecutorType)
	}
	if job.ConcurrencyPolicy == domain.ConcurrencyPolicyForbid && f.locker == nil {
		return nil, fmt.Errorf("job %s forbids concurrent runs but no locker is configured", job.Name)
	}

	executionID := uuid.NewString()
	return &JobTask{
		job:         job,
		executionID: executionID,
		executor:    executor,
		locker:      f.locker,
		execRepo:    f.execRepo,
		nodeID:      f.nodeID,
		logger:      f.logger.With("job_name", job.Name, "execution_id", executionID),
		tracer:      f.tracer,
	}, nil
}

// JobTask is one firing of a job.
type JobTask struct {
	job         *domain.Job
	executionID string
	executor    domain.TaskExecutor
	locker      domain.Locker
	execRepo    domain.ExecutionRepository
	nodeID      string
	logger      *slog.Logger
	tracer      trace.Tracer
}

// ID is "<job name>/<execution id>".
func (t *JobTask) ID() string {
	return t.job.Name + "/" + t.executionID
}

// ExecutionID returns the ID of the execution record this task writes.
func (t *JobTask) ExecutionID() string {
	return t.executionID
}

// Fire runs the job's executor and records the outcome. A panic in the
// executor is recorded as a failed execution and then re-raised.
func (t *JobTask) Fire() (execErr error) {
	ctx, span := t.tracer.Start(context.Background(), "job.Fire",
		trace.WithAttributes(
			attribute.String("job.name", t.job.Name),
			attribute.String("execution.id", t.executionID),
		))
	defer span.End()

	record := &domain.ExecutionRecord{
		ID:        t.executionID,
		JobName:   t.job.Name,
		TaskID:    t.ID(),
		StartTime: time.Now(),
		Status:    domain.ExecutionStatusRunning,
		NodeID:    t.nodeID,
	}

	defer func() {
		r := recover()
		if r != nil {
			execErr = fmt.Errorf("panic: %v", r)
		}
		t.finish(ctx, span, record, execErr)
		if r != nil {
			panic(r)
		}
	}()

	if t.job.ConcurrencyPolicy == domain.ConcurrencyPolicyForbid {
		lockCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		lock, err := t.locker.Lock(lockCtx, t.job.Name)
		if err != nil {
			record.Status = domain.ExecutionStatusSkipped
			span.AddEvent("skipped_execution", trace.WithAttributes(attribute.String("reason", "lock_not_acquired")))
			return fmt.Errorf("skipped execution of %s: %w", t.job.Name, err)
		}
		span.AddEvent("lock_acquired")
		defer func() {
			unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := lock.Unlock(unlockCtx); err != nil {
				t.logger.Error("failed to unlock job", "error", err)
			}
		}()
	}

	if err := t.execRepo.Save(ctx, record); err != nil {
		// History is best effort; the job still runs.
		t.logger.Error("failed to save running execution record", "error", err)
		span.RecordError(err)
	}

	t.logger.Debug("executing job")
	output, err := t.executor.Execute(ctx, t.job)
	record.Output = output
	return err
}

func (t *JobTask) finish(ctx context.Context, span trace.Span, record *domain.ExecutionRecord, execErr error) {
	record.EndTime = time.Now()
	record.DurationMS = record.EndTime.Sub(record.StartTime).Milliseconds()

	switch {
	case record.Status == domain.ExecutionStatusSkipped:
		record.Error = execErr.Error()
	case execErr != nil:
		record.Status = domain.ExecutionStatusFailed
		record.Error = execErr.Error()
		span.RecordError(execErr)
		span.SetStatus(codes.Error, "job execution failed")
	default:
		record.Status = domain.ExecutionStatusSuccess
		span.SetStatus(codes.Ok, "job execution successful")
	}
	metrics.JobExecutionTotal.WithLabelValues(t.job.Name, string(record.Status)).Inc()

	if err := t.execRepo.Save(ctx, record); err != nil {
		t.logger.Error("failed to save final execution record", "error", err)
		span.RecordError(err)
	}
}
