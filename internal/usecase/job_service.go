package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"timed-dispatch/internal/domain"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// JobService owns job definitions: it persists them and keeps the timer subsystem in step.
type JobService struct {
	repo      domain.JobRepository
	execRepo  domain.ExecutionRepository
	scheduler domain.Scheduler
	logger    *slog.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// NewJobService creates a new JobService instance.
func NewJobService(repo domain.JobRepository, execRepo domain.ExecutionRepository, scheduler domain.Scheduler, logger *slog.Logger) *JobService {
	return &JobService{
		repo:      repo,
		execRepo:  execRepo,
		scheduler: scheduler,
		logger:    logger.With("component", "job-service"),
		tracer:    otel.Tracer("timed-dispatch-usecase"),
		now:       time.Now,
	}
}

// Save validates and stores job, then (re)schedules it. An existing job keeps its ID and CreatedAt.
func (s *JobService) Save(ctx context.Context, job *domain.Job) error {
	ctx, span := s.tracer.Start(ctx, "service.Save")
	defer span.End()

	if err := job.Validate(); err != nil {
		span.SetStatus(codes.Error, "invalid job")
		return err
	}

	now := s.now()
	existing, err := s.repo.Get(ctx, job.Name)
	switch {
	case err == nil:
		job.ID = existing.ID
		job.CreatedAt = existing.CreatedAt
	case errors.Is(err, domain.ErrJobNotFound):
		if job.ID == "" {
			job.ID = uuid.New().String()
		}
		job.CreatedAt = now
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to look up job")
		return err
	}
	job.UpdatedAt = now
	span.SetAttributes(attribute.String("job.id", job.ID), attribute.String("job.name", job.Name))

	if err := s.repo.Save(ctx, job); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to save job to repository")
		return err
	}

	if err := s.scheduler.AddJob(job); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to add job to scheduler")
		return err
	}
	s.logger.Info("job saved", "job_name", job.Name, "job_id", job.ID, "paused", job.Paused)
	return nil
}

// Delete unschedules and removes a job. Tasks already in the ready queue still fire.
func (s *JobService) Delete(ctx context.Context, name string) error {
	ctx, span := s.tracer.Start(ctx, "service.Delete")
	defer span.End()
	span.SetAttributes(attribute.String("job.name", name))

	if err := s.scheduler.RemoveJob(name); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to remove job from scheduler")
		return err
	}

	if err := s.repo.Delete(ctx, name); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to delete job from repository")
		return err
	}
	s.logger.Info("job deleted", "job_name", name)
	return nil
}

func (s *JobService) Get(ctx context.Context, name string) (*domain.Job, error) {
	ctx, span := s.tracer.Start(ctx, "service.Get")
	defer span.End()
	span.SetAttributes(attribute.String("job.name", name))

	job, err := s.repo.Get(ctx, name)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get job from repository")
	}
	return job, err
}

func (s *JobService) List(ctx context.Context) ([]*domain.Job, error) {
	ctx, span := s.tracer.Start(ctx, "service.List")
	defer span.End()

	jobs, err := s.repo.List(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list jobs from repository")
	}
	return jobs, err
}

// ListHistory lists the execution history for a specific job, newest first.
func (s *JobService) ListHistory(ctx context.Context, jobName string, page, pageSize int) ([]*domain.ExecutionRecord, error) {
	ctx, span := s.tracer.Start(ctx, "service.ListHistory")
	defer span.End()
	span.SetAttributes(
		attribute.String("job.name", jobName),
		attribute.Int("page", page),
		attribute.Int("page_size", pageSize),
	)

	records, err := s.execRepo.ListByJobName(ctx, jobName, page, pageSize)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list job history from repository")
	}
	return records, err
}

// GetExecution returns one execution record of a job.
func (s *JobService) GetExecution(ctx context.Context, jobName, executionID string) (*domain.ExecutionRecord, error) {
	ctx, span := s.tracer.Start(ctx, "service.GetExecution")
	defer span.End()
	span.SetAttributes(
		attribute.String("job.name", jobName),
		attribute.String("execution.id", executionID),
	)

	record, err := s.execRepo.Get(ctx, jobName, executionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get execution record")
	}
	return record, err
}

// Trigger enqueues a ready task for the named job now, even if it is paused.
func (s *JobService) Trigger(ctx context.Context, name string) error {
	ctx, span := s.tracer.Start(ctx, "service.Trigger")
	defer span.End()
	span.SetAttributes(attribute.String("job.name", name))

	job, err := s.repo.Get(ctx, name)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get job from repository")
		return err
	}
	if err := s.scheduler.Trigger(job); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to trigger job")
		return fmt.Errorf("trigger job %s: %w", name, err)
	}
	s.logger.Info("job triggered", "job_name", name)
	return nil
}
