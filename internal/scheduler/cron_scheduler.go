// internal/scheduler/cron_scheduler.go
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"timed-dispatch/internal/domain"
	"timed-dispatch/internal/metrics"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// cronScheduler decides when jobs are ready; cron goroutines are the
// producers and only enqueue. Firing happens on the dispatcher.
type cronScheduler struct {
	cron    *cron.Cron
	queue   domain.TaskQueue
	factory *TaskFactory
	logger  *slog.Logger
	tracer  trace.Tracer

	mu   sync.Mutex
	jobs map[string]cron.EntryID
}

// NewCronScheduler creates a scheduler that enqueues a task into q each time a job's schedule fires.
func NewCronScheduler(q domain.TaskQueue, factory *TaskFactory, logger *slog.Logger) domain.Scheduler {
	logger = logger.With("component", "cron-scheduler")
	cronLog := cronLogger{logger: logger}
	c := cron.New(
		cron.WithParser(domain.CronParser),
		cron.WithLogger(cronLog),
		cron.WithChain(cron.Recover(cronLog)),
	)
	return &cronScheduler{
		cron:    c,
		queue:   q,
		factory: factory,
		jobs:    make(map[string]cron.EntryID),
		logger:  logger,
		tracer:  otel.Tracer("timed-dispatch-scheduler"),
	}
}

// Start begins firing schedules. It does not block.
func (s *cronScheduler) Start() {
	s.logger.Info("cron scheduler started")
	s.cron.Start()
}

// Stop halts the schedules and waits for in-flight producer callbacks.
// Tasks already enqueued stay in the ready queue.
func (s *cronScheduler) Stop() {
	s.logger.Info("cron scheduler stopping...")
	<-s.cron.Stop().Done()
	s.logger.Info("cron scheduler stopped")
}

// AddJob schedules job, replacing any entry with the same name. Paused jobs are only unscheduled.
func (s *cronScheduler) AddJob(job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, ok := s.jobs[job.Name]; ok {
		s.cron.Remove(entryID)
		delete(s.jobs, job.Name)
	}
	if job.Paused {
		s.logger.Info("job is paused, not scheduling", "job_name", job.Name)
		return nil
	}

	entryID, err := s.cron.AddJob(job.CronExpr, &cronJobWrapper{
		job:       job,
		scheduler: s,
		logger:    s.logger.With("job_name", job.Name),
	})
	if err != nil {
		s.logger.Error("failed to add job to cron", "job_name", job.Name, "error", err)
		return fmt.Errorf("schedule job %s: %w", job.Name, err)
	}

	s.jobs[job.Name] = entryID
	s.logger.Info("added job to scheduler", "job_name", job.Name, "schedule", job.CronExpr)
	return nil
}

// RemoveJob unschedules a job. Removing an unknown job is not an error.
func (s *cronScheduler) RemoveJob(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, ok := s.jobs[name]; ok {
		s.cron.Remove(entryID)
		delete(s.jobs, name)
		s.logger.Info("removed job from scheduler", "job_name", name)
	}
	return nil
}

// Trigger enqueues a task for job right away.
func (s *cronScheduler) Trigger(job *domain.Job) error {
	return s.enqueue(context.Background(), job, "trigger")
}

func (s *cronScheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *cronScheduler) enqueue(ctx context.Context, job *domain.Job, source string) error {
	_, span := s.tracer.Start(ctx, "scheduler.Enqueue",
		trace.WithAttributes(
			attribute.String("job.name", job.Name),
			attribute.String("job.id", job.ID),
			attribute.String("source", source),
		))
	defer span.End()

	task, err := s.factory.New(job)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if err := s.queue.Enqueue(task); err != nil {
		span.RecordError(err)
		return fmt.Errorf("enqueue task for job %s: %w", job.Name, err)
	}
	metrics.TasksEnqueuedTotal.WithLabelValues(source).Inc()
	span.SetAttributes(attribute.String("task.id", task.ID()))
	return nil
}

// cronJobWrapper is the cron.Job for one scheduled job.
type cronJobWrapper struct {
	job       *domain.Job
	scheduler *cronScheduler
	logger    *slog.Logger
}

// Run is called by the cron library when the job is due. It only enqueues.
func (w *cronJobWrapper) Run() {
	if err := w.scheduler.enqueue(context.Background(), w.job, "cron"); err != nil {
		w.logger.Error("failed to enqueue ready task", "error", err)
		return
	}
	w.logger.Debug("enqueued ready task")
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
