package usecase

import (
	"context"
	"log/slog"
	"time"

	"timed-dispatch/internal/domain"
)

const (
	defaultCampaignRetryDelay = 5 * time.Second
	resignTimeout             = 5 * time.Second
)

// SchedulerService runs the timer subsystem only while this node is the leader.
type SchedulerService struct {
	leaderManager domain.LeaderElectionManager
	scheduler     domain.Scheduler
	jobRepo       domain.JobRepository
	nodeID        string
	logger        *slog.Logger
	retryDelay    time.Duration
}

func NewSchedulerService(leaderManager domain.LeaderElectionManager, scheduler domain.Scheduler, jobRepo domain.JobRepository, nodeID string, logger *slog.Logger) *SchedulerService {
	return &SchedulerService{
		leaderManager: leaderManager,
		scheduler:     scheduler,
		jobRepo:       jobRepo,
		nodeID:        nodeID,
		logger:        logger.With("component", "scheduler-service", "node_id", nodeID),
		retryDelay:    defaultCampaignRetryDelay,
	}
}

// Start campaigns for leadership until ctx ends. While leading, the stored jobs are
// scheduled and the scheduler runs; losing leadership stops it and campaigns again.
// It returns ctx.Err() after stopping the scheduler and resigning.
func (s *SchedulerService) Start(ctx context.Context) error {
	s.logger.Info("scheduler service starting")

	for {
		if ctx.Err() != nil {
			return s.shutdown(ctx)
		}

		s.logger.Debug("campaigning for leadership")
		lost, err := s.leaderManager.Campaign(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return s.shutdown(ctx)
			}
			s.logger.Error("leadership campaign failed, retrying", "error", err, "retry_in", s.retryDelay)
			select {
			case <-time.After(s.retryDelay):
				continue
			case <-ctx.Done():
				return s.shutdown(ctx)
			}
		}

		s.logger.Info("became leader, starting scheduler")
		s.runScheduler(ctx)

		select {
		case <-lost:
			s.logger.Warn("leadership lost, stopping scheduler")
			s.scheduler.Stop()
		case <-ctx.Done():
			s.scheduler.Stop()
			return s.shutdown(ctx)
		}
	}
}

func (s *SchedulerService) runScheduler(ctx context.Context) {
	jobs, err := s.jobRepo.List(ctx)
	if err != nil {
		s.logger.Error("failed to load jobs for scheduler", "error", err)
	}

	for _, job := range jobs {
		if err := s.scheduler.AddJob(job); err != nil {
			s.logger.Error("failed to schedule stored job", "job_name", job.Name, "error", err)
		}
	}
	s.scheduler.Start()
}

func (s *SchedulerService) shutdown(ctx context.Context) error {
	resignCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), resignTimeout)
	defer cancel()
	if err := s.leaderManager.Resign(resignCtx); err != nil {
		s.logger.Warn("failed to resign leadership", "error", err)
	}
	s.logger.Info("scheduler service stopped")
	return ctx.Err()
}
