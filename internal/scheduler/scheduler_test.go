package scheduler

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"timed-dispatch/internal/domain"
	"timed-dispatch/internal/domain/mocks"
	"timed-dispatch/internal/queue"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// NewTestSlogger creates a *slog.Logger that writes JSON into a buffer.
func NewTestSlogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(handler), &buf
}

func shellJob(name string) *domain.Job {
	return &domain.Job{
		ID:           "id-" + name,
		Name:         name,
		CronExpr:     "@every 1s",
		ExecutorType: domain.ExecutorTypeShell,
		Executor:     domain.JobExecutor{Command: "true"},
	}
}

type recordSink struct {
	records []domain.ExecutionRecord
}

func (s *recordSink) save(_ context.Context, r *domain.ExecutionRecord) error {
	s.records = append(s.records, *r)
	return nil
}

func TestTaskFactoryNew(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	logger, _ := NewTestSlogger()

	executor := mocks.NewMockTaskExecutor(ctrl)
	factory := NewTaskFactory(
		map[domain.ExecutorType]domain.TaskExecutor{domain.ExecutorTypeShell: executor},
		nil, mocks.NewMockExecutionRepository(ctrl), "node-1", logger)

	t.Run("builds task", func(t *testing.T) {
		task, err := factory.New(shellJob("backup"))
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(task.ID(), "backup/"))
		assert.Equal(t, "backup/"+task.ExecutionID(), task.ID())

		other, err := factory.New(shellJob("backup"))
		require.NoError(t, err)
		assert.NotEqual(t, task.ID(), other.ID())
	})

	t.Run("unknown executor", func(t *testing.T) {
		job := shellJob("ping")
		job.ExecutorType = domain.ExecutorTypeHTTP
		_, err := factory.New(job)
		assert.ErrorContains(t, err, "no executor found for type: http")
	})

	t.Run("forbid without locker", func(t *testing.T) {
		job := shellJob("exclusive")
		job.ConcurrencyPolicy = domain.ConcurrencyPolicyForbid
		_, err := factory.New(job)
		assert.ErrorContains(t, err, "no locker is configured")
	})
}

func TestJobTaskFire(t *testing.T) {
	ctx := gomock.Any()

	t.Run("success", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()
		logger, _ := NewTestSlogger()
		executor := mocks.NewMockTaskExecutor(ctrl)
		repo := mocks.NewMockExecutionRepository(ctrl)
		sink := &recordSink{}

		job := shellJob("backup")
		factory := NewTaskFactory(map[domain.ExecutorType]domain.TaskExecutor{domain.ExecutorTypeShell: executor}, nil, repo, "node-1", logger)
		task, err := factory.New(job)
		require.NoError(t, err)

		gomock.InOrder(
			repo.EXPECT().Save(ctx, gomock.Any()).DoAndReturn(sink.save),
			executor.EXPECT().Execute(ctx, job).Return("done", nil),
			repo.EXPECT().Save(ctx, gomock.Any()).DoAndReturn(sink.save),
		)

		require.NoError(t, task.Fire())
		require.Len(t, sink.records, 2)
		assert.Equal(t, domain.ExecutionStatusRunning, sink.records[0].Status)
		final := sink.records[1]
		assert.Equal(t, domain.ExecutionStatusSuccess, final.Status)
		assert.Equal(t, "done", final.Output)
		assert.Equal(t, task.ExecutionID(), final.ID)
		assert.Equal(t, task.ID(), final.TaskID)
		assert.Equal(t, "node-1", final.NodeID)
		assert.False(t, final.EndTime.IsZero())
		assert.NoError(t, final.Validate())
	})

	t.Run("executor error", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()
		logger, _ := NewTestSlogger()
		executor := mocks.NewMockTaskExecutor(ctrl)
		repo := mocks.NewMockExecutionRepository(ctrl)
		sink := &recordSink{}

		factory := NewTaskFactory(map[domain.ExecutorType]domain.TaskExecutor{domain.ExecutorTypeShell: executor}, nil, repo, "node-1", logger)
		task, err := factory.New(shellJob("backup"))
		require.NoError(t, err)

		repo.EXPECT().Save(ctx, gomock.Any()).DoAndReturn(sink.save).Times(2)
		executor.EXPECT().Execute(ctx, gomock.Any()).Return("partial", errors.New("exit status 1"))

		err = task.Fire()
		assert.ErrorContains(t, err, "exit status 1")
		require.Len(t, sink.records, 2)
		assert.Equal(t, domain.ExecutionStatusFailed, sink.records[1].Status)
		assert.Equal(t, "exit status 1", sink.records[1].Error)
		assert.Equal(t, "partial", sink.records[1].Output)
	})

	t.Run("history failure does not stop the job", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()
		logger, logBuf := NewTestSlogger()
		executor := mocks.NewMockTaskExecutor(ctrl)
		repo := mocks.NewMockExecutionRepository(ctrl)

		factory := NewTaskFactory(map[domain.ExecutorType]domain.TaskExecutor{domain.ExecutorTypeShell: executor}, nil, repo, "node-1", logger)
		task, err := factory.New(shellJob("backup"))
		require.NoError(t, err)

		repo.EXPECT().Save(ctx, gomock.Any()).Return(errors.New("etcd down")).Times(2)
		executor.EXPECT().Execute(ctx, gomock.Any()).Return("", nil)

		assert.NoError(t, task.Fire())
		assert.Contains(t, logBuf.String(), "failed to save running execution record")
		assert.Contains(t, logBuf.String(), "failed to save final execution record")
	})

	t.Run("executor panic is recorded and re-raised", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()
		logger, _ := NewTestSlogger()
		executor := mocks.NewMockTaskExecutor(ctrl)
		repo := mocks.NewMockExecutionRepository(ctrl)
		sink := &recordSink{}

		factory := NewTaskFactory(map[domain.ExecutorType]domain.TaskExecutor{domain.ExecutorTypeShell: executor}, nil, repo, "node-1", logger)
		task, err := factory.New(shellJob("backup"))
		require.NoError(t, err)

		repo.EXPECT().Save(ctx, gomock.Any()).DoAndReturn(sink.save).Times(2)
		executor.EXPECT().Execute(ctx, gomock.Any()).DoAndReturn(func(context.Context, *domain.Job) (string, error) {
			panic("nil map")
		})

		assert.PanicsWithValue(t, "nil map", func() { _ = task.Fire() })
		require.Len(t, sink.records, 2)
		assert.Equal(t, domain.ExecutionStatusFailed, sink.records[1].Status)
		assert.Equal(t, "panic: nil map", sink.records[1].Error)
	})
}

func TestJobTaskForbidConcurrency(t *testing.T) {
	t.Run("lock held elsewhere skips execution", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()
		logger, _ := NewTestSlogger()
		executor := mocks.NewMockTaskExecutor(ctrl)
		repo := mocks.NewMockExecutionRepository(ctrl)
		locker := mocks.NewMockLocker(ctrl)
		sink := &recordSink{}

		job := shellJob("exclusive")
		job.ConcurrencyPolicy = domain.ConcurrencyPolicyForbid
		factory := NewTaskFactory(map[domain.ExecutorType]domain.TaskExecutor{domain.ExecutorTypeShell: executor}, locker, repo, "node-1", logger)
		task, err := factory.New(job)
		require.NoError(t, err)

		locker.EXPECT().Lock(gomock.Any(), "exclusive").Return(nil, domain.ErrLockNotAcquired)
		repo.EXPECT().Save(gomock.Any(), gomock.Any()).DoAndReturn(sink.save).Times(1)

		err = task.Fire()
		assert.ErrorIs(t, err, domain.ErrLockNotAcquired)
		require.Len(t, sink.records, 1)
		assert.Equal(t, domain.ExecutionStatusSkipped, sink.records[0].Status)
	})

	t.Run("lock acquired and released", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()
		logger, _ := NewTestSlogger()
		executor := mocks.NewMockTaskExecutor(ctrl)
		repo := mocks.NewMockExecutionRepository(ctrl)
		locker := mocks.NewMockLocker(ctrl)
		lock := mocks.NewMockLock(ctrl)

		job := shellJob("exclusive")
		job.ConcurrencyPolicy = domain.ConcurrencyPolicyForbid
		factory := NewTaskFactory(map[domain.ExecutorType]domain.TaskExecutor{domain.ExecutorTypeShell: executor}, locker, repo, "node-1", logger)
		task, err := factory.New(job)
		require.NoError(t, err)

		gomock.InOrder(
			locker.EXPECT().Lock(gomock.Any(), "exclusive").Return(lock, nil),
			repo.EXPECT().Save(gomock.Any(), gomock.Any()).Return(nil),
			executor.EXPECT().Execute(gomock.Any(), job).Return("ok", nil),
			lock.EXPECT().Unlock(gomock.Any()).Return(nil),
			repo.EXPECT().Save(gomock.Any(), gomock.Any()).Return(nil),
		)

		assert.NoError(t, task.Fire())
	})
}

func newTestScheduler(t *testing.T) (domain.Scheduler, *queue.ReadyQueue) {
	t.Helper()
	ctrl := gomock.NewController(t)
	logger, _ := NewTestSlogger()
	factory := NewTaskFactory(
		map[domain.ExecutorType]domain.TaskExecutor{domain.ExecutorTypeShell: mocks.NewMockTaskExecutor(ctrl)},
		nil, mocks.NewMockExecutionRepository(ctrl), "node-1", logger)
	q := queue.New()
	return NewCronScheduler(q, factory, logger), q
}

func TestCronSchedulerJobs(t *testing.T) {
	s, _ := newTestScheduler(t)

	require.NoError(t, s.AddJob(shellJob("b")))
	require.NoError(t, s.AddJob(shellJob("a")))
	require.NoError(t, s.AddJob(shellJob("a")))
	assert.Equal(t, []string{"a", "b"}, s.Jobs())

	require.NoError(t, s.RemoveJob("a"))
	require.NoError(t, s.RemoveJob("missing"))
	assert.Equal(t, []string{"b"}, s.Jobs())

	paused := shellJob("b")
	paused.Paused = true
	require.NoError(t, s.AddJob(paused))
	assert.Empty(t, s.Jobs())

	bad := shellJob("bad")
	bad.CronExpr = "not a schedule"
	assert.Error(t, s.AddJob(bad))
	assert.Empty(t, s.Jobs())
}

func TestCronSchedulerTrigger(t *testing.T) {
	s, q := newTestScheduler(t)

	require.NoError(t, s.Trigger(shellJob("report")))
	require.Equal(t, 1, q.Len())

	task, ok := q.DequeueBlocking()
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(task.ID(), "report/"))

	unknown := shellJob("ping")
	unknown.ExecutorType = domain.ExecutorTypeHTTP
	assert.Error(t, s.Trigger(unknown))

	q.Shutdown()
	assert.ErrorIs(t, s.Trigger(shellJob("report")), queue.ErrShutdown)
}

func TestCronJobWrapperEnqueues(t *testing.T) {
	s, q := newTestScheduler(t)
	logger, logBuf := NewTestSlogger()
	w := &cronJobWrapper{job: shellJob("tick"), scheduler: s.(*cronScheduler), logger: logger}

	w.Run()
	assert.Equal(t, 1, q.Len())

	q.Shutdown()
	w.Run()
	assert.Contains(t, logBuf.String(), "failed to enqueue ready task")
}

func TestCronSchedulerFiresOnSchedule(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for a cron tick")
	}
	s, q := newTestScheduler(t)
	require.NoError(t, s.AddJob(shellJob("tick")))

	s.Start()
	defer s.Stop()

	assert.Eventually(t, func() bool { return q.Len() >= 1 }, 3*time.Second, 20*time.Millisecond)
}
