package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"testing"
	"time"

	"timed-dispatch/internal/domain"
	"timed-dispatch/internal/logging"
	"timed-dispatch/internal/queue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type report struct {
	level   string
	msg     string
	taskID  string
	failure error
	elapsed time.Duration
}

// recordingDiagnostics captures reports for assertions.
type recordingDiagnostics struct {
	mu      sync.Mutex
	reports []report
}

func (r *recordingDiagnostics) Critical(msg, taskID string, failure error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report{level: "CRITICAL", msg: msg, taskID: taskID, failure: failure})
}

func (r *recordingDiagnostics) Warn(msg, taskID string, elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report{level: "WARN", msg: msg, taskID: taskID, elapsed: elapsed})
}

func (r *recordingDiagnostics) byLevel(level string) []report {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []report
	for _, rep := range r.reports {
		if rep.level == level {
			out = append(out, rep)
		}
	}
	return out
}

// fakeClock only moves when a test advances it.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// order records the IDs of fired tasks.
type order struct {
	mu  sync.Mutex
	ids []string
}

func (o *order) task(id string) domain.Task {
	return domain.NewTask(id, func() error {
		o.mu.Lock()
		o.ids = append(o.ids, id)
		o.mu.Unlock()
		return nil
	})
}

func (o *order) snapshot() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.ids...)
}

// barrier returns a task that closes ch when fired, so a test can wait until
// everything enqueued before it has run.
func barrier(ch chan struct{}) domain.Task {
	return domain.NewTask("barrier", func() error {
		close(ch)
		return nil
	})
}

func waitClosed(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for dispatcher")
	}
}

func stop(t *testing.T, d *Dispatcher) {
	t.Helper()
	d.Shutdown()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Wait(ctx))
}

func TestDispatcherFiresInFIFOOrder(t *testing.T) {
	q := queue.New()
	var o order
	var want []string
	for i := 0; i < 100; i++ {
		id := fmt.Sprintf("t%03d", i)
		want = append(want, id)
		require.NoError(t, q.Enqueue(o.task(id)))
	}
	done := make(chan struct{})
	require.NoError(t, q.Enqueue(barrier(done)))

	d := Start(q, logging.Discard(), nil)
	waitClosed(t, done)
	stop(t, d)

	assert.Equal(t, want, o.snapshot())
	assert.Equal(t, uint64(101), d.Stats().Fired)
	assert.Equal(t, StateStopped, d.State())
}

func TestFailingTaskDoesNotStopLoop(t *testing.T) {
	tests := []struct {
		name     string
		failing  domain.Task
		panicked bool
	}{
		{"returned error", domain.NewTask("bad", func() error { return errors.New("boom") }), false},
		{"panic with value", domain.NewTask("bad", func() error { panic("boom") }), true},
		{"panic with error", domain.NewTask("bad", func() error { panic(errors.New("boom")) }), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := queue.New()
			diag := &recordingDiagnostics{}
			var o order

			require.NoError(t, q.Enqueue(o.task("before")))
			require.NoError(t, q.Enqueue(tt.failing))
			require.NoError(t, q.Enqueue(o.task("after")))
			done := make(chan struct{})
			require.NoError(t, q.Enqueue(barrier(done)))

			d := Start(q, diag, nil)
			waitClosed(t, done)
			stop(t, d)

			assert.Equal(t, []string{"before", "after"}, o.snapshot())

			crit := diag.byLevel("CRITICAL")
			require.Len(t, crit, 1)
			assert.Equal(t, "bad", crit[0].taskID)
			assert.ErrorContains(t, crit[0].failure, "boom")

			var tf *domain.TaskFailure
			require.ErrorAs(t, crit[0].failure, &tf)
			assert.Equal(t, tt.panicked, tf.Panicked())
			assert.Equal(t, tt.panicked, errors.Is(crit[0].failure, domain.ErrTaskPanicked))
			if tt.panicked {
				assert.NotEmpty(t, tf.Stack)
			}

			stats := d.Stats()
			assert.Equal(t, uint64(1), stats.Failed)
			if tt.panicked {
				assert.Equal(t, uint64(1), stats.Panicked)
			}
		})
	}
}

func TestSlowTaskWarningWithFakeClock(t *testing.T) {
	q := queue.New()
	diag := &recordingDiagnostics{}
	clock := newFakeClock()

	sleeper := func(id string, d time.Duration) domain.Task {
		return domain.NewTask(id, func() error {
			clock.Advance(d)
			return nil
		})
	}
	require.NoError(t, q.Enqueue(sleeper("fast", 500*time.Millisecond)))
	require.NoError(t, q.Enqueue(sleeper("edge", SlowTaskThreshold)))
	require.NoError(t, q.Enqueue(sleeper("slow", 1100*time.Millisecond)))
	done := make(chan struct{})
	require.NoError(t, q.Enqueue(barrier(done)))

	d := Start(q, diag, nil, WithClock(clock))
	waitClosed(t, done)
	stop(t, d)

	warns := diag.byLevel("WARN")
	require.Len(t, warns, 1)
	assert.Equal(t, "slow", warns[0].taskID)
	assert.Equal(t, 1100*time.Millisecond, warns[0].elapsed)
	assert.Empty(t, diag.byLevel("CRITICAL"))
	assert.Equal(t, uint64(1), d.Stats().Slow)
}

func TestSlowTaskWarningWithRealSleep(t *testing.T) {
	if testing.Short() {
		t.Skip("sleeps for more than a second")
	}
	q := queue.New()
	diag := &recordingDiagnostics{}

	require.NoError(t, q.Enqueue(domain.NewTask("sleep-500ms", func() error {
		time.Sleep(500 * time.Millisecond)
		return nil
	})))
	require.NoError(t, q.Enqueue(domain.NewTask("sleep-1100ms", func() error {
		time.Sleep(1100 * time.Millisecond)
		return nil
	})))
	done := make(chan struct{})
	require.NoError(t, q.Enqueue(barrier(done)))

	d := Start(q, diag, nil)
	waitClosed(t, done)
	stop(t, d)

	warns := diag.byLevel("WARN")
	require.Len(t, warns, 1)
	assert.Equal(t, "sleep-1100ms", warns[0].taskID)
	assert.GreaterOrEqual(t, warns[0].elapsed, SlowTaskThreshold)
}

func TestFailedTaskIsNotAlsoReportedSlow(t *testing.T) {
	q := queue.New()
	diag := &recordingDiagnostics{}
	clock := newFakeClock()

	require.NoError(t, q.Enqueue(domain.NewTask("slow-and-bad", func() error {
		clock.Advance(3 * time.Second)
		return errors.New("boom")
	})))
	done := make(chan struct{})
	require.NoError(t, q.Enqueue(barrier(done)))

	d := Start(q, diag, nil, WithClock(clock))
	waitClosed(t, done)
	stop(t, d)

	assert.Len(t, diag.byLevel("CRITICAL"), 1)
	assert.Empty(t, diag.byLevel("WARN"))
}

func TestCustomSlowTaskThreshold(t *testing.T) {
	q := queue.New()
	diag := &recordingDiagnostics{}
	clock := newFakeClock()

	require.NoError(t, q.Enqueue(domain.NewTask("t", func() error {
		clock.Advance(300 * time.Millisecond)
		return nil
	})))
	done := make(chan struct{})
	require.NoError(t, q.Enqueue(barrier(done)))

	d := Start(q, diag, nil, WithClock(clock), WithSlowTaskThreshold(200*time.Millisecond))
	waitClosed(t, done)
	stop(t, d)

	assert.Len(t, diag.byLevel("WARN"), 1)
}

func TestConcurrentProducers(t *testing.T) {
	const producers = 8
	const perProducer = 250

	q := queue.New()
	var mu sync.Mutex
	counts := make(map[string]int)
	lastSeq := make(map[int]int)
	outOfOrder := 0
	var fired sync.WaitGroup
	fired.Add(producers * perProducer)

	d := Start(q, logging.Discard(), nil)

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for k := 0; k < perProducer; k++ {
				p, k := p, k
				id := fmt.Sprintf("p%d-%d", p, k)
				err := q.Enqueue(domain.NewTask(id, func() error {
					mu.Lock()
					counts[id]++
					if prev, ok := lastSeq[p]; ok && prev >= k {
						outOfOrder++
					}
					lastSeq[p] = k
					mu.Unlock()
					fired.Done()
					return nil
				}))
				if err != nil {
					t.Errorf("enqueue %s: %v", id, err)
				}
			}
		}(p)
	}
	wg.Wait()

	allFired := make(chan struct{})
	go func() {
		fired.Wait()
		close(allFired)
	}()
	waitClosed(t, allFired)
	stop(t, d)

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, counts, producers*perProducer)
	for id, n := range counts {
		assert.Equal(t, 1, n, "task %s fired %d times", id, n)
	}
	assert.Zero(t, outOfOrder, "tasks from one producer fired out of enqueue order")
	assert.Equal(t, uint64(producers*perProducer), d.Stats().Fired)
}

func TestShutdownWhileBlocked(t *testing.T) {
	q := queue.New()
	var o order
	d := Start(q, logging.Discard(), nil)

	// Let the loop reach the empty-queue wait.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, StateRunning, d.State())

	d.Shutdown()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, d.Wait(ctx), "dispatcher did not stop after shutdown")
	assert.Equal(t, StateStopped, d.State())

	assert.ErrorIs(t, q.Enqueue(o.task("late")), queue.ErrShutdown)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, o.snapshot())
	assert.Zero(t, d.Stats().Fired)
}

func TestShutdownLeavesQueuedTasksUnfired(t *testing.T) {
	q := queue.New()
	var o order
	release := make(chan struct{})
	started := make(chan struct{})

	require.NoError(t, q.Enqueue(domain.NewTask("blocker", func() error {
		close(started)
		<-release
		return nil
	})))
	d := Start(q, logging.Discard(), nil)
	waitClosed(t, started)

	require.NoError(t, q.Enqueue(o.task("queued-1")))
	require.NoError(t, q.Enqueue(o.task("queued-2")))
	d.Shutdown()
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, d.Wait(ctx))

	assert.Empty(t, o.snapshot())
	assert.Equal(t, 2, d.Stats().Pending)
	assert.Len(t, q.Drain(), 2)
}

func TestShutdownIsIdempotent(t *testing.T) {
	q := queue.New()
	d := Start(q, logging.Discard(), nil)

	assert.NotPanics(t, func() {
		d.Shutdown()
		d.Shutdown()
	})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, d.Wait(ctx))

	assert.NotPanics(t, d.Shutdown)
	assert.Equal(t, StateStopped, d.State())
}

func TestWaitHonoursContext(t *testing.T) {
	q := queue.New()
	d := Start(q, logging.Discard(), nil)
	defer stop(t, d)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Wait(ctx), context.DeadlineExceeded)
}

func TestDiagnosticsResolvedOnlyOnReport(t *testing.T) {
	q := queue.New()
	resolved := 0
	diag := logging.Lazy(func() domain.DiagnosticLogger {
		resolved++
		return logging.Discard()
	})

	var o order
	require.NoError(t, q.Enqueue(o.task("ok")))
	done := make(chan struct{})
	require.NoError(t, q.Enqueue(barrier(done)))

	d := Start(q, diag, nil)
	waitClosed(t, done)
	assert.Equal(t, 0, resolved, "diagnostics built although nothing failed")

	done2 := make(chan struct{})
	require.NoError(t, q.Enqueue(domain.NewTask("bad", func() error { return errors.New("boom") })))
	require.NoError(t, q.Enqueue(barrier(done2)))
	waitClosed(t, done2)
	stop(t, d)

	assert.Equal(t, 1, resolved)
}

type badIDTask struct{}

func (badIDTask) ID() string  { panic("no id") }
func (badIDTask) Fire() error { return errors.New("boom") }

func TestTaskIDPanicIsContained(t *testing.T) {
	q := queue.New()
	diag := &recordingDiagnostics{}
	require.NoError(t, q.Enqueue(badIDTask{}))
	done := make(chan struct{})
	require.NoError(t, q.Enqueue(barrier(done)))

	d := Start(q, diag, nil)
	waitClosed(t, done)
	stop(t, d)

	crit := diag.byLevel("CRITICAL")
	require.Len(t, crit, 1)
	assert.Equal(t, "dispatch.badIDTask", crit[0].taskID)
}

func TestStartRejectsNilQueue(t *testing.T) {
	assert.Panics(t, func() { Start(nil, nil, nil) })
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "stopped", StateStopped.String())
	assert.Equal(t, "state(7)", State(7).String())
}

func TestGoexitTaskDoesNotStopLoop(t *testing.T) {
	q := queue.New()
	diag := &recordingDiagnostics{}
	var o order

	require.NoError(t, q.Enqueue(domain.NewTask("exits", func() error {
		runtime.Goexit()
		return nil
	})))
	d := Start(q, diag, nil)

	require.NoError(t, q.Enqueue(o.task("after")))
	done := make(chan struct{})
	require.NoError(t, q.Enqueue(barrier(done)))
	waitClosed(t, done)

	assert.Equal(t, StateRunning, d.State())
	assert.Equal(t, []string{"after"}, o.snapshot())

	crit := diag.byLevel("CRITICAL")
	require.Len(t, crit, 1)
	assert.Equal(t, "exits", crit[0].taskID)
	assert.ErrorIs(t, crit[0].failure, domain.ErrTaskExited)
	assert.False(t, errors.Is(crit[0].failure, domain.ErrTaskPanicked))

	var tf *domain.TaskFailure
	require.ErrorAs(t, crit[0].failure, &tf)
	assert.True(t, tf.Exited())
	assert.NotEmpty(t, tf.Stack)

	stop(t, d)
	assert.Equal(t, uint64(1), d.Stats().Failed)
	assert.Zero(t, d.Stats().Panicked)
}

func TestEnqueueFailsOnceLoopHasExited(t *testing.T) {
	q := queue.New()
	d := Start(q, logging.Discard(), nil)
	stop(t, d)

	assert.ErrorIs(t, q.Enqueue(domain.NewTask("late", func() error { return nil })), queue.ErrShutdown)
}

func TestTaskIDFallsBackToTypeName(t *testing.T) {
	assert.Equal(t, "ok", TaskID(domain.NewTask("ok", nil)))
	assert.Equal(t, "dispatch.badIDTask", TaskID(badIDTask{}))
}
