// internal/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "timed_dispatch"

var (
	// HttpRequestsTotal counts API requests by path, method and status code.
	HttpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of http requests handled by the service.",
		},
		[]string{"path", "method", "code"},
	)

	// TasksFiredTotal counts tasks the dispatcher fired, by outcome (success, failed, panicked).
	TasksFiredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_fired_total",
			Help:      "Total number of ready tasks fired by the dispatcher.",
		},
		[]string{"outcome"},
	)

	// TaskDuration observes how long each fired task ran.
	TaskDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Elapsed time of fired tasks.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	// SlowTasksTotal counts tasks that ran past the slow-task threshold.
	SlowTasksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slow_tasks_total",
			Help:      "Total number of tasks whose elapsed time exceeded the slow-task threshold.",
		},
	)

	// ReadyQueueDepth is the number of tasks waiting in the ready queue.
	ReadyQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ready_queue_depth",
			Help:      "Ready tasks waiting to be fired.",
		},
	)

	// DispatcherRunning is 1 while the dispatch loop is alive.
	DispatcherRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dispatcher_running",
			Help:      "1 while the dispatch loop is running, 0 once it has stopped.",
		},
	)

	// TasksEnqueuedTotal counts tasks producers handed to the ready queue, by source.
	TasksEnqueuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_enqueued_total",
			Help:      "Total number of tasks enqueued by producers.",
		},
		[]string{"source"},
	)

	// JobExecutionTotal counts job executions by job and status.
	JobExecutionTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_executions_total",
			Help:      "Total number of job executions.",
		},
		[]string{"job_name", "status"},
	)

	// IsLeader is 1 on the node currently running the timer subsystem.
	IsLeader = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "is_leader",
			Help:      "Is this node currently the leader. 1 if leader, 0 otherwise.",
		},
		[]string{"node_id"},
	)
)
