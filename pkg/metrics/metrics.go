// Package metrics provides Prometheus instrumentation for gowork components.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "gowork"

// Registry holds all metric instances for gowork components.
type Registry struct {
	// Worker Pool Metrics
	PoolSize          *prometheus.GaugeVec
	PoolActive        *prometheus.GaugeVec
	PoolQueued        *prometheus.GaugeVec
	PoolTasksExecuted *prometheus.CounterVec
	PoolTasksRejected *prometheus.CounterVec

	// Work Engine Metrics
	WorkAccepted      *prometheus.CounterVec
	WorkStarted       *prometheus.CounterVec
	WorkCompleted     *prometheus.CounterVec
	WorkRejected      *prometheus.CounterVec
	WorkStartLatency  *prometheus.HistogramVec
	WorkDuration      *prometheus.HistogramVec
	ShutdownCancelled *prometheus.CounterVec

	// Expiry Metrics
	ExpiryRegistered *prometheus.GaugeVec
	ExpiryFired      *prometheus.CounterVec

	// Scheduler Metrics
	SchedulerDispatched *prometheus.CounterVec
	SchedulerFailed     *prometheus.CounterVec

	// Sink Metrics
	SinkPublished *prometheus.CounterVec
	SinkDropped   *prometheus.CounterVec
}

// DefaultRegistry is the default metrics registry used by gowork components.
var DefaultRegistry *Registry

func init() {
	DefaultRegistry = NewRegistry(prometheus.DefaultRegisterer)
}

// NewRegistry creates a new metrics registry with the given Prometheus registerer.
func NewRegistry(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)

	return &Registry{
		PoolSize: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "workerpool",
				Name:      "size",
				Help:      "Configured number of pool workers",
			},
			[]string{"pool_name"},
		),

		PoolActive: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "workerpool",
				Name:      "active_workers",
				Help:      "Number of workers currently executing a task",
			},
			[]string{"pool_name"},
		),

		PoolQueued: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "workerpool",
				Name:      "queued_tasks",
				Help:      "Number of tasks waiting for a worker",
			},
			[]string{"pool_name"},
		),

		PoolTasksExecuted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "workerpool",
				Name:      "tasks_executed_total",
				Help:      "Total number of tasks executed by pool workers",
			},
			[]string{"pool_name"},
		),

		PoolTasksRejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "workerpool",
				Name:      "tasks_rejected_total",
				Help:      "Total number of tasks the pool refused or discarded",
			},
			[]string{"pool_name"},
		),

		WorkAccepted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "work_accepted_total",
				Help:      "Total number of work items accepted",
			},
			[]string{"engine_name"},
		),

		WorkStarted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "work_started_total",
				Help:      "Total number of work items that began executing",
			},
			[]string{"engine_name"},
		),

		WorkCompleted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "work_completed_total",
				Help:      "Total number of work items that completed successfully",
			},
			[]string{"engine_name"},
		),

		WorkRejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "work_rejected_total",
				Help:      "Total number of work items rejected, by failure kind",
			},
			[]string{"engine_name", "kind"},
		),

		WorkStartLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "work_start_latency_seconds",
				Help:      "Time between acceptance and start of a work item",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"engine_name"},
		),

		WorkDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "work_duration_seconds",
				Help:      "Time spent executing work items",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"engine_name"},
		),

		ShutdownCancelled: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "shutdown_cancelled_total",
				Help:      "Total number of queued work items cancelled by forceful shutdown",
			},
			[]string{"engine_name"},
		),

		ExpiryRegistered: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "expiry",
				Name:      "registered",
				Help:      "Number of handles waiting to expire",
			},
			[]string{"monitor_name"},
		),

		ExpiryFired: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "expiry",
				Name:      "fired_total",
				Help:      "Total number of expired handles",
			},
			[]string{"monitor_name"},
		),

		SchedulerDispatched: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "dispatched_total",
				Help:      "Total number of scheduled entries handed to the engine",
			},
			[]string{"scheduler_name"},
		),

		SchedulerFailed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "dispatch_failed_total",
				Help:      "Total number of scheduled entries the engine refused",
			},
			[]string{"scheduler_name"},
		),

		SinkPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sink",
				Name:      "published_total",
				Help:      "Total number of lifecycle events published by a sink",
			},
			[]string{"sink_name"},
		),

		SinkDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sink",
				Name:      "dropped_total",
				Help:      "Total number of lifecycle events a sink dropped",
			},
			[]string{"sink_name"},
		),
	}
}
