package workerpool

import (
	"github.com/vnykmshr/gowork/pkg/metrics"
)

// MetricsPool wraps a worker Pool with Prometheus metrics collection.
// Task counters and the active gauge are fed by profile hooks; size and
// queue gauges are refreshed on every Execute and shutdown.
type MetricsPool struct {
	Pool
	name     string
	registry *metrics.Registry
}

// NewWithMetrics creates a pool reporting to registry.
// A nil registry falls back to metrics.DefaultRegistry.
func NewWithMetrics(name string, profile Profile, registry *metrics.Registry) (Pool, error) {
	return MetricsFactory(DefaultFactory(), registry).CreatePool(name, profile)
}

// MetricsFactory decorates base so that every pool it creates reports to
// registry. A nil registry falls back to metrics.DefaultRegistry.
func MetricsFactory(base Factory, registry *metrics.Registry) Factory {
	if registry == nil {
		registry = metrics.DefaultRegistry
	}
	return FactoryFunc(func(name string, profile Profile) (Pool, error) {
		pool, err := base.CreatePool(name, instrument(name, profile, registry))
		if err != nil {
			return nil, err
		}

		mp := &MetricsPool{Pool: pool, name: name, registry: registry}
		mp.updateMetrics()
		return mp, nil
	})
}

// instrument chains metric updates in front of the hooks already on profile.
func instrument(name string, profile Profile, registry *metrics.Registry) Profile {
	onStart := profile.OnTaskStart
	profile.OnTaskStart = func(workerID int, task Task) {
		registry.PoolActive.WithLabelValues(name).Inc()
		if onStart != nil {
			onStart(workerID, task)
		}
	}

	onComplete := profile.OnTaskComplete
	profile.OnTaskComplete = func(workerID int, result Result) {
		registry.PoolActive.WithLabelValues(name).Dec()
		registry.PoolTasksExecuted.WithLabelValues(name).Inc()
		if onComplete != nil {
			onComplete(workerID, result)
		}
	}

	onRejected := profile.OnTaskRejected
	profile.OnTaskRejected = func(task Task, reason error) {
		registry.PoolTasksRejected.WithLabelValues(name).Inc()
		if onRejected != nil {
			onRejected(task, reason)
		}
	}

	return profile
}

// updateMetrics updates the current state metrics.
func (mp *MetricsPool) updateMetrics() {
	mp.registry.PoolSize.WithLabelValues(mp.name).Set(float64(mp.Pool.Size()))
	mp.registry.PoolQueued.WithLabelValues(mp.name).Set(float64(mp.Pool.QueueSize()))
}

// Execute submits task and refreshes the queue gauge.
func (mp *MetricsPool) Execute(task Task) error {
	err := mp.Pool.Execute(task)
	mp.updateMetrics()
	return err
}

// ShutdownNow shuts the wrapped pool down and refreshes the queue gauge.
func (mp *MetricsPool) ShutdownNow() []Task {
	dropped := mp.Pool.ShutdownNow()
	mp.updateMetrics()
	return dropped
}
