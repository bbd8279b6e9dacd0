/*
Package gowork runs units of work on a bounded worker pool and reports how
each one ends.

Work execution (pkg/scheduling):
  - workengine: Submit work under one of three policies and observe its lifecycle
  - workerpool: Bounded pool with a selectable action when the queue is full
  - expiry: Monitor that fires callbacks when registered items time out
  - scheduler: One-shot, interval and cron dispatch into an engine

Observability (pkg/metrics, pkg/observability):
  - metrics: Prometheus collectors for pools, engines, monitors and sinks
  - tracing: OpenTelemetry spans per work item
  - redisstream: Lifecycle events appended to a Redis stream

Configuration (pkg/config):
  - YAML file with GOWORK_* environment overrides and slog setup

Example usage:

	import (
		"github.com/vnykmshr/gowork/pkg/scheduling/workengine"
		"github.com/vnykmshr/gowork/pkg/scheduling/workerpool"
	)

	engine, _ := workengine.New(workengine.Config{
		Profile: workerpool.Profile{MaxWorkers: 4, QueueSize: 100},
	})
	_ = engine.Start()
	defer engine.Dispose()

	// Wait until a worker picks the work up, at most 500ms.
	latency, err := engine.SubmitAndAwaitStart(ctx, work,
		workengine.WithStartTimeout(500*time.Millisecond))
*/
package gowork
