// Package metrics provides Prometheus instrumentation for gowork components.
//
// # Overview
//
// The metrics package provides instrumentation for:
//   - Worker pools (size, active workers, queued, executed and rejected tasks)
//   - The work engine (accepted, started, completed, rejected work, start
//     latency, execution time, work cancelled by forceful shutdown)
//   - Expiry monitors (registered handles, fired handles)
//   - Schedulers (entries dispatched to and refused by the engine)
//   - Lifecycle sinks (events published and dropped)
//
// # Quick Start
//
//	registry := metrics.NewRegistry(prometheus.NewRegistry())
//
//	engine := workengine.New(workengine.Config{
//		Name:     "orders",
//		Listener: workengine.NewMetricsListener("orders", registry),
//		Metrics:  registry,
//	})
//
// Then expose metrics via HTTP:
//
//	http.Handle("/metrics", promhttp.Handler())
//	log.Fatal(http.ListenAndServe(":8080", nil))
//
// # Available Metrics
//
//   - gowork_workerpool_size, gowork_workerpool_active_workers, gowork_workerpool_queued_tasks
//   - gowork_workerpool_tasks_executed_total, gowork_workerpool_tasks_rejected_total
//   - gowork_engine_work_accepted_total, gowork_engine_work_started_total
//   - gowork_engine_work_completed_total, gowork_engine_work_rejected_total{kind}
//   - gowork_engine_work_start_latency_seconds, gowork_engine_work_duration_seconds
//   - gowork_engine_shutdown_cancelled_total
//   - gowork_expiry_registered, gowork_expiry_fired_total
//   - gowork_scheduler_dispatched_total, gowork_scheduler_dispatch_failed_total
//   - gowork_sink_published_total, gowork_sink_dropped_total
//
// Collectors created through NewRegistry register themselves with the given
// Registerer, so each Registerer may back only one Registry. DefaultRegistry is
// bound to prometheus.DefaultRegisterer.
package metrics
