/*
Package scheduling groups the execution primitives of gowork.

  - workerpool: Bounded pool of workers with a queue and an exhausted action
  - workengine: Work submission with lifecycle tracking on top of a pool
  - expiry: Background monitor for items with a deadline
  - scheduler: Time-based dispatch of work into an engine

Work Engine:

The engine accepts work under three policies:

	engine, _ := workengine.New(workengine.Config{Name: "ingest"})
	_ = engine.Start()
	defer engine.Dispose()

	// Scheduled: returns once the work is queued.
	item, _ := engine.SubmitAsync(work)

	// Started: returns once a worker begins running the work.
	latency, err := engine.SubmitAndAwaitStart(ctx, work)

	// Synchronous: returns the work's own error.
	err = engine.SubmitAndAwaitDone(ctx, work)

Scheduler:

	sched, _ := scheduler.New(scheduler.Config{Submitter: engine})
	_ = sched.ScheduleRepeating("heartbeat", work, time.Minute)
	_ = sched.ScheduleCron("nightly", "0 0 2 * * *", work)
	_ = sched.Start()
	defer func() { <-sched.Stop() }()

Expiry Monitor:

	monitor := expiry.New(expiry.Config{Interval: 100 * time.Millisecond})
	_ = monitor.Start()
	h, _ := monitor.RegisterFunc(time.Second, onTimeout)
	monitor.Remove(h)

All components are safe for concurrent use.
*/
package scheduling
