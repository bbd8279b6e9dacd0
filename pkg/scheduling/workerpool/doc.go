/*
Package workerpool provides the bounded worker pools that execute work for the
work engine.

A pool owns a fixed number of worker goroutines fed from a bounded queue. Pools
are created through a Factory so that callers, the engine included, can swap in
an instrumented or custom implementation.

Basic usage:

	pool, err := workerpool.New("ingest", workerpool.Profile{
		MaxWorkers: 4,
		QueueSize:  100,
	})
	if err != nil {
		return err
	}
	defer pool.Shutdown()

	err = pool.Execute(workerpool.TaskFunc(func(ctx context.Context) error {
		// Do work
		return nil
	}))

Exhausted Actions:

When the queue is full, Execute behaves according to Profile.ExhaustedAction:

  - ExhaustedWait blocks the submitter until a slot frees up, the pool shuts
    down, or WaitTimeout elapses
  - ExhaustedAbort returns an error wrapping errors.ErrCapacityExceeded
  - ExhaustedDiscard drops the task and calls Release on it if it implements Releaser
  - ExhaustedRun executes the task on the submitting goroutine

A QueueSize of zero gives direct hand-off: a task is only accepted by the
queue when a worker is idle.

Shutdown:

Shutdown stops accepting tasks and lets the queue drain. ShutdownNow also
cancels the context passed to running tasks and returns the tasks that were
still queued, without releasing them. AwaitTermination waits for the workers
to exit:

	pool.Shutdown()
	if !pool.AwaitTermination(5 * time.Second) {
		dropped := pool.ShutdownNow()
		log.Printf("%d tasks never ran", len(dropped))
	}

A task that was already running when ShutdownNow was called keeps running
with a canceled context. A worker that dequeues a task after ShutdownNow
releases it and reports it to OnTaskRejected instead of running it.

Lifecycle Callbacks:

Profile carries hooks for worker start and stop, task start and completion,
and rejection. Panics inside tasks are recovered; PanicHandler, if set, sees
the recovered value and the Result carries the error with a stack trace.

Metrics:

MetricsFactory wraps any Factory so that its pools report size, queue depth,
active workers, executed and rejected task counts to a metrics.Registry:

	factory := workerpool.MetricsFactory(workerpool.DefaultFactory(), metrics.DefaultRegistry)
	pool, err := factory.CreatePool("ingest", workerpool.DefaultProfile())

Thread Safety:

All pool operations are safe for concurrent use from multiple goroutines.
*/
package workerpool
