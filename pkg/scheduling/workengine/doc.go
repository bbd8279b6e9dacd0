/*
Package workengine runs caller-supplied Work on a bounded worker pool and
tracks each submission through its lifecycle.

Every submission is wrapped in a WorkItem and dispatched under a Policy:

  - Scheduled: return once the pool has the item (SubmitAsync)
  - Started: block until a worker begins the item (SubmitAndAwaitStart)
  - Synchronous: block until the item finishes (SubmitAndAwaitDone)

Basic usage:

	engine, err := workengine.New(workengine.Config{
		Name:    "ingest",
		Profile: workerpool.Profile{MaxWorkers: 8, QueueSize: 100},
	})
	if err != nil {
		return err
	}
	if err := engine.Start(); err != nil {
		return err
	}
	defer engine.Dispose()

	err = engine.SubmitAndAwaitDone(ctx, workengine.WorkFunc(func(ctx context.Context) error {
		return process(ctx)
	}), workengine.WithStartTimeout(time.Second))

Start Timeouts:

An item given a start timeout that no worker picks up in time fails with a
*WorkError of KindStartTimeout and never runs. Waiters are released; a
Scheduled submitter only learns about it through the listener.

Listeners:

A Listener sees WorkAccepted, WorkStarted, and then WorkCompleted or
WorkRejected for each item. The default LoggingListener logs rejections only.
MetricsListener, MultiListener and ListenerFuncs are provided.

Execution Context:

When Config.ContextProvider is set, its current value is captured on the
submitting goroutine and applied on the worker for the duration of the work,
then restored, panics included. The value is also available to the work
through the context package's Ambient helper.

Shutdown:

Dispose stops accepting work, lets the queue drain for GracefulShutdown,
then cancels whatever is still queued and waits at most
ForcefulShutdownTimeout. Cancelled items fail with KindDiscarded and their
Work's Release hook is called. Running work is never abandoned mid-flight;
its context is canceled as a hint.
*/
package workengine
