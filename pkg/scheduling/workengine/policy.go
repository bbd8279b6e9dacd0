package workengine

import "context"

// Policy decides how a submitter relates to the dispatch of its work.
// The set of policies is closed: Scheduled, Started and Synchronous.
type Policy interface {
	String() string

	// await blocks the submitter as the policy requires and returns the
	// outcome the submitter should see.
	await(ctx context.Context, item *WorkItem) error
}

var (
	// Scheduled returns as soon as the pool has accepted the item.
	// Failures are only visible to the listener.
	Scheduled Policy = scheduledPolicy{}

	// Started blocks until a worker begins the item, or until the item
	// fails to start (start timeout or discard).
	Started Policy = startedPolicy{}

	// Synchronous blocks until the item has finished and returns its failure.
	Synchronous Policy = synchronousPolicy{}
)

type scheduledPolicy struct{}

func (scheduledPolicy) String() string { return "scheduled" }

func (scheduledPolicy) await(context.Context, *WorkItem) error { return nil }

type startedPolicy struct{}

func (startedPolicy) String() string { return "started" }

func (startedPolicy) await(ctx context.Context, item *WorkItem) error {
	if err := item.AwaitStart(ctx); err != nil {
		return err
	}
	if !item.IsStarted() {
		return item.Failure()
	}
	return nil
}

type synchronousPolicy struct{}

func (synchronousPolicy) String() string { return "synchronous" }

func (synchronousPolicy) await(ctx context.Context, item *WorkItem) error {
	if err := item.AwaitDone(ctx); err != nil {
		return err
	}
	return item.Failure()
}
