package workengine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	gfcontext "github.com/vnykmshr/gowork/pkg/common/context"
)

// IndefiniteTimeout disables the start timeout of a work item.
const IndefiniteTimeout time.Duration = -1

// Work is a caller-supplied unit of work. It is run at most once.
type Work interface {
	Run(ctx context.Context) error
}

// WorkFunc adapts a function to the Work interface.
type WorkFunc func(ctx context.Context) error

// Run implements Work.
func (f WorkFunc) Run(ctx context.Context) error {
	return f(ctx)
}

// Releaser may be implemented by Work that holds resources. Release is
// called when the engine drops the work without running it.
type Releaser interface {
	Release()
}

type itemState int

const (
	statePending itemState = iota
	stateRunning
	stateDone
	stateTimedOut
	stateDiscarded
)

// WorkItem wraps one submitted Work with its lifecycle state. It is handed
// to the pool as a workerpool.Task.
type WorkItem struct {
	id           uuid.UUID
	name         string
	work         Work
	policy       Policy
	startTimeout time.Duration
	priority     int
	execContext  any
	listener     Listener
	logger       *slog.Logger
	now          func() time.Time

	// onFinish runs once when the item reaches a terminal state.
	onFinish func(*WorkItem)

	retryCount  atomic.Int64
	startSignal *Signal
	doneSignal  *Signal

	mu         sync.Mutex
	state      itemState
	acceptedAt time.Time
	startedAt  time.Time
	doneAt     time.Time
	failure    error
	unwatch    func()
}

func newWorkItem(work Work, policy Policy, opts submitOptions, listener Listener, logger *slog.Logger, now func() time.Time) *WorkItem {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkItem{
		id:           uuid.New(),
		name:         opts.name,
		work:         work,
		policy:       policy,
		startTimeout: opts.startTimeout,
		priority:     opts.priority,
		execContext:  opts.execContext,
		listener:     listener,
		logger:       logger,
		now:          now,
		startSignal:  NewSignal(),
		doneSignal:   NewSignal(),
	}
}

// ID returns the identifier assigned at submission.
func (it *WorkItem) ID() uuid.UUID { return it.id }

// Name returns the optional label given with WithName.
func (it *WorkItem) Name() string { return it.name }

// Policy returns the policy the item was submitted under.
func (it *WorkItem) Policy() Policy { return it.policy }

// Priority returns the advisory priority propagated from the submitter.
func (it *WorkItem) Priority() int { return it.priority }

// StartTimeout returns the start timeout, or IndefiniteTimeout.
func (it *WorkItem) StartTimeout() time.Duration { return it.startTimeout }

// RetryCount returns how many timeout checks found the item still inside
// its start window. It is only a diagnostic.
func (it *WorkItem) RetryCount() int64 { return it.retryCount.Load() }

// AcceptedAt returns when the engine accepted the item.
func (it *WorkItem) AcceptedAt() time.Time {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.acceptedAt
}

// StartedAt returns when a worker began the item, or the zero time.
func (it *WorkItem) StartedAt() time.Time {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.startedAt
}

// DoneAt returns when the item reached a terminal state, or the zero time.
func (it *WorkItem) DoneAt() time.Time {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.doneAt
}

// Failure returns the recorded *WorkError, or nil.
func (it *WorkItem) Failure() error {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.failure
}

// IsStarted reports whether a worker began running the work.
func (it *WorkItem) IsStarted() bool {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.state == stateRunning || it.state == stateDone
}

// IsDone reports whether the item reached a terminal state.
func (it *WorkItem) IsDone() bool {
	return it.doneSignal.IsReleased()
}

// Abandoned is closed once the item can no longer start: it timed out or was
// discarded. It implements workerpool.Abandoner, so a submitter waiting for
// queue space stops waiting.
func (it *WorkItem) Abandoned() <-chan struct{} {
	return it.startSignal.Done()
}

// AwaitStart blocks until the item starts or fails to start.
func (it *WorkItem) AwaitStart(ctx context.Context) error {
	return it.startSignal.Await(ctx)
}

// AwaitDone blocks until the item reaches a terminal state.
func (it *WorkItem) AwaitDone(ctx context.Context) error {
	return it.doneSignal.Await(ctx)
}

// accept records the acceptance time and notifies the listener.
func (it *WorkItem) accept() {
	it.mu.Lock()
	it.acceptedAt = it.now()
	ev := it.eventLocked()
	it.mu.Unlock()

	it.notify(Listener.WorkAccepted, ev)
}

// IsTimedOut reports whether the item missed its start window. The first
// positive answer fails the item and releases both signals. While the item is
// still inside its window each call increments the retry count.
func (it *WorkItem) IsTimedOut() bool {
	it.mu.Lock()
	switch it.state {
	case stateTimedOut:
		it.mu.Unlock()
		return true
	case statePending:
	default:
		it.mu.Unlock()
		return false
	}

	if !it.expiredLocked() {
		it.mu.Unlock()
		if it.startTimeout > 0 {
			it.retryCount.Add(1)
		}
		return false
	}

	ev := it.timeOutLocked()
	it.mu.Unlock()

	it.reject(ev)
	return true
}

func (it *WorkItem) isPending() bool {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.state == statePending
}

func (it *WorkItem) expiredLocked() bool {
	if it.startTimeout <= 0 {
		return false
	}
	return it.now().Sub(it.acceptedAt) > it.startTimeout
}

func (it *WorkItem) timeOutLocked() Event {
	it.state = stateTimedOut
	it.doneAt = it.now()
	it.failure = &WorkError{Kind: KindStartTimeout, WorkID: it.id, Name: it.name, Err: ErrStartTimeout}
	return it.eventLocked()
}

// Execute runs the work on a pool worker. It implements workerpool.Task and
// never returns an error: failures are recorded on the item.
func (it *WorkItem) Execute(ctx context.Context) error {
	it.mu.Lock()
	if it.state == statePending && it.expiredLocked() {
		ev := it.timeOutLocked()
		it.mu.Unlock()
		it.reject(ev)
		return nil
	}
	if it.state != statePending {
		it.mu.Unlock()
		return nil
	}
	it.state = stateRunning
	it.startedAt = it.now()
	ev := it.eventLocked()
	it.mu.Unlock()

	it.settle()
	it.notify(Listener.WorkStarted, ev)
	it.startSignal.Release()

	err := it.run(ctx)

	it.mu.Lock()
	it.state = stateDone
	it.doneAt = it.now()
	if err != nil {
		it.failure = &WorkError{Kind: KindActionFailure, WorkID: it.id, Name: it.name, Err: err}
	}
	ev = it.eventLocked()
	it.mu.Unlock()

	if err != nil {
		it.notify(Listener.WorkRejected, ev)
	} else {
		it.notify(Listener.WorkCompleted, ev)
	}
	it.finish()
	it.doneSignal.Release()
	return nil
}

// run hands the captured execution context to the work through ctx and
// converts panics into errors.
func (it *WorkItem) run(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v\n%s", ErrWorkPanicked, r, debug.Stack())
		}
	}()

	if it.execContext != nil {
		ctx = gfcontext.WithAmbient(ctx, it.execContext)
	}
	ctx = ContextWithPriority(ctx, it.priority)
	ctx = context.WithValue(ctx, workIDKey{}, it.id)

	return it.work.Run(ctx)
}

// Release discards the item if it has not started. It implements
// workerpool.Releaser, so a pool that drops the item calls it.
func (it *WorkItem) Release() {
	it.mu.Lock()
	if it.state != statePending {
		it.mu.Unlock()
		return
	}
	it.state = stateDiscarded
	it.doneAt = it.now()
	it.failure = &WorkError{Kind: KindDiscarded, WorkID: it.id, Name: it.name, Err: ErrWorkDiscarded}
	ev := it.eventLocked()
	it.mu.Unlock()

	if r, ok := it.work.(Releaser); ok {
		it.releaseWork(r)
	}
	it.reject(ev)
}

func (it *WorkItem) releaseWork(r Releaser) {
	defer func() {
		if p := recover(); p != nil {
			it.logger.Error("work release hook panicked", "work_id", it.id, "panic", p)
		}
	}()
	r.Release()
}

// reject finishes an item that never ran.
func (it *WorkItem) reject(ev Event) {
	it.settle()
	it.notify(Listener.WorkRejected, ev)
	it.finish()
	it.startSignal.Release()
	it.doneSignal.Release()
}

// watch attaches a function that stops the start-timeout watch. If the item
// has already left the pending state the function runs immediately.
func (it *WorkItem) watch(unwatch func()) {
	it.mu.Lock()
	if it.state != statePending {
		it.mu.Unlock()
		unwatch()
		return
	}
	it.unwatch = unwatch
	it.mu.Unlock()
}

func (it *WorkItem) settle() {
	it.mu.Lock()
	unwatch := it.unwatch
	it.unwatch = nil
	it.mu.Unlock()

	if unwatch != nil {
		unwatch()
	}
}

func (it *WorkItem) finish() {
	if it.onFinish != nil {
		it.onFinish(it)
	}
}

func (it *WorkItem) eventLocked() Event {
	return Event{
		ID:         it.id,
		Name:       it.name,
		Policy:     it.policy,
		AcceptedAt: it.acceptedAt,
		StartedAt:  it.startedAt,
		DoneAt:     it.doneAt,
		Err:        it.failure,
	}
}

func (it *WorkItem) notify(fn func(Listener, Event), ev Event) {
	if it.listener == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			it.logger.Error("listener panicked", "work_id", it.id, "panic", r)
		}
	}()
	fn(it.listener, ev)
}
