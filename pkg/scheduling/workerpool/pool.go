package workerpool

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	gferrors "github.com/vnykmshr/gowork/pkg/common/errors"
	"github.com/vnykmshr/gowork/pkg/common/validation"
)

// Task represents a unit of work that can be executed by a worker.
type Task interface {
	// Execute runs the task with the given context.
	// The context is canceled when the pool is shut down forcefully.
	Execute(ctx context.Context) error
}

// TaskFunc is a function type that implements the Task interface.
type TaskFunc func(ctx context.Context) error

// Execute implements the Task interface for TaskFunc.
func (f TaskFunc) Execute(ctx context.Context) error {
	return f(ctx)
}

// Releaser is implemented by tasks that want to be told when the pool drops
// them without running them.
type Releaser interface {
	Release()
}

// Abandoner is implemented by tasks that may stop wanting to run while
// Execute is still waiting for queue space. Once Abandoned is closed a
// waiting Execute gives up and returns ErrAbandoned without queueing.
type Abandoner interface {
	Abandoned() <-chan struct{}
}

// ErrAbandoned is returned by Execute when the task was abandoned while the
// submitter waited for space.
var ErrAbandoned = errors.New("task abandoned before it was queued")

// Result represents the result of a task execution.
type Result struct {
	// Task is the original task that was executed
	Task Task

	// Error is any error that occurred during task execution
	Error error

	// Duration is how long the task took to execute
	Duration time.Duration

	// WorkerID identifies which worker executed the task.
	// It is -1 when the task ran on the submitting goroutine.
	WorkerID int
}

// ExhaustedAction selects what Execute does when the queue is full.
type ExhaustedAction int

const (
	// ExhaustedWait blocks the submitter until space frees up, the pool shuts
	// down, or Profile.WaitTimeout elapses.
	ExhaustedWait ExhaustedAction = iota

	// ExhaustedAbort fails the submission with ErrCapacityExceeded.
	ExhaustedAbort

	// ExhaustedDiscard drops the task and calls its Release method, if any.
	ExhaustedDiscard

	// ExhaustedRun executes the task on the submitting goroutine.
	ExhaustedRun
)

var exhaustedActionNames = map[ExhaustedAction]string{
	ExhaustedWait:    "WAIT",
	ExhaustedAbort:   "ABORT",
	ExhaustedDiscard: "DISCARD",
	ExhaustedRun:     "RUN",
}

func (a ExhaustedAction) String() string {
	if name, ok := exhaustedActionNames[a]; ok {
		return name
	}
	return fmt.Sprintf("ExhaustedAction(%d)", int(a))
}

// ParseExhaustedAction parses WAIT, ABORT, DISCARD or RUN (case-insensitive).
func ParseExhaustedAction(s string) (ExhaustedAction, error) {
	for action, name := range exhaustedActionNames {
		if strings.EqualFold(s, name) {
			return action, nil
		}
	}
	return ExhaustedWait, gferrors.NewValidationError("workerpool", "ExhaustedAction", s, "unknown action").
		WithHint("use one of WAIT, ABORT, DISCARD, RUN")
}

// Pool is a bounded set of worker goroutines fed from a task queue.
type Pool interface {
	// Execute hands a task to the pool. What happens when the queue is full
	// depends on the profile's ExhaustedAction. Returns an error wrapping
	// ErrClosed once the pool has been shut down.
	Execute(task Task) error

	// Shutdown stops accepting tasks and lets queued tasks drain.
	// It does not wait; use AwaitTermination.
	Shutdown()

	// ShutdownNow stops accepting tasks, cancels the context of running tasks
	// and returns the tasks that were still queued. Returned tasks are not
	// released; that is left to the caller.
	ShutdownNow() []Task

	// AwaitTermination blocks until every worker has exited after a shutdown
	// or the timeout elapses. It reports whether the pool terminated.
	AwaitTermination(timeout time.Duration) bool

	// IsShutdown reports whether Shutdown or ShutdownNow has been called.
	IsShutdown() bool

	// IsTerminated reports whether all workers have exited after shutdown.
	IsTerminated() bool

	// Name returns the name the pool was created with.
	Name() string

	// Size returns the number of workers in the pool.
	Size() int

	// QueueSize returns the current number of queued tasks waiting for execution.
	QueueSize() int

	// ActiveWorkers returns the number of workers currently executing tasks.
	ActiveWorkers() int

	// TotalSubmitted returns the total number of tasks accepted by the pool.
	TotalSubmitted() int64

	// TotalCompleted returns the total number of tasks that finished executing.
	TotalCompleted() int64
}

// Profile holds the sizing and behaviour of a pool.
type Profile struct {
	// MaxWorkers is the number of workers in the pool.
	// Must be greater than 0.
	MaxWorkers int

	// QueueSize is the maximum number of tasks that can be queued.
	// Zero means direct hand-off: a task is accepted only when a worker is idle.
	QueueSize int

	// ExhaustedAction decides what happens when the queue is full.
	ExhaustedAction ExhaustedAction

	// WaitTimeout bounds how long ExhaustedWait blocks. Zero waits until
	// space frees up or the pool shuts down.
	WaitTimeout time.Duration

	// PanicHandler is called when a task panics.
	// If nil, panics are recovered and reported as errors in the Result.
	PanicHandler func(task Task, recovered interface{})

	// OnWorkerStart is called when a worker starts.
	OnWorkerStart func(workerID int)

	// OnWorkerStop is called when a worker stops.
	OnWorkerStop func(workerID int)

	// OnTaskStart is called before a task begins execution.
	OnTaskStart func(workerID int, task Task)

	// OnTaskComplete is called after a task completes (success or failure).
	OnTaskComplete func(workerID int, result Result)

	// OnTaskRejected is called when the pool refuses or discards a task.
	OnTaskRejected func(task Task, reason error)
}

// DefaultProfile returns the profile used when none is configured.
func DefaultProfile() Profile {
	return Profile{
		MaxWorkers:      16,
		QueueSize:       1000,
		ExhaustedAction: ExhaustedWait,
	}
}

// Validate checks the sizing fields of the profile.
func (p Profile) Validate() error {
	if err := validation.ValidatePositive("workerpool", "MaxWorkers", p.MaxWorkers); err != nil {
		return err
	}
	if err := validation.ValidateNonNegative("workerpool", "QueueSize", p.QueueSize); err != nil {
		return err
	}
	if err := validation.ValidateNonNegativeDuration("workerpool", "WaitTimeout", p.WaitTimeout); err != nil {
		return err
	}
	if _, ok := exhaustedActionNames[p.ExhaustedAction]; !ok {
		return gferrors.NewValidationError("workerpool", "ExhaustedAction", p.ExhaustedAction, "unknown action")
	}
	return nil
}

// Factory creates pools from a name and a profile.
type Factory interface {
	CreatePool(name string, profile Profile) (Pool, error)
}

// FactoryFunc adapts a function to the Factory interface.
type FactoryFunc func(name string, profile Profile) (Pool, error)

// CreatePool implements Factory.
func (f FactoryFunc) CreatePool(name string, profile Profile) (Pool, error) {
	return f(name, profile)
}

// DefaultFactory returns a Factory backed by New.
func DefaultFactory() Factory {
	return FactoryFunc(New)
}

// workerPool implements the Pool interface.
type workerPool struct {
	name    string
	profile Profile

	queue chan Task

	// ctx is handed to every task and canceled by ShutdownNow.
	ctx    context.Context
	cancel context.CancelFunc

	shutdownCh   chan struct{} // closed by Shutdown
	drainCh      chan struct{} // closed once no submitter can still enqueue
	killCh       chan struct{} // closed by ShutdownNow
	terminated   chan struct{} // closed when every worker has exited
	shutdownOnce sync.Once
	killOnce     sync.Once

	mu         sync.RWMutex
	isShutdown bool

	submitWg sync.WaitGroup
	workerWg sync.WaitGroup

	activeWorkers  int64
	totalSubmitted int64
	totalCompleted int64
}

// New creates a pool and starts its workers.
func New(name string, profile Profile) (Pool, error) {
	if err := profile.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	pool := &workerPool{
		name:       name,
		profile:    profile,
		queue:      make(chan Task, profile.QueueSize),
		ctx:        ctx,
		cancel:     cancel,
		shutdownCh: make(chan struct{}),
		drainCh:    make(chan struct{}),
		killCh:     make(chan struct{}),
		terminated: make(chan struct{}),
	}

	pool.workerWg.Add(profile.MaxWorkers)
	for i := 0; i < profile.MaxWorkers; i++ {
		go pool.worker(i)
	}

	return pool, nil
}
