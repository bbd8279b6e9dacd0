package workengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	gfcontext "github.com/vnykmshr/gowork/pkg/common/context"
	gferrors "github.com/vnykmshr/gowork/pkg/common/errors"
	"github.com/vnykmshr/gowork/pkg/common/validation"
	"github.com/vnykmshr/gowork/pkg/metrics"
	"github.com/vnykmshr/gowork/pkg/scheduling/expiry"
	"github.com/vnykmshr/gowork/pkg/scheduling/workerpool"
)

const (
	// DefaultGracefulShutdown is how long Dispose lets queued work drain.
	DefaultGracefulShutdown = 5 * time.Second

	// ForcefulShutdownTimeout bounds the wait after queued work has been
	// cancelled. It is not configurable.
	ForcefulShutdownTimeout = time.Second

	// DefaultTimeoutCheckInterval is how often start timeouts are checked.
	DefaultTimeoutCheckInterval = 10 * time.Millisecond

	defaultName = "workengine"
)

// Config holds engine configuration.
type Config struct {
	// Name labels the pool, logs and metrics (default: "workengine").
	Name string

	// Profile sizes the pool. A zero MaxWorkers takes the default profile's.
	Profile workerpool.Profile

	// Factory creates the pool on Start (default: workerpool.DefaultFactory()).
	Factory workerpool.Factory

	// GracefulShutdown is how long Dispose waits for queued work (default: 5s).
	GracefulShutdown time.Duration

	// StartTimeout applies to submissions without WithStartTimeout.
	// Zero means indefinite.
	StartTimeout time.Duration

	// Listener receives lifecycle events (default: a LoggingListener).
	Listener Listener

	// ContextProvider, when set, is read on the submitting goroutine. The
	// value reaches the work as context.Ambient(ctx).
	ContextProvider gfcontext.Provider

	// Logger is used for engine and default listener output (default: slog.Default()).
	Logger *slog.Logger

	// Metrics, when set, instruments the pool, the engine and the timeout monitor.
	Metrics *metrics.Registry

	// TimeoutCheckInterval is how often start timeouts are checked (default: 10ms).
	TimeoutCheckInterval time.Duration

	// Now overrides the time source.
	Now func() time.Time
}

// Engine runs Work on a bounded pool under one of three policies.
//
// The pool exists only between Start and Dispose. Submissions outside that
// window fail with errors.ErrNotStarted.
type Engine struct {
	name             string
	profile          workerpool.Profile
	factory          workerpool.Factory
	gracefulShutdown time.Duration
	forcefulShutdown time.Duration
	startTimeout     time.Duration
	provider         gfcontext.Provider
	logger           *slog.Logger
	metrics          *metrics.Registry
	metricsListener  Listener
	checkInterval    time.Duration
	now              func() time.Time
	tracker          *tracker

	listenerMu sync.RWMutex
	listener   Listener

	mu      sync.Mutex
	pool    workerpool.Pool
	monitor *expiry.Monitor
}

// New creates an engine. Call Start before submitting work.
func New(cfg Config) (*Engine, error) {
	if err := validation.ValidateNonNegativeDuration("workengine", "GracefulShutdown", cfg.GracefulShutdown); err != nil {
		return nil, err
	}
	if cfg.StartTimeout < 0 && cfg.StartTimeout != IndefiniteTimeout {
		return nil, gferrors.NewValidationError("workengine", "StartTimeout", cfg.StartTimeout, "cannot be negative").
			WithHint("use 0 or IndefiniteTimeout to disable")
	}

	name := cfg.Name
	if name == "" {
		name = defaultName
	}

	profile := cfg.Profile
	if profile.MaxWorkers == 0 {
		profile.MaxWorkers = workerpool.DefaultProfile().MaxWorkers
	}
	if err := profile.Validate(); err != nil {
		return nil, err
	}

	factory := cfg.Factory
	if factory == nil {
		factory = workerpool.DefaultFactory()
	}

	graceful := cfg.GracefulShutdown
	if graceful == 0 {
		graceful = DefaultGracefulShutdown
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("engine", name)

	listener := cfg.Listener
	if listener == nil {
		listener = NewLoggingListener(logger)
	}

	checkInterval := cfg.TimeoutCheckInterval
	if checkInterval <= 0 {
		checkInterval = DefaultTimeoutCheckInterval
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	e := &Engine{
		name:             name,
		profile:          profile,
		factory:          factory,
		gracefulShutdown: graceful,
		forcefulShutdown: ForcefulShutdownTimeout,
		startTimeout:     cfg.StartTimeout,
		provider:         cfg.ContextProvider,
		logger:           logger,
		metrics:          cfg.Metrics,
		checkInterval:    checkInterval,
		now:              now,
		tracker:          newTracker(),
		listener:         listener,
	}

	if cfg.Metrics != nil {
		e.factory = workerpool.MetricsFactory(factory, cfg.Metrics)
		e.metricsListener = NewMetricsListener(name, cfg.Metrics)
	}

	return e, nil
}

// Name returns the engine name.
func (e *Engine) Name() string {
	return e.name
}

// Start creates the pool and the start-timeout monitor. Calling Start on a
// started engine does nothing.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pool != nil {
		return nil
	}

	pool, err := e.factory.CreatePool(e.name, e.profile)
	if err != nil {
		return gferrors.NewOperationError("workengine", "Start", err).WithContext(e.name)
	}

	monitor := expiry.New(expiry.Config{
		Name:     e.name,
		Interval: e.checkInterval,
		Logger:   e.logger,
		Metrics:  e.metrics,
		Now:      e.now,
	})
	if err := monitor.Start(); err != nil {
		pool.ShutdownNow()
		return gferrors.NewOperationError("workengine", "Start", err).WithContext(e.name)
	}

	e.pool = pool
	e.monitor = monitor

	e.logger.Debug("work engine started",
		"workers", e.profile.MaxWorkers,
		"queue_size", e.profile.QueueSize,
		"exhausted_action", e.profile.ExhaustedAction)
	return nil
}

// IsStarted reports whether the engine accepts work.
func (e *Engine) IsStarted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pool != nil
}

// SetListener replaces the engine listener. A nil listener restores the
// default LoggingListener. Items already submitted keep the listener they
// were submitted with.
func (e *Engine) SetListener(l Listener) {
	if l == nil {
		l = NewLoggingListener(e.logger)
	}
	e.listenerMu.Lock()
	e.listener = l
	e.listenerMu.Unlock()
}

// InFlight returns the number of accepted items that have not finished.
func (e *Engine) InFlight() int {
	return e.tracker.len()
}

// Pending returns a snapshot of the accepted items that have not finished,
// oldest first.
func (e *Engine) Pending() []WorkInfo {
	return e.tracker.snapshot()
}

func (e *Engine) snapshot() (workerpool.Pool, *expiry.Monitor) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pool, e.monitor
}

func (e *Engine) notStarted(op string) error {
	return fmt.Errorf("workengine %q: cannot %s: %w", e.name, op, gferrors.ErrNotStarted)
}

// Execute hands a bare task to the pool, bypassing work items.
func (e *Engine) Execute(task workerpool.Task) error {
	pool, _ := e.snapshot()
	if pool == nil {
		return e.notStarted("execute task")
	}
	if err := pool.Execute(task); err != nil {
		return e.poolError("execute task", err)
	}
	return nil
}

// poolError maps a pool refusal. A pool closed under us means the engine was
// disposed mid-call.
func (e *Engine) poolError(op string, err error) error {
	if errors.Is(err, gferrors.ErrClosed) {
		return fmt.Errorf("workengine %q: cannot %s: %w: %w", e.name, op, gferrors.ErrNotStarted, err)
	}
	return fmt.Errorf("workengine %q: cannot %s: %w", e.name, op, err)
}

// SubmitAsync submits work under the Scheduled policy.
func (e *Engine) SubmitAsync(work Work, opts ...SubmitOption) (*WorkItem, error) {
	return e.Submit(context.Background(), Scheduled, work, opts...)
}

// SubmitAndAwaitStart submits work under the Started policy and returns the
// time the item spent between acceptance and start.
func (e *Engine) SubmitAndAwaitStart(ctx context.Context, work Work, opts ...SubmitOption) (time.Duration, error) {
	item, err := e.Submit(ctx, Started, work, opts...)
	if err != nil {
		return 0, err
	}
	return item.StartedAt().Sub(item.AcceptedAt()), nil
}

// SubmitAndAwaitDone submits work under the Synchronous policy and returns
// its failure, if any. Canceling ctx stops the wait, not the work.
func (e *Engine) SubmitAndAwaitDone(ctx context.Context, work Work, opts ...SubmitOption) error {
	_, err := e.Submit(ctx, Synchronous, work, opts...)
	return err
}

// Submit wraps work in a WorkItem, hands it to the pool and then waits as
// policy requires. ctx only bounds that wait; it does not reach the work.
//
// The returned item is nil when the submission itself failed.
func (e *Engine) Submit(ctx context.Context, policy Policy, work Work, opts ...SubmitOption) (*WorkItem, error) {
	if work == nil {
		return nil, validation.ValidateNotNil("workengine", "work", nil)
	}
	if policy == nil {
		policy = Scheduled
	}
	if ctx == nil {
		ctx = context.Background()
	}

	pool, monitor := e.snapshot()
	if pool == nil {
		return nil, e.notStarted("submit work")
	}

	o := e.options(ctx, opts)
	item := e.newItem(work, policy, o)

	item.accept()
	e.tracker.add(item)

	if item.startTimeout > 0 {
		e.watchStart(monitor, item, item.startTimeout)
	}

	if err := pool.Execute(item); err != nil {
		// An item that timed out while the pool was full already carries its
		// failure; the policy reports it like any other.
		if !errors.Is(err, workerpool.ErrAbandoned) {
			item.Release()
			return nil, e.poolError("submit work", err)
		}
	}

	if err := policy.await(ctx, item); err != nil {
		return item, err
	}
	return item, nil
}

func (e *Engine) options(ctx context.Context, opts []SubmitOption) submitOptions {
	o := submitOptions{startTimeout: e.startTimeout}
	if p, ok := PriorityFrom(ctx); ok {
		o.priority = p
	}
	for _, opt := range opts {
		opt(&o)
	}
	if !o.hasExecContext {
		o.execContext = gfcontext.Capture(e.provider)
	}
	return o
}

func (e *Engine) newItem(work Work, policy Policy, o submitOptions) *WorkItem {
	e.listenerMu.RLock()
	listener := combineListeners(e.listener, e.metricsListener, o.listener)
	e.listenerMu.RUnlock()

	item := newWorkItem(work, policy, o, listener, e.logger, e.now)
	item.onFinish = e.tracker.remove
	return item
}

// watchStart arms a start-timeout check on monitor. When the monitor fires
// inside the clock resolution of the deadline the check is re-armed for one
// interval.
func (e *Engine) watchStart(monitor *expiry.Monitor, item *WorkItem, d time.Duration) {
	h, err := monitor.RegisterFunc(d, func() {
		if item.IsTimedOut() || !item.isPending() {
			return
		}
		e.watchStart(monitor, item, e.checkInterval)
	})
	if err != nil {
		e.logger.Error("cannot watch start timeout", "work_id", item.id, "error", err)
		return
	}
	item.watch(func() { monitor.Remove(h) })
}

// Dispose shuts the engine down. See DisposeContext.
func (e *Engine) Dispose() {
	_ = e.DisposeContext(context.Background())
}

// DisposeContext stops accepting work and shuts the pool down in two phases.
// Queued work gets the graceful shutdown window to drain. What is still
// queued after that is cancelled and the pool gets ForcefulShutdownTimeout
// to terminate. If ctx ends first, queued work is cancelled at once and the
// ctx error is returned.
//
// Disposing a stopped engine does nothing.
func (e *Engine) DisposeContext(ctx context.Context) error {
	e.mu.Lock()
	pool, monitor := e.pool, e.monitor
	e.pool, e.monitor = nil, nil
	e.mu.Unlock()

	if pool == nil {
		return nil
	}
	defer func() { <-monitor.Stop() }()

	pool.Shutdown()
	terminated, err := awaitTermination(ctx, pool, e.gracefulShutdown)
	if terminated {
		e.logger.Debug("work engine disposed")
		return nil
	}

	cancelled := e.cancelQueued(pool)
	if err != nil {
		return fmt.Errorf("workengine %q: dispose: %w: %w", e.name, gferrors.ErrInterrupted, err)
	}

	e.logger.Warn(fmt.Sprintf("%s cancelled after graceful shutdown timeout", describeCount(cancelled)),
		"cancelled", cancelled,
		"graceful_shutdown", e.gracefulShutdown)

	terminated, err = awaitTermination(ctx, pool, e.forcefulShutdown)
	if err != nil {
		return fmt.Errorf("workengine %q: dispose: %w: %w", e.name, gferrors.ErrInterrupted, err)
	}
	if !terminated {
		e.logger.Warn("pool did not terminate after forceful shutdown",
			"forceful_shutdown", e.forcefulShutdown,
			"active_workers", pool.ActiveWorkers())
	}
	return nil
}

// cancelQueued drops everything still queued and releases it.
func (e *Engine) cancelQueued(pool workerpool.Pool) int {
	dropped := pool.ShutdownNow()
	for _, task := range dropped {
		if r, ok := task.(workerpool.Releaser); ok {
			r.Release()
		}
	}
	if e.metrics != nil && len(dropped) > 0 {
		e.metrics.ShutdownCancelled.WithLabelValues(e.name).Add(float64(len(dropped)))
	}
	return len(dropped)
}

// awaitTermination waits for pool to terminate, for d to elapse or for ctx
// to end, whichever comes first.
func awaitTermination(ctx context.Context, pool workerpool.Pool, d time.Duration) (bool, error) {
	if ctx.Done() == nil {
		return pool.AwaitTermination(d), nil
	}
	if err := ctx.Err(); err != nil {
		return pool.IsTerminated(), err
	}

	result := make(chan bool, 1)
	go func() {
		result <- pool.AwaitTermination(d)
	}()

	select {
	case ok := <-result:
		return ok, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func describeCount(n int) string {
	switch n {
	case 0:
		return "No work items"
	case 1:
		return "1 work item"
	default:
		return fmt.Sprintf("%d work items", n)
	}
}
