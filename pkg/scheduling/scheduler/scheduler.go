package scheduler

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	gferrors "github.com/vnykmshr/gowork/pkg/common/errors"
	"github.com/vnykmshr/gowork/pkg/common/validation"
	"github.com/vnykmshr/gowork/pkg/metrics"
	"github.com/vnykmshr/gowork/pkg/scheduling/workengine"
)

const (
	// DefaultTickInterval is how often the scheduler looks for due entries.
	DefaultTickInterval = 50 * time.Millisecond

	// DefaultMaxEntries caps the number of scheduled entries.
	DefaultMaxEntries = 10000

	maxIDLength = 255
	defaultName = "scheduler"
)

// Submitter accepts work for asynchronous execution. *workengine.Engine
// satisfies it.
type Submitter interface {
	SubmitAsync(work workengine.Work, opts ...workengine.SubmitOption) (*workengine.WorkItem, error)
}

// Entry describes a scheduled entry.
type Entry struct {
	ID       string
	RunAt    time.Time
	Interval time.Duration // zero for one-shot and cron entries
	CronExpr string
	Created  time.Time
	Runs     int
}

// Config holds scheduler configuration.
type Config struct {
	// Name labels logs and metrics (default: "scheduler").
	Name string

	// Submitter receives due work. Required.
	Submitter Submitter

	// Location is used to evaluate cron expressions (default: time.Local).
	Location *time.Location

	// TickInterval is how often due entries are dispatched (default: 50ms).
	TickInterval time.Duration

	// MaxEntries caps the number of scheduled entries (default: 10000).
	MaxEntries int

	// Options are applied to every dispatched submission, after the entry name.
	Options []workengine.SubmitOption

	Logger  *slog.Logger
	Metrics *metrics.Registry
	Now     func() time.Time
}

type entry struct {
	id       string
	work     workengine.Work
	runAt    time.Time
	interval time.Duration
	cronExpr string
	schedule cron.Schedule
	maxRuns  int
	runs     int
	created  time.Time
}

// Scheduler dispatches work into a Submitter at fixed times, at fixed
// intervals or on cron schedules. A rejected dispatch is logged and counted;
// it is not retried.
type Scheduler struct {
	name         string
	submitter    Submitter
	location     *time.Location
	tickInterval time.Duration
	maxEntries   int
	options      []workengine.SubmitOption
	logger       *slog.Logger
	metrics      *metrics.Registry
	now          func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
	done    chan struct{}
	stopped chan struct{}
}

// New creates a scheduler. Call Start to begin dispatching.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Submitter == nil {
		return nil, gferrors.NewValidationError("scheduler", "Submitter", nil, "cannot be nil").
			WithHint("pass a started *workengine.Engine")
	}
	if err := validation.ValidateNonNegativeDuration("scheduler", "TickInterval", cfg.TickInterval); err != nil {
		return nil, err
	}

	s := &Scheduler{
		name:         cfg.Name,
		submitter:    cfg.Submitter,
		location:     cfg.Location,
		tickInterval: cfg.TickInterval,
		maxEntries:   cfg.MaxEntries,
		options:      cfg.Options,
		logger:       cfg.Logger,
		metrics:      cfg.Metrics,
		now:          cfg.Now,
		entries:      make(map[string]*entry),
	}
	if s.name == "" {
		s.name = defaultName
	}
	if s.location == nil {
		s.location = time.Local
	}
	if s.tickInterval == 0 {
		s.tickInterval = DefaultTickInterval
	}
	if s.maxEntries <= 0 {
		s.maxEntries = DefaultMaxEntries
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("scheduler", s.name)
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// Schedule runs work once at runAt. A runAt in the past runs on the next tick.
func (s *Scheduler) Schedule(id string, work workengine.Work, runAt time.Time) error {
	if runAt.IsZero() {
		return gferrors.NewValidationError("scheduler", "runAt", runAt, "cannot be zero")
	}
	return s.add(id, work, &entry{runAt: runAt})
}

// ScheduleAfter runs work once after delay.
func (s *Scheduler) ScheduleAfter(id string, work workengine.Work, delay time.Duration) error {
	return s.Schedule(id, work, s.now().Add(delay))
}

// ScheduleRepeating runs work now and then every interval until cancelled.
func (s *Scheduler) ScheduleRepeating(id string, work workengine.Work, interval time.Duration) error {
	if err := validation.ValidatePositiveDuration("scheduler", "interval", interval); err != nil {
		return err
	}
	return s.add(id, work, &entry{runAt: s.now(), interval: interval})
}

// ScheduleCron runs work on a cron schedule. See ScheduleCronWithOptions.
func (s *Scheduler) ScheduleCron(id string, cronExpr string, work workengine.Work) error {
	return s.ScheduleCronWithOptions(id, cronExpr, work, CronOptions{})
}

// ScheduleCronWithOptions runs work on a cron schedule. The expression has a
// leading seconds field; descriptors such as "@hourly" are accepted.
func (s *Scheduler) ScheduleCronWithOptions(id string, cronExpr string, work workengine.Work, opts CronOptions) error {
	if opts.MaxRuns < 0 {
		return gferrors.NewValidationError("scheduler", "MaxRuns", opts.MaxRuns, "cannot be negative")
	}
	schedule, err := ParseCron(cronExpr)
	if err != nil {
		return err
	}
	loc := opts.Location
	if loc == nil {
		loc = s.location
	}
	return s.add(id, work, &entry{
		runAt:    schedule.Next(s.now().In(loc)),
		cronExpr: cronExpr,
		schedule: inLocation{schedule, loc},
		maxRuns:  opts.MaxRuns,
	})
}

func (s *Scheduler) add(id string, work workengine.Work, e *entry) error {
	if id == "" {
		return gferrors.NewValidationError("scheduler", "id", id, "cannot be empty")
	}
	if len(id) > maxIDLength {
		return gferrors.NewValidationError("scheduler", "id", len(id),
			fmt.Sprintf("too long (max %d characters)", maxIDLength))
	}
	if work == nil {
		return gferrors.NewValidationError("scheduler", "work", nil, "cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[id]; exists {
		return fmt.Errorf("entry %q already exists, cancel it first", id)
	}
	if len(s.entries) >= s.maxEntries {
		return fmt.Errorf("cannot schedule %q: %d entries scheduled: %w", id, s.maxEntries, gferrors.ErrCapacityExceeded)
	}

	e.id = id
	e.work = work
	e.created = s.now()
	s.entries[id] = e
	return nil
}

// Cancel removes an entry. It reports whether the entry existed.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[id]; exists {
		delete(s.entries, id)
		return true
	}
	return false
}

// CancelAll removes every entry.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*entry)
}

// List returns the scheduled entries ordered by next run time.
func (s *Scheduler) List() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RunAt.Equal(out[j].RunAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].RunAt.Before(out[j].RunAt)
	})
	return out
}

// Get returns the entry with the given id.
func (s *Scheduler) Get(id string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return Entry{}, false
	}
	return e.snapshot(), true
}

func (e *entry) snapshot() Entry {
	return Entry{
		ID:       e.id,
		RunAt:    e.runAt,
		Interval: e.interval,
		CronExpr: e.cronExpr,
		Created:  e.created,
		Runs:     e.runs,
	}
}

// Start begins dispatching due entries every tick.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done != nil {
		return fmt.Errorf("scheduler %q already running, call Stop first", s.name)
	}

	s.done = make(chan struct{})
	s.stopped = make(chan struct{})
	go s.run(s.done, s.stopped)
	return nil
}

// Stop stops dispatching. The returned channel closes once the dispatch loop
// has exited. Entries are kept, so a later Start resumes them.
func (s *Scheduler) Stop() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}

	stopped := s.stopped
	close(s.done)
	s.done, s.stopped = nil, nil
	return stopped
}

func (s *Scheduler) run(done, stopped chan struct{}) {
	defer close(stopped)

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			s.RunDue()
		}
	}
}

// RunDue dispatches every entry whose run time has come and returns how many
// were dispatched. The dispatch loop calls it on each tick.
func (s *Scheduler) RunDue() int {
	now := s.now()

	s.mu.Lock()
	due := make([]*entry, 0, len(s.entries))
	for id, e := range s.entries {
		if now.Before(e.runAt) {
			continue
		}
		due = append(due, e)
		e.runs++

		switch {
		case e.interval > 0:
			e.runAt = now.Add(e.interval)
		case e.schedule != nil && (e.maxRuns == 0 || e.runs < e.maxRuns):
			e.runAt = e.schedule.Next(now)
		default:
			delete(s.entries, id)
		}
	}
	s.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].id < due[j].id })

	dispatched := 0
	for _, e := range due {
		if s.dispatch(e) {
			dispatched++
		}
	}
	return dispatched
}

func (s *Scheduler) dispatch(e *entry) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduled dispatch panicked", "entry", e.id, "panic", r, "stack", string(debug.Stack()))
			s.count(false)
			ok = false
		}
	}()

	opts := make([]workengine.SubmitOption, 0, len(s.options)+1)
	opts = append(opts, workengine.WithName(e.id))
	opts = append(opts, s.options...)

	if _, err := s.submitter.SubmitAsync(e.work, opts...); err != nil {
		s.logger.Warn("scheduled dispatch rejected", "entry", e.id, "error", err)
		s.count(false)
		return false
	}
	s.count(true)
	return true
}

func (s *Scheduler) count(ok bool) {
	if s.metrics == nil {
		return
	}
	if ok {
		s.metrics.SchedulerDispatched.WithLabelValues(s.name).Inc()
	} else {
		s.metrics.SchedulerFailed.WithLabelValues(s.name).Inc()
	}
}
