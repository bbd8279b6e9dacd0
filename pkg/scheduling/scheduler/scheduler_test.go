package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/goleak"

	"github.com/vnykmshr/gowork/internal/testutil"
	gferrors "github.com/vnykmshr/gowork/pkg/common/errors"
	"github.com/vnykmshr/gowork/pkg/metrics"
	"github.com/vnykmshr/gowork/pkg/scheduling/workengine"
	"github.com/vnykmshr/gowork/pkg/scheduling/workerpool"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeSubmitter runs work inline.
type fakeSubmitter struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeSubmitter) SubmitAsync(work workengine.Work, opts ...workengine.SubmitOption) (*workengine.WorkItem, error) {
	f.mu.Lock()
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	_ = work.Run(context.Background())
	return nil, nil
}

func (f *fakeSubmitter) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeSubmitter) fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func counter(n *int32) workengine.Work {
	return workengine.WorkFunc(func(context.Context) error {
		atomic.AddInt32(n, 1)
		return nil
	})
}

func manual(t *testing.T, sub Submitter, clock *testutil.MockClock) *Scheduler {
	t.Helper()
	s, err := New(Config{Submitter: sub, Now: clock.Now, Location: time.UTC})
	testutil.AssertNoError(t, err)
	return s
}

func TestNewValidation(t *testing.T) {
	_, err := New(Config{})
	testutil.AssertEqual(t, gferrors.IsValidationError(err), true)

	_, err = New(Config{Submitter: &fakeSubmitter{}, TickInterval: -time.Second})
	testutil.AssertEqual(t, gferrors.IsValidationError(err), true)
}

func TestScheduleOnce(t *testing.T) {
	clock := testutil.NewMockClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	sub := &fakeSubmitter{}
	s := manual(t, sub, clock)

	var runs int32
	testutil.AssertNoError(t, s.ScheduleAfter("once", counter(&runs), time.Second))

	testutil.AssertEqual(t, s.RunDue(), 0)
	clock.Advance(time.Second)
	testutil.AssertEqual(t, s.RunDue(), 1)
	testutil.AssertEqual(t, s.RunDue(), 0)

	testutil.AssertEqual(t, atomic.LoadInt32(&runs), int32(1))
	testutil.AssertEqual(t, len(s.List()), 0)
	testutil.AssertEqual(t, sub.Calls(), 1)
}

func TestScheduleRepeating(t *testing.T) {
	clock := testutil.NewMockClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	s := manual(t, &fakeSubmitter{}, clock)

	var runs int32
	testutil.AssertNoError(t, s.ScheduleRepeating("tick", counter(&runs), time.Minute))

	testutil.AssertEqual(t, s.RunDue(), 1)
	clock.Advance(30 * time.Second)
	testutil.AssertEqual(t, s.RunDue(), 0)
	clock.Advance(30 * time.Second)
	testutil.AssertEqual(t, s.RunDue(), 1)

	e, ok := s.Get("tick")
	testutil.AssertEqual(t, ok, true)
	testutil.AssertEqual(t, e.Runs, 2)
	testutil.AssertEqual(t, e.RunAt, clock.Now().Add(time.Minute))
	testutil.AssertEqual(t, atomic.LoadInt32(&runs), int32(2))
}

func TestScheduleCron(t *testing.T) {
	clock := testutil.NewMockClock(time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC))
	s := manual(t, &fakeSubmitter{}, clock)

	var runs int32
	testutil.AssertNoError(t, s.ScheduleCron("quarter", "0 */15 * * * *", counter(&runs)))

	next, ok := s.NextRun("quarter")
	testutil.AssertEqual(t, ok, true)
	testutil.AssertEqual(t, next, time.Date(2026, 1, 1, 10, 15, 0, 0, time.UTC))

	clock.Advance(15 * time.Minute)
	testutil.AssertEqual(t, s.RunDue(), 1)
	next, _ = s.NextRun("quarter")
	testutil.AssertEqual(t, next, time.Date(2026, 1, 1, 10, 30, 0, 0, time.UTC))

	testutil.AssertNoError(t, s.UpdateCron("quarter", "@hourly"))
	next, _ = s.NextRun("quarter")
	testutil.AssertEqual(t, next, time.Date(2026, 1, 1, 11, 0, 0, 0, time.UTC))

	testutil.AssertEqual(t, s.UpdateCron("missing", "@hourly") != nil, true)
	testutil.AssertEqual(t, gferrors.IsValidationError(s.UpdateCron("quarter", "not cron")), true)
}

func TestScheduleCronMaxRunsAndLocation(t *testing.T) {
	clock := testutil.NewMockClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	s := manual(t, &fakeSubmitter{}, clock)

	tokyo := time.FixedZone("JST", 9*60*60)
	var runs int32
	testutil.AssertNoError(t, s.ScheduleCronWithOptions("nine", "0 0 9 * * *", counter(&runs),
		CronOptions{MaxRuns: 2, Location: tokyo}))

	// 09:00 JST is 00:00 UTC the next day.
	next, _ := s.NextRun("nine")
	testutil.AssertEqual(t, next.Equal(time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)), true)

	for i := 0; i < 3; i++ {
		clock.Advance(24 * time.Hour)
		s.RunDue()
	}
	testutil.AssertEqual(t, atomic.LoadInt32(&runs), int32(2))
	_, ok := s.Get("nine")
	testutil.AssertEqual(t, ok, false)

	err := s.ScheduleCronWithOptions("bad", "@daily", counter(&runs), CronOptions{MaxRuns: -1})
	testutil.AssertEqual(t, gferrors.IsValidationError(err), true)
}

func TestEntryManagement(t *testing.T) {
	clock := testutil.NewMockClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	s := manual(t, &fakeSubmitter{}, clock)
	var runs int32

	testutil.AssertNoError(t, s.ScheduleAfter("b", counter(&runs), 2*time.Second))
	testutil.AssertNoError(t, s.ScheduleAfter("a", counter(&runs), time.Second))
	testutil.AssertNoError(t, s.ScheduleCron("c", "@hourly", counter(&runs)))

	list := s.List()
	testutil.AssertEqual(t, len(list), 3)
	testutil.AssertEqual(t, list[0].ID, "a")
	testutil.AssertEqual(t, list[1].ID, "b")
	testutil.AssertEqual(t, list[2].CronExpr, "@hourly")

	testutil.AssertEqual(t, s.Cancel("a"), true)
	testutil.AssertEqual(t, s.Cancel("a"), false)

	s.CancelAll()
	testutil.AssertEqual(t, len(s.List()), 0)

	clock.Advance(time.Hour)
	testutil.AssertEqual(t, s.RunDue(), 0)
}

func TestScheduleValidation(t *testing.T) {
	clock := testutil.NewMockClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	s, err := New(Config{Submitter: &fakeSubmitter{}, Now: clock.Now, MaxEntries: 1})
	testutil.AssertNoError(t, err)
	var runs int32

	testutil.AssertEqual(t, gferrors.IsValidationError(s.Schedule("", counter(&runs), clock.Now())), true)
	testutil.AssertEqual(t, gferrors.IsValidationError(s.Schedule(strings.Repeat("x", 256), counter(&runs), clock.Now())), true)
	testutil.AssertEqual(t, gferrors.IsValidationError(s.Schedule("nil", nil, clock.Now())), true)
	testutil.AssertEqual(t, gferrors.IsValidationError(s.Schedule("zero", counter(&runs), time.Time{})), true)
	testutil.AssertEqual(t, gferrors.IsValidationError(s.ScheduleRepeating("neg", counter(&runs), 0)), true)
	testutil.AssertEqual(t, gferrors.IsValidationError(s.ScheduleCron("cron", "", counter(&runs))), true)
	testutil.AssertEqual(t, gferrors.IsValidationError(s.ScheduleCron("cron", "* * *", counter(&runs))), true)

	testutil.AssertNoError(t, s.ScheduleAfter("one", counter(&runs), time.Second))
	testutil.AssertError(t, s.ScheduleAfter("one", counter(&runs), time.Second))

	err = s.ScheduleAfter("two", counter(&runs), time.Second)
	testutil.AssertEqual(t, errors.Is(err, gferrors.ErrCapacityExceeded), true)
}

func TestDispatchFailureIsLoggedAndCounted(t *testing.T) {
	clock := testutil.NewMockClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	out := testutil.NewMockWriter()
	registry := metrics.NewRegistry(prometheus.NewRegistry())
	sub := &fakeSubmitter{}
	s, err := New(Config{
		Name:      "nightly",
		Submitter: sub,
		Now:       clock.Now,
		Logger:    slog.New(slog.NewTextHandler(out, nil)),
		Metrics:   registry,
	})
	testutil.AssertNoError(t, err)

	var runs int32
	testutil.AssertNoError(t, s.ScheduleRepeating("sweep", counter(&runs), time.Second))
	testutil.AssertEqual(t, s.RunDue(), 1)

	sub.fail(gferrors.ErrNotStarted)
	clock.Advance(time.Second)
	testutil.AssertEqual(t, s.RunDue(), 0)

	// The entry stays scheduled.
	_, ok := s.Get("sweep")
	testutil.AssertEqual(t, ok, true)

	logged := out.String()
	testutil.AssertEqual(t, strings.Contains(logged, "scheduled dispatch rejected"), true)
	testutil.AssertEqual(t, strings.Contains(logged, "entry=sweep"), true)
	testutil.AssertEqual(t, strings.Contains(logged, "scheduler=nightly"), true)
	testutil.AssertEqual(t, promtest.ToFloat64(registry.SchedulerDispatched.WithLabelValues("nightly")), 1.0)
	testutil.AssertEqual(t, promtest.ToFloat64(registry.SchedulerFailed.WithLabelValues("nightly")), 1.0)
}

func TestStartStop(t *testing.T) {
	s, err := New(Config{Submitter: &fakeSubmitter{}, TickInterval: 5 * time.Millisecond})
	testutil.AssertNoError(t, err)

	testutil.WaitForChannel(t, s.Stop(), time.Second)

	testutil.AssertNoError(t, s.Start())
	testutil.AssertError(t, s.Start())

	var runs int32
	testutil.AssertNoError(t, s.ScheduleAfter("soon", counter(&runs), 10*time.Millisecond))
	testutil.WaitForInt32(t, &runs, 1, time.Second)

	testutil.WaitForChannel(t, s.Stop(), time.Second)
	testutil.WaitForChannel(t, s.Stop(), time.Second)

	// Entries survive a restart.
	testutil.AssertNoError(t, s.ScheduleAfter("later", counter(&runs), 10*time.Millisecond))
	testutil.AssertNoError(t, s.Start())
	defer func() { <-s.Stop() }()
	testutil.WaitForInt32(t, &runs, 2, time.Second)
}

func TestSchedulerDrivesEngine(t *testing.T) {
	engine, err := workengine.New(workengine.Config{
		Logger:  slog.New(slog.NewTextHandler(testutil.NewMockWriter(), nil)),
		Profile: workerpool.Profile{MaxWorkers: 2, QueueSize: 16},
	})
	testutil.AssertNoError(t, err)
	testutil.AssertNoError(t, engine.Start())
	defer engine.Dispose()

	names := make(chan string, 8)
	listener := workengine.ListenerFuncs{
		OnCompleted: func(ev workengine.Event) {
			select {
			case names <- ev.Name:
			default:
			}
		},
	}

	s, err := New(Config{
		Submitter:    engine,
		TickInterval: 5 * time.Millisecond,
		Options:      []workengine.SubmitOption{workengine.WithListener(listener)},
	})
	testutil.AssertNoError(t, err)
	testutil.AssertNoError(t, s.Start())
	defer func() { <-s.Stop() }()

	var runs int32
	testutil.AssertNoError(t, s.ScheduleRepeating("heartbeat", counter(&runs), 10*time.Millisecond))

	select {
	case name := <-names:
		testutil.AssertEqual(t, name, "heartbeat")
	case <-time.After(time.Second):
		t.Fatal("scheduled work never completed")
	}
	testutil.Eventually(t, func() bool { return atomic.LoadInt32(&runs) >= 3 }, time.Second, 5*time.Millisecond)
}
