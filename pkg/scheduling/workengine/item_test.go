package workengine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnykmshr/gowork/internal/testutil"
	gfcontext "github.com/vnykmshr/gowork/pkg/common/context"
	gferrors "github.com/vnykmshr/gowork/pkg/common/errors"
)

// recorder is a Listener that keeps every notification.
type recorder struct {
	mu     sync.Mutex
	events []string
	last   map[string]Event
}

func newRecorder() *recorder {
	return &recorder{last: make(map[string]Event)}
}

func (r *recorder) record(kind string, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, kind)
	r.last[kind] = ev
}

func (r *recorder) WorkAccepted(ev Event)  { r.record("accepted", ev) }
func (r *recorder) WorkStarted(ev Event)   { r.record("started", ev) }
func (r *recorder) WorkCompleted(ev Event) { r.record("completed", ev) }
func (r *recorder) WorkRejected(ev Event)  { r.record("rejected", ev) }

func (r *recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) Last(kind string) Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last[kind]
}

func (r *recorder) Count(kind string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, k := range r.events {
		if k == kind {
			n++
		}
	}
	return n
}

type releasableWork struct {
	ran      int32
	released int32
}

func (w *releasableWork) Run(context.Context) error {
	atomic.AddInt32(&w.ran, 1)
	return nil
}

func (w *releasableWork) Release() {
	atomic.AddInt32(&w.released, 1)
}

func testItem(work Work, timeout time.Duration, l Listener, clock *testutil.MockClock) *WorkItem {
	opts := submitOptions{startTimeout: timeout}
	var now func() time.Time
	if clock != nil {
		now = clock.Now
	}
	return newWorkItem(work, Synchronous, opts, l, slog.Default(), now)
}

func noop(context.Context) error { return nil }

func TestSignal(t *testing.T) {
	s := NewSignal()
	assert.False(t, s.IsReleased())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.Await(ctx)
	assert.ErrorIs(t, err, gferrors.ErrInterrupted)
	assert.ErrorIs(t, err, context.Canceled)

	assert.True(t, s.Release())
	assert.False(t, s.Release())
	assert.True(t, s.IsReleased())

	// Released signals win over a canceled context.
	assert.NoError(t, s.Await(ctx))
	testutil.WaitForChannel(t, s.Done(), time.Second)
}

func TestItemStartTimeout(t *testing.T) {
	clock := testutil.NewMockClock(time.Time{})
	rec := newRecorder()
	work := &releasableWork{}
	item := testItem(work, 50*time.Millisecond, rec, clock)
	item.accept()

	assert.False(t, item.IsTimedOut())
	clock.Advance(50 * time.Millisecond)
	assert.False(t, item.IsTimedOut(), "the deadline itself is still inside the window")
	assert.Equal(t, int64(2), item.RetryCount())

	clock.Advance(time.Millisecond)
	require.True(t, item.IsTimedOut())
	assert.True(t, item.IsTimedOut())
	assert.Equal(t, int64(2), item.RetryCount())

	assert.True(t, item.startSignal.IsReleased())
	assert.True(t, item.IsDone())
	assert.Equal(t, KindStartTimeout, KindOf(item.Failure()))
	assert.ErrorIs(t, item.Failure(), ErrStartTimeout)
	assert.ErrorIs(t, item.Failure(), gferrors.ErrTimeout)

	// A late run skips the work.
	require.NoError(t, item.Execute(context.Background()))
	assert.Equal(t, int32(0), atomic.LoadInt32(&work.ran))
	assert.Equal(t, []string{"accepted", "rejected"}, rec.Events())
	assert.False(t, item.IsStarted())
}

func TestItemExecuteDetectsTimeout(t *testing.T) {
	clock := testutil.NewMockClock(time.Time{})
	rec := newRecorder()
	work := &releasableWork{}
	item := testItem(work, 10*time.Millisecond, rec, clock)
	item.accept()

	clock.Advance(time.Second)
	require.NoError(t, item.Execute(context.Background()))

	assert.Equal(t, int32(0), atomic.LoadInt32(&work.ran))
	assert.Equal(t, KindStartTimeout, KindOf(item.Failure()))
	assert.Equal(t, 1, rec.Count("rejected"))
}

func TestItemNoTimeoutOnceStarted(t *testing.T) {
	clock := testutil.NewMockClock(time.Time{})
	gate := make(chan struct{})
	item := testItem(WorkFunc(func(context.Context) error {
		<-gate
		return nil
	}), 10*time.Millisecond, NopListener{}, clock)
	item.accept()

	go func() { _ = item.Execute(context.Background()) }()
	require.NoError(t, item.AwaitStart(context.Background()))

	clock.Advance(time.Hour)
	assert.False(t, item.IsTimedOut())

	close(gate)
	require.NoError(t, item.AwaitDone(context.Background()))
	assert.NoError(t, item.Failure())
	assert.False(t, item.IsTimedOut())
}

func TestItemConcurrentTimeoutChecks(t *testing.T) {
	clock := testutil.NewMockClock(time.Time{})
	rec := newRecorder()
	work := &releasableWork{}
	item := testItem(work, time.Millisecond, rec, clock)
	item.accept()
	clock.Advance(time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			item.IsTimedOut()
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = item.Execute(context.Background())
	}()
	wg.Wait()

	assert.Equal(t, 1, rec.Count("rejected"))
	assert.Equal(t, 0, rec.Count("started"))
	assert.Equal(t, int32(0), atomic.LoadInt32(&work.ran))
}

func TestItemLifecycleOrdering(t *testing.T) {
	rec := newRecorder()
	item := testItem(WorkFunc(func(context.Context) error {
		time.Sleep(time.Millisecond)
		return nil
	}), IndefiniteTimeout, rec, nil)
	item.accept()

	require.NoError(t, item.Execute(context.Background()))

	assert.Equal(t, []string{"accepted", "started", "completed"}, rec.Events())
	assert.False(t, item.StartedAt().Before(item.AcceptedAt()))
	assert.False(t, item.DoneAt().Before(item.StartedAt()))
	assert.True(t, item.IsStarted())
	assert.True(t, item.IsDone())
	assert.NoError(t, item.Failure())
	assert.Equal(t, int64(0), item.RetryCount())

	ev := rec.Last("completed")
	assert.Equal(t, item.ID(), ev.ID)
	assert.Equal(t, Synchronous, ev.Policy)
}

func TestItemActionFailure(t *testing.T) {
	boom := errors.New("boom")
	rec := newRecorder()
	item := testItem(WorkFunc(func(context.Context) error { return boom }), 0, rec, nil)
	item.accept()

	require.NoError(t, item.Execute(context.Background()), "failures never reach the pool")

	assert.ErrorIs(t, item.Failure(), boom)
	assert.Equal(t, KindActionFailure, KindOf(item.Failure()))
	assert.Equal(t, []string{"accepted", "started", "rejected"}, rec.Events())
	assert.ErrorIs(t, rec.Last("rejected").Err, boom)
}

func TestItemPanicBecomesFailure(t *testing.T) {
	item := testItem(WorkFunc(func(context.Context) error { panic("kaboom") }), 0, NopListener{}, nil)
	item.accept()

	require.NoError(t, item.Execute(context.Background()))
	assert.ErrorIs(t, item.Failure(), ErrWorkPanicked)
	assert.Contains(t, item.Failure().Error(), "kaboom")
	assert.True(t, item.IsDone())
}

func TestItemRelease(t *testing.T) {
	rec := newRecorder()
	work := &releasableWork{}
	item := testItem(work, 0, rec, nil)
	item.accept()

	item.Release()
	item.Release()

	assert.Equal(t, int32(1), atomic.LoadInt32(&work.released))
	assert.Equal(t, KindDiscarded, KindOf(item.Failure()))
	assert.ErrorIs(t, item.Failure(), ErrWorkDiscarded)
	assert.True(t, item.IsDone())
	assert.Equal(t, []string{"accepted", "rejected"}, rec.Events())

	require.NoError(t, item.Execute(context.Background()))
	assert.Equal(t, int32(0), atomic.LoadInt32(&work.ran))
}

func TestItemReleaseAfterStartIsNoop(t *testing.T) {
	work := &releasableWork{}
	item := testItem(work, 0, NopListener{}, nil)
	item.accept()
	require.NoError(t, item.Execute(context.Background()))

	item.Release()
	assert.Equal(t, int32(0), atomic.LoadInt32(&work.released))
	assert.NoError(t, item.Failure())
}

func TestItemPassesExecutionContext(t *testing.T) {
	parent := gfcontext.WithAmbient(context.Background(), "worker")

	var ambient any
	var priority int
	var hasID bool
	item := newWorkItem(WorkFunc(func(ctx context.Context) error {
		ambient, _ = gfcontext.Ambient(ctx)
		priority, _ = PriorityFrom(ctx)
		_, hasID = WorkIDFrom(ctx)
		panic("boom")
	}), Scheduled, submitOptions{execContext: "tenant-a", priority: 7}, NopListener{}, slog.Default(), nil)
	item.accept()

	require.NoError(t, item.Execute(parent))

	assert.Equal(t, "tenant-a", ambient)
	assert.Equal(t, 7, priority)
	assert.True(t, hasID)
	assert.ErrorIs(t, item.Failure(), ErrWorkPanicked)

	v, _ := gfcontext.Ambient(parent)
	assert.Equal(t, "worker", v, "the worker's own context is untouched")
}

func TestItemListenerPanicDoesNotWedgeWaiters(t *testing.T) {
	item := testItem(WorkFunc(noop), 0, ListenerFuncs{
		OnStarted: func(Event) { panic("bad listener") },
	}, nil)
	item.accept()

	require.NoError(t, item.Execute(context.Background()))
	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()
	assert.NoError(t, item.AwaitDone(ctx))
}

func TestAwaitInterrupted(t *testing.T) {
	item := testItem(WorkFunc(noop), 0, NopListener{}, nil)
	item.accept()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := item.AwaitDone(ctx)
	assert.ErrorIs(t, err, gferrors.ErrInterrupted)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, gferrors.IsTemporary(err))

	// The item itself is unaffected.
	assert.NoError(t, item.Failure())
	require.NoError(t, item.Execute(context.Background()))
	assert.True(t, item.IsDone())
}
