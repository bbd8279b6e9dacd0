package errors_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/vnykmshr/gowork/internal/testutil"
	gferrors "github.com/vnykmshr/gowork/pkg/common/errors"
	"github.com/vnykmshr/gowork/pkg/scheduling/workengine"
	"github.com/vnykmshr/gowork/pkg/scheduling/workerpool"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func startEngine(t *testing.T, cfg workengine.Config) *workengine.Engine {
	t.Helper()
	cfg.Logger = quiet
	e, err := workengine.New(cfg)
	testutil.AssertNoError(t, err)
	testutil.AssertNoError(t, e.Start())
	t.Cleanup(e.Dispose)
	return e
}

func TestNotStarted(t *testing.T) {
	e, err := workengine.New(workengine.Config{Logger: quiet})
	testutil.AssertNoError(t, err)

	_, err = e.SubmitAsync(workengine.WorkFunc(func(context.Context) error { return nil }))
	testutil.AssertEqual(t, errors.Is(err, gferrors.ErrNotStarted), true)
	testutil.AssertEqual(t, errors.Is(err, gferrors.ErrClosed), false)
	testutil.AssertEqual(t, gferrors.IsRetryable(err), false)
	testutil.AssertEqual(t, gferrors.IsTemporary(err), false)
}

// A pool that closes under a started engine reports both sentinels.
func TestClosedPoolIsNotStarted(t *testing.T) {
	closedPool := workerpool.FactoryFunc(func(name string, profile workerpool.Profile) (workerpool.Pool, error) {
		pool, err := workerpool.New(name, profile)
		if err != nil {
			return nil, err
		}
		pool.Shutdown()
		return pool, nil
	})
	e := startEngine(t, workengine.Config{Factory: closedPool})

	err := e.SubmitAndAwaitDone(context.Background(), workengine.WorkFunc(func(context.Context) error { return nil }))
	testutil.AssertEqual(t, errors.Is(err, gferrors.ErrNotStarted), true)
	testutil.AssertEqual(t, errors.Is(err, gferrors.ErrClosed), true)

	err = e.Execute(workerpool.TaskFunc(func(context.Context) error { return nil }))
	testutil.AssertEqual(t, errors.Is(err, gferrors.ErrClosed), true)
}

func TestStartTimeoutIsRetryable(t *testing.T) {
	e := startEngine(t, workengine.Config{Profile: workerpool.Profile{MaxWorkers: 1, QueueSize: 4}})

	gate := make(chan struct{})
	started := make(chan struct{})
	_, err := e.SubmitAsync(workengine.WorkFunc(func(context.Context) error {
		close(started)
		<-gate
		return nil
	}))
	testutil.AssertNoError(t, err)
	testutil.WaitForChannel(t, started, time.Second)
	defer close(gate)

	_, err = e.SubmitAndAwaitStart(context.Background(), workengine.WorkFunc(func(context.Context) error { return nil }),
		workengine.WithStartTimeout(20*time.Millisecond))

	var werr *workengine.WorkError
	testutil.AssertEqual(t, errors.As(err, &werr), true)
	testutil.AssertEqual(t, werr.Kind, workengine.KindStartTimeout)
	testutil.AssertEqual(t, errors.Is(err, gferrors.ErrTimeout), true)
	testutil.AssertEqual(t, gferrors.IsRetryable(err), true)
	testutil.AssertEqual(t, gferrors.IsTemporary(err), true)
}

func TestActionFailureIsNotRetryable(t *testing.T) {
	e := startEngine(t, workengine.Config{Listener: workengine.NopListener{}})

	diskFull := errors.New("disk full")
	err := e.SubmitAndAwaitDone(context.Background(), workengine.WorkFunc(func(context.Context) error { return diskFull }))

	testutil.AssertEqual(t, errors.Is(err, diskFull), true)
	testutil.AssertEqual(t, gferrors.IsRetryable(err), false)
	testutil.AssertEqual(t, gferrors.IsTemporary(err), false)
}

func TestInterruptedWaitIsTemporary(t *testing.T) {
	e := startEngine(t, workengine.Config{Profile: workerpool.Profile{MaxWorkers: 1, QueueSize: 1}})

	gate := make(chan struct{})
	defer close(gate)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := e.SubmitAndAwaitDone(ctx, workengine.WorkFunc(func(context.Context) error {
		<-gate
		return nil
	}))
	testutil.AssertEqual(t, errors.Is(err, gferrors.ErrInterrupted), true)
	testutil.AssertEqual(t, errors.Is(err, context.DeadlineExceeded), true)
	testutil.AssertEqual(t, gferrors.IsTemporary(err), true)
	testutil.AssertEqual(t, gferrors.IsRetryable(err), false)
}

func TestFullQueueIsRetryable(t *testing.T) {
	pool, err := workerpool.New("full", workerpool.Profile{
		MaxWorkers:      1,
		QueueSize:       1,
		ExhaustedAction: workerpool.ExhaustedAbort,
	})
	testutil.AssertNoError(t, err)
	defer pool.ShutdownNow()

	gate := make(chan struct{})
	defer close(gate)
	block := workerpool.TaskFunc(func(context.Context) error {
		<-gate
		return nil
	})
	testutil.AssertNoError(t, pool.Execute(block))
	testutil.Eventually(t, func() bool { return pool.ActiveWorkers() == 1 }, time.Second, time.Millisecond)
	testutil.AssertNoError(t, pool.Execute(block))

	err = pool.Execute(block)
	testutil.AssertEqual(t, errors.Is(err, gferrors.ErrCapacityExceeded), true)
	testutil.AssertEqual(t, gferrors.IsRetryable(err), true)
}

func TestValidationErrorFromProfile(t *testing.T) {
	_, err := workerpool.New("bad", workerpool.Profile{MaxWorkers: 0})

	testutil.AssertEqual(t, gferrors.IsValidationError(err), true)
	testutil.AssertEqual(t, errors.Is(err, gferrors.ErrInvalidConfiguration), true)

	var verr *gferrors.ValidationError
	testutil.AssertEqual(t, errors.As(err, &verr), true)
	testutil.AssertEqual(t, verr.Module, "workerpool")
	testutil.AssertEqual(t, verr.Field, "MaxWorkers")
	testutil.AssertEqual(t, verr.Error(), "workerpool: invalid MaxWorkers=0 (must be positive) - value must be greater than 0")

	// Without a hint the message stops after the reason.
	bare := gferrors.NewValidationError("config", "engine.queue_size", -1, "cannot be negative")
	testutil.AssertEqual(t, bare.Error(), "config: invalid engine.queue_size=-1 (cannot be negative)")
}

func TestOperationErrorFromFactory(t *testing.T) {
	refused := errors.New("no threads left")
	e, err := workengine.New(workengine.Config{
		Name:   "ingest",
		Logger: quiet,
		Factory: workerpool.FactoryFunc(func(string, workerpool.Profile) (workerpool.Pool, error) {
			return nil, refused
		}),
	})
	testutil.AssertNoError(t, err)

	err = e.Start()
	testutil.AssertEqual(t, errors.Is(err, refused), true)
	testutil.AssertEqual(t, e.IsStarted(), false)

	var oerr *gferrors.OperationError
	testutil.AssertEqual(t, errors.As(err, &oerr), true)
	testutil.AssertEqual(t, oerr.Operation, "Start")
	testutil.AssertEqual(t, oerr.Error(), "workengine.Start failed: no threads left (ingest)")
	testutil.AssertEqual(t, strings.Contains(err.Error(), "ingest"), true)
}
