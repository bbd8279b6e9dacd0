package workerpool_test

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	gferrors "github.com/vnykmshr/gowork/pkg/common/errors"
	"github.com/vnykmshr/gowork/pkg/scheduling/workerpool"
)

// Example demonstrates basic usage of the worker pool
func Example() {
	pool, err := workerpool.New("example", workerpool.Profile{MaxWorkers: 3, QueueSize: 10})
	if err != nil {
		log.Fatal(err)
	}

	done := make(chan struct{})
	task := workerpool.TaskFunc(func(ctx context.Context) error {
		fmt.Println("Task executed")
		close(done)
		return nil
	})

	if err := pool.Execute(task); err != nil {
		log.Printf("Failed to execute task: %v", err)
		return
	}
	<-done

	pool.Shutdown()
	pool.AwaitTermination(time.Second)

	// Output: Task executed
}

// Example_gracefulShutdown shows that queued tasks still run after Shutdown.
func Example_gracefulShutdown() {
	pool, err := workerpool.New("drain", workerpool.Profile{MaxWorkers: 2, QueueSize: 10})
	if err != nil {
		log.Fatal(err)
	}

	var completed int32
	for i := 0; i < 5; i++ {
		_ = pool.Execute(workerpool.TaskFunc(func(ctx context.Context) error {
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&completed, 1)
			return nil
		}))
	}

	pool.Shutdown()
	terminated := pool.AwaitTermination(time.Second)

	fmt.Printf("Terminated: %v, completed: %d\n", terminated, atomic.LoadInt32(&completed))

	// Output: Terminated: true, completed: 5
}

// Example_abortWhenFull demonstrates rejecting work once the queue is full.
func Example_abortWhenFull() {
	pool, err := workerpool.New("strict", workerpool.Profile{
		MaxWorkers:      1,
		QueueSize:       1,
		ExhaustedAction: workerpool.ExhaustedAbort,
	})
	if err != nil {
		log.Fatal(err)
	}

	release := make(chan struct{})
	started := make(chan struct{})
	blocker := workerpool.TaskFunc(func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	})
	noop := workerpool.TaskFunc(func(ctx context.Context) error { return nil })

	_ = pool.Execute(blocker)
	<-started
	_ = pool.Execute(noop) // fills the queue

	err = pool.Execute(noop)
	fmt.Println("Capacity exceeded:", errors.Is(err, gferrors.ErrCapacityExceeded))

	close(release)
	pool.Shutdown()
	pool.AwaitTermination(time.Second)

	// Output: Capacity exceeded: true
}
