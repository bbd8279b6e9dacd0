package workerpool

import (
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	gferrors "github.com/vnykmshr/gowork/pkg/common/errors"
)

// Execute hands a task to the pool.
func (p *workerPool) Execute(task Task) error {
	if task == nil {
		return fmt.Errorf("task cannot be nil")
	}

	p.mu.RLock()
	if p.isShutdown {
		p.mu.RUnlock()
		return p.reject(task, p.closedError())
	}
	p.submitWg.Add(1)
	p.mu.RUnlock()

	select {
	case p.queue <- task:
		p.submitWg.Done()
		atomic.AddInt64(&p.totalSubmitted, 1)
		return nil
	default:
	}

	switch p.profile.ExhaustedAction {
	case ExhaustedAbort:
		p.submitWg.Done()
		return p.reject(task, fmt.Errorf("cannot execute task: pool %q queue is full: %w",
			p.name, gferrors.ErrCapacityExceeded))

	case ExhaustedDiscard:
		p.submitWg.Done()
		_ = p.reject(task, fmt.Errorf("task discarded: pool %q queue is full: %w",
			p.name, gferrors.ErrCapacityExceeded))
		if r, ok := task.(Releaser); ok {
			r.Release()
		}
		return nil

	case ExhaustedRun:
		p.submitWg.Done()
		atomic.AddInt64(&p.totalSubmitted, 1)
		p.runTask(-1, task)
		return nil

	default:
		return p.waitForSpace(task)
	}
}

func (p *workerPool) waitForSpace(task Task) error {
	defer p.submitWg.Done()

	var timeout <-chan time.Time
	if p.profile.WaitTimeout > 0 {
		timer := time.NewTimer(p.profile.WaitTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	var abandoned <-chan struct{}
	if a, ok := task.(Abandoner); ok {
		abandoned = a.Abandoned()
	}

	select {
	case p.queue <- task:
		atomic.AddInt64(&p.totalSubmitted, 1)
		return nil
	case <-p.shutdownCh:
		return p.reject(task, p.closedError())
	case <-abandoned:
		return p.reject(task, fmt.Errorf("cannot execute task: pool %q: %w", p.name, ErrAbandoned))
	case <-timeout:
		return p.reject(task, fmt.Errorf("cannot execute task: pool %q queue still full after %v: %w",
			p.name, p.profile.WaitTimeout, gferrors.ErrCapacityExceeded))
	}
}

func (p *workerPool) closedError() error {
	return fmt.Errorf("cannot execute task: pool %q has been shut down: %w", p.name, gferrors.ErrClosed)
}

func (p *workerPool) reject(task Task, reason error) error {
	if p.profile.OnTaskRejected != nil {
		p.profile.OnTaskRejected(task, reason)
	}
	return reason
}

// Shutdown initiates a graceful shutdown of the pool.
func (p *workerPool) Shutdown() {
	p.shutdownOnce.Do(func() {
		p.mu.Lock()
		p.isShutdown = true
		p.mu.Unlock()

		// Signal shutdown to blocked submitters
		close(p.shutdownCh)

		go func() {
			// No Add can happen once isShutdown is set.
			p.submitWg.Wait()
			close(p.drainCh)

			p.workerWg.Wait()
			p.cancel()
			close(p.terminated)
		}()
	})
}

// ShutdownNow shuts the pool down and returns the tasks that never started.
// A task already running keeps running with a canceled context. A task a
// worker dequeues after this call is released by the worker and reported to
// OnTaskRejected rather than returned.
func (p *workerPool) ShutdownNow() []Task {
	p.Shutdown()

	p.killOnce.Do(func() {
		close(p.killCh)
		p.cancel()
	})

	p.submitWg.Wait()

	var dropped []Task
	for {
		select {
		case task := <-p.queue:
			dropped = append(dropped, task)
		default:
			return dropped
		}
	}
}

// AwaitTermination waits for all workers to exit.
func (p *workerPool) AwaitTermination(timeout time.Duration) bool {
	if timeout <= 0 {
		return p.IsTerminated()
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-p.terminated:
		return true
	case <-timer.C:
		return false
	}
}

func (p *workerPool) IsShutdown() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.isShutdown
}

func (p *workerPool) IsTerminated() bool {
	select {
	case <-p.terminated:
		return true
	default:
		return false
	}
}

func (p *workerPool) Name() string {
	return p.name
}

// Size returns the number of workers in the pool.
func (p *workerPool) Size() int {
	return p.profile.MaxWorkers
}

// QueueSize returns the current number of queued tasks waiting for execution.
func (p *workerPool) QueueSize() int {
	return len(p.queue)
}

func (p *workerPool) ActiveWorkers() int {
	return int(atomic.LoadInt64(&p.activeWorkers))
}

func (p *workerPool) TotalSubmitted() int64 {
	return atomic.LoadInt64(&p.totalSubmitted)
}

func (p *workerPool) TotalCompleted() int64 {
	return atomic.LoadInt64(&p.totalCompleted)
}

// worker is the main loop for a worker goroutine.
func (p *workerPool) worker(id int) {
	defer p.workerWg.Done()

	if p.profile.OnWorkerStart != nil {
		p.profile.OnWorkerStart(id)
	}
	if p.profile.OnWorkerStop != nil {
		defer p.profile.OnWorkerStop(id)
	}

	for {
		select {
		case <-p.killCh:
			return
		default:
		}

		select {
		case <-p.killCh:
			return
		case task := <-p.queue:
			p.take(id, task)
		case <-p.drainCh:
			p.drain(id)
			return
		}
	}
}

// drain runs whatever is left in the queue after a graceful shutdown.
func (p *workerPool) drain(id int) {
	for {
		select {
		case <-p.killCh:
			return
		default:
		}

		select {
		case task := <-p.queue:
			p.take(id, task)
		default:
			return
		}
	}
}

// take runs a task the worker just dequeued. The select that dequeued it may
// have won against a closed killCh, so a task taken after ShutdownNow is
// dropped and released instead of run.
func (p *workerPool) take(id int, task Task) {
	select {
	case <-p.killCh:
		_ = p.reject(task, fmt.Errorf("task dropped: pool %q was shut down: %w", p.name, gferrors.ErrClosed))
		if r, ok := task.(Releaser); ok {
			r.Release()
		}
	default:
		p.runTask(id, task)
	}
}

// runTask executes a single task, recovering from panics.
func (p *workerPool) runTask(workerID int, task Task) {
	start := time.Now()
	var err error

	atomic.AddInt64(&p.activeWorkers, 1)
	if p.profile.OnTaskStart != nil {
		p.profile.OnTaskStart(workerID, task)
	}

	defer func() {
		if r := recover(); r != nil {
			if p.profile.PanicHandler != nil {
				p.profile.PanicHandler(task, r)
			}
			err = fmt.Errorf("task panicked: %v\nStack trace:\n%s", r, debug.Stack())
		}

		atomic.AddInt64(&p.activeWorkers, -1)
		atomic.AddInt64(&p.totalCompleted, 1)

		if p.profile.OnTaskComplete != nil {
			p.profile.OnTaskComplete(workerID, Result{
				Task:     task,
				Error:    err,
				Duration: time.Since(start),
				WorkerID: workerID,
			})
		}
	}()

	err = task.Execute(p.ctx)
}
