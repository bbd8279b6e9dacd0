package workengine

import (
	"context"
	"fmt"
	"sync"

	gferrors "github.com/vnykmshr/gowork/pkg/common/errors"
)

// Signal is a one-shot gate. Release is idempotent and Await returns at once
// when the signal was released before the call.
type Signal struct {
	once sync.Once
	ch   chan struct{}
}

// NewSignal returns an unreleased signal.
func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{})}
}

// Release opens the gate. It reports whether this call did the releasing.
func (s *Signal) Release() bool {
	released := false
	s.once.Do(func() {
		close(s.ch)
		released = true
	})
	return released
}

// Done returns a channel that is closed once the signal is released.
func (s *Signal) Done() <-chan struct{} {
	return s.ch
}

// IsReleased reports whether Release has been called.
func (s *Signal) IsReleased() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}

// Await blocks until the signal is released or ctx ends. In the latter case
// the error wraps both errors.ErrInterrupted and ctx.Err().
func (s *Signal) Await(ctx context.Context) error {
	select {
	case <-s.ch:
		return nil
	default:
	}

	select {
	case <-s.ch:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", gferrors.ErrInterrupted, ctx.Err())
	}
}
