// Package context carries the ambient execution context that the work engine
// captures on the submitting goroutine and hands to the work through its
// context.Context, together with small helpers around the standard context
// package.
package context

import (
	"context"
	"sync"
	"time"
)

// Provider reports the execution context current at submission. The engine
// calls Current on the submitting goroutine only. The captured value reaches
// the work as Ambient(ctx); nothing is written back to the provider, so a
// shared provider is never touched by workers.
type Provider interface {
	Current() any
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func() any

// Current implements Provider.
func (f ProviderFunc) Current() any { return f() }

// Slot is a Provider backed by a single guarded value owned by the
// application.
type Slot struct {
	mu sync.RWMutex
	v  any
}

// NewSlot creates a Slot holding initial.
func NewSlot(initial any) *Slot {
	return &Slot{v: initial}
}

// Current returns the value held by the slot.
func (s *Slot) Current() any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v
}

// Set replaces the value held by the slot.
func (s *Slot) Set(v any) {
	s.mu.Lock()
	s.v = v
	s.mu.Unlock()
}

// Capture returns the provider's current value, or nil when p is nil.
func Capture(p Provider) any {
	if p == nil {
		return nil
	}
	return p.Current()
}

type ambientKey struct{}

// WithAmbient returns a copy of parent carrying v as the execution context.
// The value is scoped to the derived context: callers holding parent never
// see it, whatever goroutine runs the work and however it exits.
func WithAmbient(parent context.Context, v any) context.Context {
	return context.WithValue(parent, ambientKey{}, v)
}

// Ambient returns the execution context stored by WithAmbient.
func Ambient(ctx context.Context) (any, bool) {
	if ctx == nil {
		return nil, false
	}
	v := ctx.Value(ambientKey{})
	return v, v != nil
}

// WithTimeoutOrCancel creates a context that is canceled either when the parent
// is canceled or when the timeout duration elapses, whichever comes first.
// A non-positive timeout only inherits the parent's cancellation.
func WithTimeoutOrCancel(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, timeout)
}

// IsCanceled returns true if the context has been canceled
func IsCanceled(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// IsTimedOut returns true if the context was canceled due to a timeout
func IsTimedOut(ctx context.Context) bool {
	return ctx.Err() == context.DeadlineExceeded
}
