package workengine

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SubmitOption configures a single submission.
type SubmitOption func(*submitOptions)

type submitOptions struct {
	startTimeout   time.Duration
	priority       int
	execContext    any
	hasExecContext bool
	name           string
	listener       Listener
}

// WithStartTimeout sets how long the item may wait for a worker.
// Zero or IndefiniteTimeout disables the check.
func WithStartTimeout(d time.Duration) SubmitOption {
	return func(o *submitOptions) {
		o.startTimeout = d
	}
}

// WithPriority overrides the priority inherited from the submit context.
func WithPriority(priority int) SubmitOption {
	return func(o *submitOptions) {
		o.priority = priority
	}
}

// WithExecutionContext overrides the execution context captured from the
// engine's ContextProvider.
func WithExecutionContext(v any) SubmitOption {
	return func(o *submitOptions) {
		o.execContext = v
		o.hasExecContext = true
	}
}

// WithName labels the item in events and logs.
func WithName(name string) SubmitOption {
	return func(o *submitOptions) {
		o.name = name
	}
}

// WithListener adds a listener for this item only, notified after the
// engine listener.
func WithListener(l Listener) SubmitOption {
	return func(o *submitOptions) {
		o.listener = l
	}
}

type priorityKey struct{}

type workIDKey struct{}

// ContextWithPriority returns a copy of ctx carrying an advisory priority.
// Work submitted with that context inherits it.
func ContextWithPriority(ctx context.Context, priority int) context.Context {
	return context.WithValue(ctx, priorityKey{}, priority)
}

// PriorityFrom returns the priority carried by ctx.
func PriorityFrom(ctx context.Context) (int, bool) {
	p, ok := ctx.Value(priorityKey{}).(int)
	return p, ok
}

// WorkIDFrom returns the ID of the work item whose context this is.
func WorkIDFrom(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(workIDKey{}).(uuid.UUID)
	return id, ok
}
