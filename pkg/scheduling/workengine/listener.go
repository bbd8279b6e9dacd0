package workengine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Event describes a work item at one lifecycle transition.
type Event struct {
	ID         uuid.UUID
	Name       string
	Policy     Policy
	AcceptedAt time.Time
	StartedAt  time.Time
	DoneAt     time.Time

	// Err is set for WorkRejected and holds a *WorkError.
	Err error
}

// Listener receives lifecycle notifications. For a given item WorkAccepted
// precedes WorkStarted, which precedes WorkCompleted or WorkRejected.
//
// Callbacks run on submitting goroutines, pool workers and the timeout
// monitor, possibly concurrently. They must not block.
type Listener interface {
	WorkAccepted(Event)
	WorkStarted(Event)
	WorkCompleted(Event)
	WorkRejected(Event)
}

// NopListener ignores every notification.
type NopListener struct{}

func (NopListener) WorkAccepted(Event)  {}
func (NopListener) WorkStarted(Event)   {}
func (NopListener) WorkCompleted(Event) {}
func (NopListener) WorkRejected(Event)  {}

// ListenerFuncs is a Listener built from optional callbacks.
type ListenerFuncs struct {
	OnAccepted  func(Event)
	OnStarted   func(Event)
	OnCompleted func(Event)
	OnRejected  func(Event)
}

func (l ListenerFuncs) WorkAccepted(ev Event) {
	if l.OnAccepted != nil {
		l.OnAccepted(ev)
	}
}

func (l ListenerFuncs) WorkStarted(ev Event) {
	if l.OnStarted != nil {
		l.OnStarted(ev)
	}
}

func (l ListenerFuncs) WorkCompleted(ev Event) {
	if l.OnCompleted != nil {
		l.OnCompleted(ev)
	}
}

func (l ListenerFuncs) WorkRejected(ev Event) {
	if l.OnRejected != nil {
		l.OnRejected(ev)
	}
}

// MultiListener fans every notification out to each listener in order.
type MultiListener []Listener

func (m MultiListener) WorkAccepted(ev Event) {
	for _, l := range m {
		l.WorkAccepted(ev)
	}
}

func (m MultiListener) WorkStarted(ev Event) {
	for _, l := range m {
		l.WorkStarted(ev)
	}
}

func (m MultiListener) WorkCompleted(ev Event) {
	for _, l := range m {
		l.WorkCompleted(ev)
	}
}

func (m MultiListener) WorkRejected(ev Event) {
	for _, l := range m {
		l.WorkRejected(ev)
	}
}

// combineListeners drops nil entries and avoids wrapping a single listener.
func combineListeners(listeners ...Listener) Listener {
	var out MultiListener
	for _, l := range listeners {
		if l != nil {
			out = append(out, l)
		}
	}
	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	default:
		return out
	}
}

// LoggingListener logs rejections and ignores the other notifications.
// It is the engine default.
type LoggingListener struct {
	logger *slog.Logger
}

// NewLoggingListener returns a LoggingListener writing to logger, or to
// slog.Default() when logger is nil.
func NewLoggingListener(logger *slog.Logger) *LoggingListener {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingListener{logger: logger}
}

func (*LoggingListener) WorkAccepted(Event)  {}
func (*LoggingListener) WorkStarted(Event)   {}
func (*LoggingListener) WorkCompleted(Event) {}

// WorkRejected logs the root cause of the failure. A *WorkError is
// unwrapped one level.
func (l *LoggingListener) WorkRejected(ev Event) {
	cause := ev.Err
	kind := Kind(0)

	var werr *WorkError
	if errors.As(ev.Err, &werr) {
		kind = werr.Kind
		if werr.Err != nil {
			cause = werr.Err
		}
	}

	level := slog.LevelWarn
	if kind == KindActionFailure {
		level = slog.LevelError
	}

	l.logger.Log(context.Background(), level, "work rejected",
		"work_id", ev.ID,
		"name", ev.Name,
		"policy", ev.Policy,
		"kind", kind,
		"error", cause)
}
