package redisstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	gferrors "github.com/vnykmshr/gowork/pkg/common/errors"
	"github.com/vnykmshr/gowork/pkg/metrics"
	"github.com/vnykmshr/gowork/pkg/scheduling/workengine"
)

const (
	DefaultStream     = "gowork:events"
	DefaultMaxLen     = 10000
	DefaultBufferSize = 1024
	DefaultTimeout    = 500 * time.Millisecond
)

// Client is the part of redis.UniversalClient the sink needs.
type Client interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// Config holds sink configuration.
type Config struct {
	// Client publishes the entries. Required.
	Client Client

	// Stream is the stream key (default: "gowork:events").
	Stream string

	// MaxLen trims the stream approximately to this length (default: 10000).
	// A negative value disables trimming.
	MaxLen int64

	// BufferSize is how many events may wait for publishing (default: 1024).
	// Events that do not fit are dropped.
	BufferSize int

	// Timeout bounds each XADD (default: 500ms).
	Timeout time.Duration

	// Name labels metrics and logs (default: the stream key).
	Name string

	// InstanceID is stored with every entry (default: hostname-pid).
	InstanceID string

	Logger  *slog.Logger
	Metrics *metrics.Registry
}

// Sink is a workengine.Listener that appends lifecycle events to a Redis
// stream. Listener callbacks only enqueue; one goroutine publishes.
type Sink struct {
	client     Client
	stream     string
	maxLen     int64
	timeout    time.Duration
	name       string
	instanceID string
	logger     *slog.Logger
	metrics    *metrics.Registry

	mu     sync.RWMutex
	closed bool
	events chan entry

	done chan struct{}
}

type entry struct {
	kind string
	ev   workengine.Event
}

// New creates a sink and starts its publisher.
func New(cfg Config) (*Sink, error) {
	if cfg.Client == nil {
		return nil, gferrors.NewValidationError("redisstream", "Client", nil, "cannot be nil").
			WithHint("pass a *redis.Client or any redis.UniversalClient")
	}
	if cfg.BufferSize < 0 {
		return nil, gferrors.NewValidationError("redisstream", "BufferSize", cfg.BufferSize, "cannot be negative")
	}

	s := &Sink{
		client:     cfg.Client,
		stream:     cfg.Stream,
		maxLen:     cfg.MaxLen,
		timeout:    cfg.Timeout,
		name:       cfg.Name,
		instanceID: cfg.InstanceID,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
		done:       make(chan struct{}),
	}
	if s.stream == "" {
		s.stream = DefaultStream
	}
	if s.maxLen == 0 {
		s.maxLen = DefaultMaxLen
	}
	if s.timeout <= 0 {
		s.timeout = DefaultTimeout
	}
	if s.name == "" {
		s.name = s.stream
	}
	if s.instanceID == "" {
		s.instanceID = instanceID()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("sink", s.name)

	size := cfg.BufferSize
	if size == 0 {
		size = DefaultBufferSize
	}
	s.events = make(chan entry, size)

	go s.publish()
	return s, nil
}

func instanceID() string {
	hostname, _ := os.Hostname()
	return fmt.Sprintf("%s-%d", hostname, os.Getpid())
}

func (s *Sink) WorkAccepted(ev workengine.Event)  { s.enqueue("accepted", ev) }
func (s *Sink) WorkStarted(ev workengine.Event)   { s.enqueue("started", ev) }
func (s *Sink) WorkCompleted(ev workengine.Event) { s.enqueue("completed", ev) }
func (s *Sink) WorkRejected(ev workengine.Event)  { s.enqueue("rejected", ev) }

func (s *Sink) enqueue(kind string, ev workengine.Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		s.drop(kind, ev, "sink closed")
		return
	}
	select {
	case s.events <- entry{kind: kind, ev: ev}:
	default:
		s.drop(kind, ev, "buffer full")
	}
}

func (s *Sink) drop(kind string, ev workengine.Event, reason string) {
	if s.metrics != nil {
		s.metrics.SinkDropped.WithLabelValues(s.name).Inc()
	}
	s.logger.Debug("lifecycle event dropped", "event", kind, "work_id", ev.ID, "reason", reason)
}

func (s *Sink) publish() {
	defer close(s.done)
	for e := range s.events {
		s.write(e)
	}
}

func (s *Sink) write(e entry) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: s.values(e),
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}

	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		if s.metrics != nil {
			s.metrics.SinkDropped.WithLabelValues(s.name).Inc()
		}
		s.logger.Warn("cannot publish lifecycle event", "event", e.kind, "work_id", e.ev.ID, "error", err)
		return
	}
	if s.metrics != nil {
		s.metrics.SinkPublished.WithLabelValues(s.name).Inc()
	}
}

// values flattens an event into stream fields. Unset times and errors are
// left out.
func (s *Sink) values(e entry) map[string]any {
	ev := e.ev
	v := map[string]any{
		"event":    e.kind,
		"work_id":  ev.ID.String(),
		"instance": s.instanceID,
	}
	if ev.Name != "" {
		v["name"] = ev.Name
	}
	if ev.Policy != nil {
		v["policy"] = ev.Policy.String()
	}
	setTime(v, "accepted_at", ev.AcceptedAt)
	setTime(v, "started_at", ev.StartedAt)
	setTime(v, "done_at", ev.DoneAt)
	if ev.Err != nil {
		v["kind"] = workengine.KindOf(ev.Err).String()
		cause := ev.Err
		var werr *workengine.WorkError
		if errors.As(ev.Err, &werr) && werr.Err != nil {
			cause = werr.Err
		}
		v["error"] = cause.Error()
	}
	return v
}

func setTime(v map[string]any, key string, t time.Time) {
	if !t.IsZero() {
		v[key] = t.UTC().Format(time.RFC3339Nano)
	}
}

// Close stops accepting events and waits for the buffered ones to be
// published. If ctx ends first the rest are still published in the
// background and ctx's error is returned.
func (s *Sink) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	s.mu.Unlock()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("redisstream %q: close: %w: %w", s.name, gferrors.ErrInterrupted, ctx.Err())
	}
}
