// Package tracing records work items as OpenTelemetry spans.
//
// A span opens when the engine accepts an item and ends when the item
// completes or is rejected. Acceptance, start and completion keep the
// engine's own timestamps, so time spent queued shows up as the gap before
// the "started" span event:
//
//	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
//	engine, _ := workengine.New(workengine.Config{
//		Listener: tracing.NewListener(tp),
//	})
package tracing

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vnykmshr/gowork/pkg/scheduling/workengine"
)

// InstrumentationName identifies the tracer.
const InstrumentationName = "github.com/vnykmshr/gowork/pkg/observability/tracing"

// Attribute keys set on work spans.
const (
	AttrWorkID       = attribute.Key("gowork.work.id")
	AttrWorkName     = attribute.Key("gowork.work.name")
	AttrPolicy       = attribute.Key("gowork.work.policy")
	AttrStartLatency = attribute.Key("gowork.work.start_latency_ms")
	AttrFailureKind  = attribute.Key("gowork.work.failure_kind")
)

// Listener is a workengine.Listener that keeps one span per in-flight item.
type Listener struct {
	tracer trace.Tracer
	spans  sync.Map // uuid.UUID -> trace.Span
}

// NewListener creates a listener on tp. A nil tp uses the global provider.
func NewListener(tp trace.TracerProvider) *Listener {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Listener{tracer: tp.Tracer(InstrumentationName)}
}

func spanName(ev workengine.Event) string {
	if ev.Name != "" {
		return "work " + ev.Name
	}
	return "work"
}

func (l *Listener) WorkAccepted(ev workengine.Event) {
	attrs := []attribute.KeyValue{AttrWorkID.String(ev.ID.String())}
	if ev.Name != "" {
		attrs = append(attrs, AttrWorkName.String(ev.Name))
	}
	if ev.Policy != nil {
		attrs = append(attrs, AttrPolicy.String(ev.Policy.String()))
	}

	opts := []trace.SpanStartOption{
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	}
	if !ev.AcceptedAt.IsZero() {
		opts = append(opts, trace.WithTimestamp(ev.AcceptedAt))
	}

	_, span := l.tracer.Start(context.Background(), spanName(ev), opts...)
	l.spans.Store(ev.ID, span)
}

func (l *Listener) WorkStarted(ev workengine.Event) {
	span, ok := l.span(ev.ID)
	if !ok {
		return
	}
	var opts []trace.EventOption
	if !ev.StartedAt.IsZero() {
		opts = append(opts, trace.WithTimestamp(ev.StartedAt))
		if !ev.AcceptedAt.IsZero() {
			span.SetAttributes(AttrStartLatency.Int64(ev.StartedAt.Sub(ev.AcceptedAt).Milliseconds()))
		}
	}
	span.AddEvent("started", opts...)
}

func (l *Listener) WorkCompleted(ev workengine.Event) {
	span, ok := l.take(ev.ID)
	if !ok {
		return
	}
	span.SetStatus(codes.Ok, "")
	span.End(endOptions(ev)...)
}

func (l *Listener) WorkRejected(ev workengine.Event) {
	span, ok := l.take(ev.ID)
	if !ok {
		return
	}
	if ev.Err != nil {
		cause := ev.Err
		var werr *workengine.WorkError
		if errors.As(ev.Err, &werr) {
			span.SetAttributes(AttrFailureKind.String(werr.Kind.String()))
			if werr.Err != nil {
				cause = werr.Err
			}
		}
		span.RecordError(cause)
		span.SetStatus(codes.Error, cause.Error())
	} else {
		span.SetStatus(codes.Error, "rejected")
	}
	span.End(endOptions(ev)...)
}

// InFlight returns the number of open spans.
func (l *Listener) InFlight() int {
	n := 0
	l.spans.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func (l *Listener) span(id uuid.UUID) (trace.Span, bool) {
	v, ok := l.spans.Load(id)
	if !ok {
		return nil, false
	}
	return v.(trace.Span), true
}

func (l *Listener) take(id uuid.UUID) (trace.Span, bool) {
	v, ok := l.spans.LoadAndDelete(id)
	if !ok {
		return nil, false
	}
	return v.(trace.Span), true
}

func endOptions(ev workengine.Event) []trace.SpanEndOption {
	if ev.DoneAt.IsZero() {
		return nil
	}
	return []trace.SpanEndOption{trace.WithTimestamp(ev.DoneAt)}
}
