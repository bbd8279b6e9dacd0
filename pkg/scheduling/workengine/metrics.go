package workengine

import (
	"github.com/vnykmshr/gowork/pkg/metrics"
)

// MetricsListener records lifecycle events in a metrics.Registry.
type MetricsListener struct {
	name     string
	registry *metrics.Registry
}

// NewMetricsListener returns a listener labelling its series with
// engineName. A nil registry falls back to metrics.DefaultRegistry.
func NewMetricsListener(engineName string, registry *metrics.Registry) *MetricsListener {
	if registry == nil {
		registry = metrics.DefaultRegistry
	}
	return &MetricsListener{name: engineName, registry: registry}
}

func (m *MetricsListener) WorkAccepted(Event) {
	m.registry.WorkAccepted.WithLabelValues(m.name).Inc()
}

func (m *MetricsListener) WorkStarted(ev Event) {
	m.registry.WorkStarted.WithLabelValues(m.name).Inc()
	if !ev.AcceptedAt.IsZero() && !ev.StartedAt.IsZero() {
		m.registry.WorkStartLatency.WithLabelValues(m.name).Observe(ev.StartedAt.Sub(ev.AcceptedAt).Seconds())
	}
}

func (m *MetricsListener) WorkCompleted(ev Event) {
	m.registry.WorkCompleted.WithLabelValues(m.name).Inc()
	m.observeDuration(ev)
}

func (m *MetricsListener) WorkRejected(ev Event) {
	m.registry.WorkRejected.WithLabelValues(m.name, KindOf(ev.Err).String()).Inc()
	if KindOf(ev.Err) == KindActionFailure {
		m.observeDuration(ev)
	}
}

func (m *MetricsListener) observeDuration(ev Event) {
	if !ev.StartedAt.IsZero() && !ev.DoneAt.IsZero() {
		m.registry.WorkDuration.WithLabelValues(m.name).Observe(ev.DoneAt.Sub(ev.StartedAt).Seconds())
	}
}
