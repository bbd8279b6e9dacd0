package expiry

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/vnykmshr/gowork/pkg/common/validation"
	"github.com/vnykmshr/gowork/pkg/metrics"
)

// DefaultInterval is how often a Monitor scans for expired handles when
// Config.Interval is not set.
const DefaultInterval = 100 * time.Millisecond

// Expirable is notified once when its registration expires.
type Expirable interface {
	Expire()
}

// ExpirableFunc adapts a function to the Expirable interface.
type ExpirableFunc func()

// Expire implements Expirable.
func (f ExpirableFunc) Expire() {
	f()
}

// Handle identifies one registration on a Monitor.
type Handle struct {
	duration time.Duration
	target   Expirable

	// guarded by the owning monitor's mutex
	deadline time.Time
}

// Duration returns the duration the handle was registered with.
func (h *Handle) Duration() time.Duration {
	return h.duration
}

// Config holds monitor configuration.
type Config struct {
	// Name labels log lines and metrics.
	Name string

	// Interval is how often the monitor scans (default: 100ms).
	Interval time.Duration

	// Logger receives panics raised by Expire callbacks (default: slog.Default()).
	Logger *slog.Logger

	// Metrics, when set, tracks registered and fired handles.
	Metrics *metrics.Registry

	// Now overrides the time source.
	Now func() time.Time
}

// Monitor fires Expirable callbacks once their deadline passes, unless the
// registration was reset or removed first.
//
// A single mutex serialises the scan's decision to fire with Reset and
// Remove. Once the scan has claimed a handle, Reset and Remove on it return
// false and the callback runs exactly once, outside the lock.
type Monitor struct {
	name     string
	interval time.Duration
	logger   *slog.Logger
	metrics  *metrics.Registry
	now      func() time.Time

	mu      sync.Mutex
	handles map[*Handle]struct{}
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New creates a monitor. Call Start to begin scanning.
func New(cfg Config) *Monitor {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	name := cfg.Name
	if name == "" {
		name = "expiry"
	}

	return &Monitor{
		name:     name,
		interval: interval,
		logger:   logger.With("monitor", name),
		metrics:  cfg.Metrics,
		now:      now,
		handles:  make(map[*Handle]struct{}),
	}
}

// Register arranges for target to be expired d from now.
func (m *Monitor) Register(d time.Duration, target Expirable) (*Handle, error) {
	if err := validation.ValidatePositiveDuration("expiry", "duration", d); err != nil {
		return nil, err
	}
	if err := validation.ValidateNotNil("expiry", "target", target); err != nil {
		return nil, err
	}

	h := &Handle{duration: d, target: target}

	m.mu.Lock()
	h.deadline = m.now().Add(d)
	m.handles[h] = struct{}{}
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.ExpiryRegistered.WithLabelValues(m.name).Inc()
	}
	return h, nil
}

// RegisterFunc is Register with a plain function callback.
func (m *Monitor) RegisterFunc(d time.Duration, fn func()) (*Handle, error) {
	if fn == nil {
		return nil, validation.ValidateNotNil("expiry", "callback", nil)
	}
	return m.Register(d, ExpirableFunc(fn))
}

// Reset moves the deadline of h to now plus its original duration.
// It returns false if h has fired, is about to fire or was removed.
func (m *Monitor) Reset(h *Handle) bool {
	if h == nil {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.handles[h]; !ok {
		return false
	}
	h.deadline = m.now().Add(h.duration)
	return true
}

// Remove cancels h. It returns false if h has fired or is about to fire:
// once a scan has claimed h its callback runs even if Remove races with it.
// It also returns false if h was already removed.
func (m *Monitor) Remove(h *Handle) bool {
	if h == nil {
		return false
	}

	m.mu.Lock()
	_, ok := m.handles[h]
	delete(m.handles, h)
	m.mu.Unlock()

	if ok && m.metrics != nil {
		m.metrics.ExpiryRegistered.WithLabelValues(m.name).Dec()
	}
	return ok
}

// IsRegistered reports whether h is still waiting to expire.
func (m *Monitor) IsRegistered(h *Handle) bool {
	if h == nil {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.handles[h]
	return ok
}

// Len returns the number of registered handles.
func (m *Monitor) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handles)
}

// Start launches the background scan.
func (m *Monitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("monitor %q already running, call Stop() first", m.name)
	}

	m.running = true
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})

	go m.run(m.stopCh, m.doneCh)
	return nil
}

// Stop halts the background scan. Registered handles are kept and fire on
// the next Start. The returned channel closes once the scan goroutine exits.
func (m *Monitor) Stop() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		done := make(chan struct{})
		close(done)
		return done
	}

	m.running = false
	close(m.stopCh)
	return m.doneCh
}

func (m *Monitor) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.Scan()
		}
	}
}

// Scan fires every handle whose deadline has passed and returns how many
// fired. It is called by the background loop and may be called directly.
func (m *Monitor) Scan() int {
	now := m.now()

	m.mu.Lock()
	if len(m.handles) == 0 {
		m.mu.Unlock()
		return 0
	}

	var due []*Handle
	for h := range m.handles {
		if !now.Before(h.deadline) {
			due = append(due, h)
			delete(m.handles, h)
		}
	}
	m.mu.Unlock()

	for _, h := range due {
		m.fire(h)
	}

	if len(due) > 0 && m.metrics != nil {
		m.metrics.ExpiryRegistered.WithLabelValues(m.name).Sub(float64(len(due)))
		m.metrics.ExpiryFired.WithLabelValues(m.name).Add(float64(len(due)))
	}
	return len(due)
}

func (m *Monitor) fire(h *Handle) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("expire callback panicked",
				"panic", r,
				"duration", h.duration,
				"stack", string(debug.Stack()))
		}
	}()
	h.target.Expire()
}
