// Package connectivity decides whether the register is truly online by
// actively probing the upstream health endpoint, rather than trusting
// OS-reported network flags.
package connectivity

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/tillguard/internal/clock"
	"github.com/roach88/tillguard/internal/telemetry"
)

const (
	DefaultInterval = 10 * time.Second
	DefaultTimeout  = 5 * time.Second

	subscriberBuffer = 16
)

// Pinger performs one heartbeat. Any error means the upstream is unreachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc adapts a function to Pinger.
type PingerFunc func(ctx context.Context) error

// Ping calls f.
func (f PingerFunc) Ping(ctx context.Context) error { return f(ctx) }

// State is the observed connectivity.
type State struct {
	IsOnline bool `json:"is_online"`
	// WasOffline is true on exactly one emission: the first successful
	// heartbeat after a failure.
	WasOffline bool `json:"was_offline"`
	// OfflineSince is the time of the first failed heartbeat of the current
	// outage; nil while online.
	OfflineSince *time.Time `json:"offline_since,omitempty"`
}

// OfflineFor returns how long the register has been offline as of now.
func (s State) OfflineFor(now time.Time) time.Duration {
	if s.IsOnline || s.OfflineSince == nil {
		return 0
	}
	return now.Sub(*s.OfflineSince)
}

// Monitor runs heartbeats and publishes State changes to subscribers.
//
// Heartbeats are serialized: a new one never starts before the previous one
// has resolved or timed out.
type Monitor struct {
	pinger   Pinger
	interval time.Duration
	timeout  time.Duration
	clock    clock.Clock
	logger   *slog.Logger
	metrics  *telemetry.Metrics

	checkMu sync.Mutex // serializes heartbeats

	mu          sync.RWMutex
	state       State
	subscribers map[int]chan State
	nextSubID   int

	trigger chan struct{} // buffered, size 1
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithInterval sets the heartbeat period.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) { m.interval = d }
}

// WithTimeout sets the per-heartbeat timeout.
func WithTimeout(d time.Duration) Option {
	return func(m *Monitor) { m.timeout = d }
}

// WithClock sets the clock used to stamp OfflineSince.
func WithClock(c clock.Clock) Option {
	return func(m *Monitor) { m.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(mt *telemetry.Metrics) Option {
	return func(m *Monitor) { m.metrics = mt }
}

// New creates a Monitor. The initial state is online; the first heartbeat
// runs as soon as Run starts.
func New(pinger Pinger, opts ...Option) *Monitor {
	m := &Monitor{
		pinger:      pinger,
		interval:    DefaultInterval,
		timeout:     DefaultTimeout,
		clock:       clock.System{},
		logger:      slog.Default().With("component", "connectivity"),
		state:       State{IsOnline: true},
		subscribers: make(map[int]chan State),
		trigger:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Current returns the latest state. WasOffline is always false here; the
// recovery edge is only observable through Subscribe.
func (m *Monitor) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Subscribe returns a channel of state emissions and a cancel function.
// A subscriber that falls more than a small buffer behind has its backlog
// collapsed into the latest state rather than blocking the monitor. The
// collapsed state still carries a recovery edge the subscriber had not seen.
func (m *Monitor) Subscribe() (<-chan State, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextSubID
	m.nextSubID++
	ch := make(chan State, subscriberBuffer)
	m.subscribers[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			delete(m.subscribers, id)
			close(ch)
		})
	}
	return ch, cancel
}

// Trigger requests an immediate heartbeat, e.g. after an OS network event.
// It never changes state by itself. Multiple triggers coalesce.
func (m *Monitor) Trigger() {
	select {
	case m.trigger <- struct{}{}:
	default:
	}
}

// Check runs one heartbeat and folds the outcome into state. It never
// returns an error: failures are logged and become the offline state.
// A heartbeat interrupted by cancellation of ctx leaves state unchanged.
func (m *Monitor) Check(ctx context.Context) State {
	m.checkMu.Lock()
	defer m.checkMu.Unlock()

	pingCtx, cancel := context.WithTimeout(ctx, m.timeout)
	err := m.pinger.Ping(pingCtx)
	cancel()

	if err != nil && ctx.Err() != nil {
		return m.Current()
	}

	if err != nil {
		m.metrics.HeartbeatFailed(ctx)
		if errors.Is(err, context.DeadlineExceeded) {
			m.logger.DebugContext(ctx, "heartbeat timed out", "timeout", m.timeout)
		} else {
			m.logger.DebugContext(ctx, "heartbeat failed", "error", err)
		}
		return m.markOffline(ctx)
	}
	return m.markOnline(ctx)
}

func (m *Monitor) markOffline(ctx context.Context) State {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.state.IsOnline {
		return m.state
	}

	now := m.clock.Now()
	m.state = State{IsOnline: false, OfflineSince: &now}
	m.logger.WarnContext(ctx, "connection lost", "offline_since", now)
	m.metrics.ConnectivityChanged(ctx, false)
	m.publishLocked(m.state)
	return m.state
}

func (m *Monitor) markOnline(ctx context.Context) State {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.IsOnline {
		return m.state
	}

	outage := m.clock.Now().Sub(*m.state.OfflineSince)
	m.logger.InfoContext(ctx, "connection restored", "offline_for", outage)
	m.metrics.ConnectivityChanged(ctx, true)

	// The recovery edge is emitted once, then settled.
	m.publishLocked(State{IsOnline: true, WasOffline: true})
	m.state = State{IsOnline: true}
	m.publishLocked(m.state)

	return State{IsOnline: true, WasOffline: true}
}

func (m *Monitor) publishLocked(s State) {
	for _, ch := range m.subscribers {
		select {
		case ch <- s:
			continue
		default:
		}

		out, dropped := collapse(ch, s)
		select {
		case ch <- out:
		default:
		}
		m.logger.Warn("subscriber lagging, collapsed state emissions", "dropped", dropped)
	}
}

// collapse empties the backlog in ch and folds it into s: an online s
// becomes a recovery edge if the backlog held an outage or an edge.
func collapse(ch chan State, s State) (State, int) {
	dropped := 0
	for {
		select {
		case old := <-ch:
			dropped++
			if s.IsOnline && (old.WasOffline || !old.IsOnline) {
				s.WasOffline = true
			}
		default:
			return s, dropped
		}
	}
}

// Run heartbeats immediately, then every interval and on every Trigger,
// until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.InfoContext(ctx, "monitor started", "interval", m.interval, "timeout", m.timeout)
	m.Check(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Check(ctx)
		case <-m.trigger:
			m.Check(ctx)
		}
	}
}
