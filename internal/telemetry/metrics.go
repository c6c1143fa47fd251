package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records agent activity. A nil *Metrics records nothing.
type Metrics struct {
	ordersSubmitted   metric.Int64Counter
	ordersQueued      metric.Int64Counter
	ordersSynced      metric.Int64Counter
	syncFailures      metric.Int64Counter
	syncDuration      metric.Float64Histogram
	heartbeatFailures metric.Int64Counter
	transitions       metric.Int64Counter
	rateLimited       metric.Int64Counter
	relayDropped      metric.Int64Counter
}

// NewMetrics creates the agent instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	var (
		m   Metrics
		err error
	)

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
		unit string
	}{
		{&m.ordersSubmitted, "tillguard.orders.submitted", "Orders accepted by the server on first attempt", "{order}"},
		{&m.ordersQueued, "tillguard.orders.queued", "Orders placed in the offline queue", "{order}"},
		{&m.ordersSynced, "tillguard.orders.synced", "Queued orders accepted by the server during sync", "{order}"},
		{&m.syncFailures, "tillguard.sync.failures", "Queued orders that failed to sync", "{order}"},
		{&m.heartbeatFailures, "tillguard.heartbeat.failures", "Failed heartbeats", "{heartbeat}"},
		{&m.transitions, "tillguard.connectivity.transitions", "Online/offline transitions", "{transition}"},
		{&m.rateLimited, "tillguard.ratelimit.denied", "Requests denied by the rate limiter", "{request}"},
		{&m.relayDropped, "tillguard.relay.dropped", "Relay messages dropped as duplicate or out of order", "{message}"},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name,
			metric.WithDescription(c.desc),
			metric.WithUnit(c.unit),
		)
		if err != nil {
			return nil, err
		}
	}

	m.syncDuration, err = meter.Float64Histogram("tillguard.sync.duration",
		metric.WithDescription("Duration of a full queue sync in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60),
	)
	if err != nil {
		return nil, err
	}

	return &m, nil
}

// OrderSubmitted records an order accepted online without queueing.
func (m *Metrics) OrderSubmitted(ctx context.Context, method string) {
	if m == nil {
		return
	}
	m.ordersSubmitted.Add(ctx, 1, metric.WithAttributes(attribute.String("payment_method", method)))
}

// OrderQueued records an order placed in the offline queue.
func (m *Metrics) OrderQueued(ctx context.Context, method string) {
	if m == nil {
		return
	}
	m.ordersQueued.Add(ctx, 1, metric.WithAttributes(attribute.String("payment_method", method)))
}

// SyncCompleted records the outcome of one sync pass.
func (m *Metrics) SyncCompleted(ctx context.Context, synced, failed int, d time.Duration) {
	if m == nil {
		return
	}
	m.ordersSynced.Add(ctx, int64(synced))
	m.syncFailures.Add(ctx, int64(failed))
	m.syncDuration.Record(ctx, d.Seconds())
}

// HeartbeatFailed records a failed heartbeat.
func (m *Metrics) HeartbeatFailed(ctx context.Context) {
	if m == nil {
		return
	}
	m.heartbeatFailures.Add(ctx, 1)
}

// ConnectivityChanged records a transition to online or offline.
func (m *Metrics) ConnectivityChanged(ctx context.Context, online bool) {
	if m == nil {
		return
	}
	state := "offline"
	if online {
		state = "online"
	}
	m.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("to", state)))
}

// RateLimited records a denied request for policy.
func (m *Metrics) RateLimited(ctx context.Context, policy string) {
	if m == nil {
		return
	}
	m.rateLimited.Add(ctx, 1, metric.WithAttributes(attribute.String("policy", policy)))
}

// RelayDropped records a relay message discarded by the sequencer.
func (m *Metrics) RelayDropped(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.relayDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}
