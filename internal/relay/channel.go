package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/roach88/tillguard/internal/clock"
	"github.com/roach88/tillguard/internal/telemetry"
)

// DefaultChannel is the channel parcel intake devices share.
const DefaultChannel = "parcel_sync"

// Handler receives every accepted message.
type Handler func(ctx context.Context, m Message)

// Channel is one device's endpoint on a relay channel. Every message it
// sends carries the channel's sender id and the next sequence number.
type Channel struct {
	transport Transport
	name      string
	sender    string
	clock     clock.Clock
	logger    *slog.Logger
	metrics   *telemetry.Metrics

	seq atomic.Int64
}

// Option configures a Channel.
type Option func(*Channel)

// WithSender replaces the generated sender id.
func WithSender(id string) Option {
	return func(c *Channel) { c.sender = id }
}

// WithClock sets the clock used to stamp SentAt.
func WithClock(cl clock.Clock) Option {
	return func(c *Channel) { c.clock = cl }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Channel) { c.logger = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *Channel) { c.metrics = m }
}

// NewChannel joins the named channel on t. An empty name means
// DefaultChannel.
func NewChannel(t Transport, name string, opts ...Option) *Channel {
	if name == "" {
		name = DefaultChannel
	}
	c := &Channel{
		transport: t,
		name:      name,
		sender:    "dev-" + uuid.NewString(),
		clock:     clock.System{},
		logger:    slog.Default().With("component", "relay", "channel", name),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Sender returns this endpoint's sender id.
func (c *Channel) Sender() string {
	return c.sender
}

// Send validates m, stamps it and broadcasts it. The stamped message is
// returned.
func (c *Channel) Send(ctx context.Context, m Message) (Message, error) {
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	m.Sender = c.sender
	m.Seq = c.seq.Add(1)
	m.SentAt = c.clock.Now().UTC()

	payload, err := json.Marshal(m)
	if err != nil {
		return Message{}, fmt.Errorf("relay send %s: %w", m.Kind, err)
	}
	if err := c.transport.Publish(ctx, c.name, payload); err != nil {
		return Message{}, fmt.Errorf("relay send %s: %w", m.Kind, err)
	}
	return m, nil
}

// Listen delivers messages from other senders to h until ctx is done.
// Own messages are skipped. A message whose seq is not above the last one
// seen from its sender is dropped as stale, so a burst of keystrokes is
// never applied out of order. Undecodable payloads are logged and skipped.
func (c *Channel) Listen(ctx context.Context, h Handler) error {
	sub, err := c.transport.Subscribe(ctx, c.name)
	if err != nil {
		return err
	}
	defer sub.Close()

	filter := newSeqFilter()
	payloads := sub.Payloads()

	for {
		select {
		case <-ctx.Done():
			return nil
		case raw, ok := <-payloads:
			if !ok {
				return nil
			}
			var m Message
			if err := json.Unmarshal(raw, &m); err != nil {
				c.logger.WarnContext(ctx, "dropping undecodable relay payload", "error", err)
				c.metrics.RelayDropped(ctx, "malformed")
				continue
			}
			if m.Sender == c.sender {
				continue
			}
			if !m.Kind.Valid() {
				c.logger.WarnContext(ctx, "dropping relay message of unknown kind", "kind", m.Kind, "sender", m.Sender)
				c.metrics.RelayDropped(ctx, "unknown")
				continue
			}
			if !filter.accept(m.Sender, m.Seq) {
				c.logger.DebugContext(ctx, "dropping stale relay message",
					"kind", m.Kind, "sender", m.Sender, "seq", m.Seq)
				c.metrics.RelayDropped(ctx, string(m.Kind))
				continue
			}
			h(ctx, m)
		}
	}
}

// seqFilter remembers the highest seq seen per sender.
type seqFilter struct {
	mu   sync.Mutex
	last map[string]int64
}

func newSeqFilter() *seqFilter {
	return &seqFilter{last: make(map[string]int64)}
}

func (f *seqFilter) accept(sender string, seq int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if seq <= f.last[sender] {
		return false
	}
	f.last[sender] = seq
	return true
}
