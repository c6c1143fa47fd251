package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// ErrClosed is returned when publishing on a closed transport.
var ErrClosed = errors.New("relay transport closed")

// Transport moves raw payloads between devices.
type Transport interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (Subscription, error)
}

// Subscription delivers payloads until closed. The channel returned by
// Payloads is closed by Close.
type Subscription interface {
	Payloads() <-chan []byte
	Close() error
}

const memoryBuffer = 64

// MemoryTransport delivers payloads between subscribers of one process.
// A subscriber that falls behind loses payloads instead of blocking others.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type MemoryTransport struct {
	mu     sync.Mutex
	subs   map[string]map[*memorySub]struct{}
	closed bool
}

// NewMemoryTransport creates an empty in-process transport.
func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{subs: make(map[string]map[*memorySub]struct{})}
}

// Publish delivers payload to every current subscriber of channel.
func (t *MemoryTransport) Publish(_ context.Context, channel string, payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosed
	}
	for sub := range t.subs[channel] {
		select {
		case sub.ch <- append([]byte(nil), payload...):
		default:
		}
	}
	return nil
}

// Subscribe registers a subscriber on channel.
func (t *MemoryTransport) Subscribe(_ context.Context, channel string) (Subscription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, ErrClosed
	}
	sub := &memorySub{t: t, channel: channel, ch: make(chan []byte, memoryBuffer)}
	if t.subs[channel] == nil {
		t.subs[channel] = make(map[*memorySub]struct{})
	}
	t.subs[channel][sub] = struct{}{}
	return sub, nil
}

// Subscribers returns the number of open subscriptions on channel.
func (t *MemoryTransport) Subscribers(channel string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs[channel])
}

// Close closes every subscription.
func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closed = true
	for _, subs := range t.subs {
		for sub := range subs {
			sub.closeLocked()
		}
	}
	t.subs = make(map[string]map[*memorySub]struct{})
	return nil
}

type memorySub struct {
	t       *MemoryTransport
	channel string
	ch      chan []byte
	once    sync.Once
}

func (s *memorySub) Payloads() <-chan []byte { return s.ch }

func (s *memorySub) Close() error {
	s.t.mu.Lock()
	defer s.t.mu.Unlock()
	s.closeLocked()
	return nil
}

func (s *memorySub) closeLocked() {
	s.once.Do(func() {
		delete(s.t.subs[s.channel], s)
		close(s.ch)
	})
}

// RedisTransport carries payloads over Redis pub/sub so a scanner and a
// register on different hosts can talk through the site's Redis.
type RedisTransport struct {
	client redis.UniversalClient
	prefix string
	logger *slog.Logger
}

// NewRedisTransport creates a transport on client. Channel names are
// prefixed with prefix and a colon.
func NewRedisTransport(client redis.UniversalClient, prefix string, logger *slog.Logger) *RedisTransport {
	if prefix == "" {
		prefix = "tillguard:relay"
	}
	if logger == nil {
		logger = slog.Default().With("component", "relay")
	}
	return &RedisTransport{client: client, prefix: prefix, logger: logger}
}

func (t *RedisTransport) channel(name string) string {
	return t.prefix + ":" + name
}

// Publish sends payload to channel.
func (t *RedisTransport) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := t.client.Publish(ctx, t.channel(channel), payload).Err(); err != nil {
		return fmt.Errorf("relay publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe waits for Redis to confirm the subscription before returning,
// so a Publish that follows is not missed.
func (t *RedisTransport) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	ps := t.client.Subscribe(ctx, t.channel(channel))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("relay subscribe %s: %w", channel, err)
	}

	t.logger.DebugContext(ctx, "relay subscribed", "channel", t.channel(channel))

	sub := &redisSub{ps: ps, ch: make(chan []byte, memoryBuffer), done: make(chan struct{})}
	go sub.pump()
	return sub, nil
}

type redisSub struct {
	ps   *redis.PubSub
	ch   chan []byte
	done chan struct{}
	once sync.Once
}

func (s *redisSub) pump() {
	defer close(s.ch)
	msgs := s.ps.Channel()
	for {
		select {
		case <-s.done:
			return
		case m, ok := <-msgs:
			if !ok {
				return
			}
			select {
			case s.ch <- []byte(m.Payload):
			case <-s.done:
				return
			}
		}
	}
}

func (s *redisSub) Payloads() <-chan []byte { return s.ch }

func (s *redisSub) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}
