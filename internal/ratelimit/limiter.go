// Package ratelimit provides keyed token buckets for the agent's HTTP
// surface. Buckets refill lazily from elapsed time on each call; a sweep
// evicts buckets that have refilled to capacity so idle keys do not pile up.
//
// The in-memory Limiter is owned by the serving process and started with
// Run. RedisLimiter shares buckets between several agents on one site.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/roach88/tillguard/internal/clock"
)

// DefaultSweepInterval is how often idle buckets are evicted.
const DefaultSweepInterval = 5 * time.Minute

// Policy is a token bucket shape: Capacity tokens, refilled by Refill tokens
// every Interval.
type Policy struct {
	Name     string        `json:"name" yaml:"name"`
	Capacity int           `json:"capacity" yaml:"capacity"`
	Refill   int           `json:"refill" yaml:"refill"`
	Interval time.Duration `json:"interval" yaml:"interval"`
}

// Preset policies.
var (
	// TTS limits speech synthesis requests.
	TTS = Policy{Name: "tts", Capacity: 10, Refill: 2, Interval: time.Second}
	// Chat limits assistant chat requests.
	Chat = Policy{Name: "chat", Capacity: 8, Refill: 1, Interval: time.Second}
	// Order limits order placement.
	Order = Policy{Name: "order", Capacity: 3, Refill: 1, Interval: 5 * time.Second}
)

// Validate checks the policy shape.
func (p Policy) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("rate limit policy: name is required")
	}
	if p.Capacity <= 0 || p.Refill <= 0 || p.Interval <= 0 {
		return fmt.Errorf("rate limit policy %q: capacity, refill and interval must be positive", p.Name)
	}
	return nil
}

// PerSecond returns the refill rate in tokens per second.
func (p Policy) PerSecond() float64 {
	return float64(p.Refill) / p.Interval.Seconds()
}

// Decision is the outcome of one Consume.
type Decision struct {
	Allowed    bool          `json:"allowed"`
	Remaining  int           `json:"remaining"`
	RetryAfter time.Duration `json:"retry_after"`
}

// Backend consumes one token for key.
type Backend interface {
	Consume(ctx context.Context, key string) (Decision, error)
}

// retryAfter is the wait until one full token is available.
func retryAfter(p Policy, tokens float64) time.Duration {
	deficit := 1 - tokens
	if deficit <= 0 {
		return 0
	}
	ms := math.Ceil(deficit / p.PerSecond() * 1000)
	return time.Duration(ms) * time.Millisecond
}

// Limiter is an in-memory keyed token bucket.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type Limiter struct {
	policy Policy
	clock  clock.Clock
	logger *slog.Logger
	sweep  time.Duration

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock sets the clock used for refill.
func WithClock(c clock.Clock) Option {
	return func(l *Limiter) { l.clock = c }
}

// WithLogger sets the logger.
func WithLogger(lg *slog.Logger) Option {
	return func(l *Limiter) { l.logger = lg }
}

// WithSweepInterval sets how often Run evicts idle buckets.
func WithSweepInterval(d time.Duration) Option {
	return func(l *Limiter) { l.sweep = d }
}

// New creates a Limiter for p.
func New(p Policy, opts ...Option) (*Limiter, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	l := &Limiter{
		policy:  p,
		clock:   clock.System{},
		logger:  slog.Default().With("component", "ratelimit", "policy", p.Name),
		sweep:   DefaultSweepInterval,
		buckets: make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Policy returns the limiter's policy.
func (l *Limiter) Policy() Policy {
	return l.policy
}

func (l *Limiter) bucketLocked(key string) *rate.Limiter {
	b, ok := l.buckets[key]
	if !ok {
		b = rate.NewLimiter(rate.Limit(l.policy.PerSecond()), l.policy.Capacity)
		l.buckets[key] = b
	}
	return b
}

// Consume takes one token for key. A refused call reports how long to wait
// for the next token.
func (l *Limiter) Consume(_ context.Context, key string) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	b := l.bucketLocked(key)

	if b.AllowN(now, 1) {
		return Decision{Allowed: true, Remaining: int(b.TokensAt(now))}, nil
	}
	return Decision{
		Allowed:    false,
		Remaining:  0,
		RetryAfter: retryAfter(l.policy, b.TokensAt(now)),
	}, nil
}

// Remaining returns the whole tokens left for key without consuming one.
func (l *Limiter) Remaining(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return int(l.bucketLocked(key).TokensAt(l.clock.Now()))
}

// Reset forgets key; its next call starts from a full bucket.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, key)
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Sweep evicts every bucket that has refilled to capacity and returns how
// many were removed. An evicted key behaves exactly like a fresh one.
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	removed := 0
	for key, b := range l.buckets {
		if b.TokensAt(now) >= float64(l.policy.Capacity) {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}

// Run sweeps on the configured interval until ctx is done.
func (l *Limiter) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.sweep)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := l.Sweep(); n > 0 {
				l.logger.DebugContext(ctx, "swept idle buckets", "removed", n)
			}
		}
	}
}
