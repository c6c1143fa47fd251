// Package cache serves the menu and the kitchen display from the network
// when it can and from the local store when it cannot.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/tillguard/internal/connectivity"
)

// Source says where a Result came from.
type Source string

const (
	SourceLive   Source = "live"
	SourceCached Source = "cached"
	SourceEmpty  Source = "empty" // nothing live and nothing cached
)

// Result is a resource read.
type Result[T any] struct {
	Items    []T        `json:"items"`
	Source   Source     `json:"source"`
	CachedAt *time.Time `json:"cached_at,omitempty"`
	// FetchError is the network failure that forced a cache read, if any.
	FetchError string `json:"fetch_error,omitempty"`
}

// Policy controls when a Resource touches the network.
type Policy struct {
	// SkipNetworkWhenOffline reads straight from the cache while the
	// monitor reports offline.
	SkipNetworkWhenOffline bool
	// RefreshInterval is the background refresh period of Run. Zero
	// disables background refresh.
	RefreshInterval time.Duration
}

// Online reports the current connectivity.
type Online interface {
	Current() connectivity.State
}

// Resource is a cached list fetched from upstream and mirrored locally.
type Resource[T any] struct {
	name   string
	fetch  func(context.Context) ([]T, error)
	save   func(context.Context, []T) error
	load   func(context.Context) ([]T, error)
	age    func(context.Context) (*time.Time, error)
	conn   Online
	policy Policy
	logger *slog.Logger
}

// Load returns live data when the policy allows a fetch and it succeeds,
// refreshing the cache on the way. Otherwise it returns the cached copy.
// A cache miss is an empty result, not an error; only storage failures are
// returned.
func (r *Resource[T]) Load(ctx context.Context) (Result[T], error) {
	var fetchErr error
	if r.conn.Current().IsOnline || !r.policy.SkipNetworkWhenOffline {
		items, err := r.fetch(ctx)
		if err == nil {
			if err := r.save(ctx, items); err != nil {
				r.logger.WarnContext(ctx, "cache write failed", "resource", r.name, "error", err)
			}
			if items == nil {
				items = []T{}
			}
			return Result[T]{Items: items, Source: SourceLive}, nil
		}
		if ctx.Err() != nil {
			return Result[T]{}, fmt.Errorf("load %s: %w", r.name, ctx.Err())
		}
		fetchErr = err
		r.logger.DebugContext(ctx, "live fetch failed, serving cache", "resource", r.name, "error", err)
	}

	res, err := r.Cached(ctx)
	if err != nil {
		return Result[T]{}, err
	}
	if fetchErr != nil {
		res.FetchError = fetchErr.Error()
	}
	return res, nil
}

// Cached returns the cached copy without touching the network.
func (r *Resource[T]) Cached(ctx context.Context) (Result[T], error) {
	items, err := r.load(ctx)
	if err != nil {
		return Result[T]{}, fmt.Errorf("load cached %s: %w", r.name, err)
	}
	at, err := r.age(ctx)
	if err != nil {
		return Result[T]{}, fmt.Errorf("load cached %s: %w", r.name, err)
	}

	source := SourceCached
	if at == nil && len(items) == 0 {
		source = SourceEmpty
	}
	if items == nil {
		items = []T{}
	}
	return Result[T]{Items: items, Source: source, CachedAt: at}, nil
}

// Refresh fetches and caches without falling back.
func (r *Resource[T]) Refresh(ctx context.Context) (int, error) {
	items, err := r.fetch(ctx)
	if err != nil {
		return 0, fmt.Errorf("refresh %s: %w", r.name, err)
	}
	if err := r.save(ctx, items); err != nil {
		return 0, fmt.Errorf("refresh %s: %w", r.name, err)
	}
	return len(items), nil
}

// Run refreshes the cache immediately and then every RefreshInterval while
// online, until ctx is done. Failures are logged and retried next period.
func (r *Resource[T]) Run(ctx context.Context) error {
	if r.policy.RefreshInterval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(r.policy.RefreshInterval)
	defer ticker.Stop()

	for {
		if r.conn.Current().IsOnline {
			if n, err := r.Refresh(ctx); err != nil {
				if ctx.Err() == nil {
					r.logger.WarnContext(ctx, "background refresh failed", "resource", r.name, "error", err)
				}
			} else {
				r.logger.DebugContext(ctx, "cache refreshed", "resource", r.name, "items", n)
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
