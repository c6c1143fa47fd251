package harness

import (
	"context"
	"net/http"
	"sync"

	"github.com/roach88/tillguard/internal/pos"
	"github.com/roach88/tillguard/internal/upstream"
)

// backend is the hosted cafe backend as the agent sees it. It dedupes
// orders by client id the way the real server does with the idempotency
// key.
type backend struct {
	mu       sync.Mutex
	menu     []pos.CachedMenuItem
	accepted []string
	seen     map[string]bool
	drop     map[string]bool
	reject   map[string]bool
}

func newBackend() *backend {
	return &backend{
		seen:   map[string]bool{},
		drop:   map[string]bool{},
		reject: map[string]bool{},
	}
}

func (b *backend) CreateOrder(_ context.Context, order pos.OfflineOrder) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.drop[order.ID] {
		delete(b.drop, order.ID)
		return "", &upstream.StatusError{
			Method: http.MethodPost, Path: "/api/orders",
			StatusCode: http.StatusServiceUnavailable, Body: "connection dropped",
		}
	}
	if b.reject[order.ID] {
		return "", &upstream.StatusError{
			Method: http.MethodPost, Path: "/api/orders",
			StatusCode: http.StatusUnprocessableEntity, Body: "unknown product",
		}
	}

	if !b.seen[order.ID] {
		b.seen[order.ID] = true
		b.accepted = append(b.accepted, order.ID)
	}
	return "srv-" + order.ID, nil
}

func (b *backend) FetchMenu(context.Context) ([]pos.CachedMenuItem, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]pos.CachedMenuItem(nil), b.menu...), nil
}

func (b *backend) setMenu(items []MenuItem) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.menu = make([]pos.CachedMenuItem, 0, len(items))
	for _, it := range items {
		b.menu = append(b.menu, pos.CachedMenuItem{ID: it.ID, Name: it.Name, Price: it.Price})
	}
}

func (b *backend) dropOnce(ids []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range ids {
		b.drop[id] = true
	}
}

func (b *backend) rejectAlways(ids []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range ids {
		b.reject[id] = true
	}
}

func (b *backend) acceptedIDs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string{}, b.accepted...)
}
