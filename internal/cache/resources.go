package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/roach88/tillguard/internal/pos"
)

// Default refresh periods.
const (
	DefaultMenuRefresh    = 5 * time.Minute
	DefaultKitchenRefresh = 15 * time.Second
)

// MenuStore persists the menu.
type MenuStore interface {
	CacheMenu(ctx context.Context, items []pos.CachedMenuItem) error
	GetCachedMenu(ctx context.Context) ([]pos.CachedMenuItem, error)
	GetMenuCacheAge(ctx context.Context) (*time.Time, error)
}

// MenuAPI fetches the live menu.
type MenuAPI interface {
	FetchMenu(ctx context.Context) ([]pos.CachedMenuItem, error)
}

// KitchenStore persists the kitchen display snapshot.
type KitchenStore interface {
	SaveKDSSnapshot(ctx context.Context, orders []pos.KDSOrderSnapshot) error
	GetKDSSnapshot(ctx context.Context) ([]pos.KDSOrderSnapshot, error)
	GetKDSSnapshotAge(ctx context.Context) (*time.Time, error)
}

// KitchenAPI fetches the live kitchen display.
type KitchenAPI interface {
	FetchKDS(ctx context.Context) ([]pos.KDSOrderSnapshot, error)
}

// Menu is network-first online and cache-only offline.
type Menu = Resource[pos.CachedMenuItem]

// Kitchen always tries the network and falls back to the last snapshot.
type Kitchen = Resource[pos.KDSOrderSnapshot]

// NewMenu creates the menu resource. A zero refresh uses DefaultMenuRefresh.
func NewMenu(s MenuStore, api MenuAPI, conn Online, refresh time.Duration, logger *slog.Logger) *Menu {
	if refresh == 0 {
		refresh = DefaultMenuRefresh
	}
	return &Menu{
		name:   "menu",
		fetch:  api.FetchMenu,
		save:   s.CacheMenu,
		load:   s.GetCachedMenu,
		age:    s.GetMenuCacheAge,
		conn:   conn,
		policy: Policy{SkipNetworkWhenOffline: true, RefreshInterval: refresh},
		logger: loggerOrDefault(logger),
	}
}

// NewKitchen creates the kitchen display resource. A zero refresh uses
// DefaultKitchenRefresh.
func NewKitchen(s KitchenStore, api KitchenAPI, conn Online, refresh time.Duration, logger *slog.Logger) *Kitchen {
	if refresh == 0 {
		refresh = DefaultKitchenRefresh
	}
	return &Kitchen{
		name:   "kds",
		fetch:  api.FetchKDS,
		save:   s.SaveKDSSnapshot,
		load:   s.GetKDSSnapshot,
		age:    s.GetKDSSnapshotAge,
		conn:   conn,
		policy: Policy{SkipNetworkWhenOffline: false, RefreshInterval: refresh},
		logger: loggerOrDefault(logger),
	}
}

func loggerOrDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		l = slog.Default()
	}
	return l.With("component", "cache")
}
