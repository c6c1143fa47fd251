package cli

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tillguard/internal/cache"
	"github.com/roach88/tillguard/internal/engine"
	"github.com/roach88/tillguard/internal/pos"
	"github.com/roach88/tillguard/internal/store"
)

func TestQueueList_Empty(t *testing.T) {
	cfgPath, _ := writeConfig(t, unreachableURL, "")

	out, _, err := execute(t, "queue", "list", "--config", cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "Queue is empty\n", out)
}

func TestQueueList_JSON(t *testing.T) {
	cfgPath, dbPath := writeConfig(t, unreachableURL, "")
	withStore(t, dbPath, func(s *store.Store) {
		ctx := context.Background()
		require.NoError(t, s.QueueOfflineOrder(ctx, cashOrder("ord-1", "", 450, 0)))
		require.NoError(t, s.QueueOfflineOrder(ctx, cashOrder("ord-2", "", 300, time.Minute)))
		require.NoError(t, s.MarkOrderSynced(ctx, "ord-1"))
	})

	out, _, err := execute(t, "queue", "list", "--config", cfgPath, "--format", "json")
	require.NoError(t, err)

	var result QueueListResult
	resp := decodeResponse(t, out, &result)
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, result.Orders, 2)
	assert.Equal(t, "ord-1", result.Orders[0].ID)
	assert.True(t, result.Orders[0].Synced)
	assert.Equal(t, 1, result.Unsynced)
}

func TestQueueList_Text(t *testing.T) {
	cfgPath, dbPath := writeConfig(t, unreachableURL, "")
	withStore(t, dbPath, func(s *store.Store) {
		require.NoError(t, s.QueueOfflineOrder(context.Background(), cashOrder("ord-1", "", 123450, 0)))
	})

	out, _, err := execute(t, "queue", "list", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "ord-1")
	assert.Contains(t, out, "$1,234.50")
	assert.Contains(t, out, "1 order(s), 1 waiting to sync")
}

func TestQueueClearSynced(t *testing.T) {
	cfgPath, dbPath := writeConfig(t, unreachableURL, "")
	withStore(t, dbPath, func(s *store.Store) {
		ctx := context.Background()
		require.NoError(t, s.QueueOfflineOrder(ctx, cashOrder("ord-1", "", 450, 0)))
		require.NoError(t, s.QueueOfflineOrder(ctx, cashOrder("ord-2", "", 300, time.Minute)))
		require.NoError(t, s.MarkOrderSynced(ctx, "ord-1"))
	})

	out, _, err := execute(t, "queue", "clear-synced", "--config", cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "Cleared 1 synced order(s)\n", out)

	withStore(t, dbPath, func(s *store.Store) {
		orders, err := s.GetOfflineOrders(context.Background())
		require.NoError(t, err)
		require.Len(t, orders, 1)
		assert.Equal(t, "ord-2", orders[0].ID)
	})
}

func TestDatabaseFlagOverridesConfig(t *testing.T) {
	cfgPath, _ := writeConfig(t, unreachableURL, "")
	_, otherDB := writeConfig(t, unreachableURL, "")
	withStore(t, otherDB, func(s *store.Store) {
		require.NoError(t, s.QueueOfflineOrder(context.Background(), cashOrder("ord-9", "", 450, 0)))
	})

	out, _, err := execute(t, "queue", "list", "--config", cfgPath, "--db", otherDB)
	require.NoError(t, err)
	assert.Contains(t, out, "ord-9")
}

func TestSync_SubmitsQueuedOrders(t *testing.T) {
	backend := newFakeBackend(t)
	cfgPath, dbPath := writeConfig(t, backend.URL(), "")
	withStore(t, dbPath, func(s *store.Store) {
		ctx := context.Background()
		require.NoError(t, s.QueueOfflineOrder(ctx, cashOrder("ord-1", "", 450, 0)))
		require.NoError(t, s.QueueOfflineOrder(ctx, cashOrder("ord-2", "", 300, time.Minute)))
	})

	out, _, err := execute(t, "sync", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Synced 2 of 2 order(s)")
	assert.Equal(t, []string{"ord-1", "ord-2"}, backend.Keys())

	withStore(t, dbPath, func(s *store.Store) {
		n, err := s.CountUnsyncedOrders(context.Background())
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestSync_PartialFailureExitsOne(t *testing.T) {
	backend := newFakeBackend(t)
	backend.Reject("ord-2")
	cfgPath, dbPath := writeConfig(t, backend.URL(), "")
	withStore(t, dbPath, func(s *store.Store) {
		ctx := context.Background()
		require.NoError(t, s.QueueOfflineOrder(ctx, cashOrder("ord-1", "", 450, 0)))
		require.NoError(t, s.QueueOfflineOrder(ctx, cashOrder("ord-2", "", 300, time.Minute)))
		require.NoError(t, s.QueueOfflineOrder(ctx, cashOrder("ord-3", "", 200, 2*time.Minute)))
	})

	out, _, err := execute(t, "sync", "--config", cfgPath, "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "1 order(s) failed to sync")

	var report engine.Report
	decodeResponse(t, out, &report)
	assert.Equal(t, 3, report.Attempted)
	assert.Equal(t, 2, report.Synced)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, "ord-2", report.Failed[0].OrderID)
	assert.False(t, report.Failed[0].Retryable)

	withStore(t, dbPath, func(s *store.Store) {
		orders, err := s.GetUnsyncedOrders(context.Background())
		require.NoError(t, err)
		require.Len(t, orders, 1)
		assert.Equal(t, "ord-2", orders[0].ID)
	})
}

func TestSync_EmptyQueue(t *testing.T) {
	backend := newFakeBackend(t)
	cfgPath, _ := writeConfig(t, backend.URL(), "")

	out, _, err := execute(t, "sync", "--config", cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "Nothing to sync\n", out)
}

func TestSync_Unreachable(t *testing.T) {
	cfgPath, dbPath := writeConfig(t, unreachableURL, "")
	withStore(t, dbPath, func(s *store.Store) {
		require.NoError(t, s.QueueOfflineOrder(context.Background(), cashOrder("ord-1", "", 450, 0)))
	})

	out, _, err := execute(t, "sync", "--config", cfgPath)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [E004]")

	withStore(t, dbPath, func(s *store.Store) {
		n, err := s.CountUnsyncedOrders(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})
}

func TestMenuShow_LiveThenCached(t *testing.T) {
	backend := newFakeBackend(t)
	cfgPath, _ := writeConfig(t, backend.URL(), "")

	out, _, err := execute(t, "menu", "show", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Source: live")
	assert.Contains(t, out, "Latte")
	assert.Contains(t, out, "$4.50")

	backend.down.Store(true)

	out, _, err = execute(t, "menu", "show", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Source: cache from")
	assert.Contains(t, out, "Backend:")
	assert.Contains(t, out, "Tea")
}

func TestMenuShow_CachedOnly(t *testing.T) {
	cfgPath, _ := writeConfig(t, unreachableURL, "")

	out, _, err := execute(t, "menu", "show", "--cached", "--config", cfgPath, "--format", "json")
	require.NoError(t, err)

	var res cache.Result[pos.CachedMenuItem]
	decodeResponse(t, out, &res)
	assert.Equal(t, cache.SourceEmpty, res.Source)
	assert.Empty(t, res.Items)
}

func TestMenuRefresh(t *testing.T) {
	backend := newFakeBackend(t)
	cfgPath, dbPath := writeConfig(t, backend.URL(), "")

	out, _, err := execute(t, "menu", "refresh", "--config", cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "Cached 2 menu item(s)\n", out)

	withStore(t, dbPath, func(s *store.Store) {
		items, err := s.GetCachedMenu(context.Background())
		require.NoError(t, err)
		assert.Len(t, items, 2)
	})
}

func TestMenuRefresh_FailureKeepsCache(t *testing.T) {
	backend := newFakeBackend(t)
	cfgPath, dbPath := writeConfig(t, backend.URL(), "")

	_, _, err := execute(t, "menu", "refresh", "--config", cfgPath)
	require.NoError(t, err)

	backend.down.Store(true)
	_, _, err = execute(t, "menu", "refresh", "--config", cfgPath)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	withStore(t, dbPath, func(s *store.Store) {
		items, err := s.GetCachedMenu(context.Background())
		require.NoError(t, err)
		assert.Len(t, items, 2)
	})
}

func TestKDSShow(t *testing.T) {
	backend := newFakeBackend(t)
	cfgPath, _ := writeConfig(t, backend.URL(), "")

	out, _, err := execute(t, "kds", "show", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Source: live")
	assert.Contains(t, out, "o1  preparing  Ada")
	assert.Contains(t, out, "Latte (milk: oat)")

	out, _, err = execute(t, "kds", "show", "--cached", "--config", cfgPath, "--format", "json")
	require.NoError(t, err)

	var res cache.Result[pos.KDSOrderSnapshot]
	decodeResponse(t, out, &res)
	assert.Equal(t, cache.SourceCached, res.Source)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "o1", res.Items[0].ID)
}

func TestExposure_NoSession(t *testing.T) {
	cfgPath, _ := writeConfig(t, unreachableURL, "")

	out, _, err := execute(t, "exposure", "--config", cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "No offline session open\n", out)
}

func TestExposure_OpenSession(t *testing.T) {
	cfgPath, dbPath := writeConfig(t, unreachableURL, "")
	withStore(t, dbPath, func(s *store.Store) {
		ctx := context.Background()
		_, _, err := s.OpenSession(ctx, "sess-1", 20000)
		require.NoError(t, err)
		require.NoError(t, s.QueueOfflineOrder(ctx, cashOrder("ord-1", "sess-1", 5000, 0)))
	})

	out, _, err := execute(t, "exposure", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Session sess-1")
	assert.Contains(t, out, "Cash taken: $50.00 of $200.00 (25%) | $150.00 left")
}

func TestExposure_WarnLevel(t *testing.T) {
	cfgPath, dbPath := writeConfig(t, unreachableURL, "")
	withStore(t, dbPath, func(s *store.Store) {
		ctx := context.Background()
		_, _, err := s.OpenSession(ctx, "sess-1", 10000)
		require.NoError(t, err)
		require.NoError(t, s.QueueOfflineOrder(ctx, cashOrder("ord-1", "sess-1", 9500, 0)))
	})

	out, _, err := execute(t, "exposure", "--config", cfgPath, "--format", "json")
	require.NoError(t, err)

	var result ExposureResult
	decodeResponse(t, out, &result)
	require.True(t, result.Active)
	require.NotNil(t, result.Exposure)
	assert.EqualValues(t, 95, result.Exposure.PercentUsed)
	assert.EqualValues(t, "warn", result.Exposure.Level)
}

func TestSession_Lifecycle(t *testing.T) {
	cfgPath, _ := writeConfig(t, unreachableURL, "")

	out, _, err := execute(t, "session", "open", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Opened session sess-")
	assert.Contains(t, out, "(cap $200.00)")

	out, _, err = execute(t, "session", "open", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Already open: session sess-")

	out, _, err = execute(t, "session", "override", "--manager", "mgr-7", "--cap", "30000", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Cap set to $300.00 by mgr-7")
	assert.Contains(t, out, "$0.00 of $300.00 (0%)")

	out, _, err = execute(t, "session", "close", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Closed session sess-")

	out, _, err = execute(t, "session", "close", "--config", cfgPath)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [E006]: no offline session open")
}

func TestSessionOverride_Errors(t *testing.T) {
	cfgPath, dbPath := writeConfig(t, unreachableURL, "")

	_, _, err := execute(t, "session", "override", "--cap", "30000", "--config", cfgPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `required flag(s) "manager" not set`)

	out, _, err := execute(t, "session", "override", "--manager", "mgr-7", "--cap", "30000", "--config", cfgPath)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [E006]")

	withStore(t, dbPath, func(s *store.Store) {
		_, _, err := s.OpenSession(context.Background(), "sess-1", 20000)
		require.NoError(t, err)
	})

	_, _, err = execute(t, "session", "override", "--manager", "  ", "--cap", "30000", "--config", cfgPath)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, _, err = execute(t, "session", "override", "--manager", "mgr-7", "--cap=-5", "--config", cfgPath)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
