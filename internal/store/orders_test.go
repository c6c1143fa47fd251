package store

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tillguard/internal/pos"
)

func TestQueueOfflineOrder_RoundTrip(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	order := pos.OfflineOrder{
		ID:        "ord-1",
		SessionID: "sess-1",
		LineItems: []pos.LineItem{
			{ProductID: "latte", Name: "Latte", Quantity: 2, UnitPrice: 450},
		},
		TotalAmount:   900,
		CustomerName:  "Ada",
		PaymentMethod: pos.PaymentCash,
		CreatedAt:     testEpoch,
	}
	require.NoError(t, s.QueueOfflineOrder(ctx, order))

	got, err := s.GetOrder(ctx, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, order, got)
}

func TestQueueOfflineOrder_RejectsInvalid(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	order := createTestOrder("a", 500, testEpoch)
	order.TotalAmount = 499
	assert.ErrorIs(t, s.QueueOfflineOrder(ctx, order), pos.ErrInvalidOrder)

	card := createTestOrder("b", 500, testEpoch)
	card.PaymentMethod = pos.PaymentCard
	assert.ErrorIs(t, s.QueueOfflineOrder(ctx, card), pos.ErrInvalidOrder)

	n, err := s.CountUnsyncedOrders(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

// Re-queueing an id never rewrites its contents and never un-syncs it.
func TestQueueOfflineOrder_Idempotent(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	original := createTestOrder("a", 500, testEpoch)
	require.NoError(t, s.QueueOfflineOrder(ctx, original))
	require.NoError(t, s.MarkOrderSynced(ctx, "a"))

	rewritten := createTestOrder("a", 900, testEpoch.Add(time.Hour))
	require.NoError(t, s.QueueOfflineOrder(ctx, rewritten))

	got, err := s.GetOrder(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(500), got.TotalAmount)
	assert.True(t, got.CreatedAt.Equal(testEpoch))
	assert.True(t, got.Synced, "upsert must not lower synced")
}

func TestGetUnsyncedOrders_OldestFirst(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.QueueOfflineOrder(ctx, createTestOrder("c", 100, testEpoch.Add(2*time.Minute))))
	require.NoError(t, s.QueueOfflineOrder(ctx, createTestOrder("a", 100, testEpoch)))
	require.NoError(t, s.QueueOfflineOrder(ctx, createTestOrder("b", 100, testEpoch.Add(time.Minute))))
	require.NoError(t, s.MarkOrderSynced(ctx, "b"))

	unsynced, err := s.GetUnsyncedOrders(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, orderIDs(unsynced))

	all, err := s.GetOfflineOrders(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, orderIDs(all))
}

func TestGetUnsyncedOrders_SameTimestampOrderedByID(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.QueueOfflineOrder(ctx, createTestOrder("b", 100, testEpoch)))
	require.NoError(t, s.QueueOfflineOrder(ctx, createTestOrder("a", 100, testEpoch)))

	got, err := s.GetUnsyncedOrders(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, orderIDs(got))
}

func TestMarkOrderSynced_IdempotentAndMissing(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.QueueOfflineOrder(ctx, createTestOrder("a", 100, testEpoch)))

	require.NoError(t, s.MarkOrderSynced(ctx, "a"))
	once, err := s.GetOfflineOrders(ctx)
	require.NoError(t, err)

	require.NoError(t, s.MarkOrderSynced(ctx, "a"))
	twice, err := s.GetOfflineOrders(ctx)
	require.NoError(t, err)
	assert.Equal(t, once, twice)

	require.NoError(t, s.MarkOrderSynced(ctx, "missing"))
	after, err := s.GetOfflineOrders(ctx)
	require.NoError(t, err)
	assert.Equal(t, once, after)
}

func TestGetOrder_NotFound(t *testing.T) {
	s, _ := createTestStore(t)

	_, err := s.GetOrder(context.Background(), "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestClearSyncedOrders(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	for i, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, s.QueueOfflineOrder(ctx, createTestOrder(id, 100, testEpoch.Add(time.Duration(i)*time.Second))))
	}
	require.NoError(t, s.MarkOrderSynced(ctx, "a"))
	require.NoError(t, s.MarkOrderSynced(ctx, "c"))

	n, err := s.ClearSyncedOrders(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	all, err := s.GetOfflineOrders(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "d"}, orderIDs(all))

	n, err = s.ClearSyncedOrders(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCountUnsyncedOrders(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.QueueOfflineOrder(ctx, createTestOrder("a", 100, testEpoch)))
	require.NoError(t, s.QueueOfflineOrder(ctx, createTestOrder("b", 100, testEpoch)))
	require.NoError(t, s.MarkOrderSynced(ctx, "a"))

	n, err := s.CountUnsyncedOrders(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSessionCashTotal(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	queue := func(id, session string, amount int64, method pos.PaymentMethod) {
		o := createTestOrder(id, amount, testEpoch)
		o.SessionID = session
		o.PaymentMethod = method
		require.NoError(t, s.QueueOfflineOrder(ctx, o))
	}
	queue("a", "s1", 2000, pos.PaymentCash)
	queue("b", "s1", 3000, pos.PaymentCash)
	queue("c", "s1", 700, pos.PaymentPending)
	queue("d", "s2", 9000, pos.PaymentCash)
	queue("e", "s1", 400, pos.PaymentCash)
	require.NoError(t, s.MarkOrderSynced(ctx, "e"))

	total, err := s.SessionCashTotal(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(5000), total)

	total, err = s.SessionCashTotal(ctx, "none")
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestGetUnsyncedOrders_CorruptRecordHalts(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.QueueOfflineOrder(ctx, createTestOrder("good", 100, testEpoch)))
	_, err := s.db.Exec(`
		INSERT INTO order_queue (id, line_items, total_amount, payment_method, created_at)
		VALUES ('bad', '[]', 100, 'barter', 1)
	`)
	require.NoError(t, err)

	_, err = s.GetUnsyncedOrders(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCorruptRecord)
	assert.Contains(t, err.Error(), "bad")
}

// Property: for any interleaving of queue, mark and clear operations,
// ClearSyncedOrders never removes an unsynced order.
func TestClearSyncedOrders_NeverLosesUnsynced(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("unsynced orders survive clear", prop.ForAll(
		func(ops []int) bool {
			if _, err := s.db.Exec("DELETE FROM order_queue"); err != nil {
				return false
			}

			unsynced := map[string]bool{}
			next := 0
			for _, op := range ops {
				switch op % 3 {
				case 0:
					next++
					id := fmt.Sprintf("o-%d", next)
					if err := s.QueueOfflineOrder(ctx, createTestOrder(id, 100, testEpoch.Add(time.Duration(next)*time.Second))); err != nil {
						return false
					}
					unsynced[id] = true
				case 1:
					for id := range unsynced {
						if err := s.MarkOrderSynced(ctx, id); err != nil {
							return false
						}
						delete(unsynced, id)
						break
					}
				case 2:
					if _, err := s.ClearSyncedOrders(ctx); err != nil {
						return false
					}
				}
			}

			got, err := s.GetUnsyncedOrders(ctx)
			if err != nil || len(got) != len(unsynced) {
				return false
			}
			for _, o := range got {
				if !unsynced[o.ID] {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 2)),
	))

	properties.TestingRun(t)
}

// Property: after CacheMenu(items) returns, GetCachedMenu returns exactly
// items, whatever was cached before.
func TestCacheMenu_ReplaceIsAtomic(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("cache holds exactly the last write", prop.ForAll(
		func(before, after []string) bool {
			if err := s.CacheMenu(ctx, testMenu(uniq(before)...)); err != nil {
				return false
			}
			want := testMenu(uniq(after)...)
			if err := s.CacheMenu(ctx, want); err != nil {
				return false
			}
			got, err := s.GetCachedMenu(ctx)
			if err != nil || len(got) != len(want) {
				return false
			}
			for i := range want {
				if got[i] != want[i] {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.Identifier()),
		gen.SliceOf(gen.Identifier()),
	))

	properties.TestingRun(t)
}

func uniq(ids []string) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
