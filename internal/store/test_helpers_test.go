package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/tillguard/internal/pos"
	"github.com/roach88/tillguard/internal/testutil"
)

// createTestStore creates a new store in a temporary directory.
func createTestStore(t *testing.T) (*Store, *testutil.ManualClock) {
	t.Helper()
	clock := testutil.NewManualClock(time.Time{})
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, WithClock(clock))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, clock
}

// createTestOrder creates a single-line cash order with the given total.
func createTestOrder(id string, amount int64, createdAt time.Time) pos.OfflineOrder {
	return pos.OfflineOrder{
		ID: id,
		LineItems: []pos.LineItem{
			{ProductID: "item-" + id, Name: "Item " + id, Quantity: 1, UnitPrice: amount},
		},
		TotalAmount:   amount,
		PaymentMethod: pos.PaymentCash,
		CreatedAt:     createdAt,
	}
}

func orderIDs(orders []pos.OfflineOrder) []string {
	ids := make([]string, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
	}
	return ids
}

var testEpoch = testutil.Epoch

// testMenu creates one menu item per id, priced by position.
func testMenu(ids ...string) []pos.CachedMenuItem {
	items := make([]pos.CachedMenuItem, len(ids))
	for i, id := range ids {
		items[i] = pos.CachedMenuItem{
			ID:    id,
			Name:  "Item " + id,
			Price: int64(100 * (i + 1)),
		}
	}
	return items
}
