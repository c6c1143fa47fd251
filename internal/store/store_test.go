package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("final Open() failed: %v", err)
	}
	defer s.Close()

	tables := []string{"kv", "menu_items", "order_queue", "kds_snapshot", "offline_sessions", "store_versions"}
	for _, table := range tables {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found after idempotent opens: %v", table, err)
		}
	}
}

func TestOpen_KeepsDataAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "test.db")

	s1, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	order := createTestOrder("a", 500, testEpoch)
	if err := s1.QueueOfflineOrder(ctx, order); err != nil {
		t.Fatalf("QueueOfflineOrder() failed: %v", err)
	}
	s1.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s2.Close()

	orders, err := s2.GetUnsyncedOrders(ctx)
	if err != nil {
		t.Fatalf("GetUnsyncedOrders() failed: %v", err)
	}
	if len(orders) != 1 || orders[0].ID != "a" {
		t.Errorf("got %v, want the order queued before reopen", orderIDs(orders))
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open("/nonexistent/dir/test.db")
	if err == nil {
		t.Error("expected error for invalid path, got nil")
	}
}

func TestClose_NilDB(t *testing.T) {
	s := &Store{db: nil}
	if err := s.Close(); err != nil {
		t.Errorf("Close() on nil db should not error: %v", err)
	}
}

func TestPragma_JournalMode(t *testing.T) {
	s, _ := createTestStore(t)
	if err := s.verifyPragma("journal_mode", "wal"); err != nil {
		t.Error(err)
	}
}

func TestPragma_Synchronous(t *testing.T) {
	s, _ := createTestStore(t)
	// NORMAL = 1
	if err := s.verifyPragma("synchronous", "1"); err != nil {
		t.Error(err)
	}
}

func TestPragma_BusyTimeout(t *testing.T) {
	s, _ := createTestStore(t)
	if err := s.verifyPragma("busy_timeout", "5000"); err != nil {
		t.Error(err)
	}
}

func TestMigrate_RecordsVersionPerNamespace(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	want := map[string]int{"kv": 1, "menu": 1, "orders": 2, "kds": 1, "sessions": 1}
	for ns, version := range want {
		got, err := namespaceVersion(ctx, s.db, ns)
		if err != nil {
			t.Fatalf("namespaceVersion(%s) failed: %v", ns, err)
		}
		if got != version {
			t.Errorf("namespace %s at version %d, want %d", ns, got, version)
		}
	}
}

func TestMigrate_UpgradesOneNamespaceWithoutTouchingOthers(t *testing.T) {
	ctx := context.Background()
	s, _ := createTestStore(t)

	if err := s.CacheMenu(ctx, testMenu("a", "b")); err != nil {
		t.Fatalf("CacheMenu() failed: %v", err)
	}

	// Roll orders back to v1 and drop the column added by v2: the next
	// migrate must only re-run orders/002.
	if _, err := s.db.Exec("DROP INDEX idx_order_queue_session"); err != nil {
		t.Fatalf("drop index: %v", err)
	}
	if _, err := s.db.Exec("ALTER TABLE order_queue DROP COLUMN session_id"); err != nil {
		t.Fatalf("drop column: %v", err)
	}
	if _, err := s.db.Exec("UPDATE store_versions SET version = 1 WHERE namespace = 'orders'"); err != nil {
		t.Fatalf("reset version: %v", err)
	}

	if err := migrate(ctx, s.db); err != nil {
		t.Fatalf("migrate() failed: %v", err)
	}

	menu, err := s.GetCachedMenu(ctx)
	if err != nil {
		t.Fatalf("GetCachedMenu() failed: %v", err)
	}
	if len(menu) != 2 {
		t.Errorf("menu has %d items after orders upgrade, want 2", len(menu))
	}

	got, _ := namespaceVersion(ctx, s.db, "orders")
	if got != 2 {
		t.Errorf("orders at version %d, want 2", got)
	}
}

func TestLoadMigrations_SortsByVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/x/010_later.sql": {Data: []byte("SELECT 10")},
		"migrations/x/002_next.sql":  {Data: []byte("SELECT 2")},
		"migrations/x/001_first.sql": {Data: []byte("SELECT 1")},
		"migrations/x/README.md":     {Data: []byte("ignored")},
	}

	got, err := loadMigrations(fsys, "x")
	if err != nil {
		t.Fatalf("loadMigrations() failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d migrations, want 3", len(got))
	}
	for i, want := range []int{1, 2, 10} {
		if got[i].version != want {
			t.Errorf("migration %d has version %d, want %d", i, got[i].version, want)
		}
	}
}

func TestLoadMigrations_RejectsBadNames(t *testing.T) {
	tests := map[string]fstest.MapFS{
		"no prefix":   {"migrations/x/create.sql": {Data: []byte("SELECT 1")}},
		"zero prefix": {"migrations/x/000_create.sql": {Data: []byte("SELECT 1")}},
		"duplicate": {
			"migrations/x/001_a.sql": {Data: []byte("SELECT 1")},
			"migrations/x/01_b.sql":  {Data: []byte("SELECT 1")},
		},
	}
	for name, fsys := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := loadMigrations(fsys, "x"); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}
