package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
)

//go:embed migrations
var migrationFS embed.FS

// namespaces lists every versioned namespace in application order.
var namespaces = []string{"kv", "menu", "orders", "kds", "sessions"}

type migration struct {
	version int
	name    string
	sql     string
}

// migrate brings every namespace up to its latest version. Each migration
// file runs in its own transaction together with its version bump.
func migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS store_versions (
			namespace TEXT PRIMARY KEY,
			version   INTEGER NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("ensure store_versions: %w", err)
	}

	for _, ns := range namespaces {
		if err := migrateNamespace(ctx, db, ns); err != nil {
			return err
		}
	}
	return nil
}

func migrateNamespace(ctx context.Context, db *sql.DB, ns string) error {
	migrations, err := loadMigrations(migrationFS, ns)
	if err != nil {
		return err
	}

	current, err := namespaceVersion(ctx, db, ns)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := applyMigration(ctx, db, ns, m); err != nil {
			return err
		}
		current = m.version
	}
	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, ns string, m migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %s/%s: %w", ns, m.name, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, m.sql); err != nil {
		return fmt.Errorf("exec migration %s/%s: %w", ns, m.name, err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO store_versions (namespace, version) VALUES (?, ?)
		ON CONFLICT(namespace) DO UPDATE SET version = excluded.version
	`, ns, m.version); err != nil {
		return fmt.Errorf("record migration %s/%s: %w", ns, m.name, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s/%s: %w", ns, m.name, err)
	}
	return nil
}

func namespaceVersion(ctx context.Context, db *sql.DB, ns string) (int, error) {
	var version int
	err := db.QueryRowContext(ctx,
		"SELECT version FROM store_versions WHERE namespace = ?", ns,
	).Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read version of %s: %w", ns, err)
	}
	return version, nil
}

// loadMigrations reads migrations/<ns>/NNN_name.sql sorted by version.
func loadMigrations(fsys fs.FS, ns string) ([]migration, error) {
	dir := path.Join("migrations", ns)
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations for %s: %w", ns, err)
	}

	var out []migration
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		prefix, _, ok := strings.Cut(name, "_")
		if !ok {
			return nil, fmt.Errorf("migration %s/%s: missing version prefix", ns, name)
		}
		version, err := strconv.Atoi(prefix)
		if err != nil || version <= 0 {
			return nil, fmt.Errorf("migration %s/%s: bad version prefix %q", ns, name, prefix)
		}
		content, err := fs.ReadFile(fsys, path.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read migration %s/%s: %w", ns, name, err)
		}
		out = append(out, migration{version: version, name: name, sql: string(content)})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	for i := 1; i < len(out); i++ {
		if out[i].version == out[i-1].version {
			return nil, fmt.Errorf("migrations %s: duplicate version %d", ns, out[i].version)
		}
	}
	return out, nil
}
