package store

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/tillguard/internal/pos"
)

// CacheMenu replaces the cached menu with items and stamps the cache time.
// The clear, the inserts and the stamp commit together, so a reader never
// sees a mix of old and new items. Item order is preserved.
func (s *Store) CacheMenu(ctx context.Context, items []pos.CachedMenuItem) error {
	for i, item := range items {
		if err := item.Validate(); err != nil {
			return fmt.Errorf("cache menu: item %d: %w", i, err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("cache menu: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM menu_items"); err != nil {
		return fmt.Errorf("cache menu: clear: %w", err)
	}

	for i, item := range items {
		// A repeated id keeps the later entry, as a keyed put would.
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO menu_items (id, position, name, price, description, image_ref)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				position = excluded.position,
				name = excluded.name,
				price = excluded.price,
				description = excluded.description,
				image_ref = excluded.image_ref
		`, item.ID, i, item.Name, item.Price, item.Description, item.ImageRef); err != nil {
			return fmt.Errorf("cache menu: insert %s: %w", item.ID, err)
		}
	}

	if err := s.stamp(ctx, tx, KeyMenuCachedAt); err != nil {
		return fmt.Errorf("cache menu: stamp: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("cache menu: commit: %w", err)
	}
	return nil
}

// GetCachedMenu returns the cached menu in its original order.
// Returns an empty slice (not nil) when nothing is cached.
func (s *Store) GetCachedMenu(ctx context.Context) ([]pos.CachedMenuItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, price, description, image_ref
		FROM menu_items
		ORDER BY position ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query menu: %w", err)
	}
	defer rows.Close()

	items := []pos.CachedMenuItem{}
	for rows.Next() {
		var item pos.CachedMenuItem
		if err := rows.Scan(&item.ID, &item.Name, &item.Price, &item.Description, &item.ImageRef); err != nil {
			return nil, fmt.Errorf("scan menu item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate menu: %w", err)
	}
	return items, nil
}

// GetMenuCacheAge returns when the menu was last cached, or nil if never.
func (s *Store) GetMenuCacheAge(ctx context.Context) (*time.Time, error) {
	t, err := s.stampedAt(ctx, KeyMenuCachedAt)
	if err != nil {
		return nil, fmt.Errorf("menu cache age: %w", err)
	}
	return t, nil
}
