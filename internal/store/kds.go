package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/tillguard/internal/pos"
)

// SaveKDSSnapshot replaces the kitchen display snapshot with orders and
// stamps the snapshot time, atomically.
func (s *Store) SaveKDSSnapshot(ctx context.Context, orders []pos.KDSOrderSnapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save kds snapshot: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM kds_snapshot"); err != nil {
		return fmt.Errorf("save kds snapshot: clear: %w", err)
	}

	for i, o := range orders {
		lineItems := o.LineItems
		if lineItems == nil {
			lineItems = []pos.KDSLineItem{}
		}
		itemsJSON, err := json.Marshal(lineItems)
		if err != nil {
			return fmt.Errorf("save kds snapshot: encode %s: %w", o.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO kds_snapshot (id, position, status, customer_name, created_at, line_items)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				position = excluded.position,
				status = excluded.status,
				customer_name = excluded.customer_name,
				created_at = excluded.created_at,
				line_items = excluded.line_items
		`, o.ID, i, o.Status, o.CustomerName, o.CreatedAt.UnixMilli(), string(itemsJSON)); err != nil {
			return fmt.Errorf("save kds snapshot: insert %s: %w", o.ID, err)
		}
	}

	if err := s.stamp(ctx, tx, KeyKDSSnapshotAt); err != nil {
		return fmt.Errorf("save kds snapshot: stamp: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save kds snapshot: commit: %w", err)
	}
	return nil
}

// GetKDSSnapshot returns the last saved kitchen display orders in their
// original order. Returns an empty slice (not nil) when nothing is saved.
func (s *Store) GetKDSSnapshot(ctx context.Context) ([]pos.KDSOrderSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, status, customer_name, created_at, line_items
		FROM kds_snapshot
		ORDER BY position ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query kds snapshot: %w", err)
	}
	defer rows.Close()

	orders := []pos.KDSOrderSnapshot{}
	for rows.Next() {
		var (
			o         pos.KDSOrderSnapshot
			createdAt int64
			itemsJSON string
		)
		if err := rows.Scan(&o.ID, &o.Status, &o.CustomerName, &createdAt, &itemsJSON); err != nil {
			return nil, fmt.Errorf("scan kds order: %w", err)
		}
		if err := json.Unmarshal([]byte(itemsJSON), &o.LineItems); err != nil {
			return nil, corrupt("kds order", o.ID, err)
		}
		o.CreatedAt = time.UnixMilli(createdAt).UTC()
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate kds snapshot: %w", err)
	}
	return orders, nil
}

// GetKDSSnapshotAge returns when the snapshot was last saved, or nil if never.
func (s *Store) GetKDSSnapshotAge(ctx context.Context) (*time.Time, error) {
	t, err := s.stampedAt(ctx, KeyKDSSnapshotAt)
	if err != nil {
		return nil, fmt.Errorf("kds snapshot age: %w", err)
	}
	return t, nil
}
