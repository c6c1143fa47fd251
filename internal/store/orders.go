package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/tillguard/internal/pos"
)

const orderColumns = `id, session_id, line_items, total_amount, customer_name, payment_method, created_at, synced`

// QueueOfflineOrder stores an order in the offline queue.
// Uses ON CONFLICT(id) for idempotency: re-queueing an existing id never
// rewrites its line items or totals, and may only raise synced, never lower it.
func (s *Store) QueueOfflineOrder(ctx context.Context, order pos.OfflineOrder) error {
	if err := order.Validate(); err != nil {
		return fmt.Errorf("queue order: %w", err)
	}
	if !order.PaymentMethod.Queueable() {
		return fmt.Errorf("queue order: %w", &pos.ValidationError{
			Field:   "payment_method",
			Message: fmt.Sprintf("%s orders cannot be queued", order.PaymentMethod),
		})
	}

	itemsJSON, err := json.Marshal(order.LineItems)
	if err != nil {
		return fmt.Errorf("queue order: encode line items: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO order_queue (`+orderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET synced = MAX(order_queue.synced, excluded.synced)
	`,
		order.ID,
		order.SessionID,
		string(itemsJSON),
		order.TotalAmount,
		order.CustomerName,
		string(order.PaymentMethod),
		order.CreatedAt.UnixMilli(),
		boolToInt(order.Synced),
	)
	if err != nil {
		return fmt.Errorf("queue order: %w", err)
	}
	return nil
}

// GetOfflineOrders returns every queued order, synced or not, oldest first.
func (s *Store) GetOfflineOrders(ctx context.Context) ([]pos.OfflineOrder, error) {
	return s.queryOrders(ctx, `
		SELECT `+orderColumns+` FROM order_queue
		ORDER BY created_at ASC, id ASC
	`)
}

// GetUnsyncedOrders returns orders not yet accepted by the server, oldest first.
func (s *Store) GetUnsyncedOrders(ctx context.Context) ([]pos.OfflineOrder, error) {
	return s.queryOrders(ctx, `
		SELECT `+orderColumns+` FROM order_queue
		WHERE synced = 0
		ORDER BY created_at ASC, id ASC
	`)
}

// GetOrder returns a single queued order. Returns sql.ErrNoRows if not found.
func (s *Store) GetOrder(ctx context.Context, id string) (pos.OfflineOrder, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM order_queue WHERE id = ?`, id)
	o, err := scanOrder(row)
	if err != nil {
		return pos.OfflineOrder{}, fmt.Errorf("read order %s: %w", id, err)
	}
	return o, nil
}

// MarkOrderSynced flags an order as accepted by the server.
// A missing id is a no-op; marking twice is the same as marking once.
func (s *Store) MarkOrderSynced(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx,
		"UPDATE order_queue SET synced = 1 WHERE id = ?", id,
	); err != nil {
		return fmt.Errorf("mark order synced: %w", err)
	}
	return nil
}

// ClearSyncedOrders deletes synced orders and returns how many were removed.
// Unsynced orders are never touched.
func (s *Store) ClearSyncedOrders(ctx context.Context) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("clear synced orders: begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "DELETE FROM order_queue WHERE synced = 1")
	if err != nil {
		return 0, fmt.Errorf("clear synced orders: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("clear synced orders: rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("clear synced orders: commit: %w", err)
	}
	return n, nil
}

// CountUnsyncedOrders returns the number of orders waiting to sync.
func (s *Store) CountUnsyncedOrders(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM order_queue WHERE synced = 0",
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("count unsynced orders: %w", err)
	}
	return n, nil
}

// SessionCashTotal sums the totals of unsynced cash orders taken in the
// given offline session.
func (s *Store) SessionCashTotal(ctx context.Context, sessionID string) (int64, error) {
	var total int64
	if err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(total_amount), 0) FROM order_queue
		WHERE session_id = ? AND synced = 0 AND payment_method = ?
	`, sessionID, string(pos.PaymentCash)).Scan(&total); err != nil {
		return 0, fmt.Errorf("session cash total: %w", err)
	}
	return total, nil
}

func (s *Store) queryOrders(ctx context.Context, query string, args ...any) ([]pos.OfflineOrder, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	orders := []pos.OfflineOrder{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	return orders, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(row scanner) (pos.OfflineOrder, error) {
	var (
		o         pos.OfflineOrder
		itemsJSON string
		method    string
		createdAt int64
		synced    int
	)
	if err := row.Scan(
		&o.ID, &o.SessionID, &itemsJSON, &o.TotalAmount,
		&o.CustomerName, &method, &createdAt, &synced,
	); err != nil {
		if err == sql.ErrNoRows {
			return o, err
		}
		return o, fmt.Errorf("scan order: %w", err)
	}

	if err := json.Unmarshal([]byte(itemsJSON), &o.LineItems); err != nil {
		return o, corrupt("order", o.ID, err)
	}
	o.PaymentMethod = pos.PaymentMethod(method)
	if !o.PaymentMethod.Valid() {
		return o, corrupt("order", o.ID, fmt.Errorf("unknown payment method %q", method))
	}
	o.CreatedAt = time.UnixMilli(createdAt).UTC()
	o.Synced = synced != 0
	return o, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
