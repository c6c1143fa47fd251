package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/tillguard/internal/pos"
)

// ErrNoActiveSession is returned when an operation needs an open offline
// session and none exists.
var ErrNoActiveSession = errors.New("no active offline session")

const sessionColumns = `id, opened_at, closed_at, cap, cap_overridden_by`

// OpenSession opens a new offline session with the given cap. If a session
// is already open it is returned unchanged with alreadyOpen=true.
func (s *Store) OpenSession(ctx context.Context, id string, cap int64) (session pos.OfflineSession, alreadyOpen bool, err error) {
	if cap <= 0 {
		return pos.OfflineSession{}, false, fmt.Errorf("open session: cap must be positive, got %d", cap)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return pos.OfflineSession{}, false, fmt.Errorf("open session: begin: %w", err)
	}
	defer tx.Rollback()

	existing, err := scanSession(tx.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM offline_sessions WHERE closed_at IS NULL`))
	switch {
	case err == nil:
		return existing, true, nil
	case !errors.Is(err, sql.ErrNoRows):
		return pos.OfflineSession{}, false, fmt.Errorf("open session: %w", err)
	}

	now := s.clock.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO offline_sessions (id, opened_at, cap) VALUES (?, ?, ?)
	`, id, now.UnixMilli(), cap); err != nil {
		return pos.OfflineSession{}, false, fmt.Errorf("open session: insert: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return pos.OfflineSession{}, false, fmt.Errorf("open session: commit: %w", err)
	}

	return pos.OfflineSession{
		ID:       id,
		OpenedAt: time.UnixMilli(now.UnixMilli()).UTC(),
		Cap:      cap,
	}, false, nil
}

// ActiveSession returns the open offline session. Returns ErrNoActiveSession
// when none is open.
func (s *Store) ActiveSession(ctx context.Context) (pos.OfflineSession, error) {
	session, err := scanSession(s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM offline_sessions WHERE closed_at IS NULL`))
	if errors.Is(err, sql.ErrNoRows) {
		return pos.OfflineSession{}, ErrNoActiveSession
	}
	if err != nil {
		return pos.OfflineSession{}, fmt.Errorf("active session: %w", err)
	}
	return session, nil
}

// GetSession returns a session by id, open or closed.
func (s *Store) GetSession(ctx context.Context, id string) (pos.OfflineSession, error) {
	session, err := scanSession(s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM offline_sessions WHERE id = ?`, id))
	if err != nil {
		return pos.OfflineSession{}, fmt.Errorf("read session %s: %w", id, err)
	}
	return session, nil
}

// CloseSession closes the session with the given id. Closing an already
// closed or unknown session is a no-op. Returns whether a session was closed.
func (s *Store) CloseSession(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE offline_sessions SET closed_at = ?
		WHERE id = ? AND closed_at IS NULL
	`, s.clock.Now().UTC().UnixMilli(), id)
	if err != nil {
		return false, fmt.Errorf("close session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("close session: rows affected: %w", err)
	}
	return n > 0, nil
}

// CloseDrainedSession closes the session with the given id only if none of
// its orders are waiting to sync. Returns whether a session was closed.
func (s *Store) CloseDrainedSession(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE offline_sessions SET closed_at = ?
		WHERE id = ? AND closed_at IS NULL
		  AND NOT EXISTS (
			SELECT 1 FROM order_queue WHERE session_id = ? AND synced = 0
		  )
	`, s.clock.Now().UTC().UnixMilli(), id, id)
	if err != nil {
		return false, fmt.Errorf("close drained session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("close drained session: rows affected: %w", err)
	}
	return n > 0, nil
}

// OverrideSessionCap replaces the cap of the open session and records who
// authorized it. Returns ErrNoActiveSession when none is open.
func (s *Store) OverrideSessionCap(ctx context.Context, cap int64, by string) (pos.OfflineSession, error) {
	if cap <= 0 {
		return pos.OfflineSession{}, fmt.Errorf("override cap: cap must be positive, got %d", cap)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return pos.OfflineSession{}, fmt.Errorf("override cap: begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE offline_sessions SET cap = ?, cap_overridden_by = ?
		WHERE closed_at IS NULL
	`, cap, by)
	if err != nil {
		return pos.OfflineSession{}, fmt.Errorf("override cap: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return pos.OfflineSession{}, fmt.Errorf("override cap: rows affected: %w", err)
	}
	if n == 0 {
		return pos.OfflineSession{}, ErrNoActiveSession
	}

	session, err := scanSession(tx.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM offline_sessions WHERE closed_at IS NULL`))
	if err != nil {
		return pos.OfflineSession{}, fmt.Errorf("override cap: reload: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return pos.OfflineSession{}, fmt.Errorf("override cap: commit: %w", err)
	}
	return session, nil
}

func scanSession(row scanner) (pos.OfflineSession, error) {
	var (
		session  pos.OfflineSession
		openedAt int64
		closedAt sql.NullInt64
	)
	if err := row.Scan(&session.ID, &openedAt, &closedAt, &session.Cap, &session.CapOverriddenBy); err != nil {
		return pos.OfflineSession{}, err
	}
	session.OpenedAt = time.UnixMilli(openedAt).UTC()
	if closedAt.Valid {
		t := time.UnixMilli(closedAt.Int64).UTC()
		session.ClosedAt = &t
	}
	return session, nil
}
