package exposure

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/roach88/tillguard/internal/connectivity"
	"github.com/roach88/tillguard/internal/pos"
	"github.com/roach88/tillguard/internal/store"
)

// ErrManagerRequired is returned when a cap override names no manager.
var ErrManagerRequired = errors.New("cap override requires a manager id")

// SessionStore is the part of the local store the governor needs.
type SessionStore interface {
	SessionCashTotal(ctx context.Context, sessionID string) (int64, error)
	OpenSession(ctx context.Context, id string, cap int64) (pos.OfflineSession, bool, error)
	ActiveSession(ctx context.Context) (pos.OfflineSession, error)
	CloseSession(ctx context.Context, id string) (bool, error)
	CloseDrainedSession(ctx context.Context, id string) (bool, error)
	OverrideSessionCap(ctx context.Context, cap int64, by string) (pos.OfflineSession, error)
}

// Connectivity is the observe interface of the connectivity monitor.
type Connectivity interface {
	Current() connectivity.State
	Subscribe() (<-chan connectivity.State, func())
}

// Governor tracks cash exposure against the cap of the open offline session.
type Governor struct {
	store       SessionStore
	cap         int64
	warnPercent int64
	newID       func() string
	logger      *slog.Logger
}

// Option configures a Governor.
type Option func(*Governor)

// WithWarnPercent sets the usage at which the meter warns.
func WithWarnPercent(p int64) Option {
	return func(g *Governor) { g.warnPercent = p }
}

// WithSessionIDs replaces the session id generator.
func WithSessionIDs(f func() string) Option {
	return func(g *Governor) { g.newID = f }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Governor) { g.logger = l }
}

// NewGovernor creates a Governor that opens sessions with the given cap.
func NewGovernor(s SessionStore, cap int64, opts ...Option) (*Governor, error) {
	if cap <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidCap, cap)
	}
	g := &Governor{
		store:       s,
		cap:         cap,
		warnPercent: DefaultWarnPercent,
		newID:       func() string { return "sess-" + uuid.Must(uuid.NewV7()).String() },
		logger:      slog.Default().With("component", "exposure"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// ComputeExposure sums the unsynced cash orders of the session and compares
// them with cap.
func (g *Governor) ComputeExposure(ctx context.Context, sessionID string, cap int64) (State, error) {
	total, err := g.store.SessionCashTotal(ctx, sessionID)
	if err != nil {
		return State{}, fmt.Errorf("compute exposure: %w", err)
	}
	return Compute(sessionID, total, cap, g.warnPercent)
}

// Current returns the exposure of the open session using its (possibly
// overridden) cap. With no open session it returns an empty meter at the
// configured cap and active=false.
func (g *Governor) Current(ctx context.Context) (state State, active bool, err error) {
	session, err := g.store.ActiveSession(ctx)
	if errors.Is(err, store.ErrNoActiveSession) {
		state, err = Compute("", 0, g.cap, g.warnPercent)
		return state, false, err
	}
	if err != nil {
		return State{}, false, fmt.Errorf("current exposure: %w", err)
	}

	state, err = g.ComputeExposure(ctx, session.ID, session.Cap)
	if err != nil {
		return State{}, false, err
	}
	return state, true, nil
}

// OpenSession opens a session at the configured cap. If one is already open
// it is returned with alreadyOpen=true.
func (g *Governor) OpenSession(ctx context.Context) (session pos.OfflineSession, alreadyOpen bool, err error) {
	session, err = g.store.ActiveSession(ctx)
	switch {
	case err == nil:
		return session, true, nil
	case !errors.Is(err, store.ErrNoActiveSession):
		return pos.OfflineSession{}, false, fmt.Errorf("open offline session: %w", err)
	}

	// The store re-checks inside its transaction, so a racing open still
	// yields a single session.
	session, alreadyOpen, err = g.store.OpenSession(ctx, g.newID(), g.cap)
	if err != nil {
		return pos.OfflineSession{}, false, fmt.Errorf("open offline session: %w", err)
	}
	if !alreadyOpen {
		g.logger.InfoContext(ctx, "offline session opened", "session_id", session.ID, "cap", session.Cap)
	}
	return session, alreadyOpen, nil
}

// EnsureSession returns the open session, opening one if none is open.
func (g *Governor) EnsureSession(ctx context.Context) (pos.OfflineSession, error) {
	session, _, err := g.OpenSession(ctx)
	return session, err
}

// CashCapReached reports whether session has used up its cash cap. The
// engine asks before queueing a cash order, whichever path led there.
func (g *Governor) CashCapReached(ctx context.Context, session pos.OfflineSession) (bool, error) {
	state, err := g.ComputeExposure(ctx, session.ID, session.Cap)
	if err != nil {
		return false, err
	}
	if state.CapReached() {
		g.logger.WarnContext(ctx, "cash order refused, cap reached",
			"session_id", session.ID,
			"cash_total", state.CashTotal,
			"cap", state.Cap,
		)
		return true, nil
	}
	return false, nil
}

// CloseDrainedSession closes the open session if none of its orders are
// waiting to sync. It reports whether a session was closed; with no open
// session it returns false and no error.
func (g *Governor) CloseDrainedSession(ctx context.Context) (bool, error) {
	session, err := g.store.ActiveSession(ctx)
	if errors.Is(err, store.ErrNoActiveSession) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("close drained session: %w", err)
	}

	closed, err := g.store.CloseDrainedSession(ctx, session.ID)
	if err != nil {
		return false, fmt.Errorf("close drained session: %w", err)
	}
	if closed {
		g.logger.InfoContext(ctx, "offline session closed after its queue drained", "session_id", session.ID)
	}
	return closed, nil
}

// CloseSession closes the open session. Returns store.ErrNoActiveSession if
// none is open.
func (g *Governor) CloseSession(ctx context.Context) (pos.OfflineSession, error) {
	session, err := g.store.ActiveSession(ctx)
	if err != nil {
		return pos.OfflineSession{}, err
	}
	if _, err := g.store.CloseSession(ctx, session.ID); err != nil {
		return pos.OfflineSession{}, fmt.Errorf("close offline session: %w", err)
	}

	final, err := g.ComputeExposure(ctx, session.ID, session.Cap)
	if err != nil {
		// The session is closed either way.
		g.logger.WarnContext(ctx, "offline session closed, final exposure unavailable",
			"session_id", session.ID, "error", err)
		return session, nil
	}
	g.logger.InfoContext(ctx, "offline session closed",
		"session_id", session.ID,
		"cash_total", final.CashTotal,
		"cap", final.Cap,
	)
	return session, nil
}

// OverrideCap lets a manager raise or lower the cap of the open session.
// Returns store.ErrNoActiveSession if none is open.
func (g *Governor) OverrideCap(ctx context.Context, by string, cap int64) (State, error) {
	by = strings.TrimSpace(by)
	if by == "" {
		return State{}, ErrManagerRequired
	}
	if cap <= 0 {
		return State{}, fmt.Errorf("%w: got %d", ErrInvalidCap, cap)
	}

	session, err := g.store.OverrideSessionCap(ctx, cap, by)
	if err != nil {
		return State{}, err
	}
	g.logger.WarnContext(ctx, "offline cash cap overridden",
		"session_id", session.ID, "cap", cap, "by", by)

	return g.ComputeExposure(ctx, session.ID, session.Cap)
}

// Watch opens a session when the register goes offline and closes it on the
// recovery edge, until ctx is done.
func (g *Governor) Watch(ctx context.Context, conn Connectivity) error {
	states, cancel := conn.Subscribe()
	defer cancel()

	if !conn.Current().IsOnline {
		if _, _, err := g.OpenSession(ctx); err != nil {
			g.logger.ErrorContext(ctx, "open offline session", "error", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case s, ok := <-states:
			if !ok {
				return nil
			}
			g.observe(ctx, s)
		}
	}
}

func (g *Governor) observe(ctx context.Context, s connectivity.State) {
	switch {
	case !s.IsOnline:
		if _, _, err := g.OpenSession(ctx); err != nil {
			g.logger.ErrorContext(ctx, "open offline session", "error", err)
		}
	case s.WasOffline:
		_, err := g.CloseSession(ctx)
		if err != nil && !errors.Is(err, store.ErrNoActiveSession) {
			g.logger.ErrorContext(ctx, "close offline session", "error", err)
		}
	}
}
