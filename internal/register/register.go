// Package register is the POS layer between the operator and the sync
// engine. It takes orders from the till and assembles the status the
// operator sees.
package register

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/tillguard/internal/banner"
	"github.com/roach88/tillguard/internal/connectivity"
	"github.com/roach88/tillguard/internal/engine"
	"github.com/roach88/tillguard/internal/exposure"
	"github.com/roach88/tillguard/internal/pos"
)

// ErrCashCapReached is matched by a cash order refused because the open
// offline session has reached its cash cap. Nothing is queued.
var ErrCashCapReached = engine.ErrCashCapReached

// Orders submits orders and reports on the last sync pass.
type Orders interface {
	SubmitOrder(ctx context.Context, order pos.OfflineOrder) (engine.Receipt, error)
	LastReport() (engine.Report, bool)
}

// Exposure reports the exposure of the open offline session.
type Exposure interface {
	Current(ctx context.Context) (exposure.State, bool, error)
}

// Queue counts the orders waiting to sync.
type Queue interface {
	CountUnsyncedOrders(ctx context.Context) (int, error)
}

// Connectivity is the current connection state.
type Connectivity interface {
	Current() connectivity.State
}

// Status is what the operator sees at a glance.
type Status struct {
	Connection   connectivity.State `json:"connection"`
	QueuedOrders int                `json:"queued_orders"`
	// Exposure is nil when no offline session is open.
	Exposure *exposure.State `json:"exposure,omitempty"`
	Banner   banner.View     `json:"banner"`
	LastSync *engine.Report  `json:"last_sync,omitempty"`
}

// Register applies the cash policy and builds the operator status.
type Register struct {
	orders   Orders
	exposure Exposure
	queue    Queue
	conn     Connectivity
	banner   *banner.Tracker
	logger   *slog.Logger
}

// Option configures a Register.
type Option func(*Register)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Register) { r.logger = l }
}

// New creates a Register.
func New(orders Orders, exp Exposure, queue Queue, conn Connectivity, tracker *banner.Tracker, opts ...Option) *Register {
	r := &Register{
		orders:   orders,
		exposure: exp,
		queue:    queue,
		conn:     conn,
		banner:   tracker,
		logger:   slog.Default().With("component", "register"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// PlaceOrder takes an order from the till. A cash order that would be
// queued into a session at its cap is refused with ErrCashCapReached,
// whether the register is offline or an online attempt fell back to the
// queue. The order that crosses the cap is still accepted; only the next one
// is refused.
func (r *Register) PlaceOrder(ctx context.Context, order pos.OfflineOrder) (engine.Receipt, error) {
	return r.orders.SubmitOrder(ctx, order)
}

// Status assembles the current operator status.
func (r *Register) Status(ctx context.Context) (Status, error) {
	conn := r.conn.Current()

	queued, err := r.queue.CountUnsyncedOrders(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("register status: %w", err)
	}

	st := Status{Connection: conn, QueuedOrders: queued}

	state, active, err := r.exposure.Current(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("register status: %w", err)
	}
	if active {
		st.Exposure = &state
	}

	if report, ok := r.orders.LastReport(); ok {
		st.LastSync = &report
	}

	st.Banner = r.banner.Build(conn, queued, st.Exposure)
	return st, nil
}
