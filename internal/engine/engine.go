package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/tillguard/internal/clock"
	"github.com/roach88/tillguard/internal/connectivity"
	"github.com/roach88/tillguard/internal/pos"
	"github.com/roach88/tillguard/internal/telemetry"
	"github.com/roach88/tillguard/internal/upstream"
)

// OrderStore is the part of the local store the engine needs.
type OrderStore interface {
	QueueOfflineOrder(ctx context.Context, order pos.OfflineOrder) error
	GetUnsyncedOrders(ctx context.Context) ([]pos.OfflineOrder, error)
	MarkOrderSynced(ctx context.Context, id string) error
}

// OrderAPI submits an order to the server and returns the server order id.
type OrderAPI interface {
	CreateOrder(ctx context.Context, order pos.OfflineOrder) (string, error)
}

// Connectivity is the observe interface of the connectivity monitor.
type Connectivity interface {
	Current() connectivity.State
	Subscribe() (<-chan connectivity.State, func())
	Trigger()
}

// SessionSource owns the offline session that queued orders are stamped
// with.
type SessionSource interface {
	// EnsureSession returns the open session, opening one if needed.
	EnsureSession(ctx context.Context) (pos.OfflineSession, error)

	// CashCapReached reports whether session has no cash headroom left.
	CashCapReached(ctx context.Context, session pos.OfflineSession) (bool, error)

	// CloseDrainedSession closes the open session if none of its orders
	// are waiting to sync, and reports whether it did.
	CloseDrainedSession(ctx context.Context) (bool, error)
}

// Outcome says where a submitted order went.
type Outcome string

const (
	OutcomeSubmitted Outcome = "submitted"
	OutcomeQueued    Outcome = "queued"
)

// Receipt describes an accepted order.
type Receipt struct {
	Order         pos.OfflineOrder `json:"order"`
	Outcome       Outcome          `json:"outcome"`
	ServerOrderID string           `json:"server_order_id,omitempty"`
}

// Failure is one order that did not sync.
type Failure struct {
	OrderID   string `json:"order_id"`
	Error     string `json:"error"`
	Retryable bool   `json:"retryable"`
}

// Report summarizes one sync pass.
type Report struct {
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Attempted int           `json:"attempted"`
	Synced    int           `json:"synced"`
	Failed    []Failure     `json:"failed"`
}

// Engine accepts orders and reconciles the offline queue.
type Engine struct {
	store    OrderStore
	api      OrderAPI
	conn     Connectivity
	sessions SessionSource
	ids      IDGenerator
	clock    clock.Clock
	logger   *slog.Logger
	metrics  *telemetry.Metrics

	syncMu   sync.Mutex // one sync at a time
	requests signal

	reportMu   sync.RWMutex
	lastReport *Report
}

// Option configures an Engine.
type Option func(*Engine)

// WithSessions stamps queued orders with the open offline session.
func WithSessions(s SessionSource) Option {
	return func(e *Engine) { e.sessions = s }
}

// WithIDGenerator replaces the UUIDv7 order id generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(e *Engine) { e.ids = g }
}

// WithClock sets the clock used for order timestamps.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New creates an Engine.
func New(store OrderStore, api OrderAPI, conn Connectivity, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		api:      api,
		conn:     conn,
		ids:      UUIDv7Generator{},
		clock:    clock.System{},
		logger:   slog.Default().With("component", "engine"),
		requests: newSignal(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SubmitOrder accepts an order. Online, it is sent to the server; a
// transient failure (timeout, transport error, 5xx) falls back to the queue,
// while an outright rejection is returned and nothing is queued. Offline,
// the network is skipped and the order is queued.
//
// An empty ID is filled from the id generator, a zero CreatedAt from the
// clock and a zero TotalAmount from the line items.
func (e *Engine) SubmitOrder(ctx context.Context, order pos.OfflineOrder) (Receipt, error) {
	if order.ID == "" {
		order.ID = e.ids.Generate()
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = e.clock.Now().UTC()
	}
	if order.TotalAmount == 0 {
		order.TotalAmount = order.ComputeTotal()
	}
	order.Synced = false
	order.SessionID = ""

	if err := order.Validate(); err != nil {
		return Receipt{}, &Error{
			Code:    ErrCodeInvalidOrder,
			Message: "order failed validation",
			OrderID: order.ID,
			Err:     err,
		}
	}

	var submitErr error
	if e.conn.Current().IsOnline {
		serverID, err := e.api.CreateOrder(ctx, order)
		if err == nil {
			order.Synced = true
			e.metrics.OrderSubmitted(ctx, string(order.PaymentMethod))
			e.logger.DebugContext(ctx, "order submitted", "order_id", order.ID, "server_order_id", serverID)
			return Receipt{Order: order, Outcome: OutcomeSubmitted, ServerOrderID: serverID}, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Receipt{}, fmt.Errorf("submit order %s: %w", order.ID, ctxErr)
		}
		if !upstream.IsRetryable(err) {
			return Receipt{}, &Error{
				Code:    ErrCodeRejected,
				Message: "server rejected the order",
				OrderID: order.ID,
				Err:     err,
			}
		}
		submitErr = err
		e.logger.WarnContext(ctx, "order submission failed, falling back to queue",
			"order_id", order.ID, "error", err)
		// The monitor may still think we are online.
		e.conn.Trigger()
	}

	if !order.PaymentMethod.Queueable() {
		return Receipt{}, newCardOfflineError(order.ID, submitErr)
	}

	if e.sessions != nil {
		session, err := e.sessions.EnsureSession(ctx)
		if err != nil {
			return Receipt{}, fmt.Errorf("submit order %s: offline session: %w", order.ID, err)
		}
		if order.PaymentMethod == pos.PaymentCash {
			reached, err := e.sessions.CashCapReached(ctx, session)
			if err != nil {
				return Receipt{}, fmt.Errorf("submit order %s: cash cap: %w", order.ID, err)
			}
			if reached {
				return Receipt{}, newCashCapError(order.ID, session.ID)
			}
		}
		order.SessionID = session.ID
	}

	if err := e.store.QueueOfflineOrder(ctx, order); err != nil {
		return Receipt{}, fmt.Errorf("submit order %s: %w", order.ID, err)
	}

	e.metrics.OrderQueued(ctx, string(order.PaymentMethod))
	e.logger.InfoContext(ctx, "order queued offline",
		"order_id", order.ID,
		"session_id", order.SessionID,
		"total", order.TotalAmount,
		"payment_method", order.PaymentMethod,
	)
	return Receipt{Order: order, Outcome: OutcomeQueued}, nil
}

// Sync submits every unsynced order, oldest first, one at a time. A failed
// order is recorded in the report and left queued; the pass continues with
// the next one. Storage failures and cancellation stop the pass and are
// returned.
func (e *Engine) Sync(ctx context.Context) (Report, error) {
	e.syncMu.Lock()
	defer e.syncMu.Unlock()

	report := Report{StartedAt: e.clock.Now().UTC(), Failed: []Failure{}}
	start := time.Now()
	defer func() {
		report.Duration = time.Since(start)
		e.metrics.SyncCompleted(ctx, report.Synced, len(report.Failed), report.Duration)
		e.setLastReport(report)
	}()

	orders, err := e.store.GetUnsyncedOrders(ctx)
	if err != nil {
		return report, fmt.Errorf("sync: %w", err)
	}

	for _, order := range orders {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("sync: %w", err)
		}
		report.Attempted++

		serverID, err := e.api.CreateOrder(ctx, order)
		if err != nil {
			if ctx.Err() != nil {
				return report, fmt.Errorf("sync: %w", ctx.Err())
			}
			e.logger.WarnContext(ctx, "order sync failed, keeping it queued",
				"order_id", order.ID, "error", err)
			report.Failed = append(report.Failed, Failure{
				OrderID:   order.ID,
				Error:     err.Error(),
				Retryable: upstream.IsRetryable(err),
			})
			continue
		}

		if err := e.store.MarkOrderSynced(ctx, order.ID); err != nil {
			return report, fmt.Errorf("sync: %w", err)
		}
		report.Synced++
		e.logger.DebugContext(ctx, "order synced", "order_id", order.ID, "server_order_id", serverID)
	}

	e.closeDrainedSession(ctx)
	return report, nil
}

// closeDrainedSession closes a session left open while online, such as one
// opened when a submission fell back to the queue, once nothing in it is
// waiting to sync. The next outage then starts a fresh session.
func (e *Engine) closeDrainedSession(ctx context.Context) {
	if e.sessions == nil || !e.conn.Current().IsOnline {
		return
	}
	if _, err := e.sessions.CloseDrainedSession(ctx); err != nil {
		e.logger.WarnContext(ctx, "close drained offline session", "error", err)
	}
}

// RequestSync asks Run to sync as soon as possible. Requests coalesce.
func (e *Engine) RequestSync() {
	e.requests.Notify()
}

// LastReport returns the report of the most recent sync, if any.
func (e *Engine) LastReport() (Report, bool) {
	e.reportMu.RLock()
	defer e.reportMu.RUnlock()
	if e.lastReport == nil {
		return Report{}, false
	}
	return *e.lastReport, true
}

func (e *Engine) setLastReport(r Report) {
	e.reportMu.Lock()
	defer e.reportMu.Unlock()
	e.lastReport = &r
}

// Run syncs on every recovery edge and on RequestSync until ctx is done.
// If the register starts online, any backlog left by a previous run is
// synced immediately.
func (e *Engine) Run(ctx context.Context) error {
	states, cancel := e.conn.Subscribe()
	defer cancel()

	if e.conn.Current().IsOnline {
		e.RequestSync()
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case s, ok := <-states:
			if !ok {
				return nil
			}
			if s.WasOffline {
				e.runSync(ctx, "recovery")
			}
		case <-e.requests:
			if !e.conn.Current().IsOnline {
				e.logger.DebugContext(ctx, "sync requested while offline, waiting for recovery")
				continue
			}
			e.runSync(ctx, "requested")
		}
	}
}

func (e *Engine) runSync(ctx context.Context, reason string) {
	report, err := e.Sync(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		e.logger.ErrorContext(ctx, "sync aborted", "reason", reason, "error", err,
			"synced", report.Synced)
		return
	}
	if report.Attempted == 0 {
		return
	}
	e.logger.InfoContext(ctx, "sync finished",
		"reason", reason,
		"attempted", report.Attempted,
		"synced", report.Synced,
		"failed", len(report.Failed),
		"duration", report.Duration,
	)
}
