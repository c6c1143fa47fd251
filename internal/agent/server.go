// Package agent serves the local HTTP API the POS user interface talks to.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/roach88/tillguard/internal/cache"
	"github.com/roach88/tillguard/internal/connectivity"
	"github.com/roach88/tillguard/internal/engine"
	"github.com/roach88/tillguard/internal/exposure"
	"github.com/roach88/tillguard/internal/pos"
	"github.com/roach88/tillguard/internal/ratelimit"
	"github.com/roach88/tillguard/internal/register"
	"github.com/roach88/tillguard/internal/telemetry"
)

const (
	maxBodyBytes    = 1 << 20
	shutdownTimeout = 5 * time.Second
)

// Register places orders and reports operator status.
type Register interface {
	PlaceOrder(ctx context.Context, order pos.OfflineOrder) (engine.Receipt, error)
	Status(ctx context.Context) (register.Status, error)
}

// Syncer runs a sync pass.
type Syncer interface {
	Sync(ctx context.Context) (engine.Report, error)
}

// Queue reads and trims the offline order queue.
type Queue interface {
	GetOfflineOrders(ctx context.Context) ([]pos.OfflineOrder, error)
	ClearSyncedOrders(ctx context.Context) (int64, error)
}

// Loader reads a cached resource.
type Loader[T any] interface {
	Load(ctx context.Context) (cache.Result[T], error)
}

// CapOverrider changes the cap of the open offline session.
type CapOverrider interface {
	OverrideCap(ctx context.Context, by string, cap int64) (exposure.State, error)
}

// Connectivity is the current connection state.
type Connectivity interface {
	Current() connectivity.State
}

// Services are the components behind the API.
type Services struct {
	Register Register
	Sync     Syncer
	Queue    Queue
	Menu     Loader[pos.CachedMenuItem]
	Kitchen  Loader[pos.KDSOrderSnapshot]
	Exposure CapOverrider
	Conn     Connectivity
	// OrderLimit throttles POST /v1/orders per client. Nil disables it.
	OrderLimit ratelimit.Backend
}

// Server is the agent HTTP API.
type Server struct {
	svc     Services
	logger  *slog.Logger
	metrics *telemetry.Metrics
	handler http.Handler
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// New creates a Server.
func New(svc Services, opts ...Option) *Server {
	s := &Server{
		svc:    svc,
		logger: slog.Default().With("component", "agent"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.handler = s.routes()
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	placeOrder := http.Handler(http.HandlerFunc(s.handlePlaceOrder))
	if s.svc.OrderLimit != nil {
		limit := ratelimit.Middleware(s.svc.OrderLimit, ratelimit.Order.Name, ratelimit.ClientIP, s.metrics, s.logger)
		placeOrder = limit(placeOrder)
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /v1/state", s.handleState)
	mux.HandleFunc("GET /v1/menu", s.handleMenu)
	mux.HandleFunc("GET /v1/kds", s.handleKitchen)
	mux.HandleFunc("GET /v1/orders", s.handleListOrders)
	mux.Handle("POST /v1/orders", placeOrder)
	mux.HandleFunc("POST /v1/orders/clear-synced", s.handleClearSynced)
	mux.HandleFunc("POST /v1/sync", s.handleSync)
	mux.HandleFunc("POST /v1/session/override", s.handleOverride)
	return mux
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Serve serves on ln until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.logger.InfoContext(ctx, "agent listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve agent api: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown agent api: %w", err)
	}
	return nil
}

// ListenAndServe listens on addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}
