package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/tillguard/internal/agent"
	"github.com/roach88/tillguard/internal/banner"
	"github.com/roach88/tillguard/internal/clock"
	"github.com/roach88/tillguard/internal/config"
	"github.com/roach88/tillguard/internal/ratelimit"
	"github.com/roach88/tillguard/internal/register"
	"github.com/roach88/tillguard/internal/telemetry"
)

const telemetryShutdownTimeout = 5 * time.Second

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Listen string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the register agent",
		Long: `Start the register agent.

The agent heartbeats the backend, serves the local API the register UI
talks to, queues orders while offline and syncs them on recovery. The
SQLite database is created if it doesn't exist.

Example:
  tillguard run --config ./tillguard.yaml
  tillguard run --db /tmp/till.db --listen 127.0.0.1:9000 --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "", "address for the local API (overrides agent.listen)")

	return cmd
}

func runAgent(opts *RunOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	if opts.Listen != "" {
		cfg.Agent.Listen = opts.Listen
	}
	logger := setupLogging(cmd.ErrOrStderr(), opts.RootOptions, cfg)

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	provider, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:    "tillguard",
		ServiceVersion: Version,
		StoreID:        cfg.Telemetry.StoreID,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Insecure:       cfg.Telemetry.Insecure,
		ExportInterval: cfg.Telemetry.ExportInterval,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to set up telemetry", err)
	}
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
		defer done()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Error("error shutting down telemetry", "error", err)
		}
	}()

	metrics, err := telemetry.NewMetrics(provider.Meter())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create metrics", err)
	}

	a, err := newApp(cfg, logger, metrics)
	if err != nil {
		return err
	}
	defer a.Close()

	tracker := banner.NewTracker(clock.System{}, banner.RecoveryFlash)
	reg := register.New(a.engine, a.gov, a.store, a.monitor, tracker,
		register.WithLogger(logger.With("component", "register")))

	ln, err := net.Listen("tcp", a.cfg.Agent.Listen)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	orderLimit, closeLimit, err := orderLimiter(gctx, g, a.cfg, logger)
	if err != nil {
		_ = ln.Close()
		return WrapExitError(ExitCommandError, "failed to create order rate limiter", err)
	}
	defer closeLimit()

	srv := agent.New(agent.Services{
		Register:   reg,
		Sync:       a.engine,
		Queue:      a.store,
		Menu:       a.menu,
		Kitchen:    a.kitchen,
		Exposure:   a.gov,
		Conn:       a.monitor,
		OrderLimit: orderLimit,
	}, agent.WithLogger(logger.With("component", "agent")), agent.WithMetrics(metrics))

	g.Go(func() error { return a.monitor.Run(gctx) })
	g.Go(func() error { return a.engine.Run(gctx) })
	g.Go(func() error { return a.gov.Watch(gctx, a.monitor) })
	g.Go(func() error { return tracker.Watch(gctx, a.monitor) })
	g.Go(func() error { return a.menu.Run(gctx) })
	g.Go(func() error { return a.kitchen.Run(gctx) })
	g.Go(func() error { return srv.Serve(gctx, ln) })

	logger.Info("agent starting", "db", a.cfg.Store.Path, "upstream", a.cfg.Upstream.BaseURL)
	fmt.Fprintf(cmd.OutOrStdout(), "Agent listening on %s\n", ln.Addr())
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitFailure, "agent error", err)
	}

	logger.Info("agent stopped gracefully")
	return nil
}

// orderLimiter builds the order placement limiter. With Redis configured
// the buckets are shared by every agent on the same Redis; otherwise they
// live in process and are swept by a goroutine in g.
func orderLimiter(ctx context.Context, g *errgroup.Group, cfg config.Config, logger *slog.Logger) (ratelimit.Backend, func(), error) {
	policy := cfg.Agent.OrderPolicy()

	if cfg.Redis.Enabled() {
		rdb := newRedisClient(cfg.Redis)
		closeFn := func() {
			if err := rdb.Close(); err != nil {
				logger.Error("error closing redis client", "error", err)
			}
		}
		limiter, err := ratelimit.NewRedisLimiter(rdb, policy, cfg.Redis.Prefix, clock.System{})
		if err != nil {
			closeFn()
			return nil, func() {}, err
		}
		logger.Info("order rate limit shared through redis", "addr", cfg.Redis.Addr)
		return limiter, closeFn, nil
	}

	limiter, err := ratelimit.New(policy, ratelimit.WithLogger(logger.With("component", "ratelimit")))
	if err != nil {
		return nil, func() {}, err
	}
	g.Go(func() error { return limiter.Run(ctx) })
	return limiter, func() {}, nil
}
