package cli

import (
	"context"
	"io"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/roach88/tillguard/internal/cache"
	"github.com/roach88/tillguard/internal/config"
	"github.com/roach88/tillguard/internal/connectivity"
	"github.com/roach88/tillguard/internal/engine"
	"github.com/roach88/tillguard/internal/exposure"
	"github.com/roach88/tillguard/internal/store"
	"github.com/roach88/tillguard/internal/telemetry"
	"github.com/roach88/tillguard/internal/upstream"
)

// app is the set of components one command works with. Commands other than
// run build it, use what they need and close it before returning.
type app struct {
	cfg     config.Config
	store   *store.Store
	client  *upstream.Client
	monitor *connectivity.Monitor
	gov     *exposure.Governor
	engine  *engine.Engine
	menu    *cache.Menu
	kitchen *cache.Kitchen
	logger  *slog.Logger
}

// loadConfig loads the config file and environment, then applies the
// global flag overrides.
func loadConfig(opts *RootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Database != "" {
		cfg.Store.Path = opts.Database
	}
	return cfg, nil
}

// setupLogging installs a text handler on w. --verbose wins over log.level.
func setupLogging(w io.Writer, opts *RootOptions, cfg config.Config) *slog.Logger {
	level := cfg.Log.SlogLevel()
	if opts.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

// openApp loads the config and wires the components for a one-shot
// command.
func openApp(cmd *cobra.Command, opts *RootOptions) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	logger := setupLogging(cmd.ErrOrStderr(), opts, cfg)
	return newApp(cfg, logger, nil)
}

// newApp wires the components over one store. metrics may be nil.
func newApp(cfg config.Config, logger *slog.Logger, metrics *telemetry.Metrics) (*app, error) {
	logger.Debug("opening database", "path", cfg.Store.Path)
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	client, err := upstream.New(cfg.UpstreamConfig(), upstream.WithLogger(logger.With("component", "upstream")))
	if err != nil {
		_ = st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to create upstream client", err)
	}

	monitor := connectivity.New(client,
		connectivity.WithInterval(cfg.Heartbeat.Interval),
		connectivity.WithTimeout(cfg.Heartbeat.Timeout),
		connectivity.WithLogger(logger.With("component", "connectivity")),
		connectivity.WithMetrics(metrics),
	)

	gov, err := exposure.NewGovernor(st, cfg.Exposure.Cap,
		exposure.WithWarnPercent(cfg.Exposure.WarnPercent),
		exposure.WithLogger(logger.With("component", "exposure")),
	)
	if err != nil {
		_ = st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to create exposure governor", err)
	}

	eng := engine.New(st, client, monitor,
		engine.WithSessions(gov),
		engine.WithLogger(logger.With("component", "engine")),
		engine.WithMetrics(metrics),
	)

	return &app{
		cfg:     cfg,
		store:   st,
		client:  client,
		monitor: monitor,
		gov:     gov,
		engine:  eng,
		menu:    cache.NewMenu(st, client, monitor, cfg.Cache.MenuRefresh, logger.With("component", "cache")),
		kitchen: cache.NewKitchen(st, client, monitor, cfg.Cache.KDSRefresh, logger.With("component", "cache")),
		logger:  logger,
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Error("error closing database", "error", err)
	}
}

func newRedisClient(cfg config.Redis) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

func newFormatter(cmd *cobra.Command, opts *RootOptions) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

// commandContext returns the command's context, which tests set.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
