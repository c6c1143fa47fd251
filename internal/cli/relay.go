package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/tillguard/internal/config"
	"github.com/roach88/tillguard/internal/relay"
)

// RelayOptions holds flags for the relay commands.
type RelayOptions struct {
	*RootOptions

	Tracking     string
	Carrier      string
	Unit         string
	ResidentName string
	ResidentID   string
	ParcelID     string
	Error        string
	Count        int

	// Transport overrides the Redis transport (for testing).
	Transport relay.Transport
}

// NewRelayCommand creates the relay command group.
func NewRelayCommand(rootOpts *RootOptions) *cobra.Command {
	return newRelayCommand(&RelayOptions{RootOptions: rootOpts})
}

func newRelayCommand(opts *RelayOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Send and receive scanner relay messages",
		Long: `Send and receive messages on the scanner relay channel shared by
phones and desks. The relay runs over Redis pub/sub; redis.addr must be set.`,
	}
	cmd.AddCommand(newRelaySendCommand(opts))
	cmd.AddCommand(newRelayListenCommand(opts))
	return cmd
}

func newRelaySendCommand(opts *RelayOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send <kind>",
		Short: "Broadcast one message",
		Long: `Broadcast one message. kind is one of tracking, unit, submit,
result or duplicate.

Example:
  tillguard relay send tracking --tracking 1Z999AA10123456784 --carrier ups
  tillguard relay send unit --unit 4B
  tillguard relay send result --parcel-id p-102
  tillguard relay send result --error "unit not found"`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRelaySend(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Tracking, "tracking", "", "tracking number")
	cmd.Flags().StringVar(&opts.Carrier, "carrier", "", "carrier name")
	cmd.Flags().StringVar(&opts.Unit, "unit", "", "unit number")
	cmd.Flags().StringVar(&opts.ResidentName, "resident-name", "", "resident name (submit)")
	cmd.Flags().StringVar(&opts.ResidentID, "resident-id", "", "resident id (submit)")
	cmd.Flags().StringVar(&opts.ParcelID, "parcel-id", "", "created parcel id (result)")
	cmd.Flags().StringVar(&opts.Error, "error", "", "failure reason (result)")

	return cmd
}

func runRelaySend(opts *RelayOptions, kind string, cmd *cobra.Command) error {
	ctx := commandContext(cmd)

	msg, err := buildRelayMessage(opts, relay.Kind(kind))
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid message", err)
	}

	ch, closeFn, err := openRelay(cmd, opts)
	if err != nil {
		return err
	}
	defer closeFn()

	sent, err := ch.Send(ctx, msg)
	if err != nil {
		_ = newFormatter(cmd, opts.RootOptions).Error(ErrCodeRelay, err.Error(), nil)
		return WrapExitError(ExitFailure, "relay send failed", err)
	}
	return newFormatter(cmd, opts.RootOptions).Success(sent, func(w io.Writer) {
		fmt.Fprintf(w, "Sent %s\n", describeMessage(sent))
	})
}

func buildRelayMessage(opts *RelayOptions, kind relay.Kind) (relay.Message, error) {
	var msg relay.Message
	switch kind {
	case relay.KindTracking:
		msg = relay.Tracking(opts.Tracking, opts.Carrier)
	case relay.KindUnit:
		msg = relay.Unit(opts.Unit)
	case relay.KindSubmit:
		msg = relay.Submit(opts.Tracking, opts.Carrier, opts.Unit,
			optional(opts.ResidentName), optional(opts.ResidentID))
	case relay.KindResult:
		var failure error
		if opts.Error != "" {
			failure = errors.New(opts.Error)
		}
		msg = relay.Result(opts.ParcelID, failure)
	case relay.KindDuplicate:
		msg = relay.Duplicate(opts.Tracking, opts.Carrier, opts.Unit)
	default:
		msg = relay.Message{Kind: kind}
	}
	return msg, msg.Validate()
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func newRelayListenCommand(opts *RelayOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Print messages from other devices",
		Long: `Print every message other devices broadcast on the relay channel
until interrupted, or until --count messages have arrived.

Example:
  tillguard relay listen
  tillguard relay listen --count 1 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRelayListen(opts, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Count, "count", 0, "stop after this many messages (0 = until interrupted)")

	return cmd
}

func runRelayListen(opts *RelayOptions, cmd *cobra.Command) error {
	ch, closeFn, err := openRelay(cmd, opts)
	if err != nil {
		return err
	}
	defer closeFn()

	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case <-sigChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	formatter := newFormatter(cmd, opts.RootOptions)
	formatter.VerboseLog("Listening as %s", ch.Sender())

	received := 0
	err = ch.Listen(ctx, func(ctx context.Context, m relay.Message) {
		_ = formatter.Success(m, func(w io.Writer) {
			fmt.Fprintf(w, "%s #%d %s\n", m.Sender, m.Seq, describeMessage(m))
		})
		received++
		if opts.Count > 0 && received >= opts.Count {
			cancel()
		}
	})
	if err != nil {
		return WrapExitError(ExitFailure, "relay listen failed", err)
	}
	return nil
}

// openRelay loads the config and opens the relay channel.
func openRelay(cmd *cobra.Command, opts *RelayOptions) (*relay.Channel, func(), error) {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return nil, nil, err
	}
	logger := setupLogging(cmd.ErrOrStderr(), opts.RootOptions, cfg)

	transport, closeFn, err := relayTransport(opts, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	ch := relay.NewChannel(transport, cfg.Relay.Channel,
		relay.WithLogger(logger.With("component", "relay")))
	return ch, closeFn, nil
}

func relayTransport(opts *RelayOptions, cfg config.Config, logger *slog.Logger) (relay.Transport, func(), error) {
	if opts.Transport != nil {
		return opts.Transport, func() {}, nil
	}
	if !cfg.Redis.Enabled() {
		return nil, nil, NewExitError(ExitCommandError, "relay needs redis.addr configured")
	}

	rdb := newRedisClient(cfg.Redis)
	closeFn := func() {
		if err := rdb.Close(); err != nil {
			logger.Error("error closing redis client", "error", err)
		}
	}
	return relay.NewRedisTransport(rdb, cfg.Redis.Prefix, logger.With("component", "relay")), closeFn, nil
}

func describeMessage(m relay.Message) string {
	parts := []string{string(m.Kind)}
	add := func(k, v string) {
		if v != "" {
			parts = append(parts, k+"="+v)
		}
	}
	add("tracking", m.Tracking)
	add("carrier", m.Carrier)
	add("unit", m.Unit)
	if m.ResidentName != nil {
		add("resident", *m.ResidentName)
	}
	if m.Kind == relay.KindResult {
		if m.Success {
			add("parcel", m.ParcelID)
		} else {
			add("error", m.Error)
		}
	}
	return strings.Join(parts, " ")
}
