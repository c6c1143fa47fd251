package cli

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/tillguard/internal/banner"
	"github.com/roach88/tillguard/internal/exposure"
	"github.com/roach88/tillguard/internal/pos"
	"github.com/roach88/tillguard/internal/store"
)

// ExposureResult is the JSON payload of the exposure command.
type ExposureResult struct {
	Active   bool            `json:"active"`
	Exposure *exposure.State `json:"exposure,omitempty"`
}

// SessionResult is the JSON payload of session open and close.
type SessionResult struct {
	Session     pos.OfflineSession `json:"session"`
	AlreadyOpen bool               `json:"already_open,omitempty"`
}

// OverrideOptions holds flags for session override.
type OverrideOptions struct {
	*RootOptions
	Manager string
	Cap     int64
}

// NewExposureCommand creates the exposure command.
func NewExposureCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "exposure",
		Short: "Show cash taken in the open offline session",
		Long: `Show the cash exposure of the open offline session against its cap.

Example:
  tillguard exposure
  tillguard exposure --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)

			a, err := openApp(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			state, active, err := a.gov.Current(ctx)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to compute exposure", err)
			}
			result := ExposureResult{Active: active}
			if active {
				result.Exposure = &state
			}
			return newFormatter(cmd, rootOpts).Success(result, func(w io.Writer) {
				writeExposure(w, result)
			})
		},
	}
}

func writeExposure(w io.Writer, r ExposureResult) {
	if !r.Active {
		fmt.Fprintln(w, "No offline session open")
		return
	}
	s := r.Exposure
	fmt.Fprintf(w, "Session %s\n", s.SessionID)
	fmt.Fprintf(w, "Cash taken: %s of %s (%s) | %s left\n",
		banner.FormatMoney(s.CashTotal), banner.FormatMoney(s.Cap),
		s.DisplayPercent(), banner.FormatMoney(s.Remaining))
	switch s.Level {
	case exposure.LevelWarn:
		fmt.Fprintln(w, "Cash cap almost reached")
	case exposure.LevelCapReached:
		fmt.Fprintln(w, "CASH CAP REACHED")
	}
}

// NewSessionCommand creates the session command group.
func NewSessionCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage the offline cash session",
		Long: `Manage the offline cash session. The running agent opens a session
when the connection drops and closes it on recovery; these commands act on
it directly.`,
	}
	cmd.AddCommand(newSessionOpenCommand(rootOpts))
	cmd.AddCommand(newSessionCloseCommand(rootOpts))
	cmd.AddCommand(newSessionOverrideCommand(rootOpts))
	return cmd
}

func newSessionOpenCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "open",
		Short:         "Open an offline session at the configured cap",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)

			a, err := openApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			session, alreadyOpen, err := a.gov.OpenSession(ctx)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to open session", err)
			}
			result := SessionResult{Session: session, AlreadyOpen: alreadyOpen}
			return newFormatter(cmd, opts).Success(result, func(w io.Writer) {
				verb := "Opened"
				if alreadyOpen {
					verb = "Already open:"
				}
				fmt.Fprintf(w, "%s session %s (cap %s)\n", verb, session.ID, banner.FormatMoney(session.Cap))
			})
		},
	}
}

func newSessionCloseCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "close",
		Short:         "Close the open offline session",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)

			a, err := openApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			formatter := newFormatter(cmd, opts)
			session, err := a.gov.CloseSession(ctx)
			if errors.Is(err, store.ErrNoActiveSession) {
				_ = formatter.Error(ErrCodeSession, "no offline session open", nil)
				return NewExitError(ExitFailure, "no offline session open")
			}
			if err != nil {
				return WrapExitError(ExitFailure, "failed to close session", err)
			}

			return formatter.Success(SessionResult{Session: session}, func(w io.Writer) {
				fmt.Fprintf(w, "Closed session %s (open since %s)\n",
					session.ID, session.OpenedAt.Local().Format(time.DateTime))
			})
		},
	}
}

func newSessionOverrideCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &OverrideOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "override",
		Short: "Change the cash cap of the open session",
		Long: `Change the cash cap of the open offline session. The manager id is
recorded on the session. The cap is in cents.

Example:
  tillguard session override --manager mgr-7 --cap 30000`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)

			a, err := openApp(cmd, opts.RootOptions)
			if err != nil {
				return err
			}
			defer a.Close()

			formatter := newFormatter(cmd, opts.RootOptions)
			state, err := a.gov.OverrideCap(ctx, opts.Manager, opts.Cap)
			switch {
			case errors.Is(err, exposure.ErrManagerRequired), errors.Is(err, exposure.ErrInvalidCap):
				return WrapExitError(ExitCommandError, "invalid override", err)
			case errors.Is(err, store.ErrNoActiveSession):
				_ = formatter.Error(ErrCodeSession, "no offline session open", nil)
				return NewExitError(ExitFailure, "no offline session open")
			case err != nil:
				return WrapExitError(ExitFailure, "failed to override cap", err)
			}

			result := ExposureResult{Active: true, Exposure: &state}
			return formatter.Success(result, func(w io.Writer) {
				fmt.Fprintf(w, "Cap set to %s by %s\n", banner.FormatMoney(state.Cap), opts.Manager)
				writeExposure(w, result)
			})
		},
	}

	cmd.Flags().StringVar(&opts.Manager, "manager", "", "manager id authorizing the change (required)")
	_ = cmd.MarkFlagRequired("manager")
	cmd.Flags().Int64Var(&opts.Cap, "cap", 0, "new cap in cents (required)")
	_ = cmd.MarkFlagRequired("cap")

	return cmd
}
