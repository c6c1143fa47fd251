package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/tillguard/internal/engine"
)

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Submit queued orders to the backend now",
		Long: `Run one sync pass: every unsynced order is submitted, oldest first.
Orders that fail stay queued and are listed in the report.

Exits 1 if the backend is unreachable or any order failed.

Example:
  tillguard sync
  tillguard sync --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(rootOpts, cmd)
		},
	}
}

func runSync(opts *RootOptions, cmd *cobra.Command) error {
	ctx := commandContext(cmd)

	a, err := openApp(cmd, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	formatter := newFormatter(cmd, opts)

	if state := a.monitor.Check(ctx); !state.IsOnline {
		_ = formatter.Error(ErrCodeUnreachable, "backend unreachable; orders stay queued", map[string]string{
			"base_url": a.cfg.Upstream.BaseURL,
		})
		return NewExitError(ExitFailure, "backend unreachable")
	}
	formatter.VerboseLog("Backend reachable at %s", a.cfg.Upstream.BaseURL)

	report, err := a.engine.Sync(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "sync aborted", err)
	}

	if err := formatter.Success(report, func(w io.Writer) { writeReport(w, report) }); err != nil {
		return err
	}
	if len(report.Failed) > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d order(s) failed to sync", len(report.Failed)))
	}
	return nil
}

func writeReport(w io.Writer, r engine.Report) {
	if r.Attempted == 0 {
		fmt.Fprintln(w, "Nothing to sync")
		return
	}
	fmt.Fprintf(w, "Synced %d of %d order(s) in %s\n", r.Synced, r.Attempted, r.Duration.Round(time.Millisecond))
	for _, f := range r.Failed {
		retry := "will retry"
		if !f.Retryable {
			retry = "needs attention"
		}
		fmt.Fprintf(w, "  ✗ %s: %s (%s)\n", f.OrderID, f.Error, retry)
	}
}
