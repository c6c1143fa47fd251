package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/tillguard/internal/banner"
	"github.com/roach88/tillguard/internal/pos"
)

// QueueListResult is the JSON payload of queue list.
type QueueListResult struct {
	Orders   []pos.OfflineOrder `json:"orders"`
	Unsynced int                `json:"unsynced"`
}

// NewQueueCommand creates the queue command group.
func NewQueueCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and trim the offline order queue",
	}
	cmd.AddCommand(newQueueListCommand(rootOpts))
	cmd.AddCommand(newQueueClearCommand(rootOpts))
	return cmd
}

func newQueueListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List queued orders, oldest first",
		Long: `List every order in the offline queue, synced or not, oldest first.

Example:
  tillguard queue list --db ./tillguard.db
  tillguard queue list --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQueueList(opts, cmd)
		},
	}
}

func runQueueList(opts *RootOptions, cmd *cobra.Command) error {
	ctx := commandContext(cmd)

	a, err := openApp(cmd, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	orders, err := a.store.GetOfflineOrders(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read queue", err)
	}

	result := QueueListResult{Orders: orders}
	for _, o := range orders {
		if !o.Synced {
			result.Unsynced++
		}
	}

	return newFormatter(cmd, opts).Success(result, func(w io.Writer) {
		writeQueue(w, result)
	})
}

func writeQueue(w io.Writer, r QueueListResult) {
	if len(r.Orders) == 0 {
		fmt.Fprintln(w, "Queue is empty")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPAYMENT\tTOTAL\tCREATED\tSTATUS")
	for _, o := range r.Orders {
		status := "queued"
		if o.Synced {
			status = "synced"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			o.ID, o.PaymentMethod, banner.FormatMoney(o.TotalAmount),
			o.CreatedAt.Local().Format(time.DateTime), status)
	}
	_ = tw.Flush()

	fmt.Fprintf(w, "\n%d order(s), %d waiting to sync\n", len(r.Orders), r.Unsynced)
}

func newQueueClearCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-synced",
		Short: "Remove orders that have already synced",
		Long: `Remove synced orders from the queue. Unsynced orders are never touched.

Example:
  tillguard queue clear-synced`,
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

			n, err := a.store.ClearSyncedOrders(ctx)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to clear synced orders", err)
			}
			return newFormatter(cmd, opts).Success(map[string]int64{"cleared": n}, func(w io.Writer) {
				fmt.Fprintf(w, "Cleared %d synced order(s)\n", n)
			})
		},
	}
}
