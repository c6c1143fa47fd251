package cli

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/tillguard/internal/banner"
	"github.com/roach88/tillguard/internal/cache"
	"github.com/roach88/tillguard/internal/pos"
)

// CacheOptions holds flags shared by menu show and kds show.
type CacheOptions struct {
	*RootOptions
	Cached bool // read the local copy only
}

// NewMenuCommand creates the menu command group.
func NewMenuCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "menu",
		Short: "Show or refresh the cached menu",
	}
	cmd.AddCommand(newMenuShowCommand(rootOpts))
	cmd.AddCommand(newMenuRefreshCommand(rootOpts))
	return cmd
}

func newMenuShowCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CacheOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the menu, live when the backend answers",
		Long: `Show the menu. The backend is tried first and the cache refreshed;
if it does not answer the cached copy is shown with its age.

Example:
  tillguard menu show
  tillguard menu show --cached --format json`,
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

			load := a.menu.Load
			if opts.Cached {
				load = a.menu.Cached
			}
			res, err := load(ctx)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to load menu", err)
			}
			return newFormatter(cmd, opts.RootOptions).Success(res, func(w io.Writer) {
				writeMenu(w, res)
			})
		},
	}

	cmd.Flags().BoolVar(&opts.Cached, "cached", false, "read the local cache without contacting the backend")

	return cmd
}

func newMenuRefreshCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Fetch the menu and replace the cache",
		Long: `Fetch the menu from the backend and replace the local cache. The cache
is left untouched if the fetch fails.

Example:
  tillguard menu refresh`,
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

			n, err := a.menu.Refresh(ctx)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to refresh menu", err)
			}
			return newFormatter(cmd, opts).Success(map[string]int{"items": n}, func(w io.Writer) {
				fmt.Fprintf(w, "Cached %d menu item(s)\n", n)
			})
		},
	}
}

// NewKDSCommand creates the kds command group.
func NewKDSCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kds",
		Short: "Kitchen display snapshot",
	}

	opts := &CacheOptions{RootOptions: rootOpts}
	show := &cobra.Command{
		Use:   "show",
		Short: "Show open kitchen orders",
		Long: `Show the kitchen display. The backend is always tried first, even
while offline; the last snapshot is shown if it does not answer.

Example:
  tillguard kds show`,
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

			load := a.kitchen.Load
			if opts.Cached {
				load = a.kitchen.Cached
			}
			res, err := load(ctx)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to load kitchen display", err)
			}
			return newFormatter(cmd, opts.RootOptions).Success(res, func(w io.Writer) {
				writeKitchen(w, res)
			})
		},
	}
	show.Flags().BoolVar(&opts.Cached, "cached", false, "read the last snapshot without contacting the backend")

	cmd.AddCommand(show)
	return cmd
}

func writeSource[T any](w io.Writer, res cache.Result[T]) {
	switch res.Source {
	case cache.SourceLive:
		fmt.Fprintln(w, "Source: live")
	case cache.SourceEmpty:
		fmt.Fprintln(w, "Source: nothing cached yet")
	default:
		at := "unknown"
		if res.CachedAt != nil {
			at = res.CachedAt.Local().Format(time.DateTime)
		}
		fmt.Fprintf(w, "Source: cache from %s\n", at)
	}
	if res.FetchError != "" {
		fmt.Fprintf(w, "Backend: %s\n", res.FetchError)
	}
}

func writeMenu(w io.Writer, res cache.Result[pos.CachedMenuItem]) {
	writeSource(w, res)
	if len(res.Items) == 0 {
		return
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, item := range res.Items {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", item.ID, item.Name, banner.FormatMoney(item.Price))
	}
	_ = tw.Flush()
}

func writeKitchen(w io.Writer, res cache.Result[pos.KDSOrderSnapshot]) {
	writeSource(w, res)
	for _, o := range res.Items {
		fmt.Fprintln(w)
		name := o.CustomerName
		if name == "" {
			name = "-"
		}
		fmt.Fprintf(w, "%s  %s  %s  %s\n", o.ID, o.Status, name, o.CreatedAt.Local().Format(time.Kitchen))
		for _, li := range o.LineItems {
			fmt.Fprintf(w, "  %s%s\n", li.DrinkName, formatCustomizations(li.Customizations))
		}
	}
}

func formatCustomizations(c map[string]string) string {
	if len(c) == 0 {
		return ""
	}
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+c[k])
	}
	return " (" + strings.Join(parts, ", ") + ")"
}
