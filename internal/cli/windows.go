package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/marketcart/internal/scheduler"
)

// windowsView lists discount windows.
type windowsView []scheduler.Window

// WriteText renders one line per item.
func (v windowsView) WriteText(w io.Writer) error {
	if len(v) == 0 {
		_, err := fmt.Fprintln(w, "Cart is empty.")
		return err
	}
	for _, win := range v {
		if win.State == scheduler.NoDiscount {
			fmt.Fprintf(w, "%s\t%s\n", win.ID, win.State)
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t-%d%%\t%s left\texpires %s\n",
			win.ID, win.State, win.Percent,
			win.Remaining.Round(time.Second),
			win.ExpiresAt.UTC().Format(time.RFC3339))
	}
	return nil
}

// NewWindowsCommand creates the windows command.
func NewWindowsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "windows",
		Short: "Show the discount window of every item",
		Long: `Show the discount window of every item in the cart.

A window is active while more than the expiring threshold remains, then
expiring until it closes. Lapsed discounts are expired before printing.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			rt, err := loadRuntime(ctx, opts)
			if err != nil {
				return err
			}
			defer rt.Close()

			rt.Scheduler.Evaluate(ctx)
			return opts.formatter(cmd).Success(windowsView(rt.Scheduler.Windows()))
		},
	}
}
