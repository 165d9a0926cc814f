package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/marketcart/internal/checkout"
)

// snapshotView prints a saved checkout form.
type snapshotView struct {
	checkout.Snapshot
}

// WriteText renders the form for a terminal.
func (v snapshotView) WriteText(w io.Writer) error {
	s := v.Snapshot
	if s.OrderID != "" {
		fmt.Fprintf(w, "Order ID: %s\n", s.OrderID)
	}
	fmt.Fprintf(w, "Customer: %s\n", s.FullName)
	fmt.Fprintf(w, "Email: %s\n", s.Email)
	fmt.Fprintf(w, "Delivery Address: %s\n", s.Address())
	fmt.Fprintf(w, "Payment Method: %s\n", checkout.PaymentLabel(s.PaymentType))
	_, err := fmt.Fprintf(w, "Order Date: %s\n", s.OrderDate.UTC().Format("2006-01-02 15:04:05 MST"))
	return err
}

// NewCheckoutCommand creates the checkout command and its subcommands.
func NewCheckoutCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkout",
		Short: "Place orders and inspect the saved checkout form",
	}

	cmd.AddCommand(newCheckoutPlaceCommand(rootOpts))
	cmd.AddCommand(newCheckoutShowCommand(rootOpts))

	return cmd
}

func newCheckoutPlaceCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "place <form.json>",
		Short: "Place an order for the current cart",
		Long: `Place an order for the current cart.

The form is a JSON checkout form ("-" reads standard input). The order is
priced from the cart, the form is saved, the summary is printed and the
cart is cleared.

Exit codes:
  0 - Order placed
  1 - Order placed but not fully persisted
  2 - No order placed (empty cart, bad form, etc.)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlaceOrder(opts, cmd, args[0])
		},
	}
}

func runPlaceOrder(opts *RootOptions, cmd *cobra.Command, path string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	out := opts.formatter(cmd)

	form, err := readForm(cmd, path)
	if err != nil {
		return err
	}

	rt, err := loadRuntime(ctx, opts)
	if err != nil {
		return err
	}
	defer rt.Close()

	rt.Scheduler.Evaluate(ctx)

	summary, err := rt.Checkout.PlaceOrder(ctx, form)
	return out.Outcome(summary, err, "order")
}

func readForm(cmd *cobra.Command, path string) (checkout.Snapshot, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return checkout.Snapshot{}, WrapExitError(ExitCommandError, fmt.Sprintf("failed to read form %s", path), err)
	}

	var form checkout.Snapshot
	if err := json.Unmarshal(data, &form); err != nil {
		return checkout.Snapshot{}, WrapExitError(ExitCommandError, "invalid checkout form", err)
	}
	return form, nil
}

func newCheckoutShowCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "show",
		Short:         "Print the most recently saved checkout form",
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

			s, ok, err := rt.Checkout.LoadSnapshot(ctx)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to read checkout form", err)
			}
			if !ok {
				return NewExitError(ExitFailure, "no checkout form saved")
			}
			return opts.formatter(cmd).Success(snapshotView{s})
		},
	}
}
