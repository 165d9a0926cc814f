package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/roach88/marketcart/internal/cart"
)

// CartAddOptions holds flags for the cart add command.
type CartAddOptions struct {
	*RootOptions
	Title    string
	Image    string
	Price    string
	Quantity int
	Discount int
}

// cartView is the cart as printed by the cart commands.
type cartView struct {
	Items  cart.Cart   `json:"items"`
	Totals cart.Totals `json:"totals"`
}

func newCartView(c cart.Cart) cartView {
	if c == nil {
		c = cart.Cart{}
	}
	return cartView{Items: c, Totals: c.Totals()}
}

// WriteText renders the cart for a terminal.
func (v cartView) WriteText(w io.Writer) error {
	if len(v.Items) == 0 {
		_, err := fmt.Fprintln(w, "Cart is empty.")
		return err
	}
	fmt.Fprintf(w, "Cart (%d items):\n", v.Totals.TotalQuantity)
	for _, it := range v.Items {
		title := it.Title
		if title == "" {
			title = "-"
		}
		discount := ""
		if it.HasDiscount() {
			discount = fmt.Sprintf(" (-%d%%)", it.DiscountPercent)
		}
		fmt.Fprintf(w, "  [%s] %s: %d x $%s%s = $%s\n",
			it.ID, title, it.Quantity, cart.Money(it.UnitPrice()), discount, cart.Money(it.DiscountedLineTotal()))
	}
	fmt.Fprintf(w, "Original Total: $%s\n", cart.Money(v.Totals.OriginalTotal))
	fmt.Fprintf(w, "Savings: $%s\n", cart.Money(v.Totals.TotalSavings))
	_, err := fmt.Fprintf(w, "Total: $%s\n", cart.Money(v.Totals.DiscountedTotal))
	return err
}

// totalsView prints totals only.
type totalsView cart.Totals

// WriteText renders the totals for a terminal.
func (v totalsView) WriteText(w io.Writer) error {
	fmt.Fprintf(w, "Items: %d\n", v.TotalQuantity)
	fmt.Fprintf(w, "Original Total: $%s\n", cart.Money(v.OriginalTotal))
	fmt.Fprintf(w, "Savings: $%s\n", cart.Money(v.TotalSavings))
	_, err := fmt.Fprintf(w, "Total: $%s\n", cart.Money(v.DiscountedTotal))
	return err
}

// NewCartCommand creates the cart command and its subcommands.
func NewCartCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cart",
		Short: "Inspect and change the persisted cart",
		Long: `Inspect and change the persisted cart.

Every subcommand loads the cart from the configured store, expires lapsed
discounts, applies its change and prints the resulting cart. A change that
cannot be saved is still printed, followed by a notice.

Examples:
  marketcart cart show
  marketcart cart add 42 --price 19.99 --title "Brass Pen" --discount 20
  marketcart cart qty 42 3
  marketcart cart grant 42 15
  marketcart cart clear --format json`,
	}

	cmd.AddCommand(newCartShowCommand(rootOpts))
	cmd.AddCommand(newCartAddCommand(rootOpts))
	cmd.AddCommand(newCartQuantityCommand(rootOpts))
	cmd.AddCommand(newCartRemoveCommand(rootOpts))
	cmd.AddCommand(newCartStripCommand(rootOpts))
	cmd.AddCommand(newCartGrantCommand(rootOpts))
	cmd.AddCommand(newCartClearCommand(rootOpts))
	cmd.AddCommand(newCartTotalsCommand(rootOpts))

	return cmd
}

func newCartShowCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "show",
		Short:         "Print the cart and its totals",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCartOp(opts, cmd, nil)
		},
	}
}

func newCartTotalsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "totals",
		Short:         "Print the cart totals",
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
			return opts.formatter(cmd).Success(totalsView(rt.Repo.Totals()))
		},
	}
}

func newCartAddCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CartAddOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "add <id>",
		Short: "Add an item, or grow the quantity of an existing one",
		Long: `Add an item to the cart.

If the id is already in the cart only its quantity grows; the price and
discount of the existing entry are kept.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			price, err := decimal.NewFromString(opts.Price)
			if err != nil {
				return WrapExitError(ExitCommandError, fmt.Sprintf("invalid --price %q", opts.Price), err)
			}
			item := cart.Item{
				ID:              cart.ItemID(args[0]),
				Title:           opts.Title,
				Image:           opts.Image,
				Price:           price,
				Quantity:        opts.Quantity,
				DiscountPercent: opts.Discount,
			}
			return runCartOp(opts.RootOptions, cmd, func(ctx context.Context, rt *Runtime) error {
				return rt.Repo.Add(ctx, item)
			})
		},
	}

	cmd.Flags().StringVar(&opts.Price, "price", "", "undiscounted unit price (required)")
	cmd.Flags().StringVar(&opts.Title, "title", "", "display title")
	cmd.Flags().StringVar(&opts.Image, "image", "", "image URL")
	cmd.Flags().IntVar(&opts.Quantity, "qty", 1, "quantity")
	cmd.Flags().IntVar(&opts.Discount, "discount", 0, "discount percent (0 for none)")
	_ = cmd.MarkFlagRequired("price")

	return cmd
}

func newCartQuantityCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "qty <id> <quantity>",
		Short:         "Set the quantity of an item (0 removes it)",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[1])
			if err != nil {
				return WrapExitError(ExitCommandError, fmt.Sprintf("invalid quantity %q", args[1]), err)
			}
			return runCartOp(opts, cmd, func(ctx context.Context, rt *Runtime) error {
				return rt.Repo.SetQuantity(ctx, cart.ItemID(args[0]), n)
			})
		},
	}
}

func newCartRemoveCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "remove <id>",
		Short:         "Remove an item",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCartOp(opts, cmd, func(ctx context.Context, rt *Runtime) error {
				return rt.Repo.Remove(ctx, cart.ItemID(args[0]))
			})
		},
	}
}

func newCartStripCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "strip <id>",
		Short:         "Remove the discount from an item",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCartOp(opts, cmd, func(ctx context.Context, rt *Runtime) error {
				return rt.Repo.StripDiscount(ctx, cart.ItemID(args[0]))
			})
		},
	}
}

func newCartGrantCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "grant <id> <percent>",
		Short:         "Give an item a fresh discount window",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			percent, err := strconv.Atoi(args[1])
			if err != nil {
				return WrapExitError(ExitCommandError, fmt.Sprintf("invalid percent %q", args[1]), err)
			}
			return runCartOp(opts, cmd, func(ctx context.Context, rt *Runtime) error {
				return rt.Repo.GrantDiscount(ctx, cart.ItemID(args[0]), percent)
			})
		},
	}
}

func newCartClearCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "clear",
		Short:         "Empty the cart",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCartOp(opts, cmd, func(ctx context.Context, rt *Runtime) error {
				return rt.Repo.Clear(ctx)
			})
		},
	}
}

// runCartOp opens the runtime, expires lapsed discounts, applies op (if
// any) and prints the cart.
func runCartOp(opts *RootOptions, cmd *cobra.Command, op func(context.Context, *Runtime) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	out := opts.formatter(cmd)

	rt, err := loadRuntime(ctx, opts)
	if err != nil {
		return err
	}
	defer rt.Close()

	if expired := rt.Scheduler.Evaluate(ctx); len(expired) > 0 {
		out.VerboseLog("expired discounts: %v", expired)
	}

	var opErr error
	if op != nil {
		opErr = op(ctx, rt)
	}
	// A change that was not saved is still applied in memory and printed.
	return out.Outcome(newCartView(rt.Repo.Snapshot()), opErr, "cart change")
}
