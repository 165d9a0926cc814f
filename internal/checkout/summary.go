package checkout

import (
	"bytes"
	"fmt"
	"io"

	"github.com/shopspring/decimal"

	"github.com/roach88/marketcart/internal/cart"
)

// Line is one cart entry as priced at checkout.
type Line struct {
	ID              cart.ItemID     `json:"id"`
	Title           string          `json:"title,omitempty"`
	Quantity        int             `json:"quantity"`
	DiscountPercent int             `json:"discountPercent,omitempty"`
	UnitPrice       decimal.Decimal `json:"unitPrice"`
	LineTotal       decimal.Decimal `json:"lineTotal"`
}

// Summary is the order as the customer confirmed it.
type Summary struct {
	Order  Snapshot    `json:"order"`
	Lines  []Line      `json:"lines"`
	Totals cart.Totals `json:"totals"`
}

// NewSummary prices c for the order described by s.
func NewSummary(s Snapshot, c cart.Cart) Summary {
	lines := make([]Line, 0, len(c))
	for _, it := range c {
		lines = append(lines, Line{
			ID:              it.ID,
			Title:           it.Title,
			Quantity:        it.Quantity,
			DiscountPercent: it.DiscountPercent,
			UnitPrice:       it.UnitPrice(),
			LineTotal:       it.DiscountedLineTotal(),
		})
	}
	return Summary{Order: s, Lines: lines, Totals: c.Totals()}
}

// PaymentMethod returns the display label of the order's payment type.
func (s Summary) PaymentMethod() string {
	return PaymentLabel(s.Order.PaymentType)
}

// WriteText renders the summary as plain text.
func (s Summary) WriteText(w io.Writer) error {
	var buf bytes.Buffer

	notes := s.Order.Notes
	if notes == "" {
		notes = "None"
	}

	fmt.Fprintln(&buf, "=== ORDER SUMMARY ===")
	fmt.Fprintf(&buf, "Order ID: %s\n", s.Order.OrderID)
	fmt.Fprintf(&buf, "Customer: %s\n", s.Order.FullName)
	fmt.Fprintf(&buf, "Phone: %s\n", s.Order.Phone)
	fmt.Fprintf(&buf, "Email: %s\n", s.Order.Email)
	fmt.Fprintf(&buf, "Delivery Address: %s\n", s.Order.Address())
	fmt.Fprintf(&buf, "Delivery Notes: %s\n", notes)
	fmt.Fprintf(&buf, "Payment Method: %s\n", s.PaymentMethod())
	fmt.Fprintf(&buf, "Order Date: %s\n", s.Order.OrderDate.UTC().Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&buf, "Cart Items: %d\n", len(s.Lines))
	for _, l := range s.Lines {
		title := l.Title
		if title == "" {
			title = string(l.ID)
		}
		fmt.Fprintf(&buf, "  %d x %s @ $%s", l.Quantity, title, cart.Money(l.UnitPrice))
		if l.DiscountPercent > 0 {
			fmt.Fprintf(&buf, " (-%d%%)", l.DiscountPercent)
		}
		fmt.Fprintf(&buf, " = $%s\n", cart.Money(l.LineTotal))
	}
	fmt.Fprintf(&buf, "Original Total: $%s\n", cart.Money(s.Totals.OriginalTotal))
	fmt.Fprintf(&buf, "Savings: $%s\n", cart.Money(s.Totals.TotalSavings))
	fmt.Fprintf(&buf, "Total Amount: $%s\n", cart.Money(s.Totals.DiscountedTotal))
	fmt.Fprintln(&buf, "====================")

	_, err := w.Write(buf.Bytes())
	return err
}
