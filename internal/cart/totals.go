package cart

import "github.com/shopspring/decimal"

// Totals summarizes a cart. All amounts are exact; use Money to present them.
type Totals struct {
	TotalQuantity   int             `json:"totalQuantity"`
	OriginalTotal   decimal.Decimal `json:"originalTotal"`
	DiscountedTotal decimal.Decimal `json:"discountedTotal"`
	TotalSavings    decimal.Decimal `json:"totalSavings"`
}

// Totals derives the cart totals from its current entries.
func (c Cart) Totals() Totals {
	t := Totals{
		OriginalTotal:   decimal.Zero,
		DiscountedTotal: decimal.Zero,
	}
	for _, it := range c {
		t.TotalQuantity += it.Quantity
		t.OriginalTotal = t.OriginalTotal.Add(it.LineTotal())
		t.DiscountedTotal = t.DiscountedTotal.Add(it.DiscountedLineTotal())
	}
	t.TotalSavings = t.OriginalTotal.Sub(t.DiscountedTotal)
	return t
}

// Money formats an amount with two decimal places, rounding half away from zero.
func Money(d decimal.Decimal) string {
	return d.StringFixed(2)
}
