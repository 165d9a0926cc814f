package cart

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"
)

var (
	// ErrInvalidItem is returned when an item violates the line item invariants.
	ErrInvalidItem = errors.New("invalid cart item")

	// ErrMalformed marks persisted data that is not a serialized cart.
	ErrMalformed = errors.New("malformed persisted cart")
)

var hundred = decimal.NewFromInt(100)

// ItemID identifies a line item within a cart.
//
// The persisted form written by older UI layers stores numeric ids, so
// unmarshaling accepts both JSON strings and JSON numbers.
type ItemID string

// UnmarshalJSON implements json.Unmarshaler.
func (id *ItemID) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("item id: %w", err)
		}
		*id = ItemID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("item id: %w", err)
	}
	*id = ItemID(n.String())
	return nil
}

// Item is one cart line.
//
// Price is the undiscounted reference price and never changes once the item
// is in the cart. DiscountPercent is zero when the item carries no discount;
// otherwise it lies in (0, 100) and the discount window is anchored at AddedAt.
type Item struct {
	ID              ItemID          `json:"id"`
	Title           string          `json:"title,omitempty"`
	Image           string          `json:"image,omitempty"`
	Price           decimal.Decimal `json:"price"`
	Quantity        int             `json:"quantity"`
	DiscountPercent int             `json:"discountPercent,omitempty"`
	AddedAt         time.Time       `json:"addedAt"`
}

// HasDiscount reports whether the item currently benefits from a promotion.
func (it Item) HasDiscount() bool {
	return it.DiscountPercent > 0
}

// UnitPrice returns the effective unit price after the discount, if any.
func (it Item) UnitPrice() decimal.Decimal {
	if !it.HasDiscount() {
		return it.Price
	}
	rate := hundred.Sub(decimal.NewFromInt(int64(it.DiscountPercent)))
	return it.Price.Mul(rate).Div(hundred)
}

// LineTotal returns the undiscounted total for the line.
func (it Item) LineTotal() decimal.Decimal {
	return it.Price.Mul(decimal.NewFromInt(int64(it.Quantity)))
}

// DiscountedLineTotal returns the line total at the effective unit price.
func (it Item) DiscountedLineTotal() decimal.Decimal {
	return it.UnitPrice().Mul(decimal.NewFromInt(int64(it.Quantity)))
}

// Validate checks the fields that do not depend on the operation being
// performed. Quantity is left to the caller: a non-positive quantity means
// removal for SetQuantity and "one" for Add.
func (it Item) Validate() error {
	if strings.TrimSpace(string(it.ID)) == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidItem)
	}
	if it.Price.IsNegative() {
		return fmt.Errorf("%w: negative price %s for %s", ErrInvalidItem, it.Price, it.ID)
	}
	if !ValidDiscount(it.DiscountPercent) {
		return fmt.Errorf("%w: discount %d%% out of range for %s", ErrInvalidItem, it.DiscountPercent, it.ID)
	}
	return nil
}

// Canonical returns the item with display text NFC-normalized so the same
// title typed in two runtimes compares and serializes identically.
func (it Item) Canonical() Item {
	it.Title = norm.NFC.String(strings.TrimSpace(it.Title))
	it.Image = strings.TrimSpace(it.Image)
	return it
}

// ValidDiscount reports whether p is an acceptable DiscountPercent value.
// Zero means "no discount".
func ValidDiscount(p int) bool {
	return p >= 0 && p < 100
}

// Cart is the ordered list of line items, in insertion order.
type Cart []Item

// Index returns the position of the item with the given id, or -1.
func (c Cart) Index(id ItemID) int {
	for i := range c {
		if c[i].ID == id {
			return i
		}
	}
	return -1
}

// Find returns the item with the given id.
func (c Cart) Find(id ItemID) (Item, bool) {
	if i := c.Index(id); i >= 0 {
		return c[i], true
	}
	return Item{}, false
}

// Clone returns a copy that shares no backing array with c.
// A nil cart clones to an empty, non-nil cart.
func (c Cart) Clone() Cart {
	out := make(Cart, len(c))
	copy(out, c)
	return out
}

// Equal reports whether both carts hold the same entries in the same order.
func (c Cart) Equal(other Cart) bool {
	if len(c) != len(other) {
		return false
	}
	for i := range c {
		a, b := c[i], other[i]
		if a.ID != b.ID || a.Title != b.Title || a.Image != b.Image ||
			!a.Price.Equal(b.Price) || a.Quantity != b.Quantity ||
			a.DiscountPercent != b.DiscountPercent || !a.AddedAt.Equal(b.AddedAt) {
			return false
		}
	}
	return true
}
