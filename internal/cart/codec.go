package cart

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Encode serializes the cart as a JSON array of items.
// A nil cart encodes as "[]", never "null".
func Encode(c Cart) (string, error) {
	if c == nil {
		c = Cart{}
	}
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode cart: %w", err)
	}
	return string(data), nil
}

// Decode parses a persisted cart.
//
// An empty value decodes to an empty cart. Anything that is not a JSON array
// of items returns an error wrapping ErrMalformed. Entries that parse but
// break the cart invariants are dropped by Normalize rather than failing the
// whole cart.
func Decode(s string) (Cart, error) {
	if strings.TrimSpace(s) == "" {
		return Cart{}, nil
	}
	var raw Cart
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return Cart{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return Normalize(raw), nil
}

// Normalize drops entries with a non-positive quantity or an invalid field,
// keeps the first entry for a duplicated id, and clears out-of-range discounts.
func Normalize(c Cart) Cart {
	out := make(Cart, 0, len(c))
	seen := make(map[ItemID]struct{}, len(c))
	for _, it := range c {
		if it.Quantity <= 0 {
			continue
		}
		if _, dup := seen[it.ID]; dup {
			continue
		}
		if !ValidDiscount(it.DiscountPercent) {
			it.DiscountPercent = 0
		}
		if it.Validate() != nil {
			continue
		}
		seen[it.ID] = struct{}{}
		out = append(out, it)
	}
	return out
}
