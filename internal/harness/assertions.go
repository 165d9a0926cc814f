package harness

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/roach88/marketcart/internal/cart"
)

// AssertionError is returned when an assertion fails.
// It includes the final cart to help debug the failure.
type AssertionError struct {
	Type     string   // Assertion type for categorization
	Expected string   // Human-readable expected outcome
	Actual   string   // Human-readable actual outcome
	Cart     []string // Final cart for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFinal cart:\n")
	if len(e.Cart) == 0 {
		fmt.Fprintf(&buf, "  (empty)\n")
	}
	for _, line := range e.Cart {
		fmt.Fprintf(&buf, "  %s\n", line)
	}
	return buf.String()
}

// EvaluateAssertions checks every assertion against result and returns the
// failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(result, a); err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

func evaluate(result *Result, a Assertion) error {
	fail := func(expected, actual string) error {
		return &AssertionError{Type: a.Type, Expected: expected, Actual: actual, Cart: describeCart(result.Final)}
	}

	switch a.Type {
	case AssertItem:
		it, ok := result.Final.Find(cart.ItemID(a.ID))
		if !ok {
			return fail(fmt.Sprintf("item %s present", a.ID), "absent")
		}
		if a.Quantity != nil && it.Quantity != *a.Quantity {
			return fail(fmt.Sprintf("item %s quantity %d", a.ID, *a.Quantity), fmt.Sprintf("%d", it.Quantity))
		}
		if a.DiscountPercent != nil && it.DiscountPercent != *a.DiscountPercent {
			return fail(fmt.Sprintf("item %s discount %d%%", a.ID, *a.DiscountPercent), fmt.Sprintf("%d%%", it.DiscountPercent))
		}
		if a.Price != "" {
			want, err := decimal.NewFromString(a.Price)
			if err != nil || !want.Equal(it.Price) {
				return fail(fmt.Sprintf("item %s price %s", a.ID, a.Price), cart.Money(it.Price))
			}
		}
	case AssertItemAbsent:
		if _, ok := result.Final.Find(cart.ItemID(a.ID)); ok {
			return fail(fmt.Sprintf("item %s absent", a.ID), "present")
		}
	case AssertEventCount:
		if result.EventCount != *a.Count {
			return fail(fmt.Sprintf("%d cartUpdated events", *a.Count), fmt.Sprintf("%d", result.EventCount))
		}
	case AssertPersistedItems:
		if len(result.Persisted) != *a.Count {
			return fail(fmt.Sprintf("%d persisted items", *a.Count), fmt.Sprintf("%d", len(result.Persisted)))
		}
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
