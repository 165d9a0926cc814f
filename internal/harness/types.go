package harness

import (
	"fmt"

	"github.com/roach88/marketcart/internal/cart"
)

// TraceEvent records the outcome of one step.
type TraceEvent struct {
	Step   int      `json:"step"`
	Op     string   `json:"op"`
	Events []int64  `json:"events,omitempty"` // seqs of cartUpdated events caused by the step
	Fired  []string `json:"fired,omitempty"`  // ids whose discount expired
	Error  string   `json:"error,omitempty"`
	Notice bool     `json:"notice,omitempty"` // change kept in memory only
	Cart   []string `json:"cart"`
	Total  string   `json:"total"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall success: every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace contains one event per step, in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Final is the cart after the last step.
	Final cart.Cart `json:"final"`

	// Persisted is the cart the store holds after the last step.
	Persisted cart.Cart `json:"persisted"`

	// EventCount is the number of cartUpdated events published.
	EventCount int `json:"event_count"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// describeCart renders c one line per item, e.g. "1 x2 @10.00 -20%".
func describeCart(c cart.Cart) []string {
	lines := make([]string, 0, len(c))
	for _, it := range c {
		line := fmt.Sprintf("%s x%d @%s", it.ID, it.Quantity, cart.Money(it.Price))
		if it.HasDiscount() {
			line += fmt.Sprintf(" -%d%%", it.DiscountPercent)
		}
		lines = append(lines, line)
	}
	return lines
}
