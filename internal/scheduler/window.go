package scheduler

import (
	"encoding/json"
	"time"

	"github.com/roach88/marketcart/internal/cart"
)

// State is the discount state of one cart item at one instant.
type State int

const (
	// NoDiscount means the item carries no discount.
	NoDiscount State = iota

	// Active means the discount window is running.
	Active

	// Expiring is Active with less than the threshold remaining.
	// It is a presentation hint only.
	Expiring

	// Expired means the window has closed and the discount must be stripped.
	Expired
)

func (s State) String() string {
	switch s {
	case NoDiscount:
		return "no_discount"
	case Active:
		return "active"
	case Expiring:
		return "expiring"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Window is the derived discount window of one item.
type Window struct {
	ID        cart.ItemID
	Percent   int
	AddedAt   time.Time
	ExpiresAt time.Time
	Remaining time.Duration
	State     State
}

// Live reports whether the discount still applies.
func (w Window) Live() bool {
	return w.State == Active || w.State == Expiring
}

// MarshalJSON renders remaining time in whole seconds, rounded up, which is
// what a countdown shows.
func (w Window) MarshalJSON() ([]byte, error) {
	type wire struct {
		ID               cart.ItemID `json:"id"`
		Percent          int         `json:"discountPercent,omitempty"`
		AddedAt          time.Time   `json:"addedAt"`
		ExpiresAt        *time.Time  `json:"expiresAt,omitempty"`
		RemainingSeconds int64       `json:"remainingSeconds"`
		State            State       `json:"state"`
	}
	out := wire{
		ID:               w.ID,
		Percent:          w.Percent,
		AddedAt:          w.AddedAt,
		RemainingSeconds: int64((w.Remaining + time.Second - 1) / time.Second),
		State:            w.State,
	}
	if w.State != NoDiscount {
		out.ExpiresAt = &w.ExpiresAt
	}
	return json.Marshal(out)
}

// WindowFor computes the window of it at now.
//
// It is pure: the result depends only on the item's AddedAt and the
// arguments, never on how long any process has been running. Remaining is
// clamped at zero and a window is expired at exactly addedAt + length.
func WindowFor(it cart.Item, now time.Time, length, threshold time.Duration) Window {
	w := Window{
		ID:      it.ID,
		Percent: it.DiscountPercent,
		AddedAt: it.AddedAt,
	}
	if !it.HasDiscount() {
		w.State = NoDiscount
		return w
	}

	w.ExpiresAt = it.AddedAt.Add(length)
	w.Remaining = length - now.Sub(it.AddedAt)
	switch {
	case w.Remaining <= 0:
		w.Remaining = 0
		w.State = Expired
	case w.Remaining < threshold:
		w.State = Expiring
	default:
		w.State = Active
	}
	return w
}
