package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/marketcart/internal/cart"
	"github.com/roach88/marketcart/internal/store"
)

// ErrEmptyCart is returned when an order is placed for an empty cart.
var ErrEmptyCart = errors.New("cart is empty")

// Cart is the part of the repository the checkout side may touch.
type Cart interface {
	Snapshot() cart.Cart
	Clear(ctx context.Context) error
}

// Clock supplies the order date.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Bridge connects order placement to the cart.
type Bridge struct {
	cart   Cart
	kv     store.KV
	key    string
	ids    IDGenerator
	clock  Clock
	logger *slog.Logger
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithKey overrides the durable key of the checkout snapshot.
func WithKey(key string) Option {
	return func(b *Bridge) {
		b.key = key
	}
}

// WithIDGenerator overrides order id generation.
func WithIDGenerator(g IDGenerator) Option {
	return func(b *Bridge) {
		b.ids = g
	}
}

// WithClock overrides the wall clock.
func WithClock(c Clock) Option {
	return func(b *Bridge) {
		b.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) {
		b.logger = l
	}
}

// NewBridge creates a bridge over the cart c, keeping snapshots in kv.
func NewBridge(c Cart, kv store.KV, opts ...Option) *Bridge {
	b := &Bridge{
		cart:   c,
		kv:     kv,
		key:    DefaultKey,
		ids:    UUIDv7Generator{},
		clock:  systemClock{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// ReadCartForSummary returns the current cart. The result is a copy.
func (b *Bridge) ReadCartForSummary() cart.Cart {
	return b.cart.Snapshot()
}

// OnOrderPlaced clears the cart after a successful order.
//
// A non-nil error matches store.ErrUnavailable: the cart is empty in memory
// but the store still holds the old one.
func (b *Bridge) OnOrderPlaced(ctx context.Context) error {
	if err := b.cart.Clear(ctx); err != nil {
		b.logger.Warn("cart clear after order not persisted", "error", err)
		return err
	}
	b.logger.Info("cart cleared after order")
	return nil
}

// SaveSnapshot stores s as the most recent checkout form.
func (b *Bridge) SaveSnapshot(ctx context.Context, s Snapshot) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode checkout snapshot: %w", err)
	}
	return b.kv.Set(ctx, b.key, string(data))
}

// LoadSnapshot returns the most recent checkout form. ok is false when none
// was saved. A stored value that does not decode matches cart.ErrMalformed.
func (b *Bridge) LoadSnapshot(ctx context.Context) (s Snapshot, ok bool, err error) {
	raw, ok, err := b.kv.Get(ctx, b.key)
	if err != nil || !ok {
		return Snapshot{}, false, err
	}
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return Snapshot{}, false, fmt.Errorf("%w: checkout snapshot: %v", cart.ErrMalformed, err)
	}
	return s, true, nil
}

// PlaceOrder completes checkout for the current cart.
//
// The form is normalized and stamped with a fresh order id and, if unset,
// the current date. The snapshot is saved, the summary is priced from the
// cart, and the cart is cleared.
//
// Persistence failures do not stop the order: the returned Summary is
// valid and the error matches store.ErrUnavailable. Any other error means
// no order was placed.
func (b *Bridge) PlaceOrder(ctx context.Context, s Snapshot) (Summary, error) {
	items := b.cart.Snapshot()
	if len(items) == 0 {
		return Summary{}, ErrEmptyCart
	}

	s = s.Canonical()
	s.OrderID = b.ids.Generate()
	if s.OrderDate.IsZero() {
		s.OrderDate = b.clock.Now().UTC()
	}

	summary := NewSummary(s, items)

	var errs []error
	if err := b.SaveSnapshot(ctx, s); err != nil {
		b.logger.Warn("checkout snapshot not persisted", "order_id", s.OrderID, "error", err)
		errs = append(errs, err)
	}
	b.logger.Info("order placed",
		"order_id", s.OrderID,
		"items", len(summary.Lines),
		"total", cart.Money(summary.Totals.DiscountedTotal),
	)
	if err := b.OnOrderPlaced(ctx); err != nil {
		errs = append(errs, err)
	}
	return summary, errors.Join(errs...)
}
