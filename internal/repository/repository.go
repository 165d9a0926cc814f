// Package repository owns the canonical cart.
//
// The Repository is the only component that writes the persisted cart.
// Every mutation is a whole-cart read-modify-write: the cart is re-read from
// the durable store, changed, written back, and the resulting snapshot is
// broadcast. The in-memory copy is a cache of the store and is replaced by
// whatever the store holds on the next read.
//
// Thread-safety model:
//   - All operations are safe from any goroutine
//   - Mutations are serialized by one mutex and broadcast in commit order
//   - Listeners may call back into the Repository; delivery happens after
//     the mutex is released
package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/marketcart/internal/broadcast"
	"github.com/roach88/marketcart/internal/cart"
	"github.com/roach88/marketcart/internal/store"
)

// DefaultKey is the durable key holding the serialized cart.
const DefaultKey = "marketplace_cart"

// Clock supplies the wall-clock time stamped into AddedAt.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Repository is the single writer of the persisted cart.
type Repository struct {
	kv     store.KV
	bc     *broadcast.Broadcaster
	clock  Clock
	key    string
	logger *slog.Logger

	mu    sync.Mutex
	items cart.Cart
	dirty bool // in-memory cart is newer than the store
}

// Option configures a Repository.
type Option func(*Repository)

// WithClock overrides the wall clock.
func WithClock(c Clock) Option {
	return func(r *Repository) {
		r.clock = c
	}
}

// WithKey overrides the durable key (default DefaultKey).
func WithKey(key string) Option {
	return func(r *Repository) {
		r.key = key
	}
}

// WithLogger sets the logger used for degraded store operations.
func WithLogger(l *slog.Logger) Option {
	return func(r *Repository) {
		r.logger = l
	}
}

// New creates a Repository over kv that publishes through bc.
// The cart starts empty in memory; call Load to hydrate it.
func New(kv store.KV, bc *broadcast.Broadcaster, opts ...Option) *Repository {
	r := &Repository{
		kv:     kv,
		bc:     bc,
		clock:  systemClock{},
		key:    DefaultKey,
		logger: slog.Default(),
		items:  cart.Cart{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Load reads the cart from the store and makes it the cached cart.
//
// Load never fails: a missing, corrupt or unreadable value yields an empty
// cart. While an earlier write is still unpersisted the in-memory cart is
// returned instead, since the store is known to be behind it.
func (r *Repository) Load(ctx context.Context) cart.Cart {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.items = r.loadLocked(ctx)
	return r.items.Clone()
}

// Sync re-reads the store and publishes the result as a remote-sourced
// event. It is called when another process reports a change.
func (r *Repository) Sync(ctx context.Context) cart.Cart {
	r.mu.Lock()
	r.items = r.loadLocked(ctx)
	snapshot := r.items.Clone()
	r.bc.Enqueue(snapshot, broadcast.SourceRemote)
	r.mu.Unlock()

	r.bc.Flush()
	return snapshot
}

// Refresh re-reads the store and, if it holds a cart other than the cached
// one, adopts it and publishes a remote-sourced event. It reports whether the
// cache changed. An unreadable store or an unpersisted write keeps the cache.
func (r *Repository) Refresh(ctx context.Context) bool {
	r.mu.Lock()
	if r.dirty {
		r.mu.Unlock()
		return false
	}
	c, err := r.read(ctx)
	if err != nil {
		r.mu.Unlock()
		r.logger.Debug("cart refresh skipped", "key", r.key, "error", err)
		return false
	}
	changed := r.adoptLocked(c)
	r.mu.Unlock()

	if changed {
		r.bc.Flush()
	}
	return changed
}

// Snapshot returns a copy of the cached cart without touching the store.
func (r *Repository) Snapshot() cart.Cart {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.items.Clone()
}

// Totals derives totals from the cached cart.
func (r *Repository) Totals() cart.Totals {
	return r.Snapshot().Totals()
}

// Dirty reports whether the last write failed to reach the store.
func (r *Repository) Dirty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dirty
}

// Add puts item into the cart.
//
// If the id is already present only its quantity grows; price, discount and
// AddedAt of the existing entry are kept. A new entry gets AddedAt = now.
// A non-positive quantity counts as one.
func (r *Repository) Add(ctx context.Context, item cart.Item) error {
	item = item.Canonical()
	if err := item.Validate(); err != nil {
		return err
	}
	qty := item.Quantity
	if qty <= 0 {
		qty = 1
	}
	now := r.clock.Now().UTC()

	return r.mutate(ctx, "add", func(c cart.Cart) (cart.Cart, bool) {
		if i := c.Index(item.ID); i >= 0 {
			c[i].Quantity += qty
			return c, true
		}
		item.Quantity = qty
		item.AddedAt = now
		return append(c, item), true
	})
}

// SetQuantity replaces the quantity of id. n <= 0 removes the item.
// An unknown id is a no-op.
func (r *Repository) SetQuantity(ctx context.Context, id cart.ItemID, n int) error {
	if n <= 0 {
		return r.Remove(ctx, id)
	}
	return r.mutate(ctx, "set_quantity", func(c cart.Cart) (cart.Cart, bool) {
		i := c.Index(id)
		if i < 0 || c[i].Quantity == n {
			return c, false
		}
		c[i].Quantity = n
		return c, true
	})
}

// Remove drops id from the cart. An unknown id is a no-op.
func (r *Repository) Remove(ctx context.Context, id cart.ItemID) error {
	return r.mutate(ctx, "remove", func(c cart.Cart) (cart.Cart, bool) {
		i := c.Index(id)
		if i < 0 {
			return c, false
		}
		return append(c[:i], c[i+1:]...), true
	})
}

// StripDiscount removes the discount from id and leaves every other field
// untouched. It is idempotent and an unknown id is a no-op.
func (r *Repository) StripDiscount(ctx context.Context, id cart.ItemID) error {
	return r.mutate(ctx, "strip_discount", func(c cart.Cart) (cart.Cart, bool) {
		i := c.Index(id)
		if i < 0 || !c[i].HasDiscount() {
			return c, false
		}
		c[i].DiscountPercent = 0
		return c, true
	})
}

// ExpireDiscount is StripDiscount guarded by the window anchor: the discount
// is removed only if the item still carries one anchored at addedAt. A
// window re-granted since the caller looked is left alone.
func (r *Repository) ExpireDiscount(ctx context.Context, id cart.ItemID, addedAt time.Time) error {
	return r.mutate(ctx, "expire_discount", func(c cart.Cart) (cart.Cart, bool) {
		i := c.Index(id)
		if i < 0 || !c[i].HasDiscount() || !c[i].AddedAt.Equal(addedAt) {
			return c, false
		}
		c[i].DiscountPercent = 0
		return c, true
	})
}

// GrantDiscount gives id a fresh discount window: the percentage is set and
// AddedAt is reset to now. An unknown id is a no-op.
func (r *Repository) GrantDiscount(ctx context.Context, id cart.ItemID, percent int) error {
	if percent <= 0 || !cart.ValidDiscount(percent) {
		return fmt.Errorf("%w: discount %d%% out of range for %s", cart.ErrInvalidItem, percent, id)
	}
	now := r.clock.Now().UTC()

	return r.mutate(ctx, "grant_discount", func(c cart.Cart) (cart.Cart, bool) {
		i := c.Index(id)
		if i < 0 {
			return c, false
		}
		c[i].DiscountPercent = percent
		c[i].AddedAt = now
		return c, true
	})
}

// Clear empties the cart. The empty cart is always written and broadcast,
// which also overwrites a corrupt persisted value.
func (r *Repository) Clear(ctx context.Context) error {
	return r.mutate(ctx, "clear", func(cart.Cart) (cart.Cart, bool) {
		return cart.Cart{}, true
	})
}

// Retry writes the in-memory cart if an earlier write failed.
func (r *Repository) Retry(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.dirty {
		return nil
	}
	if err := r.persistLocked(ctx, "retry", r.items); err != nil {
		return err
	}
	r.logger.Info("cart persisted after retry", "items", len(r.items))
	return nil
}

// mutate runs one read-modify-write-persist cycle and broadcasts the result.
// fn reports whether it changed the cart; unchanged carts are neither
// written nor broadcast.
func (r *Repository) mutate(ctx context.Context, op string, fn func(cart.Cart) (cart.Cart, bool)) error {
	r.mu.Lock()

	base := r.baseLocked(ctx)
	next, changed := fn(base.Clone())
	if !changed {
		// The store may have moved on since the cache was filled.
		adopted := r.adoptLocked(base)
		r.mu.Unlock()
		if adopted {
			r.bc.Flush()
		}
		return nil
	}

	err := r.persistLocked(ctx, op, next)
	r.items = next
	r.bc.Enqueue(next, broadcast.SourceLocal)
	r.mu.Unlock()

	r.bc.Flush()
	return err
}

// adoptLocked replaces the cache with c when they differ and queues a
// remote-sourced event for it. Callers flush after unlocking.
func (r *Repository) adoptLocked(c cart.Cart) bool {
	if c.Equal(r.items) {
		return false
	}
	r.items = c
	r.bc.Enqueue(c, broadcast.SourceRemote)
	return true
}

// loadLocked implements the Load read policy.
func (r *Repository) loadLocked(ctx context.Context) cart.Cart {
	if r.dirty {
		return r.items.Clone()
	}
	c, err := r.read(ctx)
	if err != nil {
		r.logger.Warn("cart read failed, using empty cart", "key", r.key, "error", err)
		return cart.Cart{}
	}
	return c
}

// baseLocked picks the cart a mutation starts from. An unreadable store
// leaves the cached cart operative; corrupt data is discarded.
func (r *Repository) baseLocked(ctx context.Context) cart.Cart {
	if r.dirty {
		return r.items.Clone()
	}
	c, err := r.read(ctx)
	switch {
	case err == nil:
		return c
	case errors.Is(err, cart.ErrMalformed):
		r.logger.Warn("discarding malformed persisted cart", "key", r.key, "error", err)
		return cart.Cart{}
	default:
		r.logger.Warn("cart read failed, mutating cached cart", "key", r.key, "error", err)
		return r.items.Clone()
	}
}

func (r *Repository) read(ctx context.Context) (cart.Cart, error) {
	raw, ok, err := r.kv.Get(ctx, r.key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return cart.Cart{}, nil
	}
	return cart.Decode(raw)
}

func (r *Repository) persistLocked(ctx context.Context, op string, c cart.Cart) error {
	encoded, err := cart.Encode(c)
	if err == nil {
		err = r.kv.Set(ctx, r.key, encoded)
	}
	if err != nil {
		r.dirty = true
		r.logger.Warn("cart not persisted, keeping in-memory state", "op", op, "key", r.key, "error", err)
		return &PersistError{Op: op, Err: err}
	}
	r.dirty = false
	return nil
}
