package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/marketcart/internal/broadcast"
	"github.com/roach88/marketcart/internal/cart"
)

// Defaults for Config fields left zero.
const (
	DefaultWindow    = 20 * time.Minute
	DefaultThreshold = 5 * time.Minute
	DefaultTick      = time.Second
)

// Config holds the timing parameters of a Scheduler.
type Config struct {
	// Window is the length of every discount window.
	Window time.Duration

	// Threshold is the remaining time below which a window is Expiring.
	Threshold time.Duration

	// Tick is the evaluation period used by Run.
	Tick time.Duration
}

func (c Config) withDefaults() Config {
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.Threshold <= 0 {
		c.Threshold = DefaultThreshold
	}
	if c.Tick <= 0 {
		c.Tick = DefaultTick
	}
	return c
}

// Cart is the part of the repository the scheduler uses.
type Cart interface {
	Snapshot() cart.Cart

	// ExpireDiscount strips the discount of id only while it is still
	// anchored at addedAt.
	ExpireDiscount(ctx context.Context, id cart.ItemID, addedAt time.Time) error
}

// Refresher re-reads the cart from the durable store, publishing it when it
// changed. Repository satisfies it.
type Refresher interface {
	Refresh(ctx context.Context) bool
}

// Clock supplies wall-clock time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// entry tracks one discounted item instance.
type entry struct {
	addedAt time.Time
	fired   bool // latch: expiry already triggered for this addedAt
}

// Scheduler drives the Active -> Expired transition of every discounted item.
//
// Thread-safety: Evaluate, Windows and Tracked are safe for concurrent use.
// The repository is called without holding the scheduler lock.
type Scheduler struct {
	cart    Cart
	refresh Refresher // nil: the cached cart is kept current by other means
	clock   Clock
	cfg     Config
	logger  *slog.Logger

	mu          sync.Mutex
	entries     map[cart.ItemID]entry
	unsubscribe func()
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the wall clock.
func WithClock(c Clock) Option {
	return func(s *Scheduler) {
		s.clock = c
	}
}

// WithConfig sets timing parameters. Zero fields keep their defaults.
func WithConfig(cfg Config) Option {
	return func(s *Scheduler) {
		s.cfg = cfg.withDefaults()
	}
}

// WithStorePolling makes every evaluation start by re-reading the store
// through r, so changes written by other processes are picked up without a
// relay.
func WithStorePolling(r Refresher) Option {
	return func(s *Scheduler) {
		s.refresh = r
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = l
	}
}

// New creates a scheduler over c. If bc is non-nil the scheduler listens for
// cartUpdated events to release entries of removed or undiscounted items.
func New(c Cart, bc *broadcast.Broadcaster, opts ...Option) *Scheduler {
	s := &Scheduler{
		cart:    c,
		clock:   systemClock{},
		cfg:     Config{}.withDefaults(),
		logger:  slog.Default(),
		entries: make(map[cart.ItemID]entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	if bc != nil {
		s.unsubscribe = bc.Subscribe(func(ev broadcast.Event) {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.reconcileLocked(ev.Cart)
		})
	}
	return s
}

// Config returns the effective timing parameters.
func (s *Scheduler) Config() Config {
	return s.cfg
}

// Close stops listening for cart events.
func (s *Scheduler) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
}

// Evaluate checks every item against the clock and expires the ones whose
// window has closed. It returns the ids it expired, in cart order.
//
// Each (id, addedAt) instance expires at most once no matter how often
// Evaluate runs.
func (s *Scheduler) Evaluate(ctx context.Context) []cart.ItemID {
	if s.refresh != nil && s.refresh.Refresh(ctx) {
		s.logger.Debug("cart changed in store, cache refreshed")
	}
	now := s.clock.Now()
	snapshot := s.cart.Snapshot()

	type due struct {
		id      cart.ItemID
		addedAt time.Time
	}
	var fire []due

	s.mu.Lock()
	s.reconcileLocked(snapshot)
	for _, it := range snapshot {
		w := WindowFor(it, now, s.cfg.Window, s.cfg.Threshold)
		if w.State != Expired {
			continue
		}
		e := s.entries[it.ID]
		if e.fired {
			continue
		}
		e.fired = true
		s.entries[it.ID] = e
		fire = append(fire, due{id: it.ID, addedAt: it.AddedAt})
	}
	s.mu.Unlock()

	if len(fire) == 0 {
		return nil
	}
	ids := make([]cart.ItemID, 0, len(fire))
	for _, d := range fire {
		// A persist failure still strips in memory, so the latch stays tripped.
		if err := s.cart.ExpireDiscount(ctx, d.id, d.addedAt); err != nil {
			s.logger.Warn("discount expiry not persisted", "id", d.id, "error", err)
		}
		s.logger.Debug("discount expired", "id", d.id, "added_at", d.addedAt)
		ids = append(ids, d.id)
	}
	return ids
}

// Run evaluates immediately and then once per tick until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler starting", "window", s.cfg.Window, "tick", s.cfg.Tick)

	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()

	for {
		s.Evaluate(ctx)

		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping: context cancelled")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Windows returns the current window of every item, in cart order.
func (s *Scheduler) Windows() []Window {
	now := s.clock.Now()
	snapshot := s.cart.Snapshot()
	out := make([]Window, 0, len(snapshot))
	for _, it := range snapshot {
		out = append(out, WindowFor(it, now, s.cfg.Window, s.cfg.Threshold))
	}
	return out
}

// Tracked returns the number of discounted item instances being tracked.
func (s *Scheduler) Tracked() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// reconcileLocked aligns entries with c: discounted items are tracked,
// a changed AddedAt re-arms the latch and everything else is released.
func (s *Scheduler) reconcileLocked(c cart.Cart) {
	seen := make(map[cart.ItemID]struct{}, len(c))
	for _, it := range c {
		if !it.HasDiscount() {
			continue
		}
		seen[it.ID] = struct{}{}
		if e, ok := s.entries[it.ID]; ok && e.addedAt.Equal(it.AddedAt) {
			continue
		}
		s.entries[it.ID] = entry{addedAt: it.AddedAt}
	}
	for id := range s.entries {
		if _, ok := seen[id]; !ok {
			delete(s.entries, id)
		}
	}
}
