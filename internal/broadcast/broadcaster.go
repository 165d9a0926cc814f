package broadcast

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/roach88/marketcart/internal/cart"
)

// EventCartUpdated is the name of the only event the broadcaster emits.
const EventCartUpdated = "cartUpdated"

// Source tells whether an event originated in this process.
type Source string

const (
	// SourceLocal marks events produced by a mutation in this process.
	SourceLocal Source = "local"

	// SourceRemote marks events produced after another process reported a
	// change and the cart was re-read from the store.
	SourceRemote Source = "remote"
)

// Event is a committed cart snapshot.
type Event struct {
	Name   string    `json:"name"`
	Seq    int64     `json:"seq"`
	Source Source    `json:"source"`
	Cart   cart.Cart `json:"cart"`
}

// Listener receives events. Each call gets its own copy of the cart.
type Listener func(Event)

type subscription struct {
	id     int64
	fn     Listener
	active atomic.Bool
}

// Broadcaster fans cart snapshots out to subscribers.
//
// Thread-safety model:
//   - Subscribe/unsubscribe: safe from any goroutine, including listeners
//   - Enqueue: safe from any goroutine; call order defines delivery order
//   - Flush: safe from any goroutine; at most one caller drains at a time
type Broadcaster struct {
	logger *slog.Logger

	mu       sync.Mutex
	seq      int64 // last stamped sequence number; orders events, never wall time
	subs     []*subscription
	nextID   int64
	pending  []Event
	draining bool
}

// Option configures a Broadcaster.
type Option func(*Broadcaster)

// WithLogger sets the logger used to report panicking listeners.
func WithLogger(l *slog.Logger) Option {
	return func(b *Broadcaster) {
		b.logger = l
	}
}

// New creates a Broadcaster with no subscribers.
func New(opts ...Option) *Broadcaster {
	b := &Broadcaster{
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers fn and returns a function that removes it.
//
// Unsubscribing takes effect immediately: fn is not called again, not even
// for the remainder of a delivery pass that is already in progress.
// Calling the returned function more than once is harmless.
func (b *Broadcaster) Subscribe(fn Listener) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	s := &subscription{id: b.nextID, fn: fn}
	s.active.Store(true)
	b.subs = append(b.subs, s)

	return func() {
		if !s.active.Swap(false) {
			return
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, cur := range b.subs {
			if cur == s {
				b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
				break
			}
		}
	}
}

// Len returns the number of current subscribers.
func (b *Broadcaster) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Publish queues a local cartUpdated event for c and delivers every queued
// event before returning, unless another caller is already draining.
func (b *Broadcaster) Publish(c cart.Cart) Event {
	ev := b.Enqueue(c, SourceLocal)
	b.Flush()
	return ev
}

// Enqueue stamps and queues an event without delivering it.
//
// Callers that commit mutations under their own lock enqueue while holding
// it, so sequence numbers follow commit order, and Flush after releasing it.
func (b *Broadcaster) Enqueue(c cart.Cart, src Source) Event {
	snapshot := c.Clone()

	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	ev := Event{
		Name:   EventCartUpdated,
		Seq:    b.seq,
		Source: src,
		Cart:   snapshot,
	}
	b.pending = append(b.pending, ev)
	return ev
}

// Flush delivers queued events in order.
//
// If a delivery pass is already running (in a listener further up the stack
// or in another goroutine), Flush returns at once and that pass picks up the
// newly queued events.
func (b *Broadcaster) Flush() {
	b.mu.Lock()
	if b.draining {
		b.mu.Unlock()
		return
	}
	b.draining = true

	for len(b.pending) > 0 {
		ev := b.pending[0]
		b.pending[0] = Event{}
		b.pending = b.pending[1:]

		subs := make([]*subscription, len(b.subs))
		copy(subs, b.subs)
		b.mu.Unlock()

		for _, s := range subs {
			if !s.active.Load() {
				continue
			}
			b.deliver(s, ev)
		}

		b.mu.Lock()
	}

	b.pending = nil
	b.draining = false
	b.mu.Unlock()
}

// deliver calls one listener, isolating the pass from a panicking listener.
func (b *Broadcaster) deliver(s *subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("cart listener panicked",
				"subscriber", s.id,
				"seq", ev.Seq,
				"panic", r,
			)
		}
	}()

	ev.Cart = ev.Cart.Clone()
	s.fn(ev)
}
