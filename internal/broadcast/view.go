package broadcast

import (
	"sync"

	"github.com/roach88/marketcart/internal/cart"
)

// View is one runtime's cached copy of the cart.
//
// The cache holds no authority: every event replaces it wholesale, and an
// event older than the cached one is ignored.
type View struct {
	mu          sync.RWMutex
	cart        cart.Cart
	seq         int64
	unsubscribe func()
}

// NewView subscribes a view to b, seeded with the cart read at startup.
func NewView(b *Broadcaster, initial cart.Cart) *View {
	v := &View{cart: initial.Clone()}
	v.unsubscribe = b.Subscribe(v.apply)
	return v
}

func (v *View) apply(ev Event) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if ev.Seq <= v.seq {
		return
	}
	v.cart = ev.Cart
	v.seq = ev.Seq
}

// Cart returns a copy of the cached cart.
func (v *View) Cart() cart.Cart {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.cart.Clone()
}

// Seq returns the sequence number of the last applied event.
func (v *View) Seq() int64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.seq
}

// Close stops the view from receiving further events.
func (v *View) Close() {
	v.unsubscribe()
}
