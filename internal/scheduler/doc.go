// Package scheduler expires time-bounded discounts.
//
// A discount window is anchored at the item's absolute AddedAt timestamp.
// Remaining time is always recomputed as window - (now - addedAt), so a
// process that restarts or a clock that jumps forward observes the correct
// state on the very next evaluation.
//
// Expiry is a one-shot transition. Each (id, addedAt) instance carries a
// latch; once the latch is tripped repeated evaluations do not strip again.
// Latches are released when the item leaves the cart or loses its discount,
// and a fresh AddedAt re-arms the item.
package scheduler
