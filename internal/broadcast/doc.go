// Package broadcast delivers cart snapshots to every interested runtime.
//
// Each committed cart mutation produces one cartUpdated Event carrying the
// full cart. Events are stamped with a strictly increasing sequence number
// and delivered synchronously, in commit order, to every subscriber in
// registration order.
//
// DELIVERY MODEL:
//
// Events pass through a FIFO queue drained by one caller at a time. A
// listener that triggers another publish does not recurse: the nested event
// is queued and delivered after the current pass completes, so a subscriber
// handling event N always observes the cart as of mutation N.
//
// Runtimes living in other processes are reached through Relay, which
// forwards events over Redis pub/sub. Relay never carries authority: a
// remote notification only prompts the receiving process to re-read the
// durable store.
package broadcast
