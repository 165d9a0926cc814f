// Package checkout is the boundary between the cart core and order
// placement.
//
// The checkout side reads the cart read-only for its order summary and
// reports a placed order back, at which point the cart is cleared. The most
// recent checkout form is kept under its own durable key, separate from the
// cart. Placed-order notifications can also arrive from other services over
// Kafka, see OrderConsumer.
package checkout
