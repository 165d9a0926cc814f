// Package store provides the durable key-value persistence used for the cart
// and checkout snapshots.
//
// Values are opaque strings; callers serialize the whole document on every
// write. There are no transactions across keys.
//
// # Backends
//
//   - SQLite: a single-file database, the default for a single process.
//   - Redis: shared by several processes on one host or network.
//   - Memory: process-local, used by tests and the scenario harness.
//
// # Database Configuration (SQLite)
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//
// Every failure is returned as a *Error that matches ErrUnavailable, so
// callers can degrade without inspecting backend-specific errors.
package store
