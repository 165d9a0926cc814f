// Package httpapi exposes the cart to UI runtimes over HTTP.
//
// Mutations return the committed cart with its totals. A store failure is
// not an HTTP error: the mutation is kept in memory and the response carries
// a transient notice instead. GET /events streams cartUpdated events as
// server-sent events, starting with the current cart.
package httpapi
