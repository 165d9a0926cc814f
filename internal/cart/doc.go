// Package cart defines the cart line item, the cart itself and the totals
// derived from it, together with the JSON codec used for the persisted
// representation stored under the marketplace_cart key.
//
// Totals are never accumulated incrementally. Every call re-derives them from
// the current entries with exact decimal arithmetic; rounding to cents happens
// only when a value is formatted for display (see Money).
package cart
