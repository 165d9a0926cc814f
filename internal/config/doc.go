// Package config loads marketcart runtime configuration.
//
// Values come from, in increasing precedence: built-in defaults, a YAML
// file validated against an embedded CUE schema, and MARKETCART_*
// environment variables (optionally seeded from a .env file). The result is
// passed explicitly to constructors; nothing here is global.
package config
