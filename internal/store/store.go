package store

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnavailable matches every error returned by a KV backend.
// Reads that fail are treated as "empty"; writes that fail are retryable.
var ErrUnavailable = errors.New("store unavailable")

// KV is the durable key-value contract shared by all backends.
type KV interface {
	// Get returns the value stored under key. ok is false when the key is absent.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// Set replaces the value stored under key.
	Set(ctx context.Context, key, value string) error

	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error

	// Close releases the backend.
	Close() error
}

// Error describes a failed store operation.
type Error struct {
	// Op is the failed operation: "get", "set", "remove" or "open".
	Op string

	// Key is the affected key, empty for "open".
	Key string

	// Err is the backend error.
	Err error
}

func (e *Error) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is makes every *Error match ErrUnavailable.
func (e *Error) Is(target error) bool {
	return target == ErrUnavailable
}

func wrap(op, key string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return &Error{Op: op, Key: key, Err: err}
}
