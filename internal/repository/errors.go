package repository

import (
	"errors"
	"fmt"

	"github.com/roach88/marketcart/internal/store"
)

// PersistError reports that a mutation was applied in memory and broadcast
// but could not be written to the durable store. It is retryable: the next
// mutation or an explicit Retry writes the whole cart again.
type PersistError struct {
	// Op is the mutation that could not be persisted.
	Op string

	// Err is the store or serialization failure.
	Err error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("cart %s not persisted: %v", e.Op, e.Err)
}

func (e *PersistError) Unwrap() error {
	return e.Err
}

// Is makes every PersistError match store.ErrUnavailable, serialization
// failures included.
func (e *PersistError) Is(target error) bool {
	return target == store.ErrUnavailable
}

// IsPersistError returns true if err reports an unpersisted mutation.
// Uses errors.As to handle wrapped errors.
func IsPersistError(err error) bool {
	var pe *PersistError
	return errors.As(err, &pe)
}
