package vector

import "errors"

var (
	// ErrInvalidInput is returned for malformed vectors, most often a dimension mismatch.
	ErrInvalidInput = errors.New("invalid input")
	// ErrPersistence is returned when the durable store rejects a write.
	ErrPersistence = errors.New("persistence failure")
)
