package hnsw

import (
	"errors"
	"fmt"
)

// ErrIDOutOfSequence is returned by Insert when the id is not the next dense id.
var ErrIDOutOfSequence = errors.New("hnsw: id out of sequence")

// ErrDimensionMismatch indicates a vector whose length differs from the graph's dimension.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}
