package models

import "fmt"

const (
	// DefaultK is used when a query does not specify k.
	DefaultK = 10
	// MaxK caps k when no explicit limit is configured.
	MaxK = 100
)

// SearchQuery is a nearest-neighbour request for a single query vector.
type SearchQuery struct {
	Vector   []float32 `json:"vector"`
	K        int       `json:"k,omitempty"`
	MinScore float64   `json:"min_score,omitempty"` // drop hits below this similarity; 0 disables
}

// Validate ensures the query has a vector and normalizes k into [1, maxK].
// defaultK and maxK fall back to DefaultK and MaxK when not positive.
func (q *SearchQuery) Validate(defaultK, maxK int) error {
	if len(q.Vector) == 0 {
		return fmt.Errorf("query vector cannot be empty")
	}
	if defaultK <= 0 {
		defaultK = DefaultK
	}
	if maxK <= 0 {
		maxK = MaxK
	}
	if q.K <= 0 {
		q.K = defaultK
	}
	if q.K > maxK {
		q.K = maxK
	}
	return nil
}
