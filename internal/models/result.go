package models

import (
	"encoding/json"
	"fmt"
)

// SearchResult is a single search hit: the stored document and its cosine similarity to the query.
type SearchResult struct {
	Document *Document `json:"document"`
	Score    float64   `json:"score"`
	Rank     int       `json:"rank"`
}

// SearchResponse is the response for a search request on the versioned API.
type SearchResponse struct {
	Results   []*SearchResult `json:"results"`
	Total     int             `json:"total"`
	K         int             `json:"k"`
	QueryTime int64           `json:"query_time_ms"`
}

// ScoredPair is a search hit encoded as a two-element JSON array [document, score],
// the shape returned by the plain /search route.
type ScoredPair struct {
	Document *Document
	Score    float64
}

// MarshalJSON encodes the pair as [document, score].
func (p ScoredPair) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]interface{}{p.Document, p.Score})
}

// UnmarshalJSON decodes a [document, score] array.
func (p *ScoredPair) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 2 {
		return fmt.Errorf("scored pair: expected 2 elements, got %d", len(raw))
	}
	var doc Document
	if err := json.Unmarshal(raw[0], &doc); err != nil {
		return fmt.Errorf("scored pair document: %w", err)
	}
	if err := json.Unmarshal(raw[1], &p.Score); err != nil {
		return fmt.Errorf("scored pair score: %w", err)
	}
	p.Document = &doc
	return nil
}

// Pairs converts results into the [document, score] wire shape. The result is never nil.
func Pairs(results []*SearchResult) []ScoredPair {
	out := make([]ScoredPair, 0, len(results))
	for _, r := range results {
		out = append(out, ScoredPair{Document: r.Document, Score: r.Score})
	}
	return out
}
