// Package models defines core data structures for documents, queries, and search results.
package models

import "slices"

// Document is a stored embedding with the text and source it was computed from.
type Document struct {
	ID      string    `json:"id" db:"id"`
	Vector  []float32 `json:"vector" db:"vector"`
	Content string    `json:"content" db:"content"`
	URL     string    `json:"url" db:"url"`
}

// Clone returns a deep copy of d. The vector is copied so callers can keep
// mutating their slice after handing the document to an index.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	out := *d
	if d.Vector != nil {
		out.Vector = make([]float32, len(d.Vector))
		copy(out.Vector, d.Vector)
	}
	return &out
}

// Equal reports whether d and o carry the same id, vector, content and URL.
func (d *Document) Equal(o *Document) bool {
	if d == nil || o == nil {
		return d == o
	}
	return d.ID == o.ID && d.Content == o.Content && d.URL == o.URL && slices.Equal(d.Vector, o.Vector)
}

// DocumentInput is the input for adding a document.
// ID is optional; an empty ID is replaced by a generated UUID.
type DocumentInput struct {
	ID      string    `json:"id,omitempty"`
	Vector  []float32 `json:"vector"`
	Content string    `json:"content"`
	URL     string    `json:"url,omitempty"`
}

// ToDocument converts the input into a Document, copying the vector.
func (in *DocumentInput) ToDocument() *Document {
	vec := make([]float32, len(in.Vector))
	copy(vec, in.Vector)
	return &Document{
		ID:      in.ID,
		Vector:  vec,
		Content: in.Content,
		URL:     in.URL,
	}
}
