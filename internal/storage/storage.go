// Package storage persists documents and their vectors.
//
// The durable store is the source of truth: the in-memory graph is rebuilt
// from it on every start, in insertion order.
package storage

import (
	"context"
	"errors"

	"github.com/hyperjump/apex/internal/models"
)

// ErrNotFound is returned by Get when no document has the requested id.
var ErrNotFound = errors.New("document not found")

// Storage defines document persistence operations.
type Storage interface {
	// Add inserts doc, replacing any stored document with the same id.
	Add(ctx context.Context, doc *models.Document) error
	Get(ctx context.Context, id string) (*models.Document, error)
	// GetAll returns every document in insertion order.
	GetAll(ctx context.Context) ([]*models.Document, error)
	Count(ctx context.Context) (int64, error)
	Close() error
}
