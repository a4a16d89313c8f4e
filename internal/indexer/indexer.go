// Package indexer writes documents to durable storage and the vector index.
//
// Storage is written first. A document only reaches the in-memory index once
// it has been persisted, so a restart followed by Rebuild never loses an
// acknowledged insert.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/apex/internal/hnsw"
	"github.com/hyperjump/apex/internal/metrics"
	"github.com/hyperjump/apex/internal/models"
	"github.com/hyperjump/apex/internal/storage"
	"github.com/hyperjump/apex/internal/vector"
)

// Indexer indexes documents into storage and the vector index.
type Indexer struct {
	storage storage.Storage
	index   *vector.Index
	logger  *zap.Logger

	mu    sync.Mutex
	files map[string]fileState
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets a logger for debug output (document added, file ingested, etc.).
func WithLogger(l *zap.Logger) IndexerOption {
	return func(idx *Indexer) {
		if l != nil {
			idx.logger = l
		}
	}
}

// NewIndexer creates an indexer over the given storage and index.
func NewIndexer(store storage.Storage, index *vector.Index, opts ...IndexerOption) *Indexer {
	idx := &Indexer{
		storage: store,
		index:   index,
		logger:  zap.NewNop(),
		files:   make(map[string]fileState),
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// AddDocument validates input, persists it and inserts it into the index.
// It returns the internal id assigned by the index. A storage failure is
// reported as vector.ErrPersistence and leaves the index untouched.
func (idx *Indexer) AddDocument(ctx context.Context, input *models.DocumentInput) (uint32, error) {
	start := time.Now()
	defer func() {
		metrics.IndexOperationDuration.WithLabelValues("add").Observe(time.Since(start).Seconds())
	}()

	if err := idx.validate(input); err != nil {
		metrics.IndexErrorsTotal.WithLabelValues("add", "invalid_input").Inc()
		return 0, err
	}

	doc := input.ToDocument()
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}

	if err := idx.storage.Add(ctx, doc); err != nil {
		metrics.IndexErrorsTotal.WithLabelValues("add", "persistence").Inc()
		idx.logger.Error("failed to persist document", zap.String("id", doc.ID), zap.Error(err))
		return 0, fmt.Errorf("%w: %w", vector.ErrPersistence, err)
	}

	// The row is durable now; a cancelled request must not leave it out of
	// the index until the next rebuild.
	id, err := idx.index.Add(context.WithoutCancel(ctx), doc)
	if err != nil {
		metrics.IndexErrorsTotal.WithLabelValues("add", "index").Inc()
		return 0, fmt.Errorf("failed to index document %s: %w", doc.ID, err)
	}
	metrics.IndexedVectors.Set(float64(idx.index.Size()))

	idx.logger.Debug("document indexed",
		zap.String("id", doc.ID),
		zap.Uint32("internal_id", id),
		zap.Int("dimensions", len(doc.Vector)))
	return id, nil
}

// alreadyStored reports whether storage holds a document identical to doc.
// Stored documents are in the index once Rebuild has run, so adding doc again
// would only duplicate its graph node.
func (idx *Indexer) alreadyStored(ctx context.Context, doc *models.Document) (bool, error) {
	if doc.ID == "" {
		return false, nil
	}
	prev, err := idx.storage.Get(ctx, doc.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %w", vector.ErrPersistence, err)
	}
	return prev.Equal(doc), nil
}

func (idx *Indexer) validate(input *models.DocumentInput) error {
	if input == nil {
		return fmt.Errorf("%w: missing document", vector.ErrInvalidInput)
	}
	if len(input.Vector) == 0 {
		return fmt.Errorf("%w: vector is required", vector.ErrInvalidInput)
	}
	if dim := idx.index.Dimensions(); len(input.Vector) != dim {
		return fmt.Errorf("%w: %w", vector.ErrInvalidInput,
			&hnsw.ErrDimensionMismatch{Expected: dim, Actual: len(input.Vector)})
	}
	return nil
}

// Rebuild reloads the index from storage in insertion order and returns the
// number of vectors loaded. Stored rows whose dimension does not match the
// index are skipped with a warning.
func (idx *Indexer) Rebuild(ctx context.Context) (int, error) {
	start := time.Now()
	defer func() {
		metrics.IndexOperationDuration.WithLabelValues("rebuild").Observe(time.Since(start).Seconds())
	}()

	docs, err := idx.storage.GetAll(ctx)
	if err != nil {
		metrics.IndexErrorsTotal.WithLabelValues("rebuild", "persistence").Inc()
		return 0, fmt.Errorf("%w: load documents: %w", vector.ErrPersistence, err)
	}

	dim := idx.index.Dimensions()
	usable := docs[:0]
	for _, doc := range docs {
		if len(doc.Vector) != dim {
			idx.logger.Warn("skipping stored document with wrong dimension",
				zap.String("id", doc.ID),
				zap.Int("expected", dim),
				zap.Int("actual", len(doc.Vector)))
			continue
		}
		usable = append(usable, doc)
	}

	n, err := idx.index.RebuildFrom(ctx, usable)
	metrics.IndexedVectors.Set(float64(idx.index.Size()))
	if err != nil {
		metrics.IndexErrorsTotal.WithLabelValues("rebuild", "index").Inc()
		return n, fmt.Errorf("rebuild index: %w", err)
	}

	idx.logger.Info("index rebuilt from storage",
		zap.Int("vectors", n),
		zap.Int("skipped", len(docs)-n),
		zap.Duration("took", time.Since(start)))
	return n, nil
}
