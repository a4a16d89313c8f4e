// Package vector couples the HNSW graph with the documents it indexes.
//
// Index is the only concurrency boundary: a single RWMutex guards both the
// graph and the record store, so a search never observes a node whose
// document has not been stored yet.
package vector

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/apex/internal/hnsw"
	"github.com/hyperjump/apex/internal/models"
)

// Option configures an Index.
type Option func(*Index)

// WithLogger sets the logger. A nil logger is ignored.
func WithLogger(logger *zap.Logger) Option {
	return func(i *Index) {
		if logger != nil {
			i.logger = logger
		}
	}
}

// WithGraphOptions passes options through to the underlying graph.
func WithGraphOptions(opts ...hnsw.Option) Option {
	return func(i *Index) {
		i.graphOpts = append(i.graphOpts, opts...)
	}
}

// Index is an in-memory approximate nearest neighbour index over documents.
type Index struct {
	mu        sync.RWMutex
	dim       int
	graph     *hnsw.Graph
	records   *RecordStore
	nextID    uint32
	graphOpts []hnsw.Option
	logger    *zap.Logger
}

// NewIndex creates an empty index for vectors of dimension dim.
func NewIndex(dim int, opts ...Option) (*Index, error) {
	idx := &Index{
		dim:    dim,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(idx)
	}
	graph, err := hnsw.New(dim, idx.graphOpts...)
	if err != nil {
		return nil, fmt.Errorf("create graph: %w", err)
	}
	idx.graph = graph
	idx.records = NewRecordStore()
	return idx, nil
}

// Add inserts doc and returns its internal id. Ids are assigned densely from zero.
// The same external document id added twice yields two entries.
func (i *Index) Add(ctx context.Context, doc *models.Document) (uint32, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if doc == nil {
		return 0, fmt.Errorf("%w: nil document", ErrInvalidInput)
	}
	if len(doc.Vector) != i.dim {
		return 0, fmt.Errorf("%w: %w", ErrInvalidInput,
			&hnsw.ErrDimensionMismatch{Expected: i.dim, Actual: len(doc.Vector)})
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	return i.addLocked(doc)
}

func (i *Index) addLocked(doc *models.Document) (uint32, error) {
	id := i.nextID
	if err := i.graph.Insert(doc.Vector, id); err != nil {
		return 0, translateError(err)
	}
	i.records.Put(id, doc.Clone())
	i.nextID++
	return id, nil
}

// Search returns up to k documents most similar to query, best first.
// Similarity is 1 - cosine distance. An empty index yields no results.
func (i *Index) Search(ctx context.Context, query []float32, k int) ([]*models.SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(query) != i.dim {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput,
			&hnsw.ErrDimensionMismatch{Expected: i.dim, Actual: len(query)})
	}
	if k <= 0 {
		return nil, nil
	}

	i.mu.RLock()
	defer i.mu.RUnlock()

	hits, err := i.graph.Search(query, k, 0)
	if err != nil {
		return nil, translateError(err)
	}

	results := make([]*models.SearchResult, 0, len(hits))
	for _, hit := range hits {
		doc, ok := i.records.Get(hit.ID)
		if !ok {
			i.logger.Warn("graph node without record", zap.Uint32("id", hit.ID))
			continue
		}
		results = append(results, &models.SearchResult{
			Document: doc.Clone(),
			Score:    1 - hit.Distance,
			Rank:     len(results) + 1,
		})
	}
	return results, nil
}

// RebuildFrom discards the current contents and inserts docs in order.
// It stops at the first failure and returns how many documents were added.
func (i *Index) RebuildFrom(ctx context.Context, docs []*models.Document) (int, error) {
	graph, err := hnsw.New(i.dim, i.graphOpts...)
	if err != nil {
		return 0, fmt.Errorf("create graph: %w", err)
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	i.graph = graph
	i.records = NewRecordStore()
	i.nextID = 0

	for n, doc := range docs {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if doc == nil || len(doc.Vector) != i.dim {
			actual := 0
			if doc != nil {
				actual = len(doc.Vector)
			}
			return n, fmt.Errorf("document %d: %w: %w", n, ErrInvalidInput,
				&hnsw.ErrDimensionMismatch{Expected: i.dim, Actual: actual})
		}
		if _, err := i.addLocked(doc); err != nil {
			return n, fmt.Errorf("document %d: %w", n, err)
		}
	}
	return len(docs), nil
}

// Get returns the document stored under internal id.
func (i *Index) Get(id uint32) (*models.Document, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	doc, ok := i.records.Get(id)
	if !ok {
		return nil, false
	}
	return doc.Clone(), true
}

// Records returns every indexed record, in no particular order.
func (i *Index) Records() []Record {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.records.All()
}

// Size returns the number of indexed vectors.
func (i *Index) Size() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.graph.Len()
}

// Dimensions returns the fixed vector dimension.
func (i *Index) Dimensions() int { return i.dim }

// Stats returns a snapshot of the graph shape.
func (i *Index) Stats() hnsw.Stats {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.graph.Stats()
}

func translateError(err error) error {
	var dimErr *hnsw.ErrDimensionMismatch
	if errors.As(err, &dimErr) {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return err
}
