// Package search answers nearest-neighbour queries against the vector index.
package search

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/apex/internal/config"
	"github.com/hyperjump/apex/internal/metrics"
	"github.com/hyperjump/apex/internal/models"
	"github.com/hyperjump/apex/internal/vector"
)

// Engine runs vector similarity search.
type Engine struct {
	index  *vector.Index
	config *config.SearchConfig
	logger *zap.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets a logger for per-query debug output.
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine creates a search engine over index. A nil cfg uses the package defaults for k.
func NewEngine(index *vector.Index, cfg *config.SearchConfig, opts ...EngineOption) *Engine {
	if cfg == nil {
		cfg = &config.SearchConfig{DefaultK: models.DefaultK, MaxK: models.MaxK}
	}
	e := &Engine{
		index:  index,
		config: cfg,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Search validates query, fills in k, and returns the ranked hits.
// Invalid queries, including a vector of the wrong dimension, fail with vector.ErrInvalidInput.
func (e *Engine) Search(ctx context.Context, query *models.SearchQuery) (*models.SearchResponse, error) {
	startTime := time.Now()
	if query == nil {
		return nil, fmt.Errorf("%w: missing query", vector.ErrInvalidInput)
	}
	if err := query.Validate(e.config.DefaultK, e.config.MaxK); err != nil {
		return nil, fmt.Errorf("%w: %w", vector.ErrInvalidInput, err)
	}

	results, err := e.index.Search(ctx, query.Vector, query.K)
	metrics.IndexOperationDuration.WithLabelValues("search").Observe(time.Since(startTime).Seconds())
	if err != nil {
		metrics.IndexErrorsTotal.WithLabelValues("search", "index").Inc()
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	if query.MinScore > 0 {
		kept := results[:0]
		for _, r := range results {
			if r.Score >= query.MinScore {
				r.Rank = len(kept) + 1
				kept = append(kept, r)
			}
		}
		results = kept
	}
	if results == nil {
		results = []*models.SearchResult{}
	}

	resp := &models.SearchResponse{
		Results:   results,
		Total:     len(results),
		K:         query.K,
		QueryTime: time.Since(startTime).Milliseconds(),
	}
	e.logger.Debug("search completed",
		zap.Int("k", query.K),
		zap.Int("results", resp.Total),
		zap.Duration("took", time.Since(startTime)))
	return resp, nil
}
