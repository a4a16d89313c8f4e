// Package server provides the HTTP API for apex.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hyperjump/apex/internal/config"
	"github.com/hyperjump/apex/internal/indexer"
	"github.com/hyperjump/apex/internal/search"
	"github.com/hyperjump/apex/internal/storage"
	"github.com/hyperjump/apex/internal/vector"
)

// WatchService manages the directories watched for crawler output.
type WatchService interface {
	Directories() []string
	AddDirectory(path string, syncExisting bool) error
	RemoveDirectory(path string) error
}

// Server is the HTTP server for the apex API.
type Server struct {
	engine     *search.Engine
	indexer    *indexer.Indexer
	storage    storage.Storage
	index      *vector.Index
	config     *config.Config
	logger     *zap.Logger
	watch      WatchService
	configPath string
	configMu   sync.Mutex
	started    time.Time

	srvMu   sync.Mutex
	server  *http.Server
	stopped bool
}

// NewServer creates a server with the given dependencies. watch may be nil
// when no directories are watched; configPath, when set, is rewritten as
// watch directories are added or removed.
func NewServer(
	engine *search.Engine,
	idx *indexer.Indexer,
	store storage.Storage,
	index *vector.Index,
	cfg *config.Config,
	logger *zap.Logger,
	watch WatchService,
	configPath string,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		engine:     engine,
		indexer:    idx,
		storage:    store,
		index:      index,
		config:     cfg,
		logger:     logger,
		watch:      watch,
		configPath: configPath,
		started:    time.Now(),
	}
}

// Handler returns the router with every route and middleware installed.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	if s.config.Server.RequestTimeout > 0 {
		r.Use(middleware.Timeout(s.config.Server.RequestTimeout))
	}
	r.Use(middleware.Compress(5))

	r.Post("/add", s.handleAdd)
	r.Post("/search", s.handleSearchPairs)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/search", s.handleSearch)
		r.Post("/documents", s.handleIndexDocument)
		r.Get("/documents/{id}", s.handleGetDocument)
		r.Get("/status", s.handleStatus)
		r.Route("/watch/directories", func(r chi.Router) {
			r.Use(s.requireWatch)
			r.Get("/", s.handleListWatched)
			r.Post("/", s.handleAddWatched)
			r.Delete("/", s.handleRemoveWatched)
		})
	})

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	if dir := s.config.Server.StaticDir; dir != "" {
		r.Handle("/*", http.FileServer(http.Dir(dir)))
	}
	return r
}

// Start starts the HTTP server and blocks until it stops. It returns
// http.ErrServerClosed after Stop, including when Stop ran first.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.srvMu.Lock()
	if s.stopped {
		s.srvMu.Unlock()
		return http.ErrServerClosed
	}
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.server
	s.srvMu.Unlock()

	s.logger.Info("Starting server", zap.String("addr", addr))
	return srv.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	s.srvMu.Lock()
	s.stopped = true
	srv := s.server
	s.srvMu.Unlock()
	if srv != nil {
		return srv.Shutdown(ctx)
	}
	return nil
}
