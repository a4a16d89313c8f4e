package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/apex/internal/hnsw"
	"github.com/hyperjump/apex/internal/models"
	"github.com/hyperjump/apex/internal/storage"
	"github.com/hyperjump/apex/internal/vector"
)

const maxBodyBytes = 32 << 20

type addResponse struct {
	ID         string `json:"id"`
	InternalID uint32 `json:"internal_id"`
	Status     string `json:"status"`
}

// handleAdd serves the plain POST /add route.
func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request) {
	s.addDocument(w, r, http.StatusOK)
}

func (s *Server) handleIndexDocument(w http.ResponseWriter, r *http.Request) {
	s.addDocument(w, r, http.StatusCreated)
}

func (s *Server) addDocument(w http.ResponseWriter, r *http.Request, status int) {
	var input models.DocumentInput
	if !s.decodeBody(w, r, &input) {
		return
	}
	s.logger.Debug("index document request", zap.String("id", input.ID), zap.Int("dimensions", len(input.Vector)))

	// Generate the id here so it can be echoed back to the client.
	if input.ID == "" {
		input.ID = uuid.New().String()
	}
	internalID, err := s.indexer.AddDocument(r.Context(), &input)
	if err != nil {
		s.logger.Error("indexing failed", zap.String("id", input.ID), zap.Error(err))
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, status, addResponse{ID: input.ID, InternalID: internalID, Status: "indexed"})
}

// handleSearchPairs serves POST /search, answering with [document, score] pairs.
func (s *Server) handleSearchPairs(w http.ResponseWriter, r *http.Request) {
	var query models.SearchQuery
	if !s.decodeBody(w, r, &query) {
		return
	}
	response, err := s.engine.Search(r.Context(), &query)
	if err != nil {
		s.logger.Error("search failed", zap.Error(err))
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, models.Pairs(response.Results))
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var query models.SearchQuery
	if !s.decodeBody(w, r, &query) {
		return
	}
	s.logger.Debug("search request", zap.Int("k", query.K), zap.Int("dimensions", len(query.Vector)))
	response, err := s.engine.Search(r.Context(), &query)
	if err != nil {
		s.logger.Error("search failed", zap.Error(err))
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	doc, err := s.storage.Get(r.Context(), id)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Error("get document failed", zap.String("id", id), zap.Error(err))
		}
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, doc)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusResponse struct {
	Documents      int64                  `json:"documents"`
	Vectors        int                    `json:"vectors"`
	Dimensions     int                    `json:"dimensions"`
	Graph          hnsw.Stats             `json:"graph"`
	UptimeSeconds  int64                  `json:"uptime_seconds"`
	DiskUsageBytes *int64                 `json:"disk_usage_bytes,omitempty"`
	Config         map[string]interface{} `json:"config"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	docCount, err := s.storage.Count(r.Context())
	if err != nil {
		s.logger.Error("status: count documents failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := statusResponse{
		Documents:     docCount,
		Vectors:       s.index.Size(),
		Dimensions:    s.index.Dimensions(),
		Graph:         s.index.Stats(),
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
	}
	var dbPath string
	resp.Config, dbPath = s.configSnapshot()
	if s.watch != nil {
		resp.Config["watch_directories"] = s.watch.Directories()
	}
	if n, err := storage.DiskUsageBytes(storage.DatabaseFiles(dbPath)...); err == nil {
		resp.DiskUsageBytes = &n
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// configSnapshot copies the settings reported by the status endpoint, along
// with the database path used for the disk usage figure.
func (s *Server) configSnapshot() (map[string]interface{}, string) {
	s.configMu.Lock()
	defer s.configMu.Unlock()
	c := s.config
	return map[string]interface{}{
		"database_path":   c.Storage.DatabasePath,
		"dimensions":      c.Index.Dimensions,
		"m":               c.Index.M,
		"ef_construction": c.Index.EfConstruction,
		"ef_search":       c.Index.EfSearch,
		"max_level":       c.Index.MaxLevel,
		"default_k":       c.Search.DefaultK,
		"max_k":           c.Search.MaxK,
	}, c.Storage.DatabasePath
}

// decodeBody decodes the JSON request body into v, answering 400 on failure.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// respondServiceError maps service errors to status codes. Persistence and
// other failures are 500s.
func (s *Server) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, vector.ErrInvalidInput):
		s.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, storage.ErrNotFound):
		s.respondError(w, http.StatusNotFound, "document not found")
	default:
		s.respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
