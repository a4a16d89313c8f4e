package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/hyperjump/apex/internal/config"
)

var errNotDirectory = errors.New("path is not a directory")

type watchRequest struct {
	Path string `json:"path"`
	Sync *bool  `json:"sync,omitempty"`
}

// requireWatch answers 501 on the watch routes when no watcher is running.
func (s *Server) requireWatch(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.watch == nil {
			s.respondError(w, http.StatusNotImplemented, "watch not enabled")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleListWatched(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string][]string{"directories": s.watch.Directories()})
}

func (s *Server) handleAddWatched(w http.ResponseWriter, r *http.Request) {
	var req watchRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	dir, err := existingDir(req.Path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		s.respondError(w, http.StatusNotFound, "directory not found")
		return
	case err != nil:
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	syncExisting := req.Sync == nil || *req.Sync
	s.logger.Debug("watch add directory request", zap.String("path", dir), zap.Bool("sync_existing", syncExisting))
	if err := s.watch.AddDirectory(dir, syncExisting); err != nil {
		s.logger.Error("watch add directory failed", zap.String("path", dir), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.saveWatched()
	s.respondJSON(w, http.StatusCreated, map[string]string{"path": dir, "status": "added"})
}

func (s *Server) handleRemoveWatched(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		var req watchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err == nil {
			path = req.Path
		}
	}
	if path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required (query or body)")
		return
	}
	dir, err := filepath.Abs(path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	s.logger.Debug("watch remove directory request", zap.String("path", dir))
	if err := s.watch.RemoveDirectory(dir); err != nil {
		s.logger.Error("watch remove directory failed", zap.String("path", dir), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.saveWatched()
	s.respondJSON(w, http.StatusOK, map[string]string{"path": dir, "status": "removed"})
}

// existingDir resolves path to an absolute directory that exists.
func existingDir(path string) (string, error) {
	if path == "" {
		return "", errors.New("path is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("invalid path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", errNotDirectory
	}
	return abs, nil
}

// saveWatched writes the current watch directories back to the config file
// the server was started with, if any.
func (s *Server) saveWatched() {
	if s.configPath == "" || s.config == nil {
		return
	}
	s.configMu.Lock()
	defer s.configMu.Unlock()
	s.config.Watch.Directories = s.watch.Directories()
	if err := config.Save(s.configPath, s.config); err != nil {
		s.logger.Warn("failed to persist watch config", zap.String("path", s.configPath), zap.Error(err))
	}
}
