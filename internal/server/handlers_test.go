package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/hyperjump/apex/internal/config"
	"github.com/hyperjump/apex/internal/hnsw"
	"github.com/hyperjump/apex/internal/indexer"
	"github.com/hyperjump/apex/internal/models"
	"github.com/hyperjump/apex/internal/search"
	"github.com/hyperjump/apex/internal/storage"
	"github.com/hyperjump/apex/internal/vector"
)

type mockWatchService struct {
	dirs []string
}

func (m *mockWatchService) Directories() []string {
	return append([]string(nil), m.dirs...)
}

func (m *mockWatchService) AddDirectory(path string, _ bool) error {
	for _, d := range m.dirs {
		if d == path {
			return nil
		}
	}
	m.dirs = append(m.dirs, path)
	return nil
}

func (m *mockWatchService) RemoveDirectory(path string) error {
	for i, d := range m.dirs {
		if d == path {
			m.dirs = append(m.dirs[:i], m.dirs[i+1:]...)
			return nil
		}
	}
	return nil
}

type brokenStorage struct{}

func (brokenStorage) Add(context.Context, *models.Document) error { return errors.New("read-only database") }
func (brokenStorage) Get(context.Context, string) (*models.Document, error) {
	return nil, errors.New("read-only database")
}
func (brokenStorage) GetAll(context.Context) ([]*models.Document, error) { return nil, nil }
func (brokenStorage) Count(context.Context) (int64, error)              { return 0, nil }
func (brokenStorage) Close() error                                      { return nil }

type testEnv struct {
	srv     *Server
	handler http.Handler
	store   storage.Storage
	index   *vector.Index
	cfg     *config.Config
	dir     string
}

func newTestEnv(t *testing.T, dim int, store storage.Storage, watch WatchService, configPath string) *testEnv {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Index.Dimensions = dim
	cfg.Storage.DatabasePath = filepath.Join(dir, "apex.db")

	if store == nil {
		sqlite, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { _ = sqlite.Close() })
		store = sqlite
	}
	index, err := vector.NewIndex(dim, vector.WithGraphOptions(hnsw.WithSeed(1)))
	if err != nil {
		t.Fatal(err)
	}
	engine := search.NewEngine(index, &cfg.Search)
	idx := indexer.NewIndexer(store, index)
	srv := NewServer(engine, idx, store, index, cfg, zap.NewNop(), watch, configPath)
	return &testEnv{srv: srv, handler: srv.Handler(), store: store, index: index, cfg: cfg, dir: dir}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	}
	r := httptest.NewRequest(method, path, reader)
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, r)
	return w
}

func TestAddAndSearch_Pairs(t *testing.T) {
	env := newTestEnv(t, 2, nil, nil, "")

	for i, doc := range []map[string]interface{}{
		{"id": "a", "vector": []float32{1, 0}, "content": "A", "url": "https://a"},
		{"id": "b", "vector": []float32{0, 1}, "content": "B", "url": "https://b"},
		{"id": "c", "vector": []float32{1, 0}, "content": "C", "url": "https://c"},
	} {
		w := env.do(t, http.MethodPost, "/add", doc)
		if w.Code != http.StatusOK {
			t.Fatalf("add %d: status %d, body %s", i, w.Code, w.Body.String())
		}
		var out addResponse
		if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
			t.Fatal(err)
		}
		if out.InternalID != uint32(i) || out.Status != "indexed" || out.ID != doc["id"] {
			t.Errorf("add %d: got %+v", i, out)
		}
	}

	w := env.do(t, http.MethodPost, "/search", map[string]interface{}{"vector": []float32{1, 0}, "k": 2})
	if w.Code != http.StatusOK {
		t.Fatalf("search: status %d, body %s", w.Code, w.Body.String())
	}
	var pairs []models.ScoredPair
	if err := json.NewDecoder(w.Body).Decode(&pairs); err != nil {
		t.Fatal(err)
	}
	if len(pairs) != 2 {
		t.Fatalf("expected 2 pairs, got %d", len(pairs))
	}
	if pairs[0].Document.ID != "a" || pairs[1].Document.ID != "c" {
		t.Errorf("order: got %s, %s", pairs[0].Document.ID, pairs[1].Document.ID)
	}
	for _, p := range pairs {
		if p.Score < 0.999 {
			t.Errorf("%s: similarity %f, want 1.0", p.Document.ID, p.Score)
		}
	}
}

func TestSearch_EmptyIndexReturnsEmptyArray(t *testing.T) {
	env := newTestEnv(t, 2, nil, nil, "")

	w := env.do(t, http.MethodPost, "/search", map[string]interface{}{"vector": []float32{1, 0}, "k": 3})
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	if got := strings.TrimSpace(w.Body.String()); got != "[]" {
		t.Errorf("body = %q, want []", got)
	}
}

func TestAdd_InvalidInput(t *testing.T) {
	env := newTestEnv(t, 3, nil, nil, "")

	tests := []struct {
		name string
		path string
		body interface{}
	}{
		{"dimension mismatch", "/add", map[string]interface{}{"id": "x", "vector": []float32{1, 2}}},
		{"empty vector", "/api/v1/documents", map[string]interface{}{"id": "x"}},
		{"malformed json", "/add", `{"id": "x", "vector": [1,2,`},
		{"search dimension mismatch", "/search", map[string]interface{}{"vector": []float32{1}}},
		{"search missing vector", "/api/v1/search", map[string]interface{}{"k": 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, tt.path, tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status: got %d, want 400 (body %s)", w.Code, w.Body.String())
			}
			var out map[string]string
			if err := json.NewDecoder(w.Body).Decode(&out); err != nil || out["error"] == "" {
				t.Errorf("expected error body, got %q", w.Body.String())
			}
		})
	}
	if env.index.Size() != 0 {
		t.Errorf("index should be empty, has %d", env.index.Size())
	}
}

func TestAdd_PersistenceFailure(t *testing.T) {
	env := newTestEnv(t, 2, brokenStorage{}, nil, "")

	w := env.do(t, http.MethodPost, "/add", map[string]interface{}{"id": "a", "vector": []float32{1, 0}})
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status: got %d, want 500", w.Code)
	}
	if env.index.Size() != 0 {
		t.Errorf("index must stay empty after a failed write, has %d", env.index.Size())
	}
}

func TestDocumentsAPI(t *testing.T) {
	env := newTestEnv(t, 2, nil, nil, "")

	w := env.do(t, http.MethodPost, "/api/v1/documents", map[string]interface{}{"vector": []float32{0.6, 0.8}, "content": "hello"})
	if w.Code != http.StatusCreated {
		t.Fatalf("status: got %d, body %s", w.Code, w.Body.String())
	}
	var created addResponse
	if err := json.NewDecoder(w.Body).Decode(&created); err != nil {
		t.Fatal(err)
	}
	if created.ID == "" {
		t.Fatal("expected generated id")
	}

	w = env.do(t, http.MethodGet, "/api/v1/documents/"+created.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get: status %d", w.Code)
	}
	var doc models.Document
	if err := json.NewDecoder(w.Body).Decode(&doc); err != nil {
		t.Fatal(err)
	}
	if doc.Content != "hello" || len(doc.Vector) != 2 {
		t.Errorf("got %+v", doc)
	}

	w = env.do(t, http.MethodGet, "/api/v1/documents/missing", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing: status %d, want 404", w.Code)
	}
}

func TestHandleSearch(t *testing.T) {
	env := newTestEnv(t, 2, nil, nil, "")
	for _, v := range [][]float32{{1, 0}, {0, 1}, {1, 1}} {
		if w := env.do(t, http.MethodPost, "/add", map[string]interface{}{"vector": v}); w.Code != http.StatusOK {
			t.Fatalf("add: status %d", w.Code)
		}
	}

	w := env.do(t, http.MethodPost, "/api/v1/search", map[string]interface{}{"vector": []float32{1, 0}, "k": 2})
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	var resp models.SearchResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Total != 2 || resp.K != 2 {
		t.Errorf("got total=%d k=%d", resp.Total, resp.K)
	}
	if resp.Results[0].Rank != 1 || resp.Results[0].Score < resp.Results[1].Score {
		t.Errorf("results not ranked: %+v", resp.Results)
	}
}

func TestHandleHealth(t *testing.T) {
	env := newTestEnv(t, 2, nil, nil, "")
	w := env.do(t, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "ok") {
		t.Errorf("health: %d %s", w.Code, w.Body.String())
	}
}

func TestHandleStatus(t *testing.T) {
	env := newTestEnv(t, 2, nil, nil, "")
	env.do(t, http.MethodPost, "/add", map[string]interface{}{"id": "d1", "vector": []float32{1, 0}})

	w := env.do(t, http.MethodGet, "/api/v1/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body: %s", w.Code, w.Body.String())
	}
	var out struct {
		Documents      int64      `json:"documents"`
		Vectors        int        `json:"vectors"`
		Dimensions     int        `json:"dimensions"`
		Graph          hnsw.Stats `json:"graph"`
		DiskUsageBytes *int64     `json:"disk_usage_bytes"`
		Config         struct {
			M int `json:"m"`
		} `json:"config"`
	}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Documents != 1 || out.Vectors != 1 || out.Dimensions != 2 {
		t.Errorf("got %+v", out)
	}
	if out.Graph.Nodes != 1 {
		t.Errorf("graph nodes: got %d", out.Graph.Nodes)
	}
	if out.Config.M != 24 {
		t.Errorf("config m: got %d", out.Config.M)
	}
	if out.DiskUsageBytes == nil || *out.DiskUsageBytes < 1 {
		t.Errorf("expected disk_usage_bytes, got %v", out.DiskUsageBytes)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, 2, nil, nil, "")
	env.do(t, http.MethodGet, "/health", nil)

	w := env.do(t, http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "apex_http_requests_total") {
		t.Error("expected request counter in metrics output")
	}
}

func TestStaticDir(t *testing.T) {
	static := t.TempDir()
	if err := os.WriteFile(filepath.Join(static, "index.html"), []byte("<h1>apex</h1>"), 0644); err != nil {
		t.Fatal(err)
	}
	env := newTestEnv(t, 2, nil, nil, "")
	env.cfg.Server.StaticDir = static
	handler := env.srv.Handler()

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "apex") {
		t.Errorf("static index: %d %q", w.Code, w.Body.String())
	}
}

func TestHandleWatchDirectoriesList(t *testing.T) {
	mock := &mockWatchService{dirs: []string{"/tmp/crawl"}}
	env := newTestEnv(t, 2, nil, mock, "")

	w := env.do(t, http.MethodGet, "/api/v1/watch/directories", nil)
	if w.Code != http.StatusOK {
		t.Errorf("status: got %d", w.Code)
	}
	var out struct {
		Directories []string `json:"directories"`
	}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if len(out.Directories) != 1 || out.Directories[0] != "/tmp/crawl" {
		t.Errorf("directories: got %v", out.Directories)
	}
}

func TestHandleWatchDirectoriesList_NotEnabled(t *testing.T) {
	env := newTestEnv(t, 2, nil, nil, "")
	w := env.do(t, http.MethodGet, "/api/v1/watch/directories", nil)
	if w.Code != http.StatusNotImplemented {
		t.Errorf("status: got %d, want 501", w.Code)
	}
}

func TestHandleWatchDirectoriesAdd(t *testing.T) {
	mock := &mockWatchService{}
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	env := newTestEnv(t, 2, nil, mock, configPath)
	target := t.TempDir()

	w := env.do(t, http.MethodPost, "/api/v1/watch/directories", map[string]string{"path": target})
	if w.Code != http.StatusCreated {
		t.Errorf("status: got %d, body: %s", w.Code, w.Body.String())
	}
	if len(mock.Directories()) != 1 {
		t.Errorf("expected 1 directory, got %v", mock.Directories())
	}

	saved, err := config.Load(configPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(saved.Watch.Directories) != 1 || saved.Watch.Directories[0] != target {
		t.Errorf("persisted directories: got %v", saved.Watch.Directories)
	}
}

func TestHandleWatchDirectoriesAdd_InvalidPath(t *testing.T) {
	mock := &mockWatchService{}
	env := newTestEnv(t, 2, nil, mock, "")

	w := env.do(t, http.MethodPost, "/api/v1/watch/directories", map[string]string{"path": filepath.Join(env.dir, "nonexistent")})
	if w.Code != http.StatusNotFound {
		t.Errorf("status: got %d", w.Code)
	}

	w = env.do(t, http.MethodPost, "/api/v1/watch/directories", map[string]string{"path": env.cfg.Storage.DatabasePath})
	if w.Code != http.StatusBadRequest {
		t.Errorf("file path: got %d, want 400", w.Code)
	}
}

func TestHandleWatchDirectoriesRemove(t *testing.T) {
	dir := t.TempDir()
	mock := &mockWatchService{dirs: []string{dir}}
	env := newTestEnv(t, 2, nil, mock, "")

	w := env.do(t, http.MethodDelete, "/api/v1/watch/directories?path="+dir, nil)
	if w.Code != http.StatusOK {
		t.Errorf("status: got %d", w.Code)
	}
	if len(mock.Directories()) != 0 {
		t.Errorf("expected 0 directories, got %v", mock.Directories())
	}

	w = env.do(t, http.MethodDelete, "/api/v1/watch/directories", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing path: got %d, want 400", w.Code)
	}
}
