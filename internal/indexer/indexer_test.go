package indexer

import (
	"context"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/apex/internal/hnsw"
	"github.com/hyperjump/apex/internal/models"
	"github.com/hyperjump/apex/internal/storage"
	"github.com/hyperjump/apex/internal/vector"
)

// failingStorage rejects every write and read.
type failingStorage struct{}

var errDiskFull = errors.New("disk full")

func (failingStorage) Add(context.Context, *models.Document) error { return errDiskFull }
func (failingStorage) Get(context.Context, string) (*models.Document, error) {
	return nil, errDiskFull
}
func (failingStorage) GetAll(context.Context) ([]*models.Document, error) { return nil, errDiskFull }
func (failingStorage) Count(context.Context) (int64, error)              { return 0, errDiskFull }
func (failingStorage) Close() error                                      { return nil }

func newIndex(t *testing.T, dim int) *vector.Index {
	t.Helper()
	idx, err := vector.NewIndex(dim, vector.WithGraphOptions(hnsw.WithM(8), hnsw.WithEfConstruction(64), hnsw.WithSeed(42)))
	require.NoError(t, err)
	return idx
}

func newStorage(t *testing.T) *storage.SQLiteStorage {
	t.Helper()
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "apex.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newStorageAt(t *testing.T, path string) *storage.SQLiteStorage {
	t.Helper()
	store, err := storage.NewSQLiteStorage(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// cancelOnAdd cancels the request context once the write has gone through.
type cancelOnAdd struct {
	storage.Storage
	cancel context.CancelFunc
}

func (c cancelOnAdd) Add(ctx context.Context, doc *models.Document) error {
	err := c.Storage.Add(ctx, doc)
	c.cancel()
	return err
}

func input(id string, vec ...float32) *models.DocumentInput {
	return &models.DocumentInput{ID: id, Vector: vec, Content: "text " + id, URL: "https://example.com/" + id}
}

func TestAddDocument(t *testing.T) {
	ctx := context.Background()
	store := newStorage(t)
	index := newIndex(t, 2)
	idx := NewIndexer(store, index)

	id, err := idx.AddDocument(ctx, input("a", 1, 0))
	require.NoError(t, err)
	assert.Equal(t, uint32(0), id)

	id, err = idx.AddDocument(ctx, input("b", 0, 1))
	require.NoError(t, err)
	assert.Equal(t, uint32(1), id)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, 2, index.Size())

	stored, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/a", stored.URL)
}

func TestAddDocument_GeneratesID(t *testing.T) {
	ctx := context.Background()
	store := newStorage(t)
	idx := NewIndexer(store, newIndex(t, 2))

	_, err := idx.AddDocument(ctx, &models.DocumentInput{Vector: []float32{1, 1}, Content: "anonymous"})
	require.NoError(t, err)

	all, err := store.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	_, err = uuid.Parse(all[0].ID)
	assert.NoError(t, err)
}

func TestAddDocument_InvalidInput(t *testing.T) {
	ctx := context.Background()
	store := newStorage(t)
	index := newIndex(t, 3)
	idx := NewIndexer(store, index)

	tests := []struct {
		name  string
		input *models.DocumentInput
	}{
		{"nil", nil},
		{"empty vector", input("e")},
		{"short vector", input("s", 1, 2)},
		{"long vector", input("l", 1, 2, 3, 4)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := idx.AddDocument(ctx, tt.input)
			assert.ErrorIs(t, err, vector.ErrInvalidInput)
		})
	}

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, index.Size())
}

func TestAddDocument_PersistenceFailureLeavesIndexUntouched(t *testing.T) {
	index := newIndex(t, 2)
	idx := NewIndexer(failingStorage{}, index)

	_, err := idx.AddDocument(context.Background(), input("a", 1, 0))
	require.ErrorIs(t, err, vector.ErrPersistence)
	assert.ErrorIs(t, err, errDiskFull)
	assert.Zero(t, index.Size())

	results, err := index.Search(context.Background(), []float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestAddDocument_CancelledAfterPersist(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := newStorage(t)
	index := newIndex(t, 2)
	idx := NewIndexer(cancelOnAdd{Storage: store, cancel: cancel}, index)

	_, err := idx.AddDocument(ctx, input("a", 1, 0))
	require.NoError(t, err)
	assert.Equal(t, 1, index.Size())
	n, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestAddDocument_DuplicateIDs(t *testing.T) {
	ctx := context.Background()
	store := newStorage(t)
	index := newIndex(t, 2)
	idx := NewIndexer(store, index)

	_, err := idx.AddDocument(ctx, input("dup", 1, 0))
	require.NoError(t, err)
	_, err = idx.AddDocument(ctx, input("dup", 0, 1))
	require.NoError(t, err)

	// Storage replaces by id; the live index keeps both until the next rebuild.
	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 2, index.Size())

	loaded, err := NewIndexer(store, newIndex(t, 2)).Rebuild(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded)
}

func TestRebuild_MatchesLiveIndex(t *testing.T) {
	ctx := context.Background()
	store := newStorage(t)
	live := newIndex(t, 4)
	idx := NewIndexer(store, live)

	r := rand.New(rand.NewSource(1))
	var vectors [][]float32
	for i := 0; i < 100; i++ {
		v := []float32{r.Float32(), r.Float32(), r.Float32(), r.Float32()}
		vectors = append(vectors, v)
		_, err := idx.AddDocument(ctx, &models.DocumentInput{Vector: v})
		require.NoError(t, err)
	}

	rebuilt := newIndex(t, 4)
	n, err := NewIndexer(store, rebuilt).Rebuild(ctx)
	require.NoError(t, err)
	assert.Equal(t, 100, n)
	assert.Equal(t, live.Stats(), rebuilt.Stats())

	for _, q := range vectors[:10] {
		want, err := live.Search(ctx, q, 5)
		require.NoError(t, err)
		got, err := rebuilt.Search(ctx, q, 5)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestRebuild_SkipsWrongDimension(t *testing.T) {
	ctx := context.Background()
	store := newStorage(t)
	require.NoError(t, store.Add(ctx, &models.Document{ID: "ok1", Vector: []float32{1, 0}}))
	require.NoError(t, store.Add(ctx, &models.Document{ID: "bad", Vector: []float32{1, 0, 0}}))
	require.NoError(t, store.Add(ctx, &models.Document{ID: "ok2", Vector: []float32{0, 1}}))

	index := newIndex(t, 2)
	n, err := NewIndexer(store, index).Rebuild(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	doc, ok := index.Get(1)
	require.True(t, ok)
	assert.Equal(t, "ok2", doc.ID)
}

func TestRebuild_StorageError(t *testing.T) {
	_, err := NewIndexer(failingStorage{}, newIndex(t, 2)).Rebuild(context.Background())
	assert.ErrorIs(t, err, vector.ErrPersistence)
}

func TestDecodeDocuments(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantIDs []string
		wantErr bool
	}{
		{"empty", "  \n", nil, false},
		{"array", `[{"id":"a","vector":[1,0]},{"id":"b","vector":[0,1]}]`, []string{"a", "b"}, false},
		{"single object", `{"id":"only","vector":[1]}`, []string{"only"}, false},
		{"jsonl", "{\"id\":\"x\",\"vector\":[1]}\n{\"id\":\"y\",\"vector\":[2]}\n", []string{"x", "y"}, false},
		{"leading whitespace array", "\n  [{\"id\":\"w\",\"vector\":[1]}]", []string{"w"}, false},
		{"malformed line", "{\"id\":\"x\",\"vector\":[1]}\n{broken\n", nil, true},
		{"malformed array", `[{"id":"a"`, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs, err := DecodeDocuments(strings.NewReader(tt.in))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			var ids []string
			for _, d := range docs {
				ids = append(ids, d.ID)
			}
			assert.Equal(t, tt.wantIDs, ids)
		})
	}
}

func TestIndexFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := newStorage(t)
	index := newIndex(t, 2)
	idx := NewIndexer(store, index)

	path := filepath.Join(dir, "crawl.jsonl")
	content := `{"id":"page-1","vector":[1,0],"content":"first","url":"https://a"}
{"vector":[0,1],"content":"no id","url":"https://b"}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	n, err := idx.IndexFile(ctx, path, []string{".jsonl"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, index.Size())

	all, err := store.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "page-1", all[0].ID)
	assert.True(t, strings.HasPrefix(all[1].ID, "file:"), "derived id %q", all[1].ID)

	// Unchanged file is skipped.
	n, err = idx.IndexFile(ctx, path, []string{".jsonl"})
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 2, index.Size())

	// Forgotten file is read again, but its documents are already stored.
	idx.ForgetFile(path)
	n, err = idx.IndexFile(ctx, path, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 2, index.Size())
	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestIndexFile_AfterRebuildAndAppend(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	dbPath := filepath.Join(t.TempDir(), "apex.db")
	path := filepath.Join(dir, "crawl.jsonl")
	lines := []string{
		`{"id":"p1","vector":[1,0],"content":"one"}`,
		`{"id":"p2","vector":[0,1],"content":"two"}`,
	}
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0600))

	store, err := storage.NewSQLiteStorage(dbPath)
	require.NoError(t, err)
	n, err := NewIndexer(store, newIndex(t, 2)).IndexFile(ctx, path, nil)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.NoError(t, store.Close())

	// Restart: fresh index and indexer over the same database.
	store = newStorageAt(t, dbPath)
	index := newIndex(t, 2)
	idx := NewIndexer(store, index)
	loaded, err := idx.Rebuild(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, loaded)

	n, err = idx.IndexFile(ctx, path, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 2, index.Size())

	results, err := index.Search(ctx, []float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "p1", results[0].Document.ID)
	assert.Equal(t, "p2", results[1].Document.ID)

	// Append one document and one edit of an earlier one.
	lines = append(lines, `{"id":"p3","vector":[1,1],"content":"three"}`)
	lines[1] = `{"id":"p2","vector":[0,1],"content":"two, revised"}`
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0600))
	idx.ForgetFile(path)

	n, err = idx.IndexFile(ctx, path, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 4, index.Size())
	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestIndexFile_RetryAfterInvalidDocument(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "crawl.json")
	index := newIndex(t, 2)
	idx := NewIndexer(newStorage(t), index)

	require.NoError(t, os.WriteFile(path, []byte(`[{"id":"a","vector":[1,0]},{"id":"bad","vector":[1,2,3]}]`), 0600))
	n, err := idx.IndexFile(ctx, path, nil)
	assert.ErrorIs(t, err, vector.ErrInvalidInput)
	assert.Equal(t, 1, n)

	require.NoError(t, os.WriteFile(path, []byte(`[{"id":"a","vector":[1,0]},{"id":"b","vector":[0,1]}]`), 0600))
	n, err = idx.IndexFile(ctx, path, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 2, index.Size())
}

func TestIndexFile_Errors(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	idx := NewIndexer(newStorage(t), newIndex(t, 2))

	txt := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(txt, []byte("{}"), 0600))
	_, err := idx.IndexFile(ctx, txt, []string{".json", ".jsonl"})
	assert.Error(t, err)

	_, err = idx.IndexFile(ctx, filepath.Join(dir, "missing.json"), nil)
	assert.Error(t, err)

	_, err = idx.IndexFile(ctx, dir, nil)
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`[{"id":"a","vector":[1,2,3]}]`), 0600))
	_, err = idx.IndexFile(ctx, bad, nil)
	assert.ErrorIs(t, err, vector.ErrInvalidInput)
}

func TestIndexDirectory(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	index := newIndex(t, 2)
	idx := NewIndexer(newStorage(t), index)

	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.MkdirAll(sub, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.json"), []byte(`[{"id":"a","vector":[1,0]}]`), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "b.jsonl"), []byte("{\"id\":\"b\",\"vector\":[0,1]}\n{\"id\":\"c\",\"vector\":[1,1]}\n"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "skip.txt"), []byte("ignored"), 0600))

	n, err := idx.IndexDirectory(ctx, dir, []string{".json", ".jsonl"})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, index.Size())

	_, err = idx.IndexDirectory(ctx, filepath.Join(dir, "a.json"), nil)
	assert.Error(t, err)
}

func TestExtensionAllowed(t *testing.T) {
	tests := []struct {
		ext     string
		allowed []string
		want    bool
	}{
		{".jsonl", []string{".jsonl", ".json"}, true},
		{".JSON", []string{".json"}, true},
		{".json", []string{"json"}, true},
		{".txt", []string{".jsonl"}, false},
		{"", []string{".json"}, false},
	}
	for _, tt := range tests {
		got := extensionAllowed(tt.ext, tt.allowed)
		if got != tt.want {
			t.Errorf("extensionAllowed(%q, %v) = %v, want %v", tt.ext, tt.allowed, got, tt.want)
		}
	}
}
