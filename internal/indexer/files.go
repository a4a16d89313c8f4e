package indexer

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/apex/internal/fileid"
	"github.com/hyperjump/apex/internal/models"
)

// fileState is what we know about a file the last time it was ingested.
type fileState struct {
	modTime time.Time
	size    int64
}

// DecodeDocuments reads documents from r. It accepts a JSON array of documents,
// a single document object, or newline-delimited documents (JSONL), which is
// what crawlers write.
func DecodeDocuments(r io.Reader) ([]*models.DocumentInput, error) {
	br := bufio.NewReader(r)
	first, err := peekNonSpace(br)
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(br)
	if first == '[' {
		var docs []*models.DocumentInput
		if err := dec.Decode(&docs); err != nil {
			return nil, fmt.Errorf("decode document array: %w", err)
		}
		return docs, nil
	}

	var docs []*models.DocumentInput
	for {
		var doc models.DocumentInput
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode document %d: %w", len(docs), err)
		}
		docs = append(docs, &doc)
	}
	return docs, nil
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.Peek(1)
		if err != nil {
			return 0, err
		}
		switch b[0] {
		case ' ', '\t', '\r', '\n':
			_, _ = br.ReadByte()
		default:
			return b[0], nil
		}
	}
}

// IndexFile ingests every document in the JSON or JSONL file at path and
// returns how many were indexed. Documents without an id get one derived from
// the file path and their position. Documents already stored with identical
// fields are skipped, so re-reading a file after a restart or an append only
// indexes what is new. If allowedExts is non-empty the file's
// extension must be in it. A file already ingested with the same mtime and
// size is skipped.
func (idx *Indexer) IndexFile(ctx context.Context, path string, allowedExts []string) (int, error) {
	idx.logger.Debug("indexer indexing file", zap.String("path", path))
	absPath, err := filepath.Abs(path)
	if err != nil {
		return 0, fmt.Errorf("absolute path: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(absPath))
	if len(allowedExts) > 0 && !extensionAllowed(ext, allowedExts) {
		return 0, fmt.Errorf("extension %q not in allowed list", ext)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return 0, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return 0, fmt.Errorf("not a regular file: %s", absPath)
	}

	state := fileState{modTime: info.ModTime(), size: info.Size()}
	if idx.unchanged(absPath, state) {
		idx.logger.Debug("indexer skipping unchanged file", zap.String("path", absPath))
		return 0, nil
	}

	f, err := os.Open(absPath)
	if err != nil {
		return 0, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	inputs, err := DecodeDocuments(f)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", absPath, err)
	}

	n, skipped := 0, 0
	for i, input := range inputs {
		if input == nil {
			continue
		}
		if input.ID == "" {
			input.ID = fileid.DocID(absPath, i)
		}
		stored, err := idx.alreadyStored(ctx, input.ToDocument())
		if err != nil {
			return n, fmt.Errorf("%s: document %d: %w", absPath, i, err)
		}
		if stored {
			skipped++
			continue
		}
		if _, err := idx.AddDocument(ctx, input); err != nil {
			return n, fmt.Errorf("%s: document %d: %w", absPath, i, err)
		}
		n++
	}

	idx.mu.Lock()
	idx.files[absPath] = state
	idx.mu.Unlock()

	idx.logger.Info("file ingested", zap.String("path", absPath), zap.Int("documents", n), zap.Int("unchanged", skipped))
	return n, nil
}

func (idx *Indexer) unchanged(absPath string, state fileState) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	prev, ok := idx.files[absPath]
	return ok && prev.size == state.size && prev.modTime.Equal(state.modTime)
}

// ForgetFile drops the ingestion record for path so the next IndexFile call
// reads it again. Documents already indexed from it stay in the index.
func (idx *Indexer) ForgetFile(path string) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}
	idx.mu.Lock()
	delete(idx.files, absPath)
	idx.mu.Unlock()
	idx.logger.Info("watched file removed; its documents stay indexed", zap.String("path", absPath))
}

// IndexDirectory walks dir recursively and ingests each regular file whose
// extension is in allowedExts (all files when empty). It returns the number of
// documents indexed and the first error encountered, if any.
func (idx *Indexer) IndexDirectory(ctx context.Context, dir string, allowedExts []string) (n int, err error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return 0, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return 0, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return 0, fmt.Errorf("not a directory: %s", absDir)
	}
	err = filepath.WalkDir(absDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if len(allowedExts) > 0 && !extensionAllowed(ext, allowedExts) {
			return nil
		}
		finfo, statErr := os.Stat(path)
		if statErr != nil || !finfo.Mode().IsRegular() {
			return nil
		}
		count, indexErr := idx.IndexFile(ctx, path, allowedExts)
		n += count
		return indexErr
	})
	return n, err
}

func extensionAllowed(ext string, allowed []string) bool {
	extNorm := strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, a := range allowed {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == extNorm {
			return true
		}
	}
	return false
}
