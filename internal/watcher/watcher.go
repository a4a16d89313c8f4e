// Package watcher ingests crawler output dropped into watched directories.
//
// Events only mark a file as pending. The event loop hands a pending file to
// the Ingester once it has been quiet for the debounce interval, so a crawler
// appending to a JSONL file in bursts triggers one ingestion per burst, and
// files are ingested one at a time in the loop's goroutine.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultDebounce = 400 * time.Millisecond

// Ingester consumes files that appeared or changed under a watched root.
type Ingester interface {
	IndexFile(ctx context.Context, path string, allowedExts []string) (int, error)
	ForgetFile(path string)
}

// root is a watched directory and the directories registered with fsnotify for it.
type root struct {
	path string
	dirs []string
}

// Watcher watches directories and hands new or changed files to an Ingester.
type Watcher struct {
	extensions []string
	recursive  bool
	ingester   Ingester
	debounce   time.Duration
	logger     *zap.Logger

	mu       sync.Mutex
	fsw      *fsnotify.Watcher
	ctx      context.Context
	roots    []*root
	pending  map[string]time.Time // path -> time of the last event
	done     chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithLogger sets a logger for watcher events.
func WithLogger(l *zap.Logger) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithDebounce overrides how long a file must stay quiet before it is ingested.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// NewWatcher creates a watcher over dirs. Only files whose extension is in
// extensions are ingested; an empty list accepts every file.
func NewWatcher(dirs []string, extensions []string, recursive bool, ingester Ingester, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		extensions: extensions,
		recursive:  recursive,
		ingester:   ingester,
		debounce:   defaultDebounce,
		logger:     zap.NewNop(),
		ctx:        context.Background(),
		pending:    make(map[string]time.Time),
		done:       make(chan struct{}),
	}
	for _, d := range dirs {
		w.roots = append(w.roots, &root{path: filepath.Clean(d)})
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start registers every root with fsnotify, creating missing ones, and starts
// the event loop. The loop ends when ctx is cancelled or Stop is called.
// Calling Start on a running watcher is a no-op.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fsw != nil {
		return nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.fsw = fsw
	w.ctx = ctx
	for _, r := range w.roots {
		if err := w.registerLocked(r); err != nil {
			_ = fsw.Close()
			w.fsw = nil
			return err
		}
	}
	w.logger.Debug("watcher started",
		zap.Strings("roots", w.directoriesLocked()),
		zap.Strings("extensions", w.extensions),
		zap.Bool("recursive", w.recursive))
	go w.loop(ctx, fsw)
	return nil
}

// Run starts the watcher, ingests the files already present and blocks until
// ctx is done. It is shaped for errgroup.Group.Go.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.Start(ctx); err != nil {
		return err
	}
	w.SyncExistingFiles()
	<-ctx.Done()
	w.Stop()
	return nil
}

func (w *Watcher) loop(ctx context.Context, fsw *fsnotify.Watcher) {
	tick := time.NewTicker(max(w.debounce/4, 10*time.Millisecond))
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", zap.Error(err))
		case now := <-tick.C:
			for _, path := range w.due(now) {
				w.ingest(path)
			}
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)
	if !w.watched(path) {
		return
	}
	w.logger.Debug("watcher event", zap.String("op", ev.Op.String()), zap.String("path", path))

	if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		if w.ingester != nil && matchExtension(path, w.extensions) {
			w.ingester.ForgetFile(path)
		}
		return
	}
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}

	info, err := os.Stat(path)
	if err != nil {
		return
	}
	if info.IsDir() {
		if ev.Has(fsnotify.Create) {
			w.addSubdirectory(path)
		}
		return
	}
	w.touch(path)
}

// addSubdirectory registers a directory that appeared under a root and queues
// the files already inside it, which may have been written before the watch
// was in place.
func (w *Watcher) addSubdirectory(dir string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fsw == nil {
		return
	}
	r := w.rootOfLocked(dir)
	if r == nil {
		return
	}
	if !w.recursive {
		return
	}
	dirs, err := walkDirs(dir, w.fsw)
	if err != nil {
		w.logger.Debug("watcher failed to add directory", zap.String("path", dir), zap.Error(err))
	}
	r.dirs = append(r.dirs, dirs...)
	w.logger.Debug("watcher added directory", zap.String("path", dir), zap.Int("directories", len(dirs)))
	w.queueTreeLocked(dir)
}

// touch marks path as changed now, postponing its ingestion.
func (w *Watcher) touch(path string) {
	if !matchExtension(path, w.extensions) {
		return
	}
	w.mu.Lock()
	w.pending[path] = time.Now()
	w.mu.Unlock()
}

// due removes and returns, in path order, every pending file that has been
// quiet for the debounce interval.
func (w *Watcher) due(now time.Time) []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	var ready []string
	for path, last := range w.pending {
		if now.Sub(last) >= w.debounce {
			ready = append(ready, path)
			delete(w.pending, path)
		}
	}
	sort.Strings(ready)
	return ready
}

func (w *Watcher) ingest(path string) {
	w.mu.Lock()
	ctx := w.ctx
	w.mu.Unlock()
	if w.ingester == nil || ctx == nil || ctx.Err() != nil {
		return
	}
	n, err := w.ingester.IndexFile(ctx, path, w.extensions)
	if err != nil {
		w.logger.Warn("watcher failed to ingest file", zap.String("path", path), zap.Int("documents", n), zap.Error(err))
		return
	}
	w.logger.Debug("watcher ingested file", zap.String("path", path), zap.Int("documents", n))
}

// watched reports whether path lies under one of the roots.
func (w *Watcher) watched(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rootOfLocked(path) != nil
}

func (w *Watcher) rootOfLocked(path string) *root {
	for _, r := range w.roots {
		if inDir(r.path, path) {
			return r
		}
	}
	return nil
}

// inDir reports whether path is dir or lies beneath it.
func inDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func matchExtension(path string, extensions []string) bool {
	if len(extensions) == 0 {
		return true
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	for _, e := range extensions {
		if strings.TrimPrefix(strings.ToLower(e), ".") == ext {
			return true
		}
	}
	return false
}

// registerLocked creates r.path if needed and adds it, and with recursion
// every directory below it, to fsnotify.
func (w *Watcher) registerLocked(r *root) error {
	if err := os.MkdirAll(r.path, 0755); err != nil {
		return err
	}
	if !w.recursive {
		if err := w.fsw.Add(r.path); err != nil {
			return err
		}
		r.dirs = []string{r.path}
		return nil
	}
	dirs, err := walkDirs(r.path, w.fsw)
	if err != nil {
		return err
	}
	r.dirs = dirs
	return nil
}

// walkDirs adds dir and every directory below it to fsw and returns them.
func walkDirs(dir string, fsw *fsnotify.Watcher) ([]string, error) {
	var dirs []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := fsw.Add(path); err != nil {
			return err
		}
		dirs = append(dirs, path)
		return nil
	})
	return dirs, err
}

// queueTreeLocked marks every matching file under dir as pending.
func (w *Watcher) queueTreeLocked(dir string) {
	now := time.Now()
	for _, path := range w.filesUnder(dir) {
		w.pending[path] = now
	}
}

// filesUnder lists matching files under dir, descending only when recursive.
func (w *Watcher) filesUnder(dir string) []string {
	var files []string
	_ = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != dir && !w.recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if matchExtension(path, w.extensions) {
			files = append(files, path)
		}
		return nil
	})
	return files
}

// AddDirectory starts watching dir. With syncExisting the files already in it
// are queued for ingestion. Adding a watched directory again is a no-op, and
// so is any call before Start.
func (w *Watcher) AddDirectory(dir string, syncExisting bool) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fsw == nil {
		return nil
	}
	for _, r := range w.roots {
		if r.path == abs {
			return nil
		}
	}
	r := &root{path: abs}
	if err := w.registerLocked(r); err != nil {
		return err
	}
	w.roots = append(w.roots, r)
	w.logger.Info("watch directory added", zap.String("path", abs), zap.Bool("sync_existing", syncExisting))
	if syncExisting && w.ingester != nil {
		w.queueTreeLocked(abs)
	}
	return nil
}

// RemoveDirectory stops watching dir. Documents already ingested stay indexed.
func (w *Watcher) RemoveDirectory(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fsw == nil {
		return nil
	}
	for i, r := range w.roots {
		if r.path != abs {
			continue
		}
		for _, d := range r.dirs {
			_ = w.fsw.Remove(d)
		}
		for path := range w.pending {
			if inDir(abs, path) {
				delete(w.pending, path)
			}
		}
		w.roots = append(w.roots[:i], w.roots[i+1:]...)
		w.logger.Info("watch directory removed", zap.String("path", abs))
		return nil
	}
	return nil
}

// Directories returns the watched root directories.
func (w *Watcher) Directories() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.directoriesLocked()
}

func (w *Watcher) directoriesLocked() []string {
	out := make([]string, len(w.roots))
	for i, r := range w.roots {
		out[i] = r.path
	}
	return out
}

// SyncExistingFiles ingests every matching file already in the watched roots
// and returns when done. Call it after Start.
func (w *Watcher) SyncExistingFiles() {
	for _, dir := range w.Directories() {
		w.logger.Debug("watcher syncing directory", zap.String("root", dir))
		for _, path := range w.filesUnder(dir) {
			w.ingest(path)
		}
	}
}

// Stop ends the event loop and releases the fsnotify watcher. Pending files
// that have not been ingested yet are dropped.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.fsw == nil {
		w.mu.Unlock()
		return
	}
	_ = w.fsw.Close()
	w.fsw = nil
	w.pending = make(map[string]time.Time)
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
}
