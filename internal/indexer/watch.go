package indexer

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher reindexes files as they change on disk, debouncing bursts of
// events (an editor save often fires several in quick succession) into a
// single reindex pass per affected path.
type Watcher struct {
	pipeline *Pipeline
	root     string
	debounce time.Duration
	ignore   []string
	log      *zap.Logger

	fsw *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]struct{}
	timer   *time.Timer

	done chan struct{}
	wg   sync.WaitGroup
}

// NewWatcher builds a Watcher over pipeline's workspace root.
func NewWatcher(pipeline *Pipeline, debounce time.Duration, log *zap.Logger) (*Watcher, error) {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	if log == nil {
		log = zap.NewNop()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		pipeline: pipeline,
		root:     pipeline.WorkspaceRoot,
		debounce: debounce,
		ignore:   pipeline.IgnoreGlobs,
		log:      log,
		fsw:      fsw,
		pending:  make(map[string]struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching and blocks until ctx is cancelled or Stop is
// called.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.addRecursive(w.root); err != nil {
		return err
	}

	w.wg.Add(1)
	go w.loop(ctx)

	select {
	case <-ctx.Done():
		w.Stop()
		return ctx.Err()
	case <-w.done:
		return nil
	}
}

// Stop halts the watcher and waits for its goroutine to exit.
func (w *Watcher) Stop() {
	select {
	case <-w.done:
		return
	default:
		close(w.done)
	}
	w.wg.Wait()
	_ = w.fsw.Close()

	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
}

func (w *Watcher) addRecursive(dir string) error {
	entries, err := Discover(dir, w.ignore)
	if err != nil {
		return err
	}
	seen := map[string]bool{dir: true}
	if err := w.fsw.Add(dir); err != nil {
		return err
	}
	for _, rel := range entries {
		parent := filepath.Dir(filepath.Join(dir, rel))
		if !seen[parent] {
			seen[parent] = true
			_ = w.fsw.Add(parent)
		}
	}
	return nil
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("watch error", zap.Error(err))
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	rel, err := filepath.Rel(w.root, event.Name)
	if err != nil {
		return
	}
	rel = filepath.ToSlash(rel)
	if matchesAny(rel, append(append([]string{}, defaultIgnoreGlobs...), w.ignore...)) {
		return
	}
	if event.Op&fsnotify.Chmod != 0 && event.Op == fsnotify.Chmod {
		return
	}

	w.mu.Lock()
	w.pending[rel] = struct{}{}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.flush)
	w.mu.Unlock()
}

func (w *Watcher) flush() {
	w.mu.Lock()
	if len(w.pending) == 0 {
		w.mu.Unlock()
		return
	}
	paths := make([]string, 0, len(w.pending))
	for p := range w.pending {
		paths = append(paths, p)
	}
	w.pending = make(map[string]struct{})
	w.mu.Unlock()

	for _, rel := range paths {
		if err := w.pipeline.indexFile(context.Background(), rel); err != nil {
			w.log.Warn("reindex on change failed", zap.String("path", rel), zap.Error(err))
		}
	}
}
