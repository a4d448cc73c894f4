package catalog

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"conductor/internal/logging"
)

// Watcher watches a catalog YAML file and reloads it on change, swapping the
// immutable snapshot atomically. Classification calls that already hold a
// snapshot are unaffected; the next call sees the new catalog.
type Watcher struct {
	mu       sync.RWMutex
	watcher  *fsnotify.Watcher
	path     string
	current  *Catalog
	onReload func(*Catalog)

	debounceDur time.Duration
	lastEvent   time.Time

	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
}

// NewWatcher creates a watcher for the catalog file at path. The file must
// parse at construction time; a broken catalog never becomes the snapshot.
// onReload may be nil.
func NewWatcher(path string, onReload func(*Catalog)) (*Watcher, error) {
	initial, err := Load(path)
	if err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		watcher:     fw,
		path:        path,
		current:     initial,
		onReload:    onReload,
		debounceDur: 200 * time.Millisecond,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Current returns the latest valid catalog snapshot.
func (w *Watcher) Current() *Catalog {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Start begins watching. Non-blocking; events are handled in a goroutine.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil // Already running
	}
	w.running = true
	w.mu.Unlock()

	// Watch the containing directory: editors replace files via rename,
	// which drops a watch on the file itself.
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}
	logging.Get(logging.CategoryCatalog).Info("Watching catalog file: %s", w.path)

	go w.run(ctx)
	return nil
}

// Stop stops the watcher and waits for the event loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	if err := w.watcher.Close(); err != nil {
		logging.Get(logging.CategoryCatalog).Error("Error closing catalog watcher: %v", err)
	}
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			w.mu.Lock()
			if time.Since(w.lastEvent) < w.debounceDur {
				w.mu.Unlock()
				continue
			}
			w.lastEvent = time.Now()
			w.mu.Unlock()

			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Get(logging.CategoryCatalog).Warn("Catalog watcher error: %v", err)
		}
	}
}

func (w *Watcher) reload() {
	cat, err := Load(w.path)
	if err != nil {
		// Keep serving the previous snapshot on a broken edit.
		logging.Get(logging.CategoryCatalog).Warn("Catalog reload failed, keeping previous snapshot: %v", err)
		return
	}

	w.mu.Lock()
	w.current = cat
	cb := w.onReload
	w.mu.Unlock()

	logging.Get(logging.CategoryCatalog).Info("Catalog reloaded: %d entries", cat.Len())
	if cb != nil {
		cb(cat)
	}
}
