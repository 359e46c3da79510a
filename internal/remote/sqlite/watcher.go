package sqlite

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/quillnotes/quill/internal/remote"
)

// DefaultSettle is how long the watcher waits for a burst of file events to
// go quiet before publishing a refresh.
const DefaultSettle = 150 * time.Millisecond

// ExternalWatcher turns writes to the database file by other processes into
// refresh events on the store's hub.
//
// SQLite gives no cross-process change notification, so the watcher looks at
// the database and WAL files. Events that land within the settle window of
// this store's own writes are ignored; those writes were already published.
type ExternalWatcher struct {
	store   *Store
	watcher *fsnotify.Watcher
	settle  time.Duration
	logger  *log.Logger
	names   map[string]bool

	done chan struct{}
	wg   sync.WaitGroup

	mu      sync.Mutex
	running bool
	timer   *time.Timer
}

// NewExternalWatcher creates a watcher for store's database file.
// The watcher must be started with Start() before it will publish events.
func NewExternalWatcher(store *Store, settle time.Duration, logger *log.Logger) (*ExternalWatcher, error) {
	if store.Path() == MemoryPath {
		return nil, fmt.Errorf("cannot watch an in-memory database")
	}
	if settle <= 0 {
		settle = DefaultSettle
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[store] ", log.LstdFlags)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	base := filepath.Base(store.Path())
	return &ExternalWatcher{
		store:   store,
		watcher: watcher,
		settle:  settle,
		logger:  logger,
		names:   map[string]bool{base: true, base + "-wal": true},
		done:    make(chan struct{}),
	}, nil
}

// Start begins watching the database directory.
func (w *ExternalWatcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("watcher already running")
	}

	dir := filepath.Dir(w.store.Path())
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch database directory %s: %w", dir, err)
	}

	w.running = true
	w.wg.Add(1)
	go w.processEvents()
	return nil
}

// Stop stops watching and blocks until the event loop has exited.
func (w *ExternalWatcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()

	close(w.done)

	if err := w.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	w.wg.Wait()
	return nil
}

func (w *ExternalWatcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.names[filepath.Base(event.Name)] {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			w.schedule()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Printf("Warning: watcher error: %v", err)
		}
	}
}

// schedule restarts the settle timer.
func (w *ExternalWatcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.settle, w.fire)
}

func (w *ExternalWatcher) fire() {
	if time.Since(w.store.LastWrite()) < 2*w.settle {
		return
	}
	w.logger.Printf("External change detected in %s", w.store.Path())
	w.store.Hub().Publish(remote.Event{Kind: remote.EventRefresh})
}
