package storage

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/HCPTangHY/Lim-Code/internal/event"
	"github.com/HCPTangHY/Lim-Code/internal/logging"
)

// DriftWatcher watches the storage root for records changed outside
// this process (a sync tool, a second editor window) and publishes
// storage.drift events. The retry path treats local state as
// authoritative after truncation; these events are the hook a
// reconciliation pass uses to detect and repair backend drift.
type DriftWatcher struct {
	watcher *fsnotify.Watcher
	root    string
	bus     *event.Bus
	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool
	mu      sync.Mutex
}

// NewDriftWatcher creates a watcher over the store's root directory.
func NewDriftWatcher(store *Store, bus *event.Bus) (*DriftWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	root := store.BasePath()
	if err := os.MkdirAll(root, 0755); err != nil {
		w.Close()
		return nil, err
	}
	if err := addRecursive(w, root); err != nil {
		w.Close()
		return nil, err
	}

	return &DriftWatcher{
		watcher: w,
		root:    root,
		bus:     bus,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}, nil
}

func addRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		return w.Add(path)
	})
}

// Start begins watching in a background goroutine.
func (w *DriftWatcher) Start() {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()
	go w.run()
}

func (w *DriftWatcher) run() {
	defer close(w.doneCh)
	log := logging.Component("storage")

	for {
		select {
		case <-w.stopCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			name := filepath.Base(ev.Name)
			// Our own atomic writes go through .tmp then rename; the
			// rename shows up as Create on the final name, which is
			// indistinguishable from an external write here. Consumers
			// compare content before repairing.
			if strings.HasSuffix(name, ".tmp") || strings.HasSuffix(name, ".lock") {
				continue
			}
			if ev.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					_ = w.watcher.Add(ev.Name)
					continue
				}
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			rel, err := filepath.Rel(w.root, ev.Name)
			if err != nil {
				rel = ev.Name
			}
			w.bus.Publish(event.Event{
				Type: event.StorageDrift,
				Data: event.StorageDriftData{Path: rel, Op: ev.Op.String()},
			})
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("storage watcher error")
		}
	}
}

// Stop stops watching and waits for the goroutine to exit.
func (w *DriftWatcher) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		w.watcher.Close()
		return
	}
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
	w.watcher.Close()
}
