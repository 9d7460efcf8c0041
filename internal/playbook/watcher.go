package playbook

import (
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"forgemind/internal/logging"
)

// Watcher invalidates the store's in-process cache when another process
// rewrites a playbook JSON on disk.
type Watcher struct {
	store   *Store
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewWatcher starts watching the persister's directory. Close releases the
// underlying inotify handle.
func NewWatcher(store *Store, dir string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{store: store, watcher: fw, done: make(chan struct{})}
	go w.loop()
	logging.Playbook("Watching playbook directory %s", dir)
	return w, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			name := filepath.Base(event.Name)
			if !strings.HasSuffix(name, ".json") {
				continue
			}
			agent := strings.TrimSuffix(name, ".json")
			logging.PlaybookDebug("External change to %s, invalidating cache for %s", name, agent)
			w.store.Invalidate(agent)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.PlaybookWarn("Watcher error: %v", err)
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}
