// Package reload detects configuration file changes by polling file
// metadata, avoiding platform-specific watch APIs.
package reload

import (
	"os"
	"sync"
	"time"
)

type fileState struct {
	modTime time.Time
	size    int64
	exists  bool
}

// Watcher tracks one configuration file and reports modifications since
// the last snapshot.
type Watcher struct {
	mu    sync.Mutex
	path  string
	state fileState
}

// NewWatcher builds a watcher with the file's current state as baseline.
func NewWatcher(path string) *Watcher {
	w := &Watcher{path: path}
	w.state = stat(path)
	return w
}

// Changed reports whether the file differs from the last snapshot. It
// does not advance the snapshot; call Update once the new content has
// been applied, so a failed reload is retried on the next check.
func (w *Watcher) Changed() bool {
	if w == nil {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	current := stat(w.path)
	if current.exists != w.state.exists {
		return true
	}
	if !current.exists {
		return false
	}
	return current.modTime.After(w.state.modTime) || current.size != w.state.size
}

// Update re-snapshots the file state.
func (w *Watcher) Update() {
	if w == nil {
		return
	}
	w.mu.Lock()
	w.state = stat(w.path)
	w.mu.Unlock()
}

func stat(path string) fileState {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return fileState{}
	}
	return fileState{modTime: info.ModTime(), size: info.Size(), exists: true}
}
