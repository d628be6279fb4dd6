package phase

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher notices plan and review artifacts appearing between poll ticks
// and invokes a callback with the owning workspace path, so the caller
// can re-check the session phase without waiting for the next tick.
type Watcher struct {
	fs       *fsnotify.Watcher
	onChange func(workspacePath string)

	mu         sync.Mutex
	workspaces map[string]string // watched dir -> workspace root
	closed     bool

	done chan struct{}
}

// NewWatcher starts a watcher delivering artifact changes to onChange.
// Callbacks run on the watcher goroutine; keep them short.
func NewWatcher(onChange func(workspacePath string)) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create artifact watcher: %w", err)
	}
	w := &Watcher{
		fs:         fs,
		onChange:   onChange,
		workspaces: make(map[string]string),
		done:       make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Add watches a workspace's artifact directories. The directories are
// created if missing so the watch can be registered before the agent
// writes anything.
func (w *Watcher) Add(workspacePath string) error {
	reviewsDir := filepath.Join(workspacePath, artifactDir, reviewArtifactDir)
	if err := os.MkdirAll(reviewsDir, 0o755); err != nil {
		return fmt.Errorf("create artifact dirs: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("artifact watcher closed")
	}
	for _, dir := range []string{filepath.Join(workspacePath, artifactDir), reviewsDir} {
		if _, watched := w.workspaces[dir]; watched {
			continue
		}
		if err := w.fs.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
		w.workspaces[dir] = workspacePath
	}
	return nil
}

// Remove stops watching a workspace.
func (w *Watcher) Remove(workspacePath string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for dir, root := range w.workspaces {
		if root == workspacePath {
			_ = w.fs.Remove(dir)
			delete(w.workspaces, dir)
		}
	}
}

// Close stops the watcher and waits for the dispatch goroutine.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	err := w.fs.Close()
	<-w.done
	return err
}

func (w *Watcher) run() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !isArtifact(event.Name) {
				continue
			}
			if workspace := w.workspaceFor(event.Name); workspace != "" {
				w.onChange(workspace)
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			slog.Warn("Artifact watcher error", "error", err)
		}
	}
}

func (w *Watcher) workspaceFor(path string) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.workspaces[filepath.Dir(path)]
}

// isArtifact filters events down to markdown artifacts, ignoring editor
// temp files.
func isArtifact(path string) bool {
	return strings.HasSuffix(path, ".md")
}
