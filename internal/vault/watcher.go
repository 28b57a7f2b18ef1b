package vault

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/claudia-memory/claudia/internal/debug"
)

// Watcher observes the vault tree for operator edits so sync_hash drift can
// be detected promptly instead of only at the next scheduled vault-sync job.
// Events are debounced: editors write notes several times per save.
type Watcher struct {
	watcher  *fsnotify.Watcher
	baseDir  string
	onChange func(path string)

	mu      sync.Mutex
	pending map[string]*time.Timer
}

const debounceWindow = 500 * time.Millisecond

// NewWatcher starts watching every directory under baseDir. onChange fires
// once per edited markdown file after the debounce window.
func NewWatcher(baseDir string, onChange func(path string)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		watcher:  fw,
		baseDir:  baseDir,
		onChange: onChange,
		pending:  map[string]*time.Timer{},
	}
	if err := w.addRecursive(baseDir); err != nil {
		_ = fw.Close()
		return nil, err
	}
	return w, nil
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || !info.IsDir() {
			return nil
		}
		return w.watcher.Add(path)
	})
}

// Start runs the event loop until ctx is done.
func (w *Watcher) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				w.handleEvent(event)
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				debug.Logf("vault watcher: %v", err)
			}
		}
	}()
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	// New subdirectories (a new sessions/yyyy/mm, say) need watching too.
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			_ = w.watcher.Add(event.Name)
			return
		}
	}
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}
	name := filepath.Base(event.Name)
	if !strings.HasSuffix(name, ".md") || strings.HasPrefix(name, ".") {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[event.Name]; ok {
		t.Stop()
	}
	path := event.Name
	w.pending[path] = time.AfterFunc(debounceWindow, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		w.onChange(path)
	})
}

func (w *Watcher) Close() error {
	w.mu.Lock()
	for _, t := range w.pending {
		t.Stop()
	}
	w.pending = map[string]*time.Timer{}
	w.mu.Unlock()
	return w.watcher.Close()
}
