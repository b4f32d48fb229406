package config

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/compozy/tplwriter/pkg/logger"
	"github.com/fsnotify/fsnotify"
)

// ignoredDirs are never descended into when watching a tree.
var ignoredDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	".cache":       true,
}

// Watcher reports changes to watched files and directory trees.
//
// A watched file is observed through its parent directory so that editors
// replacing the file on save keep triggering callbacks. A watched directory
// is observed recursively, including directories created later.
type Watcher struct {
	watcher   *fsnotify.Watcher
	callbacks []func()
	mu        sync.RWMutex
	// watched maps absolute target paths to the context that registered them.
	watched   map[string]context.Context
	dirs      map[string]bool // directories added to fsnotify
	ignored   []string
	log       logger.Logger
	stopCh    chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
}

// NewWatcher creates a new file watcher.
func NewWatcher() (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	return &Watcher{
		watcher:   fsWatcher,
		callbacks: make([]func(), 0),
		watched:   make(map[string]context.Context),
		dirs:      make(map[string]bool),
		stopCh:    make(chan struct{}),
	}, nil
}

// Watch starts watching path, a file or a directory, until ctx is done.
func (w *Watcher) Watch(ctx context.Context, path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}
	w.mu.Lock()
	if w.log == nil {
		w.log = logger.FromContext(ctx)
	}
	w.watched[absPath] = ctx
	w.mu.Unlock()
	if info.IsDir() {
		err = w.addTree(absPath)
	} else {
		err = w.addDir(filepath.Dir(absPath))
	}
	if err != nil {
		w.mu.Lock()
		delete(w.watched, absPath)
		w.mu.Unlock()
		return err
	}
	if done := ctx.Done(); done != nil {
		go func(p string, done <-chan struct{}) {
			select {
			case <-done:
			case <-w.stopCh:
			}
			w.mu.Lock()
			delete(w.watched, p)
			w.mu.Unlock()
		}(absPath, done)
	}
	w.startOnce.Do(func() {
		go w.handleEvents()
	})
	return nil
}

func (w *Watcher) addDir(dir string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.dirs[dir] {
		return nil
	}
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch directory %s: %w", dir, err)
	}
	w.dirs[dir] = true
	return nil
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && (ignoredDirs[d.Name()] || w.isIgnored(path)) {
			return filepath.SkipDir
		}
		return w.addDir(path)
	})
}

// Ignore suppresses events at or below path, such as an output directory
// that lives inside a watched tree.
func (w *Watcher) Ignore(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ignored = append(w.ignored, absPath)
	return nil
}

func (w *Watcher) isIgnored(name string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, path := range w.ignored {
		if within(name, path) {
			return true
		}
	}
	return false
}

func within(name, path string) bool {
	return name == path || strings.HasPrefix(name, path+string(filepath.Separator))
}

// OnChange registers a callback to be invoked when a watched path changes.
func (w *Watcher) OnChange(callback func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// target returns the watched path an event belongs to.
func (w *Watcher) target(name string) (string, context.Context, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for path, ctx := range w.watched {
		if within(name, path) {
			return path, ctx, true
		}
	}
	return "", nil, false
}

// handleEvents processes file system events until the watcher is closed.
func (w *Watcher) handleEvents() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			target, ctx, found := w.target(event.Name)
			if !found || (ctx != nil && ctx.Err() != nil) || w.isIgnored(event.Name) {
				continue
			}
			if event.Op&fsnotify.Create != 0 && target != event.Name {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addTree(event.Name); err != nil {
						w.activeLogger().Warn("failed to watch new directory", "path", event.Name, "error", err)
					}
				}
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				w.activeLogger().Debug("change detected", "path", event.Name, "op", event.Op.String())
				w.notifyCallbacks()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if err != nil {
				w.activeLogger().Error("file watcher error", "error", err)
			}
		}
	}
}

func (w *Watcher) activeLogger() logger.Logger {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.log == nil {
		return logger.GetDefault()
	}
	return w.log
}

// notifyCallbacks invokes all registered callbacks.
func (w *Watcher) notifyCallbacks() {
	w.mu.RLock()
	callbacks := make([]func(), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.RUnlock()
	for _, callback := range callbacks {
		if callback != nil {
			callback()
		}
	}
}

// Close stops the watcher and releases resources.
func (w *Watcher) Close() error {
	var closeErr error
	w.closeOnce.Do(func() {
		close(w.stopCh)
		if err := w.watcher.Close(); err != nil {
			closeErr = fmt.Errorf("failed to close watcher: %w", err)
		}
	})
	return closeErr
}
