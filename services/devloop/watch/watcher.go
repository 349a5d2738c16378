// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package watch delivers debounced change notifications for an application
// tree plus an evolving set of out-of-tree files.
package watch

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Handler is called with a batch of changed file paths after the debounce
// window closes.
type Handler func(paths []string)

// Options configures the Watcher.
type Options struct {
	// DebounceWindow is how long to wait for more changes before the
	// handler fires. Default: 100ms.
	DebounceWindow time.Duration

	// BufferSize is the size of the internal change channel. Default: 1000.
	BufferSize int

	// IgnoreDirs are directory names skipped while walking the root.
	// Default: .git, node_modules, .lambdev, __pycache__, .idea.
	IgnoreDirs []string
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		DebounceWindow: 100 * time.Millisecond,
		BufferSize:     1000,
		IgnoreDirs:     []string{".git", "node_modules", ".lambdev", "__pycache__", ".idea"},
	}
}

// Watcher watches the application root recursively, plus explicit files.
//
// # Description
//
// The root tree is watched directory by directory so edits to any file
// under it are delivered (the scheduler decides which of them matter).
// Files outside the root, registered through Add, are watched through
// their parent directories with reference counting (editors replace files
// by rename, which per-file watches miss). Changes are deduplicated and
// batched through a debounce window before the handler fires.
//
// # Thread Safety
//
// Safe for concurrent use. The handler runs on a single goroutine.
type Watcher struct {
	root     string
	watcher  *fsnotify.Watcher
	handler  Handler
	debounce time.Duration
	ignore   []string

	mu    sync.Mutex
	files map[string]struct{} // explicit out-of-tree files
	dirs  map[string]int      // out-of-tree directory -> file refcount

	changes  chan string
	done     chan struct{}
	stopOnce sync.Once
}

// New creates a watcher over the given root. Call Start to begin delivery.
func New(root string, handler Handler, opts *Options) (*Watcher, error) {
	if opts == nil {
		defaults := DefaultOptions()
		opts = &defaults
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		root:     root,
		watcher:  fsw,
		handler:  handler,
		debounce: opts.DebounceWindow,
		ignore:   opts.IgnoreDirs,
		files:    make(map[string]struct{}),
		dirs:     make(map[string]int),
		changes:  make(chan string, opts.BufferSize),
		done:     make(chan struct{}),
	}, nil
}

// Start walks the root and launches the event and debounce goroutines.
func (w *Watcher) Start() error {
	if err := w.addRecursive(w.root); err != nil {
		return err
	}
	go w.processEvents()
	go w.debounceLoop()
	return nil
}

// Stop shuts the watcher down. Idempotent.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		_ = w.watcher.Close()
	})
}

// Add registers files with the watcher.
//
// Paths under the root are already covered by the recursive watch and are
// recorded only for bookkeeping. Per-path failures are logged and skipped;
// a watcher error never halts the loop.
func (w *Watcher) Add(paths []string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, p := range paths {
		if _, ok := w.files[p]; ok {
			continue
		}
		w.files[p] = struct{}{}

		if w.underRoot(p) {
			continue
		}
		dir := filepath.Dir(p)
		w.dirs[dir]++
		if w.dirs[dir] == 1 {
			if err := w.watcher.Add(dir); err != nil {
				slog.Warn("Watch add failed",
					slog.String("dir", dir),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// Remove unregisters files from the watcher.
func (w *Watcher) Remove(paths []string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, p := range paths {
		if _, ok := w.files[p]; !ok {
			continue
		}
		delete(w.files, p)

		if w.underRoot(p) {
			continue
		}
		dir := filepath.Dir(p)
		w.dirs[dir]--
		if w.dirs[dir] <= 0 {
			delete(w.dirs, dir)
			_ = w.watcher.Remove(dir)
		}
	}
}

// underRoot reports whether a path lives inside the watched root.
func (w *Watcher) underRoot(p string) bool {
	rel, err := filepath.Rel(w.root, p)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// shouldIgnore checks a path against the ignored directory names.
func (w *Watcher) shouldIgnore(path string) bool {
	base := filepath.Base(path)
	for _, name := range w.ignore {
		if base == name {
			return true
		}
		if strings.Contains(path, string(filepath.Separator)+name+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// addRecursive adds a directory tree to the watch list.
func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable subtree; keep walking
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && w.shouldIgnore(path) {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}

// processEvents converts fsnotify events into debounced change paths.
func (w *Watcher) processEvents() {
	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if w.shouldIgnore(event.Name) {
				continue
			}

			// Newly created directories under the root join the watch.
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if w.underRoot(event.Name) {
						_ = w.watcher.Add(event.Name)
					}
					continue
				}
			}

			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			select {
			case w.changes <- event.Name:
			default:
				// Buffer full; the debouncer will pick the file up from a
				// later event.
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("Watcher error", slog.String("error", err.Error()))
		}
	}
}

// debounceLoop batches changes and invokes the handler once per window.
func (w *Watcher) debounceLoop() {
	var batch []string
	seen := make(map[string]struct{})
	var timer *time.Timer
	var timerC <-chan time.Time

	flush := func() {
		if len(batch) > 0 && w.handler != nil {
			w.handler(batch)
		}
		batch = nil
		seen = make(map[string]struct{})
		if timer != nil {
			timer.Stop()
			timer = nil
			timerC = nil
		}
	}

	for {
		select {
		case <-w.done:
			flush()
			return

		case path := <-w.changes:
			if _, dup := seen[path]; !dup {
				seen[path] = struct{}{}
				batch = append(batch, path)
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}

		case <-timerC:
			flush()
		}
	}
}
