package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

type entry struct {
	mtime int64
	dir   bool
}

// PollWatcher watches a directory tree by comparing modification time
// snapshots every PollInterval. Changes feed the same debouncer as the
// inotify watcher.
type PollWatcher struct {
	base
	root string
	opts LocalOptions
	log  *zap.Logger

	snapshot map[string]entry // absolute path -> entry, loop goroutine only
}

// NewPoll creates a polling watcher for root.
func NewPoll(root string, opts LocalOptions, log *zap.Logger) (*PollWatcher, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &PollWatcher{
		base: newBase("poll"),
		root: abs,
		opts: opts.withDefaults(),
		log:  log.Named("watcher"),
	}, nil
}

// Start takes the initial snapshot and starts polling.
func (w *PollWatcher) Start(ctx context.Context) error {
	info, err := os.Stat(w.root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("watch %s: not a directory", w.root)
	}
	ctx, err = w.begin(ctx)
	if err != nil {
		return err
	}
	w.snapshot = w.scan()
	go w.loop(ctx)
	return nil
}

func (w *PollWatcher) loop(ctx context.Context) {
	defer close(w.done)

	var wg sync.WaitGroup
	defer wg.Wait()
	deb := NewDebouncer(w.opts.Debounce, w.publish)
	wg.Add(1)
	go func() {
		defer wg.Done()
		deb.Run(ctx)
	}()

	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			for _, p := range w.checkChanges() {
				if !deb.Push(ctx, p) {
					return
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

func (w *PollWatcher) scan() map[string]entry {
	state := make(map[string]entry)
	filepath.Walk(w.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // Skip errors
		}
		if path == w.root {
			return nil
		}
		state[path] = entry{mtime: info.ModTime().UnixNano(), dir: info.IsDir()}
		return nil
	})
	return state
}

// checkChanges rescans the tree and returns the change path of the parent
// directory of every created, modified or deleted entry.
func (w *PollWatcher) checkChanges() []string {
	current := w.scan()
	var out []string
	seen := make(map[string]bool)
	add := func(path string) {
		p, ok := DirPath(w.root, filepath.Dir(path))
		if ok && !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	for path, e := range current {
		old, exists := w.snapshot[path]
		// A directory's own mtime moves with its entries, which are
		// reported separately.
		if !exists || (!e.dir && old.mtime != e.mtime) || old.dir != e.dir {
			add(path)
		}
	}
	for path := range w.snapshot {
		if _, exists := current[path]; !exists {
			add(path)
		}
	}
	w.snapshot = current
	return out
}
