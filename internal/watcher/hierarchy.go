package watcher

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/dgzargo/BookmarkStorage/internal/storage"
	"github.com/dgzargo/BookmarkStorage/pkg/models"
	"github.com/dgzargo/BookmarkStorage/pkg/tree"
)

// HierarchyPoller watches any storage backend by diffing successive
// hierarchy snapshots. It serves backends with no native change feed.
type HierarchyPoller struct {
	base
	src      storage.HierarchySource
	interval time.Duration
	log      *zap.Logger
}

// NewHierarchyPoller polls src every interval.
func NewHierarchyPoller(src storage.HierarchySource, interval time.Duration, log *zap.Logger) *HierarchyPoller {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &HierarchyPoller{base: newBase("hierarchy"), src: src, interval: interval, log: log.Named("watcher")}
}

// Start takes the first snapshot and starts polling.
func (w *HierarchyPoller) Start(ctx context.Context) error {
	ctx, err := w.begin(ctx)
	if err != nil {
		return err
	}
	prev, err := w.src.GetHierarchy(ctx)
	if err != nil {
		w.fail(err)
		w.cancel()
		close(w.done)
		return err
	}
	go w.loop(ctx, prev)
	return nil
}

func (w *HierarchyPoller) loop(ctx context.Context, prev *models.Folder) {
	defer close(w.done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			cur, err := w.src.GetHierarchy(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				w.log.Warn("hierarchy poll failed", zap.Error(err))
				continue
			}
			w.publish(ChangedFolders(prev, cur))
			prev = cur
		case <-ctx.Done():
			return
		}
	}
}

// ChangedFolders returns the change path of the containing folder of every
// element that was added, removed or re-versioned between two snapshots. A
// nil snapshot is an empty hierarchy.
func ChangedFolders(prev, cur *models.Folder) []string {
	if prev == nil {
		prev = models.NewFolder("")
	}
	if cur == nil {
		cur = models.NewFolder("")
	}
	if prev.Name() != cur.Name() {
		prev = rename(prev, cur.Name())
	}

	var out []string
	seen := make(map[string]bool)
	add := func(e models.Element) {
		p := "/"
		if parent := e.Parent(); parent != nil {
			p = FolderPath(parent.LocalPath())
		}
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	for _, diff := range []*models.Folder{tree.Except(cur, prev), tree.Except(prev, cur)} {
		for _, g := range diff.Leaves() {
			add(g)
		}
	}
	for _, pair := range [][2]*models.Folder{{cur, prev}, {prev, cur}} {
		for _, el := range pair[0].Unwrap() {
			if f, ok := el.(*models.Folder); ok && tree.FindFolder(pair[1], f.LocalPath()) == nil {
				add(f)
			}
		}
	}
	return out
}

func rename(f *models.Folder, name string) *models.Folder {
	out := models.NewFolder(name)
	for _, c := range f.Clone().Children() {
		out.Add(c)
	}
	return out
}
