package watcher

import (
	"context"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/dgzargo/BookmarkStorage/pkg/models"
)

var (
	v0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	v1 = v0.Add(time.Hour)
)

func bm(name string, ts time.Time) *models.FilesGroup {
	return models.NewBookmark(name, ts, models.ProviderFunc(nil))
}

func TestChangedFolders(t *testing.T) {
	prev := models.NewFolder("",
		models.NewFolder("a", bm("x", v0), bm("same", v0)),
		models.NewFolder("gone", models.NewFolder("deep")),
		bm("top", v0),
	)
	cur := models.NewFolder("",
		models.NewFolder("a", bm("x", v1), bm("same", v0)),
		models.NewFolder("fresh"),
		bm("top", v0),
	)
	got := ChangedFolders(prev, cur)
	want := []string{"/a/", "/", "/gone/"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ChangedFolders = %v, want %v", got, want)
	}

	if got := ChangedFolders(cur, cur); len(got) != 0 {
		t.Errorf("identical snapshots reported %v", got)
	}
	if got := ChangedFolders(nil, models.NewFolder("", models.NewFolder("n", bm("b", v0)))); !reflect.DeepEqual(got, []string{"/n/", "/"}) {
		t.Errorf("from nil = %v", got)
	}
}

type fakeSource struct {
	mu   sync.Mutex
	root *models.Folder
}

func (s *fakeSource) set(root *models.Folder) {
	s.mu.Lock()
	s.root = root
	s.mu.Unlock()
}

func (s *fakeSource) GetHierarchy(context.Context) (*models.Folder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.root.Clone(), nil
}

func TestHierarchyPoller(t *testing.T) {
	src := &fakeSource{root: models.NewFolder("")}
	w := NewHierarchyPoller(src, 20*time.Millisecond, nil)
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	ch := w.Subscribe()

	src.set(models.NewFolder("", models.NewFolder("docs", bm("readme", v0))))
	if c := expectChange(t, ch, 2*time.Second); c.Path != "/docs/" {
		t.Errorf("Path = %q, want /docs/", c.Path)
	}
}
