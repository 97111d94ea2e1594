package local

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dgzargo/BookmarkStorage/internal/storage"
	"github.com/dgzargo/BookmarkStorage/pkg/models"
	"github.com/dgzargo/BookmarkStorage/pkg/tree"
)

var t0 = time.Date(2024, 5, 1, 12, 30, 15, 0, time.UTC)

func newTestService(t *testing.T) (*Service, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := New(Config{RootPath: dir}, nil)
	if err != nil {
		t.Fatal(err)
	}
	return s, dir
}

func writeFile(t *testing.T, path, content string, mtime time.Time) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatal(err)
	}
}

func writeBookmark(t *testing.T, root, local string, mtime time.Time) {
	t.Helper()
	base := filepath.Join(root, filepath.FromSlash(local))
	writeFile(t, base+".vbm", "body of "+local, mtime)
	writeFile(t, base+".jpg", "image of "+local, mtime)
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func streams(body, image string, ts time.Time, path string) *models.FilesGroup {
	fake, err := tree.MakeFake(path)
	if err != nil {
		panic(err)
	}
	return models.NewProxyFromStreams(fake, map[models.FileType]io.Reader{
		models.BookmarkBody:  strings.NewReader(body),
		models.BookmarkImage: strings.NewReader(image),
	}, ts)
}

func TestNew(t *testing.T) {
	if _, err := New(Config{}, nil); err == nil {
		t.Error("expected error for empty root")
	}
	missing := filepath.Join(t.TempDir(), "a", "b")
	if _, err := New(Config{RootPath: missing, CreateDirs: true}, nil); err != nil {
		t.Fatal(err)
	}
	if info, err := os.Stat(missing); err != nil || !info.IsDir() {
		t.Error("CreateDirs should create the root")
	}
	if _, err := NewFromJSON([]byte(`{"root_path": "`+filepath.ToSlash(missing)+`"}`), nil); err != nil {
		t.Errorf("NewFromJSON: %v", err)
	}
}

func TestGetHierarchyMissingRoot(t *testing.T) {
	s, err := New(Config{RootPath: filepath.Join(t.TempDir(), "nope")}, nil)
	if err != nil {
		t.Fatal(err)
	}
	root, err := s.GetHierarchy(context.Background())
	if err != nil || root != nil {
		t.Errorf("GetHierarchy = %v, %v; want nil, nil", root, err)
	}
}

func TestGetHierarchy(t *testing.T) {
	s, dir := newTestService(t)
	writeBookmark(t, dir, "ex", t0.Add(900*time.Millisecond))
	writeBookmark(t, dir, "a/b/deep", t0)
	writeFile(t, filepath.Join(dir, "lonely.vbm"), "x", t0)
	writeFile(t, filepath.Join(dir, "a", "stray.jpg"), "x", t0)
	writeFile(t, filepath.Join(dir, "notes.txt"), "x", t0)
	os.MkdirAll(filepath.Join(dir, "empty"), 0o755)

	root, err := s.GetHierarchy(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	ex := tree.Find(root, "ex")
	if ex == nil || !ex.LastModified().Equal(t0) {
		t.Fatalf("ex = %v", ex)
	}
	if tree.Find(root, "a/b/deep") == nil {
		t.Error("a/b/deep missing")
	}
	if tree.Find(root, "lonely") != nil || tree.Find(root, "a/stray") != nil {
		t.Error("lone parts must not form bookmarks")
	}
	if tree.FindFolder(root, "empty") == nil {
		t.Error("empty folder missing")
	}
	if n := len(root.Leaves()); n != 2 {
		t.Errorf("got %d bookmarks, want 2", n)
	}

	rc, err := ex.Open(context.Background(), models.BookmarkImage)
	if err != nil {
		t.Fatal(err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "image of ex" {
		t.Errorf("Open = %q", data)
	}
}

func TestSaveCreateNew(t *testing.T) {
	s, dir := newTestService(t)
	ctx := context.Background()

	ok, err := s.Save(ctx, streams("b", "i", t0, "a/new"), storage.CreateNew)
	if err != nil || !ok {
		t.Fatalf("Save = %v, %v", ok, err)
	}
	if readFile(t, filepath.Join(dir, "a", "new.vbm")) != "b" {
		t.Error("body not written")
	}
	got, err := s.Find(ctx, "a/new")
	if err != nil || got == nil || !got.LastModified().Equal(t0) {
		t.Errorf("saved bookmark = %v, %v; want stamp %v", got, err, t0)
	}

	matches, _ := filepath.Glob(filepath.Join(dir, "a", ".bookmarks-*"))
	if len(matches) != 0 {
		t.Errorf("temp files left behind: %v", matches)
	}
}

func TestSaveCreateNewKeepsExisting(t *testing.T) {
	s, dir := newTestService(t)
	writeBookmark(t, dir, "ex", t0)

	ok, err := s.Save(context.Background(), streams("new body", "new image", t0.Add(time.Hour), "ex"), storage.CreateNew)
	if err != nil || ok {
		t.Fatalf("Save = %v, %v; want false, nil", ok, err)
	}
	if got := readFile(t, filepath.Join(dir, "ex.vbm")); got != "body of ex" {
		t.Errorf("existing body changed to %q", got)
	}
	if got := readFile(t, filepath.Join(dir, "ex.jpg")); got != "image of ex" {
		t.Errorf("existing image changed to %q", got)
	}
}

func TestSaveCreateNewPartialConflict(t *testing.T) {
	s, dir := newTestService(t)
	writeFile(t, filepath.Join(dir, "half.jpg"), "old", t0)

	ok, err := s.Save(context.Background(), streams("b", "i", t0, "half"), storage.CreateNew)
	if err != nil || ok {
		t.Fatalf("Save = %v, %v; want false, nil", ok, err)
	}
	if _, err := os.Stat(filepath.Join(dir, "half.vbm")); !os.IsNotExist(err) {
		t.Error("nothing may be written when one part conflicts")
	}
}

func TestSaveOverride(t *testing.T) {
	s, dir := newTestService(t)
	ctx := context.Background()

	ok, err := s.Save(ctx, streams("b", "i", t0, "missing"), storage.Override)
	if err != nil || ok {
		t.Errorf("Override of missing = %v, %v; want false, nil", ok, err)
	}

	writeBookmark(t, dir, "ex", t0)
	later := t0.Add(time.Hour)
	ok, err = s.Save(ctx, streams("b2", "i2", later, "ex"), storage.Override)
	if err != nil || !ok {
		t.Fatalf("Override = %v, %v", ok, err)
	}
	if readFile(t, filepath.Join(dir, "ex.vbm")) != "b2" {
		t.Error("body not replaced")
	}
	got, _ := s.Find(ctx, "ex")
	if got == nil || !got.LastModified().Equal(later) {
		t.Errorf("stamp = %v, want %v", got, later)
	}
}

func TestSaveMalformedPath(t *testing.T) {
	s, _ := newTestService(t)
	g := models.NewFolder("..", streams("b", "i", t0, "x")).ChildGroup("x")
	if _, err := s.Save(context.Background(), g, storage.CreateNew); !errors.Is(err, tree.ErrMalformedPath) {
		t.Errorf("err = %v, want ErrMalformedPath", err)
	}
}

func TestDeleteBookmark(t *testing.T) {
	s, dir := newTestService(t)
	ctx := context.Background()
	writeBookmark(t, dir, "a/ro", t0)
	os.Chmod(filepath.Join(dir, "a", "ro.vbm"), 0o444)

	g, err := s.Find(ctx, "a/ro")
	if err != nil || g == nil {
		t.Fatal("a/ro not found")
	}
	ok, err := s.DeleteBookmark(ctx, g)
	if err != nil || !ok {
		t.Fatalf("DeleteBookmark = %v, %v", ok, err)
	}
	for _, ext := range []string{"vbm", "jpg"} {
		if _, err := os.Stat(filepath.Join(dir, "a", "ro."+ext)); !os.IsNotExist(err) {
			t.Errorf("ro.%s still exists", ext)
		}
	}

	ok, err = s.DeleteBookmark(ctx, g)
	if err != nil || ok {
		t.Errorf("second delete = %v, %v; want false, nil", ok, err)
	}
}

func TestDeleteDirectory(t *testing.T) {
	s, dir := newTestService(t)
	ctx := context.Background()
	writeBookmark(t, dir, "full/x", t0)
	os.MkdirAll(filepath.Join(dir, "empty"), 0o755)

	full, _ := s.FindFolder(ctx, "full")
	ok, err := s.DeleteDirectory(ctx, full, false)
	if err != nil || ok {
		t.Errorf("non-recursive delete of non-empty = %v, %v; want false, nil", ok, err)
	}
	if _, err := os.Stat(filepath.Join(dir, "full", "x.vbm")); err != nil {
		t.Error("content must survive a refused delete")
	}

	ok, err = s.DeleteDirectory(ctx, full, true)
	if err != nil || !ok {
		t.Errorf("recursive delete = %v, %v", ok, err)
	}
	if _, err := os.Stat(filepath.Join(dir, "full")); !os.IsNotExist(err) {
		t.Error("full still exists")
	}

	empty, _ := s.FindFolder(ctx, "empty")
	if ok, err := s.DeleteDirectory(ctx, empty, false); err != nil || !ok {
		t.Errorf("delete of empty = %v, %v", ok, err)
	}
	if ok, err := s.DeleteDirectory(ctx, empty, false); err != nil || ok {
		t.Errorf("delete of missing = %v, %v; want false, nil", ok, err)
	}

	root, _ := s.GetHierarchy(ctx)
	if _, err := s.DeleteDirectory(ctx, root, true); !errors.Is(err, tree.ErrMalformedPath) {
		t.Errorf("deleting the root err = %v", err)
	}
}

func TestClearRemovesStrayFiles(t *testing.T) {
	s, dir := newTestService(t)
	ctx := context.Background()
	writeBookmark(t, dir, "ex", t0)
	writeFile(t, filepath.Join(dir, "stray.jpg"), "orphan", t0)
	writeFile(t, filepath.Join(dir, "sub", "half.vbm"), "orphan", t0)
	writeFile(t, filepath.Join(dir, "sub", ".bookmarks-1.tmp"), "partial", t0)
	writeBookmark(t, dir, "sub/keep", t0)

	root, err := s.GetHierarchy(ctx)
	if err != nil {
		t.Fatal(err)
	}
	ok, err := s.Clear(ctx, root)
	if err != nil || !ok {
		t.Fatalf("Clear = %v, %v", ok, err)
	}

	for _, gone := range []string{"stray.jpg", "sub/half.vbm", "sub/.bookmarks-1.tmp"} {
		if _, err := os.Stat(filepath.Join(dir, filepath.FromSlash(gone))); !os.IsNotExist(err) {
			t.Errorf("%s should be removed", gone)
		}
	}
	for _, kept := range []string{"ex.vbm", "ex.jpg", "sub/keep.vbm", "sub/keep.jpg"} {
		if _, err := os.Stat(filepath.Join(dir, filepath.FromSlash(kept))); err != nil {
			t.Errorf("%s should be kept", kept)
		}
	}
}

func TestUppercaseExtensionsAreNotBookmarks(t *testing.T) {
	s, dir := newTestService(t)
	ctx := context.Background()
	writeFile(t, filepath.Join(dir, "a.VBM"), "body", t0)
	writeFile(t, filepath.Join(dir, "a.JPG"), "image", t0)
	writeBookmark(t, dir, "b", t0)

	root, err := s.GetHierarchy(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got := len(root.Leaves()); got != 1 || root.ChildGroup("b") == nil {
		t.Fatalf("bookmarks = %d, want only b", got)
	}

	// Files outside the lowercase layout are strays and Clear may remove them,
	// but never the parts of a listed bookmark.
	if ok, err := s.Clear(ctx, root); err != nil || !ok {
		t.Fatalf("Clear = %v, %v", ok, err)
	}
	for _, kept := range []string{"b.vbm", "b.jpg"} {
		if _, err := os.Stat(filepath.Join(dir, kept)); err != nil {
			t.Errorf("%s should be kept", kept)
		}
	}
}

func TestAtSignNames(t *testing.T) {
	s, dir := newTestService(t)
	ctx := context.Background()
	writeBookmark(t, dir, "ok", t0)
	writeBookmark(t, dir, "me@home", t0)

	root, err := s.GetHierarchy(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got := len(root.Leaves()); got != 1 || root.ChildGroup("ok") == nil {
		t.Errorf("bookmarks = %d, want only ok", got)
	}

	if _, err := s.MakeFake("dir/you@work"); !errors.Is(err, tree.ErrMalformedPath) {
		t.Errorf("MakeFake err = %v, want ErrMalformedPath", err)
	}
}

func TestClearMissingFolder(t *testing.T) {
	s, _ := newTestService(t)
	ok, err := s.Clear(context.Background(), models.NewFolder("nowhere"))
	if err != nil || !ok {
		t.Errorf("Clear of missing folder = %v, %v", ok, err)
	}
}

func TestMoveBookmark(t *testing.T) {
	s, dir := newTestService(t)
	ctx := context.Background()
	writeBookmark(t, dir, "a/x", t0)
	writeBookmark(t, dir, "taken", t0)

	x, _ := s.Find(ctx, "a/x")
	ok, err := s.Move(ctx, x, "taken")
	if err != nil || ok {
		t.Errorf("move onto existing = %v, %v; want false, nil", ok, err)
	}
	if _, err := os.Stat(filepath.Join(dir, "a", "x.vbm")); err != nil {
		t.Error("source must survive a refused move")
	}

	ok, err = s.Move(ctx, x, "b/y")
	if err != nil || !ok {
		t.Fatalf("Move = %v, %v", ok, err)
	}
	moved, _ := s.Find(ctx, "b/y")
	if moved == nil || !moved.LastModified().Equal(t0) {
		t.Errorf("moved = %v", moved)
	}
	if readFile(t, filepath.Join(dir, "b", "y.vbm")) != "body of a/x" {
		t.Error("moved content differs")
	}
	if old, _ := s.Find(ctx, "a/x"); old != nil {
		t.Error("source still present")
	}
}

func TestMoveFolder(t *testing.T) {
	s, dir := newTestService(t)
	ctx := context.Background()
	writeBookmark(t, dir, "a/x", t0)
	writeBookmark(t, dir, "b/y", t0)

	a, _ := s.FindFolder(ctx, "a")
	if ok, err := s.Move(ctx, a, "b"); err != nil || ok {
		t.Errorf("move onto existing folder = %v, %v", ok, err)
	}
	for _, into := range []string{"a", "a/sub"} {
		if _, err := s.Move(ctx, a, into); !errors.Is(err, tree.ErrMalformedPath) {
			t.Errorf("move a into %s err = %v, want ErrMalformedPath", into, err)
		}
	}
	if g, _ := s.Find(ctx, "a/x"); g == nil {
		t.Fatal("a/x missing after refused move")
	}
	if ok, err := s.Move(ctx, a, "c/d"); err != nil || !ok {
		t.Fatalf("Move = %v, %v", ok, err)
	}
	if g, _ := s.Find(ctx, "c/d/x"); g == nil {
		t.Error("c/d/x missing after folder move")
	}
}

func TestMoveRejects(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	fake, _ := tree.MakeFake("x")
	if _, err := s.Move(ctx, fake, "y"); !errors.Is(err, storage.ErrUnsupportedElement) {
		t.Errorf("move fake err = %v", err)
	}
	if _, err := s.Move(ctx, models.NewFolder("a"), "../y"); !errors.Is(err, tree.ErrMalformedPath) {
		t.Errorf("move to .. err = %v", err)
	}
}
