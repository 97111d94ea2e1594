package s3

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/dgzargo/BookmarkStorage/internal/storage"
	"github.com/dgzargo/BookmarkStorage/pkg/models"
	"github.com/dgzargo/BookmarkStorage/pkg/tree"
)

// newTestService connects to the endpoint in TEST_S3_ENDPOINT, e.g. a local
// MinIO, under a fresh prefix.
func newTestService(t *testing.T) *Service {
	t.Helper()
	endpoint := os.Getenv("TEST_S3_ENDPOINT")
	if endpoint == "" {
		t.Skip("TEST_S3_ENDPOINT not set")
	}
	bucket := os.Getenv("TEST_S3_BUCKET")
	if bucket == "" {
		bucket = "bookmarks-test"
	}
	s, err := New(context.Background(), Config{
		Endpoint:     endpoint,
		Bucket:       bucket,
		Prefix:       fmt.Sprintf("test-%d", time.Now().UnixNano()),
		AccessKey:    os.Getenv("TEST_S3_ACCESS_KEY"),
		SecretKey:    os.Getenv("TEST_S3_SECRET_KEY"),
		CreateBucket: true,
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		keys, _ := s.listKeys(context.Background(), s.keys.prefix)
		_ = s.deleteKeys(context.Background(), keys)
	})
	return s
}

func bookmark(t *testing.T, path, body string, ts time.Time) *models.FilesGroup {
	t.Helper()
	fake, err := tree.MakeFake(path)
	if err != nil {
		t.Fatal(err)
	}
	return models.NewProxyFromStreams(fake, map[models.FileType]io.Reader{
		models.BookmarkBody:  strings.NewReader(body),
		models.BookmarkImage: strings.NewReader("img"),
	}, ts)
}

func TestSaveAndHierarchy(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	ts := time.Date(2024, 3, 1, 10, 0, 5, 0, time.UTC)

	ok, err := s.Save(ctx, bookmark(t, "dir/one", "first", ts), storage.CreateNew)
	if err != nil || !ok {
		t.Fatalf("Save = %v, %v", ok, err)
	}
	ok, err = s.Save(ctx, bookmark(t, "dir/one", "again", ts), storage.CreateNew)
	if err != nil || ok {
		t.Fatalf("second CreateNew = %v, %v", ok, err)
	}

	root, err := s.GetHierarchy(ctx)
	if err != nil {
		t.Fatal(err)
	}
	g := tree.Find(root, "dir/one")
	if g == nil {
		t.Fatal("dir/one missing from hierarchy")
	}
	if !g.LastModified().Equal(ts) {
		t.Errorf("LastModified = %v, want %v", g.LastModified(), ts)
	}
	rc, err := g.Open(ctx, models.BookmarkBody)
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "first" {
		t.Errorf("body = %q", data)
	}
}

func TestMoveAndDelete(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	ts := time.Date(2024, 3, 1, 10, 0, 5, 0, time.UTC)
	if _, err := s.Save(ctx, bookmark(t, "a/x", "x", ts), storage.CreateNew); err != nil {
		t.Fatal(err)
	}
	g, err := s.Find(ctx, "a/x")
	if err != nil || g == nil {
		t.Fatalf("Find = %v, %v", g, err)
	}
	if ok, err := s.Move(ctx, g, "b/y"); err != nil || !ok {
		t.Fatalf("Move = %v, %v", ok, err)
	}
	folder, err := s.FindFolder(ctx, "b")
	if err != nil || folder == nil {
		t.Fatalf("FindFolder = %v, %v", folder, err)
	}
	if ok, err := s.DeleteDirectory(ctx, folder, false); err != nil || ok {
		t.Fatalf("non-recursive DeleteDirectory = %v, %v", ok, err)
	}
	if ok, err := s.DeleteDirectory(ctx, folder, true); err != nil || !ok {
		t.Fatalf("recursive DeleteDirectory = %v, %v", ok, err)
	}
	root, err := s.GetHierarchy(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n := tree.Count(root); n != 0 {
		t.Errorf("Count = %d, want 0", n)
	}
}
