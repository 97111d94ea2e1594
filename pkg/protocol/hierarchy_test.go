package protocol

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/dgzargo/BookmarkStorage/pkg/models"
	"github.com/dgzargo/BookmarkStorage/pkg/tree"
)

var noData = models.ProviderFunc(func(context.Context, models.FileProfile) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("")), nil
})

func TestParseHierarchy(t *testing.T) {
	doc := `["ex@2024-03-01T10:00:05Z", {"a": ["x@2024-03-01T10:00:06.9Z", {"b": []}]}]`
	root, err := ParseHierarchy([]byte(doc), noData)
	if err != nil {
		t.Fatal(err)
	}
	if root.Name() != "" || root.Len() != 2 {
		t.Fatalf("root = %q with %d children", root.Name(), root.Len())
	}
	x := tree.Find(root, "a/x")
	if x == nil {
		t.Fatal("a/x not found")
	}
	want := time.Date(2024, 3, 1, 10, 0, 6, 0, time.UTC)
	if !x.LastModified().Equal(want) {
		t.Errorf("a/x timestamp = %v, want %v", x.LastModified(), want)
	}
	if tree.FindFolder(root, "a/b") == nil {
		t.Error("empty folder a/b missing")
	}
}

func TestParseHierarchyRejects(t *testing.T) {
	tests := []string{
		`["noseparator"]`,
		`["a@b@2024-03-01T10:00:05Z"]`,
		`["@2024-03-01T10:00:05Z"]`,
		`["x@yesterday"]`,
		`[{"a": [], "b": []}]`,
		`[{}]`,
		`[42]`,
		`{"a": []}`,
		`not json`,
	}
	for _, doc := range tests {
		if _, err := ParseHierarchy([]byte(doc), noData); !errors.Is(err, ErrInvalidHierarchy) {
			t.Errorf("ParseHierarchy(%s) err = %v, want ErrInvalidHierarchy", doc, err)
		}
	}
}

func TestHierarchyRoundTrip(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	root := models.NewFolder("",
		models.NewBookmark("top", t0, noData),
		models.NewFolder("a",
			models.NewBookmark("x", t0.Add(time.Second), noData),
			models.NewFolder("b", models.NewBookmark("y", t0.Add(time.Hour), noData)),
			models.NewFolder("empty"),
		),
		models.NewFolder(`quote"d`, models.NewBookmark("<html>&", t0, noData)),
	)

	data, err := MarshalHierarchy(root)
	if err != nil {
		t.Fatal(err)
	}
	back, err := ParseHierarchy(data, noData)
	if err != nil {
		t.Fatalf("parse %s: %v", data, err)
	}

	want := tree.Flatten(root)
	got := tree.Flatten(back)
	if len(got) != len(want) {
		t.Fatalf("round trip has %d bookmarks, want %d", len(got), len(want))
	}
	for path, g := range want {
		other, ok := got[path]
		if !ok || !other.LastModified().Equal(g.LastModified()) {
			t.Errorf("%s lost in round trip", path)
		}
	}
	if tree.Count(back) != tree.Count(root) {
		t.Errorf("Count = %d, want %d", tree.Count(back), tree.Count(root))
	}
}

func TestMarshalRejectsAtInName(t *testing.T) {
	root := models.NewFolder("", models.NewBookmark("a@b", time.Now(), noData))
	if _, err := MarshalHierarchy(root); !errors.Is(err, ErrInvalidHierarchy) {
		t.Errorf("err = %v, want ErrInvalidHierarchy", err)
	}
}

func TestMarshalFormat(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 10, 0, 5, 0, time.UTC)
	root := models.NewFolder("", models.NewBookmark("ex", t0, noData), models.NewFolder("a"))
	data, err := MarshalHierarchy(root)
	if err != nil {
		t.Fatal(err)
	}
	if got := string(data); got != `["ex@2024-03-01T10:00:05Z",{"a":[]}]` {
		t.Errorf("MarshalHierarchy = %s", got)
	}
}
