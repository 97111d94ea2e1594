package watcher

import (
	"path/filepath"
	"testing"
	"time"
)

func TestDirPath(t *testing.T) {
	root := filepath.FromSlash("/data/bookmarks")
	tests := []struct {
		dir  string
		want string
		ok   bool
	}{
		{"/data/bookmarks", "/", true},
		{"/data/bookmarks/a", "/a/", true},
		{"/data/bookmarks/a/b", "/a/b/", true},
		{"/data", "", false},
		{"/data/bookmarks-other", "", false},
	}
	for _, tt := range tests {
		got, ok := DirPath(root, filepath.FromSlash(tt.dir))
		if got != tt.want || ok != tt.ok {
			t.Errorf("DirPath(%q) = %q, %v, want %q, %v", tt.dir, got, ok, tt.want, tt.ok)
		}
	}
}

func TestFolderPath(t *testing.T) {
	tests := map[string]string{
		"":     "/",
		"/":    "/",
		"a":    "/a/",
		"a/b":  "/a/b/",
		"/a/b": "/a/b/",
	}
	for in, want := range tests {
		if got := FolderPath(in); got != want {
			t.Errorf("FolderPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestWithin(t *testing.T) {
	tests := []struct {
		path, scope string
		want        string
		ok          bool
	}{
		{"/a/b/", "/", "/a/b/", true},
		{"/a/b/", "/a", "/b/", true},
		{"/a/", "/a/", "/", true},
		{"/ab/", "/a", "", false},
		{"/", "/a", "", false},
	}
	for _, tt := range tests {
		got, ok := Within(tt.path, tt.scope)
		if got != tt.want || ok != tt.ok {
			t.Errorf("Within(%q, %q) = %q, %v, want %q, %v", tt.path, tt.scope, got, ok, tt.want, tt.ok)
		}
	}
}

func TestStateString(t *testing.T) {
	for s, want := range map[State]string{Idle: "idle", Watching: "watching", Notifying: "notifying", Failed: "failed", Cancelled: "cancelled"} {
		if s.String() != want {
			t.Errorf("%d.String() = %q, want %q", s, s.String(), want)
		}
	}
}

// expectChange waits for one change on ch.
func expectChange(t *testing.T, ch chan Change, timeout time.Duration) Change {
	t.Helper()
	select {
	case c, ok := <-ch:
		if !ok {
			t.Fatal("channel closed")
		}
		return c
	case <-time.After(timeout):
		t.Fatal("timed out waiting for change")
	}
	return Change{}
}

// expectQuiet fails if a change arrives within d.
func expectQuiet(t *testing.T, ch chan Change, d time.Duration) {
	t.Helper()
	select {
	case c, ok := <-ch:
		if ok {
			t.Fatalf("unexpected change %q", c.Path)
		}
	case <-time.After(d):
	}
}
