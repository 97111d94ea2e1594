//go:build linux

package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const testWindow = 100 * time.Millisecond

func startInotify(t *testing.T, root string) *InotifyWatcher {
	t.Helper()
	w, err := NewInotify(root, LocalOptions{Debounce: testWindow}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { w.Close() })
	return w
}

func TestInotifyRapidWritesNotifyOnce(t *testing.T) {
	root := t.TempDir()
	w := startInotify(t, root)
	ch := w.Subscribe()

	file := filepath.Join(root, "x.vbm")
	for i := 0; i < 3; i++ {
		if err := os.WriteFile(file, []byte{byte(i)}, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	c := expectChange(t, ch, 2*time.Second)
	if c.Path != "/" {
		t.Errorf("Path = %q, want /", c.Path)
	}
	expectQuiet(t, ch, 3*testWindow)
}

func TestInotifySubdirectories(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "a", "b"), 0o755); err != nil {
		t.Fatal(err)
	}
	w := startInotify(t, root)
	ch := w.Subscribe()

	if err := os.WriteFile(filepath.Join(root, "a", "b", "x.jpg"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if c := expectChange(t, ch, 2*time.Second); c.Path != "/a/b/" {
		t.Errorf("Path = %q, want /a/b/", c.Path)
	}

	// A directory created after Start is watched too.
	if err := os.Mkdir(filepath.Join(root, "new"), 0o755); err != nil {
		t.Fatal(err)
	}
	got := map[string]bool{}
	got[expectChange(t, ch, 2*time.Second).Path] = true
	got[expectChange(t, ch, 2*time.Second).Path] = true
	if !got["/"] || !got["/new/"] {
		t.Errorf("mkdir changes = %v, want / and /new/", got)
	}

	if err := os.WriteFile(filepath.Join(root, "new", "y.vbm"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if c := expectChange(t, ch, 2*time.Second); c.Path != "/new/" {
		t.Errorf("Path = %q, want /new/", c.Path)
	}
}

func TestInotifyClose(t *testing.T) {
	root := t.TempDir()
	w := startInotify(t, root)
	ch := w.Subscribe()
	if w.State() != Watching {
		t.Fatalf("State = %v, want watching", w.State())
	}

	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if w.State() != Cancelled {
		t.Errorf("State = %v, want cancelled", w.State())
	}
	if _, ok := <-ch; ok {
		t.Error("subscriber channel still open after Close")
	}
	if err := w.Start(context.Background()); err != ErrClosed {
		t.Errorf("Start after Close = %v, want ErrClosed", err)
	}
}

func TestInotifyRootRemoved(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "root")
	if err := os.Mkdir(root, 0o755); err != nil {
		t.Fatal(err)
	}
	w := startInotify(t, root)
	if err := os.Remove(root); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for w.State() != Failed && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if w.State() != Failed || w.Err() != errRootRemoved {
		t.Errorf("State = %v, Err = %v", w.State(), w.Err())
	}
}

func TestNewInotifyMissingRoot(t *testing.T) {
	w, err := NewInotify(filepath.Join(t.TempDir(), "missing"), LocalOptions{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Start(context.Background()); err == nil {
		t.Fatal("expected error for missing root")
	}
}
