package watcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dgzargo/BookmarkStorage/pkg/client"
	"github.com/dgzargo/BookmarkStorage/pkg/retry"
)

func newRemoteWatcher(t *testing.T, handler http.HandlerFunc) *RemoteWatcher {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := client.New(client.Config{BaseURL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	w := NewRemote(c, "/music", nil)
	w.SetRetry(retry.Config{InitialWait: 5 * time.Millisecond, MaxWait: 10 * time.Millisecond, Multiplier: 2})
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { w.Close() })
	return w
}

func TestRemoteWatcherPublishesPaths(t *testing.T) {
	var calls atomic.Int32
	ready := make(chan struct{})
	w := newRemoteWatcher(t, func(rw http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bookmarks/watch" || r.URL.Query().Get("root") != "/music" {
			http.NotFound(rw, r)
			return
		}
		<-ready
		switch calls.Add(1) {
		case 1:
			rw.WriteHeader(http.StatusNoContent)
		case 2:
			http.Error(rw, "boom", http.StatusInternalServerError)
		case 3:
			rw.Write([]byte("/rock/\n"))
		default:
			select {
			case <-r.Context().Done():
			case <-time.After(5 * time.Second):
			}
			rw.WriteHeader(http.StatusNoContent)
		}
	})
	ch := w.Subscribe()
	close(ready)

	if c := expectChange(t, ch, 2*time.Second); c.Path != "/rock/" {
		t.Errorf("Path = %q, want /rock/", c.Path)
	}
	if got := calls.Load(); got < 3 {
		t.Errorf("server saw %d polls, want at least 3", got)
	}
	if w.State() == Failed {
		t.Errorf("remote watcher failed: %v", w.Err())
	}
}

func TestRemoteWatcherCloseAbortsPoll(t *testing.T) {
	held := make(chan struct{})
	w := newRemoteWatcher(t, func(rw http.ResponseWriter, r *http.Request) {
		select {
		case held <- struct{}{}:
		default:
		}
		<-r.Context().Done()
	})
	ch := w.Subscribe()

	select {
	case <-held:
	case <-time.After(2 * time.Second):
		t.Fatal("poll never reached the server")
	}
	done := make(chan struct{})
	go func() {
		w.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not abort the in-flight poll")
	}
	if _, ok := <-ch; ok {
		t.Error("subscriber channel still open after Close")
	}
}
