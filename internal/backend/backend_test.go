package backend

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/dgzargo/BookmarkStorage/internal/watcher"
)

func TestNewLocal(t *testing.T) {
	raw, _ := json.Marshal(map[string]any{"root_path": t.TempDir()})
	b, err := New(context.Background(), "local", raw, Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	if b.Service.Type() != "local" {
		t.Errorf("Type() = %q", b.Service.Type())
	}
	if b.Watcher == nil || b.Watcher.State() != watcher.Idle {
		t.Errorf("watcher = %v", b.Watcher)
	}
}

func TestNewRemote(t *testing.T) {
	raw := json.RawMessage(`{"base_url":"http://127.0.0.1:1","root":"/music","token":"t"}`)
	b, err := New(context.Background(), "remote", raw, Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	if b.Service.Type() != "remote" {
		t.Errorf("Type() = %q", b.Service.Type())
	}
	if _, ok := b.Watcher.(*watcher.RemoteWatcher); !ok {
		t.Errorf("watcher is %T, want *watcher.RemoteWatcher", b.Watcher)
	}
}

func TestNewErrors(t *testing.T) {
	tests := []struct {
		name   string
		typ    string
		config string
	}{
		{"unknown type", "ftp", `{}`},
		{"bad json", "local", `{`},
		{"relative remote root", "remote", `{"base_url":"http://127.0.0.1:1","root":"music"}`},
		{"bad remote url", "remote", `{"base_url":"ftp://host"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(context.Background(), tt.typ, json.RawMessage(tt.config), Options{}); err == nil {
				t.Error("expected error")
			}
		})
	}
}
