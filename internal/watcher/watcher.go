// Package watcher reports changes to a bookmark hierarchy as a stream of
// changed directory paths.
//
// Every watcher implements Watcher. Paths are "/"-prefixed, "/"-separated and
// relative to the watched root; directories end with "/" and the root itself
// is "/", so a consumer can select a scope with strings.HasPrefix.
package watcher

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/dgzargo/BookmarkStorage/internal/events"
	"github.com/dgzargo/BookmarkStorage/internal/metrics"
)

// Change is one coalesced change notification.
type Change = events.Change

// State is the lifecycle state of a watcher.
type State int32

const (
	Idle State = iota
	Watching
	Notifying
	Failed
	Cancelled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Watching:
		return "watching"
	case Notifying:
		return "notifying"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// ErrClosed is returned by Start after Close.
var ErrClosed = errors.New("watcher: closed")

// ErrStarted is returned by a second Start.
var ErrStarted = errors.New("watcher: already started")

// Watcher is a change notification stream.
type Watcher interface {
	// Start begins watching in the background. It returns once watching
	// has been set up; the context bounds the background work.
	Start(ctx context.Context) error
	Subscribe() chan Change
	Unsubscribe(ch chan Change)
	State() State
	// Err reports why the watcher entered Failed.
	Err() error
	// Close stops watching and closes every subscriber channel.
	Close() error
}

// base carries the subscriber hub and lifecycle shared by all watchers.
type base struct {
	hub    *events.Broadcaster
	source string // metrics label

	state   atomic.Int32
	started atomic.Bool

	mu     sync.Mutex
	err    error
	cancel context.CancelFunc
	done   chan struct{}
}

func newBase(source string) base {
	return base{hub: events.NewBroadcaster(), source: source, done: make(chan struct{})}
}

func (b *base) Subscribe() chan Change     { return b.hub.Subscribe() }
func (b *base) Unsubscribe(ch chan Change) { b.hub.Unsubscribe(ch) }
func (b *base) State() State               { return State(b.state.Load()) }

func (b *base) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

func (b *base) setState(s State) {
	for {
		cur := b.state.Load()
		if State(cur) == Cancelled || (State(cur) == Failed && s != Cancelled) {
			return
		}
		if b.state.CompareAndSwap(cur, int32(s)) {
			return
		}
	}
}

func (b *base) fail(err error) {
	b.mu.Lock()
	if b.err == nil {
		b.err = err
	}
	b.mu.Unlock()
	b.setState(Failed)
}

// begin moves the watcher out of Idle and derives the background context.
func (b *base) begin(ctx context.Context) (context.Context, error) {
	if b.State() == Cancelled {
		return nil, ErrClosed
	}
	if !b.started.CompareAndSwap(false, true) {
		return nil, ErrStarted
	}
	ctx, cancel := context.WithCancel(ctx)
	b.mu.Lock()
	b.cancel = cancel
	b.mu.Unlock()
	b.setState(Watching)
	return ctx, nil
}

// publish delivers changes to subscribers, passing through Notifying.
func (b *base) publish(paths []string) {
	if len(paths) == 0 {
		return
	}
	b.setState(Notifying)
	for _, p := range paths {
		b.hub.Publish(Change{Path: p})
		metrics.RecordWatchNotification(b.source)
	}
	b.setState(Watching)
}

// Close cancels the background work, waits for it when it was started and
// closes every subscriber.
func (b *base) Close() error {
	b.setState(Cancelled)
	b.mu.Lock()
	cancel := b.cancel
	b.mu.Unlock()
	if cancel != nil {
		cancel()
		<-b.done
	}
	b.hub.Close()
	return nil
}

// DirPath converts a directory below root to its change path.
func DirPath(root, dir string) (string, bool) {
	rel, err := filepath.Rel(root, dir)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	if rel == "." {
		return "/", true
	}
	return "/" + filepath.ToSlash(rel) + "/", true
}

// FolderPath converts a local folder path of a hierarchy to its change path.
func FolderPath(local string) string {
	local = strings.Trim(local, "/")
	if local == "" {
		return "/"
	}
	return "/" + local + "/"
}

// Within reports whether change path p lies in scope, a "/"-prefixed root
// path, and returns p relative to it.
func Within(p, scope string) (string, bool) {
	scope = FolderPath(scope)
	if !strings.HasPrefix(p, scope) {
		return "", false
	}
	return "/" + strings.TrimPrefix(p, scope), true
}
