// Package events provides the subscriber hub behind every change watcher.
package events

import (
	"sync"
	"time"

	"github.com/dgzargo/BookmarkStorage/internal/metrics"
)

// Change reports that something below Path changed. Path is "/"-prefixed and
// "/"-separated; directories end with "/" and the root is "/".
type Change struct {
	Path string    `json:"path"`
	Time time.Time `json:"time"`
}

// Broadcaster manages subscribers and publishes changes.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[chan Change]struct{}
	closed      bool
}

// NewBroadcaster creates a new change broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[chan Change]struct{}),
	}
}

// Subscribe adds a new subscriber and returns its channel.
// The caller must call Unsubscribe when done. After Close the returned
// channel is already closed.
func (b *Broadcaster) Subscribe() chan Change {
	ch := make(chan Change, 64)
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch
	}
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()
	metrics.AddWatchSubscribers(1)
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broadcaster) Unsubscribe(ch chan Change) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[ch]; !ok {
		return
	}
	delete(b.subscribers, ch)
	close(ch)
	metrics.AddWatchSubscribers(-1)
}

// Publish sends a change to all subscribers. Non-blocking: drops changes
// for slow consumers. Nothing is delivered after Close.
func (b *Broadcaster) Publish(c Change) {
	if c.Time.IsZero() {
		c.Time = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for ch := range b.subscribers {
		select {
		case ch <- c:
		default:
			// Drop change for slow consumer
		}
	}
}

// Count returns the current number of subscribers.
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close closes every subscriber channel. Later Publish calls are ignored.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.subscribers {
		close(ch)
		metrics.AddWatchSubscribers(-1)
	}
	b.subscribers = nil
}
