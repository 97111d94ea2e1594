package watcher

import (
	"context"
	"time"
)

// Debouncer coalesces bursts of paths. Each Push restarts a trailing timer;
// when the timer fires the distinct paths of the burst are flushed in
// first-seen order. A sustained stream of pushes delays the flush until the
// stream pauses for a full window.
//
// Push is meant for a single producer goroutine. Run must be running for
// Push to make progress.
type Debouncer struct {
	window time.Duration
	in     chan string
	flush  func([]string)
}

// NewDebouncer creates a debouncer that hands every burst to flush. flush
// runs on the Run goroutine.
func NewDebouncer(window time.Duration, flush func([]string)) *Debouncer {
	if window <= 0 {
		window = 500 * time.Millisecond
	}
	return &Debouncer{window: window, in: make(chan string, 256), flush: flush}
}

// Push adds a path to the current burst. It returns false when ctx is done.
func (d *Debouncer) Push(ctx context.Context, path string) bool {
	select {
	case d.in <- path:
		return true
	case <-ctx.Done():
		return false
	}
}

// Run drives the idle, collecting and flush cycle until ctx is done. A burst
// still collecting at cancellation is dropped.
func (d *Debouncer) Run(ctx context.Context) {
	timer := time.NewTimer(d.window)
	timer.Stop()
	defer timer.Stop()

	var (
		pending []string
		seen    = make(map[string]bool)
		fire    <-chan time.Time // nil while idle
	)
	for {
		select {
		case <-ctx.Done():
			return
		case p := <-d.in:
			if !seen[p] {
				seen[p] = true
				pending = append(pending, p)
			}
			timer.Reset(d.window)
			fire = timer.C
		case <-fire:
			fire = nil
			batch := pending
			pending = nil
			clear(seen)
			d.flush(batch)
		}
	}
}
