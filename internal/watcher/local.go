package watcher

import "time"

// LocalOptions tunes a local directory watcher.
type LocalOptions struct {
	// Debounce is the trailing quiet window of a burst.
	Debounce time.Duration
	// PollInterval is the scan period of the polling watcher.
	PollInterval time.Duration
}

func (o LocalOptions) withDefaults() LocalOptions {
	if o.Debounce <= 0 {
		o.Debounce = 500 * time.Millisecond
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 5 * time.Second
	}
	return o
}
