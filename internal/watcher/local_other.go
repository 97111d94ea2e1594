//go:build !linux

package watcher

import "go.uber.org/zap"

// NewLocal watches the directory tree at root by polling.
func NewLocal(root string, opts LocalOptions, log *zap.Logger) (Watcher, error) {
	w, err := NewPoll(root, opts, log)
	if err != nil {
		return nil, err
	}
	return w, nil
}
