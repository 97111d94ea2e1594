// Package backend builds a storage service together with the watcher that
// reports its changes.
package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dgzargo/BookmarkStorage/internal/storage"
	"github.com/dgzargo/BookmarkStorage/internal/storage/local"
	"github.com/dgzargo/BookmarkStorage/internal/storage/remote"
	s3backend "github.com/dgzargo/BookmarkStorage/internal/storage/s3"
	"github.com/dgzargo/BookmarkStorage/internal/watcher"
)

// Options tunes the watcher created for a backend.
type Options struct {
	Watch watcher.LocalOptions
	// PollInterval is the S3 hierarchy polling period (default: 30s).
	PollInterval time.Duration
	Logger       *zap.Logger
}

// Backend pairs a storage service with its change watcher. The watcher is
// not started.
type Backend struct {
	Service storage.Service
	Watcher watcher.Watcher
}

// Close releases the watcher.
func (b *Backend) Close() error {
	if b.Watcher == nil {
		return nil
	}
	return b.Watcher.Close()
}

// New creates a Backend from a backend type string and JSON config.
func New(ctx context.Context, backendType string, config json.RawMessage, opts Options) (*Backend, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 30 * time.Second
	}

	switch backendType {
	case "local":
		svc, err := local.NewFromJSON(config, log)
		if err != nil {
			return nil, err
		}
		w, err := watcher.NewLocal(svc.Root(), opts.Watch, log)
		if err != nil {
			return nil, err
		}
		return &Backend{Service: storage.Instrument(svc, log), Watcher: w}, nil
	case "remote":
		svc, err := remote.NewFromJSON(config, log)
		if err != nil {
			return nil, err
		}
		w := watcher.NewRemote(svc.Client(), svc.Root(), log)
		return &Backend{Service: storage.Instrument(svc, log), Watcher: w}, nil
	case "s3":
		svc, err := s3backend.NewFromJSON(ctx, config, log)
		if err != nil {
			return nil, err
		}
		w := watcher.NewHierarchyPoller(svc, opts.PollInterval, log)
		return &Backend{Service: storage.Instrument(svc, log), Watcher: w}, nil
	default:
		return nil, fmt.Errorf("unknown backend type: %s", backendType)
	}
}
