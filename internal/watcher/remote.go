package watcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/dgzargo/BookmarkStorage/pkg/client"
	"github.com/dgzargo/BookmarkStorage/pkg/protocol"
	"github.com/dgzargo/BookmarkStorage/pkg/retry"
)

// RemoteWatcher long-polls the watch endpoint of a bookmark server. Each
// response carries one changed path, which is published as is before the
// next request goes out. Errors are retried with backoff for as long as the
// watcher runs, so it never enters Failed.
type RemoteWatcher struct {
	base
	client *client.Client
	root   string
	retry  retry.Config
	log    *zap.Logger
}

// NewRemote creates a watcher for root, a "/"-prefixed path on the server.
func NewRemote(c *client.Client, root string, log *zap.Logger) *RemoteWatcher {
	if log == nil {
		log = zap.NewNop()
	}
	if root == "" {
		root = "/"
	}
	return &RemoteWatcher{
		base:   newBase("remote"),
		client: c,
		root:   root,
		retry:  retry.ForeverConfig(),
		log:    log.Named("watcher"),
	}
}

// SetRetry replaces the backoff used between failed polls. It must be called
// before Start.
func (w *RemoteWatcher) SetRetry(cfg retry.Config) { w.retry = cfg }

// Start launches the poll loop.
func (w *RemoteWatcher) Start(ctx context.Context) error {
	ctx, err := w.begin(ctx)
	if err != nil {
		return err
	}
	w.log.Info("watching remote", zap.String("server", w.client.BaseURL()), zap.String("root", w.root))
	go w.loop(ctx)
	return nil
}

func (w *RemoteWatcher) loop(ctx context.Context) {
	defer close(w.done)

	backoff := retry.NewBackoff(w.retry)
	for ctx.Err() == nil {
		path, err := w.poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.log.Warn("watch request failed", zap.String("root", w.root), zap.Error(err))
			if backoff.Wait(ctx) != nil {
				return
			}
			continue
		}
		backoff.Reset()
		if path != "" {
			w.publish([]string{path})
		}
	}
}

// poll issues one long-poll request. An empty path means the server gave up
// waiting without a change.
func (w *RemoteWatcher) poll(ctx context.Context) (string, error) {
	resp, err := w.client.LongPoll(ctx, protocol.EndpointWatch, url.Values{protocol.QueryRoot: {w.root}})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		data, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		if err != nil {
			return "", fmt.Errorf("read watch response: %w", err)
		}
		path := strings.TrimSpace(string(data))
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		return path, nil
	case http.StatusNoContent:
		return "", nil
	default:
		io.Copy(io.Discard, resp.Body)
		return "", &client.StatusError{Code: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}
}
