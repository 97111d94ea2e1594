// Package client provides the HTTP transport used to talk to a bookmark
// server: authenticated requests, retrying reads, form and multipart posts,
// and long-poll requests.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dgzargo/BookmarkStorage/pkg/protocol"
	"github.com/dgzargo/BookmarkStorage/pkg/retry"
)

// Config holds client configuration.
type Config struct {
	BaseURL     string
	Timeout     time.Duration
	RetryConfig retry.Config
	Tokens      TokenSource
	Logger      *zap.Logger
}

// Client talks to a bookmark server.
type Client struct {
	baseURL     *url.URL
	httpClient  *http.Client
	pollClient  *http.Client
	retryConfig retry.Config
	log         *zap.Logger

	mu     sync.RWMutex
	tokens TokenSource
	online bool
}

// New creates a client for the server at cfg.BaseURL.
func New(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url %q must be http or https", cfg.BaseURL)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryConfig.MaxAttempts == 0 {
		cfg.RetryConfig = retry.DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	return &Client{
		baseURL:     base,
		httpClient:  &http.Client{Timeout: cfg.Timeout, Transport: transport},
		pollClient:  &http.Client{Transport: transport}, // long polls are bounded by ctx
		retryConfig: cfg.RetryConfig,
		log:         cfg.Logger.Named("client"),
		tokens:      cfg.Tokens,
		online:      true,
	}, nil
}

// BaseURL returns the server base URL with a trailing slash.
func (c *Client) BaseURL() string { return c.baseURL.String() }

// SetTokenSource replaces the source of bearer tokens.
func (c *Client) SetTokenSource(ts TokenSource) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens = ts
}

func (c *Client) tokenSource() TokenSource {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tokens
}

// IsOnline reports whether the last request reached the server.
func (c *Client) IsOnline() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.online
}

func (c *Client) setOnline(online bool) {
	c.mu.Lock()
	changed := c.online != online
	c.online = online
	c.mu.Unlock()
	if !changed {
		return
	}
	if online {
		c.log.Info("server is back online", zap.String("server", c.baseURL.String()))
	} else {
		c.log.Error("server is offline", zap.String("server", c.baseURL.String()))
	}
}

// URL resolves endpoint against the base URL.
func (c *Client) URL(endpoint string, query url.Values) string {
	u := c.baseURL.JoinPath(endpoint)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// StatusError is returned for responses the caller cannot treat as an
// answer: server errors and authentication failures.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.Code)
	}
	return fmt.Sprintf("server returned %d: %s", e.Code, e.Message)
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}

func statusError(resp *http.Response) *StatusError {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &StatusError{Code: resp.StatusCode, Message: strings.TrimSpace(string(data))}
}

func (c *Client) authorize(ctx context.Context, req *http.Request) error {
	ts := c.tokenSource()
	if ts == nil {
		return nil
	}
	token, err := ts.Token(ctx)
	if err != nil {
		return fmt.Errorf("get token: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return nil
}

// send performs one request. A 401 invalidates the token; when replay is
// set the request is rebuilt and sent once more with a fresh token.
func (c *Client) send(ctx context.Context, hc *http.Client, replay bool, build func(context.Context) (*http.Request, error)) (*http.Response, error) {
	for attempt := 0; ; attempt++ {
		req, err := build(ctx)
		if err != nil {
			return nil, err
		}
		if err := c.authorize(ctx, req); err != nil {
			return nil, err
		}
		resp, err := hc.Do(req)
		if err != nil {
			if ctx.Err() == nil {
				c.setOnline(false)
			}
			return nil, err
		}
		c.setOnline(true)

		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			if ts := c.tokenSource(); ts != nil {
				ts.Invalidate()
				if replay && attempt == 0 {
					resp.Body.Close()
					continue
				}
			}
			defer resp.Body.Close()
			return nil, statusError(resp)
		}
		return resp, nil
	}
}

// Get issues a GET and retries transport failures and server errors. The
// response is returned for every status below 500; the caller closes it.
func (c *Client) Get(ctx context.Context, endpoint string, query url.Values) (*http.Response, error) {
	target := c.URL(endpoint, query)
	return retry.DoWithResult(ctx, c.retryConfig, func() (*http.Response, error) {
		resp, err := c.send(ctx, c.httpClient, true, func(ctx context.Context) (*http.Request, error) {
			return http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		})
		if err != nil {
			if StatusCode(err) != 0 || ctx.Err() != nil {
				return nil, err
			}
			return nil, retry.Retryable(err)
		}
		if resp.StatusCode >= 500 {
			defer resp.Body.Close()
			return nil, retry.Retryable(statusError(resp))
		}
		return resp, nil
	})
}

// LongPoll issues a single GET without a client timeout. It returns as soon
// as ctx is cancelled.
func (c *Client) LongPoll(ctx context.Context, endpoint string, query url.Values) (*http.Response, error) {
	target := c.URL(endpoint, query)
	resp, err := c.send(ctx, c.pollClient, true, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 500 {
		defer resp.Body.Close()
		return nil, statusError(resp)
	}
	return resp, nil
}

// PostForm posts url-encoded fields and returns the response status. Server
// errors are returned as *StatusError.
func (c *Client) PostForm(ctx context.Context, endpoint string, fields url.Values) (int, error) {
	target := c.URL(endpoint, nil)
	body := fields.Encode()
	resp, err := c.send(ctx, c.httpClient, true, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	})
	if err != nil {
		return 0, err
	}
	return c.finish(resp)
}

// FilePart is one file of a multipart upload.
type FilePart struct {
	Extension string
	FileName  string
	Open      func(ctx context.Context) (io.ReadCloser, error)
}

// PostMultipart streams fields and files as multipart/form-data and returns
// the response status. The request body is not replayable, so a rejected
// token is invalidated but the request is not retried.
func (c *Client) PostMultipart(ctx context.Context, endpoint string, fields url.Values, files []FilePart) (int, error) {
	target := c.URL(endpoint, nil)
	resp, err := c.send(ctx, c.httpClient, false, func(ctx context.Context) (*http.Request, error) {
		pr, pw := io.Pipe()
		mw := multipart.NewWriter(pw)
		go func() {
			pw.CloseWithError(writeMultipart(ctx, mw, fields, files))
		}()
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, pr)
		if err != nil {
			pr.Close()
			return nil, err
		}
		req.Header.Set("Content-Type", mw.FormDataContentType())
		return req, nil
	})
	if err != nil {
		return 0, err
	}
	return c.finish(resp)
}

func writeMultipart(ctx context.Context, mw *multipart.Writer, fields url.Values, files []FilePart) error {
	for key, values := range fields {
		for _, v := range values {
			if err := mw.WriteField(key, v); err != nil {
				return err
			}
		}
	}
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, protocol.FieldFile, f.FileName))
		h.Set("Content-Type", "application/octet-stream")
		h.Set(protocol.HeaderExtension, f.Extension)
		w, err := mw.CreatePart(h)
		if err != nil {
			return err
		}
		rc, err := f.Open(ctx)
		if err != nil {
			return fmt.Errorf("open %s: %w", f.FileName, err)
		}
		_, err = io.Copy(w, rc)
		rc.Close()
		if err != nil {
			return fmt.Errorf("upload %s: %w", f.FileName, err)
		}
	}
	return mw.Close()
}

func (c *Client) finish(resp *http.Response) (int, error) {
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return resp.StatusCode, statusError(resp)
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return resp.StatusCode, nil
}

// Ping checks that the server is reachable.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL(protocol.EndpointHealth, nil), nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.setOnline(false)
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.setOnline(false)
		return statusError(resp)
	}
	c.setOnline(true)
	return nil
}
