package models

import (
	"context"
	"fmt"
	"io"
)

// DataProvider supplies file content on demand.
type DataProvider interface {
	Open(ctx context.Context, profile FileProfile) (io.ReadCloser, error)
}

// ProviderFunc adapts a function to DataProvider.
type ProviderFunc func(ctx context.Context, profile FileProfile) (io.ReadCloser, error)

// Open calls fn.
func (fn ProviderFunc) Open(ctx context.Context, profile FileProfile) (io.ReadCloser, error) {
	return fn(ctx, profile)
}

// groupProvider reads the content of the same file type from another group,
// so a proxy written at a new path serves the bytes of its source.
type groupProvider struct {
	source *FilesGroup
}

func (p groupProvider) Open(ctx context.Context, profile FileProfile) (io.ReadCloser, error) {
	return p.source.Open(ctx, profile.FileType)
}

// StreamProvider serves content from in-memory readers keyed by file type.
type StreamProvider map[FileType]io.Reader

// Open returns the stream for the profile's file type.
func (p StreamProvider) Open(_ context.Context, profile FileProfile) (io.ReadCloser, error) {
	r, ok := p[profile.FileType]
	if !ok || r == nil {
		return nil, fmt.Errorf("no %s stream for %s", profile.FileType, profile.LocalPath)
	}
	if rc, ok := r.(io.ReadCloser); ok {
		return rc, nil
	}
	return io.NopCloser(r), nil
}
