// Package remote stores bookmarks on a bookmark server over HTTP.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/dgzargo/BookmarkStorage/internal/storage"
	"github.com/dgzargo/BookmarkStorage/pkg/client"
	"github.com/dgzargo/BookmarkStorage/pkg/models"
	"github.com/dgzargo/BookmarkStorage/pkg/protocol"
	"github.com/dgzargo/BookmarkStorage/pkg/tree"
)

// Config holds remote backend settings. Token wins over account
// credentials when both are set.
type Config struct {
	BaseURL  string `json:"base_url"`
	Root     string `json:"root"`
	Token    string `json:"token"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// Service implements storage.Service against a server sub-tree.
type Service struct {
	client *client.Client
	root   string
	log    *zap.Logger
}

var _ storage.Service = (*Service)(nil)

// New returns a backend for the server sub-tree at root. root must start
// with "/" and use "/" separators.
func New(c *client.Client, root string, log *zap.Logger) (*Service, error) {
	if !strings.HasPrefix(root, "/") || strings.Contains(root, `\`) {
		return nil, fmt.Errorf("%w: remote root %q must start with '/' and use '/' separators", tree.ErrMalformedPath, root)
	}
	clean, err := tree.CleanPath(root)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{client: c, root: "/" + clean, log: log.Named("remote")}, nil
}

// NewFromJSON creates a remote backend and its HTTP client from raw JSON.
func NewFromJSON(raw json.RawMessage, log *zap.Logger) (*Service, error) {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse remote config: %w", err)
	}
	if cfg.Root == "" {
		cfg.Root = "/"
	}
	c, err := client.New(client.Config{BaseURL: cfg.BaseURL, Logger: log})
	if err != nil {
		return nil, err
	}
	switch {
	case cfg.Token != "":
		c.SetTokenSource(client.StaticToken(cfg.Token))
	case cfg.Username != "":
		c.SetTokenSource(client.NewAccountTokens(c, cfg.Username, cfg.Password, nil))
	}
	return New(c, cfg.Root, log)
}

// Root returns the server sub-tree this backend is scoped to.
func (s *Service) Root() string { return s.root }

// Client returns the underlying HTTP client.
func (s *Service) Client() *client.Client { return s.client }

// Type returns "remote".
func (s *Service) Type() string { return "remote" }

// serverPath maps a local path to the server's namespace.
func (s *Service) serverPath(local string) string {
	return path.Join(s.root, local)
}

// GetHierarchy fetches and parses the sub-tree. The backend serves the
// content of every returned bookmark.
func (s *Service) GetHierarchy(ctx context.Context) (*models.Folder, error) {
	resp, err := s.client.Get(ctx, protocol.EndpointHierarchy, url.Values{protocol.QueryRoot: {s.root}})
	if err != nil {
		return nil, fmt.Errorf("fetch hierarchy: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("fetch hierarchy: %w", &client.StatusError{Code: resp.StatusCode})
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read hierarchy: %w", err)
	}
	return protocol.ParseHierarchy(data, s)
}

// Open downloads one file of a bookmark.
func (s *Service) Open(ctx context.Context, profile models.FileProfile) (io.ReadCloser, error) {
	endpoint := protocol.EndpointFiles + strings.TrimPrefix(s.serverPath(profile.FileName()), "/")
	resp, err := s.client.Get(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", profile.FileName(), err)
	}
	switch resp.StatusCode {
	case http.StatusOK:
		return resp.Body, nil
	case http.StatusNotFound:
		resp.Body.Close()
		return nil, fmt.Errorf("fetch %s: %w", profile.FileName(), fs.ErrNotExist)
	default:
		resp.Body.Close()
		return nil, fmt.Errorf("fetch %s: %w", profile.FileName(), &client.StatusError{Code: resp.StatusCode})
	}
}

// Find resolves path to a bookmark.
func (s *Service) Find(ctx context.Context, path string) (*models.FilesGroup, error) {
	return storage.Find(ctx, s, path)
}

// FindFolder resolves path to a folder.
func (s *Service) FindFolder(ctx context.Context, path string) (*models.Folder, error) {
	return storage.FindFolder(ctx, s, path)
}

// MakeFake builds a placeholder for path.
func (s *Service) MakeFake(path string) (*models.FakeFilesGroup, error) {
	return tree.MakeFake(path)
}

// accepted maps a response status to the boolean result of an operation.
func accepted(code int) bool {
	return code >= 200 && code < 300
}

// Save uploads every part of group in one multipart request. The server
// stamps the files with the group's version marker.
func (s *Service) Save(ctx context.Context, group *models.FilesGroup, mode storage.WriteMode) (bool, error) {
	local, err := tree.CleanPath(group.LocalPath())
	if err != nil {
		return false, err
	}
	if local == "" {
		return false, fmt.Errorf("%w: empty bookmark path", tree.ErrMalformedPath)
	}
	endpoint := protocol.EndpointCreate
	if mode == storage.Override {
		endpoint = protocol.EndpointUpdate
	}

	var parts []client.FilePart
	for _, f := range group.RelatedFiles() {
		parts = append(parts, client.FilePart{
			Extension: f.FileType.Extension(),
			FileName:  group.Name() + "." + f.FileType.Extension(),
			Open:      f.Open,
		})
	}
	fields := url.Values{
		protocol.FieldBookmarkPath: {s.serverPath(local)},
		protocol.FieldLastModified: {protocol.FormatTime(group.LastModified())},
	}
	code, err := s.client.PostMultipart(ctx, endpoint, fields, parts)
	if err != nil {
		return false, fmt.Errorf("save %s: %w", local, err)
	}
	return accepted(code), nil
}

// DeleteBookmark deletes every part of group.
func (s *Service) DeleteBookmark(ctx context.Context, group *models.FilesGroup) (bool, error) {
	local, err := tree.CleanPath(group.LocalPath())
	if err != nil {
		return false, err
	}
	return s.post(ctx, protocol.EndpointDeleteBookmark, url.Values{
		protocol.FieldBookmarkPath: {s.serverPath(local)},
	})
}

// DeleteDirectory deletes folder, recursively when withContentWithin is set.
func (s *Service) DeleteDirectory(ctx context.Context, folder *models.Folder, withContentWithin bool) (bool, error) {
	local, err := tree.CleanPath(folder.LocalPath())
	if err != nil {
		return false, err
	}
	return s.post(ctx, protocol.EndpointDeleteDirectory, url.Values{
		protocol.FieldDirectoryPath:     {s.serverPath(local)},
		protocol.FieldWithContentWithin: {strconv.FormatBool(withContentWithin)},
	})
}

// Clear asks the server to purge stray files below folder.
func (s *Service) Clear(ctx context.Context, folder *models.Folder) (bool, error) {
	local, err := tree.CleanPath(folder.LocalPath())
	if err != nil {
		return false, err
	}
	return s.post(ctx, protocol.EndpointClear, url.Values{
		protocol.FieldDirectoryPath: {s.serverPath(local)},
	})
}

// Move relocates a bookmark or folder on the server.
func (s *Service) Move(ctx context.Context, element models.Element, newPath string) (bool, error) {
	var isFolder bool
	switch element.(type) {
	case *models.FilesGroup:
	case *models.Folder:
		isFolder = true
	default:
		return false, fmt.Errorf("%w: cannot move %T", storage.ErrUnsupportedElement, element)
	}
	src, err := tree.CleanPath(element.LocalPath())
	if err != nil {
		return false, err
	}
	dst, err := tree.CleanPath(newPath)
	if err != nil {
		return false, err
	}
	if src == "" || dst == "" {
		return false, fmt.Errorf("%w: move needs a source and a destination", tree.ErrMalformedPath)
	}
	return s.post(ctx, protocol.EndpointMove, url.Values{
		protocol.FieldOriginalPath: {s.serverPath(src)},
		protocol.FieldNewPath:      {s.serverPath(dst)},
		protocol.FieldIsFolder:     {strconv.FormatBool(isFolder)},
	})
}

func (s *Service) post(ctx context.Context, endpoint string, fields url.Values) (bool, error) {
	code, err := s.client.PostForm(ctx, endpoint, fields)
	if err != nil {
		return false, fmt.Errorf("%s: %w", endpoint, err)
	}
	if !accepted(code) {
		s.log.Debug("server rejected request", zap.String("endpoint", endpoint), zap.Int("status", code))
	}
	return accepted(code), nil
}
