// Package api provides the HTTP server and handlers of the bookmark server.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dgzargo/BookmarkStorage/internal/auth"
	"github.com/dgzargo/BookmarkStorage/internal/logging"
	"github.com/dgzargo/BookmarkStorage/internal/metrics"
	"github.com/dgzargo/BookmarkStorage/internal/storage"
	"github.com/dgzargo/BookmarkStorage/internal/watcher"
	"github.com/dgzargo/BookmarkStorage/pkg/models"
	"github.com/dgzargo/BookmarkStorage/pkg/protocol"
	"github.com/dgzargo/BookmarkStorage/pkg/tree"
)

const (
	defaultMaxUploadSize = 32 << 20
	defaultWatchMaxWait  = 55 * time.Second
)

// Options tunes a Server.
type Options struct {
	MaxUploadSize int64
	// WatchMaxWait bounds how long a watch request is held without a change.
	WatchMaxWait time.Duration
}

// Server is the HTTP server.
type Server struct {
	store   storage.Service
	watcher watcher.Watcher
	auth    *auth.Auth
	opts    Options
}

// NewServer creates a server over store. w may be nil, which disables the
// watch endpoint; a nil auth leaves every endpoint open.
func NewServer(store storage.Service, w watcher.Watcher, a *auth.Auth, opts Options) *Server {
	if opts.MaxUploadSize <= 0 {
		opts.MaxUploadSize = defaultMaxUploadSize
	}
	if opts.WatchMaxWait <= 0 {
		opts.WatchMaxWait = defaultWatchMaxWait
	}
	return &Server{store: store, watcher: w, auth: a, opts: opts}
}

// Handler returns the HTTP handler with auth, metrics and logging middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Public endpoints (no auth required)
	mux.HandleFunc("GET /"+protocol.EndpointHealth, s.handleHealth)
	if s.auth != nil {
		mux.HandleFunc("POST /"+protocol.EndpointGetToken, s.auth.HandleGetToken)
	}

	// Read endpoints
	mux.Handle("GET /"+protocol.EndpointHierarchy, s.protect(s.handleHierarchy))
	mux.Handle("GET /"+protocol.EndpointWatch, s.protect(s.handleWatch))
	mux.Handle("GET /"+protocol.EndpointFiles+"{path...}", s.protect(s.handleFile))

	// Write endpoints
	mux.Handle("POST /"+protocol.EndpointCreate, s.protect(s.handleSave(storage.CreateNew)))
	mux.Handle("POST /"+protocol.EndpointUpdate, s.protect(s.handleSave(storage.Override)))
	mux.Handle("POST /"+protocol.EndpointDeleteBookmark, s.protect(s.handleDeleteBookmark))
	mux.Handle("POST /"+protocol.EndpointDeleteDirectory, s.protect(s.handleDeleteDirectory))
	mux.Handle("POST /"+protocol.EndpointClear, s.protect(s.handleClear))
	mux.Handle("POST /"+protocol.EndpointMove, s.protect(s.handleMove))

	// Metrics read the matched pattern, so they sit directly on the mux.
	return logging.Middleware(metrics.Middleware(mux))
}

func (s *Server) protect(h http.HandlerFunc) http.Handler {
	if s.auth == nil {
		return h
	}
	return s.auth.Middleware(h)
}

// ─── Health ─────────────────────────────────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, map[string]string{"status": "ok", "backend": s.store.Type()})
}

// ─── Hierarchy ──────────────────────────────────────────────────────────────

func (s *Server) handleHierarchy(w http.ResponseWriter, r *http.Request) {
	root := r.URL.Query().Get(protocol.QueryRoot)
	folder, err := s.store.FindFolder(r.Context(), root)
	if err != nil {
		s.sendStorageError(w, r, err)
		return
	}
	if folder == nil {
		s.sendError(w, http.StatusNotFound, "root not found: "+root)
		return
	}
	data, err := protocol.MarshalHierarchy(folder)
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	name, t, ok := models.SplitFileName(r.PathValue("path"))
	if !ok {
		s.sendError(w, http.StatusNotFound, "not a bookmark file")
		return
	}
	g, err := s.store.Find(r.Context(), name)
	if err != nil {
		s.sendStorageError(w, r, err)
		return
	}
	if g == nil {
		s.sendError(w, http.StatusNotFound, "bookmark not found: "+name)
		return
	}
	rc, err := g.Open(r.Context(), t)
	if err != nil {
		s.sendStorageError(w, r, err)
		return
	}
	defer rc.Close()

	w.Header().Set(protocol.HeaderFileLastModified, protocol.FormatTime(g.LastModified()))
	w.Header().Set("Content-Type", contentType(t))
	if _, err := io.Copy(w, rc); err != nil {
		logging.WithContext(r.Context()).Warn("file download interrupted", zap.String("path", name), zap.Error(err))
	}
}

func contentType(t models.FileType) string {
	if t == models.BookmarkImage {
		return "image/jpeg"
	}
	return "application/octet-stream"
}

// ─── Writes ─────────────────────────────────────────────────────────────────

func (s *Server) handleSave(mode storage.WriteMode) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadSize)
		if err := r.ParseMultipartForm(s.opts.MaxUploadSize); err != nil {
			s.sendError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
			return
		}
		defer r.MultipartForm.RemoveAll()

		path := r.PostFormValue(protocol.FieldBookmarkPath)
		fake, err := tree.MakeFake(path)
		if err != nil {
			s.sendError(w, http.StatusBadRequest, err.Error())
			return
		}

		lastModified := models.TruncateTime(time.Now())
		if v := r.PostFormValue(protocol.FieldLastModified); v != "" {
			if lastModified, err = protocol.ParseTime(v); err != nil {
				s.sendError(w, http.StatusBadRequest, "invalid lastModified: "+err.Error())
				return
			}
		}

		streams, closeAll, err := openParts(r.MultipartForm)
		defer closeAll()
		if err != nil {
			s.sendError(w, http.StatusBadRequest, err.Error())
			return
		}

		group := models.NewProxyFromStreams(fake, streams, lastModified)
		ok, err := s.store.Save(r.Context(), group, mode)
		s.respond(w, r, ok, err)
	}
}

// openParts opens one file part per bookmark file type. The type comes from
// the part's Extension header, or else from the file name.
func openParts(form *multipart.Form) (map[models.FileType]io.Reader, func(), error) {
	streams := make(map[models.FileType]io.Reader)
	var files []multipart.File
	closeAll := func() {
		for _, f := range files {
			f.Close()
		}
	}
	for _, headers := range form.File {
		for _, fh := range headers {
			ext := fh.Header.Get(protocol.HeaderExtension)
			if ext == "" {
				ext = filepath.Ext(fh.Filename)
			}
			t, err := models.ParseFileType(strings.ToLower(ext))
			if err != nil {
				return nil, closeAll, err
			}
			if _, dup := streams[t]; dup {
				return nil, closeAll, fmt.Errorf("duplicate %s part", t.Extension())
			}
			f, err := fh.Open()
			if err != nil {
				return nil, closeAll, err
			}
			files = append(files, f)
			streams[t] = f
		}
	}
	if len(streams) != len(models.BookmarkTypes()) {
		return nil, closeAll, fmt.Errorf("a bookmark needs exactly one part of each type, got %d", len(streams))
	}
	return streams, closeAll, nil
}

func (s *Server) handleDeleteBookmark(w http.ResponseWriter, r *http.Request) {
	path := r.PostFormValue(protocol.FieldBookmarkPath)
	g, err := s.store.Find(r.Context(), path)
	if err != nil {
		s.sendStorageError(w, r, err)
		return
	}
	if g == nil {
		s.sendError(w, http.StatusBadRequest, "bookmark not found: "+path)
		return
	}
	ok, err := s.store.DeleteBookmark(r.Context(), g)
	s.respond(w, r, ok, err)
}

func (s *Server) handleDeleteDirectory(w http.ResponseWriter, r *http.Request) {
	folder, err := tree.MakeFakeFolder(r.PostFormValue(protocol.FieldDirectoryPath))
	if err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}
	recursive, err := formBool(r, protocol.FieldWithContentWithin)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}
	ok, err := s.store.DeleteDirectory(r.Context(), folder, recursive)
	s.respond(w, r, ok, err)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	folder, err := tree.MakeFakeFolder(r.PostFormValue(protocol.FieldDirectoryPath))
	if err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}
	ok, err := s.store.Clear(r.Context(), folder)
	s.respond(w, r, ok, err)
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	original := r.PostFormValue(protocol.FieldOriginalPath)
	newPath := r.PostFormValue(protocol.FieldNewPath)
	isFolder, err := formBool(r, protocol.FieldIsFolder)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	var element models.Element
	if isFolder {
		folder, err := tree.MakeFakeFolder(original)
		if err != nil {
			s.sendError(w, http.StatusBadRequest, err.Error())
			return
		}
		element = folder
	} else {
		g, err := s.store.Find(r.Context(), original)
		if err != nil {
			s.sendStorageError(w, r, err)
			return
		}
		if g == nil {
			s.sendError(w, http.StatusBadRequest, "bookmark not found: "+original)
			return
		}
		element = g
	}
	ok, err := s.store.Move(r.Context(), element, newPath)
	s.respond(w, r, ok, err)
}

func formBool(r *http.Request, key string) (bool, error) {
	v := r.PostFormValue(key)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %q", key, v)
	}
	return b, nil
}

// ─── Watch ──────────────────────────────────────────────────────────────────

// handleWatch holds the request until something below root changes and
// answers with the changed path relative to root. Without a change it
// answers 204 after WatchMaxWait.
func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	if s.watcher == nil {
		s.sendError(w, http.StatusNotImplemented, "watching is not available")
		return
	}
	root, err := tree.CleanPath(r.URL.Query().Get(protocol.QueryRoot))
	if err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}
	scope := watcher.FolderPath(root)

	ch := s.watcher.Subscribe()
	defer s.watcher.Unsubscribe(ch)
	metrics.AddPendingPolls(1)
	defer metrics.AddPendingPolls(-1)

	timer := time.NewTimer(s.opts.WatchMaxWait)
	defer timer.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-timer.C:
			w.WriteHeader(http.StatusNoContent)
			return
		case c, ok := <-ch:
			if !ok {
				s.sendError(w, http.StatusServiceUnavailable, "watcher stopped")
				return
			}
			if rel, ok := watcher.Within(c.Path, scope); ok {
				w.Header().Set("Content-Type", "text/plain; charset=utf-8")
				w.Write([]byte(rel))
				return
			}
		}
	}
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// respond maps a storage result to a status: 200 for true, 400 for false or
// a bad argument, 500 for a backend failure.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, ok bool, err error) {
	switch {
	case err != nil:
		s.sendStorageError(w, r, err)
	case !ok:
		s.sendError(w, http.StatusBadRequest, "operation rejected")
	default:
		sendJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func (s *Server) sendStorageError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, tree.ErrMalformedPath) || errors.Is(err, storage.ErrUnsupportedElement) {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}
	logging.WithContext(r.Context()).Error("storage operation failed", zap.String("path", r.URL.Path), zap.Error(err))
	s.sendError(w, http.StatusInternalServerError, err.Error())
}

func sendJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) sendError(w http.ResponseWriter, code int, message string) {
	sendJSON(w, code, protocol.ErrorResponse{
		Error: message,
		Code:  code,
	})
}
