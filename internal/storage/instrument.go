package storage

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/dgzargo/BookmarkStorage/internal/metrics"
	"github.com/dgzargo/BookmarkStorage/pkg/models"
)

// instrumented logs and records metrics for every mutating call.
type instrumented struct {
	Service
	log *zap.Logger
}

// Instrument wraps s with debug logging and Prometheus metrics.
func Instrument(s Service, log *zap.Logger) Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &instrumented{Service: s, log: log.With(zap.String("backend", s.Type()))}
}

func (s *instrumented) observe(op, path string, start time.Time, ok bool, err error) {
	metrics.RecordStorageOperation(s.Type(), op, start, ok, err)
	fields := []zap.Field{zap.String("op", op), zap.String("path", path), zap.Bool("ok", ok), zap.Duration("duration", time.Since(start))}
	if err != nil {
		s.log.Warn("storage operation failed", append(fields, zap.Error(err))...)
		return
	}
	s.log.Debug("storage operation", fields...)
}

func (s *instrumented) GetHierarchy(ctx context.Context) (*models.Folder, error) {
	start := time.Now()
	root, err := s.Service.GetHierarchy(ctx)
	metrics.RecordStorageOperation(s.Type(), "hierarchy", start, root != nil, err)
	return root, err
}

func (s *instrumented) Save(ctx context.Context, group *models.FilesGroup, mode WriteMode) (bool, error) {
	start := time.Now()
	ok, err := s.Service.Save(ctx, group, mode)
	s.observe("save_"+mode.String(), group.LocalPath(), start, ok, err)
	return ok, err
}

func (s *instrumented) DeleteBookmark(ctx context.Context, group *models.FilesGroup) (bool, error) {
	start := time.Now()
	ok, err := s.Service.DeleteBookmark(ctx, group)
	s.observe("delete_bookmark", group.LocalPath(), start, ok, err)
	return ok, err
}

func (s *instrumented) DeleteDirectory(ctx context.Context, folder *models.Folder, withContentWithin bool) (bool, error) {
	start := time.Now()
	ok, err := s.Service.DeleteDirectory(ctx, folder, withContentWithin)
	s.observe("delete_directory", folder.LocalPath(), start, ok, err)
	return ok, err
}

func (s *instrumented) Clear(ctx context.Context, folder *models.Folder) (bool, error) {
	start := time.Now()
	ok, err := s.Service.Clear(ctx, folder)
	s.observe("clear", folder.LocalPath(), start, ok, err)
	return ok, err
}

func (s *instrumented) Move(ctx context.Context, element models.Element, newPath string) (bool, error) {
	start := time.Now()
	ok, err := s.Service.Move(ctx, element, newPath)
	s.observe("move", element.LocalPath()+" -> "+newPath, start, ok, err)
	return ok, err
}

// Unwrap returns the wrapped service.
func (s *instrumented) Unwrap() Service { return s.Service }
