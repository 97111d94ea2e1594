// Package local stores bookmarks on the local filesystem. A bookmark N in
// folder P is the pair of files P/N.vbm and P/N.jpg.
package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	"github.com/dgzargo/BookmarkStorage/internal/storage"
	"github.com/dgzargo/BookmarkStorage/pkg/models"
	"github.com/dgzargo/BookmarkStorage/pkg/tree"
)

const tempPattern = ".bookmarks-*.tmp"

// Config holds local filesystem backend settings.
type Config struct {
	RootPath   string `json:"root_path"`
	CreateDirs bool   `json:"create_dirs"`
}

// Service implements storage.Service on a directory tree.
type Service struct {
	rootPath string
	log      *zap.Logger
}

var _ storage.Service = (*Service)(nil)

// New creates a local backend rooted at cfg.RootPath. The root may be
// missing unless CreateDirs is set, in which case it is created.
func New(cfg Config, log *zap.Logger) (*Service, error) {
	if cfg.RootPath == "" {
		return nil, fmt.Errorf("root_path is required")
	}
	root, err := filepath.Abs(cfg.RootPath)
	if err != nil {
		return nil, fmt.Errorf("resolve root path %s: %w", cfg.RootPath, err)
	}
	info, err := os.Stat(root)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if cfg.CreateDirs {
			if err := os.MkdirAll(root, 0o755); err != nil {
				return nil, fmt.Errorf("create root path %s: %w", root, err)
			}
		}
	case err != nil:
		return nil, fmt.Errorf("stat root path %s: %w", root, err)
	case !info.IsDir():
		return nil, fmt.Errorf("root path %s is not a directory", root)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{rootPath: root, log: log.Named("local")}, nil
}

// NewFromJSON creates a local backend from raw JSON config.
func NewFromJSON(raw json.RawMessage, log *zap.Logger) (*Service, error) {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse local config: %w", err)
	}
	return New(cfg, log)
}

// Root returns the absolute root directory.
func (s *Service) Root() string { return s.rootPath }

// Type returns "local".
func (s *Service) Type() string { return "local" }

func (s *Service) fullPath(localPath string) string {
	return filepath.Join(s.rootPath, filepath.FromSlash(localPath))
}

// GetHierarchy walks the root directory. Files that do not form a complete
// bookmark are skipped.
func (s *Service) GetHierarchy(ctx context.Context) (*models.Folder, error) {
	info, err := os.Stat(s.rootPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %s is not a directory", s.rootPath)
	}
	root := models.NewFolder("")
	if err := s.readDir(ctx, s.rootPath, root); err != nil {
		return nil, err
	}
	return root, nil
}

func (s *Service) readDir(ctx context.Context, dir string, folder *models.Folder) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read dir %s: %w", dir, err)
	}

	parts := make(map[string]map[models.FileType]fs.DirEntry)
	var subdirs []string
	for _, e := range entries {
		if e.IsDir() {
			subdirs = append(subdirs, e.Name())
			continue
		}
		if !e.Type().IsRegular() {
			continue
		}
		name, t, ok := models.SplitFileName(e.Name())
		if !ok {
			continue
		}
		if !models.ValidGroupName(name) {
			s.log.Warn("skipping file with unsupported bookmark name", zap.String("file", filepath.Join(dir, e.Name())))
			continue
		}
		if parts[name] == nil {
			parts[name] = make(map[models.FileType]fs.DirEntry)
		}
		parts[name][t] = e
	}

	names := make([]string, 0, len(parts))
	for name, p := range parts {
		if len(p) == len(models.BookmarkTypes()) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		info, err := parts[name][models.BookmarkBody].Info()
		if errors.Is(err, fs.ErrNotExist) {
			continue // removed while walking
		}
		if err != nil {
			return fmt.Errorf("stat %s: %w", name, err)
		}
		folder.Add(models.NewBookmark(name, info.ModTime(), s))
	}

	for _, name := range subdirs {
		sub := models.NewFolder(name)
		if err := s.readDir(ctx, filepath.Join(dir, name), sub); err != nil {
			return err
		}
		folder.Add(sub)
	}
	return nil
}

// Open reads one stored file. It makes Service the data provider of the
// bookmarks it lists.
func (s *Service) Open(_ context.Context, profile models.FileProfile) (io.ReadCloser, error) {
	f, err := os.Open(s.fullPath(profile.FileName()))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", profile.FileName(), err)
	}
	return f, nil
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

// Save writes every part of group. All destinations are checked against
// mode before anything is written, so a conflict leaves the store untouched.
// Each part is written to a temporary file, stamped with the version marker
// and renamed into place; the parts are not written atomically as a whole.
func (s *Service) Save(ctx context.Context, group *models.FilesGroup, mode storage.WriteMode) (bool, error) {
	if _, err := tree.MakeFake(group.LocalPath()); err != nil {
		return false, err
	}
	files := group.RelatedFiles()
	for _, f := range files {
		exists, err := fileExists(s.fullPath(f.FileName()))
		if err != nil {
			return false, err
		}
		if (mode == storage.CreateNew && exists) || (mode == storage.Override && !exists) {
			return false, nil
		}
	}

	var errs []error
	for _, f := range files {
		if err := s.writeFile(ctx, f); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return false, errors.Join(errs...)
	}
	return true, nil
}

func (s *Service) writeFile(ctx context.Context, f models.FileProfile) error {
	path := s.fullPath(f.FileName())
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dirs for %s: %w", f.FileName(), err)
	}

	src, err := f.Open(ctx)
	if err != nil {
		return fmt.Errorf("read source of %s: %w", f.FileName(), err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp(dir, tempPattern)
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", f.FileName(), err)
	}
	tmpName := tmp.Name()
	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", f.FileName(), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp for %s: %w", f.FileName(), err)
	}
	// Linux cannot set the birth time; the modification time is the marker.
	if err := os.Chtimes(tmpName, f.LastModified, f.LastModified); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("stamp %s: %w", f.FileName(), err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp to %s: %w", f.FileName(), err)
	}
	return nil
}

// DeleteBookmark removes every part of group, clearing read-only bits first.
// Missing parts are skipped; it returns false only when no part existed.
func (s *Service) DeleteBookmark(_ context.Context, group *models.FilesGroup) (bool, error) {
	if _, err := tree.MakeFake(group.LocalPath()); err != nil {
		return false, err
	}
	removed := 0
	for _, f := range group.RelatedFiles() {
		ok, err := removeFile(s.fullPath(f.FileName()))
		if err != nil {
			return false, err
		}
		if ok {
			removed++
		}
	}
	return removed > 0, nil
}

// DeleteDirectory removes folder. Without withContentWithin a non-empty
// directory is left in place and false is returned.
func (s *Service) DeleteDirectory(_ context.Context, folder *models.Folder, withContentWithin bool) (bool, error) {
	local, err := tree.CleanPath(folder.LocalPath())
	if err != nil {
		return false, err
	}
	if local == "" {
		return false, fmt.Errorf("%w: refusing to delete the storage root", tree.ErrMalformedPath)
	}
	path := s.fullPath(local)
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", local, err)
	}
	if !info.IsDir() {
		return false, nil
	}

	if !withContentWithin {
		entries, err := os.ReadDir(path)
		if err != nil {
			return false, fmt.Errorf("read dir %s: %w", local, err)
		}
		if len(entries) > 0 {
			return false, nil
		}
		if err := os.Remove(path); err != nil {
			return false, fmt.Errorf("delete %s: %w", local, err)
		}
		return true, nil
	}

	if err := makeTreeWritable(path); err != nil {
		return false, err
	}
	if err := os.RemoveAll(path); err != nil {
		return false, fmt.Errorf("delete %s: %w", local, err)
	}
	return true, nil
}

// Clear removes every file below folder that is not part of a bookmark in a
// fresh read of the hierarchy. Orphaned halves and leftover temporary files
// go away; directories are kept.
func (s *Service) Clear(ctx context.Context, folder *models.Folder) (bool, error) {
	local, err := tree.CleanPath(folder.LocalPath())
	if err != nil {
		return false, err
	}
	root, err := s.GetHierarchy(ctx)
	if err != nil {
		return false, err
	}
	fresh := tree.FindFolder(root, local)
	if fresh == nil {
		return true, nil
	}
	if err := s.clearDir(ctx, fresh); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) clearDir(ctx context.Context, folder *models.Folder) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	keep := make(map[string]bool)
	for _, g := range folder.Groups() {
		for _, f := range g.RelatedFiles() {
			keep[filepath.Base(s.fullPath(f.FileName()))] = true
		}
	}
	dir := s.fullPath(folder.LocalPath())
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read dir %s: %w", folder.LocalPath(), err)
	}
	for _, e := range entries {
		if e.IsDir() || keep[e.Name()] {
			continue
		}
		if _, err := removeFile(filepath.Join(dir, e.Name())); err != nil {
			return err
		}
		s.log.Debug("cleared stray file", zap.String("path", tree.BuildChildPath(folder.LocalPath(), e.Name())))
	}
	for _, sub := range folder.Folders() {
		if err := s.clearDir(ctx, sub); err != nil {
			return err
		}
	}
	return nil
}

// Move relocates element to newPath. A bookmark is copied to the new path
// and then deleted; a crash in between leaves it at both paths. A folder is
// renamed in one step.
func (s *Service) Move(ctx context.Context, element models.Element, newPath string) (bool, error) {
	dst, err := tree.CleanPath(newPath)
	if err != nil {
		return false, err
	}
	if dst == "" {
		return false, fmt.Errorf("%w: empty destination", tree.ErrMalformedPath)
	}

	switch el := element.(type) {
	case *models.FilesGroup:
		return s.moveBookmark(ctx, el, dst)
	case *models.Folder:
		return s.moveFolder(el, dst)
	default:
		return false, fmt.Errorf("%w: cannot move %T", storage.ErrUnsupportedElement, element)
	}
}

func (s *Service) moveBookmark(ctx context.Context, group *models.FilesGroup, dst string) (bool, error) {
	root, err := s.GetHierarchy(ctx)
	if err != nil {
		return false, err
	}
	if tree.FindElement(root, dst) != nil || tree.Find(root, group.LocalPath()) == nil {
		return false, nil
	}
	fake, err := tree.MakeFake(dst)
	if err != nil {
		return false, err
	}
	ok, err := s.Save(ctx, models.NewProxy(fake, group), storage.CreateNew)
	if !ok || err != nil {
		return false, err
	}
	ok, err = s.DeleteBookmark(ctx, group)
	if !ok || err != nil {
		s.log.Error("bookmark left at both paths after move",
			zap.String("from", group.LocalPath()), zap.String("to", dst), zap.Error(err))
		return false, err
	}
	return true, nil
}

func (s *Service) moveFolder(folder *models.Folder, dst string) (bool, error) {
	src, err := tree.CleanPath(folder.LocalPath())
	if err != nil {
		return false, err
	}
	if src == "" {
		return false, fmt.Errorf("%w: cannot move the storage root", tree.ErrMalformedPath)
	}
	if tree.Within(dst, src) {
		return false, fmt.Errorf("%w: cannot move %s into itself", tree.ErrMalformedPath, src)
	}
	srcPath, dstPath := s.fullPath(src), s.fullPath(dst)
	if info, err := os.Stat(srcPath); err != nil || !info.IsDir() {
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return false, fmt.Errorf("stat %s: %w", src, err)
		}
		return false, nil
	}
	exists, err := fileExists(dstPath)
	if err != nil || exists {
		return false, err
	}
	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return false, fmt.Errorf("create dirs for %s: %w", dst, err)
	}
	if err := os.Rename(srcPath, dstPath); err != nil {
		return false, fmt.Errorf("rename %s to %s: %w", src, dst, err)
	}
	return true, nil
}

func fileExists(path string) (bool, error) {
	_, err := os.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
	return true, nil
}

// removeFile deletes path, clearing a read-only bit first. It reports
// whether the file existed.
func removeFile(path string) (bool, error) {
	info, err := os.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.Mode().IsRegular() && info.Mode().Perm()&0o200 == 0 {
		if err := os.Chmod(path, info.Mode().Perm()|0o200); err != nil {
			return false, fmt.Errorf("clear read-only %s: %w", path, err)
		}
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("delete %s: %w", path, err)
	}
	return true, nil
}

func makeTreeWritable(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Mode().Perm()&0o200 == 0 {
			return os.Chmod(path, info.Mode().Perm()|0o200)
		}
		return nil
	})
}
