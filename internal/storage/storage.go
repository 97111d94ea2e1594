// Package storage defines the bookmark storage contract shared by the local
// filesystem, remote HTTP and S3 backends.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgzargo/BookmarkStorage/pkg/models"
	"github.com/dgzargo/BookmarkStorage/pkg/tree"
)

// WriteMode selects how Save treats existing files.
type WriteMode int

const (
	// CreateNew fails when any destination file exists.
	CreateNew WriteMode = iota
	// Override fails when any destination file is missing.
	Override
)

func (m WriteMode) String() string {
	switch m {
	case CreateNew:
		return "create"
	case Override:
		return "override"
	}
	return fmt.Sprintf("WriteMode(%d)", int(m))
}

// ErrUnsupportedElement is returned when an operation is given an element
// kind it cannot act on.
var ErrUnsupportedElement = errors.New("unsupported element")

// Service is a bookmark store.
//
// Mutating operations report expected conflicts (destination exists, source
// missing, directory not empty) as false with a nil error. Malformed paths,
// unsupported elements and I/O or transport failures are returned as errors.
//
// A Service keeps no hierarchy between calls: every read reflects the
// backing store.
type Service interface {
	// GetHierarchy reads the whole tree. It returns nil, nil when the root
	// does not exist.
	GetHierarchy(ctx context.Context) (*models.Folder, error)
	Find(ctx context.Context, path string) (*models.FilesGroup, error)
	FindFolder(ctx context.Context, path string) (*models.Folder, error)
	MakeFake(path string) (*models.FakeFilesGroup, error)

	Save(ctx context.Context, group *models.FilesGroup, mode WriteMode) (bool, error)
	DeleteBookmark(ctx context.Context, group *models.FilesGroup) (bool, error)
	DeleteDirectory(ctx context.Context, folder *models.Folder, withContentWithin bool) (bool, error)
	// Clear deletes every stored file below folder that does not belong to a
	// bookmark registered in the fresh hierarchy.
	Clear(ctx context.Context, folder *models.Folder) (bool, error)
	Move(ctx context.Context, element models.Element, newPath string) (bool, error)

	// Type returns the backend identifier ("local", "remote", "s3").
	Type() string
}

// HierarchySource is the read side of a Service.
type HierarchySource interface {
	GetHierarchy(ctx context.Context) (*models.Folder, error)
}

// Find resolves a files group against a fresh hierarchy from src.
func Find(ctx context.Context, src HierarchySource, path string) (*models.FilesGroup, error) {
	if _, err := tree.ValidatePath(path); err != nil {
		return nil, err
	}
	root, err := src.GetHierarchy(ctx)
	if err != nil || root == nil {
		return nil, err
	}
	return tree.Find(root, path), nil
}

// FindFolder resolves a folder against a fresh hierarchy from src.
func FindFolder(ctx context.Context, src HierarchySource, path string) (*models.Folder, error) {
	if _, err := tree.ValidatePath(path); err != nil {
		return nil, err
	}
	root, err := src.GetHierarchy(ctx)
	if err != nil || root == nil {
		return nil, err
	}
	return tree.FindFolder(root, path), nil
}

// FindElement resolves any element against a fresh hierarchy from src.
func FindElement(ctx context.Context, src HierarchySource, path string) (models.Element, error) {
	if _, err := tree.ValidatePath(path); err != nil {
		return nil, err
	}
	root, err := src.GetHierarchy(ctx)
	if err != nil || root == nil {
		return nil, err
	}
	return tree.FindElement(root, path), nil
}
