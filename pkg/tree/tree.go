// Package tree provides path resolution and diffing over bookmark hierarchies.
package tree

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/dgzargo/BookmarkStorage/pkg/models"
)

// ErrMalformedPath is returned for paths that cannot name an element.
var ErrMalformedPath = errors.New("malformed path")

// SplitPath splits path on "/" and the OS separator, dropping empty and
// whitespace-only fragments.
func SplitPath(path string) []string {
	fields := strings.FieldsFunc(path, func(r rune) bool {
		return r == '/' || r == os.PathSeparator
	})
	out := fields[:0]
	for _, f := range fields {
		if strings.TrimSpace(f) != "" {
			out = append(out, f)
		}
	}
	return out
}

// ValidatePath splits path and rejects relative fragments. An empty result
// is allowed and denotes the root.
func ValidatePath(path string) ([]string, error) {
	parts := SplitPath(path)
	for _, p := range parts {
		if p == "." || p == ".." {
			return nil, fmt.Errorf("%w: %q", ErrMalformedPath, path)
		}
	}
	return parts, nil
}

// CleanPath returns the canonical "/"-joined form of path.
func CleanPath(path string) (string, error) {
	parts, err := ValidatePath(path)
	if err != nil {
		return "", err
	}
	return strings.Join(parts, "/"), nil
}

// Find resolves path to a files group below root. It returns nil when any
// fragment is missing or the path names no files group.
func Find(root *models.Folder, path string) *models.FilesGroup {
	parts := SplitPath(path)
	if root == nil || len(parts) == 0 {
		return nil
	}
	dir := descend(root, parts[:len(parts)-1])
	if dir == nil {
		return nil
	}
	return dir.ChildGroup(parts[len(parts)-1])
}

// FindFolder resolves path to a folder below root. An empty path is root.
func FindFolder(root *models.Folder, path string) *models.Folder {
	if root == nil {
		return nil
	}
	return descend(root, SplitPath(path))
}

// FindElement resolves path to any element below root.
func FindElement(root *models.Folder, path string) models.Element {
	parts := SplitPath(path)
	if root == nil {
		return nil
	}
	if len(parts) == 0 {
		return root
	}
	dir := descend(root, parts[:len(parts)-1])
	if dir == nil {
		return nil
	}
	return dir.Child(parts[len(parts)-1])
}

func descend(dir *models.Folder, parts []string) *models.Folder {
	for _, p := range parts {
		if dir = dir.ChildFolder(p); dir == nil {
			return nil
		}
	}
	return dir
}

// MakeFake builds a synthetic folder chain for path ending in a placeholder
// named after the last fragment. Nothing is looked up.
func MakeFake(path string) (*models.FakeFilesGroup, error) {
	parts, err := ValidatePath(path)
	if err != nil {
		return nil, err
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: empty bookmark path", ErrMalformedPath)
	}
	if name := parts[len(parts)-1]; !models.ValidGroupName(name) {
		return nil, fmt.Errorf("%w: bookmark name %q contains '@'", ErrMalformedPath, name)
	}
	dir := models.NewFolder("")
	for _, p := range parts[:len(parts)-1] {
		sub := models.NewFolder(p)
		dir.Add(sub)
		dir = sub
	}
	fake := models.NewFakeFilesGroup(parts[len(parts)-1])
	dir.Add(fake)
	return fake, nil
}

// Within reports whether the clean path p is dir itself or lies below it.
func Within(p, dir string) bool {
	return dir == "" || p == dir || strings.HasPrefix(p, dir+"/")
}

// MakeFakeFolder builds a synthetic folder chain for path and returns its
// last folder.
func MakeFakeFolder(path string) (*models.Folder, error) {
	parts, err := ValidatePath(path)
	if err != nil {
		return nil, err
	}
	dir := models.NewFolder("")
	for _, p := range parts {
		sub := models.NewFolder(p)
		dir.Add(sub)
		dir = sub
	}
	return dir, nil
}

// Count returns the number of elements below root.
func Count(root *models.Folder) int {
	if root == nil {
		return 0
	}
	return len(root.Unwrap())
}

// Flatten returns every files group below root keyed by local path.
func Flatten(root *models.Folder) map[string]*models.FilesGroup {
	result := make(map[string]*models.FilesGroup)
	if root == nil {
		return result
	}
	for _, g := range root.Leaves() {
		result[g.LocalPath()] = g
	}
	return result
}

// BuildChildPath joins a parent local path and a child name.
func BuildChildPath(parentPath, name string) string {
	if parentPath == "" {
		return name
	}
	return parentPath + "/" + name
}
