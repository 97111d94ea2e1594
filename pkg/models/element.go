// Package models contains the bookmark hierarchy types shared by every
// storage backend, the diff engine and the wire format.
package models

import "strings"

// Element is a node of a bookmark hierarchy. The set of implementations is
// closed: *Folder, *FilesGroup and *FakeFilesGroup.
type Element interface {
	Name() string
	Parent() *Folder
	// LocalPath is the root-relative, "/"-joined path of the element.
	LocalPath() string

	setParent(*Folder)
}

type node struct {
	name   string
	parent *Folder
}

func (n *node) Name() string { return n.name }
func (n *node) Parent() *Folder { return n.parent }
func (n *node) setParent(p *Folder) { n.parent = p }
func (n *node) LocalPath() string { return JoinPath(n.parent, n.name) }

// JoinPath builds the local path of an element called name placed in parent.
// Empty names (the synthetic root) contribute nothing.
func JoinPath(parent *Folder, name string) string {
	var parts []string
	if name != "" {
		parts = append(parts, name)
	}
	for f := parent; f != nil; f = f.parent {
		if f.name != "" {
			parts = append(parts, f.name)
		}
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, "/")
}
