package tree

import (
	"fmt"

	"github.com/dgzargo/BookmarkStorage/pkg/models"
)

// Except returns the part of minuend that subtrahend does not have.
//
// Files groups match on name and version marker, folders on name alone.
// Folders present on both sides are diffed recursively and kept even when the
// difference is empty; folders only in minuend are copied whole. The result
// is a new detached tree named like minuend and the inputs are not modified.
//
// Except panics if the two folders have different names or if either tree
// contains placeholder elements.
func Except(minuend, subtrahend *models.Folder) *models.Folder {
	if minuend.Name() != subtrahend.Name() {
		panic(fmt.Sprintf("tree: except over different folders %q and %q", minuend.Name(), subtrahend.Name()))
	}
	out := models.NewFolder(minuend.Name())
	for _, child := range minuend.Children() {
		switch c := child.(type) {
		case *models.FilesGroup:
			if other := subtrahend.ChildGroup(c.Name()); other == nil || !c.SameVersion(other) {
				out.Add(c.Clone())
			}
		case *models.Folder:
			if other := subtrahend.ChildFolder(c.Name()); other != nil {
				out.Add(Except(c, other))
			} else {
				out.Add(c.Clone())
			}
		default:
			panic(fmt.Sprintf("tree: unexpected %T in hierarchy", child))
		}
	}
	return out
}

// Obsolete returns what target has that source does not: candidates for
// deletion from target.
func Obsolete(target, source *models.Folder) *models.Folder {
	return Except(target, source)
}

// New returns what source has that target does not: candidates for creation
// in target.
func New(source, target *models.Folder) *models.Folder {
	return Except(source, target)
}

// Paths returns the local paths of every files group in root, in
// depth-first order. A diff result keeps the local paths of the compared
// trees, so the paths apply to either side.
func Paths(root *models.Folder) []string {
	leaves := root.Leaves()
	out := make([]string, 0, len(leaves))
	for _, g := range leaves {
		out = append(out, g.LocalPath())
	}
	return out
}
