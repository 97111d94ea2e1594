package s3

import (
	"sort"
	"strings"
	"time"

	"github.com/dgzargo/BookmarkStorage/pkg/models"
	"github.com/dgzargo/BookmarkStorage/pkg/tree"
)

// keyspace maps local paths to object keys below an optional prefix.
type keyspace struct {
	prefix string // "" or ends with "/"
}

func newKeyspace(prefix string) keyspace {
	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return keyspace{prefix: prefix}
}

func (k keyspace) fileKey(profile models.FileProfile) string {
	return k.prefix + profile.FileName()
}

// dirPrefix is the key prefix of everything below a folder. The root folder
// maps to the bare prefix.
func (k keyspace) dirPrefix(local string) string {
	if local == "" {
		return k.prefix
	}
	return k.prefix + local + "/"
}

// local strips the prefix from key. ok is false for keys outside it.
func (k keyspace) local(key string) (string, bool) {
	if !strings.HasPrefix(key, k.prefix) {
		return "", false
	}
	return strings.TrimPrefix(key, k.prefix), true
}

// listing is the result of indexing the keys below a prefix.
type listing struct {
	folders   []string // local folder paths
	bookmarks []string // local bookmark paths with both parts present
}

// indexKeys groups object keys into folders and complete bookmarks. Folders
// come from key prefixes and from zero-byte marker keys ending in "/".
func (k keyspace) indexKeys(keys []string) listing {
	folders := make(map[string]bool)
	parts := make(map[string]map[models.FileType]bool)

	addParents := func(local string) {
		for dir := parentOf(local); dir != ""; dir = parentOf(dir) {
			folders[dir] = true
		}
	}

	for _, key := range keys {
		local, ok := k.local(key)
		if !ok || local == "" {
			continue
		}
		if strings.HasSuffix(local, "/") {
			dir := strings.TrimSuffix(local, "/")
			if _, err := tree.MakeFakeFolder(dir); err != nil || dir == "" {
				continue
			}
			folders[dir] = true
			addParents(dir)
			continue
		}
		addParents(local)
		dir, file := parentOf(local), baseOf(local)
		name, t, ok := models.SplitFileName(file)
		if !ok || !models.ValidGroupName(name) {
			continue
		}
		bm := tree.BuildChildPath(dir, name)
		if parts[bm] == nil {
			parts[bm] = make(map[models.FileType]bool)
		}
		parts[bm][t] = true
	}

	var out listing
	for dir := range folders {
		out.folders = append(out.folders, dir)
	}
	for bm, p := range parts {
		if len(p) == len(models.BookmarkTypes()) {
			out.bookmarks = append(out.bookmarks, bm)
		}
	}
	sort.Strings(out.folders)
	sort.Strings(out.bookmarks)
	return out
}

// assemble builds a hierarchy from indexed folders and bookmark versions.
func assemble(l listing, versions map[string]time.Time, provider models.DataProvider) *models.Folder {
	root := models.NewFolder("")
	dirs := map[string]*models.Folder{"": root}
	var ensure func(string) *models.Folder
	ensure = func(local string) *models.Folder {
		if f, ok := dirs[local]; ok {
			return f
		}
		parent := ensure(parentOf(local))
		f := models.NewFolder(baseOf(local))
		parent.Add(f)
		dirs[local] = f
		return f
	}
	for _, bm := range l.bookmarks {
		ts, ok := versions[bm]
		if !ok {
			continue
		}
		ensure(parentOf(bm)).Add(models.NewBookmark(baseOf(bm), ts, provider))
	}
	for _, dir := range l.folders {
		ensure(dir)
	}
	return root
}

func parentOf(local string) string {
	if i := strings.LastIndexByte(local, '/'); i >= 0 {
		return local[:i]
	}
	return ""
}

func baseOf(local string) string {
	return local[strings.LastIndexByte(local, '/')+1:]
}
