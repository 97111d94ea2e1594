package models

import (
	"context"
	"io"
	"slices"
	"time"
)

// FilesGroup is a named group of files that share one version marker. A
// bookmark is a files group made of a body and an image.
//
// The byte content is read lazily through the group's DataProvider, which is
// fixed at construction.
type FilesGroup struct {
	node
	lastModified time.Time
	fileTypes    []FileType
	provider     DataProvider
}

// NewBookmark returns a detached bookmark whose content is served by provider.
// It panics if provider is nil.
func NewBookmark(name string, lastModified time.Time, provider DataProvider) *FilesGroup {
	return newGroup(name, lastModified, BookmarkTypes(), provider)
}

func newGroup(name string, lastModified time.Time, types []FileType, provider DataProvider) *FilesGroup {
	if provider == nil {
		panic("models: files group " + name + " requires a data provider")
	}
	return &FilesGroup{
		node:         node{name: name},
		lastModified: TruncateTime(lastModified),
		fileTypes:    slices.Clone(types),
		provider:     provider,
	}
}

// NewProxy returns a group placed where fake is, borrowing the file types,
// version marker and content of source. If fake has a parent, the proxy
// takes its place in that folder.
func NewProxy(fake *FakeFilesGroup, source *FilesGroup) *FilesGroup {
	g := newGroup(fake.name, source.lastModified, source.fileTypes, groupProvider{source})
	takePlace(fake, g)
	return g
}

// NewProxyFromStreams returns a group placed where fake is whose content is
// read from streams. Every stream is consumed at most once.
func NewProxyFromStreams(fake *FakeFilesGroup, streams map[FileType]io.Reader, lastModified time.Time) *FilesGroup {
	types := make([]FileType, 0, len(streams))
	for t := range streams {
		types = append(types, t)
	}
	slices.Sort(types)
	g := newGroup(fake.name, lastModified, types, StreamProvider(streams))
	takePlace(fake, g)
	return g
}

func takePlace(fake *FakeFilesGroup, g *FilesGroup) {
	if p := fake.parent; p != nil {
		if !p.replace(fake, g) {
			g.setParent(p)
		}
	}
}

// LastModified returns the version marker, UTC with whole-second resolution.
func (g *FilesGroup) LastModified() time.Time { return g.lastModified }

// FileTypes returns the parts of the group.
func (g *FilesGroup) FileTypes() []FileType { return slices.Clone(g.fileTypes) }

// IsBookmark reports whether the group has exactly the bookmark parts.
func (g *FilesGroup) IsBookmark() bool {
	return slices.Equal(g.fileTypes, BookmarkTypes())
}

// RelatedFiles returns one profile per file type.
func (g *FilesGroup) RelatedFiles() []FileProfile {
	path := g.LocalPath()
	out := make([]FileProfile, 0, len(g.fileTypes))
	for _, t := range g.fileTypes {
		out = append(out, FileProfile{
			LocalPath:    path,
			FileType:     t,
			LastModified: g.lastModified,
			provider:     g.provider,
		})
	}
	return out
}

// Open returns the content of one part of the group.
func (g *FilesGroup) Open(ctx context.Context, t FileType) (io.ReadCloser, error) {
	return g.provider.Open(ctx, FileProfile{
		LocalPath:    g.LocalPath(),
		FileType:     t,
		LastModified: g.lastModified,
		provider:     g.provider,
	})
}

// SameVersion reports whether g and other share name and version marker.
func (g *FilesGroup) SameVersion(other *FilesGroup) bool {
	return g.name == other.name && g.lastModified.Equal(other.lastModified)
}

// Clone returns a detached copy sharing the provider of g.
func (g *FilesGroup) Clone() *FilesGroup {
	return newGroup(g.name, g.lastModified, g.fileTypes, g.provider)
}

// FakeFilesGroup marks a destination path that may not exist yet. It carries
// no data.
type FakeFilesGroup struct {
	node
}

// NewFakeFilesGroup returns a detached placeholder.
func NewFakeFilesGroup(name string) *FakeFilesGroup {
	return &FakeFilesGroup{node: node{name: name}}
}

// FileProfile describes one file of a files group.
type FileProfile struct {
	LocalPath    string
	FileType     FileType
	LastModified time.Time

	provider DataProvider
}

// FileName returns the root-relative file path, "<local path>.<ext>".
func (p FileProfile) FileName() string {
	return p.LocalPath + "." + p.FileType.Extension()
}

// Open reads the file through the provider of the owning group.
func (p FileProfile) Open(ctx context.Context) (io.ReadCloser, error) {
	return p.provider.Open(ctx, p)
}

// TruncateTime normalizes a timestamp to a version marker.
func TruncateTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}
