package models

import (
	"fmt"
	"strings"
)

// FileType is one required part of a files group.
type FileType int

const (
	// BookmarkBody is the opaque body of a bookmark, stored as <name>.vbm.
	BookmarkBody FileType = iota + 1
	// BookmarkImage is the preview image of a bookmark, stored as <name>.jpg.
	BookmarkImage
)

// BookmarkTypes returns the parts every bookmark consists of.
func BookmarkTypes() []FileType {
	return []FileType{BookmarkBody, BookmarkImage}
}

// Extension returns the file extension without the leading dot.
func (t FileType) Extension() string {
	switch t {
	case BookmarkBody:
		return "vbm"
	case BookmarkImage:
		return "jpg"
	}
	panic(fmt.Sprintf("models: unknown file type %d", int(t)))
}

func (t FileType) String() string {
	switch t {
	case BookmarkBody:
		return "body"
	case BookmarkImage:
		return "image"
	}
	return fmt.Sprintf("FileType(%d)", int(t))
}

// ParseFileType maps an extension, with or without the leading dot, to its
// file type. Matching is case-sensitive: stored parts are always lowercase.
func ParseFileType(ext string) (FileType, error) {
	switch strings.TrimPrefix(ext, ".") {
	case "vbm":
		return BookmarkBody, nil
	case "jpg":
		return BookmarkImage, nil
	}
	return 0, fmt.Errorf("unknown file extension %q", ext)
}

// ValidGroupName reports whether name can be stored as a files group. The
// hierarchy wire format reserves '@' as the version separator.
func ValidGroupName(name string) bool {
	return name != "" && !strings.ContainsRune(name, '@')
}

// SplitFileName splits "name.ext" into the group name and its file type.
// ok is false when the extension is not one of the known types.
func SplitFileName(file string) (name string, t FileType, ok bool) {
	i := strings.LastIndexByte(file, '.')
	if i <= 0 {
		return "", 0, false
	}
	t, err := ParseFileType(file[i+1:])
	if err != nil {
		return "", 0, false
	}
	return file[:i], t, true
}
