// Package protocol defines the HTTP surface shared by the bookmark server and
// the remote storage backend.
package protocol

import "time"

// Endpoints, relative to the server base URL.
const (
	EndpointGetToken        = "account/get-token"
	EndpointHierarchy       = "bookmarks/hierarchy"
	EndpointCreate          = "bookmarks/create"
	EndpointUpdate          = "bookmarks/update"
	EndpointDeleteBookmark  = "bookmarks/delete-bookmark"
	EndpointDeleteDirectory = "bookmarks/delete-directory"
	EndpointClear           = "bookmarks/clear"
	EndpointMove            = "bookmarks/move"
	EndpointWatch           = "bookmarks/watch"
	// EndpointFiles is followed by "<bookmark path>.<extension>".
	EndpointFiles  = "files/"
	EndpointHealth = "health"
)

// Query parameters and form fields.
const (
	QueryRoot = "root"

	FieldUsername          = "username"
	FieldPassword          = "password"
	FieldBookmarkPath      = "bookmarkPath"
	FieldLastModified      = "lastModified"
	FieldDirectoryPath     = "directoryPath"
	FieldWithContentWithin = "withContentWithin"
	FieldOriginalPath      = "originalPath"
	FieldNewPath           = "newPath"
	FieldIsFolder          = "isFolder"
	// FieldFile is the form name of every file part of a multipart upload.
	FieldFile = "files"
)

// Headers.
const (
	// HeaderExtension tags a multipart file part with its file extension.
	HeaderExtension = "Extension"
	// HeaderFileLastModified carries the version marker of a fetched file.
	HeaderFileLastModified = "File-Last-Modified"
)

// ErrorResponse is returned on API errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Details string `json:"details,omitempty"`
}

// FormatTime renders a version marker for the wire.
func FormatTime(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(time.RFC3339)
}

// ParseTime parses an ISO-8601 timestamp and normalizes it to a version
// marker.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC().Truncate(time.Second), nil
}
