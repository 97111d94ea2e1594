package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dgzargo/BookmarkStorage/pkg/models"
)

// ErrInvalidHierarchy is returned for documents that are not a valid
// hierarchy encoding.
var ErrInvalidHierarchy = errors.New("invalid hierarchy")

// MarshalHierarchy encodes the children of root as a JSON array. Bookmarks
// become "<name>@<timestamp>" strings and folders single-key objects.
func MarshalHierarchy(root *models.Folder) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeFolder(&buf, root); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeFolder(buf *bytes.Buffer, dir *models.Folder) error {
	buf.WriteByte('[')
	for i, child := range dir.Children() {
		if i > 0 {
			buf.WriteByte(',')
		}
		switch c := child.(type) {
		case *models.FilesGroup:
			if strings.Contains(c.Name(), "@") {
				return fmt.Errorf("%w: bookmark name %q contains '@'", ErrInvalidHierarchy, c.Name())
			}
			s, _ := json.Marshal(c.Name() + "@" + FormatTime(c.LastModified()))
			buf.Write(s)
		case *models.Folder:
			key, _ := json.Marshal(c.Name())
			buf.WriteByte('{')
			buf.Write(key)
			buf.WriteByte(':')
			if err := writeFolder(buf, c); err != nil {
				return err
			}
			buf.WriteByte('}')
		default:
			return fmt.Errorf("%w: cannot encode %T", ErrInvalidHierarchy, child)
		}
	}
	buf.WriteByte(']')
	return nil
}

// ParseHierarchy decodes a hierarchy document into a root folder with an
// empty name. Every bookmark reads its content through provider.
func ParseHierarchy(data []byte, provider models.DataProvider) (*models.Folder, error) {
	root := models.NewFolder("")
	if err := parseInto(root, data, provider); err != nil {
		return nil, err
	}
	return root, nil
}

func parseInto(dir *models.Folder, data []byte, provider models.DataProvider) error {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidHierarchy, err)
	}
	for _, item := range items {
		item = bytes.TrimSpace(item)
		if len(item) == 0 {
			return fmt.Errorf("%w: empty item", ErrInvalidHierarchy)
		}
		switch item[0] {
		case '"':
			var s string
			if err := json.Unmarshal(item, &s); err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidHierarchy, err)
			}
			g, err := parseBookmark(s, provider)
			if err != nil {
				return err
			}
			dir.Add(g)
		case '{':
			var obj map[string]json.RawMessage
			if err := json.Unmarshal(item, &obj); err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidHierarchy, err)
			}
			if len(obj) != 1 {
				return fmt.Errorf("%w: folder object with %d keys", ErrInvalidHierarchy, len(obj))
			}
			for name, children := range obj {
				sub := models.NewFolder(name)
				if err := parseInto(sub, children, provider); err != nil {
					return err
				}
				dir.Add(sub)
			}
		default:
			return fmt.Errorf("%w: unexpected item %s", ErrInvalidHierarchy, item)
		}
	}
	return nil
}

func parseBookmark(s string, provider models.DataProvider) (*models.FilesGroup, error) {
	name, ts, ok := strings.Cut(s, "@")
	if !ok || strings.Contains(ts, "@") {
		return nil, fmt.Errorf("%w: bookmark %q must contain exactly one '@'", ErrInvalidHierarchy, s)
	}
	if name == "" {
		return nil, fmt.Errorf("%w: bookmark %q has no name", ErrInvalidHierarchy, s)
	}
	t, err := ParseTime(ts)
	if err != nil {
		return nil, fmt.Errorf("%w: bookmark %q: %v", ErrInvalidHierarchy, s, err)
	}
	return models.NewBookmark(name, t, provider), nil
}
