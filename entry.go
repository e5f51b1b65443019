// Package randomfile holds the catalog types shared by the random file service.
package randomfile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// FileTypes is the set of content types recorded against a catalog key.
// A nil FileTypes means the key carried no type information.
type FileTypes []string

// UnmarshalJSON accepts either a single string ("image/png") or an array of
// strings, since catalog writers have used both shapes.
func (f *FileTypes) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = nil
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FileTypes{s}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("decoding file types: %w", err)
	}
	*f = FileTypes(list)
	return nil
}

// Matches reports whether any member contains any of the wanted types.
// Containment rather than equality lets "image" match "image/jpeg".
func (f FileTypes) Matches(want ...string) bool {
	for _, ft := range f {
		for _, w := range want {
			if strings.Contains(ft, w) {
				return true
			}
		}
	}
	return false
}

// Entry is one addressable file in the catalog.
type Entry struct {
	Name     string    `json:"name"`
	FileType FileTypes `json:"FileType,omitempty"`
}

// Path returns the retrieval path of the entry relative to the service origin.
func (e Entry) Path() string {
	return FilePathPrefix + e.Name
}

// Listing is the filtered view of the catalog that is cached and sampled.
type Listing []Entry

// FilePathPrefix is the route under which catalog files are served.
const FilePathPrefix = "/file/"
