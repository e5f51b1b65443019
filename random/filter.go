package random

import (
	"strings"

	randomfile "github.com/wolfeidau/random-file"
	"github.com/wolfeidau/random-file/catalog"
)

const (
	// reservedPrefix marks keys used by the management surface.
	reservedPrefix = "manage@"

	// nameMarker must appear in a key name for it to be eligible.
	nameMarker = "kon"
)

// mediaTypes are the file types eligible for random selection.
var mediaTypes = []string{"image", "video"}

// Eligible reports whether an entry passes every catalog filter stage.
func Eligible(name string, fileType randomfile.FileTypes) bool {
	if strings.HasPrefix(name, reservedPrefix) {
		return false
	}
	if !fileType.Matches(mediaTypes...) {
		return false
	}
	return strings.Contains(name, nameMarker)
}

// FilterKeys applies the filter stages to one page of keys, preserving order,
// and projects the survivors onto catalog entries.
func FilterKeys(keys []catalog.Key) randomfile.Listing {
	out := make(randomfile.Listing, 0, len(keys))
	for _, k := range keys {
		if !Eligible(k.Name, k.FileType()) {
			continue
		}
		out = append(out, randomfile.Entry{Name: k.Name, FileType: k.FileType()})
	}
	return out
}

// Normalize reapplies the filter stages to an already built listing.
// Normalize(Normalize(l)) equals Normalize(l).
func Normalize(l randomfile.Listing) randomfile.Listing {
	out := make(randomfile.Listing, 0, len(l))
	for _, e := range l {
		if Eligible(e.Name, e.FileType) {
			out = append(out, e)
		}
	}
	return out
}
