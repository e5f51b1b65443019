package random

import (
	"math/rand/v2"
	"strings"

	randomfile "github.com/wolfeidau/random-file"
)

// DefaultContentTypes is used when a request names no content types.
var DefaultContentTypes = []string{"image"}

// ParseContentTypes splits the comma separated content query parameter.
// An absent parameter yields DefaultContentTypes.
func ParseContentTypes(raw string, present bool) []string {
	if !present {
		return DefaultContentTypes
	}
	return strings.Split(raw, ",")
}

// Narrow returns the entries whose file types match any of the requested types.
func Narrow(l randomfile.Listing, requested []string) randomfile.Listing {
	if len(requested) == 0 {
		requested = DefaultContentTypes
	}
	out := make(randomfile.Listing, 0, len(l))
	for _, e := range l {
		if e.FileType.Matches(requested...) {
			out = append(out, e)
		}
	}
	return out
}

// Pick narrows l by the requested types and returns one entry chosen
// uniformly at random. ok is false when nothing matches. A nil rnd uses
// the global source.
func Pick(l randomfile.Listing, requested []string, rnd *rand.Rand) (randomfile.Entry, bool) {
	return choose(Narrow(l, requested), rnd)
}

func choose(candidates randomfile.Listing, rnd *rand.Rand) (randomfile.Entry, bool) {
	if len(candidates) == 0 {
		return randomfile.Entry{}, false
	}

	var i int
	if rnd != nil {
		i = rnd.IntN(len(candidates))
	} else {
		i = rand.IntN(len(candidates))
	}
	return candidates[i], true
}
