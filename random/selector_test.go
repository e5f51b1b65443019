package random

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	randomfile "github.com/wolfeidau/random-file"
)

var mixedListing = randomfile.Listing{
	{Name: "konA.jpg", FileType: randomfile.FileTypes{"image"}},
	{Name: "konB.mp4", FileType: randomfile.FileTypes{"video"}},
	{Name: "konC.png", FileType: randomfile.FileTypes{"image/png"}},
}

func TestParseContentTypes(t *testing.T) {
	assert.Equal(t, []string{"image"}, ParseContentTypes("", false))
	assert.Equal(t, []string{"image", "video"}, ParseContentTypes("image,video", true))
	assert.Equal(t, []string{"video"}, ParseContentTypes("video", true))
}

func TestPick(t *testing.T) {
	rnd := rand.New(rand.NewPCG(1, 2))

	t.Run("default narrows to images", func(t *testing.T) {
		for range 50 {
			e, ok := Pick(mixedListing, nil, rnd)
			require.True(t, ok)
			assert.Contains(t, []string{"konA.jpg", "konC.png"}, e.Name)
		}
	})

	t.Run("video only", func(t *testing.T) {
		e, ok := Pick(mixedListing, []string{"video"}, rnd)
		require.True(t, ok)
		assert.Equal(t, "konB.mp4", e.Name)
	})

	t.Run("no match", func(t *testing.T) {
		_, ok := Pick(mixedListing, []string{"audio"}, rnd)
		assert.False(t, ok)
	})

	t.Run("empty listing", func(t *testing.T) {
		_, ok := Pick(nil, []string{"image"}, rnd)
		assert.False(t, ok)
	})

	t.Run("global source", func(t *testing.T) {
		_, ok := Pick(mixedListing, []string{"image"}, nil)
		assert.True(t, ok)
	})
}

func TestPickUniform(t *testing.T) {
	rnd := rand.New(rand.NewPCG(42, 7))
	listing := randomfile.Listing{
		{Name: "kon1.jpg", FileType: randomfile.FileTypes{"image"}},
		{Name: "kon2.jpg", FileType: randomfile.FileTypes{"image"}},
		{Name: "kon3.jpg", FileType: randomfile.FileTypes{"image"}},
		{Name: "kon4.jpg", FileType: randomfile.FileTypes{"image"}},
	}

	const draws = 40000
	counts := map[string]int{}
	for range draws {
		e, ok := Pick(listing, []string{"image"}, rnd)
		require.True(t, ok)
		counts[e.Name]++
	}

	require.Len(t, counts, len(listing))
	expected := draws / len(listing)
	for name, n := range counts {
		assert.InDelta(t, expected, n, float64(expected)*0.05, name)
	}
}
