package telemetry

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func taggedRequest() *http.Request {
	return InjectTags(httptest.NewRequest(http.MethodGet, "/random", nil))
}

func TestInjectTags_Defaults(t *testing.T) {
	tags := GetTags(taggedRequest())
	require.NotNil(t, tags)
	assert.Equal(t, CacheBypass, tags.CacheResult)
	assert.Empty(t, tags.Route)
	assert.Equal(t, -1, tags.ListingSize)
}

func TestSetters_NoopWithoutTags(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/random", nil)
	require.Nil(t, GetTags(r))

	SetRoute(r, "random")
	SetEndpoint(r, "random")
	SetCacheResult(r, CacheHit)
	SetCacheResultContext(r.Context(), CacheHit)
	SetPick(r, "url", 2, "konA.jpg")
}

func TestSetters_VisibleThroughPointer(t *testing.T) {
	r := taggedRequest()
	tags := GetTags(r)

	SetRoute(r, "random")
	SetEndpoint(r, "random")
	SetCacheResultContext(r.Context(), CacheMiss)
	SetPick(r, "img", 3, "konB.mp4")

	assert.Equal(t, "random", tags.Route)
	assert.Equal(t, "random", tags.Endpoint)
	assert.Equal(t, CacheMiss, tags.CacheResult)
	assert.Equal(t, "img", tags.Mode)
	assert.Equal(t, 3, tags.ListingSize)
	assert.Equal(t, "konB.mp4", tags.Picked)
}

func TestRequestTags_LogAttrs(t *testing.T) {
	var nilTags *RequestTags
	assert.Nil(t, nilTags.LogAttrs())

	r := taggedRequest()
	assert.Equal(t, []any{"cache_result", "bypass"}, GetTags(r).LogAttrs())

	SetEndpoint(r, "random")
	SetCacheResult(r, CacheHit)
	SetPick(r, "path", 0, "")
	assert.Equal(t, []any{
		"endpoint", "random",
		"cache_result", "hit",
		"pick_mode", "path",
		"listing_size", 0,
	}, GetTags(r).LogAttrs())
}
