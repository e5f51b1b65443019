package listcache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSumDigest(t *testing.T) {
	// BLAKE3 of the empty input
	assert.Equal(t, "af1349b9f5f9a1a6a0404dea36dcc9499bcb25c9adc112b7cc9a93cae41f3262", SumDigest(nil).String())

	d := SumDigest([]byte(`[{"name":"konA.jpg","FileType":["image"]}]`))
	assert.Len(t, d.Short(), 16)
	assert.Equal(t, d.String()[:16], d.Short())
	assert.NotEqual(t, d, SumDigest([]byte(`[]`)))
}
