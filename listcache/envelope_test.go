package listcache

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEncoded(t *testing.T) (*Encoded, *Memory) {
	t.Helper()
	inner := NewMemory()
	enc, err := NewEncoded(inner)
	require.NoError(t, err)
	t.Cleanup(enc.Close)
	return enc, inner
}

func TestEncoded(t *testing.T) {
	ctx := context.Background()

	t.Run("small payload stored uncompressed", func(t *testing.T) {
		enc, inner := newTestEncoded(t)
		payload := []byte(`[{"name":"konA.jpg","FileType":["image"]}]`)

		require.NoError(t, enc.Put(ctx, "k", payload, time.Hour))

		raw, err := inner.Get(ctx, "k")
		require.NoError(t, err)
		env, err := UnmarshalEnvelope(raw)
		require.NoError(t, err)
		assert.Equal(t, EncodingIdentity, env.Encoding)
		assert.Equal(t, uint64(len(payload)), env.Size)

		got, err := enc.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, payload, got)
	})

	t.Run("large payload compressed", func(t *testing.T) {
		enc, inner := newTestEncoded(t)
		payload := bytes.Repeat([]byte(`{"name":"kon.jpg","FileType":["image"]},`), 200)

		require.NoError(t, enc.Put(ctx, "k", payload, time.Hour))

		raw, err := inner.Get(ctx, "k")
		require.NoError(t, err)
		env, err := UnmarshalEnvelope(raw)
		require.NoError(t, err)
		assert.Equal(t, EncodingZstd, env.Encoding)
		assert.Less(t, len(env.Payload), len(payload))

		got, err := enc.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, payload, got)
	})

	t.Run("miss passes through", func(t *testing.T) {
		enc, _ := newTestEncoded(t)
		_, err := enc.Get(ctx, "nope")
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("garbage is corrupted", func(t *testing.T) {
		enc, inner := newTestEncoded(t)
		require.NoError(t, inner.Put(ctx, "k", []byte{0xff, 0xff, 0xff}, time.Hour))

		_, err := enc.Get(ctx, "k")
		require.ErrorIs(t, err, ErrCorrupted)
	})

	t.Run("digest mismatch is corrupted", func(t *testing.T) {
		enc, inner := newTestEncoded(t)
		require.NoError(t, enc.Put(ctx, "k", []byte("hello"), time.Hour))

		raw, err := inner.Get(ctx, "k")
		require.NoError(t, err)
		env, err := UnmarshalEnvelope(raw)
		require.NoError(t, err)
		env.Payload = []byte("jello")
		require.NoError(t, inner.Put(ctx, "k", MarshalEnvelope(env), time.Hour))

		_, err = enc.Get(ctx, "k")
		require.ErrorIs(t, err, ErrCorrupted)
	})

	t.Run("unknown version is corrupted", func(t *testing.T) {
		enc, inner := newTestEncoded(t)
		env := &Envelope{Version: 99, Payload: []byte("x"), Size: 1}
		require.NoError(t, inner.Put(ctx, "k", MarshalEnvelope(env), time.Hour))

		_, err := enc.Get(ctx, "k")
		require.ErrorIs(t, err, ErrCorrupted)
	})
}

func TestEnvelopeRoundTrip(t *testing.T) {
	fetched := time.UnixMilli(1700000000123)
	env := &Envelope{
		Version:   CurrentEnvelopeVersion,
		Encoding:  EncodingIdentity,
		Payload:   []byte("payload"),
		Size:      7,
		FetchedAt: fetched,
	}
	env.Digest[0] = 1

	got, err := UnmarshalEnvelope(MarshalEnvelope(env))
	require.NoError(t, err)
	assert.Equal(t, env.Payload, got.Payload)
	assert.Equal(t, env.Digest, got.Digest)
	assert.True(t, fetched.Equal(got.FetchedAt))
}
