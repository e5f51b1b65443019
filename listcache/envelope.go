package listcache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"google.golang.org/protobuf/encoding/protowire"
)

const (
	// CompressionThreshold is the minimum payload size before compression is considered.
	CompressionThreshold = 2048

	// MaxPayloadSize is the maximum allowed uncompressed payload size.
	MaxPayloadSize = 64 * 1024 * 1024

	// CurrentEnvelopeVersion is the current envelope schema version.
	CurrentEnvelopeVersion = 1
)

// Envelope field numbers.
const (
	fieldVersion   protowire.Number = 1
	fieldEncoding  protowire.Number = 2
	fieldPayload   protowire.Number = 3
	fieldDigest    protowire.Number = 4
	fieldSize      protowire.Number = 5
	fieldFetchedAt protowire.Number = 6
)

// Encoding identifies how an envelope payload is stored.
type Encoding uint64

const (
	EncodingIdentity Encoding = 0
	EncodingZstd     Encoding = 1
)

// ErrPayloadTooLarge is returned when payload exceeds MaxPayloadSize.
var ErrPayloadTooLarge = errors.New("payload exceeds maximum size")

// Envelope is the stored form of a cached listing.
type Envelope struct {
	Version   uint64
	Encoding  Encoding
	Payload   []byte
	Digest    Digest // BLAKE3 of the uncompressed payload
	Size      uint64 // uncompressed payload size
	FetchedAt time.Time
}

// MarshalEnvelope encodes env in protobuf wire format.
func MarshalEnvelope(env *Envelope) []byte {
	b := make([]byte, 0, len(env.Payload)+64)
	b = protowire.AppendTag(b, fieldVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, env.Version)
	b = protowire.AppendTag(b, fieldEncoding, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(env.Encoding))
	b = protowire.AppendTag(b, fieldPayload, protowire.BytesType)
	b = protowire.AppendBytes(b, env.Payload)
	b = protowire.AppendTag(b, fieldDigest, protowire.BytesType)
	b = protowire.AppendBytes(b, env.Digest[:])
	b = protowire.AppendTag(b, fieldSize, protowire.VarintType)
	b = protowire.AppendVarint(b, env.Size)
	b = protowire.AppendTag(b, fieldFetchedAt, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(env.FetchedAt.UnixMilli())) //nolint:gosec // post-1970 timestamps
	return b
}

// UnmarshalEnvelope decodes an envelope. Unknown fields are skipped.
func UnmarshalEnvelope(b []byte) (*Envelope, error) {
	env := &Envelope{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: %w", ErrCorrupted, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case typ == protowire.VarintType && (num == fieldVersion || num == fieldEncoding || num == fieldSize || num == fieldFetchedAt):
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: %w", ErrCorrupted, protowire.ParseError(n))
			}
			b = b[n:]
			switch num {
			case fieldVersion:
				env.Version = v
			case fieldEncoding:
				env.Encoding = Encoding(v)
			case fieldSize:
				env.Size = v
			case fieldFetchedAt:
				env.FetchedAt = time.UnixMilli(int64(v)) //nolint:gosec // round-trips MarshalEnvelope
			}
		case typ == protowire.BytesType && (num == fieldPayload || num == fieldDigest):
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: %w", ErrCorrupted, protowire.ParseError(n))
			}
			b = b[n:]
			if num == fieldPayload {
				env.Payload = append([]byte(nil), v...)
			} else {
				if len(v) != DigestSize {
					return nil, fmt.Errorf("%w: digest length %d", ErrCorrupted, len(v))
				}
				copy(env.Digest[:], v)
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("%w: %w", ErrCorrupted, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return env, nil
}

// Encoded wraps a Cache so that payloads are stored inside a versioned
// envelope, compressed when large and verified on read.
type Encoded struct {
	next    Cache
	encoder *zstd.Encoder
	decoder *zstd.Decoder
	mu      sync.RWMutex
	now     func() time.Time
}

// NewEncoded wraps next with envelope encoding.
func NewEncoded(next Cache) (*Encoded, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}

	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxPayloadSize))
	if err != nil {
		_ = enc.Close()
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}

	return &Encoded{
		next:    next,
		encoder: enc,
		decoder: dec,
		now:     time.Now,
	}, nil
}

// Close releases encoder/decoder resources.
func (e *Encoded) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.encoder != nil {
		_ = e.encoder.Close()
		e.encoder = nil
	}
	if e.decoder != nil {
		e.decoder.Close()
		e.decoder = nil
	}
}

// Put implements Cache.
func (e *Encoded) Put(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	env, err := e.seal(data)
	if err != nil {
		return err
	}
	return e.next.Put(ctx, key, MarshalEnvelope(env), ttl)
}

// Get implements Cache. A record that fails to decode or verify is reported
// as ErrCorrupted.
func (e *Encoded) Get(ctx context.Context, key string) ([]byte, error) {
	raw, err := e.next.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	env, err := UnmarshalEnvelope(raw)
	if err != nil {
		return nil, err
	}
	return e.open(env)
}

func (e *Encoded) seal(data []byte) (*Envelope, error) {
	if len(data) > MaxPayloadSize {
		return nil, ErrPayloadTooLarge
	}

	env := &Envelope{
		Version:   CurrentEnvelopeVersion,
		Encoding:  EncodingIdentity,
		Payload:   data,
		Digest:    SumDigest(data),
		Size:      uint64(len(data)),
		FetchedAt: e.now(),
	}

	if len(data) < CompressionThreshold {
		return env, nil
	}

	e.mu.RLock()
	enc := e.encoder
	e.mu.RUnlock()
	if enc == nil {
		return env, nil
	}

	compressed := enc.EncodeAll(data, nil)
	if len(compressed) < len(data) {
		env.Encoding = EncodingZstd
		env.Payload = compressed
	}
	return env, nil
}

func (e *Encoded) open(env *Envelope) ([]byte, error) {
	if env.Version != CurrentEnvelopeVersion {
		return nil, fmt.Errorf("%w: unsupported envelope version %d", ErrCorrupted, env.Version)
	}
	if env.Size > MaxPayloadSize {
		return nil, fmt.Errorf("%w: declared size %d", ErrCorrupted, env.Size)
	}

	var data []byte
	switch env.Encoding {
	case EncodingIdentity:
		data = env.Payload
	case EncodingZstd:
		e.mu.RLock()
		dec := e.decoder
		e.mu.RUnlock()
		if dec == nil {
			return nil, errors.New("envelope decoder closed")
		}
		out, err := dec.DecodeAll(env.Payload, make([]byte, 0, env.Size))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorrupted, err)
		}
		data = out
	default:
		return nil, fmt.Errorf("%w: unknown encoding %d", ErrCorrupted, env.Encoding)
	}

	if uint64(len(data)) != env.Size || SumDigest(data) != env.Digest {
		return nil, ErrCorrupted
	}
	return data, nil
}
