package listcache

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// DigestSize is the length of a listing digest in bytes.
const DigestSize = 32

// Digest is the BLAKE3-256 checksum of an uncompressed listing payload.
type Digest [DigestSize]byte

// SumDigest checksums data.
func SumDigest(data []byte) Digest {
	return Digest(blake3.Sum256(data))
}

// String returns the digest as lowercase hex.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// Short returns the first 8 bytes as hex, for log lines.
func (d Digest) Short() string {
	return hex.EncodeToString(d[:8])
}
