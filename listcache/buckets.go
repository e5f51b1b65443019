package listcache

import (
	"encoding/binary"
	"time"
)

// Bucket layout:
//
//	listings                  key -> payload
//	listings_by_expiry        deadline|key -> key
//	listings_expiry_by_key    key -> deadline
//
// Deadlines are 8-byte big-endian Unix milliseconds so the forward index
// sorts oldest first.
var (
	bucketListings    = []byte("listings")
	bucketByExpiry    = []byte("listings_by_expiry")
	bucketExpiryByKey = []byte("listings_expiry_by_key")
)

const deadlineSize = 8

func deadlineBytes(t time.Time) []byte {
	ms := t.UnixMilli()
	if ms < 0 {
		ms = 0
	}
	buf := make([]byte, deadlineSize)
	binary.BigEndian.PutUint64(buf, uint64(ms))
	return buf
}

func parseDeadline(b []byte) time.Time {
	if len(b) < deadlineSize {
		return time.Time{}
	}
	return time.UnixMilli(int64(binary.BigEndian.Uint64(b[:deadlineSize]))).UTC() //nolint:gosec // written by deadlineBytes
}

func deadlineKey(t time.Time, key string) []byte {
	return append(deadlineBytes(t), key...)
}
