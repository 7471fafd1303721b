package claim

import (
	"crypto/sha256"
	"encoding/binary"
)

// LockKey maps an event id to a Postgres advisory lock key: the first 8
// bytes of SHA-256(eventID), read big-endian as a signed 64-bit integer.
//
// Two distinct event ids can in principle truncate to the same key. That is
// accepted: with a strong hash over the full 64-bit space the probability is
// negligible, and the effect of a collision is spurious lock contention
// (one consumer retries later), never double processing.
func LockKey(eventID string) int64 {
	sum := sha256.Sum256([]byte(eventID))
	return int64(binary.BigEndian.Uint64(sum[:8]))
}
