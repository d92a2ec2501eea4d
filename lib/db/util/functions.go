// Package util provides small helpers shared by the keyspace engines and the disk tier.
package util

import (
	"crypto/rand"
	"encoding/binary"
	"time"
)

// --------------------------------------------------------------------------
// General Utility Functions
// --------------------------------------------------------------------------

// GenerateSeed creates a random seed for internal hash distribution
func GenerateSeed() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		// fall back to the current time, only if the system randomness fails
		return uint64(time.Now().UnixNano())
	}
	return binary.LittleEndian.Uint64(b[:])
}

// NowMillis returns the current unix time in milliseconds.
// It is the default clock of the keyspace engines and the disk tier.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// --------------------------------------------------------------------------
// Hash Functions
// --------------------------------------------------------------------------

// HashString generates a hash value for a string with a seed.
// This function uses the FNV-1a hash algorithm, which is fast and has good distribution
func HashString(s string, seed uint64) uint64 {

	// FNV-1a hash with seed incorporation
	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)

	hash := uint64(offset64) ^ seed

	for i := 0; i < len(s); i++ {
		hash ^= uint64(s[i])
		hash *= prime64
	}

	return hash
}

// ShardIndex maps a hash onto one of n shards.
// The hash is shifted right by 7 bits to use higher-quality bits for distribution.
func ShardIndex(hash uint64, n int) int {
	return int((hash >> 7) % uint64(n))
}
