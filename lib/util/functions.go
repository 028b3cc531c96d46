package util

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"time"
)

// --------------------------------------------------------------------------
// General Utility Functions
// --------------------------------------------------------------------------

// GenerateSeed creates a random seed for internal hash distribution
func GenerateSeed() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		// last-resort fallback, time based
		return uint64(time.Now().UnixNano())
	}
	return binary.LittleEndian.Uint64(b[:])
}

// RandomHex returns a random hex string of the given length.
// It is used by the bench command to generate key suffixes.
func RandomHex(n int) string {
	b := make([]byte, (n+1)/2)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%0*x", n, time.Now().UnixNano())[:n]
	}
	return fmt.Sprintf("%x", b)[:n]
}

// --------------------------------------------------------------------------
// Hash Functions
// --------------------------------------------------------------------------

// UintKey is an efficient key type based on uint64 for internal hash representation
type UintKey uint64

// HashString generates a hash value for a string with a seed
// This function uses the FNV-1a hash algorithm, which is fast and has good distribution
func HashString(s string, seed uint64) UintKey {

	// FNV-1a hash with seed incorporation
	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)

	// Start with the offset combined with our seed for uniqueness
	hash := uint64(offset64) ^ seed

	for i := 0; i < len(s); i++ {
		hash ^= uint64(s[i])
		hash *= prime64
	}

	return UintKey(hash)
}

// HashKey generates a hash value for a (database, key) pair with a seed.
// The database index is mixed in first so the same key in different logical
// databases can land on different shards.
func HashKey(db uint16, key string, seed uint64) UintKey {
	var prefix [2]byte
	binary.LittleEndian.PutUint16(prefix[:], db)
	h := uint64(HashString(string(prefix[:]), seed))
	return HashString(key, h)
}
