package crypto

import (
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// HashSize is the digest length in bytes.
const HashSize = 32

// Hash returns the 32-byte BLAKE2b digest of data.
func Hash(data []byte) [HashSize]byte {
	return blake2b.Sum256(data)
}

// KeyedHash returns a 32-byte keyed BLAKE2b MAC of data. The key may be up
// to 64 bytes.
func KeyedHash(key, data []byte) ([]byte, error) {
	h, err := blake2b.New256(key)
	if err != nil {
		return nil, fmt.Errorf("create keyed hash: %w", err)
	}
	h.Write(data)
	return h.Sum(nil), nil
}
