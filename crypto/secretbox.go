package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	// KeySize is the symmetric key length in bytes.
	KeySize = 32
	// NonceSize is the AEAD nonce length in bytes.
	NonceSize = 24
	// Overhead is the AEAD authentication tag length in bytes.
	Overhead = secretbox.Overhead
)

var (
	// ErrKeyGen indicates the system CSPRNG failed.
	ErrKeyGen = errors.New("crypto: key generation failed")
	// ErrEncrypt indicates the AEAD primitive rejected its inputs.
	ErrEncrypt = errors.New("crypto: encryption failed")
	// ErrShortInput indicates a ciphertext shorter than the authentication tag.
	ErrShortInput = errors.New("crypto: ciphertext shorter than authentication tag")
	// ErrAuthFailed indicates an authentication tag mismatch.
	ErrAuthFailed = errors.New("crypto: authentication failed")
)

// GenerateKey returns a fresh 32-byte symmetric key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyGen, err)
	}
	return key, nil
}

// GenerateNonce returns a fresh 24-byte nonce. Every encryption must use a
// new one; nonces are never reused under the same key.
func GenerateNonce() ([]byte, error) {
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyGen, err)
	}
	return nonce, nil
}

// Encrypt seals plaintext with XSalsa20-Poly1305. The returned ciphertext is
// exactly Overhead bytes longer than the plaintext.
func Encrypt(plaintext, key, nonce []byte) ([]byte, error) {
	boxKey, boxNonce, err := checkKeyNonce(key, nonce)
	if err != nil {
		return nil, err
	}
	return secretbox.Seal(nil, plaintext, boxNonce, boxKey), nil
}

// Decrypt opens a ciphertext produced by Encrypt. Tag verification is
// constant-time; any mismatch yields ErrAuthFailed.
func Decrypt(ciphertext, key, nonce []byte) ([]byte, error) {
	boxKey, boxNonce, err := checkKeyNonce(key, nonce)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < Overhead {
		return nil, ErrShortInput
	}

	plaintext, ok := secretbox.Open(nil, ciphertext, boxNonce, boxKey)
	if !ok {
		return nil, ErrAuthFailed
	}
	return plaintext, nil
}

// ZeroBytes overwrites key material in place before it is discarded.
func ZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func checkKeyNonce(key, nonce []byte) (*[KeySize]byte, *[NonceSize]byte, error) {
	if len(key) != KeySize {
		return nil, nil, fmt.Errorf("%w: key length %d, want %d", ErrEncrypt, len(key), KeySize)
	}
	if len(nonce) != NonceSize {
		return nil, nil, fmt.Errorf("%w: nonce length %d, want %d", ErrEncrypt, len(nonce), NonceSize)
	}

	var boxKey [KeySize]byte
	var boxNonce [NonceSize]byte
	copy(boxKey[:], key)
	copy(boxNonce[:], nonce)
	return &boxKey, &boxNonce, nil
}
