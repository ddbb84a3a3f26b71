package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
)

// SignatureSize is the length of a detached Ed25519 signature.
const SignatureSize = ed25519.SignatureSize

// GenerateSignatureKeyPair returns a fresh Ed25519 keypair: a 32-byte public
// key and a 64-byte private key.
func GenerateSignatureKeyPair() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	publicKey, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrKeyGen, err)
	}
	return publicKey, privateKey, nil
}

// Sign returns a 64-byte detached signature over data.
func Sign(privateKey ed25519.PrivateKey, data []byte) ([]byte, error) {
	if len(privateKey) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid Ed25519 private key length: got %d want %d", len(privateKey), ed25519.PrivateKeySize)
	}
	return ed25519.Sign(privateKey, data), nil
}

// Verify reports whether signature is valid for data under publicKey.
// Malformed keys or signatures yield false rather than an error.
func Verify(publicKey ed25519.PublicKey, data, signature []byte) bool {
	if len(publicKey) != ed25519.PublicKeySize {
		return false
	}
	if len(signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(publicKey, data, signature)
}
