package crypto

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/nacl/box"
)

// GenerateKeyPair returns a fresh X25519 keypair for authenticated
// public-key encryption. Both keys are 32 bytes.
func GenerateKeyPair() (publicKey, privateKey []byte, err error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrKeyGen, err)
	}
	return pub[:], priv[:], nil
}

// AsymEncrypt seals plaintext from the sender to the recipient. A fresh
// 24-byte nonce is chosen internally and prepended to the sealed box, so the
// output is NonceSize + len(plaintext) + Overhead bytes.
func AsymEncrypt(plaintext, recipientPublic, senderPrivate []byte) ([]byte, error) {
	pub, priv, err := checkBoxKeys(recipientPublic, senderPrivate)
	if err != nil {
		return nil, err
	}

	nonceBytes, err := GenerateNonce()
	if err != nil {
		return nil, err
	}
	var nonce [NonceSize]byte
	copy(nonce[:], nonceBytes)

	return box.Seal(nonce[:], plaintext, &nonce, pub, priv), nil
}

// AsymDecrypt splits the prepended nonce off a blob produced by AsymEncrypt
// and opens it. Authentication failure yields ErrAuthFailed.
func AsymDecrypt(blob, senderPublic, recipientPrivate []byte) ([]byte, error) {
	pub, priv, err := checkBoxKeys(senderPublic, recipientPrivate)
	if err != nil {
		return nil, err
	}
	if len(blob) < NonceSize+Overhead {
		return nil, ErrShortInput
	}

	var nonce [NonceSize]byte
	copy(nonce[:], blob[:NonceSize])

	plaintext, ok := box.Open(nil, blob[NonceSize:], &nonce, pub, priv)
	if !ok {
		return nil, ErrAuthFailed
	}
	return plaintext, nil
}

func checkBoxKeys(publicKey, privateKey []byte) (*[KeySize]byte, *[KeySize]byte, error) {
	if len(publicKey) != KeySize {
		return nil, nil, fmt.Errorf("%w: public key length %d, want %d", ErrEncrypt, len(publicKey), KeySize)
	}
	if len(privateKey) != KeySize {
		return nil, nil, fmt.Errorf("%w: private key length %d, want %d", ErrEncrypt, len(privateKey), KeySize)
	}

	var pub, priv [KeySize]byte
	copy(pub[:], publicKey)
	copy(priv[:], privateKey)
	return &pub, &priv, nil
}
