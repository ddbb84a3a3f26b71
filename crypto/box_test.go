package crypto

import (
	"bytes"
	"errors"
	"testing"
)

func TestAsymEncryptDecryptRoundTrip(t *testing.T) {
	senderPub, senderPriv, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}
	recipientPub, recipientPriv, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}

	plaintext := []byte("authenticated box payload")
	blob, err := AsymEncrypt(plaintext, recipientPub, senderPriv)
	if err != nil {
		t.Fatalf("AsymEncrypt failed: %v", err)
	}
	if len(blob) != NonceSize+len(plaintext)+Overhead {
		t.Fatalf("expected %d-byte blob, got %d", NonceSize+len(plaintext)+Overhead, len(blob))
	}

	decrypted, err := AsymDecrypt(blob, senderPub, recipientPriv)
	if err != nil {
		t.Fatalf("AsymDecrypt failed: %v", err)
	}
	if !bytes.Equal(plaintext, decrypted) {
		t.Fatalf("decrypted plaintext does not match original")
	}
}

func TestAsymDecryptRejectsWrongSender(t *testing.T) {
	_, senderPriv, _ := GenerateKeyPair()
	otherPub, _, _ := GenerateKeyPair()
	recipientPub, recipientPriv, _ := GenerateKeyPair()

	blob, err := AsymEncrypt([]byte("payload"), recipientPub, senderPriv)
	if err != nil {
		t.Fatalf("AsymEncrypt failed: %v", err)
	}
	if _, err := AsymDecrypt(blob, otherPub, recipientPriv); !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("expected ErrAuthFailed, got %v", err)
	}
}

func TestAsymDecryptRejectsShortBlob(t *testing.T) {
	senderPub, _, _ := GenerateKeyPair()
	_, recipientPriv, _ := GenerateKeyPair()

	if _, err := AsymDecrypt(make([]byte, NonceSize), senderPub, recipientPriv); !errors.Is(err, ErrShortInput) {
		t.Fatalf("expected ErrShortInput, got %v", err)
	}
}
