package crypto

import "testing"

func TestSignVerifyRoundTrip(t *testing.T) {
	publicKey, privateKey, err := GenerateSignatureKeyPair()
	if err != nil {
		t.Fatalf("GenerateSignatureKeyPair failed: %v", err)
	}

	message := []byte("message to be signed")
	signature, err := Sign(privateKey, message)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	if len(signature) != SignatureSize {
		t.Fatalf("expected %d-byte signature, got %d", SignatureSize, len(signature))
	}
	if !Verify(publicKey, message, signature) {
		t.Fatalf("signature did not verify")
	}
}

func TestVerifyRejectsTamperedMessage(t *testing.T) {
	publicKey, privateKey, _ := GenerateSignatureKeyPair()

	message := []byte("original message")
	signature, err := Sign(privateKey, message)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	for i := range message {
		tampered := append([]byte(nil), message...)
		tampered[i] ^= 0x01
		if Verify(publicKey, tampered, signature) {
			t.Fatalf("verified after tampering message byte %d", i)
		}
	}
	for i := range signature {
		tampered := append([]byte(nil), signature...)
		tampered[i] ^= 0x01
		if Verify(publicKey, message, tampered) {
			t.Fatalf("verified after tampering signature byte %d", i)
		}
	}
}

func TestVerifyRejectsMalformedInputs(t *testing.T) {
	publicKey, privateKey, _ := GenerateSignatureKeyPair()
	message := []byte("message")
	signature, _ := Sign(privateKey, message)

	if Verify(publicKey[:16], message, signature) {
		t.Fatalf("verified with truncated public key")
	}
	if Verify(publicKey, message, signature[:32]) {
		t.Fatalf("verified with truncated signature")
	}
}
