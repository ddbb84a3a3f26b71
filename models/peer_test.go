package models

import "testing"

func TestNewPeerIDIsUnique(t *testing.T) {
	seen := make(map[PeerID]bool)
	for i := 0; i < 64; i++ {
		id, err := NewPeerID()
		if err != nil {
			t.Fatalf("NewPeerID failed: %v", err)
		}
		if id.IsZero() {
			t.Fatalf("generated zero peer ID")
		}
		if seen[id] {
			t.Fatalf("peer ID repeated after %d generations", i)
		}
		seen[id] = true
	}
}

func TestPeerIDFormatting(t *testing.T) {
	id, err := NewPeerID()
	if err != nil {
		t.Fatalf("NewPeerID failed: %v", err)
	}
	if len(id.String()) != 64 {
		t.Fatalf("String() length = %d, want 64", len(id.String()))
	}
	if len(id.Short()) != 8 {
		t.Fatalf("Short() length = %d, want 8", len(id.Short()))
	}
}

func TestConnectionStatusStrings(t *testing.T) {
	cases := map[ConnectionStatus]string{
		StatusDisconnected: "disconnected",
		StatusConnecting:   "connecting",
		StatusConnected:    "connected",
		StatusErrored:      "errored",
	}
	for status, want := range cases {
		if got := status.String(); got != want {
			t.Fatalf("%d.String() = %q, want %q", status, got, want)
		}
	}
}

func TestPeerInfoEndpoint(t *testing.T) {
	info := PeerInfo{Address: "192.168.1.7", Port: 8081}
	if got := info.Endpoint(); got != "192.168.1.7:8081" {
		t.Fatalf("Endpoint() = %q", got)
	}
}

func TestNewMessageIDIsUnique(t *testing.T) {
	a := NewMessageID()
	b := NewMessageID()
	if a == b {
		t.Fatalf("consecutive message IDs collide")
	}
}
