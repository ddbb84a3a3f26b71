package discovery

import (
	"sync"
	"testing"
	"time"
)

func TestParseAnnounce(t *testing.T) {
	cases := []struct {
		payload string
		port    int
		ok      bool
	}{
		{"LINKNET_DISCOVERY:8080", 8080, true},
		{"LINKNET_DISCOVERY:1", 1, true},
		{"LINKNET_DISCOVERY:65535", 65535, true},
		{"LINKNET_DISCOVERY:0", 0, false},
		{"LINKNET_DISCOVERY:65536", 0, false},
		{"LINKNET_DISCOVERY:", 0, false},
		{"LINKNET_DISCOVERY:abc", 0, false},
		{"LINKNET_DISCOVERY", 0, false},
		{"OTHER_PROTO:8080", 0, false},
		{"", 0, false},
	}

	for _, tc := range cases {
		port, ok := parseAnnounce(tc.payload)
		if ok != tc.ok || port != tc.port {
			t.Fatalf("parseAnnounce(%q) = (%d, %v), want (%d, %v)", tc.payload, port, ok, tc.port, tc.ok)
		}
	}
}

func TestHandleAnnounceReportsFirstSightOnly(t *testing.T) {
	m, err := NewMulticast(Config{Port: 8080})
	if err != nil {
		t.Fatalf("NewMulticast failed: %v", err)
	}

	var mu sync.Mutex
	var reported []string
	m.SetDiscoveredCallback(func(ip string, port int) {
		mu.Lock()
		reported = append(reported, ip)
		mu.Unlock()
	})

	m.handleAnnounce("192.168.1.20", 9000)
	m.handleAnnounce("192.168.1.20", 9000)
	m.handleAnnounce("192.168.1.21", 9000)

	mu.Lock()
	defer mu.Unlock()
	if len(reported) != 2 {
		t.Fatalf("callback fired %d times, want 2", len(reported))
	}

	peers := m.DiscoveredPeers()
	if len(peers) != 2 {
		t.Fatalf("discovered peers = %v, want 2 entries", peers)
	}
}

func TestHandleAnnounceSkipsOwnPort(t *testing.T) {
	m, err := NewMulticast(Config{Port: 8080})
	if err != nil {
		t.Fatalf("NewMulticast failed: %v", err)
	}

	called := 0
	m.SetDiscoveredCallback(func(string, int) { called++ })

	// A multicast echo of our own announce carries our own port.
	m.handleAnnounce("127.0.0.1", 8080)
	m.handleAnnounce("192.168.1.5", 8080)

	if called != 0 {
		t.Fatalf("callback fired %d times for self-echo, want 0", called)
	}
	if peers := m.DiscoveredPeers(); len(peers) != 0 {
		t.Fatalf("self announces were recorded: %v", peers)
	}
}

func TestExpiredPeersAreEvicted(t *testing.T) {
	m, err := NewMulticast(Config{Port: 8080, PeerTimeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewMulticast failed: %v", err)
	}

	m.handleAnnounce("192.168.1.20", 9000)
	if peers := m.DiscoveredPeers(); len(peers) != 1 {
		t.Fatalf("discovered peers = %v, want 1 entry", peers)
	}

	time.Sleep(80 * time.Millisecond)
	m.evictExpired()

	if peers := m.DiscoveredPeers(); len(peers) != 0 {
		t.Fatalf("expired peer still listed: %v", peers)
	}
}

func TestRediscoveryAfterEviction(t *testing.T) {
	m, err := NewMulticast(Config{Port: 8080, PeerTimeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewMulticast failed: %v", err)
	}

	called := 0
	m.SetDiscoveredCallback(func(string, int) { called++ })

	m.handleAnnounce("192.168.1.20", 9000)
	time.Sleep(80 * time.Millisecond)
	m.evictExpired()
	m.handleAnnounce("192.168.1.20", 9000)

	if called != 2 {
		t.Fatalf("callback fired %d times, want 2 (rediscovery after expiry)", called)
	}
}

func TestNewMulticastRejectsInvalidPort(t *testing.T) {
	if _, err := NewMulticast(Config{Port: 0}); err == nil {
		t.Fatalf("expected error for port 0")
	}
	if _, err := NewMulticast(Config{Port: 70000}); err == nil {
		t.Fatalf("expected error for out-of-range port")
	}
}
