package chat

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"linknet/models"
	"linknet/network"
)

// fakeNet records sends and reports a fixed connected-peer set.
type fakeNet struct {
	mu        sync.Mutex
	sent      []network.Message
	broadcast []network.Message
	peers     []models.PeerInfo
	sendOK    bool
}

func (f *fakeNet) Send(_ models.PeerID, msg network.Message) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.sendOK {
		return false
	}
	f.sent = append(f.sent, msg)
	return true
}

func (f *fakeNet) Broadcast(msg network.Message) {
	f.mu.Lock()
	f.broadcast = append(f.broadcast, msg)
	f.mu.Unlock()
}

func (f *fakeNet) ConnectedPeers() []models.PeerInfo {
	return f.peers
}

func newPeerID(t *testing.T) models.PeerID {
	t.Helper()
	id, err := models.NewPeerID()
	if err != nil {
		t.Fatalf("NewPeerID failed: %v", err)
	}
	return id
}

func TestSendRecordsHistoryOnSuccess(t *testing.T) {
	net := &fakeNet{sendOK: true}
	d, err := NewDispatcher(Options{Network: net, LocalName: "alice"})
	if err != nil {
		t.Fatalf("NewDispatcher failed: %v", err)
	}

	peer := newPeerID(t)
	if !d.Send(peer, "hello") {
		t.Fatalf("Send returned false")
	}

	history := d.History(peer, 10)
	if len(history) != 1 {
		t.Fatalf("history length = %d, want 1", len(history))
	}
	if history[0].Content != "hello" || history[0].SenderName != "alice" {
		t.Fatalf("unexpected entry %#v", history[0])
	}
	if history[0].SenderID != d.LocalID() {
		t.Fatalf("entry sender is not the local ID")
	}
}

func TestSendFailureLeavesNoHistory(t *testing.T) {
	net := &fakeNet{sendOK: false}
	d, _ := NewDispatcher(Options{Network: net})

	peer := newPeerID(t)
	if d.Send(peer, "lost") {
		t.Fatalf("Send returned true on failure")
	}
	if len(d.History(peer, 10)) != 0 {
		t.Fatalf("failed send recorded history")
	}
}

func TestBroadcastRecordsEntryPerConnectedPeer(t *testing.T) {
	peerA := newPeerID(t)
	peerB := newPeerID(t)
	net := &fakeNet{
		sendOK: true,
		peers: []models.PeerInfo{
			{ID: peerA, Status: models.StatusConnected},
			{ID: peerB, Status: models.StatusConnected},
		},
	}
	d, _ := NewDispatcher(Options{Network: net})

	d.Broadcast("to all")

	if len(net.broadcast) != 1 {
		t.Fatalf("broadcast sent %d messages, want 1", len(net.broadcast))
	}
	if len(d.History(peerA, 10)) != 1 || len(d.History(peerB, 10)) != 1 {
		t.Fatalf("broadcast did not record history for every peer")
	}
}

func TestInboundChatIsConsumedAndReported(t *testing.T) {
	net := &fakeNet{sendOK: true}
	d, _ := NewDispatcher(Options{Network: net})

	var got models.ChatInfo
	called := 0
	d.SetChatCallback(func(entry models.ChatInfo) {
		got = entry
		called++
	})

	forwarded := 0
	d.SetNextHandler(network.HandlerFunc(func(network.Message) { forwarded++ }))

	sender := newPeerID(t)
	d.HandleMessage(network.NewChatMessage(sender, "hi"))

	if called != 1 {
		t.Fatalf("chat callback fired %d times, want 1", called)
	}
	if got.Content != "hi" || got.SenderID != sender || got.SenderName != "Unknown" {
		t.Fatalf("unexpected entry %#v", got)
	}
	if forwarded != 0 {
		t.Fatalf("chat message was forwarded to the next handler")
	}
	if len(d.History(sender, 10)) != 1 {
		t.Fatalf("inbound chat not recorded in history")
	}
}

func TestNonChatMessagesAreForwarded(t *testing.T) {
	net := &fakeNet{sendOK: true}
	d, _ := NewDispatcher(Options{Network: net})

	forwarded := make([]network.Message, 0, 1)
	d.SetNextHandler(network.HandlerFunc(func(m network.Message) {
		forwarded = append(forwarded, m)
	}))

	ping := network.NewPing(newPeerID(t))
	d.HandleMessage(ping)

	if len(forwarded) != 1 || forwarded[0] != network.Message(ping) {
		t.Fatalf("ping was not forwarded")
	}
}

func TestHistoryReturnsMostRecentOldestFirst(t *testing.T) {
	net := &fakeNet{sendOK: true}
	d, _ := NewDispatcher(Options{Network: net})

	peer := newPeerID(t)
	for i := 0; i < 5; i++ {
		d.Send(peer, fmt.Sprintf("msg-%d", i))
	}

	history := d.History(peer, 3)
	if len(history) != 3 {
		t.Fatalf("history length = %d, want 3", len(history))
	}
	for i, want := range []string{"msg-2", "msg-3", "msg-4"} {
		if history[i].Content != want {
			t.Fatalf("history[%d] = %q, want %q", i, history[i].Content, want)
		}
	}
}

func TestAllHistorySortsByTimestamp(t *testing.T) {
	net := &fakeNet{sendOK: true}
	d, _ := NewDispatcher(Options{Network: net})

	peerA := newPeerID(t)
	peerB := newPeerID(t)

	base := time.Now().Add(-time.Hour)
	d.mu.Lock()
	d.history[peerA] = []models.ChatInfo{
		{Content: "second", Timestamp: base.Add(2 * time.Minute)},
		{Content: "fourth", Timestamp: base.Add(4 * time.Minute)},
	}
	d.history[peerB] = []models.ChatInfo{
		{Content: "first", Timestamp: base.Add(1 * time.Minute)},
		{Content: "third", Timestamp: base.Add(3 * time.Minute)},
	}
	d.mu.Unlock()

	all := d.AllHistory(3)
	if len(all) != 3 {
		t.Fatalf("timeline length = %d, want 3", len(all))
	}
	for i, want := range []string{"second", "third", "fourth"} {
		if all[i].Content != want {
			t.Fatalf("timeline[%d] = %q, want %q", i, all[i].Content, want)
		}
	}
}

func TestHistoryIsBounded(t *testing.T) {
	net := &fakeNet{sendOK: true}
	d, _ := NewDispatcher(Options{Network: net, HistoryLimit: 10})

	peer := newPeerID(t)
	for i := 0; i < 25; i++ {
		d.Send(peer, fmt.Sprintf("msg-%d", i))
	}

	history := d.History(peer, 100)
	if len(history) != 10 {
		t.Fatalf("history length = %d, want 10", len(history))
	}
	if history[0].Content != "msg-15" {
		t.Fatalf("oldest retained entry = %q, want msg-15", history[0].Content)
	}
}
