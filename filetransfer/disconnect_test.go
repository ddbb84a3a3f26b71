package filetransfer

import (
	"testing"
	"time"

	"linknet/models"
	"linknet/network"
)

func TestPeerDisconnectFailsActiveTransfers(t *testing.T) {
	net := &recorderNet{}
	engine, _ := NewEngine(Options{LocalID: newTestID(t), Network: net})
	t.Cleanup(engine.Stop)

	peer := newTestID(t)
	otherPeer := newTestID(t)

	source, _ := writeTempFile(t, "doomed.bin", 512)
	if err := engine.SendFile(peer, source); err != nil {
		t.Fatalf("SendFile failed: %v", err)
	}
	otherSource, _ := writeTempFile(t, "survivor.bin", 512)
	if err := engine.SendFile(otherPeer, otherSource); err != nil {
		t.Fatalf("SendFile failed: %v", err)
	}

	done := make(chan completion, 1)
	engine.SetCompletedCallback(func(_ models.PeerID, path string, ok bool, errText string) {
		done <- completion{path: path, ok: ok, errText: errText}
	})

	engine.HandlePeerDisconnected(peer)

	select {
	case result := <-done:
		if result.ok {
			t.Fatalf("expected failed completion after disconnect")
		}
		if result.path != source {
			t.Fatalf("failed path = %q, want %q", result.path, source)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for disconnect completion")
	}

	ongoing := engine.Ongoing()
	if len(ongoing) != 1 {
		t.Fatalf("ongoing = %d transfers, want 1 survivor", len(ongoing))
	}
	if ongoing[0].Peer != otherPeer {
		t.Fatalf("wrong transfer survived")
	}
}

func TestPeerDisconnectDropsIncomingTransfer(t *testing.T) {
	net := &recorderNet{}
	engine, _ := NewEngine(Options{
		LocalID:      newTestID(t),
		Network:      net,
		DownloadsDir: t.TempDir(),
		ChunkSize:    4,
	})

	sender := newTestID(t)
	engine.HandleMessage(network.NewFileTransferRequest(sender, "partial.bin", 8))
	engine.HandleMessage(network.NewFileChunk(sender, "partial.bin", 0, []byte("abcd")))

	if len(engine.Ongoing()) != 1 {
		t.Fatalf("incoming transfer not tracked")
	}

	engine.HandlePeerDisconnected(sender)

	if len(engine.Ongoing()) != 0 {
		t.Fatalf("incoming transfer survived disconnect")
	}
}
