package storage

import (
	"errors"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenPath(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("OpenPath failed: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
	})
	return store
}

func TestRecordAndGetTransfer(t *testing.T) {
	store := openTestStore(t)

	id, err := store.RecordTransfer(TransferRecord{
		PeerID:    "abc123",
		Direction: "send",
		Filename:  "report.pdf",
		Filesize:  4096,
		Path:      "/tmp/report.pdf",
		Status:    "in_progress",
	})
	if err != nil {
		t.Fatalf("RecordTransfer failed: %v", err)
	}
	if id == "" {
		t.Fatalf("expected generated transfer id")
	}

	record, err := store.GetTransfer(id)
	if err != nil {
		t.Fatalf("GetTransfer failed: %v", err)
	}
	if record.Filename != "report.pdf" || record.Direction != "send" || record.Status != "in_progress" {
		t.Fatalf("unexpected record %#v", record)
	}
	if record.StartedAt == 0 {
		t.Fatalf("started_at was not stamped")
	}
	if record.FinishedAt != nil {
		t.Fatalf("finished_at set on an in-progress transfer")
	}
}

func TestUpdateTransferStatusStampsFinish(t *testing.T) {
	store := openTestStore(t)

	id, err := store.RecordTransfer(TransferRecord{
		PeerID:    "abc123",
		Direction: "receive",
		Filename:  "photo.jpg",
		Filesize:  1024,
		Path:      "./downloads/photo.jpg",
	})
	if err != nil {
		t.Fatalf("RecordTransfer failed: %v", err)
	}

	if err := store.UpdateTransferStatus(id, "complete"); err != nil {
		t.Fatalf("UpdateTransferStatus failed: %v", err)
	}

	record, err := store.GetTransfer(id)
	if err != nil {
		t.Fatalf("GetTransfer failed: %v", err)
	}
	if record.Status != "complete" {
		t.Fatalf("status = %q, want complete", record.Status)
	}
	if record.FinishedAt == nil {
		t.Fatalf("finished_at not stamped on completion")
	}
}

func TestUpdateTransferStatusMissingRow(t *testing.T) {
	store := openTestStore(t)

	if err := store.UpdateTransferStatus("missing", "failed"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRecordTransferValidation(t *testing.T) {
	store := openTestStore(t)

	if _, err := store.RecordTransfer(TransferRecord{Direction: "send", Filename: "f"}); err == nil {
		t.Fatalf("expected error for missing peer_id")
	}
	if _, err := store.RecordTransfer(TransferRecord{PeerID: "p", Direction: "sideways", Filename: "f"}); err == nil {
		t.Fatalf("expected error for invalid direction")
	}
	if _, err := store.RecordTransfer(TransferRecord{PeerID: "p", Direction: "send", Filename: "f", Status: "odd"}); err == nil {
		t.Fatalf("expected error for invalid status")
	}
}

func TestListTransfersFiltersByPeer(t *testing.T) {
	store := openTestStore(t)

	for _, peer := range []string{"peer-a", "peer-a", "peer-b"} {
		if _, err := store.RecordTransfer(TransferRecord{
			PeerID:    peer,
			Direction: "send",
			Filename:  "file.bin",
			Filesize:  10,
			Path:      "/tmp/file.bin",
		}); err != nil {
			t.Fatalf("RecordTransfer failed: %v", err)
		}
	}

	all, err := store.ListTransfers("")
	if err != nil {
		t.Fatalf("ListTransfers failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("listed %d transfers, want 3", len(all))
	}

	filtered, err := store.ListTransfers("peer-a")
	if err != nil {
		t.Fatalf("ListTransfers failed: %v", err)
	}
	if len(filtered) != 2 {
		t.Fatalf("listed %d transfers for peer-a, want 2", len(filtered))
	}
}
