package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TransferRecord is one row of the transfer journal.
type TransferRecord struct {
	TransferID string
	PeerID     string
	Direction  string
	Filename   string
	Filesize   int64
	Path       string
	Status     string
	StartedAt  int64
	FinishedAt *int64
}

var validStatuses = map[string]bool{
	"pending":      true,
	"in_progress":  true,
	"awaiting_ack": true,
	"complete":     true,
	"failed":       true,
}

func validateStatus(status string) error {
	if !validStatuses[status] {
		return fmt.Errorf("invalid transfer status %q", status)
	}
	return nil
}

func validateDirection(direction string) error {
	if direction != "send" && direction != "receive" {
		return fmt.Errorf("invalid transfer direction %q", direction)
	}
	return nil
}

// RecordTransfer inserts a new journal row and returns its generated id.
func (s *Store) RecordTransfer(record TransferRecord) (string, error) {
	if record.PeerID == "" {
		return "", errors.New("peer_id is required")
	}
	if record.Filename == "" {
		return "", errors.New("filename is required")
	}
	if err := validateDirection(record.Direction); err != nil {
		return "", err
	}
	if record.Status == "" {
		record.Status = "pending"
	}
	if err := validateStatus(record.Status); err != nil {
		return "", err
	}
	if record.TransferID == "" {
		record.TransferID = uuid.NewString()
	}
	if record.StartedAt == 0 {
		record.StartedAt = time.Now().UnixMilli()
	}

	_, err := s.db.Exec(
		`INSERT INTO transfers (
			transfer_id,
			peer_id,
			direction,
			filename,
			filesize,
			path,
			status,
			started_at,
			finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.TransferID,
		record.PeerID,
		record.Direction,
		record.Filename,
		record.Filesize,
		record.Path,
		record.Status,
		record.StartedAt,
		nullInt64(record.FinishedAt),
	)
	if err != nil {
		return "", fmt.Errorf("insert transfer %q: %w", record.TransferID, err)
	}
	return record.TransferID, nil
}

// UpdateTransferStatus updates one journal row; terminal statuses also stamp
// the finish time.
func (s *Store) UpdateTransferStatus(transferID, status string) error {
	if transferID == "" {
		return errors.New("transfer_id is required")
	}
	if err := validateStatus(status); err != nil {
		return err
	}

	var finishedAt any
	if status == "complete" || status == "failed" {
		finishedAt = time.Now().UnixMilli()
	}

	res, err := s.db.Exec(
		`UPDATE transfers
		SET status = ?, finished_at = COALESCE(?, finished_at)
		WHERE transfer_id = ?`,
		status,
		finishedAt,
		transferID,
	)
	if err != nil {
		return fmt.Errorf("update transfer status %q: %w", transferID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read rows affected for transfer %q: %w", transferID, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetTransfer fetches one journal row by id.
func (s *Store) GetTransfer(transferID string) (*TransferRecord, error) {
	row := s.db.QueryRow(
		`SELECT
			transfer_id,
			peer_id,
			direction,
			filename,
			filesize,
			path,
			status,
			started_at,
			finished_at
		FROM transfers
		WHERE transfer_id = ?`,
		transferID,
	)

	record, err := scanTransfer(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get transfer %q: %w", transferID, err)
	}
	return record, nil
}

// ListTransfers returns journal rows newest first, optionally filtered by
// peer.
func (s *Store) ListTransfers(peerID string) ([]TransferRecord, error) {
	query := `SELECT
		transfer_id,
		peer_id,
		direction,
		filename,
		filesize,
		path,
		status,
		started_at,
		finished_at
	FROM transfers`
	args := make([]any, 0, 1)
	if peerID != "" {
		query += " WHERE peer_id = ?"
		args = append(args, peerID)
	}
	query += " ORDER BY started_at DESC, transfer_id"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transfers: %w", err)
	}
	defer rows.Close()

	records := make([]TransferRecord, 0)
	for rows.Next() {
		record, scanErr := scanTransfer(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan transfer row: %w", scanErr)
		}
		records = append(records, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transfer rows: %w", err)
	}
	return records, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTransfer(row scanner) (*TransferRecord, error) {
	var record TransferRecord
	var finishedAt sql.NullInt64
	if err := row.Scan(
		&record.TransferID,
		&record.PeerID,
		&record.Direction,
		&record.Filename,
		&record.Filesize,
		&record.Path,
		&record.Status,
		&record.StartedAt,
		&finishedAt,
	); err != nil {
		return nil, err
	}
	if finishedAt.Valid {
		value := finishedAt.Int64
		record.FinishedAt = &value
	}
	return &record, nil
}

func nullInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
