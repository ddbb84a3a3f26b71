package models

// TransferStatus tracks one side of a file transfer.
type TransferStatus string

const (
	TransferPending     TransferStatus = "pending"
	TransferInProgress  TransferStatus = "in_progress"
	TransferAwaitingAck TransferStatus = "awaiting_ack"
	TransferCompleted   TransferStatus = "complete"
	TransferFailed      TransferStatus = "failed"
)

// TransferDirection distinguishes the two transfer tables.
type TransferDirection string

const (
	TransferSend    TransferDirection = "send"
	TransferReceive TransferDirection = "receive"
)

// TransferInfo is a by-value snapshot of one ongoing transfer.
type TransferInfo struct {
	Peer      PeerID
	FileID    string
	Path      string
	Direction TransferDirection
	Status    TransferStatus
	// Progress is bytes done over total, in [0, 1]. Zero when the declared
	// total is zero.
	Progress float64
}
