package models

import (
	"encoding/hex"

	"github.com/google/uuid"
)

// MessageIDSize is the length of a message identifier in bytes.
const MessageIDSize = 16

// MessageID is the random identifier carried by every message, used for
// deduplication and acknowledgement correlation.
type MessageID [MessageIDSize]byte

// NewMessageID returns a fresh random message identifier.
func NewMessageID() MessageID {
	return MessageID(uuid.New())
}

// String returns the full hex encoding of the identifier.
func (id MessageID) String() string {
	return hex.EncodeToString(id[:])
}
