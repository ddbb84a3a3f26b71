package models

import "time"

// ChatInfo is one entry in the in-memory chat history.
type ChatInfo struct {
	SenderID   PeerID
	SenderName string
	Content    string
	Timestamp  time.Time
}
