package models

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"strconv"
)

// PeerIDSize is the length of a peer identifier in bytes.
const PeerIDSize = 32

// PeerID is the ephemeral identifier assigned to a session. A fresh one is
// generated per connection and never reused across reconnects.
type PeerID [PeerIDSize]byte

// NewPeerID returns a random peer identifier from the system CSPRNG.
func NewPeerID() (PeerID, error) {
	var id PeerID
	if _, err := rand.Read(id[:]); err != nil {
		return PeerID{}, fmt.Errorf("generate peer ID: %w", err)
	}
	return id, nil
}

// String returns the full hex encoding of the identifier.
func (id PeerID) String() string {
	return hex.EncodeToString(id[:])
}

// Short returns the first eight hex characters, for logs and prompts.
func (id PeerID) Short() string {
	return hex.EncodeToString(id[:4])
}

// IsZero reports whether the identifier is the all-zero value.
func (id PeerID) IsZero() bool {
	return id == PeerID{}
}

// ConnectionStatus is the lifecycle state of one peer session. The numeric
// values are carried on the wire in ConnectionNotification messages.
type ConnectionStatus uint8

const (
	StatusDisconnected ConnectionStatus = 0
	StatusConnecting   ConnectionStatus = 1
	StatusConnected    ConnectionStatus = 2
	StatusErrored      ConnectionStatus = 3
)

func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusErrored:
		return "errored"
	default:
		return "unknown(" + strconv.Itoa(int(s)) + ")"
	}
}

// PeerInfo is a by-value projection of a live session.
type PeerInfo struct {
	ID      PeerID
	Name    string
	Address string
	Port    int
	Status  ConnectionStatus
}

// Endpoint returns the peer address formatted as "ip:port".
func (p PeerInfo) Endpoint() string {
	return net.JoinHostPort(p.Address, strconv.Itoa(p.Port))
}
