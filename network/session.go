package network

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"

	"linknet/models"
)

// Session owns one framed TCP connection to a remote peer. It is created on
// accept or on a successful outbound connect, assigned a fresh random
// PeerID, and destroyed on close or error.
type Session struct {
	conn net.Conn

	id         models.PeerID
	remoteHost string
	remotePort int

	onMessage func(*Session, Message)
	onStatus  func(models.PeerID, models.ConnectionStatus)

	sendMu sync.Mutex

	statusMu sync.Mutex
	status   models.ConnectionStatus

	closeOnce sync.Once
	closed    chan struct{}
}

func newSession(conn net.Conn, onMessage func(*Session, Message), onStatus func(models.PeerID, models.ConnectionStatus)) (*Session, error) {
	id, err := models.NewPeerID()
	if err != nil {
		return nil, err
	}

	host, port := splitEndpoint(conn.RemoteAddr())
	return &Session{
		conn:       conn,
		id:         id,
		remoteHost: host,
		remotePort: port,
		onMessage:  onMessage,
		onStatus:   onStatus,
		status:     models.StatusConnecting,
		closed:     make(chan struct{}),
	}, nil
}

// Start marks the session connected and begins the read loop. Each frame is
// read in full, parsed, and handed to the inbound callback; any I/O or parse
// error closes the session.
func (s *Session) Start() {
	s.setStatus(models.StatusConnected)
	go s.readLoop()
}

// Send serializes the message and writes the length prefix plus body as one
// write. It fails with ErrSessionClosed when the session is not connected; a
// write failure moves the session to Errored and then Disconnected.
func (s *Session) Send(m Message) error {
	if s.Status() != models.StatusConnected {
		return ErrSessionClosed
	}

	body := Marshal(m)

	s.sendMu.Lock()
	err := WriteFrame(s.conn, body)
	s.sendMu.Unlock()

	if err != nil {
		s.closeWithError()
		return fmt.Errorf("send %s: %w", m.Kind(), err)
	}
	return nil
}

// Close shuts the session down. It is idempotent; pending reads and writes
// are cancelled by closing the socket.
func (s *Session) Close() {
	s.close(false)
}

// Done is closed when the session is fully disconnected.
func (s *Session) Done() <-chan struct{} {
	return s.closed
}

// IsConnected reports whether the session accepts sends.
func (s *Session) IsConnected() bool {
	return s.Status() == models.StatusConnected
}

// Status returns the current connection status.
func (s *Session) Status() models.ConnectionStatus {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	return s.status
}

// PeerID returns the identifier assigned to this session.
func (s *Session) PeerID() models.PeerID {
	return s.id
}

// PeerInfo returns a by-value projection of the session.
func (s *Session) PeerInfo() models.PeerInfo {
	return models.PeerInfo{
		ID:      s.id,
		Name:    "peer-" + s.id.Short(),
		Address: s.remoteHost,
		Port:    s.remotePort,
		Status:  s.Status(),
	}
}

func (s *Session) readLoop() {
	for {
		body, err := ReadFrame(s.conn)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				s.close(false)
			} else {
				s.closeWithError()
			}
			return
		}

		msg, err := ParseFrame(body)
		if err != nil {
			s.closeWithError()
			return
		}

		if s.onMessage != nil {
			s.onMessage(s, msg)
		}
	}
}

// setStatus applies one state transition and reports it exactly once.
func (s *Session) setStatus(status models.ConnectionStatus) {
	s.statusMu.Lock()
	if s.status == status {
		s.statusMu.Unlock()
		return
	}
	s.status = status
	s.statusMu.Unlock()

	if s.onStatus != nil {
		s.onStatus(s.id, status)
	}
}

func (s *Session) closeWithError() {
	s.close(true)
}

func (s *Session) close(errored bool) {
	s.closeOnce.Do(func() {
		if errored {
			s.setStatus(models.StatusErrored)
		}
		_ = s.conn.Close()
		s.setStatus(models.StatusDisconnected)
		close(s.closed)
	})
}

func splitEndpoint(addr net.Addr) (string, int) {
	if addr == nil {
		return "", 0
	}
	host, portText, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String(), 0
	}
	port, err := strconv.Atoi(portText)
	if err != nil {
		return host, 0
	}
	return host, port
}
