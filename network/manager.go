package network

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"linknet/models"
)

// DefaultDialTimeout bounds outbound TCP connects.
const DefaultDialTimeout = 10 * time.Second

// ManagerOptions configures a network manager.
type ManagerOptions struct {
	// LocalID is the sender identifier stamped on messages the manager
	// emits itself (pings, pongs, connection notifications). Generated when
	// zero.
	LocalID models.PeerID

	DialTimeout time.Duration

	// PingInterval enables a keep-alive loop pinging every connected
	// session. Zero disables it.
	PingInterval time.Duration
}

// Manager accepts inbound connections, opens outbound ones, owns the table
// of live sessions, and dispatches sends and broadcasts. Inbound messages
// are published through a single-slot callback; subsystems chain behind it
// via the Handler interface.
type Manager struct {
	options ManagerOptions

	listener net.Listener
	wg       sync.WaitGroup
	stopOnce sync.Once
	done     chan struct{}

	mu       sync.Mutex
	sessions map[models.PeerID]*Session
	running  bool

	cbMu         sync.RWMutex
	onMessage    func(Message)
	onConnection func(models.PeerID, models.ConnectionStatus)
	onError      func(string)
}

// NewManager creates a manager with defaults applied.
func NewManager(options ManagerOptions) (*Manager, error) {
	if options.LocalID.IsZero() {
		id, err := models.NewPeerID()
		if err != nil {
			return nil, err
		}
		options.LocalID = id
	}
	if options.DialTimeout <= 0 {
		options.DialTimeout = DefaultDialTimeout
	}

	return &Manager{
		options:  options,
		sessions: make(map[models.PeerID]*Session),
		done:     make(chan struct{}),
	}, nil
}

// LocalID returns the manager's own sender identifier.
func (m *Manager) LocalID() models.PeerID {
	return m.options.LocalID
}

// Start binds the TCP listener on 0.0.0.0:port and begins accepting. A port
// that is unavailable yields ErrBind.
func (m *Manager) Start(port int) error {
	addr := net.JoinHostPort("0.0.0.0", strconv.Itoa(port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrBind, addr, err)
	}

	m.mu.Lock()
	m.listener = listener
	m.running = true
	m.mu.Unlock()

	m.wg.Add(1)
	go m.acceptLoop(listener)

	if m.options.PingInterval > 0 {
		m.wg.Add(1)
		go m.keepAliveLoop()
	}
	return nil
}

// Addr returns the bound listener address, or nil before Start.
func (m *Manager) Addr() net.Addr {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listener == nil {
		return nil
	}
	return m.listener.Addr()
}

// Port returns the bound TCP port, or 0 before Start.
func (m *Manager) Port() int {
	addr, ok := m.Addr().(*net.TCPAddr)
	if !ok {
		return 0
	}
	return addr.Port
}

// Stop closes the listener and every session, then joins the accept loop.
// It is idempotent.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.done)
		m.mu.Lock()
		m.running = false
		listener := m.listener
		sessions := make([]*Session, 0, len(m.sessions))
		for _, s := range m.sessions {
			sessions = append(sessions, s)
		}
		m.mu.Unlock()

		if listener != nil {
			_ = listener.Close()
		}
		for _, s := range sessions {
			s.Close()
		}
		m.wg.Wait()
	})
}

// Connect resolves and dials address:port, registers a session for it, and
// notifies the remote with a Connected status message. On failure the error
// callback fires and the error is returned.
func (m *Manager) Connect(address string, port int) (models.PeerID, error) {
	endpoint := net.JoinHostPort(address, strconv.Itoa(port))
	conn, err := net.DialTimeout("tcp", endpoint, m.options.DialTimeout)
	if err != nil {
		m.reportError(fmt.Sprintf("connect %s: %v", endpoint, err))
		return models.PeerID{}, fmt.Errorf("connect %s: %w", endpoint, err)
	}

	session, err := m.register(conn)
	if err != nil {
		_ = conn.Close()
		m.reportError(fmt.Sprintf("connect %s: %v", endpoint, err))
		return models.PeerID{}, err
	}

	if err := session.Send(NewConnectionNotification(m.options.LocalID, models.StatusConnected)); err != nil {
		m.reportError(fmt.Sprintf("notify %s: %v", endpoint, err))
	}
	return session.PeerID(), nil
}

// Disconnect closes the session for peerID if one exists and removes it from
// the table.
func (m *Manager) Disconnect(peerID models.PeerID) {
	m.mu.Lock()
	session := m.sessions[peerID]
	m.mu.Unlock()
	if session != nil {
		session.Close()
	}
}

// Send delivers one message to a peer. It returns false when no session
// exists for the peer or the session is not connected.
func (m *Manager) Send(peerID models.PeerID, msg Message) bool {
	m.mu.Lock()
	session := m.sessions[peerID]
	m.mu.Unlock()

	if session == nil || !session.IsConnected() {
		return false
	}
	if err := session.Send(msg); err != nil {
		m.reportError(fmt.Sprintf("send %s to %s: %v", msg.Kind(), peerID.Short(), err))
		return false
	}
	return true
}

// Broadcast sends one message to every connected session. Individual send
// failures are reported through the error callback and do not fail the
// broadcast.
func (m *Manager) Broadcast(msg Message) {
	for _, session := range m.snapshot() {
		if !session.IsConnected() {
			continue
		}
		if err := session.Send(msg); err != nil {
			m.reportError(fmt.Sprintf("broadcast %s to %s: %v", msg.Kind(), session.PeerID().Short(), err))
		}
	}
}

// ConnectedPeers returns a snapshot of the live session table.
func (m *Manager) ConnectedPeers() []models.PeerInfo {
	sessions := m.snapshot()
	peers := make([]models.PeerInfo, 0, len(sessions))
	for _, session := range sessions {
		if session.IsConnected() {
			peers = append(peers, session.PeerInfo())
		}
	}
	return peers
}

// SetMessageCallback registers the inbound message callback. The last
// registration wins; chain a Handler to fan out to multiple consumers.
func (m *Manager) SetMessageCallback(fn func(Message)) {
	m.cbMu.Lock()
	m.onMessage = fn
	m.cbMu.Unlock()
}

// SetHandler routes inbound messages to the head of a handler chain.
func (m *Manager) SetHandler(h Handler) {
	m.SetMessageCallback(h.HandleMessage)
}

// SetConnectionCallback registers the session status callback.
func (m *Manager) SetConnectionCallback(fn func(models.PeerID, models.ConnectionStatus)) {
	m.cbMu.Lock()
	m.onConnection = fn
	m.cbMu.Unlock()
}

// SetErrorCallback registers the asynchronous error callback.
func (m *Manager) SetErrorCallback(fn func(string)) {
	m.cbMu.Lock()
	m.onError = fn
	m.cbMu.Unlock()
}

func (m *Manager) acceptLoop(listener net.Listener) {
	defer m.wg.Done()
	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			m.reportError(fmt.Sprintf("accept: %v", err))
			continue
		}

		if _, err := m.register(conn); err != nil {
			_ = conn.Close()
			m.reportError(fmt.Sprintf("register inbound connection: %v", err))
		}
	}
}

// register creates a session for conn, inserts it into the peer table, and
// starts its read loop. The freshly generated PeerID keys the table, so two
// sessions to the same remote host coexist.
func (m *Manager) register(conn net.Conn) (*Session, error) {
	session, err := newSession(conn, m.dispatch, m.handleSessionStatus)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil, errors.New("network: manager is not running")
	}
	m.sessions[session.PeerID()] = session
	m.mu.Unlock()

	session.Start()
	return session, nil
}

// dispatch runs on a session's read loop: pings are answered in place,
// everything is forwarded to the registered message callback.
//
// The stamped sender of an inbound message is the remote's own ephemeral
// identifier, which names nothing on this node. It is rewritten to the
// session's local PeerID, the key Send and Disconnect operate on, so
// handlers can route replies straight through the peer table.
func (m *Manager) dispatch(session *Session, msg Message) {
	msg.setSender(session.PeerID())

	if _, ok := msg.(*Ping); ok {
		if err := session.Send(NewPong(m.options.LocalID)); err != nil {
			m.reportError(fmt.Sprintf("pong %s: %v", session.PeerID().Short(), err))
		}
	}

	m.cbMu.RLock()
	onMessage := m.onMessage
	m.cbMu.RUnlock()
	if onMessage != nil {
		onMessage(msg)
	}
}

// keepAliveLoop pings every connected session on each tick. Pings are
// answered in the remote's dispatch path, so an unanswered session simply
// surfaces as a write failure on a later send.
func (m *Manager) keepAliveLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.options.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for _, session := range m.snapshot() {
				if !session.IsConnected() {
					continue
				}
				_ = session.Send(NewPing(m.options.LocalID))
			}
		case <-m.done:
			return
		}
	}
}

func (m *Manager) handleSessionStatus(peerID models.PeerID, status models.ConnectionStatus) {
	if status == models.StatusDisconnected {
		m.mu.Lock()
		delete(m.sessions, peerID)
		m.mu.Unlock()
	}

	m.cbMu.RLock()
	onConnection := m.onConnection
	m.cbMu.RUnlock()
	if onConnection != nil {
		onConnection(peerID, status)
	}
}

func (m *Manager) snapshot() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		sessions = append(sessions, session)
	}
	return sessions
}

func (m *Manager) reportError(text string) {
	m.cbMu.RLock()
	onError := m.onError
	m.cbMu.RUnlock()
	if onError != nil {
		onError(text)
	}
}
