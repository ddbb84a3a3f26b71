package discovery

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/ipv4"
)

const (
	// DefaultGroup is the multicast group address for LAN discovery.
	DefaultGroup = "239.255.0.1"
	// DefaultMulticastPort is the UDP port for announces.
	DefaultMulticastPort = 30001
	// AnnouncePrefix tags every discovery datagram.
	AnnouncePrefix = "LINKNET_DISCOVERY"
	// DefaultAnnounceInterval is the gap between announces.
	DefaultAnnounceInterval = 5 * time.Second
	// DefaultPeerTimeout evicts peers whose last announce is older than this.
	DefaultPeerTimeout = 30 * time.Second
)

// DiscoveredFunc is invoked the first time an endpoint is seen.
type DiscoveredFunc func(ip string, port int)

// Config controls the multicast announce/listen loops.
type Config struct {
	// Port is the local TCP listening port carried in announces.
	Port int

	Group            string
	MulticastPort    int
	AnnounceInterval time.Duration
	PeerTimeout      time.Duration
}

func (c Config) withDefaults() Config {
	out := c
	if out.Group == "" {
		out.Group = DefaultGroup
	}
	if out.MulticastPort <= 0 {
		out.MulticastPort = DefaultMulticastPort
	}
	if out.AnnounceInterval <= 0 {
		out.AnnounceInterval = DefaultAnnounceInterval
	}
	if out.PeerTimeout <= 0 {
		out.PeerTimeout = DefaultPeerTimeout
	}
	return out
}

// Multicast announces the local node over UDP multicast and tracks announces
// from other nodes. Endpoints are reported once on first sight and expire
// after the peer timeout.
type Multicast struct {
	cfg Config

	announceConn *net.UDPConn
	listenConn   net.PacketConn
	packetConn   *ipv4.PacketConn

	mu    sync.Mutex
	peers map[string]time.Time

	cbMu         sync.RWMutex
	onDiscovered DiscoveredFunc

	startOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup
	done      chan struct{}
}

// NewMulticast creates a discovery service announcing the given TCP port.
func NewMulticast(cfg Config) (*Multicast, error) {
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("discovery: invalid announce port %d", cfg.Port)
	}
	return &Multicast{
		cfg:   cfg.withDefaults(),
		peers: make(map[string]time.Time),
		done:  make(chan struct{}),
	}, nil
}

// SetDiscoveredCallback registers the first-sight callback; last
// registration wins.
func (m *Multicast) SetDiscoveredCallback(fn DiscoveredFunc) {
	m.cbMu.Lock()
	m.onDiscovered = fn
	m.cbMu.Unlock()
}

// Start opens both sockets and begins the announce and listen loops. On any
// socket failure nothing is left running and the error is returned; the
// caller may continue without discovery.
func (m *Multicast) Start() error {
	var startErr error
	m.startOnce.Do(func() {
		startErr = m.start()
	})
	return startErr
}

func (m *Multicast) start() error {
	group := net.ParseIP(m.cfg.Group)
	if group == nil {
		return fmt.Errorf("discovery: invalid multicast group %q", m.cfg.Group)
	}

	announceConn, err := net.DialUDP("udp4", nil, &net.UDPAddr{IP: group, Port: m.cfg.MulticastPort})
	if err != nil {
		return fmt.Errorf("discovery: open announce socket: %w", err)
	}

	lc := net.ListenConfig{Control: reuseAddr}
	listenConn, err := lc.ListenPacket(context.Background(), "udp4", net.JoinHostPort("0.0.0.0", strconv.Itoa(m.cfg.MulticastPort)))
	if err != nil {
		_ = announceConn.Close()
		return fmt.Errorf("discovery: bind listen socket: %w", err)
	}

	packetConn := ipv4.NewPacketConn(listenConn)
	if err := packetConn.JoinGroup(nil, &net.UDPAddr{IP: group}); err != nil {
		_ = announceConn.Close()
		_ = listenConn.Close()
		return fmt.Errorf("discovery: join multicast group: %w", err)
	}

	m.announceConn = announceConn
	m.listenConn = listenConn
	m.packetConn = packetConn

	m.wg.Add(2)
	go m.announceLoop()
	go m.listenLoop()
	return nil
}

// Stop closes both sockets to unblock the loops and waits for them to exit.
func (m *Multicast) Stop() {
	m.stopOnce.Do(func() {
		close(m.done)
		if m.announceConn != nil {
			_ = m.announceConn.Close()
		}
		if m.listenConn != nil {
			_ = m.listenConn.Close()
		}
		m.wg.Wait()
	})
}

// DiscoveredPeers returns the "ip:port" keys whose last announce is within
// the peer timeout, sorted.
func (m *Multicast) DiscoveredPeers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.peers))
	cutoff := time.Now().Add(-m.cfg.PeerTimeout)
	for key, lastSeen := range m.peers {
		if lastSeen.After(cutoff) {
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out
}

func (m *Multicast) announceLoop() {
	defer m.wg.Done()

	payload := []byte(fmt.Sprintf("%s:%d", AnnouncePrefix, m.cfg.Port))

	ticker := time.NewTicker(m.cfg.AnnounceInterval)
	defer ticker.Stop()

	for {
		_, _ = m.announceConn.Write(payload)
		m.evictExpired()

		select {
		case <-ticker.C:
		case <-m.done:
			return
		}
	}
}

func (m *Multicast) listenLoop() {
	defer m.wg.Done()

	buf := make([]byte, 256)
	for {
		n, _, src, err := m.packetConn.ReadFrom(buf)
		if err != nil {
			select {
			case <-m.done:
				return
			default:
				continue
			}
		}

		udpAddr, ok := src.(*net.UDPAddr)
		if !ok {
			continue
		}
		port, ok := parseAnnounce(string(buf[:n]))
		if !ok {
			continue
		}
		m.handleAnnounce(udpAddr.IP.String(), port)
	}
}

// handleAnnounce refreshes the last-seen timestamp for an endpoint and
// reports it on first sight. Announces carrying our own port are our own
// multicast echo and are skipped.
func (m *Multicast) handleAnnounce(ip string, port int) {
	if port == m.cfg.Port {
		return
	}

	key := net.JoinHostPort(ip, strconv.Itoa(port))

	m.mu.Lock()
	_, known := m.peers[key]
	m.peers[key] = time.Now()
	m.mu.Unlock()

	if known {
		return
	}

	m.cbMu.RLock()
	onDiscovered := m.onDiscovered
	m.cbMu.RUnlock()
	if onDiscovered != nil {
		onDiscovered(ip, port)
	}
}

func (m *Multicast) evictExpired() {
	cutoff := time.Now().Add(-m.cfg.PeerTimeout)

	m.mu.Lock()
	for key, lastSeen := range m.peers {
		if lastSeen.Before(cutoff) {
			delete(m.peers, key)
		}
	}
	m.mu.Unlock()
}

// parseAnnounce extracts the TCP port from a discovery payload.
func parseAnnounce(payload string) (int, bool) {
	rest, ok := strings.CutPrefix(payload, AnnouncePrefix+":")
	if !ok {
		return 0, false
	}
	port, err := strconv.Atoi(rest)
	if err != nil || port <= 0 || port > 65535 {
		return 0, false
	}
	return port, true
}
