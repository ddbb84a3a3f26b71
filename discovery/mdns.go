package discovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
)

const (
	// MDNSService is the mDNS service name without domain suffix.
	MDNSService = "_linknet._tcp"
	// MDNSDomain is the mDNS browse domain.
	MDNSDomain = "local."
	// DefaultMDNSRefreshInterval is the background browse interval.
	DefaultMDNSRefreshInterval = 10 * time.Second
	// DefaultMDNSScanTimeout bounds each browse operation.
	DefaultMDNSScanTimeout = 3 * time.Second
)

// MDNSConfig controls the zeroconf announce/browse backend.
type MDNSConfig struct {
	// InstanceName is the advertised instance; it doubles as the self-skip
	// key when browsing.
	InstanceName string
	// Port is the local TCP listening port to advertise.
	Port int

	Service         string
	Domain          string
	RefreshInterval time.Duration
	ScanTimeout     time.Duration
}

func (c MDNSConfig) withDefaults() MDNSConfig {
	out := c
	if out.Service == "" {
		out.Service = MDNSService
	}
	if out.Domain == "" {
		out.Domain = MDNSDomain
	}
	if out.RefreshInterval <= 0 {
		out.RefreshInterval = DefaultMDNSRefreshInterval
	}
	if out.ScanTimeout <= 0 {
		out.ScanTimeout = DefaultMDNSScanTimeout
	}
	return out
}

// MDNS is an alternative discovery backend announcing the node as an mDNS
// service and browsing for others. Endpoints surface through the same
// first-sight callback as the multicast loop.
type MDNS struct {
	cfg MDNSConfig

	server *zeroconf.Server

	mu   sync.Mutex
	seen map[string]time.Time

	cbMu         sync.RWMutex
	onDiscovered DiscoveredFunc

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewMDNS creates the backend with defaults applied.
func NewMDNS(cfg MDNSConfig) (*MDNS, error) {
	if strings.TrimSpace(cfg.InstanceName) == "" {
		return nil, errors.New("discovery: mDNS instance name is required")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("discovery: invalid mDNS port %d", cfg.Port)
	}
	return &MDNS{
		cfg:  cfg.withDefaults(),
		seen: make(map[string]time.Time),
	}, nil
}

// SetDiscoveredCallback registers the first-sight callback.
func (m *MDNS) SetDiscoveredCallback(fn DiscoveredFunc) {
	m.cbMu.Lock()
	m.onDiscovered = fn
	m.cbMu.Unlock()
}

// Start registers the mDNS service and begins periodic browsing.
func (m *MDNS) Start() error {
	var startErr error
	m.startOnce.Do(func() {
		server, err := zeroconf.Register(
			m.cfg.InstanceName, m.cfg.Service, m.cfg.Domain, m.cfg.Port,
			[]string{"instance=" + m.cfg.InstanceName}, nil,
		)
		if err != nil {
			startErr = fmt.Errorf("discovery: register mDNS service: %w", err)
			return
		}
		m.server = server

		ctx, cancel := context.WithCancel(context.Background())
		m.cancel = cancel

		m.wg.Add(1)
		go m.browseLoop(ctx)
	})
	return startErr
}

// Stop shuts down the advertised service and the browse loop.
func (m *MDNS) Stop() {
	m.stopOnce.Do(func() {
		if m.cancel != nil {
			m.cancel()
		}
		m.wg.Wait()
		if m.server != nil {
			m.server.Shutdown()
		}
	})
}

func (m *MDNS) browseLoop(ctx context.Context) {
	defer m.wg.Done()

	m.browseOnce(ctx)

	ticker := time.NewTicker(m.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.browseOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (m *MDNS) browseOnce(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, m.cfg.ScanTimeout)
	defer cancel()

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return
	}

	entries := make(chan *zeroconf.ServiceEntry, 32)
	collectorDone := make(chan struct{})
	go func() {
		defer close(collectorDone)
		for {
			select {
			case <-ctx.Done():
				return
			case entry := <-entries:
				m.handleEntry(entry)
			}
		}
	}()

	if err := resolver.Browse(ctx, m.cfg.Service, m.cfg.Domain, entries); err != nil {
		cancel()
	}
	<-ctx.Done()
	<-collectorDone
}

func (m *MDNS) handleEntry(entry *zeroconf.ServiceEntry) {
	if entry == nil || entry.Instance == m.cfg.InstanceName {
		return
	}
	if len(entry.AddrIPv4) == 0 || entry.Port <= 0 {
		return
	}

	ip := entry.AddrIPv4[0].String()
	key := fmt.Sprintf("%s:%d", ip, entry.Port)

	m.mu.Lock()
	_, known := m.seen[key]
	m.seen[key] = time.Now()
	m.mu.Unlock()

	if known {
		return
	}

	m.cbMu.RLock()
	onDiscovered := m.onDiscovered
	m.cbMu.RUnlock()
	if onDiscovered != nil {
		onDiscovered(ip, entry.Port)
	}
}
