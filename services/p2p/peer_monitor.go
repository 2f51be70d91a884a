package p2p

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/goldcoin/popnode/settings"
	"github.com/goldcoin/popnode/ulogger"
	"github.com/kpango/fastime"
)

const (
	defaultPingInterval = 30 * time.Second
	defaultPeerTimeout  = 90 * time.Second
)

type peerState struct {
	firstSeen  time.Time
	lastSeen   time.Time
	lastWindow int64
	heard      int64
}

// PeerMonitor pings the network on an interval and drops the peers that stayed silent for
// longer than the peer timeout. Uptime is the share of ping intervals a peer was heard in
// since it was first seen.
type PeerMonitor struct {
	logger   ulogger.Logger
	interval time.Duration
	timeout  time.Duration
	ping     func(ctx context.Context) error
	now      func() time.Time

	mu      sync.Mutex
	peers   map[string]*peerState
	dropped func(id string)

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewPeerMonitor(logger ulogger.Logger, tSettings *settings.Settings, ping func(ctx context.Context) error) *PeerMonitor {
	initPrometheusMetrics()

	interval := defaultPingInterval
	timeout := defaultPeerTimeout

	if tSettings.P2P.PingInterval > 0 {
		interval = tSettings.P2P.PingInterval
	}

	if tSettings.P2P.PeerTimeout > 0 {
		timeout = tSettings.P2P.PeerTimeout
	}

	return &PeerMonitor{
		logger:   logger,
		interval: interval,
		timeout:  timeout,
		ping:     ping,
		now:      fastime.Now,
		peers:    make(map[string]*peerState),
		stopCh:   make(chan struct{}),
	}
}

// OnPeerDropped registers the handler called for every peer dropped on silence.
func (m *PeerMonitor) OnPeerDropped(fn func(id string)) {
	m.mu.Lock()
	m.dropped = fn
	m.mu.Unlock()
}

// Seen records a message from peer id.
func (m *PeerMonitor) Seen(id string) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.peers[id]
	if !ok {
		m.peers[id] = &peerState{firstSeen: now, lastSeen: now, heard: 1}
		prometheusPeers.Set(float64(len(m.peers)))

		return
	}

	p.lastSeen = now

	if window := int64(now.Sub(p.firstSeen) / m.interval); window != p.lastWindow {
		p.lastWindow = window
		p.heard++
	}
}

// Uptime is the share of ping intervals peer id was heard in, 0 for an unknown peer.
func (m *PeerMonitor) Uptime(id string) float64 {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.peers[id]
	if !ok {
		return 0
	}

	windows := int64(now.Sub(p.firstSeen)/m.interval) + 1

	return min(1, float64(p.heard)/float64(windows))
}

// Peers returns the ids of the live peers, sorted.
func (m *PeerMonitor) Peers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.peers))
	for id := range m.peers {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids
}

// Sweep drops the peers silent for longer than the timeout and returns their ids.
func (m *PeerMonitor) Sweep() []string {
	now := m.now()

	m.mu.Lock()

	var dropped []string

	for id, p := range m.peers {
		if now.Sub(p.lastSeen) > m.timeout {
			delete(m.peers, id)
			dropped = append(dropped, id)
		}
	}

	handler := m.dropped
	prometheusPeers.Set(float64(len(m.peers)))

	m.mu.Unlock()

	sort.Strings(dropped)

	for _, id := range dropped {
		m.logger.Infof("[PeerMonitor] dropping peer %s after %s of silence", id, m.timeout)

		if handler != nil {
			handler(id)
		}
	}

	return dropped
}

// Start pings right away and then on every interval, sweeping silent peers each time.
func (m *PeerMonitor) Start(ctx context.Context) {
	m.wg.Add(1)

	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		m.round(ctx)

		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.round(ctx)
			}
		}
	}()
}

func (m *PeerMonitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})

	m.wg.Wait()
}

func (m *PeerMonitor) round(ctx context.Context) {
	if err := m.ping(ctx); err != nil {
		m.logger.Debugf("[PeerMonitor] ping: %v", err)
	}

	m.Sweep()
}
