package p2p

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/goldcoin/popnode/settings"
)

// BanReason is the category of misbehaviour a peer is scored for.
type BanReason int

const (
	ReasonUnknown BanReason = iota
	ReasonProtocolViolation
	ReasonSpam
	ReasonInvalidBlock
	ReasonInvalidTransaction
)

var banReasonNames = map[BanReason]string{
	ReasonProtocolViolation:  "protocol_violation",
	ReasonSpam:               "spam",
	ReasonInvalidBlock:       "invalid_block",
	ReasonInvalidTransaction: "invalid_transaction",
}

func (r BanReason) String() string {
	if name, ok := banReasonNames[r]; ok {
		return name
	}

	return "unknown"
}

// Points is what one occurrence of the reason adds to a peer's score.
func (r BanReason) Points() int {
	switch r {
	case ReasonSpam:
		return 50
	case ReasonProtocolViolation:
		return 20
	case ReasonInvalidBlock:
		return 10
	case ReasonInvalidTransaction:
		return 5
	default:
		return 1
	}
}

// BanEventHandler is notified when a peer gets banned.
type BanEventHandler interface {
	OnPeerBanned(peerID string, until time.Time, reason string)
}

type peerRecord struct {
	score       int
	lastDecay   time.Time
	bannedUntil time.Time
	reasons     []BanReason
}

func (p *peerRecord) banned() bool {
	return !p.bannedUntil.IsZero()
}

// decay lowers the score by amount for every full interval since the last decay.
func (p *peerRecord) decay(now time.Time, interval time.Duration, amount int) {
	steps := int(now.Sub(p.lastDecay) / interval)
	if steps <= 0 {
		return
	}

	p.score = max(0, p.score-steps*amount)
	p.lastDecay = p.lastDecay.Add(time.Duration(steps) * interval)
}

// PeerBanManager scores misbehaving peers. A peer whose score reaches the threshold is
// banned for the configured duration; scores decay while the peer behaves.
type PeerBanManager struct {
	mu            sync.Mutex
	peers         map[string]*peerRecord
	threshold     int
	banDuration   time.Duration
	decayInterval time.Duration
	decayAmount   int
	handler       BanEventHandler
	now           func() time.Time
}

// NewPeerBanManager creates a ban manager that prunes forgotten peers until ctx is done.
func NewPeerBanManager(ctx context.Context, handler BanEventHandler, tSettings *settings.Settings) *PeerBanManager {
	initPrometheusMetrics()

	m := &PeerBanManager{
		peers:         make(map[string]*peerRecord),
		threshold:     tSettings.P2P.BanThreshold,
		banDuration:   tSettings.P2P.BanDuration,
		decayInterval: time.Minute,
		decayAmount:   1,
		handler:       handler,
		now:           time.Now,
	}

	go m.pruneLoop(ctx)

	return m
}

func (m *PeerBanManager) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(m.decayInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Prune()
		}
	}
}

// Penalize scores one occurrence of reason against the peer and returns the new score and
// whether the peer is banned.
func (m *PeerBanManager) Penalize(peerID string, reason BanReason) (int, bool) {
	now := m.now()

	m.mu.Lock()

	p, ok := m.peers[peerID]
	if !ok {
		p = &peerRecord{lastDecay: now}
		m.peers[peerID] = p
	}

	p.decay(now, m.decayInterval, m.decayAmount)
	p.score += reason.Points()
	p.reasons = append(p.reasons, reason)

	justBanned := !p.banned() && p.score >= m.threshold
	if justBanned {
		p.bannedUntil = now.Add(m.banDuration)
	}

	score, banned, until := p.score, p.banned(), p.bannedUntil

	m.mu.Unlock()

	if justBanned {
		prometheusPeersBanned.Inc()

		if m.handler != nil {
			m.handler.OnPeerBanned(peerID, until, reason.String())
		}
	}

	return score, banned
}

// Score returns the peer's score, whether it is banned and until when.
func (m *PeerBanManager) Score(peerID string) (int, bool, time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.peers[peerID]
	if !ok {
		return 0, false, time.Time{}
	}

	return p.score, p.banned(), p.bannedUntil
}

// Reasons lists the reasons the peer was scored for, oldest first.
func (m *PeerBanManager) Reasons(peerID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.peers[peerID]
	if !ok {
		return nil
	}

	reasons := make([]string, len(p.reasons))
	for i, r := range p.reasons {
		reasons[i] = r.String()
	}

	return reasons
}

// Forgive drops everything known about the peer, lifting a ban.
func (m *PeerBanManager) Forgive(peerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.peers, peerID)
}

// IsBanned reports whether the peer is banned. An expired ban is lifted together with the
// peer's record.
func (m *PeerBanManager) IsBanned(peerID string) bool {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.peers[peerID]
	if !ok || !p.banned() {
		return false
	}

	if now.After(p.bannedUntil) {
		delete(m.peers, peerID)
		return false
	}

	return true
}

// Banned returns the sorted ids of the peers currently banned.
func (m *PeerBanManager) Banned() []string {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	var ids []string

	for id, p := range m.peers {
		if p.banned() && !now.After(p.bannedUntil) {
			ids = append(ids, id)
		}
	}

	slices.Sort(ids)

	return ids
}

// Prune forgets peers that are not banned and whose score has decayed to zero, and
// peers whose ban has expired.
func (m *PeerBanManager) Prune() {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	for id, p := range m.peers {
		if p.banned() {
			if now.After(p.bannedUntil) {
				delete(m.peers, id)
			}

			continue
		}

		p.decay(now, m.decayInterval, m.decayAmount)

		if p.score == 0 {
			delete(m.peers, id)
		}
	}
}
