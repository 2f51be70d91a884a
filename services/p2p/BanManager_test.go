package p2p

import (
	"context"
	"testing"
	"time"

	"github.com/goldcoin/popnode/util/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testBanHandler struct {
	calls      int
	lastPeerID string
	lastUntil  time.Time
	lastReason string
}

func (h *testBanHandler) OnPeerBanned(peerID string, until time.Time, reason string) {
	h.calls++
	h.lastPeerID = peerID
	h.lastUntil = until
	h.lastReason = reason
}

func newTestBanManager(t *testing.T, handler BanEventHandler, threshold int) (*PeerBanManager, *time.Time) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	tSettings := test.CreateBaseTestSettings()
	tSettings.P2P.BanThreshold = threshold
	tSettings.P2P.BanDuration = 2 * time.Hour

	m := NewPeerBanManager(ctx, handler, tSettings)

	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	return m, &now
}

func TestPenalize_BanAndDecay(t *testing.T) {
	handler := &testBanHandler{}
	m, now := newTestBanManager(t, handler, 30)

	m.decayInterval = time.Second
	m.decayAmount = 5

	score, banned := m.Penalize("peer1", ReasonInvalidBlock)
	assert.Equal(t, 10, score)
	assert.False(t, banned)

	score, banned = m.Penalize("peer1", ReasonProtocolViolation)
	assert.Equal(t, 30, score)
	assert.True(t, banned)
	assert.Equal(t, "peer1", handler.lastPeerID)
	assert.Equal(t, ReasonProtocolViolation.String(), handler.lastReason)
	assert.Equal(t, now.Add(2*time.Hour), handler.lastUntil)

	*now = now.Add(3 * time.Second)

	score, banned = m.Penalize("peer1", ReasonInvalidTransaction)
	assert.Equal(t, 30-15+5, score)
	assert.True(t, banned)
	assert.Equal(t, 1, handler.calls, "a banned peer is reported once")
}

func TestPenalize_UnknownReason(t *testing.T) {
	m, _ := newTestBanManager(t, nil, 100)

	score, banned := m.Penalize("peer2", ReasonUnknown)
	assert.Equal(t, 1, score)
	assert.False(t, banned)
}

func TestForgiveAndPrune(t *testing.T) {
	m, now := newTestBanManager(t, nil, 100)

	m.Penalize("peer3", ReasonInvalidBlock)
	score, _, _ := m.Score("peer3")
	assert.Equal(t, 10, score)

	m.Forgive("peer3")
	assert.Nil(t, m.Reasons("peer3"))

	m.Penalize("peer3", ReasonInvalidTransaction)
	m.Prune()
	assert.NotNil(t, m.Reasons("peer3"), "a peer with a score is kept")

	*now = now.Add(5 * time.Minute)
	m.Prune()
	assert.Nil(t, m.Reasons("peer3"), "a fully decayed peer is forgotten")
}

func TestScoreAndReasons(t *testing.T) {
	m, _ := newTestBanManager(t, nil, 100)

	m.Penalize("peer4", ReasonInvalidBlock)
	m.Penalize("peer4", ReasonSpam)

	score, banned, until := m.Score("peer4")
	assert.Equal(t, 60, score)
	assert.False(t, banned)
	assert.True(t, until.IsZero())

	reasons := m.Reasons("peer4")
	require.Len(t, reasons, 2)
	assert.Equal(t, ReasonInvalidBlock.String(), reasons[0])
	assert.Equal(t, ReasonSpam.String(), reasons[1])

	assert.Nil(t, m.Reasons("nobody"))
}

func TestIsBannedAndBanned(t *testing.T) {
	m, now := newTestBanManager(t, nil, 10)

	m.Penalize("peer6", ReasonSpam)
	m.Penalize("peer5", ReasonSpam)
	assert.True(t, m.IsBanned("peer5"))
	assert.Equal(t, []string{"peer5", "peer6"}, m.Banned())

	*now = now.Add(2*time.Hour + time.Second)

	assert.False(t, m.IsBanned("peer5"))
	assert.Empty(t, m.Banned())

	m.Prune()
	_, _, until := m.Score("peer6")
	assert.True(t, until.IsZero(), "an expired ban is pruned")
}

func TestBanReason_String(t *testing.T) {
	tests := []struct {
		reason   BanReason
		expected string
		points   int
	}{
		{ReasonProtocolViolation, "protocol_violation", 20},
		{ReasonSpam, "spam", 50},
		{ReasonInvalidBlock, "invalid_block", 10},
		{ReasonInvalidTransaction, "invalid_transaction", 5},
		{ReasonUnknown, "unknown", 1},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, tt.reason.String())
		assert.Equal(t, tt.points, tt.reason.Points())
	}
}
