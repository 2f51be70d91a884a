package p2p

import (
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bsv-blockchain/go-bt/v2"
	"github.com/goldcoin/popnode/errors"
	"github.com/goldcoin/popnode/model"
	"github.com/goldcoin/popnode/services/mempool"
	"github.com/goldcoin/popnode/settings"
	"github.com/goldcoin/popnode/ulogger"
	"github.com/goldcoin/popnode/util/test"
	"github.com/goldcoin/popnode/util/test/mocklogger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChain struct {
	mu     sync.Mutex
	err    error
	blocks []*model.Block
	height uint32
	done   chan struct{}
}

func (c *fakeChain) ProcessBlock(_ context.Context, block *model.Block) error {
	c.mu.Lock()
	defer func() {
		c.mu.Unlock()

		if c.done != nil {
			c.done <- struct{}{}
		}
	}()

	c.blocks = append(c.blocks, block)

	if c.err != nil {
		return c.err
	}

	block.Height = c.height + 1
	c.height++

	return nil
}

func (c *fakeChain) GetBestHeight() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.height
}

func (c *fakeChain) processed() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.blocks)
}

type fakeTxs struct {
	err error
	txs []*bt.Tx
}

func (f *fakeTxs) AcceptTransaction(_ context.Context, tx *bt.Tx) (*mempool.Entry, error) {
	f.txs = append(f.txs, tx)

	if f.err != nil {
		return nil, f.err
	}

	return &mempool.Entry{Tx: tx}, nil
}

type observation struct {
	pubKey []byte
	ip     net.IP
	uptime float64
}

type fakePeers struct {
	mu    sync.Mutex
	items []observation
}

func (f *fakePeers) ObservePeer(pubKey []byte, ip net.IP, uptime float64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.items = append(f.items, observation{pubKey: pubKey, ip: ip, uptime: uptime})
}

func (f *fakePeers) observed() []observation {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]observation(nil), f.items...)
}

type heights struct {
	mu     sync.Mutex
	values []uint32
}

func (h *heights) NotifyPeerBlock(height uint32) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.values = append(h.values, height)
}

type serverFixture struct {
	settings *settings.Settings
	chain    *fakeChain
	txs      *fakeTxs
	peers    *fakePeers
	heights  *heights
	server   *Server
}

func newServerFixture(t *testing.T, network Network) *serverFixture {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	tSettings := test.CreateBaseTestSettings()
	tSettings.P2P.NodeID = "local"
	tSettings.P2P.BanThreshold = 20

	if network == nil {
		hub := NewHub()

		n, err := hub.Join(ulogger.TestLogger{}, tSettings)
		require.NoError(t, err)

		network = n
	}

	f := &serverFixture{
		settings: tSettings,
		chain:    &fakeChain{},
		txs:      &fakeTxs{},
		peers:    &fakePeers{},
		heights:  &heights{},
	}

	f.server = NewServer(ctx, ulogger.TestLogger{}, tSettings, network, f.chain, f.txs, f.peers)
	f.server.SetPeerBlockListener(f.heights)

	require.NoError(t, f.server.Init(ctx))

	return f
}

func (f *serverFixture) block(t *testing.T) *model.Block {
	params := f.settings.ChainCfgParams
	return test.NewTestBlock(t, params, params.GenesisHash, 1, nil, 0)
}

func TestHandleBlock(t *testing.T) {
	f := newServerFixture(t, nil)
	block := f.block(t)

	f.server.handleBlock("peer", block)

	assert.Equal(t, 1, f.chain.processed())
	assert.Equal(t, []uint32{1}, f.heights.values)
	assert.Equal(t, []string{"peer"}, f.server.monitor.Peers())

	score, _, _ := f.server.bans.Score("peer")
	assert.Zero(t, score)
}

func TestHandleBlockOutcomes(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		score int
	}{
		{"duplicate", errors.NewBlockExistsError("block exists"), 0},
		{"orphan", errors.NewBlockParentNotFoundError("parent not found"), 0},
		{"invalid", errors.NewBlockInvalidError("bad merkle root"), 10},
		{"clock skew", errors.NewTimestampWindowError("timestamp is 6m from local time"), 0},
		{"invalid lottery", errors.NewInvalidLotteryError("producer did not win"), 10},
		{"storage failure", errors.NewStorageError("disk full"), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newServerFixture(t, nil)
			f.chain.err = tt.err

			f.server.handleBlock("peer", f.block(t))

			score, banned, _ := f.server.bans.Score("peer")
			assert.Equal(t, tt.score, score)
			assert.False(t, banned)
			assert.Empty(t, f.heights.values)
		})
	}
}

func TestBannedPeerIsIgnored(t *testing.T) {
	f := newServerFixture(t, nil)
	f.chain.err = errors.NewBlockInvalidError("bad block")

	f.server.handleBlock("peer", f.block(t))
	f.server.handleBlock("peer", f.block(t))

	assert.True(t, f.server.bans.IsBanned("peer"))
	assert.Equal(t, 2, f.chain.processed())

	f.chain.err = nil

	f.server.handleBlock("peer", f.block(t))
	f.server.handleTx("peer", test.SpendTx(t, model.Outpoint{}, 1000))

	assert.Equal(t, 2, f.chain.processed())
	assert.Empty(t, f.txs.txs)
}

func TestHandleTx(t *testing.T) {
	f := newServerFixture(t, nil)
	tx := test.SpendTx(t, model.Outpoint{}, 1000)

	f.server.handleTx("peer", tx)
	require.Len(t, f.txs.txs, 1)

	// a transaction the node cannot use yet is no misbehaviour
	f.txs.err = errors.NewTxMissingInputsError("missing inputs")
	f.server.handleTx("peer", tx)

	score, _, _ := f.server.bans.Score("peer")
	assert.Zero(t, score)

	f.txs.err = errors.NewTxInvalidError("no outputs")
	f.server.handleTx("peer", tx)

	score, _, _ = f.server.bans.Score("peer")
	assert.Equal(t, 5, score)
}

func TestHandleAnnounce(t *testing.T) {
	f := newServerFixture(t, nil)
	pubKey := "02" + strings.Repeat("ab", 32)

	f.server.handleAnnounce("peer", &PeerAnnounce{NodeID: "peer", PubKey: pubKey, IP: "10.1.2.3", Height: 7})

	observed := f.peers.observed()
	require.Len(t, observed, 1)
	assert.Len(t, observed[0].pubKey, model.ProducerPubKeySize)
	assert.Equal(t, "10.1.2.3", observed[0].ip.String())
	assert.InDelta(t, 1.0, observed[0].uptime, 1e-9)

	peers := f.server.GetPeers()
	require.Len(t, peers, 1)
	assert.Equal(t, "peer", peers[0].ID)
	assert.Equal(t, pubKey, peers[0].PubKey)
	assert.Equal(t, uint32(7), peers[0].Height)

	// a node without a producer key is tracked but not observed
	f.server.handleAnnounce("relay", &PeerAnnounce{NodeID: "relay"})
	assert.Len(t, f.peers.observed(), 1)
	assert.Len(t, f.server.GetPeers(), 2)
}

func TestInvalidAnnounceAddsBanScore(t *testing.T) {
	f := newServerFixture(t, nil)

	f.server.handleAnnounce("peer", &PeerAnnounce{NodeID: "peer", PubKey: "zz"})
	f.server.handleAnnounce("peer", &PeerAnnounce{NodeID: "peer", IP: "nowhere"})

	assert.Empty(t, f.peers.observed())
	assert.True(t, f.server.bans.IsBanned("peer"))
}

func TestDroppedPeerLosesUptime(t *testing.T) {
	f := newServerFixture(t, nil)
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	f.server.monitor.now = clock.Now

	f.server.handleAnnounce("peer", &PeerAnnounce{NodeID: "peer", PubKey: "03" + strings.Repeat("cd", 32), IP: "10.1.2.3"})

	clock.Advance(f.server.monitor.timeout + time.Second)
	assert.Equal(t, []string{"peer"}, f.server.monitor.Sweep())

	observed := f.peers.observed()
	require.Len(t, observed, 2)
	assert.Zero(t, observed[1].uptime)
	assert.Empty(t, f.server.GetPeers())
}

func TestServersExchangeBlocksOverHub(t *testing.T) {
	hub := NewHub()

	remoteSettings := test.CreateBaseTestSettings()
	remoteSettings.P2P.NodeID = "remote"

	remote, err := hub.Join(ulogger.TestLogger{}, remoteSettings)
	require.NoError(t, err)

	localSettings := test.CreateBaseTestSettings()
	localSettings.P2P.NodeID = "local"

	local, err := hub.Join(ulogger.TestLogger{}, localSettings)
	require.NoError(t, err)

	f := newServerFixture(t, local)
	f.chain.done = make(chan struct{}, 1)

	runNetwork(t, local)

	remoteServer := NewServer(context.Background(), ulogger.TestLogger{}, remoteSettings, remote, &fakeChain{}, nil, nil)
	block := f.block(t)

	require.NoError(t, remoteServer.BroadcastBlock(context.Background(), block))

	select {
	case <-f.chain.done:
	case <-time.After(2 * time.Second):
		t.Fatal("block was not delivered")
	}

	f.chain.mu.Lock()
	require.Len(t, f.chain.blocks, 1)
	assert.Equal(t, block.Hash(), f.chain.blocks[0].Hash())
	f.chain.mu.Unlock()

	require.NoError(t, remoteServer.BroadcastTransaction(context.Background(), test.SpendTx(t, model.Outpoint{}, 1000)))
}

func TestServerLifecycleObservesSelf(t *testing.T) {
	f := newServerFixture(t, nil)
	f.settings.Participation.AdvertiseIP = "192.168.7.1"

	pubKey := make([]byte, model.ProducerPubKeySize)
	pubKey[0] = 0x02

	f.server.SetProducer(func() []byte { return pubKey })

	readyCh := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- f.server.Start(context.Background(), readyCh)
	}()

	<-readyCh

	code, _, err := f.server.Health(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 200, code)

	require.NoError(t, f.server.Stop(context.Background()))
	require.NoError(t, <-done)

	observed := f.peers.observed()
	require.Len(t, observed, 1)
	assert.Equal(t, pubKey, observed[0].pubKey)
	assert.Equal(t, "192.168.7.1", observed[0].ip.String())
	assert.InDelta(t, 1.0, observed[0].uptime, 1e-9)
}

func TestBanIsLogged(t *testing.T) {
	tSettings := test.CreateBaseTestSettings()
	tSettings.P2P.NodeID = "local"
	tSettings.P2P.BanThreshold = 10

	network, err := NewHub().Join(ulogger.TestLogger{}, tSettings)
	require.NoError(t, err)

	logger := mocklogger.NewTestLogger()
	chain := &fakeChain{err: errors.NewBlockInvalidError("bad block")}

	s := NewServer(context.Background(), logger, tSettings, network, chain, &fakeTxs{}, &fakePeers{})
	require.NoError(t, s.Init(context.Background()))

	s.handleBlock("peer", test.NewTestBlock(t, tSettings.ChainCfgParams, tSettings.ChainCfgParams.GenesisHash, 1, nil, 0))

	var banned bool

	for _, msg := range logger.Messages() {
		if strings.HasPrefix(msg, "Warnf: [P2P] banned peer peer until") {
			banned = true
		}
	}

	assert.True(t, banned, "ban should be logged, got %v", logger.Messages())
}
