package p2p

import (
	"context"
	"encoding/hex"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/bsv-blockchain/go-bt/v2"
	"github.com/goldcoin/popnode/errors"
	"github.com/goldcoin/popnode/model"
	"github.com/goldcoin/popnode/services/mempool"
	"github.com/goldcoin/popnode/settings"
	"github.com/goldcoin/popnode/ulogger"
)

// ChainService accepts the blocks received from peers.
type ChainService interface {
	ProcessBlock(ctx context.Context, block *model.Block) error
	GetBestHeight() uint32
}

// TxAcceptor admits the transactions received from peers.
type TxAcceptor interface {
	AcceptTransaction(ctx context.Context, tx *bt.Tx) (*mempool.Entry, error)
}

// PeerObserver learns the address and uptime behind an announced producer key.
type PeerObserver interface {
	ObservePeer(pubKey []byte, ip net.IP, uptime float64)
}

// PeerBlockListener is told about every peer block that was accepted.
type PeerBlockListener interface {
	NotifyPeerBlock(height uint32)
}

// PeerInfo describes a live peer.
type PeerInfo struct {
	ID       string  `json:"id"`
	PubKey   string  `json:"pub_key,omitempty"`
	IP       string  `json:"ip,omitempty"`
	Height   uint32  `json:"height"`
	Uptime   float64 `json:"uptime"`
	BanScore int     `json:"ban_score"`
	IsBanned bool    `json:"is_banned"`
}

// Server connects the node services to the network: peer blocks go to the chain state,
// peer transactions to the mempool and announcements to the participation rules. It
// announces the local node on every ping interval and broadcasts local blocks.
type Server struct {
	ctx      context.Context
	logger   ulogger.Logger
	settings *settings.Settings
	network  Network
	chain    ChainService
	txs      TxAcceptor
	peers    PeerObserver
	monitor  *PeerMonitor
	bans     *PeerBanManager

	mu        sync.RWMutex
	listener  PeerBlockListener
	producer  func() []byte
	announced map[string]*PeerAnnounce

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewServer creates the p2p service. Peer handling runs on ctx, which should live as long
// as the node.
func NewServer(ctx context.Context, logger ulogger.Logger, tSettings *settings.Settings, network Network, chain ChainService,
	txs TxAcceptor, peers PeerObserver) *Server {
	s := &Server{
		ctx:       ctx,
		logger:    logger,
		settings:  tSettings,
		network:   network,
		chain:     chain,
		txs:       txs,
		peers:     peers,
		announced: make(map[string]*PeerAnnounce),
		stopCh:    make(chan struct{}),
	}

	s.monitor = NewPeerMonitor(logger, tSettings, s.announce)
	s.monitor.OnPeerDropped(s.handleDropped)
	s.bans = NewPeerBanManager(ctx, s, tSettings)

	return s
}

// SetPeerBlockListener registers the service to tell about accepted peer blocks.
func (s *Server) SetPeerBlockListener(listener PeerBlockListener) {
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
}

// SetProducer sets the source of the producer key announced for this node.
func (s *Server) SetProducer(pubKey func() []byte) {
	s.mu.Lock()
	s.producer = pubKey
	s.mu.Unlock()
}

func (s *Server) Init(_ context.Context) error {
	s.network.OnBlockReceived(s.handleBlock)
	s.network.OnTxReceived(s.handleTx)
	s.network.OnAnnounceReceived(s.handleAnnounce)
	s.network.OnInvalidMessage(s.handleInvalid)

	return nil
}

func (s *Server) Start(ctx context.Context, readyCh chan<- struct{}) error {
	s.observeSelf()
	s.monitor.Start(ctx)

	close(readyCh)

	select {
	case <-ctx.Done():
	case <-s.stopCh:
	}

	s.monitor.Stop()

	return nil
}

func (s *Server) Stop(_ context.Context) error {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})

	return nil
}

func (s *Server) Health(_ context.Context, _ bool) (int, string, error) {
	return http.StatusOK, "OK", nil
}

// OnPeerBanned logs the ban of a peer; its messages are ignored from now on.
func (s *Server) OnPeerBanned(peerID string, until time.Time, reason string) {
	s.logger.Warnf("[P2P] banned peer %s until %s: %s", peerID, until.UTC().Format(time.RFC3339), reason)
}

// BroadcastBlock sends a locally produced block to every peer.
func (s *Server) BroadcastBlock(ctx context.Context, block *model.Block) error {
	s.logger.Infof("[P2P][BroadcastBlock] broadcasting block %s at height %d", block.Hash(), block.Height)

	return s.network.Broadcast(ctx, NewBlockMessage(block))
}

// BroadcastTransaction sends a transaction admitted locally to every peer.
func (s *Server) BroadcastTransaction(ctx context.Context, tx *bt.Tx) error {
	return s.network.Broadcast(ctx, NewTxMessage(tx))
}

// GetPeers returns the live peers as seen by the monitor.
func (s *Server) GetPeers() []*PeerInfo {
	ids := s.monitor.Peers()
	infos := make([]*PeerInfo, 0, len(ids))

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, id := range ids {
		info := &PeerInfo{ID: id, Uptime: s.monitor.Uptime(id)}
		info.BanScore, info.IsBanned, _ = s.bans.Score(id)

		if a, ok := s.announced[id]; ok {
			info.PubKey = a.PubKey
			info.IP = a.IP
			info.Height = a.Height
		}

		infos = append(infos, info)
	}

	return infos
}

func (s *Server) localAnnounce() *PeerAnnounce {
	s.mu.RLock()
	producer := s.producer
	s.mu.RUnlock()

	a := &PeerAnnounce{
		NodeID: s.settings.P2P.NodeID,
		IP:     s.settings.Participation.AdvertiseIP,
		Height: s.chain.GetBestHeight(),
	}

	if producer != nil {
		if pubKey := producer(); len(pubKey) > 0 {
			a.PubKey = hex.EncodeToString(pubKey)
		}
	}

	return a
}

func (s *Server) announce(ctx context.Context) error {
	msg, err := NewAnnounceMessage(s.localAnnounce())
	if err != nil {
		return err
	}

	return s.network.Broadcast(ctx, msg)
}

// observeSelf registers the local producer with its advertised address, so the local
// participation checks see the same data as the peers.
func (s *Server) observeSelf() {
	if s.peers == nil {
		return
	}

	a := s.localAnnounce()

	pubKey, err := a.ProducerKey()
	if err != nil || pubKey == nil {
		return
	}

	ip, err := a.Address()
	if err != nil {
		s.logger.Warnf("[P2P] ignoring participation_advertiseIP: %v", err)
		return
	}

	s.peers.ObservePeer(pubKey, ip, 1)
}

func (s *Server) handleBlock(from string, block *model.Block) {
	if s.bans.IsBanned(from) {
		return
	}

	s.monitor.Seen(from)

	err := s.chain.ProcessBlock(s.ctx, block)

	switch {
	case err == nil:
		prometheusPeerBlocks.WithLabelValues("accepted").Inc()

		s.mu.RLock()
		listener := s.listener
		s.mu.RUnlock()

		if listener != nil {
			listener.NotifyPeerBlock(block.Height)
		}
	case errors.Is(err, errors.ErrBlockExists):
		prometheusPeerBlocks.WithLabelValues("duplicate").Inc()
		s.logger.Debugf("[P2P][handleBlock] block %s from %s already known", block.Hash(), from)
	case errors.Is(err, errors.ErrBlockParentNotFound):
		prometheusPeerBlocks.WithLabelValues("orphan").Inc()
		s.logger.Infof("[P2P][handleBlock] block %s from %s has an unknown parent", block.Hash(), from)
	case errors.Is(err, errors.ErrTimestampWindow):
		// clock skew between honest peers looks the same, so the sender is not scored
		prometheusPeerBlocks.WithLabelValues("rejected").Inc()
		s.logger.Warnf("[P2P][handleBlock] rejected block %s from %s on timing: %v", block.Hash(), from, err)
	case errors.IsValidationError(err):
		prometheusPeerBlocks.WithLabelValues("rejected").Inc()
		s.logger.Warnf("[P2P][handleBlock] rejected block %s from %s: %v", block.Hash(), from, err)
		s.bans.Penalize(from, ReasonInvalidBlock)
	default:
		prometheusPeerBlocks.WithLabelValues("error").Inc()
		s.logger.Errorf("[P2P][handleBlock] failed to process block %s from %s: %v", block.Hash(), from, err)
	}
}

func (s *Server) handleTx(from string, tx *bt.Tx) {
	if s.bans.IsBanned(from) || s.txs == nil {
		return
	}

	s.monitor.Seen(from)

	if _, err := s.txs.AcceptTransaction(s.ctx, tx); err != nil && errors.Is(err, errors.ErrTxInvalid) {
		s.bans.Penalize(from, ReasonInvalidTransaction)
	}
}

func (s *Server) handleAnnounce(from string, a *PeerAnnounce) {
	if s.bans.IsBanned(from) {
		return
	}

	s.monitor.Seen(from)

	pubKey, err := a.ProducerKey()
	if err != nil {
		s.handleInvalid(from, err)
		return
	}

	ip, err := a.Address()
	if err != nil {
		s.handleInvalid(from, err)
		return
	}

	s.mu.Lock()
	s.announced[from] = a
	s.mu.Unlock()

	if pubKey != nil && s.peers != nil {
		s.peers.ObservePeer(pubKey, ip, s.monitor.Uptime(from))
	}
}

func (s *Server) handleInvalid(from string, err error) {
	s.logger.Warnf("[P2P] protocol violation by %s: %v", from, err)
	s.bans.Penalize(from, ReasonProtocolViolation)
}

func (s *Server) handleDropped(id string) {
	s.mu.Lock()
	a, ok := s.announced[id]
	delete(s.announced, id)
	s.mu.Unlock()

	if !ok || s.peers == nil {
		return
	}

	// the producer stays known to the participation rules, with no uptime
	if pubKey, err := a.ProducerKey(); err == nil && pubKey != nil {
		ip, _ := a.Address()
		s.peers.ObservePeer(pubKey, ip, 0)
	}
}
