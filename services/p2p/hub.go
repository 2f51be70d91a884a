package p2p

import (
	"context"
	"net/http"
	"sort"
	"sync"

	"github.com/bsv-blockchain/go-bt/v2"
	"github.com/goldcoin/popnode/errors"
	"github.com/goldcoin/popnode/model"
	"github.com/goldcoin/popnode/settings"
	"github.com/goldcoin/popnode/ulogger"
	"github.com/goldcoin/popnode/util/retry"
	"golang.org/x/sync/errgroup"
)

// Hub connects the LocalNetworks of one process. A member can be taken offline to
// simulate an unreachable peer.
type Hub struct {
	mu      sync.RWMutex
	members map[string]*LocalNetwork
	offline map[string]bool
}

func NewHub() *Hub {
	return &Hub{
		members: make(map[string]*LocalNetwork),
		offline: make(map[string]bool),
	}
}

// Join adds a node to the hub under the p2p node id of its settings.
func (h *Hub) Join(logger ulogger.Logger, tSettings *settings.Settings) (*LocalNetwork, error) {
	initPrometheusMetrics()

	id := tSettings.P2P.NodeID

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.members[id]; ok {
		return nil, errors.NewInvalidArgumentError("[Hub] node %s already joined", id)
	}

	inboxSize := tSettings.P2P.InboxSize
	if inboxSize <= 0 {
		inboxSize = 1
	}

	n := &LocalNetwork{
		logger:   logger,
		settings: tSettings,
		hub:      h,
		id:       id,
		inbox:    make(chan *Message, inboxSize),
		stopCh:   make(chan struct{}),
	}

	h.members[id] = n

	return n, nil
}

func (h *Hub) Leave(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.members, id)
	delete(h.offline, id)
}

// SetOnline makes deliveries to id fail while it is offline.
func (h *Hub) SetOnline(id string, online bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if online {
		delete(h.offline, id)
	} else {
		h.offline[id] = true
	}
}

// Members returns the ids of the joined nodes, sorted.
func (h *Hub) Members() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := make([]string, 0, len(h.members))
	for id := range h.members {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids
}

func (h *Hub) deliver(to string, msg *Message) error {
	h.mu.RLock()
	n, ok := h.members[to]
	offline := h.offline[to]
	h.mu.RUnlock()

	if !ok {
		return errors.NewNetworkConnectionRefusedError("peer %s is not connected", to)
	}

	if offline {
		return errors.NewNetworkError("peer %s is unreachable", to)
	}

	select {
	case n.inbox <- msg:
		return nil
	default:
		return errors.NewNetworkError("peer %s inbox is full", to)
	}
}

// LocalNetwork is a node's endpoint on a Hub. Received messages are decoded and handed to
// the registered handlers one at a time, in arrival order.
type LocalNetwork struct {
	logger   ulogger.Logger
	settings *settings.Settings
	hub      *Hub
	id       string
	inbox    chan *Message

	mu         sync.RWMutex
	onBlock    func(from string, block *model.Block)
	onTx       func(from string, tx *bt.Tx)
	onAnnounce func(from string, announce *PeerAnnounce)
	onInvalid  func(from string, err error)

	stopCh   chan struct{}
	stopOnce sync.Once
}

func (n *LocalNetwork) ID() string {
	return n.id
}

func (n *LocalNetwork) OnBlockReceived(fn func(from string, block *model.Block)) {
	n.mu.Lock()
	n.onBlock = fn
	n.mu.Unlock()
}

func (n *LocalNetwork) OnTxReceived(fn func(from string, tx *bt.Tx)) {
	n.mu.Lock()
	n.onTx = fn
	n.mu.Unlock()
}

func (n *LocalNetwork) OnAnnounceReceived(fn func(from string, announce *PeerAnnounce)) {
	n.mu.Lock()
	n.onAnnounce = fn
	n.mu.Unlock()
}

func (n *LocalNetwork) OnInvalidMessage(fn func(from string, err error)) {
	n.mu.Lock()
	n.onInvalid = fn
	n.mu.Unlock()
}

// peers is the static peer list when one is configured, else every other hub member.
func (n *LocalNetwork) peers() []string {
	if len(n.settings.P2P.StaticPeers) > 0 {
		return n.settings.P2P.StaticPeers
	}

	members := n.hub.Members()
	peers := make([]string, 0, len(members))

	for _, id := range members {
		if id != n.id {
			peers = append(peers, id)
		}
	}

	return peers
}

// Broadcast delivers msg to every peer in parallel, retrying transient failures with a
// backoff. It fails when at least one peer could not be reached.
func (n *LocalNetwork) Broadcast(ctx context.Context, msg *Message) error {
	peers := n.peers()
	if len(peers) == 0 {
		return nil
	}

	out := &Message{Type: msg.Type, From: n.id, Payload: msg.Payload}
	errs := make([]error, len(peers))

	g := errgroup.Group{}

	for i, peer := range peers {
		g.Go(func() error {
			_, errs[i] = retry.Retry(ctx, n.logger, func() (struct{}, error) {
				return struct{}{}, n.hub.deliver(peer, out)
			},
				retry.WithMessage("[LocalNetwork] delivering "+string(msg.Type)+" to "+peer),
				retry.WithRetryCount(max(1, n.settings.P2P.BroadcastRetries)),
				retry.WithBackoffDurationType(n.settings.P2P.BroadcastBackoff),
				retry.WithRetryIf(errors.IsRetryableError),
			)

			return nil
		})
	}

	_ = g.Wait()

	failed := 0

	for _, err := range errs {
		if err != nil {
			failed++
		}
	}

	prometheusMessagesSent.WithLabelValues(string(msg.Type)).Add(float64(len(peers) - failed))

	if failed > 0 {
		prometheusBroadcastFailures.Add(float64(failed))

		return errors.NewNetworkError("[LocalNetwork] %s reached %d of %d peers", msg.Type, len(peers)-failed, len(peers), errors.Join(errs...))
	}

	return nil
}

func (n *LocalNetwork) Init(_ context.Context) error {
	return nil
}

// Start dispatches received messages until the context is done or Stop is called.
func (n *LocalNetwork) Start(ctx context.Context, readyCh chan<- struct{}) error {
	close(readyCh)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-n.stopCh:
			return nil
		case msg := <-n.inbox:
			n.dispatch(msg)
		}
	}
}

func (n *LocalNetwork) Stop(_ context.Context) error {
	n.stopOnce.Do(func() {
		close(n.stopCh)
		n.hub.Leave(n.id)
	})

	return nil
}

func (n *LocalNetwork) Health(_ context.Context, _ bool) (int, string, error) {
	return http.StatusOK, "OK", nil
}

func (n *LocalNetwork) dispatch(msg *Message) {
	n.mu.RLock()
	onBlock, onTx, onAnnounce, onInvalid := n.onBlock, n.onTx, n.onAnnounce, n.onInvalid
	n.mu.RUnlock()

	prometheusMessagesReceived.WithLabelValues(string(msg.Type)).Inc()

	var err error

	switch msg.Type {
	case MessageBlock:
		var block *model.Block
		if block, err = model.NewBlockFromBytes(msg.Payload); err == nil && onBlock != nil {
			onBlock(msg.From, block)
		}
	case MessageTx:
		var tx *bt.Tx
		if tx, err = bt.NewTxFromBytes(msg.Payload); err == nil && onTx != nil {
			onTx(msg.From, tx)
		}
	case MessageAnnounce:
		var announce *PeerAnnounce
		if announce, err = decodeAnnounce(msg.Payload); err == nil && onAnnounce != nil {
			onAnnounce(msg.From, announce)
		}
	default:
		err = errors.NewInvalidArgumentError("unknown message type %q", msg.Type)
	}

	if err != nil {
		n.logger.Warnf("[LocalNetwork] invalid %s message from %s: %v", msg.Type, msg.From, err)

		if onInvalid != nil {
			onInvalid(msg.From, err)
		}
	}
}
