// Package p2p moves blocks, transactions and peer announcements between nodes. The transport is
// behind the Network interface; LocalNetwork connects the nodes of one process through a Hub.
package p2p

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net"

	"github.com/bsv-blockchain/go-bt/v2"
	"github.com/goldcoin/popnode/errors"
	"github.com/goldcoin/popnode/model"
)

// MessageType tells the receiver how to decode the payload of a Message.
type MessageType string

const (
	MessageBlock    MessageType = "block"
	MessageTx       MessageType = "tx"
	MessageAnnounce MessageType = "announce"
)

// Message is the unit of exchange between nodes. From is set by the sending network.
type Message struct {
	Type    MessageType
	From    string
	Payload []byte
}

// Network is the transport the node services use to reach their peers.
type Network interface {
	// Broadcast sends msg to every reachable peer.
	Broadcast(ctx context.Context, msg *Message) error

	// OnBlockReceived registers the handler of blocks sent by peers.
	OnBlockReceived(fn func(from string, block *model.Block))

	// OnTxReceived registers the handler of transactions sent by peers.
	OnTxReceived(fn func(from string, tx *bt.Tx))

	// OnAnnounceReceived registers the handler of peer announcements. Announcements double
	// as pings.
	OnAnnounceReceived(fn func(from string, announce *PeerAnnounce))

	// OnInvalidMessage registers the handler of messages that could not be decoded.
	OnInvalidMessage(fn func(from string, err error))
}

// PeerAnnounce is broadcast periodically by every node. It carries what the participation
// rules need to know about the peer behind a producer key.
type PeerAnnounce struct {
	NodeID string `json:"node_id"`
	PubKey string `json:"pub_key,omitempty"`
	IP     string `json:"ip,omitempty"`
	Height uint32 `json:"height"`
}

// ProducerKey decodes the announced producer public key, nil when none was announced.
func (a *PeerAnnounce) ProducerKey() ([]byte, error) {
	if a.PubKey == "" {
		return nil, nil
	}

	pubKey, err := hex.DecodeString(a.PubKey)
	if err != nil || len(pubKey) != model.ProducerPubKeySize {
		return nil, errors.NewInvalidArgumentError("announced producer key %q is not a compressed public key", a.PubKey)
	}

	return pubKey, nil
}

// Address parses the announced IP, nil when none was announced.
func (a *PeerAnnounce) Address() (net.IP, error) {
	if a.IP == "" {
		return nil, nil
	}

	ip := net.ParseIP(a.IP)
	if ip == nil {
		return nil, errors.NewInvalidArgumentError("announced ip %q is not an ip address", a.IP)
	}

	return ip, nil
}

func NewBlockMessage(block *model.Block) *Message {
	return &Message{Type: MessageBlock, Payload: block.Bytes()}
}

func NewTxMessage(tx *bt.Tx) *Message {
	return &Message{Type: MessageTx, Payload: tx.Bytes()}
}

func NewAnnounceMessage(announce *PeerAnnounce) (*Message, error) {
	payload, err := json.Marshal(announce)
	if err != nil {
		return nil, errors.NewProcessingError("failed to encode peer announcement", err)
	}

	return &Message{Type: MessageAnnounce, Payload: payload}, nil
}

func decodeAnnounce(payload []byte) (*PeerAnnounce, error) {
	announce := &PeerAnnounce{}
	if err := json.Unmarshal(payload, announce); err != nil {
		return nil, errors.NewInvalidArgumentError("invalid peer announcement", err)
	}

	return announce, nil
}
