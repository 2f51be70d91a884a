package model

import (
	"encoding/hex"
	"net"
	"time"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
)

// WalletMetrics describes a wallet's on-chain behaviour. It is supplied by a wallet index
// and only read by the consensus code.
type WalletMetrics struct {
	Balance              uint64
	CoinAgeBlocks        uint32
	TxCount              uint32
	UniqueCounterparties uint32
	LastTxTime           time.Time
	IP                   net.IP
	UptimeRatio          float64
}

// ParticipationEntry is a confirmed stake lock. At most one entry exists per address.
type ParticipationEntry struct {
	TxID    chainhash.Hash
	Vout    uint32
	Amount  uint64
	Address string
	PubKey  []byte
	Height  uint32
}

// IsMatured reports whether the stake has been locked for at least maturity blocks.
func (p *ParticipationEntry) IsMatured(currentHeight, maturity uint32) bool {
	return currentHeight >= p.Height && currentHeight-p.Height >= maturity
}

func (p *ParticipationEntry) Outpoint() Outpoint {
	return Outpoint{TxID: p.TxID, Index: p.Vout}
}

// AddressFromPubKey is the participation address of a producer key.
func AddressFromPubKey(pubKey []byte) string {
	return hex.EncodeToString(pubKey)
}

// LotteryResult is the outcome of one lottery draw. It is a pure function of the seed and
// the participant key and is never modified after creation.
type LotteryResult struct {
	OutputHash  chainhash.Hash
	Proof       []byte
	IsWinner    bool
	Probability float64
}
