// Package test holds helpers shared by the package tests: regtest settings and block and
// transaction builders.
package test

import (
	"testing"

	"github.com/bsv-blockchain/go-bt/v2"
	"github.com/bsv-blockchain/go-bt/v2/bscript"
	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/goldcoin/popnode/chaincfg"
	"github.com/goldcoin/popnode/model"
	"github.com/goldcoin/popnode/settings"
	"github.com/goldcoin/popnode/util"
	"github.com/stretchr/testify/require"
)

// OpTrue is a locking script anyone can spend.
var OpTrue = bscript.NewFromBytes([]byte{bscript.OpTRUE})

// CreateBaseTestSettings returns regtest settings on a private copy of the regtest params
// with a coinbase maturity of 1, so tests can tune consensus parameters freely.
func CreateBaseTestSettings() *settings.Settings {
	s := settings.NewTestSettings()

	params := *s.ChainCfgParams
	params.CoinbaseMaturity = 1
	params.Checkpoints = append([]chaincfg.Checkpoint(nil), s.ChainCfgParams.Checkpoints...)

	s.ChainCfgParams = &params

	return s
}

type blockOptions struct {
	bits      uint32
	tag       string
	timestamp uint32
	script    *bscript.Script
	extend    func(header *model.BlockHeader)
}

type BlockOption func(*blockOptions)

// WithBits mines the block against bits instead of the pow limit.
func WithBits(bits uint32) BlockOption {
	return func(o *blockOptions) {
		o.bits = bits
	}
}

// WithTag puts tag in the coinbase, giving competing branches distinct blocks.
func WithTag(tag string) BlockOption {
	return func(o *blockOptions) {
		o.tag = tag
	}
}

func WithTimestamp(timestamp uint32) BlockOption {
	return func(o *blockOptions) {
		o.timestamp = timestamp
	}
}

func WithCoinbaseScript(script *bscript.Script) BlockOption {
	return func(o *blockOptions) {
		o.script = script
	}
}

// WithHeader lets the caller change the header before it is mined, e.g. to add the
// participation fields.
func WithHeader(fn func(header *model.BlockHeader)) BlockOption {
	return func(o *blockOptions) {
		o.extend = fn
	}
}

// NewTestBlock builds and mines a block at height on top of prev. The coinbase pays the
// subsidy plus fees.
func NewTestBlock(t testing.TB, params *chaincfg.Params, prev *chainhash.Hash, height uint32, txs []*bt.Tx, fees uint64, opts ...BlockOption) *model.Block {
	t.Helper()

	o := &blockOptions{
		bits:      params.PowLimitBits,
		tag:       "/popnode-test/",
		timestamp: params.GenesisBlock.Header.Timestamp + height*120,
		script:    OpTrue,
	}

	for _, opt := range opts {
		opt(o)
	}

	coinbase, err := model.NewCoinbaseTx(height, params.BlockSubsidy(height)+fees, o.script, []byte(o.tag))
	require.NoError(t, err)

	all := append([]*bt.Tx{coinbase}, txs...)

	root, err := model.BuildMerkleRoot(all)
	require.NoError(t, err)

	header := &model.BlockHeader{
		Version:        1,
		HashPrevBlock:  prev,
		HashMerkleRoot: root,
		Timestamp:      o.timestamp,
		Bits:           o.bits,
	}

	if o.extend != nil {
		o.extend(header)
	}

	for util.CheckProofOfWork(header.Hash(), header.Bits, params.PowLimit) != nil {
		header.Nonce++
	}

	return model.NewBlock(header, all, height)
}

// SpendTx spends prev into one OP_TRUE output per value.
func SpendTx(t testing.TB, prev model.Outpoint, values ...uint64) *bt.Tx {
	t.Helper()

	return SpendManyTx(t, []model.Outpoint{prev}, values...)
}

func SpendManyTx(t testing.TB, prevs []model.Outpoint, values ...uint64) *bt.Tx {
	t.Helper()

	tx := bt.NewTx()

	for _, prev := range prevs {
		input := &bt.Input{
			PreviousTxOutIndex: prev.Index,
			UnlockingScript:    &bscript.Script{},
			SequenceNumber:     0xffffffff,
		}
		require.NoError(t, input.PreviousTxIDAdd(&prev.TxID))

		tx.Inputs = append(tx.Inputs, input)
	}

	for _, value := range values {
		tx.AddOutput(&bt.Output{Satoshis: value, LockingScript: OpTrue})
	}

	return tx
}

// CoinbaseOutpoint is the first output of the block's coinbase.
func CoinbaseOutpoint(block *model.Block) model.Outpoint {
	return model.NewOutpoint(block.CoinbaseTx().TxIDChainHash(), 0)
}
