package chainstate

import (
	"context"

	"github.com/bsv-blockchain/go-bt/v2"
	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/goldcoin/popnode/model"
)

// ConsensusRules is the rule set a block must satisfy on top of the structural and UTXO
// checks done by the chain state. The hard-fork manager decides which rules apply at a
// height.
type ConsensusRules interface {
	// ValidateBlock checks the consensus part of a block about to be accepted at height.
	ValidateBlock(ctx context.Context, block *model.Block, height uint32, prev *model.BlockIndex) error

	// VerifySupplyTransition is called for every connected block with the total supply
	// before and after it. A non-nil error aborts the connect; a fatal one halts the chain.
	VerifySupplyTransition(height uint32, supplyBefore, supplyAfter uint64) error
}

// ScriptVerifier decides whether input inputIdx of tx may spend prev. Script execution
// itself is out of scope of the chain state.
type ScriptVerifier interface {
	VerifyInput(tx *bt.Tx, inputIdx int, prev *model.UTXO) error
}

// ScriptVerifierFunc adapts a function to the ScriptVerifier interface.
type ScriptVerifierFunc func(tx *bt.Tx, inputIdx int, prev *model.UTXO) error

func (f ScriptVerifierFunc) VerifyInput(tx *bt.Tx, inputIdx int, prev *model.UTXO) error {
	return f(tx, inputIdx, prev)
}

// AcceptAllScripts is the default ScriptVerifier.
var AcceptAllScripts = ScriptVerifierFunc(func(*bt.Tx, int, *model.UTXO) error { return nil })

// Subscriber receives chain events after they are committed. Blocks are delivered in
// chain order: on a reorganization every disconnect comes before the connects of the new
// branch. The undo record holds the UTXOs spent by the block.
type Subscriber interface {
	OnBlockConnected(ctx context.Context, block *model.Block, undo *model.UndoRecord)
	OnBlockDisconnected(ctx context.Context, block *model.Block, undo *model.UndoRecord)
}

// Reader is the read-only view of the chain state used by the mempool, the participation
// engine and the query surface.
type Reader interface {
	GetUtxo(outpoint model.Outpoint) (*model.UTXO, bool)
	GetBalance(lockingScript []byte) uint64
	GetUtxosForScript(lockingScript []byte) []*model.UTXO
	GetBestHeight() uint32
	GetBestBlockHash() *chainhash.Hash
	GetBlockIndex(hash *chainhash.Hash) (*model.BlockIndex, bool)
	GetBlockIndexByHeight(height uint32) (*model.BlockIndex, bool)
	GetBlock(ctx context.Context, hash *chainhash.Hash) (*model.Block, error)
	GetBlockByHeight(ctx context.Context, height uint32) (*model.Block, error)
	GetTransaction(ctx context.Context, txID *chainhash.Hash) (*Transaction, error)
	GetTotalSupply() uint64
	IsHalted() error
}
