package chainstate

import (
	"context"

	"github.com/goldcoin/popnode/errors"
	"github.com/goldcoin/popnode/model"
	"github.com/goldcoin/popnode/stores/kv"
)

type writeOp struct {
	key   []byte
	value []byte // nil erases key
}

// writeSet collects the store changes of one chain mutation so they can be written in a
// single transaction.
type writeSet struct {
	ops []writeOp
}

func (w *writeSet) put(key, value []byte) {
	w.ops = append(w.ops, writeOp{key: key, value: value})
}

func (w *writeSet) erase(key []byte) {
	w.ops = append(w.ops, writeOp{key: key})
}

func (w *writeSet) putIndex(bi *model.BlockIndex) {
	w.put(kv.KeyBlockIndex(&bi.Hash), bi.Bytes())
}

// putView writes the UTXO changes of view. Erases go first so an outpoint spent and
// recreated inside the view ends up present.
func (w *writeSet) putView(view *utxoView) {
	for op := range view.spent {
		w.erase(kv.KeyUtxo(op))
	}

	for op, u := range view.added {
		w.put(kv.KeyUtxo(op), u.Bytes())
	}
}

func (w *writeSet) putConnected(block *model.Block, undo *model.UndoRecord) {
	hash := block.Hash()

	for _, tx := range block.Transactions {
		rec := &Transaction{Tx: tx, BlockHash: *hash, Height: block.Height}
		w.put(kv.KeyTx(tx.TxIDChainHash()), rec.Bytes())
	}

	w.put(kv.KeyUndo(hash), undo.Bytes())
}

func (w *writeSet) putDisconnected(block *model.Block) {
	for _, tx := range block.Transactions {
		w.erase(kv.KeyTx(tx.TxIDChainHash()))
	}
}

// commit writes w atomically. On failure nothing is written and the in-memory state is
// left for the caller to keep as it is.
func (c *ChainState) commit(ctx context.Context, w *writeSet) error {
	if err := c.store.TxnBegin(ctx); err != nil {
		return errors.NewStorageTxnError("failed to begin transaction", err)
	}

	for _, op := range w.ops {
		var err error

		if op.value == nil {
			_, err = c.store.Erase(ctx, op.key)
		} else {
			_, err = c.store.Write(ctx, op.key, op.value, true)
		}

		if err != nil {
			if abortErr := c.store.TxnAbort(ctx); abortErr != nil {
				c.logger.Errorf("[ChainState][commit] failed to abort transaction: %v", abortErr)
			}

			return errors.NewStorageTxnError("failed to stage %d changes", len(w.ops), err)
		}
	}

	if err := c.store.TxnCommit(ctx); err != nil {
		prometheusChainStateCommitErrors.Inc()
		return errors.NewStorageTxnError("failed to commit %d changes", len(w.ops), err)
	}

	return nil
}

// applyView swaps the changes of a committed view into the UTXO set and the supply. The
// caller holds mu exclusively.
func (c *ChainState) applyView(view *utxoView) {
	for op := range view.spent {
		c.utxos.Delete(op)
	}

	for op, u := range view.added {
		c.utxos.Put(op, u)
	}

	c.supply = view.supplyAfter(c.supply)
}
