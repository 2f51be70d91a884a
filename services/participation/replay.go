package participation

import (
	"context"

	"github.com/goldcoin/popnode/errors"
	"github.com/goldcoin/popnode/model"
	"github.com/goldcoin/popnode/services/chainstate"
)

// Replay feeds the main chain from height 1 to the tip to subs, so state derived from chain
// events can be rebuilt after a restart. Spent outputs are resolved through the transaction
// index.
func Replay(ctx context.Context, reader chainstate.Reader, subs ...chainstate.Subscriber) error {
	best := reader.GetBestHeight()

	for height := uint32(1); height <= best; height++ {
		if err := ctx.Err(); err != nil {
			return errors.NewContextCanceledError("replay stopped at height %d", height, err)
		}

		block, err := reader.GetBlockByHeight(ctx, height)
		if err != nil {
			return errors.NewProcessingError("replay failed to load block at height %d", height, err)
		}

		undo, err := rebuildUndo(ctx, reader, block)
		if err != nil {
			return err
		}

		for _, sub := range subs {
			sub.OnBlockConnected(ctx, block, undo)
		}
	}

	return nil
}

func rebuildUndo(ctx context.Context, reader chainstate.Reader, block *model.Block) (*model.UndoRecord, error) {
	undo := &model.UndoRecord{BlockHash: *block.Hash()}

	for _, tx := range block.Transactions {
		if tx.IsCoinbase() {
			continue
		}

		for _, in := range tx.Inputs {
			prevTx, err := reader.GetTransaction(ctx, in.PreviousTxIDChainHash())
			if err != nil {
				return nil, errors.NewProcessingError("replay of block %s cannot resolve input %s:%d", block.Hash(), in.PreviousTxIDStr(), in.PreviousTxOutIndex, err)
			}

			if int(in.PreviousTxOutIndex) >= len(prevTx.Tx.Outputs) {
				return nil, errors.NewChainCorruptedError("block %s spends missing output %s:%d", block.Hash(), in.PreviousTxIDStr(), in.PreviousTxOutIndex)
			}

			out := prevTx.Tx.Outputs[in.PreviousTxOutIndex]

			var script []byte
			if out.LockingScript != nil {
				script = *out.LockingScript
			}

			undo.Spent = append(undo.Spent, &model.UTXO{
				Outpoint:   model.NewOutpoint(in.PreviousTxIDChainHash(), in.PreviousTxOutIndex),
				Value:      out.Satoshis,
				Script:     script,
				Height:     prevTx.Height,
				IsCoinbase: prevTx.Tx.IsCoinbase(),
			})
		}
	}

	return undo, nil
}
