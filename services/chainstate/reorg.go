package chainstate

import (
	"context"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/goldcoin/popnode/errors"
	"github.com/goldcoin/popnode/model"
	"github.com/goldcoin/popnode/stores/kv"
)

// reorganize makes the branch ending in block the best chain. Main chain blocks above the
// fork point are disconnected and the branch is connected on one utxoView; the result is
// committed in a single store transaction. Any failure leaves the original tip in place.
func (c *ChainState) reorganize(ctx context.Context, block *model.Block, bi *model.BlockIndex) ([]chainEvent, error) {
	c.mu.RLock()
	oldTip := c.tip()

	attach := []*model.BlockIndex{bi}
	fork, ok := c.index[bi.PrevHash]

	for ok && !c.isOnMainChain(fork) {
		attach = append(attach, fork)
		fork, ok = c.index[fork.PrevHash]
	}

	if !ok {
		c.mu.RUnlock()
		return nil, errors.NewChainCorruptedError("branch of %s is not rooted in the block index", bi.Hash)
	}

	detach := make([]chainhash.Hash, len(c.mainChain)-int(fork.Height)-1)
	copy(detach, c.mainChain[fork.Height+1:])

	supplyBefore := c.supply
	view := newUtxoView(c.utxos.Get)
	c.mu.RUnlock()

	depth := oldTip.Height - fork.Height
	if depth > c.params.FinalityDepth {
		return nil, errors.NewReorgTooDeepError("block %s forks %d blocks below the tip at height %d, finality depth is %d", bi.Hash, depth, fork.Height, c.params.FinalityDepth)
	}

	for i, j := 0, len(attach)-1; i < j; i, j = i+1, j-1 {
		attach[i], attach[j] = attach[j], attach[i]
	}

	c.logger.Warnf("[ChainState][reorganize] reorganizing from %s (height %d) to %s (height %d), fork at %d", oldTip.Hash, oldTip.Height, bi.Hash, bi.Height, fork.Height)

	w := &writeSet{}
	events := make([]chainEvent, 0, len(detach)+len(attach))

	for i := len(detach) - 1; i >= 0; i-- {
		hash := detach[i]

		c.mu.RLock()
		idx := c.index[hash]
		c.mu.RUnlock()

		old, err := c.loadBlock(ctx, idx)
		if err != nil {
			return nil, c.restoreFailure(hash, err)
		}

		undo, err := c.loadUndo(ctx, &hash)
		if err != nil {
			return nil, c.restoreFailure(hash, err)
		}

		if err = c.disconnectBlock(view, old, undo); err != nil {
			return nil, err
		}

		w.putDisconnected(old)
		events = append(events, chainEvent{block: old, undo: undo})
	}

	updated := make([]*model.BlockIndex, 0, len(attach))

	for _, idx := range attach {
		if idx.Status.IsFailed() {
			return nil, errors.NewBlockInvalidError("branch block %s was previously rejected", idx.Hash)
		}

		next := block
		if idx != bi {
			var err error
			if next, err = c.loadBlock(ctx, idx); err != nil {
				return nil, err
			}
		}

		undo, err := c.connectBlock(view, next, idx.Height, view.supplyAfter(supplyBefore))
		if err != nil {
			if !errors.IsFatalError(err) {
				c.markFailed(ctx, next, idx)

				if idx != bi {
					c.markFailedChild(ctx, block, bi)
				}
			}

			c.logger.Warnf("[ChainState][reorganize] aborted, keeping tip %s: connecting %s failed: %v", oldTip.Hash, idx.Hash, err)

			return nil, err
		}

		connected := *idx
		connected.Status |= model.StatusConnected
		updated = append(updated, &connected)

		w.putConnected(next, undo)
		events = append(events, chainEvent{block: next, undo: undo, connected: true})
	}

	w.put(kv.KeyBlock(&bi.Hash), block.Bytes())

	for _, idx := range updated {
		w.putIndex(idx)
	}

	w.putView(view)
	w.put(kv.KeyBestChain, bi.Hash[:])

	if err := c.commit(ctx, w); err != nil {
		return nil, err
	}

	c.mu.Lock()

	c.mainChain = c.mainChain[:fork.Height+1]
	for _, idx := range updated {
		c.index[idx.Hash] = idx
		c.mainChain = append(c.mainChain, idx.Hash)
	}

	c.applyView(view)
	c.mu.Unlock()

	prometheusChainStateReorgs.Inc()
	prometheusChainStateReorgDepth.Observe(float64(depth))
	prometheusChainStateBlocksDisconnected.Add(float64(len(detach)))
	prometheusChainStateBlocksConnected.Add(float64(len(attach)))
	c.updateGauges()

	c.logger.Infof("[ChainState][reorganize] new tip %s at height %d, %d blocks disconnected, %d connected", bi.Hash, bi.Height, len(detach), len(attach))

	return events, nil
}

// restoreFailure classifies a failure to read back a main chain block. A missing record is
// corruption, anything else is a storage problem that may go away.
func (c *ChainState) restoreFailure(hash chainhash.Hash, err error) error {
	if errors.Is(err, errors.ErrChainCorrupted) || errors.Is(err, errors.ErrBlockNotFound) {
		return errors.NewChainCorruptedError("cannot restore main chain block %s", hash, err)
	}

	return err
}

func (c *ChainState) markFailedChild(ctx context.Context, block *model.Block, bi *model.BlockIndex) {
	failed := *bi
	failed.Status |= model.StatusFailedChild

	w := &writeSet{}
	w.put(kv.KeyBlock(&failed.Hash), block.Bytes())
	w.putIndex(&failed)

	if err := c.commit(ctx, w); err != nil {
		c.logger.Warnf("[ChainState] failed to persist failed status of %s: %v", failed.Hash, err)
	}

	c.mu.Lock()
	c.index[failed.Hash] = &failed
	c.mu.Unlock()
}
