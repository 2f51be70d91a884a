package chainstate

import (
	"context"
	"math/big"
	"time"

	"github.com/bsv-blockchain/go-bt/v2"
	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/goldcoin/popnode/chaincfg"
	"github.com/goldcoin/popnode/errors"
	"github.com/goldcoin/popnode/model"
	"github.com/goldcoin/popnode/stores/kv"
	"github.com/goldcoin/popnode/util"
)

// powRules is used until the hard-fork manager installs its rule set.
type powRules struct {
	params *chaincfg.Params
}

func (r *powRules) ValidateBlock(_ context.Context, block *model.Block, _ uint32, _ *model.BlockIndex) error {
	return util.CheckProofOfWork(block.Hash(), block.Header.Bits, r.params.PowLimit)
}

func (r *powRules) VerifySupplyTransition(uint32, uint64, uint64) error {
	return nil
}

type chainEvent struct {
	block     *model.Block
	undo      *model.UndoRecord
	connected bool
}

// ProcessBlock validates block and, when it extends the best chain or makes a side branch
// the best chain, connects it. A valid block on a branch with less work is stored without
// being connected. The returned error is nil in both cases.
func (c *ChainState) ProcessBlock(ctx context.Context, block *model.Block) error {
	start := time.Now()

	c.processMu.Lock()
	defer c.processMu.Unlock()

	if err := c.IsHalted(); err != nil {
		return errors.NewChainHaltedError("refusing block %s", block.Hash(), err)
	}

	events, err := c.processBlock(ctx, block)
	if err != nil {
		prometheusChainStateBlocksRejected.Inc()

		if errors.IsFatalError(err) {
			c.halt(err)
		} else {
			c.logger.Warnf("[ChainState][ProcessBlock] rejected block %s: %v", block.Hash(), err)
		}

		return err
	}

	c.notify(ctx, events)

	prometheusChainStateProcessBlock.Observe(time.Since(start).Seconds())

	return nil
}

func (c *ChainState) halt(err error) {
	c.mu.Lock()
	c.halted = err
	c.mu.Unlock()

	prometheusChainStateHalted.Set(1)

	c.logger.Errorf("[ChainState] block processing halted, resync from a known good point required: %v", err)
}

func (c *ChainState) processBlock(ctx context.Context, block *model.Block) ([]chainEvent, error) {
	hash := block.Hash()

	c.mu.RLock()
	existing, exists := c.index[*hash]
	parent, parentFound := c.index[*block.Header.HashPrevBlock]
	c.mu.RUnlock()

	if exists {
		if existing.Status.IsFailed() {
			return nil, errors.NewBlockInvalidError("block %s was previously rejected", hash)
		}

		return nil, errors.NewBlockExistsError("block %s already known", hash)
	}

	if err := c.checkBlockSanity(block); err != nil {
		return nil, err
	}

	if !parentFound {
		return nil, errors.NewBlockParentNotFoundError("parent %s of block %s unknown", block.Header.HashPrevBlock, hash)
	}

	if parent.Status.IsFailed() {
		return nil, errors.NewBlockInvalidError("block %s builds on rejected block %s", hash, parent.Hash)
	}

	height := parent.Height + 1
	block.Height = height

	if err := c.checkCheckpoint(hash, height, c.GetBestHeight()); err != nil {
		return nil, err
	}

	if err := c.rules.ValidateBlock(ctx, block, height, parent); err != nil {
		return nil, err
	}

	bi := &model.BlockIndex{
		Hash:           *hash,
		PrevHash:       parent.Hash,
		Height:         height,
		Header:         block.Header,
		CumulativeWork: new(big.Int).Add(parent.CumulativeWork, util.CalcWork(block.Header.Bits)),
		Status:         model.StatusHeaderValid | model.StatusHaveData,
		TxCount:        uint32(len(block.Transactions)), //nolint:gosec // bounded by MaxBlockSize
		Size:           block.Size(),
	}

	c.mu.RLock()
	tip := c.tip()
	c.mu.RUnlock()

	switch {
	case parent.Hash == tip.Hash:
		return c.connectTip(ctx, block, bi)
	case bi.CumulativeWork.Cmp(tip.CumulativeWork) > 0:
		return c.reorganize(ctx, block, bi)
	default:
		if err := c.storeSideBlock(ctx, block, bi); err != nil {
			return nil, err
		}

		c.logger.Infof("[ChainState][ProcessBlock] stored side branch block %s at height %d", hash, height)

		return nil, nil
	}
}

// checkBlockSanity runs the context free checks.
func (c *ChainState) checkBlockSanity(block *model.Block) error {
	hash := block.Hash()

	if size := block.Size(); size > c.params.MaxBlockSize {
		return errors.NewBlockOversizedError("block %s is %d bytes, max %d", hash, size, c.params.MaxBlockSize)
	}

	if len(block.Transactions) == 0 {
		return errors.NewBlockInvalidError("block %s has no transactions", hash)
	}

	if !block.Transactions[0].IsCoinbase() {
		return errors.NewBlockInvalidError("first transaction of block %s is not a coinbase", hash)
	}

	if err := block.CheckMerkleRoot(); err != nil {
		return errors.NewBlockInvalidError("block %s", hash, err)
	}

	seen := make(map[chainhash.Hash]struct{}, len(block.Transactions))

	for i, tx := range block.Transactions {
		if i > 0 && tx.IsCoinbase() {
			return errors.NewBlockInvalidError("block %s has more than one coinbase", hash)
		}

		txID := *tx.TxIDChainHash()
		if _, dup := seen[txID]; dup {
			return errors.NewBlockInvalidError("block %s contains tx %s twice", hash, txID)
		}

		seen[txID] = struct{}{}

		if err := CheckTransactionSanity(tx, c.params.MaxMoney); err != nil {
			return errors.NewBlockInvalidError("block %s tx %d", hash, i, err)
		}
	}

	return nil
}

// CheckTransactionSanity checks a transaction on its own: it has inputs and outputs, spends
// no outpoint twice and its output values stay within maxMoney.
func CheckTransactionSanity(tx *bt.Tx, maxMoney uint64) error {
	if len(tx.Inputs) == 0 {
		return errors.NewTxInvalidError("tx %s has no inputs", tx.TxID())
	}

	if len(tx.Outputs) == 0 {
		return errors.NewTxInvalidError("tx %s has no outputs", tx.TxID())
	}

	var total uint64

	for _, out := range tx.Outputs {
		if out.Satoshis > maxMoney {
			return errors.NewTxInvalidError("tx %s output value %d above max money", tx.TxID(), out.Satoshis)
		}

		total += out.Satoshis
		if total > maxMoney {
			return errors.NewTxInvalidError("tx %s total output above max money", tx.TxID())
		}
	}

	if tx.IsCoinbase() {
		return nil
	}

	spends := make(map[model.Outpoint]struct{}, len(tx.Inputs))

	for _, in := range tx.Inputs {
		op := model.NewOutpoint(in.PreviousTxIDChainHash(), in.PreviousTxOutIndex)
		if _, dup := spends[op]; dup {
			return errors.NewTxInvalidDoubleSpendError("tx %s spends %s twice", tx.TxID(), op)
		}

		spends[op] = struct{}{}
	}

	return nil
}

// checkCheckpoint rejects a block at a checkpoint height with another hash, and any block
// below the last checkpoint once the best chain has passed it.
func (c *ChainState) checkCheckpoint(hash *chainhash.Hash, height, bestHeight uint32) error {
	if !c.settings.Chain.CheckpointsEnabled {
		return nil
	}

	if cp, ok := c.params.CheckpointAt(height); ok && !cp.Hash.IsEqual(hash) {
		return errors.NewBlockCheckpointError("block %s at height %d does not match checkpoint %s", hash, height, cp.Hash)
	}

	if last := c.params.LastCheckpoint(); last != nil && height < last.Height && bestHeight >= last.Height {
		return errors.NewBlockCheckpointError("block %s at height %d forks below checkpoint %d", hash, height, last.Height)
	}

	return nil
}

func (c *ChainState) storeSideBlock(ctx context.Context, block *model.Block, bi *model.BlockIndex) error {
	w := &writeSet{}
	w.put(kv.KeyBlock(&bi.Hash), block.Bytes())
	w.putIndex(bi)

	if err := c.commit(ctx, w); err != nil {
		return err
	}

	c.mu.Lock()
	c.index[bi.Hash] = bi
	c.mu.Unlock()

	return nil
}

// connectTip connects a block extending the best chain.
func (c *ChainState) connectTip(ctx context.Context, block *model.Block, bi *model.BlockIndex) ([]chainEvent, error) {
	c.mu.RLock()
	view := newUtxoView(c.utxos.Get)
	supplyBefore := c.supply
	c.mu.RUnlock()

	undo, err := c.connectBlock(view, block, bi.Height, supplyBefore)
	if err != nil {
		if !errors.IsFatalError(err) {
			c.markFailed(ctx, block, bi)
		}

		return nil, err
	}

	bi.Status |= model.StatusConnected

	w := &writeSet{}
	w.put(kv.KeyBlock(&bi.Hash), block.Bytes())
	w.putIndex(bi)
	w.putView(view)
	w.putConnected(block, undo)
	w.put(kv.KeyBestChain, bi.Hash[:])

	if err = c.commit(ctx, w); err != nil {
		bi.Status &^= model.StatusConnected
		return nil, err
	}

	c.mu.Lock()
	c.index[bi.Hash] = bi
	c.mainChain = append(c.mainChain, bi.Hash)
	c.applyView(view)
	c.mu.Unlock()

	prometheusChainStateBlocksConnected.Inc()
	c.updateGauges()

	c.logger.Infof("[ChainState][connectTip] connected block %s at height %d with %d txs", bi.Hash, bi.Height, len(block.Transactions))

	return []chainEvent{{block: block, undo: undo, connected: true}}, nil
}

// markFailed records that block failed contextual validation, so it is rejected at once if
// it is seen again.
func (c *ChainState) markFailed(ctx context.Context, block *model.Block, bi *model.BlockIndex) {
	failed := *bi
	failed.Status |= model.StatusFailed
	failed.Status &^= model.StatusConnected

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

// connectBlock applies block to view and returns its undo record. Inputs must exist in the
// view and be mature, the coinbase must claim exactly the subsidy plus fees and the supply
// may never exceed MaxMoney.
func (c *ChainState) connectBlock(view *utxoView, block *model.Block, height uint32, supplyBefore uint64) (*model.UndoRecord, error) {
	hash := block.Hash()
	undo := &model.UndoRecord{BlockHash: *hash}
	created, consumed := view.created, view.consumed

	var fees uint64

	for i, tx := range block.Transactions {
		if i == 0 {
			continue
		}

		var inputTotal uint64

		for idx, in := range tx.Inputs {
			op := model.NewOutpoint(in.PreviousTxIDChainHash(), in.PreviousTxOutIndex)

			prev, ok := view.get(op)
			if !ok {
				if view.isSpent(op) {
					return nil, errors.NewTxInvalidDoubleSpendError("tx %s spends %s which is already spent", tx.TxID(), op)
				}

				return nil, errors.NewTxMissingInputsError("tx %s spends unknown output %s", tx.TxID(), op)
			}

			if !prev.IsMature(height, c.params.CoinbaseMaturity) {
				return nil, errors.NewTxImmatureCoinbaseError("tx %s spends coinbase %s from height %d at height %d", tx.TxID(), op, prev.Height, height)
			}

			if err := c.scripts.VerifyInput(tx, idx, prev); err != nil {
				return nil, errors.NewTxInvalidError("tx %s input %d script failed", tx.TxID(), idx, err)
			}

			if _, err := view.spend(op); err != nil {
				return nil, err
			}

			undo.Spent = append(undo.Spent, prev)
			inputTotal += prev.Value
		}

		outputTotal := tx.TotalOutputSatoshis()
		if outputTotal > inputTotal {
			return nil, errors.NewTxInvalidError("tx %s spends %d but has only %d in inputs", tx.TxID(), outputTotal, inputTotal)
		}

		fees += inputTotal - outputTotal

		if err := addOutputs(view, tx, height); err != nil {
			return nil, err
		}
	}

	subsidy := c.params.BlockSubsidy(height)

	if cbValue := block.CoinbaseValue(); cbValue != subsidy+fees {
		return nil, errors.NewInflationMismatchError("block %s coinbase pays %d, expected subsidy %d + fees %d", hash, cbValue, subsidy, fees)
	}

	if err := addOutputs(view, block.CoinbaseTx(), height); err != nil {
		return nil, err
	}

	supplyAfter := supplyBefore + (view.created - created) - (view.consumed - consumed)

	if supplyAfter > c.params.MaxMoney {
		return nil, errors.NewInflationMismatchError("block %s raises supply to %d, above max money", hash, supplyAfter)
	}

	if supplyAfter-supplyBefore != subsidy {
		return nil, errors.NewChainCorruptedError("block %s changes supply by %d, expected %d", hash, supplyAfter-supplyBefore, subsidy)
	}

	if err := c.rules.VerifySupplyTransition(height, supplyBefore, supplyAfter); err != nil {
		return nil, err
	}

	return undo, nil
}

func addOutputs(view *utxoView, tx *bt.Tx, height uint32) error {
	txID := tx.TxIDChainHash()
	isCoinbase := tx.IsCoinbase()

	for vout, out := range tx.Outputs {
		var script []byte
		if out.LockingScript != nil {
			script = out.LockingScript.Bytes()
		}

		if err := view.add(&model.UTXO{
			Outpoint:   model.NewOutpoint(txID, uint32(vout)), //nolint:gosec // output count fits the wire format
			Value:      out.Satoshis,
			Script:     script,
			Height:     height,
			IsCoinbase: isCoinbase,
		}); err != nil {
			return err
		}
	}

	return nil
}

// disconnectBlock reverts block in view using its undo record. Transactions are reverted
// last to first so outputs spent inside the same block are restored before their creating
// transaction removes them.
func (c *ChainState) disconnectBlock(view *utxoView, block *model.Block, undo *model.UndoRecord) error {
	hash := block.Hash()
	remaining := len(undo.Spent)

	for i := len(block.Transactions) - 1; i >= 0; i-- {
		tx := block.Transactions[i]
		txID := tx.TxIDChainHash()

		for vout := range tx.Outputs {
			op := model.NewOutpoint(txID, uint32(vout)) //nolint:gosec // output count fits the wire format
			if _, err := view.spend(op); err != nil {
				return errors.NewChainCorruptedError("disconnecting %s: output %s missing", hash, op, err)
			}
		}

		if i == 0 {
			break
		}

		if remaining < len(tx.Inputs) {
			return errors.NewChainCorruptedError("undo record of %s is short", hash)
		}

		for _, spent := range undo.Spent[remaining-len(tx.Inputs) : remaining] {
			if err := view.add(spent); err != nil {
				return errors.NewChainCorruptedError("disconnecting %s: restoring %s", hash, spent.Outpoint, err)
			}
		}

		remaining -= len(tx.Inputs)
	}

	if remaining != 0 {
		return errors.NewChainCorruptedError("undo record of %s has %d extra entries", hash, remaining)
	}

	return nil
}

func (c *ChainState) notify(ctx context.Context, events []chainEvent) {
	if len(events) == 0 {
		return
	}

	c.subscribersMu.RLock()
	subscribers := append([]Subscriber(nil), c.subscribers...)
	c.subscribersMu.RUnlock()

	for _, ev := range events {
		for _, sub := range subscribers {
			if ev.connected {
				sub.OnBlockConnected(ctx, ev.block, ev.undo)
			} else {
				sub.OnBlockDisconnected(ctx, ev.block, ev.undo)
			}
		}
	}
}

func (c *ChainState) updateGauges() {
	c.mu.RLock()
	defer c.mu.RUnlock()

	prometheusChainStateHeight.Set(float64(c.bestHeight()))
	prometheusChainStateUtxos.Set(float64(c.utxos.Count()))
	prometheusChainStateSupply.Set(float64(c.supply))
}
