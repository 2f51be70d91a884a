package chainstate

import (
	"context"
	"sync"
	"testing"

	"github.com/bsv-blockchain/go-bt/v2"
	"github.com/bsv-blockchain/go-bt/v2/bscript"
	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/goldcoin/popnode/chaincfg"
	"github.com/goldcoin/popnode/errors"
	"github.com/goldcoin/popnode/model"
	"github.com/goldcoin/popnode/settings"
	"github.com/goldcoin/popnode/stores/kv"
	"github.com/goldcoin/popnode/stores/kv/memory"
	"github.com/goldcoin/popnode/ulogger"
	"github.com/goldcoin/popnode/util/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	coin = chaincfg.SatoshisPerCoin

	// bits with twice the work of the regtest pow limit
	harderBits = 0x203fffff
)

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) OnBlockConnected(_ context.Context, block *model.Block, _ *model.UndoRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, "+"+block.Hash().String())
}

func (r *recorder) OnBlockDisconnected(_ context.Context, block *model.Block, _ *model.UndoRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, "-"+block.Hash().String())
}

type failingStore struct {
	kv.Store
	failCommit bool
}

func (f *failingStore) TxnCommit(ctx context.Context) error {
	if f.failCommit {
		_ = f.Store.TxnAbort(ctx)
		return errors.NewStorageError("injected commit failure")
	}

	return f.Store.TxnCommit(ctx)
}

type haltingRules struct {
	powRules
}

func (h *haltingRules) VerifySupplyTransition(height uint32, _, _ uint64) error {
	return errors.NewChainCorruptedError("supply check failed at %d", height)
}

func newTestChainState(t *testing.T, tSettings *settings.Settings, store kv.Store, opts ...Option) *ChainState {
	t.Helper()

	if store == nil {
		store = memory.New()
	}

	cs, err := New(context.Background(), ulogger.TestLogger{}, tSettings, store, opts...)
	require.NoError(t, err)

	return cs
}

func snapshot(cs *ChainState) map[model.Outpoint]model.UTXO {
	set := make(map[model.Outpoint]model.UTXO)

	cs.ForEachUtxo(func(u *model.UTXO) bool {
		set[u.Outpoint] = *u
		return true
	})

	return set
}

func genesisOutpoint(params *chaincfg.Params) model.Outpoint {
	return test.CoinbaseOutpoint(params.GenesisBlock)
}

// buildMainChain connects b1 and b2, where b2 spends the genesis coinbase.
func buildMainChain(t *testing.T, cs *ChainState) (*model.Block, *model.Block, *bt.Tx) {
	t.Helper()

	ctx := context.Background()
	params := cs.Params()

	b1 := test.NewTestBlock(t, params, params.GenesisHash, 1, nil, 0)
	require.NoError(t, cs.ProcessBlock(ctx, b1))

	spend := test.SpendTx(t, genesisOutpoint(params), 30*coin, 20*coin-1000)
	b2 := test.NewTestBlock(t, params, b1.Hash(), 2, []*bt.Tx{spend}, 1000)
	require.NoError(t, cs.ProcessBlock(ctx, b2))

	return b1, b2, spend
}

func TestGenesisInitialization(t *testing.T) {
	tSettings := test.CreateBaseTestSettings()
	cs := newTestChainState(t, tSettings, nil)
	params := tSettings.ChainCfgParams

	assert.Equal(t, uint32(0), cs.GetBestHeight())
	assert.Equal(t, params.GenesisHash, cs.GetBestBlockHash())
	assert.Equal(t, 50*coin, cs.GetTotalSupply())

	u, ok := cs.GetUtxo(genesisOutpoint(params))
	require.True(t, ok)
	assert.True(t, u.IsCoinbase)
	assert.Equal(t, 50*coin, cs.GetBalance(u.Script))

	block, err := cs.GetBlockByHeight(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, params.GenesisHash, block.Hash())

	require.NoError(t, cs.IsHalted())
}

func TestConnectBlocks(t *testing.T) {
	ctx := context.Background()
	tSettings := test.CreateBaseTestSettings()
	cs := newTestChainState(t, tSettings, nil)

	rec := &recorder{}
	cs.Subscribe(rec)

	b1, b2, spend := buildMainChain(t, cs)

	assert.Equal(t, uint32(2), cs.GetBestHeight())
	assert.Equal(t, b2.Hash(), cs.GetBestBlockHash())
	assert.Equal(t, []string{"+" + b1.Hash().String(), "+" + b2.Hash().String()}, rec.events)

	_, ok := cs.GetUtxo(genesisOutpoint(tSettings.ChainCfgParams))
	assert.False(t, ok)

	out, ok := cs.GetUtxo(model.NewOutpoint(spend.TxIDChainHash(), 1))
	require.True(t, ok)
	assert.Equal(t, 20*coin-1000, out.Value)
	assert.Equal(t, uint32(2), out.Height)
	assert.False(t, out.IsCoinbase)

	txRec, err := cs.GetTransaction(ctx, spend.TxIDChainHash())
	require.NoError(t, err)
	assert.Equal(t, *b2.Hash(), txRec.BlockHash)
	assert.Equal(t, uint32(2), txRec.Height)

	bi, ok := cs.GetBlockIndex(b1.Hash())
	require.True(t, ok)
	assert.True(t, bi.Status.Has(model.StatusConnected))
	assert.True(t, cs.IsMainChain(b1.Hash()))

	assert.Len(t, cs.GetUtxosForScript(test.OpTrue.Bytes()), 4)
}

func TestSupplyProperty(t *testing.T) {
	ctx := context.Background()
	tSettings := test.CreateBaseTestSettings()
	cs := newTestChainState(t, tSettings, nil)
	params := tSettings.ChainCfgParams

	prev := params.GenesisBlock
	spendable := genesisOutpoint(params)
	value := 50 * coin

	for height := uint32(1); height <= 6; height++ {
		before := cs.GetTotalSupply()

		const fee = 5000

		spend := test.SpendTx(t, spendable, value-fee)
		block := test.NewTestBlock(t, params, prev.Hash(), height, []*bt.Tx{spend}, fee)
		require.NoError(t, cs.ProcessBlock(ctx, block))

		assert.Equal(t, before+params.BlockSubsidy(height), cs.GetTotalSupply(), "height %d", height)

		var sum uint64

		cs.ForEachUtxo(func(u *model.UTXO) bool {
			sum += u.Value
			return true
		})
		assert.Equal(t, cs.GetTotalSupply(), sum)

		prev = block
		spendable = model.NewOutpoint(spend.TxIDChainHash(), 0)
		value -= fee
	}
}

func TestCoinbaseMustMatchSubsidyPlusFees(t *testing.T) {
	ctx := context.Background()
	tSettings := test.CreateBaseTestSettings()
	cs := newTestChainState(t, tSettings, nil)
	params := tSettings.ChainCfgParams

	spend := test.SpendTx(t, genesisOutpoint(params), 50*coin-1000)

	t.Run("claims more than the fees", func(t *testing.T) {
		block := test.NewTestBlock(t, params, params.GenesisHash, 1, []*bt.Tx{spend}, 1001)
		err := cs.ProcessBlock(ctx, block)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrInflationMismatch))
	})

	t.Run("claims less than the fees", func(t *testing.T) {
		block := test.NewTestBlock(t, params, params.GenesisHash, 1, []*bt.Tx{spend}, 999, test.WithTag("under"))
		err := cs.ProcessBlock(ctx, block)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrInflationMismatch))
	})

	t.Run("outputs above inputs", func(t *testing.T) {
		greedy := test.SpendTx(t, genesisOutpoint(params), 50*coin+1)
		block := test.NewTestBlock(t, params, params.GenesisHash, 1, []*bt.Tx{greedy}, 0)
		err := cs.ProcessBlock(ctx, block)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrTxInvalid))
	})

	assert.Equal(t, uint32(0), cs.GetBestHeight())
	assert.Equal(t, 50*coin, cs.GetTotalSupply())
}

func TestCoinbaseMaturity(t *testing.T) {
	ctx := context.Background()
	tSettings := test.CreateBaseTestSettings()
	tSettings.ChainCfgParams.CoinbaseMaturity = 2
	cs := newTestChainState(t, tSettings, nil)
	params := tSettings.ChainCfgParams

	spend := test.SpendTx(t, genesisOutpoint(params), 50*coin)

	early := test.NewTestBlock(t, params, params.GenesisHash, 1, []*bt.Tx{spend}, 0)
	err := cs.ProcessBlock(ctx, early)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrTxImmatureCoinbase))

	b1 := test.NewTestBlock(t, params, params.GenesisHash, 1, nil, 0)
	require.NoError(t, cs.ProcessBlock(ctx, b1))

	b2 := test.NewTestBlock(t, params, b1.Hash(), 2, []*bt.Tx{spend}, 0)
	require.NoError(t, cs.ProcessBlock(ctx, b2))
}

func TestDoubleSpendInBlock(t *testing.T) {
	ctx := context.Background()
	tSettings := test.CreateBaseTestSettings()
	cs := newTestChainState(t, tSettings, nil)
	params := tSettings.ChainCfgParams

	first := test.SpendTx(t, genesisOutpoint(params), 10*coin)
	second := test.SpendTx(t, genesisOutpoint(params), 20*coin)

	block := test.NewTestBlock(t, params, params.GenesisHash, 1, []*bt.Tx{first, second}, 0)
	err := cs.ProcessBlock(ctx, block)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrTxInvalidDoubleSpend))

	err = cs.ProcessBlock(ctx, block)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrBlockInvalid))

	_, ok := cs.GetUtxo(genesisOutpoint(params))
	assert.True(t, ok)
}

func TestSpendWithinBlock(t *testing.T) {
	ctx := context.Background()
	tSettings := test.CreateBaseTestSettings()
	cs := newTestChainState(t, tSettings, nil)
	params := tSettings.ChainCfgParams

	parent := test.SpendTx(t, genesisOutpoint(params), 50*coin)
	child := test.SpendTx(t, model.NewOutpoint(parent.TxIDChainHash(), 0), 49*coin)

	block := test.NewTestBlock(t, params, params.GenesisHash, 1, []*bt.Tx{parent, child}, coin)
	require.NoError(t, cs.ProcessBlock(ctx, block))

	_, ok := cs.GetUtxo(model.NewOutpoint(parent.TxIDChainHash(), 0))
	assert.False(t, ok)

	_, ok = cs.GetUtxo(model.NewOutpoint(child.TxIDChainHash(), 0))
	assert.True(t, ok)
}

func TestStructuralChecks(t *testing.T) {
	ctx := context.Background()
	tSettings := test.CreateBaseTestSettings()
	cs := newTestChainState(t, tSettings, nil)
	params := tSettings.ChainCfgParams

	t.Run("oversized", func(t *testing.T) {
		small := test.CreateBaseTestSettings()
		small.ChainCfgParams.MaxBlockSize = 150
		smallCS := newTestChainState(t, small, nil)

		large := test.SpendTx(t, genesisOutpoint(small.ChainCfgParams), 50*coin)
		large.AddOutput(&bt.Output{LockingScript: bscript.NewFromBytes(make([]byte, 200))})

		block := test.NewTestBlock(t, small.ChainCfgParams, small.ChainCfgParams.GenesisHash, 1, []*bt.Tx{large}, 0)
		err := smallCS.ProcessBlock(ctx, block)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrBlockOversized))
	})

	t.Run("orphan", func(t *testing.T) {
		block := test.NewTestBlock(t, params, &chainhash.Hash{0xde, 0xad}, 1, nil, 0)
		err := cs.ProcessBlock(ctx, block)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrBlockParentNotFound))
	})

	t.Run("duplicate", func(t *testing.T) {
		block := test.NewTestBlock(t, params, params.GenesisHash, 1, nil, 0)
		require.NoError(t, cs.ProcessBlock(ctx, block))

		err := cs.ProcessBlock(ctx, block)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrBlockExists))
	})

	t.Run("bad merkle root", func(t *testing.T) {
		block := test.NewTestBlock(t, params, params.GenesisHash, 1, nil, 0, test.WithTag("merkle"))
		block.Header.HashMerkleRoot = &chainhash.Hash{1}
		block.ResetHash()

		err := cs.ProcessBlock(ctx, block)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrBlockInvalid))
	})

	t.Run("second coinbase", func(t *testing.T) {
		extra, err := model.NewCoinbaseTx(1, 1, test.OpTrue, []byte("extra"))
		require.NoError(t, err)

		block := test.NewTestBlock(t, params, params.GenesisHash, 1, []*bt.Tx{extra}, 0, test.WithTag("two"))
		err = cs.ProcessBlock(ctx, block)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrBlockInvalid))
	})

	t.Run("insufficient proof of work", func(t *testing.T) {
		block := test.NewTestBlock(t, params, params.GenesisHash, 1, nil, 0, test.WithTag("pow"))
		block.Header.Bits = 0x03000001
		block.ResetHash()

		err := cs.ProcessBlock(ctx, block)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrInvalidPoW))
	})
}

// Scenario: the genesis coinbase is spent in block 2 of the main chain, then a competing
// two block branch with more work takes over. The spent output must be unspent again.
func TestReorgRestoresSpentOutput(t *testing.T) {
	ctx := context.Background()
	tSettings := test.CreateBaseTestSettings()
	cs := newTestChainState(t, tSettings, nil)
	params := tSettings.ChainCfgParams

	b1, b2, spend := buildMainChain(t, cs)

	rec := &recorder{}
	cs.Subscribe(rec)

	alt1 := test.NewTestBlock(t, params, params.GenesisHash, 1, nil, 0, test.WithTag("alt"), test.WithBits(harderBits))
	require.NoError(t, cs.ProcessBlock(ctx, alt1))

	// equal work, first seen wins
	assert.Equal(t, b2.Hash(), cs.GetBestBlockHash())
	assert.Empty(t, rec.events)

	alt2 := test.NewTestBlock(t, params, alt1.Hash(), 2, nil, 0, test.WithTag("alt"), test.WithBits(harderBits))
	require.NoError(t, cs.ProcessBlock(ctx, alt2))

	assert.Equal(t, alt2.Hash(), cs.GetBestBlockHash())
	assert.Equal(t, uint32(2), cs.GetBestHeight())

	u, ok := cs.GetUtxo(genesisOutpoint(params))
	require.True(t, ok)
	assert.Equal(t, uint32(0), u.Height)
	assert.Equal(t, 50*coin, u.Value)

	_, ok = cs.GetUtxo(model.NewOutpoint(spend.TxIDChainHash(), 0))
	assert.False(t, ok)

	_, ok = cs.GetUtxo(test.CoinbaseOutpoint(b1))
	assert.False(t, ok)

	_, err := cs.GetTransaction(ctx, spend.TxIDChainHash())
	assert.True(t, errors.Is(err, errors.ErrTxNotFound))

	assert.Equal(t, 150*coin, cs.GetTotalSupply())
	assert.False(t, cs.IsMainChain(b1.Hash()))

	assert.Equal(t, []string{
		"-" + b2.Hash().String(),
		"-" + b1.Hash().String(),
		"+" + alt1.Hash().String(),
		"+" + alt2.Hash().String(),
	}, rec.events)
}

func TestReorgAndBackRestoresUtxoSet(t *testing.T) {
	ctx := context.Background()
	tSettings := test.CreateBaseTestSettings()
	cs := newTestChainState(t, tSettings, nil)
	params := tSettings.ChainCfgParams

	_, b2, _ := buildMainChain(t, cs)
	before := snapshot(cs)

	alt1 := test.NewTestBlock(t, params, params.GenesisHash, 1, nil, 0, test.WithTag("alt"), test.WithBits(harderBits))
	alt2 := test.NewTestBlock(t, params, alt1.Hash(), 2, nil, 0, test.WithTag("alt"), test.WithBits(harderBits))
	require.NoError(t, cs.ProcessBlock(ctx, alt1))
	require.NoError(t, cs.ProcessBlock(ctx, alt2))
	require.Equal(t, alt2.Hash(), cs.GetBestBlockHash())

	b3 := test.NewTestBlock(t, params, b2.Hash(), 3, nil, 0, test.WithBits(harderBits))
	b4 := test.NewTestBlock(t, params, b3.Hash(), 4, nil, 0, test.WithBits(harderBits))
	require.NoError(t, cs.ProcessBlock(ctx, b3))
	require.NoError(t, cs.ProcessBlock(ctx, b4))
	require.Equal(t, b4.Hash(), cs.GetBestBlockHash())

	after := snapshot(cs)
	delete(after, test.CoinbaseOutpoint(b3))
	delete(after, test.CoinbaseOutpoint(b4))

	assert.Equal(t, before, after)
}

func TestDisconnectConnectRoundTrip(t *testing.T) {
	ctx := context.Background()
	tSettings := test.CreateBaseTestSettings()
	cs := newTestChainState(t, tSettings, nil)
	params := tSettings.ChainCfgParams

	parent := test.SpendTx(t, genesisOutpoint(params), 25*coin, 25*coin)
	child := test.SpendTx(t, model.NewOutpoint(parent.TxIDChainHash(), 1), 24*coin)
	b1 := test.NewTestBlock(t, params, params.GenesisHash, 1, []*bt.Tx{parent, child}, coin)
	require.NoError(t, cs.ProcessBlock(ctx, b1))

	b2 := test.NewTestBlock(t, params, b1.Hash(), 2, []*bt.Tx{test.SpendTx(t, model.NewOutpoint(parent.TxIDChainHash(), 0), 25*coin)}, 0)
	require.NoError(t, cs.ProcessBlock(ctx, b2))

	before := snapshot(cs)
	supply := cs.GetTotalSupply()

	view := newUtxoView(cs.utxos.Get)
	blocks := []*model.Block{b1, b2}
	undos := make([]*model.UndoRecord, len(blocks))

	for i := len(blocks) - 1; i >= 0; i-- {
		undo, err := cs.loadUndo(ctx, blocks[i].Hash())
		require.NoError(t, err)

		undos[i] = undo
		require.NoError(t, cs.disconnectBlock(view, blocks[i], undo))
	}

	assert.Equal(t, 50*coin, view.supplyAfter(supply))

	for i, block := range blocks {
		undo, err := cs.connectBlock(view, block, block.Height, view.supplyAfter(supply))
		require.NoError(t, err)
		assert.Equal(t, undos[i].Bytes(), undo.Bytes())
	}

	cs.mu.Lock()
	cs.applyView(view)
	cs.mu.Unlock()

	assert.Equal(t, before, snapshot(cs))
	assert.Equal(t, supply, cs.GetTotalSupply())
}

func TestFailedReorgKeepsTip(t *testing.T) {
	ctx := context.Background()
	tSettings := test.CreateBaseTestSettings()
	cs := newTestChainState(t, tSettings, nil)
	params := tSettings.ChainCfgParams

	_, b2, _ := buildMainChain(t, cs)
	before := snapshot(cs)

	bogus := test.SpendTx(t, model.Outpoint{TxID: chainhash.Hash{0x42}}, coin)
	alt1 := test.NewTestBlock(t, params, params.GenesisHash, 1, []*bt.Tx{bogus}, 0, test.WithTag("alt"), test.WithBits(harderBits))
	require.NoError(t, cs.ProcessBlock(ctx, alt1), "side branch blocks are only checked when connected")

	alt2 := test.NewTestBlock(t, params, alt1.Hash(), 2, nil, 0, test.WithTag("alt"), test.WithBits(harderBits))
	err := cs.ProcessBlock(ctx, alt2)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrTxMissingInputs))

	assert.Equal(t, b2.Hash(), cs.GetBestBlockHash())
	assert.Equal(t, before, snapshot(cs))
	assert.Equal(t, 150*coin, cs.GetTotalSupply())
	require.NoError(t, cs.IsHalted())

	bi, ok := cs.GetBlockIndex(alt1.Hash())
	require.True(t, ok)
	assert.True(t, bi.Status.Has(model.StatusFailed))

	err = cs.ProcessBlock(ctx, alt2)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrBlockInvalid))
}

func TestCommitFailureLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	tSettings := test.CreateBaseTestSettings()
	store := &failingStore{Store: memory.New()}
	cs := newTestChainState(t, tSettings, store)
	params := tSettings.ChainCfgParams

	before := snapshot(cs)
	spend := test.SpendTx(t, genesisOutpoint(params), 50*coin)
	b1 := test.NewTestBlock(t, params, params.GenesisHash, 1, []*bt.Tx{spend}, 0)

	store.failCommit = true

	err := cs.ProcessBlock(ctx, b1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrStorageTxn))

	assert.Equal(t, uint32(0), cs.GetBestHeight())
	assert.Equal(t, before, snapshot(cs))

	_, ok := cs.GetBlockIndex(b1.Hash())
	assert.False(t, ok)

	store.failCommit = false

	require.NoError(t, cs.ProcessBlock(ctx, b1))
	assert.Equal(t, uint32(1), cs.GetBestHeight())
}

func TestFinalityDepth(t *testing.T) {
	ctx := context.Background()
	tSettings := test.CreateBaseTestSettings()
	tSettings.ChainCfgParams.FinalityDepth = 1
	cs := newTestChainState(t, tSettings, nil)
	params := tSettings.ChainCfgParams

	_, b2, _ := buildMainChain(t, cs)

	alt1 := test.NewTestBlock(t, params, params.GenesisHash, 1, nil, 0, test.WithTag("alt"), test.WithBits(harderBits))
	require.NoError(t, cs.ProcessBlock(ctx, alt1))

	alt2 := test.NewTestBlock(t, params, alt1.Hash(), 2, nil, 0, test.WithTag("alt"), test.WithBits(harderBits))
	err := cs.ProcessBlock(ctx, alt2)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrReorgTooDeep))

	assert.Equal(t, b2.Hash(), cs.GetBestBlockHash())
	require.NoError(t, cs.IsHalted())
}

func TestCheckpoints(t *testing.T) {
	ctx := context.Background()
	tSettings := test.CreateBaseTestSettings()
	tSettings.Chain.CheckpointsEnabled = true
	params := tSettings.ChainCfgParams
	params.Checkpoints = append(params.Checkpoints, chaincfg.Checkpoint{Height: 1, Hash: &chainhash.Hash{0xaa}})

	cs := newTestChainState(t, tSettings, nil)

	block := test.NewTestBlock(t, params, params.GenesisHash, 1, nil, 0)
	err := cs.ProcessBlock(ctx, block)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrBlockCheckpoint))

	tSettings.Chain.CheckpointsEnabled = false
	require.NoError(t, cs.ProcessBlock(ctx, block))
}

func TestFatalErrorHaltsProcessing(t *testing.T) {
	ctx := context.Background()
	tSettings := test.CreateBaseTestSettings()
	params := tSettings.ChainCfgParams
	cs := newTestChainState(t, tSettings, nil, WithConsensusRules(&haltingRules{powRules{params: params}}))

	b1 := test.NewTestBlock(t, params, params.GenesisHash, 1, nil, 0)
	err := cs.ProcessBlock(ctx, b1)
	require.Error(t, err)
	assert.True(t, errors.IsFatalError(err))
	require.Error(t, cs.IsHalted())

	code, _, _ := cs.Health(ctx, true)
	assert.Equal(t, 503, code)

	cs.SetConsensusRules(&powRules{params: params})

	err = cs.ProcessBlock(ctx, b1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrChainHalted))
	assert.Equal(t, uint32(0), cs.GetBestHeight())
}

func TestReloadFromStore(t *testing.T) {
	ctx := context.Background()
	tSettings := test.CreateBaseTestSettings()
	store := memory.New()
	cs := newTestChainState(t, tSettings, store)
	params := tSettings.ChainCfgParams

	b1, b2, spend := buildMainChain(t, cs)

	side := test.NewTestBlock(t, params, b1.Hash(), 2, nil, 0, test.WithTag("side"))
	require.NoError(t, cs.ProcessBlock(ctx, side))

	reloaded := newTestChainState(t, tSettings, store)

	assert.Equal(t, cs.GetBestHeight(), reloaded.GetBestHeight())
	assert.Equal(t, b2.Hash(), reloaded.GetBestBlockHash())
	assert.Equal(t, cs.GetTotalSupply(), reloaded.GetTotalSupply())
	assert.Equal(t, snapshot(cs), snapshot(reloaded))
	assert.Equal(t, 0, cs.GetChainWork().Cmp(reloaded.GetChainWork()))

	_, ok := reloaded.GetBlockIndex(side.Hash())
	assert.True(t, ok)
	assert.False(t, reloaded.IsMainChain(side.Hash()))

	block, err := reloaded.GetBlockByHeight(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, b1.Hash(), block.Hash())

	txRec, err := reloaded.GetTransaction(ctx, spend.TxIDChainHash())
	require.NoError(t, err)
	assert.Equal(t, spend.TxID(), txRec.Tx.TxID())

	t.Run("other network", func(t *testing.T) {
		other := settings.NewTestSettings()
		other.ChainCfgParams = &chaincfg.TestNetParams

		_, err := New(ctx, ulogger.TestLogger{}, other, store)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrStateInitialization))
	})
}
