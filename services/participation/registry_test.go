package participation

import (
	"context"
	"testing"

	"github.com/bsv-blockchain/go-bt/v2"
	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/goldcoin/popnode/chaincfg"
	"github.com/goldcoin/popnode/errors"
	"github.com/goldcoin/popnode/model"
	"github.com/goldcoin/popnode/ulogger"
	"github.com/goldcoin/popnode/util/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry() *StakeRegistry {
	params := chaincfg.MainNetParams
	return NewStakeRegistry(ulogger.TestLogger{}, &params)
}

func testEntry(pubKey []byte, seed string, height uint32, amount uint64) *model.ParticipationEntry {
	return &model.ParticipationEntry{
		TxID:    chainhash.DoubleHashH([]byte(seed)),
		Amount:  amount,
		Address: model.AddressFromPubKey(pubKey),
		PubKey:  pubKey,
		Height:  height,
	}
}

// testBlock assembles an unmined block; the registry and wallet index only read its
// transactions, height and timestamp.
func testBlock(t *testing.T, height uint32, txs ...*bt.Tx) *model.Block {
	t.Helper()

	coinbase, err := model.NewCoinbaseTx(height, 50*coin, test.OpTrue, nil)
	require.NoError(t, err)

	all := append([]*bt.Tx{coinbase}, txs...)

	root, err := model.BuildMerkleRoot(all)
	require.NoError(t, err)

	prev := chainhash.DoubleHashH([]byte{byte(height)})

	header := &model.BlockHeader{
		Version:        1,
		HashPrevBlock:  &prev,
		HashMerkleRoot: root,
		Timestamp:      uint32(fixedNow.Unix()) + height*120, //nolint:gosec // test timestamps fit
	}

	return model.NewBlock(header, all, height)
}

func stakeLockTx(t *testing.T, spend model.Outpoint, pubKey []byte, amount uint64) *bt.Tx {
	t.Helper()

	script, err := model.NewStakeLockScript(pubKey)
	require.NoError(t, err)

	tx := test.SpendTx(t, spend, amount)
	tx.Outputs[0].LockingScript = script

	return tx
}

func TestStakeRegistryAdd(t *testing.T) {
	r := newTestRegistry()

	err := r.Add(testEntry(testPubKeyA, "a", 10, 999*coin))
	assert.True(t, errors.Is(err, errors.ErrInsufficientStake))

	require.NoError(t, r.Add(testEntry(testPubKeyA, "a", 10, 1000*coin)))

	err = r.Add(testEntry(testPubKeyA, "a2", 12, 5000*coin))
	assert.True(t, errors.Is(err, errors.ErrStakeExists))

	require.NoError(t, r.Add(testEntry(testPubKeyB, "b", 5, 2000*coin)))

	assert.Equal(t, 2, r.Count())
	assert.Equal(t, 3000*coin, r.TotalStake())

	entry, ok := r.GetByPubKey(testPubKeyA)
	require.True(t, ok)
	assert.Equal(t, 1000*coin, entry.Amount)

	entries := r.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, uint32(5), entries[0].Height)
	assert.Equal(t, uint32(10), entries[1].Height)

	assert.True(t, r.Remove(entries[0].Outpoint()))
	assert.False(t, r.Remove(entries[0].Outpoint()))

	_, ok = r.GetByPubKey(testPubKeyB)
	assert.False(t, ok)
}

func TestStakeRegistryMaturity(t *testing.T) {
	r := newTestRegistry()
	maturity := r.params.StakeMaturityBlocks

	require.NoError(t, r.Add(testEntry(testPubKeyA, "a", 100, 1000*coin)))
	require.NoError(t, r.Add(testEntry(testPubKeyB, "b", 200, 1000*coin)))

	for _, height := range []uint32{0, 100, 101, 100 + maturity - 1} {
		assert.Empty(t, r.MaturedEntries(height), "height %d", height)
	}

	matured := r.MaturedEntries(100 + maturity)
	require.Len(t, matured, 1)
	assert.Equal(t, testPubKeyA, matured[0].PubKey)

	assert.Len(t, r.MaturedEntries(200+maturity), 2)
}

func TestStakeRegistryFollowsChain(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry()

	funding := model.NewOutpoint(&chainhash.Hash{0x01}, 0)
	lock := stakeLockTx(t, funding, testPubKeyA, 1500*coin)
	small := stakeLockTx(t, model.NewOutpoint(&chainhash.Hash{0x02}, 0), testPubKeyB, 10*coin)

	a := testBlock(t, 10, lock, small)
	r.OnBlockConnected(ctx, a, nil)

	entry, ok := r.GetByPubKey(testPubKeyA)
	require.True(t, ok)
	assert.Equal(t, uint32(10), entry.Height)
	assert.Equal(t, *lock.TxIDChainHash(), entry.TxID)
	assert.Equal(t, 1, r.Count(), "stakes below the minimum are not registered")

	// spending the lock ends the stake
	lockOutpoint := entry.Outpoint()
	unlock := test.SpendTx(t, lockOutpoint, 1499*coin)
	b := testBlock(t, 20, unlock)
	r.OnBlockConnected(ctx, b, nil)

	assert.Zero(t, r.Count())

	undo := &model.UndoRecord{
		BlockHash: *b.Hash(),
		Spent: []*model.UTXO{{
			Outpoint: lockOutpoint,
			Value:    1500 * coin,
			Script:   *lock.Outputs[0].LockingScript,
			Height:   10,
		}},
	}

	r.OnBlockDisconnected(ctx, b, undo)

	entry, ok = r.GetByPubKey(testPubKeyA)
	require.True(t, ok)
	assert.Equal(t, uint32(10), entry.Height)

	r.OnBlockDisconnected(ctx, a, &model.UndoRecord{BlockHash: *a.Hash()})
	assert.Zero(t, r.Count())
}

func TestStakeRegistryOldestStakeIsActive(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry()
	address := model.AddressFromPubKey(testPubKeyA)

	first := stakeLockTx(t, model.NewOutpoint(&chainhash.Hash{0x01}, 0), testPubKeyA, 1000*coin)
	second := stakeLockTx(t, model.NewOutpoint(&chainhash.Hash{0x02}, 0), testPubKeyA, 3000*coin)
	third := stakeLockTx(t, model.NewOutpoint(&chainhash.Hash{0x03}, 0), testPubKeyA, 2000*coin)

	r.OnBlockConnected(ctx, testBlock(t, 10, first), nil)
	r.OnBlockConnected(ctx, testBlock(t, 12, second, third), nil)

	entry, ok := r.GetByPubKey(testPubKeyA)
	require.True(t, ok)
	assert.Equal(t, 1000*coin, entry.Amount)
	assert.Equal(t, 1, r.Count())
	assert.Equal(t, 1000*coin, r.TotalStake())

	reserve := r.Reserve(address)
	require.Len(t, reserve, 2)

	// spending the active stake hands over to the oldest reserve stake
	firstOut := model.NewOutpoint(first.TxIDChainHash(), 0)
	spend := testBlock(t, 20, test.SpendTx(t, firstOut, 999*coin))
	r.OnBlockConnected(ctx, spend, nil)

	entry, ok = r.GetByPubKey(testPubKeyA)
	require.True(t, ok)
	assert.Equal(t, uint32(12), entry.Height)
	assert.Equal(t, reserve[0].Outpoint(), entry.Outpoint())
	assert.Len(t, r.Reserve(address), 1)

	// undoing the spend gives the older stake back its place
	undo := &model.UndoRecord{
		BlockHash: *spend.Hash(),
		Spent: []*model.UTXO{{
			Outpoint: firstOut,
			Value:    1000 * coin,
			Script:   *first.Outputs[0].LockingScript,
			Height:   10,
		}},
	}

	r.OnBlockDisconnected(ctx, spend, undo)

	entry, ok = r.GetByPubKey(testPubKeyA)
	require.True(t, ok)
	assert.Equal(t, firstOut, entry.Outpoint())
	assert.Len(t, r.Reserve(address), 2)

	// a reserve stake can be spent without touching the active one
	assert.True(t, r.Remove(reserve[1].Outpoint()))
	assert.Len(t, r.Reserve(address), 1)

	entry, ok = r.GetByPubKey(testPubKeyA)
	require.True(t, ok)
	assert.Equal(t, firstOut, entry.Outpoint())
}
