package participation

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/bsv-blockchain/go-bt/v2"
	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	"github.com/goldcoin/popnode/chaincfg"
	"github.com/goldcoin/popnode/errors"
	"github.com/goldcoin/popnode/model"
	"github.com/goldcoin/popnode/services/chainstate"
	"github.com/goldcoin/popnode/services/hardfork"
	"github.com/goldcoin/popnode/settings"
	"github.com/goldcoin/popnode/stores/kv/memory"
	"github.com/goldcoin/popnode/ulogger"
	"github.com/goldcoin/popnode/util/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	stakeHeight = 2
	stakeAmount = 40 * coin
)

type fixture struct {
	ctx      context.Context
	settings *settings.Settings
	params   *chaincfg.Params
	cs       *chainstate.ChainState
	registry *StakeRegistry
	wallets  *ChainWalletIndex
	engine   *Engine
	hardfork *hardfork.Manager
	key      *ec.PrivateKey
	stakeTx  *bt.Tx
}

// newFixture builds a regtest chain up to forkHeight-1 in which the producer key locks a
// stake at height 2. Every draw wins unless the test changes the lottery target.
func newFixture(t *testing.T, forkHeight, maturity uint32) *fixture {
	t.Helper()

	require.GreaterOrEqual(t, forkHeight, uint32(stakeHeight+1))

	ctx := context.Background()

	tSettings := test.CreateBaseTestSettings()
	params := tSettings.ChainCfgParams
	params.HardForkHeight = forkHeight
	params.StakeMaturityBlocks = maturity
	params.MinimumStake = 10 * coin
	params.LotteryTargetProbability = 1

	cs, err := chainstate.New(ctx, ulogger.TestLogger{}, tSettings, memory.New())
	require.NoError(t, err)

	key, err := ec.NewPrivateKey()
	require.NoError(t, err)

	registry := NewStakeRegistry(ulogger.TestLogger{}, params)
	wallets := NewChainWalletIndex(registry)

	cs.Subscribe(registry)
	cs.Subscribe(wallets)

	engine := NewEngine(ulogger.TestLogger{}, tSettings, cs, registry, wallets, nil)

	m := hardfork.New(ulogger.TestLogger{}, params, cs.GetBestHeight(), engine)
	cs.SetConsensusRules(m)

	f := &fixture{
		ctx:      ctx,
		settings: tSettings,
		params:   params,
		cs:       cs,
		registry: registry,
		wallets:  wallets,
		engine:   engine,
		hardfork: m,
		key:      key,
	}

	b1 := test.NewTestBlock(t, params, params.GenesisHash, 1, nil, 0)
	require.NoError(t, cs.ProcessBlock(ctx, b1))

	stakeScript, err := model.NewStakeLockScript(f.pubKey())
	require.NoError(t, err)

	f.stakeTx = test.SpendTx(t, test.CoinbaseOutpoint(b1), stakeAmount, 9*coin)
	f.stakeTx.Outputs[0].LockingScript = stakeScript

	prev := test.NewTestBlock(t, params, b1.Hash(), stakeHeight, []*bt.Tx{f.stakeTx}, 1*coin)
	require.NoError(t, cs.ProcessBlock(ctx, prev))

	for height := uint32(stakeHeight + 1); height < forkHeight; height++ {
		block := test.NewTestBlock(t, params, prev.Hash(), height, nil, 0)
		require.NoError(t, cs.ProcessBlock(ctx, block))

		prev = block
	}

	require.Equal(t, forkHeight-1, cs.GetBestHeight())

	return f
}

func (f *fixture) pubKey() []byte {
	return f.key.PubKey().Compressed()
}

// candidate wins the next draw and returns its block without processing it.
func (f *fixture) candidate(t *testing.T) *model.Block {
	t.Helper()

	attempt, err := f.engine.TryGenerateBlock(f.ctx, f.key)
	require.NoError(t, err)
	require.True(t, attempt.Won())

	return attempt.Candidate.Block
}

func (f *fixture) resign(t *testing.T, block *model.Block) {
	t.Helper()

	sig, err := f.key.Sign(block.Header.Hash()[:])
	require.NoError(t, err)

	block.Header.Signature = sig.Serialize()
	block.ResetHash()
}

func TestProduceAndAcceptBlock(t *testing.T) {
	f := newFixture(t, 5, 2)

	attempt, err := f.engine.TryGenerateBlock(f.ctx, f.key)
	require.NoError(t, err)

	require.True(t, attempt.Won())
	assert.Equal(t, AttemptCandidateBuilt, attempt.State())
	assert.Equal(t, uint32(5), attempt.Draw.Height)
	assert.True(t, attempt.Lottery.IsWinner)

	block := attempt.Candidate.Block
	assert.Equal(t, f.params.PowLimitBits, block.Header.Bits)
	assert.Equal(t, f.pubKey(), block.Header.ProducerPubKey)
	assert.Equal(t, attempt.Lottery.Proof, block.Header.LotteryProof)
	assert.Equal(t, f.params.BlockSubsidy(5), block.CoinbaseValue())

	supply := f.cs.GetTotalSupply()

	require.NoError(t, f.cs.ProcessBlock(f.ctx, block))

	assert.Equal(t, uint32(5), f.cs.GetBestHeight())
	assert.Equal(t, *block.Hash(), *f.cs.GetBestBlockHash())
	assert.Equal(t, supply+f.params.BlockSubsidy(5), f.cs.GetTotalSupply())
	assert.Equal(t, hardfork.StatePostFork, f.hardfork.State())

	// the reward pays the producer key
	metrics := f.wallets.Metrics(f.pubKey(), 6)
	assert.Equal(t, stakeAmount+f.params.BlockSubsidy(5), metrics.Balance)
	assert.Equal(t, uint32(6-stakeHeight), metrics.CoinAgeBlocks)
}

func TestPostForkChainGrows(t *testing.T) {
	f := newFixture(t, 3, 1)

	for height := uint32(3); height < 8; height++ {
		block := f.candidate(t)
		require.NoError(t, f.cs.ProcessBlock(f.ctx, block))
		require.Equal(t, height, f.cs.GetBestHeight())
	}
}

func TestValidateBlockRejections(t *testing.T) {
	tests := []struct {
		name   string
		modify func(t *testing.T, f *fixture, block *model.Block)
		want   error
	}{
		{
			name: "garbage signature",
			modify: func(_ *testing.T, _ *fixture, block *model.Block) {
				block.Header.Signature = []byte{0x30, 0x01}
			},
			want: errors.ErrInvalidSignature,
		},
		{
			name: "signed by another key",
			modify: func(t *testing.T, _ *fixture, block *model.Block) {
				other, err := ec.NewPrivateKey()
				require.NoError(t, err)

				sig, err := other.Sign(block.Header.Hash()[:])
				require.NoError(t, err)

				block.Header.Signature = sig.Serialize()
			},
			want: errors.ErrInvalidSignature,
		},
		{
			name: "invalid producer key",
			modify: func(t *testing.T, f *fixture, block *model.Block) {
				block.Header.ProducerPubKey = []byte{0x02, 0x01}
				f.resign(t, block)
			},
			want: errors.ErrInvalidSignature,
		},
		{
			name: "tampered lottery proof",
			modify: func(t *testing.T, f *fixture, block *model.Block) {
				proof := append([]byte(nil), block.Header.LotteryProof...)
				proof[5] ^= 0x01
				block.Header.LotteryProof = proof
				f.resign(t, block)
			},
			want: errors.ErrInvalidLottery,
		},
		{
			name: "timestamp too far ahead",
			modify: func(t *testing.T, f *fixture, block *model.Block) {
				block.Header.Timestamp += uint32(f.params.TimestampWindow/time.Second) + 60
				f.resign(t, block)
			},
			want: errors.ErrTimestampWindow,
		},
		{
			name: "lottery lost under the validator's target",
			modify: func(_ *testing.T, f *fixture, _ *model.Block) {
				f.engine.vrf = NewVRF(0)
			},
			want: errors.ErrInvalidLottery,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 5, 2)
			block := f.candidate(t)
			tip := f.cs.GetBestBlockIndex()

			tt.modify(t, f, block)

			err := f.engine.ValidateBlock(f.ctx, block, 5, tip)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)

			// the chain state refuses the block for the same reason
			err = f.cs.ProcessBlock(f.ctx, block)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
			assert.Equal(t, uint32(4), f.cs.GetBestHeight())
		})
	}
}

func TestValidateBlockWithoutParent(t *testing.T) {
	f := newFixture(t, 5, 2)

	err := f.engine.ValidateBlock(f.ctx, f.candidate(t), 5, nil)
	assert.True(t, errors.Is(err, errors.ErrInvalidArgument))
}

func TestValidateBlockAgainstLocalClock(t *testing.T) {
	f := newFixture(t, 5, 2)
	block := f.candidate(t)
	tip := f.cs.GetBestBlockIndex()

	f.engine.now = func() time.Time { return time.Now().Add(-10 * time.Minute) }

	err := f.engine.ValidateBlock(f.ctx, block, 5, tip)
	assert.True(t, errors.Is(err, errors.ErrTimestampWindow))
}

// redate moves block to timestamp ts and redraws its lottery proof for the round that
// timestamp falls in, so only the timing rules can reject it.
func (f *fixture) redate(t *testing.T, block *model.Block, tip *model.BlockIndex, ts uint32) uint32 {
	t.Helper()

	round := f.engine.round(tip.Header.Timestamp, ts)

	lottery, err := f.engine.vrf.ComputeLottery(Seed(&tip.Hash, block.Height, round), f.pubKey())
	require.NoError(t, err)

	block.Header.Timestamp = ts
	block.Header.LotteryProof = lottery.Proof
	f.resign(t, block)

	return round
}

func (f *fixture) freezeClock() time.Time {
	now := time.Unix(time.Now().Unix(), 0)
	f.engine.now = func() time.Time { return now }

	return now
}

func TestValidateBlockLotteryRound(t *testing.T) {
	window := uint32(5 * time.Minute / time.Second)
	blockTime := uint32(2 * time.Minute / time.Second)

	t.Run("previous round is accepted", func(t *testing.T) {
		f := newFixture(t, 5, 2)
		now := uint32(f.freezeClock().Unix())
		block := f.candidate(t)
		tip := f.cs.GetBestBlockIndex()

		f.redate(t, block, tip, now-blockTime)

		require.NoError(t, f.engine.ValidateBlock(f.ctx, block, 5, tip))
	})

	t.Run("future round is rejected", func(t *testing.T) {
		f := newFixture(t, 5, 2)
		now := uint32(f.freezeClock().Unix())
		block := f.candidate(t)
		tip := f.cs.GetBestBlockIndex()

		f.redate(t, block, tip, now+2*blockTime)

		err := f.engine.ValidateBlock(f.ctx, block, 5, tip)
		assert.True(t, errors.Is(err, errors.ErrTimestampWindow), "got %v", err)

		err = f.cs.ProcessBlock(f.ctx, block)
		assert.True(t, errors.Is(err, errors.ErrTimestampWindow), "got %v", err)
		assert.Equal(t, uint32(4), f.cs.GetBestHeight())
	})

	t.Run("timestamp not after the parent is rejected", func(t *testing.T) {
		f := newFixture(t, 5, 2)
		block := f.candidate(t)
		tip := f.cs.GetBestBlockIndex()

		// a local clock next to the parent keeps the block inside the window
		parentTime := time.Unix(int64(tip.Header.Timestamp), 0)
		f.engine.now = func() time.Time { return parentTime }

		f.redate(t, block, tip, tip.Header.Timestamp)

		err := f.engine.ValidateBlock(f.ctx, block, 5, tip)
		assert.True(t, errors.Is(err, errors.ErrBlockInvalid), "got %v", err)
	})

	t.Run("one key gets at most two tickets per height", func(t *testing.T) {
		f := newFixture(t, 5, 2)
		now := uint32(f.freezeClock().Unix())
		block := f.candidate(t)
		tip := f.cs.GetBestBlockIndex()

		rounds := make(map[uint32]struct{})

		for ts := now - window; ts <= now+window; ts += 10 {
			round := f.redate(t, block, tip, ts)

			if f.engine.ValidateBlock(f.ctx, block, 5, tip) == nil {
				rounds[round] = struct{}{}
			}
		}

		assert.NotEmpty(t, rounds)
		assert.LessOrEqual(t, len(rounds), 2)
	})
}

func TestLosingDrawIsNotAnError(t *testing.T) {
	f := newFixture(t, 5, 2)
	f.engine.vrf = NewVRF(0)

	attempt, err := f.engine.TryGenerateBlock(f.ctx, f.key)
	require.NoError(t, err)

	assert.False(t, attempt.Won())
	assert.Equal(t, AttemptLost, attempt.State())
	assert.False(t, attempt.Lottery.IsWinner)
	assert.Nil(t, attempt.Candidate)
}

func TestNoDrawBeforeFork(t *testing.T) {
	f := newFixture(t, 10, 2)

	// the fixture stops at height 9, so move the fork further away
	f.params.HardForkHeight = 20

	attempt, err := f.engine.TryGenerateBlock(f.ctx, f.key)
	assert.True(t, errors.Is(err, errors.ErrNotEligible))
	assert.Equal(t, AttemptIdle, attempt.State())
}

func TestUnstakedProducerIsNotEligible(t *testing.T) {
	f := newFixture(t, 5, 2)

	other, err := ec.NewPrivateKey()
	require.NoError(t, err)

	_, err = f.engine.TryGenerateBlock(f.ctx, other)
	assert.True(t, errors.Is(err, errors.ErrNotEligible))
}

func TestStakeNeverWinsBeforeMaturity(t *testing.T) {
	const maturity = 10

	f := newFixture(t, 3, maturity)
	tip := f.cs.GetBestBlockIndex()

	for height := uint32(3); height < stakeHeight+maturity; height++ {
		attempt, err := f.engine.TryGenerateBlockAt(f.ctx, f.key, Draw{PrevHash: tip.Hash, Height: height, Timestamp: tip.Header.Timestamp + 1})
		require.Error(t, err, "height %d", height)
		assert.True(t, errors.Is(err, errors.ErrImmatureCoins), "height %d: %v", height, err)
		assert.Nil(t, attempt.Lottery)
	}

	attempt, err := f.engine.TryGenerateBlockAt(f.ctx, f.key, Draw{PrevHash: tip.Hash, Height: stakeHeight + maturity, Timestamp: tip.Header.Timestamp + 1})
	require.NoError(t, err)
	assert.True(t, attempt.Won())
}

func TestSaturatedSubnetBlocksNewcomers(t *testing.T) {
	f := newFixture(t, 5, 2)

	f.wallets.ObservePeer(f.pubKey(), net.ParseIP("10.0.0.9"), 0.5)

	for i, ip := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"} {
		f.wallets.ObservePeer([]byte{0x02, byte(i)}, net.ParseIP(ip), 0.5)
	}

	_, err := f.engine.TryGenerateBlock(f.ctx, f.key)
	assert.True(t, errors.Is(err, errors.ErrSubnetSaturated))

	stats := f.engine.GetNetworkStats(5)
	assert.Equal(t, 0, stats.EligibleParticipants)
	assert.Equal(t, 1, stats.SuspiciousClusters)
}

func TestNetworkStats(t *testing.T) {
	f := newFixture(t, 5, 2)

	stats := f.engine.GetNetworkStats(5)
	assert.Equal(t, NetworkStats{
		TotalParticipants:     1,
		EligibleParticipants:  1,
		TotalStake:            stakeAmount,
		AverageStake:          stakeAmount,
		DecentralizationIndex: 0.001,
		LotteryProbability:    1,
	}, stats)

	eligible := f.engine.GetEligibleParticipants(5)
	require.Len(t, eligible, 1)
	assert.Equal(t, f.pubKey(), eligible[0].PubKey)
	assert.Equal(t, *f.stakeTx.TxIDChainHash(), eligible[0].TxID)

	assert.Empty(t, f.engine.GetEligibleParticipants(stakeHeight+1))

	score := f.engine.Score(f.pubKey(), 5)
	assert.True(t, score.Eligible)
	assert.GreaterOrEqual(t, score.FinalWeight, MinWeight)
}

func TestSecurityStatus(t *testing.T) {
	f := newFixture(t, 5, 2)

	status := NewSecurityMonitor(f.params, f.registry).Status()
	assert.Equal(t, 1, status.Participants)
	assert.Equal(t, stakeAmount, status.TotalStaked)
	assert.False(t, status.Secure)
	assert.NotEmpty(t, status.Warnings)
}
