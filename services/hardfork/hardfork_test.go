package hardfork

import (
	"bytes"
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goldcoin/popnode/chaincfg"
	"github.com/goldcoin/popnode/errors"
	"github.com/goldcoin/popnode/model"
	"github.com/goldcoin/popnode/services/chainstate"
	"github.com/goldcoin/popnode/stores/kv/memory"
	"github.com/goldcoin/popnode/ulogger"
	"github.com/goldcoin/popnode/util/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockValidator struct {
	calls atomic.Int32
	err   error
}

func (m *mockValidator) ValidateBlock(_ context.Context, _ *model.Block, _ uint32, _ *model.BlockIndex) error {
	m.calls.Add(1)
	return m.err
}

func withParticipation(header *model.BlockHeader) {
	header.ProducerPubKey = bytes.Repeat([]byte{0x02}, 33)
	header.LotteryProof = bytes.Repeat([]byte{0x01}, model.LotteryProofSize)
	header.Signature = []byte{0x30, 0x01}
}

func forkParams(t *testing.T, height uint32) *chaincfg.Params {
	t.Helper()

	tSettings := test.CreateBaseTestSettings()
	tSettings.ChainCfgParams.HardForkHeight = height

	return tSettings.ChainCfgParams
}

func TestPreForkBlockIgnoresParticipationFields(t *testing.T) {
	params := forkParams(t, 10)
	validator := &mockValidator{}
	m := New(ulogger.TestLogger{}, params, 0, validator)

	block := test.NewTestBlock(t, params, params.GenesisHash, 1, nil, 0, test.WithHeader(withParticipation))
	require.True(t, block.Header.IsPoP())

	require.NoError(t, m.ValidateBlock(context.Background(), block, 1, nil))
	assert.Equal(t, int32(0), validator.calls.Load())
	assert.Equal(t, StatePreFork, m.State())

	block.Header.Bits = 0x03000001
	block.ResetHash()

	err := m.ValidateBlock(context.Background(), block, 1, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidPoW))
}

func TestPostForkBlockNeedsParticipation(t *testing.T) {
	params := forkParams(t, 2)
	validator := &mockValidator{}
	m := New(ulogger.TestLogger{}, params, 1, validator)

	block := test.NewTestBlock(t, params, params.GenesisHash, 2, nil, 0)

	err := m.ValidateBlock(context.Background(), block, 2, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidLottery))
	assert.Equal(t, int32(0), validator.calls.Load())

	pop := test.NewTestBlock(t, params, params.GenesisHash, 2, nil, 0, test.WithHeader(withParticipation))
	require.NoError(t, m.ValidateBlock(context.Background(), pop, 2, nil))
	assert.Equal(t, int32(1), validator.calls.Load())

	validator.err = errors.NewNotEligibleError("producer has no stake")
	err = m.ValidateBlock(context.Background(), pop, 2, nil)
	assert.True(t, errors.Is(err, errors.ErrNotEligible))
}

func TestPostForkBlockWithoutValidator(t *testing.T) {
	params := forkParams(t, 1)
	m := New(ulogger.TestLogger{}, params, 0, nil)

	block := test.NewTestBlock(t, params, params.GenesisHash, 1, nil, 0, test.WithHeader(withParticipation))

	err := m.ValidateBlock(context.Background(), block, 1, nil)
	assert.True(t, errors.Is(err, errors.ErrServiceNotStarted))
}

func TestPostForkBlockWithWrongBits(t *testing.T) {
	params := forkParams(t, 1)
	m := New(ulogger.TestLogger{}, params, 0, &mockValidator{})

	block := test.NewTestBlock(t, params, params.GenesisHash, 1, nil, 0,
		test.WithHeader(withParticipation), test.WithBits(0x207ffffe))

	err := m.ValidateBlock(context.Background(), block, 1, nil)
	assert.True(t, errors.Is(err, errors.ErrBlockInvalid))
}

func TestTransitionFiresOnce(t *testing.T) {
	params := forkParams(t, 5)
	m := New(ulogger.TestLogger{}, params, 4, &mockValidator{})
	ctx := context.Background()

	first := test.NewTestBlock(t, params, params.GenesisHash, 5, nil, 0, test.WithHeader(withParticipation))
	require.NoError(t, m.ValidateBlock(ctx, first, 5, nil))
	assert.Equal(t, StateActivating, m.State())

	subsidy := params.BlockSubsidy(5)
	require.NoError(t, m.VerifySupplyTransition(5, 100, 100+subsidy))
	assert.Equal(t, StatePostFork, m.State())

	second := test.NewTestBlock(t, params, first.Hash(), 6, nil, 0, test.WithHeader(withParticipation))
	require.NoError(t, m.ValidateBlock(ctx, second, 6, nil))
	assert.Equal(t, StatePostFork, m.State())

	status := m.Status(6)
	assert.True(t, status.Activated)
	assert.Equal(t, uint32(5), status.ActivationHeight)
	assert.Equal(t, first.Hash().String(), status.ActivationHash)

	// a supply mismatch after the fork completed is a plain inflation error
	err := m.VerifySupplyTransition(6, 100, 100)
	assert.True(t, errors.Is(err, errors.ErrInflationMismatch))
	assert.False(t, errors.IsFatalError(err))
}

func TestSupplyMismatchAtForkIsFatal(t *testing.T) {
	params := forkParams(t, 3)
	m := New(ulogger.TestLogger{}, params, 2, &mockValidator{})

	block := test.NewTestBlock(t, params, params.GenesisHash, 3, nil, 0, test.WithHeader(withParticipation))
	require.NoError(t, m.ValidateBlock(context.Background(), block, 3, nil))

	err := m.VerifySupplyTransition(3, 1000, 1001)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrChainCorrupted))
	assert.True(t, errors.IsFatalError(err))
	assert.Equal(t, StateActivating, m.State())
}

func TestRestartPastFork(t *testing.T) {
	params := forkParams(t, 3)

	m := New(ulogger.TestLogger{}, params, 3, &mockValidator{})
	assert.Equal(t, StatePostFork, m.State())

	m = New(ulogger.TestLogger{}, params, 2, &mockValidator{})
	assert.Equal(t, StatePreFork, m.State())
}

func TestStatus(t *testing.T) {
	params := forkParams(t, 100)
	m := New(ulogger.TestLogger{}, params, 40, nil)

	status := m.Status(40)
	assert.Equal(t, StatePreFork, status.State)
	assert.False(t, status.Activated)
	assert.Equal(t, uint32(60), status.BlocksUntilFork)
	assert.Equal(t, 60*params.TargetTimePerBlock, status.EstimatedTimeUntilFork)
	assert.Equal(t, MechanismPoW, status.Mechanism)
	assert.Equal(t, params.MinimumStake, status.MinimumStake)

	status = m.Status(100)
	assert.Equal(t, uint32(0), status.BlocksUntilFork)
	assert.Equal(t, time.Duration(0), status.EstimatedTimeUntilFork)
	assert.Equal(t, MechanismPoP, status.Mechanism)
}

func TestChainAcrossFork(t *testing.T) {
	ctx := context.Background()

	tSettings := test.CreateBaseTestSettings()
	tSettings.ChainCfgParams.HardForkHeight = 3
	params := tSettings.ChainCfgParams

	cs, err := chainstate.New(ctx, ulogger.TestLogger{}, tSettings, memory.New())
	require.NoError(t, err)

	validator := &mockValidator{}
	m := New(ulogger.TestLogger{}, params, cs.GetBestHeight(), validator)
	cs.SetConsensusRules(m)

	b1 := test.NewTestBlock(t, params, params.GenesisHash, 1, nil, 0)
	require.NoError(t, cs.ProcessBlock(ctx, b1))

	b2 := test.NewTestBlock(t, params, b1.Hash(), 2, nil, 0, test.WithHeader(withParticipation))
	require.NoError(t, cs.ProcessBlock(ctx, b2))
	assert.Equal(t, int32(0), validator.calls.Load())

	powOnly := test.NewTestBlock(t, params, b2.Hash(), 3, nil, 0)
	err = cs.ProcessBlock(ctx, powOnly)
	assert.True(t, errors.Is(err, errors.ErrInvalidLottery))
	assert.Equal(t, uint32(2), cs.GetBestHeight())

	supplyBefore := cs.GetTotalSupply()

	b3 := test.NewTestBlock(t, params, b2.Hash(), 3, nil, 0, test.WithHeader(withParticipation))
	require.NoError(t, cs.ProcessBlock(ctx, b3))

	assert.Equal(t, uint32(3), cs.GetBestHeight())
	assert.Equal(t, supplyBefore+params.BlockSubsidy(3), cs.GetTotalSupply())
	assert.Equal(t, StatePostFork, m.State())
	assert.Equal(t, int32(1), validator.calls.Load())
}
