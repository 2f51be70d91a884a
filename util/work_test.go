package util

import (
	"math/big"
	"testing"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/goldcoin/popnode/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompactToBig(t *testing.T) {
	tests := []struct {
		compact uint32
		want    string
	}{
		{0x1d00ffff, "ffff0000000000000000000000000000000000000000000000000000"},
		{0x207fffff, "7fffff0000000000000000000000000000000000000000000000000000000000"},
		{0x03123456, "123456"},
	}

	for _, tt := range tests {
		want, ok := new(big.Int).SetString(tt.want, 16)
		require.True(t, ok)
		assert.Equal(t, 0, want.Cmp(CompactToBig(tt.compact)), "compact %08x", tt.compact)
		assert.Equal(t, tt.compact, BigToCompact(want), "compact %08x", tt.compact)
	}

	assert.Equal(t, -1, CompactToBig(0x04923456).Sign())
	assert.Equal(t, uint32(0), BigToCompact(big.NewInt(0)))
}

func TestCalcWork(t *testing.T) {
	assert.Equal(t, "4295032833", CalcWork(0x1d00ffff).String())
	assert.Equal(t, "2", CalcWork(0x207fffff).String())
	assert.Equal(t, "0", CalcWork(0x04923456).String())
	assert.Equal(t, 1, CalcWork(0x1d00ffff).Cmp(CalcWork(0x207fffff)))
}

func TestCheckProofOfWork(t *testing.T) {
	powLimit := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 255), big.NewInt(1))

	low := &chainhash.Hash{}
	low[0] = 1

	require.NoError(t, CheckProofOfWork(low, 0x207fffff, powLimit))

	high := &chainhash.Hash{}
	high[chainhash.HashSize-1] = 0xff

	err := CheckProofOfWork(high, 0x207fffff, powLimit)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidPoW))

	err = CheckProofOfWork(low, 0x217fffff, powLimit)
	require.Error(t, err)

	err = CheckProofOfWork(low, 0, powLimit)
	require.Error(t, err)
}

func TestDifficulty(t *testing.T) {
	assert.InDelta(t, 1.0, Difficulty(0x1d00ffff, 0x1d00ffff), 1e-12)
	assert.InDelta(t, 16307.420938523983, Difficulty(0x1b0404cb, 0x1d00ffff), 1e-6)
	assert.Zero(t, Difficulty(0, 0x1d00ffff))
}
