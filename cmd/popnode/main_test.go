package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/goldcoin/popnode/chaincfg"
	"github.com/goldcoin/popnode/errors"
	"github.com/goldcoin/popnode/services/hardfork"
	"github.com/goldcoin/popnode/services/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runApp(t *testing.T, args ...string) ([]byte, error) {
	t.Helper()

	var out bytes.Buffer

	app := newApp()
	app.Writer = &out

	err := app.Run(append([]string{progname, "--network", "regtest", "--store", "memory:///"}, args...))

	return out.Bytes(), err
}

func TestStatusCommand(t *testing.T) {
	out, err := runApp(t, "status")
	require.NoError(t, err)

	var status nodeStatus
	require.NoError(t, json.Unmarshal(out, &status))

	require.NotNil(t, status.Chain)
	assert.Equal(t, chaincfg.RegressionNetParams.Name, status.Chain.Chain)
	assert.Zero(t, status.Chain.Blocks)
	assert.Equal(t, hardfork.StatePreFork, status.HardFork.State)
	assert.Equal(t, chaincfg.RegressionNetParams.HardForkHeight, status.HardFork.ForkHeight)
	require.NotNil(t, status.Participation)
	assert.Zero(t, status.Participation.TotalParticipants)
	assert.NotNil(t, status.Fees)
}

func TestBlockCommand(t *testing.T) {
	out, err := runApp(t, "block", "0")
	require.NoError(t, err)

	var info query.BlockInfo
	require.NoError(t, json.Unmarshal(out, &info))
	assert.Equal(t, chaincfg.RegressionNetParams.GenesisHash.String(), info.Hash)

	out, err = runApp(t, "block", info.Hash)
	require.NoError(t, err)

	var byHash query.BlockInfo
	require.NoError(t, json.Unmarshal(out, &byHash))
	assert.Zero(t, byHash.Height)

	_, err = runApp(t, "block", "not-a-block")
	assert.True(t, errors.Is(err, errors.ErrInvalidArgument))

	_, err = runApp(t, "block")
	assert.True(t, errors.Is(err, errors.ErrInvalidArgument))

	_, err = runApp(t, "block", "7")
	assert.True(t, errors.Is(err, errors.ErrBlockNotFound))
}

func TestBalanceCommand(t *testing.T) {
	_, err := runApp(t, "balance", "nobody")
	assert.True(t, errors.Is(err, errors.ErrInvalidArgument))

	_, err = runApp(t, "balance")
	assert.True(t, errors.Is(err, errors.ErrInvalidArgument))
}
