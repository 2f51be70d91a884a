package factory

import (
	"context"
	"net/url"
	"testing"

	"github.com/goldcoin/popnode/stores/kv/leveldb"
	"github.com/goldcoin/popnode/stores/kv/memory"
	"github.com/goldcoin/popnode/ulogger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	logger := ulogger.TestLogger{}

	u, err := url.Parse("memory:///")
	require.NoError(t, err)

	store, err := New(logger, u)
	require.NoError(t, err)
	assert.IsType(t, &memory.Memory{}, store)

	u, err = url.Parse("leveldb://memory")
	require.NoError(t, err)

	store, err = New(logger, u)
	require.NoError(t, err)
	assert.IsType(t, &leveldb.Store{}, store)
	require.NoError(t, store.Close(context.Background()))

	u, err = url.Parse("leveldb:///")
	require.NoError(t, err)

	_, err = New(logger, u)
	require.Error(t, err)

	u, err = url.Parse("aerospike://localhost")
	require.NoError(t, err)

	_, err = New(logger, u)
	require.Error(t, err)

	_, err = New(logger, nil)
	require.Error(t, err)
}
