package participation

import (
	"context"
	"testing"

	"github.com/goldcoin/popnode/errors"
	"github.com/goldcoin/popnode/ulogger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplayRebuildsDerivedState(t *testing.T) {
	f := newFixture(t, 5, 2)

	// a PoP block adds a reward paid to the producer
	require.NoError(t, f.cs.ProcessBlock(f.ctx, f.candidate(t)))

	registry := NewStakeRegistry(ulogger.TestLogger{}, f.params)
	wallets := NewChainWalletIndex(registry)

	require.NoError(t, Replay(f.ctx, f.cs, registry, wallets))

	assert.Equal(t, f.registry.Entries(), registry.Entries())
	assert.Equal(t, f.wallets.Metrics(f.pubKey(), 6), wallets.Metrics(f.pubKey(), 6))
}

func TestReplayStopsOnCancel(t *testing.T) {
	f := newFixture(t, 5, 2)

	ctx, cancel := context.WithCancel(f.ctx)
	cancel()

	registry := NewStakeRegistry(ulogger.TestLogger{}, f.params)

	err := Replay(ctx, f.cs, registry)
	assert.True(t, errors.Is(err, errors.ErrContextCanceled))
	assert.Zero(t, registry.Count())
}
