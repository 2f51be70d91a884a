package daemon

import (
	"context"

	"github.com/goldcoin/popnode/errors"
	"github.com/goldcoin/popnode/services/blockspace"
	"github.com/goldcoin/popnode/services/chainstate"
	"github.com/goldcoin/popnode/services/hardfork"
	"github.com/goldcoin/popnode/services/mempool"
	"github.com/goldcoin/popnode/services/p2p"
	"github.com/goldcoin/popnode/services/participation"
	"github.com/goldcoin/popnode/services/query"
	"github.com/goldcoin/popnode/stores/kv/factory"
)

// openChain loads the chain and wires the components fed by its events. The stake registry
// and wallet index are rebuilt from the stored chain before they subscribe, the hard-fork
// manager starts from the loaded height.
func (d *Daemon) openChain(ctx context.Context) error {
	logger := d.loggerFactory("Daemon")
	params := d.settings.ChainCfgParams

	store, err := factory.New(d.loggerFactory("kv"), d.settings.Store.URL)
	if err != nil {
		return err
	}

	cs, err := chainstate.New(ctx, d.loggerFactory("chainstate"), d.settings, store)
	if err != nil {
		_ = store.Close(ctx)
		return err
	}

	registry := participation.NewStakeRegistry(d.loggerFactory("stakes"), params)
	wallets := participation.NewChainWalletIndex(registry)

	if err = participation.Replay(ctx, cs, registry, wallets); err != nil {
		_ = store.Close(ctx)
		return errors.NewProcessingError("failed to rebuild participation state", err)
	}

	cs.Subscribe(registry)
	cs.Subscribe(wallets)

	fees := blockspace.New(d.loggerFactory("blockspace"), d.settings)
	pool := mempool.New(d.loggerFactory("mempool"), d.settings, cs, fees)
	cs.Subscribe(pool)

	engine := participation.NewEngine(d.loggerFactory("participation"), d.settings, cs, registry, wallets, pool)
	fork := hardfork.New(d.loggerFactory("hardfork"), params, cs.GetBestHeight(), engine)
	cs.SetConsensusRules(fork)

	d.store = store
	d.chain = cs
	d.registry = registry
	d.wallets = wallets
	d.fees = fees
	d.pool = pool
	d.engine = engine
	d.fork = fork
	d.query = query.New(d.loggerFactory("query"), params, cs,
		query.WithMempool(pool),
		query.WithFees(fees),
		query.WithParticipation(engine, registry, participation.NewSecurityMonitor(params, registry)),
		query.WithHardFork(fork),
	)

	logger.Infof("[Daemon] opened %s node at height %d with %d stakes", params.Name, cs.GetBestHeight(), registry.Count())

	return nil
}

// startServices joins the network and adds the services in start order: the mempool, the
// network, the p2p server and, when participation is enabled, the block producer.
func (d *Daemon) startServices(ctx context.Context) error {
	sm := d.ServiceManager

	hub := d.hub
	if hub == nil {
		hub = p2p.NewHub()
	}

	network, err := hub.Join(d.loggerFactory("network"), d.settings)
	if err != nil {
		return err
	}

	server := p2p.NewServer(sm.Ctx, d.loggerFactory("p2p"), d.settings, network, d.chain, d.pool, d.wallets)

	var producer *participation.LotteryLoop

	if d.settings.Participation.Enabled {
		producer = participation.NewLotteryLoop(d.loggerFactory("producer"), d.settings, d.engine, d.chain, d.chain, server, nil)

		// the server announces the producer key as soon as it starts
		if err = producer.Init(ctx); err != nil {
			hub.Leave(network.ID())
			return err
		}

		server.SetPeerBlockListener(producer)
		server.SetProducer(producer.PubKey)
	}

	d.network = network
	d.server = server
	d.producer = producer

	if err = sm.AddService("Mempool", d.pool); err != nil {
		return err
	}

	if err = sm.AddService("Network", network); err != nil {
		return err
	}

	if err = sm.AddService("P2P", server); err != nil {
		return err
	}

	if producer != nil {
		if err = sm.AddService("Producer", producer); err != nil {
			return err
		}
	}

	return nil
}
