// Package daemon assembles a full node: the chain state on its store, the participation
// subsystem, the mempool, the peer network and the optional block producer, run by a
// service manager.
package daemon

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/bsv-blockchain/go-bt/v2"
	"github.com/goldcoin/popnode/errors"
	"github.com/goldcoin/popnode/services/blockspace"
	"github.com/goldcoin/popnode/services/chainstate"
	"github.com/goldcoin/popnode/services/hardfork"
	"github.com/goldcoin/popnode/services/mempool"
	"github.com/goldcoin/popnode/services/p2p"
	"github.com/goldcoin/popnode/services/participation"
	"github.com/goldcoin/popnode/services/query"
	"github.com/goldcoin/popnode/settings"
	"github.com/goldcoin/popnode/stores/kv"
	"github.com/goldcoin/popnode/ulogger"
	"github.com/goldcoin/popnode/util/servicemanager"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Daemon struct {
	Ctx            context.Context
	ServiceManager *servicemanager.ServiceManager
	loggerFactory  func(serviceName string) ulogger.Logger
	settings       *settings.Settings
	hub            *p2p.Hub

	mu       sync.Mutex
	opened   bool
	started  bool
	store    kv.Store
	chain    *chainstate.ChainState
	registry *participation.StakeRegistry
	wallets  *participation.ChainWalletIndex
	fees     *blockspace.Manager
	pool     *mempool.Mempool
	engine   *participation.Engine
	fork     *hardfork.Manager
	query    *query.Service
	network  *p2p.LocalNetwork
	server   *p2p.Server
	producer *participation.LotteryLoop

	serverMu     sync.Mutex
	healthServer *http.Server
	healthAddr   net.Addr

	waitOnce sync.Once
	waitErr  error
}

func New(tSettings *settings.Settings, opts ...Option) *Daemon {
	d := &Daemon{
		Ctx:      context.Background(),
		settings: tSettings,
		loggerFactory: func(serviceName string) ulogger.Logger {
			return ulogger.New(serviceName, ulogger.WithLevel(tSettings.LogLevel))
		},
	}

	for _, opt := range opts {
		opt(d)
	}

	d.ServiceManager = servicemanager.NewServiceManager(d.Ctx, d.loggerFactory("ServiceManager"))

	return d
}

// Open loads the chain state from the configured store and builds everything derived from
// it. It is enough for read-only use of the node through Query.
func (d *Daemon) Open(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.opened {
		return nil
	}

	if err := d.openChain(ctx); err != nil {
		return err
	}

	d.opened = true

	return nil
}

// Start opens the node if needed, joins the network and schedules all services. It returns
// once the services are scheduled; Wait blocks until they have stopped.
func (d *Daemon) Start(ctx context.Context) error {
	if err := d.Open(ctx); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return errors.NewServiceError("daemon already started")
	}

	if err := d.startServices(ctx); err != nil {
		d.ServiceManager.Shutdown()
		return err
	}

	if err := d.startHealthServer(); err != nil {
		d.ServiceManager.Shutdown()
		return err
	}

	d.started = true

	return nil
}

// Wait blocks until every service has stopped, then releases the store.
func (d *Daemon) Wait() error {
	d.waitOnce.Do(func() {
		d.mu.Lock()
		started := d.started
		d.mu.Unlock()

		if started {
			d.waitErr = d.ServiceManager.Wait()
		}

		if err := d.Close(context.Background()); err != nil && d.waitErr == nil {
			d.waitErr = err
		}
	})

	return d.waitErr
}

// Stop shuts the services down and waits for them.
func (d *Daemon) Stop() error {
	d.ServiceManager.Shutdown()
	return d.Wait()
}

// Close stops the health server and closes the store. A started daemon is closed by Wait.
func (d *Daemon) Close(ctx context.Context) error {
	d.serverMu.Lock()
	if d.healthServer != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := d.healthServer.Shutdown(shutdownCtx); err != nil {
			d.loggerFactory("Daemon").Warnf("Error shutting down health check server: %v", err)
		}

		cancel()

		d.healthServer = nil
	}
	d.serverMu.Unlock()

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.store == nil {
		return nil
	}

	err := d.store.Close(ctx)
	d.store = nil

	if err != nil {
		return errors.NewStorageError("failed to close store", err)
	}

	return nil
}

func (d *Daemon) Chain() *chainstate.ChainState {
	return d.chain
}

func (d *Daemon) Mempool() *mempool.Mempool {
	return d.pool
}

func (d *Daemon) Query() *query.Service {
	return d.query
}

// P2P returns the peer service, nil before Start.
func (d *Daemon) P2P() *p2p.Server {
	return d.server
}

// Producer returns the local block producer, nil when participation is disabled or the
// daemon has not been started.
func (d *Daemon) Producer() *participation.LotteryLoop {
	return d.producer
}

// HealthAddr returns the address the health server listens on, nil when it is disabled.
func (d *Daemon) HealthAddr() net.Addr {
	d.serverMu.Lock()
	defer d.serverMu.Unlock()

	return d.healthAddr
}

// SubmitTransaction admits a locally created transaction and relays it to the peers. A
// relay failure is logged; the transaction stays in the mempool either way.
func (d *Daemon) SubmitTransaction(ctx context.Context, tx *bt.Tx) (*mempool.Entry, error) {
	if d.pool == nil {
		return nil, errors.NewServiceNotStartedError("daemon is not open")
	}

	entry, err := d.pool.AcceptTransaction(ctx, tx)
	if err != nil {
		return nil, err
	}

	if d.server != nil {
		if err := d.server.BroadcastTransaction(ctx, tx); err != nil {
			d.loggerFactory("Daemon").Warnf("[SubmitTransaction] failed to relay %s: %v", tx.TxID(), err)
		}
	}

	return entry, nil
}

func (d *Daemon) startHealthServer() error {
	addr := d.settings.HealthCheckAddr
	if addr == "" {
		return nil
	}

	logger := d.loggerFactory("Daemon")
	sm := d.ServiceManager

	healthFunc := func(liveness bool) func(http.ResponseWriter, *http.Request) {
		return func(w http.ResponseWriter, _ *http.Request) {
			status, details, _ := sm.HealthHandler(sm.Ctx, liveness)

			w.WriteHeader(status)
			_, _ = w.Write([]byte(details))
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthFunc(false))
	mux.HandleFunc("/health/readiness", healthFunc(false))
	mux.HandleFunc("/health/liveness", healthFunc(true))

	if d.settings.PrometheusEndpoint != "" {
		mux.Handle(d.settings.PrometheusEndpoint, promhttp.Handler())
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.NewServiceError("failed to listen on %s", addr, err)
	}

	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 20 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	d.serverMu.Lock()
	d.healthServer = server
	d.healthAddr = listener.Addr()
	d.serverMu.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("Error from health check server: %v", err)
		}
	}()

	logger.Infof("Health check endpoint listening on http://%s/health", listener.Addr())

	return nil
}
