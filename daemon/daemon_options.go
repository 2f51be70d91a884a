package daemon

import (
	"context"

	"github.com/goldcoin/popnode/services/p2p"
	"github.com/goldcoin/popnode/ulogger"
)

// Option is a functional option type for configuring the Daemon.
type Option func(*Daemon)

// WithLoggerFactory provides a custom logger factory for the Daemon and its services.
func WithLoggerFactory(factory func(serviceName string) ulogger.Logger) Option {
	return func(d *Daemon) {
		d.loggerFactory = factory
	}
}

// WithContext allows setting a custom context for the Daemon.
func WithContext(ctx context.Context) Option {
	return func(d *Daemon) {
		d.Ctx = ctx
	}
}

// WithHub joins the node to an existing hub, so several daemons in one process form a
// network. Without it every daemon gets a hub of its own.
func WithHub(hub *p2p.Hub) Option {
	return func(d *Daemon) {
		d.hub = hub
	}
}
