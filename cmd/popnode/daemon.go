package main

import (
	"os"

	"github.com/goldcoin/popnode/daemon"
	"github.com/goldcoin/popnode/settings"
	"github.com/goldcoin/popnode/ulogger"
	"github.com/ordishs/gocore"
	"github.com/urfave/cli/v2"
)

// overrides maps global flags to the settings keys they replace.
var overrides = []string{"network", "store", "logLevel"}

// loadSettings applies the command line overrides to the config before the settings are
// read, so they win over settings.conf and the environment.
func loadSettings(c *cli.Context) *settings.Settings {
	for _, name := range overrides {
		if c.IsSet(name) {
			gocore.Config().Set(name, c.String(name))
		}
	}

	if c.Bool("participate") {
		gocore.Config().Set("participation_enabled", "true")
	}

	if c.IsSet("healthCheckAddr") {
		gocore.Config().Set("healthCheckAddr", c.String("healthCheckAddr"))
	}

	return settings.NewSettings()
}

// runNode starts the daemon and blocks until it is shut down.
func runNode(c *cli.Context) error {
	tSettings := loadSettings(c)

	logger := ulogger.New(progname, ulogger.WithLevel(tSettings.LogLevel))

	stats := gocore.Config().Stats()
	logger.Infof("STATS\n%s\nVERSION\n-------\n%s (%s)\n\n", stats, version, commit)

	d := daemon.New(tSettings,
		daemon.WithContext(c.Context),
		daemon.WithLoggerFactory(func(serviceName string) ulogger.Logger {
			return ulogger.New(serviceName, ulogger.WithLevel(tSettings.LogLevel))
		}),
	)

	if err := d.Start(c.Context); err != nil {
		_ = d.Close(c.Context)
		return err
	}

	return d.Wait()
}

// openNode opens the stored chain without joining the network. Logs go to stderr so they
// do not mix with the report.
func openNode(c *cli.Context) (*daemon.Daemon, error) {
	tSettings := loadSettings(c)

	d := daemon.New(tSettings,
		daemon.WithContext(c.Context),
		daemon.WithLoggerFactory(func(serviceName string) ulogger.Logger {
			return ulogger.New(serviceName, ulogger.WithLevel("WARN"), ulogger.WithWriter(os.Stderr))
		}),
	)

	if err := d.Open(c.Context); err != nil {
		return nil, err
	}

	return d, nil
}
