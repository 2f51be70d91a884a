// Package main is the popnode command: it runs a node, or opens its data directory to
// report on the stored chain.
//
// Usage:
//
//	popnode [global options] run       start the node until SIGINT or SIGTERM
//	popnode [global options] status    print chain, fork and fee market status
//	popnode [global options] block ID  print a block by height or hash
//	popnode [global options] balance A print the balance of a hex public key address
//
// Settings are read from settings.conf and the environment; the global options override
// the most common ones.
package main

import (
	"fmt"
	"os"

	"github.com/ordishs/gocore"
	"github.com/urfave/cli/v2"
)

// Name used by build script for the binaries. (Please keep on single line)
const progname = "popnode"

// Version & commit strings injected at build with -ldflags -X...
var (
	version string
	commit  string
)

func main() {
	gocore.SetInfo(progname, version, commit)

	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    progname,
		Usage:   "Goldcoin proof of participation node",
		Version: fmt.Sprintf("%s (%s)", version, commit),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "network",
				Usage: "network to join: mainnet, testnet or regtest",
			},
			&cli.StringFlag{
				Name:  "store",
				Usage: "chain store url, e.g. leveldb:///data/chainstate or memory:///",
			},
			&cli.StringFlag{
				Name:  "logLevel",
				Usage: "DEBUG, INFO, WARN or ERROR",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Run the node",
				Action: runNode,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "participate",
						Usage: "produce blocks with the participation key",
					},
					&cli.StringFlag{
						Name:  "healthCheckAddr",
						Usage: "address of the health and metrics endpoint, e.g. :8000",
					},
				},
			},
			{
				Name:   "status",
				Usage:  "Print the status of the stored chain",
				Action: printStatus,
			},
			{
				Name:      "block",
				Usage:     "Print a block by height or hash",
				ArgsUsage: "<height|hash>",
				Action:    printBlock,
			},
			{
				Name:      "balance",
				Usage:     "Print the balance of an address",
				ArgsUsage: "<address>",
				Action:    printBalance,
			},
		},
	}
}
