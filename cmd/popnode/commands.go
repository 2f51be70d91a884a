package main

import (
	"encoding/json"
	"os"
	"strconv"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/goldcoin/popnode/errors"
	"github.com/goldcoin/popnode/services/hardfork"
	"github.com/goldcoin/popnode/services/participation"
	"github.com/goldcoin/popnode/services/query"
	"github.com/urfave/cli/v2"
	"golang.org/x/term"
)

type nodeStatus struct {
	Chain         *query.ChainInfo              `json:"chain"`
	HardFork      hardfork.Status               `json:"hardfork"`
	Participation *participation.NetworkStats   `json:"participation,omitempty"`
	Security      *participation.SecurityStatus `json:"security,omitempty"`
	Fees          *query.FeeInfo                `json:"fees,omitempty"`
}

func printStatus(c *cli.Context) error {
	d, err := openNode(c)
	if err != nil {
		return err
	}

	defer func() {
		_ = d.Close(c.Context)
	}()

	q := d.Query()

	var status nodeStatus

	if status.Chain, err = q.GetChainInfo(); err != nil {
		return err
	}

	if status.HardFork, err = q.GetHardForkStatus(); err != nil {
		return err
	}

	if stats, err := q.GetParticipationStats(); err == nil {
		status.Participation = &stats
	}

	if security, err := q.GetSecurityStatus(); err == nil {
		status.Security = &security
	}

	if fees, err := q.GetFeeStats(); err == nil {
		status.Fees = fees
	}

	return writeJSON(c, status)
}

func printBlock(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.NewInvalidArgumentError("block needs a height or a hash")
	}

	d, err := openNode(c)
	if err != nil {
		return err
	}

	defer func() {
		_ = d.Close(c.Context)
	}()

	id := c.Args().First()

	var info *query.BlockInfo

	if height, parseErr := strconv.ParseUint(id, 10, 32); parseErr == nil && len(id) < 2*chainhash.HashSize {
		info, err = d.Query().GetBlockByHeight(c.Context, uint32(height))
	} else {
		hash, hashErr := chainhash.NewHashFromStr(id)
		if hashErr != nil {
			return errors.NewInvalidArgumentError("%q is neither a height nor a block hash", id, hashErr)
		}

		info, err = d.Query().GetBlock(c.Context, hash)
	}

	if err != nil {
		return err
	}

	return writeJSON(c, info)
}

func printBalance(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.NewInvalidArgumentError("balance needs an address")
	}

	d, err := openNode(c)
	if err != nil {
		return err
	}

	defer func() {
		_ = d.Close(c.Context)
	}()

	balance, err := d.Query().GetBalance(c.Args().First())
	if err != nil {
		return err
	}

	return writeJSON(c, balance)
}

// writeJSON prints v to the app writer, indented when it is a terminal.
func writeJSON(c *cli.Context, v any) error {
	enc := json.NewEncoder(c.App.Writer)

	if f, ok := c.App.Writer.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		enc.SetIndent("", "  ")
	}

	if err := enc.Encode(v); err != nil {
		return errors.NewProcessingError("failed to encode output", err)
	}

	return nil
}
