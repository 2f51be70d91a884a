// Copyright (c) 2014-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chaincfg

import (
	"encoding/hex"
	"math/big"
	"time"

	"github.com/bsv-blockchain/go-bt/v2"
	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/goldcoin/popnode/errors"
	"github.com/goldcoin/popnode/model"
)

// SatoshisPerCoin is the number of base units in one coin.
const SatoshisPerCoin uint64 = 100_000_000

// These variables are the chain proof-of-work limit parameters for each default
// network.
var (
	// bigOne is 1 represented as a big.Int.  It is defined here to avoid
	// the overhead of creating it multiple times.
	bigOne = big.NewInt(1)

	// mainPowLimit is the highest proof of work value a block can have for
	// the main network.  It is the value 2^236 - 1.
	mainPowLimit = new(big.Int).Sub(new(big.Int).Lsh(bigOne, 236), bigOne)

	// testNetPowLimit is the highest proof of work value a block can have
	// for the test network.  It is the value 2^236 - 1.
	testNetPowLimit = new(big.Int).Sub(new(big.Int).Lsh(bigOne, 236), bigOne)

	// regressionPowLimit is the highest proof of work value a block can
	// have for the regression test network.  It is the value 2^255 - 1.
	regressionPowLimit = new(big.Int).Sub(new(big.Int).Lsh(bigOne, 255), bigOne)
)

// genesisOutputKey is the public key the genesis coinbase pays to.
var genesisOutputKey, _ = hex.DecodeString("04678afdb0fe5548271967f1a67130b7105cd6a828e03909a67962e0ea1f61deb649f6bc3f4cef38c4f35504e51ec112de5c384df7ba0b8d578a4c702b6bf11d5f")

// Net identifies a network by the magic bytes of its messages.
type Net uint32

const (
	MainNet    Net = 0xfdc0b6db
	TestNet    Net = 0xfcc1b7dc
	RegTestNet Net = 0xfabfb5da
)

// Checkpoint identifies a known good point in the block chain.  A block at a
// checkpoint height must have the checkpoint hash, which also prevents forks
// from before the checkpoint.
type Checkpoint struct {
	Height uint32
	Hash   *chainhash.Hash
}

// Params defines a network by its parameters.  None of these are runtime
// configurable; settings only pick the network by name.
type Params struct {
	// Name defines a human-readable identifier for the network.
	Name string

	// Net defines the magic bytes used to identify the network.
	Net Net

	// DefaultPort defines the default peer-to-peer port for the network.
	DefaultPort string

	// GenesisBlock defines the first block of the chain.
	GenesisBlock *model.Block

	// GenesisHash is the starting block hash.
	GenesisHash *chainhash.Hash

	// PowLimit defines the highest allowed proof of work value for a block
	// as a uint256.
	PowLimit *big.Int

	// PowLimitBits defines the highest allowed proof of work value for a
	// block in compact form.  Participation blocks always carry these bits.
	PowLimitBits uint32

	// CoinbaseMaturity is the number of blocks required before newly mined
	// coins (coinbase transactions) can be spent.
	CoinbaseMaturity uint32

	// TargetTimePerBlock is the desired amount of time to generate each
	// block.
	TargetTimePerBlock time.Duration

	// MaxBlockSize is the largest serialized block accepted, in bytes.
	MaxBlockSize uint64

	// MaxMoney is the supply cap in satoshis.
	MaxMoney uint64

	// MinimumStake is the smallest stake lock that creates a participation entry.
	MinimumStake uint64

	// StakeMaturityBlocks is the number of blocks a stake must be locked
	// before its owner may produce blocks.
	StakeMaturityBlocks uint32

	// HardForkHeight is the first height produced by proof of participation.
	HardForkHeight uint32

	// MinTransactions and MinUniqueCounterparties are the wallet history a
	// participant needs before it may produce blocks.
	MinTransactions         uint32
	MinUniqueCounterparties uint32

	// MaxInactivity is the longest a participant may go without a
	// transaction. Zero disables the check.
	MaxInactivity time.Duration

	// FreeZonePercent is the share of MaxBlockSize reserved for free
	// transactions.
	FreeZonePercent uint64

	// FreeTxPriorityThreshold is the priority a transaction needs to
	// qualify for the free zone.
	FreeTxPriorityThreshold float64

	// LotteryTargetProbability is the chance of a single participant
	// winning the lottery for one height.
	LotteryTargetProbability float64

	// TimestampWindow bounds the distance between a participation block's
	// timestamp and local time.
	TimestampWindow time.Duration

	// FinalityDepth is the deepest reorganization accepted.
	FinalityDepth uint32

	// CheckpointInterval is the spacing of checkpoint candidates.
	CheckpointInterval uint32

	// Checkpoints ordered from oldest to newest.
	Checkpoints []Checkpoint
}

// BlockSubsidy returns the coinbase subsidy of a block at height.
func (p *Params) BlockSubsidy(height uint32) uint64 {
	switch {
	case height < 840_000:
		return 50 * SatoshisPerCoin
	case height < 1_680_000:
		return 25 * SatoshisPerCoin
	case height < 2_520_000:
		return 10 * SatoshisPerCoin
	case height < 3_360_000:
		return 5 * SatoshisPerCoin
	default:
		return 2 * SatoshisPerCoin
	}
}

// FreeZoneSize is the number of bytes of a block reserved for free transactions.
func (p *Params) FreeZoneSize() uint64 {
	return p.MaxBlockSize * p.FreeZonePercent / 100
}

// VeteranCoinAge is the coin age above which a participant is never subject
// to subnet limits.
func (p *Params) VeteranCoinAge() uint32 {
	return 10 * p.StakeMaturityBlocks
}

// CheckpointAt returns the checkpoint at height, if there is one.
func (p *Params) CheckpointAt(height uint32) (Checkpoint, bool) {
	for _, cp := range p.Checkpoints {
		if cp.Height == height {
			return cp, true
		}
	}

	return Checkpoint{}, false
}

// LastCheckpoint returns the highest checkpoint, or nil when there is none.
func (p *Params) LastCheckpoint() *Checkpoint {
	if len(p.Checkpoints) == 0 {
		return nil
	}

	return &p.Checkpoints[len(p.Checkpoints)-1]
}

// MainNetParams defines the network parameters for the main network.
var MainNetParams = Params{
	Name:        "mainnet",
	Net:         MainNet,
	DefaultPort: "8121",

	PowLimit:     mainPowLimit,
	PowLimitBits: 0x1e0ffff0,

	CoinbaseMaturity:   100,
	TargetTimePerBlock: 2 * time.Minute,
	MaxBlockSize:       32 * 1024 * 1024,
	MaxMoney:           1_172_245_700 * SatoshisPerCoin,

	MinimumStake:        1000 * SatoshisPerCoin,
	StakeMaturityBlocks: 1440,
	HardForkHeight:      3_500_000,

	MinTransactions:         10,
	MinUniqueCounterparties: 5,
	MaxInactivity:           90 * 24 * time.Hour,

	FreeZonePercent:          5,
	FreeTxPriorityThreshold:  57_600_000,
	LotteryTargetProbability: 0.001,
	TimestampWindow:          5 * time.Minute,

	FinalityDepth:      30,
	CheckpointInterval: 10_000,
}

// TestNetParams defines the network parameters for the test network.
var TestNetParams = Params{
	Name:        "testnet",
	Net:         TestNet,
	DefaultPort: "18121",

	PowLimit:     testNetPowLimit,
	PowLimitBits: 0x1e0ffff0,

	CoinbaseMaturity:   100,
	TargetTimePerBlock: 2 * time.Minute,
	MaxBlockSize:       32 * 1024 * 1024,
	MaxMoney:           1_172_245_700 * SatoshisPerCoin,

	MinimumStake:        1000 * SatoshisPerCoin,
	StakeMaturityBlocks: 1440,
	HardForkHeight:      10_000,

	MinTransactions:         10,
	MinUniqueCounterparties: 5,
	MaxInactivity:           90 * 24 * time.Hour,

	FreeZonePercent:          5,
	FreeTxPriorityThreshold:  57_600_000,
	LotteryTargetProbability: 0.01,
	TimestampWindow:          5 * time.Minute,

	FinalityDepth:      30,
	CheckpointInterval: 10_000,
}

// RegressionNetParams defines the network parameters for the regression test
// network.  Not to be confused with the test network, this network is
// sometimes simply called "regtest".  Blocks are trivial to mine, stakes
// mature quickly and the fork comes early.
var RegressionNetParams = Params{
	Name:        "regtest",
	Net:         RegTestNet,
	DefaultPort: "18444",

	PowLimit:     regressionPowLimit,
	PowLimitBits: 0x207fffff,

	CoinbaseMaturity:   100,
	TargetTimePerBlock: 2 * time.Minute,
	MaxBlockSize:       32 * 1024 * 1024,
	MaxMoney:           1_172_245_700 * SatoshisPerCoin,

	MinimumStake:        1000 * SatoshisPerCoin,
	StakeMaturityBlocks: 10,
	HardForkHeight:      150,

	// a lone regtest producer has no wallet history to show
	MinTransactions:         0,
	MinUniqueCounterparties: 0,
	MaxInactivity:           0,

	FreeZonePercent:          5,
	FreeTxPriorityThreshold:  57_600_000,
	LotteryTargetProbability: 0.5,
	TimestampWindow:          5 * time.Minute,

	FinalityDepth:      30,
	CheckpointInterval: 10_000,
}

var (
	// ErrDuplicateNet describes an error where the parameters for a network
	// could not be set due to the network already being a standard
	// network or previously-registered into this package.
	ErrDuplicateNet = errors.New(errors.ERR_INVALID_ARGUMENT, "duplicate network")

	registeredNets = make(map[Net]*Params)
)

// Register registers the network parameters for a network.  This may error
// with ErrDuplicateNet if the network is already registered.
func Register(params *Params) error {
	if _, ok := registeredNets[params.Net]; ok {
		return ErrDuplicateNet
	}

	registeredNets[params.Net] = params

	return nil
}

// mustRegister performs the same function as Register except it panics if there
// is an error.  This should only be called from package init functions.
func mustRegister(params *Params) {
	if err := Register(params); err != nil {
		panic("failed to register network: " + err.Error())
	}
}

func GetChainParams(network string) (*Params, error) {
	switch network {
	case "mainnet":
		return &MainNetParams, nil
	case "testnet":
		return &TestNetParams, nil
	case "regtest":
		return &RegressionNetParams, nil
	default:
		for _, params := range registeredNets {
			if params.Name == network {
				return params, nil
			}
		}

		return nil, errors.NewConfigurationError("unknown network %s", network)
	}
}

// buildGenesisBlock creates the genesis block of a network.  The genesis
// coinbase is a regular output and enters the UTXO set.
func buildGenesisBlock(timestamp, bits, nonce uint32) *model.Block {
	script, err := model.NewP2PKScript(genesisOutputKey)
	if err != nil {
		panic(err)
	}

	coinbase, err := model.NewCoinbaseTx(0, 50*SatoshisPerCoin, script, []byte("Goldcoin: The Gold Standard of Cryptocurrencies"))
	if err != nil {
		panic(err)
	}

	merkleRoot, err := model.BuildMerkleRoot([]*bt.Tx{coinbase})
	if err != nil {
		panic(err)
	}

	header := &model.BlockHeader{
		Version:        1,
		HashPrevBlock:  &chainhash.Hash{},
		HashMerkleRoot: merkleRoot,
		Timestamp:      timestamp,
		Bits:           bits,
		Nonce:          nonce,
	}

	return model.NewBlock(header, []*bt.Tx{coinbase}, 0)
}

func setGenesis(params *Params, timestamp, nonce uint32) {
	params.GenesisBlock = buildGenesisBlock(timestamp, params.PowLimitBits, nonce)
	params.GenesisHash = params.GenesisBlock.Hash()
	params.Checkpoints = append([]Checkpoint{{Height: 0, Hash: params.GenesisHash}}, params.Checkpoints...)
}

func init() {
	setGenesis(&MainNetParams, 1368560876, 3591624)
	setGenesis(&TestNetParams, 1368503907, 1175548)
	setGenesis(&RegressionNetParams, 1368503907, 0)

	// Register all default networks when the package is initialized.
	mustRegister(&MainNetParams)
	mustRegister(&TestNetParams)
	mustRegister(&RegressionNetParams)
}
