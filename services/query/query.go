// Package query is the read-only surface of the node. Every function reads a consistent
// snapshot of one service and returns a plain, JSON-friendly result; the package owns no
// transport.
package query

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/bsv-blockchain/go-bt/v2"
	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	safeconversion "github.com/bsv-blockchain/go-safe-conversion"
	"github.com/goldcoin/popnode/chaincfg"
	"github.com/goldcoin/popnode/errors"
	"github.com/goldcoin/popnode/model"
	"github.com/goldcoin/popnode/services/blockspace"
	"github.com/goldcoin/popnode/services/chainstate"
	"github.com/goldcoin/popnode/services/hardfork"
	"github.com/goldcoin/popnode/services/mempool"
	"github.com/goldcoin/popnode/services/participation"
	"github.com/goldcoin/popnode/ulogger"
	"github.com/goldcoin/popnode/util"
)

// ChainReader is the chain state as seen by the queries.
type ChainReader interface {
	chainstate.Reader
	GetChainWork() *big.Int
	IsMainChain(hash *chainhash.Hash) bool
}

// MempoolReader is the mempool as seen by the queries.
type MempoolReader interface {
	Get(txID chainhash.Hash) (*mempool.Entry, bool)
	Stats() mempool.Stats
}

// ParticipationReader exposes the participant set and the weight of a producer.
type ParticipationReader interface {
	GetNetworkStats(height uint32) participation.NetworkStats
	Score(pubKey []byte, height uint32) participation.Score
}

type StakeReader interface {
	GetByPubKey(pubKey []byte) (*model.ParticipationEntry, bool)
}

type SecurityReader interface {
	Status() participation.SecurityStatus
}

type ForkReader interface {
	Status(currentHeight uint32) hardfork.Status
}

// Service answers the read queries. Any reader but the chain may be nil, in which case
// the queries needing it fail with ERR_SERVICE_UNAVAILABLE.
type Service struct {
	logger        ulogger.Logger
	params        *chaincfg.Params
	chain         ChainReader
	mempool       MempoolReader
	fees          *blockspace.Manager
	participation ParticipationReader
	stakes        StakeReader
	security      SecurityReader
	fork          ForkReader
}

type Option func(*Service)

func WithMempool(pool MempoolReader) Option {
	return func(s *Service) {
		s.mempool = pool
	}
}

func WithFees(fees *blockspace.Manager) Option {
	return func(s *Service) {
		s.fees = fees
	}
}

func WithParticipation(p ParticipationReader, stakes StakeReader, security SecurityReader) Option {
	return func(s *Service) {
		s.participation = p
		s.stakes = stakes
		s.security = security
	}
}

func WithHardFork(fork ForkReader) Option {
	return func(s *Service) {
		s.fork = fork
	}
}

func New(logger ulogger.Logger, params *chaincfg.Params, chain ChainReader, opts ...Option) *Service {
	s := &Service{
		logger: logger,
		params: params,
		chain:  chain,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// ChainInfo describes the best chain.
type ChainInfo struct {
	Chain         string  `json:"chain"`
	Blocks        uint32  `json:"blocks"`
	BestBlockHash string  `json:"bestblockhash"`
	Difficulty    float64 `json:"difficulty"`
	MedianTime    int64   `json:"mediantime"`
	ChainWork     string  `json:"chainwork"`
	TotalSupply   uint64  `json:"total_supply"`
	Consensus     string  `json:"consensus"`
	Halted        string  `json:"halted,omitempty"`
}

func (s *Service) GetChainInfo() (*ChainInfo, error) {
	tip, ok := s.chain.GetBlockIndex(s.chain.GetBestBlockHash())
	if !ok {
		return nil, errors.NewChainCorruptedError("best block %s is not indexed", s.chain.GetBestBlockHash())
	}

	median, err := s.medianTime(tip)
	if err != nil {
		return nil, err
	}

	info := &ChainInfo{
		Chain:         s.params.Name,
		Blocks:        tip.Height,
		BestBlockHash: tip.Hash.String(),
		Difficulty:    util.Difficulty(tip.Header.Bits, s.params.PowLimitBits),
		MedianTime:    median,
		ChainWork:     hex.EncodeToString(s.chain.GetChainWork().Bytes()),
		TotalSupply:   s.chain.GetTotalSupply(),
		Consensus:     s.mechanism(tip.Height),
	}

	if err := s.chain.IsHalted(); err != nil {
		info.Halted = err.Error()
	}

	return info, nil
}

func (s *Service) medianTime(tip *model.BlockIndex) (int64, error) {
	timestamps := make([]int64, 0, util.MedianTimeBlocks)

	for bi := tip; bi != nil && len(timestamps) < util.MedianTimeBlocks; {
		timestamps = append(timestamps, int64(bi.Header.Timestamp))

		if bi.Height == 0 {
			break
		}

		prev, ok := s.chain.GetBlockIndex(&bi.PrevHash)
		if !ok {
			return 0, errors.NewChainCorruptedError("parent %s of block %s is not indexed", bi.PrevHash, bi.Hash)
		}

		bi = prev
	}

	return util.CalcPastMedianTime(timestamps)
}

func (s *Service) mechanism(height uint32) string {
	if height >= s.params.HardForkHeight {
		return hardfork.MechanismPoP
	}

	return hardfork.MechanismPoW
}

// BlockInfo describes a stored block. Confirmations is -1 for a block off the best chain.
type BlockInfo struct {
	Hash          string   `json:"hash"`
	Confirmations int64    `json:"confirmations"`
	Height        uint32   `json:"height"`
	Version       uint32   `json:"version"`
	MerkleRoot    string   `json:"merkleroot"`
	Time          uint32   `json:"time"`
	Bits          string   `json:"bits"`
	Nonce         uint32   `json:"nonce"`
	Difficulty    float64  `json:"difficulty"`
	PreviousHash  string   `json:"previousblockhash,omitempty"`
	NextHash      string   `json:"nextblockhash,omitempty"`
	Size          uint64   `json:"size"`
	TxCount       int      `json:"tx_count"`
	Tx            []string `json:"tx"`
	Producer      string   `json:"producer,omitempty"`
	Consensus     string   `json:"consensus"`
}

func (s *Service) GetBlock(ctx context.Context, hash *chainhash.Hash) (*BlockInfo, error) {
	block, err := s.chain.GetBlock(ctx, hash)
	if err != nil {
		return nil, err
	}

	return s.blockInfo(block), nil
}

func (s *Service) GetBlockByHeight(ctx context.Context, height uint32) (*BlockInfo, error) {
	block, err := s.chain.GetBlockByHeight(ctx, height)
	if err != nil {
		return nil, err
	}

	return s.blockInfo(block), nil
}

// GetBlockHex returns the serialized block.
func (s *Service) GetBlockHex(ctx context.Context, hash *chainhash.Hash) (string, error) {
	block, err := s.chain.GetBlock(ctx, hash)
	if err != nil {
		return "", err
	}

	return hex.EncodeToString(block.Bytes()), nil
}

func (s *Service) blockInfo(block *model.Block) *BlockInfo {
	header := block.Header

	info := &BlockInfo{
		Hash:          block.Hash().String(),
		Confirmations: -1,
		Height:        block.Height,
		Version:       header.Version,
		MerkleRoot:    header.HashMerkleRoot.String(),
		Time:          header.Timestamp,
		Bits:          bitsString(header.Bits),
		Nonce:         header.Nonce,
		Difficulty:    util.Difficulty(header.Bits, s.params.PowLimitBits),
		Size:          block.Size(),
		TxCount:       len(block.Transactions),
		Tx:            make([]string, 0, len(block.Transactions)),
		Consensus:     hardfork.MechanismPoW,
	}

	if block.Height > 0 {
		info.PreviousHash = header.HashPrevBlock.String()
	}

	if header.IsPoP() {
		info.Producer = model.AddressFromPubKey(header.ProducerPubKey)
		info.Consensus = hardfork.MechanismPoP
	}

	for _, tx := range block.Transactions {
		info.Tx = append(info.Tx, tx.TxID())
	}

	if s.chain.IsMainChain(block.Hash()) {
		best := s.chain.GetBestHeight()
		info.Confirmations = int64(best) - int64(block.Height) + 1

		if next, ok := s.chain.GetBlockIndexByHeight(block.Height + 1); ok {
			info.NextHash = next.Hash.String()
		}
	}

	return info
}

func bitsString(bits uint32) string {
	return fmt.Sprintf("%08x", bits)
}

// TxInfo describes a transaction found in the mempool or on the best chain.
type TxInfo struct {
	TxID          string `json:"txid"`
	Hex           string `json:"hex"`
	Size          int    `json:"size"`
	InMempool     bool   `json:"in_mempool"`
	Fee           uint64 `json:"fee,omitempty"`
	BlockHash     string `json:"blockhash,omitempty"`
	Height        uint32 `json:"height,omitempty"`
	Confirmations uint32 `json:"confirmations"`
}

// GetTransaction looks txID up in the mempool first, then on the best chain.
func (s *Service) GetTransaction(ctx context.Context, txID *chainhash.Hash) (*TxInfo, error) {
	if s.mempool != nil {
		if e, ok := s.mempool.Get(*txID); ok {
			info := txInfo(e.Tx)
			info.InMempool = true
			info.Fee = e.Fee

			return info, nil
		}
	}

	t, err := s.chain.GetTransaction(ctx, txID)
	if err != nil {
		return nil, err
	}

	info := txInfo(t.Tx)
	info.BlockHash = t.BlockHash.String()
	info.Height = t.Height

	if best := s.chain.GetBestHeight(); best >= t.Height {
		info.Confirmations = best - t.Height + 1
	}

	return info, nil
}

func txInfo(tx *bt.Tx) *TxInfo {
	return &TxInfo{
		TxID: tx.TxID(),
		Hex:  tx.String(),
		Size: tx.Size(),
	}
}

// BalanceInfo splits the confirmed coins of an address into spendable and staked.
type BalanceInfo struct {
	Address   string `json:"address"`
	Spendable uint64 `json:"spendable"`
	Staked    uint64 `json:"staked"`
	Total     uint64 `json:"total"`
	UtxoCount int    `json:"utxo_count"`
}

// GetBalance returns the balance of a participation address, the hex encoded producer key.
func (s *Service) GetBalance(address string) (*BalanceInfo, error) {
	pubKey, err := hex.DecodeString(address)
	if err != nil || len(pubKey) != model.ProducerPubKeySize {
		return nil, errors.NewInvalidArgumentError("address %q is not a compressed public key", address)
	}

	p2pk, err := model.NewP2PKScript(pubKey)
	if err != nil {
		return nil, err
	}

	stake, err := model.NewStakeLockScript(pubKey)
	if err != nil {
		return nil, err
	}

	info := &BalanceInfo{Address: address}

	for _, u := range s.chain.GetUtxosForScript(*p2pk) {
		info.Spendable += u.Value
		info.UtxoCount++
	}

	for _, u := range s.chain.GetUtxosForScript(*stake) {
		info.Staked += u.Value
		info.UtxoCount++
	}

	info.Total = info.Spendable + info.Staked

	return info, nil
}

// GetScriptBalance sums the unspent outputs locked by an arbitrary script.
func (s *Service) GetScriptBalance(lockingScript []byte) uint64 {
	return s.chain.GetBalance(lockingScript)
}

func (s *Service) GetMempoolInfo() (mempool.Stats, error) {
	if s.mempool == nil {
		return mempool.Stats{}, errors.NewServiceUnavailableError("mempool is not running")
	}

	return s.mempool.Stats(), nil
}

// FeeInfo is the fee market as seen by the block templates.
type FeeInfo struct {
	blockspace.MarketStats
	FreeZoneSize   uint64  `json:"free_zone_size"`
	BaseFeeRate    uint64  `json:"base_fee_rate"`
	MinRelayFee    uint64  `json:"min_relay_fee"`
	FreeThreshold  float64 `json:"free_priority_threshold"`
	DynamicFeeRate uint64  `json:"dynamic_fee_rate"`
}

func (s *Service) GetFeeStats() (*FeeInfo, error) {
	if s.fees == nil {
		return nil, errors.NewServiceUnavailableError("fee system is not running")
	}

	stats := s.fees.GetMarketStats()

	return &FeeInfo{
		MarketStats:    stats,
		FreeZoneSize:   s.fees.FreeZoneSize(),
		BaseFeeRate:    blockspace.BaseFeeRate,
		MinRelayFee:    blockspace.MinRelayFee,
		FreeThreshold:  s.params.FreeTxPriorityThreshold,
		DynamicFeeRate: blockspace.DynamicFeeRate(stats.FreeZonePressure),
	}, nil
}

// EstimateFee advises the fee of a transaction of size bytes spending young coins.
func (s *Service) EstimateFee(size uint64, target string) (blockspace.FeeEstimate, error) {
	t, err := blockspace.ParseConfirmationTarget(target)
	if err != nil {
		return blockspace.FeeEstimate{}, err
	}

	return blockspace.EstimateFee(size, blockspace.PriorityResult{}, t)
}

// EstimateTxFee advises the fee of tx, taking the priority of its confirmed inputs into
// account.
func (s *Service) EstimateTxFee(tx *bt.Tx, target string) (blockspace.FeeEstimate, error) {
	t, err := blockspace.ParseConfirmationTarget(target)
	if err != nil {
		return blockspace.FeeEstimate{}, err
	}

	best := s.chain.GetBestHeight()
	inputs := make([]blockspace.PriorityInput, 0, len(tx.Inputs))

	for _, in := range tx.Inputs {
		op := model.NewOutpoint(in.PreviousTxIDChainHash(), in.PreviousTxOutIndex)

		u, ok := s.chain.GetUtxo(op)
		if !ok {
			return blockspace.FeeEstimate{}, errors.NewTxMissingInputsError("input %s is not a confirmed unspent output", op)
		}

		inputs = append(inputs, blockspace.PriorityInput{Value: u.Value, Confirmations: u.Confirmations(best)})
	}

	size, err := safeconversion.IntToUint64(tx.Size())
	if err != nil {
		return blockspace.FeeEstimate{}, errors.NewTxInvalidError("invalid tx size", err)
	}

	priority, err := blockspace.CalculatePriority(inputs, size, s.params.FreeTxPriorityThreshold)
	if err != nil {
		return blockspace.FeeEstimate{}, err
	}

	return blockspace.EstimateFee(size, priority, t)
}

func (s *Service) GetParticipationStats() (participation.NetworkStats, error) {
	if s.participation == nil {
		return participation.NetworkStats{}, errors.NewServiceUnavailableError("participation is not running")
	}

	return s.participation.GetNetworkStats(s.chain.GetBestHeight() + 1), nil
}

// ParticipantInfo is the stake and lottery weight of one producer.
type ParticipantInfo struct {
	Address string              `json:"address"`
	Stake   uint64              `json:"stake"`
	Height  uint32              `json:"stake_height"`
	Matured bool                `json:"matured"`
	Score   participation.Score `json:"score"`
}

func (s *Service) GetParticipant(address string) (*ParticipantInfo, error) {
	if s.participation == nil || s.stakes == nil {
		return nil, errors.NewServiceUnavailableError("participation is not running")
	}

	pubKey, err := hex.DecodeString(address)
	if err != nil || len(pubKey) != model.ProducerPubKeySize {
		return nil, errors.NewInvalidArgumentError("address %q is not a compressed public key", address)
	}

	entry, ok := s.stakes.GetByPubKey(pubKey)
	if !ok {
		return nil, errors.NewNotFoundError("address %s has no stake", address)
	}

	height := s.chain.GetBestHeight() + 1

	return &ParticipantInfo{
		Address: address,
		Stake:   entry.Amount,
		Height:  entry.Height,
		Matured: entry.IsMatured(height, s.params.StakeMaturityBlocks),
		Score:   s.participation.Score(pubKey, height),
	}, nil
}

func (s *Service) GetSecurityStatus() (participation.SecurityStatus, error) {
	if s.security == nil {
		return participation.SecurityStatus{}, errors.NewServiceUnavailableError("participation is not running")
	}

	return s.security.Status(), nil
}

func (s *Service) GetHardForkStatus() (hardfork.Status, error) {
	if s.fork == nil {
		return hardfork.Status{}, errors.NewServiceUnavailableError("hard fork manager is not running")
	}

	return s.fork.Status(s.chain.GetBestHeight()), nil
}
