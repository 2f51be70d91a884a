// Package participation implements proof of participation: wallet eligibility, the stake
// lottery, subnet clustering defence, block production by lottery winners and validation of
// their blocks.
package participation

import (
	"context"
	"math"
	"time"

	"github.com/bsv-blockchain/go-bt/v2"
	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	safeconversion "github.com/bsv-blockchain/go-safe-conversion"
	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	"github.com/goldcoin/popnode/chaincfg"
	"github.com/goldcoin/popnode/errors"
	"github.com/goldcoin/popnode/model"
	"github.com/goldcoin/popnode/settings"
	"github.com/goldcoin/popnode/ulogger"
	"github.com/kpango/fastime"
)

// ChainReader is the part of the chain state the engine needs.
type ChainReader interface {
	GetBestBlockIndex() *model.BlockIndex
	GetBlockIndexByHeight(height uint32) (*model.BlockIndex, bool)
}

// TemplateProvider selects the transactions of a block at height, returning them with
// the fees they pay.
type TemplateProvider interface {
	BlockTemplate(ctx context.Context, height uint32) ([]*bt.Tx, uint64, error)
}

// Draw identifies one lottery: the block to build on, the height and the round.
type Draw struct {
	PrevHash  chainhash.Hash
	Height    uint32
	Round     uint32
	Timestamp uint32
}

func (d Draw) Seed() chainhash.Hash {
	return Seed(&d.PrevHash, d.Height, d.Round)
}

// NetworkStats summarises the participant set.
type NetworkStats struct {
	TotalParticipants     int     `json:"total_participants"`
	EligibleParticipants  int     `json:"eligible_participants"`
	TotalStake            uint64  `json:"total_stake"`
	AverageStake          uint64  `json:"average_stake"`
	DecentralizationIndex float64 `json:"decentralization_index"`
	SuspiciousClusters    int     `json:"suspicious_ip_clusters"`
	LotteryProbability    float64 `json:"lottery_probability"`
}

type Engine struct {
	logger    ulogger.Logger
	settings  *settings.Settings
	params    *chaincfg.Params
	validator *Validator
	detector  *ClusteringDetector
	vrf       *VRF
	registry  *StakeRegistry
	wallets   *ChainWalletIndex
	chain     ChainReader
	templates TemplateProvider
	now       func() time.Time
}

func NewEngine(logger ulogger.Logger, tSettings *settings.Settings, chain ChainReader, registry *StakeRegistry,
	wallets *ChainWalletIndex, templates TemplateProvider) *Engine {
	initPrometheusMetrics()

	params := tSettings.ChainCfgParams

	return &Engine{
		logger:    logger,
		settings:  tSettings,
		params:    params,
		validator: NewValidator(params),
		detector:  NewClusteringDetector(params),
		vrf:       NewVRF(params.LotteryTargetProbability),
		registry:  registry,
		wallets:   wallets,
		chain:     chain,
		templates: templates,
		now:       fastime.Now,
	}
}

func (e *Engine) Validator() *Validator {
	return e.validator
}

func (e *Engine) unixNow() uint32 {
	ts, err := safeconversion.IntToUint32(int(e.now().Unix()))
	if err != nil {
		return math.MaxUint32
	}

	return ts
}

// round is the number of whole target block times between the previous block and ts.
func (e *Engine) round(prevTimestamp, ts uint32) uint32 {
	target := uint32(e.params.TargetTimePerBlock / time.Second)
	if target == 0 || ts <= prevTimestamp {
		return 0
	}

	return (ts - prevTimestamp) / target
}

// NextDraw is the lottery the local producer takes part in now.
func (e *Engine) NextDraw() Draw {
	tip := e.chain.GetBestBlockIndex()

	ts := e.unixNow()

	var prevTimestamp uint32
	if tip.Header != nil {
		prevTimestamp = tip.Header.Timestamp
	}

	if ts <= prevTimestamp {
		ts = prevTimestamp + 1
	}

	return Draw{
		PrevHash:  tip.Hash,
		Height:    tip.Height + 1,
		Round:     e.round(prevTimestamp, ts),
		Timestamp: ts,
	}
}

// IsActive reports whether blocks at height are produced by the lottery.
func (e *Engine) IsActive(height uint32) bool {
	return height >= e.params.HardForkHeight
}

// TryGenerateBlock draws the local producer's ticket for the next block. A losing draw is
// the normal outcome and is not an error: the attempt ends in Lost without a candidate.
func (e *Engine) TryGenerateBlock(ctx context.Context, key *ec.PrivateKey) (*Attempt, error) {
	return e.TryGenerateBlockAt(ctx, key, e.NextDraw())
}

func (e *Engine) TryGenerateBlockAt(ctx context.Context, key *ec.PrivateKey, draw Draw) (*Attempt, error) {
	attempt := newAttempt(draw)

	if !e.IsActive(draw.Height) {
		return attempt, errors.NewNotEligibleError("height %d is before proof of participation starts at %d", draw.Height, e.params.HardForkHeight)
	}

	pubKey := key.PubKey().Compressed()

	if _, err := e.checkProducer(pubKey, draw.Height); err != nil {
		return attempt, err
	}

	lottery, err := e.vrf.ComputeLottery(draw.Seed(), pubKey)
	if err != nil {
		return attempt, err
	}

	attempt.Lottery = lottery

	if err = attempt.fire(ctx, eventCompute); err != nil {
		return attempt, errors.NewProcessingError("[Participation] attempt state", err)
	}

	prometheusLotteryAttempts.Inc()

	if !lottery.IsWinner {
		return attempt, attempt.fire(ctx, eventLose)
	}

	prometheusLotteryWins.Inc()

	if err = attempt.fire(ctx, eventWin); err != nil {
		return attempt, errors.NewProcessingError("[Participation] attempt state", err)
	}

	candidate, err := e.buildCandidate(ctx, key, pubKey, draw, lottery)
	if err != nil {
		_ = attempt.fire(ctx, eventReject)
		return attempt, err
	}

	attempt.Candidate = candidate

	if err = attempt.fire(ctx, eventBuild); err != nil {
		return attempt, errors.NewProcessingError("[Participation] attempt state", err)
	}

	e.logger.Infof("[Participation][TryGenerateBlock] won the lottery for height %d round %d, candidate %s with %d txs",
		draw.Height, draw.Round, candidate.Block.Hash(), len(candidate.Block.Transactions))

	return attempt, nil
}

func (e *Engine) buildCandidate(ctx context.Context, key *ec.PrivateKey, pubKey []byte, draw Draw, lottery *model.LotteryResult) (*BlockCandidate, error) {
	var (
		txs  []*bt.Tx
		fees uint64
		err  error
	)

	if e.templates != nil {
		if txs, fees, err = e.templates.BlockTemplate(ctx, draw.Height); err != nil {
			return nil, errors.NewProcessingError("[Participation] failed to build block template", err)
		}
	}

	rewardScript, err := model.NewP2PKScript(pubKey)
	if err != nil {
		return nil, errors.NewProcessingError("[Participation] failed to build reward script", err)
	}

	coinbase, err := model.NewCoinbaseTx(draw.Height, e.params.BlockSubsidy(draw.Height)+fees, rewardScript, []byte(e.settings.Chain.CoinbaseText))
	if err != nil {
		return nil, errors.NewProcessingError("[Participation] failed to build coinbase", err)
	}

	all := append([]*bt.Tx{coinbase}, txs...)

	root, err := model.BuildMerkleRoot(all)
	if err != nil {
		return nil, errors.NewProcessingError("[Participation] failed to build merkle root", err)
	}

	prevHash := draw.PrevHash

	header := &model.BlockHeader{
		Version:        e.settings.BlockSpace.BlockVersion,
		HashPrevBlock:  &prevHash,
		HashMerkleRoot: root,
		Timestamp:      draw.Timestamp,
		Bits:           e.params.PowLimitBits,
		ProducerPubKey: pubKey,
		LotteryProof:   lottery.Proof,
	}

	hash := header.Hash()

	sig, err := key.Sign(hash[:])
	if err != nil {
		return nil, errors.NewProcessingError("[Participation] failed to sign block %s", hash, err)
	}

	header.Signature = sig.Serialize()

	return &BlockCandidate{
		Block:    model.NewBlock(header, all, draw.Height),
		Lottery:  lottery,
		Producer: pubKey,
		Fees:     fees,
	}, nil
}

// checkProducer decides whether pubKey may produce the block at height: it needs a matured
// stake, wallet metrics passing ValidateParticipation and room in its subnet.
func (e *Engine) checkProducer(pubKey []byte, height uint32) (*model.WalletMetrics, error) {
	entry, ok := e.registry.GetByPubKey(pubKey)
	if !ok {
		return nil, errors.NewNotEligibleError("producer %s has no stake", model.AddressFromPubKey(pubKey))
	}

	if !entry.IsMatured(height, e.params.StakeMaturityBlocks) {
		return nil, errors.NewImmatureCoinsError("stake of %s from height %d is not matured at height %d", entry.Address, entry.Height, height)
	}

	metrics := e.wallets.Metrics(pubKey, height)

	if err := e.validator.ValidateParticipation(metrics); err != nil {
		return nil, err
	}

	if metrics.IP != nil {
		analysis := e.detector.AnalyzeIPClustering(metrics.IP, e.wallets.PeerIPs(entry.Address))
		if !e.detector.ShouldAllowNode(metrics, analysis) {
			return nil, errors.NewSubnetSaturatedError("producer %s: %s", entry.Address, analysis.Analysis)
		}
	}

	return metrics, nil
}

// ValidateBlock checks the participation part of a block at height built on prev: the
// producer key and signature, the timestamp window, the lottery proof and the producer's
// eligibility.
func (e *Engine) ValidateBlock(_ context.Context, block *model.Block, height uint32, prev *model.BlockIndex) (err error) {
	start := time.Now()

	defer func() {
		prometheusValidateBlock.Observe(float64(time.Since(start).Microseconds()) / 1_000_000)

		if err != nil {
			prometheusValidationFailures.Inc()
		}
	}()

	header := block.Header
	hash := block.Hash()

	if prev == nil || prev.Header == nil {
		return errors.NewInvalidArgumentError("block %s validated without its parent", hash)
	}

	pubKey, err := ec.ParsePubKey(header.ProducerPubKey)
	if err != nil {
		return errors.NewInvalidSignatureError("block %s has an invalid producer key", hash, err)
	}

	sig, err := ec.ParseDERSignature(header.Signature)
	if err != nil {
		return errors.NewInvalidSignatureError("block %s has a malformed signature", hash, err)
	}

	if !sig.Verify(hash[:], pubKey) {
		return errors.NewInvalidSignatureError("block %s is not signed by its producer", hash)
	}

	now := e.now()
	blockTime := time.Unix(int64(header.Timestamp), 0)

	if blockTime.Before(now.Add(-e.params.TimestampWindow)) || blockTime.After(now.Add(e.params.TimestampWindow)) {
		return errors.NewTimestampWindowError("block %s timestamp %s is more than %s from local time", hash, blockTime.UTC().Format(time.RFC3339), e.params.TimestampWindow)
	}

	if header.Timestamp <= prev.Header.Timestamp {
		return errors.NewBlockInvalidError("block %s timestamp %d is not after its parent's %d", hash, header.Timestamp, prev.Header.Timestamp)
	}

	// a block may claim the round running on the local clock or the one just before it,
	// so the timestamp cannot be moved around to draw extra tickets
	claimed := e.round(prev.Header.Timestamp, header.Timestamp)
	current := e.round(prev.Header.Timestamp, e.unixNow())

	if claimed > current || claimed+1 < current {
		return errors.NewTimestampWindowError("block %s claims lottery round %d for height %d, the current round is %d", hash, claimed, height, current)
	}

	seed := Seed(&prev.Hash, height, claimed)

	result, err := e.vrf.VerifyLottery(header.LotteryProof, seed, header.ProducerPubKey)
	if err != nil {
		return err
	}

	if !result.IsWinner {
		return errors.NewInvalidLotteryError("block %s producer did not win the lottery for height %d", hash, height)
	}

	if _, err = e.checkProducer(header.ProducerPubKey, height); err != nil {
		return err
	}

	return nil
}

// Score is the weight of the participant with pubKey at height.
func (e *Engine) Score(pubKey []byte, height uint32) Score {
	metrics := e.wallets.Metrics(pubKey, height)

	var penalty float64

	if metrics.IP != nil {
		analysis := e.detector.AnalyzeIPClustering(metrics.IP, e.wallets.PeerIPs(model.AddressFromPubKey(pubKey)))
		penalty = DiversityPenalty(analysis)
	}

	return e.validator.CalculateScore(metrics, penalty)
}

// GetEligibleParticipants returns the stakes that may produce the block at height.
func (e *Engine) GetEligibleParticipants(height uint32) []model.ParticipationEntry {
	matured := e.registry.MaturedEntries(height)
	eligible := matured[:0]

	for _, entry := range matured {
		if _, err := e.checkProducer(entry.PubKey, height); err == nil {
			eligible = append(eligible, entry)
		}
	}

	return eligible
}

// GetNetworkStats summarises the participants as seen from height.
func (e *Engine) GetNetworkStats(height uint32) NetworkStats {
	entries := e.registry.Entries()

	stats := NetworkStats{
		TotalParticipants:  len(entries),
		LotteryProbability: e.vrf.Target(),
	}

	for _, entry := range entries {
		stats.TotalStake += entry.Amount

		if !entry.IsMatured(height, e.params.StakeMaturityBlocks) {
			continue
		}

		metrics, err := e.checkProducer(entry.PubKey, height)
		if err == nil {
			stats.EligibleParticipants++
		}

		if err != nil && errors.Is(err, errors.ErrSubnetSaturated) {
			stats.SuspiciousClusters++
			continue
		}

		if metrics != nil && metrics.IP != nil {
			if e.detector.AnalyzeIPClustering(metrics.IP, e.wallets.PeerIPs(entry.Address)).Suspicious {
				stats.SuspiciousClusters++
			}
		}
	}

	if stats.TotalParticipants > 0 {
		stats.AverageStake = stats.TotalStake / uint64(stats.TotalParticipants)
	}

	stats.DecentralizationIndex = math.Min(1, float64(stats.EligibleParticipants)/1000)

	prometheusEligibleParticipants.Set(float64(stats.EligibleParticipants))

	return stats
}
