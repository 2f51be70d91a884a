package hardfork

import (
	"context"

	"github.com/goldcoin/popnode/chaincfg"
	"github.com/goldcoin/popnode/errors"
	"github.com/goldcoin/popnode/model"
	"github.com/goldcoin/popnode/util"
)

// PoPValidator checks the participation part of a block: lottery proof, producer
// eligibility, signature and timestamp.
type PoPValidator interface {
	ValidateBlock(ctx context.Context, block *model.Block, height uint32, prev *model.BlockIndex) error
}

// ProofOfWorkRules validate blocks below the fork height. Participation fields a block may
// carry are ignored.
type ProofOfWorkRules struct {
	params *chaincfg.Params
}

func NewProofOfWorkRules(params *chaincfg.Params) *ProofOfWorkRules {
	return &ProofOfWorkRules{params: params}
}

func (r *ProofOfWorkRules) ValidateBlock(_ context.Context, block *model.Block, height uint32, _ *model.BlockIndex) error {
	if err := util.CheckProofOfWork(block.Hash(), block.Header.Bits, r.params.PowLimit); err != nil {
		return errors.NewInvalidPoWError("block %s at height %d", block.Hash(), height, err)
	}

	return nil
}

func (r *ProofOfWorkRules) VerifySupplyTransition(height uint32, before, after uint64) error {
	return verifySubsidy(r.params, height, before, after)
}

// ProofOfParticipationRules validate blocks at and above the fork height.
type ProofOfParticipationRules struct {
	params    *chaincfg.Params
	validator PoPValidator
}

func NewProofOfParticipationRules(params *chaincfg.Params, validator PoPValidator) *ProofOfParticipationRules {
	return &ProofOfParticipationRules{params: params, validator: validator}
}

func (r *ProofOfParticipationRules) ValidateBlock(ctx context.Context, block *model.Block, height uint32, prev *model.BlockIndex) error {
	hash := block.Hash()

	if !block.Header.IsPoP() {
		return errors.NewInvalidLotteryError("block %s at height %d carries no participation proof", hash, height)
	}

	if block.Header.Bits != r.params.PowLimitBits {
		return errors.NewBlockInvalidError("participation block %s has bits %08x, expected %08x", hash, block.Header.Bits, r.params.PowLimitBits)
	}

	if r.validator == nil {
		return errors.NewServiceNotStartedError("no participation validator to check block %s", hash)
	}

	return r.validator.ValidateBlock(ctx, block, height, prev)
}

func (r *ProofOfParticipationRules) VerifySupplyTransition(height uint32, before, after uint64) error {
	return verifySubsidy(r.params, height, before, after)
}

func verifySubsidy(params *chaincfg.Params, height uint32, before, after uint64) error {
	subsidy := params.BlockSubsidy(height)

	if after < before || after-before != subsidy {
		return errors.NewInflationMismatchError("supply moved from %d to %d at height %d, subsidy is %d", before, after, height, subsidy)
	}

	if after > params.MaxMoney {
		return errors.NewInflationMismatchError("supply %d at height %d exceeds max money", after, height)
	}

	return nil
}
