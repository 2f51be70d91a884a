package blockspace

import (
	"fmt"
	"strings"

	"github.com/goldcoin/popnode/errors"
)

// ConfirmationTarget is the number of blocks a wallet is willing to wait.
type ConfirmationTarget int

const (
	NextBlock ConfirmationTarget = 1
	Fast      ConfirmationTarget = 3
	Standard  ConfirmationTarget = 6
	Economy   ConfirmationTarget = 12
)

func (c ConfirmationTarget) String() string {
	switch c {
	case NextBlock:
		return "next_block"
	case Fast:
		return "fast"
	case Standard:
		return "standard"
	case Economy:
		return "economy"
	default:
		return fmt.Sprintf("target(%d)", int(c))
	}
}

// ParseConfirmationTarget accepts the names returned by String.
func ParseConfirmationTarget(s string) (ConfirmationTarget, error) {
	switch strings.ToLower(s) {
	case "next_block", "nextblock":
		return NextBlock, nil
	case "fast":
		return Fast, nil
	case "", "standard":
		return Standard, nil
	case "economy":
		return Economy, nil
	default:
		return 0, errors.NewInvalidArgumentError("unknown confirmation target %q", s)
	}
}

// FeeEstimate is the fee advice for one transaction.
type FeeEstimate struct {
	TotalFee    uint64             `json:"total_fee"`
	FeeRate     uint64             `json:"fee_rate"`
	Target      ConfirmationTarget `json:"target"`
	LikelyFree  bool               `json:"likely_free"`
	Confidence  float64            `json:"confidence_percent"`
	Explanation string             `json:"explanation"`
}

var targetRates = map[ConfirmationTarget]struct {
	rate       uint64
	confidence float64
}{
	NextBlock: {10_000, 90},
	Fast:      {5_000, 85},
	Standard:  {1_000, 95},
	Economy:   {500, 75},
}

// EstimateFee advises the fee of a transaction of size bytes for target. Transactions that
// qualify for the free zone are expected to confirm without a fee.
func EstimateFee(size uint64, priority PriorityResult, target ConfirmationTarget) (FeeEstimate, error) {
	if size == 0 {
		return FeeEstimate{}, errors.NewInvalidArgumentError("cannot estimate the fee of an empty transaction")
	}

	tr, ok := targetRates[target]
	if !ok {
		return FeeEstimate{}, errors.NewInvalidArgumentError("unknown confirmation target %d", int(target))
	}

	if priority.QualifiesForFree {
		return FeeEstimate{
			Target:      target,
			LikelyFree:  true,
			Confidence:  95,
			Explanation: fmt.Sprintf("High priority (%.0f), qualifies for the free zone", priority.Score),
		}, nil
	}

	return FeeEstimate{
		TotalFee:    tr.rate * size / 1000,
		FeeRate:     tr.rate,
		Target:      target,
		Confidence:  tr.confidence,
		Explanation: fmt.Sprintf("Priority too low (%.0f), estimated fee for %s confirmation", priority.Score, target),
	}, nil
}
