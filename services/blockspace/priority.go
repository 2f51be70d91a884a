// Package blockspace implements the hybrid fee system: a free zone for high priority
// transactions, a fee market for the rest of the block and the fee statistics derived from
// the templates it builds.
package blockspace

import (
	"github.com/goldcoin/popnode/errors"
)

// Category classifies a transaction by how far its priority is from the free threshold.
type Category string

const (
	CategoryFree     Category = "free"
	CategoryLowFee   Category = "low_fee"
	CategoryStandard Category = "standard"
	CategoryPriority Category = "priority"
)

// suggested fees in satoshis per byte
const (
	lowFeePerByte      = 500
	standardFeePerByte = 1000
	priorityFeePerByte = 2000
)

// PriorityInput is one spent output as seen by the priority formula.
type PriorityInput struct {
	Value         uint64
	Confirmations uint32
}

// PriorityResult is the Satoshi priority of a transaction and what it implies.
type PriorityResult struct {
	Score            float64  `json:"priority_score"`
	QualifiesForFree bool     `json:"qualifies_for_free"`
	SuggestedFee     uint64   `json:"suggested_fee"`
	Category         Category `json:"category"`
}

// CalculatePriority computes sum(value * confirmations) / size. A transaction at or above
// threshold qualifies for the free zone; the others get a suggested fee by how close they
// come to it.
func CalculatePriority(inputs []PriorityInput, size uint64, threshold float64) (PriorityResult, error) {
	if len(inputs) == 0 || size == 0 {
		return PriorityResult{}, errors.NewTxInvalidError("priority needs inputs and a size, got %d inputs of size %d", len(inputs), size)
	}

	var total float64
	for _, in := range inputs {
		total += float64(in.Value) * float64(in.Confirmations)
	}

	result := PriorityResult{Score: total / float64(size)}

	if result.Score >= threshold {
		result.QualifiesForFree = true
		result.Category = CategoryFree

		return result, nil
	}

	ratio := result.Score / threshold

	switch {
	case ratio > 0.5:
		result.Category = CategoryLowFee
		result.SuggestedFee = size * lowFeePerByte
	case ratio > 0.1:
		result.Category = CategoryStandard
		result.SuggestedFee = size * standardFeePerByte
	default:
		result.Category = CategoryPriority
		result.SuggestedFee = size * priorityFeePerByte
	}

	return result, nil
}
