package participation

import (
	"math"
	"time"

	"github.com/goldcoin/popnode/chaincfg"
	"github.com/goldcoin/popnode/errors"
	"github.com/goldcoin/popnode/model"
	"github.com/kpango/fastime"
)

const (
	// MinWeight keeps every eligible participant in the draw.
	MinWeight = 0.01

	maxActivityScore = 5.0
	maxCoinAgeBonus  = 10.0
	botUptimeRatio   = 0.98
	botUptimeFactor  = 0.9
)

// Score is the breakdown of a participant's weight.
type Score struct {
	BaseScore        float64 `json:"base_score"`
	CoinAgeBonus     float64 `json:"coin_age_bonus"`
	RecencyBonus     float64 `json:"recency_bonus"`
	DiversityPenalty float64 `json:"diversity_penalty"`
	FinalWeight      float64 `json:"final_weight"`
	Eligible         bool    `json:"eligible"`
	Reason           string  `json:"reason,omitempty"`
}

// Validator gates and scores wallets for the lottery.
type Validator struct {
	params *chaincfg.Params
	now    func() time.Time
}

func NewValidator(params *chaincfg.Params) *Validator {
	return &Validator{
		params: params,
		now:    fastime.Now,
	}
}

// ValidateParticipation returns nil when the wallet may take part in the lottery.
func (v *Validator) ValidateParticipation(metrics *model.WalletMetrics) error {
	if metrics.Balance < v.params.MinimumStake {
		return errors.NewInsufficientStakeError("balance %d below minimum stake %d", metrics.Balance, v.params.MinimumStake)
	}

	if metrics.CoinAgeBlocks < v.params.StakeMaturityBlocks {
		return errors.NewImmatureCoinsError("coin age %d blocks, need %d", metrics.CoinAgeBlocks, v.params.StakeMaturityBlocks)
	}

	if metrics.TxCount < v.params.MinTransactions {
		return errors.NewInsufficientActivityError("%d transactions, need %d", metrics.TxCount, v.params.MinTransactions)
	}

	if metrics.UniqueCounterparties < v.params.MinUniqueCounterparties {
		return errors.NewInsufficientActivityError("%d counterparties, need %d", metrics.UniqueCounterparties, v.params.MinUniqueCounterparties)
	}

	if v.params.MaxInactivity > 0 && v.now().Sub(metrics.LastTxTime) > v.params.MaxInactivity {
		return errors.NewInsufficientActivityError("last transaction at %s", metrics.LastTxTime.UTC().Format(time.RFC3339))
	}

	return nil
}

// CalculateScore weighs an eligible wallet. diversityPenalty comes from the cluster
// analysis of the wallet's address.
func (v *Validator) CalculateScore(metrics *model.WalletMetrics, diversityPenalty float64) Score {
	if err := v.ValidateParticipation(metrics); err != nil {
		return Score{Reason: err.Error()}
	}

	score := Score{
		Eligible:         true,
		BaseScore:        activityScore(metrics.TxCount, metrics.UniqueCounterparties),
		CoinAgeBonus:     coinAgeBonus(metrics.CoinAgeBlocks),
		RecencyBonus:     v.recencyBonus(metrics.LastTxTime),
		DiversityPenalty: math.Min(math.Max(diversityPenalty, 0), 1),
	}

	uptimeFactor := 1.0
	if metrics.UptimeRatio > botUptimeRatio {
		uptimeFactor = botUptimeFactor
	}

	weight := (score.BaseScore + score.CoinAgeBonus + score.RecencyBonus) * (1 - score.DiversityPenalty) * uptimeFactor
	score.FinalWeight = math.Max(weight, MinWeight)

	return score
}

func activityScore(txCount, counterparties uint32) float64 {
	return math.Min(maxActivityScore, float64(txCount)/20) + math.Min(maxActivityScore, float64(counterparties)/10)
}

// coinAgeBonus grows logarithmically with the age in days of 1440 blocks.
func coinAgeBonus(ageBlocks uint32) float64 {
	return math.Min(maxCoinAgeBonus, math.Log10(float64(ageBlocks)/1440+1)*5)
}

func (v *Validator) recencyBonus(lastTx time.Time) float64 {
	since := v.now().Sub(lastTx)

	switch {
	case since < 30*24*time.Hour:
		return 2
	case since < 60*24*time.Hour:
		return 1
	default:
		return 0
	}
}
