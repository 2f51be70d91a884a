package participation

import (
	"fmt"

	"github.com/goldcoin/popnode/chaincfg"
)

const (
	MinSecureParticipants      = 100
	MinSecureTotalStake        = 1_000_000 * chaincfg.SatoshisPerCoin
	MinSecureParticipationRate = 0.1
)

// SecurityStatus tells whether enough stake takes part for the lottery to be safe.
type SecurityStatus struct {
	Participants      int      `json:"participants"`
	TotalStaked       uint64   `json:"total_staked"`
	ParticipationRate float64  `json:"participation_rate"`
	AttackStake       uint64   `json:"attack_stake"`
	Secure            bool     `json:"secure"`
	Warnings          []string `json:"warnings,omitempty"`
	Status            string   `json:"status"`
}

type SecurityMonitor struct {
	params   *chaincfg.Params
	registry *StakeRegistry
}

func NewSecurityMonitor(params *chaincfg.Params, registry *StakeRegistry) *SecurityMonitor {
	return &SecurityMonitor{params: params, registry: registry}
}

// Status evaluates the current participant set. The participation rate is the staked share
// of the maximum supply; AttackStake is the stake needed to hold a majority of the tickets.
func (m *SecurityMonitor) Status() SecurityStatus {
	s := SecurityStatus{
		Participants: m.registry.Count(),
		TotalStaked:  m.registry.TotalStake(),
	}

	if m.params.MaxMoney > 0 {
		s.ParticipationRate = float64(s.TotalStaked) / float64(m.params.MaxMoney)
	}

	s.AttackStake = s.TotalStaked/2 + 1

	if s.Participants < MinSecureParticipants {
		s.Warnings = append(s.Warnings, fmt.Sprintf("low participant count (%d < %d)", s.Participants, MinSecureParticipants))
	}

	if s.TotalStaked < MinSecureTotalStake {
		s.Warnings = append(s.Warnings, fmt.Sprintf("low total stake (%d < %d)", s.TotalStaked, MinSecureTotalStake))
	}

	if s.ParticipationRate < MinSecureParticipationRate {
		s.Warnings = append(s.Warnings, fmt.Sprintf("low participation rate (%.1f%% < %.1f%%)", s.ParticipationRate*100, MinSecureParticipationRate*100))
	}

	s.Secure = len(s.Warnings) == 0

	state := "BUILDING"
	if s.Secure {
		state = "SECURE"
	}

	s.Status = fmt.Sprintf("Participants: %d | Total Staked: %d | Participation: %.1f%% | Security: %s",
		s.Participants, s.TotalStaked/chaincfg.SatoshisPerCoin, s.ParticipationRate*100, state)

	return s
}
