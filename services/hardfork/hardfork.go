// Package hardfork switches block validation from proof of work to proof of participation
// at the network's fork height.
package hardfork

import (
	"context"
	"sync"
	"time"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/goldcoin/popnode/chaincfg"
	"github.com/goldcoin/popnode/errors"
	"github.com/goldcoin/popnode/model"
	"github.com/goldcoin/popnode/services/chainstate"
	"github.com/goldcoin/popnode/ulogger"
	"github.com/looplab/fsm"
)

const (
	MechanismPoW = "Proof of Work (PoW)"
	MechanismPoP = "Proof of Participation (PoP)"
)

// Status is the fork status reported by the query surface.
type Status struct {
	State                  string        `json:"state"`
	ForkHeight             uint32        `json:"hardfork_height"`
	CurrentHeight          uint32        `json:"current_height"`
	Activated              bool          `json:"activated"`
	ActivationHeight       uint32        `json:"activation_height,omitempty"`
	ActivationHash         string        `json:"activation_hash,omitempty"`
	BlocksUntilFork        uint32        `json:"blocks_until_fork"`
	EstimatedTimeUntilFork time.Duration `json:"time_until_fork"`
	Mechanism              string        `json:"consensus"`
	MinimumStake           uint64        `json:"minimum_stake"`
}

// Manager implements chainstate.ConsensusRules by height: blocks below the fork height get
// the proof of work rules, blocks at or above it the participation rules.
type Manager struct {
	logger ulogger.Logger
	params *chaincfg.Params
	pow    *ProofOfWorkRules
	pop    *ProofOfParticipationRules

	mu               sync.Mutex
	fsm              *fsm.FSM
	activationHeight uint32
	activationHash   chainhash.Hash
}

// New creates the manager for a chain whose best block is at bestHeight. A node restarted
// past the fork starts in PostFork.
func New(logger ulogger.Logger, params *chaincfg.Params, bestHeight uint32, validator PoPValidator) *Manager {
	initPrometheusMetrics()

	initial := StatePreFork
	if bestHeight >= params.HardForkHeight {
		initial = StatePostFork
	}

	m := &Manager{
		logger: logger,
		params: params,
		pow:    NewProofOfWorkRules(params),
		pop:    NewProofOfParticipationRules(params, validator),
		fsm:    NewFiniteStateMachine(initial),
	}

	setStateGauge(initial)

	return m
}

// RulesFor returns the rule set of a block at height.
func (m *Manager) RulesFor(height uint32) chainstate.ConsensusRules {
	if height >= m.params.HardForkHeight {
		return m.pop
	}

	return m.pow
}

// IsPoPActive reports whether blocks at height are produced by participation.
func (m *Manager) IsPoPActive(height uint32) bool {
	return height >= m.params.HardForkHeight
}

func (m *Manager) Mechanism(height uint32) string {
	if m.IsPoPActive(height) {
		return MechanismPoP
	}

	return MechanismPoW
}

func (m *Manager) State() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.fsm.Current()
}

func (m *Manager) ValidateBlock(ctx context.Context, block *model.Block, height uint32, prev *model.BlockIndex) error {
	if err := m.RulesFor(height).ValidateBlock(ctx, block, height, prev); err != nil {
		return err
	}

	if height >= m.params.HardForkHeight {
		m.activate(ctx, height, block.Hash())
	}

	return nil
}

func (m *Manager) activate(ctx context.Context, height uint32, hash *chainhash.Hash) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.fsm.Is(StatePreFork) {
		return
	}

	if err := m.fsm.Event(ctx, EventActivate); err != nil {
		m.logger.Errorf("[HardFork] failed to activate: %v", err)
		return
	}

	m.activationHeight = height
	m.activationHash = *hash

	setStateGauge(StateActivating)

	m.logger.Infof("[HardFork] proof of participation activating at height %d with block %s, minimum stake %d, stake maturity %d blocks",
		height, hash, m.params.MinimumStake, m.params.StakeMaturityBlocks)
}

// VerifySupplyTransition checks that a block added exactly its subsidy to the supply. A
// mismatch on the first connected fork block means the switch altered balances, which is
// fatal.
func (m *Manager) VerifySupplyTransition(height uint32, before, after uint64) error {
	err := m.RulesFor(height).VerifySupplyTransition(height, before, after)

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.fsm.Is(StateActivating) || height < m.params.HardForkHeight {
		return err
	}

	if err != nil {
		return errors.NewChainCorruptedError("supply check failed across the hard fork at height %d", height, err)
	}

	if err = m.fsm.Event(context.Background(), EventComplete); err != nil {
		return errors.NewProcessingError("[HardFork] failed to complete fork", err)
	}

	setStateGauge(StatePostFork)

	m.logger.Infof("[HardFork] fork complete at height %d, supply %d preserved", height, after)

	return nil
}

// Status reports the fork status as seen from currentHeight.
func (m *Manager) Status(currentHeight uint32) Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Status{
		State:         m.fsm.Current(),
		ForkHeight:    m.params.HardForkHeight,
		CurrentHeight: currentHeight,
		Activated:     !m.fsm.Is(StatePreFork),
		Mechanism:     m.Mechanism(currentHeight),
		MinimumStake:  m.params.MinimumStake,
	}

	if s.Activated && m.activationHeight > 0 {
		s.ActivationHeight = m.activationHeight
		s.ActivationHash = m.activationHash.String()
	}

	if currentHeight < m.params.HardForkHeight {
		s.BlocksUntilFork = m.params.HardForkHeight - currentHeight
		s.EstimatedTimeUntilFork = time.Duration(s.BlocksUntilFork) * m.params.TargetTimePerBlock
	}

	return s
}
