package participation

import (
	"context"
	"sort"
	"sync"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/goldcoin/popnode/chaincfg"
	"github.com/goldcoin/popnode/errors"
	"github.com/goldcoin/popnode/model"
	"github.com/goldcoin/popnode/ulogger"
)

// StakeRegistry holds the active stake locks, one per address. It follows the chain as a
// chain state subscriber. An address locking several stakes on chain has its oldest one
// active; the others are held in reserve and the oldest of them takes over when the
// active stake is spent.
type StakeRegistry struct {
	logger ulogger.Logger
	params *chaincfg.Params

	mu        sync.RWMutex
	byAddress map[string]*model.ParticipationEntry
	reserve   map[string][]*model.ParticipationEntry
	byOutput  map[model.Outpoint]string
}

// older orders stakes by height, then by outpoint.
func older(a, b *model.ParticipationEntry) bool {
	if a.Height != b.Height {
		return a.Height < b.Height
	}

	return a.Outpoint().String() < b.Outpoint().String()
}

func NewStakeRegistry(logger ulogger.Logger, params *chaincfg.Params) *StakeRegistry {
	initPrometheusMetrics()

	return &StakeRegistry{
		logger:    logger,
		params:    params,
		byAddress: make(map[string]*model.ParticipationEntry),
		reserve:   make(map[string][]*model.ParticipationEntry),
		byOutput:  make(map[model.Outpoint]string),
	}
}

// Add registers a stake. An address with an active stake cannot add another.
func (r *StakeRegistry) Add(entry *model.ParticipationEntry) error {
	if entry.Amount < r.params.MinimumStake {
		return errors.NewInsufficientStakeError("stake %d below minimum %d", entry.Amount, r.params.MinimumStake)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byAddress[entry.Address]; ok {
		return errors.NewStakeExistsError("address %s already staked in %s", entry.Address, existing.Outpoint())
	}

	e := *entry
	r.byAddress[e.Address] = &e
	r.byOutput[e.Outpoint()] = e.Address

	prometheusParticipants.Set(float64(len(r.byAddress)))

	return nil
}

// Remove drops the stake locked in outpoint, active or in reserve. It reports whether
// there was one.
func (r *StakeRegistry) Remove(outpoint model.Outpoint) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	address, ok := r.byOutput[outpoint]
	if !ok {
		return false
	}

	delete(r.byOutput, outpoint)

	if active := r.byAddress[address]; active == nil || active.Outpoint() != outpoint {
		r.dropReserve(address, outpoint)
		return true
	}

	delete(r.byAddress, address)

	if next := r.takeReserve(address); next != nil {
		r.byAddress[address] = next
		r.logger.Infof("[StakeRegistry] stake %s of %s from height %d takes over", next.Outpoint(), address, next.Height)
	}

	prometheusParticipants.Set(float64(len(r.byAddress)))

	return true
}

func (r *StakeRegistry) dropReserve(address string, outpoint model.Outpoint) {
	held := r.reserve[address]

	for i, e := range held {
		if e.Outpoint() == outpoint {
			held = append(held[:i], held[i+1:]...)
			break
		}
	}

	if len(held) == 0 {
		delete(r.reserve, address)
		return
	}

	r.reserve[address] = held
}

// takeReserve removes and returns the oldest reserve stake of address, nil if none.
func (r *StakeRegistry) takeReserve(address string) *model.ParticipationEntry {
	held := r.reserve[address]
	if len(held) == 0 {
		return nil
	}

	oldest := 0

	for i, e := range held {
		if older(e, held[oldest]) {
			oldest = i
		}
	}

	next := held[oldest]
	r.dropReserve(address, next.Outpoint())

	return next
}

// Reserve returns the stakes of address waiting behind its active one, oldest first.
func (r *StakeRegistry) Reserve(address string) []model.ParticipationEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	held := make([]model.ParticipationEntry, 0, len(r.reserve[address]))
	for _, e := range r.reserve[address] {
		held = append(held, *e)
	}

	sort.Slice(held, func(i, j int) bool { return older(&held[i], &held[j]) })

	return held
}

func (r *StakeRegistry) Get(address string) (*model.ParticipationEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.byAddress[address]
	if !ok {
		return nil, false
	}

	entry := *e

	return &entry, true
}

func (r *StakeRegistry) GetByPubKey(pubKey []byte) (*model.ParticipationEntry, bool) {
	return r.Get(model.AddressFromPubKey(pubKey))
}

func (r *StakeRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.byAddress)
}

// Entries returns all stakes ordered by height, then by outpoint.
func (r *StakeRegistry) Entries() []model.ParticipationEntry {
	r.mu.RLock()
	entries := make([]model.ParticipationEntry, 0, len(r.byAddress))

	for _, e := range r.byAddress {
		entries = append(entries, *e)
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Height != entries[j].Height {
			return entries[i].Height < entries[j].Height
		}

		return entries[i].Outpoint().String() < entries[j].Outpoint().String()
	})

	return entries
}

// MaturedEntries returns the stakes old enough to produce a block at height.
func (r *StakeRegistry) MaturedEntries(height uint32) []model.ParticipationEntry {
	all := r.Entries()
	matured := all[:0]

	for _, e := range all {
		if e.IsMatured(height, r.params.StakeMaturityBlocks) {
			matured = append(matured, e)
		}
	}

	return matured
}

// TotalStake sums all active stakes.
func (r *StakeRegistry) TotalStake() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var total uint64
	for _, e := range r.byAddress {
		total += e.Amount
	}

	return total
}

// OnBlockConnected removes stakes spent by the block and adds the stake locks it creates,
// in transaction order.
func (r *StakeRegistry) OnBlockConnected(_ context.Context, block *model.Block, _ *model.UndoRecord) {
	for _, tx := range block.Transactions {
		if !tx.IsCoinbase() {
			for _, in := range tx.Inputs {
				r.Remove(model.NewOutpoint(in.PreviousTxIDChainHash(), in.PreviousTxOutIndex))
			}
		}

		txID := tx.TxIDChainHash()

		for vout, out := range tx.Outputs {
			if out.LockingScript == nil {
				continue
			}

			r.addLock(txID, uint32(vout), out.Satoshis, *out.LockingScript, block.Height) //nolint:gosec // output count is bounded by block size
		}
	}
}

// OnBlockDisconnected drops the stakes the block created and restores those it spent.
func (r *StakeRegistry) OnBlockDisconnected(_ context.Context, block *model.Block, undo *model.UndoRecord) {
	created := make(map[chainhash.Hash]struct{}, len(block.Transactions))

	for _, tx := range block.Transactions {
		txID := tx.TxIDChainHash()
		created[*txID] = struct{}{}

		for vout := range tx.Outputs {
			r.Remove(model.NewOutpoint(txID, uint32(vout))) //nolint:gosec // output count is bounded by block size
		}
	}

	if undo == nil {
		return
	}

	for _, u := range undo.Spent {
		if _, ok := created[u.Outpoint.TxID]; ok {
			continue
		}

		r.addLock(&u.Outpoint.TxID, u.Outpoint.Index, u.Value, u.Script, u.Height)
	}
}

func (r *StakeRegistry) addLock(txID *chainhash.Hash, vout uint32, amount uint64, script []byte, height uint32) {
	pubKey, ok := model.ParseStakeLockScript(script)
	if !ok || amount < r.params.MinimumStake {
		return
	}

	entry := &model.ParticipationEntry{
		TxID:    *txID,
		Vout:    vout,
		Amount:  amount,
		Address: model.AddressFromPubKey(pubKey),
		PubKey:  pubKey,
		Height:  height,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byOutput[entry.Outpoint()]; ok {
		return
	}

	r.byOutput[entry.Outpoint()] = entry.Address

	active, ok := r.byAddress[entry.Address]

	switch {
	case !ok:
		r.byAddress[entry.Address] = entry
		prometheusParticipants.Set(float64(len(r.byAddress)))

		r.logger.Infof("[StakeRegistry] stake of %d by %s at height %d", amount, entry.Address, height)
	case older(entry, active):
		// a restored older stake becomes active again
		r.byAddress[entry.Address] = entry
		r.reserve[entry.Address] = append(r.reserve[entry.Address], active)
	default:
		r.reserve[entry.Address] = append(r.reserve[entry.Address], entry)

		r.logger.Debugf("[StakeRegistry] stake %s held in reserve behind %s", entry.Outpoint(), active.Outpoint())
	}
}
