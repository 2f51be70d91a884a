// Package mempool holds the transactions waiting for a block. Admission checks inputs against
// the chain state and prices transactions with the hybrid fee system; the pool follows the
// chain through block events and feeds the block templates.
package mempool

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bsv-blockchain/go-bt/v2"
	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	safeconversion "github.com/bsv-blockchain/go-safe-conversion"
	"github.com/goldcoin/popnode/chaincfg"
	"github.com/goldcoin/popnode/errors"
	"github.com/goldcoin/popnode/model"
	"github.com/goldcoin/popnode/services/blockspace"
	"github.com/goldcoin/popnode/services/chainstate"
	"github.com/goldcoin/popnode/settings"
	"github.com/goldcoin/popnode/ulogger"
	"github.com/jellydator/ttlcache/v3"
	"github.com/kpango/fastime"
)

const expiryInterval = time.Minute

// ChainView is the part of the chain state the mempool reads.
type ChainView interface {
	GetUtxo(outpoint model.Outpoint) (*model.UTXO, bool)
	GetBestHeight() uint32
}

// Entry is a transaction admitted to the pool.
type Entry struct {
	Tx        *bt.Tx
	TxID      chainhash.Hash
	Size      uint64
	Fee       uint64
	Priority  blockspace.PriorityResult
	EntryTime time.Time

	inputs []*model.UTXO
}

// FeeRate is the fee in satoshis per KB.
func (e *Entry) FeeRate() uint64 {
	if e.Size == 0 {
		return 0
	}

	return e.Fee * 1000 / e.Size
}

// Stats summarizes the pool content.
type Stats struct {
	TotalTransactions int     `json:"total_transactions"`
	FreeEligibleCount int     `json:"free_eligible_count"`
	FeePayingCount    int     `json:"fee_paying_count"`
	TotalFees         uint64  `json:"total_fees"`
	TotalSizeBytes    uint64  `json:"total_size_bytes"`
	AveragePriority   float64 `json:"average_priority"`
}

type Option func(*Mempool)

// WithScriptVerifier checks every input script on admission.
func WithScriptVerifier(verifier chainstate.ScriptVerifier) Option {
	return func(m *Mempool) {
		m.verifier = verifier
	}
}

type Mempool struct {
	logger   ulogger.Logger
	settings *settings.Settings
	params   *chaincfg.Params
	chain    ChainView
	fees     *blockspace.Manager
	verifier chainstate.ScriptVerifier
	rejected *ttlcache.Cache[chainhash.Hash, string]
	now      func() time.Time

	mu        sync.RWMutex
	entries   map[chainhash.Hash]*Entry
	spends    map[model.Outpoint]chainhash.Hash
	totalSize uint64

	started  atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
}

func New(logger ulogger.Logger, tSettings *settings.Settings, chain ChainView, fees *blockspace.Manager, opts ...Option) *Mempool {
	initPrometheusMetrics()

	m := &Mempool{
		logger:   logger,
		settings: tSettings,
		params:   tSettings.ChainCfgParams,
		chain:    chain,
		fees:     fees,
		verifier: chainstate.AcceptAllScripts,
		rejected: ttlcache.New[chainhash.Hash, string](
			ttlcache.WithTTL[chainhash.Hash, string](tSettings.Mempool.RejectedTxCacheTTL),
			ttlcache.WithDisableTouchOnHit[chainhash.Hash, string](),
		),
		now:     fastime.Now,
		entries: make(map[chainhash.Hash]*Entry),
		spends:  make(map[model.Outpoint]chainhash.Hash),
		stopCh:  make(chan struct{}),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

func (m *Mempool) Init(_ context.Context) error {
	return nil
}

// Start runs the rejected cache janitor and expires old entries until the context is done
// or Stop is called.
func (m *Mempool) Start(ctx context.Context, readyCh chan<- struct{}) error {
	m.started.Store(true)

	go m.rejected.Start()

	close(readyCh)

	ticker := time.NewTicker(expiryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-m.stopCh:
			return nil
		case <-ticker.C:
			if n := m.Expire(m.now()); n > 0 {
				m.logger.Infof("[Mempool] expired %d transactions", n)
			}
		}
	}
}

func (m *Mempool) Stop(_ context.Context) error {
	m.stopOnce.Do(func() {
		close(m.stopCh)

		if m.started.Load() {
			m.rejected.Stop()
		}
	})

	return nil
}

func (m *Mempool) Health(_ context.Context, _ bool) (int, string, error) {
	return http.StatusOK, "OK", nil
}

// AcceptTransaction validates tx against the chain tip and the pool and admits it. Transactions
// failing on their own content are remembered and refused for a while without validation.
func (m *Mempool) AcceptTransaction(ctx context.Context, tx *bt.Tx) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.NewContextCanceledError("[Mempool][AcceptTransaction] context done", err)
	}

	if tx.IsCoinbase() {
		return nil, errors.NewTxInvalidError("[Mempool][AcceptTransaction] coinbase %s cannot enter the pool", tx.TxID())
	}

	txID := *tx.TxIDChainHash()

	if item := m.rejected.Get(txID); item != nil {
		return nil, errors.NewTxRejectedError("[Mempool][AcceptTransaction] tx %s was rejected recently: %s", txID, item.Value())
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, err := m.validate(tx, &txID)
	if err != nil {
		if errors.Is(err, errors.ErrTxInvalid) {
			m.rejected.Set(txID, err.Error(), ttlcache.DefaultTTL)
		}

		prometheusTransactionsRejected.Inc()
		m.logger.Warnf("[Mempool][AcceptTransaction] rejected tx %s: %v", txID, err)

		return nil, err
	}

	m.add(entry)

	evicted := m.evict()

	m.updateGauges()

	for _, id := range evicted {
		if id == txID {
			prometheusTransactionsRejected.Inc()
			return nil, errors.NewTxInsufficientFeeError("[Mempool][AcceptTransaction] pool full, tx %s pays %d sat/KB and was evicted", txID, entry.FeeRate())
		}
	}

	prometheusTransactionsAccepted.Inc()

	m.logger.Debugf("[Mempool][AcceptTransaction] accepted tx %s, %d bytes, fee %d, priority %.0f (%s)",
		txID, entry.Size, entry.Fee, entry.Priority.Score, entry.Priority.Category)

	return entry, nil
}

// validate checks tx for admission in a block on top of the current tip. m.mu must be held.
func (m *Mempool) validate(tx *bt.Tx, txID *chainhash.Hash) (*Entry, error) {
	if _, ok := m.entries[*txID]; ok {
		return nil, errors.NewTxAlreadyExistsError("tx %s is already in the pool", txID)
	}

	if err := chainstate.CheckTransactionSanity(tx, m.params.MaxMoney); err != nil {
		return nil, err
	}

	bestHeight := m.chain.GetBestHeight()
	height := bestHeight + 1

	inputs := make([]*model.UTXO, 0, len(tx.Inputs))
	priorityInputs := make([]blockspace.PriorityInput, 0, len(tx.Inputs))

	var totalIn uint64

	for i, in := range tx.Inputs {
		op := model.NewOutpoint(in.PreviousTxIDChainHash(), in.PreviousTxOutIndex)

		if spender, ok := m.spends[op]; ok {
			return nil, errors.NewTxInvalidDoubleSpendError("tx %s spends %s already spent by pool tx %s", txID, op, spender)
		}

		u, ok := m.chain.GetUtxo(op)
		if !ok {
			return nil, errors.NewTxMissingInputsError("tx %s spends unknown or spent output %s", txID, op)
		}

		if !u.IsMature(height, m.params.CoinbaseMaturity) {
			return nil, errors.NewTxImmatureCoinbaseError("tx %s spends coinbase %s from height %d before maturity", txID, op, u.Height)
		}

		if err := m.verifier.VerifyInput(tx, i, u); err != nil {
			return nil, errors.NewTxInvalidError("tx %s input %d script rejected", txID, i, err)
		}

		totalIn += u.Value

		inputs = append(inputs, u)
		priorityInputs = append(priorityInputs, blockspace.PriorityInput{Value: u.Value, Confirmations: u.Confirmations(bestHeight)})
	}

	totalOut := tx.TotalOutputSatoshis()
	if totalOut > totalIn {
		return nil, errors.NewTxInvalidError("tx %s pays out %d from inputs of %d", txID, totalOut, totalIn)
	}

	size, err := safeconversion.IntToUint64(tx.Size())
	if err != nil {
		return nil, errors.NewTxInvalidError("tx %s has an invalid size", txID, err)
	}

	priority, err := blockspace.CalculatePriority(priorityInputs, size, m.params.FreeTxPriorityThreshold)
	if err != nil {
		return nil, err
	}

	fee := totalIn - totalOut

	if !priority.QualifiesForFree {
		if required := m.fees.GetRecommendedFee(size, priority); fee < required {
			return nil, errors.NewTxInsufficientFeeError("tx %s pays %d, below the required %d", txID, fee, required)
		}
	}

	return &Entry{
		Tx:        tx,
		TxID:      *txID,
		Size:      size,
		Fee:       fee,
		Priority:  priority,
		EntryTime: m.now(),
		inputs:    inputs,
	}, nil
}

func (m *Mempool) add(e *Entry) {
	m.entries[e.TxID] = e
	m.totalSize += e.Size

	for _, u := range e.inputs {
		m.spends[u.Outpoint] = e.TxID
	}
}

func (m *Mempool) remove(txID chainhash.Hash) bool {
	e, ok := m.entries[txID]
	if !ok {
		return false
	}

	delete(m.entries, txID)
	m.totalSize -= e.Size

	for _, u := range e.inputs {
		if m.spends[u.Outpoint] == txID {
			delete(m.spends, u.Outpoint)
		}
	}

	return true
}

// evict drops the cheapest entries while the pool is above its limits: lowest fee rate first,
// then lowest priority, then the most recent.
func (m *Mempool) evict() []chainhash.Hash {
	maxEntries := m.settings.Mempool.MaxEntries
	maxSize := m.settings.Mempool.MaxSizeBytes

	over := func() bool {
		return (maxEntries > 0 && len(m.entries) > maxEntries) || (maxSize > 0 && m.totalSize > maxSize)
	}

	if !over() {
		return nil
	}

	ordered := make([]*Entry, 0, len(m.entries))
	for _, e := range m.entries {
		ordered = append(ordered, e)
	}

	sort.Slice(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]

		if a.FeeRate() != b.FeeRate() {
			return a.FeeRate() < b.FeeRate()
		}

		if a.Priority.Score != b.Priority.Score {
			return a.Priority.Score < b.Priority.Score
		}

		return a.EntryTime.After(b.EntryTime)
	})

	var evicted []chainhash.Hash

	for _, e := range ordered {
		if !over() {
			break
		}

		m.remove(e.TxID)
		evicted = append(evicted, e.TxID)
	}

	prometheusTransactionsEvicted.Add(float64(len(evicted)))
	m.logger.Infof("[Mempool][evict] evicted %d transactions, pool at %d entries and %d bytes", len(evicted), len(m.entries), m.totalSize)

	return evicted
}

// OnBlockConnected drops the block's transactions and the pool transactions conflicting
// with them.
func (m *Mempool) OnBlockConnected(_ context.Context, block *model.Block, _ *model.UndoRecord) {
	removed := m.RemoveForBlock(block)

	if removed > 0 {
		m.logger.Debugf("[Mempool][OnBlockConnected] removed %d transactions for block %s at height %d", removed, block.Hash(), block.Height)
	}
}

// RemoveForBlock removes the transactions included in block and those spending the same
// outputs. It returns the number of removed entries.
func (m *Mempool) RemoveForBlock(block *model.Block) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0

	for _, tx := range block.Transactions {
		if tx.IsCoinbase() {
			continue
		}

		if m.remove(*tx.TxIDChainHash()) {
			removed++
		}

		for _, in := range tx.Inputs {
			op := model.NewOutpoint(in.PreviousTxIDChainHash(), in.PreviousTxOutIndex)

			if spender, ok := m.spends[op]; ok && m.remove(spender) {
				removed++
			}
		}
	}

	m.updateGauges()

	return removed
}

// OnBlockDisconnected offers the block's transactions back to the pool and drops the entries
// whose inputs no longer exist on the new tip.
func (m *Mempool) OnBlockDisconnected(ctx context.Context, block *model.Block, _ *model.UndoRecord) {
	readmitted := 0

	for _, tx := range block.Transactions {
		if tx.IsCoinbase() {
			continue
		}

		if _, err := m.AcceptTransaction(ctx, tx); err == nil {
			readmitted++
		}
	}

	dropped := m.revalidate()

	m.logger.Infof("[Mempool][OnBlockDisconnected] block %s at height %d: re-admitted %d transactions, dropped %d",
		block.Hash(), block.Height, readmitted, dropped)
}

func (m *Mempool) revalidate() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	height := m.chain.GetBestHeight() + 1
	dropped := 0

	for txID, e := range m.entries {
		for _, u := range e.inputs {
			current, ok := m.chain.GetUtxo(u.Outpoint)
			if !ok || !current.IsMature(height, m.params.CoinbaseMaturity) {
				m.remove(txID)
				dropped++

				break
			}
		}
	}

	m.updateGauges()

	return dropped
}

// Expire removes the entries that have been in the pool longer than the entry expiry.
func (m *Mempool) Expire(now time.Time) int {
	expiry := m.settings.Mempool.EntryExpiry
	if expiry <= 0 {
		return 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	expired := 0

	for txID, e := range m.entries {
		if now.Sub(e.EntryTime) > expiry {
			m.remove(txID)
			expired++
		}
	}

	m.updateGauges()

	return expired
}

func (m *Mempool) Get(txID chainhash.Hash) (*Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[txID]

	return e, ok
}

func (m *Mempool) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.entries)
}

func (m *Mempool) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Stats{
		TotalTransactions: len(m.entries),
		TotalSizeBytes:    m.totalSize,
	}

	var priority float64

	for _, e := range m.entries {
		if e.Priority.QualifiesForFree {
			s.FreeEligibleCount++
		}

		if e.Fee > 0 {
			s.FeePayingCount++
		}

		s.TotalFees += e.Fee
		priority += e.Priority.Score
	}

	if len(m.entries) > 0 {
		s.AveragePriority = priority / float64(len(m.entries))
	}

	return s
}

// Candidates returns the pool as template candidates for a block at height, with priorities
// recomputed from the confirmations the inputs will have by then.
func (m *Mempool) Candidates(height uint32) ([]*blockspace.Candidate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	candidates := make([]*blockspace.Candidate, 0, len(m.entries))

	for _, e := range m.entries {
		inputs := make([]blockspace.PriorityInput, 0, len(e.inputs))
		for _, u := range e.inputs {
			inputs = append(inputs, blockspace.PriorityInput{Value: u.Value, Confirmations: u.Confirmations(height - 1)})
		}

		priority, err := blockspace.CalculatePriority(inputs, e.Size, m.params.FreeTxPriorityThreshold)
		if err != nil {
			return nil, err
		}

		candidates = append(candidates, &blockspace.Candidate{
			Tx:        e.Tx,
			TxID:      e.TxID,
			Size:      e.Size,
			Fee:       e.Fee,
			Priority:  priority,
			EntryTime: e.EntryTime,
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].EntryTime.Equal(candidates[j].EntryTime) {
			return candidates[i].EntryTime.Before(candidates[j].EntryTime)
		}

		return candidates[i].TxID.String() < candidates[j].TxID.String()
	})

	return candidates, nil
}

// BlockTemplate selects the transactions of a block at height and the fees they pay.
func (m *Mempool) BlockTemplate(ctx context.Context, height uint32) ([]*bt.Tx, uint64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, errors.NewContextCanceledError("[Mempool][BlockTemplate] context done", err)
	}

	candidates, err := m.Candidates(height)
	if err != nil {
		return nil, 0, err
	}

	tmpl, err := m.fees.BuildBlockTemplate(candidates)
	if err != nil {
		return nil, 0, errors.NewProcessingError("[Mempool][BlockTemplate] failed to build template at height %d", height, err)
	}

	return tmpl.Transactions(), tmpl.TotalFees, nil
}

// GetHighPriorityTransactions returns up to maxCount free-qualifying entries, highest priority
// first.
func (m *Mempool) GetHighPriorityTransactions(maxCount int) []*Entry {
	return m.selectEntries(func(e *Entry) bool {
		return e.Priority.QualifiesForFree
	}, func(a, b *Entry) bool {
		return a.Priority.Score > b.Priority.Score
	}, maxCount)
}

// GetFeePayingTransactions returns the entries paying at least minFeeRate sat/KB, highest
// rate first.
func (m *Mempool) GetFeePayingTransactions(minFeeRate uint64) []*Entry {
	return m.selectEntries(func(e *Entry) bool {
		return e.Fee > 0 && e.FeeRate() >= minFeeRate
	}, func(a, b *Entry) bool {
		return a.FeeRate() > b.FeeRate()
	}, 0)
}

func (m *Mempool) selectEntries(keep func(*Entry) bool, less func(a, b *Entry) bool, maxCount int) []*Entry {
	m.mu.RLock()

	selected := make([]*Entry, 0)

	for _, e := range m.entries {
		if keep(e) {
			selected = append(selected, e)
		}
	}

	m.mu.RUnlock()

	sort.SliceStable(selected, func(i, j int) bool {
		if less(selected[i], selected[j]) {
			return true
		}

		if less(selected[j], selected[i]) {
			return false
		}

		return selected[i].EntryTime.Before(selected[j].EntryTime)
	})

	if maxCount > 0 && len(selected) > maxCount {
		selected = selected[:maxCount]
	}

	return selected
}

func (m *Mempool) updateGauges() {
	prometheusSize.Set(float64(len(m.entries)))
	prometheusSizeBytes.Set(float64(m.totalSize))
}
