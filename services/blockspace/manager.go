package blockspace

import (
	"sort"
	"sync"
	"time"

	"github.com/bsv-blockchain/go-bt/v2"
	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	safeconversion "github.com/bsv-blockchain/go-safe-conversion"
	"github.com/goldcoin/popnode/chaincfg"
	"github.com/goldcoin/popnode/errors"
	"github.com/goldcoin/popnode/settings"
	"github.com/goldcoin/popnode/ulogger"
)

const (
	// BaseFeeRate is the fee rate in satoshis per KB when the free zone is not congested.
	BaseFeeRate uint64 = 1000

	// MinRelayFee is the smallest fee a non-free transaction pays, in satoshis.
	MinRelayFee uint64 = 100_000

	// BlockOverhead is the space kept out of the template for the header and coinbase.
	BlockOverhead uint64 = 1000

	defaultStatsWindow = 144
)

// Candidate is a mempool transaction offered to the template builder.
type Candidate struct {
	Tx        *bt.Tx
	TxID      chainhash.Hash
	Size      uint64
	Fee       uint64
	Priority  PriorityResult
	EntryTime time.Time
}

// FeeRate is the fee in satoshis per KB.
func (c *Candidate) FeeRate() uint64 {
	if c.Size == 0 {
		return 0
	}

	return c.Fee * 1000 / c.Size
}

// Template is the transaction selection of one block.
type Template struct {
	FreeTransactions    []*Candidate
	FeeTransactions     []*Candidate
	FreeZoneUsed        uint64
	TotalSize           uint64
	TotalFees           uint64
	FreeZoneUtilization int
	TotalUtilization    int
}

// Transactions returns the selected transactions, free zone first.
func (t *Template) Transactions() []*bt.Tx {
	txs := make([]*bt.Tx, 0, len(t.FreeTransactions)+len(t.FeeTransactions))

	for _, c := range t.FreeTransactions {
		txs = append(txs, c.Tx)
	}

	for _, c := range t.FeeTransactions {
		txs = append(txs, c.Tx)
	}

	return txs
}

// MarketStats describes the fee market over the recent templates. Fee rates are in
// satoshis per KB; percentiles are the 25th, 50th, 75th and 95th.
type MarketStats struct {
	CurrentMinFeeRate  uint64    `json:"current_min_fee_rate"`
	FreeZonePressure   int       `json:"free_zone_pressure_percent"`
	MedianFeeLastBlock uint64    `json:"median_fee_last_block"`
	FeePercentiles     [4]uint64 `json:"fee_percentiles"`
	AverageUtilization int       `json:"average_utilization_percent"`
	BlocksTracked      int       `json:"blocks_tracked"`
}

type templateStats struct {
	feeRates         []uint64
	freeUtilization  int
	totalUtilization int
}

// Manager builds block templates and keeps the fee market statistics.
type Manager struct {
	logger   ulogger.Logger
	params   *chaincfg.Params
	maxTxs   int
	window   int
	mu       sync.RWMutex
	recent   []templateStats
	stats    MarketStats
	freeSize uint64
}

func New(logger ulogger.Logger, tSettings *settings.Settings) *Manager {
	initPrometheusMetrics()

	window := tSettings.BlockSpace.StatsWindow
	if window <= 0 {
		window = defaultStatsWindow
	}

	return &Manager{
		logger:   logger,
		params:   tSettings.ChainCfgParams,
		maxTxs:   tSettings.BlockSpace.TemplateMaxTxs,
		window:   window,
		stats:    MarketStats{CurrentMinFeeRate: BaseFeeRate},
		freeSize: tSettings.ChainCfgParams.FreeZoneSize(),
	}
}

// FreeZoneSize is the capacity of the free zone in bytes.
func (m *Manager) FreeZoneSize() uint64 {
	return m.freeSize
}

// BuildBlockTemplate fills the free zone with qualifying candidates by descending priority,
// stopping at the first that does not fit, then fills the remaining space with fee paying
// candidates by descending fee rate, oldest first on equal rates, skipping those that do not
// fit. The template is recorded in the market statistics.
func (m *Manager) BuildBlockTemplate(candidates []*Candidate) (*Template, error) {
	start := time.Now()

	for _, c := range candidates {
		if c == nil || c.Tx == nil || c.Size == 0 {
			return nil, errors.NewInvalidArgumentError("template candidate without transaction or size")
		}
	}

	capacity := uint64(0)
	if m.params.MaxBlockSize > BlockOverhead {
		capacity = m.params.MaxBlockSize - BlockOverhead
	}

	t := &Template{}
	selected := make(map[chainhash.Hash]struct{})

	free := make([]*Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Priority.QualifiesForFree {
			free = append(free, c)
		}
	}

	sort.SliceStable(free, func(i, j int) bool {
		if free[i].Priority.Score != free[j].Priority.Score {
			return free[i].Priority.Score > free[j].Priority.Score
		}

		return free[i].EntryTime.Before(free[j].EntryTime)
	})

	freeCapacity := min(m.freeSize, capacity)

	for _, c := range free {
		if t.FreeZoneUsed+c.Size > freeCapacity || m.full(t) {
			break
		}

		t.FreeTransactions = append(t.FreeTransactions, c)
		t.FreeZoneUsed += c.Size
		t.TotalFees += c.Fee
		selected[c.TxID] = struct{}{}
	}

	paying := make([]*Candidate, 0, len(candidates))

	for _, c := range candidates {
		if _, ok := selected[c.TxID]; !ok && c.Fee > 0 {
			paying = append(paying, c)
		}
	}

	sort.SliceStable(paying, func(i, j int) bool {
		ri, rj := paying[i].FeeRate(), paying[j].FeeRate()
		if ri != rj {
			return ri > rj
		}

		return paying[i].EntryTime.Before(paying[j].EntryTime)
	})

	t.TotalSize = t.FreeZoneUsed

	for _, c := range paying {
		if m.full(t) {
			break
		}

		if t.TotalSize+c.Size > capacity {
			continue
		}

		t.FeeTransactions = append(t.FeeTransactions, c)
		t.TotalSize += c.Size
		t.TotalFees += c.Fee
	}

	t.FreeZoneUtilization = percent(t.FreeZoneUsed, m.freeSize)
	t.TotalUtilization = percent(t.TotalSize, m.params.MaxBlockSize)

	m.UpdateMarketStats(t)

	prometheusBuildTemplate.Observe(float64(time.Since(start).Microseconds()) / 1_000_000)

	m.logger.Debugf("[BlockSpace][BuildBlockTemplate] %d free (%d%% of free zone) and %d fee txs, %d bytes, %d sat fees",
		len(t.FreeTransactions), t.FreeZoneUtilization, len(t.FeeTransactions), t.TotalSize, t.TotalFees)

	return t, nil
}

func (m *Manager) full(t *Template) bool {
	return m.maxTxs > 0 && len(t.FreeTransactions)+len(t.FeeTransactions) >= m.maxTxs
}

// DynamicFeeRate is the fee rate in satoshis per KB at a free zone utilization in percent.
func DynamicFeeRate(congestion int) uint64 {
	switch {
	case congestion < 50:
		return BaseFeeRate
	case congestion < 80:
		return BaseFeeRate * 2
	case congestion < 95:
		return BaseFeeRate * 5
	default:
		return BaseFeeRate * 10
	}
}

// GetRecommendedFee is the fee a transaction of size bytes should pay under the current
// congestion: nothing when it qualifies for the free zone, else at least MinRelayFee.
func (m *Manager) GetRecommendedFee(size uint64, priority PriorityResult) uint64 {
	if priority.QualifiesForFree {
		return 0
	}

	m.mu.RLock()
	rate := DynamicFeeRate(m.stats.FreeZonePressure)
	m.mu.RUnlock()

	return max(size*rate/1000, MinRelayFee)
}

// UpdateMarketStats records template in the rolling window of recent templates.
func (m *Manager) UpdateMarketStats(t *Template) {
	rates := make([]uint64, 0, len(t.FeeTransactions))
	for _, c := range t.FeeTransactions {
		rates = append(rates, c.FeeRate())
	}

	sort.Slice(rates, func(i, j int) bool { return rates[i] < rates[j] })

	m.mu.Lock()
	defer m.mu.Unlock()

	m.recent = append(m.recent, templateStats{
		feeRates:         rates,
		freeUtilization:  t.FreeZoneUtilization,
		totalUtilization: t.TotalUtilization,
	})

	if len(m.recent) > m.window {
		m.recent = m.recent[len(m.recent)-m.window:]
	}

	m.stats.FreeZonePressure = t.FreeZoneUtilization
	m.stats.CurrentMinFeeRate = DynamicFeeRate(t.FreeZoneUtilization)
	m.stats.BlocksTracked = len(m.recent)

	if len(rates) > 0 {
		m.stats.MedianFeeLastBlock = rates[len(rates)/2]
	}

	var (
		all         []uint64
		utilization int
	)

	for _, s := range m.recent {
		all = append(all, s.feeRates...)
		utilization += s.totalUtilization
	}

	m.stats.AverageUtilization = utilization / len(m.recent)

	if len(all) > 0 {
		sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })

		for i, p := range []int{25, 50, 75, 95} {
			m.stats.FeePercentiles[i] = all[len(all)*p/100]
		}
	}

	prometheusMinFeeRate.Set(float64(m.stats.CurrentMinFeeRate))
	prometheusFreeZoneUtilization.Set(float64(t.FreeZoneUtilization))
	prometheusTemplateUtilization.Set(float64(t.TotalUtilization))

	for i, label := range percentileLabels {
		prometheusFeeRatePercentile.WithLabelValues(label).Set(float64(m.stats.FeePercentiles[i]))
	}
}

func (m *Manager) GetMarketStats() MarketStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.stats
}

func percent(used, capacity uint64) int {
	if capacity == 0 {
		return 0
	}

	p, err := safeconversion.Uint64ToInt(used * 100 / capacity)
	if err != nil {
		return 100
	}

	return p
}
