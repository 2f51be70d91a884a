package participation

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/goldcoin/popnode/model"
)

type walletRecord struct {
	balance        uint64
	txCount        uint32
	counterparties map[string]int
	txTimes        []time.Time
	ip             net.IP
	uptime         float64
}

// ChainWalletIndex derives wallet metrics from the chain. Addresses are the hex public
// keys of pay-to-pubkey and stake-lock outputs; other scripts are not tracked.
type ChainWalletIndex struct {
	registry *StakeRegistry

	mu      sync.RWMutex
	wallets map[string]*walletRecord
}

func NewChainWalletIndex(registry *StakeRegistry) *ChainWalletIndex {
	return &ChainWalletIndex{
		registry: registry,
		wallets:  make(map[string]*walletRecord),
	}
}

func (w *ChainWalletIndex) record(address string) *walletRecord {
	rec, ok := w.wallets[address]
	if !ok {
		rec = &walletRecord{counterparties: make(map[string]int)}
		w.wallets[address] = rec
	}

	return rec
}

// ObservePeer records the network address and uptime of a participant's node.
func (w *ChainWalletIndex) ObservePeer(pubKey []byte, ip net.IP, uptime float64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	rec := w.record(model.AddressFromPubKey(pubKey))
	rec.ip = ip
	rec.uptime = uptime
}

// Metrics returns the metrics of the wallet of pubKey as seen from height.
func (w *ChainWalletIndex) Metrics(pubKey []byte, height uint32) *model.WalletMetrics {
	address := model.AddressFromPubKey(pubKey)
	metrics := &model.WalletMetrics{}

	if entry, ok := w.registry.Get(address); ok && height >= entry.Height {
		metrics.CoinAgeBlocks = height - entry.Height
	}

	w.mu.RLock()
	defer w.mu.RUnlock()

	rec, ok := w.wallets[address]
	if !ok {
		return metrics
	}

	metrics.Balance = rec.balance
	metrics.TxCount = rec.txCount
	metrics.IP = rec.ip
	metrics.UptimeRatio = rec.uptime

	for _, n := range rec.counterparties {
		if n > 0 {
			metrics.UniqueCounterparties++
		}
	}

	if len(rec.txTimes) > 0 {
		metrics.LastTxTime = rec.txTimes[len(rec.txTimes)-1]
	}

	return metrics
}

// PeerIPs returns the known node addresses of every address except exclude.
func (w *ChainWalletIndex) PeerIPs(exclude string) []net.IP {
	w.mu.RLock()
	defer w.mu.RUnlock()

	ips := make([]net.IP, 0, len(w.wallets))

	for address, rec := range w.wallets {
		if address != exclude && rec.ip != nil {
			ips = append(ips, rec.ip)
		}
	}

	return ips
}

func (w *ChainWalletIndex) OnBlockConnected(_ context.Context, block *model.Block, undo *model.UndoRecord) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.walk(block, undo, 1)
}

func (w *ChainWalletIndex) OnBlockDisconnected(_ context.Context, block *model.Block, undo *model.UndoRecord) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.walk(block, undo, -1)
}

// walk applies (dir 1) or reverts (dir -1) the block. Reverting runs the transactions in
// reverse so the transaction times pop in the order they were pushed.
func (w *ChainWalletIndex) walk(block *model.Block, undo *model.UndoRecord, dir int) {
	blockTime := time.Unix(int64(block.Header.Timestamp), 0)

	var spent []*model.UTXO
	if undo != nil {
		spent = undo.Spent
	}

	// offsets[i] is the position in spent of the first input of transaction i
	offsets := make([]int, len(block.Transactions)+1)

	for i, tx := range block.Transactions {
		n := 0
		if !tx.IsCoinbase() {
			n = len(tx.Inputs)
		}

		offsets[i+1] = offsets[i] + n
	}

	order := make([]int, len(block.Transactions))
	for i := range order {
		if dir > 0 {
			order[i] = i
		} else {
			order[i] = len(order) - 1 - i
		}
	}

	for _, i := range order {
		tx := block.Transactions[i]

		senders := make(map[string]struct{})

		if offsets[i+1] <= len(spent) {
			for _, u := range spent[offsets[i]:offsets[i+1]] {
				owner, ok := model.ScriptOwner(u.Script)
				if !ok {
					continue
				}

				address := model.AddressFromPubKey(owner)
				senders[address] = struct{}{}
				w.adjustBalance(address, u.Value, -dir)
			}
		}

		receivers := make(map[string]struct{})

		for _, out := range tx.Outputs {
			if out.LockingScript == nil {
				continue
			}

			owner, ok := model.ScriptOwner(*out.LockingScript)
			if !ok {
				continue
			}

			address := model.AddressFromPubKey(owner)
			receivers[address] = struct{}{}
			w.adjustBalance(address, out.Satoshis, dir)
		}

		// coinbase rewards move balances but are not activity
		if tx.IsCoinbase() {
			continue
		}

		w.recordActivity(senders, receivers, blockTime, dir)
	}
}

func (w *ChainWalletIndex) adjustBalance(address string, value uint64, dir int) {
	rec := w.record(address)

	if dir > 0 {
		rec.balance += value
		return
	}

	if rec.balance < value {
		rec.balance = 0
		return
	}

	rec.balance -= value
}

func (w *ChainWalletIndex) recordActivity(senders, receivers map[string]struct{}, at time.Time, dir int) {
	participants := make(map[string]struct{}, len(senders)+len(receivers))

	for s := range senders {
		participants[s] = struct{}{}

		for r := range receivers {
			if r != s {
				w.record(s).counterparties[r] += dir
			}
		}
	}

	for r := range receivers {
		participants[r] = struct{}{}

		for s := range senders {
			if s != r {
				w.record(r).counterparties[s] += dir
			}
		}
	}

	for p := range participants {
		rec := w.record(p)

		if dir > 0 {
			rec.txCount++
			rec.txTimes = append(rec.txTimes, at)

			continue
		}

		if rec.txCount > 0 {
			rec.txCount--
		}

		if len(rec.txTimes) > 0 {
			rec.txTimes = rec.txTimes[:len(rec.txTimes)-1]
		}
	}
}
