// Package chainstate owns the UTXO set and the block index. It is the only component
// that mutates either: blocks are connected, disconnected and reorganized through
// ProcessBlock, and everything else reads through the Reader methods.
//
// Every mutation is staged in a utxoView and persisted in a single store transaction
// before the in-memory state is swapped, so readers never see a partially applied block.
package chainstate

import (
	"bytes"
	"context"
	"encoding/binary"
	"math/big"
	"net/http"
	"sync"

	"github.com/bsv-blockchain/go-bt/v2"
	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/dolthub/swiss"
	"github.com/goldcoin/popnode/chaincfg"
	"github.com/goldcoin/popnode/errors"
	"github.com/goldcoin/popnode/model"
	"github.com/goldcoin/popnode/settings"
	"github.com/goldcoin/popnode/stores/kv"
	"github.com/goldcoin/popnode/ulogger"
	"github.com/goldcoin/popnode/util"
	"github.com/goldcoin/popnode/util/retry"
)

const initialUtxoCapacity = 1 << 16

// Transaction is a confirmed transaction together with its position in the chain.
type Transaction struct {
	Tx        *bt.Tx
	BlockHash chainhash.Hash
	Height    uint32
}

func (t *Transaction) Bytes() []byte {
	b := make([]byte, 0, chainhash.HashSize+4+t.Tx.Size())
	b = append(b, t.BlockHash[:]...)
	b = binary.LittleEndian.AppendUint32(b, t.Height)

	return append(b, t.Tx.Bytes()...)
}

func NewTransactionFromBytes(b []byte) (*Transaction, error) {
	if len(b) < chainhash.HashSize+4 {
		return nil, errors.NewProcessingError("transaction record too short: %d bytes", len(b))
	}

	tx, err := bt.NewTxFromBytes(b[chainhash.HashSize+4:])
	if err != nil {
		return nil, errors.NewProcessingError("failed to decode transaction record", err)
	}

	t := &Transaction{Tx: tx, Height: binary.LittleEndian.Uint32(b[chainhash.HashSize:])}
	copy(t.BlockHash[:], b[:chainhash.HashSize])

	return t, nil
}

type Option func(*ChainState)

// WithConsensusRules sets the rules blocks are validated against. Without it only proof of
// work is checked.
func WithConsensusRules(rules ConsensusRules) Option {
	return func(c *ChainState) {
		c.rules = rules
	}
}

func WithScriptVerifier(verifier ScriptVerifier) Option {
	return func(c *ChainState) {
		c.scripts = verifier
	}
}

type ChainState struct {
	logger   ulogger.Logger
	settings *settings.Settings
	params   *chaincfg.Params
	store    kv.Store
	rules    ConsensusRules
	scripts  ScriptVerifier

	// processMu serializes ProcessBlock including subscriber notification, mu guards the
	// state below and is only held exclusively while a staged change is swapped in.
	processMu sync.Mutex
	mu        sync.RWMutex
	utxos     *swiss.Map[model.Outpoint, *model.UTXO]
	index     map[chainhash.Hash]*model.BlockIndex
	mainChain []chainhash.Hash
	supply    uint64
	halted    error

	subscribersMu sync.RWMutex
	subscribers   []Subscriber
}

// New opens the chain state in store. An empty store is initialized with the genesis block
// of the configured network, otherwise the block index, best chain and UTXO set are loaded.
func New(ctx context.Context, logger ulogger.Logger, tSettings *settings.Settings, store kv.Store, opts ...Option) (*ChainState, error) {
	initPrometheusMetrics()

	c := &ChainState{
		logger:   logger,
		settings: tSettings,
		params:   tSettings.ChainCfgParams,
		store:    store,
		scripts:  AcceptAllScripts,
		utxos:    swiss.NewMap[model.Outpoint, *model.UTXO](initialUtxoCapacity),
		index:    make(map[chainhash.Hash]*model.BlockIndex),
	}

	c.rules = &powRules{params: c.params}

	for _, opt := range opts {
		opt(c)
	}

	if err := c.load(ctx); err != nil {
		return nil, err
	}

	c.updateGauges()

	logger.Infof("[ChainState] loaded %s chain at height %d (%s), %d utxos, supply %d", c.params.Name, c.bestHeight(), c.bestHash(), c.utxos.Count(), c.supply)

	return c, nil
}

// SetConsensusRules replaces the rule set. The hard-fork manager is created from the loaded
// chain height, so it is installed after New.
func (c *ChainState) SetConsensusRules(rules ConsensusRules) {
	c.processMu.Lock()
	defer c.processMu.Unlock()

	c.rules = rules
}

func (c *ChainState) Subscribe(sub Subscriber) {
	c.subscribersMu.Lock()
	defer c.subscribersMu.Unlock()

	c.subscribers = append(c.subscribers, sub)
}

func (c *ChainState) Params() *chaincfg.Params {
	return c.params
}

// readWithRetry reads key from the store, retrying transient failures.
func (c *ChainState) readWithRetry(ctx context.Context, key []byte) ([]byte, bool, error) {
	type readResult struct {
		value []byte
		found bool
	}

	res, err := retry.Retry(ctx, c.logger, func() (readResult, error) {
		value, found, err := c.store.Read(ctx, key)
		return readResult{value: value, found: found}, err
	},
		retry.WithMessage("[ChainState] reading "+string(key)),
		retry.WithRetryCount(c.settings.Store.ReadRetries),
		retry.WithBackoffDurationType(c.settings.Store.ReadRetryBackoff),
		retry.WithBackoffMultiplier(1),
		retry.WithRetryIf(func(err error) bool { return !errors.IsContextError(err) }),
	)
	if err != nil {
		return nil, false, errors.NewStorageError("failed to read %s", string(key), err)
	}

	return res.value, res.found, nil
}

func (c *ChainState) load(ctx context.Context) error {
	versionBytes, found, err := c.readWithRetry(ctx, kv.KeyVersion)
	if err != nil {
		return errors.NewStateInitializationError("failed to read schema version", err)
	}

	if !found {
		return c.initGenesis(ctx)
	}

	if len(versionBytes) != 4 || binary.LittleEndian.Uint32(versionBytes) != kv.SchemaVersion {
		return errors.NewStateInitializationError("unsupported store schema version %x", versionBytes)
	}

	if err = c.store.Iterate(ctx, kv.PrefixBlockIndex, func(_, value []byte) error {
		bi, err := model.NewBlockIndexFromBytes(value)
		if err != nil {
			return err
		}

		c.index[bi.Hash] = bi

		return nil
	}); err != nil {
		return errors.NewStateInitializationError("failed to load block index", err)
	}

	bestBytes, found, err := c.readWithRetry(ctx, kv.KeyBestChain)
	if err != nil {
		return errors.NewStateInitializationError("failed to read best chain", err)
	}

	if !found || len(bestBytes) != chainhash.HashSize {
		return errors.NewChainCorruptedError("best chain record missing")
	}

	best, _ := chainhash.NewHash(bestBytes)

	tip, ok := c.index[*best]
	if !ok {
		return errors.NewChainCorruptedError("best block %s not in block index", best)
	}

	c.mainChain = make([]chainhash.Hash, tip.Height+1)

	for bi := tip; ; {
		c.mainChain[bi.Height] = bi.Hash

		if bi.Height == 0 {
			if !bi.Hash.IsEqual(c.params.GenesisHash) {
				return errors.NewStateInitializationError("store belongs to another network: genesis %s, expected %s", bi.Hash, c.params.GenesisHash)
			}

			break
		}

		parent, ok := c.index[bi.PrevHash]
		if !ok || parent.Height+1 != bi.Height {
			return errors.NewChainCorruptedError("broken main chain at height %d", bi.Height)
		}

		bi = parent
	}

	if err = c.store.Iterate(ctx, kv.PrefixUtxo, func(_, value []byte) error {
		u, _, err := model.NewUTXOFromBytes(value)
		if err != nil {
			return err
		}

		c.utxos.Put(u.Outpoint, u)
		c.supply += u.Value

		return nil
	}); err != nil {
		return errors.NewStateInitializationError("failed to load utxo set", err)
	}

	if c.supply > c.params.MaxMoney {
		return errors.NewChainCorruptedError("stored supply %d exceeds max money", c.supply)
	}

	return nil
}

// initGenesis writes the genesis block to an empty store. The genesis coinbase is a normal
// output and becomes part of the UTXO set.
func (c *ChainState) initGenesis(ctx context.Context) error {
	genesis := c.params.GenesisBlock
	hash := genesis.Hash()

	bi := &model.BlockIndex{
		Hash:           *hash,
		PrevHash:       *genesis.Header.HashPrevBlock,
		Height:         0,
		Header:         genesis.Header,
		CumulativeWork: util.CalcWork(genesis.Header.Bits),
		Status:         model.StatusHeaderValid | model.StatusHaveData | model.StatusConnected,
		TxCount:        uint32(len(genesis.Transactions)), //nolint:gosec // a block holds far fewer than 2^32 txs
		Size:           genesis.Size(),
	}

	view := newUtxoView(c.utxos.Get)

	if err := addOutputs(view, genesis.CoinbaseTx(), 0); err != nil {
		return errors.NewStateInitializationError("failed to add genesis outputs", err)
	}

	undo := &model.UndoRecord{BlockHash: *hash}

	w := &writeSet{}
	w.put(kv.KeyVersion, binary.LittleEndian.AppendUint32(nil, kv.SchemaVersion))
	w.put(kv.KeyBlock(hash), genesis.Bytes())
	w.putIndex(bi)
	w.putView(view)
	w.putConnected(genesis, undo)
	w.put(kv.KeyBestChain, hash[:])

	if err := c.commit(ctx, w); err != nil {
		return errors.NewStateInitializationError("failed to write genesis", err)
	}

	c.index[*hash] = bi
	c.mainChain = []chainhash.Hash{*hash}
	c.applyView(view)

	c.logger.Infof("[ChainState] initialized %s chain with genesis %s", c.params.Name, hash)

	return nil
}

func (c *ChainState) bestHeight() uint32 {
	return uint32(len(c.mainChain) - 1) //nolint:gosec // the main chain always holds genesis
}

func (c *ChainState) bestHash() *chainhash.Hash {
	h := c.mainChain[len(c.mainChain)-1]
	return &h
}

func (c *ChainState) tip() *model.BlockIndex {
	return c.index[c.mainChain[len(c.mainChain)-1]]
}

func (c *ChainState) isOnMainChain(bi *model.BlockIndex) bool {
	return int(bi.Height) < len(c.mainChain) && c.mainChain[bi.Height] == bi.Hash
}

func (c *ChainState) GetUtxo(outpoint model.Outpoint) (*model.UTXO, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.utxos.Get(outpoint)
}

// GetBalance sums the unspent outputs locked by lockingScript.
func (c *ChainState) GetBalance(lockingScript []byte) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var total uint64

	c.utxos.Iter(func(_ model.Outpoint, u *model.UTXO) bool {
		if bytes.Equal(u.Script, lockingScript) {
			total += u.Value
		}

		return false
	})

	return total
}

func (c *ChainState) GetUtxosForScript(lockingScript []byte) []*model.UTXO {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var utxos []*model.UTXO

	c.utxos.Iter(func(_ model.Outpoint, u *model.UTXO) bool {
		if bytes.Equal(u.Script, lockingScript) {
			utxos = append(utxos, u)
		}

		return false
	})

	return utxos
}

// ForEachUtxo calls fn for every unspent output until fn returns false. The set is read
// locked for the duration of the call, so fn must not call back into the chain state.
func (c *ChainState) ForEachUtxo(fn func(u *model.UTXO) bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	c.utxos.Iter(func(_ model.Outpoint, u *model.UTXO) bool {
		return !fn(u)
	})
}

func (c *ChainState) UtxoCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.utxos.Count()
}

func (c *ChainState) GetBestHeight() uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.bestHeight()
}

func (c *ChainState) GetBestBlockHash() *chainhash.Hash {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.bestHash()
}

// GetBestBlockIndex returns the index entry of the current tip.
func (c *ChainState) GetBestBlockIndex() *model.BlockIndex {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.tip()
}

func (c *ChainState) GetBlockIndex(hash *chainhash.Hash) (*model.BlockIndex, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	bi, ok := c.index[*hash]

	return bi, ok
}

func (c *ChainState) GetBlockIndexByHeight(height uint32) (*model.BlockIndex, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if int(height) >= len(c.mainChain) {
		return nil, false
	}

	return c.index[c.mainChain[height]], true
}

// IsMainChain reports whether hash is part of the current best chain.
func (c *ChainState) IsMainChain(hash *chainhash.Hash) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	bi, ok := c.index[*hash]

	return ok && c.isOnMainChain(bi)
}

func (c *ChainState) GetBlock(ctx context.Context, hash *chainhash.Hash) (*model.Block, error) {
	c.mu.RLock()
	bi, ok := c.index[*hash]
	c.mu.RUnlock()

	if !ok || !bi.Status.Has(model.StatusHaveData) {
		return nil, errors.NewBlockNotFoundError("block %s not found", hash)
	}

	return c.loadBlock(ctx, bi)
}

func (c *ChainState) GetBlockByHeight(ctx context.Context, height uint32) (*model.Block, error) {
	bi, ok := c.GetBlockIndexByHeight(height)
	if !ok {
		return nil, errors.NewBlockNotFoundError("no block at height %d", height)
	}

	return c.loadBlock(ctx, bi)
}

func (c *ChainState) loadBlock(ctx context.Context, bi *model.BlockIndex) (*model.Block, error) {
	b, found, err := c.store.Read(ctx, kv.KeyBlock(&bi.Hash))
	if err != nil {
		return nil, errors.NewStorageError("failed to read block %s", bi.Hash, err)
	}

	if !found {
		return nil, errors.NewBlockNotFoundError("block %s data missing", bi.Hash)
	}

	block, err := model.NewBlockFromBytes(b)
	if err != nil {
		return nil, errors.NewChainCorruptedError("stored block %s does not decode", bi.Hash, err)
	}

	block.Height = bi.Height

	return block, nil
}

func (c *ChainState) loadUndo(ctx context.Context, hash *chainhash.Hash) (*model.UndoRecord, error) {
	b, found, err := c.store.Read(ctx, kv.KeyUndo(hash))
	if err != nil {
		return nil, errors.NewStorageError("failed to read undo record %s", hash, err)
	}

	if !found {
		return nil, errors.NewChainCorruptedError("undo record of %s missing", hash)
	}

	undo, err := model.NewUndoRecordFromBytes(b)
	if err != nil {
		return nil, errors.NewChainCorruptedError("undo record of %s does not decode", hash, err)
	}

	return undo, nil
}

// GetTransaction looks up a transaction confirmed on the main chain.
func (c *ChainState) GetTransaction(ctx context.Context, txID *chainhash.Hash) (*Transaction, error) {
	b, found, err := c.store.Read(ctx, kv.KeyTx(txID))
	if err != nil {
		return nil, errors.NewStorageError("failed to read tx %s", txID, err)
	}

	if !found {
		return nil, errors.NewTxNotFoundError("tx %s not found", txID)
	}

	return NewTransactionFromBytes(b)
}

func (c *ChainState) GetTotalSupply() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.supply
}

// GetChainWork returns the cumulative work of the best chain.
func (c *ChainState) GetChainWork() *big.Int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return new(big.Int).Set(c.tip().CumulativeWork)
}

// IsHalted returns the fatal error that stopped block processing, or nil.
func (c *ChainState) IsHalted() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.halted
}

func (c *ChainState) Health(ctx context.Context, checkLiveness bool) (int, string, error) {
	if err := c.IsHalted(); err != nil {
		return http.StatusServiceUnavailable, "chain halted", err
	}

	if checkLiveness {
		return http.StatusOK, "OK", nil
	}

	return c.store.Health(ctx, checkLiveness)
}
