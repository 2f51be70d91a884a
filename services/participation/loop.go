package participation

import (
	"context"
	"encoding/hex"
	"net/http"
	"sync"
	"time"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	"github.com/goldcoin/popnode/errors"
	"github.com/goldcoin/popnode/model"
	"github.com/goldcoin/popnode/settings"
	"github.com/goldcoin/popnode/ulogger"
)

// BlockProcessor accepts blocks into the chain.
type BlockProcessor interface {
	ProcessBlock(ctx context.Context, block *model.Block) error
}

// BlockBroadcaster sends a block to peers.
type BlockBroadcaster interface {
	BroadcastBlock(ctx context.Context, block *model.Block) error
}

// LotteryLoop draws the local producer's ticket on every poll and turns winning draws into
// blocks.
type LotteryLoop struct {
	logger    ulogger.Logger
	settings  *settings.Settings
	engine    *Engine
	chain     ChainReader
	processor BlockProcessor
	network   BlockBroadcaster
	key       *ec.PrivateKey

	mu            sync.Mutex
	cancelAttempt context.CancelFunc
	attemptHeight uint32
	pending       *Attempt
	lastDraw      *Draw

	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewLotteryLoop(logger ulogger.Logger, tSettings *settings.Settings, engine *Engine, chain ChainReader,
	processor BlockProcessor, network BlockBroadcaster, key *ec.PrivateKey) *LotteryLoop {
	return &LotteryLoop{
		logger:    logger,
		settings:  tSettings,
		engine:    engine,
		chain:     chain,
		processor: processor,
		network:   network,
		key:       key,
		stopCh:    make(chan struct{}),
	}
}

// Init loads the producer key from settings, or creates a throwaway one when none is set.
func (l *LotteryLoop) Init(_ context.Context) (err error) {
	if l.key != nil {
		return nil
	}

	if l.settings.Participation.PrivateKey != "" {
		if l.key, err = ec.PrivateKeyFromHex(l.settings.Participation.PrivateKey); err != nil {
			return errors.NewConfigurationError("[LotteryLoop] invalid participation_privateKey", err)
		}
	} else {
		if l.key, err = ec.NewPrivateKey(); err != nil {
			return errors.NewProcessingError("[LotteryLoop] failed to create producer key", err)
		}

		l.logger.Warnf("[LotteryLoop] no participation_privateKey set, using a new key")
	}

	l.logger.Infof("[LotteryLoop] producer key %s", hex.EncodeToString(l.key.PubKey().Compressed()))

	return nil
}

func (l *LotteryLoop) PubKey() []byte {
	return l.key.PubKey().Compressed()
}

func (l *LotteryLoop) Start(ctx context.Context, readyCh chan<- struct{}) error {
	close(readyCh)

	ticker := time.NewTicker(l.settings.Participation.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-l.stopCh:
			return nil
		case <-ticker.C:
			l.tick(ctx)
		}
	}
}

func (l *LotteryLoop) Stop(_ context.Context) error {
	l.stopOnce.Do(func() {
		close(l.stopCh)
	})

	l.mu.Lock()
	if l.cancelAttempt != nil {
		l.cancelAttempt()
	}
	l.mu.Unlock()

	return nil
}

func (l *LotteryLoop) Health(_ context.Context, _ bool) (int, string, error) {
	return http.StatusOK, "OK", nil
}

// NotifyPeerBlock is called when a peer block at height was accepted. A local attempt at
// that height or below gives way to it.
func (l *LotteryLoop) NotifyPeerBlock(height uint32) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cancelAttempt != nil && l.attemptHeight <= height {
		l.logger.Debugf("[LotteryLoop] yielding attempt at height %d to peer block at height %d", l.attemptHeight, height)
		l.cancelAttempt()
	}
}

func (l *LotteryLoop) tick(ctx context.Context) {
	l.settlePending(ctx)

	draw := l.engine.NextDraw()
	if !l.engine.IsActive(draw.Height) {
		return
	}

	if last := l.lastDraw; last != nil && last.PrevHash == draw.PrevHash && last.Height == draw.Height && last.Round == draw.Round {
		return
	}

	l.lastDraw = &draw

	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	l.mu.Lock()
	l.cancelAttempt = cancel
	l.attemptHeight = draw.Height
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.cancelAttempt = nil
		l.mu.Unlock()
	}()

	attempt, err := l.engine.TryGenerateBlockAt(attemptCtx, l.key, draw)
	if err != nil {
		l.logger.Debugf("[LotteryLoop] no attempt at height %d: %v", draw.Height, err)
		return
	}

	if !attempt.Won() {
		return
	}

	block := attempt.Candidate.Block

	if attemptCtx.Err() != nil || l.chain.GetBestBlockIndex().Height >= draw.Height {
		l.logger.Infof("[LotteryLoop] candidate %s for height %d superseded by a peer block", block.Hash(), draw.Height)
		l.reject(ctx, attempt)

		return
	}

	if err = l.processor.ProcessBlock(ctx, block); err != nil {
		l.logger.Warnf("[LotteryLoop] own candidate %s rejected: %v", block.Hash(), err)
		l.reject(ctx, attempt)

		return
	}

	if l.network != nil {
		if err = l.network.BroadcastBlock(ctx, block); err != nil {
			l.logger.Warnf("[LotteryLoop] failed to broadcast block %s: %v", block.Hash(), err)
		}
	}

	if err = attempt.Broadcast(ctx); err != nil {
		l.logger.Errorf("[LotteryLoop] attempt state: %v", err)
		return
	}

	l.pending = attempt
}

// settlePending decides a broadcast candidate once the chain has a block at its height.
func (l *LotteryLoop) settlePending(ctx context.Context) {
	a := l.pending
	if a == nil {
		return
	}

	bi, ok := l.chain.GetBlockIndexByHeight(a.Draw.Height)
	if !ok {
		return
	}

	l.pending = nil

	if bi.Hash == *a.Candidate.Block.Hash() {
		if err := a.Accept(ctx); err == nil {
			prometheusBlocksProduced.Inc()
		}

		return
	}

	l.logger.Infof("[LotteryLoop] block %s at height %d was replaced by %s", a.Candidate.Block.Hash(), a.Draw.Height, bi.Hash)
	l.reject(ctx, a)
}

func (l *LotteryLoop) reject(ctx context.Context, a *Attempt) {
	prometheusCandidatesRejected.Inc()

	if err := a.Reject(ctx); err != nil {
		l.logger.Errorf("[LotteryLoop] attempt state: %v", err)
	}
}
