// Package watcher implements the per-chain Chain Watcher loop (spec §4.2):
// load a durable cursor, pull bounded-range log batches, dispatch them to a
// processor in ascending (blockNumber, logIndex) order, and advance the
// cursor only once the whole window is handled. It is grounded on the
// teacher's relayer Engine's offset load/save split and its
// WatchDepositEvents polling loop, generalized from a single Canton<->EVM
// pairing into one goroutine per configured chain watching an
// arbitrary set of event names.
package watcher

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/bridgeworks/evm-bridge/internal/metrics"
	apperrors "github.com/bridgeworks/evm-bridge/pkg/app/errors"
	"github.com/bridgeworks/evm-bridge/pkg/chain"
)

// Handler processes one decoded log. Returning a retryable error aborts the
// whole window (the watcher retries it next tick); any other error is
// logged and the watcher continues to the next log in the window (spec
// §4.2 Failure).
type Handler func(ctx context.Context, rec chain.LogRecord) error

// LoadCursorFunc reports whether a cursor exists for chainID and, if so,
// its last durably-scanned block number. relayerstore.Store and
// indexerstore.Store each expose a richer LoadCursor the caller adapts into
// this shape when constructing a Watcher.
type LoadCursorFunc func(ctx context.Context, chainID uint64) (found bool, lastBlockNumber uint64, err error)

// AdvanceCursorFunc durably persists a watcher's progress.
type AdvanceCursorFunc func(ctx context.Context, chainID uint64, chainName string, blockNumber uint64, blockHash string, eventsProcessed uint64) error

// ChainReader is the subset of *chain.Client a Watcher needs: head/block
// lookups and name-indexed log queries for its subscribed event names.
type ChainReader interface {
	Name() string
	ChainID() *big.Int
	Head(ctx context.Context) (uint64, error)
	Block(ctx context.Context, n uint64) (*chain.BlockInfo, error)
	Logs(ctx context.Context, contractAddr common.Address, eventName string, fromBlock, toBlock uint64) ([]chain.LogRecord, error)
}

// Config controls one Watcher instance.
type Config struct {
	BridgeAddr       common.Address
	EventNames       []string
	BatchSize        uint64
	PollInterval     time.Duration
	MinConfirmations uint64
	MaxBackoff       time.Duration
	StartBlock       uint64
}

// Watcher runs the single-threaded per-chain loop described in spec §4.2.
type Watcher struct {
	client        ChainReader
	loadCursorFn  LoadCursorFunc
	advanceCursor AdvanceCursorFunc
	cfg           Config
	logger        *zap.Logger
	handle        Handler

	cursor uint64
}

// New constructs a Watcher for one chain. Call Run to start its loop; Run
// blocks until ctx is cancelled.
func New(client ChainReader, loadCursor LoadCursorFunc, advanceCursor AdvanceCursorFunc, cfg Config, handler Handler, logger *zap.Logger) *Watcher {
	return &Watcher{
		client:        client,
		loadCursorFn:  loadCursor,
		advanceCursor: advanceCursor,
		cfg:           cfg,
		logger:        logger.With(zap.String("chain", client.Name())),
		handle:        handler,
	}
}

// Run loads the durable cursor and then loops: read head, fetch a bounded
// window of logs for every subscribed event name, dispatch each in
// ascending order, and advance the cursor only once the window completes
// (spec §4.2).
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.loadCursor(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := w.tick(ctx); err != nil {
			if apperrors.Is(err, apperrors.CategoryShutdownCancelled) {
				return nil
			}
			w.logger.Warn("watcher tick failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (w *Watcher) loadCursor(ctx context.Context) error {
	found, lastBlockNumber, err := w.loadCursorFn(ctx, w.client.ChainID().Uint64())
	if err != nil {
		return apperrors.StoreFailure("load cursor", err)
	}
	if found {
		w.cursor = lastBlockNumber
		return nil
	}
	w.cursor = w.cfg.StartBlock
	return nil
}

// tick advances the watcher by at most one window.
func (w *Watcher) tick(ctx context.Context) error {
	head, err := w.client.Head(ctx)
	if err != nil {
		return err
	}

	safeHead := uint64(0)
	if head > w.cfg.MinConfirmations {
		safeHead = head - w.cfg.MinConfirmations
	}
	if safeHead <= w.cursor {
		metrics.CursorLag.WithLabelValues(w.client.Name()).Set(float64(head) - float64(w.cursor))
		return nil
	}

	from := w.cursor + 1
	to := from + w.cfg.BatchSize - 1
	if to > safeHead {
		to = safeHead
	}

	var windowRecords []chain.LogRecord
	for _, name := range w.cfg.EventNames {
		recs, err := w.withBackoff(ctx, func() ([]chain.LogRecord, error) {
			return w.client.Logs(ctx, w.cfg.BridgeAddr, name, from, to)
		})
		if err != nil {
			return err
		}
		windowRecords = append(windowRecords, recs...)
	}
	sortWindow(windowRecords)

	for _, rec := range windowRecords {
		if err := w.handle(ctx, rec); err != nil {
			if retryableDispatch(err) {
				return err
			}
			w.logger.Error("event handler failed terminally, skipping",
				zap.String("tx_hash", rec.TxHash.Hex()),
				zap.Error(err))
		}
	}

	blk, err := w.client.Block(ctx, to)
	if err != nil {
		return err
	}

	if err := w.advanceCursor(ctx, w.client.ChainID().Uint64(), w.client.Name(), to, blk.Hash.Hex(), uint64(len(windowRecords))); err != nil {
		return err
	}
	w.cursor = to
	metrics.LastProcessedBlock.WithLabelValues(w.client.Name()).Set(float64(to))
	metrics.BlocksProcessed.WithLabelValues(w.client.Name()).Add(float64(to - from + 1))
	for _, rec := range windowRecords {
		name := "Withdraw"
		if rec.Deposit != nil {
			name = "Deposit"
		}
		metrics.EventsDetected.WithLabelValues(w.client.Name(), name).Inc()
	}

	return nil
}

func (w *Watcher) withBackoff(ctx context.Context, op func() ([]chain.LogRecord, error)) ([]chain.LogRecord, error) {
	backoff := time.Second
	for {
		recs, err := op()
		if err == nil {
			return recs, nil
		}
		rpcErr, ok := err.(*chain.RPCError)
		if !ok || !rpcErr.Retryable {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, apperrors.ShutdownCancelled("watcher backoff cancelled")
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > w.cfg.MaxBackoff {
			backoff = w.cfg.MaxBackoff
		}
	}
}

// retryableDispatch reports whether a handler error must abort the window so
// the same range is re-queried next tick (spec §4.2 Failure). Handlers return
// both taxonomy errors and raw chain-client errors from their own RPC reads
// (the confirmation-gate head fetch, the block-timestamp lookup), so a
// transient failure is recognized in either form — mirroring the
// *chain.RPCError special case in withBackoff.
func retryableDispatch(err error) bool {
	if apperrors.IsRetryable(err) {
		return true
	}
	var rpcErr *chain.RPCError
	return errors.As(err, &rpcErr) && rpcErr.Retryable
}

func sortWindow(records []chain.LogRecord) {
	for i := 1; i < len(records); i++ {
		for j := i; j > 0; j-- {
			a, b := records[j-1], records[j]
			if a.BlockNumber < b.BlockNumber || (a.BlockNumber == b.BlockNumber && a.LogIndex <= b.LogIndex) {
				break
			}
			records[j-1], records[j] = records[j], records[j-1]
		}
	}
}
