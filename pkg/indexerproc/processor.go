// Package indexerproc implements the Indexer Processor (spec §4.5): a thin
// per-chain dispatcher that validates a decoded Deposit or Withdraw log and
// hands it to indexerstore for deduplication and cross-chain correlation. It
// is grounded on the teacher's storeBridgeEvent call site in its HTTP
// handler, generalized to run as a watcher.Handler instead of behind an API
// request.
package indexerproc

import (
	"context"
	"math/big"
	"time"

	"go.uber.org/zap"

	"github.com/bridgeworks/evm-bridge/internal/metrics"
	apperrors "github.com/bridgeworks/evm-bridge/pkg/app/errors"
	"github.com/bridgeworks/evm-bridge/pkg/chain"
	"github.com/bridgeworks/evm-bridge/pkg/store/indexerstore"
	"github.com/bridgeworks/evm-bridge/pkg/validator"
)

// ChainReader is the subset of *chain.Client the Indexer Processor reads
// from: a block's timestamp (to stamp a BridgeEvent) and the chain's own ID.
type ChainReader interface {
	Name() string
	ChainID() *big.Int
	Block(ctx context.Context, n uint64) (*chain.BlockInfo, error)
}

// Store is the subset of *indexerstore.Store the Indexer Processor writes
// to, named separately so tests can substitute a function-field fake.
type Store interface {
	RecordDeposit(ctx context.Context, ev indexerstore.BridgeEvent) error
	RecordWithdraw(ctx context.Context, ev indexerstore.BridgeEvent, targetChainID uint64) error
}

// Processor correlates Deposit/Withdraw logs observed on one chain into
// indexerstore's BridgeEvent/Transfer records. The Indexer runs one
// Processor per chain, each wired to a watcher.Watcher subscribed to both
// event names (spec §4.5).
type Processor struct {
	client ChainReader
	store  Store
	logger *zap.Logger
}

// New constructs a Processor for one chain.
func New(client ChainReader, store Store, logger *zap.Logger) *Processor {
	return &Processor{client: client, store: store, logger: logger.With(zap.String("chain", client.Name()))}
}

// Handle implements watcher.Handler, dispatching a decoded log to the
// Deposit or Withdraw path depending on which side of chain.LogRecord is
// populated.
func (p *Processor) Handle(ctx context.Context, rec chain.LogRecord) error {
	switch {
	case rec.Deposit != nil:
		return p.handleDeposit(ctx, rec)
	case rec.Withdraw != nil:
		return p.handleWithdraw(ctx, rec)
	default:
		return nil
	}
}

func (p *Processor) handleDeposit(ctx context.Context, rec chain.LogRecord) error {
	dep := rec.Deposit
	chainID := p.client.ChainID().Uint64()

	params := validator.DepositParams{
		Token:         dep.Token.Hex(),
		Sender:        dep.Sender.Hex(),
		Recipient:     dep.Recipient.Hex(),
		Amount:        dep.Amount.String(),
		Nonce:         dep.Nonce.String(),
		SourceChainID: chainID,
		TargetChainID: dep.TargetChainID.Uint64(),
		BlockNumber:   rec.BlockNumber,
		TxHash:        rec.TxHash.Hex(),
	}
	if res := validator.ValidateDepositParams(params); !res.OK() {
		metrics.ErrorsTotal.WithLabelValues("indexerproc", "InvalidEvent").Inc()
		return apperrors.InvalidEvent("deposit event failed validation", res)
	}

	blk, err := p.client.Block(ctx, rec.BlockNumber)
	if err != nil {
		return err
	}

	if err := p.store.RecordDeposit(ctx, indexerstore.BridgeEvent{
		TxHash:        rec.TxHash.Hex(),
		LogIndex:      rec.LogIndex,
		EventType:     indexerstore.EventDeposit,
		ChainID:       chainID,
		BlockNumber:   rec.BlockNumber,
		BlockHash:     rec.BlockHash.Hex(),
		Timestamp:     time.Unix(int64(blk.Timestamp), 0).UTC(),
		Token:         dep.Token.Hex(),
		Sender:        dep.Sender.Hex(),
		Recipient:     dep.Recipient.Hex(),
		Amount:        dep.Amount.String(),
		Nonce:         dep.Nonce.String(),
		TargetChainID: dep.TargetChainID.Uint64(),
	}); err != nil {
		return err
	}
	return nil
}

func (p *Processor) handleWithdraw(ctx context.Context, rec chain.LogRecord) error {
	wd := rec.Withdraw
	chainID := p.client.ChainID().Uint64()

	params := validator.WithdrawParams{
		Token:         wd.Token.Hex(),
		Recipient:     wd.Recipient.Hex(),
		Amount:        wd.Amount.String(),
		Nonce:         wd.Nonce.String(),
		SourceChainID: wd.SourceChainID.Uint64(),
		TxHash:        rec.TxHash.Hex(),
	}
	if res := validator.ValidateWithdrawParams(params); !res.OK() {
		metrics.ErrorsTotal.WithLabelValues("indexerproc", "InvalidEvent").Inc()
		return apperrors.InvalidEvent("withdraw event failed validation", res)
	}

	blk, err := p.client.Block(ctx, rec.BlockNumber)
	if err != nil {
		return err
	}

	if err := p.store.RecordWithdraw(ctx, indexerstore.BridgeEvent{
		TxHash:        rec.TxHash.Hex(),
		LogIndex:      rec.LogIndex,
		EventType:     indexerstore.EventWithdraw,
		ChainID:       chainID,
		BlockNumber:   rec.BlockNumber,
		BlockHash:     rec.BlockHash.Hex(),
		Timestamp:     time.Unix(int64(blk.Timestamp), 0).UTC(),
		Token:         wd.Token.Hex(),
		Recipient:     wd.Recipient.Hex(),
		Amount:        wd.Amount.String(),
		Nonce:         wd.Nonce.String(),
		SourceChainID: wd.SourceChainID.Uint64(),
	}, chainID); err != nil {
		return err
	}
	return nil
}
