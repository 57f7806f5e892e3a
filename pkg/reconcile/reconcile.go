// Package reconcile implements the Relayer's reconciliation pass (spec §7):
// a periodic goroutine that re-checks on-chain isProcessed for every
// BridgeTransaction stuck in relaying and flips it to completed when the
// target chain shows the withdrawal already landed. It is grounded on the
// teacher's Reconciler.StartPeriodicReconciliation ticker/stopCh shape,
// narrowed to this one required job.
package reconcile

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/bridgeworks/evm-bridge/internal/metrics"
	"github.com/bridgeworks/evm-bridge/pkg/chain"
	"github.com/bridgeworks/evm-bridge/pkg/signer"
	"github.com/bridgeworks/evm-bridge/pkg/store/relayerstore"
)

// ChainBinding is the Chain Client plus Bridge contract address the
// Reconciler needs for one configured chain, keyed by its configured name.
type ChainBinding struct {
	Client     *chain.Client
	BridgeAddr common.Address
}

// Reconciler periodically re-checks relaying BridgeTransactions against
// each target chain's isProcessed view.
type Reconciler struct {
	store  *relayerstore.Store
	chains map[string]ChainBinding
	logger *zap.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs a Reconciler. chains must contain a binding for every
// chain name that can appear as a BridgeTransaction's SourceChain or
// TargetChain.
func New(store *relayerstore.Store, chains map[string]ChainBinding, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		store:  store,
		chains: chains,
		logger: logger,
		stopCh: make(chan struct{}),
	}
}

// Start runs ReconcileOnce every interval until Stop is called.
func (r *Reconciler) Start(interval time.Duration) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		r.logger.Info("started reconciliation loop", zap.Duration("interval", interval))

		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
				if err := r.ReconcileOnce(ctx); err != nil {
					r.logger.Error("reconciliation pass failed", zap.Error(err))
				}
				cancel()
			case <-r.stopCh:
				r.logger.Info("stopping reconciliation loop")
				return
			}
		}
	}()
}

// Stop ends the reconciliation loop and waits for it to exit.
func (r *Reconciler) Stop() {
	close(r.stopCh)
	r.wg.Wait()
}

// ReconcileOnce lists every non-terminal BridgeTransaction and, for those in
// relaying, re-checks isProcessed on the target chain (spec §7).
func (r *Reconciler) ReconcileOnce(ctx context.Context) error {
	start := time.Now()

	pending, err := r.store.ListPending(ctx, 1000)
	if err != nil {
		return err
	}

	byStatus := make(map[relayerstore.Status]int)
	for _, tx := range pending {
		byStatus[tx.Status]++
	}
	metrics.PendingTransfers.WithLabelValues(string(relayerstore.StatusPending)).Set(float64(byStatus[relayerstore.StatusPending]))
	metrics.PendingTransfers.WithLabelValues(string(relayerstore.StatusRelaying)).Set(float64(byStatus[relayerstore.StatusRelaying]))

	var checked, completed int
	for _, tx := range pending {
		if tx.Status != relayerstore.StatusRelaying {
			continue
		}
		checked++

		source, ok := r.chains[tx.SourceChain]
		if !ok {
			r.logger.Warn("reconcile: no chain binding for source", zap.String("source_chain", tx.SourceChain))
			continue
		}
		target, ok := r.chains[tx.TargetChain]
		if !ok {
			r.logger.Warn("reconcile: no chain binding for target", zap.String("target_chain", tx.TargetChain))
			continue
		}

		amount, okA := new(big.Int).SetString(tx.Amount, 10)
		nonce, okN := new(big.Int).SetString(tx.Nonce, 10)
		if !okA || !okN {
			r.logger.Warn("reconcile: could not parse amount/nonce", zap.String("source_tx_hash", tx.SourceTxHash))
			continue
		}

		messageHash := signer.Inner(common.HexToAddress(tx.Token), common.HexToAddress(tx.Recipient),
			amount, nonce, source.Client.ChainID(), target.Client.ChainID())

		processed, err := target.Client.IsProcessed(ctx, target.BridgeAddr, [32]byte(messageHash))
		if err != nil {
			r.logger.Warn("reconcile: isProcessed check failed",
				zap.String("source_tx_hash", tx.SourceTxHash), zap.Error(err))
			continue
		}
		if !processed {
			continue
		}

		// Empty targetTxHash: the withdrawal landed, but not through a
		// submission this pass observed, so there is no tx hash to record.
		if err := r.store.TransitionStatus(ctx, tx.SourceTxHash, relayerstore.StatusRelaying, relayerstore.StatusCompleted, "", ""); err != nil {
			r.logger.Warn("reconcile: failed to mark completed",
				zap.String("source_tx_hash", tx.SourceTxHash), zap.Error(err))
			continue
		}
		completed++
	}

	r.logger.Info("reconciliation pass completed",
		zap.Int("checked", checked),
		zap.Int("completed", completed),
		zap.Duration("duration", time.Since(start)))

	return nil
}
