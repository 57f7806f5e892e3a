// Package relayerproc implements the Relayer Processor (spec §4.4): the
// per-deposit pipeline that validates an event, gates on confirmations,
// records a BridgeTransaction, checks idempotency and liquidity on the
// target chain, signs, and (in direct mode) submits the withdraw
// transaction. It is grounded on the teacher's WithdrawFromCanton flow,
// generalized to an EVM-to-EVM target and a two-mode (direct /
// signature-only) submission switch per the decision recorded in §9.
package relayerproc

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/bridgeworks/evm-bridge/internal/metrics"
	apperrors "github.com/bridgeworks/evm-bridge/pkg/app/errors"
	"github.com/bridgeworks/evm-bridge/pkg/bridgeabi"
	"github.com/bridgeworks/evm-bridge/pkg/chain"
	"github.com/bridgeworks/evm-bridge/pkg/config"
	"github.com/bridgeworks/evm-bridge/pkg/signer"
	"github.com/bridgeworks/evm-bridge/pkg/store/relayerstore"
	"github.com/bridgeworks/evm-bridge/pkg/validator"
)

// SubmitParams bundles the fields the submission step needs out of a
// decoded Deposit.
type SubmitParams struct {
	SourceTxHash  string
	Token         common.Address
	Sender        common.Address
	Recipient     common.Address
	Amount        *big.Int
	Nonce         *big.Int
	BlockNumber   uint64
	SourceChainID *big.Int
}

// ChainReader is the subset of *chain.Client the Relayer Processor reads
// chain state through, on either the source or a target chain.
type ChainReader interface {
	Name() string
	ChainID() *big.Int
	Head(ctx context.Context) (uint64, error)
	IsProcessed(ctx context.Context, bridgeAddr common.Address, messageHash [32]byte) (bool, error)
	Balance(ctx context.Context, addr common.Address) (*big.Int, error)
	ERC20BalanceOf(ctx context.Context, token, holder common.Address) (*big.Int, error)
	FeeDataAt(ctx context.Context) (*chain.FeeData, error)
	EstimateWithdrawGas(ctx context.Context, from, bridgeAddr, token, recipient common.Address, amount, nonce, sourceChainID *big.Int, signatures [][]byte) (uint64, error)
	SendWithdraw(ctx context.Context, privateKey *ecdsa.PrivateKey, bridgeAddr, token, recipient common.Address, amount, nonce, sourceChainID *big.Int, signatures [][]byte, opts chain.SendOpts) (common.Hash, error)
	WaitReceipt(ctx context.Context, txHash common.Hash, minConfirmations uint64, timeout time.Duration) (*chain.Receipt, error)
}

// Store is the subset of *relayerstore.Store the Relayer Processor reads and
// writes, named separately so tests can substitute a function-field fake.
type Store interface {
	UpsertPendingTransaction(ctx context.Context, tx relayerstore.BridgeTransaction) error
	GetBySourceTxHash(ctx context.Context, sourceTxHash string) (*relayerstore.BridgeTransaction, error)
	TransitionStatus(ctx context.Context, sourceTxHash string, expectedFrom, to relayerstore.Status, targetTxHash, errMsg string) error
	InsertSignature(ctx context.Context, sourceTxHash, validator, signature string) error
}

// TargetChain binds a configured chain's Chain Client to the Bridge
// contract address a withdraw call must be sent to on that chain.
type TargetChain struct {
	Client     ChainReader
	BridgeAddr common.Address
}

// Processor runs the Relayer's per-deposit pipeline for one source chain,
// routing each deposit to whichever configured chain its own
// targetChainId names (spec §6.5: a Relayer watches multiple chains with
// distinct source/target pairings, so the target is a property of the
// event, not of the Processor).
type Processor struct {
	source      ChainReader
	targets     map[uint64]TargetChain
	store       Store
	signer      *signer.Signer
	gas         config.GasConfig
	minConfirms uint64
	submitMode  config.SubmitMode
	relayerKey  *ecdsa.PrivateKey
	relayerAddr common.Address
	logger      *zap.Logger
}

// New constructs a Processor watching source for Deposit events. targets
// must contain an entry for every chain ID this Relayer instance is
// configured to withdraw to. key is the relayer's own funded EOA used to
// submit withdraw transactions (distinct from sgn, the validator signing
// key); in the single-validator dev deployment described in spec §9 this is
// typically derived from the same key material as sgn.
func New(source ChainReader, targets map[uint64]TargetChain, store Store, sgn *signer.Signer, key *ecdsa.PrivateKey, gas config.GasConfig, minConfirmations uint64, submitMode config.SubmitMode, logger *zap.Logger) *Processor {
	return &Processor{
		source:      source,
		targets:     targets,
		store:       store,
		signer:      sgn,
		gas:         gas,
		minConfirms: minConfirmations,
		submitMode:  submitMode,
		relayerKey:  key,
		relayerAddr: crypto.PubkeyToAddress(key.PublicKey),
		logger:      logger,
	}
}

// HandleDeposit runs steps 1-6 of spec §4.4 for one decoded Deposit log.
func (p *Processor) HandleDeposit(ctx context.Context, rec chain.LogRecord) error {
	if rec.Deposit == nil {
		return nil
	}
	dep := rec.Deposit

	params := validator.DepositParams{
		Token:         dep.Token.Hex(),
		Sender:        dep.Sender.Hex(),
		Recipient:     dep.Recipient.Hex(),
		Amount:        dep.Amount.String(),
		Nonce:         dep.Nonce.String(),
		SourceChainID: p.source.ChainID().Uint64(),
		TargetChainID: dep.TargetChainID.Uint64(),
		BlockNumber:   rec.BlockNumber,
		TxHash:        rec.TxHash.Hex(),
	}
	if res := validator.ValidateDepositParams(params); !res.OK() {
		metrics.ErrorsTotal.WithLabelValues("relayerproc", "InvalidEvent").Inc()
		return apperrors.InvalidEvent("deposit failed validation", res)
	}

	target, ok := p.targets[dep.TargetChainID.Uint64()]
	if !ok {
		metrics.ErrorsTotal.WithLabelValues("relayerproc", "InvalidEvent").Inc()
		return apperrors.InvalidEvent(fmt.Sprintf("deposit %s names unconfigured target chain id %s", rec.TxHash.Hex(), dep.TargetChainID.String()), nil)
	}

	head, err := p.source.Head(ctx)
	if err != nil {
		return err
	}
	if head < rec.BlockNumber || head-rec.BlockNumber < p.minConfirms {
		return apperrors.InsufficientConfirmations(fmt.Sprintf("deposit %s has %d confirmations, need %d", rec.TxHash.Hex(), head-rec.BlockNumber, p.minConfirms))
	}

	sourceTxHash := rec.TxHash.Hex()
	if err := p.store.UpsertPendingTransaction(ctx, relayerstore.BridgeTransaction{
		SourceTxHash: sourceTxHash,
		SourceChain:  p.source.Name(),
		TargetChain:  target.Client.Name(),
		Token:        dep.Token.Hex(),
		Sender:       dep.Sender.Hex(),
		Recipient:    dep.Recipient.Hex(),
		Amount:       dep.Amount.String(),
		Nonce:        dep.Nonce.String(),
		BlockNumber:  rec.BlockNumber,
	}); err != nil {
		return err
	}

	// A re-scanned window re-presents deposits whose rows already moved past
	// pending (crash recovery, duplicate log delivery). Those are settled or
	// in flight; re-driving the pipeline would wedge on the pending->relaying
	// transition.
	existing, err := p.store.GetBySourceTxHash(ctx, sourceTxHash)
	if err != nil {
		return err
	}
	if existing != nil && existing.Status != relayerstore.StatusPending {
		p.logger.Debug("deposit already past pending, skipping",
			zap.String("source_tx_hash", sourceTxHash),
			zap.String("status", string(existing.Status)))
		return nil
	}

	return p.prepareAndSubmit(ctx, target, SubmitParams{
		SourceTxHash:  sourceTxHash,
		Token:         dep.Token,
		Sender:        dep.Sender,
		Recipient:     dep.Recipient,
		Amount:        dep.Amount,
		Nonce:         dep.Nonce,
		BlockNumber:   rec.BlockNumber,
		SourceChainID: p.source.ChainID(),
	})
}

func (p *Processor) prepareAndSubmit(ctx context.Context, target TargetChain, sp SubmitParams) error {
	if err := p.store.TransitionStatus(ctx, sp.SourceTxHash, relayerstore.StatusPending, relayerstore.StatusRelaying, "", ""); err != nil {
		return err
	}

	_, sig, err := p.signer.SignWithdrawal(sp.Token, sp.Recipient, sp.Amount, sp.Nonce, sp.SourceChainID, target.Client.ChainID())
	if err != nil {
		return p.fail(ctx, sp.SourceTxHash, fmt.Errorf("sign withdrawal: %w", err))
	}

	// isProcessed is keyed on the unprefixed inner hash, not the signed
	// digest (spec §4.3, §4.4 step 4b).
	messageHash := [32]byte(signer.Inner(sp.Token, sp.Recipient, sp.Amount, sp.Nonce, sp.SourceChainID, target.Client.ChainID()))
	var processed bool
	if err := p.retryRPC(ctx, "isProcessed check", func() error {
		var err error
		processed, err = target.Client.IsProcessed(ctx, target.BridgeAddr, messageHash)
		return err
	}); err != nil {
		if apperrors.Is(err, apperrors.CategoryShutdownCancelled) {
			return err
		}
		return p.fail(ctx, sp.SourceTxHash, err)
	}
	if processed {
		// Empty targetTxHash is the already-processed sentinel: the withdrawal
		// landed via another submitter, so there is no tx hash of our own to
		// record.
		metrics.TransfersTotal.WithLabelValues(string(relayerstore.StatusCompleted)).Inc()
		return p.store.TransitionStatus(ctx, sp.SourceTxHash, relayerstore.StatusRelaying, relayerstore.StatusCompleted, "", "")
	}

	if err := p.retryRPC(ctx, "liquidity check", func() error {
		return p.checkLiquidity(ctx, target, sp.Token, sp.Amount)
	}); err != nil {
		if apperrors.Is(err, apperrors.CategoryShutdownCancelled) {
			return err
		}
		return p.fail(ctx, sp.SourceTxHash, err)
	}

	if err := p.store.InsertSignature(ctx, sp.SourceTxHash, p.signer.Address().Hex(), fmt.Sprintf("0x%x", sig)); err != nil {
		return err
	}
	metrics.SignaturesTotal.WithLabelValues(p.source.Name(), target.Client.Name()).Inc()

	if p.submitMode == config.SubmitModeSignatureOnly {
		return nil
	}

	return p.submit(ctx, target, sp, sig)
}

// maxAttempts bounds every retried target-chain operation (spec §4.4 step 5,
// §7 RetryableRPC).
const maxAttempts = 3

// retryRPC runs fn with the same bounded exponential backoff the submit loop
// applies, retrying only transient chain-client failures. On a terminal
// failure, or once attempts are exhausted, the error comes back wrapped as
// TerminalRPC so the caller marks the transaction failed and the watcher
// does not re-drive the window. Cancellation surfaces as ShutdownCancelled,
// which must not be persisted as failure (spec §7).
func (p *Processor) retryRPC(ctx context.Context, op string, fn func() error) error {
	backoff := time.Second
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		var rpcErr *chain.RPCError
		if !errors.As(err, &rpcErr) {
			return err
		}
		if !rpcErr.Retryable {
			return apperrors.TerminalRPC(op, err)
		}
		if attempt == maxAttempts-1 {
			return apperrors.TerminalRPC(op+" exhausted retries", err)
		}
		select {
		case <-ctx.Done():
			return apperrors.ShutdownCancelled(op + " cancelled")
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

func (p *Processor) checkLiquidity(ctx context.Context, target TargetChain, token common.Address, amount *big.Int) error {
	var balance *big.Int
	var err error
	if token == bridgeabi.NativeToken {
		balance, err = target.Client.Balance(ctx, target.BridgeAddr)
	} else {
		balance, err = target.Client.ERC20BalanceOf(ctx, token, target.BridgeAddr)
	}
	if err != nil {
		return err
	}
	approx, _ := new(big.Float).SetInt(balance).Float64()
	metrics.BridgeBalance.WithLabelValues(target.Client.Name(), token.Hex()).Set(approx)
	if balance.Cmp(amount) < 0 {
		return apperrors.InsufficientLiquidity(fmt.Sprintf("bridge balance %s is short of required %s", balance.String(), amount.String()))
	}
	return nil
}

func (p *Processor) submit(ctx context.Context, target TargetChain, sp SubmitParams, sig []byte) error {
	backoff := time.Second

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		txHash, err := p.attemptSubmit(ctx, target, sp, sig)
		if err == nil {
			receipt, err := target.Client.WaitReceipt(ctx, txHash, p.minConfirms, 5*time.Minute)
			if err != nil {
				lastErr = err
			} else if receipt.Status == 0 {
				lastErr = fmt.Errorf("withdraw transaction %s reverted", txHash.Hex())
			} else {
				metrics.GasUsed.WithLabelValues(target.Client.Name()).Observe(float64(receipt.GasUsed))
				metrics.TransactionsSent.WithLabelValues(target.Client.Name(), "success").Inc()
				metrics.TransfersTotal.WithLabelValues(string(relayerstore.StatusCompleted)).Inc()
				return p.store.TransitionStatus(ctx, sp.SourceTxHash, relayerstore.StatusRelaying, relayerstore.StatusCompleted, txHash.Hex(), "")
			}
		} else {
			lastErr = err
		}

		var rpcErr *chain.RPCError
		if !errors.As(lastErr, &rpcErr) || !rpcErr.Retryable {
			break
		}
		select {
		case <-ctx.Done():
			return apperrors.ShutdownCancelled("withdraw submission cancelled")
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	// Shutdown is not failure: leave the row in relaying for the
	// reconciliation pass (spec §7 ShutdownCancelled).
	if ctx.Err() != nil {
		return apperrors.ShutdownCancelled("withdraw submission cancelled")
	}

	metrics.TransactionsSent.WithLabelValues(target.Client.Name(), "failed").Inc()
	return p.fail(ctx, sp.SourceTxHash, lastErr)
}

func (p *Processor) attemptSubmit(ctx context.Context, target TargetChain, sp SubmitParams, sig []byte) (common.Hash, error) {
	gasUnits, err := target.Client.EstimateWithdrawGas(ctx, p.relayerAddr, target.BridgeAddr, sp.Token, sp.Recipient, sp.Amount, sp.Nonce, sp.SourceChainID, [][]byte{sig})
	if err != nil {
		return common.Hash{}, err
	}
	multiplier := p.gas.GasLimitMultiplier
	if multiplier == 0 {
		multiplier = 1.2
	}
	gasLimit := uint64(float64(gasUnits)*multiplier) + 1

	fee, err := target.Client.FeeDataAt(ctx)
	if err != nil {
		return common.Hash{}, err
	}
	gasPrice := fee.GasPrice
	if p.gas.MaxGasPriceGwei > 0 {
		cap := new(big.Int).Mul(big.NewInt(int64(p.gas.MaxGasPriceGwei)), big.NewInt(1_000_000_000))
		if gasPrice.Cmp(cap) > 0 {
			gasPrice = cap
		}
	}

	return target.Client.SendWithdraw(ctx, p.relayerKey, target.BridgeAddr, sp.Token, sp.Recipient, sp.Amount, sp.Nonce, sp.SourceChainID, [][]byte{sig}, chain.SendOpts{
		GasLimit: gasLimit,
		GasPrice: gasPrice,
	})
}

func (p *Processor) fail(ctx context.Context, sourceTxHash string, cause error) error {
	metrics.TransfersTotal.WithLabelValues(string(relayerstore.StatusFailed)).Inc()
	msg := cause.Error()
	if len(msg) > 500 {
		msg = msg[:500]
	}
	if err := p.store.TransitionStatus(ctx, sourceTxHash, relayerstore.StatusRelaying, relayerstore.StatusFailed, "", msg); err != nil {
		p.logger.Error("failed to record terminal failure", zap.Error(err), zap.String("source_tx_hash", sourceTxHash))
	}
	return cause
}
