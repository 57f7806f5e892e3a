package relayerproc

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	apperrors "github.com/bridgeworks/evm-bridge/pkg/app/errors"
	"github.com/bridgeworks/evm-bridge/pkg/bridgeabi"
	"github.com/bridgeworks/evm-bridge/pkg/chain"
	"github.com/bridgeworks/evm-bridge/pkg/config"
	"github.com/bridgeworks/evm-bridge/pkg/signer"
	"github.com/bridgeworks/evm-bridge/pkg/store/relayerstore"
)

const (
	testValidatorKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	testRelayerKeyHex   = "6b8e4aa0c4a7dd9b06e2ee8222df9ecfb7f2d6f8a3e60eafc1cdf6a71e8e2b7e"
)

func newTestProcessor(t *testing.T, source *fakeChain, target *fakeChain, store *fakeStore, mode config.SubmitMode) *Processor {
	t.Helper()
	sgn, err := signer.New(testValidatorKeyHex)
	if err != nil {
		t.Fatalf("signer.New: %v", err)
	}
	relayerKey, err := crypto.HexToECDSA(testRelayerKeyHex)
	if err != nil {
		t.Fatalf("HexToECDSA: %v", err)
	}
	targets := map[uint64]TargetChain{
		target.chainID.Uint64(): {Client: target, BridgeAddr: common.HexToAddress("0xdbF03B407c01E7cD3CBea99509d93f8DDDC8C6FB")},
	}
	return New(source, targets, store, sgn, relayerKey, config.GasConfig{GasLimitMultiplier: 1.2}, 6, mode, zap.NewNop())
}

func validDepositLogRecord() chain.LogRecord {
	return chain.LogRecord{
		TxHash:      common.HexToHash("0xaa"),
		BlockNumber: 94,
		Deposit: &bridgeabi.DepositEvent{
			Token:         bridgeabi.NativeToken,
			Sender:        common.HexToAddress("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"),
			Recipient:     common.HexToAddress("0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359"),
			Amount:        big.NewInt(1000),
			Nonce:         big.NewInt(1),
			TargetChainID: big.NewInt(137),
		},
	}
}

func TestHandleDeposit_UnconfiguredTargetChain(t *testing.T) {
	source := &fakeChain{name: "ethereum", chainID: big.NewInt(1)}
	target := &fakeChain{name: "polygon", chainID: big.NewInt(999)} // does not match deposit's target (137)
	store := &fakeStore{}
	p := newTestProcessor(t, source, target, store, config.SubmitModeDirect)

	err := p.HandleDeposit(context.Background(), validDepositLogRecord())
	if err == nil {
		t.Fatal("expected error for unconfigured target chain id")
	}
	if !apperrors.Is(err, apperrors.CategoryInvalidEvent) {
		t.Errorf("expected CategoryInvalidEvent, got %v", err)
	}
}

func TestHandleDeposit_InsufficientConfirmations(t *testing.T) {
	source := &fakeChain{
		name: "ethereum", chainID: big.NewInt(1),
		HeadFunc: func(ctx context.Context) (uint64, error) { return 96, nil }, // only 2 confirmations, need 6
	}
	target := &fakeChain{name: "polygon", chainID: big.NewInt(137)}
	store := &fakeStore{}
	p := newTestProcessor(t, source, target, store, config.SubmitModeDirect)

	err := p.HandleDeposit(context.Background(), validDepositLogRecord())
	if err == nil {
		t.Fatal("expected insufficient-confirmations error")
	}
	if !apperrors.Is(err, apperrors.CategoryInsufficientConfirmations) {
		t.Errorf("expected CategoryInsufficientConfirmations, got %v", err)
	}
}

func TestHandleDeposit_AlreadyProcessedShortCircuits(t *testing.T) {
	source := &fakeChain{
		name: "ethereum", chainID: big.NewInt(1),
		HeadFunc: func(ctx context.Context) (uint64, error) { return 100, nil },
	}
	target := &fakeChain{
		name: "polygon", chainID: big.NewInt(137),
		IsProcessedFunc: func(ctx context.Context, bridgeAddr common.Address, messageHash [32]byte) (bool, error) {
			return true, nil
		},
	}
	store := &fakeStore{}
	p := newTestProcessor(t, source, target, store, config.SubmitModeDirect)

	if err := p.HandleDeposit(context.Background(), validDepositLogRecord()); err != nil {
		t.Fatalf("HandleDeposit: %v", err)
	}

	found := false
	for _, tr := range store.transitions {
		if tr.from == relayerstore.StatusRelaying && tr.to == relayerstore.StatusCompleted {
			found = true
		}
	}
	if !found {
		t.Error("expected an already-processed deposit to transition straight to completed")
	}
}

func TestHandleDeposit_InsufficientLiquidityFailsTransaction(t *testing.T) {
	source := &fakeChain{
		name: "ethereum", chainID: big.NewInt(1),
		HeadFunc: func(ctx context.Context) (uint64, error) { return 100, nil },
	}
	target := &fakeChain{
		name: "polygon", chainID: big.NewInt(137),
		IsProcessedFunc: func(ctx context.Context, bridgeAddr common.Address, messageHash [32]byte) (bool, error) {
			return false, nil
		},
		BalanceFunc: func(ctx context.Context, addr common.Address) (*big.Int, error) {
			return big.NewInt(1), nil // less than the deposit's 1000
		},
	}
	store := &fakeStore{}
	p := newTestProcessor(t, source, target, store, config.SubmitModeDirect)

	err := p.HandleDeposit(context.Background(), validDepositLogRecord())
	if err == nil {
		t.Fatal("expected insufficient-liquidity error")
	}
	if !apperrors.Is(err, apperrors.CategoryInsufficientLiquidity) {
		t.Errorf("expected CategoryInsufficientLiquidity, got %v", err)
	}

	found := false
	for _, tr := range store.transitions {
		if tr.to == relayerstore.StatusFailed {
			found = true
		}
	}
	if !found {
		t.Error("expected the transaction to transition to failed")
	}
}

func TestHandleDeposit_SignatureOnlyModeStopsAfterSigning(t *testing.T) {
	source := &fakeChain{
		name: "ethereum", chainID: big.NewInt(1),
		HeadFunc: func(ctx context.Context) (uint64, error) { return 100, nil },
	}
	var sendCalled bool
	target := &fakeChain{
		name: "polygon", chainID: big.NewInt(137),
		IsProcessedFunc: func(ctx context.Context, bridgeAddr common.Address, messageHash [32]byte) (bool, error) {
			return false, nil
		},
		BalanceFunc: func(ctx context.Context, addr common.Address) (*big.Int, error) {
			return big.NewInt(1_000_000), nil
		},
		SendWithdrawFunc: func(ctx context.Context, privateKey *ecdsa.PrivateKey, bridgeAddr, token, recipient common.Address, amount, nonce, sourceChainID *big.Int, signatures [][]byte, opts chain.SendOpts) (common.Hash, error) {
			sendCalled = true
			return common.Hash{}, nil
		},
	}
	store := &fakeStore{}
	p := newTestProcessor(t, source, target, store, config.SubmitModeSignatureOnly)

	if err := p.HandleDeposit(context.Background(), validDepositLogRecord()); err != nil {
		t.Fatalf("HandleDeposit: %v", err)
	}
	if sendCalled {
		t.Error("expected signature-only mode to never call SendWithdraw")
	}
	if len(store.InsertSignatureCalls()) == 0 {
		t.Error("expected a signature to have been persisted")
	}
}

func TestHandleDeposit_DirectModeSubmitsAndCompletes(t *testing.T) {
	source := &fakeChain{
		name: "ethereum", chainID: big.NewInt(1),
		HeadFunc: func(ctx context.Context) (uint64, error) { return 100, nil },
	}
	txHash := common.HexToHash("0xff")
	target := &fakeChain{
		name: "polygon", chainID: big.NewInt(137),
		IsProcessedFunc: func(ctx context.Context, bridgeAddr common.Address, messageHash [32]byte) (bool, error) {
			return false, nil
		},
		BalanceFunc: func(ctx context.Context, addr common.Address) (*big.Int, error) {
			return big.NewInt(1_000_000), nil
		},
		EstimateWithdrawGasFunc: func(ctx context.Context, from, bridgeAddr, token, recipient common.Address, amount, nonce, sourceChainID *big.Int, signatures [][]byte) (uint64, error) {
			return 21000, nil
		},
		FeeDataAtFunc: func(ctx context.Context) (*chain.FeeData, error) {
			return &chain.FeeData{GasPrice: big.NewInt(1_000_000_000)}, nil
		},
		SendWithdrawFunc: func(ctx context.Context, privateKey *ecdsa.PrivateKey, bridgeAddr, token, recipient common.Address, amount, nonce, sourceChainID *big.Int, signatures [][]byte, opts chain.SendOpts) (common.Hash, error) {
			return txHash, nil
		},
		WaitReceiptFunc: func(ctx context.Context, gotTxHash common.Hash, minConfirmations uint64, timeout time.Duration) (*chain.Receipt, error) {
			return &chain.Receipt{TxHash: gotTxHash, Status: 1, GasUsed: 21000}, nil
		},
	}
	store := &fakeStore{}
	p := newTestProcessor(t, source, target, store, config.SubmitModeDirect)

	if err := p.HandleDeposit(context.Background(), validDepositLogRecord()); err != nil {
		t.Fatalf("HandleDeposit: %v", err)
	}

	found := false
	for _, tr := range store.transitions {
		if tr.to == relayerstore.StatusCompleted {
			found = true
		}
	}
	if !found {
		t.Error("expected the transaction to complete after a successful submit")
	}
}

func TestHandleDeposit_TransientIsProcessedErrorIsRetried(t *testing.T) {
	source := &fakeChain{
		name: "ethereum", chainID: big.NewInt(1),
		HeadFunc: func(ctx context.Context) (uint64, error) { return 100, nil },
	}
	calls := 0
	target := &fakeChain{
		name: "polygon", chainID: big.NewInt(137),
		IsProcessedFunc: func(ctx context.Context, bridgeAddr common.Address, messageHash [32]byte) (bool, error) {
			calls++
			if calls == 1 {
				return false, &chain.RPCError{Op: "call isProcessed", Err: errors.New("i/o timeout"), Retryable: true}
			}
			return true, nil
		},
	}
	store := &fakeStore{}
	p := newTestProcessor(t, source, target, store, config.SubmitModeDirect)

	if err := p.HandleDeposit(context.Background(), validDepositLogRecord()); err != nil {
		t.Fatalf("HandleDeposit: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected the transient failure to be retried once, got %d calls", calls)
	}
	for _, tr := range store.transitions {
		if tr.to == relayerstore.StatusFailed {
			t.Error("a transient pre-submit failure must not mark the transaction failed")
		}
	}
}

func TestHandleDeposit_ExhaustedIsProcessedRetriesFailTransaction(t *testing.T) {
	source := &fakeChain{
		name: "ethereum", chainID: big.NewInt(1),
		HeadFunc: func(ctx context.Context) (uint64, error) { return 100, nil },
	}
	calls := 0
	target := &fakeChain{
		name: "polygon", chainID: big.NewInt(137),
		IsProcessedFunc: func(ctx context.Context, bridgeAddr common.Address, messageHash [32]byte) (bool, error) {
			calls++
			return false, &chain.RPCError{Op: "call isProcessed", Err: errors.New("connection reset"), Retryable: true}
		},
	}
	store := &fakeStore{}
	p := newTestProcessor(t, source, target, store, config.SubmitModeDirect)

	err := p.HandleDeposit(context.Background(), validDepositLogRecord())
	if err == nil {
		t.Fatal("expected exhausted retries to surface an error")
	}
	if !apperrors.Is(err, apperrors.CategoryTerminalRPC) {
		t.Errorf("expected CategoryTerminalRPC after exhausted retries, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected the bounded attempt count, got %d calls", calls)
	}
	found := false
	for _, tr := range store.transitions {
		if tr.to == relayerstore.StatusFailed {
			found = true
		}
	}
	if !found {
		t.Error("expected the transaction to be marked failed once retries were exhausted")
	}
}

func TestHandleDeposit_RedeliveredCompletedDepositIsSkipped(t *testing.T) {
	source := &fakeChain{
		name: "ethereum", chainID: big.NewInt(1),
		HeadFunc: func(ctx context.Context) (uint64, error) { return 100, nil },
	}
	target := &fakeChain{
		name: "polygon", chainID: big.NewInt(137),
		IsProcessedFunc: func(ctx context.Context, bridgeAddr common.Address, messageHash [32]byte) (bool, error) {
			t.Error("IsProcessed should not be consulted for a settled row")
			return false, nil
		},
	}
	store := &fakeStore{
		GetBySourceTxHashFunc: func(ctx context.Context, sourceTxHash string) (*relayerstore.BridgeTransaction, error) {
			return &relayerstore.BridgeTransaction{
				SourceTxHash: sourceTxHash,
				Status:       relayerstore.StatusCompleted,
				TargetTxHash: "0xbb",
			}, nil
		},
	}
	p := newTestProcessor(t, source, target, store, config.SubmitModeDirect)

	// Same window re-scanned after a crash: the deposit is re-presented but
	// its row already completed.
	if err := p.HandleDeposit(context.Background(), validDepositLogRecord()); err != nil {
		t.Fatalf("HandleDeposit: %v", err)
	}
	if len(store.transitions) != 0 {
		t.Errorf("expected no status transitions for a settled row, got %v", store.transitions)
	}
}
