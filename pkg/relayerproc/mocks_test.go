package relayerproc

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/bridgeworks/evm-bridge/pkg/chain"
	"github.com/bridgeworks/evm-bridge/pkg/store/relayerstore"
)

// fakeChain is a hand-rolled function-field mock of ChainReader, following
// the teacher's MockEthereumClient idiom (pkg/relayer/mocks_test.go).
type fakeChain struct {
	name    string
	chainID *big.Int

	HeadFunc                func(ctx context.Context) (uint64, error)
	IsProcessedFunc         func(ctx context.Context, bridgeAddr common.Address, messageHash [32]byte) (bool, error)
	BalanceFunc             func(ctx context.Context, addr common.Address) (*big.Int, error)
	ERC20BalanceOfFunc      func(ctx context.Context, token, holder common.Address) (*big.Int, error)
	FeeDataAtFunc           func(ctx context.Context) (*chain.FeeData, error)
	EstimateWithdrawGasFunc func(ctx context.Context, from, bridgeAddr, token, recipient common.Address, amount, nonce, sourceChainID *big.Int, signatures [][]byte) (uint64, error)
	SendWithdrawFunc        func(ctx context.Context, privateKey *ecdsa.PrivateKey, bridgeAddr, token, recipient common.Address, amount, nonce, sourceChainID *big.Int, signatures [][]byte, opts chain.SendOpts) (common.Hash, error)
	WaitReceiptFunc         func(ctx context.Context, txHash common.Hash, minConfirmations uint64, timeout time.Duration) (*chain.Receipt, error)
}

func (f *fakeChain) Name() string      { return f.name }
func (f *fakeChain) ChainID() *big.Int { return f.chainID }
func (f *fakeChain) Head(ctx context.Context) (uint64, error) { return f.HeadFunc(ctx) }
func (f *fakeChain) IsProcessed(ctx context.Context, bridgeAddr common.Address, messageHash [32]byte) (bool, error) {
	return f.IsProcessedFunc(ctx, bridgeAddr, messageHash)
}
func (f *fakeChain) Balance(ctx context.Context, addr common.Address) (*big.Int, error) {
	return f.BalanceFunc(ctx, addr)
}
func (f *fakeChain) ERC20BalanceOf(ctx context.Context, token, holder common.Address) (*big.Int, error) {
	return f.ERC20BalanceOfFunc(ctx, token, holder)
}
func (f *fakeChain) FeeDataAt(ctx context.Context) (*chain.FeeData, error) { return f.FeeDataAtFunc(ctx) }
func (f *fakeChain) EstimateWithdrawGas(ctx context.Context, from, bridgeAddr, token, recipient common.Address, amount, nonce, sourceChainID *big.Int, signatures [][]byte) (uint64, error) {
	return f.EstimateWithdrawGasFunc(ctx, from, bridgeAddr, token, recipient, amount, nonce, sourceChainID, signatures)
}
func (f *fakeChain) SendWithdraw(ctx context.Context, privateKey *ecdsa.PrivateKey, bridgeAddr, token, recipient common.Address, amount, nonce, sourceChainID *big.Int, signatures [][]byte, opts chain.SendOpts) (common.Hash, error) {
	return f.SendWithdrawFunc(ctx, privateKey, bridgeAddr, token, recipient, amount, nonce, sourceChainID, signatures, opts)
}
func (f *fakeChain) WaitReceipt(ctx context.Context, txHash common.Hash, minConfirmations uint64, timeout time.Duration) (*chain.Receipt, error) {
	return f.WaitReceiptFunc(ctx, txHash, minConfirmations, timeout)
}

// fakeStore is a hand-rolled function-field mock of Store.
type fakeStore struct {
	UpsertPendingTransactionFunc func(ctx context.Context, tx relayerstore.BridgeTransaction) error
	GetBySourceTxHashFunc        func(ctx context.Context, sourceTxHash string) (*relayerstore.BridgeTransaction, error)
	TransitionStatusFunc         func(ctx context.Context, sourceTxHash string, expectedFrom, to relayerstore.Status, targetTxHash, errMsg string) error
	InsertSignatureFunc          func(ctx context.Context, sourceTxHash, validator, signature string) error

	transitions        []transitionCall
	insertedSignatures []string
}

type transitionCall struct {
	from, to relayerstore.Status
	errMsg   string
}

func (s *fakeStore) UpsertPendingTransaction(ctx context.Context, tx relayerstore.BridgeTransaction) error {
	if s.UpsertPendingTransactionFunc != nil {
		return s.UpsertPendingTransactionFunc(ctx, tx)
	}
	return nil
}

// GetBySourceTxHash defaults to a fresh pending row, the state HandleDeposit
// sees right after its own upsert on first delivery.
func (s *fakeStore) GetBySourceTxHash(ctx context.Context, sourceTxHash string) (*relayerstore.BridgeTransaction, error) {
	if s.GetBySourceTxHashFunc != nil {
		return s.GetBySourceTxHashFunc(ctx, sourceTxHash)
	}
	return &relayerstore.BridgeTransaction{SourceTxHash: sourceTxHash, Status: relayerstore.StatusPending}, nil
}

func (s *fakeStore) TransitionStatus(ctx context.Context, sourceTxHash string, expectedFrom, to relayerstore.Status, targetTxHash, errMsg string) error {
	s.transitions = append(s.transitions, transitionCall{from: expectedFrom, to: to, errMsg: errMsg})
	if s.TransitionStatusFunc != nil {
		return s.TransitionStatusFunc(ctx, sourceTxHash, expectedFrom, to, targetTxHash, errMsg)
	}
	return nil
}

func (s *fakeStore) InsertSignature(ctx context.Context, sourceTxHash, validator, signature string) error {
	s.insertedSignatures = append(s.insertedSignatures, signature)
	if s.InsertSignatureFunc != nil {
		return s.InsertSignatureFunc(ctx, sourceTxHash, validator, signature)
	}
	return nil
}

// InsertSignatureCalls returns every signature persisted through this fake.
func (s *fakeStore) InsertSignatureCalls() []string {
	return s.insertedSignatures
}
