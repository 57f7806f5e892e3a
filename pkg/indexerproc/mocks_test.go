package indexerproc

import (
	"context"
	"math/big"

	"github.com/bridgeworks/evm-bridge/pkg/chain"
	"github.com/bridgeworks/evm-bridge/pkg/store/indexerstore"
)

// fakeChain is a hand-rolled function-field mock of ChainReader, following
// the teacher's MockEthereumClient idiom (pkg/relayer/mocks_test.go).
type fakeChain struct {
	name    string
	chainID *big.Int

	BlockFunc func(ctx context.Context, n uint64) (*chain.BlockInfo, error)
}

func (f *fakeChain) Name() string      { return f.name }
func (f *fakeChain) ChainID() *big.Int { return f.chainID }
func (f *fakeChain) Block(ctx context.Context, n uint64) (*chain.BlockInfo, error) {
	return f.BlockFunc(ctx, n)
}

type fakeStore struct {
	RecordDepositFunc  func(ctx context.Context, ev indexerstore.BridgeEvent) error
	RecordWithdrawFunc func(ctx context.Context, ev indexerstore.BridgeEvent, targetChainID uint64) error

	recordedDeposits  []indexerstore.BridgeEvent
	recordedWithdraws []indexerstore.BridgeEvent
}

func (s *fakeStore) RecordDeposit(ctx context.Context, ev indexerstore.BridgeEvent) error {
	s.recordedDeposits = append(s.recordedDeposits, ev)
	if s.RecordDepositFunc != nil {
		return s.RecordDepositFunc(ctx, ev)
	}
	return nil
}

func (s *fakeStore) RecordWithdraw(ctx context.Context, ev indexerstore.BridgeEvent, targetChainID uint64) error {
	s.recordedWithdraws = append(s.recordedWithdraws, ev)
	if s.RecordWithdrawFunc != nil {
		return s.RecordWithdrawFunc(ctx, ev, targetChainID)
	}
	return nil
}
