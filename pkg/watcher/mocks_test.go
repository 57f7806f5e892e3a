package watcher

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/bridgeworks/evm-bridge/pkg/chain"
)

// fakeChain is a hand-rolled function-field mock of ChainReader, following
// the teacher's MockEthereumClient idiom (pkg/relayer/mocks_test.go).
type fakeChain struct {
	name    string
	chainID *big.Int

	HeadFunc  func(ctx context.Context) (uint64, error)
	BlockFunc func(ctx context.Context, n uint64) (*chain.BlockInfo, error)
	LogsFunc  func(ctx context.Context, contractAddr common.Address, eventName string, from, to uint64) ([]chain.LogRecord, error)
}

func (f *fakeChain) Name() string      { return f.name }
func (f *fakeChain) ChainID() *big.Int { return f.chainID }
func (f *fakeChain) Head(ctx context.Context) (uint64, error) {
	return f.HeadFunc(ctx)
}
func (f *fakeChain) Block(ctx context.Context, n uint64) (*chain.BlockInfo, error) {
	return f.BlockFunc(ctx, n)
}
func (f *fakeChain) Logs(ctx context.Context, contractAddr common.Address, eventName string, from, to uint64) ([]chain.LogRecord, error) {
	return f.LogsFunc(ctx, contractAddr, eventName, from, to)
}

type fakeCursorStore struct {
	found      bool
	lastBlock  uint64
	advanceErr error
	advanced   []uint64
}

func (s *fakeCursorStore) load(ctx context.Context, chainID uint64) (bool, uint64, error) {
	return s.found, s.lastBlock, nil
}

func (s *fakeCursorStore) advance(ctx context.Context, chainID uint64, chainName string, blockNumber uint64, blockHash string, eventsProcessed uint64) error {
	s.advanced = append(s.advanced, blockNumber)
	return s.advanceErr
}
