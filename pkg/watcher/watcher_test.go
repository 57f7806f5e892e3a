package watcher

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	apperrors "github.com/bridgeworks/evm-bridge/pkg/app/errors"
	"github.com/bridgeworks/evm-bridge/pkg/bridgeabi"
	"github.com/bridgeworks/evm-bridge/pkg/chain"
)

func TestSortWindow_AscendingBlockThenLogIndex(t *testing.T) {
	records := []chain.LogRecord{
		{BlockNumber: 10, LogIndex: 2},
		{BlockNumber: 9, LogIndex: 5},
		{BlockNumber: 10, LogIndex: 0},
		{BlockNumber: 9, LogIndex: 1},
	}
	sortWindow(records)

	want := []struct{ block uint64; idx uint }{
		{9, 1}, {9, 5}, {10, 0}, {10, 2},
	}
	if len(records) != len(want) {
		t.Fatalf("expected %d records, got %d", len(want), len(records))
	}
	for i, w := range want {
		if records[i].BlockNumber != w.block || records[i].LogIndex != w.idx {
			t.Errorf("records[%d] = (block %d, idx %d), want (block %d, idx %d)",
				i, records[i].BlockNumber, records[i].LogIndex, w.block, w.idx)
		}
	}
}

func TestSortWindow_EmptyAndSingle(t *testing.T) {
	var empty []chain.LogRecord
	sortWindow(empty)
	if len(empty) != 0 {
		t.Fatal("expected empty slice to remain empty")
	}

	single := []chain.LogRecord{{BlockNumber: 1, LogIndex: 0}}
	sortWindow(single)
	if len(single) != 1 {
		t.Fatal("expected single-element slice to remain untouched")
	}
}

func newTestWatcher(t *testing.T, fc *fakeChain, cs *fakeCursorStore, handler Handler, cfg Config) *Watcher {
	t.Helper()
	return New(fc, cs.load, cs.advance, cfg, handler, zap.NewNop())
}

func TestLoadCursor_UsesStartBlockWhenNotFound(t *testing.T) {
	fc := &fakeChain{name: "test", chainID: big.NewInt(1)}
	cs := &fakeCursorStore{found: false}
	w := newTestWatcher(t, fc, cs, func(ctx context.Context, rec chain.LogRecord) error { return nil },
		Config{StartBlock: 42})

	if err := w.loadCursor(context.Background()); err != nil {
		t.Fatalf("loadCursor: %v", err)
	}
	if w.cursor != 42 {
		t.Errorf("cursor = %d, want 42 (StartBlock)", w.cursor)
	}
}

func TestLoadCursor_UsesPersistedValueWhenFound(t *testing.T) {
	fc := &fakeChain{name: "test", chainID: big.NewInt(1)}
	cs := &fakeCursorStore{found: true, lastBlock: 1000}
	w := newTestWatcher(t, fc, cs, func(ctx context.Context, rec chain.LogRecord) error { return nil },
		Config{StartBlock: 42})

	if err := w.loadCursor(context.Background()); err != nil {
		t.Fatalf("loadCursor: %v", err)
	}
	if w.cursor != 1000 {
		t.Errorf("cursor = %d, want 1000 (persisted)", w.cursor)
	}
}

func TestTick_SkipsWhenBehindConfirmations(t *testing.T) {
	fc := &fakeChain{
		name:    "test",
		chainID: big.NewInt(1),
		HeadFunc: func(ctx context.Context) (uint64, error) { return 100, nil },
		LogsFunc: func(ctx context.Context, contractAddr common.Address, eventName string, from, to uint64) ([]chain.LogRecord, error) {
			t.Fatal("Logs should not be called when safeHead <= cursor")
			return nil, nil
		},
	}
	cs := &fakeCursorStore{found: true, lastBlock: 95}
	w := newTestWatcher(t, fc, cs, func(ctx context.Context, rec chain.LogRecord) error { return nil },
		Config{MinConfirmations: 10, BatchSize: 50, EventNames: []string{"Deposit"}})
	w.cursor = 95

	if err := w.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if w.cursor != 95 {
		t.Errorf("cursor advanced to %d, want unchanged 95", w.cursor)
	}
}

func TestTick_DispatchesInOrderAndAdvancesCursor(t *testing.T) {
	dep := &bridgeabi.DepositEvent{Amount: big.NewInt(1), Nonce: big.NewInt(1), TargetChainID: big.NewInt(2)}
	var dispatchOrder []uint
	fc := &fakeChain{
		name:    "test",
		chainID: big.NewInt(1),
		HeadFunc: func(ctx context.Context) (uint64, error) { return 110, nil },
		BlockFunc: func(ctx context.Context, n uint64) (*chain.BlockInfo, error) {
			return &chain.BlockInfo{Number: n, Hash: common.HexToHash("0xaa")}, nil
		},
		LogsFunc: func(ctx context.Context, contractAddr common.Address, eventName string, from, to uint64) ([]chain.LogRecord, error) {
			return []chain.LogRecord{
				{BlockNumber: to, LogIndex: 3, Deposit: dep},
				{BlockNumber: from, LogIndex: 1, Deposit: dep},
			}, nil
		},
	}
	cs := &fakeCursorStore{found: true, lastBlock: 90}
	w := newTestWatcher(t, fc, cs,
		func(ctx context.Context, rec chain.LogRecord) error {
			dispatchOrder = append(dispatchOrder, rec.LogIndex)
			return nil
		},
		Config{MinConfirmations: 10, BatchSize: 5, EventNames: []string{"Deposit"}})
	w.cursor = 90

	if err := w.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(dispatchOrder) != 2 || dispatchOrder[0] != 1 || dispatchOrder[1] != 3 {
		t.Errorf("dispatch order = %v, want [1, 3]", dispatchOrder)
	}
	if len(cs.advanced) != 1 {
		t.Fatalf("expected cursor to advance once, got %d advances", len(cs.advanced))
	}
	if w.cursor != cs.advanced[0] {
		t.Errorf("watcher cursor %d does not match persisted advance %d", w.cursor, cs.advanced[0])
	}
}

func TestTick_TerminalHandlerErrorStillAdvancesCursor(t *testing.T) {
	dep := &bridgeabi.DepositEvent{Amount: big.NewInt(1), Nonce: big.NewInt(1), TargetChainID: big.NewInt(2)}
	fc := &fakeChain{
		name:    "test",
		chainID: big.NewInt(1),
		HeadFunc: func(ctx context.Context) (uint64, error) { return 110, nil },
		BlockFunc: func(ctx context.Context, n uint64) (*chain.BlockInfo, error) {
			return &chain.BlockInfo{Number: n}, nil
		},
		LogsFunc: func(ctx context.Context, contractAddr common.Address, eventName string, from, to uint64) ([]chain.LogRecord, error) {
			return []chain.LogRecord{{BlockNumber: from, LogIndex: 0, Deposit: dep}}, nil
		},
	}
	cs := &fakeCursorStore{found: true, lastBlock: 90}
	w := newTestWatcher(t, fc, cs,
		func(ctx context.Context, rec chain.LogRecord) error { return errTerminal },
		Config{MinConfirmations: 10, BatchSize: 5, EventNames: []string{"Deposit"}})
	w.cursor = 90

	if err := w.tick(context.Background()); err != nil {
		t.Fatalf("tick should swallow a terminal handler error, got: %v", err)
	}
	if len(cs.advanced) != 1 {
		t.Fatalf("expected window to still complete and the cursor to advance, got %d advances", len(cs.advanced))
	}
}

func TestTick_RetryableHandlerErrorAbortsWindow(t *testing.T) {
	dep := &bridgeabi.DepositEvent{Amount: big.NewInt(1), Nonce: big.NewInt(1), TargetChainID: big.NewInt(2)}
	cases := []struct {
		name string
		err  error
	}{
		{"taxonomy store failure", apperrors.StoreFailure("insert", nil)},
		{"raw transient rpc error", &chain.RPCError{Op: "fetch head", Err: errTerminal, Retryable: true}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fc := &fakeChain{
				name:     "test",
				chainID:  big.NewInt(1),
				HeadFunc: func(ctx context.Context) (uint64, error) { return 110, nil },
				BlockFunc: func(ctx context.Context, n uint64) (*chain.BlockInfo, error) {
					return &chain.BlockInfo{Number: n}, nil
				},
				LogsFunc: func(ctx context.Context, contractAddr common.Address, eventName string, from, to uint64) ([]chain.LogRecord, error) {
					return []chain.LogRecord{{BlockNumber: from, LogIndex: 0, Deposit: dep}}, nil
				},
			}
			cs := &fakeCursorStore{found: true, lastBlock: 90}
			w := newTestWatcher(t, fc, cs,
				func(ctx context.Context, rec chain.LogRecord) error { return tc.err },
				Config{MinConfirmations: 10, BatchSize: 5, EventNames: []string{"Deposit"}})
			w.cursor = 90

			if err := w.tick(context.Background()); err == nil {
				t.Fatal("expected a retryable handler error to surface from tick")
			}
			if len(cs.advanced) != 0 {
				t.Fatalf("cursor advanced %d time(s); a retryable dispatch failure must leave the window unpersisted", len(cs.advanced))
			}
			if w.cursor != 90 {
				t.Errorf("cursor moved to %d, want unchanged 90", w.cursor)
			}
		})
	}
}

type testErr string

func (e testErr) Error() string { return string(e) }

var errTerminal = testErr("terminal failure")
