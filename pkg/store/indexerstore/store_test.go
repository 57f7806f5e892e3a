package indexerstore

import (
	"context"
	"testing"
	"time"

	"github.com/uptrace/bun/migrate"

	"github.com/bridgeworks/evm-bridge/pkg/migrations/indexerdb"
	"github.com/bridgeworks/evm-bridge/pkg/pgutil"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	bunDB, cfg, cleanup := pgutil.SetupTestDBWithConfig(t)
	t.Cleanup(cleanup)

	migrator := migrate.NewMigrator(bunDB, indexerdb.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator.Init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrator.Migrate: %v", err)
	}

	store, err := New(cfg)
	if err != nil {
		t.Fatalf("indexerstore.New: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func depositEvent(txHash string, nonce string) BridgeEvent {
	return BridgeEvent{
		TxHash:        txHash,
		LogIndex:      0,
		EventType:     EventDeposit,
		ChainID:       1,
		BlockNumber:   94,
		BlockHash:     "0xblock",
		Timestamp:     time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Token:         "0x0000000000000000000000000000000000000000",
		Sender:        "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
		Recipient:     "0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359",
		Amount:        "1000000000000000000",
		Nonce:         nonce,
		TargetChainID: 137,
	}
}

func withdrawEvent(txHash string, nonce string) BridgeEvent {
	return BridgeEvent{
		TxHash:        txHash,
		LogIndex:      0,
		EventType:     EventWithdraw,
		ChainID:       137,
		BlockNumber:   4021,
		BlockHash:     "0xblockw",
		Timestamp:     time.Date(2025, 6, 1, 12, 5, 0, 0, time.UTC),
		Token:         "0x0000000000000000000000000000000000000000",
		Recipient:     "0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359",
		Amount:        "1000000000000000000",
		Nonce:         nonce,
		SourceChainID: 1,
	}
}

func TestRecordDeposit_DedupAndSingleTransfer(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	ev := depositEvent("0xdep1", "0")
	if err := store.RecordDeposit(ctx, ev); err != nil {
		t.Fatalf("first record: %v", err)
	}
	// Reorg re-query delivers the same log again.
	if err := store.RecordDeposit(ctx, ev); err != nil {
		t.Fatalf("duplicate record: %v", err)
	}

	events, err := store.EventsByChain(ctx, 1, 50)
	if err != nil {
		t.Fatalf("EventsByChain: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("expected one deduplicated event, got %d", len(events))
	}

	transfer, err := store.TransferByDepositTxHash(ctx, ev.TxHash)
	if err != nil {
		t.Fatalf("TransferByDepositTxHash: %v", err)
	}
	if transfer == nil {
		t.Fatal("expected a transfer")
	}
	if transfer.Status != TransferPending {
		t.Errorf("expected pending, got %s", transfer.Status)
	}
	if transfer.WithdrawTxHash != "" {
		t.Errorf("expected no withdraw hash yet, got %q", transfer.WithdrawTxHash)
	}
}

func TestRecordWithdraw_CompletesExistingTransfer(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	if err := store.RecordDeposit(ctx, depositEvent("0xdep2", "7")); err != nil {
		t.Fatalf("record deposit: %v", err)
	}
	if err := store.RecordWithdraw(ctx, withdrawEvent("0xwd2", "7"), 137); err != nil {
		t.Fatalf("record withdraw: %v", err)
	}

	transfer, err := store.TransferByDepositTxHash(ctx, "0xdep2")
	if err != nil {
		t.Fatalf("TransferByDepositTxHash: %v", err)
	}
	if transfer.Status != TransferCompleted {
		t.Errorf("expected completed, got %s", transfer.Status)
	}
	if transfer.WithdrawTxHash != "0xwd2" {
		t.Errorf("expected withdraw hash, got %q", transfer.WithdrawTxHash)
	}
	if transfer.WithdrawTime == nil {
		t.Error("expected withdraw time to be set")
	}
	if transfer.WithdrawBlock != 4021 {
		t.Errorf("expected withdraw block 4021, got %d", transfer.WithdrawBlock)
	}
}

func TestRecordWithdraw_BeforeDepositIsMatchedRetroactively(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	// The withdraw lands first: no Transfer exists yet, only the raw event.
	if err := store.RecordWithdraw(ctx, withdrawEvent("0xwd3", "9"), 137); err != nil {
		t.Fatalf("record withdraw: %v", err)
	}
	if transfer, err := store.TransferByDepositTxHash(ctx, "0xdep3"); err != nil || transfer != nil {
		t.Fatalf("expected no transfer before the deposit arrives, got %v, %v", transfer, err)
	}
	events, err := store.EventsByChain(ctx, 137, 50)
	if err != nil || len(events) != 1 {
		t.Fatalf("expected the raw withdraw event to be stored, got %d events, %v", len(events), err)
	}

	// The deposit arrives later and must pick up the prior withdraw.
	if err := store.RecordDeposit(ctx, depositEvent("0xdep3", "9")); err != nil {
		t.Fatalf("record deposit: %v", err)
	}
	transfer, err := store.TransferByDepositTxHash(ctx, "0xdep3")
	if err != nil {
		t.Fatalf("TransferByDepositTxHash: %v", err)
	}
	if transfer == nil {
		t.Fatal("expected a transfer")
	}
	if transfer.Status != TransferCompleted {
		t.Errorf("expected completed via reverse match, got %s", transfer.Status)
	}
	if transfer.WithdrawTxHash != "0xwd3" {
		t.Errorf("expected the prior withdraw hash, got %q", transfer.WithdrawTxHash)
	}
}

func TestTransfers_StatusFilterAndPending(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	if err := store.RecordDeposit(ctx, depositEvent("0xdep4", "1")); err != nil {
		t.Fatalf("record deposit: %v", err)
	}
	if err := store.RecordDeposit(ctx, depositEvent("0xdep5", "2")); err != nil {
		t.Fatalf("record deposit: %v", err)
	}
	if err := store.RecordWithdraw(ctx, withdrawEvent("0xwd5", "2"), 137); err != nil {
		t.Fatalf("record withdraw: %v", err)
	}

	completed := TransferCompleted
	got, err := store.Transfers(ctx, &completed, 50)
	if err != nil {
		t.Fatalf("Transfers(completed): %v", err)
	}
	if len(got) != 1 || got[0].DepositTxHash != "0xdep5" {
		t.Errorf("expected exactly the completed transfer, got %v", got)
	}

	pending, err := store.PendingTransfers(ctx, 50)
	if err != nil {
		t.Fatalf("PendingTransfers: %v", err)
	}
	if len(pending) != 1 || pending[0].DepositTxHash != "0xdep4" {
		t.Errorf("expected exactly the pending transfer, got %v", pending)
	}

	all, err := store.Transfers(ctx, nil, 50)
	if err != nil {
		t.Fatalf("Transfers(all): %v", err)
	}
	if len(all) != 2 {
		t.Errorf("expected both transfers, got %d", len(all))
	}
}

func TestEventsByAddress_MatchesSenderAndRecipient(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	ev := depositEvent("0xdep6", "3")
	if err := store.RecordDeposit(ctx, ev); err != nil {
		t.Fatalf("record deposit: %v", err)
	}

	bySender, err := store.EventsByAddress(ctx, "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed", 50)
	if err != nil {
		t.Fatalf("EventsByAddress(sender): %v", err)
	}
	if len(bySender) != 1 {
		t.Errorf("expected a lowercased sender query to match, got %d", len(bySender))
	}

	byRecipient, err := store.EventsByAddress(ctx, "0xfb6916095ca1df60bb79ce92ce3ea74c37c5d359", 50)
	if err != nil {
		t.Fatalf("EventsByAddress(recipient): %v", err)
	}
	if len(byRecipient) != 1 {
		t.Errorf("expected a lowercased recipient query to match, got %d", len(byRecipient))
	}
}
