// Package indexerstore is the Indexer's durable state: raw bridge events,
// correlated transfers, and per-chain cursors (spec §3, §4.5). Dedup and
// correlation writes happen inside one transaction, grounded on the
// teacher's storeBridgeEvent pattern (begin, check-exists, insert,
// side-effect update, commit) generalized to the Deposit/Withdraw
// correlation this specification defines in place of the teacher's balance
// bookkeeping.
package indexerstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	apperrors "github.com/bridgeworks/evm-bridge/pkg/app/errors"
	"github.com/bridgeworks/evm-bridge/pkg/config"
)

// TransferStatus is a Transfer's lifecycle state (spec §3).
type TransferStatus string

const (
	TransferPending   TransferStatus = "pending"
	TransferCompleted TransferStatus = "completed"
	TransferFailed    TransferStatus = "failed"
)

// EventType distinguishes a BridgeEvent's origin log.
type EventType string

const (
	EventDeposit  EventType = "Deposit"
	EventWithdraw EventType = "Withdraw"
)

// BridgeEvent is one raw, deduplicated log row (spec §3).
type BridgeEvent struct {
	ID            string
	TxHash        string
	LogIndex      uint
	EventType     EventType
	ChainID       uint64
	BlockNumber   uint64
	BlockHash     string
	Timestamp     time.Time
	Token         string
	Sender        string
	Recipient     string
	Amount        string
	Nonce         string
	SourceChainID uint64
	TargetChainID uint64
}

// Transfer is the correlated deposit/withdraw pair (spec §3).
type Transfer struct {
	ID             string
	DepositTxHash  string
	WithdrawTxHash string
	SourceChainID  uint64
	TargetChainID  uint64
	Token          string
	Sender         string
	Recipient      string
	Amount         string
	Nonce          string
	DepositBlock   uint64
	WithdrawBlock  uint64
	DepositTime    time.Time
	WithdrawTime   *time.Time
	Status         TransferStatus
}

// ChainCursor is the Indexer's per-chain scan position.
type ChainCursor struct {
	ChainID         uint64
	ChainName       string
	LastBlockNumber uint64
	LastBlockHash   string
	LastSyncedAt    time.Time
	TotalEvents     uint64
}

// Store wraps a *sql.DB with the Indexer's transactional correlation writes.
type Store struct {
	db *sql.DB
}

// New opens a connection pool against cfg.
func New(cfg *config.DatabaseConfig) (*Store, error) {
	db, err := sql.Open("postgres", cfg.GetConnectionString())
	if err != nil {
		return nil, fmt.Errorf("indexerstore: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("indexerstore: ping: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordDeposit inserts the raw Deposit event (deduped on (txHash,
// logIndex)) and upserts the matching Transfer row in one transaction (spec
// §4.5).
func (s *Store) RecordDeposit(ctx context.Context, ev BridgeEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.StoreFailure("begin deposit transaction", err)
	}
	defer tx.Rollback()

	inserted, err := insertEventIfAbsent(ctx, tx, ev)
	if err != nil {
		return apperrors.StoreFailure("insert deposit event", err)
	}
	if !inserted {
		return nil
	}

	// Reverse match: a Withdraw for this (nonce, sourceChainId) may
	// already have been observed and recorded
	// un-correlated if it arrived on the target chain before this Deposit
	// arrived on the source chain (spec §4.5, §5).
	var priorWithdrawTxHash sql.NullString
	var priorWithdrawBlock sql.NullInt64
	var priorWithdrawTimestamp sql.NullTime
	err = tx.QueryRowContext(ctx, `
		SELECT tx_hash, block_number, timestamp FROM bridge_events
		WHERE event_type = $1 AND nonce = $2 AND source_chain_id = $3
		ORDER BY block_number ASC LIMIT 1
	`, EventWithdraw, ev.Nonce, ev.ChainID).Scan(&priorWithdrawTxHash, &priorWithdrawBlock, &priorWithdrawTimestamp)
	if err != nil && err != sql.ErrNoRows {
		return apperrors.StoreFailure("reverse-match prior withdraw", err)
	}

	status := TransferPending
	withdrawTxHash := ""
	var withdrawBlock int64
	var withdrawTime sql.NullTime
	if priorWithdrawTxHash.Valid {
		status = TransferCompleted
		withdrawTxHash = priorWithdrawTxHash.String
		withdrawBlock = priorWithdrawBlock.Int64
		withdrawTime = priorWithdrawTimestamp
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO transfers (
			id, deposit_tx_hash, withdraw_tx_hash, source_chain_id, target_chain_id,
			token, sender, recipient, amount, nonce, deposit_block, withdraw_block,
			deposit_time, withdraw_time, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (deposit_tx_hash) DO NOTHING
	`, uuid.NewString(), ev.TxHash, nullIfEmpty(withdrawTxHash), ev.ChainID, ev.TargetChainID,
		ev.Token, ev.Sender, ev.Recipient, ev.Amount, ev.Nonce, ev.BlockNumber, nullIfZero64(withdrawBlock),
		ev.Timestamp, withdrawTime, status)
	if err != nil {
		return apperrors.StoreFailure("upsert transfer on deposit", err)
	}

	return tx.Commit()
}

// RecordWithdraw inserts the raw Withdraw event (deduped) and, if a matching
// deposit-side Transfer already exists by (nonce, sourceChainId,
// targetChainId), marks it completed. If no matching Transfer exists yet
// (the Withdraw arrived first), the event is still recorded so a
// later-arriving Deposit can complete the match (spec §4.5, §5: the Indexer
// must tolerate a Withdraw arriving before its Deposit).
func (s *Store) RecordWithdraw(ctx context.Context, ev BridgeEvent, targetChainID uint64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.StoreFailure("begin withdraw transaction", err)
	}
	defer tx.Rollback()

	inserted, err := insertEventIfAbsent(ctx, tx, ev)
	if err != nil {
		return apperrors.StoreFailure("insert withdraw event", err)
	}
	if !inserted {
		return nil
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE transfers
		SET withdraw_tx_hash = $1, withdraw_block = $2, withdraw_time = $3, status = $4
		WHERE nonce = $5 AND source_chain_id = $6 AND target_chain_id = $7 AND status = $8
	`, ev.TxHash, ev.BlockNumber, ev.Timestamp, TransferCompleted,
		ev.Nonce, ev.SourceChainID, targetChainID, TransferPending)
	if err != nil {
		return apperrors.StoreFailure("match withdraw to transfer", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Deposit not yet observed; the event is recorded above and will be
		// matched retroactively once RecordDeposit runs for this nonce.
	}

	return tx.Commit()
}

func insertEventIfAbsent(ctx context.Context, tx *sql.Tx, ev BridgeEvent) (bool, error) {
	var exists bool
	if err := tx.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM bridge_events WHERE tx_hash = $1 AND log_index = $2)
	`, ev.TxHash, ev.LogIndex).Scan(&exists); err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO bridge_events (
			id, tx_hash, log_index, event_type, chain_id, block_number, block_hash,
			timestamp, token, sender, recipient, amount, nonce, source_chain_id, target_chain_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, uuid.NewString(), ev.TxHash, ev.LogIndex, ev.EventType, ev.ChainID, ev.BlockNumber,
		ev.BlockHash, ev.Timestamp, ev.Token, nullIfEmpty(ev.Sender), ev.Recipient,
		ev.Amount, ev.Nonce, nullIfZero(ev.SourceChainID), nullIfZero(ev.TargetChainID))
	if err != nil {
		return false, err
	}
	return true, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullIfZero(n uint64) any {
	if n == 0 {
		return nil
	}
	return n
}

func nullIfZero64(n int64) any {
	if n == 0 {
		return nil
	}
	return n
}

// EventsByChain returns the most recent events observed on chainID, newest
// first, bounded by limit.
func (s *Store) EventsByChain(ctx context.Context, chainID uint64, limit int) ([]*BridgeEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tx_hash, log_index, event_type, chain_id, block_number, block_hash,
			timestamp, token, COALESCE(sender, ''), recipient, amount, nonce,
			COALESCE(source_chain_id, 0), COALESCE(target_chain_id, 0)
		FROM bridge_events WHERE chain_id = $1 ORDER BY block_number DESC, log_index DESC LIMIT $2
	`, chainID, limit)
	if err != nil {
		return nil, apperrors.StoreFailure("query events by chain", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// EventsByAddress returns events where address appears as sender or
// recipient, newest first.
func (s *Store) EventsByAddress(ctx context.Context, address string, limit int) ([]*BridgeEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tx_hash, log_index, event_type, chain_id, block_number, block_hash,
			timestamp, token, COALESCE(sender, ''), recipient, amount, nonce,
			COALESCE(source_chain_id, 0), COALESCE(target_chain_id, 0)
		FROM bridge_events WHERE LOWER(sender) = LOWER($1) OR LOWER(recipient) = LOWER($1)
		ORDER BY block_number DESC, log_index DESC LIMIT $2
	`, address, limit)
	if err != nil {
		return nil, apperrors.StoreFailure("query events by address", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// RecentEvents returns the most recently observed events across all chains.
func (s *Store) RecentEvents(ctx context.Context, limit int) ([]*BridgeEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tx_hash, log_index, event_type, chain_id, block_number, block_hash,
			timestamp, token, COALESCE(sender, ''), recipient, amount, nonce,
			COALESCE(source_chain_id, 0), COALESCE(target_chain_id, 0)
		FROM bridge_events ORDER BY block_number DESC, log_index DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, apperrors.StoreFailure("query recent events", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]*BridgeEvent, error) {
	var out []*BridgeEvent
	for rows.Next() {
		var ev BridgeEvent
		var eventType string
		if err := rows.Scan(&ev.ID, &ev.TxHash, &ev.LogIndex, &eventType, &ev.ChainID,
			&ev.BlockNumber, &ev.BlockHash, &ev.Timestamp, &ev.Token, &ev.Sender,
			&ev.Recipient, &ev.Amount, &ev.Nonce, &ev.SourceChainID, &ev.TargetChainID); err != nil {
			return nil, apperrors.StoreFailure("scan bridge event", err)
		}
		ev.EventType = EventType(eventType)
		out = append(out, &ev)
	}
	return out, rows.Err()
}

// Transfers returns the most recent transfers, newest first, optionally
// filtered to a single status (spec §13 Transfers).
func (s *Store) Transfers(ctx context.Context, status *TransferStatus, limit int) ([]*Transfer, error) {
	var rows *sql.Rows
	var err error
	if status != nil {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, deposit_tx_hash, COALESCE(withdraw_tx_hash, ''), source_chain_id,
				target_chain_id, token, sender, recipient, amount, nonce, deposit_block,
				COALESCE(withdraw_block, 0), deposit_time, withdraw_time, status
			FROM transfers WHERE status = $1 ORDER BY deposit_time DESC LIMIT $2
		`, *status, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, deposit_tx_hash, COALESCE(withdraw_tx_hash, ''), source_chain_id,
				target_chain_id, token, sender, recipient, amount, nonce, deposit_block,
				COALESCE(withdraw_block, 0), deposit_time, withdraw_time, status
			FROM transfers ORDER BY deposit_time DESC LIMIT $1
		`, limit)
	}
	if err != nil {
		return nil, apperrors.StoreFailure("query transfers", err)
	}
	defer rows.Close()
	return scanTransfers(rows)
}

// PendingTransfers returns transfers not yet in a terminal state.
func (s *Store) PendingTransfers(ctx context.Context, limit int) ([]*Transfer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, deposit_tx_hash, COALESCE(withdraw_tx_hash, ''), source_chain_id,
			target_chain_id, token, sender, recipient, amount, nonce, deposit_block,
			COALESCE(withdraw_block, 0), deposit_time, withdraw_time, status
		FROM transfers WHERE status = $1 ORDER BY deposit_time ASC LIMIT $2
	`, TransferPending, limit)
	if err != nil {
		return nil, apperrors.StoreFailure("query pending transfers", err)
	}
	defer rows.Close()
	return scanTransfers(rows)
}

// TransfersByAddress returns transfers where address is the sender or
// recipient, newest first.
func (s *Store) TransfersByAddress(ctx context.Context, address string, limit int) ([]*Transfer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, deposit_tx_hash, COALESCE(withdraw_tx_hash, ''), source_chain_id,
			target_chain_id, token, sender, recipient, amount, nonce, deposit_block,
			COALESCE(withdraw_block, 0), deposit_time, withdraw_time, status
		FROM transfers WHERE LOWER(sender) = LOWER($1) OR LOWER(recipient) = LOWER($1)
		ORDER BY deposit_time DESC LIMIT $2
	`, address, limit)
	if err != nil {
		return nil, apperrors.StoreFailure("query transfers by address", err)
	}
	defer rows.Close()
	return scanTransfers(rows)
}

// TransferByDepositTxHash fetches a Transfer by its natural key.
func (s *Store) TransferByDepositTxHash(ctx context.Context, depositTxHash string) (*Transfer, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, deposit_tx_hash, COALESCE(withdraw_tx_hash, ''), source_chain_id,
			target_chain_id, token, sender, recipient, amount, nonce, deposit_block,
			COALESCE(withdraw_block, 0), deposit_time, withdraw_time, status
		FROM transfers WHERE deposit_tx_hash = $1
	`, depositTxHash)
	t, err := scanTransfer(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.StoreFailure("query transfer by deposit tx hash", err)
	}
	return t, nil
}

type transferScanner interface {
	Scan(dest ...any) error
}

func scanTransfer(r transferScanner) (*Transfer, error) {
	var t Transfer
	var withdrawTxHash, status string
	if err := r.Scan(&t.ID, &t.DepositTxHash, &withdrawTxHash, &t.SourceChainID, &t.TargetChainID,
		&t.Token, &t.Sender, &t.Recipient, &t.Amount, &t.Nonce, &t.DepositBlock, &t.WithdrawBlock,
		&t.DepositTime, &t.WithdrawTime, &status); err != nil {
		return nil, err
	}
	t.WithdrawTxHash = withdrawTxHash
	t.Status = TransferStatus(status)
	return &t, nil
}

func scanTransfers(rows *sql.Rows) ([]*Transfer, error) {
	var out []*Transfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, apperrors.StoreFailure("scan transfer", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// LoadCursor returns the persisted cursor for chainID, or nil if unset.
func (s *Store) LoadCursor(ctx context.Context, chainID uint64) (*ChainCursor, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT chain_id, chain_name, last_block_number, last_block_hash, last_synced_at, total_events
		FROM chain_cursors WHERE chain_id = $1
	`, chainID)
	var c ChainCursor
	var lastHash sql.NullString
	if err := row.Scan(&c.ChainID, &c.ChainName, &c.LastBlockNumber, &lastHash, &c.LastSyncedAt, &c.TotalEvents); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, apperrors.StoreFailure("load chain cursor", err)
	}
	c.LastBlockHash = lastHash.String
	return &c, nil
}

// WatcherLoadCursor adapts LoadCursor to the shape pkg/watcher.LoadCursorFunc
// expects.
func (s *Store) WatcherLoadCursor(ctx context.Context, chainID uint64) (bool, uint64, error) {
	c, err := s.LoadCursor(ctx, chainID)
	if err != nil {
		return false, 0, err
	}
	if c == nil {
		return false, 0, nil
	}
	return true, c.LastBlockNumber, nil
}

// AdvanceCursor durably advances chainID's cursor (spec §4.2 step 5).
func (s *Store) AdvanceCursor(ctx context.Context, chainID uint64, chainName string, blockNumber uint64, blockHash string, eventsProcessed uint64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chain_cursors (chain_id, chain_name, last_block_number, last_block_hash, last_synced_at, total_events)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (chain_id) DO UPDATE SET
			last_block_number = EXCLUDED.last_block_number,
			last_block_hash = EXCLUDED.last_block_hash,
			last_synced_at = EXCLUDED.last_synced_at,
			total_events = chain_cursors.total_events + EXCLUDED.total_events
	`, chainID, chainName, blockNumber, blockHash, time.Now(), eventsProcessed)
	if err != nil {
		return apperrors.StoreFailure("advance chain cursor", err)
	}
	return nil
}

// SyncStatus reports every chain's cursor, for the Query Surface (spec §13).
func (s *Store) SyncStatus(ctx context.Context) ([]*ChainCursor, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT chain_id, chain_name, last_block_number, last_block_hash, last_synced_at, total_events
		FROM chain_cursors ORDER BY chain_id ASC
	`)
	if err != nil {
		return nil, apperrors.StoreFailure("query sync status", err)
	}
	defer rows.Close()

	var out []*ChainCursor
	for rows.Next() {
		var c ChainCursor
		var lastHash sql.NullString
		if err := rows.Scan(&c.ChainID, &c.ChainName, &c.LastBlockNumber, &lastHash, &c.LastSyncedAt, &c.TotalEvents); err != nil {
			return nil, apperrors.StoreFailure("scan chain cursor", err)
		}
		c.LastBlockHash = lastHash.String
		out = append(out, &c)
	}
	return out, rows.Err()
}
