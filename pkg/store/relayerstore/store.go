// Package relayerstore is the Relayer's durable state: chain cursors,
// bridge transactions and validator signatures (spec §3, §4). It is grounded
// on the teacher's raw database/sql store, generalized from a single
// Canton<->EVM transfer table into the multi-chain BridgeTransaction shape
// this specification defines, with idempotent upserts keyed on natural keys
// instead of the teacher's plain inserts.
package relayerstore

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

// Status is a BridgeTransaction lifecycle state (spec §3 state machine).
type Status string

const (
	StatusPending   Status = "pending"
	StatusRelaying  Status = "relaying"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// BridgeTransaction mirrors the dao row but with Go-native numeric-text
// fields the Relayer Processor reads and writes directly.
type BridgeTransaction struct {
	ID           string
	SourceTxHash string
	TargetTxHash string
	SourceChain  string
	TargetChain  string
	Token        string
	Sender       string
	Recipient    string
	Amount       string
	Nonce        string
	BlockNumber  uint64
	Status       Status
	Error        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ChainCursor is the Relayer's per-chain scan position.
type ChainCursor struct {
	ChainID         uint64
	ChainName       string
	LastBlockNumber uint64
	LastBlockHash   string
	LastSyncedAt    time.Time
	TotalEvents     uint64
}

// Store wraps a *sql.DB with the Relayer's natural-key upserts. Hot-path
// reads/writes go through database/sql + lib/pq directly; schema changes are
// owned by pkg/migrations/relayerdb via bun.
type Store struct {
	db *sql.DB
}

// New opens a connection pool against cfg.
func New(cfg *config.DatabaseConfig) (*Store, error) {
	db, err := sql.Open("postgres", cfg.GetConnectionString())
	if err != nil {
		return nil, fmt.Errorf("relayerstore: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("relayerstore: ping: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// UpsertPendingTransaction inserts a new BridgeTransaction with status
// pending, keyed by sourceTxHash. It is a no-op when the row already exists
// (spec §4.4 step 3: upsert must not overwrite an existing row's status or
// targetTxHash).
func (s *Store) UpsertPendingTransaction(ctx context.Context, tx BridgeTransaction) error {
	now := time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bridge_transactions (
			id, source_tx_hash, source_chain, target_chain, token, sender,
			recipient, amount, nonce, block_number, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
		ON CONFLICT (source_tx_hash) DO NOTHING
	`, uuid.NewString(), tx.SourceTxHash, tx.SourceChain, tx.TargetChain, tx.Token,
		tx.Sender, tx.Recipient, tx.Amount, tx.Nonce, tx.BlockNumber, StatusPending, now)
	if err != nil {
		return apperrors.StoreFailure("upsert pending bridge transaction", err)
	}
	return nil
}

// GetBySourceTxHash fetches a BridgeTransaction by its natural key.
func (s *Store) GetBySourceTxHash(ctx context.Context, sourceTxHash string) (*BridgeTransaction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, source_tx_hash, target_tx_hash, source_chain, target_chain,
			token, sender, recipient, amount, nonce, block_number, status, error,
			created_at, updated_at
		FROM bridge_transactions WHERE source_tx_hash = $1
	`, sourceTxHash)
	return scanBridgeTransaction(row)
}

// TransitionStatus moves a BridgeTransaction from expectedFrom to to,
// optionally setting targetTxHash and/or an error message. It is a
// conditional update so a retried transition from a stale in-memory copy
// cannot clobber a newer status (linearizable per spec §5).
func (s *Store) TransitionStatus(ctx context.Context, sourceTxHash string, expectedFrom, to Status, targetTxHash, errMsg string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE bridge_transactions
		SET status = $1,
			target_tx_hash = CASE WHEN $2 <> '' THEN $2 ELSE target_tx_hash END,
			error = $3,
			updated_at = $4
		WHERE source_tx_hash = $5 AND status = $6
	`, to, targetTxHash, errMsg, time.Now(), sourceTxHash, expectedFrom)
	if err != nil {
		return apperrors.StoreFailure("transition bridge transaction status", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperrors.StoreFailure("read rows affected", err)
	}
	if n == 0 {
		return apperrors.StoreFailure(fmt.Sprintf("no bridge transaction %s in state %s", sourceTxHash, expectedFrom), nil)
	}
	return nil
}

// ListPending returns BridgeTransactions not yet in a terminal state,
// ordered by creation so retries process oldest-first.
func (s *Store) ListPending(ctx context.Context, limit int) ([]*BridgeTransaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_tx_hash, target_tx_hash, source_chain, target_chain,
			token, sender, recipient, amount, nonce, block_number, status, error,
			created_at, updated_at
		FROM bridge_transactions
		WHERE status IN ('pending', 'relaying')
		ORDER BY created_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, apperrors.StoreFailure("list pending bridge transactions", err)
	}
	defer rows.Close()

	var out []*BridgeTransaction
	for rows.Next() {
		t, err := scanBridgeTransactionRows(rows)
		if err != nil {
			return nil, apperrors.StoreFailure("scan bridge transaction", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// InsertSignature records a validator signature for sourceTxHash. Idempotent
// on the (sourceTxHash, validator) natural key.
func (s *Store) InsertSignature(ctx context.Context, sourceTxHash, validator, signature string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO validator_signatures (id, source_tx_hash, validator, signature, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT DO NOTHING
	`, uuid.NewString(), sourceTxHash, validator, signature, time.Now())
	if err != nil {
		return apperrors.StoreFailure("insert validator signature", err)
	}
	return nil
}

// ValidatorSignature is one signature a Relayer instance produced for a
// source transaction (spec §3), surfaced read-only via the Query Surface
// (spec §13) for pickup by an out-of-band withdrawal-claiming UI.
type ValidatorSignature struct {
	ID           string
	SourceTxHash string
	Validator    string
	Signature    string
	CreatedAt    time.Time
}

// SignaturesBySourceTxHash returns every validator signature recorded for
// sourceTxHash (spec §13 SignaturesByTxHash).
func (s *Store) SignaturesBySourceTxHash(ctx context.Context, sourceTxHash string) ([]*ValidatorSignature, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_tx_hash, validator, signature, created_at
		FROM validator_signatures WHERE source_tx_hash = $1 ORDER BY created_at ASC
	`, sourceTxHash)
	if err != nil {
		return nil, apperrors.StoreFailure("query signatures by source tx hash", err)
	}
	defer rows.Close()

	var out []*ValidatorSignature
	for rows.Next() {
		var sig ValidatorSignature
		if err := rows.Scan(&sig.ID, &sig.SourceTxHash, &sig.Validator, &sig.Signature, &sig.CreatedAt); err != nil {
			return nil, apperrors.StoreFailure("scan validator signature", err)
		}
		out = append(out, &sig)
	}
	return out, rows.Err()
}

// Transactions returns the most recent BridgeTransactions, newest first,
// optionally filtered by status (spec §13 Transfers, adapted to the
// Relayer's own BridgeTransaction shape per §9's store-separation note).
func (s *Store) Transactions(ctx context.Context, status Status, limit int) ([]*BridgeTransaction, error) {
	var rows *sql.Rows
	var err error
	if status != "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, source_tx_hash, target_tx_hash, source_chain, target_chain,
				token, sender, recipient, amount, nonce, block_number, status, error,
				created_at, updated_at
			FROM bridge_transactions WHERE status = $1 ORDER BY created_at DESC LIMIT $2
		`, status, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, source_tx_hash, target_tx_hash, source_chain, target_chain,
				token, sender, recipient, amount, nonce, block_number, status, error,
				created_at, updated_at
			FROM bridge_transactions ORDER BY created_at DESC LIMIT $1
		`, limit)
	}
	if err != nil {
		return nil, apperrors.StoreFailure("query bridge transactions", err)
	}
	defer rows.Close()

	var out []*BridgeTransaction
	for rows.Next() {
		t, err := scanBridgeTransactionRows(rows)
		if err != nil {
			return nil, apperrors.StoreFailure("scan bridge transaction", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// TransactionsByAddress returns BridgeTransactions where address is the
// sender or recipient, newest first.
func (s *Store) TransactionsByAddress(ctx context.Context, address string, limit int) ([]*BridgeTransaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_tx_hash, target_tx_hash, source_chain, target_chain,
			token, sender, recipient, amount, nonce, block_number, status, error,
			created_at, updated_at
		FROM bridge_transactions WHERE LOWER(sender) = LOWER($1) OR LOWER(recipient) = LOWER($1)
		ORDER BY created_at DESC LIMIT $2
	`, address, limit)
	if err != nil {
		return nil, apperrors.StoreFailure("query bridge transactions by address", err)
	}
	defer rows.Close()

	var out []*BridgeTransaction
	for rows.Next() {
		t, err := scanBridgeTransactionRows(rows)
		if err != nil {
			return nil, apperrors.StoreFailure("scan bridge transaction", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
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

// LoadCursor returns the persisted cursor for chainID, or nil if the chain
// has never been scanned.
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

// AdvanceCursor durably advances chainID's cursor to blockNumber, adding
// eventsProcessed to the running total (spec §4.2 step 5).
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBridgeTransaction(row *sql.Row) (*BridgeTransaction, error) {
	t, err := scanBridgeTransactionRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.StoreFailure("scan bridge transaction", err)
	}
	return t, nil
}

func scanBridgeTransactionRow(r rowScanner) (*BridgeTransaction, error) {
	var t BridgeTransaction
	var targetTxHash, errMsg sql.NullString
	var status string
	if err := r.Scan(&t.ID, &t.SourceTxHash, &targetTxHash, &t.SourceChain, &t.TargetChain,
		&t.Token, &t.Sender, &t.Recipient, &t.Amount, &t.Nonce, &t.BlockNumber, &status, &errMsg,
		&t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.TargetTxHash = targetTxHash.String
	t.Error = errMsg.String
	t.Status = Status(status)
	return &t, nil
}

func scanBridgeTransactionRows(rows *sql.Rows) (*BridgeTransaction, error) {
	return scanBridgeTransactionRow(rows)
}
