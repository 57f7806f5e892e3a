// Package dao defines the bun-tagged row shapes shared by migrations and the
// Store packages (spec §3). Amounts are stored as decimal text, never as a
// numeric column, since bridge amounts are unbounded integers.
package dao

import (
	"time"

	"github.com/uptrace/bun"
)

// ChainCursor tracks how far a Chain Watcher has durably advanced on one
// chain. Owned by both relayerdb and indexerdb; each service keeps its own
// copy since Relayer and Indexer scan independently.
type ChainCursor struct {
	bun.BaseModel `bun:"table:chain_cursors"`

	ChainID         uint64    `bun:"chain_id,pk"`
	ChainName       string    `bun:"chain_name,notnull"`
	LastBlockNumber uint64    `bun:"last_block_number,notnull"`
	LastBlockHash   string    `bun:"last_block_hash"`
	LastSyncedAt    time.Time `bun:"last_synced_at,notnull"`
	TotalEvents     uint64    `bun:"total_events,notnull,default:0"`
}

// BridgeTransaction is the Relayer's record of a single deposit-to-withdrawal
// lifecycle (spec §3).
type BridgeTransaction struct {
	bun.BaseModel `bun:"table:bridge_transactions"`

	ID           string    `bun:"id,pk"`
	SourceTxHash string    `bun:"source_tx_hash,notnull,unique"`
	TargetTxHash string    `bun:"target_tx_hash"`
	SourceChain  string    `bun:"source_chain,notnull"`
	TargetChain  string    `bun:"target_chain,notnull"`
	Token        string    `bun:"token,notnull"`
	Sender       string    `bun:"sender,notnull"`
	Recipient    string    `bun:"recipient,notnull"`
	Amount       string    `bun:"amount,notnull"`
	Nonce        string    `bun:"nonce,notnull"`
	BlockNumber  uint64    `bun:"block_number,notnull"`
	Status       string    `bun:"status,notnull"`
	Error        string    `bun:"error"`
	CreatedAt    time.Time `bun:"created_at,notnull"`
	UpdatedAt    time.Time `bun:"updated_at,notnull"`
}

// ValidatorSignature records the signature this Relayer instance produced
// for a given source transaction (spec §3).
type ValidatorSignature struct {
	bun.BaseModel `bun:"table:validator_signatures"`

	ID           string    `bun:"id,pk"`
	SourceTxHash string    `bun:"source_tx_hash,notnull"`
	Validator    string    `bun:"validator,notnull"`
	Signature    string    `bun:"signature,notnull"`
	CreatedAt    time.Time `bun:"created_at,notnull"`
}

// BridgeEvent is one raw, deduplicated Deposit or Withdraw log observed by
// the Indexer (spec §3).
type BridgeEvent struct {
	bun.BaseModel `bun:"table:bridge_events"`

	ID            string    `bun:"id,pk"`
	TxHash        string    `bun:"tx_hash,notnull"`
	LogIndex      uint      `bun:"log_index,notnull"`
	EventType     string    `bun:"event_type,notnull"`
	ChainID       uint64    `bun:"chain_id,notnull"`
	BlockNumber   uint64    `bun:"block_number,notnull"`
	BlockHash     string    `bun:"block_hash,notnull"`
	Timestamp     time.Time `bun:"timestamp,notnull"`
	Token         string    `bun:"token,notnull"`
	Sender        string    `bun:"sender"`
	Recipient     string    `bun:"recipient,notnull"`
	Amount        string    `bun:"amount,notnull"`
	Nonce         string    `bun:"nonce,notnull"`
	SourceChainID uint64    `bun:"source_chain_id"`
	TargetChainID uint64    `bun:"target_chain_id"`
}

// Transfer is the Indexer's correlated end-to-end view of a deposit and its
// (possibly not-yet-observed) matching withdrawal (spec §3).
type Transfer struct {
	bun.BaseModel `bun:"table:transfers"`

	ID             string     `bun:"id,pk"`
	DepositTxHash  string     `bun:"deposit_tx_hash,notnull,unique"`
	WithdrawTxHash string     `bun:"withdraw_tx_hash"`
	SourceChainID  uint64     `bun:"source_chain_id,notnull"`
	TargetChainID  uint64     `bun:"target_chain_id,notnull"`
	Token          string     `bun:"token,notnull"`
	Sender         string     `bun:"sender,notnull"`
	Recipient      string     `bun:"recipient,notnull"`
	Amount         string     `bun:"amount,notnull"`
	Nonce          string     `bun:"nonce,notnull"`
	DepositBlock   uint64     `bun:"deposit_block,notnull"`
	WithdrawBlock  uint64     `bun:"withdraw_block"`
	DepositTime    time.Time  `bun:"deposit_time,notnull"`
	WithdrawTime   *time.Time `bun:"withdraw_time"`
	Status         string     `bun:"status,notnull"`
}
