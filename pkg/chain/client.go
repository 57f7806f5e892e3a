// Package chain wraps one EVM JSON-RPC endpoint behind the small surface the
// Watcher, Relayer Processor and Indexer Processor actually need: head/block
// lookups, log scans keyed by event name, read-only contract calls, gas
// pricing, and transaction submission. It hides go-ethereum's richer
// Caller/Transactor/Filterer scaffolding behind a generic, ABI-driven
// logs()/send() so one Client works for every chain without per-chain
// generated bindings.
package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/bridgeworks/evm-bridge/pkg/bridgeabi"
	"github.com/bridgeworks/evm-bridge/pkg/config"
)

// Client is a single chain's JSON-RPC adaptor. One Client is constructed per
// configured chain and shared by the Watcher, Relayer Processor and
// reconciliation pass for that chain.
type Client struct {
	name    string
	chainID *big.Int
	eth     *ethclient.Client
	logger  *zap.Logger
}

// NewClient dials an EVM JSON-RPC endpoint and verifies the reported chain ID
// matches configuration, failing fast on misconfigured RPC URLs.
func NewClient(ctx context.Context, cfg config.ChainConfig, logger *zap.Logger) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("chain %s: dial rpc: %w", cfg.Name, err)
	}

	reported, err := eth.ChainID(ctx)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("chain %s: fetch chain id: %w", cfg.Name, err)
	}
	if reported.Uint64() != cfg.ChainID {
		eth.Close()
		return nil, fmt.Errorf("chain %s: configured chain id %d does not match rpc-reported id %d", cfg.Name, cfg.ChainID, reported.Uint64())
	}

	return &Client{
		name:    cfg.Name,
		chainID: reported,
		eth:     eth,
		logger:  logger.With(zap.String("chain", cfg.Name)),
	}, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}

// Name returns the configured chain name (used for logging and metrics).
func (c *Client) Name() string { return c.name }

// ChainID returns the chain ID this client was constructed against.
func (c *Client) ChainID() *big.Int { return c.chainID }

// Head returns the current block height.
func (c *Client) Head(ctx context.Context) (uint64, error) {
	header, err := c.eth.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, classify(err, "fetch head")
	}
	return header.Number.Uint64(), nil
}

// BlockInfo is the subset of a block header callers need for cursor bookkeeping.
type BlockInfo struct {
	Number    uint64
	Hash      common.Hash
	Timestamp uint64
}

// Block fetches the header at block n. A failed lookup, including one for a
// block the RPC provider has pruned, is returned as a *RPCError whose
// Retryable flag classify sets from the error message.
func (c *Client) Block(ctx context.Context, n uint64) (*BlockInfo, error) {
	header, err := c.eth.HeaderByNumber(ctx, new(big.Int).SetUint64(n))
	if err != nil {
		return nil, classify(err, "fetch block")
	}
	return &BlockInfo{
		Number:    header.Number.Uint64(),
		Hash:      header.Hash(),
		Timestamp: header.Time,
	}, nil
}

// LogRecord is a decoded Deposit or Withdraw log, tagged with the chain
// position the Watcher uses to order dispatch and the Processor uses for
// natural-key dedup.
type LogRecord struct {
	TxHash      common.Hash
	LogIndex    uint
	BlockNumber uint64
	BlockHash   common.Hash
	Deposit     *bridgeabi.DepositEvent
	Withdraw    *bridgeabi.WithdrawEvent
}

// Logs scans [fromBlock, toBlock] (inclusive) on contractAddr for the named
// event ("Deposit" or "Withdraw") and returns decoded records in ascending
// (blockNumber, logIndex) order, matching the order the Watcher must dispatch
// in.
func (c *Client) Logs(ctx context.Context, contractAddr common.Address, eventName string, fromBlock, toBlock uint64) ([]LogRecord, error) {
	var topic0 common.Hash
	switch eventName {
	case "Deposit":
		topic0 = bridgeabi.DepositTopic0
	case "Withdraw":
		topic0 = bridgeabi.WithdrawTopic0
	default:
		return nil, fmt.Errorf("chain: unknown event name %q", eventName)
	}

	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{contractAddr},
		Topics:    [][]common.Hash{{topic0}},
	}

	logs, err := c.eth.FilterLogs(ctx, query)
	if err != nil {
		return nil, classify(err, "filter logs")
	}

	records := make([]LogRecord, 0, len(logs))
	for _, l := range logs {
		if l.Removed {
			continue
		}
		rec := LogRecord{
			TxHash:      l.TxHash,
			LogIndex:    uint(l.Index),
			BlockNumber: l.BlockNumber,
			BlockHash:   l.BlockHash,
		}
		switch eventName {
		case "Deposit":
			dep, err := bridgeabi.DecodeDeposit(l)
			if err != nil {
				return nil, fmt.Errorf("chain %s: decode deposit log %s:%d: %w", c.name, l.TxHash.Hex(), l.Index, err)
			}
			rec.Deposit = dep
		case "Withdraw":
			wd, err := bridgeabi.DecodeWithdraw(l)
			if err != nil {
				return nil, fmt.Errorf("chain %s: decode withdraw log %s:%d: %w", c.name, l.TxHash.Hex(), l.Index, err)
			}
			rec.Withdraw = wd
		}
		records = append(records, rec)
	}

	sortLogRecords(records)
	return records, nil
}

func sortLogRecords(records []LogRecord) {
	for i := 1; i < len(records); i++ {
		for j := i; j > 0; j-- {
			a, b := records[j-1], records[j]
			if a.BlockNumber < b.BlockNumber || (a.BlockNumber == b.BlockNumber && a.LogIndex <= b.LogIndex) {
				break
			}
			records[j-1], records[j] = records[j], records[j-1]
		}
	}
}

// IsProcessed reads the on-chain replay map for messageHash.
func (c *Client) IsProcessed(ctx context.Context, bridgeAddr common.Address, messageHash [32]byte) (bool, error) {
	calldata, err := bridgeabi.PackIsProcessed(messageHash)
	if err != nil {
		return false, fmt.Errorf("chain %s: pack isProcessed: %w", c.name, err)
	}
	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &bridgeAddr, Data: calldata}, nil)
	if err != nil {
		return false, classify(err, "call isProcessed")
	}
	processed, err := bridgeabi.UnpackIsProcessed(out)
	if err != nil {
		return false, fmt.Errorf("chain %s: unpack isProcessed: %w", c.name, err)
	}
	return processed, nil
}

// Balance returns the native-currency balance of addr.
func (c *Client) Balance(ctx context.Context, addr common.Address) (*big.Int, error) {
	bal, err := c.eth.BalanceAt(ctx, addr, nil)
	if err != nil {
		return nil, classify(err, "fetch native balance")
	}
	return bal, nil
}

// ERC20BalanceOf returns holder's balance of an ERC20 token.
func (c *Client) ERC20BalanceOf(ctx context.Context, token, holder common.Address) (*big.Int, error) {
	calldata, err := bridgeabi.PackBalanceOf(holder)
	if err != nil {
		return nil, fmt.Errorf("chain %s: pack balanceOf: %w", c.name, err)
	}
	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &token, Data: calldata}, nil)
	if err != nil {
		return nil, classify(err, "call balanceOf")
	}
	bal, err := bridgeabi.UnpackBalanceOf(out)
	if err != nil {
		return nil, fmt.Errorf("chain %s: unpack balanceOf: %w", c.name, err)
	}
	return bal, nil
}

// FeeData is the subset of current fee-market data the gas-pricing step
// needs (spec §4.4).
type FeeData struct {
	GasPrice *big.Int
}

// FeeDataAt returns the current suggested gas price.
func (c *Client) FeeDataAt(ctx context.Context) (*FeeData, error) {
	price, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return nil, classify(err, "suggest gas price")
	}
	return &FeeData{GasPrice: price}, nil
}

// EstimateWithdrawGas estimates gas for a withdraw call with the given
// arguments, without submitting it.
func (c *Client) EstimateWithdrawGas(ctx context.Context, from, bridgeAddr common.Address, token, recipient common.Address, amount, nonce, sourceChainID *big.Int, signatures [][]byte) (uint64, error) {
	calldata, err := bridgeabi.PackWithdraw(token, recipient, amount, nonce, sourceChainID, signatures)
	if err != nil {
		return 0, fmt.Errorf("chain %s: pack withdraw: %w", c.name, err)
	}
	gas, err := c.eth.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &bridgeAddr, Data: calldata})
	if err != nil {
		return 0, classify(err, "estimate withdraw gas")
	}
	return gas, nil
}

// SendOpts carries the gas parameters the Relayer Processor computes per
// spec §4.4 step 5 before submission.
type SendOpts struct {
	GasLimit uint64
	GasPrice *big.Int
}

// SendWithdraw signs and broadcasts a withdraw call using privateKey, whose
// address is the account that pays gas for the call.
func (c *Client) SendWithdraw(ctx context.Context, privateKey *ecdsa.PrivateKey, bridgeAddr common.Address, token, recipient common.Address, amount, nonce, sourceChainID *big.Int, signatures [][]byte, opts SendOpts) (common.Hash, error) {
	calldata, err := bridgeabi.PackWithdraw(token, recipient, amount, nonce, sourceChainID, signatures)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain %s: pack withdraw: %w", c.name, err)
	}

	from := crypto.PubkeyToAddress(privateKey.PublicKey)
	txNonce, err := c.eth.PendingNonceAt(ctx, from)
	if err != nil {
		return common.Hash{}, classify(err, "fetch pending nonce")
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    txNonce,
		To:       &bridgeAddr,
		Value:    big.NewInt(0),
		Gas:      opts.GasLimit,
		GasPrice: opts.GasPrice,
		Data:     calldata,
	})

	signer := types.NewLondonSigner(c.chainID)
	signedTx, err := types.SignTx(tx, signer, privateKey)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain %s: sign withdraw tx: %w", c.name, err)
	}

	if err := c.eth.SendTransaction(ctx, signedTx); err != nil {
		return common.Hash{}, classify(err, "broadcast withdraw tx")
	}

	c.logger.Info("withdraw transaction submitted",
		zap.String("tx_hash", signedTx.Hash().Hex()),
		zap.String("token", token.Hex()),
		zap.String("recipient", recipient.Hex()))

	return signedTx.Hash(), nil
}

// Receipt is the subset of a transaction receipt the processor inspects to
// decide completed vs failed.
type Receipt struct {
	TxHash      common.Hash
	BlockNumber uint64
	Status      uint64
	GasUsed     uint64
}

// WaitReceipt blocks until txHash is mined to at least minConfirmations deep
// or timeout elapses.
func (c *Client) WaitReceipt(ctx context.Context, txHash common.Hash, minConfirmations uint64, timeout time.Duration) (*Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		rcpt, err := c.eth.TransactionReceipt(waitCtx, txHash)
		if err == nil {
			head, herr := c.Head(waitCtx)
			if herr == nil && head >= rcpt.BlockNumber.Uint64()+minConfirmations {
				return &Receipt{
					TxHash:      txHash,
					BlockNumber: rcpt.BlockNumber.Uint64(),
					Status:      rcpt.Status,
					GasUsed:     rcpt.GasUsed,
				}, nil
			}
		} else if !errors.Is(err, ethereum.NotFound) {
			return nil, classify(err, "fetch receipt")
		}

		select {
		case <-waitCtx.Done():
			return nil, fmt.Errorf("chain %s: wait for receipt %s: %w", c.name, txHash.Hex(), waitCtx.Err())
		case <-ticker.C:
		}
	}
}

// classify maps a raw RPC error into a retryable/terminal-tagged error,
// shared by the Watcher (§4.2) and Relayer Processor (§4.4) so both apply
// the same retry policy.
func classify(err error, op string) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	for _, substr := range []string{
		"timeout", "timed out", "connection reset", "connection refused",
		"too many requests", "rate limit", "temporarily unavailable",
		"nonce too low", "replacement transaction underpriced", "eof",
		"broken pipe", "i/o timeout",
	} {
		if strings.Contains(msg, substr) {
			return &RPCError{Op: op, Err: err, Retryable: true}
		}
	}
	return &RPCError{Op: op, Err: err, Retryable: false}
}

// RPCError tags a Chain Client failure as retryable or terminal per spec
// §4.1's contract; callers translate it into the apperrors taxonomy.
type RPCError struct {
	Op        string
	Err       error
	Retryable bool
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("chain: %s: %v", e.Op, e.Err)
}

func (e *RPCError) Unwrap() error { return e.Err }
