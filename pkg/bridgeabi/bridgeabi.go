// Package bridgeabi hand-maintains the ABI of the on-chain Bridge and ERC20
// contracts this system treats as a fixed wire contract (spec §6.1). It is
// deliberately smaller than an abigen-generated binding: the Chain Client
// (pkg/chain) already provides a generic name-indexed logs()/send(), so there
// is no need for per-event Filterer/Watcher scaffolding.
package bridgeabi

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// BridgeABIJSON is the canonical Bridge contract ABI (spec §6.1). The
// Deposit parameter order matches the emitted event, per spec §9's decision
// on the canonical order.
const BridgeABIJSON = `[
  {"anonymous": false, "type": "event", "name": "Deposit", "inputs": [
    {"indexed": true,  "name": "token",         "type": "address"},
    {"indexed": true,  "name": "sender",        "type": "address"},
    {"indexed": true,  "name": "recipient",     "type": "address"},
    {"indexed": false, "name": "amount",        "type": "uint256"},
    {"indexed": false, "name": "nonce",         "type": "uint256"},
    {"indexed": false, "name": "targetChainId", "type": "uint256"}
  ]},
  {"anonymous": false, "type": "event", "name": "Withdraw", "inputs": [
    {"indexed": true,  "name": "token",         "type": "address"},
    {"indexed": true,  "name": "recipient",     "type": "address"},
    {"indexed": false, "name": "amount",        "type": "uint256"},
    {"indexed": false, "name": "nonce",         "type": "uint256"},
    {"indexed": false, "name": "sourceChainId", "type": "uint256"}
  ]},
  {"type": "function", "name": "withdraw", "stateMutability": "nonpayable", "inputs": [
    {"name": "token",         "type": "address"},
    {"name": "recipient",     "type": "address"},
    {"name": "amount",        "type": "uint256"},
    {"name": "nonce",         "type": "uint256"},
    {"name": "sourceChainId", "type": "uint256"},
    {"name": "signatures",    "type": "bytes[]"}
  ], "outputs": []},
  {"type": "function", "name": "isProcessed", "stateMutability": "view", "inputs": [
    {"name": "messageHash", "type": "bytes32"}
  ], "outputs": [{"name": "", "type": "bool"}]},
  {"type": "function", "name": "supportedTokens", "stateMutability": "view", "inputs": [
    {"name": "token", "type": "address"}
  ], "outputs": [{"name": "", "type": "bool"}]}
]`

// ERC20ABIJSON carries only the single read used for liquidity checks (§4.4).
const ERC20ABIJSON = `[
  {"type": "function", "name": "balanceOf", "stateMutability": "view", "inputs": [
    {"name": "account", "type": "address"}
  ], "outputs": [{"name": "", "type": "uint256"}]}
]`

// BridgeABI and ERC20ABI are parsed once at package init; a malformed literal
// above is a programming error, so init panics rather than returning an error
// a caller would have to thread through every constructor.
var (
	BridgeABI abi.ABI
	ERC20ABI  abi.ABI
)

func init() {
	var err error
	BridgeABI, err = abi.JSON(strings.NewReader(BridgeABIJSON))
	if err != nil {
		panic(fmt.Sprintf("bridgeabi: parse bridge ABI: %v", err))
	}
	ERC20ABI, err = abi.JSON(strings.NewReader(ERC20ABIJSON))
	if err != nil {
		panic(fmt.Sprintf("bridgeabi: parse erc20 ABI: %v", err))
	}
}

// NativeToken is the all-zero address sentinel denoting the chain's native
// currency (spec §3, §6.1).
var NativeToken = common.Address{}

// DepositTopic0 and WithdrawTopic0 are the keccak256 signatures watchers
// filter logs by.
var (
	DepositTopic0  = BridgeABI.Events["Deposit"].ID
	WithdrawTopic0 = BridgeABI.Events["Withdraw"].ID
)

// DepositEvent is the decoded form of an on-chain Deposit log.
type DepositEvent struct {
	Token         common.Address
	Sender        common.Address
	Recipient     common.Address
	Amount        *big.Int
	Nonce         *big.Int
	TargetChainID *big.Int
}

// WithdrawEvent is the decoded form of an on-chain Withdraw log.
type WithdrawEvent struct {
	Token         common.Address
	Recipient     common.Address
	Amount        *big.Int
	Nonce         *big.Int
	SourceChainID *big.Int
}

// DecodeDeposit unpacks a raw log whose topic0 matches DepositTopic0.
func DecodeDeposit(l types.Log) (*DepositEvent, error) {
	if len(l.Topics) != 4 {
		return nil, fmt.Errorf("deposit log: expected 4 topics, got %d", len(l.Topics))
	}
	var data struct {
		Amount        *big.Int `abi:"amount"`
		Nonce         *big.Int `abi:"nonce"`
		TargetChainID *big.Int `abi:"targetChainId"`
	}
	if err := BridgeABI.UnpackIntoInterface(&data, "Deposit", l.Data); err != nil {
		return nil, fmt.Errorf("unpack deposit data: %w", err)
	}
	return &DepositEvent{
		Token:         common.HexToAddress(l.Topics[1].Hex()),
		Sender:        common.HexToAddress(l.Topics[2].Hex()),
		Recipient:     common.HexToAddress(l.Topics[3].Hex()),
		Amount:        data.Amount,
		Nonce:         data.Nonce,
		TargetChainID: data.TargetChainID,
	}, nil
}

// DecodeWithdraw unpacks a raw log whose topic0 matches WithdrawTopic0.
func DecodeWithdraw(l types.Log) (*WithdrawEvent, error) {
	if len(l.Topics) != 3 {
		return nil, fmt.Errorf("withdraw log: expected 3 topics, got %d", len(l.Topics))
	}
	var data struct {
		Amount        *big.Int `abi:"amount"`
		Nonce         *big.Int `abi:"nonce"`
		SourceChainID *big.Int `abi:"sourceChainId"`
	}
	if err := BridgeABI.UnpackIntoInterface(&data, "Withdraw", l.Data); err != nil {
		return nil, fmt.Errorf("unpack withdraw data: %w", err)
	}
	return &WithdrawEvent{
		Token:         common.HexToAddress(l.Topics[1].Hex()),
		Recipient:     common.HexToAddress(l.Topics[2].Hex()),
		Amount:        data.Amount,
		Nonce:         data.Nonce,
		SourceChainID: data.SourceChainID,
	}, nil
}

// PackWithdraw encodes a call to withdraw(token, recipient, amount, nonce,
// sourceChainId, signatures).
func PackWithdraw(token, recipient common.Address, amount, nonce, sourceChainID *big.Int, signatures [][]byte) ([]byte, error) {
	return BridgeABI.Pack("withdraw", token, recipient, amount, nonce, sourceChainID, signatures)
}

// PackIsProcessed encodes a call to isProcessed(messageHash).
func PackIsProcessed(messageHash [32]byte) ([]byte, error) {
	return BridgeABI.Pack("isProcessed", messageHash)
}

// UnpackIsProcessed decodes the return value of isProcessed.
func UnpackIsProcessed(data []byte) (bool, error) {
	var processed bool
	if err := BridgeABI.UnpackIntoInterface(&processed, "isProcessed", data); err != nil {
		return false, fmt.Errorf("unpack isProcessed: %w", err)
	}
	return processed, nil
}

// PackBalanceOf encodes a call to the ERC20 balanceOf(account) selector.
func PackBalanceOf(holder common.Address) ([]byte, error) {
	return ERC20ABI.Pack("balanceOf", holder)
}

// UnpackBalanceOf decodes the return value of balanceOf.
func UnpackBalanceOf(data []byte) (*big.Int, error) {
	var balance *big.Int
	if err := ERC20ABI.UnpackIntoInterface(&balance, "balanceOf", data); err != nil {
		return nil, fmt.Errorf("unpack balanceOf: %w", err)
	}
	return balance, nil
}
