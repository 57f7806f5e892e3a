// Package validator holds the stateless predicates the Relayer and Indexer
// processors apply to inbound events and transfer parameters before any
// state is written (spec §4.6). Every function here is pure: no I/O, no
// clock, no randomness.
package validator

import (
	"fmt"
	"math/big"
	"regexp"

	"github.com/ethereum/go-ethereum/common"
)

var (
	txHashPattern       = regexp.MustCompile(`^0x[a-fA-F0-9]{64}$`)
	signaturePattern    = regexp.MustCompile(`^0x[a-fA-F0-9]{130}$`)
	lowerAddressPattern = regexp.MustCompile(`^0x[0-9a-f]{40}$`)
)

// IsAddress reports whether s is a well-formed address: either all-lowercase
// hex or matching its EIP-55 checksum casing.
func IsAddress(s string) bool {
	if !common.IsHexAddress(s) {
		return false
	}
	if lowerAddressPattern.MatchString(s) {
		return true
	}
	return common.HexToAddress(s).Hex() == s
}

// IsTxHash reports whether s is a 32-byte hex hash.
func IsTxHash(s string) bool {
	return txHashPattern.MatchString(s)
}

// IsSignature reports whether s is a 65-byte (r, s, v) hex signature.
func IsSignature(s string) bool {
	return signaturePattern.MatchString(s)
}

// IsPositiveAmount reports whether s parses as a base-10 integer > 0.
func IsPositiveAmount(s string) bool {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return false
	}
	return n.Sign() > 0
}

// IsValidNonce reports whether n parses as a base-10 integer >= 0.
func IsValidNonce(s string) bool {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return false
	}
	return n.Sign() >= 0
}

// Result accumulates every validation failure rather than short-circuiting
// on the first one, so callers can log a complete picture of a malformed
// event (spec §4.6).
type Result struct {
	Errors []string
}

// OK reports whether no errors were accumulated.
func (r Result) OK() bool {
	return len(r.Errors) == 0
}

func (r Result) Error() string {
	if r.OK() {
		return ""
	}
	return fmt.Sprintf("validation failed: %v", r.Errors)
}

func (r *Result) addf(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// DepositParams is the event-field tuple a Deposit log decodes into, prior
// to confirmation-gating or persistence.
type DepositParams struct {
	Token         string
	Sender        string
	Recipient     string
	Amount        string
	Nonce         string
	SourceChainID uint64
	TargetChainID uint64
	BlockNumber   uint64
	TxHash        string
}

// ValidateDepositParams checks every field of a decoded Deposit event (spec
// §4.4 step 1).
func ValidateDepositParams(p DepositParams) Result {
	var res Result
	if p.Token != "" && !IsAddress(p.Token) {
		res.addf("token %q is not a well-formed address", p.Token)
	}
	if !IsAddress(p.Sender) {
		res.addf("sender %q is not a well-formed address", p.Sender)
	}
	if !IsAddress(p.Recipient) {
		res.addf("recipient %q is not a well-formed address", p.Recipient)
	}
	if !IsPositiveAmount(p.Amount) {
		res.addf("amount %q is not a positive integer", p.Amount)
	}
	if !IsValidNonce(p.Nonce) {
		res.addf("nonce %q is not a valid non-negative integer", p.Nonce)
	}
	if p.SourceChainID == p.TargetChainID {
		res.addf("source chain id %d must differ from target chain id %d", p.SourceChainID, p.TargetChainID)
	}
	if p.BlockNumber == 0 {
		res.addf("block number must be > 0")
	}
	if !IsTxHash(p.TxHash) {
		res.addf("tx hash %q is not well-formed", p.TxHash)
	}
	return res
}

// WithdrawParams is the event-field tuple a Withdraw log decodes into.
type WithdrawParams struct {
	Token         string
	Recipient     string
	Amount        string
	Nonce         string
	SourceChainID uint64
	TxHash        string
}

// ValidateWithdrawParams checks every field of a decoded Withdraw event
// (spec §4.5).
func ValidateWithdrawParams(p WithdrawParams) Result {
	var res Result
	if p.Token != "" && !IsAddress(p.Token) {
		res.addf("token %q is not a well-formed address", p.Token)
	}
	if !IsAddress(p.Recipient) {
		res.addf("recipient %q is not a well-formed address", p.Recipient)
	}
	if !IsPositiveAmount(p.Amount) {
		res.addf("amount %q is not a positive integer", p.Amount)
	}
	if !IsValidNonce(p.Nonce) {
		res.addf("nonce %q is not a valid non-negative integer", p.Nonce)
	}
	if !IsTxHash(p.TxHash) {
		res.addf("tx hash %q is not well-formed", p.TxHash)
	}
	return res
}

// TransferParams is a correlated Deposit+Withdraw pair. The processors
// validate Deposit and Withdraw params separately and do not use it.
type TransferParams struct {
	Deposit  DepositParams
	Withdraw *WithdrawParams
}

// ValidateTransferParams checks a (possibly still-pending) Transfer: the
// Deposit side is always present; the Withdraw side may be nil if the
// target-chain leg has not yet been observed.
func ValidateTransferParams(p TransferParams) Result {
	res := ValidateDepositParams(p.Deposit)
	if p.Withdraw != nil {
		wres := ValidateWithdrawParams(*p.Withdraw)
		res.Errors = append(res.Errors, wres.Errors...)
		if p.Withdraw.Nonce != p.Deposit.Nonce {
			res.addf("withdraw nonce %q does not match deposit nonce %q", p.Withdraw.Nonce, p.Deposit.Nonce)
		}
	}
	return res
}
