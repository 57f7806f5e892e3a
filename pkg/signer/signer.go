// Package signer produces and verifies the validator signatures the Relayer
// Processor attaches to target-chain withdraw calls (spec §4.3). The digest
// encoding is an invariant shared with the on-chain verifier and must not
// drift from the tuple order fixed here.
package signer

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer holds one validator's private key and produces the canonical
// withdrawal signature. It is immutable after construction.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// New loads a validator private key from its hex encoding.
func New(hexPrivateKey string) (*Signer, error) {
	key, err := crypto.HexToECDSA(hexPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("signer: load private key: %w", err)
	}
	return &Signer{
		privateKey: key,
		address:    crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// Address returns the validator's address, the one expected to recover from
// every signature this Signer produces.
func (s *Signer) Address() common.Address {
	return s.address
}

// Inner computes the unprefixed withdrawal message hash over
// (token, recipient, amount, nonce, sourceChainId, targetChainId): the
// on-chain replay-protection key passed to isProcessed (spec §4.3, §4.4
// step 4b). It is NOT what gets signed directly — see Digest.
func Inner(token, recipient common.Address, amount, nonce, sourceChainID, targetChainID *big.Int) common.Hash {
	packed := make([]byte, 0, 20+20+32+32+32+32)
	packed = append(packed, token.Bytes()...)
	packed = append(packed, recipient.Bytes()...)
	packed = append(packed, common.LeftPadBytes(amount.Bytes(), 32)...)
	packed = append(packed, common.LeftPadBytes(nonce.Bytes(), 32)...)
	packed = append(packed, common.LeftPadBytes(sourceChainID.Bytes(), 32)...)
	packed = append(packed, common.LeftPadBytes(targetChainID.Bytes(), 32)...)
	return crypto.Keccak256Hash(packed)
}

// Digest computes the canonical withdrawal digest over
// (token, recipient, amount, nonce, sourceChainId, targetChainId), per spec
// §4.3 and the canonical-order decision recorded in §9: the
// "\x19Ethereum Signed Message:\n32"-prefixed hash of Inner, which is what
// validators actually sign and what ecrecover verifies against on-chain.
func Digest(token, recipient common.Address, amount, nonce, sourceChainID, targetChainID *big.Int) common.Hash {
	inner := Inner(token, recipient, amount, nonce, sourceChainID, targetChainID)
	return crypto.Keccak256Hash(
		[]byte("\x19Ethereum Signed Message:\n32"),
		inner.Bytes(),
	)
}

// Sign produces a 65-byte (r, s, v) signature over digest with v normalized
// to {27, 28}, matching the format ecrecover expects on-chain.
func (s *Signer) Sign(digest common.Hash) ([]byte, error) {
	sig, err := crypto.Sign(digest.Bytes(), s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("signer: sign digest: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return sig, nil
}

// SignWithdrawal computes the prefixed digest for the given withdrawal
// tuple and signs it in one step. The returned digest is what Verify
// checks signatures against; it is distinct from Inner, the unprefixed
// on-chain replay-protection key (spec §4.3, §4.4 step 4b).
func (s *Signer) SignWithdrawal(token, recipient common.Address, amount, nonce, sourceChainID, targetChainID *big.Int) (digest common.Hash, sig []byte, err error) {
	digest = Digest(token, recipient, amount, nonce, sourceChainID, targetChainID)
	sig, err = s.Sign(digest)
	if err != nil {
		return common.Hash{}, nil, err
	}
	return digest, sig, nil
}

// Verify reports whether sig is a valid 65-byte signature over digest
// recoverable to expectedAddr. Used in tests and cross-service checks (spec
// §4.3).
func Verify(digest common.Hash, sig []byte, expectedAddr common.Address) bool {
	if len(sig) != 65 {
		return false
	}
	// crypto.SigToPub expects v in {0, 1}; undo the on-chain {27, 28} bump.
	normalized := make([]byte, 65)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}

	pub, err := crypto.SigToPub(digest.Bytes(), normalized)
	if err != nil {
		return false
	}
	return crypto.PubkeyToAddress(*pub) == expectedAddr
}
