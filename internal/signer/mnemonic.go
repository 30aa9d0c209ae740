package signer

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"strings"

	"github.com/algorand/go-algorand-sdk/v2/crypto"
	"github.com/algorand/go-algorand-sdk/v2/mnemonic"
	"github.com/algorand/go-algorand-sdk/v2/types"
)

// MnemonicSigner signs locally with a key recovered from a 25-word mnemonic.
// Development only; production deployments use the remote backend.
type MnemonicSigner struct {
	sk      ed25519.PrivateKey
	address string
}

// NewMnemonicSigner recovers the key from the mnemonic phrase.
func NewMnemonicSigner(phrase string) (*MnemonicSigner, error) {
	sk, err := mnemonic.ToPrivateKey(strings.TrimSpace(phrase))
	if err != nil {
		return nil, fmt.Errorf("recover key from mnemonic: %w", err)
	}

	var addr types.Address
	copy(addr[:], sk.Public().(ed25519.PublicKey))

	return &MnemonicSigner{sk: sk, address: addr.String()}, nil
}

// Address returns the derived sponsor address.
func (s *MnemonicSigner) Address() string { return s.address }

// Sign signs the transaction with the local key.
func (s *MnemonicSigner) Sign(ctx context.Context, txn types.Transaction) (string, []byte, error) {
	txid, stx, err := crypto.SignTransaction(s.sk, txn)
	if err != nil {
		return "", nil, fmt.Errorf("sign transaction: %w", err)
	}
	return txid, stx, nil
}
