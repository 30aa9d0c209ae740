// Package signer holds the sponsor's signing identity.
//
// The engine is configured with exactly one sponsor identity at startup. Every
// sponsor-side transaction in a prepared group is signed through this package
// and verified against the configured sponsor address; key material never
// leaves the backend (local mnemonic for development, remote KMS otherwise).
package signer

import (
	"context"
	"fmt"
	"strings"

	"github.com/algorand/go-algorand-sdk/v2/types"
)

// Signer signs transactions with the sponsor's key.
type Signer interface {
	// Address returns the sponsor address derived from the key material.
	Address() string
	// Sign returns the txid and the msgpack-encoded signed transaction.
	Sign(ctx context.Context, txn types.Transaction) (txid string, stx []byte, err error)
}

// AssertMatchesAddress verifies the signer controls the expected address.
// Run at startup so a misconfigured key fails fast rather than at submit time.
func AssertMatchesAddress(s Signer, expected string) error {
	if s.Address() != expected {
		return fmt.Errorf("signer address %s does not match configured sponsor address %s", s.Address(), expected)
	}
	return nil
}

// FromKeySource builds a signer from a key-source URI:
// "mnemonic:<25 words>" for local development, "kms:<https url>" for a remote
// signing service.
func FromKeySource(source string) (Signer, error) {
	switch {
	case strings.HasPrefix(source, "mnemonic:"):
		return NewMnemonicSigner(strings.TrimPrefix(source, "mnemonic:"))
	case strings.HasPrefix(source, "kms:"):
		return NewRemoteSigner(RemoteConfig{BaseURL: strings.TrimPrefix(source, "kms:")})
	default:
		return nil, fmt.Errorf("unsupported key source (want mnemonic: or kms: prefix)")
	}
}
