package chain

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/Confio-Network/wallet-engine/internal/apperr"
)

// classify maps raw node/indexer errors onto the engine's error taxonomy.
// The SDK surfaces HTTP failures as flat errors, so classification keys off
// the status text the algod and indexer daemons embed in their responses.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return apperr.Transient(op+" timed out", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apperr.Transient(op+" timed out", err)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "too many requests"):
		return apperr.RateLimited(op+" rate limited", err)
	case strings.Contains(msg, "500") || strings.Contains(msg, "502") ||
		strings.Contains(msg, "503") || strings.Contains(msg, "504") ||
		strings.Contains(msg, "connection refused") || strings.Contains(msg, "connection reset"):
		return apperr.Transient(op+" failed", err)
	default:
		return apperr.Fatal(op+" failed", err)
	}
}

// IsAlreadyInLedger reports whether err is the node's duplicate-submission
// rejection, which the engine treats as success.
func IsAlreadyInLedger(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already in ledger") ||
		strings.Contains(msg, "transaction already in ledger")
}

// ErrPoolEvicted is returned by WaitForConfirmation when the node reports a
// pool error for the transaction.
var ErrPoolEvicted = errors.New("transaction evicted from pool")
