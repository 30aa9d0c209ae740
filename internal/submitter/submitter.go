// Package submitter assembles fully-signed atomic groups and pushes them
// through the node.
//
// The submitter never retries a failed submission: retries are policy
// decisions left to the caller. "Already in ledger" counts as success and
// reuses the prepared reference txid.
package submitter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Confio-Network/wallet-engine/internal/apperr"
	"github.com/Confio-Network/wallet-engine/internal/balance"
	"github.com/Confio-Network/wallet-engine/internal/chain"
	"github.com/Confio-Network/wallet-engine/internal/logging"
	"github.com/Confio-Network/wallet-engine/internal/metrics"
	"github.com/Confio-Network/wallet-engine/internal/store"
	"github.com/Confio-Network/wallet-engine/internal/txbuilder"
)

// DefaultConfirmRounds bounds the post-submit confirmation wait.
const DefaultConfirmRounds = 10

// RowKind names the source row a submission advances.
type RowKind string

const (
	RowTransfer   RowKind = "transfer"
	RowConversion RowKind = "conversion"
	RowWithdrawal RowKind = "withdrawal"
	RowInvite     RowKind = "invite"
)

// Request carries one submission: the prepared group plus the client's signed
// blobs and the source row to advance.
type Request struct {
	Group           *txbuilder.PreparedGroup
	UserSignedBlobs []string

	RowKind RowKind
	RowID   string

	// Account whose balances go stale on success.
	AccountID string
	Address   string
	AssetIDs  []uint64
}

// Result reports the submission outcome.
type Result struct {
	TxID string
	// AlreadyInLedger marks an idempotent duplicate submission.
	AlreadyInLedger bool
	// Confirmed is false when the round budget expired; the row stays
	// SUBMITTED and the scanner promotes it later.
	Confirmed      bool
	ConfirmedRound uint64
}

// Submitter submits assembled groups and advances source rows.
type Submitter struct {
	gw            chain.Gateway
	store         *store.Store
	cache         *balance.Cache
	confirmRounds uint64
	log           *logging.Logger
}

// Config holds submitter construction parameters.
type Config struct {
	Gateway       chain.Gateway
	Store         *store.Store
	Cache         *balance.Cache
	ConfirmRounds uint64
	Logger        *logging.Logger
}

// New creates a Submitter.
func New(cfg Config) *Submitter {
	rounds := cfg.ConfirmRounds
	if rounds == 0 {
		rounds = DefaultConfirmRounds
	}
	log := cfg.Logger
	if log == nil {
		log = logging.Nop()
	}
	return &Submitter{
		gw:            cfg.Gateway,
		store:         cfg.Store,
		cache:         cfg.Cache,
		confirmRounds: rounds,
		log:           log,
	}
}

// Submit validates the group shape, merges the user's signed blobs with the
// pre-signed sponsor members, submits the group atomically, and waits for
// confirmation within the round budget.
func (s *Submitter) Submit(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	family := string(req.Group.Family)

	raw, err := Assemble(req.Group, req.UserSignedBlobs)
	if err != nil {
		s.failRow(ctx, req, err)
		metrics.GroupsSubmitted.WithLabelValues(family, "shape_mismatch").Inc()
		return Result{}, err
	}

	refTxID := req.Group.ReferenceTxID

	if _, err := s.gw.SendRawTransaction(ctx, raw); err != nil {
		if chain.IsAlreadyInLedger(err) {
			s.log.Info(ctx, "group already in ledger, treating as success", logging.Fields{
				"txid": refTxID,
				"row":  req.RowID,
			})
			s.confirmRow(ctx, req, refTxID)
			metrics.GroupsSubmitted.WithLabelValues(family, "duplicate").Inc()
			return Result{TxID: refTxID, AlreadyInLedger: true, Confirmed: true}, nil
		}
		s.failRow(ctx, req, err)
		metrics.GroupsSubmitted.WithLabelValues(family, "rejected").Inc()
		return Result{}, err
	}

	if err := s.advanceRow(ctx, req, s.submittedStatus(req.RowKind), refTxID, ""); err != nil {
		s.log.Error(ctx, "row advance to submitted failed", logging.Fields{
			"row": req.RowID, "error": err.Error(),
		})
	}

	info, err := s.gw.WaitForConfirmation(ctx, refTxID, s.confirmRounds)
	if err != nil {
		if errors.Is(err, chain.ErrPoolEvicted) {
			s.failRow(ctx, req, err)
			metrics.GroupsSubmitted.WithLabelValues(family, "pool_evicted").Inc()
			return Result{}, apperr.Fatal("group evicted from pool", err)
		}
		// Round budget expired: leave SUBMITTED, the scanner confirms later.
		s.log.Warn(ctx, "confirmation wait expired, leaving row submitted", logging.Fields{
			"txid": refTxID, "row": req.RowID,
		})
		metrics.GroupsSubmitted.WithLabelValues(family, "unconfirmed").Inc()
		return Result{TxID: refTxID}, nil
	}

	s.confirmRow(ctx, req, refTxID)
	metrics.GroupsSubmitted.WithLabelValues(family, "confirmed").Inc()
	metrics.SubmitDuration.WithLabelValues(family).Observe(time.Since(start).Seconds())
	return Result{TxID: refTxID, Confirmed: true, ConfirmedRound: info.ConfirmedRound}, nil
}

func (s *Submitter) submittedStatus(kind RowKind) string {
	if kind == RowConversion {
		return store.ConversionSubmitted
	}
	if kind == RowWithdrawal {
		return store.MovementProcessing
	}
	return store.TransferSubmitted
}

func (s *Submitter) confirmedStatus(kind RowKind) string {
	switch kind {
	case RowConversion:
		return store.ConversionCompleted
	case RowWithdrawal:
		return store.MovementCompleted
	default:
		return store.TransferConfirmed
	}
}

func (s *Submitter) failedStatus(kind RowKind) string {
	switch kind {
	case RowConversion:
		return store.ConversionFailed
	case RowWithdrawal:
		return store.MovementFailed
	default:
		return store.TransferFailed
	}
}

// confirmRow advances the source row to its terminal success state, records
// the event, and marks the account's balances stale, all in one transaction.
func (s *Submitter) confirmRow(ctx context.Context, req Request, txid string) {
	err := s.store.InTx(ctx, func(tx *store.Store) error {
		if err := s.updateRow(ctx, tx, req, s.confirmedStatus(req.RowKind), txid, ""); err != nil {
			return err
		}
		return tx.InsertWalletEvent(ctx, string(req.RowKind)+"_confirmed", req.RowID, txid, map[string]interface{}{
			"family": string(req.Group.Family),
			"txid":   txid,
		})
	})
	if err != nil {
		s.log.Error(ctx, "row confirmation failed", logging.Fields{"row": req.RowID, "error": err.Error()})
		return
	}

	if s.cache != nil && req.AccountID != "" {
		for _, assetID := range req.AssetIDs {
			id := assetID
			if err := s.cache.MarkStale(ctx, req.AccountID, req.Address, &id); err != nil {
				s.log.Warn(ctx, "mark balance stale failed", logging.Fields{
					"account": req.AccountID, "asset": assetID, "error": err.Error(),
				})
			}
		}
	}
}

// failRow marks the source row FAILED without touching balances.
func (s *Submitter) failRow(ctx context.Context, req Request, cause error) {
	if req.RowID == "" {
		return
	}
	if err := s.advanceRow(ctx, req, s.failedStatus(req.RowKind), "", cause.Error()); err != nil {
		s.log.Error(ctx, "row failure update failed", logging.Fields{"row": req.RowID, "error": err.Error()})
	}
}

func (s *Submitter) advanceRow(ctx context.Context, req Request, status, txid, errMsg string) error {
	return s.updateRow(ctx, s.store, req, status, txid, errMsg)
}

func (s *Submitter) updateRow(ctx context.Context, sto *store.Store, req Request, status, txid, errMsg string) error {
	if req.RowID == "" {
		return nil
	}
	switch req.RowKind {
	case RowConversion:
		return sto.UpdateConversionStatus(ctx, req.RowID, status, txid, errMsg)
	case RowWithdrawal:
		return sto.UpdateWithdrawalStatus(ctx, req.RowID, status, txid, errMsg)
	case RowTransfer, RowInvite:
		return sto.UpdateTransferStatus(ctx, req.RowID, status, txid, errMsg)
	default:
		return fmt.Errorf("unknown row kind %q", req.RowKind)
	}
}
