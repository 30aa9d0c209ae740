// Package scanner ingests inbound asset transfers from the indexer.
//
// One scanner instance per asset: the cursor advances monotonically and the
// (txid, intra) marker table makes ingestion idempotent across restarts and
// overlapping pages. External inbounds become CONFIRMED transfer rows;
// internal ones were already written by the submitter and are only promoted.
package scanner

import (
	"context"
	"database/sql"
	"strconv"
	"sync"

	"github.com/algorand/go-algorand-sdk/v2/client/v2/common/models"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/Confio-Network/wallet-engine/internal/apperr"
	"github.com/Confio-Network/wallet-engine/internal/chain"
	"github.com/Confio-Network/wallet-engine/internal/logging"
	"github.com/Confio-Network/wallet-engine/internal/metrics"
	"github.com/Confio-Network/wallet-engine/internal/money"
	"github.com/Confio-Network/wallet-engine/internal/store"
)

// DefaultPageLimit is the indexer page size.
const DefaultPageLimit = 1000

// Scanner pulls asset-transfer pages and mirrors external inbounds.
type Scanner struct {
	gw          chain.Gateway
	store       *store.Store
	sponsorAddr string
	pageLimit   uint64
	lookback    uint64
	limiter     *rate.Limiter
	log         *logging.Logger

	mu       sync.Mutex
	decimals map[uint64]uint64
}

// Config holds scanner construction parameters.
type Config struct {
	Gateway     chain.Gateway
	Store       *store.Store
	SponsorAddr string
	PageLimit   uint64
	// LookbackRounds re-scans a window behind the cursor on each run; the
	// marker table absorbs the resulting duplicates.
	LookbackRounds uint64
	// PagesPerSecond paces indexer requests. Zero disables pacing.
	PagesPerSecond float64
	Logger         *logging.Logger
}

// New creates a Scanner.
func New(cfg Config) *Scanner {
	limit := cfg.PageLimit
	if limit == 0 {
		limit = DefaultPageLimit
	}
	var limiter *rate.Limiter
	if cfg.PagesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.PagesPerSecond), 1)
	}
	log := cfg.Logger
	if log == nil {
		log = logging.Nop()
	}
	return &Scanner{
		gw:          cfg.Gateway,
		store:       cfg.Store,
		sponsorAddr: cfg.SponsorAddr,
		pageLimit:   limit,
		lookback:    cfg.LookbackRounds,
		limiter:     limiter,
		log:         log,
		decimals:    make(map[uint64]uint64),
	}
}

// ScanAsset runs one scan cycle for the asset: page through the indexer from
// the persisted cursor, ingest external inbounds, and advance the cursor. A
// 429 stops the cycle with the cursor preserved; the next tick resumes.
func (s *Scanner) ScanAsset(ctx context.Context, assetID uint64) error {
	cursor, err := s.store.GetAssetCursor(ctx, assetID)
	if err != nil {
		return err
	}

	tracked, err := s.trackedSet(ctx)
	if err != nil {
		return err
	}

	minRound := cursor.LastRound
	if s.lookback > 0 && minRound > s.lookback {
		minRound -= s.lookback
	}
	nextToken := cursor.NextToken.String

	for {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		page, err := s.gw.SearchAssetTransfers(ctx, assetID, minRound, nextToken, s.pageLimit)
		if err != nil {
			if apperr.IsRateLimited(err) {
				s.log.Info(ctx, "indexer rate limited, resuming next tick", logging.Fields{"asset": assetID})
				return nil
			}
			return err
		}
		metrics.ScannerPages.Inc()

		maxRound := cursor.LastRound
		err = s.store.InTx(ctx, func(tx *store.Store) error {
			for i := range page.Transactions {
				txn := &page.Transactions[i]
				if txn.ConfirmedRound > maxRound {
					maxRound = txn.ConfirmedRound
				}
				if err := s.ingest(ctx, tx, assetID, txn, tracked); err != nil {
					return err
				}
			}

			last := maxRound
			if len(page.Transactions) > 0 {
				last++
			}
			return tx.UpsertAssetCursor(ctx, store.AssetCursor{
				AssetID:   assetID,
				LastRound: last,
				NextToken: nullString(page.NextToken),
			})
		})
		if err != nil {
			return err
		}
		cursor.LastRound = maxRound

		if page.NextToken == "" || uint64(len(page.Transactions)) < s.pageLimit {
			return nil
		}
		nextToken = page.NextToken
	}
}

// ingest processes one indexer transaction inside the page transaction.
func (s *Scanner) ingest(ctx context.Context, tx *store.Store, assetID uint64, txn *models.Transaction, tracked map[string]store.Account) error {
	axfer := txn.AssetTransferTransaction
	receiver, isTracked := tracked[axfer.Receiver]
	if !isTracked {
		return nil
	}

	inserted, err := tx.InsertProcessedInboundTx(ctx, store.ProcessedInboundTx{
		TxID:           txn.Id,
		Intra:          txn.IntraRoundOffset,
		AssetID:        assetID,
		Sender:         txn.Sender,
		Receiver:       axfer.Receiver,
		ConfirmedRound: txn.ConfirmedRound,
	})
	if err != nil {
		return err
	}
	if !inserted {
		return nil
	}

	_, senderTracked := tracked[txn.Sender]
	if senderTracked && txn.Sender != s.sponsorAddr {
		// The submitter owns this row; promote it if its wait expired.
		_, err := tx.PromoteSubmittedByTxHash(ctx, txn.Id)
		return err
	}

	amount, err := s.assetAmount(ctx, assetID, axfer.Amount)
	if err != nil {
		return err
	}

	row := store.Transfer{
		SenderExternal:      true,
		SenderAddress:       txn.Sender,
		SenderDisplayName:   store.ExternalDisplayName,
		RecipientAddress:    axfer.Receiver,
		RecipientUserID:     receiver.OwnerUserID,
		RecipientBusinessID: receiver.BusinessID,
		Amount:              amount,
		AssetID:             assetID,
		Status:              store.TransferConfirmed,
		TransactionHash:     nullString(txn.Id),
	}
	created, err := tx.CreateTransfer(ctx, row)
	if err != nil {
		return err
	}
	if err := tx.InsertWalletEvent(ctx, "external_deposit", created.ID, txn.Id, map[string]interface{}{
		"asset_id": assetID,
		"amount":   money.Format(amount),
		"sender":   txn.Sender,
	}); err != nil {
		return err
	}

	metrics.ScannerRows.WithLabelValues(strconv.FormatUint(assetID, 10)).Inc()
	s.log.Info(ctx, "external inbound ingested", logging.Fields{
		"txid":   txn.Id,
		"asset":  assetID,
		"amount": money.Format(amount),
	})
	return nil
}

// assetAmount converts micro-units using the asset's reported precision,
// caching the asset_info lookup.
func (s *Scanner) assetAmount(ctx context.Context, assetID, micro uint64) (decimal.Decimal, error) {
	s.mu.Lock()
	dec, ok := s.decimals[assetID]
	s.mu.Unlock()
	if !ok {
		asset, err := s.gw.AssetInformation(ctx, assetID)
		if err != nil {
			return decimal.Decimal{}, err
		}
		dec = asset.Params.Decimals
		if dec == 0 {
			dec = money.Decimals
		}
		s.mu.Lock()
		s.decimals[assetID] = dec
		s.mu.Unlock()
	}
	return money.FromMicroWithDecimals(micro, dec), nil
}

func (s *Scanner) trackedSet(ctx context.Context) (map[string]store.Account, error) {
	accts, err := s.store.ListTrackedAccounts(ctx)
	if err != nil {
		return nil, err
	}
	set := make(map[string]store.Account, len(accts))
	for _, a := range accts {
		set[a.Address] = a
	}
	return set, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
