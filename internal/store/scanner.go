package store

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

// =============================================================================
// Inbound markers
// =============================================================================

// InsertProcessedInboundTx inserts the (txid, intra) idempotency marker with
// on-conflict-do-nothing semantics. It reports whether the row was inserted;
// false means the pair was already processed and the caller must skip it.
func (s *Store) InsertProcessedInboundTx(ctx context.Context, m ProcessedInboundTx) (bool, error) {
	m.CreatedAt = time.Now().UTC()
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO processed_inbound_txs (txid, intra, asset_id, sender, receiver, confirmed_round, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (txid, intra) DO NOTHING
	`, m.TxID, m.Intra, m.AssetID, m.Sender, m.Receiver, m.ConfirmedRound, m.CreatedAt)
	if err != nil {
		return false, translate(err)
	}
	rows, _ := res.RowsAffected()
	return rows > 0, nil
}

// PromoteSubmittedByTxHash advances rows waiting on the transaction hash from
// their submitted state to the terminal success state. The scanner calls this
// when it observes a transaction the submitter gave up waiting for. Returns
// the number of rows promoted across transfers, conversions and withdrawals.
func (s *Store) PromoteSubmittedByTxHash(ctx context.Context, txHash string) (int64, error) {
	now := time.Now().UTC()
	var total int64

	res, err := s.q.ExecContext(ctx, `
		UPDATE transfers SET status = $1, updated_at = $2
		WHERE transaction_hash = $3 AND status = $4
	`, TransferConfirmed, now, txHash, TransferSubmitted)
	if err != nil {
		return 0, translate(err)
	}
	n, _ := res.RowsAffected()
	total += n

	res, err = s.q.ExecContext(ctx, `
		UPDATE conversions SET status = $1, updated_at = $2
		WHERE from_tx_hash = $3 AND status = $4
	`, ConversionCompleted, now, txHash, ConversionSubmitted)
	if err != nil {
		return total, translate(err)
	}
	n, _ = res.RowsAffected()
	total += n

	res, err = s.q.ExecContext(ctx, `
		UPDATE withdrawals SET status = $1, updated_at = $2
		WHERE transaction_hash = $3 AND status = $4
	`, MovementCompleted, now, txHash, MovementProcessing)
	if err != nil {
		return total, translate(err)
	}
	n, _ = res.RowsAffected()
	total += n

	return total, nil
}

// =============================================================================
// Asset cursors
// =============================================================================

// GetAssetCursor returns the scanner's position for the asset. A missing row
// returns a zero cursor, not ErrNotFound: the scanner starts from scratch.
func (s *Store) GetAssetCursor(ctx context.Context, assetID uint64) (AssetCursor, error) {
	var c AssetCursor
	err := sqlx.GetContext(ctx, s.q, &c, `
		SELECT * FROM indexer_asset_cursors WHERE asset_id = $1
	`, assetID)
	if err != nil {
		if translate(err) == ErrNotFound {
			return AssetCursor{AssetID: assetID}, nil
		}
		return AssetCursor{}, translate(err)
	}
	return c, nil
}

// UpsertAssetCursor persists the scanner's position for the asset.
func (s *Store) UpsertAssetCursor(ctx context.Context, c AssetCursor) error {
	c.UpdatedAt = time.Now().UTC()
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO indexer_asset_cursors (asset_id, last_round, next_token, updated_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (asset_id) DO UPDATE
		SET last_round = EXCLUDED.last_round,
		    next_token = EXCLUDED.next_token,
		    updated_at = EXCLUDED.updated_at
	`, c.AssetID, c.LastRound, c.NextToken, c.UpdatedAt)
	return translate(err)
}
