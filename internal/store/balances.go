package store

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// GetBalance returns the durable balance row for (account, asset).
func (s *Store) GetBalance(ctx context.Context, accountID string, assetID uint64) (Balance, error) {
	var b Balance
	err := sqlx.GetContext(ctx, s.q, &b, `
		SELECT * FROM balances WHERE account_id = $1 AND asset_id = $2
	`, accountID, assetID)
	return b, translate(err)
}

// UpsertBalance writes the authoritative amount for (account, asset), clearing
// staleness and zeroing sync attempts. Balance rows are created lazily here on
// first observation.
func (s *Store) UpsertBalance(ctx context.Context, accountID, address string, assetID uint64, amount decimal.Decimal) error {
	now := time.Now().UTC()
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO balances (account_id, address, asset_id, amount, pending_amount, is_stale, last_synced, last_blockchain_check, sync_attempts)
		VALUES ($1, $2, $3, $4, 0, FALSE, $5, $5, 0)
		ON CONFLICT (account_id, asset_id) DO UPDATE
		SET amount = EXCLUDED.amount,
		    is_stale = FALSE,
		    last_synced = EXCLUDED.last_synced,
		    last_blockchain_check = EXCLUDED.last_blockchain_check,
		    sync_attempts = 0
	`, accountID, address, assetID, amount, now)
	return translate(err)
}

// MarkStale sets is_stale on one asset's row, or on every row for the account
// when assetID is nil.
func (s *Store) MarkStale(ctx context.Context, accountID string, assetID *uint64) error {
	if assetID != nil {
		_, err := s.q.ExecContext(ctx, `
			UPDATE balances SET is_stale = TRUE WHERE account_id = $1 AND asset_id = $2
		`, accountID, *assetID)
		return translate(err)
	}
	_, err := s.q.ExecContext(ctx, `
		UPDATE balances SET is_stale = TRUE WHERE account_id = $1
	`, accountID)
	return translate(err)
}

// UpdatePendingAmount atomically increments pending_amount by delta.
func (s *Store) UpdatePendingAmount(ctx context.Context, accountID string, assetID uint64, delta decimal.Decimal) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE balances SET pending_amount = pending_amount + $3
		WHERE account_id = $1 AND asset_id = $2
	`, accountID, assetID, delta)
	if err != nil {
		return translate(err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

// ListStaleBalances returns up to limit stale rows, ordered so all rows for a
// given account are adjacent; the reconciler groups them into one chain read.
func (s *Store) ListStaleBalances(ctx context.Context, limit int) ([]Balance, error) {
	var rows []Balance
	err := sqlx.SelectContext(ctx, s.q, &rows, `
		SELECT * FROM balances
		WHERE is_stale = TRUE
		ORDER BY account_id, asset_id
		LIMIT $1
	`, limit)
	return rows, translate(err)
}

// ListAccountsNeedingReconcile returns distinct account ids whose balances are
// stale or unchecked for longer than maxAge.
func (s *Store) ListAccountsNeedingReconcile(ctx context.Context, maxAge time.Duration) ([]string, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	var ids []string
	err := sqlx.SelectContext(ctx, s.q, &ids, `
		SELECT DISTINCT account_id FROM balances
		WHERE is_stale = TRUE
		   OR last_blockchain_check IS NULL
		   OR last_blockchain_check < $1
	`, cutoff)
	return ids, translate(err)
}

// ListBalancesForAccount returns all balance rows for the account, locking
// them for update within the surrounding transaction.
func (s *Store) ListBalancesForAccount(ctx context.Context, accountID string) ([]Balance, error) {
	var rows []Balance
	err := sqlx.SelectContext(ctx, s.q, &rows, `
		SELECT * FROM balances WHERE account_id = $1 FOR UPDATE
	`, accountID)
	return rows, translate(err)
}

// IncrementSyncAttempts bumps sync_attempts for the account's stale rows after
// a failed refresh.
func (s *Store) IncrementSyncAttempts(ctx context.Context, accountID string) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE balances SET sync_attempts = sync_attempts + 1
		WHERE account_id = $1 AND is_stale = TRUE
	`, accountID)
	return translate(err)
}
