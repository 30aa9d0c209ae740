// Package store persists the engine's domain records in PostgreSQL.
//
// Rows are never deleted: transfers and accounts are soft-deleted, everything
// else only advances status. The scanner's marker and cursor tables must
// survive deployments; see schema.sql for the expected layout.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("store: not found")

// ErrDuplicate is returned on unique-constraint violations (idempotency keys,
// transaction hashes).
var ErrDuplicate = errors.New("store: duplicate")

// Store provides access to all domain tables. The zero value is not usable;
// construct with New. A Store returned by InTx is bound to that transaction.
type Store struct {
	db *sqlx.DB
	q  sqlx.ExtContext
}

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db, q: db}
}

// Open connects to Postgres and verifies the connection.
func Open(url string, maxOpen, maxIdle int) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// InTx runs fn with a Store bound to a single database transaction,
// committing on nil and rolling back on error or panic.
func (s *Store) InTx(ctx context.Context, fn func(tx *Store) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&Store{db: s.db, q: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// translate maps driver errors onto store sentinels.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrDuplicate, pqErr.Constraint)
	}
	return err
}

// =============================================================================
// Accounts
// =============================================================================

// GetAccountByAddress returns the non-deleted account owning the address.
func (s *Store) GetAccountByAddress(ctx context.Context, address string) (Account, error) {
	var acct Account
	err := sqlx.GetContext(ctx, s.q, &acct, `
		SELECT * FROM accounts
		WHERE address = $1 AND deleted_at IS NULL
	`, address)
	return acct, translate(err)
}

// ListTrackedAddresses returns every live account address. The scanner uses
// this set to classify inbound transfer receivers and senders.
func (s *Store) ListTrackedAddresses(ctx context.Context) ([]string, error) {
	var addrs []string
	err := sqlx.SelectContext(ctx, s.q, &addrs, `
		SELECT address FROM accounts WHERE deleted_at IS NULL
	`)
	return addrs, translate(err)
}

// GetAccount returns an account by id.
func (s *Store) GetAccount(ctx context.Context, id string) (Account, error) {
	var acct Account
	err := sqlx.GetContext(ctx, s.q, &acct, `SELECT * FROM accounts WHERE id = $1`, id)
	return acct, translate(err)
}

// ListTrackedAccounts returns every live account. The scanner keys this set
// by address to classify inbound senders and receivers.
func (s *Store) ListTrackedAccounts(ctx context.Context) ([]Account, error) {
	var accts []Account
	err := sqlx.SelectContext(ctx, s.q, &accts, `
		SELECT * FROM accounts WHERE deleted_at IS NULL
	`)
	return accts, translate(err)
}

// CreateAccount inserts a new account row.
func (s *Store) CreateAccount(ctx context.Context, acct Account) (Account, error) {
	if acct.ID == "" {
		acct.ID = uuid.NewString()
	}
	acct.CreatedAt = time.Now().UTC()
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO accounts (id, owner_user_id, business_id, account_type, account_index, address, display_name, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, acct.ID, acct.OwnerUserID, acct.BusinessID, acct.AccountType, acct.AccountIndex, acct.Address, acct.DisplayName, acct.CreatedAt)
	if err != nil {
		return Account{}, translate(err)
	}
	return acct, nil
}

// =============================================================================
// Transfers
// =============================================================================

// CreateTransfer inserts a transfer row. A duplicate (sender, idempotency_key)
// or transaction_hash returns ErrDuplicate.
func (s *Store) CreateTransfer(ctx context.Context, t Transfer) (Transfer, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	if t.Status == "" {
		t.Status = TransferPending
	}

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO transfers (
			id, sender_user_id, sender_business_id, sender_external, sender_address, sender_display_name,
			recipient_user_id, recipient_business_id, recipient_external, recipient_address,
			amount, asset_id, memo, status, transaction_hash, idempotency_key,
			is_invitation, invitation_expires_at, error_message, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)
	`, t.ID, t.SenderUserID, t.SenderBusinessID, t.SenderExternal, t.SenderAddress, t.SenderDisplayName,
		t.RecipientUserID, t.RecipientBusinessID, t.RecipientExternal, t.RecipientAddress,
		t.Amount, t.AssetID, t.Memo, t.Status, t.TransactionHash, t.IdempotencyKey,
		t.IsInvitation, t.InvitationExpiresAt, t.ErrorMessage, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return Transfer{}, translate(err)
	}
	return t, nil
}

// GetTransfer returns a transfer by id.
func (s *Store) GetTransfer(ctx context.Context, id string) (Transfer, error) {
	var t Transfer
	err := sqlx.GetContext(ctx, s.q, &t, `SELECT * FROM transfers WHERE id = $1`, id)
	return t, translate(err)
}

// UpdateTransferStatus advances a transfer's state, optionally recording the
// transaction hash or an error message.
func (s *Store) UpdateTransferStatus(ctx context.Context, id, status, txHash, errMsg string) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE transfers
		SET status = $2,
		    transaction_hash = COALESCE(NULLIF($3, ''), transaction_hash),
		    error_message = NULLIF($4, ''),
		    updated_at = $5
		WHERE id = $1
	`, id, status, txHash, errMsg, time.Now().UTC())
	if err != nil {
		return translate(err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

// =============================================================================
// Conversions
// =============================================================================

// CreateConversion inserts a conversion row with the fixed 1:1 rate.
func (s *Store) CreateConversion(ctx context.Context, c Conversion) (Conversion, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	if c.Status == "" {
		c.Status = ConversionPending
	}
	if c.ExchangeRate.IsZero() {
		c.ExchangeRate = decimal.NewFromInt(1)
	}

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO conversions (
			id, user_id, business_id, direction, from_amount, to_amount,
			exchange_rate, fee, status, from_tx_hash, to_tx_hash, error_message, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, c.ID, c.UserID, c.BusinessID, c.Direction, c.FromAmount, c.ToAmount,
		c.ExchangeRate, c.Fee, c.Status, c.FromTxHash, c.ToTxHash, c.ErrorMessage, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return Conversion{}, translate(err)
	}
	return c, nil
}

// GetConversion returns a conversion by id.
func (s *Store) GetConversion(ctx context.Context, id string) (Conversion, error) {
	var c Conversion
	err := sqlx.GetContext(ctx, s.q, &c, `SELECT * FROM conversions WHERE id = $1`, id)
	return c, translate(err)
}

// UpdateConversionStatus advances a conversion's state.
func (s *Store) UpdateConversionStatus(ctx context.Context, id, status, txHash, errMsg string) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE conversions
		SET status = $2,
		    from_tx_hash = COALESCE(NULLIF($3, ''), from_tx_hash),
		    error_message = NULLIF($4, ''),
		    updated_at = $5
		WHERE id = $1
	`, id, status, txHash, errMsg, time.Now().UTC())
	if err != nil {
		return translate(err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

// SweepStalePrepared fails transfer and conversion rows stuck before
// signature for longer than ttl. Returns the number of rows failed.
func (s *Store) SweepStalePrepared(ctx context.Context, ttl time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-ttl)
	var total int64

	res, err := s.q.ExecContext(ctx, `
		UPDATE transfers SET status = $1, error_message = 'prepared group expired', updated_at = NOW()
		WHERE status IN ($2, $3) AND created_at < $4
	`, TransferFailed, TransferPending, TransferSponsoring, cutoff)
	if err != nil {
		return 0, translate(err)
	}
	n, _ := res.RowsAffected()
	total += n

	res, err = s.q.ExecContext(ctx, `
		UPDATE conversions SET status = $1, error_message = 'prepared group expired', updated_at = NOW()
		WHERE status IN ($2, $3) AND created_at < $4
	`, ConversionFailed, ConversionPending, ConversionPendingSig, cutoff)
	if err != nil {
		return total, translate(err)
	}
	n, _ = res.RowsAffected()
	total += n

	res, err = s.q.ExecContext(ctx, `
		UPDATE withdrawals SET status = $1, error_message = 'prepared group expired', updated_at = NOW()
		WHERE status = $2 AND created_at < $3
	`, MovementFailed, MovementPending, cutoff)
	if err != nil {
		return total, translate(err)
	}
	n, _ = res.RowsAffected()
	total += n

	return total, nil
}
