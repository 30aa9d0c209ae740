package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// =============================================================================
// Deposits
// =============================================================================

// CreateDeposit inserts a deposit row.
func (s *Store) CreateDeposit(ctx context.Context, d Deposit) (Deposit, error) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	d.CreatedAt = now
	d.UpdatedAt = now
	if d.Status == "" {
		d.Status = MovementPending
	}

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO deposits (id, user_id, business_id, amount, from_address, network, status, transaction_hash, onramp_order_id, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, d.ID, d.UserID, d.BusinessID, d.Amount, d.FromAddress, d.Network, d.Status, d.TransactionHash, d.OnRampOrderID, d.CreatedAt, d.UpdatedAt)
	if err != nil {
		return Deposit{}, translate(err)
	}
	return d, nil
}

// UpdateDepositStatus advances a deposit's state.
func (s *Store) UpdateDepositStatus(ctx context.Context, id, status string) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE deposits SET status = $2, updated_at = $3 WHERE id = $1
	`, id, status, time.Now().UTC())
	if err != nil {
		return translate(err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

// ListUnlinkedCompletedDeposits returns completed deposits for the actor with
// no on-ramp order link yet, newest first. Used by the on-ramp reconciler.
func (s *Store) ListUnlinkedCompletedDeposits(ctx context.Context, userID, businessID string, since time.Time) ([]Deposit, error) {
	var rows []Deposit
	err := sqlx.SelectContext(ctx, s.q, &rows, `
		SELECT * FROM deposits
		WHERE status = $1
		  AND onramp_order_id IS NULL
		  AND created_at >= $2
		  AND (($3 <> '' AND user_id = $3) OR ($4 <> '' AND business_id = $4))
		ORDER BY created_at DESC
	`, MovementCompleted, since, userID, businessID)
	return rows, translate(err)
}

// LinkDepositToOrder sets the deposit's on-ramp order foreign key. Linking is
// first-write-wins: a deposit already linked is left untouched.
func (s *Store) LinkDepositToOrder(ctx context.Context, depositID, orderID string) (bool, error) {
	res, err := s.q.ExecContext(ctx, `
		UPDATE deposits SET onramp_order_id = $2, updated_at = $3
		WHERE id = $1 AND onramp_order_id IS NULL
	`, depositID, orderID, time.Now().UTC())
	if err != nil {
		return false, translate(err)
	}
	rows, _ := res.RowsAffected()
	return rows > 0, nil
}

// =============================================================================
// Withdrawals
// =============================================================================

// CreateWithdrawal inserts a withdrawal row.
func (s *Store) CreateWithdrawal(ctx context.Context, w Withdrawal) (Withdrawal, error) {
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	w.CreatedAt = now
	w.UpdatedAt = now
	if w.Status == "" {
		w.Status = MovementPending
	}

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO withdrawals (id, user_id, business_id, amount, to_address, network, service_fee, status, transaction_hash, error_message, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, w.ID, w.UserID, w.BusinessID, w.Amount, w.ToAddress, w.Network, w.ServiceFee, w.Status, w.TransactionHash, w.ErrorMessage, w.CreatedAt, w.UpdatedAt)
	if err != nil {
		return Withdrawal{}, translate(err)
	}
	return w, nil
}

// GetWithdrawal returns a withdrawal by id.
func (s *Store) GetWithdrawal(ctx context.Context, id string) (Withdrawal, error) {
	var w Withdrawal
	err := sqlx.GetContext(ctx, s.q, &w, `SELECT * FROM withdrawals WHERE id = $1`, id)
	return w, translate(err)
}

// UpdateWithdrawalStatus advances a withdrawal's state.
func (s *Store) UpdateWithdrawalStatus(ctx context.Context, id, status, txHash, errMsg string) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE withdrawals
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
