package store

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

// On-ramp provider states the reconciler still polls for.
var onRampOpenStates = []string{"new", "waiting", "pending", "confirmed", "exchanging", "sending"}

// ListOpenOnRampOrders returns non-terminal provider orders created within
// maxAge, oldest first.
func (s *Store) ListOpenOnRampOrders(ctx context.Context, maxAge time.Duration) ([]OnRampOrder, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	query, args, err := sqlx.In(`
		SELECT * FROM onramp_orders
		WHERE status IN (?) AND created_at >= ?
		ORDER BY created_at
	`, onRampOpenStates, cutoff)
	if err != nil {
		return nil, err
	}

	var rows []OnRampOrder
	err = sqlx.SelectContext(ctx, s.q, &rows, sqlx.Rebind(sqlx.DOLLAR, query), args...)
	return rows, translate(err)
}

// UpdateOnRampOrder records the provider-reported status and actual amount.
func (s *Store) UpdateOnRampOrder(ctx context.Context, o OnRampOrder) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE onramp_orders
		SET status = $2, to_amount_actual = $3, updated_at = $4
		WHERE id = $1
	`, o.ID, o.Status, o.ToAmountActual, time.Now().UTC())
	if err != nil {
		return translate(err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}
