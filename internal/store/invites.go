package store

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

// CreatePhoneInvite inserts the database mirror of an on-chain invitation.
// The invitation id is unique per phone key; re-inviting the same phone while
// a pending invite exists returns ErrDuplicate.
func (s *Store) CreatePhoneInvite(ctx context.Context, inv PhoneInvite) (PhoneInvite, error) {
	now := time.Now().UTC()
	inv.CreatedAt = now
	inv.UpdatedAt = now
	if inv.Status == "" {
		inv.Status = InvitePending
	}

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO phone_invites (invitation_id, phone_key, inviter_user_id, asset_id, amount, message, status, expires_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, inv.InvitationID, inv.PhoneKey, inv.InviterUserID, inv.AssetID, inv.Amount, inv.Message, inv.Status, inv.ExpiresAt, inv.CreatedAt, inv.UpdatedAt)
	if err != nil {
		return PhoneInvite{}, translate(err)
	}
	return inv, nil
}

// GetPhoneInvite returns an invite by invitation id.
func (s *Store) GetPhoneInvite(ctx context.Context, invitationID string) (PhoneInvite, error) {
	var inv PhoneInvite
	err := sqlx.GetContext(ctx, s.q, &inv, `
		SELECT * FROM phone_invites WHERE invitation_id = $1
	`, invitationID)
	return inv, translate(err)
}

// MarkInviteClaimed advances a pending invite to claimed, recording the claim
// transaction. Claiming a non-pending invite returns ErrNotFound so the
// caller can surface the conflict.
func (s *Store) MarkInviteClaimed(ctx context.Context, invitationID, claimTxID string) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE phone_invites
		SET status = $2, claimed_txid = $3, claimed_at = $4, updated_at = $4
		WHERE invitation_id = $1 AND status = $5
	`, invitationID, InviteClaimed, claimTxID, time.Now().UTC(), InvitePending)
	if err != nil {
		return translate(err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkInviteReclaimed advances an expired pending invite to reclaimed.
func (s *Store) MarkInviteReclaimed(ctx context.Context, invitationID string) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE phone_invites
		SET status = $2, updated_at = $3
		WHERE invitation_id = $1 AND status = $4
	`, invitationID, InviteReclaimed, time.Now().UTC(), InvitePending)
	if err != nil {
		return translate(err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}
