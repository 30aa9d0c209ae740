package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// InsertWalletEvent appends a row to the unified event feed. Callers invoke
// this inside the same InTx block that advances the source record, so the
// read model can never disagree with the source of truth.
func (s *Store) InsertWalletEvent(ctx context.Context, kind, refID, txHash string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO wallet_events (id, kind, ref_id, tx_hash, payload, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, uuid.NewString(), kind, refID, txHash, body, time.Now().UTC())
	return translate(err)
}
