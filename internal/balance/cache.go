// Package balance implements the two-tier balance cache.
//
// Reads prefer the shared KV tier, fall back to the durable row, and finally
// to chain state. Writes go through the durable row first, then the KV entry.
// Staleness is advisory: a stale row may still be served, but the reconciler
// will refresh it from the authoritative ledger.
package balance

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"

	"github.com/Confio-Network/wallet-engine/internal/chain"
	"github.com/Confio-Network/wallet-engine/internal/logging"
	"github.com/Confio-Network/wallet-engine/internal/money"
	"github.com/Confio-Network/wallet-engine/internal/store"
)

// TTL of raw balance entries in the KV tier.
const kvTTL = 30 * time.Second

// ReconcileTolerance is the discrepancy above which chain state overwrites
// the cached amount.
var ReconcileTolerance = decimal.New(1, -6)

// Presale app local-state keys, base64 of "user_confio" and "claimed".
var (
	presaleTotalKey   = base64.StdEncoding.EncodeToString([]byte("user_confio"))
	presaleClaimedKey = base64.StdEncoding.EncodeToString([]byte("claimed"))
)

// Entry is the cache's answer for one (account, asset).
type Entry struct {
	Amount     decimal.Decimal `json:"amount"`
	Pending    decimal.Decimal `json:"pending"`
	Available  decimal.Decimal `json:"available"`
	IsStale    bool            `json:"is_stale"`
	LastSynced time.Time       `json:"last_synced"`
}

// Snapshot is one account's full holdings projected from a single chain read.
type Snapshot struct {
	Address             string
	MicroAlgos          uint64
	MinBalance          uint64
	Assets              map[uint64]decimal.Decimal
	OptedInAssets       map[uint64]bool
	OptedInApps         map[uint64]bool
	PresaleLockedConfio decimal.Decimal
}

// GetOptions tune a cache read.
type GetOptions struct {
	// ForceRefresh bypasses the KV tier and re-reads the durable row.
	ForceRefresh bool
	// VerifyCritical bypasses both cache tiers and queries the chain.
	VerifyCritical bool
}

// Cache is the two-tier balance cache.
type Cache struct {
	kv           *redis.Client
	store        *store.Store
	gw           chain.Gateway
	trackedAssets []uint64
	presaleAppID uint64
	log          *logging.Logger
}

// Config holds cache construction parameters.
type Config struct {
	KV            *redis.Client
	Store         *store.Store
	Gateway       chain.Gateway
	TrackedAssets []uint64
	PresaleAppID  uint64
	Logger        *logging.Logger
}

// New creates a Cache.
func New(cfg Config) *Cache {
	log := cfg.Logger
	if log == nil {
		log = logging.Nop()
	}
	return &Cache{
		kv:            cfg.KV,
		store:         cfg.Store,
		gw:            cfg.Gateway,
		trackedAssets: cfg.TrackedAssets,
		presaleAppID:  cfg.PresaleAppID,
		log:           log,
	}
}

func kvKey(address string, assetID uint64) string {
	return fmt.Sprintf("bal:%s:%d", address, assetID)
}

// Get returns the cached balance for (account, asset).
func (c *Cache) Get(ctx context.Context, accountID, address string, assetID uint64, opts GetOptions) (Entry, error) {
	if opts.VerifyCritical {
		return c.fromChain(ctx, accountID, address, assetID)
	}

	if !opts.ForceRefresh && c.kv != nil {
		raw, err := c.kv.Get(ctx, kvKey(address, assetID)).Bytes()
		if err == nil {
			var e Entry
			if json.Unmarshal(raw, &e) == nil {
				return e, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			c.log.Warn(ctx, "balance kv read failed", logging.Fields{"error": err.Error()})
		}
	}

	row, err := c.store.GetBalance(ctx, accountID, assetID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Lazy creation on first observation.
			return c.fromChain(ctx, accountID, address, assetID)
		}
		return Entry{}, err
	}

	e := entryFromRow(row)
	c.put(ctx, address, assetID, e)
	return e, nil
}

// MarkStale flags rows stale and invalidates the paired KV entries.
func (c *Cache) MarkStale(ctx context.Context, accountID, address string, assetID *uint64) error {
	if err := c.store.MarkStale(ctx, accountID, assetID); err != nil {
		return err
	}
	if c.kv == nil {
		return nil
	}
	if assetID != nil {
		return c.kv.Del(ctx, kvKey(address, *assetID)).Err()
	}
	keys := make([]string, 0, len(c.trackedAssets))
	for _, id := range c.trackedAssets {
		keys = append(keys, kvKey(address, id))
	}
	return c.kv.Del(ctx, keys...).Err()
}

// UpdatePending atomically adjusts the pending amount and drops the KV entry.
func (c *Cache) UpdatePending(ctx context.Context, accountID, address string, assetID uint64, delta decimal.Decimal) error {
	if err := c.store.UpdatePendingAmount(ctx, accountID, assetID, delta); err != nil {
		return err
	}
	if c.kv != nil {
		_ = c.kv.Del(ctx, kvKey(address, assetID)).Err()
	}
	return nil
}

// Reconcile fetches the authoritative balances for the account and overwrites
// any cached amount that diverges by more than the tolerance. Staleness is
// cleared and sync attempts zeroed on every reconciled asset.
func (c *Cache) Reconcile(ctx context.Context, accountID, address string) error {
	snap, err := c.Snapshot(ctx, address)
	if err != nil {
		return err
	}

	for _, assetID := range c.trackedAssets {
		chainAmount := snap.Assets[assetID]

		row, err := c.store.GetBalance(ctx, accountID, assetID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if err == nil && chainAmount.Sub(row.Amount).Abs().LessThanOrEqual(ReconcileTolerance) && !row.IsStale {
			continue
		}
		if err == nil && !chainAmount.Equal(row.Amount) {
			c.log.Info(ctx, "balance discrepancy reconciled from chain", logging.Fields{
				"account": accountID,
				"asset":   assetID,
				"cached":  row.Amount.String(),
				"chain":   chainAmount.String(),
			})
		}

		if err := c.store.UpsertBalance(ctx, accountID, address, assetID, chainAmount); err != nil {
			return err
		}
		c.put(ctx, address, assetID, Entry{
			Amount:     chainAmount,
			Available:  chainAmount,
			LastSynced: time.Now().UTC(),
		})
	}
	return nil
}

// Snapshot projects a single account_info call onto all tracked assets plus
// the presale-locked CONFIO derived from the presale app's local state.
func (c *Cache) Snapshot(ctx context.Context, address string) (Snapshot, error) {
	acct, err := c.gw.AccountInformation(ctx, address)
	if err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{
		Address:       address,
		MicroAlgos:    acct.Amount,
		MinBalance:    acct.MinBalance,
		Assets:        make(map[uint64]decimal.Decimal, len(c.trackedAssets)),
		OptedInAssets: make(map[uint64]bool, len(acct.Assets)),
		OptedInApps:   make(map[uint64]bool, len(acct.AppsLocalState)),
	}
	for _, id := range c.trackedAssets {
		snap.Assets[id] = decimal.Zero
	}
	for _, holding := range acct.Assets {
		snap.OptedInAssets[holding.AssetId] = true
		if _, tracked := snap.Assets[holding.AssetId]; tracked {
			snap.Assets[holding.AssetId] = money.FromMicro(holding.Amount)
		}
	}

	for _, app := range acct.AppsLocalState {
		snap.OptedInApps[app.Id] = true
		if app.Id != c.presaleAppID || c.presaleAppID == 0 {
			continue
		}
		var total, claimed uint64
		for _, kvp := range app.KeyValue {
			switch kvp.Key {
			case presaleTotalKey:
				total = kvp.Value.Uint
			case presaleClaimedKey:
				claimed = kvp.Value.Uint
			}
		}
		if total > claimed {
			snap.PresaleLockedConfio = money.FromMicro(total - claimed)
		}
	}

	return snap, nil
}

// fromChain reads the authoritative amount, persists it, and fills the KV.
func (c *Cache) fromChain(ctx context.Context, accountID, address string, assetID uint64) (Entry, error) {
	snap, err := c.Snapshot(ctx, address)
	if err != nil {
		return Entry{}, err
	}
	amount := snap.Assets[assetID]

	if err := c.store.UpsertBalance(ctx, accountID, address, assetID, amount); err != nil {
		return Entry{}, err
	}

	e := Entry{Amount: amount, Available: amount, LastSynced: time.Now().UTC()}
	c.put(ctx, address, assetID, e)
	return e, nil
}

func (c *Cache) put(ctx context.Context, address string, assetID uint64, e Entry) {
	if c.kv == nil {
		return
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return
	}
	if err := c.kv.Set(ctx, kvKey(address, assetID), raw, kvTTL).Err(); err != nil {
		c.log.Warn(ctx, "balance kv write failed", logging.Fields{"error": err.Error()})
	}
}

func entryFromRow(row store.Balance) Entry {
	e := Entry{
		Amount:  row.Amount,
		Pending: row.PendingAmount,
		IsStale: row.IsStale,
	}
	e.Available = row.Amount.Sub(row.PendingAmount)
	if e.Available.IsNegative() {
		e.Available = decimal.Zero
	}
	if row.LastSynced.Valid {
		e.LastSynced = row.LastSynced.Time
	}
	return e
}
