// Package reconciler keeps the durable balance rows aligned with chain state.
//
// Two passes run on different cadences: a frequent stale-row refresh bounded
// by batch size, and a slower full reconciliation covering accounts whose
// rows have not been checked against the ledger recently.
package reconciler

import (
	"context"
	"fmt"
	"time"

	"github.com/Confio-Network/wallet-engine/internal/balance"
	"github.com/Confio-Network/wallet-engine/internal/logging"
	"github.com/Confio-Network/wallet-engine/internal/metrics"
	"github.com/Confio-Network/wallet-engine/internal/store"
)

const (
	// DefaultStaleBatch bounds one refresh pass.
	DefaultStaleBatch = 100
	// DefaultRateLimitDelay spaces per-account chain reads.
	DefaultRateLimitDelay = 200 * time.Millisecond
	// DefaultMaxCheckAge is how long a row may go without a ledger check.
	DefaultMaxCheckAge = time.Hour
	// alarmFailureRatio is the full-pass failure ratio that raises an alarm.
	alarmFailureRatio = 0.10
)

// Reconciler refreshes stale balances from the ledger.
type Reconciler struct {
	store          *store.Store
	cache          *balance.Cache
	staleBatch     int
	rateLimitDelay time.Duration
	maxCheckAge    time.Duration
	log            *logging.Logger
}

// Config holds reconciler construction parameters.
type Config struct {
	Store          *store.Store
	Cache          *balance.Cache
	StaleBatch     int
	RateLimitDelay time.Duration
	MaxCheckAge    time.Duration
	Logger         *logging.Logger
}

// New creates a Reconciler.
func New(cfg Config) *Reconciler {
	r := &Reconciler{
		store:          cfg.Store,
		cache:          cfg.Cache,
		staleBatch:     cfg.StaleBatch,
		rateLimitDelay: cfg.RateLimitDelay,
		maxCheckAge:    cfg.MaxCheckAge,
		log:            cfg.Logger,
	}
	if r.staleBatch <= 0 {
		r.staleBatch = DefaultStaleBatch
	}
	if r.rateLimitDelay <= 0 {
		r.rateLimitDelay = DefaultRateLimitDelay
	}
	if r.maxCheckAge <= 0 {
		r.maxCheckAge = DefaultMaxCheckAge
	}
	if r.log == nil {
		r.log = logging.Nop()
	}
	return r
}

// RefreshStaleBalances refreshes up to the batch limit of stale rows, one
// chain read per account, pacing reads to stay under node rate limits. A
// failing account gets its sync_attempts bumped and the pass continues.
func (r *Reconciler) RefreshStaleBalances(ctx context.Context) error {
	rows, err := r.store.ListStaleBalances(ctx, r.staleBatch)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	// Rows arrive ordered by account; collapse to one entry per account.
	type target struct{ id, address string }
	var targets []target
	for _, row := range rows {
		if len(targets) == 0 || targets[len(targets)-1].id != row.AccountID {
			targets = append(targets, target{row.AccountID, row.Address})
		}
	}

	for i, tgt := range targets {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.rateLimitDelay):
			}
		}

		if err := r.cache.Reconcile(ctx, tgt.id, tgt.address); err != nil {
			metrics.BalanceRefreshes.WithLabelValues("failure").Inc()
			r.log.Warn(ctx, "stale balance refresh failed", logging.Fields{
				"account": tgt.id,
				"error":   err.Error(),
			})
			if err := r.store.IncrementSyncAttempts(ctx, tgt.id); err != nil {
				r.log.Error(ctx, "sync attempt bump failed", logging.Fields{
					"account": tgt.id, "error": err.Error(),
				})
			}
			continue
		}
		metrics.BalanceRefreshes.WithLabelValues("success").Inc()
	}
	return nil
}

// ReconcileAll reconciles every account that is stale or unchecked for longer
// than the max check age. A failure ratio above the alarm threshold returns
// an error so the worker host surfaces it.
func (r *Reconciler) ReconcileAll(ctx context.Context) error {
	ids, err := r.store.ListAccountsNeedingReconcile(ctx, r.maxCheckAge)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	var failed int
	for i, id := range ids {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.rateLimitDelay):
			}
		}

		acct, err := r.store.GetAccount(ctx, id)
		if err != nil {
			failed++
			r.log.Warn(ctx, "reconcile account lookup failed", logging.Fields{"account": id, "error": err.Error()})
			continue
		}
		if err := r.cache.Reconcile(ctx, acct.ID, acct.Address); err != nil {
			failed++
			r.log.Warn(ctx, "account reconcile failed", logging.Fields{"account": id, "error": err.Error()})
		}
	}

	ratio := float64(failed) / float64(len(ids))
	r.log.Info(ctx, "full reconcile pass finished", logging.Fields{
		"accounts": len(ids),
		"failed":   failed,
	})
	if ratio > alarmFailureRatio {
		return fmt.Errorf("reconcile failure ratio %.0f%% over %d accounts exceeds %.0f%%",
			ratio*100, len(ids), alarmFailureRatio*100)
	}
	return nil
}
