// Package sponsor tracks the sponsor account's funding health and gates
// sponsored operations on it.
//
// The sponsor balance is a global mutable resource consumed by every prepared
// group; CanSponsor is a soft pre-check that rejects obviously underfunded
// operations before any transaction is built. The chain itself serializes
// concurrent spends.
package sponsor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/Confio-Network/wallet-engine/internal/apperr"
	"github.com/Confio-Network/wallet-engine/internal/chain"
	"github.com/Confio-Network/wallet-engine/internal/logging"
	"github.com/Confio-Network/wallet-engine/internal/metrics"
	"github.com/Confio-Network/wallet-engine/internal/txbuilder"
)

// kvTTL is the sponsor-balance cache lifetime.
const kvTTL = 60 * time.Second

const (
	kvKey          = "sponsor:health"
	kvSponsoredKey = "sponsor:ops:sponsored"
	kvRejectedKey  = "sponsor:ops:rejected"
)

// Health is the sponsor account's funding snapshot.
type Health struct {
	Address    string    `json:"address"`
	Balance    uint64    `json:"balance"`
	MinBalance uint64    `json:"min_balance"`
	Available  uint64    `json:"available"`
	Healthy    bool      `json:"healthy"`
	Warning    bool      `json:"warning"`
	CheckedAt  time.Time `json:"checked_at"`
}

// Service reads sponsor health and answers CanSponsor checks.
type Service struct {
	gw      chain.Gateway
	kv      *redis.Client
	address string

	// minReserve is the microbase floor kept above MBR at all times.
	minReserve uint64
	// warnThreshold triggers operator warnings while still sponsoring.
	warnThreshold uint64

	log *logging.Logger

	sponsored atomic.Uint64
	rejected  atomic.Uint64
}

// Config holds sponsor service construction parameters.
type Config struct {
	Gateway       chain.Gateway
	KV            *redis.Client
	Address       string
	MinReserve    uint64
	WarnThreshold uint64
	Logger        *logging.Logger
}

// New creates a sponsor Service.
func New(cfg Config) *Service {
	log := cfg.Logger
	if log == nil {
		log = logging.Nop()
	}
	return &Service{
		gw:            cfg.Gateway,
		kv:            cfg.KV,
		address:       cfg.Address,
		minReserve:    cfg.MinReserve,
		warnThreshold: cfg.WarnThreshold,
		log:           log,
	}
}

// Address returns the configured sponsor address.
func (s *Service) Address() string { return s.address }

// CheckHealth returns the sponsor's funding snapshot, served from the KV
// cache when fresh.
func (s *Service) CheckHealth(ctx context.Context) (Health, error) {
	if s.kv != nil {
		raw, err := s.kv.Get(ctx, kvKey).Bytes()
		if err == nil {
			var h Health
			if json.Unmarshal(raw, &h) == nil {
				return h, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			s.log.Warn(ctx, "sponsor health kv read failed", logging.Fields{"error": err.Error()})
		}
	}
	return s.refresh(ctx)
}

// refresh reads the authoritative balance and refills the cache.
func (s *Service) refresh(ctx context.Context) (Health, error) {
	acct, err := s.gw.AccountInformation(ctx, s.address)
	if err != nil {
		return Health{}, err
	}

	h := Health{
		Address:    s.address,
		Balance:    acct.Amount,
		MinBalance: acct.MinBalance,
		CheckedAt:  time.Now().UTC(),
	}
	if acct.Amount > acct.MinBalance {
		h.Available = acct.Amount - acct.MinBalance
	}
	h.Healthy = h.Available >= s.minReserve
	h.Warning = h.Available < s.warnThreshold

	metrics.SponsorBalance.Set(float64(h.Available))
	if h.Warning {
		s.log.Warn(ctx, "sponsor balance below warning threshold", logging.Fields{
			"available": h.Available,
			"threshold": s.warnThreshold,
		})
	}

	if s.kv != nil {
		if raw, err := json.Marshal(h); err == nil {
			if err := s.kv.Set(ctx, kvKey, raw, kvTTL).Err(); err != nil {
				s.log.Warn(ctx, "sponsor health kv write failed", logging.Fields{"error": err.Error()})
			}
		}
	}
	return h, nil
}

// EstimateCost returns the sponsor's worst-case microbase outlay for one
// operation of the family: the pooled fee plus one MBR top-up.
func EstimateCost(f txbuilder.Family, minFee uint64) uint64 {
	return txbuilder.FeeMultiplier(f)*minFee + minFee
}

// CanSponsor rejects the operation when the sponsor cannot cover its
// estimated cost plus the configured reserve. A cache-read failure degrades
// to allowing the operation; the chain enforces the real balance.
func (s *Service) CanSponsor(ctx context.Context, f txbuilder.Family, minFee uint64) error {
	h, err := s.CheckHealth(ctx)
	if err != nil {
		s.log.Warn(ctx, "sponsor health unavailable, allowing operation", logging.Fields{
			"family": string(f),
			"error":  err.Error(),
		})
		return nil
	}

	cost := EstimateCost(f, minFee)
	if h.Available < cost+s.minReserve {
		s.rejected.Add(1)
		s.persistCounter(ctx, kvRejectedKey)
		metrics.SponsoredOps.WithLabelValues("rejected").Inc()
		return apperr.Preflight(apperr.CodeSponsorUnavailable,
			fmt.Sprintf("sponsor cannot cover %s: available %d, need %d", f, h.Available, cost+s.minReserve))
	}

	s.sponsored.Add(1)
	s.persistCounter(ctx, kvSponsoredKey)
	metrics.SponsoredOps.WithLabelValues("sponsored").Inc()
	return nil
}

// persistCounter mirrors the op counters into the KV tier so they survive
// restarts and are visible across replicas. Best effort.
func (s *Service) persistCounter(ctx context.Context, key string) {
	if s.kv != nil {
		_ = s.kv.Incr(ctx, key).Err()
	}
}

// Invalidate drops the cached health snapshot, forcing the next check to hit
// the chain. Called after submissions that spend sponsor funds.
func (s *Service) Invalidate(ctx context.Context) {
	if s.kv != nil {
		_ = s.kv.Del(ctx, kvKey).Err()
	}
}

// Counters returns the sponsored/rejected totals since process start.
func (s *Service) Counters() (sponsored, rejected uint64) {
	return s.sponsored.Load(), s.rejected.Load()
}
