package onramp

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Confio-Network/wallet-engine/internal/apperr"
	"github.com/Confio-Network/wallet-engine/internal/logging"
	"github.com/Confio-Network/wallet-engine/internal/money"
	"github.com/Confio-Network/wallet-engine/internal/store"
)

// StatusFinished is the provider's terminal success state.
const StatusFinished = "finished"

// orderWindow bounds how old an open order may be before polling stops.
const orderWindow = 24 * time.Hour

// fuzzyTolerance is the relative band around the estimated amount.
var fuzzyTolerance = decimal.NewFromFloat(0.05)

// microTolerance is the absolute band around the actual amount.
var microTolerance = decimal.New(5, -6)

// Poller advances open on-ramp orders and links finished ones to deposits.
type Poller struct {
	provider Provider
	store    *store.Store
	log      *logging.Logger
}

// Config holds poller construction parameters.
type Config struct {
	Provider Provider
	Store    *store.Store
	Logger   *logging.Logger
}

// New creates a Poller.
func New(cfg Config) *Poller {
	log := cfg.Logger
	if log == nil {
		log = logging.Nop()
	}
	return &Poller{provider: cfg.Provider, store: cfg.Store, log: log}
}

// Poll runs one polling cycle over open orders created within the window.
// A provider 429 ends the cycle; the remaining orders wait for the next tick.
func (p *Poller) Poll(ctx context.Context) error {
	orders, err := p.store.ListOpenOnRampOrders(ctx, orderWindow)
	if err != nil {
		return err
	}

	for i := range orders {
		order := orders[i]
		upd, err := p.provider.OrderStatus(ctx, order.ProviderOrderID)
		if err != nil {
			if apperr.IsRateLimited(err) {
				p.log.Info(ctx, "provider rate limited, stopping cycle", logging.Fields{
					"remaining": len(orders) - i,
				})
				return nil
			}
			p.log.Warn(ctx, "order status fetch failed", logging.Fields{
				"order": order.ProviderOrderID,
				"error": err.Error(),
			})
			continue
		}

		if upd.Status == order.Status && upd.Status != StatusFinished {
			continue
		}

		order.Status = upd.Status
		if !upd.ToAmountActual.IsZero() {
			order.ToAmountActual = upd.ToAmountActual
		}
		if !upd.ToAmountEstimated.IsZero() {
			order.ToAmountEstimated = upd.ToAmountEstimated
		}
		if err := p.store.UpdateOnRampOrder(ctx, order); err != nil {
			p.log.Error(ctx, "order update failed", logging.Fields{
				"order": order.ProviderOrderID, "error": err.Error(),
			})
			continue
		}

		if upd.Status == StatusFinished {
			if err := p.linkFinished(ctx, order); err != nil {
				p.log.Warn(ctx, "deposit link failed", logging.Fields{
					"order": order.ProviderOrderID, "error": err.Error(),
				})
			}
		}
	}
	return nil
}

// linkFinished matches a finished order against the actor's unlinked completed
// deposits. No match is acceptable; the order stays finished-unlinked until a
// later cycle observes the deposit.
func (p *Poller) linkFinished(ctx context.Context, order store.OnRampOrder) error {
	deposits, err := p.store.ListUnlinkedCompletedDeposits(ctx,
		order.UserID.String, order.BusinessID.String, order.CreatedAt.Add(-time.Hour))
	if err != nil {
		return err
	}
	dep, ok := MatchDeposit(order, deposits)
	if !ok {
		p.log.Info(ctx, "finished order has no matching deposit yet", logging.Fields{
			"order":  order.ProviderOrderID,
			"actual": money.Format(order.ToAmountActual),
		})
		return nil
	}

	linked, err := p.store.LinkDepositToOrder(ctx, dep.ID, order.ID)
	if err != nil {
		return err
	}
	if linked {
		p.log.Info(ctx, "on-ramp order linked to deposit", logging.Fields{
			"order":   order.ProviderOrderID,
			"deposit": dep.ID,
			"amount":  money.Format(dep.Amount),
		})
	}
	return nil
}

// MatchDeposit picks the first deposit matching the order under the strategy
// ladder: exact actual amount, then ±5% of the estimate, then ±5e-6 of the
// actual amount.
func MatchDeposit(order store.OnRampOrder, deposits []store.Deposit) (store.Deposit, bool) {
	for _, d := range deposits {
		if d.Amount.Equal(order.ToAmountActual) {
			return d, true
		}
	}

	if order.ToAmountEstimated.IsPositive() {
		band := order.ToAmountEstimated.Mul(fuzzyTolerance)
		for _, d := range deposits {
			if d.Amount.Sub(order.ToAmountEstimated).Abs().LessThanOrEqual(band) {
				return d, true
			}
		}
	}

	for _, d := range deposits {
		if d.Amount.Sub(order.ToAmountActual).Abs().LessThanOrEqual(microTolerance) {
			return d, true
		}
	}
	return store.Deposit{}, false
}
