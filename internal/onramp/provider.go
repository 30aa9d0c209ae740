// Package onramp reconciles fiat on-ramp orders against observed USDC
// deposits.
//
// The provider is an opaque event source: the engine only consumes order
// status plus the estimated and actual payout amounts, and links finished
// orders to deposits by amount-matching heuristics.
package onramp

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"github.com/Confio-Network/wallet-engine/internal/apperr"
	"github.com/Confio-Network/wallet-engine/internal/httputil"
)

// Provider reports the current state of an on-ramp order.
type Provider interface {
	OrderStatus(ctx context.Context, providerOrderID string) (OrderUpdate, error)
}

// OrderUpdate is the provider's view of one order.
type OrderUpdate struct {
	Status            string
	ToAmountEstimated decimal.Decimal
	ToAmountActual    decimal.Decimal
}

// HTTPProvider queries a JSON REST provider.
type HTTPProvider struct {
	client *httputil.Client
}

// NewHTTPProvider creates a provider client.
func NewHTTPProvider(baseURL, apiKey string, timeout time.Duration) *HTTPProvider {
	headers := map[string]string{"Accept": "application/json"}
	if apiKey != "" {
		headers["X-API-Key"] = apiKey
	}
	return &HTTPProvider{
		client: httputil.NewClient(httputil.ClientConfig{
			BaseURL:    baseURL,
			Headers:    headers,
			Timeout:    timeout,
			MaxRetries: 2,
		}),
	}
}

// OrderStatus fetches one order. Providers disagree on field names, so the
// response is probed with fallbacks rather than bound to a fixed schema.
func (p *HTTPProvider) OrderStatus(ctx context.Context, providerOrderID string) (OrderUpdate, error) {
	resp, err := p.client.Get(ctx, fmt.Sprintf("/api/orders/%s", providerOrderID))
	if err != nil {
		return OrderUpdate{}, apperr.Transient("on-ramp provider unreachable", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		resp.Body.Close()
		return OrderUpdate{}, apperr.RateLimited("on-ramp provider rate limited", nil)
	case resp.StatusCode >= 500:
		resp.Body.Close()
		return OrderUpdate{}, apperr.Transient(fmt.Sprintf("on-ramp provider returned %d", resp.StatusCode), nil)
	case resp.StatusCode != http.StatusOK:
		resp.Body.Close()
		return OrderUpdate{}, apperr.Fatal(fmt.Sprintf("on-ramp provider returned %d for order %s", resp.StatusCode, providerOrderID), nil)
	}

	body, err := httputil.ReadBody(resp, 1<<20)
	if err != nil {
		return OrderUpdate{}, apperr.Transient("read provider response", err)
	}
	return ParseOrderPayload(body)
}

// ParseOrderPayload extracts the order fields from a provider response body.
func ParseOrderPayload(body []byte) (OrderUpdate, error) {
	root := gjson.ParseBytes(body)
	if data := root.Get("data"); data.Exists() {
		root = data
	}

	status := firstString(root, "status", "state", "order_status")
	if status == "" {
		return OrderUpdate{}, apperr.Fatal("provider response has no status field", nil)
	}

	upd := OrderUpdate{Status: status}
	var err error
	if upd.ToAmountActual, err = firstDecimal(root, "to_amount", "amount_to", "payout_amount"); err != nil {
		return OrderUpdate{}, err
	}
	if upd.ToAmountEstimated, err = firstDecimal(root, "expected_to_amount", "expected_amount", "estimated_amount"); err != nil {
		return OrderUpdate{}, err
	}
	return upd, nil
}

func firstString(root gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := root.Get(p); v.Exists() {
			return v.String()
		}
	}
	return ""
}

func firstDecimal(root gjson.Result, paths ...string) (decimal.Decimal, error) {
	for _, p := range paths {
		v := root.Get(p)
		if !v.Exists() {
			continue
		}
		d, err := decimal.NewFromString(v.String())
		if err != nil {
			return decimal.Decimal{}, apperr.Fatal(fmt.Sprintf("provider field %s is not a decimal: %q", p, v.String()), err)
		}
		return d, nil
	}
	return decimal.Zero, nil
}
