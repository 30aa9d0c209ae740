package onramp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Confio-Network/wallet-engine/internal/apperr"
)

func TestHTTPProviderFetchesOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/orders/ord-1" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("X-API-Key") != "key-1" {
			t.Errorf("api key = %q", r.Header.Get("X-API-Key"))
		}
		w.Write([]byte(`{"status":"finished","to_amount":"95.000000","expected_to_amount":"100"}`))
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, "key-1", 0)
	upd, err := p.OrderStatus(context.Background(), "ord-1")
	if err != nil {
		t.Fatalf("OrderStatus: %v", err)
	}
	if upd.Status != StatusFinished || !upd.ToAmountActual.Equal(dec("95")) {
		t.Fatalf("update = %+v", upd)
	}
}

func TestHTTPProviderClassifiesStatuses(t *testing.T) {
	cases := []struct {
		code int
		want apperr.Kind
	}{
		{http.StatusTooManyRequests, apperr.KindRateLimited},
		{http.StatusBadGateway, apperr.KindTransient},
		{http.StatusNotFound, apperr.KindFatal},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.code)
		}))
		p := NewHTTPProvider(srv.URL, "", 0)
		_, err := p.OrderStatus(context.Background(), "ord-1")
		srv.Close()
		if err == nil {
			t.Fatalf("code %d: expected error", tc.code)
		}
		if got := apperr.KindOf(err); got != tc.want {
			t.Errorf("code %d: kind = %v, want %v", tc.code, got, tc.want)
		}
	}
}
