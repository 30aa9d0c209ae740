package sponsor

import (
	"context"
	"testing"

	"github.com/algorand/go-algorand-sdk/v2/client/v2/common/models"
	"github.com/algorand/go-algorand-sdk/v2/types"

	"github.com/Confio-Network/wallet-engine/internal/apperr"
	"github.com/Confio-Network/wallet-engine/internal/txbuilder"
)

type stubGateway struct {
	acct models.Account
	err  error
}

func (s *stubGateway) SuggestedParams(context.Context) (types.SuggestedParams, error) {
	return types.SuggestedParams{MinFee: 1000}, nil
}

func (s *stubGateway) AccountInformation(context.Context, string) (models.Account, error) {
	return s.acct, s.err
}

func (s *stubGateway) AssetInformation(context.Context, uint64) (models.Asset, error) {
	return models.Asset{}, nil
}

func (s *stubGateway) PendingTransactionInfo(context.Context, string) (models.PendingTransactionInfoResponse, error) {
	return models.PendingTransactionInfoResponse{}, nil
}

func (s *stubGateway) SendRawTransaction(context.Context, []byte) (string, error) { return "", nil }

func (s *stubGateway) WaitForConfirmation(context.Context, string, uint64) (models.PendingTransactionInfoResponse, error) {
	return models.PendingTransactionInfoResponse{}, nil
}

func (s *stubGateway) IndexerHealthy(context.Context) error { return nil }

func (s *stubGateway) SearchAssetTransfers(context.Context, uint64, uint64, string, uint64) (models.TransactionsResponse, error) {
	return models.TransactionsResponse{}, nil
}

func (s *stubGateway) LookupTransaction(context.Context, string) (models.Transaction, error) {
	return models.Transaction{}, nil
}

func (s *stubGateway) ApplicationBoxByName(context.Context, uint64, []byte) ([]byte, error) {
	return nil, nil
}

func TestCheckHealth(t *testing.T) {
	gw := &stubGateway{acct: models.Account{Amount: 2_000_000, MinBalance: 300_000}}
	svc := New(Config{Gateway: gw, Address: "SPONSOR", MinReserve: 100_000, WarnThreshold: 500_000})

	h, err := svc.CheckHealth(context.Background())
	if err != nil {
		t.Fatalf("CheckHealth: %v", err)
	}
	if h.Available != 1_700_000 {
		t.Errorf("available = %d, want 1700000", h.Available)
	}
	if !h.Healthy || h.Warning {
		t.Errorf("healthy=%v warning=%v, want healthy without warning", h.Healthy, h.Warning)
	}
}

func TestCheckHealthWarning(t *testing.T) {
	gw := &stubGateway{acct: models.Account{Amount: 450_000, MinBalance: 100_000}}
	svc := New(Config{Gateway: gw, Address: "SPONSOR", MinReserve: 100_000, WarnThreshold: 500_000})

	h, err := svc.CheckHealth(context.Background())
	if err != nil {
		t.Fatalf("CheckHealth: %v", err)
	}
	if !h.Warning {
		t.Error("expected warning below threshold")
	}
	if !h.Healthy {
		t.Error("warning level is still healthy")
	}
}

func TestCanSponsor(t *testing.T) {
	gw := &stubGateway{acct: models.Account{Amount: 10_000_000, MinBalance: 300_000}}
	svc := New(Config{Gateway: gw, Address: "SPONSOR", MinReserve: 100_000, WarnThreshold: 500_000})

	if err := svc.CanSponsor(context.Background(), txbuilder.FamilyMint, 1000); err != nil {
		t.Fatalf("CanSponsor: %v", err)
	}
	sponsored, rejected := svc.Counters()
	if sponsored != 1 || rejected != 0 {
		t.Errorf("counters = %d/%d, want 1/0", sponsored, rejected)
	}
}

func TestCanSponsorRejectsUnderfunded(t *testing.T) {
	// Available 5000 cannot cover a burn (5000 fee + 1000 top-up) plus reserve.
	gw := &stubGateway{acct: models.Account{Amount: 105_000, MinBalance: 100_000}}
	svc := New(Config{Gateway: gw, Address: "SPONSOR", MinReserve: 100_000})

	err := svc.CanSponsor(context.Background(), txbuilder.FamilyBurn, 1000)
	if apperr.CodeOf(err) != apperr.CodeSponsorUnavailable {
		t.Fatalf("err = %v, want code %s", err, apperr.CodeSponsorUnavailable)
	}
	_, rejected := svc.Counters()
	if rejected != 1 {
		t.Errorf("rejected = %d, want 1", rejected)
	}
}

func TestCanSponsorDegradesOnChainError(t *testing.T) {
	gw := &stubGateway{err: apperr.Transient("node down", nil)}
	svc := New(Config{Gateway: gw, Address: "SPONSOR", MinReserve: 100_000})

	if err := svc.CanSponsor(context.Background(), txbuilder.FamilyTransfer, 1000); err != nil {
		t.Fatalf("health failure must not block operations, got %v", err)
	}
}

func TestEstimateCost(t *testing.T) {
	if got := EstimateCost(txbuilder.FamilyMint, 1000); got != 5000 {
		t.Errorf("mint cost = %d, want 5000", got)
	}
	if got := EstimateCost(txbuilder.FamilyTransfer, 1000); got != 3000 {
		t.Errorf("transfer cost = %d, want 3000", got)
	}
}
