package session

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Confio-Network/wallet-engine/internal/apperr"
	"github.com/Confio-Network/wallet-engine/internal/submitter"
	"github.com/Confio-Network/wallet-engine/internal/txbuilder"
)

var testSecret = []byte("test-secret")

func signToken(t *testing.T, claims sessionClaims) string {
	t.Helper()
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(time.Hour))
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return tok
}

func TestAuthenticate(t *testing.T) {
	tok := signToken(t, sessionClaims{
		UserID:    "user-1",
		AccountID: "acct-1",
		Address:   "ADDR",
	})

	auth, err := Authenticate(testSecret, tok)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if auth.UserID != "user-1" || auth.Address != "ADDR" || auth.Admin {
		t.Fatalf("auth = %+v", auth)
	}
}

func TestAuthenticateRejects(t *testing.T) {
	cases := map[string]string{
		"empty":        "",
		"garbage":      "not-a-token",
		"wrong secret": func() string {
			tok, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, sessionClaims{UserID: "u", Address: "A"}).
				SignedString([]byte("other"))
			return tok
		}(),
	}
	for name, tok := range cases {
		if _, err := Authenticate(testSecret, tok); err == nil {
			t.Errorf("%s: expected rejection", name)
		}
	}

	// Valid signature but no principal claims.
	tok := signToken(t, sessionClaims{})
	if _, err := Authenticate(testSecret, tok); err == nil {
		t.Error("expected rejection for token without principal claims")
	}
}

func TestErrorFrameCarriesOptInHint(t *testing.T) {
	out := errorFrame(apperr.PreflightAppOptIn(744151020))
	if out.Type != FrameError {
		t.Fatalf("type = %s", out.Type)
	}
	if !out.RequiresAppOptIn || out.AppID != 744151020 {
		t.Fatalf("frame = %+v, want app opt-in hint", out)
	}
	if out.Code != apperr.CodeUserNotOptedIntoApp {
		t.Errorf("code = %s", out.Code)
	}
}

func TestRegistryOwnershipAndExpiry(t *testing.T) {
	r := newRegistry(50 * time.Millisecond)
	prep := Prepared{Req: submitter.Request{RowID: "row-1"}}
	r.put("id-1", "user-1", prep)

	if _, ok := r.take("id-1", "user-2"); ok {
		t.Fatal("foreign principal must not take a prepared group")
	}
	got, ok := r.take("id-1", "user-1")
	if !ok || got.Req.RowID != "row-1" {
		t.Fatalf("take = %+v/%v", got, ok)
	}
	if _, ok := r.take("id-1", "user-1"); ok {
		t.Fatal("second take must miss")
	}

	r.put("id-2", "user-1", prep)
	time.Sleep(80 * time.Millisecond)
	if _, ok := r.take("id-2", "user-1"); ok {
		t.Fatal("expired entry must miss")
	}
	r.put("id-3", "user-1", prep)
	time.Sleep(80 * time.Millisecond)
	if n := r.sweep(); n != 1 {
		t.Fatalf("sweep = %d, want 1", n)
	}
}

func TestFrameRoundTrip(t *testing.T) {
	in := Frame{
		Type:               FrameSubmit,
		InternalID:         "row-1",
		SignedTransactions: []string{"QUJD", "REVG"},
	}
	raw, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out Frame
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Type != in.Type || out.InternalID != in.InternalID || len(out.SignedTransactions) != 2 {
		t.Fatalf("round trip = %+v", out)
	}
}

func TestPackFromGroup(t *testing.T) {
	g := &txbuilder.PreparedGroup{
		Family: txbuilder.FamilyTransfer,
		SponsorTxns: []txbuilder.SponsorTxn{
			{Index: 0, UnsignedBytes: []byte("unsigned0"), SignedBytes: []byte("signed0")},
		},
		UserTxns: []txbuilder.UserTxn{
			{Index: 1, UnsignedBytes: []byte("unsigned1")},
		},
		Totals: txbuilder.Totals{TotalFee: 2000},
	}
	pack := packFromGroup("row-9", g, "0.002000")
	if pack.InternalID != "row-9" || pack.GroupSize != 2 {
		t.Fatalf("pack = %+v", pack)
	}
	if len(pack.Transactions) != 1 || len(pack.SponsorTransactions) != 1 {
		t.Fatalf("pack arrays = %d/%d", len(pack.Transactions), len(pack.SponsorTransactions))
	}
	if pack.SponsorTransactions[0].Index != 0 || pack.SponsorTransactions[0].Signed == "" {
		t.Fatalf("sponsor entry = %+v", pack.SponsorTransactions[0])
	}
	if pack.TotalFee != "0.002000" {
		t.Errorf("total fee = %s", pack.TotalFee)
	}
}
