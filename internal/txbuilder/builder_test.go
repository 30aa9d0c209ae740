package txbuilder

import (
	"context"
	"errors"
	"testing"

	"github.com/algorand/go-algorand-sdk/v2/client/v2/common/models"
	"github.com/algorand/go-algorand-sdk/v2/crypto"
	"github.com/algorand/go-algorand-sdk/v2/types"

	"github.com/Confio-Network/wallet-engine/internal/apperr"
	"github.com/Confio-Network/wallet-engine/internal/invite"
)

const (
	testUSDC   = 10458941
	testCUSD   = 744150851
	testConfio = 744150852
	testApp    = 744151020
	testInvite = 744151120
)

type fakeGateway struct {
	accounts map[string]models.Account
	box      []byte
	boxErr   error
}

func (f *fakeGateway) SuggestedParams(context.Context) (types.SuggestedParams, error) {
	return types.SuggestedParams{
		Fee: 0, MinFee: 1000, FlatFee: false,
		FirstRoundValid: 1000, LastRoundValid: 2000,
		GenesisID: "testnet-v1.0", GenesisHash: make([]byte, 32),
	}, nil
}

func (f *fakeGateway) AccountInformation(_ context.Context, addr string) (models.Account, error) {
	return f.accounts[addr], nil
}

func (f *fakeGateway) AssetInformation(context.Context, uint64) (models.Asset, error) {
	return models.Asset{}, nil
}

func (f *fakeGateway) PendingTransactionInfo(context.Context, string) (models.PendingTransactionInfoResponse, error) {
	return models.PendingTransactionInfoResponse{}, nil
}

func (f *fakeGateway) SendRawTransaction(context.Context, []byte) (string, error) { return "", nil }

func (f *fakeGateway) WaitForConfirmation(context.Context, string, uint64) (models.PendingTransactionInfoResponse, error) {
	return models.PendingTransactionInfoResponse{}, nil
}

func (f *fakeGateway) IndexerHealthy(context.Context) error { return nil }

func (f *fakeGateway) SearchAssetTransfers(context.Context, uint64, uint64, string, uint64) (models.TransactionsResponse, error) {
	return models.TransactionsResponse{}, nil
}

func (f *fakeGateway) LookupTransaction(context.Context, string) (models.Transaction, error) {
	return models.Transaction{}, nil
}

func (f *fakeGateway) ApplicationBoxByName(context.Context, uint64, []byte) ([]byte, error) {
	return f.box, f.boxErr
}

type localSigner struct{ acct crypto.Account }

func (s localSigner) Address() string { return s.acct.Address.String() }

func (s localSigner) Sign(_ context.Context, txn types.Transaction) (string, []byte, error) {
	return crypto.SignTransaction(s.acct.PrivateKey, txn)
}

type testEnv struct {
	b       *Builder
	gw      *fakeGateway
	sponsor crypto.Account
	user    crypto.Account
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	sponsor := crypto.GenerateAccount()
	user := crypto.GenerateAccount()
	gw := &fakeGateway{accounts: map[string]models.Account{
		sponsor.Address.String(): {Amount: 10_000_000, MinBalance: 100_000},
	}}
	b := New(Config{
		Gateway:       gw,
		Sponsor:       localSigner{sponsor},
		USDCAssetID:   testUSDC,
		CUSDAssetID:   testCUSD,
		ConfioAssetID: testConfio,
		CUSDAppID:     testApp,
		InviteAppID:   testInvite,
	})
	return &testEnv{b: b, gw: gw, sponsor: sponsor, user: user}
}

func (e *testEnv) setAccount(addr string, acct models.Account) {
	e.gw.accounts[addr] = acct
}

func TestFeeMultipliers(t *testing.T) {
	cases := map[Family]uint64{
		FamilyOptIn:        2,
		FamilyAppOptIn:     2,
		FamilyTransfer:     2,
		FamilyWithdraw:     2,
		FamilyMint:         4,
		FamilyBurn:         5,
		FamilyInviteCreate: 4,
		FamilyInviteClaim:  3,
	}
	for f, want := range cases {
		if got := FeeMultiplier(f); got != want {
			t.Errorf("FeeMultiplier(%s) = %d, want %d", f, got, want)
		}
	}
}

func TestFundingAmount(t *testing.T) {
	cases := []struct {
		name                       string
		balance, minBalance, want  uint64
	}{
		{"funded", 300_000, 200_000, 0},
		{"exactly at mbr", 200_000, 200_000, 1000},
		{"just under fee headroom", 200_500, 200_000, 1000},
		{"deep shortfall", 150_000, 200_000, 51_000},
		{"zero balance fresh account", 0, 100_000, 101_000},
	}
	for _, tc := range cases {
		if got := fundingAmount(tc.balance, tc.minBalance, 1000); got != tc.want {
			t.Errorf("%s: fundingAmount(%d, %d) = %d, want %d", tc.name, tc.balance, tc.minBalance, got, tc.want)
		}
	}
}

func TestSelectorsAreFourBytes(t *testing.T) {
	for name, sel := range map[string][]byte{
		"app opt-in":    SelectorAppOptIn,
		"mint":          SelectorMint,
		"burn":          SelectorBurn,
		"invite create": SelectorInviteCreate,
		"invite claim":  SelectorInviteClaim,
	} {
		if len(sel) != 4 {
			t.Errorf("%s selector has %d bytes", name, len(sel))
		}
	}
}

func TestBuildAssetOptIn(t *testing.T) {
	env := newTestEnv(t)
	userAddr := env.user.Address.String()
	env.setAccount(userAddr, models.Account{Amount: 200_000, MinBalance: 200_000})

	g, err := env.b.BuildAssetOptIn(context.Background(), userAddr, testConfio)
	if err != nil {
		t.Fatalf("BuildAssetOptIn: %v", err)
	}
	if g.Size() != 2 {
		t.Fatalf("group size = %d, want 2", g.Size())
	}
	if len(g.SponsorTxns) != 1 || g.SponsorTxns[0].Index != 0 {
		t.Fatalf("sponsor txns = %+v, want single entry at index 0", g.SponsorTxns)
	}
	if len(g.UserTxns) != 1 || g.UserTxns[0].Index != 1 {
		t.Fatalf("user txns = %+v, want single entry at index 1", g.UserTxns)
	}

	pay := g.SponsorTxns[0].Unsigned
	if uint64(pay.Fee) != 2000 {
		t.Errorf("sponsor fee = %d, want 2000", pay.Fee)
	}
	// Balance exactly at MBR: the top-up is exactly one min fee.
	if uint64(pay.Amount) != 1000 {
		t.Errorf("sponsor payment amount = %d, want 1000", pay.Amount)
	}

	axfer := g.UserTxns[0].Unsigned
	if axfer.Fee != 0 {
		t.Errorf("user fee = %d, want 0", axfer.Fee)
	}
	if axfer.XferAsset != testConfio || axfer.AssetAmount != 0 {
		t.Errorf("axfer = asset %d amount %d, want asset %d amount 0", axfer.XferAsset, axfer.AssetAmount, testConfio)
	}
	if axfer.AssetReceiver.String() != userAddr {
		t.Errorf("acceptance receiver = %s, want self", axfer.AssetReceiver)
	}

	if pay.Group != axfer.Group || (pay.Group == types.Digest{}) {
		t.Error("group id not assigned consistently")
	}
	if g.Totals.TotalFee != 2000 || g.Totals.FundingAmount != 1000 {
		t.Errorf("totals = %+v", g.Totals)
	}
}

func TestBuildAssetOptInAlreadyHolding(t *testing.T) {
	env := newTestEnv(t)
	userAddr := env.user.Address.String()
	env.setAccount(userAddr, models.Account{
		Amount: 500_000, MinBalance: 200_000,
		Assets: []models.AssetHolding{{AssetId: testConfio}},
	})

	_, err := env.b.BuildAssetOptIn(context.Background(), userAddr, testConfio)
	if apperr.CodeOf(err) != apperr.CodeAlreadyOptedIn {
		t.Fatalf("err = %v, want code %s", err, apperr.CodeAlreadyOptedIn)
	}
}

func TestBuildAppOptIn(t *testing.T) {
	env := newTestEnv(t)
	userAddr := env.user.Address.String()
	env.setAccount(userAddr, models.Account{Amount: 1_000_000, MinBalance: 300_000})

	g, err := env.b.BuildAppOptIn(context.Background(), userAddr)
	if err != nil {
		t.Fatalf("BuildAppOptIn: %v", err)
	}
	optIn := g.UserTxns[0].Unsigned
	if optIn.Type != types.ApplicationCallTx || optIn.OnCompletion != types.OptInOC {
		t.Fatalf("user txn is not an app opt-in: %s/%v", optIn.Type, optIn.OnCompletion)
	}
	if optIn.ApplicationID != testApp {
		t.Errorf("app id = %d, want %d", optIn.ApplicationID, testApp)
	}
	if len(optIn.ApplicationArgs) != 1 || string(optIn.ApplicationArgs[0]) != string(SelectorAppOptIn) {
		t.Error("opt-in call does not carry the opt_in selector")
	}
	// Well-funded account: fee bump only.
	if g.Totals.FundingAmount != 0 {
		t.Errorf("funding = %d, want 0", g.Totals.FundingAmount)
	}
}

func TestBuildMint(t *testing.T) {
	env := newTestEnv(t)
	userAddr := env.user.Address.String()
	env.setAccount(userAddr, models.Account{
		Amount: 1_000_000, MinBalance: 457_000,
		Assets: []models.AssetHolding{
			{AssetId: testUSDC, Amount: 50_000_000},
			{AssetId: testCUSD, Amount: 0},
		},
		AppsLocalState: []models.ApplicationLocalState{{Id: testApp}},
	})

	g, err := env.b.BuildMint(context.Background(), userAddr, 25_000_000)
	if err != nil {
		t.Fatalf("BuildMint: %v", err)
	}
	if g.Size() != 3 {
		t.Fatalf("group size = %d, want 3", g.Size())
	}
	if len(g.SponsorTxns) != 2 || g.SponsorTxns[0].Index != 0 || g.SponsorTxns[1].Index != 2 {
		t.Fatalf("sponsor indices wrong: %+v", g.SponsorTxns)
	}
	if g.UserTxns[0].Index != 1 {
		t.Fatalf("user index = %d, want 1", g.UserTxns[0].Index)
	}

	pay := g.SponsorTxns[0].Unsigned
	if uint64(pay.Fee) != 1000 {
		t.Errorf("payment fee = %d, want 1000", pay.Fee)
	}
	// Funded account still receives min_fee so the app-side amount check holds.
	if uint64(pay.Amount) != 1000 {
		t.Errorf("payment amount = %d, want 1000", pay.Amount)
	}

	appCall := g.SponsorTxns[1].Unsigned
	if uint64(appCall.Fee) != 3000 {
		t.Errorf("app call fee = %d, want 3000", appCall.Fee)
	}
	if string(appCall.ApplicationArgs[0]) != string(SelectorMint) {
		t.Error("app call does not carry the mint selector")
	}
	if len(appCall.ForeignAssets) != 2 || appCall.ForeignAssets[0] != testUSDC || appCall.ForeignAssets[1] != testCUSD {
		t.Errorf("foreign assets = %v", appCall.ForeignAssets)
	}

	axfer := g.UserTxns[0].Unsigned
	if axfer.XferAsset != testUSDC || axfer.AssetAmount != 25_000_000 {
		t.Errorf("collateral axfer = asset %d amount %d", axfer.XferAsset, axfer.AssetAmount)
	}
	if axfer.AssetReceiver != crypto.GetApplicationAddress(testApp) {
		t.Error("collateral not sent to the app escrow")
	}

	if g.Totals.TotalFee != 4000 {
		t.Errorf("total fee = %d, want 4000", g.Totals.TotalFee)
	}
	if g.ReferenceTxID != g.SponsorTxns[1].TxID {
		t.Error("reference txid is not the app call txid")
	}
}

func TestBuildMintRequiresAppOptIn(t *testing.T) {
	env := newTestEnv(t)
	userAddr := env.user.Address.String()
	env.setAccount(userAddr, models.Account{
		Amount: 1_000_000, MinBalance: 300_000,
		Assets: []models.AssetHolding{
			{AssetId: testUSDC, Amount: 50_000_000},
			{AssetId: testCUSD},
		},
	})

	_, err := env.b.BuildMint(context.Background(), userAddr, 1_000_000)
	var e *apperr.Error
	if !errors.As(err, &e) || !e.RequiresAppOptIn || e.AppID != testApp {
		t.Fatalf("err = %v, want RequiresAppOptIn hint for app %d", err, testApp)
	}
}

func TestBuildBurnFees(t *testing.T) {
	env := newTestEnv(t)
	userAddr := env.user.Address.String()
	env.setAccount(userAddr, models.Account{
		Amount: 1_000_000, MinBalance: 457_000,
		Assets: []models.AssetHolding{
			{AssetId: testUSDC},
			{AssetId: testCUSD, Amount: 10_000_000},
		},
		AppsLocalState: []models.ApplicationLocalState{{Id: testApp}},
	})

	g, err := env.b.BuildBurn(context.Background(), userAddr, 5_000_000)
	if err != nil {
		t.Fatalf("BuildBurn: %v", err)
	}
	if uint64(g.SponsorTxns[1].Unsigned.Fee) != 4000 {
		t.Errorf("burn app call fee = %d, want 4000", g.SponsorTxns[1].Unsigned.Fee)
	}
	if g.Totals.TotalFee != 5000 {
		t.Errorf("total fee = %d, want 5000", g.Totals.TotalFee)
	}
	if g.UserTxns[0].Unsigned.XferAsset != testCUSD {
		t.Error("burn collateral is not cUSD")
	}
}

func TestBuildTransferInsufficientBalance(t *testing.T) {
	env := newTestEnv(t)
	userAddr := env.user.Address.String()
	recipient := crypto.GenerateAccount()
	env.setAccount(userAddr, models.Account{
		Amount: 1_000_000, MinBalance: 300_000,
		Assets: []models.AssetHolding{{AssetId: testCUSD, Amount: 100}},
	})
	env.setAccount(recipient.Address.String(), models.Account{
		Assets: []models.AssetHolding{{AssetId: testCUSD}},
	})

	_, err := env.b.BuildTransfer(context.Background(), userAddr, recipient.Address.String(), testCUSD, 500)
	if apperr.CodeOf(err) != apperr.CodeInsufficientBalance {
		t.Fatalf("err = %v, want code %s", err, apperr.CodeInsufficientBalance)
	}
}

func TestBuildInviteCreate(t *testing.T) {
	env := newTestEnv(t)
	inviterAddr := env.user.Address.String()
	env.setAccount(inviterAddr, models.Account{
		Amount: 1_000_000, MinBalance: 300_000,
		Assets: []models.AssetHolding{{AssetId: testCUSD, Amount: 50_000_000}},
	})
	escrow := crypto.GetApplicationAddress(testInvite).String()
	env.setAccount(escrow, models.Account{
		Amount: 5_000_000, MinBalance: 400_000,
		Assets: []models.AssetHolding{{AssetId: testCUSD}, {AssetId: testUSDC}, {AssetId: testConfio}},
	})

	key, err := invite.CanonicalPhoneKey("+1 929 399 3619", "US")
	if err != nil {
		t.Fatalf("CanonicalPhoneKey: %v", err)
	}
	id := invite.InvitationID(key)

	g, err := env.b.BuildInviteCreate(context.Background(), inviterAddr, id, testCUSD, 10_000_000, "hola")
	if err != nil {
		t.Fatalf("BuildInviteCreate: %v", err)
	}
	if g.Size() != 4 {
		t.Fatalf("group size = %d, want 4", g.Size())
	}
	gotSponsor := []int{g.SponsorTxns[0].Index, g.SponsorTxns[1].Index, g.SponsorTxns[2].Index}
	if gotSponsor[0] != 0 || gotSponsor[1] != 1 || gotSponsor[2] != 3 {
		t.Fatalf("sponsor indices = %v, want [0 1 3]", gotSponsor)
	}
	if g.UserTxns[0].Index != 2 {
		t.Fatalf("user index = %d, want 2", g.UserTxns[0].Index)
	}

	wantMBR := uint64(2500 + 400*(len(id)+68+4))
	mbrPay := g.SponsorTxns[1].Unsigned
	if uint64(mbrPay.Amount) != wantMBR {
		t.Errorf("box MBR payment = %d, want %d", mbrPay.Amount, wantMBR)
	}
	if uint64(g.SponsorTxns[0].Unsigned.Fee) != 2000 {
		t.Errorf("fee bump fee = %d, want 2000", g.SponsorTxns[0].Unsigned.Fee)
	}
	if g.Totals.TotalFee != 4000 {
		t.Errorf("total fee = %d, want 4000", g.Totals.TotalFee)
	}

	appCall := g.SponsorTxns[2].Unsigned
	if len(appCall.BoxReferences) != 1 || string(appCall.BoxReferences[0].Name) != id {
		t.Error("app call does not reference the invitation box")
	}
	if len(appCall.ApplicationArgs) != 3 {
		t.Fatalf("app args = %d, want 3", len(appCall.ApplicationArgs))
	}
	if string(appCall.ApplicationArgs[2][2:]) != "hola" {
		t.Error("message argument not ABI-encoded")
	}
}

func TestBuildInviteCreateMessageTooLong(t *testing.T) {
	env := newTestEnv(t)
	long := make([]byte, invite.MaxMessageLen+1)
	_, err := env.b.BuildInviteCreate(context.Background(), env.user.Address.String(), "ph:x", testCUSD, 1000, string(long))
	if apperr.CodeOf(err) != apperr.CodeMessageTooLong {
		t.Fatalf("err = %v, want code %s", err, apperr.CodeMessageTooLong)
	}
}

func TestBuildInviteClaim(t *testing.T) {
	env := newTestEnv(t)
	recipient := crypto.GenerateAccount()
	env.setAccount(recipient.Address.String(), models.Account{
		Amount: 500_000, MinBalance: 200_000,
		Assets: []models.AssetHolding{{AssetId: testCUSD}},
	})

	env.gw.box = makeBox(env.user.Address, 10_000_000, testCUSD, false, false, "hola")

	g, err := env.b.BuildInviteClaim(context.Background(), "ph:abc", recipient.Address.String())
	if err != nil {
		t.Fatalf("BuildInviteClaim: %v", err)
	}
	if g.Size() != 2 || len(g.UserTxns) != 0 {
		t.Fatalf("claim group = %d txns with %d user txns, want 2/0", g.Size(), len(g.UserTxns))
	}
	appCall := g.SponsorTxns[1].Unsigned
	if len(appCall.ForeignAssets) != 1 || appCall.ForeignAssets[0] != testCUSD {
		t.Errorf("foreign assets = %v, want escrowed asset from box", appCall.ForeignAssets)
	}
	if g.Totals.TotalFee != 3000 {
		t.Errorf("total fee = %d, want 3000", g.Totals.TotalFee)
	}
}

func TestBuildInviteClaimAlreadyClaimed(t *testing.T) {
	env := newTestEnv(t)
	recipient := crypto.GenerateAccount()
	env.setAccount(recipient.Address.String(), models.Account{
		Assets: []models.AssetHolding{{AssetId: testCUSD}},
	})
	env.gw.box = makeBox(env.user.Address, 10_000_000, testCUSD, true, false, "")

	_, err := env.b.BuildInviteClaim(context.Background(), "ph:abc", recipient.Address.String())
	if apperr.CodeOf(err) != apperr.CodeInviteAlreadyClaimed {
		t.Fatalf("err = %v, want code %s", err, apperr.CodeInviteAlreadyClaimed)
	}
}

func makeBox(inviter types.Address, amount, assetID uint64, claimed, reclaimed bool, message string) []byte {
	raw := make([]byte, 68+len(message))
	copy(raw[0:32], inviter[:])
	putU64 := func(off int, v uint64) {
		for i := 0; i < 8; i++ {
			raw[off+i] = byte(v >> (56 - 8*i))
		}
	}
	putU64(32, amount)
	putU64(40, assetID)
	putU64(48, 1_700_000_000)
	putU64(56, 1_700_604_800)
	if claimed {
		raw[64] = 1
	}
	if reclaimed {
		raw[65] = 1
	}
	raw[66] = byte(len(message) >> 8)
	raw[67] = byte(len(message))
	copy(raw[68:], message)
	return raw
}
