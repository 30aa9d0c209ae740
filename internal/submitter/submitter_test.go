package submitter

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/algorand/go-algorand-sdk/v2/client/v2/common/models"
	"github.com/algorand/go-algorand-sdk/v2/types"
	"github.com/jmoiron/sqlx"

	"github.com/Confio-Network/wallet-engine/internal/apperr"
	"github.com/Confio-Network/wallet-engine/internal/store"
	"github.com/Confio-Network/wallet-engine/internal/txbuilder"
)

func testGroup() *txbuilder.PreparedGroup {
	return &txbuilder.PreparedGroup{
		Family:        txbuilder.FamilyMint,
		ReferenceTxID: "REFTXID",
		SponsorTxns: []txbuilder.SponsorTxn{
			{Index: 0, SignedBytes: []byte("SP0")},
			{Index: 2, SignedBytes: []byte("SP2")},
		},
		UserTxns: []txbuilder.UserTxn{{Index: 1}},
	}
}

func TestAssembleOrdersSlots(t *testing.T) {
	g := testGroup()
	blob := base64.StdEncoding.EncodeToString([]byte("USER1"))

	raw, err := Assemble(g, []string{blob})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if string(raw) != "SP0USER1SP2" {
		t.Fatalf("assembled bytes = %q, want sponsor/user/sponsor order", raw)
	}
}

func TestAssembleShapeMismatch(t *testing.T) {
	g := testGroup()
	_, err := Assemble(g, nil)
	if apperr.CodeOf(err) != apperr.CodeGroupShapeMismatch {
		t.Fatalf("err = %v, want code %s", err, apperr.CodeGroupShapeMismatch)
	}

	_, err = Assemble(g, []string{"!!!not-base64!!!"})
	if apperr.CodeOf(err) != apperr.CodeGroupShapeMismatch {
		t.Fatalf("err = %v, want code %s for undecodable blob", err, apperr.CodeGroupShapeMismatch)
	}
}

func TestDecodeBase64Flexible(t *testing.T) {
	payload := []byte{0xfb, 0xef, 0x01, 0x02}
	variants := []string{
		base64.StdEncoding.EncodeToString(payload),
		base64.RawStdEncoding.EncodeToString(payload),
		base64.URLEncoding.EncodeToString(payload),
		base64.RawURLEncoding.EncodeToString(payload),
		" " + base64.StdEncoding.EncodeToString(payload) + "\n",
	}
	for _, v := range variants {
		got, err := DecodeBase64Flexible(v)
		if err != nil {
			t.Errorf("DecodeBase64Flexible(%q): %v", v, err)
			continue
		}
		if string(got) != string(payload) {
			t.Errorf("DecodeBase64Flexible(%q) = %x", v, got)
		}
	}
}

func TestDecodeSponsorEntries(t *testing.T) {
	obj := json.RawMessage(`{"index":0,"signed":"QUJD"}`)
	stringified := json.RawMessage(`"{\"index\":2,\"signed\":\"REVG\"}"`)

	entries, err := DecodeSponsorEntries([]json.RawMessage{obj, stringified})
	if err != nil {
		t.Fatalf("DecodeSponsorEntries: %v", err)
	}
	if len(entries) != 2 || entries[0].Index != 0 || entries[1].Index != 2 {
		t.Fatalf("entries = %+v", entries)
	}
	if entries[1].Signed != "REVG" {
		t.Errorf("stringified entry signed = %q", entries[1].Signed)
	}

	_, err = DecodeSponsorEntries([]json.RawMessage{json.RawMessage(`42`)})
	if apperr.CodeOf(err) != apperr.CodeGroupShapeMismatch {
		t.Fatalf("err = %v, want code %s", err, apperr.CodeGroupShapeMismatch)
	}
}

type stubGateway struct {
	sendErr  error
	waitInfo models.PendingTransactionInfoResponse
	waitErr  error
}

func (s *stubGateway) SuggestedParams(context.Context) (types.SuggestedParams, error) {
	return types.SuggestedParams{MinFee: 1000}, nil
}

func (s *stubGateway) AccountInformation(context.Context, string) (models.Account, error) {
	return models.Account{}, nil
}

func (s *stubGateway) AssetInformation(context.Context, uint64) (models.Asset, error) {
	return models.Asset{}, nil
}

func (s *stubGateway) PendingTransactionInfo(context.Context, string) (models.PendingTransactionInfoResponse, error) {
	return models.PendingTransactionInfoResponse{}, nil
}

func (s *stubGateway) SendRawTransaction(context.Context, []byte) (string, error) {
	return "REFTXID", s.sendErr
}

func (s *stubGateway) WaitForConfirmation(context.Context, string, uint64) (models.PendingTransactionInfoResponse, error) {
	return s.waitInfo, s.waitErr
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

func newMockStore(t *testing.T) (*store.Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return store.New(sqlx.NewDb(db, "postgres")), mock
}

func TestSubmitConfirmed(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectExec("UPDATE transfers").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE transfers").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO wallet_events").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	gw := &stubGateway{waitInfo: models.PendingTransactionInfoResponse{ConfirmedRound: 1234}}
	sub := New(Config{Gateway: gw, Store: st})

	blob := base64.StdEncoding.EncodeToString([]byte("USER1"))
	res, err := sub.Submit(context.Background(), Request{
		Group:           testGroup(),
		UserSignedBlobs: []string{blob},
		RowKind:         RowTransfer,
		RowID:           "row-1",
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !res.Confirmed || res.TxID != "REFTXID" || res.ConfirmedRound != 1234 {
		t.Fatalf("result = %+v", res)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestSubmitAlreadyInLedgerIsSuccess(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE transfers").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO wallet_events").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	gw := &stubGateway{sendErr: errors.New("TransactionPool.Remember: transaction already in ledger")}
	sub := New(Config{Gateway: gw, Store: st})

	blob := base64.StdEncoding.EncodeToString([]byte("USER1"))
	res, err := sub.Submit(context.Background(), Request{
		Group:           testGroup(),
		UserSignedBlobs: []string{blob},
		RowKind:         RowTransfer,
		RowID:           "row-1",
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !res.AlreadyInLedger || res.TxID != "REFTXID" {
		t.Fatalf("result = %+v, want idempotent success with reference txid", res)
	}
}

func TestSubmitShapeMismatchFailsRow(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectExec("UPDATE transfers").WillReturnResult(sqlmock.NewResult(0, 1))

	sub := New(Config{Gateway: &stubGateway{}, Store: st})
	_, err := sub.Submit(context.Background(), Request{
		Group:   testGroup(),
		RowKind: RowTransfer,
		RowID:   "row-1",
	})
	if apperr.CodeOf(err) != apperr.CodeGroupShapeMismatch {
		t.Fatalf("err = %v, want code %s", err, apperr.CodeGroupShapeMismatch)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}
