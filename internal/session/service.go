package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Confio-Network/wallet-engine/internal/apperr"
	"github.com/Confio-Network/wallet-engine/internal/chain"
	"github.com/Confio-Network/wallet-engine/internal/invite"
	"github.com/Confio-Network/wallet-engine/internal/logging"
	"github.com/Confio-Network/wallet-engine/internal/metrics"
	"github.com/Confio-Network/wallet-engine/internal/money"
	"github.com/Confio-Network/wallet-engine/internal/sponsor"
	"github.com/Confio-Network/wallet-engine/internal/store"
	"github.com/Confio-Network/wallet-engine/internal/submitter"
	"github.com/Confio-Network/wallet-engine/internal/txbuilder"
)

// DefaultPreparedTTL is how long a prepared group may wait for signatures.
const DefaultPreparedTTL = 24 * time.Hour

// inviteExpiry is the claim window for a phone invitation.
const inviteExpiry = 7 * 24 * time.Hour

// Service executes prepare and submit operations for authenticated channels.
type Service struct {
	gw        chain.Gateway
	builder   *txbuilder.Builder
	sponsor   *sponsor.Service
	submitter *submitter.Submitter
	store     *store.Store

	usdcID   uint64
	cusdID   uint64
	confioID uint64

	prepared *registry
	log      *logging.Logger
}

// ServiceConfig holds service construction parameters.
type ServiceConfig struct {
	Gateway     chain.Gateway
	Builder     *txbuilder.Builder
	Sponsor     *sponsor.Service
	Submitter   *submitter.Submitter
	Store       *store.Store
	USDCAssetID uint64
	CUSDAssetID uint64
	ConfioID    uint64
	PreparedTTL time.Duration
	Logger      *logging.Logger
}

// NewService creates a session Service.
func NewService(cfg ServiceConfig) *Service {
	ttl := cfg.PreparedTTL
	if ttl <= 0 {
		ttl = DefaultPreparedTTL
	}
	log := cfg.Logger
	if log == nil {
		log = logging.Nop()
	}
	return &Service{
		gw:        cfg.Gateway,
		builder:   cfg.Builder,
		sponsor:   cfg.Sponsor,
		submitter: cfg.Submitter,
		store:     cfg.Store,
		usdcID:    cfg.USDCAssetID,
		cusdID:    cfg.CUSDAssetID,
		confioID:  cfg.ConfioID,
		prepared:  newRegistry(ttl),
		log:       log,
	}
}

// SweepPrepared drops expired in-memory prepared groups.
func (s *Service) SweepPrepared() int { return s.prepared.sweep() }

// =============================================================================
// Prepare
// =============================================================================

type optinParams struct {
	AssetID uint64 `json:"asset_id"`
}

type transferParams struct {
	Recipient      string `json:"recipient_address"`
	AssetID        uint64 `json:"asset_id"`
	Amount         string `json:"amount"`
	Memo           string `json:"memo"`
	IdempotencyKey string `json:"idempotency_key"`
}

type convertParams struct {
	Amount string `json:"amount"`
}

type withdrawParams struct {
	Destination string `json:"destination_address"`
	Amount      string `json:"amount"`
}

type inviteCreateParams struct {
	Phone   string `json:"phone"`
	Country string `json:"country"`
	AssetID uint64 `json:"asset_id"`
	Amount  string `json:"amount"`
	Message string `json:"message"`
}

type inviteClaimParams struct {
	InvitationID string `json:"invitation_id"`
	Phone        string `json:"phone"`
	Country      string `json:"country"`
	Recipient    string `json:"recipient_address"`
}

// Prepare builds the requested group, records the source row, and returns the
// signing pack.
func (s *Service) Prepare(ctx context.Context, auth AuthContext, op string, params json.RawMessage) (*Pack, error) {
	family, err := familyForOp(op)
	if err != nil {
		return nil, err
	}

	sp, err := s.gw.SuggestedParams(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.sponsor.CanSponsor(ctx, family, chain.MinFee(sp)); err != nil {
		return nil, err
	}

	var (
		prep       Prepared
		internalID string
	)
	switch family {
	case txbuilder.FamilyOptIn:
		prep, internalID, err = s.prepareOptIn(ctx, auth, params)
	case txbuilder.FamilyAppOptIn:
		prep, internalID, err = s.prepareAppOptIn(ctx, auth)
	case txbuilder.FamilyTransfer:
		prep, internalID, err = s.prepareTransfer(ctx, auth, params)
	case txbuilder.FamilyMint, txbuilder.FamilyBurn:
		prep, internalID, err = s.prepareConversion(ctx, auth, family, params)
	case txbuilder.FamilyWithdraw:
		prep, internalID, err = s.prepareWithdraw(ctx, auth, params)
	case txbuilder.FamilyInviteCreate:
		prep, internalID, err = s.prepareInviteCreate(ctx, auth, params)
	case txbuilder.FamilyInviteClaim:
		prep, internalID, err = s.prepareInviteClaim(ctx, auth, params)
	}
	if err != nil {
		return nil, err
	}

	s.prepared.put(internalID, auth.UserID, prep)
	metrics.GroupsPrepared.WithLabelValues(string(family)).Inc()

	g := prep.Req.Group
	return packFromGroup(internalID, g, money.Format(money.FromMicro(g.Totals.TotalFee))), nil
}

func familyForOp(op string) (txbuilder.Family, error) {
	switch op {
	case "optin":
		return txbuilder.FamilyOptIn, nil
	case "appoptin":
		return txbuilder.FamilyAppOptIn, nil
	case "transfer":
		return txbuilder.FamilyTransfer, nil
	case "mint":
		return txbuilder.FamilyMint, nil
	case "burn":
		return txbuilder.FamilyBurn, nil
	case "withdraw":
		return txbuilder.FamilyWithdraw, nil
	case "invite_create":
		return txbuilder.FamilyInviteCreate, nil
	case "invite_claim":
		return txbuilder.FamilyInviteClaim, nil
	default:
		return "", apperr.E(apperr.KindPreflight, "UNKNOWN_OPERATION", fmt.Sprintf("unknown operation %q", op))
	}
}

func (s *Service) prepareOptIn(ctx context.Context, auth AuthContext, raw json.RawMessage) (Prepared, string, error) {
	var p optinParams
	if err := unmarshalParams(raw, &p); err != nil {
		return Prepared{}, "", err
	}
	g, err := s.builder.BuildAssetOptIn(ctx, auth.Address, p.AssetID)
	if err != nil {
		return Prepared{}, "", err
	}
	return Prepared{Req: submitter.Request{
		Group:     g,
		AccountID: auth.AccountID,
		Address:   auth.Address,
		AssetIDs:  []uint64{p.AssetID},
	}}, uuid.NewString(), nil
}

func (s *Service) prepareAppOptIn(ctx context.Context, auth AuthContext) (Prepared, string, error) {
	g, err := s.builder.BuildAppOptIn(ctx, auth.Address)
	if err != nil {
		return Prepared{}, "", err
	}
	return Prepared{Req: submitter.Request{
		Group:     g,
		AccountID: auth.AccountID,
		Address:   auth.Address,
	}}, uuid.NewString(), nil
}

func (s *Service) prepareTransfer(ctx context.Context, auth AuthContext, raw json.RawMessage) (Prepared, string, error) {
	var p transferParams
	if err := unmarshalParams(raw, &p); err != nil {
		return Prepared{}, "", err
	}
	amount, micro, err := parseAmount(p.Amount)
	if err != nil {
		return Prepared{}, "", err
	}

	g, err := s.builder.BuildTransfer(ctx, auth.Address, p.Recipient, p.AssetID, micro)
	if err != nil {
		return Prepared{}, "", err
	}

	row := store.Transfer{
		SenderUserID:     nullString(auth.UserID),
		SenderBusinessID: nullString(auth.BusinessID),
		SenderAddress:    auth.Address,
		RecipientAddress: p.Recipient,
		Amount:           amount,
		AssetID:          p.AssetID,
		Memo:             p.Memo,
		Status:           store.TransferPending,
		IdempotencyKey:   nullString(p.IdempotencyKey),
	}
	if acct, err := s.store.GetAccountByAddress(ctx, p.Recipient); err == nil {
		row.RecipientUserID = acct.OwnerUserID
		row.RecipientBusinessID = acct.BusinessID
	} else if errors.Is(err, store.ErrNotFound) {
		row.RecipientExternal = true
	} else {
		return Prepared{}, "", err
	}

	created, err := s.store.CreateTransfer(ctx, row)
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return Prepared{}, "", apperr.E(apperr.KindConflict, "DUPLICATE_REQUEST", "idempotency key already used")
		}
		return Prepared{}, "", err
	}

	return Prepared{Req: submitter.Request{
		Group:     g,
		RowKind:   submitter.RowTransfer,
		RowID:     created.ID,
		AccountID: auth.AccountID,
		Address:   auth.Address,
		AssetIDs:  []uint64{p.AssetID},
	}}, created.ID, nil
}

func (s *Service) prepareConversion(ctx context.Context, auth AuthContext, family txbuilder.Family, raw json.RawMessage) (Prepared, string, error) {
	var p convertParams
	if err := unmarshalParams(raw, &p); err != nil {
		return Prepared{}, "", err
	}
	amount, micro, err := parseAmount(p.Amount)
	if err != nil {
		return Prepared{}, "", err
	}

	var g *txbuilder.PreparedGroup
	direction := store.DirectionUSDCToCUSD
	if family == txbuilder.FamilyMint {
		g, err = s.builder.BuildMint(ctx, auth.Address, micro)
	} else {
		direction = store.DirectionCUSDToUSDC
		g, err = s.builder.BuildBurn(ctx, auth.Address, micro)
	}
	if err != nil {
		return Prepared{}, "", err
	}

	row, err := s.store.CreateConversion(ctx, store.Conversion{
		UserID:     nullString(auth.UserID),
		BusinessID: nullString(auth.BusinessID),
		Direction:  direction,
		FromAmount: amount,
		ToAmount:   amount,
		Status:     store.ConversionPendingSig,
	})
	if err != nil {
		return Prepared{}, "", err
	}

	return Prepared{Req: submitter.Request{
		Group:     g,
		RowKind:   submitter.RowConversion,
		RowID:     row.ID,
		AccountID: auth.AccountID,
		Address:   auth.Address,
		AssetIDs:  []uint64{s.usdcID, s.cusdID},
	}}, row.ID, nil
}

func (s *Service) prepareWithdraw(ctx context.Context, auth AuthContext, raw json.RawMessage) (Prepared, string, error) {
	var p withdrawParams
	if err := unmarshalParams(raw, &p); err != nil {
		return Prepared{}, "", err
	}
	amount, micro, err := parseAmount(p.Amount)
	if err != nil {
		return Prepared{}, "", err
	}

	g, err := s.builder.BuildWithdraw(ctx, auth.Address, p.Destination, micro)
	if err != nil {
		return Prepared{}, "", err
	}

	row, err := s.store.CreateWithdrawal(ctx, store.Withdrawal{
		UserID:     nullString(auth.UserID),
		BusinessID: nullString(auth.BusinessID),
		Amount:     amount,
		ToAddress:  p.Destination,
		Status:     store.MovementPending,
	})
	if err != nil {
		return Prepared{}, "", err
	}

	return Prepared{Req: submitter.Request{
		Group:     g,
		RowKind:   submitter.RowWithdrawal,
		RowID:     row.ID,
		AccountID: auth.AccountID,
		Address:   auth.Address,
		AssetIDs:  []uint64{s.usdcID},
	}}, row.ID, nil
}

func (s *Service) prepareInviteCreate(ctx context.Context, auth AuthContext, raw json.RawMessage) (Prepared, string, error) {
	var p inviteCreateParams
	if err := unmarshalParams(raw, &p); err != nil {
		return Prepared{}, "", err
	}
	amount, micro, err := parseAmount(p.Amount)
	if err != nil {
		return Prepared{}, "", err
	}

	phoneKey, err := invite.CanonicalPhoneKey(p.Phone, p.Country)
	if err != nil {
		return Prepared{}, "", err
	}
	invitationID := invite.InvitationID(phoneKey)

	g, err := s.builder.BuildInviteCreate(ctx, auth.Address, invitationID, p.AssetID, micro, p.Message)
	if err != nil {
		return Prepared{}, "", err
	}

	expiresAt := time.Now().UTC().Add(inviteExpiry)
	var rowID string
	err = s.store.InTx(ctx, func(tx *store.Store) error {
		row, err := tx.CreateTransfer(ctx, store.Transfer{
			SenderUserID:        nullString(auth.UserID),
			SenderBusinessID:    nullString(auth.BusinessID),
			SenderAddress:       auth.Address,
			RecipientExternal:   true,
			RecipientAddress:    invitationID,
			Amount:              amount,
			AssetID:             p.AssetID,
			Memo:                p.Message,
			Status:              store.TransferPending,
			IsInvitation:        true,
			InvitationExpiresAt: sql.NullTime{Time: expiresAt, Valid: true},
		})
		if err != nil {
			return err
		}
		rowID = row.ID

		_, err = tx.CreatePhoneInvite(ctx, store.PhoneInvite{
			InvitationID:  invitationID,
			PhoneKey:      phoneKey,
			InviterUserID: auth.UserID,
			AssetID:       p.AssetID,
			Amount:        amount,
			Message:       p.Message,
			Status:        store.InvitePending,
			ExpiresAt:     expiresAt,
		})
		if err != nil && errors.Is(err, store.ErrDuplicate) {
			return apperr.E(apperr.KindConflict, "INVITE_EXISTS", "an invitation for this phone already exists")
		}
		return err
	})
	if err != nil {
		return Prepared{}, "", err
	}

	return Prepared{
		Req: submitter.Request{
			Group:     g,
			RowKind:   submitter.RowInvite,
			RowID:     rowID,
			AccountID: auth.AccountID,
			Address:   auth.Address,
			AssetIDs:  []uint64{p.AssetID},
		},
		InvitationID: invitationID,
	}, rowID, nil
}

func (s *Service) prepareInviteClaim(ctx context.Context, auth AuthContext, raw json.RawMessage) (Prepared, string, error) {
	if !auth.Admin {
		return Prepared{}, "", apperr.E(apperr.KindPreflight, "FORBIDDEN", "invite claims are admin-only")
	}

	var p inviteClaimParams
	if err := unmarshalParams(raw, &p); err != nil {
		return Prepared{}, "", err
	}
	invitationID := p.InvitationID
	if invitationID == "" {
		phoneKey, err := invite.CanonicalPhoneKey(p.Phone, p.Country)
		if err != nil {
			return Prepared{}, "", err
		}
		invitationID = invite.InvitationID(phoneKey)
	}

	inv, err := s.store.GetPhoneInvite(ctx, invitationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Prepared{}, "", apperr.Preflight(apperr.CodeInviteNotFound, "no invitation for this phone")
		}
		return Prepared{}, "", err
	}
	if inv.Status != store.InvitePending {
		return Prepared{}, "", apperr.Preflight(apperr.CodeInviteAlreadyClaimed,
			fmt.Sprintf("invitation is %s", inv.Status))
	}

	g, err := s.builder.BuildInviteClaim(ctx, invitationID, p.Recipient)
	if err != nil {
		return Prepared{}, "", err
	}

	return Prepared{
		Req: submitter.Request{
			Group:     g,
			AccountID: auth.AccountID,
			Address:   p.Recipient,
		},
		InvitationID: invitationID,
	}, uuid.NewString(), nil
}

// =============================================================================
// Submit
// =============================================================================

// Submit merges the client's signed blobs with the prepared group and pushes
// it through the submitter.
func (s *Service) Submit(ctx context.Context, auth AuthContext, internalID string, signed []string) (submitter.Result, error) {
	prep, ok := s.prepared.take(internalID, auth.UserID)
	if !ok {
		return submitter.Result{}, apperr.Preflight(apperr.CodeExpiredGroup,
			"prepared group not found or expired; prepare again")
	}

	req := prep.Req
	req.UserSignedBlobs = signed

	res, err := s.submitter.Submit(ctx, req)
	s.sponsor.Invalidate(ctx)
	if err != nil {
		return submitter.Result{}, err
	}

	if prep.InvitationID != "" && req.Group.Family == txbuilder.FamilyInviteClaim && res.Confirmed {
		if err := s.store.MarkInviteClaimed(ctx, prep.InvitationID, res.TxID); err != nil {
			s.log.Error(ctx, "invite claim bookkeeping failed", logging.Fields{
				"invitation": prep.InvitationID,
				"error":      err.Error(),
			})
		}
	}
	return res, nil
}

// =============================================================================
// Helpers
// =============================================================================

func unmarshalParams(raw json.RawMessage, into interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return apperr.Wrap(apperr.KindPreflight, "INVALID_PARAMS", "malformed operation parameters", err)
	}
	return nil
}

func parseAmount(s string) (decimal.Decimal, uint64, error) {
	d, err := money.ParseAmount(s)
	if err != nil {
		return decimal.Decimal{}, 0, apperr.Wrap(apperr.KindPreflight, apperr.CodeInvalidAmount, err.Error(), err)
	}
	micro, err := money.ToMicro(d)
	if err != nil {
		return decimal.Decimal{}, 0, apperr.Wrap(apperr.KindPreflight, apperr.CodeInvalidAmount, err.Error(), err)
	}
	return d, micro, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
