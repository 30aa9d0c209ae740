package txbuilder

import (
	"context"
	"fmt"

	"github.com/algorand/go-algorand-sdk/v2/transaction"
	"github.com/algorand/go-algorand-sdk/v2/types"

	"github.com/Confio-Network/wallet-engine/internal/apperr"
	"github.com/Confio-Network/wallet-engine/internal/chain"
	"github.com/Confio-Network/wallet-engine/internal/invite"
)

// BuildInviteCreate prepares the four-transaction escrow group for a phone
// invitation: fee bump, box-MBR payment, the inviter's AXFER into the app,
// and the sponsor's create_invitation call. The sponsor signs indices 0, 1
// and 3; the inviter signs index 2.
func (b *Builder) BuildInviteCreate(ctx context.Context, inviterAddr, invitationID string, assetID, amountMicro uint64, message string) (*PreparedGroup, error) {
	inviter, err := decodeAddress(inviterAddr)
	if err != nil {
		return nil, err
	}
	if err := requirePositive(amountMicro); err != nil {
		return nil, err
	}
	if len(message) > invite.MaxMessageLen {
		return nil, apperr.Preflight(apperr.CodeMessageTooLong,
			fmt.Sprintf("message is %d bytes, limit %d", len(message), invite.MaxMessageLen))
	}
	if !b.TrackedAsset(assetID) {
		return nil, apperr.Preflight(apperr.CodeInvalidAmount,
			fmt.Sprintf("asset %d cannot be escrowed", assetID))
	}

	st, err := b.accountState(ctx, inviterAddr)
	if err != nil {
		return nil, err
	}
	if !st.optedIntoAsset(assetID) {
		return nil, apperr.Preflight(apperr.CodeUserNotOptedIntoAsset,
			fmt.Sprintf("inviter does not hold asset %d", assetID))
	}
	if err := requireBalance(st, assetID, amountMicro, "escrowed asset"); err != nil {
		return nil, err
	}

	appState, err := b.accountState(ctx, b.inviteEscrow.String())
	if err != nil {
		return nil, err
	}
	if !appState.optedIntoAsset(assetID) {
		return nil, apperr.Preflight(apperr.CodeUserNotOptedIntoAsset,
			fmt.Sprintf("invite application is not opted into asset %d", assetID))
	}

	sp, err := b.gw.SuggestedParams(ctx)
	if err != nil {
		return nil, err
	}
	minFee := chain.MinFee(sp)
	boxMBR := invite.BoxMBR(len(invitationID), len(message))

	feeBump, err := transaction.MakePaymentTxn(b.sponsor.Address(), b.inviteEscrow.String(), 0, nil, "", flatFee(sp, 2*minFee))
	if err != nil {
		return nil, apperr.Fatal("build fee bump", err)
	}
	mbrPay, err := transaction.MakePaymentTxn(b.sponsor.Address(), b.inviteEscrow.String(), boxMBR, nil, "", flatFee(sp, 0))
	if err != nil {
		return nil, apperr.Fatal("build box MBR payment", err)
	}
	axfer, err := transaction.MakeAssetTransferTxn(inviterAddr, b.inviteEscrow.String(), amountMicro, nil, flatFee(sp, 0), "", assetID)
	if err != nil {
		return nil, apperr.Fatal("build escrow transfer", err)
	}
	appCall, err := transaction.MakeApplicationNoOpTxWithBoxes(
		b.inviteAppID,
		[][]byte{SelectorInviteCreate, abiString(invitationID), abiString(message)},
		[]string{inviterAddr}, nil, []uint64{assetID},
		[]types.AppBoxReference{{AppID: 0, Name: []byte(invitationID)}},
		flatFee(sp, 2*minFee), sponsorAddress(b), nil, types.Digest{}, [32]byte{}, types.Address{})
	if err != nil {
		return nil, apperr.Fatal("build create_invitation call", err)
	}

	g, err := finalize(ctx, b.sponsor, FamilyInviteCreate,
		[]types.Transaction{feeBump, mbrPay, axfer, appCall},
		[]int{0, 1, 3}, []int{2}, inviter.String(),
		Totals{TotalFee: 4 * minFee, FundingAmount: boxMBR})
	if err != nil {
		return nil, err
	}
	return g, nil
}

// BuildInviteClaim prepares the admin-signed claim group releasing an escrowed
// invitation to a recipient. The escrowed asset is read from the invitation
// box; the recipient must already hold it.
func (b *Builder) BuildInviteClaim(ctx context.Context, invitationID, recipientAddr string) (*PreparedGroup, error) {
	recipient, err := decodeAddress(recipientAddr)
	if err != nil {
		return nil, err
	}

	raw, err := b.gw.ApplicationBoxByName(ctx, b.inviteAppID, []byte(invitationID))
	if err != nil {
		if apperr.KindOf(err) == apperr.KindFatal {
			return nil, apperr.Preflight(apperr.CodeInviteNotFound,
				fmt.Sprintf("invitation %s has no box", invitationID))
		}
		return nil, err
	}
	box, err := invite.DecodeBox(raw)
	if err != nil {
		return nil, apperr.Fatal("decode invitation box", err)
	}
	if box.IsClaimed || box.IsReclaimed {
		return nil, apperr.Preflight(apperr.CodeInviteAlreadyClaimed,
			fmt.Sprintf("invitation %s was already resolved", invitationID))
	}

	recipientState, err := b.accountState(ctx, recipientAddr)
	if err != nil {
		return nil, err
	}
	if !recipientState.optedIntoAsset(box.AssetID) {
		return nil, apperr.Preflight(apperr.CodeUserNotOptedIntoAsset,
			fmt.Sprintf("recipient does not hold asset %d", box.AssetID))
	}

	sp, err := b.gw.SuggestedParams(ctx)
	if err != nil {
		return nil, err
	}
	minFee := chain.MinFee(sp)

	adminAddr, err := types.DecodeAddress(b.admin.Address())
	if err != nil {
		return nil, apperr.Fatal("decode admin address", err)
	}

	feeBump, err := transaction.MakePaymentTxn(b.admin.Address(), b.admin.Address(), 0, nil, "", flatFee(sp, minFee))
	if err != nil {
		return nil, apperr.Fatal("build fee bump", err)
	}
	appCall, err := transaction.MakeApplicationNoOpTxWithBoxes(
		b.inviteAppID,
		[][]byte{SelectorInviteClaim, abiString(invitationID), recipient[:]},
		[]string{recipientAddr}, nil, []uint64{box.AssetID},
		[]types.AppBoxReference{{AppID: 0, Name: []byte(invitationID)}},
		flatFee(sp, 2*minFee), adminAddr, nil, types.Digest{}, [32]byte{}, types.Address{})
	if err != nil {
		return nil, apperr.Fatal("build claim_invitation call", err)
	}

	// Both members are admin-signed; the client has nothing to sign.
	return finalize(ctx, b.admin, FamilyInviteClaim,
		[]types.Transaction{feeBump, appCall},
		[]int{0, 1}, nil, "",
		Totals{TotalFee: 3 * minFee})
}
