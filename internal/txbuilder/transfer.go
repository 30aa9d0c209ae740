package txbuilder

import (
	"context"
	"fmt"

	"github.com/algorand/go-algorand-sdk/v2/transaction"
	"github.com/algorand/go-algorand-sdk/v2/types"

	"github.com/Confio-Network/wallet-engine/internal/apperr"
	"github.com/Confio-Network/wallet-engine/internal/chain"
)

// BuildTransfer prepares the sponsored single-recipient asset transfer:
// sponsor fee-bump payment plus the user's AXFER with fee zero.
func (b *Builder) BuildTransfer(ctx context.Context, userAddr, recipientAddr string, assetID, amountMicro uint64) (*PreparedGroup, error) {
	user, err := decodeAddress(userAddr)
	if err != nil {
		return nil, err
	}
	if _, err := decodeAddress(recipientAddr); err != nil {
		return nil, err
	}
	if err := requirePositive(amountMicro); err != nil {
		return nil, err
	}

	st, err := b.accountState(ctx, userAddr)
	if err != nil {
		return nil, err
	}
	if !st.optedIntoAsset(assetID) {
		return nil, apperr.Preflight(apperr.CodeUserNotOptedIntoAsset,
			fmt.Sprintf("sender does not hold asset %d", assetID))
	}
	if err := requireBalance(st, assetID, amountMicro, "asset"); err != nil {
		return nil, err
	}

	recipient, err := b.accountState(ctx, recipientAddr)
	if err != nil {
		return nil, err
	}
	if !recipient.optedIntoAsset(assetID) {
		return nil, apperr.Preflight(apperr.CodeUserNotOptedIntoAsset,
			fmt.Sprintf("recipient does not hold asset %d", assetID))
	}

	sp, err := b.gw.SuggestedParams(ctx)
	if err != nil {
		return nil, err
	}
	minFee := chain.MinFee(sp)
	funding := fundingAmount(st.balance, st.minBalance, minFee)

	pay, err := transaction.MakePaymentTxn(b.sponsor.Address(), userAddr, funding, nil, "", flatFee(sp, 2*minFee))
	if err != nil {
		return nil, apperr.Fatal("build sponsor payment", err)
	}
	axfer, err := transaction.MakeAssetTransferTxn(userAddr, recipientAddr, amountMicro, nil, flatFee(sp, 0), "", assetID)
	if err != nil {
		return nil, apperr.Fatal("build asset transfer", err)
	}

	return finalize(ctx, b.sponsor, FamilyTransfer,
		[]types.Transaction{pay, axfer},
		[]int{0}, []int{1}, user.String(),
		Totals{TotalFee: 2 * minFee, FundingAmount: funding})
}

// BuildWithdraw prepares the sponsored USDC withdrawal to an external address.
// The shape matches a transfer; the destination is not required to be a
// tracked account, only opted into USDC.
func (b *Builder) BuildWithdraw(ctx context.Context, userAddr, destAddr string, amountMicro uint64) (*PreparedGroup, error) {
	g, err := b.BuildTransfer(ctx, userAddr, destAddr, b.usdcID, amountMicro)
	if err != nil {
		return nil, err
	}
	g.Family = FamilyWithdraw
	return g, nil
}
