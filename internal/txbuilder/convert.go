package txbuilder

import (
	"context"
	"fmt"

	"github.com/algorand/go-algorand-sdk/v2/transaction"
	"github.com/algorand/go-algorand-sdk/v2/types"

	"github.com/Confio-Network/wallet-engine/internal/apperr"
	"github.com/Confio-Network/wallet-engine/internal/chain"
)

// BuildMint prepares the USDC to cUSD conversion group. Indices are fixed by
// the on-chain program: payment, collateral AXFER, then the sponsor app call
// whose fee also covers the two inner transactions.
func (b *Builder) BuildMint(ctx context.Context, userAddr string, usdcMicro uint64) (*PreparedGroup, error) {
	return b.buildConversion(ctx, userAddr, usdcMicro, FamilyMint)
}

// BuildBurn prepares the cUSD to USDC conversion group. Same shape as mint;
// the app call budgets up to three inner transactions.
func (b *Builder) BuildBurn(ctx context.Context, userAddr string, cusdMicro uint64) (*PreparedGroup, error) {
	return b.buildConversion(ctx, userAddr, cusdMicro, FamilyBurn)
}

func (b *Builder) buildConversion(ctx context.Context, userAddr string, amountMicro uint64, family Family) (*PreparedGroup, error) {
	user, err := decodeAddress(userAddr)
	if err != nil {
		return nil, err
	}
	if err := requirePositive(amountMicro); err != nil {
		return nil, err
	}

	st, err := b.accountState(ctx, userAddr)
	if err != nil {
		return nil, err
	}
	if !st.optedIntoAsset(b.usdcID) {
		return nil, apperr.Preflight(apperr.CodeUserNotOptedIntoAsset, "account does not hold USDC")
	}
	if !st.optedIntoAsset(b.cusdID) {
		return nil, apperr.Preflight(apperr.CodeUserNotOptedIntoAsset, "account does not hold cUSD")
	}
	if !st.apps[b.cusdAppID] {
		return nil, apperr.PreflightAppOptIn(b.cusdAppID)
	}

	collateralAsset, appSel, appFee, what := b.usdcID, SelectorMint, uint64(3), "USDC"
	if family == FamilyBurn {
		collateralAsset, appSel, appFee, what = b.cusdID, SelectorBurn, 4, "cUSD"
	}
	if err := requireBalance(st, collateralAsset, amountMicro, what); err != nil {
		return nil, err
	}

	sp, err := b.gw.SuggestedParams(ctx)
	if err != nil {
		return nil, err
	}
	minFee := chain.MinFee(sp)

	// The app asserts Gtxn[0] pays the user at least min_fee.
	funding := fundingAmount(st.balance, st.minBalance, minFee)
	if funding < minFee {
		funding = minFee
	}

	pay, err := transaction.MakePaymentTxn(b.sponsor.Address(), userAddr, funding, nil, "", flatFee(sp, minFee))
	if err != nil {
		return nil, apperr.Fatal("build sponsor payment", err)
	}
	axfer, err := transaction.MakeAssetTransferTxn(userAddr, b.cusdEscrow.String(), amountMicro, nil, flatFee(sp, 0), "", collateralAsset)
	if err != nil {
		return nil, apperr.Fatal("build collateral transfer", err)
	}
	appCall, err := transaction.MakeApplicationNoOpTx(
		b.cusdAppID, [][]byte{appSel},
		[]string{userAddr}, nil, []uint64{b.usdcID, b.cusdID},
		flatFee(sp, appFee*minFee), sponsorAddress(b), nil, types.Digest{}, [32]byte{}, types.Address{})
	if err != nil {
		return nil, apperr.Fatal(fmt.Sprintf("build %s app call", family), err)
	}

	return finalize(ctx, b.sponsor, family,
		[]types.Transaction{pay, axfer, appCall},
		[]int{0, 2}, []int{1}, user.String(),
		Totals{TotalFee: (1 + appFee) * minFee, FundingAmount: funding})
}

func sponsorAddress(b *Builder) types.Address {
	addr, _ := types.DecodeAddress(b.sponsor.Address())
	return addr
}
