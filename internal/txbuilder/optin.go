package txbuilder

import (
	"context"
	"fmt"

	"github.com/algorand/go-algorand-sdk/v2/transaction"
	"github.com/algorand/go-algorand-sdk/v2/types"

	"github.com/Confio-Network/wallet-engine/internal/apperr"
	"github.com/Confio-Network/wallet-engine/internal/chain"
)

// Minimum-balance increments imposed by the ledger.
const (
	// AssetOptInMBR is the per-asset holding increment.
	AssetOptInMBR = 100_000
	// AppOptInBaseMBR is the per-app local-state base increment.
	AppOptInBaseMBR = 100_000
	// AppUintSlotMBR is the per-uint64 local-state slot increment.
	AppUintSlotMBR = 28_500
	// cusdLocalUints is the cUSD app's local-state schema.
	cusdLocalUints = 2
)

// CUSDAppOptInMBR is the deterministic minimum-balance increase of opting
// into the cUSD application.
const CUSDAppOptInMBR = AppOptInBaseMBR + AppUintSlotMBR*cusdLocalUints

// BuildAssetOptIn prepares the two-transaction asset opt-in group: a sponsor
// fee-bump payment followed by the user's zero-amount self-transfer.
func (b *Builder) BuildAssetOptIn(ctx context.Context, userAddr string, assetID uint64) (*PreparedGroup, error) {
	user, err := decodeAddress(userAddr)
	if err != nil {
		return nil, err
	}

	st, err := b.accountState(ctx, userAddr)
	if err != nil {
		return nil, err
	}
	if st.optedIntoAsset(assetID) {
		return nil, apperr.Preflight(apperr.CodeAlreadyOptedIn,
			fmt.Sprintf("account already holds asset %d", assetID))
	}

	sp, err := b.gw.SuggestedParams(ctx)
	if err != nil {
		return nil, err
	}
	minFee := chain.MinFee(sp)
	amount := fundingAmount(st.balance, st.minBalance, minFee)

	pay, err := transaction.MakePaymentTxn(b.sponsor.Address(), userAddr, amount, nil, "", flatFee(sp, 2*minFee))
	if err != nil {
		return nil, apperr.Fatal("build sponsor payment", err)
	}
	accept, err := transaction.MakeAssetAcceptanceTxn(userAddr, nil, flatFee(sp, 0), assetID)
	if err != nil {
		return nil, apperr.Fatal("build asset acceptance", err)
	}

	return finalize(ctx, b.sponsor, FamilyOptIn,
		[]types.Transaction{pay, accept},
		[]int{0}, []int{1}, user.String(),
		Totals{TotalFee: 2 * minFee, FundingAmount: amount})
}

// BuildAppOptIn prepares the cUSD application opt-in group. The opt-in call
// carries the app's own opt_in selector so the program can initialize the two
// local-state slots.
func (b *Builder) BuildAppOptIn(ctx context.Context, userAddr string) (*PreparedGroup, error) {
	user, err := decodeAddress(userAddr)
	if err != nil {
		return nil, err
	}

	st, err := b.accountState(ctx, userAddr)
	if err != nil {
		return nil, err
	}
	if st.apps[b.cusdAppID] {
		return nil, apperr.Preflight(apperr.CodeAlreadyOptedIn,
			fmt.Sprintf("account already opted into app %d", b.cusdAppID))
	}

	sp, err := b.gw.SuggestedParams(ctx)
	if err != nil {
		return nil, err
	}
	minFee := chain.MinFee(sp)
	amount := fundingAmount(st.balance, st.minBalance, minFee)

	pay, err := transaction.MakePaymentTxn(b.sponsor.Address(), userAddr, amount, nil, "", flatFee(sp, 2*minFee))
	if err != nil {
		return nil, apperr.Fatal("build sponsor payment", err)
	}
	optIn, err := transaction.MakeApplicationOptInTx(
		b.cusdAppID, [][]byte{SelectorAppOptIn}, nil, nil, nil,
		flatFee(sp, 0), user, nil, types.Digest{}, [32]byte{}, types.Address{})
	if err != nil {
		return nil, apperr.Fatal("build app opt-in", err)
	}

	return finalize(ctx, b.sponsor, FamilyAppOptIn,
		[]types.Transaction{pay, optIn},
		[]int{0}, []int{1}, user.String(),
		Totals{TotalFee: 2 * minFee, FundingAmount: amount})
}
