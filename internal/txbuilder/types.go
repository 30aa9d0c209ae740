// Package txbuilder assembles the unsigned atomic transaction groups for the
// sponsored operation families.
//
// Builders are pure: given a chain-params snapshot and account state they
// produce an ordered transaction list with fixed sponsor indices, user indices
// filling the gaps, pooled fees, and the sponsor's MBR top-up. Nothing here
// touches the network or the database.
package txbuilder

import (
	"context"
	"crypto/sha512"

	"github.com/algorand/go-algorand-sdk/v2/crypto"
	"github.com/algorand/go-algorand-sdk/v2/encoding/msgpack"
	"github.com/algorand/go-algorand-sdk/v2/types"

	"github.com/Confio-Network/wallet-engine/internal/signer"
)

// Family identifies a sponsored operation family.
type Family string

const (
	FamilyOptIn        Family = "optin"
	FamilyAppOptIn     Family = "appoptin"
	FamilyTransfer     Family = "transfer"
	FamilyMint         Family = "mint"
	FamilyBurn         Family = "burn"
	FamilyWithdraw     Family = "withdraw"
	FamilyInviteCreate Family = "invite_create"
	FamilyInviteClaim  Family = "invite_claim"
)

// FeeMultiplier returns the total group fee for the family in units of
// min_fee, pooled across the group with users declaring zero.
func FeeMultiplier(f Family) uint64 {
	switch f {
	case FamilyOptIn, FamilyAppOptIn, FamilyTransfer, FamilyWithdraw:
		return 2
	case FamilyMint:
		return 4 // payment + axfer + app call with 2 inners
	case FamilyBurn:
		return 5 // payment + axfer + app call with up to 3 inners
	case FamilyInviteCreate:
		return 4 // fee bump + MBR payment + axfer + app call
	case FamilyInviteClaim:
		return 3 // fee bump + app call with 1 inner
	default:
		return 2
	}
}

// SponsorTxn is a sponsor-side group member, pre-signed before the client
// ever sees the group.
type SponsorTxn struct {
	Index    int
	Unsigned types.Transaction
	// UnsignedBytes is the msgpack encoding handed to the client for display.
	UnsignedBytes []byte
	// SignedBytes is the msgpack-encoded signed transaction.
	SignedBytes []byte
	TxID        string
}

// UserTxn is a group member the user must sign.
type UserTxn struct {
	Index          int
	Unsigned       types.Transaction
	UnsignedBytes  []byte
	RequiredSigner string
}

// Totals summarizes a group's economics.
type Totals struct {
	// TotalFee is the sum of declared fees across the group, in microalgos.
	TotalFee uint64
	// FundingAmount is the sponsor's MBR top-up, 0 when the account is funded.
	FundingAmount uint64
}

// PreparedGroup is the builder output handed to the session channel.
type PreparedGroup struct {
	Family      Family
	GroupID     types.Digest
	SponsorTxns []SponsorTxn
	UserTxns    []UserTxn
	Totals      Totals
	// ReferenceTxID is the last transaction's txid, stored as the row's
	// primary transaction hash.
	ReferenceTxID string
}

// Size returns the group's transaction count.
func (g *PreparedGroup) Size() int {
	return len(g.SponsorTxns) + len(g.UserTxns)
}

// selector computes the 4-byte ABI method selector for a signature.
func selector(sig string) []byte {
	sum := sha512.Sum512_256([]byte(sig))
	return sum[:4]
}

// ABI selectors of the external applications, fixed by the deployed programs.
var (
	SelectorAppOptIn      = selector("opt_in()void")
	SelectorMint          = selector("mint_with_collateral()void")
	SelectorBurn          = selector("burn_for_collateral()void")
	SelectorInviteCreate  = selector("create_invitation(string,axfer,string)void")
	SelectorInviteClaim   = selector("claim_invitation(string,address)void")
)

// flatFee returns a params copy declaring the exact flat fee.
func flatFee(sp types.SuggestedParams, fee uint64) types.SuggestedParams {
	sp.FlatFee = true
	sp.Fee = types.MicroAlgos(fee)
	return sp
}

// fundingAmount computes the sponsor payment amount for an account: the exact
// MBR shortfall when underfunded, else zero (fee-bump only). The on-chain
// programs assert Gtxn[0].amount() >= min_fee, so a non-zero top-up is never
// below min_fee.
func fundingAmount(balance, minBalance, minFee uint64) uint64 {
	if balance >= minBalance+minFee {
		return 0
	}
	shortfall := minBalance + minFee - balance
	if shortfall < minFee {
		shortfall = minFee
	}
	return shortfall
}

// finalize assigns the group id, signs the sponsor members, and computes the
// reference txid (the last transaction in the ordered array).
func finalize(ctx context.Context, sg signer.Signer, family Family, ordered []types.Transaction, sponsorIdx []int, userIdx []int, userAddr string, totals Totals) (*PreparedGroup, error) {
	gid, err := crypto.ComputeGroupID(ordered)
	if err != nil {
		return nil, err
	}
	for i := range ordered {
		ordered[i].Group = gid
	}

	g := &PreparedGroup{Family: family, GroupID: gid, Totals: totals}

	for _, i := range sponsorIdx {
		txid, stx, err := sg.Sign(ctx, ordered[i])
		if err != nil {
			return nil, err
		}
		g.SponsorTxns = append(g.SponsorTxns, SponsorTxn{
			Index:         i,
			Unsigned:      ordered[i],
			UnsignedBytes: msgpack.Encode(&ordered[i]),
			SignedBytes:   stx,
			TxID:          txid,
		})
	}
	for _, i := range userIdx {
		g.UserTxns = append(g.UserTxns, UserTxn{
			Index:          i,
			Unsigned:       ordered[i],
			UnsignedBytes:  msgpack.Encode(&ordered[i]),
			RequiredSigner: userAddr,
		})
	}

	g.ReferenceTxID = crypto.GetTxID(ordered[len(ordered)-1])
	return g, nil
}
