package txbuilder

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/algorand/go-algorand-sdk/v2/crypto"
	"github.com/algorand/go-algorand-sdk/v2/types"

	"github.com/Confio-Network/wallet-engine/internal/apperr"
	"github.com/Confio-Network/wallet-engine/internal/chain"
	"github.com/Confio-Network/wallet-engine/internal/logging"
	"github.com/Confio-Network/wallet-engine/internal/signer"
)

// Builder assembles sponsored transaction groups.
type Builder struct {
	gw      chain.Gateway
	sponsor signer.Signer
	admin   signer.Signer

	usdcID   uint64
	cusdID   uint64
	confioID uint64

	cusdAppID   uint64
	inviteAppID uint64

	cusdEscrow   types.Address
	inviteEscrow types.Address

	log *logging.Logger
}

// Config holds builder construction parameters.
type Config struct {
	Gateway chain.Gateway
	Sponsor signer.Signer
	// Admin signs invite-claim groups. Defaults to Sponsor when nil.
	Admin signer.Signer

	USDCAssetID   uint64
	CUSDAssetID   uint64
	ConfioAssetID uint64
	CUSDAppID     uint64
	InviteAppID   uint64

	Logger *logging.Logger
}

// New creates a Builder.
func New(cfg Config) *Builder {
	admin := cfg.Admin
	if admin == nil {
		admin = cfg.Sponsor
	}
	log := cfg.Logger
	if log == nil {
		log = logging.Nop()
	}
	return &Builder{
		gw:           cfg.Gateway,
		sponsor:      cfg.Sponsor,
		admin:        admin,
		usdcID:       cfg.USDCAssetID,
		cusdID:       cfg.CUSDAssetID,
		confioID:     cfg.ConfioAssetID,
		cusdAppID:    cfg.CUSDAppID,
		inviteAppID:  cfg.InviteAppID,
		cusdEscrow:   crypto.GetApplicationAddress(cfg.CUSDAppID),
		inviteEscrow: crypto.GetApplicationAddress(cfg.InviteAppID),
		log:          log,
	}
}

// TrackedAsset reports whether the builder sponsors operations on the asset.
func (b *Builder) TrackedAsset(assetID uint64) bool {
	return assetID == b.usdcID || assetID == b.cusdID || assetID == b.confioID
}

// accountState is the preflight projection of one account_info call.
type accountState struct {
	balance    uint64
	minBalance uint64
	assets     map[uint64]uint64
	apps       map[uint64]bool
}

func (s accountState) optedIntoAsset(id uint64) bool {
	_, ok := s.assets[id]
	return ok
}

func (b *Builder) accountState(ctx context.Context, address string) (accountState, error) {
	acct, err := b.gw.AccountInformation(ctx, address)
	if err != nil {
		return accountState{}, err
	}
	st := accountState{
		balance:    acct.Amount,
		minBalance: acct.MinBalance,
		assets:     make(map[uint64]uint64, len(acct.Assets)),
		apps:       make(map[uint64]bool, len(acct.AppsLocalState)),
	}
	for _, h := range acct.Assets {
		st.assets[h.AssetId] = h.Amount
	}
	for _, a := range acct.AppsLocalState {
		st.apps[a.Id] = true
	}
	return st, nil
}

func decodeAddress(address string) (types.Address, error) {
	addr, err := types.DecodeAddress(address)
	if err != nil {
		return types.Address{}, apperr.Preflight(apperr.CodeInvalidAddress,
			fmt.Sprintf("invalid address %q", address))
	}
	return addr, nil
}

func requirePositive(amount uint64) error {
	if amount == 0 {
		return apperr.Preflight(apperr.CodeInvalidAmount, "amount must be positive")
	}
	return nil
}

func requireBalance(st accountState, assetID, amount uint64, what string) error {
	if st.assets[assetID] < amount {
		return apperr.Preflight(apperr.CodeInsufficientBalance,
			fmt.Sprintf("insufficient %s balance: have %d, need %d", what, st.assets[assetID], amount))
	}
	return nil
}

// abiString encodes an ABI string argument: u16 big-endian length + bytes.
func abiString(s string) []byte {
	out := make([]byte, 2+len(s))
	binary.BigEndian.PutUint16(out, uint16(len(s)))
	copy(out[2:], s)
	return out
}
