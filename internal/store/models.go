package store

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

// Account types.
const (
	AccountTypePersonal = "personal"
	AccountTypeBusiness = "business"
)

// Transfer statuses.
const (
	TransferPending    = "PENDING"
	TransferSponsoring = "SPONSORING"
	TransferSigned     = "SIGNED"
	TransferSubmitted  = "SUBMITTED"
	TransferConfirmed  = "CONFIRMED"
	TransferFailed     = "FAILED"
)

// Conversion statuses.
const (
	ConversionPending    = "PENDING"
	ConversionPendingSig = "PENDING_SIG"
	ConversionSubmitted  = "SUBMITTED"
	ConversionProcessing = "PROCESSING"
	ConversionCompleted  = "COMPLETED"
	ConversionFailed     = "FAILED"
)

// Conversion directions.
const (
	DirectionUSDCToCUSD = "usdc_to_cusd"
	DirectionCUSDToUSDC = "cusd_to_usdc"
)

// Deposit / withdrawal statuses.
const (
	MovementPending    = "PENDING"
	MovementProcessing = "PROCESSING"
	MovementCompleted  = "COMPLETED"
	MovementFailed     = "FAILED"
)

// Phone invite statuses.
const (
	InvitePending  = "pending"
	InviteClaimed  = "claimed"
	InviteReclaimed = "reclaimed"
)

// ExternalDisplayName is the display name given to deposits from untracked
// addresses.
const ExternalDisplayName = "Billetera externa"

// Account is a wallet account owned by a user or a business.
type Account struct {
	ID           string         `db:"id"`
	OwnerUserID  sql.NullString `db:"owner_user_id"`
	BusinessID   sql.NullString `db:"business_id"`
	AccountType  string         `db:"account_type"`
	AccountIndex int            `db:"account_index"`
	Address      string         `db:"address"`
	DisplayName  string         `db:"display_name"`
	CreatedAt    time.Time      `db:"created_at"`
	DeletedAt    sql.NullTime   `db:"deleted_at"`
}

// Transfer is a durable record of an asset movement between two parties.
// Exactly one of the user/business/external identities is concrete per side.
type Transfer struct {
	ID                  string          `db:"id"`
	SenderUserID        sql.NullString  `db:"sender_user_id"`
	SenderBusinessID    sql.NullString  `db:"sender_business_id"`
	SenderExternal      bool            `db:"sender_external"`
	SenderAddress       string          `db:"sender_address"`
	SenderDisplayName   string          `db:"sender_display_name"`
	RecipientUserID     sql.NullString  `db:"recipient_user_id"`
	RecipientBusinessID sql.NullString  `db:"recipient_business_id"`
	RecipientExternal   bool            `db:"recipient_external"`
	RecipientAddress    string          `db:"recipient_address"`
	Amount              decimal.Decimal `db:"amount"`
	AssetID             uint64          `db:"asset_id"`
	Memo                string          `db:"memo"`
	Status              string          `db:"status"`
	TransactionHash     sql.NullString  `db:"transaction_hash"`
	IdempotencyKey      sql.NullString  `db:"idempotency_key"`
	IsInvitation        bool            `db:"is_invitation"`
	InvitationExpiresAt sql.NullTime    `db:"invitation_expires_at"`
	ErrorMessage        sql.NullString  `db:"error_message"`
	CreatedAt           time.Time       `db:"created_at"`
	UpdatedAt           time.Time       `db:"updated_at"`
	DeletedAt           sql.NullTime    `db:"deleted_at"`
}

// Conversion is a cUSD mint or burn backed 1:1 by USDC.
type Conversion struct {
	ID           string          `db:"id"`
	UserID       sql.NullString  `db:"user_id"`
	BusinessID   sql.NullString  `db:"business_id"`
	Direction    string          `db:"direction"`
	FromAmount   decimal.Decimal `db:"from_amount"`
	ToAmount     decimal.Decimal `db:"to_amount"`
	ExchangeRate decimal.Decimal `db:"exchange_rate"`
	Fee          decimal.Decimal `db:"fee"`
	Status       string          `db:"status"`
	FromTxHash   sql.NullString  `db:"from_tx_hash"`
	ToTxHash     sql.NullString  `db:"to_tx_hash"`
	ErrorMessage sql.NullString  `db:"error_message"`
	CreatedAt    time.Time       `db:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at"`
}

// Deposit is an inbound USDC movement from an external network address.
type Deposit struct {
	ID            string          `db:"id"`
	UserID        sql.NullString  `db:"user_id"`
	BusinessID    sql.NullString  `db:"business_id"`
	Amount        decimal.Decimal `db:"amount"`
	FromAddress   string          `db:"from_address"`
	Network       string          `db:"network"`
	Status        string          `db:"status"`
	TransactionHash sql.NullString `db:"transaction_hash"`
	OnRampOrderID sql.NullString  `db:"onramp_order_id"`
	CreatedAt     time.Time       `db:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at"`
}

// Withdrawal is an outbound USDC movement to an external network address.
type Withdrawal struct {
	ID              string          `db:"id"`
	UserID          sql.NullString  `db:"user_id"`
	BusinessID      sql.NullString  `db:"business_id"`
	Amount          decimal.Decimal `db:"amount"`
	ToAddress       string          `db:"to_address"`
	Network         string          `db:"network"`
	ServiceFee      decimal.Decimal `db:"service_fee"`
	Status          string          `db:"status"`
	TransactionHash sql.NullString  `db:"transaction_hash"`
	ErrorMessage    sql.NullString  `db:"error_message"`
	CreatedAt       time.Time       `db:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at"`
}

// PhoneInvite mirrors an on-chain phone-keyed escrow invitation.
type PhoneInvite struct {
	InvitationID  string          `db:"invitation_id"`
	PhoneKey      string          `db:"phone_key"`
	InviterUserID string          `db:"inviter_user_id"`
	AssetID       uint64          `db:"asset_id"`
	Amount        decimal.Decimal `db:"amount"`
	Message       string          `db:"message"`
	Status        string          `db:"status"`
	ExpiresAt     time.Time       `db:"expires_at"`
	ClaimedTxID   sql.NullString  `db:"claimed_txid"`
	ClaimedAt     sql.NullTime    `db:"claimed_at"`
	CreatedAt     time.Time       `db:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at"`
}

// Balance is the durable tier of the per-(account, asset) balance cache.
type Balance struct {
	AccountID           string          `db:"account_id"`
	Address             string          `db:"address"`
	AssetID             uint64          `db:"asset_id"`
	Amount              decimal.Decimal `db:"amount"`
	PendingAmount       decimal.Decimal `db:"pending_amount"`
	IsStale             bool            `db:"is_stale"`
	LastSynced          sql.NullTime    `db:"last_synced"`
	LastBlockchainCheck sql.NullTime    `db:"last_blockchain_check"`
	SyncAttempts        int             `db:"sync_attempts"`
}

// ProcessedInboundTx is the scanner's idempotency marker, unique on (txid, intra).
type ProcessedInboundTx struct {
	TxID           string    `db:"txid"`
	Intra          uint64    `db:"intra"`
	AssetID        uint64    `db:"asset_id"`
	Sender         string    `db:"sender"`
	Receiver       string    `db:"receiver"`
	ConfirmedRound uint64    `db:"confirmed_round"`
	CreatedAt      time.Time `db:"created_at"`
}

// AssetCursor is the scanner's per-asset indexer position.
type AssetCursor struct {
	AssetID   uint64         `db:"asset_id"`
	LastRound uint64         `db:"last_round"`
	NextToken sql.NullString `db:"next_token"`
	UpdatedAt time.Time      `db:"updated_at"`
}

// OnRampOrder mirrors a fiat on-ramp provider order for reconciliation.
type OnRampOrder struct {
	ID                string          `db:"id"`
	ProviderOrderID   string          `db:"provider_order_id"`
	UserID            sql.NullString  `db:"user_id"`
	BusinessID        sql.NullString  `db:"business_id"`
	Status            string          `db:"status"`
	ToAmountEstimated decimal.Decimal `db:"to_amount_estimated"`
	ToAmountActual    decimal.Decimal `db:"to_amount_actual"`
	CreatedAt         time.Time       `db:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at"`
}

// WalletEvent is the unified append-only read model row, written in the same
// database transaction that advances the source record.
type WalletEvent struct {
	ID        string    `db:"id"`
	Kind      string    `db:"kind"` // transfer | conversion | deposit | withdrawal | invite
	RefID     string    `db:"ref_id"`
	TxHash    string    `db:"tx_hash"`
	Payload   []byte    `db:"payload"`
	CreatedAt time.Time `db:"created_at"`
}
