package session

import (
	"encoding/base64"
	"encoding/json"
	"errors"

	"github.com/Confio-Network/wallet-engine/internal/apperr"
	"github.com/Confio-Network/wallet-engine/internal/submitter"
	"github.com/Confio-Network/wallet-engine/internal/txbuilder"
)

// Inbound frame types.
const (
	FramePing    = "ping"
	FramePrepare = "prepare"
	FrameSubmit  = "submit"
)

// Outbound frame types.
const (
	FramePong         = "pong"
	FramePrepareReady = "prepare_ready"
	FrameSubmitOK     = "submit_ok"
	FrameError        = "error"
)

// Frame is one inbound client message.
type Frame struct {
	Type   string          `json:"type"`
	Op     string          `json:"op,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`

	InternalID          string            `json:"internal_id,omitempty"`
	SignedTransactions  []string          `json:"signed_transactions,omitempty"`
	SponsorTransactions []json.RawMessage `json:"sponsor_transactions,omitempty"`
}

// Pack is the prepared-group payload handed to the client for signing.
type Pack struct {
	InternalID string `json:"internal_id"`
	// Transactions are the user's unsigned transactions, base64 msgpack, in
	// the order the client must sign and return them.
	Transactions []string `json:"transactions"`
	// SponsorTransactions echo the pre-signed sponsor members so the client
	// can display the full group.
	SponsorTransactions []submitter.SponsorEntry `json:"sponsor_transactions"`
	GroupID             string                   `json:"group_id"`
	GroupSize           int                      `json:"group_size"`
	TotalFee            string                   `json:"total_fee"`
}

// Outbound is one server frame.
type Outbound struct {
	Type       string `json:"type"`
	Pack       *Pack  `json:"pack,omitempty"`
	TxID       string `json:"txid,omitempty"`
	InternalID string `json:"internal_id,omitempty"`

	Message          string `json:"message,omitempty"`
	Code             string `json:"code,omitempty"`
	RequiresAppOptIn bool   `json:"requires_app_optin,omitempty"`
	AppID            uint64 `json:"app_id,omitempty"`
}

// errorFrame renders err as an error frame, exposing the machine code and the
// app-opt-in hint when present.
func errorFrame(err error) Outbound {
	out := Outbound{Type: FrameError, Message: "internal error"}
	var e *apperr.Error
	if errors.As(err, &e) {
		out.Message = e.Msg
		out.Code = e.Code
		out.RequiresAppOptIn = e.RequiresAppOptIn
		out.AppID = e.AppID
	}
	return out
}

// packFromGroup converts a prepared group into the wire pack.
func packFromGroup(internalID string, g *txbuilder.PreparedGroup, totalFee string) *Pack {
	p := &Pack{
		InternalID: internalID,
		GroupID:    base64.StdEncoding.EncodeToString(g.GroupID[:]),
		GroupSize:  g.Size(),
		TotalFee:   totalFee,
	}
	for _, ut := range g.UserTxns {
		p.Transactions = append(p.Transactions, base64.StdEncoding.EncodeToString(ut.UnsignedBytes))
	}
	for _, st := range g.SponsorTxns {
		p.SponsorTransactions = append(p.SponsorTransactions, submitter.SponsorEntry{
			Index:  st.Index,
			Txn:    base64.StdEncoding.EncodeToString(st.UnsignedBytes),
			Signed: base64.StdEncoding.EncodeToString(st.SignedBytes),
		})
	}
	return p
}
