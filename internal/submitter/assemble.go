package submitter

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/Confio-Network/wallet-engine/internal/apperr"
	"github.com/Confio-Network/wallet-engine/internal/txbuilder"
)

// SponsorEntry is the sponsor-member JSON the session hands to the client and
// receives back on submit.
type SponsorEntry struct {
	Index  int    `json:"index"`
	Txn    string `json:"txn,omitempty"`
	Signed string `json:"signed"`
}

// DecodeSponsorEntries parses client-echoed sponsor entries. Clients have
// shipped these both as objects and as stringified JSON; both forms decode.
func DecodeSponsorEntries(raw []json.RawMessage) ([]SponsorEntry, error) {
	entries := make([]SponsorEntry, 0, len(raw))
	for i, r := range raw {
		var e SponsorEntry
		if err := json.Unmarshal(r, &e); err == nil && (e.Signed != "" || e.Txn != "") {
			entries = append(entries, e)
			continue
		}
		var s string
		if err := json.Unmarshal(r, &s); err != nil {
			return nil, apperr.E(apperr.KindFatal, apperr.CodeGroupShapeMismatch,
				fmt.Sprintf("sponsor entry %d is neither object nor string", i))
		}
		if err := json.Unmarshal([]byte(s), &e); err != nil {
			return nil, apperr.E(apperr.KindFatal, apperr.CodeGroupShapeMismatch,
				fmt.Sprintf("sponsor entry %d: invalid stringified JSON", i))
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// DecodeBase64Flexible decodes standard or URL-safe base64, with or without
// padding.
func DecodeBase64Flexible(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		if b, err := enc.DecodeString(s); err == nil {
			return b, nil
		}
	}
	return nil, fmt.Errorf("undecodable base64 payload")
}

// Assemble merges the pre-signed sponsor members with the user's signed blobs
// into one concatenated byte string in group order.
func Assemble(g *txbuilder.PreparedGroup, userBlobs []string) ([]byte, error) {
	size := g.Size()
	if len(userBlobs) != len(g.UserTxns) {
		return nil, apperr.E(apperr.KindFatal, apperr.CodeGroupShapeMismatch,
			fmt.Sprintf("got %d user blobs for %d user slots in a group of %d", len(userBlobs), len(g.UserTxns), size))
	}

	slots := make([][]byte, size)
	for _, st := range g.SponsorTxns {
		if st.Index < 0 || st.Index >= size {
			return nil, apperr.E(apperr.KindFatal, apperr.CodeGroupShapeMismatch,
				fmt.Sprintf("sponsor index %d outside group of %d", st.Index, size))
		}
		slots[st.Index] = st.SignedBytes
	}

	// User blobs fill the remaining indices in submission order.
	userIdx := make([]int, 0, len(g.UserTxns))
	for _, ut := range g.UserTxns {
		userIdx = append(userIdx, ut.Index)
	}
	sort.Ints(userIdx)
	for i, blob := range userBlobs {
		idx := userIdx[i]
		if slots[idx] != nil {
			return nil, apperr.E(apperr.KindFatal, apperr.CodeGroupShapeMismatch,
				fmt.Sprintf("index %d claimed by both sponsor and user", idx))
		}
		raw, err := DecodeBase64Flexible(blob)
		if err != nil {
			return nil, apperr.E(apperr.KindFatal, apperr.CodeGroupShapeMismatch,
				fmt.Sprintf("user blob %d: %v", i, err))
		}
		if len(raw) == 0 {
			return nil, apperr.E(apperr.KindFatal, apperr.CodeGroupShapeMismatch,
				fmt.Sprintf("user blob %d is empty", i))
		}
		slots[idx] = raw
	}

	var out []byte
	for i, slot := range slots {
		if slot == nil {
			return nil, apperr.E(apperr.KindFatal, apperr.CodeGroupShapeMismatch,
				fmt.Sprintf("group slot %d left unfilled", i))
		}
		out = append(out, slot...)
	}
	return out, nil
}
