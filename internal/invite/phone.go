// Package invite implements the phone-keyed escrow invitation primitives:
// canonical phone keys, invitation id derivation, and the on-chain box layout
// shared with the invite application.
package invite

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/Confio-Network/wallet-engine/internal/apperr"
)

// MaxMessageLen bounds the invitation message stored in the box.
const MaxMessageLen = 256

// callingCodes maps ISO 3166-1 alpha-2 codes to numeric calling codes for the
// markets the wallet serves. Unknown ISO codes are rejected; callers may also
// pass a "+<code>" calling code directly.
var callingCodes = map[string]string{
	"US": "1", "CA": "1",
	"MX": "52", "GT": "502", "SV": "503", "HN": "504", "NI": "505",
	"CR": "506", "PA": "507", "CU": "53", "DO": "1",
	"CO": "57", "VE": "58", "EC": "593", "PE": "51", "BO": "591",
	"PY": "595", "UY": "598", "AR": "54", "CL": "56", "BR": "55",
	"ES": "34",
}

// CanonicalPhoneKey derives "<calling_code>:<local_digits>" from a phone
// number and a region hint. The region is either an ISO country code ("US")
// or an explicit calling code ("+1"). E.164 input ("+19293993619") and local
// input ("9293993619") normalize to the same key, as does local input with
// the calling code already prefixed ("19293993619").
func CanonicalPhoneKey(phone, region string) (string, error) {
	digits := digitsOf(phone)
	if digits == "" {
		return "", apperr.Preflight(apperr.CodeInvalidPhone, "phone number has no digits")
	}

	code, err := callingCode(region)
	if err != nil {
		return "", err
	}

	local := digits
	if strings.HasPrefix(phone, "+") {
		if !strings.HasPrefix(digits, code) {
			return "", apperr.Preflight(apperr.CodeInvalidPhone,
				fmt.Sprintf("phone calling code does not match region %s", region))
		}
		local = digits[len(code):]
	} else if strings.HasPrefix(digits, code) && len(digits) > 10 {
		// Local input with the calling code typed out.
		local = digits[len(code):]
	}

	if len(local) < 4 || len(local) > 14 {
		return "", apperr.Preflight(apperr.CodeInvalidPhone, "phone number length out of range")
	}
	return code + ":" + local, nil
}

// InvitationID derives the bounded box name for a canonical phone key:
// "ph:" plus the first 56 hex characters of SHA-256(key). The result is
// always under 64 bytes, the ledger's box-name limit.
func InvitationID(phoneKey string) string {
	sum := sha256.Sum256([]byte(phoneKey))
	return "ph:" + hex.EncodeToString(sum[:])[:56]
}

func callingCode(region string) (string, error) {
	region = strings.TrimSpace(region)
	if strings.HasPrefix(region, "+") {
		code := digitsOf(region)
		if code == "" {
			return "", apperr.Preflight(apperr.CodeInvalidPhone, "invalid calling code")
		}
		return code, nil
	}
	code, ok := callingCodes[strings.ToUpper(region)]
	if !ok {
		return "", apperr.Preflight(apperr.CodeInvalidPhone, fmt.Sprintf("unsupported country code %q", region))
	}
	return code, nil
}

func digitsOf(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
