// Package session implements the client-facing JSON frame protocol over a
// WebSocket channel: prepare/submit round trips, keepalives, and token
// authentication.
package session

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Confio-Network/wallet-engine/internal/apperr"
)

// CloseUnauthorized is the WebSocket close code sent on failed authentication.
const CloseUnauthorized = 4401

// AuthContext identifies the authenticated principal behind a channel.
type AuthContext struct {
	UserID     string
	BusinessID string
	AccountID  string
	// AccountType distinguishes personal from business wallets; AccountIndex
	// selects among a user's derived accounts.
	AccountType  string
	AccountIndex int
	Address      string
	Admin        bool
}

type sessionClaims struct {
	UserID       string `json:"user_id"`
	BusinessID   string `json:"business_id,omitempty"`
	AccountID    string `json:"account_id"`
	AccountType  string `json:"account_type,omitempty"`
	AccountIndex int    `json:"account_index,omitempty"`
	Address      string `json:"address"`
	Admin        bool   `json:"admin,omitempty"`
	jwt.RegisteredClaims
}

// Authenticate validates a bearer token and returns the principal.
func Authenticate(secret []byte, token string) (AuthContext, error) {
	if token == "" {
		return AuthContext{}, apperr.E(apperr.KindPreflight, "UNAUTHENTICATED", "missing session token")
	}

	var claims sessionClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil || !parsed.Valid {
		return AuthContext{}, apperr.Wrap(apperr.KindPreflight, "UNAUTHENTICATED", "invalid session token", err)
	}
	if claims.UserID == "" || claims.Address == "" {
		return AuthContext{}, apperr.E(apperr.KindPreflight, "UNAUTHENTICATED", "token missing principal claims")
	}

	return AuthContext{
		UserID:       claims.UserID,
		BusinessID:   claims.BusinessID,
		AccountID:    claims.AccountID,
		AccountType:  claims.AccountType,
		AccountIndex: claims.AccountIndex,
		Address:      claims.Address,
		Admin:        claims.Admin,
	}, nil
}
