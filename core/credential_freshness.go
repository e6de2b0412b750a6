package core

import (
	"strings"
	"time"
)

const DefaultRefreshSkew = 5 * time.Minute

// TokenState captures the access/refresh lifecycle derived from a stored
// connection at a point in time.
type TokenState struct {
	ExpiresAt       *time.Time
	HasAccessToken  bool
	HasRefreshToken bool
	IsExpired       bool
	IsExpiringSoon  bool
}

// ResolveTokenState evaluates expiry flags for a connection.
func ResolveTokenState(now time.Time, conn BankConnection, refreshSkew time.Duration) TokenState {
	if now.IsZero() {
		now = time.Now().UTC()
	} else {
		now = now.UTC()
	}
	if refreshSkew <= 0 {
		refreshSkew = DefaultRefreshSkew
	}

	state := TokenState{
		HasAccessToken:  strings.TrimSpace(conn.AccessToken) != "",
		HasRefreshToken: conn.HasRefreshToken(),
	}
	if conn.TokenExpiresAt == nil {
		return state
	}
	expiresAt := conn.TokenExpiresAt.UTC()
	state.ExpiresAt = &expiresAt
	if !expiresAt.After(now) {
		state.IsExpired = true
		return state
	}
	state.IsExpiringSoon = !expiresAt.After(now.Add(refreshSkew))
	return state
}

// ShouldRefreshToken reports whether a proactive refresh is due before using
// the access token.
func ShouldRefreshToken(now time.Time, state TokenState, refreshSkew time.Duration) bool {
	if !state.HasRefreshToken {
		return false
	}
	if !state.HasAccessToken {
		return true
	}
	if state.ExpiresAt == nil {
		return false
	}
	if refreshSkew <= 0 {
		refreshSkew = DefaultRefreshSkew
	}
	if now.IsZero() {
		now = time.Now().UTC()
	} else {
		now = now.UTC()
	}
	return !state.ExpiresAt.UTC().After(now.Add(refreshSkew))
}
