package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// keyedMutex serializes work per (user, provider) key. Refresh tokens are
// single-use on most aggregators, so two concurrent refreshes for the same
// connection must never race.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: map[string]*sync.Mutex{}}
}

func (m *keyedMutex) Lock(key string) {
	m.mu.Lock()
	lock, ok := m.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[key] = lock
	}
	m.mu.Unlock()
	lock.Lock()
}

func (m *keyedMutex) Unlock(key string) {
	m.mu.Lock()
	lock, ok := m.locks[key]
	m.mu.Unlock()
	if ok {
		lock.Unlock()
	}
}

func connectionKey(userID, provider string) string {
	return strings.TrimSpace(userID) + "::" + strings.TrimSpace(strings.ToLower(provider))
}

// StoreTokens persists a token endpoint response for the (user, provider)
// connection: expiry is computed from expires_in, the refresh token is
// encrypted before it touches the store, and the connection goes active.
func (s *Service) StoreTokens(ctx context.Context, userID string, provider string, token TokenResponse) (conn BankConnection, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"user_id": userID, "provider": provider}
	defer func() {
		s.observeOperation(ctx, startedAt, "store_tokens", err, fields)
	}()

	if s == nil || s.connectionStore == nil {
		return BankConnection{}, fmt.Errorf("core: connection store is not configured")
	}
	userID = strings.TrimSpace(userID)
	provider = strings.TrimSpace(strings.ToLower(provider))
	if userID == "" || provider == "" {
		err = s.mapError(fmt.Errorf("core: user id and provider are required"))
		return BankConnection{}, err
	}
	if strings.TrimSpace(token.AccessToken) == "" {
		err = s.mapError(fmt.Errorf("core: access token is required"))
		return BankConnection{}, err
	}

	now := s.now()
	next := BankConnection{
		UserID:      userID,
		Provider:    provider,
		AccessToken: strings.TrimSpace(token.AccessToken),
		Status:      ConnectionStatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if token.ExpiresIn > 0 {
		expiresAt := now.Add(time.Duration(token.ExpiresIn) * time.Second)
		next.TokenExpiresAt = &expiresAt
	}
	if refreshToken := strings.TrimSpace(token.RefreshToken); refreshToken != "" {
		if s.vault == nil {
			err = s.mapError(fmt.Errorf("core: secret vault is required to store refresh tokens"))
			return BankConnection{}, err
		}
		secret, encryptErr := s.vault.Encrypt(ctx, []byte(refreshToken))
		if encryptErr != nil {
			err = s.mapError(encryptErr)
			return BankConnection{}, err
		}
		next.EncryptedRefreshToken = secret.Ciphertext
		next.RefreshTokenNonce = secret.Nonce
		next.RefreshTokenAuthTag = secret.AuthTag
	}

	conn, err = s.connectionStore.Upsert(ctx, next)
	if err != nil {
		err = s.mapError(err)
		return BankConnection{}, err
	}
	return conn, nil
}

// ValidAccessToken returns an access token that is good for at least the
// refresh skew. A token near expiry triggers exactly one refresh per
// connection; a token far from expiry is returned with no network call.
// A failed refresh leaves the connection in pending_reauth rather than
// deleting it.
func (s *Service) ValidAccessToken(ctx context.Context, userID string, provider string) (token string, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"user_id": userID, "provider": provider}
	defer func() {
		s.observeOperation(ctx, startedAt, "valid_access_token", err, fields)
	}()

	if s == nil || s.connectionStore == nil {
		return "", fmt.Errorf("core: connection store is not configured")
	}

	conn, err := s.connectionStore.Get(ctx, userID, provider)
	if err != nil {
		err = s.mapError(err)
		return "", err
	}

	now := s.now()
	state := ResolveTokenState(now, conn, s.refreshSkew)
	if state.HasAccessToken && !state.IsExpired && !state.IsExpiringSoon {
		return conn.AccessToken, nil
	}
	if !state.HasRefreshToken {
		// Nothing to refresh with: serve the cached token until it actually
		// expires, then force re-auth.
		if state.HasAccessToken && !state.IsExpired {
			return conn.AccessToken, nil
		}
		err = s.mapError(&ExpiredTokenError{Detail: "no refresh token on file"})
		return "", err
	}

	key := connectionKey(userID, provider)
	s.refreshLocks.Lock(key)
	defer s.refreshLocks.Unlock(key)

	// Another caller may have finished the refresh while we waited.
	conn, err = s.connectionStore.Get(ctx, userID, provider)
	if err != nil {
		err = s.mapError(err)
		return "", err
	}
	state = ResolveTokenState(s.now(), conn, s.refreshSkew)
	if state.HasAccessToken && !state.IsExpired && !state.IsExpiringSoon {
		return conn.AccessToken, nil
	}

	refreshed, refreshErr := s.refreshConnection(ctx, conn)
	if refreshErr != nil {
		_ = s.connectionStore.UpdateStatus(ctx, conn.UserID, conn.Provider, string(ConnectionStatusPendingReauth), refreshErr.Error())
		err = s.mapError(refreshErr)
		return "", err
	}
	return refreshed.AccessToken, nil
}

func (s *Service) refreshConnection(ctx context.Context, conn BankConnection) (BankConnection, error) {
	if s.vault == nil {
		return BankConnection{}, fmt.Errorf("core: secret vault is not configured")
	}
	client, err := s.resolveClient(conn.Provider)
	if err != nil {
		return BankConnection{}, err
	}

	plaintext, err := s.vault.Decrypt(ctx, EncryptedSecret{
		Ciphertext: conn.EncryptedRefreshToken,
		Nonce:      conn.RefreshTokenNonce,
		AuthTag:    conn.RefreshTokenAuthTag,
	})
	if err != nil {
		return BankConnection{}, err
	}

	token, err := client.Refresh(ctx, string(plaintext))
	if err != nil {
		return BankConnection{}, err
	}
	if strings.TrimSpace(token.RefreshToken) == "" {
		// Aggregators that rotate refresh tokens omit the old one from the
		// response; keep what we have when none is returned.
		token.RefreshToken = string(plaintext)
	}
	return s.storeTokensLocked(ctx, conn, token)
}

// storeTokensLocked is StoreTokens without the per-connection lock; callers
// already hold it.
func (s *Service) storeTokensLocked(ctx context.Context, conn BankConnection, token TokenResponse) (BankConnection, error) {
	now := s.now()
	conn.AccessToken = strings.TrimSpace(token.AccessToken)
	conn.Status = ConnectionStatusActive
	conn.LastError = ""
	conn.UpdatedAt = now
	conn.TokenExpiresAt = nil
	if token.ExpiresIn > 0 {
		expiresAt := now.Add(time.Duration(token.ExpiresIn) * time.Second)
		conn.TokenExpiresAt = &expiresAt
	}
	if refreshToken := strings.TrimSpace(token.RefreshToken); refreshToken != "" {
		secret, err := s.vault.Encrypt(ctx, []byte(refreshToken))
		if err != nil {
			return BankConnection{}, err
		}
		conn.EncryptedRefreshToken = secret.Ciphertext
		conn.RefreshTokenNonce = secret.Nonce
		conn.RefreshTokenAuthTag = secret.AuthTag
	}
	return s.connectionStore.Upsert(ctx, conn)
}
