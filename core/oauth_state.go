package core

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"
)

const DefaultOAuthStateTTL = 15 * time.Minute

// OAuthStateRecord binds a CSRF state token to the user who started the
// connect flow. PendingAuth lives only here, never on the connection record.
type OAuthStateRecord struct {
	State     string
	UserID    string
	Provider  string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type OAuthStateStore interface {
	Save(ctx context.Context, record OAuthStateRecord) error
	// Consume atomically looks up and deletes the record. The entry is gone
	// after the first call regardless of whether it had already expired.
	Consume(ctx context.Context, state string) (OAuthStateRecord, error)
}

type MemoryOAuthStateStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]OAuthStateRecord
}

func NewMemoryOAuthStateStore(ttl time.Duration) *MemoryOAuthStateStore {
	if ttl <= 0 {
		ttl = DefaultOAuthStateTTL
	}
	return &MemoryOAuthStateStore{
		ttl:     ttl,
		entries: map[string]OAuthStateRecord{},
	}
}

func (s *MemoryOAuthStateStore) Save(_ context.Context, record OAuthStateRecord) error {
	if s == nil {
		return fmt.Errorf("core: oauth state store is not configured")
	}
	state := strings.TrimSpace(record.State)
	if state == "" {
		return fmt.Errorf("core: oauth state is required")
	}

	now := time.Now().UTC()
	if record.IssuedAt.IsZero() {
		record.IssuedAt = now
	}
	if record.ExpiresAt.IsZero() {
		record.ExpiresAt = record.IssuedAt.Add(s.ttl)
	}

	s.mu.Lock()
	s.sweepLocked(now)
	s.entries[state] = record
	s.mu.Unlock()

	return nil
}

func (s *MemoryOAuthStateStore) Consume(_ context.Context, state string) (OAuthStateRecord, error) {
	if s == nil {
		return OAuthStateRecord{}, fmt.Errorf("core: oauth state store is not configured")
	}
	state = strings.TrimSpace(state)
	if state == "" {
		return OAuthStateRecord{}, ErrStateNotFound
	}

	s.mu.Lock()
	record, ok := s.entries[state]
	if ok {
		delete(s.entries, state)
	}
	s.mu.Unlock()

	if !ok {
		return OAuthStateRecord{}, ErrStateNotFound
	}
	if !record.ExpiresAt.IsZero() && time.Now().UTC().After(record.ExpiresAt) {
		return OAuthStateRecord{}, ErrStateExpired
	}

	return record, nil
}

func (s *MemoryOAuthStateStore) sweepLocked(now time.Time) {
	for state, record := range s.entries {
		if !record.ExpiresAt.IsZero() && now.After(record.ExpiresAt) {
			delete(s.entries, state)
		}
	}
}

// StateBroker issues and validates single-use CSRF state tokens.
type StateBroker struct {
	store OAuthStateStore
	ttl   time.Duration
}

func NewStateBroker(store OAuthStateStore, ttl time.Duration) *StateBroker {
	if ttl <= 0 {
		ttl = DefaultOAuthStateTTL
	}
	if store == nil {
		store = NewMemoryOAuthStateStore(ttl)
	}
	return &StateBroker{store: store, ttl: ttl}
}

func (b *StateBroker) Issue(ctx context.Context, userID string, provider string) (string, error) {
	if b == nil || b.store == nil {
		return "", fmt.Errorf("core: state broker is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", fmt.Errorf("core: user id is required")
	}

	state, err := generateOAuthState()
	if err != nil {
		return "", err
	}
	now := time.Now().UTC()
	if saveErr := b.store.Save(ctx, OAuthStateRecord{
		State:     state,
		UserID:    userID,
		Provider:  strings.TrimSpace(provider),
		IssuedAt:  now,
		ExpiresAt: now.Add(b.ttl),
	}); saveErr != nil {
		return "", saveErr
	}
	return state, nil
}

// Validate consumes the state token and returns the issuing record. A second
// call on the same token fails even when the first one did.
func (b *StateBroker) Validate(ctx context.Context, state string) (OAuthStateRecord, error) {
	if b == nil || b.store == nil {
		return OAuthStateRecord{}, fmt.Errorf("core: state broker is not configured")
	}
	return b.store.Consume(ctx, state)
}

func generateOAuthState() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("core: generate oauth state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
