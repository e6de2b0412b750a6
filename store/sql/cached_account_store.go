package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	repositorycache "github.com/goliatone/go-repository-cache/cache"

	"github.com/goliatone/go-banklink/core"
)

const accountCacheKeyPrefix = "go-banklink::bank_accounts::v1"

// CachedAccountStore caches connection account listings, which back the
// status endpoint and get read far more often than they change. Writes go
// through to the base store and invalidate the listing.
type CachedAccountStore struct {
	base  core.AccountStore
	cache repositorycache.CacheService
}

func NewCachedAccountStore(base core.AccountStore, cacheService repositorycache.CacheService) (*CachedAccountStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base account store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: account cache service is required")
	}
	return &CachedAccountStore{base: base, cache: cacheService}, nil
}

// AccountCacheKey returns the deterministic cache key for a connection's
// account listing: go-banklink::bank_accounts::v1::<user_id>::<provider>
// with each segment URL-path escaped.
func AccountCacheKey(userID string, provider string) (string, error) {
	userID = strings.TrimSpace(userID)
	provider = strings.TrimSpace(strings.ToLower(provider))
	if userID == "" || provider == "" {
		return "", fmt.Errorf("sqlstore: user id and provider are required for account cache key")
	}
	segments := []string{url.PathEscape(userID), url.PathEscape(provider)}
	return strings.Join(append([]string{accountCacheKeyPrefix}, segments...), "::"), nil
}

func (s *CachedAccountStore) Upsert(ctx context.Context, account core.BankAccount) (core.BankAccount, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.BankAccount{}, fmt.Errorf("sqlstore: cached account store is not configured")
	}
	stored, err := s.base.Upsert(ctx, account)
	if err != nil {
		return core.BankAccount{}, err
	}
	if err := s.invalidate(ctx, stored.UserID, stored.Provider); err != nil {
		return core.BankAccount{}, err
	}
	return stored, nil
}

func (s *CachedAccountStore) ListByConnection(ctx context.Context, userID string, provider string) ([]core.BankAccount, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return nil, fmt.Errorf("sqlstore: cached account store is not configured")
	}
	cacheKey, err := AccountCacheKey(userID, provider)
	if err != nil {
		return nil, err
	}
	accounts, err := repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) ([]core.BankAccount, error) {
		return s.base.ListByConnection(ctx, userID, provider)
	})
	if err != nil {
		return nil, err
	}
	return append([]core.BankAccount(nil), accounts...), nil
}

func (s *CachedAccountStore) DeleteByConnection(ctx context.Context, userID string, provider string) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached account store is not configured")
	}
	if err := s.base.DeleteByConnection(ctx, userID, provider); err != nil {
		return err
	}
	return s.invalidate(ctx, userID, provider)
}

func (s *CachedAccountStore) invalidate(ctx context.Context, userID string, provider string) error {
	cacheKey, err := AccountCacheKey(userID, provider)
	if err != nil {
		return err
	}
	return s.cache.Delete(ctx, cacheKey)
}

var _ core.AccountStore = (*CachedAccountStore)(nil)
