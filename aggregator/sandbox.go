package aggregator

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-banklink/core"
)

// SandboxClient is an in-memory aggregator for local development and tests.
// Fixtures are seeded per account and errors can be injected per call site.
type SandboxClient struct {
	mu sync.RWMutex

	provider     string
	authorizeURL string
	tokenTTL     time.Duration
	counter      int

	accounts     []core.ProviderAccount
	balances     map[string]core.ProviderBalance
	transactions map[string][]core.ProviderTransaction

	exchangeErr     error
	refreshErr      error
	accountsErr     error
	balanceErr      map[string]error
	transactionsErr map[string]error

	exchangeCalls int
	refreshCalls  int
}

type SandboxOption func(*SandboxClient)

func WithSandboxTokenTTL(ttl time.Duration) SandboxOption {
	return func(c *SandboxClient) {
		if ttl > 0 {
			c.tokenTTL = ttl
		}
	}
}

func WithSandboxAuthorizeURL(base string) SandboxOption {
	return func(c *SandboxClient) {
		if strings.TrimSpace(base) != "" {
			c.authorizeURL = strings.TrimRight(strings.TrimSpace(base), "/")
		}
	}
}

func NewSandboxClient(provider string, opts ...SandboxOption) *SandboxClient {
	provider = strings.TrimSpace(strings.ToLower(provider))
	if provider == "" {
		provider = "sandbox"
	}
	client := &SandboxClient{
		provider:        provider,
		authorizeURL:    "https://auth.sandbox.localhost/authorize",
		tokenTTL:        time.Hour,
		balances:        map[string]core.ProviderBalance{},
		transactions:    map[string][]core.ProviderTransaction{},
		balanceErr:      map[string]error{},
		transactionsErr: map[string]error{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client
}

func (c *SandboxClient) Provider() string {
	return c.provider
}

func (c *SandboxClient) AuthorizeURL(state string) string {
	values := url.Values{}
	values.Set("response_type", "code")
	values.Set("state", strings.TrimSpace(state))
	return c.authorizeURL + "?" + values.Encode()
}

func (c *SandboxClient) ExchangeCode(_ context.Context, code string) (core.TokenResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exchangeCalls++
	if c.exchangeErr != nil {
		return core.TokenResponse{}, c.exchangeErr
	}
	if strings.TrimSpace(code) == "" {
		return core.TokenResponse{}, &core.TokenExchangeError{Status: 400, Detail: "authorization code is required"}
	}
	c.counter++
	return core.TokenResponse{
		AccessToken:  fmt.Sprintf("sandbox-access-%d", c.counter),
		RefreshToken: fmt.Sprintf("sandbox-refresh-%d", c.counter),
		TokenType:    "bearer",
		ExpiresIn:    int64(c.tokenTTL / time.Second),
	}, nil
}

func (c *SandboxClient) Refresh(_ context.Context, refreshToken string) (core.TokenResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshCalls++
	if c.refreshErr != nil {
		return core.TokenResponse{}, c.refreshErr
	}
	if strings.TrimSpace(refreshToken) == "" {
		return core.TokenResponse{}, &core.TokenRefreshError{Status: 400, Detail: "refresh token is required"}
	}
	c.counter++
	return core.TokenResponse{
		AccessToken:  fmt.Sprintf("sandbox-access-%d", c.counter),
		RefreshToken: fmt.Sprintf("sandbox-refresh-%d", c.counter),
		TokenType:    "bearer",
		ExpiresIn:    int64(c.tokenTTL / time.Second),
	}, nil
}

func (c *SandboxClient) ListAccounts(_ context.Context, accessToken string) ([]core.ProviderAccount, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.accountsErr != nil {
		return nil, c.accountsErr
	}
	if strings.TrimSpace(accessToken) == "" {
		return nil, &core.ExpiredTokenError{Detail: "missing access token"}
	}
	return append([]core.ProviderAccount(nil), c.accounts...), nil
}

func (c *SandboxClient) GetBalance(_ context.Context, accessToken string, providerAccountID string) (core.ProviderBalance, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.balanceErr[providerAccountID]; err != nil {
		return core.ProviderBalance{}, err
	}
	if strings.TrimSpace(accessToken) == "" {
		return core.ProviderBalance{}, &core.ExpiredTokenError{Detail: "missing access token"}
	}
	balance, ok := c.balances[providerAccountID]
	if !ok {
		return core.ProviderBalance{}, &core.FetchError{Status: 404, Detail: "account not found: " + providerAccountID}
	}
	return balance, nil
}

func (c *SandboxClient) ListTransactions(_ context.Context, accessToken string, providerAccountID string, from time.Time, to time.Time) ([]core.ProviderTransaction, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.transactionsErr[providerAccountID]; err != nil {
		return nil, err
	}
	if strings.TrimSpace(accessToken) == "" {
		return nil, &core.ExpiredTokenError{Detail: "missing access token"}
	}
	all := c.transactions[providerAccountID]
	filtered := make([]core.ProviderTransaction, 0, len(all))
	for _, tx := range all {
		if !from.IsZero() && tx.Timestamp.Before(from) {
			continue
		}
		if !to.IsZero() && tx.Timestamp.After(to) {
			continue
		}
		filtered = append(filtered, tx)
	}
	return filtered, nil
}

func (c *SandboxClient) SeedAccount(account core.ProviderAccount, balance core.ProviderBalance, transactions ...core.ProviderTransaction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accounts = append(c.accounts, account)
	c.balances[account.ID] = balance
	c.transactions[account.ID] = append(c.transactions[account.ID], transactions...)
}

func (c *SandboxClient) FailExchange(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exchangeErr = err
}

func (c *SandboxClient) FailRefresh(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshErr = err
}

func (c *SandboxClient) FailAccounts(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accountsErr = err
}

func (c *SandboxClient) FailBalance(providerAccountID string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balanceErr[providerAccountID] = err
}

func (c *SandboxClient) FailTransactions(providerAccountID string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transactionsErr[providerAccountID] = err
}

func (c *SandboxClient) ExchangeCalls() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.exchangeCalls
}

func (c *SandboxClient) RefreshCalls() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.refreshCalls
}

var _ core.AggregatorClient = (*SandboxClient)(nil)
