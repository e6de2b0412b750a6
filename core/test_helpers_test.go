package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// testVault is a reversible stand-in for the AES-GCM vault so lifecycle tests
// can assert on stored ciphertext without real crypto.
type testVault struct {
	mu       sync.Mutex
	encrypts int
	decrypts int
	failNext error
}

func (v *testVault) Encrypt(_ context.Context, plaintext []byte) (EncryptedSecret, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.failNext != nil {
		err := v.failNext
		v.failNext = nil
		return EncryptedSecret{}, err
	}
	v.encrypts++
	return EncryptedSecret{
		Ciphertext: append([]byte("enc:"), plaintext...),
		Nonce:      []byte("nonce-12byte"),
		AuthTag:    []byte("tag-16-bytes----"),
	}, nil
}

func (v *testVault) Decrypt(_ context.Context, secret EncryptedSecret) ([]byte, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.decrypts++
	raw := string(secret.Ciphertext)
	if !strings.HasPrefix(raw, "enc:") {
		return nil, ErrCipherAuthFailed
	}
	return []byte(strings.TrimPrefix(raw, "enc:")), nil
}

var _ SecretVault = (*testVault)(nil)

type fakeConnectionStore struct {
	mu          sync.Mutex
	connections map[string]BankConnection
	deleted     []string
	statusLog   []string
}

func newFakeConnectionStore() *fakeConnectionStore {
	return &fakeConnectionStore{connections: map[string]BankConnection{}}
}

func (s *fakeConnectionStore) key(userID, provider string) string {
	return strings.TrimSpace(userID) + "::" + strings.ToLower(strings.TrimSpace(provider))
}

func (s *fakeConnectionStore) Upsert(_ context.Context, conn BankConnection) (BankConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := s.key(conn.UserID, conn.Provider)
	if existing, ok := s.connections[key]; ok {
		conn.ID = existing.ID
		conn.CreatedAt = existing.CreatedAt
	} else if conn.ID == "" {
		conn.ID = fmt.Sprintf("conn-%d", len(s.connections)+1)
	}
	s.connections[key] = conn
	return conn, nil
}

func (s *fakeConnectionStore) Get(_ context.Context, userID, provider string) (BankConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, ok := s.connections[s.key(userID, provider)]
	if !ok {
		return BankConnection{}, ErrNotConnected
	}
	return conn, nil
}

func (s *fakeConnectionStore) ListActive(_ context.Context) ([]BankConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []BankConnection
	for _, conn := range s.connections {
		if conn.Status == ConnectionStatusActive {
			out = append(out, conn)
		}
	}
	return out, nil
}

func (s *fakeConnectionStore) UpdateStatus(_ context.Context, userID, provider, status, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := s.key(userID, provider)
	conn, ok := s.connections[key]
	if !ok {
		return ErrNotConnected
	}
	conn.Status = ConnectionStatus(status)
	conn.LastError = reason
	s.connections[key] = conn
	s.statusLog = append(s.statusLog, status)
	return nil
}

func (s *fakeConnectionStore) TouchLastSynced(_ context.Context, userID, provider string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := s.key(userID, provider)
	conn, ok := s.connections[key]
	if !ok {
		return ErrNotConnected
	}
	conn.LastSyncedAt = &at
	s.connections[key] = conn
	return nil
}

func (s *fakeConnectionStore) Delete(_ context.Context, userID, provider string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := s.key(userID, provider)
	if _, ok := s.connections[key]; !ok {
		return ErrNotConnected
	}
	delete(s.connections, key)
	s.deleted = append(s.deleted, key)
	return nil
}

type fakeAccountStore struct {
	mu      sync.Mutex
	deletes []string
}

func (s *fakeAccountStore) Upsert(_ context.Context, account BankAccount) (BankAccount, error) {
	return account, nil
}

func (s *fakeAccountStore) ListByConnection(context.Context, string, string) ([]BankAccount, error) {
	return nil, nil
}

func (s *fakeAccountStore) DeleteByConnection(_ context.Context, userID, provider string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes = append(s.deletes, userID+"::"+provider)
	return nil
}

type fakeAggregatorClient struct {
	provider     string
	authorizeFn  func(state string) string
	exchangeFn   func(ctx context.Context, code string) (TokenResponse, error)
	refreshFn    func(ctx context.Context, refreshToken string) (TokenResponse, error)
	refreshCalls int
	mu           sync.Mutex
}

func (c *fakeAggregatorClient) Provider() string {
	if c.provider == "" {
		return "truelayer"
	}
	return c.provider
}

func (c *fakeAggregatorClient) AuthorizeURL(state string) string {
	if c.authorizeFn != nil {
		return c.authorizeFn(state)
	}
	return "https://auth.example.com/?state=" + state
}

func (c *fakeAggregatorClient) ExchangeCode(ctx context.Context, code string) (TokenResponse, error) {
	if c.exchangeFn != nil {
		return c.exchangeFn(ctx, code)
	}
	return TokenResponse{AccessToken: "at-" + code, RefreshToken: "rt-" + code, ExpiresIn: 3600}, nil
}

func (c *fakeAggregatorClient) Refresh(ctx context.Context, refreshToken string) (TokenResponse, error) {
	c.mu.Lock()
	c.refreshCalls++
	c.mu.Unlock()
	if c.refreshFn != nil {
		return c.refreshFn(ctx, refreshToken)
	}
	return TokenResponse{AccessToken: "at-refreshed", RefreshToken: "rt-rotated", ExpiresIn: 3600}, nil
}

func (c *fakeAggregatorClient) ListAccounts(context.Context, string) ([]ProviderAccount, error) {
	return nil, nil
}

func (c *fakeAggregatorClient) GetBalance(context.Context, string, string) (ProviderBalance, error) {
	return ProviderBalance{}, nil
}

func (c *fakeAggregatorClient) ListTransactions(context.Context, string, string, time.Time, time.Time) ([]ProviderTransaction, error) {
	return nil, nil
}

func newTestService(t interface {
	Helper()
	Fatalf(string, ...any)
}, extra ...Option) (*Service, *fakeConnectionStore, *fakeAccountStore, *fakeAggregatorClient, *testVault) {
	t.Helper()
	connections := newFakeConnectionStore()
	accounts := &fakeAccountStore{}
	client := &fakeAggregatorClient{}
	vault := &testVault{}

	registry := NewClientRegistry()
	if err := registry.Register(client); err != nil {
		t.Fatalf("register client: %v", err)
	}

	options := append([]Option{
		WithConnectionStore(connections),
		WithAccountStore(accounts),
		WithVault(vault),
		WithRegistry(registry),
	}, extra...)

	service, err := NewService(DefaultConfig(), options...)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return service, connections, accounts, client, vault
}
