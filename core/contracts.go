package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/shopspring/decimal"
)

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

// TokenResponse is the aggregator token endpoint payload after either a code
// exchange or a refresh.
type TokenResponse struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	Scope        string
	ExpiresIn    int64
}

type ProviderAccount struct {
	ID          string
	DisplayName string
	Currency    string
	AccountType string
}

type ProviderBalance struct {
	Current   decimal.Decimal
	Available decimal.Decimal
	Currency  string
}

type ProviderTransaction struct {
	ID           string
	Amount       decimal.Decimal
	Currency     string
	Timestamp    time.Time
	Description  string
	MerchantName string
	Category     string
}

// AggregatorClient is the provider-facing surface: OAuth2 authorization-code
// endpoints plus bearer-authenticated data reads. Data calls return
// ExpiredTokenError on 401 so callers can force re-auth.
type AggregatorClient interface {
	Provider() string
	AuthorizeURL(state string) string
	ExchangeCode(ctx context.Context, code string) (TokenResponse, error)
	Refresh(ctx context.Context, refreshToken string) (TokenResponse, error)
	ListAccounts(ctx context.Context, accessToken string) ([]ProviderAccount, error)
	GetBalance(ctx context.Context, accessToken string, providerAccountID string) (ProviderBalance, error)
	ListTransactions(ctx context.Context, accessToken string, providerAccountID string, from, to time.Time) ([]ProviderTransaction, error)
}

type AggregatorRegistry interface {
	Register(client AggregatorClient) error
	Get(provider string) (AggregatorClient, bool)
	List() []string
}

// EncryptedSecret is AES-256-GCM output split into its stored parts.
type EncryptedSecret struct {
	Ciphertext []byte
	Nonce      []byte
	AuthTag    []byte
}

func (s EncryptedSecret) IsZero() bool {
	return len(s.Ciphertext) == 0 && len(s.Nonce) == 0 && len(s.AuthTag) == 0
}

type SecretVault interface {
	Encrypt(ctx context.Context, plaintext []byte) (EncryptedSecret, error)
	Decrypt(ctx context.Context, secret EncryptedSecret) ([]byte, error)
}

type ConnectionStore interface {
	Upsert(ctx context.Context, conn BankConnection) (BankConnection, error)
	Get(ctx context.Context, userID string, provider string) (BankConnection, error)
	ListActive(ctx context.Context) ([]BankConnection, error)
	UpdateStatus(ctx context.Context, userID string, provider string, status string, reason string) error
	TouchLastSynced(ctx context.Context, userID string, provider string, at time.Time) error
	Delete(ctx context.Context, userID string, provider string) error
}

type AccountStore interface {
	Upsert(ctx context.Context, account BankAccount) (BankAccount, error)
	ListByConnection(ctx context.Context, userID string, provider string) ([]BankAccount, error)
	DeleteByConnection(ctx context.Context, userID string, provider string) error
}

type TransactionStore interface {
	// InsertNew writes the transaction unless its id already exists. The
	// boolean reports whether a row was actually inserted.
	InsertNew(ctx context.Context, tx Transaction) (bool, error)
}

type StoreProvider interface {
	ConnectionStore() ConnectionStore
	AccountStore() AccountStore
	TransactionStore() TransactionStore
}

type RepositoryStoreFactory interface {
	BuildStores(persistenceClient any) (StoreProvider, error)
}

type ConnectRequest struct {
	UserID   string
	Provider string
}

type ConnectResponse struct {
	URL   string
	State string
}

type CallbackRequest struct {
	Provider string
	Code     string
	State    string
}

type CallbackResult struct {
	UserID     string
	Connection BankConnection
}

type StatusResponse struct {
	Connected      bool
	Status         ConnectionStatus
	ConnectedAt    *time.Time
	TokenExpiresAt *time.Time
	LastSyncedAt   *time.Time
}

// SyncJobID identifies queued bank sync work across enqueuers and workers.
const SyncJobID = "banklink.sync"

type JobExecutionMessage struct {
	JobID          string
	ScriptPath     string
	Parameters     map[string]any
	IdempotencyKey string
	DedupPolicy    string
}

type JobNackOptions struct {
	Delay      time.Duration
	Requeue    bool
	DeadLetter bool
	Reason     string
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, msg *JobExecutionMessage) error
}

type JobDelivery interface {
	Message() *JobExecutionMessage
	Ack(ctx context.Context) error
	Nack(ctx context.Context, opts JobNackOptions) error
}

type JobDequeuer interface {
	Dequeue(ctx context.Context) (JobDelivery, error)
}

type JobWorkerHook interface {
	OnStart(ctx context.Context, event JobWorkerEvent)
	OnSuccess(ctx context.Context, event JobWorkerEvent)
	OnFailure(ctx context.Context, event JobWorkerEvent)
	OnRetry(ctx context.Context, event JobWorkerEvent)
}

type JobWorkerEvent struct {
	Message   *JobExecutionMessage
	Attempt   int
	Delay     time.Duration
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}
