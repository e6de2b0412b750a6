package banklink

import "github.com/goliatone/go-banklink/core"

type Config = core.Config

type OAuthConfig = core.OAuthConfig

type VaultConfig = core.VaultConfig

type SyncConfig = core.SyncConfig

type Option = core.Option

type Service = core.Service

type OAuthStateStore = core.OAuthStateStore
type SecretVault = core.SecretVault
type AggregatorClient = core.AggregatorClient
type AggregatorRegistry = core.AggregatorRegistry
type ConnectionStore = core.ConnectionStore
type AccountStore = core.AccountStore
type TransactionStore = core.TransactionStore
type JobEnqueuer = core.JobEnqueuer

type ConnectRequest = core.ConnectRequest
type ConnectResponse = core.ConnectResponse

type CallbackRequest = core.CallbackRequest
type CallbackResult = core.CallbackResult

type StatusResponse = core.StatusResponse

type TokenResponse = core.TokenResponse
type EncryptedSecret = core.EncryptedSecret

type BankConnection = core.BankConnection
type BankAccount = core.BankAccount
type Transaction = core.Transaction
type SyncSummary = core.SyncSummary

var (
	WithLogger          = core.WithLogger
	WithLoggerProvider  = core.WithLoggerProvider
	WithMetricsRecorder = core.WithMetricsRecorder
	WithErrorFactory    = core.WithErrorFactory
	WithErrorMapper     = core.WithErrorMapper

	WithPersistenceClient = core.WithPersistenceClient
	WithRepositoryFactory = core.WithRepositoryFactory
	WithConfigProvider    = core.WithConfigProvider
	WithOptionsResolver   = core.WithOptionsResolver

	WithOAuthStateStore  = core.WithOAuthStateStore
	WithVault            = core.WithVault
	WithRegistry         = core.WithRegistry
	WithConnectionStore  = core.WithConnectionStore
	WithAccountStore     = core.WithAccountStore
	WithTransactionStore = core.WithTransactionStore
	WithJobEnqueuer      = core.WithJobEnqueuer
	WithRefreshSkew      = core.WithRefreshSkew
	WithClock            = core.WithClock
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	return core.NewService(cfg, opts...)
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return core.Setup(cfg, opts...)
}
