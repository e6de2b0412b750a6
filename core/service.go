package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
)

// Service owns the bank-link lifecycle: connect, callback completion, token
// freshness, status, and disconnect. Data reconciliation lives in the sync
// package and borrows tokens from here.
type Service struct {
	config            Config
	logger            Logger
	loggerProvider    LoggerProvider
	metricsRecorder   MetricsRecorder
	errorFactory      ErrorFactory
	errorMapper       ErrorMapper
	persistenceClient any
	repositoryFactory any
	configProvider    ConfigProvider
	optionsResolver   OptionsResolver
	stateBroker       *StateBroker
	vault             SecretVault
	registry          AggregatorRegistry
	connectionStore   ConnectionStore
	accountStore      AccountStore
	transactionStore  TransactionStore
	jobEnqueuer       JobEnqueuer
	refreshSkew       time.Duration
	refreshLocks      *keyedMutex
	nowFn             func() time.Time
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("banklink", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("banklink"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.errorFactory == nil {
		builder.errorFactory = goerrors.New
	}
	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = defaultErrorMapper
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}
	if builder.registry == nil {
		builder.registry = NewClientRegistry()
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	if builder.stateStore == nil {
		builder.stateStore = NewMemoryOAuthStateStore(finalConfig.StateTTL())
	}
	refreshSkew := builder.refreshSkew
	if refreshSkew <= 0 {
		refreshSkew = finalConfig.RefreshSkewDuration()
	}

	if (builder.connectionStore == nil || builder.accountStore == nil || builder.transactionStore == nil) &&
		builder.repositoryFactory != nil {
		if storeFactory, ok := builder.repositoryFactory.(RepositoryStoreFactory); ok {
			storeProvider, buildErr := storeFactory.BuildStores(builder.persistenceClient)
			if buildErr != nil {
				return nil, mapBuildError(builder.errorMapper, buildErr)
			}
			if storeProvider != nil {
				if builder.connectionStore == nil {
					builder.connectionStore = storeProvider.ConnectionStore()
				}
				if builder.accountStore == nil {
					builder.accountStore = storeProvider.AccountStore()
				}
				if builder.transactionStore == nil {
					builder.transactionStore = storeProvider.TransactionStore()
				}
			}
		} else if storeProvider, ok := builder.repositoryFactory.(StoreProvider); ok {
			if builder.connectionStore == nil {
				builder.connectionStore = storeProvider.ConnectionStore()
			}
			if builder.accountStore == nil {
				builder.accountStore = storeProvider.AccountStore()
			}
			if builder.transactionStore == nil {
				builder.transactionStore = storeProvider.TransactionStore()
			}
		}
	}

	nowFn := builder.nowFn
	if nowFn == nil {
		nowFn = func() time.Time { return time.Now().UTC() }
	}

	return &Service{
		config:            finalConfig,
		logger:            logger,
		loggerProvider:    provider,
		metricsRecorder:   builder.metricsRecorder,
		errorFactory:      builder.errorFactory,
		errorMapper:       builder.errorMapper,
		persistenceClient: builder.persistenceClient,
		repositoryFactory: builder.repositoryFactory,
		configProvider:    builder.configProvider,
		optionsResolver:   builder.optionsResolver,
		stateBroker:       NewStateBroker(builder.stateStore, finalConfig.StateTTL()),
		vault:             builder.vault,
		registry:          builder.registry,
		connectionStore:   builder.connectionStore,
		accountStore:      builder.accountStore,
		transactionStore:  builder.transactionStore,
		jobEnqueuer:       builder.jobEnqueuer,
		refreshSkew:       refreshSkew,
		refreshLocks:      newKeyedMutex(),
		nowFn:             nowFn,
	}, nil
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return NewService(cfg, opts...)
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	mapped := mapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) Registry() AggregatorRegistry {
	if s == nil {
		return nil
	}
	return s.registry
}

// Connect issues a single-use state token for the user and returns the
// aggregator authorize URL carrying it.
func (s *Service) Connect(ctx context.Context, req ConnectRequest) (response ConnectResponse, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"user_id": req.UserID, "provider": req.Provider}
	defer func() {
		s.observeOperation(ctx, startedAt, "connect", err, fields)
	}()

	if s == nil {
		return ConnectResponse{}, fmt.Errorf("core: service is nil")
	}
	client, err := s.resolveClient(req.Provider)
	if err != nil {
		return ConnectResponse{}, err
	}

	state, err := s.stateBroker.Issue(ctx, req.UserID, req.Provider)
	if err != nil {
		err = s.mapError(err)
		return ConnectResponse{}, err
	}

	return ConnectResponse{
		URL:   client.AuthorizeURL(state),
		State: state,
	}, nil
}

// CompleteCallback redeems the state token, exchanges the authorization code,
// and persists the resulting connection. The state entry is consumed on the
// first attempt whatever the outcome.
func (s *Service) CompleteCallback(ctx context.Context, req CallbackRequest) (result CallbackResult, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"provider": req.Provider}
	defer func() {
		s.observeOperation(ctx, startedAt, "complete_callback", err, fields)
	}()

	if s == nil {
		return CallbackResult{}, fmt.Errorf("core: service is nil")
	}
	if strings.TrimSpace(req.Code) == "" {
		err = s.mapError(fmt.Errorf("core: authorization code is required"))
		return CallbackResult{}, err
	}

	record, err := s.stateBroker.Validate(ctx, req.State)
	if err != nil {
		err = s.mapError(err)
		return CallbackResult{}, err
	}
	if record.Provider != "" && !strings.EqualFold(record.Provider, strings.TrimSpace(req.Provider)) {
		err = s.mapError(fmt.Errorf("%w: provider mismatch", ErrStateNotFound))
		return CallbackResult{}, err
	}
	fields["user_id"] = record.UserID

	client, err := s.resolveClient(req.Provider)
	if err != nil {
		return CallbackResult{}, err
	}
	token, err := client.ExchangeCode(ctx, req.Code)
	if err != nil {
		err = s.mapError(err)
		return CallbackResult{}, err
	}

	conn, err := s.StoreTokens(ctx, record.UserID, req.Provider, token)
	if err != nil {
		return CallbackResult{}, err
	}
	return CallbackResult{UserID: record.UserID, Connection: conn}, nil
}

// Status reports whether the user has a live connection for the provider.
// An absent connection is a normal answer, not an error.
func (s *Service) Status(ctx context.Context, userID string, provider string) (StatusResponse, error) {
	if s == nil || s.connectionStore == nil {
		return StatusResponse{}, fmt.Errorf("core: connection store is not configured")
	}
	conn, err := s.connectionStore.Get(ctx, userID, provider)
	if err != nil {
		if goerrors.Is(err, ErrNotConnected) {
			return StatusResponse{Connected: false, Status: ConnectionStatusDisconnected}, nil
		}
		return StatusResponse{}, s.mapError(err)
	}

	connectedAt := conn.CreatedAt.UTC()
	return StatusResponse{
		Connected:      conn.Status == ConnectionStatusActive,
		Status:         conn.Status,
		ConnectedAt:    &connectedAt,
		TokenExpiresAt: conn.TokenExpiresAt,
		LastSyncedAt:   conn.LastSyncedAt,
	}, nil
}

// Disconnect removes the connection and its mirrored accounts. Canonical
// transactions are history and stay.
func (s *Service) Disconnect(ctx context.Context, userID string, provider string) (err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"user_id": userID, "provider": provider}
	defer func() {
		s.observeOperation(ctx, startedAt, "disconnect", err, fields)
	}()

	if s == nil || s.connectionStore == nil {
		return fmt.Errorf("core: connection store is not configured")
	}
	if _, err = s.connectionStore.Get(ctx, userID, provider); err != nil {
		err = s.mapError(err)
		return err
	}
	if s.accountStore != nil {
		if deleteErr := s.accountStore.DeleteByConnection(ctx, userID, provider); deleteErr != nil {
			err = s.mapError(deleteErr)
			return err
		}
	}
	if err = s.connectionStore.Delete(ctx, userID, provider); err != nil {
		err = s.mapError(err)
		return err
	}
	return nil
}

// Teardown drops a connection after the aggregator rejected its tokens
// outright. Used by the reconciler on a 401 from the accounts endpoint.
func (s *Service) Teardown(ctx context.Context, userID string, provider string, reason string) error {
	if s == nil || s.connectionStore == nil {
		return fmt.Errorf("core: connection store is not configured")
	}
	s.logError(ctx, "tearing down bank connection", map[string]any{
		"user_id":  userID,
		"provider": provider,
		"reason":   strings.TrimSpace(reason),
	})
	if s.accountStore != nil {
		_ = s.accountStore.DeleteByConnection(ctx, userID, provider)
	}
	return s.connectionStore.Delete(ctx, userID, provider)
}

// EnqueueSync hands a sync request to the job queue when one is configured.
func (s *Service) EnqueueSync(ctx context.Context, userID string, provider string) error {
	if s == nil || s.jobEnqueuer == nil {
		return fmt.Errorf("core: job enqueuer is not configured")
	}
	userID = strings.TrimSpace(userID)
	provider = strings.TrimSpace(strings.ToLower(provider))
	return s.jobEnqueuer.Enqueue(ctx, &JobExecutionMessage{
		JobID: SyncJobID,
		Parameters: map[string]any{
			"user_id":  userID,
			"provider": provider,
		},
		IdempotencyKey: connectionKey(userID, provider),
	})
}

func (s *Service) ConnectionStore() ConnectionStore {
	if s == nil {
		return nil
	}
	return s.connectionStore
}

func (s *Service) AccountStore() AccountStore {
	if s == nil {
		return nil
	}
	return s.accountStore
}

func (s *Service) TransactionStore() TransactionStore {
	if s == nil {
		return nil
	}
	return s.transactionStore
}

func (s *Service) resolveClient(provider string) (AggregatorClient, error) {
	if s == nil || s.registry == nil {
		return nil, fmt.Errorf("core: client registry is not configured")
	}
	client, ok := s.registry.Get(provider)
	if !ok {
		return nil, s.mapError(fmt.Errorf("core: provider not registered: %s", strings.TrimSpace(provider)))
	}
	return client, nil
}

func (s *Service) mapError(err error) error {
	if err == nil {
		return nil
	}
	if s == nil || s.errorMapper == nil {
		return err
	}
	mapped := s.errorMapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (s *Service) now() time.Time {
	if s == nil || s.nowFn == nil {
		return time.Now().UTC()
	}
	return s.nowFn()
}
