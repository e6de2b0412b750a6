package sync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-banklink/adapters/gologger"
	"github.com/goliatone/go-banklink/core"
)

const (
	DefaultWorkers     = 4
	DefaultTimeout     = 60 * time.Second
	DefaultWindowYears = 2
)

// TokenSource yields a usable access token for a connection, refreshing it
// when needed.
type TokenSource interface {
	ValidAccessToken(ctx context.Context, userID string, provider string) (string, error)
}

// ConnectionTeardown removes a connection whose credentials were rejected
// outright by the provider.
type ConnectionTeardown interface {
	Teardown(ctx context.Context, userID string, provider string, reason string) error
}

type ReconcilerConfig struct {
	Tokens       TokenSource
	Teardown     ConnectionTeardown
	Registry     core.AggregatorRegistry
	Connections  core.ConnectionStore
	Accounts     core.AccountStore
	Transactions core.TransactionStore
	Logger       core.Logger
	Workers      int
	Timeout      time.Duration
	WindowYears  int
	Now          func() time.Time
}

// Reconciler pulls accounts, balances, and transactions for one connection
// and reconciles them into local storage. Account failures are isolated; a
// rejected access token on the account listing tears the connection down.
type Reconciler struct {
	tokens       TokenSource
	teardown     ConnectionTeardown
	registry     core.AggregatorRegistry
	connections  core.ConnectionStore
	accounts     core.AccountStore
	transactions core.TransactionStore
	logger       core.Logger
	workers      int
	timeout      time.Duration
	windowYears  int
	nowFn        func() time.Time
}

func NewReconciler(cfg ReconcilerConfig) (*Reconciler, error) {
	if cfg.Tokens == nil {
		return nil, fmt.Errorf("sync: reconciler requires a token source")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("sync: reconciler requires an aggregator registry")
	}
	if cfg.Connections == nil {
		return nil, fmt.Errorf("sync: reconciler requires a connection store")
	}
	if cfg.Accounts == nil {
		return nil, fmt.Errorf("sync: reconciler requires an account store")
	}
	if cfg.Transactions == nil {
		return nil, fmt.Errorf("sync: reconciler requires a transaction store")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.WindowYears <= 0 {
		cfg.WindowYears = DefaultWindowYears
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time {
			return time.Now().UTC()
		}
	}
	logger := cfg.Logger
	if logger == nil {
		_, logger = gologger.Resolve("sync", nil, nil)
	}
	return &Reconciler{
		tokens:       cfg.Tokens,
		teardown:     cfg.Teardown,
		registry:     cfg.Registry,
		connections:  cfg.Connections,
		accounts:     cfg.Accounts,
		transactions: cfg.Transactions,
		logger:       logger,
		workers:      cfg.Workers,
		timeout:      cfg.Timeout,
		windowYears:  cfg.WindowYears,
		nowFn:        cfg.Now,
	}, nil
}

type accountResult struct {
	inserted int
	skipped  int
	failures []core.AccountSyncFailure
}

// SyncConnection reconciles one bank connection over [from, to]. Zero bounds
// fall back to the default lookback window ending now.
func (r *Reconciler) SyncConnection(ctx context.Context, userID string, provider string, from time.Time, to time.Time) (core.SyncSummary, error) {
	if r == nil {
		return core.SyncSummary{}, fmt.Errorf("sync: reconciler is nil")
	}
	userID = strings.TrimSpace(userID)
	provider = strings.TrimSpace(strings.ToLower(provider))
	if userID == "" || provider == "" {
		return core.SyncSummary{}, fmt.Errorf("sync: user id and provider are required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	now := r.now()
	if to.IsZero() {
		to = now
	}
	if from.IsZero() {
		from = to.AddDate(-r.windowYears, 0, 0)
	}
	if from.After(to) {
		return core.SyncSummary{}, fmt.Errorf("sync: window start %s is after end %s", from.Format(time.RFC3339), to.Format(time.RFC3339))
	}

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	client, ok := r.registry.Get(provider)
	if !ok {
		return core.SyncSummary{}, fmt.Errorf("sync: provider %q is not registered", provider)
	}

	accessToken, err := r.tokens.ValidAccessToken(runCtx, userID, provider)
	if err != nil {
		return core.SyncSummary{}, err
	}

	providerAccounts, err := client.ListAccounts(runCtx, accessToken)
	if err != nil {
		var expired *core.ExpiredTokenError
		if errors.As(err, &expired) && r.teardown != nil {
			if teardownErr := r.teardown.Teardown(ctx, userID, provider, "access token rejected during account fetch"); teardownErr != nil {
				r.logger.Error("connection teardown failed",
					"user_id", userID,
					"provider", provider,
					"error", teardownErr.Error(),
				)
			}
		}
		return core.SyncSummary{}, fmt.Errorf("sync: account fetch failed: %w", err)
	}

	summary := core.SyncSummary{
		Accounts: len(providerAccounts),
		FromDate: from,
		ToDate:   to,
	}

	// Last-known balances, so a transient balance failure does not zero them.
	known := map[string]core.BankAccount{}
	if stored, listErr := r.accounts.ListByConnection(runCtx, userID, provider); listErr == nil {
		for _, account := range stored {
			known[account.ProviderAccountID] = account
		}
	} else {
		r.logger.Error("stored account listing failed",
			"user_id", userID,
			"provider", provider,
			"error", listErr.Error(),
		)
	}

	results := make(chan accountResult, len(providerAccounts))
	semaphore := make(chan struct{}, r.workers)
	for _, providerAccount := range providerAccounts {
		account := providerAccount
		previous, hasPrevious := known[account.ID]
		semaphore <- struct{}{}
		go func() {
			defer func() { <-semaphore }()
			results <- r.syncAccount(runCtx, client, accessToken, userID, provider, account, previous, hasPrevious, from, to)
		}()
	}
	for range providerAccounts {
		result := <-results
		summary.Inserted += result.inserted
		summary.Skipped += result.skipped
		summary.Failures = append(summary.Failures, result.failures...)
	}

	if err := r.connections.TouchLastSynced(ctx, userID, provider, now); err != nil {
		r.logger.Error("last synced timestamp update failed",
			"user_id", userID,
			"provider", provider,
			"error", err.Error(),
		)
	}

	r.logger.Info("bank sync completed",
		"user_id", userID,
		"provider", provider,
		"accounts", summary.Accounts,
		"inserted", summary.Inserted,
		"skipped", summary.Skipped,
		"failures", len(summary.Failures),
	)
	return summary, nil
}

func (r *Reconciler) syncAccount(
	ctx context.Context,
	client core.AggregatorClient,
	accessToken string,
	userID string,
	provider string,
	providerAccount core.ProviderAccount,
	previous core.BankAccount,
	hasPrevious bool,
	from time.Time,
	to time.Time,
) accountResult {
	result := accountResult{}

	account := core.BankAccount{
		UserID:            userID,
		Provider:          provider,
		ProviderAccountID: providerAccount.ID,
		Name:              providerAccount.DisplayName,
		Currency:          providerAccount.Currency,
	}
	balance, err := client.GetBalance(ctx, accessToken, providerAccount.ID)
	if err != nil {
		result.failures = append(result.failures, core.AccountSyncFailure{
			ProviderAccountID: providerAccount.ID,
			Stage:             "balance",
			Reason:            err.Error(),
		})
		if hasPrevious {
			account.Balance = previous.Balance
			account.AvailableBalance = previous.AvailableBalance
			if strings.TrimSpace(account.Currency) == "" {
				account.Currency = previous.Currency
			}
		}
	} else {
		account.Balance = balance.Current
		account.AvailableBalance = balance.Available
		if strings.TrimSpace(balance.Currency) != "" {
			account.Currency = balance.Currency
		}
	}

	stored, err := r.accounts.Upsert(ctx, account)
	if err != nil {
		result.failures = append(result.failures, core.AccountSyncFailure{
			ProviderAccountID: providerAccount.ID,
			Stage:             "account",
			Reason:            err.Error(),
		})
		return result
	}

	providerTransactions, err := client.ListTransactions(ctx, accessToken, providerAccount.ID, from, to)
	if err != nil {
		result.failures = append(result.failures, core.AccountSyncFailure{
			ProviderAccountID: providerAccount.ID,
			Stage:             "transactions",
			Reason:            err.Error(),
		})
		return result
	}

	for _, providerTransaction := range providerTransactions {
		normalized := Normalize(userID, stored.ID, provider, providerTransaction)
		inserted, err := r.transactions.InsertNew(ctx, normalized)
		if err != nil {
			result.failures = append(result.failures, core.AccountSyncFailure{
				ProviderAccountID: providerAccount.ID,
				Stage:             "transactions",
				Reason:            fmt.Sprintf("insert %s: %v", normalized.ID, err),
			})
			continue
		}
		if inserted {
			result.inserted++
		} else {
			result.skipped++
		}
	}
	return result
}

func (r *Reconciler) now() time.Time {
	if r != nil && r.nowFn != nil {
		return r.nowFn().UTC()
	}
	return time.Now().UTC()
}
