package main

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"

	banklink "github.com/goliatone/go-banklink"
	"github.com/goliatone/go-banklink/adapters/gocommand"
	"github.com/goliatone/go-banklink/adapters/gologger"
	"github.com/goliatone/go-banklink/core"
	"github.com/goliatone/go-banklink/httpapi"
	banklinkmigrations "github.com/goliatone/go-banklink/migrations"
	"github.com/goliatone/go-banklink/security"
	sqlstore "github.com/goliatone/go-banklink/store/sql"
	banklinksync "github.com/goliatone/go-banklink/sync"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "banklinkd:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_, logger := gologger.Resolve("banklinkd", nil, nil)

	configProvider := core.NewCfgxConfigProvider(envConfigLoader{})
	cfg, err := configProvider.Load(ctx, core.DefaultConfig())
	if err != nil {
		return err
	}
	if err := cfg.ValidateSecrets(); err != nil {
		return err
	}

	vault, err := buildVault(cfg)
	if err != nil {
		return err
	}

	client, err := openPersistence(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		return err
	}

	registry := core.NewClientRegistry()
	aggregatorClient, err := banklink.TrueLayerClient(cfg)
	if err != nil {
		return err
	}
	if err := registry.Register(aggregatorClient); err != nil {
		return err
	}

	queue := newMemoryQueue()
	service, err := banklink.NewService(banklink.Config{},
		banklink.WithConfigProvider(configProvider),
		banklink.WithVault(vault),
		banklink.WithRegistry(registry),
		banklink.WithRepositoryFactory(factory),
		banklink.WithPersistenceClient(client),
		banklink.WithJobEnqueuer(queue),
	)
	if err != nil {
		return err
	}

	reconciler, err := banklinksync.NewReconciler(banklinksync.ReconcilerConfig{
		Tokens:       service,
		Teardown:     service,
		Registry:     registry,
		Connections:  service.ConnectionStore(),
		Accounts:     service.AccountStore(),
		Transactions: service.TransactionStore(),
		Logger:       logger,
		Workers:      cfg.Sync.Workers,
		Timeout:      cfg.SyncTimeout(),
		WindowYears:  cfg.Sync.WindowYears,
	})
	if err != nil {
		return err
	}

	facade, err := banklink.NewFacade(service, banklink.WithSyncRunner(reconciler))
	if err != nil {
		return err
	}
	commandRegistry := gocommand.NewRegistryAdapter(nil)
	subscriptions, err := facade.Subscribe(commandRegistry)
	if err != nil {
		return err
	}
	defer banklink.Unsubscribe(subscriptions)
	if err := commandRegistry.Initialize(); err != nil {
		return err
	}

	scheduler, err := banklinksync.NewScheduler(queue, service.ConnectionStore(), cfg.SyncInterval(), logger)
	if err != nil {
		return err
	}
	worker, err := banklinksync.NewWorker(queue, reconciler, logger)
	if err != nil {
		return err
	}

	handler, err := httpapi.NewHandler(service, reconciler, logger, httpapi.Config{
		SuccessRedirect: os.Getenv("BANKLINK_SUCCESS_REDIRECT"),
		FailureRedirect: os.Getenv("BANKLINK_FAILURE_REDIRECT"),
	})
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              envOr("BANKLINK_HTTP_ADDR", ":8080"),
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	go func() {
		if err := scheduler.Run(ctx); err != nil && ctx.Err() == nil {
			errCh <- err
		}
	}()
	workers := cfg.Sync.Workers
	if workers <= 0 {
		workers = banklinksync.DefaultWorkers
	}
	for i := 0; i < workers; i++ {
		go func() {
			if err := worker.Run(ctx); err != nil && ctx.Err() == nil {
				errCh <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		stop()
		shutdown(server, logger)
		return err
	}

	shutdown(server, logger)
	return nil
}

func shutdown(server *http.Server, logger core.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("http shutdown failed", "error", err.Error())
	}
}

// buildVault prefers a rotating keyring when a retired decrypt key is still
// configured, so secrets written under the previous key keep decrypting until
// the rotation window closes.
func buildVault(cfg core.Config) (core.SecretVault, error) {
	retired := strings.TrimSpace(os.Getenv("BANKLINK_VAULT_RETIRED_KEY"))
	if retired == "" {
		return security.NewVaultFromString(cfg.Vault.Key)
	}
	if _, err := security.NewVaultFromString(retired); err != nil {
		return nil, fmt.Errorf("banklinkd: BANKLINK_VAULT_RETIRED_KEY: %w", err)
	}
	window := security.KeyRotationWindow{}
	if value := strings.TrimSpace(os.Getenv("BANKLINK_VAULT_RETIRED_KEY_NOT_AFTER")); value != "" {
		notAfter, err := time.Parse(time.RFC3339, value)
		if err != nil {
			return nil, fmt.Errorf("banklinkd: BANKLINK_VAULT_RETIRED_KEY_NOT_AFTER must be RFC 3339: %w", err)
		}
		window.NotAfter = notAfter
	}
	return security.NewKeyringVault(2, []byte(cfg.Vault.Key),
		security.WithDecryptKey(1, []byte(retired), window),
	)
}

func openPersistence(ctx context.Context) (*persistence.Client, error) {
	driver := strings.ToLower(envOr("BANKLINK_DATABASE_DRIVER", "postgres"))
	dsn := os.Getenv("BANKLINK_DATABASE_DSN")
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("banklinkd: BANKLINK_DATABASE_DSN is required")
	}

	var (
		driverName string
		dialect    schema.Dialect
		target     string
	)
	switch driver {
	case "postgres", "pg":
		driverName = "postgres"
		dialect = pgdialect.New()
		target = banklinkmigrations.DialectPostgres
	case "sqlite", "sqlite3":
		driverName = "sqlite3"
		dialect = sqlitedialect.New()
		target = banklinkmigrations.DialectSQLite
	default:
		return nil, fmt.Errorf("banklinkd: unsupported database driver %q", driver)
	}

	sqlDB, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("banklinkd: open database: %w", err)
	}

	client, err := persistence.New(persistenceConfig{driver: driverName, server: dsn}, sqlDB, dialect)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("banklinkd: persistence client: %w", err)
	}

	_, err = banklinkmigrations.Register(ctx, func(_ context.Context, migrationDialect string, _ string, fsys fs.FS) error {
		if migrationDialect != target {
			return nil
		}
		client.RegisterSQLMigrations(fsys)
		return nil
	}, banklinkmigrations.WithValidationTargets(target))
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("banklinkd: migrate: %w", err)
	}
	return client, nil
}

type persistenceConfig struct {
	driver string
	server string
}

func (c persistenceConfig) GetDebug() bool { return os.Getenv("BANKLINK_DEBUG") == "true" }

func (c persistenceConfig) GetDriver() string { return c.driver }

func (c persistenceConfig) GetServer() string { return c.server }

func (c persistenceConfig) GetPingTimeout() time.Duration { return 5 * time.Second }

func (c persistenceConfig) GetOtelIdentifier() string { return "go-banklink" }

// envConfigLoader feeds BANKLINK_* environment variables into the layered
// config resolver as the loaded layer.
type envConfigLoader struct{}

func (envConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	raw := map[string]any{}
	setString := func(target map[string]any, key string, env string) {
		if value := strings.TrimSpace(os.Getenv(env)); value != "" {
			target[key] = value
		}
	}

	setString(raw, "service_name", "BANKLINK_SERVICE_NAME")
	setString(raw, "refresh_skew", "BANKLINK_REFRESH_SKEW")
	if value := strings.TrimSpace(os.Getenv("BANKLINK_SANDBOX")); value != "" {
		sandbox, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("banklinkd: BANKLINK_SANDBOX must be a boolean: %w", err)
		}
		raw["sandbox"] = sandbox
	}

	oauth := map[string]any{}
	setString(oauth, "client_id", "BANKLINK_OAUTH_CLIENT_ID")
	setString(oauth, "client_secret", "BANKLINK_OAUTH_CLIENT_SECRET")
	setString(oauth, "redirect_uri", "BANKLINK_OAUTH_REDIRECT_URI")
	setString(oauth, "state_ttl", "BANKLINK_OAUTH_STATE_TTL")
	if value := strings.TrimSpace(os.Getenv("BANKLINK_OAUTH_SCOPES")); value != "" {
		oauth["scopes"] = strings.Fields(strings.ReplaceAll(value, ",", " "))
	}
	if len(oauth) > 0 {
		raw["oauth"] = oauth
	}

	vault := map[string]any{}
	setString(vault, "key", "BANKLINK_VAULT_KEY")
	if len(vault) > 0 {
		raw["vault"] = vault
	}

	syncCfg := map[string]any{}
	setString(syncCfg, "timeout", "BANKLINK_SYNC_TIMEOUT")
	setString(syncCfg, "interval", "BANKLINK_SYNC_INTERVAL")
	for key, env := range map[string]string{
		"workers":      "BANKLINK_SYNC_WORKERS",
		"window_years": "BANKLINK_SYNC_WINDOW_YEARS",
	} {
		value := strings.TrimSpace(os.Getenv(env))
		if value == "" {
			continue
		}
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("banklinkd: %s must be an integer: %w", env, err)
		}
		syncCfg[key] = parsed
	}
	if len(syncCfg) > 0 {
		raw["sync"] = syncCfg
	}

	return raw, nil
}

func envOr(env string, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(env)); value != "" {
		return value
	}
	return fallback
}
