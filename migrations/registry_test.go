package migrations

import (
	"context"
	"database/sql"
	"io/fs"
	"path/filepath"
	"strings"
	"testing"

	banklink "github.com/goliatone/go-banklink"
	_ "github.com/mattn/go-sqlite3"
)

func TestFilesystems_ReturnsPostgresAndSQLite(t *testing.T) {
	filesystems, err := Filesystems()
	if err != nil {
		t.Fatalf("filesystems: %v", err)
	}
	if len(filesystems) != 2 {
		t.Fatalf("expected 2 filesystems, got %d", len(filesystems))
	}

	var postgresFound bool
	var sqliteFound bool
	for _, entry := range filesystems {
		matches, globErr := fs.Glob(entry.FS, "*.up.sql")
		if globErr != nil {
			t.Fatalf("glob %s: %v", entry.Dialect, globErr)
		}
		if len(matches) == 0 {
			t.Fatalf("expected %s migration files, got none", entry.Dialect)
		}
		switch entry.Dialect {
		case DialectPostgres:
			postgresFound = true
		case DialectSQLite:
			sqliteFound = true
		}
	}

	if !postgresFound {
		t.Fatalf("expected postgres filesystem")
	}
	if !sqliteFound {
		t.Fatalf("expected sqlite filesystem")
	}
}

func TestRegister_UsesValidationTargets(t *testing.T) {
	var calls []string
	_, err := Register(context.Background(), func(_ context.Context, dialect string, _ string, _ fs.FS) error {
		calls = append(calls, dialect)
		return nil
	}, WithValidationTargets(DialectSQLite))
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if len(calls) != 1 {
		t.Fatalf("expected 1 registration call, got %d", len(calls))
	}
	if calls[0] != DialectSQLite {
		t.Fatalf("expected sqlite registration, got %q", calls[0])
	}
}

func TestRegister_UsesSourceLabel(t *testing.T) {
	var label string
	_, err := Register(context.Background(), func(_ context.Context, _ string, sourceLabel string, _ fs.FS) error {
		label = sourceLabel
		return nil
	}, WithValidationTargets(DialectSQLite))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if label != "go-banklink" {
		t.Fatalf("expected go-banklink source label, got %q", label)
	}
}

func TestCoreSchemaMigrationPairs_ExistForBothDialects(t *testing.T) {
	root := banklink.GetCoreMigrationsFS()
	names := []string{
		"20240101000000_create_bank_connections",
		"20240101000001_create_bank_accounts",
		"20240101000002_create_transactions",
	}
	for _, name := range names {
		paths := []string{
			"data/sql/migrations/" + name + ".up.sql",
			"data/sql/migrations/" + name + ".down.sql",
			"data/sql/migrations/sqlite/" + name + ".up.sql",
			"data/sql/migrations/sqlite/" + name + ".down.sql",
		}
		for _, migrationPath := range paths {
			content, err := fs.ReadFile(root, migrationPath)
			if err != nil {
				t.Fatalf("read migration %s: %v", migrationPath, err)
			}
			if strings.TrimSpace(string(content)) == "" {
				t.Fatalf("expected migration %s to have SQL content", migrationPath)
			}
		}
	}
}

func TestSQLiteCoreSchemaMigration_ApplyAndRollback(t *testing.T) {
	db, err := sql.Open("sqlite3", "file:migrations-core-schema?mode=memory&cache=shared&_foreign_keys=on")
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	defer func() { _ = db.Close() }()

	root := banklink.GetCoreMigrationsFS()
	sqliteMigrations, err := fs.Sub(root, "data/sql/migrations/sqlite")
	if err != nil {
		t.Fatalf("resolve sqlite migrations: %v", err)
	}

	ups := []string{
		"20240101000000_create_bank_connections.up.sql",
		"20240101000001_create_bank_accounts.up.sql",
		"20240101000002_create_transactions.up.sql",
	}
	for _, migration := range ups {
		if err := execSQLMigration(context.Background(), db, sqliteMigrations, migration); err != nil {
			t.Fatalf("apply migration %s: %v", migration, err)
		}
	}

	insertConnection := `
		INSERT INTO bank_connections (id, user_id, provider, access_token, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := db.ExecContext(
		context.Background(),
		insertConnection,
		"conn-1", "user-1", "truelayer", "at-1", "active",
		"2026-01-01T00:00:00Z", "2026-01-01T00:00:00Z",
	); err != nil {
		t.Fatalf("insert connection: %v", err)
	}
	if _, err := db.ExecContext(
		context.Background(),
		insertConnection,
		"conn-2", "user-1", "truelayer", "at-2", "active",
		"2026-01-02T00:00:00Z", "2026-01-02T00:00:00Z",
	); err == nil {
		t.Fatalf("expected (user_id, provider) uniqueness violation")
	}

	insertTransaction := `
		INSERT INTO transactions (id, user_id, account_id, kind, amount, currency, date, category, description, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := db.ExecContext(
		context.Background(),
		insertTransaction,
		"truelayer-tx-1", "user-1", "acct-1", "expense", "12.50", "GBP",
		"2026-01-01T00:00:00Z", "Other", "", "2026-01-01T00:00:00Z",
	); err != nil {
		t.Fatalf("insert transaction: %v", err)
	}
	if _, err := db.ExecContext(
		context.Background(),
		insertTransaction,
		"truelayer-tx-1", "user-1", "acct-1", "expense", "12.50", "GBP",
		"2026-01-01T00:00:00Z", "Other", "", "2026-01-01T00:00:00Z",
	); err == nil {
		t.Fatalf("expected transaction id uniqueness violation")
	}
	if _, err := db.ExecContext(
		context.Background(),
		insertTransaction,
		"truelayer-tx-2", "user-1", "acct-1", "transfer", "1.00", "GBP",
		"2026-01-01T00:00:00Z", "Other", "", "2026-01-01T00:00:00Z",
	); err == nil {
		t.Fatalf("expected kind check constraint violation")
	}

	downs := []string{
		"20240101000002_create_transactions.down.sql",
		"20240101000001_create_bank_accounts.down.sql",
		"20240101000000_create_bank_connections.down.sql",
	}
	for _, migration := range downs {
		if err := execSQLMigration(context.Background(), db, sqliteMigrations, migration); err != nil {
			t.Fatalf("apply migration %s: %v", migration, err)
		}
	}

	var count int
	if err := db.QueryRowContext(
		context.Background(),
		`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name IN ('bank_connections','bank_accounts','transactions')`,
	).Scan(&count); err != nil {
		t.Fatalf("query sqlite_master after down migrations: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected all tables dropped, found %d", count)
	}
}

func execSQLMigration(ctx context.Context, db *sql.DB, fsys fs.FS, filename string) error {
	content, err := fs.ReadFile(fsys, filepath.Clean(filename))
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, string(content))
	return err
}
