package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-banklink/core"
)

type ConnectionStore struct {
	db   *bun.DB
	repo repository.Repository[*bankConnectionRecord]
}

// Upsert writes the connection keyed by (user_id, provider). An existing row
// gets fresh tokens and status; the original id and created_at survive.
func (s *ConnectionStore) Upsert(ctx context.Context, conn core.BankConnection) (core.BankConnection, error) {
	if s == nil || s.db == nil {
		return core.BankConnection{}, fmt.Errorf("sqlstore: connection store is not configured")
	}
	if strings.TrimSpace(conn.UserID) == "" {
		return core.BankConnection{}, fmt.Errorf("sqlstore: user id is required")
	}
	if strings.TrimSpace(conn.Provider) == "" {
		return core.BankConnection{}, fmt.Errorf("sqlstore: provider is required")
	}
	if strings.TrimSpace(conn.ID) == "" {
		conn.ID = uuid.NewString()
	}

	record := newBankConnectionRecord(conn, time.Now().UTC())
	// The refresh-token cipher columns only move forward: an upsert carrying
	// no cipher (a token response without a refresh token) must not erase the
	// stored one, since it is the only credential that can mint new access
	// tokens.
	keepCipher := "EXCLUDED.encrypted_refresh_token IS NULL OR length(EXCLUDED.encrypted_refresh_token) = 0"
	_, err := s.db.NewInsert().
		Model(record).
		On("CONFLICT (user_id, provider) DO UPDATE").
		Set("access_token = EXCLUDED.access_token").
		Set("encrypted_refresh_token = CASE WHEN "+keepCipher+" THEN bc.encrypted_refresh_token ELSE EXCLUDED.encrypted_refresh_token END").
		Set("refresh_token_nonce = CASE WHEN "+keepCipher+" THEN bc.refresh_token_nonce ELSE EXCLUDED.refresh_token_nonce END").
		Set("refresh_token_auth_tag = CASE WHEN "+keepCipher+" THEN bc.refresh_token_auth_tag ELSE EXCLUDED.refresh_token_auth_tag END").
		Set("token_expires_at = EXCLUDED.token_expires_at").
		Set("status = EXCLUDED.status").
		Set("last_error = EXCLUDED.last_error").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return core.BankConnection{}, err
	}
	return s.Get(ctx, record.UserID, record.Provider)
}

func (s *ConnectionStore) Get(ctx context.Context, userID string, provider string) (core.BankConnection, error) {
	if s == nil || s.repo == nil {
		return core.BankConnection{}, fmt.Errorf("sqlstore: connection store is not configured")
	}
	userID = strings.TrimSpace(userID)
	provider = strings.TrimSpace(strings.ToLower(provider))
	if userID == "" || provider == "" {
		return core.BankConnection{}, fmt.Errorf("sqlstore: user id and provider are required")
	}

	records, _, err := s.repo.List(ctx,
		repository.SelectBy("user_id", "=", userID),
		repository.SelectBy("provider", "=", provider),
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.BankConnection{}, core.ErrNotConnected
		}
		return core.BankConnection{}, err
	}
	if len(records) == 0 {
		return core.BankConnection{}, core.ErrNotConnected
	}
	return records[0].toDomain(), nil
}

func (s *ConnectionStore) ListActive(ctx context.Context) ([]core.BankConnection, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: connection store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("status", "=", string(core.ConnectionStatusActive)),
		repository.OrderBy("created_at ASC"),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.BankConnection, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func (s *ConnectionStore) UpdateStatus(ctx context.Context, userID string, provider string, status string, reason string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: connection store is not configured")
	}
	current, err := s.Get(ctx, userID, provider)
	if err != nil {
		return err
	}

	result, err := s.db.NewUpdate().
		Model((*bankConnectionRecord)(nil)).
		Set("status = ?", strings.TrimSpace(status)).
		Set("last_error = ?", strings.TrimSpace(reason)).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", current.ID).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err == nil && rows == 0 {
		return core.ErrNotConnected
	}
	return nil
}

func (s *ConnectionStore) TouchLastSynced(ctx context.Context, userID string, provider string, at time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: connection store is not configured")
	}
	_, err := s.db.NewUpdate().
		Model((*bankConnectionRecord)(nil)).
		Set("last_synced_at = ?", at.UTC()).
		Set("updated_at = ?", time.Now().UTC()).
		Where("user_id = ?", strings.TrimSpace(userID)).
		Where("provider = ?", strings.TrimSpace(strings.ToLower(provider))).
		Exec(ctx)
	return err
}

func (s *ConnectionStore) Delete(ctx context.Context, userID string, provider string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: connection store is not configured")
	}
	_, err := s.db.NewDelete().
		Model((*bankConnectionRecord)(nil)).
		Where("user_id = ?", strings.TrimSpace(userID)).
		Where("provider = ?", strings.TrimSpace(strings.ToLower(provider))).
		Exec(ctx)
	return err
}

var _ core.ConnectionStore = (*ConnectionStore)(nil)
