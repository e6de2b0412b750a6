package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-banklink/core"
)

type AccountStore struct {
	db   *bun.DB
	repo repository.Repository[*bankAccountRecord]
}

// Upsert writes the account keyed by (user_id, provider, provider_account_id)
// so every sync refreshes the display name and balances in place.
func (s *AccountStore) Upsert(ctx context.Context, account core.BankAccount) (core.BankAccount, error) {
	if s == nil || s.db == nil {
		return core.BankAccount{}, fmt.Errorf("sqlstore: account store is not configured")
	}
	if strings.TrimSpace(account.UserID) == "" {
		return core.BankAccount{}, fmt.Errorf("sqlstore: user id is required")
	}
	if strings.TrimSpace(account.Provider) == "" {
		return core.BankAccount{}, fmt.Errorf("sqlstore: provider is required")
	}
	if strings.TrimSpace(account.ProviderAccountID) == "" {
		return core.BankAccount{}, fmt.Errorf("sqlstore: provider account id is required")
	}
	if strings.TrimSpace(account.ID) == "" {
		account.ID = uuid.NewString()
	}

	record := newBankAccountRecord(account, time.Now().UTC())
	_, err := s.db.NewInsert().
		Model(record).
		On("CONFLICT (user_id, provider, provider_account_id) DO UPDATE").
		Set("name = EXCLUDED.name").
		Set("currency = EXCLUDED.currency").
		Set("balance = EXCLUDED.balance").
		Set("available_balance = EXCLUDED.available_balance").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return core.BankAccount{}, err
	}

	stored, err := s.getByProviderAccount(ctx, record.UserID, record.Provider, record.ProviderAccountID)
	if err != nil {
		return core.BankAccount{}, err
	}
	return stored, nil
}

func (s *AccountStore) getByProviderAccount(ctx context.Context, userID string, provider string, providerAccountID string) (core.BankAccount, error) {
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("user_id", "=", userID),
		repository.SelectBy("provider", "=", provider),
		repository.SelectBy("provider_account_id", "=", providerAccountID),
	)
	if err != nil {
		return core.BankAccount{}, err
	}
	if len(records) == 0 {
		return core.BankAccount{}, fmt.Errorf("sqlstore: account %q not found after upsert", providerAccountID)
	}
	return records[0].toDomain(), nil
}

func (s *AccountStore) ListByConnection(ctx context.Context, userID string, provider string) ([]core.BankAccount, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: account store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("user_id", "=", strings.TrimSpace(userID)),
		repository.SelectBy("provider", "=", strings.TrimSpace(strings.ToLower(provider))),
		repository.OrderBy("created_at ASC"),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.BankAccount, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func (s *AccountStore) DeleteByConnection(ctx context.Context, userID string, provider string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: account store is not configured")
	}
	_, err := s.db.NewDelete().
		Model((*bankAccountRecord)(nil)).
		Where("user_id = ?", strings.TrimSpace(userID)).
		Where("provider = ?", strings.TrimSpace(strings.ToLower(provider))).
		Exec(ctx)
	return err
}

var _ core.AccountStore = (*AccountStore)(nil)
