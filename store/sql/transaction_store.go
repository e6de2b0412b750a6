package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-banklink/core"
)

type TransactionStore struct {
	db   *bun.DB
	repo repository.Repository[*transactionRecord]
}

// InsertNew writes the transaction unless a row with the same id exists.
// Conflicts are silently skipped and reported through the boolean; rows are
// never updated once written.
func (s *TransactionStore) InsertNew(ctx context.Context, tx core.Transaction) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("sqlstore: transaction store is not configured")
	}
	if strings.TrimSpace(tx.ID) == "" {
		return false, fmt.Errorf("sqlstore: transaction id is required")
	}
	if strings.TrimSpace(tx.UserID) == "" {
		return false, fmt.Errorf("sqlstore: user id is required")
	}
	if tx.Kind != core.TransactionKindIncome && tx.Kind != core.TransactionKindExpense {
		return false, fmt.Errorf("sqlstore: unknown transaction kind %q", tx.Kind)
	}
	if tx.Amount.IsNegative() {
		return false, fmt.Errorf("sqlstore: transaction amount must not be negative")
	}

	record := newTransactionRecord(tx, time.Now().UTC())
	result, err := s.db.NewInsert().
		Model(record).
		On("CONFLICT (id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (s *TransactionStore) ListByUser(ctx context.Context, userID string) ([]core.Transaction, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: transaction store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("user_id", "=", strings.TrimSpace(userID)),
		repository.OrderBy("date DESC"),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.Transaction, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "unique constraint") ||
		strings.Contains(message, "duplicate key") ||
		strings.Contains(message, "unique violation")
}

var _ core.TransactionStore = (*TransactionStore)(nil)
