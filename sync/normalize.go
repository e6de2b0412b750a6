package sync

import (
	"strings"

	"github.com/goliatone/go-banklink/core"
)

const defaultCategory = "Other"

// CanonicalTransactionID derives the stable identifier for a provider
// transaction. Re-syncing the same window always produces the same id, which
// is what makes inserts idempotent.
func CanonicalTransactionID(provider string, externalID string) string {
	return strings.TrimSpace(strings.ToLower(provider)) + "-" + strings.TrimSpace(externalID)
}

// Normalize converts a provider transaction into the canonical ledger shape.
// The sign selects the kind and the stored amount is always positive.
func Normalize(userID string, accountID string, provider string, tx core.ProviderTransaction) core.Transaction {
	kind := core.TransactionKindIncome
	if tx.Amount.IsNegative() {
		kind = core.TransactionKindExpense
	}

	category := strings.TrimSpace(tx.Category)
	if category == "" {
		category = defaultCategory
	}

	description := strings.TrimSpace(tx.MerchantName)
	if description == "" {
		description = strings.TrimSpace(tx.Description)
	}

	return core.Transaction{
		ID:          CanonicalTransactionID(provider, tx.ID),
		UserID:      strings.TrimSpace(userID),
		AccountID:   strings.TrimSpace(accountID),
		Kind:        kind,
		Amount:      tx.Amount.Abs(),
		Currency:    strings.ToUpper(strings.TrimSpace(tx.Currency)),
		Date:        tx.Timestamp.UTC(),
		Category:    category,
		Description: description,
	}
}
