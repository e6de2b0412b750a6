package sync

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/goliatone/go-banklink/core"
)

func TestNormalizeExpense(t *testing.T) {
	tx := core.ProviderTransaction{
		ID:           "tx-100",
		Amount:       decimal.RequireFromString("-12.50"),
		Currency:     "gbp",
		Timestamp:    time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
		Description:  "CARD PAYMENT COFFEE",
		MerchantName: "Blue Bottle",
		Category:     "PURCHASE",
	}

	normalized := Normalize("user-1", "acct-1", "truelayer", tx)
	if normalized.Kind != core.TransactionKindExpense {
		t.Fatalf("expected expense, got %s", normalized.Kind)
	}
	if got := normalized.Amount.String(); got != "12.5" {
		t.Fatalf("expected positive amount 12.5, got %s", got)
	}
	if normalized.ID != "truelayer-tx-100" {
		t.Fatalf("unexpected id: %s", normalized.ID)
	}
	if normalized.Description != "Blue Bottle" {
		t.Fatalf("expected merchant name to win, got %q", normalized.Description)
	}
	if normalized.Currency != "GBP" {
		t.Fatalf("expected GBP, got %q", normalized.Currency)
	}
}

func TestNormalizeIncome(t *testing.T) {
	tx := core.ProviderTransaction{
		ID:        "tx-200",
		Amount:    decimal.RequireFromString("500"),
		Currency:  "GBP",
		Timestamp: time.Date(2024, 3, 28, 0, 0, 0, 0, time.UTC),
	}

	normalized := Normalize("user-1", "acct-1", "truelayer", tx)
	if normalized.Kind != core.TransactionKindIncome {
		t.Fatalf("expected income, got %s", normalized.Kind)
	}
	if got := normalized.Amount.String(); got != "500" {
		t.Fatalf("expected 500, got %s", got)
	}
}

func TestNormalizeDefaults(t *testing.T) {
	tx := core.ProviderTransaction{
		ID:          "tx-300",
		Amount:      decimal.RequireFromString("-1"),
		Description: "DIRECT DEBIT",
	}

	normalized := Normalize("user-1", "acct-1", "truelayer", tx)
	if normalized.Category != "Other" {
		t.Fatalf("expected default category, got %q", normalized.Category)
	}
	if normalized.Description != "DIRECT DEBIT" {
		t.Fatalf("expected raw description fallback, got %q", normalized.Description)
	}

	tx.Description = ""
	normalized = Normalize("user-1", "acct-1", "truelayer", tx)
	if normalized.Description != "" {
		t.Fatalf("expected empty description, got %q", normalized.Description)
	}
}

func TestCanonicalTransactionIDIsStable(t *testing.T) {
	first := CanonicalTransactionID("TrueLayer", " tx-1 ")
	second := CanonicalTransactionID("truelayer", "tx-1")
	if first != second {
		t.Fatalf("expected stable ids, got %q and %q", first, second)
	}
	if first != "truelayer-tx-1" {
		t.Fatalf("unexpected id: %s", first)
	}
}
