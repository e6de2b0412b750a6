package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNotConnected                      = errors.New("core: bank connection not found")
	ErrStateNotFound                     = errors.New("core: oauth state not found")
	ErrStateExpired                      = errors.New("core: oauth state expired")
	ErrCipherAuthFailed                  = errors.New("core: secret authentication failed")
	ErrInvalidConnectionStatusTransition = errors.New("core: invalid connection status transition")
)

type ConnectionStatus string

const (
	ConnectionStatusActive        ConnectionStatus = "active"
	ConnectionStatusPendingReauth ConnectionStatus = "pending_reauth"
	ConnectionStatusDisconnected  ConnectionStatus = "disconnected"
)

// BankConnection is the per (user, provider) aggregator link. The refresh
// token is stored as AES-GCM output split into ciphertext, nonce, and tag;
// the short-lived access token is kept in the clear.
type BankConnection struct {
	ID                    string
	UserID                string
	Provider              string
	AccessToken           string
	EncryptedRefreshToken []byte
	RefreshTokenNonce     []byte
	RefreshTokenAuthTag   []byte
	TokenExpiresAt        *time.Time
	Status                ConnectionStatus
	LastError             string
	LastSyncedAt          *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

func (c BankConnection) HasRefreshToken() bool {
	return len(c.EncryptedRefreshToken) > 0
}

func (c *BankConnection) TransitionTo(status ConnectionStatus, reason string, now time.Time) error {
	if c == nil {
		return nil
	}
	if c.Status == status {
		c.UpdatedAt = now
		if strings.TrimSpace(reason) != "" {
			c.LastError = strings.TrimSpace(reason)
		}
		return nil
	}
	if !connectionTransitionAllowed(c.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidConnectionStatusTransition, c.Status, status)
	}
	c.Status = status
	c.UpdatedAt = now
	if strings.TrimSpace(reason) != "" {
		c.LastError = strings.TrimSpace(reason)
	}
	if status == ConnectionStatusActive {
		c.LastError = ""
	}
	return nil
}

func connectionTransitionAllowed(current, next ConnectionStatus) bool {
	allowed := map[ConnectionStatus]map[ConnectionStatus]struct{}{
		ConnectionStatusActive: {
			ConnectionStatusPendingReauth: {},
			ConnectionStatusDisconnected:  {},
		},
		ConnectionStatusPendingReauth: {
			ConnectionStatusActive:       {},
			ConnectionStatusDisconnected: {},
		},
		ConnectionStatusDisconnected: {
			ConnectionStatusActive: {},
		},
	}
	_, ok := allowed[current][next]
	return ok
}

// BankAccount mirrors one aggregator account. Upserted on every sync; unique
// per (user, provider, provider account id).
type BankAccount struct {
	ID                string
	UserID            string
	Provider          string
	ProviderAccountID string
	Name              string
	Currency          string
	Balance           decimal.Decimal
	AvailableBalance  decimal.Decimal
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type TransactionKind string

const (
	TransactionKindIncome  TransactionKind = "income"
	TransactionKindExpense TransactionKind = "expense"
)

// Transaction is the canonical, source-independent record. The ID is the
// provider-prefixed external id so re-imports are idempotent; once inserted
// a row is never overwritten by a later sync.
type Transaction struct {
	ID          string
	UserID      string
	AccountID   string
	Kind        TransactionKind
	Amount      decimal.Decimal
	Currency    string
	Date        time.Time
	Category    string
	Description string
	CreatedAt   time.Time
}

// SyncSummary aggregates one reconciliation run. Per-account failures are
// reported in Failures and never fail the run as a whole.
type SyncSummary struct {
	Accounts int
	Inserted int
	Skipped  int
	FromDate time.Time
	ToDate   time.Time
	Failures []AccountSyncFailure
}

type AccountSyncFailure struct {
	ProviderAccountID string
	Stage             string
	Reason            string
}
