package sqlstore

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-banklink/core"
)

type bankConnectionRecord struct {
	bun.BaseModel `bun:"table:bank_connections,alias:bc"`

	ID                    string     `bun:"id,pk"`
	UserID                string     `bun:"user_id,notnull"`
	Provider              string     `bun:"provider,notnull"`
	AccessToken           string     `bun:"access_token,notnull"`
	EncryptedRefreshToken []byte     `bun:"encrypted_refresh_token"`
	RefreshTokenNonce     []byte     `bun:"refresh_token_nonce"`
	RefreshTokenAuthTag   []byte     `bun:"refresh_token_auth_tag"`
	TokenExpiresAt        *time.Time `bun:"token_expires_at,nullzero"`
	Status                string     `bun:"status,notnull"`
	LastError             string     `bun:"last_error"`
	LastSyncedAt          *time.Time `bun:"last_synced_at,nullzero"`
	CreatedAt             time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt             time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func newBankConnectionRecord(conn core.BankConnection, now time.Time) *bankConnectionRecord {
	status := strings.TrimSpace(string(conn.Status))
	if status == "" {
		status = string(core.ConnectionStatusActive)
	}
	createdAt := conn.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	return &bankConnectionRecord{
		ID:                    strings.TrimSpace(conn.ID),
		UserID:                strings.TrimSpace(conn.UserID),
		Provider:              strings.TrimSpace(strings.ToLower(conn.Provider)),
		AccessToken:           conn.AccessToken,
		EncryptedRefreshToken: conn.EncryptedRefreshToken,
		RefreshTokenNonce:     conn.RefreshTokenNonce,
		RefreshTokenAuthTag:   conn.RefreshTokenAuthTag,
		TokenExpiresAt:        conn.TokenExpiresAt,
		Status:                status,
		LastError:             strings.TrimSpace(conn.LastError),
		LastSyncedAt:          conn.LastSyncedAt,
		CreatedAt:             createdAt,
		UpdatedAt:             now,
	}
}

func (r *bankConnectionRecord) toDomain() core.BankConnection {
	if r == nil {
		return core.BankConnection{}
	}
	return core.BankConnection{
		ID:                    r.ID,
		UserID:                r.UserID,
		Provider:              r.Provider,
		AccessToken:           r.AccessToken,
		EncryptedRefreshToken: r.EncryptedRefreshToken,
		RefreshTokenNonce:     r.RefreshTokenNonce,
		RefreshTokenAuthTag:   r.RefreshTokenAuthTag,
		TokenExpiresAt:        r.TokenExpiresAt,
		Status:                core.ConnectionStatus(r.Status),
		LastError:             r.LastError,
		LastSyncedAt:          r.LastSyncedAt,
		CreatedAt:             r.CreatedAt,
		UpdatedAt:             r.UpdatedAt,
	}
}

type bankAccountRecord struct {
	bun.BaseModel `bun:"table:bank_accounts,alias:ba"`

	ID                string          `bun:"id,pk"`
	UserID            string          `bun:"user_id,notnull"`
	Provider          string          `bun:"provider,notnull"`
	ProviderAccountID string          `bun:"provider_account_id,notnull"`
	Name              string          `bun:"name"`
	Currency          string          `bun:"currency"`
	Balance           decimal.Decimal `bun:"balance,notnull"`
	AvailableBalance  decimal.Decimal `bun:"available_balance,notnull"`
	CreatedAt         time.Time       `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt         time.Time       `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func newBankAccountRecord(account core.BankAccount, now time.Time) *bankAccountRecord {
	createdAt := account.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	return &bankAccountRecord{
		ID:                strings.TrimSpace(account.ID),
		UserID:            strings.TrimSpace(account.UserID),
		Provider:          strings.TrimSpace(strings.ToLower(account.Provider)),
		ProviderAccountID: strings.TrimSpace(account.ProviderAccountID),
		Name:              strings.TrimSpace(account.Name),
		Currency:          strings.ToUpper(strings.TrimSpace(account.Currency)),
		Balance:           account.Balance,
		AvailableBalance:  account.AvailableBalance,
		CreatedAt:         createdAt,
		UpdatedAt:         now,
	}
}

func (r *bankAccountRecord) toDomain() core.BankAccount {
	if r == nil {
		return core.BankAccount{}
	}
	return core.BankAccount{
		ID:                r.ID,
		UserID:            r.UserID,
		Provider:          r.Provider,
		ProviderAccountID: r.ProviderAccountID,
		Name:              r.Name,
		Currency:          r.Currency,
		Balance:           r.Balance,
		AvailableBalance:  r.AvailableBalance,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
}

type transactionRecord struct {
	bun.BaseModel `bun:"table:transactions,alias:tx"`

	ID          string          `bun:"id,pk"`
	UserID      string          `bun:"user_id,notnull"`
	AccountID   string          `bun:"account_id,notnull"`
	Kind        string          `bun:"kind,notnull"`
	Amount      decimal.Decimal `bun:"amount,notnull"`
	Currency    string          `bun:"currency"`
	Date        time.Time       `bun:"date,notnull"`
	Category    string          `bun:"category,notnull"`
	Description string          `bun:"description"`
	CreatedAt   time.Time       `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

func newTransactionRecord(tx core.Transaction, now time.Time) *transactionRecord {
	createdAt := tx.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	return &transactionRecord{
		ID:          strings.TrimSpace(tx.ID),
		UserID:      strings.TrimSpace(tx.UserID),
		AccountID:   strings.TrimSpace(tx.AccountID),
		Kind:        string(tx.Kind),
		Amount:      tx.Amount,
		Currency:    strings.ToUpper(strings.TrimSpace(tx.Currency)),
		Date:        tx.Date.UTC(),
		Category:    strings.TrimSpace(tx.Category),
		Description: strings.TrimSpace(tx.Description),
		CreatedAt:   createdAt,
	}
}

func (r *transactionRecord) toDomain() core.Transaction {
	if r == nil {
		return core.Transaction{}
	}
	return core.Transaction{
		ID:          r.ID,
		UserID:      r.UserID,
		AccountID:   r.AccountID,
		Kind:        core.TransactionKind(r.Kind),
		Amount:      r.Amount,
		Currency:    r.Currency,
		Date:        r.Date,
		Category:    r.Category,
		Description: r.Description,
		CreatedAt:   r.CreatedAt,
	}
}
