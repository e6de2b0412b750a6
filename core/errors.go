package core

import (
	"fmt"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	BanklinkErrorConfigInvalid       = "BANKLINK_CONFIG_INVALID"
	BanklinkErrorStateInvalid        = "BANKLINK_STATE_INVALID"
	BanklinkErrorNotConnected        = "BANKLINK_NOT_CONNECTED"
	BanklinkErrorTokenExchangeFailed = "BANKLINK_TOKEN_EXCHANGE_FAILED"
	BanklinkErrorTokenRefreshFailed  = "BANKLINK_TOKEN_REFRESH_FAILED"
	BanklinkErrorTokenExpired        = "BANKLINK_TOKEN_EXPIRED"
	BanklinkErrorCipherAuthFailed    = "BANKLINK_CIPHER_AUTH_FAILED"
	BanklinkErrorSyncFailed          = "BANKLINK_SYNC_FAILED"
	BanklinkErrorProviderNotFound    = "BANKLINK_PROVIDER_NOT_FOUND"
	BanklinkErrorBadInput            = "BANKLINK_BAD_INPUT"
	BanklinkErrorInternal            = "BANKLINK_INTERNAL_ERROR"
)

// TokenExchangeError reports a non-2xx response from the aggregator token
// endpoint during the authorization-code exchange.
type TokenExchangeError struct {
	Status int
	Detail string
}

func (e *TokenExchangeError) Error() string {
	return fmt.Sprintf("core: token exchange failed (%d): %s", e.Status, e.Detail)
}

// TokenRefreshError reports a non-2xx response from the aggregator token
// endpoint during refresh.
type TokenRefreshError struct {
	Status int
	Detail string
}

func (e *TokenRefreshError) Error() string {
	return fmt.Sprintf("core: token refresh failed (%d): %s", e.Status, e.Detail)
}

// ExpiredTokenError reports a 401 from a bearer-authenticated data endpoint.
// Callers treat it as the signal to force re-auth.
type ExpiredTokenError struct {
	Detail string
}

func (e *ExpiredTokenError) Error() string {
	if strings.TrimSpace(e.Detail) == "" {
		return "core: access token rejected by aggregator"
	}
	return "core: access token rejected by aggregator: " + e.Detail
}

// FetchError reports any other aggregator data endpoint failure.
type FetchError struct {
	Status int
	Detail string
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("core: aggregator fetch failed (%d): %s", e.Status, e.Detail)
}

// MapError normalizes any error into the shared error envelope so transports
// can read an HTTP status, text code, and safe message from it.
func MapError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	return banklinkErrorMapper(err)
}

func banklinkErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureBanklinkErrorEnvelope(richErr)
	}

	var exchangeErr *TokenExchangeError
	if goerrors.As(err, &exchangeErr) {
		return newBanklinkError(err.Error(), goerrors.CategoryAuth, BanklinkErrorTokenExchangeFailed)
	}
	var refreshErr *TokenRefreshError
	if goerrors.As(err, &refreshErr) {
		return newBanklinkError(err.Error(), goerrors.CategoryAuth, BanklinkErrorTokenRefreshFailed)
	}
	var expiredErr *ExpiredTokenError
	if goerrors.As(err, &expiredErr) {
		return newBanklinkError(err.Error(), goerrors.CategoryAuth, BanklinkErrorTokenExpired)
	}

	switch {
	case goerrors.Is(err, ErrNotConnected):
		return newBanklinkError(err.Error(), goerrors.CategoryNotFound, BanklinkErrorNotConnected)
	case goerrors.Is(err, ErrStateNotFound), goerrors.Is(err, ErrStateExpired):
		return newBanklinkError(err.Error(), goerrors.CategoryAuth, BanklinkErrorStateInvalid)
	case goerrors.Is(err, ErrCipherAuthFailed):
		return newBanklinkError(err.Error(), goerrors.CategoryInternal, BanklinkErrorCipherAuthFailed)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "not registered"), strings.Contains(msg, "provider") && strings.Contains(msg, "unknown"):
		return newBanklinkError(err.Error(), goerrors.CategoryNotFound, BanklinkErrorProviderNotFound)
	case strings.Contains(msg, "oauth state"):
		return newBanklinkError(err.Error(), goerrors.CategoryAuth, BanklinkErrorStateInvalid)
	case strings.Contains(msg, "key material"), strings.Contains(msg, "encryption key"):
		return newBanklinkError(err.Error(), goerrors.CategoryBadInput, BanklinkErrorConfigInvalid)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"), strings.Contains(msg, "mismatch"):
		return newBanklinkError(err.Error(), goerrors.CategoryBadInput, BanklinkErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureBanklinkErrorEnvelope(mapped)
}

func newBanklinkError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureBanklinkErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureBanklinkErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = banklinkHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultBanklinkTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultBanklinkTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return BanklinkErrorBadInput
	case goerrors.CategoryNotFound:
		return BanklinkErrorNotConnected
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return BanklinkErrorTokenExpired
	case goerrors.CategoryOperation:
		return BanklinkErrorSyncFailed
	default:
		return BanklinkErrorInternal
	}
}

func banklinkHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
