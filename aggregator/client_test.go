package aggregator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-banklink/core"
)

func testConfig(serverURL string) Config {
	return Config{
		Provider:     "truelayer",
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURI:  "https://app.example.com/banks/truelayer/callback",
		AuthBaseURL:  serverURL + "/auth",
		TokenURL:     serverURL + "/connect/token",
		APIBaseURL:   serverURL,
	}
}

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatal("expected error for empty config")
	}
	if _, err := NewClient(Config{Provider: "truelayer", ClientID: "id"}); err == nil {
		t.Fatal("expected error for missing redirect uri")
	}
}

func TestNewClientSandboxDefaults(t *testing.T) {
	client, err := NewClient(Config{
		Provider:    "truelayer",
		ClientID:    "id",
		RedirectURI: "https://app.example.com/cb",
		Sandbox:     true,
	})
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	authorizeURL := client.AuthorizeURL("state-1")
	if !strings.HasPrefix(authorizeURL, "https://auth.truelayer-sandbox.com?") {
		t.Fatalf("unexpected sandbox authorize url: %s", authorizeURL)
	}
	if !strings.Contains(authorizeURL, "uk-cs-mock") {
		t.Fatalf("expected sandbox provider filter, got: %s", authorizeURL)
	}
}

func TestAuthorizeURLCarriesState(t *testing.T) {
	client, err := NewClient(testConfig("http://localhost"))
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}

	parsed, err := url.Parse(client.AuthorizeURL("state-abc"))
	if err != nil {
		t.Fatalf("parse authorize url: %v", err)
	}
	query := parsed.Query()
	if got := query.Get("state"); got != "state-abc" {
		t.Fatalf("expected state param, got %q", got)
	}
	if got := query.Get("response_type"); got != "code" {
		t.Fatalf("expected response_type=code, got %q", got)
	}
	if got := query.Get("client_id"); got != "client-id" {
		t.Fatalf("expected client_id param, got %q", got)
	}
	if got := query.Get("redirect_uri"); got != "https://app.example.com/banks/truelayer/callback" {
		t.Fatalf("expected redirect_uri param, got %q", got)
	}
}

func TestExchangeCodeSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/connect/token" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if got := r.PostForm.Get("grant_type"); got != "authorization_code" {
			t.Errorf("expected authorization_code grant, got %q", got)
		}
		if got := r.PostForm.Get("code"); got != "auth-code" {
			t.Errorf("expected code param, got %q", got)
		}
		username, password, ok := r.BasicAuth()
		if !ok || username != "client-id" || password != "client-secret" {
			t.Errorf("expected basic auth credentials, got %q/%q", username, password)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"at-1","refresh_token":"rt-1","token_type":"Bearer","expires_in":3600,"scope":"accounts"}`))
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL))
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}

	token, err := client.ExchangeCode(context.Background(), "auth-code")
	if err != nil {
		t.Fatalf("ExchangeCode returned error: %v", err)
	}
	if token.AccessToken != "at-1" || token.RefreshToken != "rt-1" {
		t.Fatalf("unexpected token response: %+v", token)
	}
	if token.ExpiresIn != 3600 {
		t.Fatalf("expected expires_in 3600, got %d", token.ExpiresIn)
	}
	if token.TokenType != "bearer" {
		t.Fatalf("expected normalized token type, got %q", token.TokenType)
	}
}

func TestExchangeCodeCoercesLooseTokenFields(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		// Some providers quote numeric fields in the token payload.
		w.Write([]byte(`{"access_token":"at-1","token_type":"Bearer","expires_in":"3600","scope":"accounts"}`))
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL))
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}

	token, err := client.ExchangeCode(context.Background(), "auth-code")
	if err != nil {
		t.Fatalf("ExchangeCode returned error: %v", err)
	}
	if token.AccessToken != "at-1" {
		t.Fatalf("unexpected access token: %+v", token)
	}
	if token.ExpiresIn != 3600 {
		t.Fatalf("expected quoted expires_in coerced to 3600, got %d", token.ExpiresIn)
	}
	if token.RefreshToken != "" {
		t.Fatalf("expected no refresh token, got %q", token.RefreshToken)
	}
}

func TestExchangeCodeFailureIsTyped(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant","error_description":"code expired"}`))
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL))
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}

	_, err = client.ExchangeCode(context.Background(), "stale-code")
	var exchangeErr *core.TokenExchangeError
	if !goerrors.As(err, &exchangeErr) {
		t.Fatalf("expected TokenExchangeError, got %v", err)
	}
	if exchangeErr.Status != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", exchangeErr.Status)
	}
	if !strings.Contains(exchangeErr.Detail, "code expired") {
		t.Fatalf("expected provider detail, got %q", exchangeErr.Detail)
	}
}

func TestRefreshFailureIsTyped(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if got := r.PostForm.Get("grant_type"); got != "refresh_token" {
			t.Errorf("expected refresh_token grant, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL))
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}

	_, err = client.Refresh(context.Background(), "revoked-token")
	var refreshErr *core.TokenRefreshError
	if !goerrors.As(err, &refreshErr) {
		t.Fatalf("expected TokenRefreshError, got %v", err)
	}
	if refreshErr.Status != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", refreshErr.Status)
	}
}

func TestListAccounts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/data/v1/accounts" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer at-1" {
			t.Errorf("expected bearer auth, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"results":[
			{"account_id":"acc-1","display_name":"Current Account","currency":"gbp","account_type":"TRANSACTION"},
			{"account_id":"acc-2","display_name":"Savings","currency":"GBP","account_type":"SAVINGS"}
		]}`))
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL))
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}

	accounts, err := client.ListAccounts(context.Background(), "at-1")
	if err != nil {
		t.Fatalf("ListAccounts returned error: %v", err)
	}
	if len(accounts) != 2 {
		t.Fatalf("expected 2 accounts, got %d", len(accounts))
	}
	if accounts[0].ID != "acc-1" || accounts[0].Currency != "GBP" {
		t.Fatalf("unexpected account: %+v", accounts[0])
	}
}

func TestListAccountsUnauthorizedIsExpiredToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"invalid_token"}`))
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL))
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}

	_, err = client.ListAccounts(context.Background(), "stale-token")
	var expiredErr *core.ExpiredTokenError
	if !goerrors.As(err, &expiredErr) {
		t.Fatalf("expected ExpiredTokenError, got %v", err)
	}
}

func TestGetBalance(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/data/v1/accounts/acc-1/balance" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"results":[{"current":1250.75,"available":1200.00,"currency":"GBP"}]}`))
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL))
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}

	balance, err := client.GetBalance(context.Background(), "at-1", "acc-1")
	if err != nil {
		t.Fatalf("GetBalance returned error: %v", err)
	}
	if got := balance.Current.String(); got != "1250.75" {
		t.Fatalf("expected current 1250.75, got %s", got)
	}
	if got := balance.Available.String(); got != "1200" {
		t.Fatalf("expected available 1200, got %s", got)
	}
	if balance.Currency != "GBP" {
		t.Fatalf("expected GBP, got %q", balance.Currency)
	}
}

func TestListTransactionsWindowAndErrors(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/data/v1/accounts/acc-1/transactions":
			query := r.URL.Query()
			if got := query.Get("from"); got != from.Format(time.RFC3339) {
				t.Errorf("expected from param, got %q", got)
			}
			if got := query.Get("to"); got != to.Format(time.RFC3339) {
				t.Errorf("expected to param, got %q", got)
			}
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"results":[
				{"transaction_id":"tx-1","amount":-12.50,"currency":"GBP","timestamp":"2024-01-15T10:30:00Z","description":"COFFEE SHOP","merchant_name":"Blue Bottle","transaction_category":"PURCHASE"}
			]}`))
		case "/data/v1/accounts/acc-2/transactions":
			w.WriteHeader(http.StatusForbidden)
			w.Write([]byte(`{"error":"access_denied"}`))
		default:
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL))
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}

	transactions, err := client.ListTransactions(context.Background(), "at-1", "acc-1", from, to)
	if err != nil {
		t.Fatalf("ListTransactions returned error: %v", err)
	}
	if len(transactions) != 1 {
		t.Fatalf("expected 1 transaction, got %d", len(transactions))
	}
	if got := transactions[0].Amount.String(); got != "-12.5" {
		t.Fatalf("expected amount -12.5, got %s", got)
	}
	if transactions[0].MerchantName != "Blue Bottle" {
		t.Fatalf("unexpected merchant: %q", transactions[0].MerchantName)
	}

	_, err = client.ListTransactions(context.Background(), "at-1", "acc-2", from, to)
	var fetchErr *core.FetchError
	if !goerrors.As(err, &fetchErr) {
		t.Fatalf("expected FetchError, got %v", err)
	}
	if fetchErr.Status != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", fetchErr.Status)
	}
}
