package aggregator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-banklink/core"
	"github.com/shopspring/decimal"
)

const (
	defaultRequestTimeout = 30 * time.Second
	maxResponseBodyBytes  = 1 << 20 // 1 MiB

	defaultAuthBaseURL = "https://auth.truelayer.com"
	defaultAPIBaseURL  = "https://api.truelayer.com"
	sandboxAuthBaseURL = "https://auth.truelayer-sandbox.com"
	sandboxAPIBaseURL  = "https://api.truelayer-sandbox.com"
)

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config describes a single aggregator connection. TokenURL defaults to
// <AuthBaseURL>/connect/token when empty.
type Config struct {
	Provider           string
	ClientID           string
	ClientSecret       string
	ClientSecretInBody bool
	RedirectURI        string
	Scopes             []string
	AuthBaseURL        string
	TokenURL           string
	APIBaseURL         string
	Sandbox            bool
	Timeout            time.Duration
	Now                func() time.Time
	HTTPClient         HTTPDoer
}

// Client talks to a TrueLayer-style open banking aggregator: an OAuth2 token
// endpoint plus a data API for accounts, balances, and transactions.
type Client struct {
	cfg        Config
	httpClient HTTPDoer
}

type tokenEndpointPayload struct {
	AccessToken      string
	TokenType        string
	RefreshToken     string
	Scope            string
	ExpiresIn        int64
	ErrorCode        string
	ErrorDescription string
}

func NewClient(cfg Config) (*Client, error) {
	cfg.Provider = strings.TrimSpace(strings.ToLower(cfg.Provider))
	if cfg.Provider == "" {
		return nil, fmt.Errorf("aggregator: provider name is required")
	}
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, fmt.Errorf("aggregator: client id is required for provider %q", cfg.Provider)
	}
	if strings.TrimSpace(cfg.RedirectURI) == "" {
		return nil, fmt.Errorf("aggregator: redirect uri is required for provider %q", cfg.Provider)
	}

	cfg.ClientID = strings.TrimSpace(cfg.ClientID)
	cfg.ClientSecret = strings.TrimSpace(cfg.ClientSecret)
	cfg.RedirectURI = strings.TrimSpace(cfg.RedirectURI)
	cfg.Scopes = normalizeScopes(cfg.Scopes)
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{"accounts", "balance", "info", "offline_access", "transactions"}
	}

	if strings.TrimSpace(cfg.AuthBaseURL) == "" {
		if cfg.Sandbox {
			cfg.AuthBaseURL = sandboxAuthBaseURL
		} else {
			cfg.AuthBaseURL = defaultAuthBaseURL
		}
	}
	if strings.TrimSpace(cfg.APIBaseURL) == "" {
		if cfg.Sandbox {
			cfg.APIBaseURL = sandboxAPIBaseURL
		} else {
			cfg.APIBaseURL = defaultAPIBaseURL
		}
	}
	cfg.AuthBaseURL = strings.TrimRight(strings.TrimSpace(cfg.AuthBaseURL), "/")
	cfg.APIBaseURL = strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	if strings.TrimSpace(cfg.TokenURL) == "" {
		cfg.TokenURL = cfg.AuthBaseURL + "/connect/token"
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultRequestTimeout
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time {
			return time.Now().UTC()
		}
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{cfg: cfg, httpClient: httpClient}, nil
}

func (c *Client) Provider() string {
	if c == nil {
		return ""
	}
	return c.cfg.Provider
}

func (c *Client) AuthorizeURL(state string) string {
	if c == nil {
		return ""
	}
	values := url.Values{}
	values.Set("response_type", "code")
	values.Set("client_id", c.cfg.ClientID)
	values.Set("redirect_uri", c.cfg.RedirectURI)
	values.Set("scope", strings.Join(c.cfg.Scopes, " "))
	values.Set("state", strings.TrimSpace(state))
	values.Set("providers", c.providerFilter())

	authURL := c.cfg.AuthBaseURL
	if strings.Contains(authURL, "?") {
		return authURL + "&" + values.Encode()
	}
	return authURL + "?" + values.Encode()
}

func (c *Client) providerFilter() string {
	if c.cfg.Sandbox {
		return "uk-cs-mock uk-ob-all uk-oauth-all"
	}
	return "uk-ob-all uk-oauth-all"
}

func (c *Client) ExchangeCode(ctx context.Context, code string) (core.TokenResponse, error) {
	if c == nil {
		return core.TokenResponse{}, fmt.Errorf("aggregator: client is nil")
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return core.TokenResponse{}, fmt.Errorf("aggregator: authorization code is required")
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", c.cfg.RedirectURI)

	payload, status, err := c.fetchToken(ctx, form)
	if err != nil {
		return core.TokenResponse{}, &core.TokenExchangeError{Status: status, Detail: err.Error()}
	}
	return tokenResponseFromPayload(payload), nil
}

func (c *Client) Refresh(ctx context.Context, refreshToken string) (core.TokenResponse, error) {
	if c == nil {
		return core.TokenResponse{}, fmt.Errorf("aggregator: client is nil")
	}
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return core.TokenResponse{}, fmt.Errorf("aggregator: refresh token is required")
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	payload, status, err := c.fetchToken(ctx, form)
	if err != nil {
		return core.TokenResponse{}, &core.TokenRefreshError{Status: status, Detail: err.Error()}
	}
	return tokenResponseFromPayload(payload), nil
}

func tokenResponseFromPayload(payload tokenEndpointPayload) core.TokenResponse {
	return core.TokenResponse{
		AccessToken:  strings.TrimSpace(payload.AccessToken),
		RefreshToken: strings.TrimSpace(payload.RefreshToken),
		TokenType:    normalizeTokenType(payload.TokenType),
		Scope:        strings.TrimSpace(payload.Scope),
		ExpiresIn:    payload.ExpiresIn,
	}
}

func (c *Client) ListAccounts(ctx context.Context, accessToken string) ([]core.ProviderAccount, error) {
	var envelope struct {
		Results []struct {
			AccountID   string `json:"account_id"`
			DisplayName string `json:"display_name"`
			Currency    string `json:"currency"`
			AccountType string `json:"account_type"`
		} `json:"results"`
	}
	if err := c.getJSON(ctx, accessToken, "/data/v1/accounts", &envelope); err != nil {
		return nil, err
	}
	accounts := make([]core.ProviderAccount, 0, len(envelope.Results))
	for _, result := range envelope.Results {
		accounts = append(accounts, core.ProviderAccount{
			ID:          strings.TrimSpace(result.AccountID),
			DisplayName: strings.TrimSpace(result.DisplayName),
			Currency:    strings.ToUpper(strings.TrimSpace(result.Currency)),
			AccountType: strings.TrimSpace(result.AccountType),
		})
	}
	return accounts, nil
}

func (c *Client) GetBalance(ctx context.Context, accessToken string, providerAccountID string) (core.ProviderBalance, error) {
	providerAccountID = strings.TrimSpace(providerAccountID)
	if providerAccountID == "" {
		return core.ProviderBalance{}, fmt.Errorf("aggregator: provider account id is required")
	}
	var envelope struct {
		Results []struct {
			Current   json.Number `json:"current"`
			Available json.Number `json:"available"`
			Currency  string      `json:"currency"`
		} `json:"results"`
	}
	path := "/data/v1/accounts/" + url.PathEscape(providerAccountID) + "/balance"
	if err := c.getJSON(ctx, accessToken, path, &envelope); err != nil {
		return core.ProviderBalance{}, err
	}
	if len(envelope.Results) == 0 {
		return core.ProviderBalance{}, fmt.Errorf("aggregator: balance response is empty for account %q", providerAccountID)
	}
	result := envelope.Results[0]
	current, err := parseDecimal(result.Current)
	if err != nil {
		return core.ProviderBalance{}, fmt.Errorf("aggregator: parse current balance: %w", err)
	}
	available, err := parseDecimal(result.Available)
	if err != nil {
		return core.ProviderBalance{}, fmt.Errorf("aggregator: parse available balance: %w", err)
	}
	return core.ProviderBalance{
		Current:   current,
		Available: available,
		Currency:  strings.ToUpper(strings.TrimSpace(result.Currency)),
	}, nil
}

func (c *Client) ListTransactions(ctx context.Context, accessToken string, providerAccountID string, from time.Time, to time.Time) ([]core.ProviderTransaction, error) {
	providerAccountID = strings.TrimSpace(providerAccountID)
	if providerAccountID == "" {
		return nil, fmt.Errorf("aggregator: provider account id is required")
	}
	var envelope struct {
		Results []struct {
			TransactionID string      `json:"transaction_id"`
			Amount        json.Number `json:"amount"`
			Currency      string      `json:"currency"`
			Timestamp     time.Time   `json:"timestamp"`
			Description   string      `json:"description"`
			MerchantName  string      `json:"merchant_name"`
			Category      string      `json:"transaction_category"`
		} `json:"results"`
	}

	query := url.Values{}
	if !from.IsZero() {
		query.Set("from", from.UTC().Format(time.RFC3339))
	}
	if !to.IsZero() {
		query.Set("to", to.UTC().Format(time.RFC3339))
	}
	path := "/data/v1/accounts/" + url.PathEscape(providerAccountID) + "/transactions"
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}
	if err := c.getJSON(ctx, accessToken, path, &envelope); err != nil {
		return nil, err
	}

	transactions := make([]core.ProviderTransaction, 0, len(envelope.Results))
	for _, result := range envelope.Results {
		amount, err := parseDecimal(result.Amount)
		if err != nil {
			return nil, fmt.Errorf("aggregator: parse transaction amount: %w", err)
		}
		transactions = append(transactions, core.ProviderTransaction{
			ID:           strings.TrimSpace(result.TransactionID),
			Amount:       amount,
			Currency:     strings.ToUpper(strings.TrimSpace(result.Currency)),
			Timestamp:    result.Timestamp,
			Description:  strings.TrimSpace(result.Description),
			MerchantName: strings.TrimSpace(result.MerchantName),
			Category:     strings.TrimSpace(result.Category),
		})
	}
	return transactions, nil
}

func (c *Client) getJSON(ctx context.Context, accessToken string, path string, target any) error {
	if c == nil {
		return fmt.Errorf("aggregator: client is nil")
	}
	if c.httpClient == nil {
		return fmt.Errorf("aggregator: http client is not configured")
	}
	if strings.TrimSpace(accessToken) == "" {
		return fmt.Errorf("aggregator: access token is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	requestCtx := ctx
	cancel := func() {}
	if c.cfg.Timeout > 0 {
		requestCtx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
	}
	defer cancel()

	httpReq, err := http.NewRequestWithContext(requestCtx, http.MethodGet, c.cfg.APIBaseURL+path, nil)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Authorization", "Bearer "+strings.TrimSpace(accessToken))
	httpReq.Header.Set("Accept", "application/json")

	response, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("aggregator: data request failed: %w", err)
	}
	defer response.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(response.Body, maxResponseBodyBytes+1))
	if readErr != nil {
		return fmt.Errorf("aggregator: read data response: %w", readErr)
	}
	if int64(len(body)) > maxResponseBodyBytes {
		return fmt.Errorf("aggregator: data response exceeds %d bytes", maxResponseBodyBytes)
	}

	if response.StatusCode == http.StatusUnauthorized {
		return &core.ExpiredTokenError{Detail: describeAPIError(body)}
	}
	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		return &core.FetchError{Status: response.StatusCode, Detail: describeAPIError(body)}
	}
	if target == nil {
		return nil
	}
	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("aggregator: decode data response: %w", err)
	}
	return nil
}

func (c *Client) fetchToken(ctx context.Context, form url.Values) (tokenEndpointPayload, int, error) {
	if c.httpClient == nil {
		return tokenEndpointPayload{}, 0, fmt.Errorf("token http client is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	values := url.Values{}
	for key, items := range form {
		if strings.TrimSpace(key) == "" {
			continue
		}
		for _, item := range items {
			values.Add(key, strings.TrimSpace(item))
		}
	}
	values.Set("client_id", c.cfg.ClientID)
	if c.cfg.ClientSecretInBody && c.cfg.ClientSecret != "" {
		values.Set("client_secret", c.cfg.ClientSecret)
	}

	requestCtx := ctx
	cancel := func() {}
	if c.cfg.Timeout > 0 {
		requestCtx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
	}
	defer cancel()

	httpReq, err := http.NewRequestWithContext(
		requestCtx,
		http.MethodPost,
		c.cfg.TokenURL,
		strings.NewReader(values.Encode()),
	)
	if err != nil {
		return tokenEndpointPayload{}, 0, err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Accept", "application/json")
	if !c.cfg.ClientSecretInBody && c.cfg.ClientSecret != "" {
		httpReq.SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret)
	}

	response, err := c.httpClient.Do(httpReq)
	if err != nil {
		return tokenEndpointPayload{}, 0, fmt.Errorf("token request failed: %w", err)
	}
	defer response.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(response.Body, maxResponseBodyBytes+1))
	if readErr != nil {
		return tokenEndpointPayload{}, response.StatusCode, fmt.Errorf("read token response: %w", readErr)
	}
	if int64(len(body)) > maxResponseBodyBytes {
		return tokenEndpointPayload{}, response.StatusCode, fmt.Errorf("token response exceeds %d bytes", maxResponseBodyBytes)
	}

	payload, parseErr := parseTokenPayload(body, response.Header.Get("Content-Type"))
	if parseErr != nil {
		return tokenEndpointPayload{}, response.StatusCode, fmt.Errorf("decode token response: %w", parseErr)
	}
	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		return tokenEndpointPayload{}, response.StatusCode, fmt.Errorf(
			"token endpoint error (%d): %s",
			response.StatusCode,
			describeTokenError(payload),
		)
	}
	if payload.ErrorCode != "" {
		return tokenEndpointPayload{}, response.StatusCode, fmt.Errorf("token endpoint error: %s", describeTokenError(payload))
	}
	if strings.TrimSpace(payload.AccessToken) == "" {
		return tokenEndpointPayload{}, response.StatusCode, fmt.Errorf("token endpoint response missing access token")
	}
	return payload, response.StatusCode, nil
}

func describeTokenError(payload tokenEndpointPayload) string {
	if strings.TrimSpace(payload.ErrorDescription) != "" {
		return strings.TrimSpace(payload.ErrorDescription)
	}
	if strings.TrimSpace(payload.ErrorCode) != "" {
		return strings.TrimSpace(payload.ErrorCode)
	}
	return "unknown error"
}

func describeAPIError(body []byte) string {
	var decoded struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.Unmarshal(body, &decoded); err == nil {
		if strings.TrimSpace(decoded.ErrorDescription) != "" {
			return strings.TrimSpace(decoded.ErrorDescription)
		}
		if strings.TrimSpace(decoded.Error) != "" {
			return strings.TrimSpace(decoded.Error)
		}
	}
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return "unknown error"
	}
	if len(trimmed) > 200 {
		trimmed = trimmed[:200]
	}
	return trimmed
}

func parseTokenPayload(body []byte, contentType string) (tokenEndpointPayload, error) {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if strings.Contains(contentType, "json") {
		return parseTokenPayloadJSON(body)
	}
	if strings.Contains(contentType, "x-www-form-urlencoded") || strings.Contains(contentType, "text/plain") {
		return parseTokenPayloadForm(body)
	}
	if payload, err := parseTokenPayloadJSON(body); err == nil {
		return payload, nil
	}
	return parseTokenPayloadForm(body)
}

func parseTokenPayloadJSON(body []byte) (tokenEndpointPayload, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return tokenEndpointPayload{}, fmt.Errorf("empty payload")
	}
	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return tokenEndpointPayload{}, err
	}
	return tokenEndpointPayload{
		AccessToken:      readAnyString(decoded["access_token"]),
		TokenType:        readAnyString(decoded["token_type"]),
		RefreshToken:     readAnyString(decoded["refresh_token"]),
		Scope:            readAnyString(decoded["scope"]),
		ExpiresIn:        readAnyInt64(decoded["expires_in"]),
		ErrorCode:        readAnyString(decoded["error"]),
		ErrorDescription: readAnyString(decoded["error_description"]),
	}, nil
}

func parseTokenPayloadForm(body []byte) (tokenEndpointPayload, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return tokenEndpointPayload{}, fmt.Errorf("empty payload")
	}
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return tokenEndpointPayload{}, err
	}
	expiresIn, _ := strconv.ParseInt(strings.TrimSpace(values.Get("expires_in")), 10, 64)
	return tokenEndpointPayload{
		AccessToken:      strings.TrimSpace(values.Get("access_token")),
		TokenType:        strings.TrimSpace(values.Get("token_type")),
		RefreshToken:     strings.TrimSpace(values.Get("refresh_token")),
		Scope:            strings.TrimSpace(values.Get("scope")),
		ExpiresIn:        expiresIn,
		ErrorCode:        strings.TrimSpace(values.Get("error")),
		ErrorDescription: strings.TrimSpace(values.Get("error_description")),
	}, nil
}

// readAnyString and readAnyInt64 coerce loosely typed token payload fields.
// Providers disagree on whether expires_in is a number or a string.
func readAnyString(value any) string {
	switch typed := value.(type) {
	case string:
		return strings.TrimSpace(typed)
	case json.Number:
		return strings.TrimSpace(typed.String())
	case fmt.Stringer:
		return strings.TrimSpace(typed.String())
	default:
		if value == nil {
			return ""
		}
		return strings.TrimSpace(fmt.Sprint(value))
	}
}

func readAnyInt64(value any) int64 {
	switch typed := value.(type) {
	case int:
		return int64(typed)
	case int64:
		return typed
	case float64:
		return int64(typed)
	case json.Number:
		if parsed, err := typed.Int64(); err == nil {
			return parsed
		}
		if parsed, err := typed.Float64(); err == nil {
			return int64(parsed)
		}
	case string:
		if parsed, err := strconv.ParseInt(strings.TrimSpace(typed), 10, 64); err == nil {
			return parsed
		}
	}
	return 0
}

func parseDecimal(value json.Number) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(value.String())
	if trimmed == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(trimmed)
}

func normalizeTokenType(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "bearer"
	}
	return normalized
}

func normalizeScopes(input []string) []string {
	if len(input) == 0 {
		return []string{}
	}
	values := make([]string, 0, len(input))
	seen := map[string]struct{}{}
	for _, value := range input {
		normalized := strings.TrimSpace(strings.ToLower(value))
		if normalized == "" {
			continue
		}
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		values = append(values, normalized)
	}
	return values
}

var _ core.AggregatorClient = (*Client)(nil)
