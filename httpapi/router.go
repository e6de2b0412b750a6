package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/goliatone/go-banklink/adapters/gologger"
	"github.com/goliatone/go-banklink/core"
)

// BankService is the transport-facing slice of the core service.
type BankService interface {
	Connect(ctx context.Context, req core.ConnectRequest) (core.ConnectResponse, error)
	CompleteCallback(ctx context.Context, req core.CallbackRequest) (core.CallbackResult, error)
	Status(ctx context.Context, userID string, provider string) (core.StatusResponse, error)
	Disconnect(ctx context.Context, userID string, provider string) error
}

// SyncRunner runs one synchronous reconciliation for the sync endpoint.
type SyncRunner interface {
	SyncConnection(ctx context.Context, userID string, provider string, from time.Time, to time.Time) (core.SyncSummary, error)
}

type Config struct {
	// SuccessRedirect receives the browser after a completed callback.
	SuccessRedirect string
	// FailureRedirect receives the browser when the callback fails.
	FailureRedirect string
}

type Handler struct {
	service BankService
	syncer  SyncRunner
	logger  core.Logger
	cfg     Config
}

func NewHandler(service BankService, syncer SyncRunner, logger core.Logger, cfg Config) (*Handler, error) {
	if service == nil {
		return nil, fmt.Errorf("httpapi: bank service is required")
	}
	if syncer == nil {
		return nil, fmt.Errorf("httpapi: sync runner is required")
	}
	if logger == nil {
		_, logger = gologger.Resolve("http", nil, nil)
	}
	if strings.TrimSpace(cfg.SuccessRedirect) == "" {
		cfg.SuccessRedirect = "/"
	}
	if strings.TrimSpace(cfg.FailureRedirect) == "" {
		cfg.FailureRedirect = cfg.SuccessRedirect
	}
	return &Handler{
		service: service,
		syncer:  syncer,
		logger:  logger,
		cfg:     cfg,
	}, nil
}

// Routes mounts the bank-link endpoints on a chi router.
func (h *Handler) Routes() chi.Router {
	router := chi.NewRouter()
	router.Route("/banks/{provider}", func(r chi.Router) {
		r.Get("/connect", h.handleConnect)
		r.Get("/callback", h.handleCallback)
		r.Get("/status", h.handleStatus)
		r.Post("/sync", h.handleSync)
		r.Delete("/", h.handleDisconnect)
	})
	return router
}

func (h *Handler) handleConnect(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	response, err := h.service.Connect(r.Context(), core.ConnectRequest{
		UserID:   userID,
		Provider: provider,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"url": response.URL})
}

func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	query := r.URL.Query()

	result, err := h.service.CompleteCallback(r.Context(), core.CallbackRequest{
		Provider: provider,
		Code:     query.Get("code"),
		State:    query.Get("state"),
	})
	if err != nil {
		mapped := core.MapError(err)
		h.logger.Error("bank callback failed",
			"provider", provider,
			"text_code", mapped.TextCode,
			"error", err.Error(),
		)
		http.Redirect(w, r, redirectWith(h.cfg.FailureRedirect, url.Values{
			"provider": []string{provider},
			"error":    []string{mapped.TextCode},
		}), http.StatusFound)
		return
	}

	http.Redirect(w, r, redirectWith(h.cfg.SuccessRedirect, url.Values{
		"provider":  []string{result.Connection.Provider},
		"connected": []string{"true"},
	}), http.StatusFound)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	status, err := h.service.Status(r.Context(), userID, provider)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, statusPayload(status))
}

func (h *Handler) handleSync(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	from, to, err := parseSyncWindow(r)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": map[string]any{
				"text_code": core.BanklinkErrorBadInput,
				"message":   err.Error(),
			},
		})
		return
	}

	summary, err := h.syncer.SyncConnection(r.Context(), userID, provider, from, to)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, summaryPayload(summary))
}

// parseSyncWindow reads the optional {from, to} request body. An empty body
// leaves both bounds zero so the reconciler applies its default window.
func parseSyncWindow(r *http.Request) (time.Time, time.Time, error) {
	var window struct {
		From string `json:"from"`
		To   string `json:"to"`
	}
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&window); err != nil && !errors.Is(err, io.EOF) {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid sync window body")
		}
	}
	from, err := parseSyncTime(window.From)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid from date %q", window.From)
	}
	to, err := parseSyncTime(window.To)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid to date %q", window.To)
	}
	return from, to, nil
}

// parseSyncTime accepts RFC 3339 timestamps or plain yyyy-mm-dd days.
func parseSyncTime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	if parsed, err := time.Parse(time.RFC3339, value); err == nil {
		return parsed.UTC(), nil
	}
	return time.Parse("2006-01-02", value)
}

func (h *Handler) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	if err := h.service.Disconnect(r.Context(), userID, provider); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// requireUser resolves the caller identity from the X-User-ID header or the
// user_id query parameter. Authentication proper lives upstream of this
// router.
func (h *Handler) requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := strings.TrimSpace(r.Header.Get("X-User-ID"))
	if userID == "" {
		userID = strings.TrimSpace(r.URL.Query().Get("user_id"))
	}
	if userID == "" {
		h.writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": map[string]any{
				"text_code": core.BanklinkErrorBadInput,
				"message":   "user id is required",
			},
		})
		return "", false
	}
	return userID, true
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	mapped := core.MapError(err)
	h.logger.Error("bank request failed",
		"path", r.URL.Path,
		"text_code", mapped.TextCode,
		"error", err.Error(),
	)
	h.writeJSON(w, mapped.Code, map[string]any{
		"error": map[string]any{
			"text_code": mapped.TextCode,
			"message":   mapped.Message,
		},
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("response encoding failed", "error", err.Error())
	}
}

func statusPayload(status core.StatusResponse) map[string]any {
	payload := map[string]any{
		"connected": status.Connected,
		"status":    string(status.Status),
	}
	if status.ConnectedAt != nil {
		payload["connected_at"] = status.ConnectedAt.UTC().Format(time.RFC3339)
	}
	if status.TokenExpiresAt != nil {
		payload["token_expires_at"] = status.TokenExpiresAt.UTC().Format(time.RFC3339)
	}
	if status.LastSyncedAt != nil {
		payload["last_synced_at"] = status.LastSyncedAt.UTC().Format(time.RFC3339)
	}
	return payload
}

func summaryPayload(summary core.SyncSummary) map[string]any {
	failures := make([]map[string]any, 0, len(summary.Failures))
	for _, failure := range summary.Failures {
		failures = append(failures, map[string]any{
			"provider_account_id": failure.ProviderAccountID,
			"stage":               failure.Stage,
			"reason":              failure.Reason,
		})
	}
	return map[string]any{
		"accounts":  summary.Accounts,
		"inserted":  summary.Inserted,
		"skipped":   summary.Skipped,
		"from_date": summary.FromDate.UTC().Format(time.RFC3339),
		"to_date":   summary.ToDate.UTC().Format(time.RFC3339),
		"failures":  failures,
	}
}

func redirectWith(base string, values url.Values) string {
	if strings.Contains(base, "?") {
		return base + "&" + values.Encode()
	}
	return base + "?" + values.Encode()
}
