package query

import (
	"context"
	"testing"
	"time"

	"github.com/goliatone/go-banklink/core"
)

type stubStatusReader struct {
	lastUser     string
	lastProvider string
	response     core.StatusResponse
	err          error
}

func (s *stubStatusReader) Status(_ context.Context, userID string, provider string) (core.StatusResponse, error) {
	s.lastUser = userID
	s.lastProvider = provider
	return s.response, s.err
}

type stubConnectionReader struct {
	connections []core.BankConnection
}

func (s *stubConnectionReader) ListActive(context.Context) ([]core.BankConnection, error) {
	return s.connections, nil
}

type stubAccountReader struct {
	lastUser string
	accounts []core.BankAccount
}

func (s *stubAccountReader) ListByConnection(_ context.Context, userID string, _ string) ([]core.BankAccount, error) {
	s.lastUser = userID
	return s.accounts, nil
}

type stubProviderLister struct {
	providers []string
}

func (s *stubProviderLister) List() []string { return s.providers }

func TestGetStatusQuery_Delegates(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	reader := &stubStatusReader{response: core.StatusResponse{
		Connected:   true,
		Status:      core.ConnectionStatusActive,
		ConnectedAt: &now,
	}}
	q := NewGetStatusQuery(reader)

	status, err := q.Query(context.Background(), GetStatusMessage{
		UserID:   "user-1",
		Provider: "truelayer",
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if !status.Connected || status.Status != core.ConnectionStatusActive {
		t.Fatalf("unexpected status %#v", status)
	}
	if reader.lastUser != "user-1" || reader.lastProvider != "truelayer" {
		t.Fatal("expected delegation to the reader")
	}
}

func TestListActiveConnectionsQuery(t *testing.T) {
	reader := &stubConnectionReader{connections: []core.BankConnection{
		{UserID: "user-1", Provider: "truelayer"},
		{UserID: "user-2", Provider: "truelayer"},
	}}
	q := NewListActiveConnectionsQuery(reader)

	listed, err := q.Query(context.Background(), ListActiveConnectionsMessage{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("expected 2 connections, got %d", len(listed))
	}
}

func TestListAccountsQuery(t *testing.T) {
	reader := &stubAccountReader{accounts: []core.BankAccount{
		{ProviderAccountID: "acct-1"},
	}}
	q := NewListAccountsQuery(reader)

	accounts, err := q.Query(context.Background(), ListAccountsMessage{
		UserID:   "user-1",
		Provider: "truelayer",
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(accounts) != 1 || accounts[0].ProviderAccountID != "acct-1" {
		t.Fatalf("unexpected accounts %#v", accounts)
	}
	if reader.lastUser != "user-1" {
		t.Fatal("expected delegation to the reader")
	}
}

func TestListProvidersQuery(t *testing.T) {
	q := NewListProvidersQuery(&stubProviderLister{providers: []string{"monzo", "truelayer"}})
	providers, err := q.Query(context.Background(), ListProvidersMessage{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(providers) != 2 || providers[1] != "truelayer" {
		t.Fatalf("unexpected providers %v", providers)
	}
}

func TestQueries_RequireReaders(t *testing.T) {
	if _, err := (&GetStatusQuery{}).Query(context.Background(), GetStatusMessage{}); err == nil {
		t.Fatal("expected missing status reader error")
	}
	if _, err := (&ListAccountsQuery{}).Query(context.Background(), ListAccountsMessage{}); err == nil {
		t.Fatal("expected missing account reader error")
	}
	var nilQuery *ListProvidersQuery
	if _, err := nilQuery.Query(context.Background(), ListProvidersMessage{}); err == nil {
		t.Fatal("expected nil query error")
	}
}

func TestMessageValidation(t *testing.T) {
	if err := (GetStatusMessage{Provider: "truelayer"}).Validate(); err == nil {
		t.Fatal("expected missing user id error")
	}
	if err := (GetStatusMessage{UserID: "user-1"}).Validate(); err == nil {
		t.Fatal("expected missing provider error")
	}
	if err := (ListAccountsMessage{UserID: "user-1", Provider: "truelayer"}).Validate(); err != nil {
		t.Fatalf("expected valid message, got %v", err)
	}
	if err := (ListActiveConnectionsMessage{}).Validate(); err != nil {
		t.Fatalf("expected parameterless message to validate, got %v", err)
	}
}
