package query

import (
	"context"

	"github.com/goliatone/go-banklink/core"
)

type StatusReader interface {
	Status(ctx context.Context, userID string, provider string) (core.StatusResponse, error)
}

type ConnectionReader interface {
	ListActive(ctx context.Context) ([]core.BankConnection, error)
}

type AccountReader interface {
	ListByConnection(ctx context.Context, userID string, provider string) ([]core.BankAccount, error)
}

type ProviderLister interface {
	List() []string
}

type GetStatusQuery struct {
	reader StatusReader
}

func NewGetStatusQuery(reader StatusReader) *GetStatusQuery {
	return &GetStatusQuery{reader: reader}
}

func (q *GetStatusQuery) Query(ctx context.Context, msg GetStatusMessage) (core.StatusResponse, error) {
	if q == nil || q.reader == nil {
		return core.StatusResponse{}, queryDependencyError("query: status reader is required")
	}
	return q.reader.Status(ctx, msg.UserID, msg.Provider)
}

// ListActiveConnectionsQuery backs the scheduler and admin surfaces that need
// every connection still eligible for background sync.
type ListActiveConnectionsQuery struct {
	reader ConnectionReader
}

func NewListActiveConnectionsQuery(reader ConnectionReader) *ListActiveConnectionsQuery {
	return &ListActiveConnectionsQuery{reader: reader}
}

func (q *ListActiveConnectionsQuery) Query(ctx context.Context, _ ListActiveConnectionsMessage) ([]core.BankConnection, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: connection reader is required")
	}
	return q.reader.ListActive(ctx)
}

type ListAccountsQuery struct {
	reader AccountReader
}

func NewListAccountsQuery(reader AccountReader) *ListAccountsQuery {
	return &ListAccountsQuery{reader: reader}
}

func (q *ListAccountsQuery) Query(ctx context.Context, msg ListAccountsMessage) ([]core.BankAccount, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: account reader is required")
	}
	return q.reader.ListByConnection(ctx, msg.UserID, msg.Provider)
}

type ListProvidersQuery struct {
	registry ProviderLister
}

func NewListProvidersQuery(registry ProviderLister) *ListProvidersQuery {
	return &ListProvidersQuery{registry: registry}
}

func (q *ListProvidersQuery) Query(_ context.Context, _ ListProvidersMessage) ([]string, error) {
	if q == nil || q.registry == nil {
		return nil, queryDependencyError("query: provider registry is required")
	}
	return q.registry.List(), nil
}
