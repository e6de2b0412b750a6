package query

import "strings"

const (
	TypeGetStatus             = "banklink.query.status.get"
	TypeListActiveConnections = "banklink.query.connections.list_active"
	TypeListAccounts          = "banklink.query.accounts.list"
	TypeListProviders         = "banklink.query.providers.list"
)

type GetStatusMessage struct {
	UserID   string
	Provider string
}

func (GetStatusMessage) Type() string { return TypeGetStatus }

func (m GetStatusMessage) Validate() error {
	if strings.TrimSpace(m.UserID) == "" {
		return queryInvalidInputError("query: user id is required")
	}
	if strings.TrimSpace(m.Provider) == "" {
		return queryInvalidInputError("query: provider is required")
	}
	return nil
}

type ListActiveConnectionsMessage struct{}

func (ListActiveConnectionsMessage) Type() string { return TypeListActiveConnections }

func (ListActiveConnectionsMessage) Validate() error { return nil }

type ListAccountsMessage struct {
	UserID   string
	Provider string
}

func (ListAccountsMessage) Type() string { return TypeListAccounts }

func (m ListAccountsMessage) Validate() error {
	if strings.TrimSpace(m.UserID) == "" {
		return queryInvalidInputError("query: user id is required")
	}
	if strings.TrimSpace(m.Provider) == "" {
		return queryInvalidInputError("query: provider is required")
	}
	return nil
}

type ListProvidersMessage struct{}

func (ListProvidersMessage) Type() string { return TypeListProviders }

func (ListProvidersMessage) Validate() error { return nil }
