package query

import (
	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-banklink/core"
)

var (
	_ gocmd.Querier[GetStatusMessage, core.StatusResponse]               = (*GetStatusQuery)(nil)
	_ gocmd.Querier[ListActiveConnectionsMessage, []core.BankConnection] = (*ListActiveConnectionsQuery)(nil)
	_ gocmd.Querier[ListAccountsMessage, []core.BankAccount]             = (*ListAccountsQuery)(nil)
	_ gocmd.Querier[ListProvidersMessage, []string]                      = (*ListProvidersQuery)(nil)
)
