package command

import (
	"strings"

	"github.com/goliatone/go-banklink/core"
)

const (
	TypeConnect          = "banklink.command.connect"
	TypeCompleteCallback = "banklink.command.callback.complete"
	TypeSync             = "banklink.command.sync"
	TypeEnqueueSync      = "banklink.command.sync.enqueue"
	TypeDisconnect       = "banklink.command.disconnect"
)

type ConnectMessage struct {
	Request core.ConnectRequest
}

func (ConnectMessage) Type() string { return TypeConnect }

func (m ConnectMessage) Validate() error {
	if strings.TrimSpace(m.Request.UserID) == "" {
		return commandInvalidInputError("command: user id is required")
	}
	if strings.TrimSpace(m.Request.Provider) == "" {
		return commandInvalidInputError("command: provider is required")
	}
	return nil
}

type CompleteCallbackMessage struct {
	Request core.CallbackRequest
}

func (CompleteCallbackMessage) Type() string { return TypeCompleteCallback }

func (m CompleteCallbackMessage) Validate() error {
	if strings.TrimSpace(m.Request.Provider) == "" {
		return commandInvalidInputError("command: provider is required")
	}
	if strings.TrimSpace(m.Request.Code) == "" {
		return commandInvalidInputError("command: authorization code is required")
	}
	if strings.TrimSpace(m.Request.State) == "" {
		return commandInvalidInputError("command: state is required")
	}
	return nil
}

type SyncMessage struct {
	UserID   string
	Provider string
}

func (SyncMessage) Type() string { return TypeSync }

func (m SyncMessage) Validate() error {
	if strings.TrimSpace(m.UserID) == "" {
		return commandInvalidInputError("command: user id is required")
	}
	if strings.TrimSpace(m.Provider) == "" {
		return commandInvalidInputError("command: provider is required")
	}
	return nil
}

type EnqueueSyncMessage struct {
	UserID   string
	Provider string
}

func (EnqueueSyncMessage) Type() string { return TypeEnqueueSync }

func (m EnqueueSyncMessage) Validate() error {
	if strings.TrimSpace(m.UserID) == "" {
		return commandInvalidInputError("command: user id is required")
	}
	if strings.TrimSpace(m.Provider) == "" {
		return commandInvalidInputError("command: provider is required")
	}
	return nil
}

type DisconnectMessage struct {
	UserID   string
	Provider string
}

func (DisconnectMessage) Type() string { return TypeDisconnect }

func (m DisconnectMessage) Validate() error {
	if strings.TrimSpace(m.UserID) == "" {
		return commandInvalidInputError("command: user id is required")
	}
	if strings.TrimSpace(m.Provider) == "" {
		return commandInvalidInputError("command: provider is required")
	}
	return nil
}
