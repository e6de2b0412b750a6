package command

import (
	"context"
	"time"

	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-banklink/core"
)

type MutatingService interface {
	Connect(ctx context.Context, req core.ConnectRequest) (core.ConnectResponse, error)
	CompleteCallback(ctx context.Context, req core.CallbackRequest) (core.CallbackResult, error)
	Disconnect(ctx context.Context, userID string, provider string) error
	EnqueueSync(ctx context.Context, userID string, provider string) error
}

type SyncService interface {
	SyncConnection(ctx context.Context, userID string, provider string, from time.Time, to time.Time) (core.SyncSummary, error)
}

type ConnectCommand struct {
	service MutatingService
}

func NewConnectCommand(service MutatingService) *ConnectCommand {
	return &ConnectCommand{service: service}
}

func (c *ConnectCommand) Execute(ctx context.Context, msg ConnectMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: connect service is required")
	}
	out, err := c.service.Connect(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type CompleteCallbackCommand struct {
	service MutatingService
}

func NewCompleteCallbackCommand(service MutatingService) *CompleteCallbackCommand {
	return &CompleteCallbackCommand{service: service}
}

func (c *CompleteCallbackCommand) Execute(ctx context.Context, msg CompleteCallbackMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: callback service is required")
	}
	out, err := c.service.CompleteCallback(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

// SyncCommand runs one reconciliation inline and publishes the summary to the
// caller's result collector.
type SyncCommand struct {
	service SyncService
}

func NewSyncCommand(service SyncService) *SyncCommand {
	return &SyncCommand{service: service}
}

func (c *SyncCommand) Execute(ctx context.Context, msg SyncMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: sync service is required")
	}
	out, err := c.service.SyncConnection(ctx, msg.UserID, msg.Provider, time.Time{}, time.Time{})
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

// EnqueueSyncCommand defers the reconciliation to the background worker queue.
type EnqueueSyncCommand struct {
	service MutatingService
}

func NewEnqueueSyncCommand(service MutatingService) *EnqueueSyncCommand {
	return &EnqueueSyncCommand{service: service}
}

func (c *EnqueueSyncCommand) Execute(ctx context.Context, msg EnqueueSyncMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: enqueue sync service is required")
	}
	return c.service.EnqueueSync(ctx, msg.UserID, msg.Provider)
}

type DisconnectCommand struct {
	service MutatingService
}

func NewDisconnectCommand(service MutatingService) *DisconnectCommand {
	return &DisconnectCommand{service: service}
}

func (c *DisconnectCommand) Execute(ctx context.Context, msg DisconnectMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: disconnect service is required")
	}
	return c.service.Disconnect(ctx, msg.UserID, msg.Provider)
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
