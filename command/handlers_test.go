package command

import (
	"context"
	"testing"
	"time"

	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-banklink/core"
)

type stubMutatingService struct {
	connectFn          func(ctx context.Context, req core.ConnectRequest) (core.ConnectResponse, error)
	completeCallbackFn func(ctx context.Context, req core.CallbackRequest) (core.CallbackResult, error)
	disconnectFn       func(ctx context.Context, userID string, provider string) error
	enqueueSyncFn      func(ctx context.Context, userID string, provider string) error
}

func (s stubMutatingService) Connect(ctx context.Context, req core.ConnectRequest) (core.ConnectResponse, error) {
	return s.connectFn(ctx, req)
}

func (s stubMutatingService) CompleteCallback(ctx context.Context, req core.CallbackRequest) (core.CallbackResult, error) {
	return s.completeCallbackFn(ctx, req)
}

func (s stubMutatingService) Disconnect(ctx context.Context, userID string, provider string) error {
	return s.disconnectFn(ctx, userID, provider)
}

func (s stubMutatingService) EnqueueSync(ctx context.Context, userID string, provider string) error {
	return s.enqueueSyncFn(ctx, userID, provider)
}

type stubSyncService struct {
	syncFn func(ctx context.Context, userID string, provider string, from time.Time, to time.Time) (core.SyncSummary, error)
}

func (s stubSyncService) SyncConnection(ctx context.Context, userID string, provider string, from time.Time, to time.Time) (core.SyncSummary, error) {
	return s.syncFn(ctx, userID, provider, from, to)
}

func TestConnectCommand_ExecuteDelegatesAndStoresResult(t *testing.T) {
	expected := core.ConnectResponse{URL: "https://auth.truelayer.com/?state=st", State: "st"}
	called := false

	svc := stubMutatingService{
		connectFn: func(_ context.Context, req core.ConnectRequest) (core.ConnectResponse, error) {
			called = true
			if req.Provider != "truelayer" {
				t.Fatalf("expected provider truelayer, got %q", req.Provider)
			}
			return expected, nil
		},
	}

	cmd := NewConnectCommand(svc)
	collector := gocmd.NewResult[core.ConnectResponse]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)

	err := cmd.Execute(ctx, ConnectMessage{Request: core.ConnectRequest{
		UserID:   "user-1",
		Provider: "truelayer",
	}})
	if err != nil {
		t.Fatalf("execute connect: %v", err)
	}
	if !called {
		t.Fatalf("expected connect service invocation")
	}
	result, ok := collector.Load()
	if !ok {
		t.Fatalf("expected result to be stored")
	}
	if result.URL != expected.URL || result.State != expected.State {
		t.Fatalf("unexpected result: %#v", result)
	}
}

func TestCompleteCallbackCommand_StoresCallbackResult(t *testing.T) {
	expected := core.CallbackResult{
		UserID: "user-1",
		Connection: core.BankConnection{
			UserID:   "user-1",
			Provider: "truelayer",
			Status:   core.ConnectionStatusActive,
		},
	}

	svc := stubMutatingService{
		completeCallbackFn: func(_ context.Context, req core.CallbackRequest) (core.CallbackResult, error) {
			if req.Code != "auth-code" || req.State != "st" {
				t.Fatalf("unexpected callback payload: %#v", req)
			}
			return expected, nil
		},
	}

	cmd := NewCompleteCallbackCommand(svc)
	collector := gocmd.NewResult[core.CallbackResult]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)

	err := cmd.Execute(ctx, CompleteCallbackMessage{Request: core.CallbackRequest{
		Provider: "truelayer",
		Code:     "auth-code",
		State:    "st",
	}})
	if err != nil {
		t.Fatalf("execute callback: %v", err)
	}
	stored, ok := collector.Load()
	if !ok {
		t.Fatalf("expected callback result")
	}
	if stored.Connection.Provider != "truelayer" {
		t.Fatalf("unexpected callback result: %#v", stored)
	}
}

func TestSyncCommand_StoresSummary(t *testing.T) {
	expected := core.SyncSummary{Accounts: 2, Inserted: 7, Skipped: 1}

	svc := stubSyncService{
		syncFn: func(_ context.Context, userID string, provider string, _ time.Time, _ time.Time) (core.SyncSummary, error) {
			if userID != "user-1" || provider != "truelayer" {
				t.Fatalf("unexpected sync target: %q %q", userID, provider)
			}
			return expected, nil
		},
	}

	cmd := NewSyncCommand(svc)
	collector := gocmd.NewResult[core.SyncSummary]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)

	if err := cmd.Execute(ctx, SyncMessage{UserID: "user-1", Provider: "truelayer"}); err != nil {
		t.Fatalf("execute sync: %v", err)
	}
	stored, ok := collector.Load()
	if !ok {
		t.Fatalf("expected sync summary")
	}
	if stored.Inserted != 7 {
		t.Fatalf("unexpected summary: %#v", stored)
	}
}

func TestMutationCommands_DelegateToService(t *testing.T) {
	t.Run("disconnect", func(t *testing.T) {
		called := false
		svc := stubMutatingService{
			disconnectFn: func(_ context.Context, userID string, provider string) error {
				called = true
				if userID != "user-1" || provider != "truelayer" {
					t.Fatalf("unexpected disconnect payload: %q %q", userID, provider)
				}
				return nil
			},
		}
		cmd := NewDisconnectCommand(svc)
		if err := cmd.Execute(context.Background(), DisconnectMessage{UserID: "user-1", Provider: "truelayer"}); err != nil {
			t.Fatalf("execute disconnect: %v", err)
		}
		if !called {
			t.Fatalf("expected disconnect invocation")
		}
	})

	t.Run("enqueue sync", func(t *testing.T) {
		called := false
		svc := stubMutatingService{
			enqueueSyncFn: func(_ context.Context, userID string, provider string) error {
				called = true
				if userID != "user-1" || provider != "truelayer" {
					t.Fatalf("unexpected enqueue payload: %q %q", userID, provider)
				}
				return nil
			},
		}
		cmd := NewEnqueueSyncCommand(svc)
		if err := cmd.Execute(context.Background(), EnqueueSyncMessage{UserID: "user-1", Provider: "truelayer"}); err != nil {
			t.Fatalf("execute enqueue sync: %v", err)
		}
		if !called {
			t.Fatalf("expected enqueue sync invocation")
		}
	})
}

func TestMessageValidation(t *testing.T) {
	if err := (ConnectMessage{Request: core.ConnectRequest{Provider: "truelayer"}}).Validate(); err == nil {
		t.Fatalf("expected missing user id error")
	}
	if err := (CompleteCallbackMessage{Request: core.CallbackRequest{Provider: "truelayer", Code: "c"}}).Validate(); err == nil {
		t.Fatalf("expected missing state error")
	}
	if err := (SyncMessage{UserID: "user-1"}).Validate(); err == nil {
		t.Fatalf("expected missing provider error")
	}
	if err := (DisconnectMessage{UserID: "user-1", Provider: "truelayer"}).Validate(); err != nil {
		t.Fatalf("expected valid disconnect message, got %v", err)
	}
}
