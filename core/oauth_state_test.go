package core

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryOAuthStateStore_ConsumeIsSingleUse(t *testing.T) {
	store := NewMemoryOAuthStateStore(time.Minute)
	ctx := context.Background()

	record := OAuthStateRecord{
		State:    "state-1",
		UserID:   "user-1",
		Provider: "truelayer",
	}
	if err := store.Save(ctx, record); err != nil {
		t.Fatalf("save state: %v", err)
	}

	got, err := store.Consume(ctx, "state-1")
	if err != nil {
		t.Fatalf("consume state: %v", err)
	}
	if got.UserID != "user-1" || got.Provider != "truelayer" {
		t.Fatalf("unexpected record: %#v", got)
	}

	if _, err := store.Consume(ctx, "state-1"); !errors.Is(err, ErrStateNotFound) {
		t.Fatalf("expected ErrStateNotFound on replay, got %v", err)
	}
}

func TestMemoryOAuthStateStore_ExpiredConsumeDeletesFirst(t *testing.T) {
	store := NewMemoryOAuthStateStore(time.Minute)
	ctx := context.Background()

	now := time.Now().UTC()
	if err := store.Save(ctx, OAuthStateRecord{
		State:     "stale",
		UserID:    "user-1",
		IssuedAt:  now.Add(-2 * time.Minute),
		ExpiresAt: now.Add(-time.Minute),
	}); err != nil {
		t.Fatalf("save stale state: %v", err)
	}

	if _, err := store.Consume(ctx, "stale"); !errors.Is(err, ErrStateExpired) {
		t.Fatalf("expected ErrStateExpired, got %v", err)
	}
	// Even a failed validation burns the entry.
	if _, err := store.Consume(ctx, "stale"); !errors.Is(err, ErrStateNotFound) {
		t.Fatalf("expected ErrStateNotFound after expired consume, got %v", err)
	}
}

func TestMemoryOAuthStateStore_SaveSweepsExpiredEntries(t *testing.T) {
	store := NewMemoryOAuthStateStore(time.Minute)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := store.Save(ctx, OAuthStateRecord{
		State:     "stale",
		ExpiresAt: now.Add(-time.Second),
	}); err != nil {
		t.Fatalf("save stale state: %v", err)
	}
	if err := store.Save(ctx, OAuthStateRecord{State: "fresh"}); err != nil {
		t.Fatalf("save fresh state: %v", err)
	}

	if _, err := store.Consume(ctx, "stale"); !errors.Is(err, ErrStateNotFound) {
		t.Fatalf("expected stale entry swept on save, got %v", err)
	}
	if _, err := store.Consume(ctx, "fresh"); err != nil {
		t.Fatalf("expected fresh entry to survive sweep: %v", err)
	}
}

func TestStateBroker_IssueGeneratesUniqueOpaqueStates(t *testing.T) {
	broker := NewStateBroker(NewMemoryOAuthStateStore(time.Minute), time.Minute)
	ctx := context.Background()

	seen := map[string]bool{}
	for i := 0; i < 16; i++ {
		state, err := broker.Issue(ctx, "user-1", "truelayer")
		if err != nil {
			t.Fatalf("issue state: %v", err)
		}
		if len(state) < 32 {
			t.Fatalf("expected high-entropy state, got %q", state)
		}
		if seen[state] {
			t.Fatalf("expected unique states, got duplicate %q", state)
		}
		seen[state] = true
	}
}

func TestStateBroker_IssueRequiresUser(t *testing.T) {
	broker := NewStateBroker(NewMemoryOAuthStateStore(time.Minute), time.Minute)
	if _, err := broker.Issue(context.Background(), "  ", "truelayer"); err == nil {
		t.Fatal("expected error for missing user id")
	}
}

func TestStateBroker_ValidateReturnsIssuingRecord(t *testing.T) {
	broker := NewStateBroker(NewMemoryOAuthStateStore(time.Minute), time.Minute)
	ctx := context.Background()

	state, err := broker.Issue(ctx, "user-1", "TrueLayer")
	if err != nil {
		t.Fatalf("issue state: %v", err)
	}
	record, err := broker.Validate(ctx, state)
	if err != nil {
		t.Fatalf("validate state: %v", err)
	}
	if record.UserID != "user-1" {
		t.Fatalf("expected issuing user, got %q", record.UserID)
	}
	if _, err := broker.Validate(ctx, state); !errors.Is(err, ErrStateNotFound) {
		t.Fatalf("expected second validate to fail, got %v", err)
	}
}
