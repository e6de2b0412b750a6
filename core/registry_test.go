package core

import "testing"

func TestClientRegistry_RegisterAndGet(t *testing.T) {
	registry := NewClientRegistry()
	client := &fakeAggregatorClient{provider: "TrueLayer"}

	if err := registry.Register(client); err != nil {
		t.Fatalf("register: %v", err)
	}

	// Lookups are case-insensitive on the provider id.
	for _, id := range []string{"truelayer", "TRUELAYER", " TrueLayer "} {
		if _, ok := registry.Get(id); !ok {
			t.Fatalf("expected lookup %q to resolve", id)
		}
	}
	if _, ok := registry.Get("plaid"); ok {
		t.Fatal("expected unknown provider to miss")
	}
}

func TestClientRegistry_RejectsDuplicatesAndNil(t *testing.T) {
	registry := NewClientRegistry()
	if err := registry.Register(nil); err == nil {
		t.Fatal("expected error for nil client")
	}
	if err := registry.Register(&fakeAggregatorClient{provider: "truelayer"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := registry.Register(&fakeAggregatorClient{provider: "TrueLayer"}); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
}

func TestClientRegistry_ListDeterministicOrder(t *testing.T) {
	registry := NewClientRegistry()
	for _, provider := range []string{"zeta", "alpha", "beta"} {
		if err := registry.Register(&fakeAggregatorClient{provider: provider}); err != nil {
			t.Fatalf("register %s: %v", provider, err)
		}
	}
	listed := registry.List()
	if len(listed) != 3 {
		t.Fatalf("expected 3 providers, got %d", len(listed))
	}
	if listed[0] != "alpha" || listed[1] != "beta" || listed[2] != "zeta" {
		t.Fatalf("expected sorted providers, got %v", listed)
	}
}
