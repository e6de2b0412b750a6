package banklink

import (
	"strings"
	"testing"
)

func TestTrueLayerClient_FromConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OAuth.ClientID = "client-id"
	cfg.OAuth.ClientSecret = "client-secret"
	cfg.OAuth.RedirectURI = "https://app.example.com/banks/truelayer/callback"

	client, err := TrueLayerClient(cfg)
	if err != nil {
		t.Fatalf("truelayer client: %v", err)
	}
	if client.Provider() != "truelayer" {
		t.Fatalf("unexpected provider %q", client.Provider())
	}
	url := client.AuthorizeURL("state-1")
	if !strings.Contains(url, "truelayer-sandbox.com") {
		t.Fatalf("expected sandbox endpoint for sandbox config, got %q", url)
	}
	if !strings.Contains(url, "state=state-1") {
		t.Fatalf("expected state in authorize url, got %q", url)
	}
}

func TestAggregatorClientFor_RequiresCredentials(t *testing.T) {
	if _, err := AggregatorClientFor("truelayer", DefaultConfig()); err == nil {
		t.Fatal("expected missing credentials error")
	}
}

func TestSandboxBankClient(t *testing.T) {
	client := SandboxBankClient("truelayer")
	if client.Provider() != "truelayer" {
		t.Fatalf("unexpected provider %q", client.Provider())
	}
}
