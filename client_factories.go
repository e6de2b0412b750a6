package banklink

import (
	"github.com/goliatone/go-banklink/aggregator"
	"github.com/goliatone/go-banklink/core"
)

// TrueLayerClient builds the TrueLayer aggregator client from service
// configuration, honoring the sandbox flag for endpoint selection.
func TrueLayerClient(cfg Config) (core.AggregatorClient, error) {
	return AggregatorClientFor("truelayer", cfg)
}

// AggregatorClientFor builds an OAuth2 aggregator client for any
// TrueLayer-compatible provider using the shared OAuth credentials.
func AggregatorClientFor(provider string, cfg Config) (core.AggregatorClient, error) {
	return aggregator.NewClient(aggregator.Config{
		Provider:     provider,
		ClientID:     cfg.OAuth.ClientID,
		ClientSecret: cfg.OAuth.ClientSecret,
		RedirectURI:  cfg.OAuth.RedirectURI,
		Scopes:       cfg.OAuth.Scopes,
		Sandbox:      cfg.Sandbox,
	})
}

// SandboxBankClient builds the in-memory aggregator used by tests and local
// development environments.
func SandboxBankClient(provider string, opts ...aggregator.SandboxOption) core.AggregatorClient {
	return aggregator.NewSandboxClient(provider, opts...)
}
