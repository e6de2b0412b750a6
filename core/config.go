package core

import (
	"fmt"
	"strings"
	"time"
)

type OAuthConfig struct {
	ClientID     string   `koanf:"client_id" mapstructure:"client_id"`
	ClientSecret string   `koanf:"client_secret" mapstructure:"client_secret"`
	RedirectURI  string   `koanf:"redirect_uri" mapstructure:"redirect_uri"`
	Scopes       []string `koanf:"scopes" mapstructure:"scopes"`
	StateTTL     string   `koanf:"state_ttl" mapstructure:"state_ttl"`
}

type VaultConfig struct {
	// Key is the 256-bit at-rest encryption key, raw, hex, or base64 encoded.
	Key string `koanf:"key" mapstructure:"key"`
}

type SyncConfig struct {
	Workers     int    `koanf:"workers" mapstructure:"workers"`
	Timeout     string `koanf:"timeout" mapstructure:"timeout"`
	WindowYears int    `koanf:"window_years" mapstructure:"window_years"`
	Interval    string `koanf:"interval" mapstructure:"interval"`
}

type Config struct {
	ServiceName string      `koanf:"service_name" mapstructure:"service_name"`
	Sandbox     bool        `koanf:"sandbox" mapstructure:"sandbox"`
	OAuth       OAuthConfig `koanf:"oauth" mapstructure:"oauth"`
	Vault       VaultConfig `koanf:"vault" mapstructure:"vault"`
	Sync        SyncConfig  `koanf:"sync" mapstructure:"sync"`
	RefreshSkew string      `koanf:"refresh_skew" mapstructure:"refresh_skew"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "banklink",
		Sandbox:     true,
		OAuth: OAuthConfig{
			Scopes:   []string{"info", "accounts", "balance", "transactions", "offline_access"},
			StateTTL: "15m",
		},
		Sync: SyncConfig{
			Workers:     4,
			Timeout:     "60s",
			WindowYears: 2,
			Interval:    "6h",
		},
		RefreshSkew: "5m",
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	for name, raw := range map[string]string{
		"oauth.state_ttl": c.OAuth.StateTTL,
		"sync.timeout":    c.Sync.Timeout,
		"sync.interval":   c.Sync.Interval,
		"refresh_skew":    c.RefreshSkew,
	} {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		if _, err := time.ParseDuration(raw); err != nil {
			return fmt.Errorf("core: %s is not a valid duration: %w", name, err)
		}
	}
	if c.Sync.Workers < 0 {
		return fmt.Errorf("core: sync.workers must not be negative")
	}
	if c.Sync.WindowYears < 0 {
		return fmt.Errorf("core: sync.window_years must not be negative")
	}
	return nil
}

// ValidateSecrets enforces the fail-fast contract for deployable builds:
// missing OAuth or vault secrets abort startup instead of degrading.
func (c Config) ValidateSecrets() error {
	if strings.TrimSpace(c.OAuth.ClientID) == "" {
		return fmt.Errorf("core: oauth.client_id is required")
	}
	if strings.TrimSpace(c.OAuth.ClientSecret) == "" {
		return fmt.Errorf("core: oauth.client_secret is required")
	}
	if strings.TrimSpace(c.OAuth.RedirectURI) == "" {
		return fmt.Errorf("core: oauth.redirect_uri is required")
	}
	if strings.TrimSpace(c.Vault.Key) == "" {
		return fmt.Errorf("core: vault.key is required")
	}
	return nil
}

func (c Config) StateTTL() time.Duration {
	return parseDurationOr(c.OAuth.StateTTL, DefaultOAuthStateTTL)
}

func (c Config) RefreshSkewDuration() time.Duration {
	return parseDurationOr(c.RefreshSkew, DefaultRefreshSkew)
}

func (c Config) SyncTimeout() time.Duration {
	return parseDurationOr(c.Sync.Timeout, 60*time.Second)
}

func (c Config) SyncInterval() time.Duration {
	return parseDurationOr(c.Sync.Interval, 6*time.Hour)
}

func parseDurationOr(raw string, fallback time.Duration) time.Duration {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
