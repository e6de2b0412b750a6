package security

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/goliatone/go-banklink/core"
)

type VaultFailurePolicy string

const (
	VaultFailurePolicyStrict   VaultFailurePolicy = "strict_fail"
	VaultFailurePolicyFallback VaultFailurePolicy = "fallback_allowed"
)

type VaultDiagnostic struct {
	OccurredAt time.Time
	Operation  string
	Policy     VaultFailurePolicy
	Outcome    string
	Primary    string
	Fallback   string
	Error      string
}

type VaultDiagnosticHook func(event VaultDiagnostic)

type FailoverOption func(*FailoverVault)

// FailoverVault chains two SecretVault implementations, typically a managed
// keyring in front of a static recovery key. Strict policy surfaces primary
// failures; fallback policy retries the secondary before giving up.
type FailoverVault struct {
	primary        core.SecretVault
	fallback       core.SecretVault
	policy         VaultFailurePolicy
	diagnosticHook VaultDiagnosticHook
	now            func() time.Time
}

func NewFailoverVault(primary core.SecretVault, opts ...FailoverOption) (*FailoverVault, error) {
	if primary == nil {
		return nil, fmt.Errorf("security: primary vault is required")
	}
	vault := &FailoverVault{
		primary: primary,
		policy:  VaultFailurePolicyStrict,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(vault)
	}
	vault.policy = normalizeFailurePolicy(vault.policy)
	if vault.policy == VaultFailurePolicyFallback && vault.fallback == nil {
		return nil, fmt.Errorf("security: fallback policy requires a configured fallback vault")
	}
	if vault.now == nil {
		vault.now = func() time.Time { return time.Now().UTC() }
	}
	return vault, nil
}

func WithFallbackVault(fallback core.SecretVault) FailoverOption {
	return func(v *FailoverVault) {
		if v == nil {
			return
		}
		v.fallback = fallback
	}
}

func WithVaultFailurePolicy(policy VaultFailurePolicy) FailoverOption {
	return func(v *FailoverVault) {
		if v == nil {
			return
		}
		v.policy = normalizeFailurePolicy(policy)
	}
}

func WithVaultDiagnostics(hook VaultDiagnosticHook) FailoverOption {
	return func(v *FailoverVault) {
		if v == nil {
			return
		}
		v.diagnosticHook = hook
	}
}

func WithFailoverClock(now func() time.Time) FailoverOption {
	return func(v *FailoverVault) {
		if v == nil {
			return
		}
		v.now = now
	}
}

func (v *FailoverVault) Encrypt(ctx context.Context, plaintext []byte) (core.EncryptedSecret, error) {
	if v == nil {
		return core.EncryptedSecret{}, fmt.Errorf("security: vault is nil")
	}
	if len(plaintext) == 0 {
		return core.EncryptedSecret{}, fmt.Errorf("security: plaintext is required")
	}
	secret, err := v.primary.Encrypt(ctx, plaintext)
	if err == nil {
		return secret, nil
	}
	v.emit("encrypt", "primary_failed", err)
	if v.policy == VaultFailurePolicyStrict || v.fallback == nil {
		return core.EncryptedSecret{}, fmt.Errorf("security: primary encrypt failed with %s policy: %w", v.policy, err)
	}
	fallbackSecret, fallbackErr := v.fallback.Encrypt(ctx, plaintext)
	if fallbackErr != nil {
		v.emit("encrypt", "fallback_failed", fallbackErr)
		return core.EncryptedSecret{}, fmt.Errorf("security: primary encrypt failed: %v; fallback encrypt failed: %w", err, fallbackErr)
	}
	v.emit("encrypt", "fallback_succeeded", err)
	return fallbackSecret, nil
}

func (v *FailoverVault) Decrypt(ctx context.Context, secret core.EncryptedSecret) ([]byte, error) {
	if v == nil {
		return nil, fmt.Errorf("security: vault is nil")
	}
	if secret.IsZero() {
		return nil, fmt.Errorf("security: ciphertext is required")
	}
	plaintext, err := v.primary.Decrypt(ctx, secret)
	if err == nil {
		return plaintext, nil
	}
	v.emit("decrypt", "primary_failed", err)
	if v.policy == VaultFailurePolicyStrict || v.fallback == nil {
		return nil, fmt.Errorf("security: primary decrypt failed with %s policy: %w", v.policy, err)
	}
	fallbackPlaintext, fallbackErr := v.fallback.Decrypt(ctx, secret)
	if fallbackErr != nil {
		v.emit("decrypt", "fallback_failed", fallbackErr)
		return nil, fmt.Errorf("security: primary decrypt failed: %v; fallback decrypt failed: %w", err, fallbackErr)
	}
	v.emit("decrypt", "fallback_succeeded", err)
	return fallbackPlaintext, nil
}

func (v *FailoverVault) emit(operation string, outcome string, err error) {
	if v == nil || v.diagnosticHook == nil {
		return
	}
	now := v.now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	v.diagnosticHook(VaultDiagnostic{
		OccurredAt: now().UTC(),
		Operation:  operation,
		Policy:     v.policy,
		Outcome:    outcome,
		Primary:    describeVault(v.primary),
		Fallback:   describeVault(v.fallback),
		Error:      msg,
	})
}

func normalizeFailurePolicy(policy VaultFailurePolicy) VaultFailurePolicy {
	normalized := VaultFailurePolicy(strings.ToLower(strings.TrimSpace(string(policy))))
	switch normalized {
	case VaultFailurePolicyFallback:
		return VaultFailurePolicyFallback
	default:
		return VaultFailurePolicyStrict
	}
}

func describeVault(vault core.SecretVault) string {
	if vault == nil {
		return ""
	}
	return reflect.TypeOf(vault).String()
}

var _ core.SecretVault = (*FailoverVault)(nil)
