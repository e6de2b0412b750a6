package security

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goliatone/go-banklink/core"
)

type KeyringOption func(*KeyringVault)

// KeyRotationWindow gates when a key version may encrypt or decrypt. Zero
// bounds leave that side of the window open.
type KeyRotationWindow struct {
	NotBefore time.Time
	NotAfter  time.Time
}

func (w KeyRotationWindow) Allows(at time.Time) bool {
	ts := at.UTC()
	if !w.NotBefore.IsZero() && ts.Before(w.NotBefore.UTC()) {
		return false
	}
	if !w.NotAfter.IsZero() && ts.After(w.NotAfter.UTC()) {
		return false
	}
	return true
}

type keyringEntry struct {
	version int
	vault   *Vault
	window  KeyRotationWindow
}

// KeyringVault is a SecretVault that supports key rotation. The active key
// version encrypts; decrypt walks every version still inside its rotation
// window, newest first, until one authenticates. Since GCM authenticates the
// ciphertext, a wrong key fails cleanly instead of producing garbage.
type KeyringVault struct {
	active  int
	entries []keyringEntry
	now     func() time.Time
}

// NewKeyringVault builds a rotating vault. The first key becomes the active
// encryption key; additional versions are added with WithDecryptKey.
func NewKeyringVault(activeVersion int, activeKey []byte, opts ...KeyringOption) (*KeyringVault, error) {
	if activeVersion <= 0 {
		return nil, fmt.Errorf("security: key version must be greater than zero")
	}
	vault, err := NewVault(activeKey)
	if err != nil {
		return nil, err
	}
	keyring := &KeyringVault{
		active:  activeVersion,
		entries: []keyringEntry{{version: activeVersion, vault: vault}},
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(keyring)
	}
	if keyring.now == nil {
		keyring.now = func() time.Time { return time.Now().UTC() }
	}
	return keyring, nil
}

// WithDecryptKey registers a retired key version that may still decrypt
// secrets written before the rotation.
func WithDecryptKey(version int, key []byte, window KeyRotationWindow) KeyringOption {
	return func(k *KeyringVault) {
		if k == nil || version <= 0 {
			return
		}
		vault, err := NewVault(key)
		if err != nil {
			return
		}
		k.entries = append(k.entries, keyringEntry{version: version, vault: vault, window: window})
	}
}

func WithActiveKeyWindow(window KeyRotationWindow) KeyringOption {
	return func(k *KeyringVault) {
		if k == nil || len(k.entries) == 0 {
			return
		}
		k.entries[0].window = window
	}
}

func WithKeyringClock(now func() time.Time) KeyringOption {
	return func(k *KeyringVault) {
		if k == nil {
			return
		}
		k.now = now
	}
}

func (k *KeyringVault) Encrypt(ctx context.Context, plaintext []byte) (core.EncryptedSecret, error) {
	if k == nil {
		return core.EncryptedSecret{}, fmt.Errorf("security: keyring vault is nil")
	}
	entry := k.entries[0]
	if !entry.window.Allows(k.now()) {
		return core.EncryptedSecret{}, fmt.Errorf("security: key version %d is outside its rotation window", entry.version)
	}
	return entry.vault.Encrypt(ctx, plaintext)
}

func (k *KeyringVault) Decrypt(ctx context.Context, secret core.EncryptedSecret) ([]byte, error) {
	if k == nil {
		return nil, fmt.Errorf("security: keyring vault is nil")
	}
	var lastErr error
	for _, entry := range k.entries {
		if !entry.window.Allows(k.now()) {
			continue
		}
		plaintext, err := entry.vault.Decrypt(ctx, secret)
		if err == nil {
			return plaintext, nil
		}
		lastErr = err
		if !errors.Is(err, core.ErrCipherAuthFailed) {
			return nil, err
		}
	}
	if lastErr == nil {
		return nil, fmt.Errorf("security: no key version is inside its rotation window")
	}
	return nil, lastErr
}

// ActiveVersion reports the key version currently used for encryption.
func (k *KeyringVault) ActiveVersion() int {
	if k == nil {
		return 0
	}
	return k.active
}

var _ core.SecretVault = (*KeyringVault)(nil)
