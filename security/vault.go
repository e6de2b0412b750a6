package security

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/goliatone/go-banklink/core"
)

const vaultKeySize = 32

type Option func(*Vault)

// Vault encrypts refresh tokens at rest with AES-256-GCM. Output is kept as
// separate ciphertext, nonce, and tag columns so tampering with any part
// fails authentication on decrypt.
type Vault struct {
	key []byte
}

// NewVault builds a vault from key material. The key must decode to exactly
// 32 bytes; raw, hex, and base64 encodings are accepted. Anything else is a
// configuration error, never silently truncated or stretched.
func NewVault(keyMaterial []byte, opts ...Option) (*Vault, error) {
	material := bytes.TrimSpace(keyMaterial)
	if len(material) == 0 {
		return nil, fmt.Errorf("security: key material is required")
	}
	key, err := decodeKey(material)
	if err != nil {
		return nil, err
	}
	vault := &Vault{key: key}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(vault)
	}
	return vault, nil
}

func NewVaultFromString(key string, opts ...Option) (*Vault, error) {
	return NewVault([]byte(key), opts...)
}

func (v *Vault) Encrypt(_ context.Context, plaintext []byte) (core.EncryptedSecret, error) {
	if v == nil {
		return core.EncryptedSecret{}, fmt.Errorf("security: vault is nil")
	}
	gcm, err := v.cipher()
	if err != nil {
		return core.EncryptedSecret{}, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return core.EncryptedSecret{}, fmt.Errorf("security: nonce generation failed: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	tagOffset := len(sealed) - gcm.Overhead()
	return core.EncryptedSecret{
		Ciphertext: append([]byte(nil), sealed[:tagOffset]...),
		Nonce:      nonce,
		AuthTag:    append([]byte(nil), sealed[tagOffset:]...),
	}, nil
}

func (v *Vault) Decrypt(_ context.Context, secret core.EncryptedSecret) ([]byte, error) {
	if v == nil {
		return nil, fmt.Errorf("security: vault is nil")
	}
	gcm, err := v.cipher()
	if err != nil {
		return nil, err
	}
	if len(secret.Nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("security: nonce must be %d bytes, got %d", gcm.NonceSize(), len(secret.Nonce))
	}
	if len(secret.AuthTag) != gcm.Overhead() {
		return nil, fmt.Errorf("security: auth tag must be %d bytes, got %d", gcm.Overhead(), len(secret.AuthTag))
	}

	sealed := make([]byte, 0, len(secret.Ciphertext)+len(secret.AuthTag))
	sealed = append(sealed, secret.Ciphertext...)
	sealed = append(sealed, secret.AuthTag...)

	plaintext, err := gcm.Open(nil, secret.Nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrCipherAuthFailed, err)
	}
	return plaintext, nil
}

func (v *Vault) cipher() (cipher.AEAD, error) {
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return nil, fmt.Errorf("security: create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("security: create gcm: %w", err)
	}
	return gcm, nil
}

func decodeKey(material []byte) ([]byte, error) {
	if len(material) == vaultKeySize {
		key := make([]byte, vaultKeySize)
		copy(key, material)
		return key, nil
	}
	if decoded, err := hex.DecodeString(string(material)); err == nil && len(decoded) == vaultKeySize {
		return decoded, nil
	}
	if decoded, err := base64.StdEncoding.DecodeString(string(material)); err == nil && len(decoded) == vaultKeySize {
		return decoded, nil
	}
	if decoded, err := base64.RawStdEncoding.DecodeString(string(material)); err == nil && len(decoded) == vaultKeySize {
		return decoded, nil
	}
	return nil, fmt.Errorf("security: encryption key must decode to exactly %d bytes", vaultKeySize)
}

var _ core.SecretVault = (*Vault)(nil)
