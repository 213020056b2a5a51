// Package secrets encrypts credential fields before they reach the store.
package secrets

import (
	"fmt"

	"github.com/fernet/fernet-go"

	"github.com/fairyhunter13/odoo-poller/internal/domain"
)

// Cipher wraps a single Fernet key. Tokens carry a random IV, so the same
// plaintext encrypts to a different ciphertext every call.
type Cipher struct {
	key *fernet.Key
}

// NewCipher decodes a base64 Fernet key as produced by GenerateKey.
func NewCipher(encodedKey string) (*Cipher, error) {
	key, err := fernet.DecodeKey(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("op=secrets.NewCipher: %w: %v", domain.ErrInvalidArgument, err)
	}
	return &Cipher{key: key}, nil
}

// GenerateKey returns a fresh base64 key suitable for POLLER_ENCRYPTION_KEY.
func GenerateKey() (string, error) {
	var key fernet.Key
	if err := key.Generate(); err != nil {
		return "", fmt.Errorf("op=secrets.GenerateKey: %w", err)
	}
	return key.Encode(), nil
}

// Encrypt returns a Fernet token for plaintext. Empty plaintext bypasses
// encryption so optional secrets stay empty on disk.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	tok, err := fernet.EncryptAndSign([]byte(plaintext), c.key)
	if err != nil {
		return "", fmt.Errorf("op=secrets.Encrypt: %w", err)
	}
	return string(tok), nil
}

func (c *Cipher) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}
	msg := fernet.VerifyAndDecrypt([]byte(ciphertext), 0, []*fernet.Key{c.key})
	if msg == nil {
		return "", fmt.Errorf("op=secrets.Decrypt: %w: token rejected", domain.ErrInvalidArgument)
	}
	return string(msg), nil
}
