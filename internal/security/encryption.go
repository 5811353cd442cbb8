// Package security encrypts OAuth tokens before they reach the store.
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/scrypt"
)

// scrypt parameters, OWASP minimum
const (
	scryptN      = 32768
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 32

	payloadVersion byte = 1
)

// keySalt is fixed so that the same secret always derives the same key and
// previously stored tokens stay readable across restarts.
var keySalt = []byte("sheetledger/token-cipher/v1")

var (
	ErrShortSecret      = errors.New("secret must be at least 16 bytes")
	ErrMalformedPayload = errors.New("malformed encrypted payload")
)

// TokenCipher seals short secrets with AES-256-GCM. The key is derived once
// with scrypt, so Seal and Open are cheap and safe for concurrent use.
type TokenCipher struct {
	aead cipher.AEAD
}

// NewTokenCipher derives the encryption key from secret
func NewTokenCipher(secret string) (*TokenCipher, error) {
	if len(secret) < 16 {
		return nil, ErrShortSecret
	}

	key, err := scrypt.Key([]byte(secret), keySalt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}
	defer clear(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &TokenCipher{aead: aead}, nil
}

// Seal encrypts plaintext and returns version|nonce|ciphertext in base64.
// The empty string seals to the empty string.
func (c *TokenCipher) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	out := make([]byte, 0, 1+len(nonce)+len(plaintext)+c.aead.Overhead())
	out = append(out, payloadVersion)
	out = append(out, nonce...)
	out = c.aead.Seal(out, nonce, []byte(plaintext), nil)

	return base64.StdEncoding.EncodeToString(out), nil
}

// Open reverses Seal
func (c *TokenCipher) Open(encoded string) (string, error) {
	if encoded == "" {
		return "", nil
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	nonceSize := c.aead.NonceSize()
	if len(raw) < 1+nonceSize+c.aead.Overhead() || raw[0] != payloadVersion {
		return "", ErrMalformedPayload
	}

	plaintext, err := c.aead.Open(nil, raw[1:1+nonceSize], raw[1+nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("decryption failed: %w", err)
	}
	return string(plaintext), nil
}
