// Package crypto seals provider tokens before they are written to storage.
//
// Tokens are encrypted with AES-256-GCM under a key derived from the configured
// passphrase with PBKDF2. Every sealed value is bound to the connection it
// belongs to (user ID and provider key) through GCM additional data, so a
// ciphertext copied onto another row fails to open.
//
// Example usage:
//
//	sealer, err := crypto.NewTokenSealer(os.Getenv("TOKEN_ENCRYPTION_KEY"))
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	sealed, err := sealer.Seal("ya29.a0Af...", crypto.Binding("user-1", "google"))
//	plain, err := sealer.Open(sealed, crypto.Binding("user-1", "google"))
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"io"

	"area-connect/internal/common/errors"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// sealedPrefix marks values produced by Seal; the version allows key rotation later.
	sealedPrefix     = "v1:"
	pbkdf2Iterations = 10000
)

var keySalt = []byte("area-connect-token-sealer")

// TokenSealer encrypts and decrypts token secrets. Safe for concurrent use.
type TokenSealer struct {
	aead cipher.AEAD
}

// NewTokenSealer derives a 32-byte AES key from passphrase.
func NewTokenSealer(passphrase string) (*TokenSealer, error) {
	if passphrase == "" {
		return nil, errors.ValidationError("encryption key cannot be empty")
	}

	derivedKey := pbkdf2.Key([]byte(passphrase), keySalt, pbkdf2Iterations, 32, sha256.New)

	block, err := aes.NewCipher(derivedKey)
	if err != nil {
		return nil, errors.InternalError("failed to create cipher", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.InternalError("failed to create GCM", err)
	}

	return &TokenSealer{aead: gcm}, nil
}

// Binding returns the additional data tying a sealed value to one connection.
func Binding(userID, providerKey string) []byte {
	return []byte(userID + "\x00" + providerKey)
}

// Seal encrypts plaintext and returns a printable value. Empty input stays empty
// so optional secrets (a missing refresh token) round-trip as absent.
func (s *TokenSealer) Seal(plaintext string, binding []byte) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", errors.InternalError("failed to create nonce", err)
	}

	ciphertext := s.aead.Seal(nonce, nonce, []byte(plaintext), binding)
	return sealedPrefix + base64.RawURLEncoding.EncodeToString(ciphertext), nil
}

// Open reverses Seal. Tampered values, a wrong key or a wrong binding all fail.
func (s *TokenSealer) Open(sealed string, binding []byte) (string, error) {
	if sealed == "" {
		return "", nil
	}

	if len(sealed) < len(sealedPrefix) || sealed[:len(sealedPrefix)] != sealedPrefix {
		return "", errors.ValidationError("sealed value has unknown format")
	}

	data, err := base64.RawURLEncoding.DecodeString(sealed[len(sealedPrefix):])
	if err != nil {
		return "", errors.InternalError("failed to decode ciphertext", err)
	}

	nonceSize := s.aead.NonceSize()
	if len(data) < nonceSize {
		return "", errors.ValidationError("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, binding)
	if err != nil {
		return "", errors.InternalError("failed to decrypt", err)
	}

	return string(plaintext), nil
}
