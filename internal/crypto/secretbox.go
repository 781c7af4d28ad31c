// Package crypto provides webhook payload signing and at-rest sealing of bot
// API keys.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// pbkdf2Iterations is the OWASP-recommended minimum for HMAC-SHA256.
	pbkdf2Iterations = 480_000
	// aesKeyLen is the derived AES-256 key length.
	aesKeyLen = 32
	// sealedPrefix versions the sealed string format.
	sealedPrefix = "v1:"
	// apiKeyBytes is the entropy of a generated API key.
	apiKeyBytes = 24
	// apiKeyPrefix marks generated keys so they are recognisable in logs.
	apiKeyPrefix = "pc_"
)

// SecretBox seals short secrets with AES-256-GCM under a key derived once from
// a passphrase with PBKDF2-HMAC-SHA256.
type SecretBox struct {
	aead cipher.AEAD
}

// NewSecretBox derives the sealing key from passphrase and salt. The same
// pair must be used to open previously sealed values.
func NewSecretBox(passphrase, salt string) (*SecretBox, error) {
	if passphrase == "" {
		return nil, errors.New("crypto: passphrase must not be empty")
	}
	if salt == "" {
		return nil, errors.New("crypto: salt must not be empty")
	}

	derivedKey := pbkdf2.Key([]byte(passphrase), []byte(salt), pbkdf2Iterations, aesKeyLen, sha256.New)

	block, err := aes.NewCipher(derivedKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating GCM: %w", err)
	}
	return &SecretBox{aead: gcm}, nil
}

// Seal encrypts plaintext and returns "v1:" + base64(nonce || ciphertext).
func (b *SecretBox) Seal(plaintext string) (string, error) {
	nonce := make([]byte, b.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("crypto: generating nonce: %w", err)
	}
	sealed := b.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return sealedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal.
func (b *SecretBox) Open(sealed string) (string, error) {
	encoded, ok := strings.CutPrefix(sealed, sealedPrefix)
	if !ok {
		return "", errors.New("crypto: unsupported sealed format")
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("crypto: decoding sealed value: %w", err)
	}
	ns := b.aead.NonceSize()
	if len(raw) < ns {
		return "", errors.New("crypto: sealed value too short")
	}
	plaintext, err := b.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return "", fmt.Errorf("crypto: decryption failed (wrong passphrase?): %w", err)
	}
	return string(plaintext), nil
}

// GenerateAPIKey returns a new random bot API key.
func GenerateAPIKey() (string, error) {
	buf := make([]byte, apiKeyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("crypto: generating api key: %w", err)
	}
	return apiKeyPrefix + hex.EncodeToString(buf), nil
}
