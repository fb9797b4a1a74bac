package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// Keystore seals and opens agent provider API keys. Sealed values are
// base64(nonce || ciphertext) under a process-wide secret; plaintext keys are
// never persisted or logged.
type Keystore struct {
	secret []byte
}

var ErrNoSecret = errors.New("keystore secret not configured")

// NewKeystore parses a hex-encoded 32-byte secret. An empty secret yields a
// keystore that can only serve env-fallback credentials.
func NewKeystore(hexSecret string) (*Keystore, error) {
	if hexSecret == "" {
		return &Keystore{}, nil
	}
	secret, err := hex.DecodeString(hexSecret)
	if err != nil {
		return nil, fmt.Errorf("decode keystore secret: %w", err)
	}
	if len(secret) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("keystore secret must be %d bytes, got %d", chacha20poly1305.KeySize, len(secret))
	}
	return &Keystore{secret: secret}, nil
}

func (k *Keystore) Seal(plaintext string) (string, error) {
	if len(k.secret) == 0 {
		return "", ErrNoSecret
	}
	aead, err := chacha20poly1305.NewX(k.secret)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (k *Keystore) Open(sealed string) (string, error) {
	if len(k.secret) == 0 {
		return "", ErrNoSecret
	}
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("decode sealed credential: %w", err)
	}
	aead, err := chacha20poly1305.NewX(k.secret)
	if err != nil {
		return "", err
	}
	if len(raw) < aead.NonceSize() {
		return "", errors.New("sealed credential too short")
	}
	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("open sealed credential: %w", err)
	}
	return string(plaintext), nil
}

// DecryptAgentAPIKey resolves the credential for one agent: the agent's
// sealed key when present, otherwise the environment fallback.
func (k *Keystore) DecryptAgentAPIKey(sealed, envFallback string) (string, error) {
	if sealed != "" && len(k.secret) > 0 {
		key, err := k.Open(sealed)
		if err != nil {
			return "", err
		}
		return key, nil
	}
	if envFallback != "" {
		return envFallback, nil
	}
	return "", errors.New("no provider credentials configured")
}
