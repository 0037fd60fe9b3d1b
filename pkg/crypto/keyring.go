package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Key purposes for Keyring.Derive. Each purpose yields an independent key
// from the same master secret, so compromising one subsystem's key does not
// expose the others.
const (
	PurposeAuditMAC       = "argus/audit-mac/v1"
	PurposeWebhookMAC     = "argus/notifier-webhook/v1"
	PurposeSessionSigning = "argus/session-signing/v1"
)

// Keyring derives purpose-scoped symmetric keys from one master secret via
// HKDF-SHA256.
type Keyring struct {
	master []byte
	random bool
}

// NewKeyring builds a keyring over the given master secret. An empty secret
// gets a random one: derived keys then work only within this process
// lifetime, which is the development fallback mode.
func NewKeyring(masterSecret string) (*Keyring, error) {
	if masterSecret != "" {
		return &Keyring{master: []byte(masterSecret)}, nil
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("generate master secret: %w", err)
	}
	return &Keyring{master: buf, random: true}, nil
}

// Ephemeral reports whether the master secret was generated at startup
// rather than configured.
func (k *Keyring) Ephemeral() bool { return k.random }

// Derive produces a 32-byte key bound to the given purpose string.
func (k *Keyring) Derive(purpose string) ([]byte, error) {
	r := hkdf.New(sha256.New, k.master, []byte("argus-keyring-v1"), []byte(purpose))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive %q: %w", purpose, err)
	}
	return key, nil
}
