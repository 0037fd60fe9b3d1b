// Package crypto provides the signing adapter used by the audit chain:
// SHA-256 content hashing, Ed25519 signatures when a key is configured, and
// a keyed-hash fallback for development. The fallback is flagged
// non-production and surfaces as degraded in health output.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Signer is the signing adapter contract. Hash is deterministic and never
// fails; Sign and Verify address keys by ID so an external KMS can back the
// same interface.
type Signer interface {
	Hash(data []byte) string
	Sign(keyID string, data []byte) (string, error)
	Verify(keyID string, data []byte, sig string) bool
	Algorithm() string
	KeyID() string
	Production() bool
}

const hashPrefix = "sha256:"

// HashBytes returns the canonical content hash: "sha256:" + hex digest.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hashPrefix + hex.EncodeToString(sum[:])
}

// Ed25519Signer signs with a process-held Ed25519 key.
type Ed25519Signer struct {
	privKey ed25519.PrivateKey
	pubKey  ed25519.PublicKey
	keyID   string
}

// NewEd25519Signer generates a fresh keypair.
func NewEd25519Signer(keyID string) (*Ed25519Signer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("key generation failed: %w", err)
	}
	return &Ed25519Signer{privKey: priv, pubKey: pub, keyID: keyID}, nil
}

// NewEd25519SignerFromSeed builds a signer from a 32-byte seed.
func NewEd25519SignerFromSeed(seed []byte, keyID string) (*Ed25519Signer, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Ed25519Signer{
		privKey: priv,
		pubKey:  priv.Public().(ed25519.PublicKey),
		keyID:   keyID,
	}, nil
}

func (s *Ed25519Signer) Hash(data []byte) string { return HashBytes(data) }

func (s *Ed25519Signer) Sign(keyID string, data []byte) (string, error) {
	if keyID != s.keyID {
		return "", fmt.Errorf("unknown key id %q", keyID)
	}
	return hex.EncodeToString(ed25519.Sign(s.privKey, data)), nil
}

func (s *Ed25519Signer) Verify(keyID string, data []byte, sig string) bool {
	if keyID != s.keyID {
		return false
	}
	raw, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	return ed25519.Verify(s.pubKey, data, raw)
}

func (s *Ed25519Signer) Algorithm() string { return "ed25519" }
func (s *Ed25519Signer) KeyID() string     { return s.keyID }
func (s *Ed25519Signer) Production() bool  { return true }

// PublicKey returns the hex-encoded public key for out-of-band verification.
func (s *Ed25519Signer) PublicKey() string {
	return hex.EncodeToString(s.pubKey)
}

// VerifyDetached verifies an Ed25519 signature against a hex public key,
// for verifiers that do not hold a Signer.
func VerifyDetached(pubKeyHex, sigHex string, data []byte) (bool, error) {
	pubKey, err := hex.DecodeString(pubKeyHex)
	if err != nil {
		return false, fmt.Errorf("invalid public key hex: %w", err)
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false, fmt.Errorf("invalid signature hex: %w", err)
	}
	if len(pubKey) != ed25519.PublicKeySize {
		return false, fmt.Errorf("invalid public key size %d", len(pubKey))
	}
	return ed25519.Verify(ed25519.PublicKey(pubKey), data, sig), nil
}
