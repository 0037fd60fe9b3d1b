package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
)

// LoadEd25519SignerFromFile reads a hex-encoded 32-byte seed from path and
// builds a production signer for keyID.
func LoadEd25519SignerFromFile(path, keyID string) (*Ed25519Signer, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read signing key %s: %w", path, err)
	}
	seed, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("decode signing key %s: %w", path, err)
	}
	return NewEd25519SignerFromSeed(seed, keyID)
}

// GenerateSeedFile writes a fresh hex-encoded Ed25519 seed to path with
// owner-only permissions and returns the corresponding public key hex.
func GenerateSeedFile(path string) (string, error) {
	seed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return "", fmt.Errorf("generate seed: %w", err)
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(seed)+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("write seed file: %w", err)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return hex.EncodeToString(priv.Public().(ed25519.PublicKey)), nil
}
