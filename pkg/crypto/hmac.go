package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// HMACSigner is the development fallback signing adapter: HMAC-SHA256 with
// a process-local key. Signatures are only verifiable by the process that
// produced them, so Production() reports false and health output flags the
// deployment as degraded for audit purposes.
type HMACSigner struct {
	key   []byte
	keyID string
}

// NewHMACSigner builds the fallback signer, deriving its key from the
// keyring under PurposeAuditMAC.
func NewHMACSigner(kr *Keyring, keyID string) (*HMACSigner, error) {
	key, err := kr.Derive(PurposeAuditMAC)
	if err != nil {
		return nil, err
	}
	return &HMACSigner{key: key, keyID: keyID}, nil
}

func (s *HMACSigner) Hash(data []byte) string { return HashBytes(data) }

func (s *HMACSigner) Sign(keyID string, data []byte) (string, error) {
	mac := hmac.New(sha256.New, s.key)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

func (s *HMACSigner) Verify(keyID string, data []byte, sig string) bool {
	want, err := s.Sign(keyID, data)
	if err != nil {
		return false
	}
	raw, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	wantRaw, _ := hex.DecodeString(want)
	return hmac.Equal(raw, wantRaw)
}

func (s *HMACSigner) Algorithm() string { return "hmac-sha256" }
func (s *HMACSigner) KeyID() string     { return s.keyID }
func (s *HMACSigner) Production() bool  { return false }

// SignPayload computes a webhook payload MAC with a caller-held key. The
// notifier uses this with a PurposeWebhookMAC-derived key shared with the
// receiving service.
func SignPayload(key, payload []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyPayload checks a webhook payload MAC in constant time.
func VerifyPayload(key, payload []byte, sigHex string) bool {
	raw, err := hex.DecodeString(sigHex)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(payload)
	return hmac.Equal(raw, mac.Sum(nil))
}
