package crypto

import (
	"bytes"
	"testing"
)

func TestKeyringDerivationIsPurposeScoped(t *testing.T) {
	kr, err := NewKeyring("master-secret")
	if err != nil {
		t.Fatalf("NewKeyring: %v", err)
	}
	if kr.Ephemeral() {
		t.Error("configured keyring reported ephemeral")
	}

	audit, err := kr.Derive(PurposeAuditMAC)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	webhook, err := kr.Derive(PurposeWebhookMAC)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	if bytes.Equal(audit, webhook) {
		t.Error("different purposes yielded the same key")
	}

	again, err := kr.Derive(PurposeAuditMAC)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	if !bytes.Equal(audit, again) {
		t.Error("derivation not deterministic for the same purpose")
	}

	other, err := NewKeyring("different-secret")
	if err != nil {
		t.Fatalf("NewKeyring: %v", err)
	}
	foreign, err := other.Derive(PurposeAuditMAC)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	if bytes.Equal(audit, foreign) {
		t.Error("different master secrets yielded the same key")
	}
}

func TestKeyringEmptySecretIsEphemeral(t *testing.T) {
	kr, err := NewKeyring("")
	if err != nil {
		t.Fatalf("NewKeyring: %v", err)
	}
	if !kr.Ephemeral() {
		t.Error("random keyring not reported as ephemeral")
	}
	if _, err := kr.Derive(PurposeSessionSigning); err != nil {
		t.Errorf("Derive on ephemeral keyring: %v", err)
	}
}

func TestHMACSignerRoundTrip(t *testing.T) {
	kr, err := NewKeyring("master-secret")
	if err != nil {
		t.Fatalf("NewKeyring: %v", err)
	}
	signer, err := NewHMACSigner(kr, "audit_signer_v1")
	if err != nil {
		t.Fatalf("NewHMACSigner: %v", err)
	}
	if signer.Production() {
		t.Error("hmac fallback reported production-grade")
	}
	if signer.Algorithm() != "hmac-sha256" {
		t.Errorf("algorithm = %q", signer.Algorithm())
	}

	msg := []byte("chain entry")
	sig, err := signer.Sign("audit_signer_v1", msg)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if !signer.Verify("audit_signer_v1", msg, sig) {
		t.Error("valid mac rejected")
	}
	if signer.Verify("audit_signer_v1", []byte("tampered"), sig) {
		t.Error("tampered payload accepted")
	}

	// A signer over the same keyring derives the same MAC key.
	twin, err := NewHMACSigner(kr, "audit_signer_v1")
	if err != nil {
		t.Fatalf("NewHMACSigner: %v", err)
	}
	if !twin.Verify("audit_signer_v1", msg, sig) {
		t.Error("keyring twin could not verify")
	}
}

func TestWebhookPayloadMAC(t *testing.T) {
	kr, err := NewKeyring("master-secret")
	if err != nil {
		t.Fatalf("NewKeyring: %v", err)
	}
	key, err := kr.Derive(PurposeWebhookMAC)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}

	payload := []byte(`{"workflow_id":"wf-1"}`)
	sig := SignPayload(key, payload)
	if !VerifyPayload(key, payload, sig) {
		t.Error("valid payload mac rejected")
	}
	if VerifyPayload(key, []byte(`{"workflow_id":"wf-2"}`), sig) {
		t.Error("altered payload accepted")
	}
	if VerifyPayload(key, payload, "zz-not-hex") {
		t.Error("malformed signature accepted")
	}
}
