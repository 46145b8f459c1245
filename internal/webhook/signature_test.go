package webhook

import (
	"strings"
	"testing"
)

func TestComputeHMAC(t *testing.T) {
	payload := []byte(`{"type":"survey.completed","surveyId":1}`)

	sig := ComputeHMAC(payload, "secret")
	if !strings.HasPrefix(sig, "sha256=") {
		t.Fatalf("signature %q missing sha256= prefix", sig)
	}
	if len(sig) != len("sha256=")+64 {
		t.Fatalf("signature length = %d, want hex-encoded sha256", len(sig))
	}

	// Deterministic for the same payload and secret.
	if sig != ComputeHMAC(payload, "secret") {
		t.Fatal("signature must be deterministic")
	}
	if sig == ComputeHMAC(payload, "other-secret") {
		t.Fatal("different secrets must produce different signatures")
	}
}

func TestVerifySignature(t *testing.T) {
	payload := []byte(`{"type":"survey.completed"}`)
	sig := ComputeHMAC(payload, "secret")

	if !VerifySignature(payload, sig, "secret") {
		t.Fatal("valid signature rejected")
	}
	if VerifySignature(payload, sig, "wrong-secret") {
		t.Fatal("signature verified with the wrong secret")
	}
	if VerifySignature([]byte(`{"type":"tampered"}`), sig, "secret") {
		t.Fatal("signature verified for a tampered payload")
	}
	if VerifySignature(payload, "sha256=deadbeef", "secret") {
		t.Fatal("bogus signature verified")
	}
}

func TestGenerateSecret(t *testing.T) {
	a, err := GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret() error = %v", err)
	}
	if !strings.HasPrefix(a, "whsec_") {
		t.Fatalf("secret %q missing whsec_ prefix", a)
	}

	b, err := GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret() error = %v", err)
	}
	if a == b {
		t.Fatal("two generated secrets must differ")
	}
}
