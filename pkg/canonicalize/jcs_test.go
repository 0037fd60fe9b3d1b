package canonicalize

import (
	"strings"
	"testing"
)

func TestJCSSortsKeys(t *testing.T) {
	input := map[string]interface{}{"c": 3, "a": 1, "b": 2}

	b, err := JCS(input)
	if err != nil {
		t.Fatalf("JCS failed: %v", err)
	}
	if got, want := string(b), `{"a":1,"b":2,"c":3}`; got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestJCSSortsNestedKeys(t *testing.T) {
	input := map[string]interface{}{
		"z": map[string]interface{}{"y": "foo", "x": "bar"},
		"a": 1,
	}

	b, err := JCS(input)
	if err != nil {
		t.Fatalf("JCS failed: %v", err)
	}
	if got, want := string(b), `{"a":1,"z":{"x":"bar","y":"foo"}}`; got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestJCSNoHTMLEscaping(t *testing.T) {
	input := map[string]string{"html": "<script>alert('x')</script> &"}

	b, err := JCS(input)
	if err != nil {
		t.Fatalf("JCS failed: %v", err)
	}
	if got, want := string(b), `{"html":"<script>alert('x')</script> &"}`; got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestJCSHonorsStructTags(t *testing.T) {
	type entry struct {
		ResourceID string `json:"resource_id"`
		Action     string `json:"action"`
		Omitted    string `json:"omitted,omitempty"`
	}
	b, err := JCS(entry{ResourceID: "r1", Action: "write"})
	if err != nil {
		t.Fatalf("JCS failed: %v", err)
	}
	if got, want := string(b), `{"action":"write","resource_id":"r1"}`; got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestCanonicalHashStableAcrossKeyOrder(t *testing.T) {
	h1, err := CanonicalHash(map[string]int{"a": 1, "b": 2})
	if err != nil {
		t.Fatal(err)
	}
	h2, err := CanonicalHash(map[string]int{"b": 2, "a": 1})
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Errorf("hash differs across key order: %s vs %s", h1, h2)
	}
	if len(h1) != 64 {
		t.Errorf("expected hex sha256, got %q", h1)
	}
}

func TestIdentifierNFC(t *testing.T) {
	// U+0065 U+0301 (e + combining acute) composes to U+00E9 under NFC.
	decomposed := "café"
	composed := "café"

	if got := Identifier(decomposed); got != composed {
		t.Errorf("Identifier(%q) = %q, want %q", decomposed, got, composed)
	}
	if got := Identifier("  agent-1\n"); got != "agent-1" {
		t.Errorf("Identifier should trim whitespace, got %q", got)
	}
	if !strings.EqualFold(Identifier("Agent"), "agent") {
		t.Error("Identifier must not change letter case")
	}
}
