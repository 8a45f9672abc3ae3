package cache

import (
	"testing"
)

func TestDeriveKey_Deterministic(t *testing.T) {
	k1, err := DeriveKey("Great service!", "reviews", map[string]any{"model": "gpt-4o-mini"})
	if err != nil {
		t.Fatalf("DeriveKey() error = %v", err)
	}
	k2, err := DeriveKey("Great service!", "reviews", map[string]any{"model": "gpt-4o-mini"})
	if err != nil {
		t.Fatalf("DeriveKey() error = %v", err)
	}

	if k1 != k2 {
		t.Errorf("keys differ for identical input:\n  k1=%s\n  k2=%s", k1, k2)
	}
	if len(k1) != KeyLength {
		t.Errorf("key length = %d, want %d", len(k1), KeyLength)
	}
	if err := ValidateKey(k1); err != nil {
		t.Errorf("derived key failed validation: %v", err)
	}
}

func TestDeriveKey_Normalization(t *testing.T) {
	base, _ := DeriveKey("great service!", "reviews", nil)

	variants := []string{
		"Great Service!",
		"  great service!  ",
		"great   service!",
		"GREAT\tservice!\n",
	}
	for _, v := range variants {
		got, err := DeriveKey(v, "reviews", nil)
		if err != nil {
			t.Fatalf("DeriveKey(%q) error = %v", v, err)
		}
		if got != base {
			t.Errorf("DeriveKey(%q) = %s, want %s", v, got, base)
		}
	}
}

func TestDeriveKey_ContextSeparates(t *testing.T) {
	a, _ := DeriveKey("Great service!", "reviews", nil)
	b, _ := DeriveKey("Great service!", "support", nil)

	if a == b {
		t.Error("different contexts must yield different keys")
	}
}

func TestDeriveKey_VolatileOptionsIgnored(t *testing.T) {
	a, _ := DeriveKey("text", "reviews", map[string]any{
		"model":      "m1",
		"timestamp":  "2025-01-01T00:00:00Z",
		"request_id": "abc",
	})
	b, _ := DeriveKey("text", "reviews", map[string]any{
		"model":      "m1",
		"timestamp":  "2025-06-01T12:00:00Z",
		"request_id": "xyz",
	})
	if a != b {
		t.Error("volatile options should not affect the key")
	}

	c, _ := DeriveKey("text", "reviews", map[string]any{"model": "m2"})
	if a == c {
		t.Error("whitelisted option change should change the key")
	}
}

func TestDeriveKey_OptionMapOrder(t *testing.T) {
	keyer := NewDefaultKeyer("x", "y", "z")

	k1, _ := keyer.Key("t", "c", map[string]any{"z": 3, "x": 1, "y": map[string]any{"b": 2, "a": 1}})
	k2, _ := keyer.Key("t", "c", map[string]any{"y": map[string]any{"a": 1, "b": 2}, "x": 1, "z": 3})

	if k1 != k2 {
		t.Errorf("keys should not depend on map order:\n  k1=%s\n  k2=%s", k1, k2)
	}
}

func TestDeriveKey_EmptyAndNilOptionsMatch(t *testing.T) {
	a, _ := DeriveKey("text", "reviews", nil)
	b, _ := DeriveKey("text", "reviews", map[string]any{})
	if a != b {
		t.Error("nil and empty options should produce the same key")
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"  Hello   World  ", "hello world"},
		{"a\n\tb", "a b"},
		{"", ""},
		{"   ", ""},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
