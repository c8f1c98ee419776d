package utils

import "testing"

func TestRandomHex(t *testing.T) {
	a, err := RandomHex(4)
	if err != nil {
		t.Fatalf("random hex: %v", err)
	}
	if len(a) != 8 {
		t.Fatalf("got %q, want 8 hex chars", a)
	}

	b, err := RandomHex(4)
	if err != nil {
		t.Fatalf("random hex: %v", err)
	}
	if a == b {
		t.Fatalf("two draws returned %q twice", a)
	}
}
