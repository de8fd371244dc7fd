// Package sha256 includes tests for the fingerprint helper.
package sha256

import "testing"

// TestHasherHashDeterministic ensures repeated hashing yields the same digest.
func TestHasherHashDeterministic(t *testing.T) {
	t.Parallel()

	h := New()
	got := h.Hash("hello world")
	want := "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
	if again := h.Hash("hello world"); again != got {
		t.Fatalf("expected deterministic hash, got %s vs %s", got, again)
	}
}

// TestHasherPartsAreSeparated ensures part boundaries change the digest.
func TestHasherPartsAreSeparated(t *testing.T) {
	t.Parallel()

	h := New()
	if h.Hash("ab", "c") == h.Hash("a", "bc") {
		t.Fatal("expected different digests for different part boundaries")
	}
}

func TestHasherPickInRange(t *testing.T) {
	t.Parallel()

	h := New()
	for i := 0; i < 50; i++ {
		got := h.Pick(3, "Acme", "Reuters", string(rune('a'+i%26)))
		if got < 0 || got >= 3 {
			t.Fatalf("Pick out of range: %d", got)
		}
	}
	if h.Pick(0, "x") != 0 {
		t.Fatal("expected 0 for empty range")
	}
	if h.Pick(7, "Acme", "1") != h.Pick(7, "Acme", "1") {
		t.Fatal("expected Pick to be deterministic")
	}
}
