// Package sha256 includes tests for the SHA-256 hasher adapter.
package sha256

import "testing"

// TestHasherHashDeterministic ensures repeated hashing yields the same digest.
func TestHasherHashDeterministic(t *testing.T) {
	t.Parallel()

	h := New()
	got, err := h.Hash([]byte("hello world"))
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	want := "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
	again, err := h.Hash([]byte("hello world"))
	if err != nil {
		t.Fatalf("Hash() repeat error = %v", err)
	}
	if again != got {
		t.Fatalf("expected deterministic hash, got %s vs %s", got, again)
	}
}

// TestHasherHashLines ensures line digests match hashing the joined text.
func TestHasherHashLines(t *testing.T) {
	t.Parallel()

	h := New()
	want, err := h.Hash([]byte("a\nb\n"))
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	if got := h.HashLines([]string{"a", "b"}); got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
	if h.HashLines([]string{"b", "a"}) == want {
		t.Fatal("expected order to change the digest")
	}
	if h.HashLines([]string{"ab"}) == h.HashLines([]string{"a", "b"}) {
		t.Fatal("expected line boundaries to change the digest")
	}
}
