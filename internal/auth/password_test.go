package auth

import "testing"

func TestHasherRoundTrip(t *testing.T) {
	h := NewHasher(4) // minimum cost keeps the test fast

	hash, err := h.Hash("S3cret!pass")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if hash == "S3cret!pass" {
		t.Fatal("hash must not equal plaintext")
	}
	if !h.Verify("S3cret!pass", hash) {
		t.Fatal("Verify rejected the original plaintext")
	}
	if h.Verify("S3cret!pass2", hash) {
		t.Fatal("Verify accepted a different plaintext")
	}
}

func TestHasherDistinctSalts(t *testing.T) {
	h := NewHasher(4)
	a, err := h.Hash("same-input")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	b, err := h.Hash("same-input")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if a == b {
		t.Fatal("two hashes of the same input must differ (salted)")
	}
}

func TestHasherEmptyInputs(t *testing.T) {
	h := NewHasher(4)
	if _, err := h.Hash(""); err == nil {
		t.Fatal("expected error for empty plaintext")
	}
	if h.Verify("anything", "") {
		t.Fatal("Verify must reject an empty hash")
	}
}

func TestHasherCostFallback(t *testing.T) {
	h := NewHasher(99)
	hash, err := h.Hash("p")
	if err != nil {
		t.Fatalf("Hash with out-of-range cost: %v", err)
	}
	if !h.Verify("p", hash) {
		t.Fatal("round trip failed after cost fallback")
	}
}
