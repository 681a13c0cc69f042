package util

import (
	"strings"
	"testing"
)

const urlSafeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"

func TestNewLinkID(t *testing.T) {
	id, err := NewLinkID()
	if err != nil {
		t.Fatalf("NewLinkID: %v", err)
	}
	if len(id) != LinkIDLength {
		t.Fatalf("expected %d chars, got %d (%q)", LinkIDLength, len(id), id)
	}
	for _, r := range id {
		if !strings.ContainsRune(urlSafeAlphabet, r) {
			t.Fatalf("id %q contains non-URL-safe character %q", id, r)
		}
	}
}

func TestNewLinkID_Uniqueness(t *testing.T) {
	seen := make(map[string]bool, 1000)
	for i := 0; i < 1000; i++ {
		id, err := NewLinkID()
		if err != nil {
			t.Fatalf("NewLinkID: %v", err)
		}
		if seen[id] {
			t.Fatalf("duplicate id %q after %d draws", id, i)
		}
		seen[id] = true
	}
}

func TestNewChallengeReference(t *testing.T) {
	ref, err := NewChallengeReference()
	if err != nil {
		t.Fatalf("NewChallengeReference: %v", err)
	}
	if len(ref) != referenceLength {
		t.Fatalf("expected %d chars, got %d", referenceLength, len(ref))
	}
	other, err := NewChallengeReference()
	if err != nil {
		t.Fatalf("NewChallengeReference: %v", err)
	}
	if ref == other {
		t.Fatal("references must not repeat")
	}
}
