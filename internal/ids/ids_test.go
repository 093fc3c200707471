package ids

import (
	"strings"
	"testing"
)

func TestNewLengthAndUniqueness(t *testing.T) {
	a := New()
	b := New()
	if len(a) != 32 {
		t.Fatalf("expected 32 hex chars, got %d", len(a))
	}
	if a == b {
		t.Fatalf("expected unique ids, got %s twice", a)
	}
}

func TestNewConversationIDShape(t *testing.T) {
	for i := 0; i < 100; i++ {
		id := NewConversationID()
		if len(id) != 16 {
			t.Fatalf("expected 16 chars, got %d (%q)", len(id), id)
		}
		if !strings.ContainsRune(letters, rune(id[0])) {
			t.Fatalf("expected alphabetic first char, got %q", id)
		}
		for _, r := range id {
			if !strings.ContainsRune(alphanumeric, r) {
				t.Fatalf("unexpected character %q in %q", r, id)
			}
		}
	}
}
