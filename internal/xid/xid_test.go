package xid

import (
	"strings"
	"testing"
)

func TestNewCarriesPrefix(t *testing.T) {
	id := New("inv")
	if !strings.HasPrefix(id, "inv-") {
		t.Fatalf("expected id with inv- prefix, got %s", id)
	}
	if len(id) <= len("inv-") {
		t.Fatalf("id has no body: %s", id)
	}
}

func TestNewDoesNotCollide(t *testing.T) {
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		id := New("batch")
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id after %d mints: %s", i, id)
		}
		seen[id] = struct{}{}
	}
}
