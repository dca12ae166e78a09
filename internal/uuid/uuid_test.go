package uuid

import (
	"testing"

	"github.com/google/uuid"
)

func TestNew(t *testing.T) {
	id1 := New()
	id2 := New()

	if id1 == id2 {
		t.Error("UUIDs should be unique")
	}

	parsed, err := uuid.Parse(id1)
	if err != nil {
		t.Fatalf("New returned an unparseable UUID %q: %v", id1, err)
	}
	if parsed.Version() != 4 {
		t.Errorf("expected version 4, got %d", parsed.Version())
	}
}
