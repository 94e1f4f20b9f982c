package uuid

import "testing"

func TestNewIDUniqueAndWellFormed(t *testing.T) {
	t.Parallel()

	gen := NewUUIDGenerator()
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id, err := gen.NewID()
		if err != nil {
			t.Fatalf("NewID() error = %v", err)
		}
		if len(id) != 36 {
			t.Fatalf("NewID() = %q, want canonical 36-char form", id)
		}
		if seen[id] {
			t.Fatalf("NewID() repeated %q", id)
		}
		seen[id] = true
	}
}
