package idgen

import (
	"strings"
	"testing"
)

func TestNew_Prefix(t *testing.T) {
	id, err := New(PrefixLead)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !strings.HasPrefix(id, PrefixLead) {
		t.Errorf("id = %q, want prefix %q", id, PrefixLead)
	}
	if got := len(id) - len(PrefixLead); got != length {
		t.Errorf("random part length = %d, want %d", got, length)
	}
}

func TestNew_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := Must(PrefixTask)
		if seen[id] {
			t.Fatalf("duplicate id %q after %d iterations", id, i)
		}
		seen[id] = true
	}
}
