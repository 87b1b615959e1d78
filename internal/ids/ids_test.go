package ids

import (
	"strings"
	"testing"
)

func TestNewStreamID(t *testing.T) {
	id := NewStreamID()

	if !strings.HasPrefix(id, StreamPrefix) {
		t.Errorf("NewStreamID() = %v, want prefix %v", id, StreamPrefix)
	}

	// str- + UUID with hyphens = 4 + 36 = 40
	if len(id) != 40 {
		t.Errorf("NewStreamID() length = %v, want 40", len(id))
	}

	if !IsValidStreamID(id) {
		t.Errorf("NewStreamID() = %v, should be valid", id)
	}
}

func TestNewStreamID_Unique(t *testing.T) {
	id1 := NewStreamID()
	id2 := NewStreamID()

	if id1 == id2 {
		t.Errorf("NewStreamID() generated duplicate IDs: %v", id1)
	}
}

func TestNewAuditID(t *testing.T) {
	id := NewAuditID()
	if !strings.HasPrefix(id, AuditPrefix) {
		t.Errorf("NewAuditID() = %v, want prefix %v", id, AuditPrefix)
	}
	if IsValidStreamID(id) {
		t.Errorf("audit ID %v should not validate as a stream ID", id)
	}
}

func TestIsValidStreamID(t *testing.T) {
	tests := []struct {
		name string
		id   string
		want bool
	}{
		{"valid", "str-01890a5d-ac96-774b-bcce-b302099a8057", true},
		{"wrong prefix", "mon-01890a5d-ac96-774b-bcce-b302099a8057", false},
		{"no prefix", "01890a5d-ac96-774b-bcce-b302099a8057", false},
		{"prefix only", "str-", false},
		{"empty", "", false},
		{"bad uuid", "str-not-a-uuid", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidStreamID(tt.id); got != tt.want {
				t.Errorf("IsValidStreamID(%q) = %v, want %v", tt.id, got, tt.want)
			}
		})
	}
}

func TestIsValidMemorialID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"mem-123", true},
		{"Abc_09", true},
		{"", false},
		{"has space", false},
		{"slash/inside", false},
		{strings.Repeat("a", 129), false},
	}

	for _, tt := range tests {
		if got := IsValidMemorialID(tt.id); got != tt.want {
			t.Errorf("IsValidMemorialID(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}
