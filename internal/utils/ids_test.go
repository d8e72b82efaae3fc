package utils

import (
	"strings"
	"testing"
)

func TestGenerateUploadID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := GenerateUploadID()
		if !strings.HasPrefix(id, "u_") {
			t.Fatalf("id %q missing u_ prefix", id)
		}
		if !ValidateUploadID(id) {
			t.Fatalf("generated id %q does not validate", id)
		}
		if seen[id] {
			t.Fatalf("duplicate id generated: %q", id)
		}
		seen[id] = true
	}
}

func TestValidateUploadID(t *testing.T) {
	valid := []string{"u_abc", "u_1", "u_mf9x8823abcdefgh"}
	for _, id := range valid {
		if !ValidateUploadID(id) {
			t.Errorf("ValidateUploadID(%q) = false, want true", id)
		}
	}

	invalid := []string{"", "u_", "x_abc", "abc", "u"}
	for _, id := range invalid {
		if ValidateUploadID(id) {
			t.Errorf("ValidateUploadID(%q) = true, want false", id)
		}
	}
}
