package account

import (
	"testing"
)

func TestPasswordPolicy_Validate(t *testing.T) {
	policy := NewPasswordPolicy()

	tests := []struct {
		name     string
		password string
		problems int
	}{
		{"acceptable", "Str0ngPass", 0},
		{"too short", "Ab1", 1},
		{"no uppercase", "weakpass1", 1},
		{"no lowercase", "WEAKPASS1", 1},
		{"no digit", "WeakPassword", 1},
		{"everything wrong", "abc", 3},
		{"empty", "", 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := policy.Validate(tt.password); len(got) != tt.problems {
				t.Errorf("Validate(%q) = %d problems %v, want %d", tt.password, len(got), got, tt.problems)
			}
		})
	}
}

func TestPasswordPolicy_HashRoundTrip(t *testing.T) {
	policy := NewPasswordPolicy()

	hash, err := policy.Hash("Str0ngPass")
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	if !policy.Matches(hash, "Str0ngPass") {
		t.Error("hash should match the original password")
	}
	if policy.Matches(hash, "Different1") {
		t.Error("hash must not match a different password")
	}
}
