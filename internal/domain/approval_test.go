package domain

import "testing"

func TestCanonicalApprovalNo(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{" h12345678 ", "H12345678"},
		{"国药准字 h 2000 0001", "国药准字H20000001"},
		{"国药准字\tZ　20000001\n", "国药准字Z20000001"},
		{"", ""},
		{"   ", ""},
	}
	for _, tt := range tests {
		got := CanonicalApprovalNo(tt.in)
		if got != tt.want {
			t.Errorf("CanonicalApprovalNo(%q) = %q, want %q", tt.in, got, tt.want)
		}
		if again := CanonicalApprovalNo(got); again != got {
			t.Errorf("not idempotent: %q -> %q", got, again)
		}
	}
}
