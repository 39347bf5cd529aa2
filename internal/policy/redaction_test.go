package policy

import (
	"strings"
	"testing"
)

func TestRedactPII(t *testing.T) {
	input := "Email me at sam@example.com or +1 (555) 123-9876 and use 4242 4242 4242 4242."
	out, changed := RedactPII(input)
	if !changed {
		t.Fatalf("changed = false, want true")
	}
	for _, marker := range []string{"[REDACTED_EMAIL]", "[REDACTED_PHONE]", "[REDACTED_CARD]"} {
		if !strings.Contains(out, marker) {
			t.Fatalf("output missing marker %q: %q", marker, out)
		}
	}
}

func TestCoarsenCoordinate(t *testing.T) {
	if got := CoarsenCoordinate(-22.560912); got != -22.561 {
		t.Fatalf("CoarsenCoordinate(-22.560912) = %v, want -22.561", got)
	}
	if got := CoarsenCoordinate(17.0); got != 17.0 {
		t.Fatalf("CoarsenCoordinate(17.0) = %v, want 17.0", got)
	}
}
