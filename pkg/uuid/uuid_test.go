package uuid

import (
	"regexp"
	"strings"
	"testing"
	"time"
)

var canonicalRe = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-7[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)

func TestNewV7_CanonicalForm(t *testing.T) {
	t.Parallel()

	u := NewV7().String()
	if !canonicalRe.MatchString(u) {
		t.Errorf("UUID %q does not match canonical v7 form", u)
	}
}

func TestNewV7_Unique(t *testing.T) {
	t.Parallel()

	seen := make(map[string]bool, 1000)
	for i := 0; i < 1000; i++ {
		u := NewV7().String()
		if seen[u] {
			t.Fatalf("duplicate UUID generated: %s", u)
		}
		seen[u] = true
	}
}

func TestNewV7_TimestampOrdered(t *testing.T) {
	t.Parallel()

	a := NewV7().String()
	time.Sleep(2 * time.Millisecond)
	b := NewV7().String()
	if strings.Compare(a, b) >= 0 {
		t.Errorf("expected %s < %s (timestamp ordering)", a, b)
	}
}
